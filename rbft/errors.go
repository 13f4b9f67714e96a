// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0

package rbft

import (
	"fmt"

	"github.com/pkg/errors"
)

// SuspicionCode enumerates the Byzantine evidence codes of spec.md §7 kind
// 1. A closed type with exhaustive switch dispatch, per spec.md §9's
// "tagged variants with exhaustive match" design note.
type SuspicionCode int

const (
	PPR_DIGEST_WRONG SuspicionCode = iota + 1
	PPR_STATE_WRONG
	PPR_TXN_WRONG
	PPR_PLUGIN_EXCEPTION
	PPR_SUB_SEQ_NO_WRONG
	PPR_NOT_FINAL
	PPR_WITH_ORDERED_REQUEST
	PPR_AUDIT_TXN_ROOT_HASH_WRONG
	PPR_POOL_STATE_ROOT_HASH_WRONG
	PPR_BLS_MULTISIG_WRONG
	PPR_TIME_WRONG
)

func (c SuspicionCode) String() string {
	switch c {
	case PPR_DIGEST_WRONG:
		return "PPR_DIGEST_WRONG"
	case PPR_STATE_WRONG:
		return "PPR_STATE_WRONG"
	case PPR_TXN_WRONG:
		return "PPR_TXN_WRONG"
	case PPR_PLUGIN_EXCEPTION:
		return "PPR_PLUGIN_EXCEPTION"
	case PPR_SUB_SEQ_NO_WRONG:
		return "PPR_SUB_SEQ_NO_WRONG"
	case PPR_NOT_FINAL:
		return "PPR_NOT_FINAL"
	case PPR_WITH_ORDERED_REQUEST:
		return "PPR_WITH_ORDERED_REQUEST"
	case PPR_AUDIT_TXN_ROOT_HASH_WRONG:
		return "PPR_AUDIT_TXN_ROOT_HASH_WRONG"
	case PPR_POOL_STATE_ROOT_HASH_WRONG:
		return "PPR_POOL_STATE_ROOT_HASH_WRONG"
	case PPR_BLS_MULTISIG_WRONG:
		return "PPR_BLS_MULTISIG_WRONG"
	case PPR_TIME_WRONG:
		return "PPR_TIME_WRONG"
	default:
		return fmt.Sprintf("SuspicionCode(%d)", int(c))
	}
}

// primaryAttributable reports whether this code indicts the primary
// specifically, and therefore must be escalated to
// ViewChangeService.on_suspicious_primary (spec.md §7).
func (c SuspicionCode) primaryAttributable() bool {
	switch c {
	case PPR_DIGEST_WRONG, PPR_STATE_WRONG, PPR_TXN_WRONG, PPR_PLUGIN_EXCEPTION,
		PPR_SUB_SEQ_NO_WRONG, PPR_NOT_FINAL, PPR_WITH_ORDERED_REQUEST,
		PPR_AUDIT_TXN_ROOT_HASH_WRONG, PPR_POOL_STATE_ROOT_HASH_WRONG,
		PPR_BLS_MULTISIG_WRONG, PPR_TIME_WRONG:
		return true
	default:
		return false
	}
}

// Suspicion is Byzantine evidence against a specific node (spec.md §7 kind
// 1). The offending message is always dropped; primary-attributable codes
// additionally trigger a view-change suspicion.
type Suspicion struct {
	Code   SuspicionCode
	Node   NodeName
	Key    ThreePCKey
	Detail string
}

func (s *Suspicion) Error() string {
	return fmt.Sprintf("suspicion %s against %s at %s: %s", s.Code, s.Node, s.Key, s.Detail)
}

func newSuspicion(code SuspicionCode, node NodeName, key ThreePCKey, detail string) *Suspicion {
	return &Suspicion{Code: code, Node: node, Key: key, Detail: detail}
}

// DiscardReason explains a DISCARD classification (spec.md §4.1 table and
// §8 boundary tests).
type DiscardReason int

const (
	DiscardWrongInstance DiscardReason = iota + 1
	DiscardOldView
	DiscardAlreadyStable
	DiscardBelowWatermarks
	DiscardOldViewChangeDone
)

func (r DiscardReason) String() string {
	switch r {
	case DiscardWrongInstance:
		return "WRONG_INSTANCE"
	case DiscardOldView:
		return "OLD_VIEW"
	case DiscardAlreadyStable:
		return "ALREADY_STABLE"
	case DiscardBelowWatermarks:
		return "BELOW_WATERMARKS"
	case DiscardOldViewChangeDone:
		return "OLD_VIEW"
	default:
		return fmt.Sprintf("DiscardReason(%d)", int(r))
	}
}

// StashKind names why a message could not yet be processed (spec.md §4.1
// kind 2, stash-worthy). Each kind is a separate bounded queue in the
// stasher.
type StashKind int

const (
	StashFutureView StashKind = iota + 1
	StashCatchingUp
	StashWatermarks
	StashMissingPrePrepare
	StashOutOfOrderCommit
	StashFutureReplica
)

func (k StashKind) String() string {
	switch k {
	case StashFutureView:
		return "FUTURE_VIEW"
	case StashCatchingUp:
		return "CATCHING_UP"
	case StashWatermarks:
		return "WATERMARKS"
	case StashMissingPrePrepare:
		return "MISSING_PREPREPARE"
	case StashOutOfOrderCommit:
		return "OUT_OF_ORDER_COMMIT"
	case StashFutureReplica:
		return "FUTURE_REPLICA"
	default:
		return fmt.Sprintf("StashKind(%d)", int(k))
	}
}

// FatalError signals spec.md §7 kind 3: an invariant breach that signifies
// a bug, not Byzantine input. Components return it; the node shell is
// expected to abort on receipt (mirroring the teacher's
// `logger.Panic(...)`/`panic("dev sanity test")` idiom).
type FatalError struct {
	Invariant string
	cause     error
}

func (e *FatalError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("fatal invariant breach %q: %v", e.Invariant, e.cause)
	}
	return fmt.Sprintf("fatal invariant breach %q", e.Invariant)
}

func (e *FatalError) Unwrap() error { return e.cause }

func newFatal(invariant string, cause error) *FatalError {
	return &FatalError{Invariant: invariant, cause: cause}
}

// wrapf is a thin local helper over github.com/pkg/errors so call sites
// read like the rest of the file. A nil err constructs a fresh error
// instead of silently returning nil (unlike bare errors.Wrapf).
func wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return errors.Errorf(format, args...)
	}
	return errors.Wrapf(err, format, args...)
}
