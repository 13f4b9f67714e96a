// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0

package rbft

import (
	"github.com/ken-ebert/rbft-core/rbftpb"
)

// Decision is the outcome of classifying an inbound instance-scoped
// message against SharedData (spec.md §4.1).
type Decision int

const (
	Process Decision = iota
	Discard
	Stash
)

// Classification is the full result of validate: a Decision plus whichever
// of DiscardReason/StashKind applies.
type Classification struct {
	Decision      Decision
	DiscardReason DiscardReason
	StashKind     StashKind
}

func processDecision() Classification { return Classification{Decision: Process} }

func discardDecision(r DiscardReason) Classification {
	return Classification{Decision: Discard, DiscardReason: r}
}

func stashDecision(k StashKind) Classification {
	return Classification{Decision: Stash, StashKind: k}
}

// instanceScoped is satisfied by every wire message the validator's
// decision table (spec.md §4.1) applies to: PrePrepare, Prepare, Commit,
// and Checkpoint all carry inst_id and view_no.
type instanceScoped interface {
	instID() InstId
	viewNo() ViewNo
}

type scopedPrePrepare struct{ *rbftpb.PrePrepare }

func (m scopedPrePrepare) instID() InstId { return InstId(m.InstId) }
func (m scopedPrePrepare) viewNo() ViewNo  { return ViewNo(m.ViewNo) }

type scopedPrepare struct{ *rbftpb.Prepare }

func (m scopedPrepare) instID() InstId { return InstId(m.InstId) }
func (m scopedPrepare) viewNo() ViewNo  { return ViewNo(m.ViewNo) }

type scopedCommit struct{ *rbftpb.Commit }

func (m scopedCommit) instID() InstId { return InstId(m.InstId) }
func (m scopedCommit) viewNo() ViewNo  { return ViewNo(m.ViewNo) }

type scopedCheckpoint struct{ *rbftpb.Checkpoint }

func (m scopedCheckpoint) instID() InstId { return InstId(m.InstId) }
func (m scopedCheckpoint) viewNo() ViewNo  { return ViewNo(m.ViewNo) }

// validate is the pure function from (message, SharedData) to a
// Classification, implementing the decision table of spec.md §4.1
// exactly: wrong instance, old view, future view (including mid view-
// change), not-yet-caught-up mode, stale checkpoint, out-of-watermark 3PC,
// else PROCESS.
func validate(sd *SharedData, msg instanceScoped) Classification {
	if msg.instID() != sd.InstId {
		return discardDecision(DiscardWrongInstance)
	}

	if msg.viewNo() < sd.viewNo {
		return discardDecision(DiscardOldView)
	}

	if msg.viewNo() > sd.viewNo {
		return stashDecision(StashFutureView)
	}

	if sd.viewChangeInProgress {
		return stashDecision(StashFutureView)
	}

	if !sd.mode.CanOrder() {
		return stashDecision(StashCatchingUp)
	}

	if cp, ok := msg.(scopedCheckpoint); ok {
		if PpSeqNo(cp.SeqNoEnd) <= sd.low {
			return discardDecision(DiscardAlreadyStable)
		}
		return processDecision()
	}

	// §8 Boundaries: "PrePrepare at pp_seq_no = low → DISCARD" — at or
	// below the stable watermark can never become processable again by
	// waiting, so it is discarded rather than stashed (the §4.1 table's
	// bare "∉ (low, high]" reads as STASH for this case too, but that
	// would let stale entries pile up against the stasher bound forever;
	// only the "too far in the future" half of the open interval is
	// actually stash-worthy).
	seqNo := threePcSeqNo(msg)
	if seqNo <= sd.low {
		return discardDecision(DiscardBelowWatermarks)
	}
	if seqNo > sd.high {
		return stashDecision(StashWatermarks)
	}

	return processDecision()
}

// threePcSeqNo extracts pp_seq_no from any of the three 3PC message types;
// Checkpoint is handled separately in validate since it compares against
// seq_no_end rather than the open watermark window.
func threePcSeqNo(msg instanceScoped) PpSeqNo {
	switch m := msg.(type) {
	case scopedPrePrepare:
		return PpSeqNo(m.PpSeqNo)
	case scopedPrepare:
		return PpSeqNo(m.PpSeqNo)
	case scopedCommit:
		return PpSeqNo(m.PpSeqNo)
	default:
		return 0
	}
}

// ValidatePrePrepare, ValidatePrepare, ValidateCommit and
// ValidateCheckpoint are the exported entry points other components and
// tests use, each wrapping the appropriate message in its scoped*
// adapter before running the shared table.
func ValidatePrePrepare(sd *SharedData, m *rbftpb.PrePrepare) Classification {
	return validate(sd, scopedPrePrepare{m})
}

func ValidatePrepare(sd *SharedData, m *rbftpb.Prepare) Classification {
	return validate(sd, scopedPrepare{m})
}

func ValidateCommit(sd *SharedData, m *rbftpb.Commit) Classification {
	return validate(sd, scopedCommit{m})
}

func ValidateCheckpoint(sd *SharedData, m *rbftpb.Checkpoint) Classification {
	return validate(sd, scopedCheckpoint{m})
}
