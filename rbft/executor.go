// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0
//
// External collaborator interfaces (spec.md §6). These are narrow seams
// the core drives but never implements: transaction handling, ledger/state
// storage, BLS verification, and the network layer are all out of scope
// (spec.md §1). Adapted from the teacher's own Link/Log/WAL/RequestStore
// trio in processor.go, renamed and regrouped to this spec's vocabulary.

package rbft

import "github.com/ken-ebert/rbft-core/rbftpb"

// RootBundle is the full set of roots a PrePrepare carries (spec.md §3
// Batch/PrePrepare, §4.2 Root integrity): state, transaction, pool-state
// and audit-transaction roots all must "reproduce bit-for-bit when the
// replica applies the listed requests in order". Spec.md §6 describes the
// Executor seam as a single apply()→staged_root call; this widens that one
// root to the full bundle since root integrity is defined over all four,
// not state alone.
type RootBundle struct {
	StateRoot     []byte
	TxnRoot       []byte
	PoolStateRoot []byte
	AuditTxnRoot  []byte
}

// Executor drives application state on behalf of the OrderingService
// (spec.md §6 "Executor interface"). Order of application within a batch
// always equals the order of ReqIdr.
type Executor interface {
	// Apply stages one request against uncommitted state and returns the
	// resulting staged roots. pp_time is passed through unchanged so
	// deterministic, time-dependent operations see the primary's
	// consensus time rather than the local clock.
	Apply(ledgerID uint32, req *rbftpb.RequestData, ppTime int64) (*RootBundle, error)

	// Commit finalises every request staged since the last Commit/Revert
	// for the given batch and returns the digests actually committed.
	Commit(ledgerID uint32, key ThreePCKey) (committed []rbftpb.Digest, err error)

	// Revert discards all state staged since the last Commit, used by
	// revertUnorderedBatches on view change (spec.md §4.2).
	Revert(ledgerID uint32) error
}

// AuditLedger is the append-only record of committed batches the core
// consults at startup and at catchup-completion to reconstruct primaries
// without running a view change (spec.md §6 "Persisted state touched by
// the core").
type AuditLedger interface {
	// RecordCommitted appends one entry for an ordered batch.
	RecordCommitted(key ThreePCKey, primaries []NodeName, stateRoot, txnRoot, poolStateRoot, auditTxnRoot []byte) error

	// PrimariesForView returns the primaries recorded for the given view,
	// consumed by catchup completion to reselect primaries from history
	// rather than from a fresh view change (spec.md §4.5).
	PrimariesForView(view ViewNo) ([]NodeName, bool)

	// LastSentPpSeqNo restores spec.md §6's "last_sent_pp_seq_no (restored
	// on restart to avoid equivocation)".
	LastSentPpSeqNo() PpSeqNo
}

// RequestStore persists client requests so a restart can recover
// in-flight batches without re-soliciting PROPAGATE (mirrors the
// teacher's RequestStore in processor.go).
type RequestStore interface {
	Store(digest rbftpb.Digest, data *rbftpb.RequestData) error
	Get(digest rbftpb.Digest) (*rbftpb.RequestData, bool, error)
}

// Link is the per-peer unicast/broadcast transport the node shell drives
// (spec.md §1: "a reliable-enough authenticated message bus exposing
// per-peer unicast and broadcast"), mirroring the teacher's Link in
// processor.go. IsConnected reports genuine transport-level connection
// status, the way `original_source/plenum/server/node.py`'s
// `nodestack.isConnectedTo` does, so primary-liveness detection (spec.md
// §4.4 "Master-primary connection lost ... measured via connection events
// from the transport") is not inferred from message timing alone.
type Link interface {
	Send(dest NodeName, msg *rbftpb.Msg)
	Broadcast(validators []NodeName, msg *rbftpb.Msg)
	IsConnected(name NodeName) bool
}

// SignatureVerifier checks a BLS multi-signature or single signature
// carried on the wire. BLS cryptography itself is out of scope (spec.md
// §1 "BLS key management"); the core only calls this narrow interface
// when a PrePrepare/Prepare/Commit carries a non-nil BLS field.
type SignatureVerifier interface {
	VerifyMultiSig(sig *rbftpb.BlsMultiSig, subject []byte) bool
	VerifySig(sig *rbftpb.BlsSig, subject []byte) bool
}

// Catchup is the out-of-scope catchup subsystem the view-change protocol
// demands rounds from (spec.md §4.5). The core owns only the decision
// loop (isCatchupNeeded / the retry budget); a round's actual
// transaction-fetching and application logic lives entirely behind this
// interface.
type Catchup interface {
	// RunRound requests one bounded round of catchup and reports whether
	// it produced any new committed transactions.
	RunRound() (newTxns bool, err error)

	// LocalLedgerRoots returns this replica's current ledger roots, for
	// comparison against the view-change quorum's reported roots.
	LocalLedgerRoots() map[uint32][]byte
}
