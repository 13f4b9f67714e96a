// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0
//
// The three-phase agreement protocol (spec.md §4.2), the largest
// component of this engine (~45% share per spec.md §2 Budget). Grounded
// primarily on the teacher's request-admission idiom (client_window.go,
// now admission_window.go) plus the per-sequence 3PC state machine found
// in the upstream snapshot `sequence.go` (vukolic-mirbft, retrieved as
// other_examples/6be82e50_vukolic-mirbft__sequence.go.go): allocate →
// preprepare → accumulate prepares → accumulate commits, generalized here
// from a per-sequence struct into a per-3PC-key entry keyed by
// (view_no, pp_seq_no) since this spec's watermarks and checkpoints are
// expressed directly in those terms rather than buckets.

package rbft

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ken-ebert/rbft-core/rbftpb"
)

type pcStatus int

const (
	pcPrePrepared pcStatus = iota
	pcPrepared
	pcCommitted
	pcOrdered
)

// threePCEntry is the lifecycle record for one (view_no, pp_seq_no) slot:
// born preprepared, becomes prepared at 2f matching PREPAREs, committed at
// 2f+1 matching COMMITs, ordered once executed (spec.md §3 Lifecycle).
type threePCEntry struct {
	key      ThreePCKey
	ledgerID uint32
	ppTime   int64
	reqIdr   []rbftpb.Digest
	digest   rbftpb.Digest
	roots    RootBundle
	status   pcStatus

	prepares map[rbftpb.Digest]map[NodeName]struct{}
	commits  map[rbftpb.Digest]map[NodeName]struct{}
}

// pendingPrimaryBatch is one ledger's queue of finalised requests awaiting
// a PRE-PREPARE (spec.md §4.2 on_request_forwarded).
type pendingPrimaryBatch struct {
	digests []rbftpb.Digest
	oldest  time.Time
}

// OrderingService runs the three-phase PRE-PREPARE/PREPARE/COMMIT protocol
// for one instance (spec.md §4.2). It is constructed with a reference to
// the instance's SharedData, requestManager, stasher, internal bus and
// Executor, and never touches another instance's state.
type OrderingService struct {
	cfg      CoreConfig
	sd       *SharedData
	rm       *requestManager
	st       *stasher
	bus      *Bus
	executor Executor
	actions  *actionQueue
	log      Logger

	batches map[ThreePCKey]*threePCEntry

	// primaryQueues holds finalised requests queued per ledger, waiting
	// to be batched into a PRE-PREPARE by the primary.
	primaryQueues map[uint32]*pendingPrimaryBatch

	// pendingOrdered holds batches that reached pcCommitted out of
	// sequence order: spec.md §4.2 "Ordered(v, s) is emitted only after
	// Ordered(v, s-1) ... commits received out of order are stashed in
	// stashed_out_of_order_commits[v] keyed by s."
	pendingOrdered map[ViewNo]map[PpSeqNo]*threePCEntry

	// ppArrival records, per (pp, sender), the local time a PrePrepare
	// was first observed, so a late validation pass rules on the
	// original arrival time rather than whenever the tick got around to
	// it (spec.md §4.2 Time integrity).
	ppArrival map[ThreePCKey]map[NodeName]time.Time

	lastPpTime int64 // monotone per view, spec.md §4.2 Time integrity
}

// NewOrderingService constructs an OrderingService for one instance.
func NewOrderingService(cfg CoreConfig, sd *SharedData, rm *requestManager, st *stasher, bus *Bus, executor Executor, actions *actionQueue) *OrderingService {
	return &OrderingService{
		cfg:            cfg,
		sd:             sd,
		rm:             rm,
		st:             st,
		bus:            bus,
		executor:       executor,
		actions:        actions,
		log:            loggerFromConfig(cfg),
		batches:        map[ThreePCKey]*threePCEntry{},
		primaryQueues:  map[uint32]*pendingPrimaryBatch{},
		pendingOrdered: map[ViewNo]map[PpSeqNo]*threePCEntry{},
		ppArrival:      map[ThreePCKey]map[NodeName]time.Time{},
	}
}

// OnRequestForwarded queues a finalised request for the primary to batch,
// emitting a PRE-PREPARE once the batch reaches MaxBatchSize or the
// oldest queued request has waited BatchTimeout (spec.md §4.2
// on_request_forwarded). Non-primaries ignore forwarded requests; they
// only ever batch from their own PRE-PREPARE.
func (os *OrderingService) OnRequestForwarded(ledgerID uint32, digest rbftpb.Digest) *Actions {
	if !os.sd.IsPrimary(os.cfg.Name) {
		return &Actions{}
	}

	q, ok := os.primaryQueues[ledgerID]
	if !ok {
		q = &pendingPrimaryBatch{}
		os.primaryQueues[ledgerID] = q
	}
	if len(q.digests) == 0 {
		q.oldest = time.Now()
	}
	q.digests = append(q.digests, digest)

	if len(q.digests) >= os.cfg.MaxBatchSize {
		return os.emitBatch(ledgerID)
	}

	actions := &Actions{}
	if len(q.digests) == 1 {
		// Armed once per batch, when its oldest request is queued.
		os.actions.Schedule(batchTimeoutKey(ledgerID), os.cfg.BatchTimeout, func() {
			// Re-checked at fire time: the queue may already have drained
			// via a size-triggered emission.
			if q2, ok := os.primaryQueues[ledgerID]; ok && len(q2.digests) > 0 {
				os.emitBatch(ledgerID)
			}
		})
	}
	return actions
}

func batchTimeoutKey(ledgerID uint32) string {
	return fmt.Sprintf("batch-timeout-%d", ledgerID)
}

// emitBatch drains the primary queue for ledgerID into a PRE-PREPARE at
// the next sequence number, applies the batch to staged state itself
// (the primary never PREPAREs against its own proposal, it just needs
// the roots), and broadcasts it.
func (os *OrderingService) emitBatch(ledgerID uint32) *Actions {
	os.actions.Cancel(batchTimeoutKey(ledgerID))

	q := os.primaryQueues[ledgerID]
	digests := q.digests
	q.digests = nil

	seqNo := os.nextSeqNo()
	key := ThreePCKey{ViewNo: os.sd.ViewNo(), PpSeqNo: seqNo}

	ppTime := os.monotonicPpTime()

	roots, reqs, err := os.applyInOrder(ledgerID, digests, ppTime)
	if err != nil {
		// The primary's own application failing is a fatal invariant
		// breach, not Byzantine input: it means the executor rejected
		// requests this replica itself already finalised.
		os.log.Panic("primary failed to apply its own batch", zapErr(err))
		return &Actions{}
	}

	digest := batchDigest(key, digests)

	entry := &threePCEntry{
		key: key, ledgerID: ledgerID, ppTime: ppTime,
		reqIdr: digests, digest: digest, roots: *roots,
		status:   pcPrePrepared,
		prepares: map[rbftpb.Digest]map[NodeName]struct{}{},
		commits:  map[rbftpb.Digest]map[NodeName]struct{}{},
	}
	os.batches[key] = entry
	os.sd.recordLastSentPpSeqNo(seqNo)

	for _, r := range reqs {
		os.rm.AddRef(mustDigest(r.PayloadDigest), os.sd.InstId)
	}

	pp := &rbftpb.PrePrepare{
		InstId: uint32(os.sd.InstId), ViewNo: uint64(key.ViewNo), PpSeqNo: uint64(key.PpSeqNo),
		PpTime: ppTime, LedgerId: ledgerID,
		ReqIdr:        digestsToBytes(digests),
		Digest:        digest.Bytes(),
		StateRoot:     roots.StateRoot,
		TxnRoot:       roots.TxnRoot,
		PoolStateRoot: roots.PoolStateRoot,
		AuditTxnRoot:  roots.AuditTxnRoot,
		SubSeqNo:      0,
		Final:         true,
	}

	actions := &Actions{}
	actions.broadcast(&rbftpb.Msg{Type: &rbftpb.Msg_PrePrepare{PrePrepare: pp}})
	return actions
}

// nextSeqNo returns the next pp_seq_no the primary may use, honoring
// last_sent_pp_seq_no so a restarted primary never re-proposes a seq_no
// it may have already sent before crashing (spec.md §6 equivocation
// avoidance).
func (os *OrderingService) nextSeqNo() PpSeqNo {
	last := os.sd.LastOrdered3PC()
	next := last.PpSeqNo + 1
	if sent := os.sd.LastSentPpSeqNo(); sent >= next {
		next = sent + 1
	}
	return next
}

// monotonicPpTime returns a pp_time no earlier than the last one this
// primary sent in the current view (spec.md §4.2 Time integrity).
func (os *OrderingService) monotonicPpTime() int64 {
	now := time.Now().Unix()
	if now <= os.lastPpTime {
		now = os.lastPpTime + 1
	}
	os.lastPpTime = now
	return now
}

func (os *OrderingService) applyInOrder(ledgerID uint32, digests []rbftpb.Digest, ppTime int64) (*RootBundle, []*rbftpb.RequestData, error) {
	var roots *RootBundle
	reqs := make([]*rbftpb.RequestData, 0, len(digests))
	for _, d := range digests {
		req, ok := os.rm.Get(d)
		if !ok {
			return nil, nil, wrapf(nil, "missing finalised request %s", d)
		}
		reqs = append(reqs, req)
		r, err := os.executor.Apply(ledgerID, req, ppTime)
		if err != nil {
			return nil, nil, wrapf(err, "apply %s", d)
		}
		roots = r
	}
	if roots == nil {
		roots = &RootBundle{}
	}
	return roots, reqs, nil
}

// OnPrePrepare is the non-primary path (spec.md §4.2 on_pre_prepare).
// Classification (wrong instance/view/watermarks/mode) must already have
// been run by the caller via validate(); this method assumes PROCESS.
func (os *OrderingService) OnPrePrepare(pp *rbftpb.PrePrepare, from NodeName) (*Actions, error) {
	key := ThreePCKey{ViewNo: ViewNo(pp.ViewNo), PpSeqNo: PpSeqNo(pp.PpSeqNo)}
	os.recordArrival(key, from)

	actions := &Actions{}

	// Primary integrity (spec.md §4.2 contract).
	if !os.sd.IsPrimary(from) {
		return actions, newSuspicion(PPR_DIGEST_WRONG, from, key, "pre-prepare from non-primary")
	}

	// sub_seq_no is reserved/dead surface (spec.md §9 Open Question 2):
	// any non-zero value is a suspicion, never sub-batching.
	if pp.SubSeqNo != 0 {
		return actions, newSuspicion(PPR_SUB_SEQ_NO_WRONG, from, key, "non-zero sub_seq_no")
	}
	if !pp.Final {
		return actions, newSuspicion(PPR_NOT_FINAL, from, key, "non-final batch")
	}

	if existing, ok := os.batches[key]; ok && existing.status >= pcPrePrepared {
		// Each (view_no, pp_seq_no) admits at most one PRE-PREPARE from
		// the current primary (spec.md §3 invariant).
		return actions, newSuspicion(PPR_DIGEST_WRONG, from, key, "duplicate pre-prepare for key")
	}

	// Time integrity.
	if !os.timeIntegrityOK(pp, from) {
		return actions, newSuspicion(PPR_TIME_WRONG, from, key, "pp_time out of bounds")
	}

	// Request integrity: every listed digest must not already be ordered
	// or mid-flight in an uncommitted entry at a different key.
	digests, err := decodeDigests(pp.ReqIdr)
	if err != nil {
		return actions, wrapf(err, "decode req_idr")
	}
	if missing := os.unfinalisedOf(digests); len(missing) > 0 {
		actions.publish(&RequestPropagates{InstId: os.sd.InstId, Digests: missing})
		os.st.stash(StashMissingPrePrepare, from, &rbftpb.Msg{Type: &rbftpb.Msg_PrePrepare{PrePrepare: pp}})
		return actions, nil
	}
	if os.reqsAlreadyOrderedOrInFlight(digests, key) {
		return actions, newSuspicion(PPR_WITH_ORDERED_REQUEST, from, key, "request reused across 3PC keys")
	}

	// Root integrity: apply and compare bit-for-bit.
	roots, reqs, err := os.applyInOrder(pp.LedgerId, digests, pp.PpTime)
	if err != nil {
		return actions, newSuspicion(PPR_PLUGIN_EXCEPTION, from, key, err.Error())
	}
	if !bytes.Equal(roots.StateRoot, pp.StateRoot) {
		return actions, newSuspicion(PPR_STATE_WRONG, from, key, "state root mismatch")
	}
	if !bytes.Equal(roots.TxnRoot, pp.TxnRoot) {
		return actions, newSuspicion(PPR_TXN_WRONG, from, key, "txn root mismatch")
	}
	if !bytes.Equal(roots.PoolStateRoot, pp.PoolStateRoot) {
		return actions, newSuspicion(PPR_POOL_STATE_ROOT_HASH_WRONG, from, key, "pool state root mismatch")
	}
	if !bytes.Equal(roots.AuditTxnRoot, pp.AuditTxnRoot) {
		return actions, newSuspicion(PPR_AUDIT_TXN_ROOT_HASH_WRONG, from, key, "audit txn root mismatch")
	}

	digest, err := rbftpb.DigestFromBytes(pp.Digest)
	if err != nil {
		return actions, wrapf(err, "decode digest")
	}
	want := batchDigest(key, digests)
	if digest != want {
		return actions, newSuspicion(PPR_DIGEST_WRONG, from, key, "batch digest mismatch")
	}

	entry := &threePCEntry{
		key: key, ledgerID: pp.LedgerId, ppTime: pp.PpTime,
		reqIdr: digests, digest: digest, roots: *roots,
		status:   pcPrePrepared,
		prepares: map[rbftpb.Digest]map[NodeName]struct{}{},
		commits:  map[rbftpb.Digest]map[NodeName]struct{}{},
	}
	os.batches[key] = entry
	for _, r := range reqs {
		os.rm.AddRef(mustDigest(r.PayloadDigest), os.sd.InstId)
	}

	prepare := &rbftpb.Prepare{
		InstId: uint32(os.sd.InstId), ViewNo: pp.ViewNo, PpSeqNo: pp.PpSeqNo,
		Digest: digest.Bytes(), StateRoot: roots.StateRoot, TxnRoot: roots.TxnRoot,
	}
	actions.broadcast(&rbftpb.Msg{Type: &rbftpb.Msg_Prepare{Prepare: prepare}})

	// Our own PREPARE counts toward the quorum like any other.
	more, err := os.OnPrepare(prepare, os.cfg.Name)
	if err != nil {
		return actions, err
	}
	actions.Append(more)

	// Replay any PREPARE/COMMIT that arrived before this PRE-PREPARE.
	actions.Append(os.replayStashedFor(key))

	return actions, nil
}

// timeIntegrityOK implements spec.md §4.2 Time integrity: pp_time must
// be monotone non-decreasing within the view and within
// AcceptableDeviationPrePrepareSecs of the receiver's clock at the
// recorded arrival time, not whenever validation actually runs.
func (os *OrderingService) timeIntegrityOK(pp *rbftpb.PrePrepare, from NodeName) bool {
	if pp.PpTime < os.lastPpTime {
		return false
	}
	arrival := os.arrivalOf(ThreePCKey{ViewNo: ViewNo(pp.ViewNo), PpSeqNo: PpSeqNo(pp.PpSeqNo)}, from)
	delta := arrival.Unix() - pp.PpTime
	if delta < 0 {
		delta = -delta
	}
	if time.Duration(delta)*time.Second > os.cfg.AcceptableDeviationPrePrepareSecs {
		return false
	}
	os.lastPpTime = pp.PpTime
	return true
}

func (os *OrderingService) recordArrival(key ThreePCKey, from NodeName) {
	m, ok := os.ppArrival[key]
	if !ok {
		m = map[NodeName]time.Time{}
		os.ppArrival[key] = m
	}
	if _, ok := m[from]; !ok {
		m[from] = time.Now()
	}
}

func (os *OrderingService) arrivalOf(key ThreePCKey, from NodeName) time.Time {
	if m, ok := os.ppArrival[key]; ok {
		if t, ok := m[from]; ok {
			return t
		}
	}
	return time.Now()
}

func (os *OrderingService) unfinalisedOf(digests []rbftpb.Digest) []rbftpb.Digest {
	var missing []rbftpb.Digest
	for _, d := range digests {
		if !os.rm.Finalised(d) {
			missing = append(missing, d)
		}
	}
	return missing
}

// reqsAlreadyOrderedOrInFlight reports whether any of digests already
// appears in an ordered batch, or in a not-yet-ordered entry at a
// different key (spec.md §4.2 "Request integrity").
func (os *OrderingService) reqsAlreadyOrderedOrInFlight(digests []rbftpb.Digest, key ThreePCKey) bool {
	want := map[rbftpb.Digest]struct{}{}
	for _, d := range digests {
		want[d] = struct{}{}
	}
	for k, entry := range os.batches {
		if k == key {
			continue
		}
		for _, d := range entry.reqIdr {
			if _, ok := want[d]; ok {
				return true
			}
		}
	}
	return false
}

// OnPrepare accumulates p into the matching digest bucket, broadcasting
// COMMIT once 2f distinct non-primary senders agree with the locally
// preprepared digest (spec.md §4.2 on_prepare).
func (os *OrderingService) OnPrepare(p *rbftpb.Prepare, from NodeName) (*Actions, error) {
	key := ThreePCKey{ViewNo: ViewNo(p.ViewNo), PpSeqNo: PpSeqNo(p.PpSeqNo)}
	digest, err := rbftpb.DigestFromBytes(p.Digest)
	if err != nil {
		return &Actions{}, wrapf(err, "decode prepare digest")
	}

	entry, ok := os.batches[key]
	if !ok {
		os.st.stash(StashMissingPrePrepare, from, &rbftpb.Msg{Type: &rbftpb.Msg_Prepare{Prepare: p}})
		return &Actions{}, nil
	}

	bucket, ok := entry.prepares[digest]
	if !ok {
		bucket = map[NodeName]struct{}{}
		entry.prepares[digest] = bucket
	}
	bucket[from] = struct{}{}

	actions := &Actions{}
	if entry.status != pcPrePrepared {
		return actions, nil
	}
	if digest != entry.digest {
		return actions, nil
	}
	// Count only distinct non-primary senders (spec.md §3 Lifecycle).
	count := 0
	for sender := range bucket {
		if !os.sd.IsPrimary(sender) {
			count++
		}
	}
	if count < os.cfg.prepareQuorum() {
		return actions, nil
	}

	entry.status = pcPrepared
	commit := &rbftpb.Commit{InstId: uint32(os.sd.InstId), ViewNo: p.ViewNo, PpSeqNo: p.PpSeqNo}
	actions.broadcast(&rbftpb.Msg{Type: &rbftpb.Msg_Commit{Commit: commit}})

	more, err := os.onCommitEntry(entry, os.cfg.Name, entry.digest)
	if err != nil {
		return actions, err
	}
	actions.Append(more)
	return actions, nil
}

// OnCommit is the wire-facing entry point for an inbound COMMIT message;
// since Commit carries no digest (spec.md §6: the primary-agreed digest
// is implicit once a replica has itself prepared the batch), it is
// recorded against whichever digest this replica locally prepared.
func (os *OrderingService) OnCommit(c *rbftpb.Commit, from NodeName) (*Actions, error) {
	key := ThreePCKey{ViewNo: ViewNo(c.ViewNo), PpSeqNo: PpSeqNo(c.PpSeqNo)}
	entry, ok := os.batches[key]
	if !ok {
		os.st.stash(StashMissingPrePrepare, from, &rbftpb.Msg{Type: &rbftpb.Msg_Commit{Commit: c}})
		return &Actions{}, nil
	}
	return os.onCommitEntry(entry, from, entry.digest)
}

func (os *OrderingService) onCommitEntry(entry *threePCEntry, from NodeName, digest rbftpb.Digest) (*Actions, error) {
	bucket, ok := entry.commits[digest]
	if !ok {
		bucket = map[NodeName]struct{}{}
		entry.commits[digest] = bucket
	}
	bucket[from] = struct{}{}

	actions := &Actions{}
	if entry.status == pcOrdered || entry.status == pcCommitted {
		return actions, nil
	}
	if len(bucket) < os.cfg.quorumSize() {
		return actions, nil
	}

	entry.status = pcCommitted
	os.stashOutOfOrder(entry)
	return os.drainOrdered(entry.key.ViewNo), nil
}

// stashOutOfOrder holds a committed batch until every lower pp_seq_no in
// its view has been ordered (spec.md §4.2 "Ordered(v, s) is emitted only
// after Ordered(v, s-1)").
func (os *OrderingService) stashOutOfOrder(entry *threePCEntry) {
	m, ok := os.pendingOrdered[entry.key.ViewNo]
	if !ok {
		m = map[PpSeqNo]*threePCEntry{}
		os.pendingOrdered[entry.key.ViewNo] = m
	}
	m[entry.key.PpSeqNo] = entry
}

// drainOrdered emits every committed batch in view that is now next in
// ascending sequence order, stopping at the first gap.
func (os *OrderingService) drainOrdered(view ViewNo) *Actions {
	actions := &Actions{}
	m := os.pendingOrdered[view]
	for {
		last := os.sd.LastOrdered3PC()
		if last.ViewNo != view {
			// A commit for a different view than we're currently
			// ordering in; nothing to drain until that view installs.
			return actions
		}
		wantSeq := last.PpSeqNo + 1
		entry, ok := m[wantSeq]
		if !ok {
			return actions
		}
		delete(m, wantSeq)

		entry.status = pcOrdered
		os.sd.recordOrdered(entry.key)

		for _, d := range entry.reqIdr {
			os.rm.Release(d, os.sd.InstId)
		}

		actions.Ordered = append(actions.Ordered, &Ordered{
			InstId:    os.sd.InstId,
			Key:       entry.key,
			LedgerId:  entry.ledgerID,
			PpTime:    entry.ppTime,
			ReqIdr:    entry.reqIdr,
			StateRoot: entry.roots.StateRoot,
		})
	}
}

// replayStashedFor replays any PREPARE/COMMIT parked under
// StashMissingPrePrepare that targets key, now that its PRE-PREPARE has
// arrived (spec.md §4.2 S4 scenario).
func (os *OrderingService) replayStashedFor(key ThreePCKey) *Actions {
	actions := &Actions{}
	replay := os.st.drain(StashMissingPrePrepare)
	var keep []stashedMsg
	for _, sm := range replay {
		switch t := sm.msg.GetType().(type) {
		case *rbftpb.Msg_Prepare:
			if (ThreePCKey{ViewNo: ViewNo(t.Prepare.ViewNo), PpSeqNo: PpSeqNo(t.Prepare.PpSeqNo)}) != key {
				keep = append(keep, sm)
				continue
			}
			more, err := os.OnPrepare(t.Prepare, sm.source)
			if err == nil {
				actions.Append(more)
			}
		case *rbftpb.Msg_Commit:
			if (ThreePCKey{ViewNo: ViewNo(t.Commit.ViewNo), PpSeqNo: PpSeqNo(t.Commit.PpSeqNo)}) != key {
				keep = append(keep, sm)
				continue
			}
			more, err := os.OnCommit(t.Commit, sm.source)
			if err == nil {
				actions.Append(more)
			}
		default:
			keep = append(keep, sm)
		}
	}
	for _, sm := range keep {
		os.st.stash(sm.kind, sm.source, sm.msg)
	}
	return actions
}

// RevertUnorderedBatches undoes every prepared-but-not-ordered batch in
// reverse application order so staged state matches the last stable
// point, run once at the start of a view change (spec.md §4.2
// revert_unordered_batches).
func (os *OrderingService) RevertUnorderedBatches() error {
	var keys []ThreePCKey
	for k, entry := range os.batches {
		if entry.status != pcOrdered {
			keys = append(keys, k)
		}
	}
	sortKeysDesc(keys)

	ledgers := map[uint32]struct{}{}
	for _, k := range keys {
		entry := os.batches[k]
		ledgers[entry.ledgerID] = struct{}{}
		for _, d := range entry.reqIdr {
			os.rm.Release(d, os.sd.InstId)
		}
		delete(os.batches, k)
	}
	for l := range ledgers {
		if err := os.executor.Revert(l); err != nil {
			return wrapf(err, "revert ledger %d", l)
		}
	}
	for view, m := range os.pendingOrdered {
		for seq, entry := range m {
			if entry.status != pcOrdered {
				delete(m, seq)
			}
		}
		if len(m) == 0 {
			delete(os.pendingOrdered, view)
		}
	}
	return nil
}

// BuildPrePrepare reconstructs the wire PrePrepare for a key this
// instance already has an entry for, used to answer a MessageReq asking
// for a missed PRE-PREPARE (spec.md §6 "MessageReq/MessageRep —
// request-missed-messages protocol").
func (os *OrderingService) BuildPrePrepare(key ThreePCKey) (*rbftpb.PrePrepare, bool) {
	entry, ok := os.batches[key]
	if !ok {
		return nil, false
	}
	return &rbftpb.PrePrepare{
		InstId: uint32(os.sd.InstId), ViewNo: uint64(key.ViewNo), PpSeqNo: uint64(key.PpSeqNo),
		PpTime: entry.ppTime, LedgerId: entry.ledgerID,
		ReqIdr:        digestsToBytes(entry.reqIdr),
		Digest:        entry.digest.Bytes(),
		StateRoot:     entry.roots.StateRoot,
		TxnRoot:       entry.roots.TxnRoot,
		PoolStateRoot: entry.roots.PoolStateRoot,
		AuditTxnRoot:  entry.roots.AuditTxnRoot,
		SubSeqNo:      0,
		Final:         true,
	}, true
}

// LastPrepared returns the highest 3PC key that has reached at least the
// prepared status, used by ViewChangeService to populate
// ViewChangeDone.last_prepared (spec.md §4.4 step 2).
func (os *OrderingService) LastPrepared() ThreePCKey {
	var best ThreePCKey
	for k, entry := range os.batches {
		if entry.status >= pcPrepared && best.Less(k) {
			best = k
		}
	}
	return best
}

// LastOrdered returns the last 3PC key this instance has ordered.
func (os *OrderingService) LastOrdered() ThreePCKey {
	return os.sd.LastOrdered3PC()
}

// dropAtOrBelow removes all 3PC state with pp_seq_no <= end, called by
// CheckpointService once a checkpoint becomes stable (spec.md §4.3).
func (os *OrderingService) dropAtOrBelow(end PpSeqNo) {
	for k, entry := range os.batches {
		if k.PpSeqNo <= end {
			if entry.status != pcOrdered {
				for _, d := range entry.reqIdr {
					os.rm.Release(d, os.sd.InstId)
				}
			}
			delete(os.batches, k)
			delete(os.ppArrival, k)
		}
	}
	for view, m := range os.pendingOrdered {
		for seq := range m {
			if seq <= end {
				delete(m, seq)
			}
		}
		if len(m) == 0 {
			delete(os.pendingOrdered, view)
		}
	}
}

func batchDigest(key ThreePCKey, digests []rbftpb.Digest) rbftpb.Digest {
	parts := make([][]byte, 0, len(digests)+2)
	parts = append(parts, []byte(key.String()))
	for _, d := range digests {
		parts = append(parts, d.Bytes())
	}
	return rbftpb.SumDigest(parts...)
}

func decodeDigests(raw [][]byte) ([]rbftpb.Digest, error) {
	out := make([]rbftpb.Digest, len(raw))
	for i, b := range raw {
		d, err := rbftpb.DigestFromBytes(b)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func digestsToBytes(digests []rbftpb.Digest) [][]byte {
	out := make([][]byte, len(digests))
	for i, d := range digests {
		out[i] = d.Bytes()
	}
	return out
}

func mustDigest(b []byte) rbftpb.Digest {
	d, err := rbftpb.DigestFromBytes(b)
	if err != nil {
		return rbftpb.ZeroDigest
	}
	return d
}

func sortKeysDesc(keys []ThreePCKey) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1].Less(keys[j]); j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
}
