// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0
//
// Instance wires one protocol instance's SharedData, Stasher, Validator
// and the three services together (spec.md §2 dependency diagram) and
// owns the dispatch loop: classify with validate(), route PROCESS to
// the right service, STASH into the stasher, DISCARD silently, and
// replay whatever a mutation (view install, watermark advance, mode
// change) just unblocked. Grounded on the teacher's own dispatch shape
// in state_machine.go (`sm.dispatchProtocolMsg` routing on message kind
// before handing to the per-kind handler).

package rbft

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/gogo/protobuf/proto"
	"go.uber.org/zap"

	"github.com/ken-ebert/rbft-core/rbftpb"
)

// Instance is one of a node's R = f+1 protocol instances.
type Instance struct {
	ID  InstId
	cfg CoreConfig

	sd *SharedData
	st *stasher
	rm *requestManager
	aw *admissionWindows
	os *OrderingService
	cs *CheckpointService
	vc *ViewChangeService

	bus      *Bus
	executor Executor
	auditLog AuditLedger
	link     Link
	log      Logger

	// disconnectedSince marks when the transport first reported the
	// current primary unreachable (spec.md §4.4 trigger conditions:
	// "Master-primary connection lost ... measured via connection events
	// from the transport"); zero means currently connected (or never
	// observed otherwise).
	disconnectedSince time.Time
}

// NewInstance wires one instance's full dependency graph (spec.md §2):
// SharedData underlies Stasher and the Validator; OrderingService,
// CheckpointService and ViewChangeService each hold a reference to
// SharedData and publish cross-cutting events onto the shared bus
// rather than back-pointers into one another (spec.md §9 "Cyclic
// references ... reimplement as ... communicating via an in-process
// publish/subscribe bus").
func NewInstance(id InstId, cfg CoreConfig, rm *requestManager, bus *Bus, actions *actionQueue, executor Executor, auditLog AuditLedger, catchup Catchup, link Link) *Instance {
	sd := newSharedData(id, cfg)
	st := newStasher(cfg.StasherBound)
	aw := newAdmissionWindows(uint64(cfg.LogSize))

	os := NewOrderingService(cfg, sd, rm, st, bus, executor, actions)
	cs := NewCheckpointService(cfg, sd, os, aw)
	vc := NewViewChangeService(cfg, sd, os, bus, actions, catchup, auditLog)
	vc.SetStasher(st)

	return &Instance{
		ID: id, cfg: cfg,
		sd: sd, st: st, rm: rm, aw: aw,
		os: os, cs: cs, vc: vc,
		bus: bus, executor: executor, auditLog: auditLog, link: link,
		log: loggerFromConfig(cfg),
	}
}

// Dispatch is the instance's single entry point for an inbound message
// already known to target this instance (the node shell demultiplexes
// on inst_id before calling in). It classifies, routes, then drains any
// replay the routing produced, recursively, until nothing more
// unblocks (spec.md §4.1 "the stasher replays its eligible entries").
func (in *Instance) Dispatch(msg *rbftpb.Msg, from NodeName) (*Actions, error) {
	actions, err := in.route(msg, from)
	if err != nil {
		return actions, err
	}
	return in.drainReplays(actions)
}

func (in *Instance) drainReplays(actions *Actions) (*Actions, error) {
	for len(actions.Replay) > 0 {
		batch := actions.Replay
		actions.Replay = nil
		for _, sm := range batch {
			more, err := in.route(sm.msg, sm.source)
			if err != nil {
				in.log.Warn("replay of stashed message failed", zapErr(err))
				continue
			}
			actions.Append(more)
		}
	}
	return actions, nil
}

// route is the tagged-variant dispatch table of spec.md §9 ("Dynamic
// dispatch over message types ... use tagged variants with exhaustive
// match"): one case per oneof arm in rbftpb.Msg.
func (in *Instance) route(msg *rbftpb.Msg, from NodeName) (*Actions, error) {
	switch t := msg.GetType().(type) {
	case *rbftpb.Msg_Propagate:
		return in.onPropagate(t.Propagate, from)
	case *rbftpb.Msg_PrePrepare:
		return in.dispatchPrePrepare(t.PrePrepare, from, msg)
	case *rbftpb.Msg_Prepare:
		return in.dispatchPrepare(t.Prepare, from, msg)
	case *rbftpb.Msg_Commit:
		return in.dispatchCommit(t.Commit, from, msg)
	case *rbftpb.Msg_Checkpoint:
		return in.dispatchCheckpoint(t.Checkpoint, from, msg)
	case *rbftpb.Msg_InstanceChange:
		return in.vc.OnInstanceChange(t.InstanceChange, from), nil
	case *rbftpb.Msg_ViewChangeDone:
		return in.vc.OnViewChangeDone(t.ViewChangeDone, from), nil
	case *rbftpb.Msg_FutureViewChangeDone:
		return in.onFutureViewChangeDone(t.FutureViewChangeDone, from)
	case *rbftpb.Msg_MessageReq:
		return in.onMessageReq(t.MessageReq, from), nil
	case *rbftpb.Msg_MessageRep:
		return in.onMessageRep(t.MessageRep, from)
	default:
		return &Actions{}, newFatal("dispatch: unrecognized message variant", nil)
	}
}

// onPropagate runs a client request through finalisation and, if this
// instance is currently primary, queues it for batching (spec.md §3
// "finalised once f+1 PROPAGATE messages have been seen").
func (in *Instance) onPropagate(p *rbftpb.Propagate, from NodeName) (*Actions, error) {
	digest, finalised, err := in.rm.onPropagate(from, p.Request)
	if err != nil {
		return &Actions{}, wrapf(err, "propagate from %s", p.SenderClient)
	}
	if !finalised || !in.sd.IsPrimary(in.cfg.Name) {
		return &Actions{}, nil
	}
	return in.os.OnRequestForwarded(DomainLedgerID, digest), nil
}

func (in *Instance) dispatchPrePrepare(pp *rbftpb.PrePrepare, from NodeName, raw *rbftpb.Msg) (*Actions, error) {
	// Record arrival before classification: spec.md §4.2 "out-of-band
	// PRE-PREPAREs carry a timestamp recorded per (pp, sender) so late
	// validation can rule on the original arrival time" applies to a
	// stashed or discarded PRE-PREPARE too, not only one that reaches
	// OrderingService.OnPrePrepare. recordArrival only sets the first
	// arrival it sees for a key, so a later replay through OnPrePrepare
	// after a stash is a no-op here.
	in.os.recordArrival(ThreePCKey{ViewNo: ViewNo(pp.ViewNo), PpSeqNo: PpSeqNo(pp.PpSeqNo)}, from)

	switch c := ValidatePrePrepare(in.sd, pp); c.Decision {
	case Discard:
		in.log.Debug("discarded pre-prepare", zap.String("reason", c.DiscardReason.String()))
		return &Actions{}, nil
	case Stash:
		in.st.stash(c.StashKind, from, raw)
		return &Actions{}, nil
	default:
		actions, err := in.os.OnPrePrepare(pp, from)
		if err != nil {
			return in.onOutcome(actions, err)
		}
		return in.foldOrdered(actions)
	}
}

func (in *Instance) dispatchPrepare(p *rbftpb.Prepare, from NodeName, raw *rbftpb.Msg) (*Actions, error) {
	switch c := ValidatePrepare(in.sd, p); c.Decision {
	case Discard:
		return &Actions{}, nil
	case Stash:
		in.st.stash(c.StashKind, from, raw)
		return &Actions{}, nil
	default:
		actions, err := in.os.OnPrepare(p, from)
		if err != nil {
			return in.onOutcome(actions, err)
		}
		return in.foldOrdered(actions)
	}
}

func (in *Instance) dispatchCommit(c *rbftpb.Commit, from NodeName, raw *rbftpb.Msg) (*Actions, error) {
	switch cls := ValidateCommit(in.sd, c); cls.Decision {
	case Discard:
		return &Actions{}, nil
	case Stash:
		in.st.stash(cls.StashKind, from, raw)
		return &Actions{}, nil
	default:
		actions, err := in.os.OnCommit(c, from)
		if err != nil {
			return in.onOutcome(actions, err)
		}
		return in.foldOrdered(actions)
	}
}

func (in *Instance) dispatchCheckpoint(cp *rbftpb.Checkpoint, from NodeName, raw *rbftpb.Msg) (*Actions, error) {
	switch c := ValidateCheckpoint(in.sd, cp); c.Decision {
	case Discard:
		return &Actions{}, nil
	case Stash:
		in.st.stash(c.StashKind, from, raw)
		return &Actions{}, nil
	default:
		actions, stabilized, err := in.cs.OnCheckpoint(cp, from)
		if err != nil {
			return actions, err
		}
		if stabilized {
			actions.Replay = append(actions.Replay, in.st.drain(StashWatermarks)...)
		}
		return actions, nil
	}
}

// onOutcome turns a Suspicion returned by OrderingService into the
// discard-plus-evidence handling of spec.md §7: the offending message is
// always dropped, and a primary-attributable code additionally starts a
// view change.
func (in *Instance) onOutcome(actions *Actions, err error) (*Actions, error) {
	susp, ok := err.(*Suspicion)
	if !ok {
		return actions, err
	}
	in.log.Warn("suspicion raised", zap.String("code", susp.Code.String()), zap.String("node", string(susp.Node)))
	if susp.Code.primaryAttributable() {
		actions.Append(in.vc.OnSuspiciousPrimary(susp))
	}
	return actions, nil
}

// foldOrdered feeds every freshly ordered batch through the executor's
// Commit/audit-ledger recording and into CheckpointService, and queues
// any watermark-unblocked replay the resulting stability produces. Only
// the master instance's batches are ever executed against application
// state (spec.md §2: "the only instance whose ordered batches are
// executed against application state"); a backup's Ordered is published
// on the bus unexecuted, for the external master-monitor collaborator
// to compare against the master's throughput/latency (spec.md §4.4).
func (in *Instance) foldOrdered(actions *Actions) (*Actions, error) {
	ordered := actions.Ordered
	actions.Ordered = nil
	for _, ev := range ordered {
		if ev.InstId == MasterInstId {
			if err := in.commitOrdered(ev); err != nil {
				in.log.Panic("commit of ordered batch failed", zapErr(err))
			}
		} else {
			actions.publish(ev)
		}
		more, stabilized := in.cs.OnOrdered(ev)
		actions.Append(more)
		if stabilized {
			actions.Replay = append(actions.Replay, in.st.drain(StashWatermarks)...)
		}
	}
	return actions, nil
}

func (in *Instance) commitOrdered(ev *Ordered) error {
	committed, err := in.executor.Commit(ev.LedgerId, ev.Key)
	if err != nil {
		return wrapf(err, "commit %s", ev.Key)
	}
	in.log.Debug("committed ordered batch", zap.Int("txns", len(committed)))
	if in.auditLog == nil {
		return nil
	}
	return in.auditLog.RecordCommitted(ev.Key, in.sd.Validators(), ev.StateRoot, nil, nil, nil)
}

// OnTick runs the liveness check the node shell drives once per tick
// (spec.md §5 tick phase "timers"): a primary the transport has reported
// unreachable for TolerateMasterPrimaryDisconnection starts a view change
// (spec.md §4.4 trigger conditions: "connection lost ... measured via
// connection events from the transport"), grounded on
// `original_source/plenum/server/node.py`'s `nodestack.isConnectedTo`
// check rather than inferred from PRE-PREPARE arrival timing. A primary
// never suspects itself. Only the master instance runs the check; a backup
// instance's OnTick returns no actions.
func (in *Instance) OnTick(now time.Time) *Actions {
	if in.ID != MasterInstId {
		return &Actions{}
	}
	if !in.sd.Mode().CanOrder() || in.sd.ViewChangeInProgress() {
		return &Actions{}
	}
	if in.sd.IsPrimary(in.cfg.Name) {
		return &Actions{}
	}
	if in.link == nil || in.link.IsConnected(in.sd.Primary()) {
		in.disconnectedSince = time.Time{}
		return &Actions{}
	}
	if in.disconnectedSince.IsZero() {
		in.disconnectedSince = now
		return &Actions{}
	}
	if now.Sub(in.disconnectedSince) < in.cfg.TolerateMasterPrimaryDisconnection {
		return &Actions{}
	}
	in.disconnectedSince = now
	return in.vc.OnPrimaryDisconnected()
}

// onFutureViewChangeDone unwraps the internal envelope used to stash a
// ViewChangeDone for a view this replica has not yet reached, then
// re-enters it through the normal path once that view arrives.
func (in *Instance) onFutureViewChangeDone(env *rbftpb.FutureViewChangeDone, from NodeName) (*Actions, error) {
	if env.VcdMsg == nil {
		return &Actions{}, nil
	}
	if ViewNo(env.VcdMsg.ViewNo) > in.sd.ViewNo() {
		in.st.stash(StashFutureView, from, &rbftpb.Msg{Type: &rbftpb.Msg_FutureViewChangeDone{FutureViewChangeDone: env}})
		return &Actions{}, nil
	}
	return in.vc.OnViewChangeDone(env.VcdMsg, from), nil
}

// onMessageReq answers a request-missed-messages query (spec.md §6
// "MessageReq/MessageRep"): a missed PRE-PREPARE is reconstructed from
// this instance's own 3PC state, a missed PROPAGATE from the node-wide
// request manager's cache (spec.md §4.2 "asking the node shell to
// solicit PROPAGATE messages" for requests a PRE-PREPARE referenced that
// this replica never itself finalised).
func (in *Instance) onMessageReq(req *rbftpb.MessageReq, from NodeName) *Actions {
	switch req.MsgType {
	case "PRE-PREPARE":
		return in.onMessageReqPrePrepare(req, from)
	case "PROPAGATE":
		return in.onMessageReqPropagate(req, from)
	default:
		return &Actions{}
	}
}

func (in *Instance) onMessageReqPrePrepare(req *rbftpb.MessageReq, from NodeName) *Actions {
	actions := &Actions{}
	view, seq, ok := parseThreePCParams(req.Params)
	if !ok {
		return actions
	}
	pp, ok := in.os.BuildPrePrepare(ThreePCKey{ViewNo: view, PpSeqNo: seq})
	if !ok {
		return actions
	}
	body, err := protoMarshal(&rbftpb.Msg{Type: &rbftpb.Msg_PrePrepare{PrePrepare: pp}})
	if err != nil {
		in.log.Warn("failed to marshal pre-prepare for message-rep", zapErr(err))
		return actions
	}
	rep := &rbftpb.MessageRep{MsgType: req.MsgType, Params: req.Params, Msg: body}
	actions.unicast(from, &rbftpb.Msg{Type: &rbftpb.Msg_MessageRep{MessageRep: rep}})
	return actions
}

func (in *Instance) onMessageReqPropagate(req *rbftpb.MessageReq, from NodeName) *Actions {
	actions := &Actions{}
	digest, ok := parseDigestParam(req.Params)
	if !ok {
		return actions
	}
	data, ok := in.rm.Get(digest)
	if !ok {
		return actions
	}
	body, err := protoMarshal(&rbftpb.Msg{Type: &rbftpb.Msg_Propagate{Propagate: &rbftpb.Propagate{Request: data}}})
	if err != nil {
		in.log.Warn("failed to marshal propagate for message-rep", zapErr(err))
		return actions
	}
	rep := &rbftpb.MessageRep{MsgType: req.MsgType, Params: req.Params, Msg: body}
	actions.unicast(from, &rbftpb.Msg{Type: &rbftpb.Msg_MessageRep{MessageRep: rep}})
	return actions
}

// onMessageRep decodes a missed-message reply and re-enters it through
// the normal validate/dispatch path (spec.md §8 S5: "eventually
// missing-message protocol requests PRE-PREPAREs and honest majority
// converges").
func (in *Instance) onMessageRep(rep *rbftpb.MessageRep, from NodeName) (*Actions, error) {
	var inner rbftpb.Msg
	if err := protoUnmarshal(rep.Msg, &inner); err != nil {
		return &Actions{}, wrapf(err, "decode message-rep")
	}
	switch rep.MsgType {
	case "PRE-PREPARE":
		pp, ok := inner.GetType().(*rbftpb.Msg_PrePrepare)
		if !ok {
			return &Actions{}, nil
		}
		return in.dispatchPrePrepare(pp.PrePrepare, from, &inner)
	case "PROPAGATE":
		p, ok := inner.GetType().(*rbftpb.Msg_Propagate)
		if !ok {
			return &Actions{}, nil
		}
		return in.onPropagate(p.Propagate, from)
	default:
		return &Actions{}, nil
	}
}

// RequestMissingPrePrepare broadcasts a MessageReq for the PRE-PREPARE at
// key, used when a PREPARE/COMMIT has sat in StashMissingPrePrepare long
// enough that we suspect the PRE-PREPARE itself was lost rather than
// merely reordered. Driven by the node shell's stale-stash sweep.
func (in *Instance) RequestMissingPrePrepare(key ThreePCKey) *Actions {
	req := &rbftpb.MessageReq{MsgType: "PRE-PREPARE", Params: threePCParams(key)}
	return (&Actions{}).broadcast(&rbftpb.Msg{Type: &rbftpb.Msg_MessageReq{MessageReq: req}})
}

// PendingMissingPrePrepareKeys returns every distinct 3PC key currently
// parked under StashMissingPrePrepare, for the node shell's stale-stash
// sweep (spec.md §4.2 S4 / §8 S5).
func (in *Instance) PendingMissingPrePrepareKeys() []ThreePCKey {
	seen := map[ThreePCKey]struct{}{}
	var out []ThreePCKey
	for _, sm := range in.st.Peek(StashMissingPrePrepare) {
		var key ThreePCKey
		switch t := sm.msg.GetType().(type) {
		case *rbftpb.Msg_Prepare:
			key = ThreePCKey{ViewNo: ViewNo(t.Prepare.ViewNo), PpSeqNo: PpSeqNo(t.Prepare.PpSeqNo)}
		case *rbftpb.Msg_Commit:
			key = ThreePCKey{ViewNo: ViewNo(t.Commit.ViewNo), PpSeqNo: PpSeqNo(t.Commit.PpSeqNo)}
		default:
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// requestMissingPropagate broadcasts a MessageReq asking peers for their
// PROPAGATE of digest, driven by the node shell off a RequestPropagates
// event (spec.md §4.2 step 2).
func requestMissingPropagate(digest rbftpb.Digest) *Actions {
	req := &rbftpb.MessageReq{MsgType: "PROPAGATE", Params: digestParams(digest)}
	return (&Actions{}).broadcast(&rbftpb.Msg{Type: &rbftpb.Msg_MessageReq{MessageReq: req}})
}

func digestParams(d rbftpb.Digest) map[string]string {
	return map[string]string{"digest": d.String()}
}

func parseDigestParam(params map[string]string) (rbftpb.Digest, bool) {
	raw, err := hex.DecodeString(params["digest"])
	if err != nil {
		return rbftpb.ZeroDigest, false
	}
	d, err := rbftpb.DigestFromBytes(raw)
	if err != nil {
		return rbftpb.ZeroDigest, false
	}
	return d, true
}

func threePCParams(key ThreePCKey) map[string]string {
	return map[string]string{
		"view_no":   strconv.FormatUint(uint64(key.ViewNo), 10),
		"pp_seq_no": strconv.FormatUint(uint64(key.PpSeqNo), 10),
	}
}

func parseThreePCParams(params map[string]string) (view ViewNo, seq PpSeqNo, ok bool) {
	v, err := strconv.ParseUint(params["view_no"], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	s, err := strconv.ParseUint(params["pp_seq_no"], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return ViewNo(v), PpSeqNo(s), true
}

// protoMarshal and protoUnmarshal wrap gogo/protobuf's codec so the
// missing-message protocol can embed one Msg inside another's raw bytes
// field (spec.md §6 MessageRep.msg), matching the wire codec's own
// hand-maintained marshal/unmarshal pairing rather than pulling in a
// second serialization library.
func protoMarshal(m proto.Message) ([]byte, error) {
	return proto.Marshal(m)
}

func protoUnmarshal(b []byte, m proto.Message) error {
	return proto.Unmarshal(b, m)
}
