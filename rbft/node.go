// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0
//
// The node shell: owns a validator's R = f+1 instances and drives the
// single cooperative tick loop of spec.md §5 ("replica inboxes,
// node-to-node transport, client transport, scheduled actions, timers,
// monitor, view changer, observer, outbox flush"). Grounded on the
// teacher's own node/processor split: processor.go's ProcessSerially
// (persist→transmit→apply, in that fixed order) is the model for Tick's
// fixed phase order, and state_machine.go's one-state-machine-per-node
// shape is generalized here into R state machines (Instances) sharing
// one Bus, requestManager and actionQueue (spec.md §2).

package rbft

import (
	"time"

	"github.com/ken-ebert/rbft-core/rbftpb"
)

// InboundWire is one message as received over the network, already
// decoded and attributed to a sender, not yet demultiplexed to an
// instance.
type InboundWire struct {
	From NodeName
	Msg  *rbftpb.Msg
}

// ClientSubmission is a request arriving over the client transport seam,
// classified by the admission window before consensus ever runs
// (spec.md §7 "Reject / RequestNack / RequestAck").
type ClientSubmission struct {
	Request *rbftpb.RequestData
}

// Node owns one validator's full set of protocol instances, the shared
// collaborators every instance's services are built from, and the two
// transport-facing inboxes the tick loop services each pass (spec.md §5
// "Shared resource policy": transport quotas admit into the inbox, the
// inbox then feeds the cooperative loop).
type Node struct {
	cfg     CoreConfig
	link    Link
	clock   *tickTimer
	actions *actionQueue
	bus     *Bus
	rm      *requestManager
	log     Logger

	instances []*Instance

	replicaInbox chan InboundWire
	clientInbox  chan ClientSubmission

	// suspended holds instances parked mid catchup (spec.md §4.5
	// "restores suspended backup replicas"): their replica inboxes are
	// not drained again until a ViewPropagated names them.
	suspended map[InstId]bool

	// lastMissingSweep throttles how often each instance's stale-stash
	// sweep (requesting missed PRE-PREPAREs) runs, so one tick's worth
	// of newly-stashed PREPAREs isn't immediately treated as stale.
	lastMissingSweep map[InstId]time.Time

	outbox *Actions
}

// NewNode constructs a Node with R = f+1 instances. link, executor,
// auditLog and catchup are the external collaborators of spec.md §6;
// clock is the host's wall-clock Timer, wrapped in a tickTimer so every
// scheduled fire is replayed onto this Node's own loop goroutine rather
// than whatever goroutine the host's Timer uses internally.
func NewNode(cfg CoreConfig, link Link, clock Timer, executor Executor, auditLog AuditLedger, catchup Catchup) *Node {
	bus := NewBus()
	tt := newTickTimer(clock)
	actions := newActionQueue(tt)
	rm := newRequestManager(cfg, requestCacheSize(cfg))

	n := &Node{
		cfg:              cfg,
		link:             link,
		clock:            tt,
		actions:          actions,
		bus:              bus,
		rm:               rm,
		log:              loggerFromConfig(cfg),
		replicaInbox:     make(chan InboundWire, cfg.InboxMaxCount),
		clientInbox:      make(chan ClientSubmission, cfg.InboxMaxCount),
		suspended:        map[InstId]bool{},
		lastMissingSweep: map[InstId]time.Time{},
		outbox:           &Actions{},
	}

	for i := 0; i < cfg.numInstances(); i++ {
		n.instances = append(n.instances, NewInstance(InstId(i), cfg, rm, bus, actions, executor, auditLog, catchup, link))
	}

	bus.Subscribe(n.onEvent)
	return n
}

func requestCacheSize(cfg CoreConfig) int {
	size := int(cfg.LogSize) * 8
	if size < 1024 {
		size = 1024
	}
	return size
}

// Step admits one inbound wire message for later processing by Tick,
// honoring the node's inbox quota (spec.md §5 "transport quotas ...
// admit into the node inbox"); a full inbox drops the message rather
// than blocking the transport goroutine.
func (n *Node) Step(from NodeName, msg *rbftpb.Msg) {
	select {
	case n.replicaInbox <- InboundWire{From: from, Msg: msg}:
	default:
		n.log.Warn("replica inbox full, dropping message")
	}
}

// Submit admits one client request for later processing by Tick.
func (n *Node) Submit(req *rbftpb.RequestData) {
	select {
	case n.clientInbox <- ClientSubmission{Request: req}:
	default:
		n.log.Warn("client inbox full, dropping submission")
	}
}

// Tick runs exactly one pass of the fixed phase order of spec.md §5.
// Every phase drains everything currently pending for that phase before
// the next one starts; there is no intra-phase suspension.
func (n *Node) Tick(now time.Time) {
	n.drainReplicaInbox()
	n.flushTransport()
	n.drainClientInbox()
	n.clock.drain()
	n.runTimers(now)
	n.publishEvents()
	n.flushTransport()
}

// publishEvents is the bus-publish phase ("observer" in spec.md §5's
// phase list): every Event a handler published into the outbox since the
// last pass is handed to Bus.Publish, which fans it out to n.onEvent (and
// any other subscriber) in registration order. A subscriber may itself
// enqueue outbound actions (e.g. RequestPropagates soliciting a
// PROPAGATE over Broadcast) — those are picked up by the flushTransport
// call that follows, so they still leave on the same tick.
func (n *Node) publishEvents() {
	events := n.outbox.Events
	n.outbox.Events = nil
	for _, ev := range events {
		n.bus.Publish(ev)
	}
}

// drainReplicaInbox is tick phase 1 ("replica inboxes"): every pending
// wire message is demultiplexed to its instance by inst_id and run
// through Dispatch, unless that instance is currently suspended for
// catchup (spec.md §4.5).
func (n *Node) drainReplicaInbox() {
	for {
		select {
		case w := <-n.replicaInbox:
			n.dispatch(w.From, w.Msg)
		default:
			return
		}
	}
}

func (n *Node) dispatch(from NodeName, msg *rbftpb.Msg) {
	id := instIDOf(msg)
	if id == invalidInstId || int(id) >= len(n.instances) {
		n.log.Warn("message for unknown instance")
		return
	}
	if n.suspended[id] {
		return
	}
	actions, err := n.instances[id].Dispatch(msg, from)
	if err != nil {
		if _, fatal := err.(*FatalError); fatal {
			n.log.Panic("fatal invariant breach", zapErr(err))
		}
		n.log.Warn("dispatch error", zapErr(err))
	}
	n.outbox.Append(actions)
}

// instIDOf reads inst_id off whichever oneof arm carries it. Wire
// messages that do not name an instance (MessageReq/MessageRep) are
// routed to the master instance, since today's only served kinds
// (missed PRE-PREPARE/PROPAGATE) are both master-ledger concerns.
func instIDOf(msg *rbftpb.Msg) InstId {
	switch t := msg.GetType().(type) {
	case *rbftpb.Msg_PrePrepare:
		return InstId(t.PrePrepare.InstId)
	case *rbftpb.Msg_Prepare:
		return InstId(t.Prepare.InstId)
	case *rbftpb.Msg_Commit:
		return InstId(t.Commit.InstId)
	case *rbftpb.Msg_Checkpoint:
		return InstId(t.Checkpoint.InstId)
	case *rbftpb.Msg_Propagate:
		return MasterInstId
	case *rbftpb.Msg_InstanceChange, *rbftpb.Msg_ViewChangeDone, *rbftpb.Msg_FutureViewChangeDone:
		return MasterInstId
	case *rbftpb.Msg_MessageReq, *rbftpb.Msg_MessageRep:
		return MasterInstId
	default:
		return invalidInstId
	}
}

// invalidInstId is the instIDOf sentinel for a message carrying no
// recognizable inst_id, distinct from any real instance (InstId is
// unsigned, so a negative sentinel is not representable).
const invalidInstId InstId = ^InstId(0)

// flushTransport is tick phase 2 ("node-to-node transport"): every
// Broadcast/Unicast accumulated in the outbox since the last flush is
// handed to Link, then cleared.
func (n *Node) flushTransport() {
	for _, msg := range n.outbox.Broadcast {
		n.link.Broadcast(n.masterValidators(), msg)
	}
	for _, u := range n.outbox.Unicast {
		n.link.Send(u.Target, u.Msg)
	}
	n.outbox.Broadcast = nil
	n.outbox.Unicast = nil
}

func (n *Node) masterValidators() []NodeName {
	return n.instances[MasterInstId].sd.Validators()
}

// drainClientInbox is tick phase 3 ("client transport"): every pending
// client submission is admitted (duplicate/out-of-window requests are
// silently dropped; the admission outcome is the client transport's
// concern to surface, not this core's, spec.md §7) and, once finalised,
// handed to the master instance for batching.
func (n *Node) drainClientInbox() {
	for {
		select {
		case sub := <-n.clientInbox:
			n.admitAndForward(sub.Request)
		default:
			return
		}
	}
}

// admitAndForward runs the client's admission window (keyed off the
// master instance, since all instances agree on the same client/req_id
// space) then hands the finalised digest to every instance's
// OrderingService: each instance keeps its own primary and its own
// batching queue (spec.md §2 SharedData is per-instance), so a replica
// may be primary for some backup instance's view while not for the
// master's.
func (n *Node) admitAndForward(req *rbftpb.RequestData) {
	digest, err := rbftpb.DigestFromBytes(req.PayloadDigest)
	if err != nil {
		n.log.Warn("client submission with malformed payload digest", zapErr(err))
		return
	}
	master := n.instances[MasterInstId]
	if master.aw.Admit(req, digest) != RequestAck {
		return
	}
	if _, err := n.rm.onLocalSubmit(req); err != nil {
		n.log.Warn("local submit failed", zapErr(err))
		return
	}
	for _, inst := range n.instances {
		n.outbox.Append(inst.os.OnRequestForwarded(DomainLedgerID, digest))
	}
}

// runTimers is tick phases 5-6 ("timers", "monitor"): each instance's
// primary-liveness check runs here (spec.md §4.4 trigger conditions);
// the master-monitor's DELTA/LAMBDA/OMEGA comparison is computed by the
// external collaborator named in spec.md §4.4, not by this core — it
// calls back OnMonitorThresholdBreached directly once it decides,
// rather than being polled from this loop.
func (n *Node) runTimers(now time.Time) {
	for id, inst := range n.instances {
		if n.suspended[InstId(id)] {
			continue
		}
		n.outbox.Append(inst.OnTick(now))
		n.sweepMissingPrePrepares(InstId(id), inst, now)
	}
}

// sweepMissingPrePrepares requests any PRE-PREPARE whose PREPARE/COMMIT
// has sat stashed since the last sweep, throttled to once per
// BatchTimeout per instance so a just-stashed message isn't immediately
// treated as lost (spec.md §8 S5's missing-message protocol).
func (n *Node) sweepMissingPrePrepares(id InstId, inst *Instance, now time.Time) {
	if last, ok := n.lastMissingSweep[id]; ok && now.Sub(last) < n.cfg.BatchTimeout {
		return
	}
	n.lastMissingSweep[id] = now
	for _, key := range inst.PendingMissingPrePrepareKeys() {
		n.outbox.Append(inst.RequestMissingPrePrepare(key))
	}
}

// onEvent is the node-wide bus subscriber (spec.md §6 "Internal bus
// events ... consumed by the node shell, which drives catchup or
// re-propagation"). It never mutates instance state directly; it only
// suspends/resumes instance message delivery and enqueues outbound
// requests onto the shared outbox, so all real work still happens
// through the normal tick phases.
func (n *Node) onEvent(ev Event) {
	switch e := ev.(type) {
	case *NeedMasterCatchup:
		n.suspended[e.InstId] = true
	case *NeedBackupCatchup:
		n.suspended[e.InstId] = true
	case *ViewPropagated:
		delete(n.suspended, e.InstId)
	case *RequestPropagates:
		for _, d := range e.Digests {
			n.outbox.Append(requestMissingPropagate(d))
		}
	case *Ordered:
		// Backup-instance monitoring signal (spec.md §4.4); consumed by
		// the external master-monitor collaborator, not by this node.
	}
}
