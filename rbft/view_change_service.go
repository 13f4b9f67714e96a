// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0
//
// Primary-loss detection, view-change voting and new-view installation
// (spec.md §4.4). The teacher's own view-change analogue (`epochChanger`
// in state_machine.go) was not among the four retrieved teacher files in
// enough detail to ground the classic-PBFT voting rounds, so this
// component follows `sydneyli-distributePKI/src/pbft/view_change.go`'s
// from-scratch PBFT view-change idiom instead: f+1 higher-view votes
// commit to a view change (`handleViewChange`'s "higherThanCurrent"
// count), 2f+1 matching votes install the new view
// (`enterNewView`/`generatePrepreparesForNewView`), and the primary for
// a view is `validators[view mod N]` round-robin, matching both that
// file's `cluster.LeaderFor` and spec.md §4.4 step 4.
package rbft

import (
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/ken-ebert/rbft-core/rbftpb"
)

// ViewChangeService tracks liveness of the primary and runs the
// view-change sub-protocol for one instance (spec.md §4.4).
type ViewChangeService struct {
	cfg      CoreConfig
	sd       *SharedData
	os       *OrderingService
	bus      *Bus
	actions  *actionQueue
	catchup  Catchup
	auditLog AuditLedger
	log      Logger

	instanceChangeVotes map[ViewNo]map[NodeName]string // view -> voter -> reason
	committedTarget     ViewNo                         // 0 means no view change in flight

	vcDoneVotes         map[ViewNo]map[NodeName]*rbftpb.ViewChangeDone
	lastPreparedAtStart ThreePCKey

	// coordinator is (re)created at the start of each view-change
	// attempt, once we commit to a target view (spec.md §4.4 step 1:
	// "begin catchup").
	coordinator *CatchupCoordinator

	backoffs map[ViewNo]*backoff.ExponentialBackOff

	// st is wired in by instance.go after construction, since the
	// stasher is shared across every service of one instance and is
	// only needed here for the future-view replay on install.
	st *stasher
}

// NewViewChangeService constructs a ViewChangeService for one instance.
func NewViewChangeService(cfg CoreConfig, sd *SharedData, os *OrderingService, bus *Bus, actions *actionQueue, catchup Catchup, auditLog AuditLedger) *ViewChangeService {
	return &ViewChangeService{
		cfg:                 cfg,
		sd:                  sd,
		os:                  os,
		bus:                 bus,
		actions:             actions,
		catchup:             catchup,
		auditLog:            auditLog,
		log:                 loggerFromConfig(cfg),
		instanceChangeVotes: map[ViewNo]map[NodeName]string{},
		vcDoneVotes:         map[ViewNo]map[NodeName]*rbftpb.ViewChangeDone{},
		backoffs:            map[ViewNo]*backoff.ExponentialBackOff{},
	}
}

// OnPrimaryDisconnected is raised by the master Instance's OnTick after its
// primary's connection has been down for TolerateMasterPrimaryDisconnection
// (spec.md §4.4 trigger conditions).
func (vc *ViewChangeService) OnPrimaryDisconnected() *Actions {
	return vc.startViewChange(vc.sd.ViewNo()+1, "PRIMARY_DISCONNECTED")
}

// OnSuspiciousPrimary is called by the owning Instance for every
// primary-attributable suspicion code the OrderingService returns
// (spec.md §7, §4.4 trigger
// conditions: "Suspicion code indicating primary misbehavior").
func (vc *ViewChangeService) OnSuspiciousPrimary(s *Suspicion) *Actions {
	return vc.startViewChange(vc.sd.ViewNo()+1, s.Code.String())
}

// OnMonitorThresholdBreached is raised by the external master-monitor
// collaborator when master throughput/latency crosses DELTA/LAMBDA/OMEGA
// against the backup instances (spec.md §4.4).
func (vc *ViewChangeService) OnMonitorThresholdBreached() *Actions {
	return vc.startViewChange(vc.sd.ViewNo()+1, "DEGRADED_MASTER")
}

func (vc *ViewChangeService) startViewChange(target ViewNo, reason string) *Actions {
	msg := &rbftpb.InstanceChange{ViewNo: uint64(target), Reason: reason}
	actions := &Actions{}
	actions.broadcast(&rbftpb.Msg{Type: &rbftpb.Msg_InstanceChange{InstanceChange: msg}})
	more := vc.OnInstanceChange(msg, vc.cfg.Name)
	actions.Append(more)
	vc.scheduleTimeout(target)
	return actions
}

// OnInstanceChange records one InstanceChange vote. Once f+1 distinct
// replicas have voted for views higher than our current one, we commit
// to a view change (spec.md §4.4 step 1: "Collect f+1 matching
// InstanceChanges -> commit to view change").
func (vc *ViewChangeService) OnInstanceChange(msg *rbftpb.InstanceChange, from NodeName) *Actions {
	return vc.recordInstanceChange(ViewNo(msg.ViewNo), from, msg.Reason)
}

func (vc *ViewChangeService) recordInstanceChange(view ViewNo, from NodeName, reason string) *Actions {
	bucket, ok := vc.instanceChangeVotes[view]
	if !ok {
		bucket = map[NodeName]string{}
		vc.instanceChangeVotes[view] = bucket
	}
	bucket[from] = reason

	actions := &Actions{}
	if vc.committedTarget != 0 || view <= vc.sd.ViewNo() {
		return actions
	}
	if len(bucket) < vc.cfg.weakQuorum() {
		return actions
	}

	vc.committedTarget = view
	vc.sd.startViewChange()
	if err := vc.os.RevertUnorderedBatches(); err != nil {
		vc.log.Panic("failed to revert unordered batches on view change", zapErr(err))
	}
	vc.lastPreparedAtStart = vc.os.LastPrepared()
	vc.coordinator = NewCatchupCoordinator(vc.cfg, vc.catchup, vc.auditLog)

	if vc.sd.InstId == MasterInstId {
		actions.publish(&NeedMasterCatchup{InstId: vc.sd.InstId})
	} else {
		actions.publish(&NeedBackupCatchup{InstId: vc.sd.InstId})
	}

	vcd := &rbftpb.ViewChangeDone{
		ViewNo: uint64(view),
		Name:   string(vc.cfg.Name),
		LedgerInfo: ledgerInfoFrom(vc.catchup),
		LastPrepared: &rbftpb.ThreePcKey{
			ViewNo: uint64(vc.lastPreparedAtStart.ViewNo), PpSeqNo: uint64(vc.lastPreparedAtStart.PpSeqNo),
		},
	}
	actions.broadcast(&rbftpb.Msg{Type: &rbftpb.Msg_ViewChangeDone{ViewChangeDone: vcd}})
	more := vc.OnViewChangeDone(vcd, vc.cfg.Name)
	actions.Append(more)
	return actions
}

func ledgerInfoFrom(c Catchup) []*rbftpb.LedgerInfo {
	if c == nil {
		return nil
	}
	roots := c.LocalLedgerRoots()
	out := make([]*rbftpb.LedgerInfo, 0, len(roots))
	for id, root := range roots {
		out = append(out, &rbftpb.LedgerInfo{LedgerId: id, MerkleRoot: root})
	}
	return out
}

// OnViewChangeDone records one ViewChangeDone vote for msg.ViewNo. At
// 2f+1 matching votes, checks whether local state already reproduces
// every listed ledger root; if not, it requests catchup rounds until the
// check passes or the retry budget is exhausted (spec.md §4.4 step 3,
// §4.5).
func (vc *ViewChangeService) OnViewChangeDone(msg *rbftpb.ViewChangeDone, from NodeName) *Actions {
	view := ViewNo(msg.ViewNo)
	if view < vc.sd.ViewNo() {
		return &Actions{} // DISCARD(OLD_VIEW), spec.md §8 boundary test
	}

	bucket, ok := vc.vcDoneVotes[view]
	if !ok {
		bucket = map[NodeName]*rbftpb.ViewChangeDone{}
		vc.vcDoneVotes[view] = bucket
	}
	bucket[from] = msg

	actions := &Actions{}
	if len(bucket) < vc.cfg.quorumSize() {
		return actions
	}

	return vc.driveCatchupAndInstall(view, bucket)
}

// driveCatchupAndInstall implements spec.md §4.5's decision loop over
// the CatchupCoordinator and, once satisfied or out of budget, installs
// the new view (step 4).
func (vc *ViewChangeService) driveCatchupAndInstall(view ViewNo, votes map[NodeName]*rbftpb.ViewChangeDone) *Actions {
	actions := &Actions{}
	if vc.coordinator == nil {
		vc.coordinator = NewCatchupCoordinator(vc.cfg, vc.catchup, vc.auditLog)
	}

	reachedLastPrepared := func() bool { return !vc.os.LastOrdered().Less(vc.lastPreparedAtStart) }
	for !vc.coordinator.RootsMatch(votes) || !reachedLastPrepared() {
		_, budgetExhausted := vc.coordinator.RunRound()
		if budgetExhausted {
			break
		}
	}

	actions.Append(vc.installNewView(view))
	actions.Append(vc.replayFutureView())
	return actions
}

// installNewView is step 4 of spec.md §4.4: select the deterministic
// round-robin primary, set mode Participating, clear in-flight
// view-change bookkeeping, and run the spec.md §4.5 completion sequence
// (reselect primaries from the audit ledger, publish ViewPropagated so
// the node shell can resume any suspended backup instances).
func (vc *ViewChangeService) installNewView(view ViewNo) *Actions {
	// Every escalation round re-armed its own timeout under a new key
	// (view, view+1, view+2, ...); cancel them all so a stale escalation
	// cannot fire an InstanceChange for a view we have already moved
	// past.
	for v := range vc.backoffs {
		vc.actions.Cancel(viewChangeTimeoutKey(v))
	}

	vc.sd.installView(view, vc.sd.Validators())
	vc.sd.SetMode(Participating)

	for v := range vc.instanceChangeVotes {
		if v <= view {
			delete(vc.instanceChangeVotes, v)
		}
	}
	for v := range vc.vcDoneVotes {
		if v <= view {
			delete(vc.vcDoneVotes, v)
		}
	}
	vc.backoffs = map[ViewNo]*backoff.ExponentialBackOff{}
	vc.committedTarget = 0

	coordinator := vc.coordinator
	if coordinator == nil {
		coordinator = NewCatchupCoordinator(vc.cfg, vc.catchup, vc.auditLog)
	}
	propagated := coordinator.Complete(vc.sd.InstId, view, vc.sd.Validators())
	vc.coordinator = nil

	return (&Actions{}).publish(propagated)
}

// replayFutureView drains StashFutureView so the node shell can re-run
// every message parked while this view change was in progress through
// the normal validate/dispatch path (spec.md §4.4 step 4: "replay
// stashed future-view messages").
func (vc *ViewChangeService) replayFutureView() *Actions {
	return &Actions{Replay: drainKind(vc.stasherRef(), StashFutureView)}
}

// stasherRef exists only so replayFutureView can be written above the
// actual stasher wiring, which instance.go supplies via SetStasher.
func (vc *ViewChangeService) stasherRef() *stasher { return vc.st }

// SetStasher wires the shared per-instance stasher in once constructed;
// kept separate from the constructor so the dependency cycle between
// ViewChangeService and the stasher's drain-on-install call stays
// explicit at the wiring site (instance.go), not buried in
// NewViewChangeService's argument list.
func (vc *ViewChangeService) SetStasher(st *stasher) { vc.st = st }

func drainKind(st *stasher, kind StashKind) []stashedMsg {
	if st == nil {
		return nil
	}
	return st.drain(kind)
}

// scheduleTimeout arms the escalation timer for a view change targeting
// view: if it has not installed after VIEW_CHANGE_TIMEOUT (doubling on
// each subsequent escalation, bounded by MAX_VIEW_CHANGE_TIMEOUT), the
// next InstanceChange(view+1) is broadcast automatically (spec.md §4.4
// "Timeouts").
func (vc *ViewChangeService) scheduleTimeout(view ViewNo) {
	bo, ok := vc.backoffs[view]
	if !ok {
		// An escalation from view-1 continues that attempt's backoff, so
		// each successive timeout doubles instead of restarting.
		if prev, escalated := vc.backoffs[view-1]; escalated && view > 0 {
			bo = prev
		} else {
			bo = backoff.NewExponentialBackOff()
			bo.InitialInterval = vc.cfg.ViewChangeTimeout
			bo.MaxInterval = vc.cfg.MaxViewChangeTimeout
			bo.Multiplier = 2
			bo.RandomizationFactor = 0
			bo.MaxElapsedTime = 0 // escalation never gives up on its own; only installNewView stops it
			bo.Reset()
		}
		vc.backoffs[view] = bo
	}
	d := bo.NextBackOff()
	if d == backoff.Stop {
		d = vc.cfg.MaxViewChangeTimeout
	}
	vc.actions.Schedule(viewChangeTimeoutKey(view), d, func() {
		if vc.sd.ViewNo() >= view {
			return // already installed or superseded
		}
		vc.startViewChange(view+1, "VIEW_CHANGE_TIMEOUT")
	})
}

func viewChangeTimeoutKey(view ViewNo) string {
	return fmt.Sprintf("view-change-timeout-%d", view)
}
