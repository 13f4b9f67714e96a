// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0
//
// Catchup coordination (spec.md §4.5): the core owns only the decision
// loop and the completion sequence around the out-of-scope Catchup
// subsystem, mirroring how the teacher keeps transport/storage behind a
// narrow interface (processor.go's Link/RequestStore) and drives it from
// inside state_machine.go rather than implementing it.

package rbft

import "github.com/ken-ebert/rbft-core/rbftpb"

// ViewPropagated is published once catchup coordination for a view
// change has finished: suspended backups may resume, and the listed
// primaries are the reselected ones for the installed view (spec.md
// §4.5 "restores suspended backup replicas, reselects primaries from
// the audit ledger ... calls on_view_propagated on each instance").
type ViewPropagated struct {
	InstId    InstId
	View      ViewNo
	Primaries []NodeName
}

func (*ViewPropagated) isEvent() {}

// CatchupCoordinator runs the is_catchup_needed() decision loop of
// spec.md §4.5 and, once satisfied or out of budget, the completion
// sequence. One coordinator is created per view-change attempt by
// ViewChangeService.
type CatchupCoordinator struct {
	cfg      CoreConfig
	catchup  Catchup
	auditLog AuditLedger
	log      Logger

	roundsLeft int
}

// NewCatchupCoordinator constructs a coordinator with a fresh retry
// budget. catchup and auditLog may be nil in configurations that never
// run a real view change (e.g. a single-validator test harness); both
// are treated as "nothing more to do".
func NewCatchupCoordinator(cfg CoreConfig, catchup Catchup, auditLog AuditLedger) *CatchupCoordinator {
	return &CatchupCoordinator{
		cfg:        cfg,
		catchup:    catchup,
		auditLog:   auditLog,
		log:        loggerFromConfig(cfg),
		roundsLeft: cfg.CatchupRetryBudget,
	}
}

// RootsMatch reports whether every ledger root reported by the
// view-change quorum (condition (i) of spec.md §4.5) is already
// reproduced locally.
func (cc *CatchupCoordinator) RootsMatch(quorum map[NodeName]*rbftpb.ViewChangeDone) bool {
	if cc.catchup == nil {
		return true
	}
	local := cc.catchup.LocalLedgerRoots()
	for _, v := range quorum {
		for _, li := range v.LedgerInfo {
			root, ok := local[li.LedgerId]
			if !ok || string(root) != string(li.MerkleRoot) {
				return false
			}
		}
	}
	return true
}

// RunRound requests one bounded catchup round, consuming one unit of
// retry budget, and reports whether it produced new transactions
// (condition (ii)) and whether the budget is now exhausted (condition
// (iii), as the loop-termination guard rather than an independent need
// — see DESIGN.md for why a literal three-way OR would never converge).
func (cc *CatchupCoordinator) RunRound() (newTxns bool, budgetExhausted bool) {
	if cc.catchup == nil || cc.roundsLeft <= 0 {
		return false, true
	}
	txns, err := cc.catchup.RunRound()
	if err != nil {
		cc.log.Warn("catchup round failed", zapErr(err))
	}
	cc.roundsLeft--
	return txns, cc.roundsLeft <= 0
}

// Complete runs the spec.md §4.5 completion sequence: reselect primaries
// for view from the audit ledger's record rather than from this view
// change's own quorum (so a replica that joined late and never saw the
// original InstanceChange round still agrees), falling back to the
// caller-supplied round-robin validators if the audit ledger has no
// record yet (e.g. view 0 at genesis).
func (cc *CatchupCoordinator) Complete(instID InstId, view ViewNo, fallbackPrimaries []NodeName) *ViewPropagated {
	primaries := fallbackPrimaries
	if cc.auditLog != nil {
		if recorded, ok := cc.auditLog.PrimariesForView(view); ok && len(recorded) > 0 {
			primaries = recorded
		}
	}
	return &ViewPropagated{InstId: instID, View: view, Primaries: primaries}
}
