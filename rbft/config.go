// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0

package rbft

import (
	"time"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"
)

// CoreConfig is the single injected configuration value threaded through
// construction of a Node and its instances (spec.md §9: "rephrase as an
// injected CoreConfig value ... no global mutable state"). The host
// process is responsible for populating it; loading it from a file or the
// environment is explicitly out of scope for this module (spec.md §1).
type CoreConfig struct {
	// Name is this validator's identity in the pool ledger.
	Name NodeName

	// F is the maximum number of Byzantine validators tolerated;
	// R = F+1 protocol instances run per node (spec.md §2).
	F int

	// Validators is the pool-ordered validator list used for round-robin
	// primary selection on view install (spec.md §4.4 step 4).
	Validators []NodeName

	// LogSize bounds the open watermark window: High = Low + LogSize
	// (spec.md §3).
	LogSize PpSeqNo

	// ChkFreq is the number of ordered batches between CHECKPOINT
	// emissions (spec.md §4.3).
	ChkFreq PpSeqNo

	// MaxBatchSize and BatchTimeout gate PRE-PREPARE emission by the
	// primary (spec.md §4.2 on_request_forwarded).
	MaxBatchSize  int
	BatchTimeout  time.Duration

	// AcceptableDeviationPrePrepareSecs bounds how far pp_time may
	// deviate from the receiver's clock (spec.md §4.2 Time integrity).
	AcceptableDeviationPrePrepareSecs time.Duration

	// TolerateMasterPrimaryDisconnection is how long the master instance
	// tolerates a disconnected primary before starting a view change
	// (spec.md §4.4).
	TolerateMasterPrimaryDisconnection time.Duration

	// ViewChangeTimeout and MaxViewChangeTimeout bound the doubling
	// escalation of a view change that fails to install (spec.md §4.4).
	ViewChangeTimeout    time.Duration
	MaxViewChangeTimeout time.Duration

	// Delta, Lambda, Omega are the master-monitor thresholds used to
	// compare master throughput/latency against the backup instances
	// (spec.md §4.4). The core does not read them: the external
	// master-monitor collaborator makes the comparison and calls
	// OnMonitorThresholdBreached on a breach.
	Delta  float64
	Lambda time.Duration
	Omega  time.Duration

	// StasherBound is the maximum number of parked messages retained per
	// kind before the oldest of that kind is dropped (spec.md §4.1).
	StasherBound int

	// InboxMaxCount is the transport-facing quota that bounds, by message
	// count, each of the node's inboxes before the cooperative loop ever
	// sees them (spec.md §5 "Shared resource policy"). InboxMaxBytes is
	// carried in the config only; the node enforces no byte-size quota.
	InboxMaxCount int
	InboxMaxBytes datasize.ByteSize

	// CatchupRetryBudget bounds how many catchup rounds the core will
	// request during a single view change; once it is spent the new view
	// installs with whatever ledger state is local (spec.md §4.5
	// condition (iii)).
	CatchupRetryBudget int

	Logger *zap.Logger
}

// quorumSize derives the standard BFT intersection quorum 2f+1 from F.
func (c CoreConfig) quorumSize() int {
	return 2*c.F + 1
}

// prepareQuorum is the number of distinct non-primary PREPAREs required to
// consider a batch prepared (spec.md §3 Lifecycle: "2f matching PREPAREs
// from distinct non-primaries").
func (c CoreConfig) prepareQuorum() int {
	return 2 * c.F
}

// weakQuorum is f+1, used for request finalisation and InstanceChange
// commitment (spec.md §3, §4.4 step 1).
func (c CoreConfig) weakQuorum() int {
	return c.F + 1
}

// numInstances is R = f+1.
func (c CoreConfig) numInstances() int {
	return c.F + 1
}
