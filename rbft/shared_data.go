// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0

package rbft

import "github.com/ken-ebert/rbft-core/rbftpb"

// StableCheckpoint is the most recent agreed snapshot point; state prior
// to it may be freed (spec.md §3, Glossary).
type StableCheckpoint struct {
	SeqNoStart PpSeqNo
	SeqNoEnd   PpSeqNo
	Digest     rbftpb.Digest
}

// SharedData is the per-instance ground truth: view number, primary,
// watermarks, stable checkpoint, last ordered 3PC key, and mode (spec.md
// §2, §3). It is mutated by exactly one owner at a time and read freely
// elsewhere (spec.md §5 "Shared resource policy"); the single-threaded
// cooperative loop makes locking unnecessary, so callers must not share
// one SharedData across goroutines.
//
// View mutation resolves spec.md §9 Open Question 1: there is no public
// setter for ViewNo. The only mutator is installView, unexported and
// called exactly once per install, from viewChangeService.
type SharedData struct {
	InstId InstId
	cfg    CoreConfig

	viewNo               ViewNo
	viewChangeInProgress bool
	primary              NodeName
	validators           []NodeName

	low  PpSeqNo
	high PpSeqNo

	stableCheckpoint StableCheckpoint
	lastOrdered3PC   ThreePCKey

	mode Mode

	// lastSentPpSeqNo is restored on restart to avoid equivocation
	// (spec.md §6 "Persisted state touched by the core").
	lastSentPpSeqNo PpSeqNo
}

// newSharedData builds the initial SharedData for one instance. The node
// starts in Starting mode with no primary and view change not in
// progress; installView must be called once discovery completes before
// any 3PC traffic can be processed.
func newSharedData(instID InstId, cfg CoreConfig) *SharedData {
	return &SharedData{
		InstId:     instID,
		cfg:        cfg,
		validators: append([]NodeName(nil), cfg.Validators...),
		high:       cfg.LogSize,
		mode:       Starting,
	}
}

func (sd *SharedData) ViewNo() ViewNo                   { return sd.viewNo }
func (sd *SharedData) ViewChangeInProgress() bool       { return sd.viewChangeInProgress }
func (sd *SharedData) Primary() NodeName                { return sd.primary }
func (sd *SharedData) Validators() []NodeName           { return sd.validators }
func (sd *SharedData) Watermarks() (low, high PpSeqNo)  { return sd.low, sd.high }
func (sd *SharedData) StableCheckpoint() StableCheckpoint { return sd.stableCheckpoint }
func (sd *SharedData) LastOrdered3PC() ThreePCKey        { return sd.lastOrdered3PC }
func (sd *SharedData) Mode() Mode                        { return sd.mode }
func (sd *SharedData) LastSentPpSeqNo() PpSeqNo          { return sd.lastSentPpSeqNo }

// IsPrimary reports whether name is this instance's current primary.
// Invariant (spec.md §3): primary is never empty while a view change is
// not in progress.
func (sd *SharedData) IsPrimary(name NodeName) bool {
	return !sd.viewChangeInProgress && sd.primary != "" && sd.primary == name
}

// InWatermarks reports whether seqNo may currently be processed: an open-
// low, closed-high interval (spec.md §3).
func (sd *SharedData) InWatermarks(seqNo PpSeqNo) bool {
	return seqNo > sd.low && seqNo <= sd.high
}

// SetMode transitions the instance's lifecycle mode. Mode transitions are
// totally ordered and visible to all components before the next tick
// (spec.md §5).
func (sd *SharedData) SetMode(m Mode) {
	sd.mode = m
}

// recordLastSentPpSeqNo persists the sequence number of a PRE-PREPARE this
// instance has just sent as primary, so a restart does not re-propose and
// equivocate (spec.md §6).
func (sd *SharedData) recordLastSentPpSeqNo(seqNo PpSeqNo) {
	if seqNo > sd.lastSentPpSeqNo {
		sd.lastSentPpSeqNo = seqNo
	}
}

// recordOrdered advances lastOrdered3PC. It is only ever called with a key
// greater than the current one (enforced by the OrderingService's strict
// ascending-sequence emission, spec.md §4.2), preserving the "monotonically
// non-decreasing" invariant of spec.md §3.
func (sd *SharedData) recordOrdered(key ThreePCKey) {
	if sd.lastOrdered3PC.Less(key) {
		sd.lastOrdered3PC = key
	}
}

// startViewChange marks this instance as mid view-change: the primary is
// dropped and 3PC processing halts until installView runs (spec.md §4.4
// step 1: "drop primaries in all instances").
func (sd *SharedData) startViewChange() {
	sd.viewChangeInProgress = true
	sd.primary = ""
}

// installView is the sole mutator of viewNo (spec.md §9 Open Question 1),
// called only from viewChangeService once a new-view has been agreed.
// It resets lastOrdered3PC to (newView, 0), matching spec.md §3's
// "resets to (new_view, 0) on new-view install", and re-derives the
// deterministic primary via round-robin over the pool-ordered validator
// list (spec.md §4.4 step 4).
func (sd *SharedData) installView(newView ViewNo, validators []NodeName) {
	sd.viewNo = newView
	sd.validators = append([]NodeName(nil), validators...)
	if len(sd.validators) > 0 {
		sd.primary = sd.validators[int(newView)%len(sd.validators)]
	} else {
		sd.primary = ""
	}
	sd.viewChangeInProgress = false
	sd.lastOrdered3PC = ThreePCKey{ViewNo: newView, PpSeqNo: 0}
}

// advanceWatermarks moves the open-low/closed-high window forward once a
// checkpoint becomes stable (spec.md §4.3: "low ← end, high ← end +
// LOG_SIZE").
func (sd *SharedData) advanceWatermarks(end PpSeqNo, digest rbftpb.Digest, start PpSeqNo) {
	sd.low = end
	sd.high = end + sd.cfg.LogSize
	sd.stableCheckpoint = StableCheckpoint{SeqNoStart: start, SeqNoEnd: end, Digest: digest}
}
