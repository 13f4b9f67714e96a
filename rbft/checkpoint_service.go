// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0
//
// Checkpoint agreement, watermark advance and 3PC garbage collection
// (spec.md §4.3). Grounded on the teacher's checkpointTracker usage in
// state_machine.go (`sm.checkpointTracker.applyCheckpointMsg`,
// `.applyCheckpointResult`, the post-stability `cw.garbageCollect(seqNo)`
// sweep over every client window) and on
// `original_source/plenum/test/consensus/checkpoint_service/test_checkpoint_validation.py`
// for the exact ALREADY_STABLE/watermark boundary this spec's validator
// table already encodes.

package rbft

import "github.com/ken-ebert/rbft-core/rbftpb"

type chkVoteKey struct {
	start, end PpSeqNo
	digest     rbftpb.Digest
}

// CheckpointService emits CHECKPOINT messages every CHK_FREQ ordered
// batches, decides stability once 2f+1 matching CHECKPOINTs from
// distinct nodes are seen, and drives watermark advance plus 3PC GC
// (spec.md §4.3).
type CheckpointService struct {
	cfg CoreConfig
	sd  *SharedData
	os  *OrderingService
	aw  *admissionWindows
	log Logger

	chkStart       PpSeqNo
	batchesSinceChk PpSeqNo
	pendingDigests []rbftpb.Digest

	votes map[chkVoteKey]map[NodeName]struct{}
}

// NewCheckpointService constructs a CheckpointService for one instance.
func NewCheckpointService(cfg CoreConfig, sd *SharedData, os *OrderingService, aw *admissionWindows) *CheckpointService {
	low, _ := sd.Watermarks()
	return &CheckpointService{
		cfg:      cfg,
		sd:       sd,
		os:       os,
		aw:       aw,
		log:      loggerFromConfig(cfg),
		chkStart: low,
		votes:    map[chkVoteKey]map[NodeName]struct{}{},
	}
}

// OnOrdered folds one freshly ordered batch into the in-progress
// checkpoint range, emitting our own CHECKPOINT once CHK_FREQ batches
// have accumulated since the last one (spec.md §4.3: "Emits a CHECKPOINT
// message every CHK_FREQ ordered batches"). Returns the actions to carry
// out and whether this vote itself made a checkpoint stable (possible
// only in the degenerate f=0 single-validator case).
func (cs *CheckpointService) OnOrdered(ev *Ordered) (*Actions, bool) {
	cs.pendingDigests = append(cs.pendingDigests, ev.ReqIdr...)
	cs.batchesSinceChk++

	if cs.batchesSinceChk < cs.cfg.ChkFreq {
		return &Actions{}, false
	}

	start := cs.chkStart
	end := ev.Key.PpSeqNo
	digest := checkpointDigest(cs.pendingDigests)
	cs.pendingDigests = nil
	cs.batchesSinceChk = 0
	cs.chkStart = end

	msg := &rbftpb.Checkpoint{
		InstId: uint32(cs.sd.InstId), ViewNo: uint64(cs.sd.ViewNo()),
		SeqNoStart: uint64(start), SeqNoEnd: uint64(end), Digest: digest.Bytes(),
	}
	actions := &Actions{}
	actions.broadcast(&rbftpb.Msg{Type: &rbftpb.Msg_Checkpoint{Checkpoint: msg}})

	more, stabilized := cs.recordVote(start, end, digest, cs.cfg.Name)
	actions.Append(more)
	return actions, stabilized
}

// OnCheckpoint records one vote for (start, end, digest) from a peer.
// Callers must have already run the message through validate(), which
// discards anything at or below the stable watermark as ALREADY_STABLE
// (spec.md §4.1 table) before this is ever reached. Returns whether this
// vote made the checkpoint stable, so the caller knows to trigger a
// stasher replay of watermark-stashed messages.
func (cs *CheckpointService) OnCheckpoint(msg *rbftpb.Checkpoint, from NodeName) (*Actions, bool, error) {
	digest, err := rbftpb.DigestFromBytes(msg.Digest)
	if err != nil {
		return &Actions{}, false, wrapf(err, "decode checkpoint digest")
	}
	actions, stabilized := cs.recordVote(PpSeqNo(msg.SeqNoStart), PpSeqNo(msg.SeqNoEnd), digest, from)
	return actions, stabilized, nil
}

func (cs *CheckpointService) recordVote(start, end PpSeqNo, digest rbftpb.Digest, from NodeName) (*Actions, bool) {
	key := chkVoteKey{start: start, end: end, digest: digest}
	bucket, ok := cs.votes[key]
	if !ok {
		bucket = map[NodeName]struct{}{}
		cs.votes[key] = bucket
	}
	bucket[from] = struct{}{}

	actions := &Actions{}
	if len(bucket) < cs.cfg.quorumSize() {
		return actions, false
	}

	// Stable. Advance watermarks and GC 3PC state below end (spec.md
	// §4.3 stability actions); the caller drives the stasher replay,
	// since that requires re-running the validator/dispatch the
	// checkpoint service does not itself own.
	cs.sd.advanceWatermarks(end, digest, start)
	cs.os.dropAtOrBelow(end)
	cs.aw.GarbageCollect(uint64(end))

	for k := range cs.votes {
		if k.end <= end {
			delete(cs.votes, k)
		}
	}

	return actions, true
}

// checkpointDigest hashes the concatenation of a checkpoint range's
// ordered request digests, a Merkle-like hash over the batches within
// the range (spec.md §3 Checkpoint: "digest is a Merkle-like hash over
// the batches within the range").
func checkpointDigest(digests []rbftpb.Digest) rbftpb.Digest {
	parts := make([][]byte, len(digests))
	for i, d := range digests {
		parts[i] = d.Bytes()
	}
	return rbftpb.SumDigest(parts...)
}
