// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0

package rbft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ken-ebert/rbft-core/rbftpb"
)

func newTestCheckpointService(t *testing.T, chkFreq PpSeqNo) (*CheckpointService, *SharedData) {
	t.Helper()
	cfg := fourValidatorConfig(1, "n2")
	cfg.ChkFreq = chkFreq
	sd := newSharedData(0, cfg)
	sd.installView(0, sd.Validators())
	sd.SetMode(Participating)

	rm := newRequestManager(cfg, 64)
	st := newStasher(16)
	bus := NewBus()
	actions := newActionQueue(&fakeTimer{now: time.Unix(0, 0)})
	os := NewOrderingService(cfg, sd, rm, st, bus, &fakeExecutor{}, actions)
	aw := newAdmissionWindows(10)

	return NewCheckpointService(cfg, sd, os, aw), sd
}

func TestCheckpointServiceEmitsAtChkFreq(t *testing.T) {
	cs, _ := newTestCheckpointService(t, 2)

	actions, stabilized := cs.OnOrdered(&Ordered{Key: ThreePCKey{ViewNo: 0, PpSeqNo: 1}, ReqIdr: []rbftpb.Digest{rbftpb.ZeroDigest}})
	assert.True(t, actions.IsEmpty(), "below ChkFreq, no CHECKPOINT yet")
	assert.False(t, stabilized)

	actions, _ = cs.OnOrdered(&Ordered{Key: ThreePCKey{ViewNo: 0, PpSeqNo: 2}, ReqIdr: []rbftpb.Digest{rbftpb.ZeroDigest}})
	require.Len(t, actions.Broadcast, 1, "the second ordered batch reaches ChkFreq=2")
	chk := actions.Broadcast[0].GetType().(*rbftpb.Msg_Checkpoint).Checkpoint
	assert.Equal(t, uint64(0), chk.SeqNoStart)
	assert.Equal(t, uint64(2), chk.SeqNoEnd)
}

func TestCheckpointServiceStableAtQuorum(t *testing.T) {
	cs, sd := newTestCheckpointService(t, 1)

	actions, _ := cs.OnOrdered(&Ordered{Key: ThreePCKey{ViewNo: 0, PpSeqNo: 1}, ReqIdr: []rbftpb.Digest{rbftpb.ZeroDigest}})
	require.Len(t, actions.Broadcast, 1)
	chk := actions.Broadcast[0].GetType().(*rbftpb.Msg_Checkpoint).Checkpoint

	// n2's own vote (recorded inside OnOrdered) counts as one; two more
	// distinct votes reach quorumSize = 2f+1 = 3.
	_, stabilized, err := cs.OnCheckpoint(chk, "n3")
	require.NoError(t, err)
	assert.False(t, stabilized)

	_, stabilized, err = cs.OnCheckpoint(chk, "n1")
	require.NoError(t, err)
	assert.True(t, stabilized, "third distinct vote reaches quorum and stabilizes")

	low, high := sd.Watermarks()
	assert.Equal(t, PpSeqNo(1), low)
	assert.Equal(t, PpSeqNo(11), high, "high = end + LogSize")
}

func TestCheckpointServiceDuplicateVoteFromSameSenderDoesNotDoubleCount(t *testing.T) {
	cs, _ := newTestCheckpointService(t, 1)

	actions, _ := cs.OnOrdered(&Ordered{Key: ThreePCKey{ViewNo: 0, PpSeqNo: 1}, ReqIdr: []rbftpb.Digest{rbftpb.ZeroDigest}})
	chk := actions.Broadcast[0].GetType().(*rbftpb.Msg_Checkpoint).Checkpoint

	cs.OnCheckpoint(chk, "n3")
	_, stabilized, err := cs.OnCheckpoint(chk, "n3")
	require.NoError(t, err)
	assert.False(t, stabilized, "repeated votes from the same node never reach quorum alone")
}
