// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0

package rbft

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ken-ebert/rbft-core/rbftpb"
)

func readyInstance() *SharedData {
	sd := newSharedData(0, testConfig())
	sd.installView(0, sd.Validators())
	sd.SetMode(Participating)
	return sd
}

func TestValidateWrongInstance(t *testing.T) {
	sd := readyInstance()
	c := ValidatePrePrepare(sd, &rbftpb.PrePrepare{InstId: 1, ViewNo: 0, PpSeqNo: 1})

	assert.Equal(t, Discard, c.Decision)
	assert.Equal(t, DiscardWrongInstance, c.DiscardReason)
}

func TestValidateOldView(t *testing.T) {
	sd := readyInstance()
	sd.installView(3, sd.Validators())

	c := ValidatePrepare(sd, &rbftpb.Prepare{InstId: 0, ViewNo: 2, PpSeqNo: 1})

	assert.Equal(t, Discard, c.Decision)
	assert.Equal(t, DiscardOldView, c.DiscardReason)
}

func TestValidateFutureViewStashes(t *testing.T) {
	sd := readyInstance()

	c := ValidateCommit(sd, &rbftpb.Commit{InstId: 0, ViewNo: 1, PpSeqNo: 1})

	assert.Equal(t, Stash, c.Decision)
	assert.Equal(t, StashFutureView, c.StashKind)
}

func TestValidateDuringViewChangeStashesAsFutureView(t *testing.T) {
	sd := readyInstance()
	sd.startViewChange()

	c := ValidatePrePrepare(sd, &rbftpb.PrePrepare{InstId: 0, ViewNo: 0, PpSeqNo: 1})

	assert.Equal(t, Stash, c.Decision)
	assert.Equal(t, StashFutureView, c.StashKind)
}

func TestValidateNotCaughtUpStashes(t *testing.T) {
	sd := readyInstance()
	sd.SetMode(Syncing)

	c := ValidatePrePrepare(sd, &rbftpb.PrePrepare{InstId: 0, ViewNo: 0, PpSeqNo: 1})

	assert.Equal(t, Stash, c.Decision)
	assert.Equal(t, StashCatchingUp, c.StashKind)
}

func TestValidateCheckpointAlreadyStable(t *testing.T) {
	sd := readyInstance()
	sd.advanceWatermarks(10, rbftpb.ZeroDigest, 5)

	c := ValidateCheckpoint(sd, &rbftpb.Checkpoint{InstId: 0, ViewNo: 0, SeqNoEnd: 10})

	assert.Equal(t, Discard, c.Decision)
	assert.Equal(t, DiscardAlreadyStable, c.DiscardReason)
}

func TestValidateCheckpointAheadOfStableProcesses(t *testing.T) {
	sd := readyInstance()
	sd.advanceWatermarks(10, rbftpb.ZeroDigest, 5)

	c := ValidateCheckpoint(sd, &rbftpb.Checkpoint{InstId: 0, ViewNo: 0, SeqNoEnd: 20})

	assert.Equal(t, Process, c.Decision)
}

func TestValidateOutOfWatermarksStashes(t *testing.T) {
	sd := readyInstance()

	c := ValidatePrePrepare(sd, &rbftpb.PrePrepare{InstId: 0, ViewNo: 0, PpSeqNo: 999})

	assert.Equal(t, Stash, c.Decision)
	assert.Equal(t, StashWatermarks, c.StashKind)
}

func TestValidatePrePrepareAtLowDiscards(t *testing.T) {
	sd := readyInstance()
	sd.advanceWatermarks(10, rbftpb.ZeroDigest, 5)

	c := ValidatePrePrepare(sd, &rbftpb.PrePrepare{InstId: 0, ViewNo: 0, PpSeqNo: 10})

	assert.Equal(t, Discard, c.Decision)
	assert.Equal(t, DiscardBelowWatermarks, c.DiscardReason)
}

func TestValidateInWindowProcesses(t *testing.T) {
	sd := readyInstance()

	c := ValidatePrePrepare(sd, &rbftpb.PrePrepare{InstId: 0, ViewNo: 0, PpSeqNo: 1})

	assert.Equal(t, Process, c.Decision)
}
