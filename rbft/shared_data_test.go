// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0

package rbft

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ken-ebert/rbft-core/rbftpb"
)

func testConfig() CoreConfig {
	return CoreConfig{
		Name:       "n1",
		F:          1,
		Validators: []NodeName{"n1", "n2", "n3", "n4"},
		LogSize:    10,
		ChkFreq:    5,
	}
}

func TestNewSharedDataInitialState(t *testing.T) {
	sd := newSharedData(0, testConfig())

	assert.Equal(t, Starting, sd.Mode())
	assert.Equal(t, ViewNo(0), sd.ViewNo())
	assert.Equal(t, NodeName(""), sd.Primary())
	_, high := sd.Watermarks()
	assert.Equal(t, PpSeqNo(10), high)
}

func TestIsPrimaryRequiresNoViewChangeInProgress(t *testing.T) {
	sd := newSharedData(0, testConfig())
	sd.installView(1, sd.Validators())

	assert.True(t, sd.IsPrimary(sd.Primary()))

	sd.startViewChange()
	assert.False(t, sd.IsPrimary(sd.Primary()), "primary is cleared once a view change starts")
	assert.Equal(t, NodeName(""), sd.Primary())
}

func TestInstallViewRoundRobinPrimary(t *testing.T) {
	sd := newSharedData(0, testConfig())
	validators := []NodeName{"n1", "n2", "n3", "n4"}

	sd.installView(0, validators)
	assert.Equal(t, NodeName("n1"), sd.Primary())

	sd.installView(1, validators)
	assert.Equal(t, NodeName("n2"), sd.Primary())

	sd.installView(5, validators)
	assert.Equal(t, NodeName("n2"), sd.Primary(), "primary wraps round-robin over validator count")
}

func TestInstallViewResetsLastOrdered(t *testing.T) {
	sd := newSharedData(0, testConfig())
	sd.recordOrdered(ThreePCKey{ViewNo: 0, PpSeqNo: 9})

	sd.installView(1, sd.Validators())

	assert.Equal(t, ThreePCKey{ViewNo: 1, PpSeqNo: 0}, sd.LastOrdered3PC())
}

func TestInWatermarksOpenLowClosedHigh(t *testing.T) {
	sd := newSharedData(0, testConfig())
	low, high := sd.Watermarks()
	assert.Equal(t, PpSeqNo(0), low)
	assert.Equal(t, PpSeqNo(10), high)

	assert.False(t, sd.InWatermarks(0), "low is excluded")
	assert.True(t, sd.InWatermarks(1))
	assert.True(t, sd.InWatermarks(10), "high is included")
	assert.False(t, sd.InWatermarks(11))
}

func TestAdvanceWatermarksSlidesWindow(t *testing.T) {
	sd := newSharedData(0, testConfig())
	sd.advanceWatermarks(20, rbftpb.ZeroDigest, 11)

	low, high := sd.Watermarks()
	assert.Equal(t, PpSeqNo(20), low)
	assert.Equal(t, PpSeqNo(30), high)
	assert.Equal(t, PpSeqNo(11), sd.StableCheckpoint().SeqNoStart)
	assert.Equal(t, PpSeqNo(20), sd.StableCheckpoint().SeqNoEnd)
}

func TestRecordOrderedNeverRegresses(t *testing.T) {
	sd := newSharedData(0, testConfig())
	sd.recordOrdered(ThreePCKey{ViewNo: 0, PpSeqNo: 5})
	sd.recordOrdered(ThreePCKey{ViewNo: 0, PpSeqNo: 3})

	assert.Equal(t, ThreePCKey{ViewNo: 0, PpSeqNo: 5}, sd.LastOrdered3PC())
}

func TestRecordLastSentPpSeqNoNeverRegresses(t *testing.T) {
	sd := newSharedData(0, testConfig())
	sd.recordLastSentPpSeqNo(7)
	sd.recordLastSentPpSeqNo(4)

	assert.Equal(t, PpSeqNo(7), sd.LastSentPpSeqNo())
}
