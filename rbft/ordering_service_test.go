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

// fakeExecutor derives a deterministic RootBundle from the requests it has
// applied, so a non-primary's own re-application of a PRE-PREPARE's listed
// requests reproduces the same root bit-for-bit, the way a real Executor
// would from identical application-level state.
type fakeExecutor struct {
	applyErr error
}

func (f *fakeExecutor) Apply(ledgerID uint32, req *rbftpb.RequestData, ppTime int64) (*RootBundle, error) {
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	root := rbftpb.SumDigest(req.PayloadDigest).Bytes()
	return &RootBundle{StateRoot: root, TxnRoot: root, PoolStateRoot: root, AuditTxnRoot: root}, nil
}

func (f *fakeExecutor) Commit(ledgerID uint32, key ThreePCKey) ([]rbftpb.Digest, error) {
	return nil, nil
}

func (f *fakeExecutor) Revert(ledgerID uint32) error { return nil }

func fourValidatorConfig(f int, name NodeName) CoreConfig {
	return CoreConfig{
		Name:       name,
		F:          f,
		Validators: []NodeName{"n1", "n2", "n3", "n4"},
		LogSize:    10,
		MaxBatchSize: 1,
		BatchTimeout: time.Hour,
		// Large enough that a zero-valued pp_time in hand-built test
		// PrePrepares never trips time integrity against the real clock.
		AcceptableDeviationPrePrepareSecs: 1000000 * time.Hour,
	}
}

func newTestOrderingService(t *testing.T, cfg CoreConfig, exec Executor) (*OrderingService, *SharedData, *requestManager) {
	t.Helper()
	sd := newSharedData(0, cfg)
	sd.installView(0, sd.Validators())
	sd.SetMode(Participating)

	rm := newRequestManager(cfg, 64)
	st := newStasher(16)
	bus := NewBus()
	clock := &fakeTimer{now: time.Unix(0, 0)}
	actions := newActionQueue(clock)

	os := NewOrderingService(cfg, sd, rm, st, bus, exec, actions)
	return os, sd, rm
}

func TestOrderingServicePrimaryEmitsPrePrepareImmediately(t *testing.T) {
	cfg := fourValidatorConfig(1, "n1") // n1 is primary at view 0
	os, _, rm := newTestOrderingService(t, cfg, &fakeExecutor{})

	req := reqWithDigest(t, 1)
	digest, err := rm.onLocalSubmit(req)
	require.NoError(t, err)

	actions := os.OnRequestForwarded(DomainLedgerID, digest)

	require.Len(t, actions.Broadcast, 1)
	pp := actions.Broadcast[0].GetType().(*rbftpb.Msg_PrePrepare).PrePrepare
	assert.Equal(t, uint64(1), pp.PpSeqNo)
	assert.True(t, pp.Final)
	assert.Equal(t, uint32(0), pp.SubSeqNo)
}

func TestOrderingServiceNonPrimaryIgnoresForwardedRequest(t *testing.T) {
	cfg := fourValidatorConfig(1, "n2") // n2 is not primary at view 0
	os, _, rm := newTestOrderingService(t, cfg, &fakeExecutor{})

	digest, err := rm.onLocalSubmit(reqWithDigest(t, 1))
	require.NoError(t, err)

	actions := os.OnRequestForwarded(DomainLedgerID, digest)
	assert.True(t, actions.IsEmpty())
}

func TestOrderingServiceFullThreePCReachesOrdered(t *testing.T) {
	cfg := fourValidatorConfig(1, "n2") // replica under test, not primary
	os, sd, rm := newTestOrderingService(t, cfg, &fakeExecutor{})

	req := reqWithDigest(t, 1)
	rm.onPropagate("n1", req)

	// Finalise req the way the node shell would (f+1 = 2 propagates).
	_, finalised, err := rm.onPropagate("n3", req)
	require.NoError(t, err)
	require.True(t, finalised)

	reqDigest, err := rbftpb.DigestFromBytes(req.PayloadDigest)
	require.NoError(t, err)

	pp := &rbftpb.PrePrepare{
		InstId: 0, ViewNo: 0, PpSeqNo: 1, LedgerId: DomainLedgerID,
		ReqIdr: [][]byte{reqDigest.Bytes()},
		Final:  true,
	}
	root := rbftpb.SumDigest(req.PayloadDigest).Bytes()
	pp.StateRoot, pp.TxnRoot, pp.PoolStateRoot, pp.AuditTxnRoot = root, root, root, root
	pp.Digest = batchDigest(ThreePCKey{ViewNo: 0, PpSeqNo: 1}, []rbftpb.Digest{reqDigest}).Bytes()

	actions, err := os.OnPrePrepare(pp, "n1")
	require.NoError(t, err)
	require.Len(t, actions.Broadcast, 1, "a correct pre-prepare produces this replica's own PREPARE")

	key := ThreePCKey{ViewNo: 0, PpSeqNo: 1}
	prepare := &rbftpb.Prepare{InstId: 0, ViewNo: 0, PpSeqNo: 1, Digest: pp.Digest}

	// n2's own prepare (sent inside OnPrePrepare above) already counts as
	// one distinct non-primary vote; n3 is the second, reaching
	// prepareQuorum = 2f = 2 and broadcasting this replica's COMMIT. n4's
	// vote arrives after quorum and is just an extra no-op tally.
	more, err := os.OnPrepare(prepare, "n3")
	require.NoError(t, err)
	require.Len(t, more.Broadcast, 1, "reaching prepare quorum broadcasts this replica's COMMIT")

	_, err = os.OnPrepare(prepare, "n4")
	require.NoError(t, err)

	// n2's own commit (sent inside the OnPrepare call above once it reached
	// prepare quorum) already counts as one vote; n1 is the second. n3 is
	// the third, reaching quorumSize = 2f+1 = 3 and ordering the batch. n4
	// arrives after and is just an extra no-op tally.
	commit := &rbftpb.Commit{InstId: 0, ViewNo: 0, PpSeqNo: 1}
	_, err = os.OnCommit(commit, "n1")
	require.NoError(t, err)
	final, err := os.OnCommit(commit, "n3")
	require.NoError(t, err)
	_, err = os.OnCommit(commit, "n4")
	require.NoError(t, err)

	require.Len(t, final.Ordered, 1, "reaching commit quorum 2f+1=3 orders the batch")
	assert.Equal(t, key, final.Ordered[0].Key)
	assert.Equal(t, ThreePCKey{ViewNo: 0, PpSeqNo: 1}, sd.LastOrdered3PC())
}

func TestOrderingServicePrePrepareFromNonPrimaryIsSuspicious(t *testing.T) {
	cfg := fourValidatorConfig(1, "n2")
	os, _, _ := newTestOrderingService(t, cfg, &fakeExecutor{})

	pp := &rbftpb.PrePrepare{InstId: 0, ViewNo: 0, PpSeqNo: 1, Final: true}
	_, err := os.OnPrePrepare(pp, "n3") // n1 is primary, not n3

	require.Error(t, err)
	susp, ok := err.(*Suspicion)
	require.True(t, ok)
	assert.Equal(t, PPR_DIGEST_WRONG, susp.Code)
}

func TestOrderingServicePrePrepareMissingFinalizedRequestStashes(t *testing.T) {
	cfg := fourValidatorConfig(1, "n2")
	os, _, _ := newTestOrderingService(t, cfg, &fakeExecutor{})

	unfinalised := rbftpb.SumDigest([]byte("never-propagated"))
	pp := &rbftpb.PrePrepare{
		InstId: 0, ViewNo: 0, PpSeqNo: 1, Final: true,
		ReqIdr: [][]byte{unfinalised.Bytes()},
	}

	actions, err := os.OnPrePrepare(pp, "n1")
	require.NoError(t, err)
	assert.Empty(t, actions.Broadcast, "no PREPARE is sent while a referenced request is unfinalised")
	require.Len(t, actions.Events, 1)
	_, ok := actions.Events[0].(*RequestPropagates)
	assert.True(t, ok, "an unfinalised referenced request raises RequestPropagates instead of a suspicion")
}

func TestOrderingServiceDuplicatePrePrepareForSameKeyIsSuspicious(t *testing.T) {
	cfg := fourValidatorConfig(1, "n2")
	os, _, rm := newTestOrderingService(t, cfg, &fakeExecutor{})

	req := reqWithDigest(t, 1)
	rm.onPropagate("n1", req)
	rm.onPropagate("n3", req)
	reqDigest, _ := rbftpb.DigestFromBytes(req.PayloadDigest)

	makePP := func() *rbftpb.PrePrepare {
		root := rbftpb.SumDigest(req.PayloadDigest).Bytes()
		pp := &rbftpb.PrePrepare{InstId: 0, ViewNo: 0, PpSeqNo: 1, Final: true, ReqIdr: [][]byte{reqDigest.Bytes()}}
		pp.StateRoot, pp.TxnRoot, pp.PoolStateRoot, pp.AuditTxnRoot = root, root, root, root
		pp.Digest = batchDigest(ThreePCKey{ViewNo: 0, PpSeqNo: 1}, []rbftpb.Digest{reqDigest}).Bytes()
		return pp
	}

	_, err := os.OnPrePrepare(makePP(), "n1")
	require.NoError(t, err)

	_, err = os.OnPrePrepare(makePP(), "n1")
	require.Error(t, err)
	susp, ok := err.(*Suspicion)
	require.True(t, ok)
	assert.Equal(t, PPR_DIGEST_WRONG, susp.Code)
}

func TestOrderingServiceDropAtOrBelowClearsState(t *testing.T) {
	cfg := fourValidatorConfig(1, "n2")
	os, _, rm := newTestOrderingService(t, cfg, &fakeExecutor{})

	req := reqWithDigest(t, 1)
	rm.onPropagate("n1", req)
	rm.onPropagate("n3", req)
	reqDigest, _ := rbftpb.DigestFromBytes(req.PayloadDigest)
	root := rbftpb.SumDigest(req.PayloadDigest).Bytes()
	pp := &rbftpb.PrePrepare{InstId: 0, ViewNo: 0, PpSeqNo: 1, Final: true, ReqIdr: [][]byte{reqDigest.Bytes()}}
	pp.StateRoot, pp.TxnRoot, pp.PoolStateRoot, pp.AuditTxnRoot = root, root, root, root
	pp.Digest = batchDigest(ThreePCKey{ViewNo: 0, PpSeqNo: 1}, []rbftpb.Digest{reqDigest}).Bytes()

	_, err := os.OnPrePrepare(pp, "n1")
	require.NoError(t, err)
	require.Contains(t, os.batches, ThreePCKey{ViewNo: 0, PpSeqNo: 1})

	os.dropAtOrBelow(1)
	assert.NotContains(t, os.batches, ThreePCKey{ViewNo: 0, PpSeqNo: 1})
}
