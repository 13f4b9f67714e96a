// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0

package rbft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ken-ebert/rbft-core/rbftpb"
)

func digestOf(t *testing.T, b byte) rbftpb.Digest {
	t.Helper()
	d := rbftpb.SumDigest([]byte{b})
	return d
}

func reqWithDigest(t *testing.T, b byte) *rbftpb.RequestData {
	t.Helper()
	d := digestOf(t, b)
	return &rbftpb.RequestData{Identifier: "c1", ReqId: uint64(b), PayloadDigest: d.Bytes()}
}

func TestRequestManagerLocalSubmitFinalisesImmediately(t *testing.T) {
	rm := newRequestManager(CoreConfig{F: 1}, 16)
	req := reqWithDigest(t, 1)

	digest, err := rm.onLocalSubmit(req)
	require.NoError(t, err)

	assert.True(t, rm.Finalised(digest))
	got, ok := rm.Get(digest)
	assert.True(t, ok)
	assert.Equal(t, req, got)
}

func TestRequestManagerPropagateFinalisesAtWeakQuorum(t *testing.T) {
	rm := newRequestManager(CoreConfig{F: 2}, 16) // weakQuorum = 3
	req := reqWithDigest(t, 1)

	digest, finalised, err := rm.onPropagate("n1", req)
	require.NoError(t, err)
	assert.False(t, finalised)

	_, finalised, err = rm.onPropagate("n2", req)
	require.NoError(t, err)
	assert.False(t, finalised)

	_, finalised, err = rm.onPropagate("n3", req)
	require.NoError(t, err)
	assert.True(t, finalised, "third distinct propagate reaches weak quorum f+1=3")
	assert.True(t, rm.Finalised(digest))
}

func TestRequestManagerPropagateDuplicateSourceDoesNotDoubleCount(t *testing.T) {
	rm := newRequestManager(CoreConfig{F: 2}, 16)
	req := reqWithDigest(t, 1)

	rm.onPropagate("n1", req)
	rm.onPropagate("n1", req)
	_, finalised, err := rm.onPropagate("n1", req)
	require.NoError(t, err)

	assert.False(t, finalised, "repeated votes from the same source never finalise alone")
}

func TestRequestManagerRefCounting(t *testing.T) {
	rm := newRequestManager(CoreConfig{F: 1}, 16)
	digest, err := rm.onLocalSubmit(reqWithDigest(t, 1))
	require.NoError(t, err)

	rm.AddRef(digest, 0)
	rm.AddRef(digest, 1)

	assert.False(t, rm.Release(digest, 0), "still referenced by instance 1")
	assert.True(t, rm.Release(digest, 1), "last reference released, now removable")

	_, ok := rm.Get(digest)
	assert.False(t, ok)
}

func TestRequestManagerReleaseUnknownDigestIsRemovable(t *testing.T) {
	rm := newRequestManager(CoreConfig{F: 1}, 16)
	assert.True(t, rm.Release(rbftpb.ZeroDigest, 0))
}

func TestRequestManagerEvictionNeverDropsAReferencedDigest(t *testing.T) {
	rm := newRequestManager(CoreConfig{F: 1}, 1)

	referenced, err := rm.onLocalSubmit(reqWithDigest(t, 1))
	require.NoError(t, err)
	rm.AddRef(referenced, 0)

	// The bound is 1 and already holds `referenced`; every further entry
	// must evict the oldest *unreferenced* one, never `referenced` itself.
	for b := byte(2); b < 5; b++ {
		_, err := rm.onLocalSubmit(reqWithDigest(t, b))
		require.NoError(t, err)
	}

	_, ok := rm.Get(referenced)
	assert.True(t, ok, "a referenced digest survives eviction pressure no matter the bound")

	_, ok = rm.Get(digestOf(t, 2))
	assert.False(t, ok, "the oldest unreferenced digest is the one that gets evicted")
}
