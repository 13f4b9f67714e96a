// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0

package rbft

import (
	"container/list"

	"github.com/ken-ebert/rbft-core/rbftpb"
)

// trackedRequest is the request manager's bookkeeping for one client
// request, keyed by payload_digest (spec.md §3: "payload_digest ... is the
// deduplication key").
type trackedRequest struct {
	data       *rbftpb.RequestData
	propagates map[NodeName]struct{}
	finalised  bool
	// referencingInstances tracks which instances still hold a reference
	// to this request, so it is only removable once every instance that
	// referenced it has ordered or discarded it (spec.md §3 Ownership).
	referencingInstances map[InstId]struct{}
	// unreferencedElem is this digest's node in requestManager's
	// unreferenced queue, non-nil only while referencingInstances is
	// empty. It is the sole eviction candidacy marker: a trackedRequest
	// with any reference is never linked into the queue and therefore can
	// never be picked by evictIfOverBound.
	unreferencedElem *list.Element
}

// requestManager finalises client requests (f+1 PROPAGATE, or a trusted
// local submission) and reference-counts them across instances. It is
// owned by the node, not any one instance, matching spec.md §3's "Requests
// are reference-counted across instances through the enclosing request
// manager".
//
// Bounding this store cannot use a recency-based LRU: spec.md §3 Ownership
// requires that a request is removable only once every instance that
// referenced it has released it, and a plain LRU evicts by access
// recency regardless of outstanding references. Instead the cache is a
// map plus a FIFO queue of currently unreferenced digests; evictIfOverBound
// only ever pops from that queue, so a digest with a non-empty
// referencingInstances is never a candidate no matter how far over bound
// the cache runs. Release still removes an entry outright the instant its
// reference count reaches zero, matching the prior behavior.
type requestManager struct {
	cfg       CoreConfig
	cacheSize int

	entries map[rbftpb.Digest]*trackedRequest
	// unreferenced holds every digest with an empty referencingInstances,
	// oldest (first created) at the front; Release deletes a dereferenced
	// entry outright rather than queueing it here.
	unreferenced *list.List
}

func newRequestManager(cfg CoreConfig, cacheSize int) *requestManager {
	return &requestManager{
		cfg:          cfg,
		cacheSize:    cacheSize,
		entries:      map[rbftpb.Digest]*trackedRequest{},
		unreferenced: list.New(),
	}
}

func (rm *requestManager) entry(digest rbftpb.Digest) *trackedRequest {
	if tr, ok := rm.entries[digest]; ok {
		return tr
	}
	tr := &trackedRequest{
		propagates:           map[NodeName]struct{}{},
		referencingInstances: map[InstId]struct{}{},
	}
	rm.entries[digest] = tr
	tr.unreferencedElem = rm.unreferenced.PushBack(digest)
	rm.evictIfOverBound()
	return tr
}

// evictIfOverBound drops the oldest unreferenced entries once the cache
// exceeds its configured bound. A referenced trackedRequest is never a
// member of the unreferenced queue, so it is never touched here regardless
// of how far over bound the cache runs; the bound is therefore a
// best-effort cap on unclaimed digests, not a hard ceiling on the store.
func (rm *requestManager) evictIfOverBound() {
	for len(rm.entries) > rm.cacheSize && rm.unreferenced.Len() > 0 {
		front := rm.unreferenced.Front()
		digest := front.Value.(rbftpb.Digest)
		rm.unreferenced.Remove(front)
		delete(rm.entries, digest)
	}
}

// onLocalSubmit records a request received directly from a trusted local
// client source: finalised immediately (spec.md §3: "or it was received
// from a trusted local source").
func (rm *requestManager) onLocalSubmit(req *rbftpb.RequestData) (rbftpb.Digest, error) {
	digest, err := rbftpb.DigestFromBytes(req.PayloadDigest)
	if err != nil {
		return digest, wrapf(err, "local submit")
	}
	tr := rm.entry(digest)
	tr.data = req
	tr.finalised = true
	return digest, nil
}

// onPropagate records one PROPAGATE vote for a request from source,
// finalising it once f+1 distinct PROPAGATEs have been seen (spec.md §3).
// It returns whether the request is finalised after applying this vote.
func (rm *requestManager) onPropagate(source NodeName, req *rbftpb.RequestData) (rbftpb.Digest, bool, error) {
	digest, err := rbftpb.DigestFromBytes(req.PayloadDigest)
	if err != nil {
		return digest, false, wrapf(err, "propagate")
	}
	tr := rm.entry(digest)
	if tr.data == nil {
		tr.data = req
	}
	tr.propagates[source] = struct{}{}
	if len(tr.propagates) >= rm.cfg.weakQuorum() {
		tr.finalised = true
	}
	return digest, tr.finalised, nil
}

// Finalised reports whether digest has reached the finalisation threshold.
func (rm *requestManager) Finalised(digest rbftpb.Digest) bool {
	tr, ok := rm.entries[digest]
	return ok && tr.finalised
}

// Get returns the tracked request data for digest, if known.
func (rm *requestManager) Get(digest rbftpb.Digest) (*rbftpb.RequestData, bool) {
	tr, ok := rm.entries[digest]
	if !ok || tr.data == nil {
		return nil, false
	}
	return tr.data, true
}

// AddRef records that instID now references digest (e.g. it appears in a
// batch that instance is ordering), unlinking it from the unreferenced
// queue so it can no longer be picked by evictIfOverBound.
func (rm *requestManager) AddRef(digest rbftpb.Digest, instID InstId) {
	tr := rm.entry(digest)
	if len(tr.referencingInstances) == 0 && tr.unreferencedElem != nil {
		rm.unreferenced.Remove(tr.unreferencedElem)
		tr.unreferencedElem = nil
	}
	tr.referencingInstances[instID] = struct{}{}
}

// Release drops instID's reference to digest, returning true if the
// request is now unreferenced by every instance and therefore removable
// (spec.md §3 Ownership: "removable only when every instance that
// referenced it has ordered or discarded it"). Unlike the unreferenced
// queue's FIFO eviction, this removal always runs immediately and
// unconditionally once the last reference drops, regardless of bound.
func (rm *requestManager) Release(digest rbftpb.Digest, instID InstId) bool {
	tr, ok := rm.entries[digest]
	if !ok {
		return true
	}
	delete(tr.referencingInstances, instID)
	if len(tr.referencingInstances) == 0 {
		delete(rm.entries, digest)
		if tr.unreferencedElem != nil {
			rm.unreferenced.Remove(tr.unreferencedElem)
		}
		return true
	}
	return false
}
