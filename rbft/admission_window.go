// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0
//
// Adapted from the teacher's client_window.go: the same bounded
// per-identifier window + FIFO ready-list + garbage-collect-on-checkpoint
// idiom, retargeted from mirbft's (clientId, reqNo) bucket-assignment
// windows onto this spec's request-admission outcomes (spec.md §7), of
// which RequestNack and RequestAck are modeled. A client that floods the
// node with requests far ahead of what has been finalised gets
// RequestNack'd rather than filling memory; a request that falls within
// the window and is not a duplicate gets RequestAck.

package rbft

import (
	"container/list"

	"github.com/ken-ebert/rbft-core/rbftpb"
)

// AdmissionOutcome is the client-visible classification of a submitted
// request, produced before consensus ever runs (spec.md §7).
type AdmissionOutcome int

const (
	// RequestAck confirms admission, not ordering (spec.md §7).
	RequestAck AdmissionOutcome = iota
	// RequestNack means static validation failed: duplicate, or outside
	// this client's current admission window.
	RequestNack
)

// clientSlot tracks one (identifier, req_id) admission slot.
type clientSlot struct {
	reqID     uint64
	digest    rbftpb.Digest
	allocated bool
}

// clientWindow is a bounded, sliding admission window for one client
// identifier, mirroring the teacher's clientWindow: a doubly linked list
// of slots between lowWatermark (exclusive) and highWatermark (inclusive),
// shifted forward by garbageCollect as requests order.
type clientWindow struct {
	identifier    string
	lowWatermark  uint64
	highWatermark uint64
	width         uint64
	slots         *list.List
	slotByReqID   map[uint64]*list.Element
}

func newClientWindow(identifier string, width uint64) *clientWindow {
	cw := &clientWindow{
		identifier:    identifier,
		lowWatermark:  0,
		highWatermark: width,
		width:         width,
		slots:         list.New(),
		slotByReqID:   map[uint64]*list.Element{},
	}
	cw.extend(0, width)
	return cw
}

func (cw *clientWindow) extend(from, to uint64) {
	for i := from + 1; i <= to; i++ {
		el := cw.slots.PushBack(&clientSlot{reqID: i})
		cw.slotByReqID[i] = el
	}
}

func (cw *clientWindow) inWindow(reqID uint64) bool {
	return reqID > cw.lowWatermark && reqID <= cw.highWatermark
}

// admit records digest at reqID if it is within the window and not
// already allocated, returning RequestAck on success and RequestNack for
// a duplicate or out-of-window request.
func (cw *clientWindow) admit(reqID uint64, digest rbftpb.Digest) AdmissionOutcome {
	if !cw.inWindow(reqID) {
		return RequestNack
	}
	el, ok := cw.slotByReqID[reqID]
	if !ok {
		return RequestNack
	}
	slot := el.Value.(*clientSlot)
	if slot.allocated {
		return RequestNack
	}
	slot.allocated = true
	slot.digest = digest
	return RequestAck
}

// garbageCollect slides the window forward past every slot up to and
// including maxReqID, allocated or not, freeing their memory, mirroring the teacher's
// clientWindow.garbageCollect driven off checkpoint stability.
func (cw *clientWindow) garbageCollect(maxReqID uint64) {
	removed := uint64(0)
	for el := cw.slots.Front(); el != nil; {
		slot := el.Value.(*clientSlot)
		if slot.reqID > maxReqID {
			break
		}
		next := el.Next()
		cw.slots.Remove(el)
		delete(cw.slotByReqID, slot.reqID)
		removed++
		el = next
	}
	cw.lowWatermark += removed
	cw.highWatermark += removed
	cw.extend(cw.highWatermark-removed, cw.highWatermark)
}

// admissionWindows is the node-wide collection of per-client windows,
// adapted from the teacher's clientWindows map.
type admissionWindows struct {
	width   uint64
	windows map[string]*clientWindow
}

func newAdmissionWindows(width uint64) *admissionWindows {
	return &admissionWindows{width: width, windows: map[string]*clientWindow{}}
}

func (aw *admissionWindows) windowFor(identifier string) *clientWindow {
	cw, ok := aw.windows[identifier]
	if !ok {
		cw = newClientWindow(identifier, aw.width)
		aw.windows[identifier] = cw
	}
	return cw
}

// Admit runs a freshly submitted request through its client's admission
// window.
func (aw *admissionWindows) Admit(req *rbftpb.RequestData, digest rbftpb.Digest) AdmissionOutcome {
	return aw.windowFor(req.Identifier).admit(req.ReqId, digest)
}

// GarbageCollect slides every client's window forward to maxReqID,
// called by the checkpoint service once a checkpoint becomes stable.
func (aw *admissionWindows) GarbageCollect(maxReqID uint64) {
	for _, cw := range aw.windows {
		cw.garbageCollect(maxReqID)
	}
}
