// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0

package rbft

import "github.com/ken-ebert/rbft-core/rbftpb"

// Event is the common interface for values published on the internal bus.
// Per spec.md §9 ("reimplement as ... communicating via an in-process
// publish/subscribe bus for cross-cutting events"), this replaces the
// cyclic node<->instance<->service back-references the original uses.
type Event interface {
	isEvent()
}

// NeedMasterCatchup is raised when the master instance falls behind and
// needs a catchup round before it can continue ordering (spec.md §6).
type NeedMasterCatchup struct {
	InstId InstId
}

// NeedBackupCatchup is the backup-instance analogue of NeedMasterCatchup.
type NeedBackupCatchup struct {
	InstId InstId
}

// RequestPropagates is raised when a PRE-PREPARE references requests this
// replica has not yet finalised, asking the node shell to solicit
// PROPAGATE messages for them (spec.md §4.2 step 2).
type RequestPropagates struct {
	InstId   InstId
	Digests  []rbftpb.Digest
}

// Ordered carries a committed batch to the executor. Internal only; never
// serialized to the wire (spec.md §6).
type Ordered struct {
	InstId    InstId
	Key       ThreePCKey
	LedgerId  uint32
	PpTime    int64
	ReqIdr    []rbftpb.Digest
	StateRoot []byte
}

func (*NeedMasterCatchup) isEvent()  {}
func (*NeedBackupCatchup) isEvent()  {}
func (*RequestPropagates) isEvent()  {}
func (*Ordered) isEvent()            {}

// Bus is a minimal in-process publish/subscribe bus. Publication is
// synchronous and single-threaded, consistent with spec.md §5's
// cooperative event loop: handlers never block, and there is never more
// than one publisher active at a time.
type Bus struct {
	subscribers []func(Event)
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn to be called, in registration order, for every
// event Publish sees from this point on.
func (b *Bus) Subscribe(fn func(Event)) {
	b.subscribers = append(b.subscribers, fn)
}

// Publish delivers ev to every subscriber in registration order.
func (b *Bus) Publish(ev Event) {
	for _, fn := range b.subscribers {
		fn(ev)
	}
}
