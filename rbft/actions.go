// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0

package rbft

import "github.com/ken-ebert/rbft-core/rbftpb"

// Unicast is an action to send a message to one specific validator,
// adapted from the teacher's identically-shaped Unicast action
// (actions.go), retargeted at NodeName instead of a raw uint64 id.
type Unicast struct {
	Target NodeName
	Msg    *rbftpb.Msg
}

// Actions is the set of effects a component handler produces for the node
// shell to carry out, adapted from the teacher's own Actions type: the
// Broadcast/Unicast/Append/IsEmpty shape survives unchanged (components
// never perform I/O themselves, they only append to an Actions value, per
// spec.md §5 "components never block, they only consume from inboxes and
// emit to outboxes"); Preprocess/Hash/QEntries/PEntries/Commits do not
// apply to this spec's data model and are replaced by Events (bus
// publications) and Ordered (committed batches ready for the executor).
type Actions struct {
	Broadcast []*rbftpb.Msg
	Unicast   []Unicast
	Events    []Event
	Ordered   []*Ordered

	// Replay carries messages drained from the stasher that the node
	// shell must re-run through validate()/dispatch, e.g. after a
	// view install unblocks everything parked under StashFutureView
	// (spec.md §4.1 "replays its eligible entries in FIFO order").
	Replay []stashedMsg
}

// IsEmpty returns whether every field is zero in length.
func (a *Actions) IsEmpty() bool {
	return len(a.Broadcast) == 0 && len(a.Unicast) == 0 && len(a.Events) == 0 &&
		len(a.Ordered) == 0 && len(a.Replay) == 0
}

// Append takes a set of actions and for each field, appends it to the
// corresponding field of itself, then returns itself so calls can chain
// the way the teacher's `actions.Append(...)` call sites do.
func (a *Actions) Append(o *Actions) *Actions {
	if o == nil {
		return a
	}
	a.Broadcast = append(a.Broadcast, o.Broadcast...)
	a.Unicast = append(a.Unicast, o.Unicast...)
	a.Events = append(a.Events, o.Events...)
	a.Ordered = append(a.Ordered, o.Ordered...)
	a.Replay = append(a.Replay, o.Replay...)
	return a
}

func (a *Actions) broadcast(msg *rbftpb.Msg) *Actions {
	a.Broadcast = append(a.Broadcast, msg)
	return a
}

func (a *Actions) unicast(target NodeName, msg *rbftpb.Msg) *Actions {
	a.Unicast = append(a.Unicast, Unicast{Target: target, Msg: msg})
	return a
}

func (a *Actions) publish(ev Event) *Actions {
	a.Events = append(a.Events, ev)
	return a
}
