// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0

package rbft

import (
	"sort"

	"github.com/gammazero/deque"

	"github.com/ken-ebert/rbft-core/rbftpb"
)

// stashedMsg is one parked message together with enough context to replay
// it once its kind becomes eligible.
type stashedMsg struct {
	kind   StashKind
	source NodeName
	msg    *rbftpb.Msg
}

// kindPriority fixes the order in which kinds are drained on a replay
// pass: future-view traffic is the most likely to become immediately
// actionable after a view install, so it is drained first; watermark-
// stashed traffic (the largest, steadiest-state volume) drains last. Lower
// value = higher priority = drained first.
func kindPriority(k StashKind) int {
	switch k {
	case StashFutureView:
		return 0
	case StashCatchingUp:
		return 1
	case StashMissingPrePrepare:
		return 2
	case StashOutOfOrderCommit:
		return 3
	case StashFutureReplica:
		return 4
	case StashWatermarks:
		return 5
	default:
		return 99
	}
}

// stasher is the bounded priority parking lot of spec.md §4.1: a per-kind
// bounded FIFO (gammazero/deque gives O(1) push-back/pop-front, letting the
// "drop oldest of that kind" rule run without a linear scan). Cross-kind
// replay orders whole kinds by precedence (kindPriority) but never
// reorders within a kind, so a replay pass is FIFO within each kind, per
// spec.md §4.1 "replays its eligible entries in FIFO order".
type stasher struct {
	bound int

	queues  map[StashKind]*deque.Deque
	dropped map[StashKind]int
}

func newStasher(bound int) *stasher {
	return &stasher{
		bound:   bound,
		queues:  map[StashKind]*deque.Deque{},
		dropped: map[StashKind]int{},
	}
}

// stash parks msg under kind, dropping the oldest entry of that kind (and
// incrementing its drop counter) if the bound would otherwise be exceeded
// (spec.md §4.1: "A STASH decision that would exceed the bound drops the
// oldest entry of that kind and increments a counter").
func (s *stasher) stash(kind StashKind, source NodeName, msg *rbftpb.Msg) {
	q, ok := s.queues[kind]
	if !ok {
		q = new(deque.Deque)
		s.queues[kind] = q
	}
	if q.Len() >= s.bound {
		q.PopFront()
		s.dropped[kind]++
	}
	q.PushBack(stashedMsg{kind: kind, source: source, msg: msg})
}

// Len returns how many messages of kind are currently parked.
func (s *stasher) Len(kind StashKind) int {
	q, ok := s.queues[kind]
	if !ok {
		return 0
	}
	return q.Len()
}

// Dropped returns how many messages of kind have been evicted for
// exceeding the bound.
func (s *stasher) Dropped(kind StashKind) int {
	return s.dropped[kind]
}

// Peek returns a snapshot of every message currently parked under kind,
// oldest first, without removing them: used by the node shell's stale-
// stash sweep (spec.md §4.2 S4) to decide whether to request a missing
// PRE-PREPARE without disturbing replay order.
func (s *stasher) Peek(kind StashKind) []stashedMsg {
	q, ok := s.queues[kind]
	if !ok {
		return nil
	}
	out := make([]stashedMsg, 0, q.Len())
	for i := 0; i < q.Len(); i++ {
		out = append(out, q.At(i).(stashedMsg))
	}
	return out
}

// drain removes and returns every parked message of the given kinds, in
// kind-priority order and FIFO within a kind, for replay by the caller
// (spec.md §4.1: "replays its eligible entries in FIFO order"). Kinds not
// eligible for replay (e.g. StashCatchingUp while still catching up) are
// simply not passed in.
func (s *stasher) drain(kinds ...StashKind) []stashedMsg {
	ordered := append([]StashKind(nil), kinds...)
	sort.Slice(ordered, func(i, j int) bool {
		return kindPriority(ordered[i]) < kindPriority(ordered[j])
	})

	var out []stashedMsg
	for _, kind := range ordered {
		q, ok := s.queues[kind]
		if !ok {
			continue
		}
		for q.Len() > 0 {
			out = append(out, q.PopFront().(stashedMsg))
		}
	}
	return out
}
