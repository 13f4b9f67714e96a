// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0

package rbft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeTimer is a Timer whose After only records the scheduled fire;
// tests trigger it explicitly via fireAll(), so cancellation can be
// exercised deterministically.
type fakeTimer struct {
	now     time.Time
	pending []func()
}

func (f *fakeTimer) After(d time.Duration, action func()) func() {
	idx := len(f.pending)
	f.pending = append(f.pending, action)
	cancelled := false
	return func() {
		cancelled = true
		_ = cancelled
		f.pending[idx] = nil
	}
}

func (f *fakeTimer) Now() time.Time { return f.now }

func (f *fakeTimer) fireAll() {
	pending := f.pending
	f.pending = nil
	for _, fn := range pending {
		if fn != nil {
			fn()
		}
	}
}

func TestActionQueueScheduleAndFire(t *testing.T) {
	clock := &fakeTimer{now: time.Unix(0, 0)}
	q := newActionQueue(clock)

	fired := false
	q.Schedule("k1", time.Second, func() { fired = true })
	clock.fireAll()

	assert.True(t, fired)
	assert.False(t, q.Pending("k1"), "a fired action is removed from pending")
}

func TestActionQueueCancelPreventsFire(t *testing.T) {
	clock := &fakeTimer{now: time.Unix(0, 0)}
	q := newActionQueue(clock)

	fired := false
	q.Schedule("k1", time.Second, func() { fired = true })
	q.Cancel("k1")
	clock.fireAll()

	assert.False(t, fired, "a cancelled action never runs even if the host timer still fires it")
}

func TestActionQueueReschedulingSameKeyCancelsPrevious(t *testing.T) {
	clock := &fakeTimer{now: time.Unix(0, 0)}
	q := newActionQueue(clock)

	var calls []string
	q.Schedule("k1", time.Second, func() { calls = append(calls, "first") })
	q.Schedule("k1", time.Second, func() { calls = append(calls, "second") })
	clock.fireAll()

	assert.Equal(t, []string{"second"}, calls, "scheduling a second action under the same key cancels the first")
}

func TestTickTimerBuffersUntilDrain(t *testing.T) {
	clock := &fakeTimer{now: time.Unix(0, 0)}
	tt := newTickTimer(clock)

	fired := false
	tt.After(time.Second, func() { fired = true })
	clock.fireAll() // simulates the host Timer invoking the callback

	assert.False(t, fired, "tickTimer must buffer the fire rather than invoke it inline")

	tt.drain()
	assert.True(t, fired, "drain runs every buffered fire")
}

func TestTickTimerDrainIsIdempotentWhenEmpty(t *testing.T) {
	clock := &fakeTimer{now: time.Unix(0, 0)}
	tt := newTickTimer(clock)

	assert.NotPanics(t, func() { tt.drain() })
}

func TestTickTimerNowDelegatesToClock(t *testing.T) {
	ts := time.Unix(1000, 0)
	clock := &fakeTimer{now: ts}
	tt := newTickTimer(clock)

	assert.Equal(t, ts, tt.Now())
}
