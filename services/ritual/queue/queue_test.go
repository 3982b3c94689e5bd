// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisperboard/ritual-engine/services/ritual/anomaly"
)

func event(id string) *anomaly.Event {
	return &anomaly.Event{ID: id, Type: anomaly.TypeWhisper, Timestamp: time.Now()}
}

func TestPushPopOrder(t *testing.T) {
	m := NewManager()

	assert.Equal(t, 1, m.Push("u1", event("a")))
	assert.Equal(t, 2, m.Push("u1", event("b")))
	assert.Equal(t, 3, m.Push("u1", event("c")))

	assert.Equal(t, "a", m.Pop("u1").ID)
	assert.Equal(t, "b", m.Pop("u1").ID)
	assert.Equal(t, "c", m.Pop("u1").ID)
	assert.Nil(t, m.Pop("u1"))
}

func TestQueuesAreIsolated(t *testing.T) {
	m := NewManager()
	m.Push("u1", event("a"))
	m.Push("u2", event("b"))

	assert.Equal(t, 1, m.Len("u1"))
	assert.Equal(t, "b", m.Pop("u2").ID)
	assert.Equal(t, 1, m.Len("u1"))
}

func TestCapDropsOldest(t *testing.T) {
	m := NewManager()

	for i := 0; i < DefaultMaxLen; i++ {
		m.Push("u1", event(fmt.Sprintf("e%d", i)))
	}
	require.Equal(t, DefaultMaxLen, m.Len("u1"))

	// The 101st push evicts e0.
	n := m.Push("u1", event("overflow"))
	assert.Equal(t, DefaultMaxLen, n)
	assert.Equal(t, "e1", m.Peek("u1").ID)
}

func TestPeekDoesNotRemove(t *testing.T) {
	m := NewManager()
	m.Push("u1", event("a"))

	assert.Equal(t, "a", m.Peek("u1").ID)
	assert.Equal(t, 1, m.Len("u1"))
	assert.Nil(t, m.Peek("ghost"))
}

func TestClear(t *testing.T) {
	m := NewManager()
	m.Push("u1", event("a"))

	assert.True(t, m.Clear("u1"))
	assert.False(t, m.Clear("u1"))
	assert.Equal(t, 0, m.Len("u1"))
}

func TestAllReturnsSnapshot(t *testing.T) {
	m := NewManager()
	m.Push("u1", event("a"))
	m.Push("u1", event("b"))

	all := m.All("u1")
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)

	// Snapshot, not the backing slice.
	m.Pop("u1")
	assert.Len(t, all, 2)
}

func TestQueueExpires(t *testing.T) {
	m := NewManager(WithTTL(10 * time.Millisecond))
	m.Push("u1", event("a"))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, m.Len("u1"))
	assert.Nil(t, m.Pop("u1"))
}

func TestPopBlockingReturnsQueued(t *testing.T) {
	m := NewManager()
	m.Push("u1", event("a"))

	ev := m.PopBlocking(context.Background(), "u1", time.Second)
	require.NotNil(t, ev)
	assert.Equal(t, "a", ev.ID)
}

func TestPopBlockingWakesOnPush(t *testing.T) {
	m := NewManager()

	done := make(chan *anomaly.Event, 1)
	go func() {
		done <- m.PopBlocking(context.Background(), "u1", 5*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	m.Push("u1", event("late"))

	select {
	case ev := <-done:
		require.NotNil(t, ev)
		assert.Equal(t, "late", ev.ID)
	case <-time.After(time.Second):
		t.Fatal("PopBlocking did not wake on push")
	}
}

func TestPopBlockingTimeout(t *testing.T) {
	m := NewManager()

	start := time.Now()
	ev := m.PopBlocking(context.Background(), "u1", 100*time.Millisecond)
	elapsed := time.Since(start)

	assert.Nil(t, ev)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestPopBlockingContextCancel(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan *anomaly.Event, 1)
	go func() {
		done <- m.PopBlocking(ctx, "u1", 10*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ev := <-done:
		assert.Nil(t, ev)
	case <-time.After(time.Second):
		t.Fatal("PopBlocking did not honor cancellation")
	}
}

func TestBroadcast(t *testing.T) {
	m := NewManager()
	m.Push("u1", event("seed1"))
	m.Push("u2", event("seed2"))

	n := m.PushBroadcast(event("all"))
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, m.Len("u1"))
	assert.Equal(t, 2, m.Len("u2"))

	n = m.PushToAll([]string{"u1", "u3"}, event("direct"))
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, m.Len("u3"), "push creates missing queues")
}

func TestBroadcastReachesDrainedQueues(t *testing.T) {
	m := NewManager()
	m.Push("u1", event("seed1"))
	m.Push("u2", event("seed2"))

	// Popping empties a queue but keeps it registered; Clear removes it.
	for m.Pop("u1") != nil {
	}
	for m.Pop("u2") != nil {
	}
	m.Clear("u2")

	assert.Equal(t, []string{"u1"}, m.Users())
	n := m.PushBroadcast(event("all"))
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, m.Len("u1"))
	assert.Zero(t, m.Len("u2"))
}
