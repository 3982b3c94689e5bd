// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package queue holds per-visitor anomaly queues. Each visitor gets a
// bounded FIFO that drops its oldest event when full and expires as a
// whole after an idle hour. PopBlocking lets the websocket handler wait
// for the next event without polling.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/whisperboard/ritual-engine/services/ritual/anomaly"
	"github.com/whisperboard/ritual-engine/services/ritual/timeofday"
)

const (
	// DefaultMaxLen bounds each visitor's queue.
	DefaultMaxLen = 100

	// DefaultTTL is how long an untouched queue survives. Every push
	// and pop renews it.
	DefaultTTL = time.Hour
)

type userQueue struct {
	events    []*anomaly.Event
	expiresAt time.Time

	// notify wakes one blocked PopBlocking per buffered token.
	notify chan struct{}
}

// Manager owns every visitor queue. Safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*userQueue
	maxLen int
	ttl    time.Duration
	clock  timeofday.Clock
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxLen overrides the per-queue capacity.
func WithMaxLen(n int) Option {
	return func(m *Manager) { m.maxLen = n }
}

// WithTTL overrides the idle expiry window.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithClock overrides the time source. Used in tests.
func WithClock(c timeofday.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// NewManager builds an empty queue manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		queues: map[string]*userQueue{},
		maxLen: DefaultMaxLen,
		ttl:    DefaultTTL,
		clock:  timeofday.SystemClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MaxLen returns the per-visitor queue capacity.
func (m *Manager) MaxLen() int { return m.maxLen }

// get returns the live queue for userID, lazily dropping it when
// expired. Caller must hold mu.
func (m *Manager) get(userID string) *userQueue {
	q, ok := m.queues[userID]
	if !ok {
		return nil
	}
	if m.clock.Now().After(q.expiresAt) {
		delete(m.queues, userID)
		return nil
	}
	return q
}

// getOrCreate returns the live queue for userID, creating one if
// needed. Caller must hold mu.
func (m *Manager) getOrCreate(userID string) *userQueue {
	q := m.get(userID)
	if q == nil {
		q = &userQueue{notify: make(chan struct{}, m.maxLen)}
		m.queues[userID] = q
	}
	q.expiresAt = m.clock.Now().Add(m.ttl)
	return q
}

// Push appends an event to the visitor's queue, dropping the oldest
// event when full. Returns the new queue length.
func (m *Manager) Push(userID string, ev *anomaly.Event) int {
	m.mu.Lock()
	q := m.getOrCreate(userID)
	q.events = append(q.events, ev)
	if len(q.events) > m.maxLen {
		q.events = q.events[len(q.events)-m.maxLen:]
	}
	n := len(q.events)
	notify := q.notify
	m.mu.Unlock()

	select {
	case notify <- struct{}{}:
	default:
	}
	return n
}

// Pop removes and returns the oldest queued event, or nil when the
// queue is empty or expired.
func (m *Manager) Pop(userID string) *anomaly.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.get(userID)
	if q == nil || len(q.events) == 0 {
		return nil
	}
	ev := q.events[0]
	q.events = q.events[1:]
	q.expiresAt = m.clock.Now().Add(m.ttl)
	return ev
}

// PopBlocking waits up to timeout for an event. Returns nil when the
// timeout elapses or ctx is canceled first.
func (m *Manager) PopBlocking(ctx context.Context, userID string, timeout time.Duration) *anomaly.Event {
	if ev := m.Pop(userID); ev != nil {
		return ev
	}

	m.mu.Lock()
	notify := m.getOrCreate(userID).notify
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		// Drain any token that raced in between Pop and the wait.
		if ev := m.Pop(userID); ev != nil {
			return ev
		}
		select {
		case <-notify:
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Peek returns the oldest queued event without removing it.
func (m *Manager) Peek(userID string) *anomaly.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.get(userID)
	if q == nil || len(q.events) == 0 {
		return nil
	}
	return q.events[0]
}

// Len returns the number of queued events for userID.
func (m *Manager) Len(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.get(userID)
	if q == nil {
		return 0
	}
	return len(q.events)
}

// Clear drops the visitor's queue. Returns true if one existed.
func (m *Manager) Clear(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.get(userID) == nil {
		return false
	}
	delete(m.queues, userID)
	return true
}

// All returns a snapshot of the visitor's queued events, oldest first.
func (m *Manager) All(userID string) []*anomaly.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.get(userID)
	if q == nil {
		return nil
	}
	out := make([]*anomaly.Event, len(q.events))
	copy(out, q.events)
	return out
}

// Users returns the visitors that currently hold a live queue.
func (m *Manager) Users() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]string, 0, len(m.queues))
	for id := range m.queues {
		if m.get(id) != nil {
			users = append(users, id)
		}
	}
	return users
}

// PushToAll pushes the event to every listed visitor. Returns how many
// queues received it.
func (m *Manager) PushToAll(userIDs []string, ev *anomaly.Event) int {
	delivered := 0
	for _, id := range userIDs {
		m.Push(id, ev)
		delivered++
	}
	return delivered
}

// PushBroadcast pushes the event to every visitor with a live queue.
func (m *Manager) PushBroadcast(ev *anomaly.Event) int {
	return m.PushToAll(m.Users(), ev)
}
