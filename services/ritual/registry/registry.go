// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package registry tracks which visitors hold a live websocket
// connection. Entries carry a heartbeat deadline, so a connection whose
// client stops heartbeating reads as gone even if the socket never
// closed cleanly.
package registry

import (
	"sync"
	"time"

	"github.com/whisperboard/ritual-engine/services/ritual/timeofday"
)

// DefaultHeartbeatTTL is how long a connection stays live without a
// heartbeat.
const DefaultHeartbeatTTL = 60 * time.Second

// Registry is the in-memory connection table. Safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	deadlines map[string]time.Time
	ttl       time.Duration
	clock     timeofday.Clock
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL overrides the heartbeat window.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

// WithClock overrides the time source. Used in tests.
func WithClock(c timeofday.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// New builds an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		deadlines: map[string]time.Time{},
		ttl:       DefaultHeartbeatTTL,
		clock:     timeofday.SystemClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect marks the visitor as connected and starts their heartbeat
// window.
func (r *Registry) Connect(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadlines[userID] = r.clock.Now().Add(r.ttl)
}

// Disconnect removes the visitor.
func (r *Registry) Disconnect(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.deadlines, userID)
}

// Heartbeat renews the visitor's window. A heartbeat from an unknown
// visitor re-registers them; reconnecting clients do not need a
// separate Connect.
func (r *Registry) Heartbeat(userID string) {
	r.Connect(userID)
}

// IsConnected reports whether the visitor has a live connection. A
// lapsed deadline counts as disconnected and drops the entry.
func (r *Registry) IsConnected(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	deadline, ok := r.deadlines[userID]
	if !ok {
		return false
	}
	if r.clock.Now().After(deadline) {
		delete(r.deadlines, userID)
		return false
	}
	return true
}

// ConnectedUsers returns every visitor with a live connection.
func (r *Registry) ConnectedUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	users := make([]string, 0, len(r.deadlines))
	for id, deadline := range r.deadlines {
		if now.After(deadline) {
			delete(r.deadlines, id)
			continue
		}
		users = append(users, id)
	}
	return users
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	return len(r.ConnectedUsers())
}

// ClearAll drops every entry.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadlines = map[string]time.Time{}
}
