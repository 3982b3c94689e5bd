// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package state holds the per-visitor ritual state and its BadgerDB-backed
// store.
//
// A RitualState is created the first time a visitor is observed and is
// read-modified-written on every subsequent request. States expire through
// the store's native per-key TTL (24h of inactivity by default); an expired
// state is indistinguishable from a first visit.
package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Retention caps for viewing history. Oldest entries are evicted first.
const (
	// MaxViewedThreads bounds the viewed_threads list.
	MaxViewedThreads = 100

	// MaxViewedPosts bounds the viewed_posts list.
	MaxViewedPosts = 500
)

// Pattern keys read by the trigger conditions. KnownPatterns is an open
// map, but these are the keys the engine itself writes and inspects.
const (
	// PatternVisitCount counts distinct visits (int).
	PatternVisitCount = "visit_count"

	// PatternNightVisits counts visits during night hours (int).
	PatternNightVisits = "night_visits"

	// PatternThreadViews counts thread views including revisits (int).
	// The viewed_threads list deduplicates, so revisit detection needs
	// the raw count.
	PatternThreadViews = "thread_view_count"

	// PatternSeeking marks detected pattern-seeking behavior (bool).
	PatternSeeking = "seeking"

	// PatternReadingStyle records a derived reading style (string).
	PatternReadingStyle = "reading_style"
)

// RitualState is the behavioral record for one visitor.
//
// Progress is clamped to [0,100] by every mutator. ViewedThreads and
// ViewedPosts are ordered, deduplicated, and capped. TriggersHit is a set
// of trigger names that have fired at least once, stored as a slice for
// stable serialization.
type RitualState struct {
	UserID        string                  `json:"user_id"`
	Progress      int                     `json:"progress"`
	ViewedThreads []int64                 `json:"viewed_threads"`
	ViewedPosts   []int64                 `json:"viewed_posts"`
	TimeOnSite    int64                   `json:"time_on_site"`
	FirstVisit    time.Time               `json:"first_visit"`
	LastActivity  time.Time               `json:"last_activity"`
	TriggersHit   []string                `json:"triggers_hit"`
	KnownPatterns map[string]PatternValue `json:"known_patterns"`
}

// New creates a fresh RitualState for a first-time visitor.
func New(userID string, now time.Time) *RitualState {
	return &RitualState{
		UserID:        userID,
		ViewedThreads: []int64{},
		ViewedPosts:   []int64{},
		FirstVisit:    now,
		LastActivity:  now,
		TriggersHit:   []string{},
		KnownPatterns: map[string]PatternValue{},
	}
}

// ApplyProgressDelta shifts Progress by delta, clamped to [0,100].
func (s *RitualState) ApplyProgressDelta(delta int) {
	s.Progress = clampProgress(s.Progress + delta)
}

// SetProgress sets Progress to value, clamped to [0,100].
func (s *RitualState) SetProgress(value int) {
	s.Progress = clampProgress(value)
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// AddViewedThread appends threadID if not already present, evicting the
// oldest entry when the cap is exceeded. Returns true if the ID was new.
func (s *RitualState) AddViewedThread(threadID int64) bool {
	appended, list := appendCapped(s.ViewedThreads, threadID, MaxViewedThreads)
	s.ViewedThreads = list
	return appended
}

// AddViewedPost appends postID if not already present, evicting the
// oldest entry when the cap is exceeded. Returns true if the ID was new.
func (s *RitualState) AddViewedPost(postID int64) bool {
	appended, list := appendCapped(s.ViewedPosts, postID, MaxViewedPosts)
	s.ViewedPosts = list
	return appended
}

func appendCapped(list []int64, id int64, cap int) (bool, []int64) {
	for _, existing := range list {
		if existing == id {
			return false, list
		}
	}
	list = append(list, id)
	if len(list) > cap {
		list = list[len(list)-cap:]
	}
	return true, list
}

// HasTrigger reports whether the named trigger has fired before.
func (s *RitualState) HasTrigger(name string) bool {
	for _, t := range s.TriggersHit {
		if t == name {
			return true
		}
	}
	return false
}

// AddTrigger records that the named trigger fired. Returns true if it was
// not already recorded.
func (s *RitualState) AddTrigger(name string) bool {
	if s.HasTrigger(name) {
		return false
	}
	s.TriggersHit = append(s.TriggersHit, name)
	return true
}

// SetPattern stores a derived fact in KnownPatterns.
func (s *RitualState) SetPattern(key string, value PatternValue) {
	if s.KnownPatterns == nil {
		s.KnownPatterns = map[string]PatternValue{}
	}
	s.KnownPatterns[key] = value
}

// PatternInt returns the integer value stored under key, or 0.
func (s *RitualState) PatternInt(key string) int64 {
	if v, ok := s.KnownPatterns[key]; ok {
		return v.Int()
	}
	return 0
}

// PatternBool returns the boolean value stored under key, or false.
func (s *RitualState) PatternBool(key string) bool {
	if v, ok := s.KnownPatterns[key]; ok {
		return v.Bool()
	}
	return false
}

// Clone returns a deep copy. Mutating the copy does not affect the
// original; used to hand snapshots to content mutation.
func (s *RitualState) Clone() *RitualState {
	c := *s
	c.ViewedThreads = append([]int64{}, s.ViewedThreads...)
	c.ViewedPosts = append([]int64{}, s.ViewedPosts...)
	c.TriggersHit = append([]string{}, s.TriggersHit...)
	c.KnownPatterns = make(map[string]PatternValue, len(s.KnownPatterns))
	for k, v := range s.KnownPatterns {
		c.KnownPatterns[k] = v
	}
	return &c
}

// =============================================================================
// PatternValue
// =============================================================================

type patternKind uint8

const (
	patternInt patternKind = iota
	patternFloat
	patternBool
	patternString
)

// PatternValue is a closed scalar variant (int64 | float64 | bool | string)
// used for KnownPatterns entries. Keeping the variant closed makes the
// storage encoding round-trip exactly: integers stay integers.
type PatternValue struct {
	kind patternKind
	i    int64
	f    float64
	b    bool
	s    string
}

// IntValue wraps an int64.
func IntValue(v int64) PatternValue { return PatternValue{kind: patternInt, i: v} }

// FloatValue wraps a float64.
func FloatValue(v float64) PatternValue { return PatternValue{kind: patternFloat, f: v} }

// BoolValue wraps a bool.
func BoolValue(v bool) PatternValue { return PatternValue{kind: patternBool, b: v} }

// StringValue wraps a string.
func StringValue(v string) PatternValue { return PatternValue{kind: patternString, s: v} }

// Int returns the value as int64. Floats truncate; other kinds return 0.
func (v PatternValue) Int() int64 {
	switch v.kind {
	case patternInt:
		return v.i
	case patternFloat:
		return int64(v.f)
	default:
		return 0
	}
}

// Float returns the value as float64, or 0 for non-numeric kinds.
func (v PatternValue) Float() float64 {
	switch v.kind {
	case patternInt:
		return float64(v.i)
	case patternFloat:
		return v.f
	default:
		return 0
	}
}

// Bool returns the boolean value, or false for other kinds.
func (v PatternValue) Bool() bool {
	return v.kind == patternBool && v.b
}

// String returns the string value, or "" for other kinds.
func (v PatternValue) String() string {
	if v.kind == patternString {
		return v.s
	}
	return ""
}

// MarshalJSON encodes the wrapped scalar directly.
func (v PatternValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case patternInt:
		return json.Marshal(v.i)
	case patternFloat:
		return json.Marshal(v.f)
	case patternBool:
		return json.Marshal(v.b)
	case patternString:
		return json.Marshal(v.s)
	default:
		return nil, fmt.Errorf("pattern value: unknown kind %d", v.kind)
	}
}

// UnmarshalJSON decodes a scalar, preserving the integer/float distinction.
func (v *PatternValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("pattern value: %w", err)
	}

	switch x := raw.(type) {
	case bool:
		*v = BoolValue(x)
	case string:
		*v = StringValue(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			*v = IntValue(i)
		} else {
			f, err := x.Float64()
			if err != nil {
				return fmt.Errorf("pattern value: bad number %q", x.String())
			}
			*v = FloatValue(f)
		}
	default:
		return fmt.Errorf("pattern value: unsupported type %T", raw)
	}
	return nil
}
