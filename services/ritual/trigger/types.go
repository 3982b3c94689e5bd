// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package trigger watches visitor behavior and fires named triggers with
// configured effects: progress shifts, anomaly multipliers, unlocks,
// forced anomalies, and messages surfaced over the live channel.
package trigger

import (
	"time"

	"github.com/whisperboard/ritual-engine/services/ritual/state"
)

// Type identifies a behavioral trigger.
type Type string

const (
	// Visit-based.
	TypeFirstVisit      Type = "first_visit"
	TypeReturnee        Type = "returnee"
	TypeFrequentVisitor Type = "frequent_visitor"
	TypeLateNight       Type = "late_night"
	TypeWitchingHour    Type = "witching_hour"

	// Reading behavior.
	TypeDeepReader  Type = "deep_reader"
	TypeSpeedReader Type = "speed_reader"
	TypeSlowReader  Type = "slow_reader"
	TypeObsessive   Type = "obsessive"
	TypeExplorer    Type = "explorer"

	// Progression.
	TypeHalfway     Type = "halfway"
	TypeAlmostThere Type = "almost_there"
	TypeEnlightened Type = "enlightened"

	// Special.
	TypeFoundHidden   Type = "found_hidden"
	TypePatternSeeker Type = "pattern_seeker"
	TypeTooLong       Type = "too_long"
	TypeMarathon      Type = "marathon"

	// Time-based.
	TypeNightOwl    Type = "night_owl"
	TypeDawnVisitor Type = "dawn_visitor"

	// Interaction.
	TypePosted        Type = "posted"
	TypeThreadCreator Type = "thread_creator"
)

// AllTypes lists every trigger in evaluation order.
var AllTypes = []Type{
	TypeFirstVisit,
	TypeReturnee,
	TypeFrequentVisitor,
	TypeLateNight,
	TypeWitchingHour,
	TypeDeepReader,
	TypeSpeedReader,
	TypeSlowReader,
	TypeObsessive,
	TypeExplorer,
	TypeHalfway,
	TypeAlmostThere,
	TypeEnlightened,
	TypeFoundHidden,
	TypePatternSeeker,
	TypeTooLong,
	TypeMarathon,
	TypeNightOwl,
	TypeDawnVisitor,
	TypePosted,
	TypeThreadCreator,
}

// Effect is what happens when a trigger activates. The multiplier
// applies on every activation; everything else applies only the first
// time a trigger fires for a visitor.
type Effect struct {
	ProgressDelta     int                           `json:"progress_delta"`
	AnomalyMultiplier float64                       `json:"anomaly_chance_multiplier"`
	UnlockBoard       string                        `json:"unlock_board,omitempty"`
	UnlockThread      int64                         `json:"unlock_thread,omitempty"`
	ForceAnomaly      string                        `json:"force_anomaly,omitempty"`
	Message           string                        `json:"message,omitempty"`
	SetPattern        map[string]state.PatternValue `json:"set_pattern,omitempty"`
}

// Effects maps each trigger to its configured effect.
var Effects = map[Type]Effect{
	TypeFirstVisit: {
		ProgressDelta:     5,
		AnomalyMultiplier: 1.0,
		Message:           "Welcome... we have been waiting for you.",
	},
	TypeReturnee: {
		ProgressDelta:     10,
		AnomalyMultiplier: 1.3,
		Message:           "You came back. We remember you.",
	},
	TypeFrequentVisitor: {
		ProgressDelta:     15,
		AnomalyMultiplier: 1.5,
	},
	TypeLateNight: {
		ProgressDelta:     5,
		AnomalyMultiplier: 1.5,
	},
	TypeWitchingHour: {
		ProgressDelta:     10,
		AnomalyMultiplier: 2.5,
		ForceAnomaly:      "whisper",
	},
	TypeDeepReader: {
		ProgressDelta:     10,
		AnomalyMultiplier: 1.5,
	},
	TypeSpeedReader: {
		ProgressDelta:     -5,
		AnomalyMultiplier: 1.0,
		Message:           "Slow down... read more carefully.",
	},
	TypeSlowReader: {
		ProgressDelta:     5,
		AnomalyMultiplier: 1.0,
		SetPattern: map[string]state.PatternValue{
			state.PatternReadingStyle: state.StringValue("careful"),
		},
	},
	TypeObsessive: {
		ProgressDelta:     15,
		AnomalyMultiplier: 2.0,
		Message:           "Looking for something?",
	},
	TypeExplorer: {
		ProgressDelta:     10,
		AnomalyMultiplier: 1.0,
		UnlockBoard:       "hidden",
	},
	TypeHalfway: {
		AnomalyMultiplier: 1.5,
		Message:           "Half the path is behind you. There is no way back.",
	},
	TypeAlmostThere: {
		AnomalyMultiplier: 2.0,
		Message:           "You are almost there. We can feel you.",
	},
	TypeEnlightened: {
		AnomalyMultiplier: 3.0,
		UnlockBoard:       "void",
		Message:           "You see the truth.",
	},
	TypeFoundHidden: {
		ProgressDelta:     20,
		AnomalyMultiplier: 2.0,
	},
	TypePatternSeeker: {
		ProgressDelta:     10,
		AnomalyMultiplier: 1.0,
		SetPattern: map[string]state.PatternValue{
			state.PatternSeeking: state.BoolValue(true),
		},
	},
	TypeTooLong: {
		ProgressDelta:     15,
		AnomalyMultiplier: 1.8,
		Message:           "You should rest now... or should you?",
	},
	TypeMarathon: {
		ProgressDelta:     25,
		AnomalyMultiplier: 2.5,
		ForceAnomaly:      "presence",
	},
	TypeNightOwl: {
		ProgressDelta:     15,
		AnomalyMultiplier: 1.8,
		UnlockBoard:       "nightmare",
	},
	TypeDawnVisitor: {
		ProgressDelta:     5,
		AnomalyMultiplier: 1.0,
		Message:           "Dawn is close. They retreat... for now.",
	},
	TypePosted: {
		ProgressDelta:     10,
		AnomalyMultiplier: 1.0,
	},
	TypeThreadCreator: {
		ProgressDelta:     15,
		AnomalyMultiplier: 1.3,
	},
}

// Result is the outcome of checking one trigger.
type Result struct {
	Type            Type   `json:"trigger_type"`
	Activated       bool   `json:"activated"`
	FirstActivation bool   `json:"first_activation"`
	Effect          Effect `json:"effect"`
}

// Context is the snapshot a condition function evaluates against. It is
// built once per request so every trigger sees the same instant.
type Context struct {
	UserID        string
	Progress      int
	ViewedThreads []int64
	ViewedPosts   []int64
	TimeOnSite    int64
	FirstVisit    time.Time
	LastActivity  time.Time
	TriggersHit   map[Type]bool
	KnownPatterns map[string]state.PatternValue
	Path          string
	Method        string
	Now           time.Time
	IsNight       bool
	IsWitching    bool
	IsDawn        bool
}

func (c *Context) patternInt(key string) int64 {
	if v, ok := c.KnownPatterns[key]; ok {
		return v.Int()
	}
	return 0
}

func (c *Context) patternBool(key string) bool {
	if v, ok := c.KnownPatterns[key]; ok {
		return v.Bool()
	}
	return false
}

// Aggregated folds the effects of several activated triggers into one
// set of instructions for the engine.
//
// TotalProgressDelta, UnlockBoards, UnlockThreads, Messages,
// ForceAnomalies, and PatternsToSet come from first activations only.
// MaxAnomalyMultiplier considers every activated trigger, first time or
// not, so returning behavior keeps amplifying anomaly odds.
type Aggregated struct {
	TotalProgressDelta   int                           `json:"total_progress_delta"`
	MaxAnomalyMultiplier float64                       `json:"max_anomaly_multiplier"`
	UnlockBoards         []string                      `json:"unlocks_boards"`
	UnlockThreads        []int64                       `json:"unlocks_threads"`
	ForceAnomalies       []string                      `json:"force_anomalies"`
	Messages             []string                      `json:"messages"`
	PatternsToSet        map[string]state.PatternValue `json:"patterns_to_set"`
}
