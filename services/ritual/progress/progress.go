// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package progress maps a visitor's ritual progress to intensity levels
// and converts those levels into anomaly and corruption probabilities.
// All functions are pure; time-dependent ones take an explicit instant.
package progress

import (
	"math"
	"time"

	"github.com/whisperboard/ritual-engine/services/ritual/timeofday"
)

// Level is an intensity band derived from progress.
type Level string

const (
	LevelLow      Level = "low"      // 0-20
	LevelMedium   Level = "medium"   // 21-50
	LevelHigh     Level = "high"     // 51-80
	LevelCritical Level = "critical" // 81-100
)

// Probability caps. Even a maxed-out visitor in the witching hour never
// crosses these.
const (
	maxAnomalyChance    = 0.95
	maxCorruptionChance = 0.8
)

// Extra factor applied on top of the time-of-day multiplier during the
// witching hour.
const witchingBonus = 1.5

// Base anomaly chance per level.
var anomalyChance = map[Level]float64{
	LevelLow:      0.02,
	LevelMedium:   0.08,
	LevelHigh:     0.20,
	LevelCritical: 0.40,
}

// Base content corruption chance per level.
var corruptionChance = map[Level]float64{
	LevelLow:      0,
	LevelMedium:   0.05,
	LevelHigh:     0.15,
	LevelCritical: 0.35,
}

// GetLevel buckets a progress value into its intensity level. Values
// outside [0,100] are clamped first.
func GetLevel(p int) Level {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	switch {
	case p <= 20:
		return LevelLow
	case p <= 50:
		return LevelMedium
	case p <= 80:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// AnomalyChance returns the probability of a spontaneous anomaly for the
// given progress at the given instant. multiplier comes from whichever
// trigger effects fired on the request (1.0 when none did). During the
// witching hour an extra factor applies on top of the time-of-day
// multiplier. Capped at 0.95.
func AnomalyChance(p int, multiplier float64, at time.Time) float64 {
	chance := anomalyChance[GetLevel(p)]
	chance *= multiplier
	chance *= timeofday.Multiplier(at)
	if timeofday.IsWitching(at) {
		chance *= witchingBonus
	}
	return math.Min(chance, maxAnomalyChance)
}

// CorruptionChance returns the probability that a piece of content gets
// corrupted for the given progress at the given instant. Capped at 0.8.
func CorruptionChance(p int, at time.Time) float64 {
	chance := corruptionChance[GetLevel(p)]
	chance *= timeofday.Multiplier(at)
	return math.Min(chance, maxCorruptionChance)
}

// CorruptionIntensity converts progress into a text corruption intensity.
// Scales linearly with progress and gains a 1.3x boost at 80 and above;
// the boosted value is passed through as-is.
func CorruptionIntensity(p int) float64 {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	intensity := float64(p) / 100
	if p >= 80 {
		intensity *= 1.3
	}
	return intensity
}

// Base progress awards per action.
const (
	perThreadView = 1.0
	perPostView   = 0.5
	perMinute     = 0.1
)

// ThreadViewProgress is the progress earned for viewing a previously
// unseen thread. Revisits earn nothing.
func ThreadViewProgress() int { return int(perThreadView) }

// PostViewProgress is the progress earned for viewing a previously
// unseen post. The half-point base rounds up to a whole point.
func PostViewProgress() int {
	if perPostView >= 0.5 {
		return 1
	}
	return 0
}

// TimeProgress is the progress earned for an activity report covering
// the given span, a tenth of a point per minute in whole points.
func TimeProgress(seconds int64) int {
	if seconds <= 0 {
		return 0
	}
	return int(float64(seconds) / 60 * perMinute)
}

// Description returns a short in-world description of the visitor's
// standing at the given progress.
func Description(p int) string {
	switch GetLevel(p) {
	case LevelLow:
		return "The board seems ordinary. Almost."
	case LevelMedium:
		return "Something watches between the threads."
	case LevelHigh:
		return "The text no longer behaves. Neither should you."
	default:
		return "There is no board. There never was. Keep reading."
	}
}

// Estimate describes how much more activity a visitor needs to reach
// the next intensity level.
type Estimate struct {
	ProgressNeeded int   `json:"progress_needed"`
	ThreadsToView  int   `json:"threads_to_view"`
	PostsToView    int   `json:"posts_to_view"`
	MinutesOnSite  int   `json:"minutes_on_site"`
	NextLevel      Level `json:"next_level"`
}

// EstimateToNextLevel estimates the remaining activity to reach the next
// level. Returns nil at the critical level.
func EstimateToNextLevel(p int) *Estimate {
	if p < 0 {
		p = 0
	}

	var threshold int
	var next Level
	switch GetLevel(p) {
	case LevelLow:
		threshold, next = 21, LevelMedium
	case LevelMedium:
		threshold, next = 51, LevelHigh
	case LevelHigh:
		threshold, next = 81, LevelCritical
	default:
		return nil
	}

	needed := threshold - p
	return &Estimate{
		ProgressNeeded: needed,
		ThreadsToView:  int(float64(needed) / perThreadView),
		PostsToView:    int(float64(needed) / perPostView),
		MinutesOnSite:  int(float64(needed) / perMinute),
		NextLevel:      next,
	}
}
