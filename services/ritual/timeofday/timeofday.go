// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package timeofday provides time-of-day classification for trigger
// evaluation and anomaly scheduling.
//
// The day is divided into six buckets, each carrying an anomaly activity
// multiplier. The witching hour (02:00-04:59) is the peak window; morning
// is the quietest. All functions take an explicit time.Time so callers can
// inject a Clock for deterministic tests.
package timeofday

import "time"

// Bucket is a discretized period of the day.
type Bucket string

const (
	// BucketWitching covers 02:00-04:59, the peak anomaly window.
	BucketWitching Bucket = "witching"

	// BucketDawn covers 05:00-07:59.
	BucketDawn Bucket = "dawn"

	// BucketMorning covers 08:00-11:59, the quietest period.
	BucketMorning Bucket = "morning"

	// BucketAfternoon covers 12:00-17:59.
	BucketAfternoon Bucket = "afternoon"

	// BucketEvening covers 18:00-21:59, baseline activity.
	BucketEvening Bucket = "evening"

	// BucketNight covers 22:00-01:59.
	BucketNight Bucket = "night"
)

// Clock abstracts time.Now so time-sensitive behavior can be pinned in
// tests. Production code uses SystemClock.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the real current time.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. For tests.
type FixedClock struct {
	T time.Time
}

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time { return c.T }

// BucketAt returns the bucket the given instant falls into.
func BucketAt(t time.Time) Bucket {
	hour := t.Hour()
	switch {
	case hour >= 2 && hour < 5:
		return BucketWitching
	case hour >= 5 && hour < 8:
		return BucketDawn
	case hour >= 8 && hour < 12:
		return BucketMorning
	case hour >= 12 && hour < 18:
		return BucketAfternoon
	case hour >= 18 && hour < 22:
		return BucketEvening
	default: // 22-23 or 0-1
		return BucketNight
	}
}

// IsNight reports whether the instant falls in the night window used by
// night-related triggers (22:00-05:59).
func IsNight(t time.Time) bool {
	hour := t.Hour()
	return hour >= 22 || hour < 6
}

// IsWitching reports whether the instant falls in the witching hour
// (02:00-04:59), the maximum anomaly activity period.
func IsWitching(t time.Time) bool {
	hour := t.Hour()
	return hour >= 2 && hour < 5
}

// Multiplier returns the anomaly chance multiplier for the instant's
// bucket. 1.0 is baseline (evening); the witching hour peaks at 2.5.
func Multiplier(t time.Time) float64 {
	switch BucketAt(t) {
	case BucketWitching:
		return 2.5
	case BucketDawn:
		return 0.8
	case BucketMorning:
		return 0.5
	case BucketAfternoon:
		return 0.7
	case BucketEvening:
		return 1.0
	case BucketNight:
		return 1.5
	default:
		return 1.0
	}
}
