// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package timeofday

import (
	"testing"
	"time"
)

func at(hour int) time.Time {
	return time.Date(2025, 6, 1, hour, 30, 0, 0, time.UTC)
}

func TestBucketAt(t *testing.T) {
	cases := []struct {
		hour int
		want Bucket
	}{
		{2, BucketWitching},
		{4, BucketWitching},
		{5, BucketDawn},
		{7, BucketDawn},
		{8, BucketMorning},
		{11, BucketMorning},
		{12, BucketAfternoon},
		{17, BucketAfternoon},
		{18, BucketEvening},
		{21, BucketEvening},
		{22, BucketNight},
		{23, BucketNight},
		{0, BucketNight},
		{1, BucketNight},
	}
	for _, tc := range cases {
		if got := BucketAt(at(tc.hour)); got != tc.want {
			t.Errorf("BucketAt(hour=%d) = %s, want %s", tc.hour, got, tc.want)
		}
	}
}

func TestNightAndWitching(t *testing.T) {
	for _, hour := range []int{22, 23, 0, 3, 5} {
		if !IsNight(at(hour)) {
			t.Errorf("hour %d should be night", hour)
		}
	}
	for _, hour := range []int{6, 12, 21} {
		if IsNight(at(hour)) {
			t.Errorf("hour %d should not be night", hour)
		}
	}

	for _, hour := range []int{2, 3, 4} {
		if !IsWitching(at(hour)) {
			t.Errorf("hour %d should be witching", hour)
		}
	}
	for _, hour := range []int{1, 5, 23} {
		if IsWitching(at(hour)) {
			t.Errorf("hour %d should not be witching", hour)
		}
	}
}

func TestMultiplier(t *testing.T) {
	cases := []struct {
		hour int
		want float64
	}{
		{3, 2.5},
		{6, 0.8},
		{9, 0.5},
		{14, 0.7},
		{19, 1.0},
		{23, 1.5},
	}
	for _, tc := range cases {
		if got := Multiplier(at(tc.hour)); got != tc.want {
			t.Errorf("Multiplier(hour=%d) = %f, want %f", tc.hour, got, tc.want)
		}
	}
}
