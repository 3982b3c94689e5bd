// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisperboard/ritual-engine/services/ritual/state"
	"github.com/whisperboard/ritual-engine/services/ritual/timeofday"
)

var (
	noonUTC     = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	nightUTC    = time.Date(2025, 6, 10, 23, 0, 0, 0, time.UTC)
	witchingUTC = time.Date(2025, 6, 10, 3, 0, 0, 0, time.UTC)
	dawnUTC     = time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)
)

func checkerAt(t time.Time) *Checker {
	return NewChecker(WithClock(timeofday.FixedClock{T: t}))
}

func activatedTypes(results []Result) []Type {
	types := make([]Type, 0, len(results))
	for _, r := range results {
		types = append(types, r.Type)
	}
	return types
}

func TestFirstVisit(t *testing.T) {
	ch := checkerAt(noonUTC)
	st := state.New("u1", noonUTC)

	results := ch.CheckNew(st, "/api/threads", "GET")
	require.Len(t, results, 1)
	assert.Equal(t, TypeFirstVisit, results[0].Type)
	assert.True(t, results[0].FirstActivation)

	agg := AggregateEffects(results)
	assert.Equal(t, 5, agg.TotalProgressDelta)
	assert.Len(t, agg.Messages, 1)
}

func TestCheckNewSkipsHitTriggers(t *testing.T) {
	ch := checkerAt(noonUTC)
	st := state.New("u1", noonUTC)
	st.AddTrigger(string(TypeFirstVisit))

	results := ch.CheckNew(st, "", "")
	assert.NotContains(t, activatedTypes(results), TypeFirstVisit)
}

func TestCheckAllRevaluatesHitTriggers(t *testing.T) {
	ch := checkerAt(nightUTC)
	st := state.New("u1", nightUTC)
	st.Progress = 10
	st.AddTrigger(string(TypeLateNight))

	results := ch.CheckAll(st, "", "")
	require.Contains(t, activatedTypes(results), TypeLateNight)
	for _, r := range results {
		if r.Type == TypeLateNight {
			assert.False(t, r.FirstActivation)
		}
	}
}

func TestTimeOfDayTriggers(t *testing.T) {
	st := state.New("u1", noonUTC)
	st.Progress = 10

	t.Run("night", func(t *testing.T) {
		types := activatedTypes(checkerAt(nightUTC).CheckAll(st, "", ""))
		assert.Contains(t, types, TypeLateNight)
		assert.NotContains(t, types, TypeWitchingHour)
	})

	t.Run("witching is also night", func(t *testing.T) {
		types := activatedTypes(checkerAt(witchingUTC).CheckAll(st, "", ""))
		assert.Contains(t, types, TypeLateNight)
		assert.Contains(t, types, TypeWitchingHour)
	})

	t.Run("dawn", func(t *testing.T) {
		types := activatedTypes(checkerAt(dawnUTC).CheckAll(st, "", ""))
		assert.Contains(t, types, TypeDawnVisitor)
		assert.NotContains(t, types, TypeLateNight)
	})

	t.Run("noon", func(t *testing.T) {
		types := activatedTypes(checkerAt(noonUTC).CheckAll(st, "", ""))
		assert.NotContains(t, types, TypeLateNight)
		assert.NotContains(t, types, TypeDawnVisitor)
	})
}

func TestReturnee(t *testing.T) {
	ch := checkerAt(noonUTC)

	st := state.New("u1", noonUTC.Add(-8*24*time.Hour))
	st.Progress = 10
	assert.Contains(t, activatedTypes(ch.CheckAll(st, "", "")), TypeReturnee)

	st = state.New("u2", noonUTC.Add(-2*24*time.Hour))
	st.Progress = 10
	assert.NotContains(t, activatedTypes(ch.CheckAll(st, "", "")), TypeReturnee)
}

func TestReadingTriggers(t *testing.T) {
	ch := checkerAt(noonUTC)

	t.Run("deep reader at exactly 20 posts", func(t *testing.T) {
		st := state.New("u1", noonUTC)
		st.Progress = 10
		st.TimeOnSite = 7200
		for i := int64(0); i < 20; i++ {
			st.AddViewedPost(i)
		}
		results := ch.CheckNew(st, "", "")
		require.Contains(t, activatedTypes(results), TypeDeepReader)

		// Once recorded it no longer comes back from CheckNew.
		for _, r := range results {
			st.AddTrigger(string(r.Type))
		}
		st.AddViewedPost(20)
		assert.NotContains(t, activatedTypes(ch.CheckNew(st, "", "")), TypeDeepReader)
	})

	t.Run("speed reader", func(t *testing.T) {
		st := state.New("u1", noonUTC)
		st.Progress = 10
		st.TimeOnSite = 60
		for i := int64(0); i < 10; i++ {
			st.AddViewedPost(i)
		}
		assert.Contains(t, activatedTypes(ch.CheckAll(st, "", "")), TypeSpeedReader)

		// Under a minute on site never counts as speed reading.
		st.TimeOnSite = 30
		assert.NotContains(t, activatedTypes(ch.CheckAll(st, "", "")), TypeSpeedReader)
	})

	t.Run("slow reader", func(t *testing.T) {
		st := state.New("u1", noonUTC)
		st.Progress = 10
		st.TimeOnSite = 400
		for i := int64(0); i < 5; i++ {
			st.AddViewedPost(i)
		}
		assert.Contains(t, activatedTypes(ch.CheckAll(st, "", "")), TypeSlowReader)
	})

	t.Run("obsessive needs majority revisits", func(t *testing.T) {
		st := state.New("u1", noonUTC)
		st.Progress = 10
		for i := int64(0); i < 5; i++ {
			st.AddViewedThread(i)
		}
		st.SetPattern(state.PatternThreadViews, state.IntValue(12))
		assert.Contains(t, activatedTypes(ch.CheckAll(st, "", "")), TypeObsessive)

		st.SetPattern(state.PatternThreadViews, state.IntValue(6))
		assert.NotContains(t, activatedTypes(ch.CheckAll(st, "", "")), TypeObsessive)
	})
}

func TestProgressionTriggers(t *testing.T) {
	ch := checkerAt(noonUTC)

	cases := []struct {
		progress int
		want     []Type
		absent   []Type
	}{
		{49, nil, []Type{TypeHalfway, TypeAlmostThere, TypeEnlightened}},
		{50, []Type{TypeHalfway}, []Type{TypeAlmostThere, TypeEnlightened}},
		{80, []Type{TypeHalfway, TypeAlmostThere}, []Type{TypeEnlightened}},
		{100, []Type{TypeHalfway, TypeAlmostThere, TypeEnlightened}, nil},
	}
	for _, tc := range cases {
		st := state.New("u1", noonUTC)
		st.Progress = tc.progress
		types := activatedTypes(ch.CheckAll(st, "", ""))
		for _, w := range tc.want {
			assert.Contains(t, types, w, "progress %d", tc.progress)
		}
		for _, a := range tc.absent {
			assert.NotContains(t, types, a, "progress %d", tc.progress)
		}
	}
}

func TestPathTriggers(t *testing.T) {
	ch := checkerAt(noonUTC)
	st := state.New("u1", noonUTC)
	st.Progress = 10

	t.Run("found hidden", func(t *testing.T) {
		assert.Contains(t, activatedTypes(ch.CheckAll(st, "/api/boards/hidden", "GET")), TypeFoundHidden)
		assert.Contains(t, activatedTypes(ch.CheckAll(st, "/api/boards/VOID/threads", "GET")), TypeFoundHidden)
		assert.NotContains(t, activatedTypes(ch.CheckAll(st, "/api/boards/general", "GET")), TypeFoundHidden)
	})

	t.Run("posted", func(t *testing.T) {
		types := activatedTypes(ch.CheckAll(st, "/api/threads/3/posts", "POST"))
		assert.Contains(t, types, TypePosted)
		assert.NotContains(t, types, TypeThreadCreator)
	})

	t.Run("thread creator", func(t *testing.T) {
		types := activatedTypes(ch.CheckAll(st, "/api/boards/general/threads", "POST"))
		assert.Contains(t, types, TypeThreadCreator)
		assert.NotContains(t, types, TypePosted)
	})

	t.Run("get never counts as interaction", func(t *testing.T) {
		types := activatedTypes(ch.CheckAll(st, "/api/threads/3/posts", "GET"))
		assert.NotContains(t, types, TypePosted)
	})
}

func TestPatternSeeker(t *testing.T) {
	ch := checkerAt(noonUTC)

	t.Run("sequential thread walking", func(t *testing.T) {
		st := state.New("u1", noonUTC)
		st.Progress = 10
		for _, id := range []int64{10, 11, 12, 13, 40} {
			st.AddViewedThread(id)
		}
		assert.Contains(t, activatedTypes(ch.CheckAll(st, "", "")), TypePatternSeeker)
	})

	t.Run("stored seeking pattern", func(t *testing.T) {
		st := state.New("u1", noonUTC)
		st.Progress = 10
		st.SetPattern(state.PatternSeeking, state.BoolValue(true))
		assert.Contains(t, activatedTypes(ch.CheckAll(st, "", "")), TypePatternSeeker)
	})

	t.Run("scattered views do not fire", func(t *testing.T) {
		st := state.New("u1", noonUTC)
		st.Progress = 10
		for _, id := range []int64{10, 30, 50, 70, 90} {
			st.AddViewedThread(id)
		}
		assert.NotContains(t, activatedTypes(ch.CheckAll(st, "", "")), TypePatternSeeker)
	})
}

func TestSessionLengthTriggers(t *testing.T) {
	ch := checkerAt(noonUTC)
	st := state.New("u1", noonUTC)
	st.Progress = 10

	st.TimeOnSite = 3599
	types := activatedTypes(ch.CheckAll(st, "", ""))
	assert.NotContains(t, types, TypeTooLong)

	st.TimeOnSite = 3600
	types = activatedTypes(ch.CheckAll(st, "", ""))
	assert.Contains(t, types, TypeTooLong)
	assert.NotContains(t, types, TypeMarathon)

	st.TimeOnSite = 10800
	types = activatedTypes(ch.CheckAll(st, "", ""))
	assert.Contains(t, types, TypeMarathon)
}

func TestAggregateEffects(t *testing.T) {
	t.Run("multiplier counts repeat activations", func(t *testing.T) {
		results := []Result{
			{Type: TypeWitchingHour, Activated: true, FirstActivation: false, Effect: Effects[TypeWitchingHour]},
			{Type: TypeLateNight, Activated: true, FirstActivation: true, Effect: Effects[TypeLateNight]},
		}
		agg := AggregateEffects(results)
		assert.Equal(t, 2.5, agg.MaxAnomalyMultiplier)
		// Repeat activation contributes no progress or forced anomaly.
		assert.Equal(t, 5, agg.TotalProgressDelta)
		assert.Empty(t, agg.ForceAnomalies)
	})

	t.Run("first activation carries everything", func(t *testing.T) {
		results := []Result{
			{Type: TypeWitchingHour, Activated: true, FirstActivation: true, Effect: Effects[TypeWitchingHour]},
			{Type: TypeNightOwl, Activated: true, FirstActivation: true, Effect: Effects[TypeNightOwl]},
			{Type: TypeSlowReader, Activated: true, FirstActivation: true, Effect: Effects[TypeSlowReader]},
		}
		agg := AggregateEffects(results)
		assert.Equal(t, 10+15+5, agg.TotalProgressDelta)
		assert.Equal(t, []string{"whisper"}, agg.ForceAnomalies)
		assert.Equal(t, []string{"nightmare"}, agg.UnlockBoards)
		assert.Equal(t, "careful", agg.PatternsToSet[state.PatternReadingStyle].String())
	})

	t.Run("empty input", func(t *testing.T) {
		agg := AggregateEffects(nil)
		assert.Equal(t, 0, agg.TotalProgressDelta)
		assert.Equal(t, 1.0, agg.MaxAnomalyMultiplier)
	})
}
