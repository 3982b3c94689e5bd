// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package trigger

import (
	"strings"
	"time"

	"github.com/whisperboard/ritual-engine/services/ritual/state"
	"github.com/whisperboard/ritual-engine/services/ritual/timeofday"
)

// Behavioral thresholds used by the condition functions.
const (
	returneeGap        = 7 * 24 * time.Hour
	frequentVisitCount = 5
	deepReaderPosts    = 20
	explorerThreads    = 15
	tooLongSeconds     = 3600
	marathonSeconds    = 10800
	nightOwlVisits     = 3
)

// Path fragments that count as hidden content.
var hiddenIndicators = []string{"hidden", "secret", "void", "nightmare"}

type condition func(*Context) bool

// Checker evaluates trigger conditions against a visitor's state.
//
// The condition table is built once at construction. Checker is safe for
// concurrent use; conditions only read the Context they are given.
type Checker struct {
	conditions map[Type]condition
	clock      timeofday.Clock
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithClock overrides the time source. Used in tests.
func WithClock(c timeofday.Clock) CheckerOption {
	return func(ch *Checker) { ch.clock = c }
}

// NewChecker builds a Checker with the full condition table.
func NewChecker(opts ...CheckerOption) *Checker {
	ch := &Checker{clock: timeofday.SystemClock{}}
	for _, opt := range opts {
		opt(ch)
	}
	ch.conditions = map[Type]condition{
		TypeFirstVisit: func(ctx *Context) bool {
			return ctx.Progress == 0
		},
		TypeReturnee: checkReturnee,
		TypeFrequentVisitor: func(ctx *Context) bool {
			return ctx.patternInt(state.PatternVisitCount) >= frequentVisitCount
		},
		TypeLateNight: func(ctx *Context) bool {
			return ctx.IsNight
		},
		TypeWitchingHour: func(ctx *Context) bool {
			return ctx.IsWitching
		},
		TypeDeepReader: func(ctx *Context) bool {
			return len(ctx.ViewedPosts) >= deepReaderPosts
		},
		TypeSpeedReader: checkSpeedReader,
		TypeSlowReader:  checkSlowReader,
		TypeObsessive:   checkObsessive,
		TypeExplorer: func(ctx *Context) bool {
			return len(ctx.ViewedThreads) >= explorerThreads
		},
		TypeHalfway: func(ctx *Context) bool {
			return ctx.Progress >= 50
		},
		TypeAlmostThere: func(ctx *Context) bool {
			return ctx.Progress >= 80
		},
		TypeEnlightened: func(ctx *Context) bool {
			return ctx.Progress >= 100
		},
		TypeFoundHidden: checkFoundHidden,
		TypePatternSeeker: func(ctx *Context) bool {
			return ctx.patternBool(state.PatternSeeking) || checkSequentialViews(ctx)
		},
		TypeTooLong: func(ctx *Context) bool {
			return ctx.TimeOnSite >= tooLongSeconds
		},
		TypeMarathon: func(ctx *Context) bool {
			return ctx.TimeOnSite >= marathonSeconds
		},
		TypeNightOwl: func(ctx *Context) bool {
			return ctx.patternInt(state.PatternNightVisits) >= nightOwlVisits
		},
		TypeDawnVisitor: func(ctx *Context) bool {
			return ctx.IsDawn
		},
		TypePosted: func(ctx *Context) bool {
			return ctx.Method == "POST" && strings.Contains(ctx.Path, "/posts")
		},
		TypeThreadCreator: func(ctx *Context) bool {
			return ctx.Method == "POST" &&
				strings.Contains(ctx.Path, "/threads") &&
				!strings.Contains(ctx.Path, "/posts")
		},
	}
	return ch
}

func checkReturnee(ctx *Context) bool {
	if ctx.FirstVisit.IsZero() {
		return false
	}
	return ctx.Now.Sub(ctx.FirstVisit) >= returneeGap
}

// checkSpeedReader fires on more than 5 posts per minute after at least
// a minute on site.
func checkSpeedReader(ctx *Context) bool {
	if ctx.TimeOnSite < 60 {
		return false
	}
	postsPerMinute := float64(len(ctx.ViewedPosts)) / (float64(ctx.TimeOnSite) / 60)
	return postsPerMinute > 5
}

// checkSlowReader fires when the average time per post exceeds a minute,
// over at least five posts.
func checkSlowReader(ctx *Context) bool {
	if len(ctx.ViewedPosts) < 5 {
		return false
	}
	avg := float64(ctx.TimeOnSite) / float64(len(ctx.ViewedPosts))
	return avg > 60
}

// checkObsessive fires when more than half of at least five thread views
// are revisits. The viewed list deduplicates, so revisits show up as the
// visit count running ahead of the list length.
func checkObsessive(ctx *Context) bool {
	if len(ctx.ViewedThreads) < 5 {
		return false
	}
	views := ctx.patternInt(state.PatternThreadViews)
	if views <= 0 {
		return false
	}
	revisitRatio := 1 - float64(len(ctx.ViewedThreads))/float64(views)
	return revisitRatio > 0.5
}

func checkFoundHidden(ctx *Context) bool {
	if ctx.Path == "" {
		return false
	}
	lower := strings.ToLower(ctx.Path)
	for _, ind := range hiddenIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// checkSequentialViews fires on three or more adjacent-ID thread views
// among at least five, a sign the visitor is walking IDs in order.
func checkSequentialViews(ctx *Context) bool {
	threads := ctx.ViewedThreads
	if len(threads) < 5 {
		return false
	}
	sequential := 0
	for i := 1; i < len(threads); i++ {
		diff := threads[i] - threads[i-1]
		if diff == 1 || diff == -1 {
			sequential++
		}
	}
	return sequential >= 3
}

// BuildContext snapshots a state plus the current request into a
// Context. path and method may be empty for non-request checks.
func (ch *Checker) BuildContext(st *state.RitualState, path, method string) *Context {
	now := ch.clock.Now()
	hit := make(map[Type]bool, len(st.TriggersHit))
	for _, name := range st.TriggersHit {
		hit[Type(name)] = true
	}
	return &Context{
		UserID:        st.UserID,
		Progress:      st.Progress,
		ViewedThreads: st.ViewedThreads,
		ViewedPosts:   st.ViewedPosts,
		TimeOnSite:    st.TimeOnSite,
		FirstVisit:    st.FirstVisit,
		LastActivity:  st.LastActivity,
		TriggersHit:   hit,
		KnownPatterns: st.KnownPatterns,
		Path:          path,
		Method:        method,
		Now:           now,
		IsNight:       timeofday.IsNight(now),
		IsWitching:    timeofday.IsWitching(now),
		IsDawn:        timeofday.BucketAt(now) == timeofday.BucketDawn,
	}
}

// Check evaluates a single trigger against ctx.
func (ch *Checker) Check(t Type, ctx *Context) Result {
	cond, ok := ch.conditions[t]
	if !ok || !cond(ctx) {
		return Result{Type: t}
	}
	return Result{
		Type:            t,
		Activated:       true,
		FirstActivation: !ctx.TriggersHit[t],
		Effect:          Effects[t],
	}
}

// CheckAll evaluates every trigger and returns the activated ones.
// Previously fired triggers are evaluated again; their results carry
// FirstActivation=false.
func (ch *Checker) CheckAll(st *state.RitualState, path, method string) []Result {
	ctx := ch.BuildContext(st, path, method)
	var results []Result
	for _, t := range AllTypes {
		if r := ch.Check(t, ctx); r.Activated {
			results = append(results, r)
		}
	}
	return results
}

// CheckNew evaluates only triggers the visitor has never fired and
// returns the activated ones.
func (ch *Checker) CheckNew(st *state.RitualState, path, method string) []Result {
	ctx := ch.BuildContext(st, path, method)
	var results []Result
	for _, t := range AllTypes {
		if ctx.TriggersHit[t] {
			continue
		}
		if r := ch.Check(t, ctx); r.Activated {
			results = append(results, r)
		}
	}
	return results
}

// AggregateEffects folds activated results into one instruction set.
// Progress, messages, unlocks, forced anomalies, and pattern writes
// apply on first activation only; the anomaly multiplier is the maximum
// across all activated triggers.
func AggregateEffects(results []Result) Aggregated {
	agg := Aggregated{
		MaxAnomalyMultiplier: 1.0,
		UnlockBoards:         []string{},
		UnlockThreads:        []int64{},
		ForceAnomalies:       []string{},
		Messages:             []string{},
		PatternsToSet:        map[string]state.PatternValue{},
	}
	for _, r := range results {
		if !r.Activated {
			continue
		}
		e := r.Effect

		if r.FirstActivation {
			agg.TotalProgressDelta += e.ProgressDelta
			if e.Message != "" {
				agg.Messages = append(agg.Messages, e.Message)
			}
			if e.UnlockBoard != "" {
				agg.UnlockBoards = append(agg.UnlockBoards, e.UnlockBoard)
			}
			if e.UnlockThread != 0 {
				agg.UnlockThreads = append(agg.UnlockThreads, e.UnlockThread)
			}
			if e.ForceAnomaly != "" {
				agg.ForceAnomalies = append(agg.ForceAnomalies, e.ForceAnomaly)
			}
			for k, v := range e.SetPattern {
				agg.PatternsToSet[k] = v
			}
		}

		if e.AnomalyMultiplier > agg.MaxAnomalyMultiplier {
			agg.MaxAnomalyMultiplier = e.AnomalyMultiplier
		}
	}
	return agg
}
