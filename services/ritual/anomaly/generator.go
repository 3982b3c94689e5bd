// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package anomaly

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/whisperboard/ritual-engine/services/ritual/progress"
	"github.com/whisperboard/ritual-engine/services/ritual/state"
	"github.com/whisperboard/ritual-engine/services/ritual/timeofday"
)

// Generator produces anomaly events weighted by a visitor's progress
// level. Safe for concurrent use; the random source is guarded by a
// mutex.
type Generator struct {
	mu    sync.Mutex
	rng   *rand.Rand
	clock timeofday.Clock
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand injects a seeded random source. Used in tests.
func WithRand(rng *rand.Rand) Option {
	return func(g *Generator) { g.rng = rng }
}

// WithClock overrides the time source. Used in tests.
func WithClock(c timeofday.Clock) Option {
	return func(g *Generator) { g.clock = c }
}

// NewGenerator builds a Generator with its own random source.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		clock: timeofday.SystemClock{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) randFloat() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64()
}

// randBetween returns a uniform int in [lo, hi].
func (g *Generator) randBetween(lo, hi int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return lo + g.rng.Intn(hi-lo+1)
}

func (g *Generator) choiceString(items []string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return items[g.rng.Intn(len(items))]
}

func (g *Generator) choiceInt64(items []int64) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return items[g.rng.Intn(len(items))]
}

func (g *Generator) choiceType(items []Type) Type {
	g.mu.Lock()
	defer g.mu.Unlock()
	return items[g.rng.Intn(len(items))]
}

// ShouldGenerate rolls against the visitor's current anomaly chance.
// multiplier comes from trigger effects (1.0 when none fired).
func (g *Generator) ShouldGenerate(st *state.RitualState, multiplier float64) bool {
	chance := progress.AnomalyChance(st.Progress, multiplier, g.clock.Now())
	return g.randFloat() < chance
}

// Generate produces a random anomaly drawn from the visitor's
// level-appropriate pool. targetID may be 0 when no post or thread is in
// scope; triggeredBy may be empty.
func (g *Generator) Generate(st *state.RitualState, targetID int64, triggeredBy string) *Event {
	level := progress.GetLevel(st.Progress)
	t := g.selectType(level)
	severity := g.selectSeverity(level)
	data := g.customData(t, st, level)
	return newEvent(t, severity, targetID, data, triggeredBy, g.clock.Now())
}

// GenerateSpecific produces an anomaly of an exact type. customData
// entries override the generated payload.
func (g *Generator) GenerateSpecific(t Type, st *state.RitualState, targetID int64, customData map[string]any, triggeredBy string) *Event {
	level := progress.GetLevel(st.Progress)
	severity := g.selectSeverity(level)

	data := g.customData(t, st, level)
	for k, v := range customData {
		data[k] = v
	}
	return newEvent(t, severity, targetID, data, triggeredBy, g.clock.Now())
}

// GenerateBatch produces count anomalies with staggered, strictly
// increasing delays for burst playback.
func (g *Generator) GenerateBatch(st *state.RitualState, count int) []*Event {
	events := make([]*Event, 0, count)
	baseDelay := 0
	for i := 0; i < count; i++ {
		ev := g.Generate(st, 0, "")
		ev.DelayMS = baseDelay + g.randBetween(500, 2000)
		baseDelay = ev.DelayMS
		events = append(events, ev)
	}
	return events
}

// NightBurstCount is how many anomalies a night burst plays for the
// given level.
func NightBurstCount(level progress.Level) int {
	switch level {
	case progress.LevelMedium:
		return 2
	case progress.LevelHigh:
		return 4
	case progress.LevelCritical:
		return 7
	default:
		return 1
	}
}

// WitchingHourBurst produces the intensified burst played between 2 and
// 5 AM. Every event is intense, drawn from the dread pool, and spaced
// out by multi-second delays.
func (g *Generator) WitchingHourBurst(st *state.RitualState) []*Event {
	level := progress.GetLevel(st.Progress)
	count := NightBurstCount(level) + 2

	events := make([]*Event, 0, count)
	for i := 0; i < count; i++ {
		t := g.choiceType(witchingTypes)
		ev := g.GenerateSpecific(t, st, 0, nil, "witching_hour")
		ev.Severity = SeverityIntense
		ev.DelayMS = i * g.randBetween(2000, 5000)
		events = append(events, ev)
	}
	return events
}

func (g *Generator) selectType(level progress.Level) Type {
	pool, ok := pools[level]
	if !ok {
		pool = pools[progress.LevelLow]
	}

	total := 0.0
	for _, entry := range pool {
		total += entry.w
	}
	roll := g.randFloat() * total
	for _, entry := range pool {
		roll -= entry.w
		if roll < 0 {
			return entry.t
		}
	}
	return pool[len(pool)-1].t
}

func (g *Generator) selectSeverity(level progress.Level) Severity {
	weights, ok := severityWeights[level]
	if !ok {
		weights = severityWeights[progress.LevelLow]
	}

	total := 0.0
	for _, entry := range weights {
		total += entry.w
	}
	roll := g.randFloat() * total
	for _, entry := range weights {
		roll -= entry.w
		if roll < 0 {
			return entry.s
		}
	}
	return weights[len(weights)-1].s
}

// customData fills the type-specific payload.
func (g *Generator) customData(t Type, st *state.RitualState, level progress.Level) map[string]any {
	data := map[string]any{}

	switch t {
	case TypeWhisper:
		data["message"] = g.choiceString(whisperMessages)

	case TypePresence:
		data["message"] = g.choiceString(presenceMessages)

	case TypeRecognition:
		data["message"] = g.choiceString(recognitionMessages)

	case TypeMemory:
		if len(st.ViewedThreads) > 0 {
			data["referenced_thread"] = g.choiceInt64(st.ViewedThreads)
			data["message"] = "Remember that thread? It remembers you."
		}

	case TypeViewerCount:
		count := g.randBetween(3, 12)
		if timeofday.IsWitching(g.clock.Now()) {
			count += g.randBetween(10, 30)
		}
		data["count"] = count
		data["message"] = fmt.Sprintf("Reading now: %d", count)

	case TypePostCorrupt:
		if lvl, ok := corruptionLevels[level]; ok {
			data["corruption_level"] = lvl
		} else {
			data["corruption_level"] = 0.3
		}

	case TypeGlitch:
		data["effect"] = g.choiceString(glitchEffects)

	case TypeTyping:
		data["text"] = g.choiceString(typingTexts)

	case TypeCursor:
		data["behavior"] = g.choiceString(cursorBehaviors)

	case TypeHeartbeat:
		data["bpm"] = 60 + int(float64(st.Progress)*0.6)
	}

	return data
}
