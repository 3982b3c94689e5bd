// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mutate corrupts board content on its way to a visitor. The
// harder the visitor's ritual progress, the more likely and the more
// visibly their posts and threads decay.
//
// Corruption styles:
//   - glitch: swap characters for block symbols
//   - zalgo: stack combining diacritics for cursed text
//   - replace: swap everyday words for creepy phrasings
//   - insert: splice whispered phrases into the text
//   - redact: black out whole words
package mutate

import (
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/whisperboard/ritual-engine/services/ritual/progress"
	"github.com/whisperboard/ritual-engine/services/ritual/state"
	"github.com/whisperboard/ritual-engine/services/ritual/timeofday"
)

const glitchChars = "░▒▓█▄▀■□▪▫●○◆◇"

// Combining diacritical marks U+0300 through U+031D.
var zalgoMarks = []rune{
	'̀', '́', '̂', '̃', '̄', '̅',
	'̆', '̇', '̈', '̉', '̊', '̋',
	'̌', '̍', '̎', '̏', '̐', '̑',
	'̒', '̓', '̔', '̕', '̖', '̗',
	'̘', '̙', '̚', '̛', '̜', '̝',
}

// Ordered so that no replacement text contains a word checked later:
// "alone" must run before "friend" or its output gets rewritten.
var wordReplacements = []wordReplacement{
	{"hello", []string{"...hello..."}},
	{"welcome", []string{"they are here"}},
	{"help", []string{"help me"}},
	{"answer", []string{"they can hear"}},
	{"time", []string{"time is running out"}},
	{"alone", []string{"never alone"}},
	{"friend", []string{"you are not alone"}},
	{"dark", []string{"they are in the dark"}},
	{"light", []string{"the light is dying"}},
	{"home", []string{"home remembers"}},
	{"night", []string{"the night sees"}},
}

type wordReplacement struct {
	word         string
	alternatives []string
}

var creepyInsertions = []string{
	"...",
	"THEY ARE HERE",
	"DO NOT LOOK BACK",
	"HELP",
	"I SEE YOU",
	"YOU ARE NOT ALONE",
	"SOON",
	"WE ARE WAITING",
	"HE IS WATCHING",
	"RUN",
}

var metaMessages = []string{
	"Still here?",
	"Why are you reading this?",
	"We know you are watching.",
	"Can you feel it?",
	"Do not close the page.",
}

var ghostContents = []string{
	"...",
	"Help me.",
	"Do you see this?",
	"They know you are here.",
	"DO NOT LEAVE",
	"█████████████",
	"I see you.",
	"Why are you still reading?",
	"The exit is closed.",
	"We were waiting for you.",
}

var ghostUsernames = []string{
	"???",
	"█████",
	"Unknown",
	"[deleted]",
	"Observer",
	"Him",
	"...",
}

var overlayTypes = map[progress.Level][]string{
	progress.LevelMedium:   {"static_light", "vignette"},
	progress.LevelHigh:     {"static_medium", "scanlines", "vignette"},
	progress.LevelCritical: {"static_heavy", "glitch", "vignette", "eyes"},
}

// Mutator corrupts text and content records. Safe for concurrent use.
type Mutator struct {
	mu    sync.Mutex
	rng   *rand.Rand
	clock timeofday.Clock
}

// Option configures a Mutator.
type Option func(*Mutator)

// WithRand injects a seeded random source. Used in tests.
func WithRand(rng *rand.Rand) Option {
	return func(m *Mutator) { m.rng = rng }
}

// WithClock overrides the time source. Used in tests.
func WithClock(c timeofday.Clock) Option {
	return func(m *Mutator) { m.clock = c }
}

// NewMutator builds a Mutator with its own random source.
func NewMutator(opts ...Option) *Mutator {
	m := &Mutator{
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		clock: timeofday.SystemClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mutator) randFloat() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64()
}

// randBetween returns a uniform int in [lo, hi].
func (m *Mutator) randBetween(lo, hi int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo + m.rng.Intn(hi-lo+1)
}

func (m *Mutator) randIntn(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Intn(n)
}

func (m *Mutator) choice(items []string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return items[m.rng.Intn(len(items))]
}

func (m *Mutator) perm(n int) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Perm(n)
}

// ShouldCorrupt rolls against the visitor's corruption chance.
func (m *Mutator) ShouldCorrupt(st *state.RitualState) bool {
	chance := progress.CorruptionChance(st.Progress, m.clock.Now())
	return m.randFloat() < chance
}

// CorruptText corrupts text at the given intensity. Intensity is
// clamped to [0,1]; zero or empty input passes through untouched. style
// may name a corruption style directly; when empty one is picked at
// random, with the heavier styles only in play at higher intensity.
func (m *Mutator) CorruptText(text string, intensity float64, style string) string {
	if text == "" || intensity <= 0 {
		return text
	}
	if intensity > 1 {
		intensity = 1
	}

	if style == "" {
		switch {
		case intensity < 0.3:
			style = m.choice([]string{"glitch", "insert"})
		case intensity < 0.6:
			style = m.choice([]string{"glitch", "zalgo", "replace", "insert"})
		default:
			style = m.choice([]string{"glitch", "zalgo", "redact", "replace"})
		}
	}

	switch style {
	case "zalgo":
		return m.applyZalgo(text, intensity)
	case "redact":
		return m.applyRedaction(text, intensity)
	case "replace":
		return m.applyWordReplacement(text)
	case "insert":
		return m.applyInsertion(text, intensity)
	default:
		return m.applyGlitch(text, intensity)
	}
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// applyGlitch swaps random alphanumeric runes for block symbols.
func (m *Mutator) applyGlitch(text string, intensity float64) string {
	runes := []rune(text)
	glyphs := []rune(glitchChars)
	n := int(float64(len(runes)) * intensity * 0.3)

	for i := 0; i < n; i++ {
		idx := m.randIntn(len(runes))
		if isAlnum(runes[idx]) {
			runes[idx] = glyphs[m.randIntn(len(glyphs))]
		}
	}
	return string(runes)
}

// applyZalgo stacks combining marks onto alphanumeric runes.
func (m *Mutator) applyZalgo(text string, intensity float64) string {
	marksPerChar := int(1 + intensity*3)
	var b strings.Builder
	b.Grow(len(text) * 2)

	for _, r := range text {
		b.WriteRune(r)
		if isAlnum(r) && m.randFloat() < intensity {
			for i := 0; i < marksPerChar; i++ {
				b.WriteRune(zalgoMarks[m.randIntn(len(zalgoMarks))])
			}
		}
	}
	return b.String()
}

// applyRedaction blacks out random words.
func (m *Mutator) applyRedaction(text string, intensity float64) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return text
	}
	n := int(float64(len(words)) * intensity * 0.4)
	if n > len(words) {
		n = len(words)
	}

	for _, idx := range m.perm(len(words))[:n] {
		words[idx] = strings.Repeat("█", len([]rune(words[idx])))
	}
	return strings.Join(words, " ")
}

// applyWordReplacement lowercases the text and swaps the first
// occurrence of each known word for its creepy alternative.
func (m *Mutator) applyWordReplacement(text string) string {
	result := strings.ToLower(text)
	for _, r := range wordReplacements {
		if strings.Contains(result, r.word) {
			result = strings.Replace(result, r.word, m.choice(r.alternatives), 1)
		}
	}
	return result
}

// applyInsertion splices a whispered phrase between words. The roll
// against intensity means low-progress visitors usually get the text
// back unchanged.
func (m *Mutator) applyInsertion(text string, intensity float64) string {
	if m.randFloat() > intensity {
		return text
	}

	words := strings.Fields(text)
	if len(words) <= 3 {
		return text
	}

	insertion := "\n" + m.choice(creepyInsertions) + "\n"
	pos := m.randBetween(1, len(words)-1)
	words = append(words[:pos], append([]string{insertion}, words[pos:]...)...)
	return strings.Join(words, " ")
}

// MutatePost returns a corrupted copy of a post record. The original
// map is never modified. Corruption happens only when the visitor's
// corruption roll passes; markers prefixed with "_" tell the frontend
// what happened.
func (m *Mutator) MutatePost(post map[string]any, st *state.RitualState) map[string]any {
	result := make(map[string]any, len(post)+2)
	for k, v := range post {
		result[k] = v
	}

	if !m.ShouldCorrupt(st) {
		return result
	}

	intensity := progress.CorruptionIntensity(st.Progress)

	if content, ok := result["content"].(string); ok && content != "" {
		// Some styles roll against intensity and may leave the text
		// untouched; only mark the post when something changed.
		if corrupted := m.CorruptText(content, intensity, ""); corrupted != content {
			result["content"] = corrupted
			result["_corrupted"] = true
		}
	}

	level := progress.GetLevel(st.Progress)
	if level == progress.LevelHigh || level == progress.LevelCritical {
		if m.randFloat() < 0.3 {
			result["_meta_message"] = m.choice(metaMessages)
		}
	}

	// Critical-level readers sometimes see an edit timestamp that was
	// never there.
	if level == progress.LevelCritical && m.randFloat() < 0.2 {
		result["_fake_edit"] = m.clock.Now().Format(time.RFC3339Nano)
	}

	return result
}

// MutateThread returns a corrupted copy of a thread record. Titles
// corrupt at half the usual rate and always with the glitch style, so
// they stay mostly legible.
func (m *Mutator) MutateThread(thread map[string]any, st *state.RitualState) map[string]any {
	result := make(map[string]any, len(thread)+2)
	for k, v := range thread {
		result[k] = v
	}

	if !m.ShouldCorrupt(st) {
		return result
	}

	intensity := progress.CorruptionIntensity(st.Progress)

	if title, ok := result["title"].(string); ok && title != "" {
		if m.randFloat() < intensity*0.5 {
			result["title"] = m.CorruptText(title, intensity*0.5, "glitch")
			result["_title_corrupted"] = true
		}
	}

	level := progress.GetLevel(st.Progress)
	if level == progress.LevelHigh || level == progress.LevelCritical {
		if views, ok := asInt(result["views"]); ok && m.randFloat() < 0.4 {
			result["views"] = views + m.randBetween(3, 13)
			result["_viewers_watching"] = m.randBetween(2, 7)
		}
	}

	return result
}

// asInt normalizes the numeric types a decoded JSON record may carry.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// GenerateFakePost builds a ghost post for new_post anomalies. The fake
// ID of -1 marks it as never having existed; _disappears_in tells the
// frontend when to fade it out.
func (m *Mutator) GenerateFakePost(st *state.RitualState, threadID int64) map[string]any {
	return map[string]any{
		"id":             int64(-1),
		"thread_id":      threadID,
		"content":        m.choice(ghostContents),
		"username":       m.choice(ghostUsernames),
		"created_at":     m.clock.Now().Format(time.RFC3339Nano),
		"_is_ghost":      true,
		"_disappears_in": m.randBetween(5000, 15000),
	}
}

// CorruptionOverlay builds the visual overlay configuration for the
// visitor's level, or nil below medium.
func (m *Mutator) CorruptionOverlay(st *state.RitualState) map[string]any {
	level := progress.GetLevel(st.Progress)
	available, ok := overlayTypes[level]
	if !ok {
		return nil
	}

	return map[string]any{
		"type":        m.choice(available),
		"intensity":   progress.CorruptionIntensity(st.Progress),
		"duration_ms": m.randBetween(1000, 5000),
	}
}
