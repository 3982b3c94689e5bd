// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ritual orchestrates the curse system: per-visitor state,
// behavioral triggers, anomaly generation, real-time delivery queues,
// and content corruption.
//
// # Description
//
// The Engine is the single entry point the HTTP layer talks to. On
// every tracked request it loads (or creates) the visitor's state,
// fires newly met triggers, applies their effects, maybe rolls a
// spontaneous anomaly for connected visitors, and persists the state.
// Content handlers ask it to mutate posts and threads on the way out;
// the websocket handler drains the visitor's anomaly queue through it.
package ritual

import (
	"context"
	"time"

	"github.com/whisperboard/ritual-engine/pkg/logging"
	"github.com/whisperboard/ritual-engine/services/ritual/anomaly"
	"github.com/whisperboard/ritual-engine/services/ritual/mutate"
	"github.com/whisperboard/ritual-engine/services/ritual/observability"
	"github.com/whisperboard/ritual-engine/services/ritual/progress"
	"github.com/whisperboard/ritual-engine/services/ritual/queue"
	"github.com/whisperboard/ritual-engine/services/ritual/registry"
	"github.com/whisperboard/ritual-engine/services/ritual/state"
	"github.com/whisperboard/ritual-engine/services/ritual/timeofday"
	"github.com/whisperboard/ritual-engine/services/ritual/trigger"
)

// visitGap is the idle span after which a request counts as a new
// visit for visit_count and night_visits bookkeeping.
const visitGap = 30 * time.Minute

// Engine wires the ritual subsystems together.
type Engine struct {
	store    *state.Store
	checker  *trigger.Checker
	gen      *anomaly.Generator
	mutator  *mutate.Mutator
	queues   *queue.Manager
	registry *registry.Registry
	log      *logging.Logger
	metrics  *observability.EngineMetrics
	clock    timeofday.Clock
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics attaches Prometheus metrics. Without it the engine runs
// unmetered, which keeps tests free of global registry state.
func WithMetrics(m *observability.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source everywhere at once. Used in
// tests.
func WithClock(c timeofday.Clock) Option {
	return func(e *Engine) {
		e.clock = c
		e.checker = trigger.NewChecker(trigger.WithClock(c))
		e.gen = anomaly.NewGenerator(anomaly.WithClock(c))
		e.mutator = mutate.NewMutator(mutate.WithClock(c))
		e.queues = queue.NewManager(queue.WithClock(c))
		e.registry = registry.New(registry.WithClock(c))
	}
}

// WithGenerator overrides the anomaly generator.
func WithGenerator(g *anomaly.Generator) Option {
	return func(e *Engine) { e.gen = g }
}

// WithMutator overrides the content mutator.
func WithMutator(m *mutate.Mutator) Option {
	return func(e *Engine) { e.mutator = m }
}

// WithQueues overrides the queue manager.
func WithQueues(q *queue.Manager) Option {
	return func(e *Engine) { e.queues = q }
}

// WithRegistry overrides the connection registry.
func WithRegistry(r *registry.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// NewEngine builds an Engine on top of an open state store.
func NewEngine(store *state.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		checker:  trigger.NewChecker(),
		gen:      anomaly.NewGenerator(),
		mutator:  mutate.NewMutator(),
		queues:   queue.NewManager(),
		registry: registry.New(),
		log:      logging.Default(),
		clock:    timeofday.SystemClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Queues exposes the queue manager to the websocket handler.
func (e *Engine) Queues() *queue.Manager { return e.queues }

// =============================================================================
// Request processing
// =============================================================================

// OnRequest processes one tracked request. It returns the visitor's
// state after all effects applied and whether the visitor is new.
//
// The sequence: get-or-create state, fold visit bookkeeping, fire newly
// met triggers, apply their aggregated effects, queue forced anomalies
// and trigger messages, maybe roll a spontaneous anomaly for connected
// visitors, save.
func (e *Engine) OnRequest(ctx context.Context, userID, path, method string) (*state.RitualState, bool, error) {
	st, isNew, err := e.store.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if isNew {
		e.log.Info("new visitor", "user_id", userID)
	}

	e.foldVisit(st, isNew)

	results := e.checker.CheckNew(st, path, method)
	agg := trigger.AggregateEffects(results)

	if agg.TotalProgressDelta != 0 {
		st.ApplyProgressDelta(agg.TotalProgressDelta)
	}
	for _, r := range results {
		if r.FirstActivation {
			st.AddTrigger(string(r.Type))
			e.log.Info("trigger activated", "user_id", userID, "trigger", string(r.Type))
			if e.metrics != nil {
				e.metrics.RecordTrigger(string(r.Type))
			}
		}
	}
	for k, v := range agg.PatternsToSet {
		st.SetPattern(k, v)
	}

	for _, name := range agg.ForceAnomalies {
		t := anomaly.Type(name)
		if !t.Valid() {
			e.log.Warn("unknown forced anomaly type", "type", name)
			continue
		}
		e.pushEvent(userID, e.gen.GenerateSpecific(t, st, 0, nil, "trigger"))
	}

	// Trigger messages ride the live channel as notifications.
	for _, msg := range agg.Messages {
		ev := e.gen.GenerateSpecific(anomaly.TypeNotification, st, 0,
			map[string]any{"title": "", "body": msg, "message": msg}, "trigger")
		e.pushEvent(userID, ev)
	}

	if e.registry.IsConnected(userID) && e.gen.ShouldGenerate(st, agg.MaxAnomalyMultiplier) {
		ev := e.gen.Generate(st, 0, "")
		e.pushEvent(userID, ev)
		e.log.Debug("spontaneous anomaly", "user_id", userID, "type", string(ev.Type))
	}

	if err := e.store.Save(ctx, st); err != nil {
		return nil, false, err
	}
	if e.metrics != nil {
		e.metrics.RecordRequest(false)
	}
	return st, isNew, nil
}

// foldVisit updates visit_count and night_visits when the request
// starts a fresh visit.
func (e *Engine) foldVisit(st *state.RitualState, isNew bool) {
	now := e.clock.Now()
	if !isNew && now.Sub(st.LastActivity) < visitGap {
		return
	}
	st.SetPattern(state.PatternVisitCount,
		state.IntValue(st.PatternInt(state.PatternVisitCount)+1))
	if timeofday.IsNight(now) {
		st.SetPattern(state.PatternNightVisits,
			state.IntValue(st.PatternInt(state.PatternNightVisits)+1))
	}
}

func (e *Engine) pushEvent(userID string, ev *anomaly.Event) {
	wasFull := e.queues.Len(userID) >= e.queues.MaxLen()
	e.queues.Push(userID, ev)
	if e.metrics != nil {
		e.metrics.RecordPush(wasFull)
		e.metrics.RecordAnomaly(string(ev.Type), string(ev.Severity))
	}
}

// OnThreadView records a thread view. First views earn progress;
// revisits only feed the revisit counter. Returns nil state when the
// visitor is unknown.
func (e *Engine) OnThreadView(ctx context.Context, userID string, threadID int64) (*state.RitualState, error) {
	return e.store.Update(ctx, userID, func(st *state.RitualState) error {
		first := st.AddViewedThread(threadID)
		st.SetPattern(state.PatternThreadViews,
			state.IntValue(st.PatternInt(state.PatternThreadViews)+1))
		if first {
			st.ApplyProgressDelta(progress.ThreadViewProgress())
		}
		return nil
	})
}

// OnPostView records a post view. First views earn progress. Returns
// nil state when the visitor is unknown.
func (e *Engine) OnPostView(ctx context.Context, userID string, postID int64) (*state.RitualState, error) {
	return e.store.Update(ctx, userID, func(st *state.RitualState) error {
		if st.AddViewedPost(postID) {
			st.ApplyProgressDelta(progress.PostViewProgress())
		}
		return nil
	})
}

// ReportActivity adds reported seconds to the visitor's time on site
// and converts them into progress. Returns nil state when the visitor
// is unknown.
func (e *Engine) ReportActivity(ctx context.Context, userID string, seconds int64) (*state.RitualState, error) {
	if seconds < 0 {
		seconds = 0
	}
	return e.store.Update(ctx, userID, func(st *state.RitualState) error {
		st.TimeOnSite += seconds
		if delta := progress.TimeProgress(seconds); delta > 0 {
			st.ApplyProgressDelta(delta)
		}
		return nil
	})
}

// =============================================================================
// Anomaly delivery
// =============================================================================

// QueueAnomaly queues a ready event for the visitor. Returns the queue
// length after the push.
func (e *Engine) QueueAnomaly(userID string, ev *anomaly.Event) int {
	e.pushEvent(userID, ev)
	return e.queues.Len(userID)
}

// QueueAnomalyForType generates an anomaly of a specific type for the
// visitor and queues it. Returns (nil, nil) when the visitor has no
// state.
func (e *Engine) QueueAnomalyForType(ctx context.Context, userID string, t anomaly.Type, targetID int64, customData map[string]any) (*anomaly.Event, error) {
	st, err := e.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, nil
	}

	ev := e.gen.GenerateSpecific(t, st, targetID, customData, "")
	e.pushEvent(userID, ev)
	return ev, nil
}

// QueueWitchingBurst queues a full witching hour burst for the visitor.
// Returns the queued events, or (nil, nil) when the visitor has no
// state.
func (e *Engine) QueueWitchingBurst(ctx context.Context, userID string) ([]*anomaly.Event, error) {
	st, err := e.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, nil
	}

	events := e.gen.WitchingHourBurst(st)
	for _, ev := range events {
		e.pushEvent(userID, ev)
	}
	return events, nil
}

// PopAnomaly waits up to timeout for the visitor's next queued event.
func (e *Engine) PopAnomaly(ctx context.Context, userID string, timeout time.Duration) *anomaly.Event {
	return e.queues.PopBlocking(ctx, userID, timeout)
}

// PushBroadcast queues a ready event for every visitor with a live
// queue. Returns the number of queues reached.
func (e *Engine) PushBroadcast(ev *anomaly.Event) int {
	n := e.queues.PushBroadcast(ev)
	if e.metrics != nil {
		for i := 0; i < n; i++ {
			e.metrics.RecordPush(false)
			e.metrics.RecordAnomaly(string(ev.Type), string(ev.Severity))
		}
	}
	return n
}

// PendingAnomalies snapshots the visitor's queue without draining it.
func (e *Engine) PendingAnomalies(userID string) []*anomaly.Event {
	return e.queues.All(userID)
}

// =============================================================================
// Content mutation
// =============================================================================

// MutatePost returns a possibly corrupted copy of a post for the given
// visitor state.
func (e *Engine) MutatePost(post map[string]any, st *state.RitualState) map[string]any {
	out := e.mutator.MutatePost(post, st.Clone())
	if e.metrics != nil && out["_corrupted"] == true {
		e.metrics.RecordCorruption("post")
	}
	return out
}

// MutateThread returns a possibly corrupted copy of a thread.
func (e *Engine) MutateThread(thread map[string]any, st *state.RitualState) map[string]any {
	out := e.mutator.MutateThread(thread, st.Clone())
	if e.metrics != nil && out["_title_corrupted"] == true {
		e.metrics.RecordCorruption("thread")
	}
	return out
}

// MutatePostsList mutates each post in a listing.
func (e *Engine) MutatePostsList(posts []map[string]any, st *state.RitualState) []map[string]any {
	out := make([]map[string]any, len(posts))
	snapshot := st.Clone()
	for i, p := range posts {
		mutated := e.mutator.MutatePost(p, snapshot)
		if e.metrics != nil && mutated["_corrupted"] == true {
			e.metrics.RecordCorruption("post")
		}
		out[i] = mutated
	}
	return out
}

// GenerateFakePost builds a ghost post for the visitor in the given
// thread.
func (e *Engine) GenerateFakePost(st *state.RitualState, threadID int64) map[string]any {
	return e.mutator.GenerateFakePost(st, threadID)
}

// CorruptionOverlay returns the visual overlay configuration for the
// visitor, or nil at low progress.
func (e *Engine) CorruptionOverlay(st *state.RitualState) map[string]any {
	overlay := e.mutator.CorruptionOverlay(st)
	if e.metrics != nil && overlay != nil {
		e.metrics.RecordCorruption("overlay")
	}
	return overlay
}

// =============================================================================
// State administration
// =============================================================================

// GetUserState returns the visitor's state, or (nil, nil) when absent.
func (e *Engine) GetUserState(ctx context.Context, userID string) (*state.RitualState, error) {
	return e.store.Get(ctx, userID)
}

// ResetUserState wipes the visitor's state and recreates a fresh one.
func (e *Engine) ResetUserState(ctx context.Context, userID string) (*state.RitualState, error) {
	if _, err := e.store.Delete(ctx, userID); err != nil {
		return nil, err
	}
	e.queues.Clear(userID)
	st, _, err := e.store.GetOrCreate(ctx, userID)
	return st, err
}

// SetUserProgress force-sets the visitor's progress. Propagates
// state.ErrInvalidProgress and state.ErrStateNotFound.
func (e *Engine) SetUserProgress(ctx context.Context, userID string, value int) (*state.RitualState, error) {
	return e.store.SetProgress(ctx, userID, value)
}

// UserIDs returns every visitor with a live state record.
func (e *Engine) UserIDs(ctx context.Context) ([]string, error) {
	return e.store.UserIDs(ctx)
}

// LevelStats counts live visitors per intensity level.
func (e *Engine) LevelStats(ctx context.Context) (map[progress.Level]int, int, error) {
	ids, err := e.store.UserIDs(ctx)
	if err != nil {
		return nil, 0, err
	}

	stats := map[progress.Level]int{}
	total := 0
	for _, id := range ids {
		st, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		if st == nil {
			continue
		}
		stats[progress.GetLevel(st.Progress)]++
		total++
	}
	return stats, total, nil
}

// =============================================================================
// Connections
// =============================================================================

// Connect registers a live websocket connection for the visitor.
func (e *Engine) Connect(userID string) {
	e.registry.Connect(userID)
	if e.metrics != nil {
		e.metrics.ConnectionOpened()
	}
	e.log.Debug("visitor connected", "user_id", userID)
}

// Disconnect removes the visitor's connection.
func (e *Engine) Disconnect(userID string) {
	e.registry.Disconnect(userID)
	if e.metrics != nil {
		e.metrics.ConnectionClosed()
	}
	e.log.Debug("visitor disconnected", "user_id", userID)
}

// Heartbeat renews the visitor's connection window.
func (e *Engine) Heartbeat(userID string) {
	e.registry.Heartbeat(userID)
}

// IsConnected reports whether the visitor holds a live connection.
func (e *Engine) IsConnected(userID string) bool {
	return e.registry.IsConnected(userID)
}

// ConnectedUsers returns every visitor with a live connection.
func (e *Engine) ConnectedUsers() []string {
	return e.registry.ConnectedUsers()
}

// ConnectionCount returns the number of live connections.
func (e *Engine) ConnectionCount() int {
	return e.registry.Count()
}
