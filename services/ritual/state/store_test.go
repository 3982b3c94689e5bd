// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisperboard/ritual-engine/services/ritual/timeofday"
)

func newTestStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	db, err := OpenDB("", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, opts...)
}

func TestStoreGetAbsent(t *testing.T) {
	s := newTestStore(t)

	st, err := s.Get(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestStoreGetOrCreate(t *testing.T) {
	now := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	s := newTestStore(t, WithClock(timeofday.FixedClock{T: now}))
	ctx := context.Background()

	st, created, err := s.GetOrCreate(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "u1", st.UserID)
	assert.Equal(t, 0, st.Progress)
	assert.Equal(t, now, st.FirstVisit)

	again, created, err := s.GetOrCreate(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, st.FirstVisit, again.FirstVisit)
}

func TestStoreSaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st := New("u1", time.Now().UTC())
	st.Progress = 55
	st.AddViewedThread(3)
	st.SetPattern(PatternVisitCount, IntValue(2))
	require.NoError(t, s.Save(ctx, st))

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 55, got.Progress)
	assert.Equal(t, []int64{3}, got.ViewedThreads)
	assert.Equal(t, int64(2), got.PatternInt(PatternVisitCount))
}

func TestStoreDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.GetOrCreate(ctx, "u1")
	require.NoError(t, err)

	existed, err := s.Delete(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, existed)

	st, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestStoreExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = s.GetOrCreate(ctx, "u1")
	require.NoError(t, err)

	ok, err = s.Exists(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStoreUpdateProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// No state yet: updates report absence, not an error.
	st, err := s.UpdateProgress(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Nil(t, st)

	_, _, err = s.GetOrCreate(ctx, "u1")
	require.NoError(t, err)

	st, err = s.UpdateProgress(ctx, "u1", 150)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 100, st.Progress, "delta clamps at 100")

	st, err = s.UpdateProgress(ctx, "u1", -500)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Progress, "delta clamps at 0")
}

func TestStoreSetProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SetProgress(ctx, "u1", 150)
	assert.ErrorIs(t, err, ErrInvalidProgress)

	_, err = s.SetProgress(ctx, "u1", 50)
	assert.ErrorIs(t, err, ErrStateNotFound)

	_, _, err = s.GetOrCreate(ctx, "u1")
	require.NoError(t, err)

	st, err := s.SetProgress(ctx, "u1", 81)
	require.NoError(t, err)
	assert.Equal(t, 81, st.Progress)
}

func TestStoreViewMutators(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.GetOrCreate(ctx, "u1")
	require.NoError(t, err)

	_, first, err := s.AddViewedThread(ctx, "u1", 9)
	require.NoError(t, err)
	assert.True(t, first)

	_, first, err = s.AddViewedThread(ctx, "u1", 9)
	require.NoError(t, err)
	assert.False(t, first)

	st, first, err := s.AddViewedPost(ctx, "u1", 42)
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, []int64{42}, st.ViewedPosts)
}

func TestStoreTimeAndPatterns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.GetOrCreate(ctx, "u1")
	require.NoError(t, err)

	st, err := s.AddTimeOnSite(ctx, "u1", 120)
	require.NoError(t, err)
	assert.Equal(t, int64(120), st.TimeOnSite)

	st, err = s.AddTimeOnSite(ctx, "u1", -5)
	require.NoError(t, err)
	assert.Equal(t, int64(120), st.TimeOnSite, "negative reports are ignored")

	st, err = s.SetPattern(ctx, "u1", PatternReadingStyle, StringValue("careful"))
	require.NoError(t, err)
	assert.Equal(t, "careful", st.KnownPatterns[PatternReadingStyle].String())
}

func TestStoreUserIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids, err := s.UserIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	for _, id := range []string{"a", "b", "c"} {
		_, _, err := s.GetOrCreate(ctx, id)
		require.NoError(t, err)
	}

	ids, err = s.UserIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)
}

func TestStoreStateExpires(t *testing.T) {
	s := newTestStore(t, WithTTL(time.Millisecond))
	ctx := context.Background()

	_, _, err := s.GetOrCreate(ctx, "u1")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	st, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, st, "expired state reads as absent")
}
