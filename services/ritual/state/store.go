// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/whisperboard/ritual-engine/services/ritual/timeofday"
)

// DefaultTTL is the sliding inactivity window for stored states. Every
// save renews it, so only truly dormant visitors expire.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "ritual_state:"

// Conflict-retry budget for read-modify-write transactions.
const maxTxnRetries = 3

var (
	// ErrStateNotFound is returned by operations that require an
	// existing state.
	ErrStateNotFound = errors.New("ritual state not found")

	// ErrInvalidProgress is returned when a caller supplies a progress
	// value outside [0,100].
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")
)

// Store persists RitualState records in BadgerDB under the
// "ritual_state:" key prefix, each entry carrying a sliding TTL.
//
// All mutators run as read-modify-write inside a single Badger
// transaction and retry on write conflict, so concurrent requests for
// the same visitor never lose updates.
type Store struct {
	db    *badger.DB
	ttl   time.Duration
	clock timeofday.Clock
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTTL overrides the sliding expiry window.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock overrides the time source. Used in tests.
func WithClock(c timeofday.Clock) StoreOption {
	return func(s *Store) { s.clock = c }
}

// NewStore wraps an open Badger database.
//
// # Description
//
//	The caller owns the *badger.DB and is responsible for closing it;
//	several stores or subsystems may share one database.
//
// # Inputs
//   - db: an open Badger handle.
//   - opts: optional TTL and clock overrides.
//
// # Outputs
//   - *Store: ready for use.
func NewStore(db *badger.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:    db,
		ttl:   DefaultTTL,
		clock: timeofday.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenDB opens a Badger database at dir, or an ephemeral in-memory
// database when inMemory is set. Badger's own chatty logger is disabled;
// the service logs through slog instead.
func OpenDB(dir string, inMemory bool) (*badger.DB, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	return db, nil
}

func stateKey(userID string) []byte {
	return []byte(keyPrefix + userID)
}

// Get returns the stored state for userID, or (nil, nil) when absent or
// expired. A record that fails to decode is dropped and treated as
// absent.
func (s *Store) Get(ctx context.Context, userID string) (*RitualState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var st *RitualState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded := &RitualState{}
			if err := json.Unmarshal(val, decoded); err != nil {
				return errCorruptRecord
			}
			st = decoded
			return nil
		})
	})
	switch {
	case err == nil:
		return st, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, nil
	case errors.Is(err, errCorruptRecord):
		// Unreadable record: drop it and start the visitor over.
		if _, derr := s.Delete(ctx, userID); derr != nil {
			return nil, fmt.Errorf("drop corrupt state for %s: %w", userID, derr)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("get state for %s: %w", userID, err)
	}
}

var errCorruptRecord = errors.New("corrupt state record")

// GetOrCreate returns the stored state for userID, creating and
// persisting a fresh one on first sight. The second return value is true
// when the state was newly created.
func (s *Store) GetOrCreate(ctx context.Context, userID string) (*RitualState, bool, error) {
	st, err := s.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if st != nil {
		return st, false, nil
	}

	st = New(userID, s.clock.Now())
	if err := s.Save(ctx, st); err != nil {
		return nil, false, err
	}
	return st, true, nil
}

// Save persists st, stamping LastActivity and renewing the TTL.
func (s *Store) Save(ctx context.Context, st *RitualState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	st.LastActivity = s.clock.Now()
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state for %s: %w", st.UserID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(stateKey(st.UserID), data).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("save state for %s: %w", st.UserID, err)
	}
	return nil
}

// Delete removes the state for userID. Returns true if a record existed.
func (s *Store) Delete(ctx context.Context, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	existed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(stateKey(userID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		existed = true
		return txn.Delete(stateKey(userID))
	})
	if err != nil {
		return false, fmt.Errorf("delete state for %s: %w", userID, err)
	}
	return existed, nil
}

// Exists reports whether a live state record exists for userID.
func (s *Store) Exists(ctx context.Context, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(stateKey(userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("check state for %s: %w", userID, err)
	}
	return exists, nil
}

// UserIDs returns the IDs of every visitor with a live state record.
func (s *Store) UserIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			ids = append(ids, string(key[len(keyPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan state keys: %w", err)
	}
	return ids, nil
}

// Update applies fn to the stored state for userID inside one
// transaction, then persists the result with a renewed TTL. Returns
// (nil, nil) when no state exists. Retries on write conflict.
func (s *Store) Update(ctx context.Context, userID string, fn func(*RitualState) error) (*RitualState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result *RitualState
	var lastErr error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		result = nil
		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(stateKey(userID))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}

			st := &RitualState{}
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, st)
			})
			if err != nil {
				return fmt.Errorf("decode state: %w", err)
			}

			if err := fn(st); err != nil {
				return err
			}

			st.LastActivity = s.clock.Now()
			data, err := json.Marshal(st)
			if err != nil {
				return fmt.Errorf("encode state: %w", err)
			}
			if err := txn.SetEntry(badger.NewEntry(stateKey(userID), data).WithTTL(s.ttl)); err != nil {
				return err
			}
			result = st
			return nil
		})
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return nil, fmt.Errorf("update state for %s: %w", userID, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("update state for %s: %w", userID, lastErr)
}

// UpdateProgress shifts the visitor's progress by delta, clamped to
// [0,100]. Returns the updated state, or (nil, nil) when absent.
func (s *Store) UpdateProgress(ctx context.Context, userID string, delta int) (*RitualState, error) {
	return s.Update(ctx, userID, func(st *RitualState) error {
		st.ApplyProgressDelta(delta)
		return nil
	})
}

// SetProgress sets the visitor's progress to an exact value. Rejects
// values outside [0,100] with ErrInvalidProgress. Returns
// ErrStateNotFound when the visitor has no state.
func (s *Store) SetProgress(ctx context.Context, userID string, value int) (*RitualState, error) {
	if value < 0 || value > 100 {
		return nil, ErrInvalidProgress
	}
	st, err := s.Update(ctx, userID, func(st *RitualState) error {
		st.SetProgress(value)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrStateNotFound
	}
	return st, nil
}

// AddViewedThread records a thread view. The second return value is true
// when the thread had not been seen before.
func (s *Store) AddViewedThread(ctx context.Context, userID string, threadID int64) (*RitualState, bool, error) {
	first := false
	st, err := s.Update(ctx, userID, func(st *RitualState) error {
		first = st.AddViewedThread(threadID)
		return nil
	})
	return st, first, err
}

// AddViewedPost records a post view. The second return value is true
// when the post had not been seen before.
func (s *Store) AddViewedPost(ctx context.Context, userID string, postID int64) (*RitualState, bool, error) {
	first := false
	st, err := s.Update(ctx, userID, func(st *RitualState) error {
		first = st.AddViewedPost(postID)
		return nil
	})
	return st, first, err
}

// AddTrigger records that a trigger fired for the visitor.
func (s *Store) AddTrigger(ctx context.Context, userID string, name string) (*RitualState, error) {
	return s.Update(ctx, userID, func(st *RitualState) error {
		st.AddTrigger(name)
		return nil
	})
}

// AddTimeOnSite adds seconds of reported activity to the visitor's
// accumulated time on site.
func (s *Store) AddTimeOnSite(ctx context.Context, userID string, seconds int64) (*RitualState, error) {
	if seconds < 0 {
		seconds = 0
	}
	return s.Update(ctx, userID, func(st *RitualState) error {
		st.TimeOnSite += seconds
		return nil
	})
}

// SetPattern stores a derived behavioral fact for the visitor.
func (s *Store) SetPattern(ctx context.Context, userID string, key string, value PatternValue) (*RitualState, error) {
	return s.Update(ctx, userID, func(st *RitualState) error {
		st.SetPattern(key, value)
		return nil
	})
}
