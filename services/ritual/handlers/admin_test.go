// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisperboard/ritual-engine/services/ritual"
	"github.com/whisperboard/ritual-engine/services/ritual/state"
	"github.com/whisperboard/ritual-engine/services/ritual/timeofday"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testAfternoon = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

func newAdminRouter(t *testing.T) (*gin.Engine, *ritual.Engine) {
	t.Helper()
	db, err := state.OpenDB("", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clk := timeofday.FixedClock{T: testAfternoon}
	engine := ritual.NewEngine(state.NewStore(db, state.WithClock(clk)), ritual.WithClock(clk))

	router := gin.New()
	admin := router.Group("/admin/ritual")
	admin.GET("/state/:userId", GetRitualState(engine))
	admin.POST("/state/:userId/reset", ResetRitualState(engine))
	admin.POST("/state/:userId/progress", SetRitualProgress(engine))
	admin.POST("/anomaly", QueueRitualAnomaly(engine))
	admin.GET("/anomaly/types", ListAnomalyTypes())
	admin.GET("/connections", ListRitualConnections(engine))
	admin.GET("/stats", RitualStats(engine))
	admin.POST("/burst/:userId", TriggerWitchingBurst(engine))
	return router, engine
}

func seedVisitor(t *testing.T, engine *ritual.Engine, userID string) {
	t.Helper()
	_, _, err := engine.OnRequest(context.Background(), userID, "/", "GET")
	require.NoError(t, err)
	engine.Queues().Clear(userID)
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGetRitualState(t *testing.T) {
	router, engine := newAdminRouter(t)

	w := doJSON(router, "GET", "/admin/ritual/state/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	seedVisitor(t, engine, "u1")
	w = doJSON(router, "GET", "/admin/ritual/state/u1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "low", resp["level"])
	assert.NotEmpty(t, resp["description"])
	assert.Equal(t, false, resp["connected"])
}

func TestResetRitualState(t *testing.T) {
	router, engine := newAdminRouter(t)
	seedVisitor(t, engine, "u1")

	_, err := engine.SetUserProgress(context.Background(), "u1", 60)
	require.NoError(t, err)

	w := doJSON(router, "POST", "/admin/ritual/state/u1/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)

	st, err := engine.GetUserState(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, st.Progress)
}

func TestSetRitualProgress(t *testing.T) {
	router, engine := newAdminRouter(t)
	seedVisitor(t, engine, "u1")

	t.Run("missing body", func(t *testing.T) {
		w := doJSON(router, "POST", "/admin/ritual/state/u1/progress", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("out of range", func(t *testing.T) {
		w := doJSON(router, "POST", "/admin/ritual/state/u1/progress",
			map[string]any{"progress": 150})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown visitor", func(t *testing.T) {
		w := doJSON(router, "POST", "/admin/ritual/state/ghost/progress",
			map[string]any{"progress": 50})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("valid", func(t *testing.T) {
		w := doJSON(router, "POST", "/admin/ritual/state/u1/progress",
			map[string]any{"progress": 85})
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "critical", resp["level"])
	})
}

func TestQueueRitualAnomaly(t *testing.T) {
	router, engine := newAdminRouter(t)
	seedVisitor(t, engine, "u1")

	t.Run("unknown type", func(t *testing.T) {
		w := doJSON(router, "POST", "/admin/ritual/anomaly",
			map[string]any{"user_id": "u1", "type": "poltergeist"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown visitor", func(t *testing.T) {
		w := doJSON(router, "POST", "/admin/ritual/anomaly",
			map[string]any{"user_id": "ghost", "type": "whisper"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("queued", func(t *testing.T) {
		w := doJSON(router, "POST", "/admin/ritual/anomaly",
			map[string]any{"user_id": "u1", "type": "whisper"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, engine.Queues().Len("u1"))
	})
}

func TestListAnomalyTypes(t *testing.T) {
	router, _ := newAdminRouter(t)

	w := doJSON(router, "GET", "/admin/ritual/anomaly/types", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Types []string `json:"types"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Types, 20)
	assert.Contains(t, resp.Types, "whisper")
}

func TestRitualStatsAndConnections(t *testing.T) {
	router, engine := newAdminRouter(t)
	seedVisitor(t, engine, "u1")
	seedVisitor(t, engine, "u2")
	engine.Connect("u1")

	w := doJSON(router, "GET", "/admin/ritual/connections", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var conns map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conns))
	assert.Equal(t, float64(1), conns["count"])

	w = doJSON(router, "GET", "/admin/ritual/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, float64(2), stats["total_users"])
	assert.Equal(t, float64(1), stats["connections"])
}

func TestTriggerWitchingBurst(t *testing.T) {
	router, engine := newAdminRouter(t)

	w := doJSON(router, "POST", "/admin/ritual/burst/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	seedVisitor(t, engine, "u1")
	w = doJSON(router, "POST", "/admin/ritual/burst/u1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Greater(t, resp["count"], float64(0))
	assert.Equal(t, resp["count"], float64(engine.Queues().Len("u1")))
}
