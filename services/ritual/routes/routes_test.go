// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/whisperboard/ritual-engine/services/ritual"
	"github.com/whisperboard/ritual-engine/services/ritual/state"
)

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	db, err := state.OpenDB("", true)
	if err != nil {
		t.Fatalf("failed to open the in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	engine := ritual.NewEngine(state.NewStore(db))
	router := gin.New()
	SetupRoutes(router, engine, time.Second)
	return router
}

func TestSetupRoutes_CoreRoutesRegistered(t *testing.T) {
	router := newTestRouter(t)

	wanted := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"GET", "/v1/ritual/status"},
		{"GET", "/v1/ritual/ws"},
		{"GET", "/admin/ritual/state/:userId"},
		{"POST", "/admin/ritual/state/:userId/reset"},
		{"POST", "/admin/ritual/state/:userId/progress"},
		{"POST", "/admin/ritual/anomaly"},
		{"GET", "/admin/ritual/anomaly/types"},
		{"GET", "/admin/ritual/connections"},
		{"GET", "/admin/ritual/stats"},
		{"POST", "/admin/ritual/burst/:userId"},
	}

	routes := router.Routes()
	for _, expected := range wanted {
		found := false
		for _, r := range routes {
			if r.Method == expected.method && r.Path == expected.path {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected route %s %s not found", expected.method, expected.path)
		}
	}
}

func TestSetupRoutes_HealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Health endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
}

func TestSetupRoutes_MetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Metrics endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("Content-Type") == "" {
		t.Error("Metrics endpoint should return Content-Type header")
	}
}

func TestSetupRoutes_StatusTracksVisitor(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/ritual/status", nil)
	req.Header.Set("X-Fingerprint", "fp-route-test")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status endpoint returned %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	// Tracking middleware created the state, so admin can see it.
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/admin/ritual/state/fp-route-test", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Admin state endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
}

func TestSetupRoutes_AdminUntracked(t *testing.T) {
	router := newTestRouter(t)

	// An admin lookup for an unseen visitor must not create state.
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/admin/ritual/state/never-seen", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Admin state for unknown visitor returned %d, want %d", w.Code, http.StatusNotFound)
	}
}
