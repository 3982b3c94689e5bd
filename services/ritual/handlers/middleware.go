// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/whisperboard/ritual-engine/services/ritual"
	"github.com/whisperboard/ritual-engine/services/ritual/observability"
)

const (
	// ContextUserID is the gin context key holding the resolved visitor id.
	ContextUserID = "ritual_user_id"
	// ContextState holds the visitor's state after OnRequest ran.
	ContextState = "ritual_state"
	// ContextIsNew marks a first-ever visit.
	ContextIsNew = "ritual_is_new"

	fingerprintHeader = "X-Fingerprint"
	identityCookie    = "ritual_id"
	cookieMaxAge      = 365 * 24 * 3600
)

// resolveUserID picks the visitor identity: fingerprint header first,
// then the identity cookie, then a fresh uuid written back as a cookie.
func resolveUserID(c *gin.Context) string {
	if fp := c.GetHeader(fingerprintHeader); fp != "" {
		return fp
	}
	if id, err := c.Cookie(identityCookie); err == nil && id != "" {
		return id
	}
	id := uuid.New().String()
	c.SetCookie(identityCookie, id, cookieMaxAge, "/", "", false, true)
	return id
}

// RitualTracking resolves the visitor identity and runs the ritual
// engine over every request it wraps. Engine failures degrade to an
// untracked request rather than failing the caller.
func RitualTracking(engine *ritual.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := resolveUserID(c)
		c.Set(ContextUserID, userID)

		st, isNew, err := engine.OnRequest(c.Request.Context(), userID,
			c.Request.URL.Path, c.Request.Method)
		if err != nil {
			slog.Warn("ritual tracking degraded", "user_id", userID, "error", err)
			if observability.DefaultMetrics != nil {
				observability.DefaultMetrics.RecordRequest(true)
			}
			c.Next()
			return
		}

		c.Set(ContextState, st)
		c.Set(ContextIsNew, isNew)
		c.Next()
	}
}

// userIDFromContext reads the resolved identity, falling back to the
// raw resolution for routes mounted outside the tracking middleware.
func userIDFromContext(c *gin.Context) string {
	if v, ok := c.Get(ContextUserID); ok {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	return resolveUserID(c)
}

func abortJSON(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"error": msg})
}
