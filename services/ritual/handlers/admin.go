// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/whisperboard/ritual-engine/services/ritual"
	"github.com/whisperboard/ritual-engine/services/ritual/anomaly"
	"github.com/whisperboard/ritual-engine/services/ritual/progress"
	"github.com/whisperboard/ritual-engine/services/ritual/state"
)

// SetProgressRequest force-sets a visitor's progress.
type SetProgressRequest struct {
	Progress *int `json:"progress" binding:"required"`
}

// QueueAnomalyRequest queues one anomaly of a chosen type for a visitor.
type QueueAnomalyRequest struct {
	UserID   string         `json:"user_id" binding:"required"`
	Type     string         `json:"type" binding:"required"`
	TargetID int64          `json:"target_id"`
	Data     map[string]any `json:"data"`
}

// GetRitualState returns a visitor's full state plus derived fields.
func GetRitualState(engine *ritual.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")

		st, err := engine.GetUserState(c.Request.Context(), userID)
		if err != nil {
			slog.Error("failed to load state", "user_id", userID, "error", err)
			abortJSON(c, http.StatusInternalServerError, "failed to load state")
			return
		}
		if st == nil {
			abortJSON(c, http.StatusNotFound, "no state for user")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"state":       st,
			"level":       progress.GetLevel(st.Progress),
			"description": progress.Description(st.Progress),
			"connected":   engine.IsConnected(userID),
			"queued":      engine.PendingAnomalies(userID),
		})
	}
}

// ResetRitualState wipes a visitor back to a fresh state.
func ResetRitualState(engine *ritual.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")

		st, err := engine.ResetUserState(c.Request.Context(), userID)
		if err != nil {
			slog.Error("failed to reset state", "user_id", userID, "error", err)
			abortJSON(c, http.StatusInternalServerError, "failed to reset state")
			return
		}

		slog.Info("Reset visitor state", "user_id", userID)
		c.JSON(http.StatusOK, gin.H{"status": "reset", "state": st})
	}
}

// SetRitualProgress force-sets a visitor's progress value.
func SetRitualProgress(engine *ritual.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")

		var req SetProgressRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortJSON(c, http.StatusBadRequest, "progress is required")
			return
		}

		st, err := engine.SetUserProgress(c.Request.Context(), userID, *req.Progress)
		switch {
		case errors.Is(err, state.ErrInvalidProgress):
			abortJSON(c, http.StatusBadRequest, "progress must be between 0 and 100")
			return
		case errors.Is(err, state.ErrStateNotFound):
			abortJSON(c, http.StatusNotFound, "no state for user")
			return
		case err != nil:
			slog.Error("failed to set progress", "user_id", userID, "error", err)
			abortJSON(c, http.StatusInternalServerError, "failed to set progress")
			return
		}

		slog.Info("Force-set visitor progress", "user_id", userID, "progress", *req.Progress)
		c.JSON(http.StatusOK, gin.H{
			"status": "updated",
			"state":  st,
			"level":  progress.GetLevel(st.Progress),
		})
	}
}

// QueueRitualAnomaly generates and queues one anomaly for a visitor.
func QueueRitualAnomaly(engine *ritual.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req QueueAnomalyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortJSON(c, http.StatusBadRequest, "user_id and type are required")
			return
		}

		t := anomaly.Type(req.Type)
		if !t.Valid() {
			abortJSON(c, http.StatusBadRequest, "unknown anomaly type")
			return
		}

		ev, err := engine.QueueAnomalyForType(c.Request.Context(), req.UserID, t,
			req.TargetID, req.Data)
		if err != nil {
			slog.Error("failed to queue anomaly", "user_id", req.UserID, "error", err)
			abortJSON(c, http.StatusInternalServerError, "failed to queue anomaly")
			return
		}
		if ev == nil {
			abortJSON(c, http.StatusNotFound, "no state for user")
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "queued", "event": ev})
	}
}

// ListAnomalyTypes returns every valid anomaly type.
func ListAnomalyTypes() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"types": anomaly.AllTypes})
	}
}

// ListRitualConnections returns the visitors currently on the live
// channel.
func ListRitualConnections(engine *ritual.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		users := engine.ConnectedUsers()
		c.JSON(http.StatusOK, gin.H{"connections": users, "count": len(users)})
	}
}

// RitualStats aggregates the level distribution across live states.
func RitualStats(engine *ritual.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, total, err := engine.LevelStats(c.Request.Context())
		if err != nil {
			slog.Error("failed to aggregate stats", "error", err)
			abortJSON(c, http.StatusInternalServerError, "failed to aggregate stats")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"total_users": total,
			"by_level":    stats,
			"connections": engine.ConnectionCount(),
		})
	}
}

// TriggerWitchingBurst queues a full witching-hour burst for a visitor.
func TriggerWitchingBurst(engine *ritual.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")

		events, err := engine.QueueWitchingBurst(c.Request.Context(), userID)
		if err != nil {
			slog.Error("failed to queue burst", "user_id", userID, "error", err)
			abortJSON(c, http.StatusInternalServerError, "failed to queue burst")
			return
		}
		if events == nil {
			abortJSON(c, http.StatusNotFound, "no state for user")
			return
		}

		slog.Info("Queued witching burst", "user_id", userID, "events", len(events))
		c.JSON(http.StatusOK, gin.H{"status": "queued", "count": len(events), "events": events})
	}
}
