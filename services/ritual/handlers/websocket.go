// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/whisperboard/ritual-engine/services/ritual"
	"github.com/whisperboard/ritual-engine/services/ritual/progress"
)

// WSClientMessage is what the browser sends over the live channel.
type WSClientMessage struct {
	Type         string `json:"type"`
	TimeSpent    int64  `json:"time_spent,omitempty"`
	ViewedThread int64  `json:"viewed_thread,omitempty"`
	ViewedPost   int64  `json:"viewed_post,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// wsSession serializes writes; the delivery loop and the receive loop
// both send, and gorilla forbids concurrent writers.
type wsSession struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (s *wsSession) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleRitualWS upgrades a visitor onto the live anomaly channel.
//
// The connection runs two loops: a delivery loop blocking on the
// visitor's queue with popTimeout (shorter than the client's 30s
// heartbeat interval so idle connections still exchange traffic), and a
// receive loop folding heartbeats and activity reports back into
// state. Either loop ending tears the connection down.
func HandleRitualWS(engine *ritual.Engine, popTimeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := userIDFromContext(c)

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		engine.Connect(userID)
		defer engine.Disconnect(userID)
		slog.Info("Ritual channel opened", "user_id", userID)

		sess := &wsSession{ws: ws}
		if err := sess.send(map[string]any{
			"type":    "welcome",
			"user_id": userID,
		}); err != nil {
			return
		}

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		// Receive loop: heartbeats keep the registry entry alive,
		// activity reports fold into state.
		go func() {
			defer cancel()
			for {
				var msg WSClientMessage
				if err := ws.ReadJSON(&msg); err != nil {
					slog.Info("Ritual channel closed", "user_id", userID, "error", err.Error())
					return
				}
				handleClientMessage(ctx, engine, sess, userID, &msg)
			}
		}()

		// Delivery loop.
		for {
			ev := engine.PopAnomaly(ctx, userID, popTimeout)
			if ctx.Err() != nil {
				return
			}
			if ev == nil {
				if err := sess.send(map[string]any{"type": "heartbeat"}); err != nil {
					return
				}
				continue
			}
			if err := sess.send(ev.WSMessage()); err != nil {
				return
			}
		}
	}
}

func handleClientMessage(ctx context.Context, engine *ritual.Engine,
	sess *wsSession, userID string, msg *WSClientMessage) {

	switch msg.Type {
	case "ping":
		engine.Heartbeat(userID)
		_ = sess.send(map[string]any{"type": "pong"})

	case "heartbeat":
		engine.Heartbeat(userID)

	case "activity":
		engine.Heartbeat(userID)
		if msg.TimeSpent > 0 {
			if _, err := engine.ReportActivity(ctx, userID, msg.TimeSpent); err != nil {
				slog.Warn("failed to fold activity time", "user_id", userID, "error", err)
			}
		}
		if msg.ViewedThread > 0 {
			if _, err := engine.OnThreadView(ctx, userID, msg.ViewedThread); err != nil {
				slog.Warn("failed to fold thread view", "user_id", userID, "error", err)
			}
		}
		if msg.ViewedPost > 0 {
			if _, err := engine.OnPostView(ctx, userID, msg.ViewedPost); err != nil {
				slog.Warn("failed to fold post view", "user_id", userID, "error", err)
			}
		}

	default:
		slog.Debug("ignoring unknown client message", "user_id", userID, "type", msg.Type)
	}
}

// HandleRitualStatus returns the visitor's own view of their descent.
// The tracking middleware has already run OnRequest for this request.
func HandleRitualStatus(engine *ritual.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := userIDFromContext(c)

		st, err := engine.GetUserState(c.Request.Context(), userID)
		if err != nil {
			slog.Error("failed to load visitor state", "user_id", userID, "error", err)
			abortJSON(c, http.StatusInternalServerError, "state unavailable")
			return
		}
		if st == nil {
			abortJSON(c, http.StatusNotFound, "no state")
			return
		}

		resp := gin.H{
			"user_id":     userID,
			"progress":    st.Progress,
			"level":       progress.GetLevel(st.Progress),
			"description": progress.Description(st.Progress),
			"connected":   engine.IsConnected(userID),
		}
		if est := progress.EstimateToNextLevel(st.Progress); est != nil {
			resp["next_level"] = est
		}
		if overlay := engine.CorruptionOverlay(st); overlay != nil {
			resp["overlay"] = overlay
		}
		c.JSON(http.StatusOK, resp)
	}
}
