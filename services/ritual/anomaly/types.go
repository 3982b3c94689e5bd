// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package anomaly generates the unsettling events delivered to visitors
// over the live channel. Which anomalies can occur, how often, and how
// hard they hit all scale with the visitor's ritual progress.
package anomaly

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies an anomaly.
type Type string

const (
	// Content anomalies.
	TypeNewPost     Type = "new_post"
	TypePostEdit    Type = "post_edit"
	TypePostCorrupt Type = "post_corrupt"
	TypePostDelete  Type = "post_delete"

	// Visual anomalies.
	TypeGlitch  Type = "glitch"
	TypeFlicker Type = "flicker"
	TypeStatic  Type = "static"

	// Presence anomalies.
	TypePresence Type = "presence"
	TypeShadow   Type = "shadow"
	TypeEyes     Type = "eyes"

	// Audio cues for the frontend.
	TypeWhisper   Type = "whisper"
	TypeAmbient   Type = "ambient"
	TypeHeartbeat Type = "heartbeat"

	// UI anomalies.
	TypeNotification Type = "notification"
	TypeCursor       Type = "cursor"
	TypeScroll       Type = "scroll"
	TypeTyping       Type = "typing"

	// Meta anomalies.
	TypeViewerCount Type = "viewer_count"
	TypeRecognition Type = "recognition"
	TypeMemory      Type = "memory"
)

// AllTypes lists every anomaly type.
var AllTypes = []Type{
	TypeNewPost, TypePostEdit, TypePostCorrupt, TypePostDelete,
	TypeGlitch, TypeFlicker, TypeStatic,
	TypePresence, TypeShadow, TypeEyes,
	TypeWhisper, TypeAmbient, TypeHeartbeat,
	TypeNotification, TypeCursor, TypeScroll, TypeTyping,
	TypeViewerCount, TypeRecognition, TypeMemory,
}

// Valid reports whether t is a known anomaly type.
func (t Type) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Severity grades how hard an anomaly hits, from barely noticeable to
// maximum effect.
type Severity string

const (
	SeveritySubtle   Severity = "subtle"
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeverityIntense  Severity = "intense"
	SeverityExtreme  Severity = "extreme"
)

// Target names what part of the client an anomaly acts on.
type Target string

const (
	TargetPage   Target = "page"
	TargetPost   Target = "post"
	TargetThread Target = "thread"
	TargetUser   Target = "user"
	TargetCursor Target = "cursor"
	TargetText   Target = "text"
)

// Event is one anomaly ready for delivery to a client.
type Event struct {
	ID       string   `json:"id"`
	Type     Type     `json:"type"`
	Severity Severity `json:"severity"`
	Target   Target   `json:"target"`

	PostID   int64 `json:"post_id,omitempty"`
	ThreadID int64 `json:"thread_id,omitempty"`

	// Data is the frontend rendering payload and varies by type.
	Data map[string]any `json:"data"`

	DurationMS int `json:"duration_ms"`
	DelayMS    int `json:"delay_ms"`

	Timestamp   time.Time `json:"timestamp"`
	TriggeredBy string    `json:"triggered_by,omitempty"`
}

// WSMessage wraps the event in the envelope the websocket channel uses.
func (e *Event) WSMessage() map[string]any {
	return map[string]any{
		"type": "anomaly",
		"payload": map[string]any{
			"id":           e.ID,
			"anomaly_type": string(e.Type),
			"severity":     string(e.Severity),
			"target":       string(e.Target),
			"post_id":      e.PostID,
			"thread_id":    e.ThreadID,
			"data":         e.Data,
			"duration_ms":  e.DurationMS,
			"delay_ms":     e.DelayMS,
			"timestamp":    e.Timestamp.Format(time.RFC3339Nano),
		},
	}
}

// newEvent builds an Event from the template for t, overlaying severity,
// target IDs, and extra data. The template's target decides whether
// targetID lands in PostID or ThreadID.
func newEvent(t Type, severity Severity, targetID int64, data map[string]any, triggeredBy string, now time.Time) *Event {
	tmpl, ok := templates[t]
	if !ok {
		tmpl = eventTemplate{severity: SeverityMild, target: TargetPage, durationMS: 3000}
	}

	merged := make(map[string]any, len(tmpl.data)+len(data))
	for k, v := range tmpl.data {
		merged[k] = v
	}
	for k, v := range data {
		merged[k] = v
	}

	if severity == "" {
		severity = tmpl.severity
	}

	ev := &Event{
		ID:          uuid.NewString(),
		Type:        t,
		Severity:    severity,
		Target:      tmpl.target,
		Data:        merged,
		DurationMS:  tmpl.durationMS,
		Timestamp:   now,
		TriggeredBy: triggeredBy,
	}
	switch tmpl.target {
	case TargetPost:
		ev.PostID = targetID
	case TargetThread:
		ev.ThreadID = targetID
	}
	return ev
}
