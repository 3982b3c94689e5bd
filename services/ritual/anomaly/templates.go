// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package anomaly

import "github.com/whisperboard/ritual-engine/services/ritual/progress"

// eventTemplate carries per-type defaults. Types without a template fall
// back to a mild page effect lasting 3 seconds.
type eventTemplate struct {
	severity   Severity
	target     Target
	durationMS int
	data       map[string]any
}

var templates = map[Type]eventTemplate{
	TypeGlitch: {
		severity:   SeverityMild,
		target:     TargetPage,
		durationMS: 500,
		data:       map[string]any{"effect": "rgb_split"},
	},
	TypeFlicker: {
		severity:   SeveritySubtle,
		target:     TargetPage,
		durationMS: 200,
		data:       map[string]any{"flicker_count": 3},
	},
	TypeWhisper: {
		severity:   SeverityModerate,
		target:     TargetUser,
		durationMS: 5000,
		data:       map[string]any{"message": "...can you hear us?..."},
	},
	TypePresence: {
		severity:   SeverityModerate,
		target:     TargetPage,
		durationMS: 8000,
		data:       map[string]any{"message": "Someone is watching you"},
	},
	TypePostCorrupt: {
		severity:   SeverityIntense,
		target:     TargetPost,
		durationMS: 10000,
		data:       map[string]any{"corruption_level": 0.3},
	},
	TypeNewPost: {
		severity:   SeverityModerate,
		target:     TargetThread,
		durationMS: 60000,
		data:       map[string]any{},
	},
	TypeNotification: {
		severity:   SeverityMild,
		target:     TargetUser,
		durationMS: 5000,
		data:       map[string]any{"title": "New message", "body": "..."},
	},
	TypeRecognition: {
		severity:   SeverityIntense,
		target:     TargetUser,
		durationMS: 7000,
		data:       map[string]any{"message": "We remember you, {username}"},
	},
	TypeViewerCount: {
		severity:   SeveritySubtle,
		target:     TargetThread,
		durationMS: 10000,
		data:       map[string]any{"count": 7, "message": "Reading now: {count}"},
	},
	TypeCursor: {
		severity:   SeverityMild,
		target:     TargetCursor,
		durationMS: 3000,
		data:       map[string]any{"behavior": "drift"},
	},
	TypeTyping: {
		severity:   SeverityIntense,
		target:     TargetText,
		durationMS: 5000,
		data:       map[string]any{"text": "THEY ARE HERE"},
	},
	TypeHeartbeat: {
		severity:   SeverityModerate,
		target:     TargetUser,
		durationMS: 10000,
		data:       map[string]any{"bpm": 80},
	},
}

// weighted is one entry of an anomaly pool.
type weighted struct {
	t Type
	w float64
}

// pools holds the anomaly types available at each progress level. Low
// levels only see ambiguous visual noise; the overtly personal types
// unlock as progress climbs.
var pools = map[progress.Level][]weighted{
	progress.LevelLow: {
		{TypeGlitch, 0.3},
		{TypeFlicker, 0.3},
		{TypeStatic, 0.2},
		{TypeViewerCount, 0.2},
	},
	progress.LevelMedium: {
		{TypeGlitch, 0.15},
		{TypeFlicker, 0.15},
		{TypeWhisper, 0.2},
		{TypePresence, 0.2},
		{TypeNewPost, 0.15},
		{TypePostEdit, 0.15},
	},
	progress.LevelHigh: {
		{TypePostCorrupt, 0.15},
		{TypeWhisper, 0.15},
		{TypePresence, 0.15},
		{TypeShadow, 0.1},
		{TypeNotification, 0.15},
		{TypeRecognition, 0.1},
		{TypeTyping, 0.1},
		{TypeCursor, 0.1},
	},
	progress.LevelCritical: {
		{TypePostCorrupt, 0.12},
		{TypePresence, 0.12},
		{TypeShadow, 0.1},
		{TypeEyes, 0.1},
		{TypeRecognition, 0.12},
		{TypeMemory, 0.1},
		{TypeTyping, 0.1},
		{TypeHeartbeat, 0.12},
		{TypeScroll, 0.06},
		{TypePostDelete, 0.06},
	},
}

// severityWeights shifts the severity distribution with progress.
var severityWeights = map[progress.Level][]struct {
	s Severity
	w float64
}{
	progress.LevelLow: {
		{SeveritySubtle, 0.7},
		{SeverityMild, 0.3},
	},
	progress.LevelMedium: {
		{SeveritySubtle, 0.3},
		{SeverityMild, 0.4},
		{SeverityModerate, 0.3},
	},
	progress.LevelHigh: {
		{SeverityMild, 0.2},
		{SeverityModerate, 0.4},
		{SeverityIntense, 0.4},
	},
	progress.LevelCritical: {
		{SeverityModerate, 0.2},
		{SeverityIntense, 0.5},
		{SeverityExtreme, 0.3},
	},
}

var whisperMessages = []string{
	"...can you hear us?...",
	"...do not leave...",
	"...we know...",
	"...soon...",
	"...look behind you...",
	"...you are not alone...",
	"...remember?...",
}

var recognitionMessages = []string{
	"Welcome back.",
	"We were waiting for you.",
	"You returned.",
	"We remember your face.",
	"Time flows differently here.",
}

var presenceMessages = []string{
	"Someone is looking at you.",
	"You are not alone here.",
	"They are close.",
	"Something is following you.",
	"The shadow moves.",
}

var glitchEffects = []string{"rgb_split", "scanlines", "noise", "displacement"}

var typingTexts = []string{
	"THEY ARE HERE",
	"HELP",
	"DO NOT LEAVE",
	"I SEE YOU",
	"SOON",
}

var cursorBehaviors = []string{"drift", "shake", "follow", "avoid"}

// witchingTypes is the dread pool used for witching hour bursts.
var witchingTypes = []Type{
	TypeShadow,
	TypeEyes,
	TypeWhisper,
	TypePresence,
	TypeHeartbeat,
}

// corruptionLevels maps progress level to the corruption_level payload
// of post_corrupt events.
var corruptionLevels = map[progress.Level]float64{
	progress.LevelLow:      0.1,
	progress.LevelMedium:   0.3,
	progress.LevelHigh:     0.5,
	progress.LevelCritical: 0.8,
}
