// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/whisperboard/ritual-engine/services/ritual"
	"github.com/whisperboard/ritual-engine/services/ritual/handlers"
)

// SetupRoutes wires the full rituald surface onto the router.
//
// The tracking middleware runs on the visitor-facing group only; admin,
// health, and metrics requests never feed the ritual.
func SetupRoutes(router *gin.Engine, engine *ritual.Engine, popTimeout time.Duration) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Visitor surface: every request here advances the ritual.
	v1 := router.Group("/v1", handlers.RitualTracking(engine))
	{
		v1.GET("/ritual/status", handlers.HandleRitualStatus(engine))
		v1.GET("/ritual/ws", handlers.HandleRitualWS(engine, popTimeout))
	}

	// Ritual administration routes
	admin := router.Group("/admin/ritual")
	{
		admin.GET("/state/:userId", handlers.GetRitualState(engine))
		admin.POST("/state/:userId/reset", handlers.ResetRitualState(engine))
		admin.POST("/state/:userId/progress", handlers.SetRitualProgress(engine))
		admin.POST("/anomaly", handlers.QueueRitualAnomaly(engine))
		admin.GET("/anomaly/types", handlers.ListAnomalyTypes())
		admin.GET("/connections", handlers.ListRitualConnections(engine))
		admin.GET("/stats", handlers.RitualStats(engine))
		admin.POST("/burst/:userId", handlers.TriggerWitchingBurst(engine))
	}
}
