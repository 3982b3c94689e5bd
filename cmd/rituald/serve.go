// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/whisperboard/ritual-engine/pkg/logging"
	"github.com/whisperboard/ritual-engine/services/ritual"
	"github.com/whisperboard/ritual-engine/services/ritual/config"
	"github.com/whisperboard/ritual-engine/services/ritual/observability"
	"github.com/whisperboard/ritual-engine/services/ritual/queue"
	"github.com/whisperboard/ritual-engine/services/ritual/registry"
	"github.com/whisperboard/ritual-engine/services/ritual/routes"
	"github.com/whisperboard/ritual-engine/services/ritual/state"
)

// initTracer wires the OTLP trace exporter. Tracing is opt-in: without
// OTEL_EXPORTER_OTLP_ENDPOINT the server runs untraced.
func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		return nil, nil
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("rituald")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// runBadgerGC reclaims value-log space until ctx ends. Badger never
// runs GC on its own.
func runBadgerGC(ctx context.Context, db *badger.DB) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				if err := db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		}
	}
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load the config: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Log.Level),
		LogDir:  cfg.Log.Dir,
		Service: "rituald",
		JSON:    cfg.Log.JSON,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to set up the OTLP tracer: %v", err)
	}
	if cleanup != nil {
		defer cleanup(context.Background())
	} else {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing disabled")
	}

	db, err := state.OpenDB(cfg.Storage.DataDir, cfg.Storage.InMemory)
	if err != nil {
		log.Fatalf("failed to open the state store: %v", err)
	}
	defer db.Close()

	gcCtx, gcCancel := context.WithCancel(context.Background())
	defer gcCancel()
	go runBadgerGC(gcCtx, db)

	metrics := observability.InitMetrics()
	engine := ritual.NewEngine(
		state.NewStore(db, state.WithTTL(cfg.Storage.StateTTL)),
		ritual.WithLogger(logger),
		ritual.WithMetrics(metrics),
		ritual.WithQueues(queue.NewManager(
			queue.WithMaxLen(cfg.Ritual.QueueMaxLen),
			queue.WithTTL(cfg.Ritual.QueueTTL))),
		ritual.WithRegistry(registry.New(
			registry.WithTTL(cfg.Ritual.HeartbeatTTL))),
	)

	router := gin.Default()
	router.Use(otelgin.Middleware("rituald"))
	routes.SetupRoutes(router, engine, cfg.Ritual.PopTimeout)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("Starting the ritual engine server", "addr", cfg.Server.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down the ritual engine server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}
}
