// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/absmach/mbus/acl"
	"github.com/absmach/mbus/bridge"
	"github.com/absmach/mbus/config"
	"github.com/absmach/mbus/core"
	"github.com/absmach/mbus/otel"
	"github.com/absmach/mbus/ratelimit"
	"github.com/absmach/mbus/router"
	"github.com/absmach/mbus/storage"
	"github.com/absmach/mbus/storage/badger"
	"github.com/absmach/mbus/storage/memory"
)

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup logging
	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("Starting mbus", "pool", cfg.Pool, "log_level", cfg.Log.Level)

	// Initialize retained-message storage
	var retained storage.RetainedStore
	switch cfg.Storage.Type {
	case "memory":
		retained = memory.NewRetainedStore()
		slog.Info("Using in-memory retained storage")
	case "badger":
		db, err := badgerdb.Open(badgerdb.DefaultOptions(cfg.Storage.BadgerDir))
		if err != nil {
			slog.Error("Failed to open BadgerDB", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		retained = badger.NewRetainedStore(db)
		slog.Info("Using BadgerDB retained storage", "dir", cfg.Storage.BadgerDir)
	default:
		slog.Error("Unknown storage type", "type", cfg.Storage.Type)
		os.Exit(1)
	}

	// Initialize OpenTelemetry
	var metrics *otel.Metrics
	if cfg.Metrics.Enabled {
		shutdown, err := otel.InitProvider(cfg.Metrics.OTLPEndpoint, cfg.Metrics.ServiceName, core.NewID())
		if err != nil {
			slog.Error("Failed to initialize OpenTelemetry", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				slog.Error("OpenTelemetry shutdown failed", "error", err)
			}
		}()

		metrics, err = otel.NewMetrics()
		if err != nil {
			slog.Error("Failed to create metric instruments", "error", err)
			os.Exit(1)
		}
		slog.Info("OpenTelemetry metrics enabled", "endpoint", cfg.Metrics.OTLPEndpoint)
	}

	authorizer := acl.AllowAll{}

	r := router.New(cfg.Pool,
		router.WithLogger(logger),
		router.WithRetained(retained),
		router.WithACL(authorizer),
		router.WithMetrics(metrics),
	)

	var limiter *ratelimit.PublisherRateLimiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewPublisherRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, cfg.RateLimit.CleanupInterval)
		defer limiter.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Bridge.Enabled {
		clientID := cfg.Bridge.ClientID
		if clientID == "" {
			clientID = "mbus-" + core.NewID()
		}
		userCtx := authorizer.NewUserContext(cfg.Pool, clientID)
		br := bridge.New(bridge.Config{
			Broker:   cfg.Bridge.Broker,
			ClientID: clientID,
			Username: cfg.Bridge.Username,
			Password: cfg.Bridge.Password,
			Filters:  cfg.Bridge.Filters,
			QoS:      cfg.Bridge.QoS,
		}, r, limiter, userCtx, logger)

		if err := br.Start(ctx); err != nil {
			slog.Error("Failed to start bridge", "error", err)
			os.Exit(1)
		}
		defer br.Close()
		slog.Info("Bridge started", "broker", cfg.Bridge.Broker, "filters", cfg.Bridge.Filters)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("Shutting down", "signal", sig.String())
}
