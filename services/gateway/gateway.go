// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gateway assembles the Verdant edge daemon.
//
// The gateway owns the process-level wiring: cache tiers (in-process +
// BadgerDB), the authoritative-store client, the websocket hub, the
// progress service, Prometheus metrics, and optional OTLP tracing. It
// exposes the whole thing as an HTTP API plus a websocket endpoint for
// UI clients.
//
// # Usage
//
//	cfg, err := gateway.LoadConfig("verdant.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := gateway.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/verdantlabs/verdant/pkg/logging"
	"github.com/verdantlabs/verdant/services/broadcast"
	"github.com/verdantlabs/verdant/services/progress"
	"github.com/verdantlabs/verdant/services/progress/cache"
	"github.com/verdantlabs/verdant/services/progress/observability"
	"github.com/verdantlabs/verdant/services/progress/store"
)

const shutdownTimeout = 10 * time.Second

// Service is the daemon lifecycle contract.
type Service interface {
	// Run starts the HTTP server and blocks until a shutdown signal or
	// fatal error, then tears everything down.
	Run() error

	// Router returns the configured Gin engine for integration tests.
	Router() *gin.Engine

	// Shutdown stops the daemon. Run returns after Shutdown completes.
	Shutdown(ctx context.Context) error
}

// Options overrides collaborators for tests and embedders. A nil
// Options uses production wiring from the Config.
type Options struct {
	// Store replaces the HTTP store client.
	Store store.Client

	// Logger replaces the logger built from Config.
	Logger *logging.Logger

	// InMemoryCache replaces the on-disk durable tier, for tests.
	InMemoryCache bool
}

type service struct {
	config   Config
	logger   *logging.Logger
	router   *gin.Engine
	hub      *broadcast.Hub
	progress *progress.Service
	fast     cache.Store
	durable  cache.Store
	registry *prometheus.Registry

	httpServer    *http.Server
	tracerCleanup func(context.Context)
}

// New wires the daemon from its configuration. Call Run to serve.
func New(cfg Config, opts *Options) (Service, error) {
	if opts == nil {
		opts = &Options{}
	}

	s := &service{config: cfg}

	s.logger = opts.Logger
	if s.logger == nil {
		s.logger = logging.New(logging.Config{
			Level:   logging.ParseLevel(cfg.LogLevel),
			LogDir:  cfg.LogDir,
			Service: "verdantd",
		})
	}
	slogger := s.logger.Slog()

	if cfg.OTelEndpoint != "" {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	s.registry = prometheus.NewRegistry()
	metrics := observability.NewMetrics(s.registry)

	s.hub = broadcast.NewHub(slogger)
	promauto.With(s.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "verdant",
		Subsystem: "broadcast",
		Name:      "active_sessions",
		Help:      "Connected websocket sessions, virtual local sessions included",
	}, func() float64 { return float64(s.hub.ActiveSessions()) })

	if err := s.initCacheTiers(opts); err != nil {
		s.cleanup()
		return nil, err
	}

	client := opts.Store
	if client == nil {
		client = store.NewHTTPClient(store.HTTPConfig{
			BaseURL: cfg.StoreURL,
			Token:   cfg.StoreToken,
			Logger:  slogger,
		})
		if cfg.StoreURL == "" {
			slogger.Warn("no store URL configured, serving empty aggregates")
		}
	}

	progressCfg := progress.DefaultConfig(cfg.ActorID, cfg.UserID, cfg.GardenIDs)
	if cfg.FastTTL > 0 {
		progressCfg.FastTTL = cfg.FastTTL
	}
	if cfg.DurableTTL > 0 {
		progressCfg.DurableTTL = cfg.DurableTTL
	}
	if cfg.DebounceInterval > 0 {
		progressCfg.DebounceInterval = cfg.DebounceInterval
	}
	if cfg.SettleDelay > 0 {
		progressCfg.SettleDelay = cfg.SettleDelay
	}
	if cfg.SweepInterval > 0 {
		progressCfg.SweepInterval = cfg.SweepInterval
	}
	if cfg.MaxRepairAttempts > 0 {
		progressCfg.MaxRepairAttempts = cfg.MaxRepairAttempts
	}

	var err error
	s.progress, err = progress.New(progressCfg, progress.Deps{
		Fast:       s.fast,
		Durable:    s.durable,
		Store:      client,
		Subscriber: s.hub,
		Publisher:  s.hub,
		Logger:     slogger,
		Metrics:    metrics,
	})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("build progress service: %w", err)
	}

	s.initRouter()
	return s, nil
}

// Run starts the progress service and the HTTP server, then blocks
// until SIGINT/SIGTERM or Shutdown.
func (s *service) Run() error {
	defer s.cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.progress.Start(ctx); err != nil {
		return fmt.Errorf("start progress service: %w", err)
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	s.logger.Info("verdantd listening",
		"port", s.config.Port,
		"userId", s.config.UserID,
		"gardens", len(s.config.GardenIDs),
		"store_configured", s.config.StoreURL != "",
	)

	serveErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Router returns the configured Gin engine.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Shutdown stops the HTTP server; Run's deferred cleanup handles the
// rest. Safe to call when Run was never started.
func (s *service) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		s.cleanup()
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// initCacheTiers opens the fast in-process tier and the durable
// BadgerDB tier.
func (s *service) initCacheTiers(opts *Options) error {
	s.fast = cache.NewMemoryStore()

	badgerCfg := cache.DefaultBadgerConfig(filepath.Join(s.config.DataDir, "cache"))
	if opts.InMemoryCache {
		badgerCfg = cache.InMemoryBadgerConfig()
	}
	badgerCfg.Logger = s.logger.Slog()

	durable, err := cache.OpenBadgerStore(badgerCfg)
	if err != nil {
		return fmt.Errorf("open durable cache tier: %w", err)
	}
	s.durable = durable
	return nil
}

// initTracer sets up the OTLP trace exporter. Only called when an
// endpoint is configured.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("verdantd")))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shut down the OTLP exporter", "error", err)
		}
	}
	return cleanup, nil
}

// initRouter builds the Gin engine with middleware and routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	if s.config.OTelEndpoint != "" {
		s.router.Use(otelgin.Middleware("verdantd"))
	}

	SetupRoutes(s.router, s.progress, s.hub,
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
}

// cleanup tears down in dependency order: the progress service stops
// using the tiers before the durable tier closes.
func (s *service) cleanup() {
	if s.progress != nil {
		if err := s.progress.Close(); err != nil {
			s.logger.Warn("progress service close error", "error", err)
		}
	}
	if s.fast != nil {
		_ = s.fast.Close()
	}
	if s.durable != nil {
		if err := s.durable.Close(); err != nil {
			s.logger.Warn("durable tier close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
	_ = s.logger.Close()
}

var _ Service = (*service)(nil)
