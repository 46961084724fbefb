// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the ragstream chat server.
//
// This package wires every component of the service: the model backend,
// the optional embedding cache and passage index, Prometheus metrics,
// OpenTelemetry tracing, the WebSocket session supervisor and the HTTP
// router.
//
// # Usage
//
//	cfg, err := config.Load("ragstream.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := orchestrator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run(ctx))
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/AleutianAI/ragstream/pkg/retry"
	"github.com/AleutianAI/ragstream/services/llm"
	"github.com/AleutianAI/ragstream/services/orchestrator/config"
	"github.com/AleutianAI/ragstream/services/orchestrator/handlers"
	"github.com/AleutianAI/ragstream/services/orchestrator/observability"
	"github.com/AleutianAI/ragstream/services/orchestrator/routes"
	"github.com/AleutianAI/ragstream/services/orchestrator/session"
	"github.com/AleutianAI/ragstream/services/retrieval"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the lifecycle of the chat server.
//
// # Thread Safety
//
// Run blocks and must be called at most once. Router and Addr are safe
// to call at any time.
type Service interface {
	// Run serves until ctx is cancelled or the listener fails.
	//
	// # Description
	//
	// On cancellation the HTTP server stops accepting connections, every
	// open session is sent a going-away close frame, and Run waits up to
	// the configured shutdown timeout for sessions to finish.
	//
	// # Outputs
	//
	//   - error: nil after a clean shutdown, otherwise the listener or
	//     shutdown error.
	Run(ctx context.Context) error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine

	// Addr returns the listen address.
	Addr() string
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Fields
//
//   - config: Validated configuration.
//   - router: Gin engine with every route registered.
//   - supervisor: Owns the WebSocket sessions.
//   - baseCtx, cancelSessions: Parent context of every session. Cancelled
//     during shutdown.
//   - closers: Resources released after shutdown, in reverse order.
//   - tracerCleanup: Flushes and stops the tracer provider.
type service struct {
	config         *config.Config
	router         *gin.Engine
	supervisor     *handlers.Supervisor
	registry       *prometheus.Registry
	baseCtx        context.Context
	cancelSessions context.CancelFunc
	closers        []io.Closer
	tracerCleanup  func(context.Context)
}

// New creates the chat server from a validated configuration.
//
// # Description
//
// New initializes the components in dependency order:
//  1. OpenTelemetry tracing
//  2. Prometheus registry and session metrics
//  3. Model backend, optionally wrapped by the embedding cache
//  4. Passage index, when the index is enabled
//  5. Session supervisor and HTTP routes
//
// No component dials its upstream here; connection failures surface on
// the first request and are reported to the client as upstream errors.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if any component cannot be constructed. Anything
//     already opened is released first.
func New(cfg *config.Config) (Service, error) {
	s := &service{config: cfg}

	cleanup, err := initTracer(context.Background(), cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewSessionMetrics(s.registry)

	deps, err := s.initDependencies(metrics)
	if err != nil {
		s.cleanup()
		return nil, err
	}

	sessionCfg := SessionConfig(cfg)
	s.baseCtx, s.cancelSessions = context.WithCancel(context.Background())
	s.supervisor = handlers.NewSupervisor(s.baseCtx, &sessionCfg, deps, cfg.Server.MaxSessions)

	s.router = routes.NewRouter(cfg.Tracing.ServiceName)
	routes.SetupRoutes(s.router, s.supervisor, s.registry)

	slog.Info("Service initialized",
		"llm_backend", cfg.LLM.Backend,
		"model", cfg.LLM.Model,
		"use_index", cfg.Chat.UseIndex,
		"use_chat_history", cfg.Chat.UseChatHistory,
		"max_sessions", cfg.Server.MaxSessions)
	return s, nil
}

// SessionConfig derives the per-session settings from the service
// configuration.
func SessionConfig(cfg *config.Config) session.Config {
	sc := session.DefaultConfig()
	sc.UseChatHistory = cfg.Chat.UseChatHistory
	sc.UseIndex = cfg.Chat.UseIndex
	sc.SystemPrompt = cfg.Chat.SystemPrompt
	sc.MaxResults = cfg.Retrieval.MaxResults
	sc.KeepaliveInterval = cfg.Server.KeepaliveInterval
	sc.MaxMessageBytes = cfg.Server.MaxMessageBytes
	sc.MaxQueuedMessages = cfg.Server.MaxQueuedMessages
	sc.RateLimit = cfg.Server.RateLimit
	sc.RateBurst = cfg.Server.RateBurst
	sc.UpstreamTimeout = cfg.LLM.UpstreamTimeout
	sc.GenerationTimeout = cfg.LLM.GenerationTimeout
	sc.Retry = retry.Policy{
		MaxAttempts:    cfg.LLM.RetryAttempts,
		InitialBackoff: cfg.LLM.RetryInitialDelay,
		MaxBackoff:     8 * cfg.LLM.RetryInitialDelay,
		JitterFactor:   0.2,
	}
	return sc
}

// initDependencies builds the upstream clients the sessions share.
func (s *service) initDependencies(metrics *observability.SessionMetrics) (session.Dependencies, error) {
	cfg := s.config
	backend, err := llm.NewBackend(llm.BackendConfig{
		Type:           cfg.LLM.Backend,
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
	})
	if err != nil {
		return session.Dependencies{}, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	deps := session.Dependencies{
		Reformulator: llm.NewReformulator(backend),
		Streamer:     backend,
		Metrics:      metrics,
	}
	if !cfg.Chat.UseIndex {
		return deps, nil
	}

	var embedder llm.Embedder = backend
	if cfg.EmbeddingCache.Enabled {
		cached, err := llm.NewCachedEmbedder(backend, llm.EmbedCacheConfig{
			Dir:      cfg.EmbeddingCache.Dir,
			TTL:      cfg.EmbeddingCache.TTL,
			Model:    cfg.LLM.EmbeddingModel,
			OnLookup: metrics.EmbeddingCacheLookup,
		})
		if err != nil {
			return session.Dependencies{}, fmt.Errorf("failed to open embedding cache: %w", err)
		}
		s.closers = append(s.closers, cached)
		embedder = cached
	}
	deps.Embedder = embedder

	retriever, err := newRetriever(cfg.Retrieval)
	if err != nil {
		return session.Dependencies{}, fmt.Errorf("failed to initialize retriever: %w", err)
	}
	if c, ok := retriever.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}
	deps.Retriever = retriever
	return deps, nil
}

// newRetriever builds the passage index client named by cfg.Backend.
func newRetriever(cfg config.RetrievalConfig) (retrieval.Retriever, error) {
	switch cfg.Backend {
	case "redis":
		return retrieval.NewRedisStore(cfg.RedisURL, cfg.IndexName, cfg.ResultWindow)
	case "weaviate":
		return retrieval.NewWeaviateStore(cfg.WeaviateURL, cfg.WeaviateClass, cfg.ResultWindow)
	default:
		return nil, fmt.Errorf("unknown retrieval backend %q", cfg.Backend)
	}
}

// =============================================================================
// Service Interface Methods
// =============================================================================

func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	srv := &http.Server{
		Addr:    s.Addr(),
		Handler: s.router,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting ragstream server", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.cancelSessions()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down", "active_sessions", s.supervisor.ActiveSessions())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by http.Server, so the
	// sessions are cancelled separately and awaited through the supervisor.
	shutdownErr := srv.Shutdown(shutdownCtx)
	s.cancelSessions()
	if err := s.supervisor.Wait(shutdownCtx); err != nil {
		slog.Warn("Sessions still open at shutdown deadline",
			"active_sessions", s.supervisor.ActiveSessions())
		return fmt.Errorf("shutdown: %w", err)
	}
	if shutdownErr != nil {
		return fmt.Errorf("shutdown: %w", shutdownErr)
	}
	slog.Info("Shutdown complete")
	return nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Addr() string {
	return net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
}

// cleanup releases every resource opened by New.
func (s *service) cleanup() {
	if s.cancelSessions != nil {
		s.cancelSessions()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			slog.Warn("Resource close error", "error", err)
		}
	}
	s.closers = nil
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}
