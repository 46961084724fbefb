// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/ragstream/services/orchestrator/observability"
	"github.com/AleutianAI/ragstream/services/orchestrator/session"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"
)

// readLimitSlack covers the JSON envelope around the payload.
const readLimitSlack = 1024

// Supervisor accepts WebSocket connections and runs one session engine per
// connection.
//
// # Description
//
// The number of live sessions is capped. A connection beyond the cap is
// refused with HTTP 503 before the upgrade. Sessions share the upstream
// clients and configuration but nothing else; a failing session never
// affects another.
//
// # Thread Safety
//
// Safe for concurrent use. Handler is invoked once per connection by gin.
type Supervisor struct {
	baseCtx  context.Context
	cfg      *session.Config
	deps     session.Dependencies
	metrics  *observability.SessionMetrics
	upgrader websocket.Upgrader

	maxSessions int64
	slots       *semaphore.Weighted
	active      atomic.Int64

	// mu guards closing and orders wg.Add against Wait.
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// NewSupervisor creates a supervisor.
//
// # Inputs
//
//   - baseCtx: Parent of every session context. Cancelling it closes all
//     live sessions, which is how graceful shutdown reaches hijacked
//     connections.
//   - cfg: Session settings shared by every engine.
//   - deps: Upstream services shared by every engine.
//   - maxSessions: Connection cap. Values below 1 are treated as 1.
func NewSupervisor(baseCtx context.Context, cfg *session.Config, deps session.Dependencies, maxSessions int) *Supervisor {
	if maxSessions < 1 {
		maxSessions = 1
	}
	return &Supervisor{
		baseCtx: baseCtx,
		cfg:     cfg,
		deps:    deps,
		metrics: deps.Metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		maxSessions: int64(maxSessions),
		slots:       semaphore.NewWeighted(int64(maxSessions)),
	}
}

// HandleChatWebSocket upgrades the request and runs a session until it ends.
func (s *Supervisor) HandleChatWebSocket(c *gin.Context) {
	if !s.slots.TryAcquire(1) {
		s.metrics.ConnectionRejected("capacity")
		slog.Warn("Refusing WebSocket connection, session limit reached", "max_sessions", s.maxSessions)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many active sessions"})
		return
	}
	defer s.slots.Release(1)

	if !s.register() {
		s.metrics.ConnectionRejected("shutdown")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server shutting down"})
		return
	}
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.metrics.ConnectionRejected("upgrade")
		slog.Error("failed to upgrade the websocket", "error", err)
		return
	}
	if s.cfg.MaxMessageBytes > 0 {
		// JSON escaping can grow a payload up to six times.
		ws.SetReadLimit(int64(s.cfg.MaxMessageBytes)*6 + readLimitSlack)
	}

	sessionID := uuid.New().String()
	engine, err := session.NewEngine(sessionID, ws, s.cfg, s.deps)
	if err != nil {
		slog.Error("Failed to create session engine", "session_id", sessionID, "error", err)
		_ = ws.Close()
		return
	}

	s.active.Add(1)
	defer s.active.Add(-1)

	slog.Info("Websocket client connected", "session_id", sessionID, "remote", c.ClientIP())
	if err := engine.Run(s.baseCtx); err != nil {
		slog.Warn("Session ended with a transport error", "session_id", sessionID, "error", err)
	}
}

// register counts a new session unless the supervisor is shutting down.
func (s *Supervisor) register() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing || s.baseCtx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	return true
}

// ActiveSessions returns the number of running sessions.
func (s *Supervisor) ActiveSessions() int64 {
	return s.active.Load()
}

// MaxSessions returns the connection cap.
func (s *Supervisor) MaxSessions() int64 {
	return s.maxSessions
}

// Wait blocks until every session has ended or ctx is done.
//
// Sessions only end on their own or when the base context is cancelled, so
// callers cancel that context first. Connections arriving after Wait is
// called are refused with HTTP 503.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
