// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/ragstream/services/llm"
	"github.com/AleutianAI/ragstream/services/orchestrator/datatypes"
	"github.com/AleutianAI/ragstream/services/orchestrator/handlers"
	"github.com/AleutianAI/ragstream/services/orchestrator/observability"
	"github.com/AleutianAI/ragstream/services/orchestrator/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// nopStreamer satisfies llm.ChatStreamer; route tests never open a stream.
type nopStreamer struct{}

func (nopStreamer) StreamChat(context.Context, []datatypes.ChatTurn) (llm.Stream, error) {
	return nil, context.Canceled
}

func newTestRouter(t *testing.T) (*gin.Engine, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := observability.NewSessionMetrics(reg)
	metrics.SessionOpened()

	cfg := session.DefaultConfig()
	cfg.UseChatHistory = true
	supervisor := handlers.NewSupervisor(context.Background(), &cfg,
		session.Dependencies{Streamer: nopStreamer{}, Metrics: metrics}, 4)

	router := NewRouter("ragstream-test")
	SetupRoutes(router, supervisor, reg)
	return router, reg
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"GET", "/v1/chat/ws"},
	}

	routes := router.Routes()
	for _, want := range expected {
		found := false
		for _, r := range routes {
			if r.Method == want.method && r.Path == want.path {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected route %s %s not found", want.method, want.path)
		}
	}
}

func TestSetupRoutes_HealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Health endpoint returned %d, want %d", w.Code, http.StatusOK)
	}

	var body handlers.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Health body is not JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.MaxSessions != 4 {
		t.Errorf("max_sessions = %d, want 4", body.MaxSessions)
	}
}

func TestSetupRoutes_MetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Metrics endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "ragstream_session_opened_total 1") {
		t.Errorf("Metrics output missing session counter:\n%s", w.Body.String())
	}
}

func TestSetupRoutes_WebSocketRequiresUpgrade(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/chat/ws", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Plain GET on the WebSocket route returned %d, want %d", w.Code, http.StatusBadRequest)
	}
}
