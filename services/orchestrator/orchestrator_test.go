// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AleutianAI/ragstream/services/orchestrator/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Validate())
	return &cfg
}

// freePort reserves an ephemeral port and releases it for the server.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// =============================================================================
// SessionConfig Tests
// =============================================================================

// TestSessionConfig_MapsServiceSettings verifies every session knob comes
// from the matching configuration field.
func TestSessionConfig_MapsServiceSettings(t *testing.T) {
	// Arrange
	cfg := testConfig(t)
	cfg.Chat.UseIndex = true
	cfg.Chat.UseChatHistory = true
	cfg.Chat.SystemPrompt = "Be brief."
	cfg.Retrieval.MaxResults = 7
	cfg.Server.KeepaliveInterval = 3 * time.Second
	cfg.Server.MaxMessageBytes = 1024
	cfg.Server.MaxQueuedMessages = 2
	cfg.Server.RateLimit = 5
	cfg.Server.RateBurst = 9
	cfg.LLM.UpstreamTimeout = 11 * time.Second
	cfg.LLM.GenerationTimeout = time.Minute
	cfg.LLM.RetryAttempts = 3
	cfg.LLM.RetryInitialDelay = 100 * time.Millisecond

	// Act
	sc := SessionConfig(cfg)

	// Assert
	assert.True(t, sc.UseIndex)
	assert.True(t, sc.UseChatHistory)
	assert.Equal(t, "Be brief.", sc.SystemPrompt)
	assert.Equal(t, 7, sc.MaxResults)
	assert.Equal(t, 3*time.Second, sc.KeepaliveInterval)
	assert.Equal(t, 1024, sc.MaxMessageBytes)
	assert.Equal(t, 2, sc.MaxQueuedMessages)
	assert.Equal(t, 5.0, sc.RateLimit)
	assert.Equal(t, 9, sc.RateBurst)
	assert.Equal(t, 11*time.Second, sc.UpstreamTimeout)
	assert.Equal(t, time.Minute, sc.GenerationTimeout)
	assert.Equal(t, 3, sc.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, sc.Retry.InitialBackoff)
	assert.Equal(t, 800*time.Millisecond, sc.Retry.MaxBackoff)
	assert.Positive(t, sc.WriteTimeout, "write timeout keeps its session default")
}

// =============================================================================
// New Tests
// =============================================================================

// TestNew_RegistersRoutes verifies the default configuration builds a
// service serving health and metrics without touching any upstream.
func TestNew_RegistersRoutes(t *testing.T) {
	svc, err := New(testConfig(t))
	require.NoError(t, err)
	defer svc.(*service).cleanup()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	svc.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/metrics", nil)
	svc.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

// TestNew_WithIndexAndCache verifies the retrieval path wires the cache
// and the index client, and that cleanup releases them.
func TestNew_WithIndexAndCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.Chat.UseIndex = true
	cfg.EmbeddingCache.Enabled = true

	svc, err := New(cfg)
	require.NoError(t, err)

	s := svc.(*service)
	assert.Len(t, s.closers, 2, "embedding cache and redis client")
	s.cleanup()
	assert.Empty(t, s.closers)
}

// TestNew_UnknownBackend verifies construction fails cleanly.
func TestNew_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.Backend = "nope"

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize LLM client")
}

func TestNewRetriever(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.RetrievalConfig
		wantErr bool
	}{
		{"redis", config.RetrievalConfig{Backend: "redis", RedisURL: "redis://127.0.0.1:6379/0", IndexName: "idx"}, false},
		{"weaviate", config.RetrievalConfig{Backend: "weaviate", WeaviateURL: "http://127.0.0.1:8080", WeaviateClass: "Passage"}, false},
		{"bad redis url", config.RetrievalConfig{Backend: "redis", RedisURL: "::nope", IndexName: "idx"}, true},
		{"unknown", config.RetrievalConfig{Backend: "faiss"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := newRetriever(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, r)
		})
	}
}

// =============================================================================
// Run Tests
// =============================================================================

// TestRun_GracefulShutdown verifies Run serves until the context is
// cancelled and then returns nil.
func TestRun_GracefulShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Port = freePort(t)
	cfg.Server.ShutdownTimeout = 2 * time.Second

	svc, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + svc.Addr() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
