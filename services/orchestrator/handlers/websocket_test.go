// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the WebSocket session supervisor

package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/ragstream/services/llm"
	"github.com/AleutianAI/ragstream/services/orchestrator/datatypes"
	"github.com/AleutianAI/ragstream/services/orchestrator/observability"
	"github.com/AleutianAI/ragstream/services/orchestrator/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test helpers
// =============================================================================

// echoStreamer streams the last user turn back word by word.
type echoStreamer struct{}

func (echoStreamer) StreamChat(_ context.Context, messages []datatypes.ChatTurn) (llm.Stream, error) {
	last := messages[len(messages)-1].Content
	return &sliceStream{words: strings.Fields(last)}, nil
}

type sliceStream struct {
	words []string
	i     int
}

func (s *sliceStream) Next(ctx context.Context) (llm.StreamFragment, error) {
	if err := ctx.Err(); err != nil {
		return llm.StreamFragment{}, err
	}
	defer func() { s.i++ }()
	switch {
	case s.i < len(s.words):
		return llm.StreamFragment{Content: s.words[s.i] + " "}, nil
	case s.i == len(s.words):
		return llm.StreamFragment{Final: true}, nil
	default:
		return llm.StreamFragment{}, io.EOF
	}
}

func (s *sliceStream) Close() error { return nil }

type testServer struct {
	server     *httptest.Server
	supervisor *Supervisor
	metrics    *observability.SessionMetrics
	cancel     context.CancelFunc
}

func newTestServer(t *testing.T, maxSessions int) *testServer {
	t.Helper()
	metrics := observability.NewSessionMetrics(prometheus.NewRegistry())
	cfg := session.DefaultConfig()
	cfg.UseChatHistory = true
	cfg.KeepaliveInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	supervisor := NewSupervisor(ctx, &cfg, session.Dependencies{
		Streamer: echoStreamer{},
		Metrics:  metrics,
	}, maxSessions)

	router := gin.New()
	router.GET("/v1/chat/ws", supervisor.HandleChatWebSocket)
	router.GET("/health", HealthCheck(supervisor))
	server := httptest.NewServer(router)

	ts := &testServer{server: server, supervisor: supervisor, metrics: metrics, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/v1/chat/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) datatypes.OutboundFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var frame datatypes.OutboundFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

// =============================================================================
// Supervisor Tests
// =============================================================================

func TestSupervisor_StreamsAnswer(t *testing.T) {
	ts := newTestServer(t, 2)
	conn := dial(t, ts.wsURL())
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"payload": "hello"}))

	assert.Equal(t, datatypes.NewUserMessageFrame("hello"), readFrame(t, conn))

	var answer strings.Builder
	for {
		f := readFrame(t, conn)
		answer.WriteString(f.Payload)
		if f.Type == datatypes.FrameStreamEnd {
			break
		}
		require.Equal(t, datatypes.FrameStreamChunk, f.Type)
	}
	assert.Contains(t, answer.String(), "question: hello")
	assert.Equal(t, int64(1), ts.supervisor.ActiveSessions())
}

func TestSupervisor_MalformedFrameReturnsError(t *testing.T) {
	ts := newTestServer(t, 2)
	conn := dial(t, ts.wsURL())
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"nope":1}`)))
	f := readFrame(t, conn)
	assert.Equal(t, datatypes.FrameError, f.Type)
	assert.Equal(t, datatypes.CodeProtocolError, f.Code)

	// The session is still usable.
	require.NoError(t, conn.WriteJSON(map[string]string{"payload": "again"}))
	assert.Equal(t, datatypes.FrameUserMessage, readFrame(t, conn).Type)
}

func TestSupervisor_RejectsBeyondCapacity(t *testing.T) {
	ts := newTestServer(t, 1)
	first := dial(t, ts.wsURL())
	defer first.Close()

	require.Eventually(t, func() bool {
		return ts.supervisor.ActiveSessions() == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.RejectedConnectionsTotal.WithLabelValues("capacity")))

	// Closing the first session frees the slot.
	require.NoError(t, first.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	require.Eventually(t, func() bool {
		return ts.supervisor.ActiveSessions() == 0
	}, 2*time.Second, 10*time.Millisecond)

	second := dial(t, ts.wsURL())
	defer second.Close()
}

func TestSupervisor_CancelClosesSessions(t *testing.T) {
	ts := newTestServer(t, 2)
	conn := dial(t, ts.wsURL())
	defer conn.Close()

	require.Eventually(t, func() bool {
		return ts.supervisor.ActiveSessions() == 1
	}, 2*time.Second, 10*time.Millisecond)

	ts.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ts.supervisor.Wait(ctx))
	assert.Equal(t, int64(0), ts.supervisor.ActiveSessions())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestSupervisor_RefusesAfterShutdown(t *testing.T) {
	ts := newTestServer(t, 2)
	ts.cancel()
	require.NoError(t, ts.supervisor.Wait(context.Background()))

	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.RejectedConnectionsTotal.WithLabelValues("shutdown")))
	assert.Equal(t, int64(0), ts.supervisor.ActiveSessions())
}

func TestSupervisor_WaitRefusesLateConnections(t *testing.T) {
	ts := newTestServer(t, 2)
	require.NoError(t, ts.supervisor.Wait(context.Background()))

	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSupervisor_FrameAboveReadLimitEndsSession(t *testing.T) {
	ts := newTestServer(t, 2)
	ts.supervisor.cfg.MaxMessageBytes = 8
	conn := dial(t, ts.wsURL())
	defer conn.Close()

	require.Eventually(t, func() bool {
		return ts.supervisor.ActiveSessions() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Over the payload cap but under the read limit: protocol error.
	require.NoError(t, conn.WriteJSON(map[string]string{"payload": "too long for eight"}))
	f := readFrame(t, conn)
	assert.Equal(t, datatypes.CodeProtocolError, f.Code)

	// Over the read limit: the connection is closed.
	big := strings.Repeat("x", 8*6+readLimitSlack+1)
	require.NoError(t, conn.WriteJSON(map[string]string{"payload": big}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	require.Eventually(t, func() bool {
		return ts.supervisor.ActiveSessions() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheck_ReportsSessions(t *testing.T) {
	ts := newTestServer(t, 3)
	conn := dial(t, ts.wsURL())
	defer conn.Close()

	require.Eventually(t, func() bool {
		return ts.supervisor.ActiveSessions() == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(ts.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, HealthResponse{Status: "ok", ActiveSessions: 1, MaxSessions: 3}, body)
}
