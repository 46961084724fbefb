// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session runs one chat conversation over one WebSocket connection.
//
// # Description
//
// An Engine owns the conversation history, the session state and every
// write to the connection. Engine.Run is a single goroutine multiplexing
// three event sources:
//
//   - inbound frames, delivered by a reader goroutine
//   - the keepalive ticker, which sends a ping control frame
//   - events from the active request cycle
//
// The request cycle (reformulate, retrieve, generate) runs its blocking
// upstream calls in a worker goroutine that holds an immutable history
// snapshot. Every fragment the worker hands over is written to the client
// before the worker is allowed to request the next one. History changes are
// applied by the loop only.
//
// Questions arriving while a cycle is active wait in a bounded FIFO queue.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/ragstream/services/orchestrator/datatypes"
	"github.com/AleutianAI/ragstream/services/orchestrator/observability"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("ragstream.session")

// pingPayload is the application data carried by keepalive pings.
var pingPayload = []byte("ping")

// Conn is the subset of *websocket.Conn used by the engine.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// inboundMessage is one result of Conn.ReadMessage.
type inboundMessage struct {
	messageType int
	data        []byte
	err         error
}

// Engine drives one session.
//
// # Thread Safety
//
// Run must be called once. State may be called from any goroutine.
type Engine struct {
	id      string
	conn    Conn
	cfg     *Config
	deps    Dependencies
	metrics *observability.SessionMetrics
	logger  *slog.Logger

	history *datatypes.History
	limiter *rate.Limiter
	queue   []string
	cycle   *cycle
	state   atomic.Int32
}

// NewEngine creates an engine for conn.
//
// # Inputs
//
//   - id: Session identifier used in logs.
//   - conn: Upgraded connection. The engine closes it when Run returns.
//   - cfg: Shared session settings.
//   - deps: Upstream services.
//
// # Outputs
//
//   - *Engine: Engine in StateAwaitingInput with a history holding only the
//     system turn.
//   - error: Non-nil when deps lacks a service cfg requires.
func NewEngine(id string, conn Conn, cfg *Config, deps Dependencies) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("session: config is required")
	}
	if err := deps.validate(cfg); err != nil {
		return nil, err
	}

	e := &Engine{
		id:      id,
		conn:    conn,
		cfg:     cfg,
		deps:    deps,
		metrics: deps.Metrics,
		logger:  slog.With("session_id", id),
		history: datatypes.NewHistory(cfg.SystemPrompt),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	e.state.Store(int32(StateAwaitingInput))
	return e, nil
}

// ID returns the session identifier.
func (e *Engine) ID() string {
	return e.id
}

// State returns the current session state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	prev := State(e.state.Swap(int32(s)))
	if prev != s {
		e.logger.Debug("Session state changed", "from", prev.String(), "to", s.String())
	}
}

// Run processes the session until the client disconnects, the transport
// fails or ctx is cancelled.
//
// # Description
//
// A close frame or ctx cancellation ends the session normally and Run
// returns nil. A transport failure is returned as an error. Either way any
// active request cycle is cancelled without draining its stream, nothing
// more is appended to history, and the connection is closed.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.metrics.SessionOpened()
	defer e.metrics.SessionClosed()
	defer e.conn.Close()

	inbound := make(chan inboundMessage)
	go e.readLoop(ctx, inbound)

	interval := e.cfg.KeepaliveInterval
	if interval <= 0 {
		interval = DefaultConfig().KeepaliveInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("Session started")
	err := e.loop(ctx, inbound, ticker.C)
	e.abortCycle()
	e.setState(StateClosed)

	if err != nil {
		e.logger.Warn("Session closed on transport error", "error", err, "turns", e.history.Len())
		return err
	}
	e.logger.Info("Session closed", "turns", e.history.Len())
	return nil
}

// loop is the event multiplexer. It returns nil on a normal close.
func (e *Engine) loop(ctx context.Context, inbound <-chan inboundMessage, ticks <-chan time.Time) error {
	for {
		var events <-chan cycleEvent
		if e.cycle != nil {
			events = e.cycle.events
		}

		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = e.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			return nil

		case msg := <-inbound:
			if msg.err != nil {
				if isNormalClose(msg.err) {
					e.logger.Info("Client disconnected")
					return nil
				}
				return fmt.Errorf("read: %w", msg.err)
			}
			if err := e.handleInbound(ctx, msg); err != nil {
				return err
			}

		case <-ticks:
			if err := e.sendKeepalive(); err != nil {
				return err
			}

		case ev := <-events:
			if err := e.handleCycleEvent(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// readLoop forwards every read result to out until a read fails.
func (e *Engine) readLoop(ctx context.Context, out chan<- inboundMessage) {
	for {
		mt, data, err := e.conn.ReadMessage()
		select {
		case out <- inboundMessage{messageType: mt, data: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// handleInbound validates one frame and starts or queues a request cycle.
// The returned error is a transport failure.
func (e *Engine) handleInbound(ctx context.Context, msg inboundMessage) error {
	if msg.messageType != websocket.TextMessage {
		return e.writeError(datatypes.CodeProtocolError, "only text frames are accepted")
	}
	if e.limiter != nil && !e.limiter.Allow() {
		e.logger.Warn("Inbound frame dropped by rate limiter")
		return e.writeError(datatypes.CodeRateLimited, "too many messages, slow down")
	}

	res := datatypes.DecodeInboundFrame(msg.data, e.cfg.MaxMessageBytes)
	if !res.Valid() {
		e.logger.Warn("Malformed inbound frame", "reason", res.Err.Reason)
		return e.writeError(res.Err.Code, res.Err.Reason)
	}

	question := res.Frame.Payload
	if e.cycle == nil {
		return e.startCycle(ctx, question)
	}
	if len(e.queue) >= e.cfg.MaxQueuedMessages {
		e.logger.Warn("Question dropped, queue full", "queued", len(e.queue))
		return e.writeError(datatypes.CodeBusy, "a previous question is still being answered")
	}
	e.queue = append(e.queue, question)
	return nil
}

// startNext pops the next queued question, if any.
func (e *Engine) startNext(ctx context.Context) error {
	if len(e.queue) == 0 {
		return nil
	}
	question := e.queue[0]
	e.queue = e.queue[1:]
	return e.startCycle(ctx, question)
}

func (e *Engine) sendKeepalive() error {
	deadline := time.Now().Add(e.writeTimeout())
	if err := e.conn.WriteControl(websocket.PingMessage, pingPayload, deadline); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	e.metrics.Keepalive()
	return nil
}

// writeFrame serializes and sends one outbound frame.
func (e *Engine) writeFrame(frame datatypes.OutboundFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", frame.Type, err)
	}
	if e.cfg.WriteTimeout > 0 {
		if err := e.conn.SetWriteDeadline(time.Now().Add(e.cfg.WriteTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if err := e.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", frame.Type, err)
	}
	return nil
}

func (e *Engine) writeError(code datatypes.ErrorCode, message string) error {
	e.metrics.ErrorFrame(string(code))
	return e.writeFrame(datatypes.NewErrorFrame(code, message))
}

func (e *Engine) writeTimeout() time.Duration {
	if e.cfg.WriteTimeout > 0 {
		return e.cfg.WriteTimeout
	}
	return 10 * time.Second
}

// isNormalClose reports whether err is the peer closing the connection.
func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
