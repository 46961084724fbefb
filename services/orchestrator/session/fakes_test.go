// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/ragstream/services/llm"
	"github.com/AleutianAI/ragstream/services/orchestrator/datatypes"
	"github.com/AleutianAI/ragstream/services/retrieval"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fake connection
// =============================================================================

type wsMessage struct {
	messageType int
	data        []byte
}

// fakeConn is an in-memory Conn. Tests push inbound messages and read the
// decoded outbound frames.
type fakeConn struct {
	inbound chan wsMessage
	frames  chan datatypes.OutboundFrame
	pings   chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
	dropped   chan struct{}
	dropOnce  sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan wsMessage, 32),
		frames:  make(chan datatypes.OutboundFrame, 256),
		pings:   make(chan struct{}, 256),
		closed:  make(chan struct{}),
		dropped: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m, ok := <-c.inbound:
		if !ok {
			return -1, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return m.messageType, m.data, nil
	case <-c.dropped:
		return -1, nil, io.ErrUnexpectedEOF
	case <-c.closed:
		return -1, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	var frame datatypes.OutboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	c.frames <- frame
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	if messageType == websocket.PingMessage {
		select {
		case c.pings <- struct{}{}:
		default:
		}
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sendQuestion(question string) {
	data, _ := json.Marshal(map[string]string{"payload": question})
	c.inbound <- wsMessage{messageType: websocket.TextMessage, data: data}
}

func (c *fakeConn) sendRaw(messageType int, data string) {
	c.inbound <- wsMessage{messageType: messageType, data: []byte(data)}
}

// disconnect simulates a close frame from the client.
func (c *fakeConn) disconnect() {
	close(c.inbound)
}

// drop simulates a broken transport.
func (c *fakeConn) drop() {
	c.dropOnce.Do(func() { close(c.dropped) })
}

func nextFrame(t *testing.T, c *fakeConn) datatypes.OutboundFrame {
	t.Helper()
	select {
	case f := <-c.frames:
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for an outbound frame")
		return datatypes.OutboundFrame{}
	}
}

// readUntilEnd collects frames up to and including the first terminal frame
// (bot_stream_end or error).
func readUntilEnd(t *testing.T, c *fakeConn) []datatypes.OutboundFrame {
	t.Helper()
	var out []datatypes.OutboundFrame
	for {
		f := nextFrame(t, c)
		out = append(out, f)
		if f.Type == datatypes.FrameStreamEnd || f.Type == datatypes.FrameError {
			return out
		}
	}
}

func expectNoFrame(t *testing.T, c *fakeConn, wait time.Duration) {
	t.Helper()
	select {
	case f := <-c.frames:
		t.Fatalf("unexpected frame: %+v", f)
	case <-time.After(wait):
	}
}

// =============================================================================
// Fake upstreams
// =============================================================================

// scriptedStreamer returns streams that yield chunks then an empty final
// fragment.
type scriptedStreamer struct {
	chunks  []string
	openErr error
	nextErr error
	delay   time.Duration

	// gate, when set, must receive a value before each fragment is produced.
	gate chan struct{}

	mu    sync.Mutex
	calls [][]datatypes.ChatTurn

	// cancelled is closed once a stream observes cancellation or is closed.
	cancelled chan struct{}
	once      sync.Once
}

func newScriptedStreamer(chunks ...string) *scriptedStreamer {
	return &scriptedStreamer{chunks: chunks, cancelled: make(chan struct{})}
}

func (s *scriptedStreamer) StreamChat(ctx context.Context, messages []datatypes.ChatTurn) (llm.Stream, error) {
	s.mu.Lock()
	s.calls = append(s.calls, append([]datatypes.ChatTurn(nil), messages...))
	s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	return &scriptedStream{owner: s}, nil
}

func (s *scriptedStreamer) recorded() [][]datatypes.ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]datatypes.ChatTurn(nil), s.calls...)
}

type scriptedStream struct {
	owner *scriptedStreamer
	i     int
}

func (st *scriptedStream) Next(ctx context.Context) (llm.StreamFragment, error) {
	s := st.owner
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			s.once.Do(func() { close(s.cancelled) })
			return llm.StreamFragment{}, ctx.Err()
		}
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			s.once.Do(func() { close(s.cancelled) })
			return llm.StreamFragment{}, ctx.Err()
		}
	}
	defer func() { st.i++ }()
	switch {
	case st.i < len(s.chunks):
		return llm.StreamFragment{Content: s.chunks[st.i]}, nil
	case st.i == len(s.chunks) && s.nextErr != nil:
		return llm.StreamFragment{}, s.nextErr
	case st.i == len(s.chunks):
		return llm.StreamFragment{Final: true}, nil
	default:
		return llm.StreamFragment{}, io.EOF
	}
}

func (st *scriptedStream) Close() error {
	st.owner.once.Do(func() { close(st.owner.cancelled) })
	return nil
}

// fakeReformulator prefixes the question and records the history it saw.
type fakeReformulator struct {
	err error

	mu       sync.Mutex
	calls    int
	lastSeen []datatypes.ChatTurn
}

func (f *fakeReformulator) Reformulate(_ context.Context, history []datatypes.ChatTurn, question string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastSeen = history
	if f.err != nil {
		return "", f.err
	}
	return "rephrased: " + question, nil
}

// panicCompleter fails the test if reformulation reaches the upstream.
type panicCompleter struct {
	t *testing.T
}

func (p panicCompleter) Complete(context.Context, string) (string, error) {
	p.t.Error("completion called although history holds only the system turn")
	return "", errors.New("unexpected call")
}

type fakeEmbedder struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.25, -1, 3}, nil
}

type fakeRetriever struct {
	passages []retrieval.Passage
	err      error

	mu     sync.Mutex
	counts []int
}

func (f *fakeRetriever) Query(_ context.Context, _ []float32, count int) ([]retrieval.Passage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = append(f.counts, count)
	if f.err != nil {
		return nil, f.err
	}
	return f.passages, nil
}

// =============================================================================
// Engine harness
// =============================================================================

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.KeepaliveInterval = time.Hour
	cfg.RateLimit = 0
	cfg.UpstreamTimeout = 2 * time.Second
	cfg.GenerationTimeout = 5 * time.Second
	return cfg
}

type harness struct {
	engine *Engine
	conn   *fakeConn
	done   chan error
}

func startEngine(t *testing.T, cfg Config, deps Dependencies) *harness {
	t.Helper()
	conn := newFakeConn()
	engine, err := NewEngine("test-session", conn, &cfg, deps)
	require.NoError(t, err)

	h := &harness{engine: engine, conn: conn, done: make(chan error, 1)}
	go func() { h.done <- engine.Run(context.Background()) }()
	return h
}

// wait blocks until Run returns. History may be inspected afterwards.
func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("engine did not stop")
		return nil
	}
}
