// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/ragstream/services/orchestrator/datatypes"
	"github.com/gorilla/websocket"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Asker sends one question and streams back its answer.
//
// # Description
//
// Asker abstracts the WebSocket connection so the chat runner can be
// tested without a server.
type Asker interface {
	// Ask sends question and calls onChunk for every non-empty answer
	// fragment, in order, until the answer ends.
	//
	// # Outputs
	//
	//   - Answer: Text and fragment count of the streamed answer.
	//   - error: *ServerError when the server answered with an error frame,
	//     otherwise a transport or context error.
	Ask(ctx context.Context, question string, onChunk func(string)) (Answer, error)

	// Close ends the session with a normal closure.
	Close() error
}

// Answer is a completed streamed answer.
type Answer struct {
	Text      string
	Fragments int
}

// ServerError is an error frame sent by the server.
type ServerError struct {
	Code    datatypes.ErrorCode
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// =============================================================================
// WebSocket Implementation
// =============================================================================

// ChatClient is an Asker over a gorilla/websocket connection.
//
// # Thread Safety
//
// Not thread-safe. One question at a time.
type ChatClient struct {
	conn *websocket.Conn
}

var _ Asker = (*ChatClient)(nil)

// DialChat opens a chat session at url.
func DialChat(ctx context.Context, url string) (*ChatClient, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w (HTTP %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return &ChatClient{conn: conn}, nil
}

func (c *ChatClient) Ask(ctx context.Context, question string, onChunk func(string)) (Answer, error) {
	if err := c.conn.WriteJSON(datatypes.InboundFrame{Payload: question}); err != nil {
		return Answer{}, fmt.Errorf("send: %w", err)
	}

	// Cancellation interrupts a blocked read by expiring its deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return Answer{}, err
	}

	var text strings.Builder
	var answer Answer
	for {
		var frame datatypes.OutboundFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return answer, ctx.Err()
			}
			return answer, fmt.Errorf("receive: %w", err)
		}

		switch frame.Type {
		case datatypes.FrameUserMessage:
			// Echo of the question. Nothing to render.
		case datatypes.FrameStreamChunk, datatypes.FrameStreamEnd:
			if frame.Payload != "" {
				text.WriteString(frame.Payload)
				answer.Fragments++
				onChunk(frame.Payload)
			}
			if frame.Type == datatypes.FrameStreamEnd {
				answer.Text = text.String()
				return answer, nil
			}
		case datatypes.FrameError:
			answer.Text = text.String()
			return answer, &ServerError{Code: frame.Code, Message: frame.Payload}
		}
	}
}

func (c *ChatClient) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	writeErr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	closeErr := c.conn.Close()
	if writeErr != nil && !errors.Is(writeErr, websocket.ErrCloseSent) {
		return writeErr
	}
	return closeErr
}
