// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultMaxPayloadBytes is the default upper bound for an inbound question.
	DefaultMaxPayloadBytes = 32 * 1024 // 32KB
)

// FrameType is the "type" discriminator of an outbound frame.
type FrameType string

const (
	// FrameUserMessage echoes the received question back to the client.
	FrameUserMessage FrameType = "user_message"

	// FrameStreamChunk carries one non-final generation fragment.
	FrameStreamChunk FrameType = "bot_stream_chunk"

	// FrameStreamEnd carries the final generation fragment.
	FrameStreamEnd FrameType = "bot_stream_end"

	// FrameError reports a protocol or upstream failure. The session stays open.
	FrameError FrameType = "error"
)

// ErrorCode classifies an error frame.
type ErrorCode string

const (
	// CodeProtocolError marks a malformed inbound frame.
	CodeProtocolError ErrorCode = "protocol_error"

	// CodeUpstreamError marks a failed generation or retrieval call.
	CodeUpstreamError ErrorCode = "upstream_error"

	// CodeRateLimited marks a frame dropped by the per-session rate limiter.
	CodeRateLimited ErrorCode = "rate_limited"

	// CodeBusy marks a frame dropped because the pending queue is full.
	CodeBusy ErrorCode = "busy"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// frameValidate is the validator instance for frame datatypes.
// Initialized in init() with custom validators.
var frameValidate *validator.Validate

func init() {
	frameValidate = validator.New()
	_ = frameValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks the byte length (not rune count) of a string
// against the tag parameter, e.g. `maxbytes=32768`.
func validateMaxBytes(fl validator.FieldLevel) bool {
	limit, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return len(fl.Field().String()) <= limit
}

// =============================================================================
// Inbound
// =============================================================================

// InboundFrame is a decoded, validated client question.
type InboundFrame struct {
	Payload string `json:"payload" validate:"required"`
}

// inboundWire mirrors InboundFrame with a raw payload so that a payload of
// the wrong JSON type can be told apart from a missing one.
type inboundWire struct {
	Payload json.RawMessage `json:"payload"`
}

// ProtocolError describes why an inbound frame was rejected.
//
// # Description
//
// ProtocolError is reported back to the client as an error frame. It never
// closes the session.
type ProtocolError struct {
	Code   ErrorCode
	Reason string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// DecodeResult is the tagged outcome of DecodeInboundFrame: exactly one of
// Frame and Err is set.
type DecodeResult struct {
	Frame *InboundFrame
	Err   *ProtocolError
}

// Valid reports whether the decode produced a frame.
func (r DecodeResult) Valid() bool {
	return r.Frame != nil
}

// DecodeInboundFrame parses and validates a text frame.
//
// # Description
//
// The frame must be a JSON object with a non-empty string field "payload"
// no longer than maxBytes. Anything else yields a ProtocolError. Unknown
// fields are ignored.
//
// # Inputs
//
//   - data: Raw text frame bytes.
//   - maxBytes: Maximum payload size in bytes. Zero means DefaultMaxPayloadBytes.
//
// # Outputs
//
//   - DecodeResult: Either a valid frame or a protocol error, never both.
//
// # Examples
//
//	res := DecodeInboundFrame([]byte(`{"payload":"What is 2+2?"}`), 0)
//	if !res.Valid() {
//	    return res.Err
//	}
//	fmt.Println(res.Frame.Payload)
func DecodeInboundFrame(data []byte, maxBytes int) DecodeResult {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPayloadBytes
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return protocolFailure("frame is not a JSON object")
	}

	var wire inboundWire
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return protocolFailure("invalid JSON: " + err.Error())
	}
	if len(wire.Payload) == 0 || bytes.Equal(wire.Payload, []byte("null")) {
		return protocolFailure("missing field \"payload\"")
	}

	var frame InboundFrame
	if err := json.Unmarshal(wire.Payload, &frame.Payload); err != nil {
		return protocolFailure("field \"payload\" must be a string")
	}
	if err := frameValidate.Struct(&frame); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return protocolFailure("field \"payload\" must not be empty")
		}
		return protocolFailure(err.Error())
	}
	if err := frameValidate.Var(frame.Payload, fmt.Sprintf("maxbytes=%d", maxBytes)); err != nil {
		return protocolFailure(fmt.Sprintf("payload exceeds %d bytes", maxBytes))
	}
	return DecodeResult{Frame: &frame}
}

func protocolFailure(reason string) DecodeResult {
	return DecodeResult{Err: &ProtocolError{Code: CodeProtocolError, Reason: reason}}
}

// =============================================================================
// Outbound
// =============================================================================

// OutboundFrame is a server to client message.
//
// # Fields
//
//   - Type: Frame discriminator.
//   - Payload: Echoed question, fragment text or error description.
//   - Code: Only set on error frames.
type OutboundFrame struct {
	Type    FrameType `json:"type"`
	Payload string    `json:"payload"`
	Code    ErrorCode `json:"code,omitempty"`
}

// NewUserMessageFrame builds the acknowledgment frame for a question.
func NewUserMessageFrame(question string) OutboundFrame {
	return OutboundFrame{Type: FrameUserMessage, Payload: question}
}

// NewChunkFrame builds a non-final fragment frame.
func NewChunkFrame(content string) OutboundFrame {
	return OutboundFrame{Type: FrameStreamChunk, Payload: content}
}

// NewEndFrame builds the final fragment frame.
func NewEndFrame(content string) OutboundFrame {
	return OutboundFrame{Type: FrameStreamEnd, Payload: content}
}

// NewErrorFrame builds an error frame.
func NewErrorFrame(code ErrorCode, message string) OutboundFrame {
	return OutboundFrame{Type: FrameError, Payload: message, Code: code}
}
