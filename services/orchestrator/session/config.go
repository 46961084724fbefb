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
	"errors"
	"time"

	"github.com/AleutianAI/ragstream/pkg/retry"
	"github.com/AleutianAI/ragstream/services/llm"
	"github.com/AleutianAI/ragstream/services/orchestrator/datatypes"
	"github.com/AleutianAI/ragstream/services/orchestrator/observability"
	"github.com/AleutianAI/ragstream/services/retrieval"
)

// Config holds the per-session behavior. It is built once at startup and
// shared read-only by every session.
//
// # Fields
//
//   - UseChatHistory: Send the full history with every prompt. When false the
//     question is reformulated and sent with only the system prompt.
//   - UseIndex: Retrieve passages and embed them into the prompt.
//   - MaxResults: Nearest neighbours requested per question.
//   - SystemPrompt: Content of the first history turn.
//   - KeepaliveInterval: Period of ping control frames.
//   - WriteTimeout: Deadline for one outbound frame. Zero disables.
//   - MaxMessageBytes: Upper bound for an inbound payload.
//   - MaxQueuedMessages: Questions buffered while a cycle is active.
//   - RateLimit: Inbound frames per second. Zero disables.
//   - RateBurst: Burst size for RateLimit.
//   - UpstreamTimeout: Deadline for each unary upstream call. Zero disables.
//   - GenerationTimeout: Deadline for a whole generation stream. Zero disables.
//   - Retry: Policy for unary upstream calls. Streams are never retried.
type Config struct {
	UseChatHistory    bool
	UseIndex          bool
	MaxResults        int
	SystemPrompt      string
	KeepaliveInterval time.Duration
	WriteTimeout      time.Duration
	MaxMessageBytes   int
	MaxQueuedMessages int
	RateLimit         float64
	RateBurst         int
	UpstreamTimeout   time.Duration
	GenerationTimeout time.Duration
	Retry             retry.Policy
}

// DefaultConfig returns the session settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxResults:        3,
		KeepaliveInterval: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessageBytes:   datatypes.DefaultMaxPayloadBytes,
		MaxQueuedMessages: 8,
		RateLimit:         2,
		RateBurst:         4,
		UpstreamTimeout:   60 * time.Second,
		GenerationTimeout: 5 * time.Minute,
		Retry:             retry.NoRetry,
	}
}

// QuestionReformulator rewrites a question using the conversation so far.
type QuestionReformulator interface {
	Reformulate(ctx context.Context, history []datatypes.ChatTurn, question string) (string, error)
}

// Dependencies are the upstream services a session calls. They are shared
// across sessions and must be safe for concurrent use.
//
// # Fields
//
//   - Reformulator: Required unless UseChatHistory is set.
//   - Embedder: Required when UseIndex is set.
//   - Retriever: Required when UseIndex is set.
//   - Streamer: Always required.
//   - Metrics: Optional.
type Dependencies struct {
	Reformulator QuestionReformulator
	Embedder     llm.Embedder
	Retriever    retrieval.Retriever
	Streamer     llm.ChatStreamer
	Metrics      *observability.SessionMetrics
}

// validate checks that every dependency cfg needs is present.
func (d Dependencies) validate(cfg *Config) error {
	if d.Streamer == nil {
		return errors.New("session: a chat streamer is required")
	}
	if !cfg.UseChatHistory && d.Reformulator == nil {
		return errors.New("session: a reformulator is required when chat history mode is off")
	}
	if cfg.UseIndex && (d.Embedder == nil || d.Retriever == nil) {
		return errors.New("session: an embedder and a retriever are required when the index is enabled")
	}
	return nil
}
