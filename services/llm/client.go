// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm wraps the language model backends used by a chat session.
//
// # Description
//
// A backend provides three capabilities, each behind its own interface so
// sessions and tests can depend on exactly what they use:
//
//   - Embedder: text to vector, used for retrieval.
//   - Completer: one-shot prompt completion, used for question reformulation.
//   - ChatStreamer: incremental chat generation, used for answers.
//
// Two backends are provided: Ollama (through langchaingo) and any
// OpenAI-compatible endpoint (through go-openai).
package llm

import (
	"context"

	"github.com/AleutianAI/ragstream/services/orchestrator/datatypes"
)

// Embedder produces an embedding vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer runs a single prompt to completion and returns the text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ChatStreamer opens an incremental generation over a message list.
//
// # Description
//
// StreamChat returns once the request has been issued. Errors that occur
// after that point surface from Stream.Next. messages is never modified.
type ChatStreamer interface {
	StreamChat(ctx context.Context, messages []datatypes.ChatTurn) (Stream, error)
}

// Backend is the full set of capabilities a model server offers.
type Backend interface {
	Embedder
	Completer
	ChatStreamer
}

// StreamFragment is one piece of a generated answer.
//
// # Fields
//
//   - Content: Text of this piece. May be empty.
//   - Final: True for the last fragment of a stream, and only for it.
type StreamFragment struct {
	Content string
	Final   bool
}

// Stream yields the fragments of one generation in order.
//
// # Description
//
// Next blocks until the next fragment is available. Exactly one fragment
// has Final set; every call after it returns io.EOF. Close aborts the
// generation and may be called at any time, more than once.
//
// # Thread Safety
//
// Next must be called from a single goroutine. Close may be called from any.
type Stream interface {
	Next(ctx context.Context) (StreamFragment, error)
	Close() error
}
