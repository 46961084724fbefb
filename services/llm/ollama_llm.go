// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/ragstream/services/orchestrator/datatypes"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("ragstream.llm")

// Compile-time interface implementation check.
var _ Backend = (*OllamaClient)(nil)

// OllamaConfig selects the Ollama server and models.
type OllamaConfig struct {
	// BaseURL of the Ollama server, e.g. "http://127.0.0.1:11434".
	BaseURL string
	// Model used for reformulation and answers.
	Model string
	// EmbeddingModel used for retrieval vectors.
	EmbeddingModel string
}

// OllamaClient talks to an Ollama server through langchaingo.
//
// # Description
//
// Two langchaingo clients are held because langchaingo binds one model per
// client: one for chat/completion and one for embeddings.
//
// # Thread Safety
//
// Safe for concurrent use.
type OllamaClient struct {
	chat           *ollama.LLM
	embed          *ollama.LLM
	model          string
	embeddingModel string
}

// NewOllamaClient builds a client. No request is made until first use.
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("ollama base url is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("ollama model is required")
	}

	chat, err := ollama.New(ollama.WithServerURL(baseURL), ollama.WithModel(cfg.Model))
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama chat client: %w", err)
	}
	embedModel := cfg.EmbeddingModel
	if embedModel == "" {
		embedModel = cfg.Model
	}
	embed, err := ollama.New(ollama.WithServerURL(baseURL), ollama.WithModel(embedModel))
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama embedding client: %w", err)
	}

	slog.Info("Initializing Ollama client", "base_url", baseURL, "model", cfg.Model,
		"embedding_model", embedModel)
	return &OllamaClient{
		chat:           chat,
		embed:          embed,
		model:          cfg.Model,
		embeddingModel: embedModel,
	}, nil
}

// Embed implements Embedder.
func (o *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.Embed")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.embeddingModel))

	vectors, err := o.embed.CreateEmbedding(ctx, []string{text})
	if err == nil && (len(vectors) == 0 || len(vectors[0]) == 0) {
		err = errors.New("ollama returned no embedding")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("ollama embedding failed: %w", err)
	}
	span.SetAttributes(attribute.Int("llm.embedding.dimensions", len(vectors[0])))
	return vectors[0], nil
}

// Complete implements Completer.
func (o *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	text, err := llms.GenerateFromSinglePrompt(ctx, o.chat, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("ollama completion failed: %w", err)
	}
	return text, nil
}

// StreamChat implements ChatStreamer.
//
// Every streamed chunk becomes a non-final fragment. When the call returns
// successfully a final empty fragment closes the stream.
func (o *OllamaClient) StreamChat(ctx context.Context, messages []datatypes.ChatTurn) (Stream, error) {
	content := toLangchainMessages(messages)
	model := o.model

	return newCallbackStream(ctx, func(ctx context.Context, emit func(string) error) error {
		ctx, span := tracer.Start(ctx, "OllamaClient.StreamChat")
		defer span.End()
		span.SetAttributes(
			attribute.String("llm.model", model),
			attribute.Int("llm.messages", len(content)),
		)

		chunks := 0
		_, err := o.chat.GenerateContent(ctx, content,
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				chunks++
				return emit(string(chunk))
			}),
		)
		span.SetAttributes(attribute.Int("llm.chunks", chunks))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("ollama chat stream failed: %w", err)
		}
		return nil
	}), nil
}

// toLangchainMessages maps chat turns onto langchaingo message content.
func toLangchainMessages(turns []datatypes.ChatTurn) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(turns))
	for _, t := range turns {
		var role llms.ChatMessageType
		switch t.Role {
		case datatypes.RoleSystem:
			role = llms.ChatMessageTypeSystem
		case datatypes.RoleAssistant:
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		out = append(out, llms.TextParts(role, t.Content))
	}
	return out
}
