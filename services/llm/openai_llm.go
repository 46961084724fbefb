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
	"io"
	"log/slog"
	"sync"

	"github.com/AleutianAI/ragstream/services/orchestrator/datatypes"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Compile-time interface implementation check.
var _ Backend = (*OpenAIClient)(nil)

// OpenAIConfig selects an OpenAI-compatible endpoint and models.
type OpenAIConfig struct {
	// APIKey sent as a bearer token. May be empty for local servers.
	APIKey string
	// BaseURL overrides the API root, e.g. "http://localhost:8000/v1".
	BaseURL string
	// Model used for reformulation and answers.
	Model string
	// EmbeddingModel used for retrieval vectors.
	EmbeddingModel string
}

// OpenAIClient talks to any endpoint that speaks the OpenAI chat API.
type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel string
}

// NewOpenAIClient builds a client. No request is made until first use.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, errors.New("openai model is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	embedModel := cfg.EmbeddingModel
	if embedModel == "" {
		embedModel = string(openai.SmallEmbedding3)
		slog.Warn("Embedding model not set, defaulting", "model", embedModel)
	}

	slog.Info("Initializing OpenAI client", "base_url", clientCfg.BaseURL, "model", cfg.Model,
		"embedding_model", embedModel)
	return &OpenAIClient{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          cfg.Model,
		embeddingModel: embedModel,
	}, nil
}

// Embed implements Embedder.
func (o *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Embed")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.embeddingModel))

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.embeddingModel),
	})
	if err == nil && (len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0) {
		err = errors.New("openai returned no embedding")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("openai embedding failed: %w", err)
	}
	return resp.Data[0].Embedding, nil
}

// Complete implements Completer.
func (o *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err == nil && len(resp.Choices) == 0 {
		err = errors.New("openai returned no choices")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("OpenAI API call failed", "error", err)
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// StreamChat implements ChatStreamer.
func (o *OpenAIClient) StreamChat(ctx context.Context, messages []datatypes.ChatTurn) (Stream, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.StreamChat")
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.messages", len(messages)),
	)

	stream, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, fmt.Errorf("openai chat stream failed: %w", err)
	}
	return &openAIStream{stream: stream, span: span}, nil
}

// openAIStream maps go-openai stream chunks onto fragments.
//
// The chunk carrying a finish reason is final. If the server ends the stream
// without one, io.EOF from the SDK becomes an empty final fragment.
type openAIStream struct {
	stream    *openai.ChatCompletionStream
	span      trace.Span
	finished  bool
	closeOnce sync.Once
}

// Next implements Stream.
func (s *openAIStream) Next(ctx context.Context) (StreamFragment, error) {
	if s.finished {
		return StreamFragment{}, io.EOF
	}
	for {
		if err := ctx.Err(); err != nil {
			return StreamFragment{}, err
		}
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.finished = true
			return StreamFragment{Final: true}, nil
		}
		if err != nil {
			s.finished = true
			s.span.RecordError(err)
			s.span.SetStatus(codes.Error, err.Error())
			return StreamFragment{}, fmt.Errorf("openai chat stream failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			s.finished = true
			return StreamFragment{Content: choice.Delta.Content, Final: true}, nil
		}
		if choice.Delta.Content == "" {
			continue
		}
		return StreamFragment{Content: choice.Delta.Content}, nil
	}
}

// Close implements Stream.
func (s *openAIStream) Close() error {
	s.closeOnce.Do(func() {
		s.stream.Close()
		s.span.End()
	})
	return nil
}

func toOpenAIMessages(turns []datatypes.ChatTurn) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		switch t.Role {
		case datatypes.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case datatypes.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	return out
}
