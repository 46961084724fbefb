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
	"fmt"
	"strings"
)

// Backend type names accepted by NewBackend.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
)

// BackendConfig is the backend-neutral client configuration.
type BackendConfig struct {
	Type           string
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
}

// NewBackend builds the client named by cfg.Type.
func NewBackend(cfg BackendConfig) (Backend, error) {
	switch strings.ToLower(cfg.Type) {
	case BackendOllama, "":
		return NewOllamaClient(OllamaConfig{
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
		})
	case BackendOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
		})
	default:
		return nil, fmt.Errorf("unknown llm backend type %q", cfg.Type)
	}
}
