// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the process configuration for the chat server.
//
// # Description
//
// Configuration is resolved once at startup in three layers, later layers
// winning: DefaultConfig, an optional YAML file, then environment
// variables. The result is validated and afterwards treated as read-only.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	LLM            LLMConfig            `yaml:"llm"`
	Retrieval      RetrievalConfig      `yaml:"retrieval"`
	Chat           ChatConfig           `yaml:"chat"`
	EmbeddingCache EmbeddingCacheConfig `yaml:"embedding_cache"`
	Logging        LoggingConfig        `yaml:"logging"`
	Tracing        TracingConfig        `yaml:"tracing"`
}

// ServerConfig controls the listener and per-session limits.
type ServerConfig struct {
	Host              string        `yaml:"host" validate:"required"`
	Port              int           `yaml:"port" validate:"min=1,max=65535"`
	MaxSessions       int           `yaml:"max_sessions" validate:"min=1"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval" validate:"gt=0"`
	MaxMessageBytes   int           `yaml:"max_message_bytes" validate:"min=1"`
	MaxQueuedMessages int           `yaml:"max_queued_messages" validate:"min=0"`
	RateLimit         float64       `yaml:"rate_limit" validate:"gte=0"` // messages/s, 0 disables
	RateBurst         int           `yaml:"rate_burst" validate:"min=1"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// LLMConfig selects the model server and bounds upstream calls.
type LLMConfig struct {
	// Backend can be "ollama" or "openai" (any OpenAI-compatible server).
	Backend           string        `yaml:"backend" validate:"oneof=ollama openai"`
	BaseURL           string        `yaml:"base_url" validate:"required,url"`
	APIKey            string        `yaml:"api_key,omitempty"`
	Model             string        `yaml:"model" validate:"required"`
	EmbeddingModel    string        `yaml:"embedding_model" validate:"required"`
	UpstreamTimeout   time.Duration `yaml:"upstream_timeout" validate:"gt=0"`
	GenerationTimeout time.Duration `yaml:"generation_timeout" validate:"gte=0"` // 0 disables
	RetryAttempts     int           `yaml:"retry_attempts" validate:"min=1,max=10"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay" validate:"gte=0"`
}

// RetrievalConfig selects the vector index.
type RetrievalConfig struct {
	// Backend can be "redis" or "weaviate".
	Backend       string `yaml:"backend" validate:"oneof=redis weaviate"`
	RedisURL      string `yaml:"redis_url"`
	IndexName     string `yaml:"index_name" validate:"required"`
	WeaviateURL   string `yaml:"weaviate_url,omitempty"`
	WeaviateClass string `yaml:"weaviate_class,omitempty"`
	MaxResults    int    `yaml:"max_results" validate:"min=1"`
	// ResultWindow caps returned passages independently of MaxResults.
	// 0 means "same as MaxResults".
	ResultWindow int `yaml:"result_window" validate:"min=0"`
}

// ChatConfig holds the per-request behavior flags.
type ChatConfig struct {
	// UseIndex enables retrieval-augmented prompts.
	UseIndex bool `yaml:"use_index"`
	// UseChatHistory sends the full history with each generation. When
	// false the question is reformulated against history instead.
	UseChatHistory bool   `yaml:"use_chat_history"`
	SystemPrompt   string `yaml:"system_prompt"`
}

// EmbeddingCacheConfig controls the optional embedding cache.
type EmbeddingCacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Dir     string        `yaml:"dir,omitempty"` // empty = in-memory
	TTL     time.Duration `yaml:"ttl" validate:"gte=0"`
}

// LoggingConfig mirrors pkg/logging.Config.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json auto"`
	Dir    string `yaml:"dir,omitempty"`
}

// TracingConfig selects the OpenTelemetry exporter.
type TracingConfig struct {
	Exporter    string  `yaml:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint    string  `yaml:"endpoint,omitempty"`
	ServiceName string  `yaml:"service_name" validate:"required"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// DefaultConfig returns every default in one place.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              3005,
			MaxSessions:       256,
			KeepaliveInterval: 5 * time.Second,
			MaxMessageBytes:   32 * 1024,
			MaxQueuedMessages: 8,
			RateLimit:         2,
			RateBurst:         4,
			ShutdownTimeout:   10 * time.Second,
		},
		LLM: LLMConfig{
			Backend:           "ollama",
			BaseURL:           "http://127.0.0.1:11434",
			Model:             "llama3.2",
			EmbeddingModel:    "embeddinggemma",
			UpstreamTimeout:   60 * time.Second,
			GenerationTimeout: 5 * time.Minute,
			RetryAttempts:     1,
			RetryInitialDelay: 500 * time.Millisecond,
		},
		Retrieval: RetrievalConfig{
			Backend:       "redis",
			RedisURL:      "redis://127.0.0.1:6379/0",
			IndexName:     "idx:cv",
			WeaviateClass: "Passage",
			MaxResults:    3,
			ResultWindow:  0,
		},
		Chat: ChatConfig{
			UseIndex:       false,
			UseChatHistory: false,
			SystemPrompt:   "",
		},
		EmbeddingCache: EmbeddingCacheConfig{
			Enabled: false,
			TTL:     24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			ServiceName: "ragstream",
			SampleRatio: 1,
		},
	}
}
