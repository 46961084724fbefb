// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Load resolves the configuration from defaults, path and the process
// environment.
//
// # Inputs
//
//   - path: YAML file. Empty skips the file layer; a non-empty path that
//     does not exist is an error.
//
// # Outputs
//
//   - *Config: Validated configuration.
//   - error: Unreadable file, invalid YAML, unparsable environment value
//     or failed validation.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment.
func LoadWithEnv(path string, lookup LookupFunc) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field rules and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch c.Retrieval.Backend {
	case "redis":
		if c.Retrieval.RedisURL == "" {
			return errors.New("invalid configuration: retrieval.redis_url is required for the redis backend")
		}
	case "weaviate":
		if c.Retrieval.WeaviateURL == "" || c.Retrieval.WeaviateClass == "" {
			return errors.New("invalid configuration: retrieval.weaviate_url and retrieval.weaviate_class are required for the weaviate backend")
		}
	}
	if c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return errors.New("invalid configuration: tracing.endpoint is required for the otlp exporter")
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// envBinding maps one environment variable onto the configuration.
type envBinding struct {
	key   string
	apply func(cfg *Config, value string) error
}

var envBindings = []envBinding{
	{"MODEL_NAME", setString(func(c *Config) *string { return &c.LLM.Model })},
	{"EMBEDDINGS_MODEL_NAME", setString(func(c *Config) *string { return &c.LLM.EmbeddingModel })},
	{"INDEX_NAME", setString(func(c *Config) *string { return &c.Retrieval.IndexName })},
	{"REDIS_URL", setString(func(c *Config) *string { return &c.Retrieval.RedisURL })},
	{"PORT", setInt(func(c *Config) *int { return &c.Server.Port })},
	{"USE_INDEX", setBool(func(c *Config) *bool { return &c.Chat.UseIndex })},
	{"USE_CHAT_HISTORY", setBool(func(c *Config) *bool { return &c.Chat.UseChatHistory })},
	{"MAX_RESULTS", setInt(func(c *Config) *int { return &c.Retrieval.MaxResults })},
	{"RESULT_WINDOW", setInt(func(c *Config) *int { return &c.Retrieval.ResultWindow })},
	{"SYSTEM_PROMPT", setString(func(c *Config) *string { return &c.Chat.SystemPrompt })},
	{"LLM_BACKEND_TYPE", setString(func(c *Config) *string { return &c.LLM.Backend })},
	{"LLM_BASE_URL", setString(func(c *Config) *string { return &c.LLM.BaseURL })},
	{"OPENAI_API_KEY", setString(func(c *Config) *string { return &c.LLM.APIKey })},
	{"VECTOR_BACKEND", setString(func(c *Config) *string { return &c.Retrieval.Backend })},
	{"WEAVIATE_SERVICE_URL", setString(func(c *Config) *string { return &c.Retrieval.WeaviateURL })},
	{"MAX_SESSIONS", setInt(func(c *Config) *int { return &c.Server.MaxSessions })},
	{"LOG_LEVEL", setString(func(c *Config) *string { return &c.Logging.Level })},
	{"OTEL_EXPORTER_OTLP_ENDPOINT", func(c *Config, v string) error {
		c.Tracing.Endpoint = v
		if c.Tracing.Exporter == "none" {
			c.Tracing.Exporter = "otlp"
		}
		return nil
	}},
}

// applyEnv overlays set environment variables. A set but empty variable
// counts as set, so SYSTEM_PROMPT="" clears a prompt from the file.
func applyEnv(cfg *Config, lookup LookupFunc) error {
	for _, b := range envBindings {
		value, ok := lookup(b.key)
		if !ok {
			continue
		}
		if err := b.apply(cfg, value); err != nil {
			return fmt.Errorf("invalid value for %s: %w", b.key, err)
		}
	}
	return nil
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setInt(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func setBool(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}
