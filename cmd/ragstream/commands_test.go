// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/ragstream/services/orchestrator/config"
	"gopkg.in/yaml.v3"
)

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	want := map[string]bool{"serve": false, "chat": false, "ask": false, "config": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestConfigDefaults_PrintsLoadableYAML(t *testing.T) {
	var out bytes.Buffer
	configDefaultsCmd.SetOut(&out)
	defer configDefaultsCmd.SetOut(nil)

	if err := runConfigDefaults(configDefaultsCmd, nil); err != nil {
		t.Fatalf("runConfigDefaults() error = %v", err)
	}

	var cfg config.Config
	if err := yaml.Unmarshal(out.Bytes(), &cfg); err != nil {
		t.Fatalf("defaults are not valid YAML: %v\n%s", err, out.String())
	}
	if cfg.Server.Port != config.DefaultConfig().Server.Port {
		t.Errorf("port = %d, want %d", cfg.Server.Port, config.DefaultConfig().Server.Port)
	}
}

func TestConfigShow_AppliesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragstream.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 4100\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	original := configPath
	configPath = path
	defer func() { configPath = original }()

	var out bytes.Buffer
	configShowCmd.SetOut(&out)
	defer configShowCmd.SetOut(nil)

	if err := runConfigShow(configShowCmd, nil); err != nil {
		t.Fatalf("runConfigShow() error = %v", err)
	}
	var cfg config.Config
	if err := yaml.Unmarshal(out.Bytes(), &cfg); err != nil {
		t.Fatalf("output is not valid YAML: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("port = %d, want 4100", cfg.Server.Port)
	}
}

func TestConfigShow_RejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	original := configPath
	configPath = path
	defer func() { configPath = original }()

	if err := runConfigShow(configShowCmd, nil); err == nil {
		t.Error("expected a validation error for port 0")
	}
}

func TestNewLogger(t *testing.T) {
	cfg := config.DefaultConfig()
	logger, err := newLogger(&cfg)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer logger.Close()
	if logger.Slog() == nil {
		t.Error("Slog() returned nil")
	}
}
