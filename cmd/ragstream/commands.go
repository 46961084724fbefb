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
	"time"

	"github.com/AleutianAI/ragstream/pkg/ux"
	"github.com/spf13/cobra"
)

const defaultChatURL = "ws://127.0.0.1:3005/v1/chat/ws"

// --- Global Command Variables ---
var (
	configPath       string
	personalityLevel string // UX personality level (full/minimal/machine)
	chatURL          string
	askTimeout       time.Duration

	rootCmd = &cobra.Command{
		Use:   "ragstream",
		Short: "Streaming retrieval-augmented chat over WebSocket",
		Long: `ragstream serves a WebSocket chat endpoint that answers questions with a
language model, optionally grounded on passages from a vector index, and
streams the answer back as it is generated.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ux.InitPersonality(personalityLevel)
		},
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}

	// --- Client ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session with a running server",
		Args:  cobra.NoArgs,
		RunE:  runChat, // Defined in cmd_chat.go
	}
	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk, // Defined in cmd_chat.go
	}

	// --- Configuration ---
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect the server configuration",
	}
	configDefaultsCmd = &cobra.Command{
		Use:   "defaults",
		Short: "Print the default configuration as YAML",
		Args:  cobra.NoArgs,
		RunE:  runConfigDefaults, // Defined in cmd_config.go
	}
	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration (defaults, file, environment)",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow, // Defined in cmd_config.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full, minimal or machine (env: "+ux.PersonalityEnvVar+")")

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")
	configShowCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")

	for _, cmd := range []*cobra.Command{chatCmd, askCmd} {
		cmd.Flags().StringVarP(&chatURL, "url", "u", defaultChatURL, "WebSocket URL of the chat endpoint")
	}
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 5*time.Minute, "Give up if the answer has not finished by then")

	configCmd.AddCommand(configDefaultsCmd, configShowCmd)
	rootCmd.AddCommand(serveCmd, chatCmd, askCmd, configCmd)
}
