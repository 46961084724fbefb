// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/AleutianAI/ragstream/services/orchestrator/config"
	"github.com/spf13/cobra"
)

func runConfigDefaults(cmd *cobra.Command, args []string) error {
	return printConfig(cmd, config.DefaultConfig())
}

// runConfigShow prints the configuration serve would use. A file or
// environment value that fails validation is reported instead.
func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	return printConfig(cmd, *cfg)
}

func printConfig(cmd *cobra.Command, cfg config.Config) error {
	out, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
