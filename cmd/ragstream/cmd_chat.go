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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AleutianAI/ragstream/pkg/ux"
	"github.com/spf13/cobra"
)

const inputHistorySize = 50

// runChat opens an interactive session against --url.
func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	ui := ux.NewChatUI()
	client, err := DialChat(ctx, chatURL)
	if err != nil {
		ui.Error(err)
		return err
	}
	defer client.Close()

	runner := &chatRunner{
		client:  client,
		ui:      ui,
		reader:  ux.NewInteractiveInputReader(inputHistorySize),
		out:     os.Stdout,
		level:   ux.GetPersonality(),
		session: chatURL,
	}
	_, err = runner.Run(ctx)
	return err
}

// runAsk sends the joined arguments as one question and prints the answer.
func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), askTimeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui := ux.NewChatUIWithWriter(cmd.OutOrStdout(), ux.GetPersonality())
	client, err := DialChat(ctx, chatURL)
	if err != nil {
		ui.Error(err)
		return err
	}
	defer client.Close()

	return askOnce(ctx, client, ui, strings.Join(args, " "))
}

// askOnce streams one answer to ui.
func askOnce(ctx context.Context, client Asker, ui ux.ChatUI, question string) error {
	ui.AnswerStart()
	_, err := client.Ask(ctx, question, ui.Chunk)
	if err != nil {
		var serverErr *ServerError
		if errors.As(err, &serverErr) {
			ui.AnswerEnd()
			ui.ServerError(string(serverErr.Code), serverErr.Message)
			return err
		}
		ui.Error(err)
		return err
	}
	ui.AnswerEnd()
	return nil
}

// =============================================================================
// chatRunner
// =============================================================================

// chatRunner drives the read-ask-render loop of an interactive session.
//
// # Fields
//
//   - client: Connection to the server.
//   - ui: Renders answers and errors.
//   - reader: Source of user input.
//   - out: Destination of the prompt and spinner.
//   - level: Personality level for the spinner.
//   - session: Shown in the header.
type chatRunner struct {
	client  Asker
	ui      ux.ChatUI
	reader  ux.InputReader
	out     io.Writer
	level   ux.PersonalityLevel
	session string
}

// Run loops until the input ends, the user types exit, ctx is done or the
// connection fails. Error frames from the server are shown and the session
// continues.
//
// # Outputs
//
//   - ux.SessionStats: Counters for the session, also rendered on return.
//   - error: nil on a normal exit, otherwise the input or transport error.
func (r *chatRunner) Run(ctx context.Context) (ux.SessionStats, error) {
	var stats ux.SessionStats
	started := time.Now()
	defer func() {
		stats.Duration = time.Since(started)
		r.ui.SessionEnd(stats)
	}()

	r.ui.Header(r.session)
	if p, ok := r.reader.(ux.PromptingInputReader); ok {
		p.SetPrompt(r.ui.Prompt())
	}

	for {
		if ctx.Err() != nil {
			return stats, nil
		}
		if _, ok := r.reader.(ux.PromptingInputReader); !ok {
			fmt.Fprint(r.out, r.ui.Prompt())
		}

		line, err := r.reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return stats, nil
			}
			return stats, fmt.Errorf("read input: %w", err)
		}
		if line == "" {
			continue
		}
		if ux.IsExitCommand(line) {
			return stats, nil
		}

		stats.Questions++
		if err := r.ask(ctx, line, &stats); err != nil {
			return stats, err
		}
	}
}

// ask streams one answer. It returns an error only when the session
// cannot continue.
func (r *chatRunner) ask(ctx context.Context, question string, stats *ux.SessionStats) error {
	spinner := ux.NewSpinner(r.out, "thinking", r.level)
	spinner.Start()
	started := false
	answer, err := r.client.Ask(ctx, question, func(chunk string) {
		if !started {
			spinner.Stop()
			r.ui.AnswerStart()
			started = true
		}
		r.ui.Chunk(chunk)
	})
	spinner.Stop()
	stats.Fragments += answer.Fragments
	if !started && err == nil {
		r.ui.AnswerStart()
		started = true
	}
	if started {
		r.ui.AnswerEnd()
	}

	if err == nil {
		stats.Answers++
		return nil
	}
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		stats.Errors++
		r.ui.ServerError(string(serverErr.Code), serverErr.Message)
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	r.ui.Error(err)
	return err
}
