// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"
	"os"
	"time"
)

// SessionStats aggregates counters from a chat session for display.
//
// # Fields
//
//   - Questions: Questions sent to the server.
//   - Answers: Answers that reached their end frame.
//   - Errors: Error frames received.
//   - Fragments: Streamed answer fragments received.
//   - Duration: Wall time from connect to disconnect.
type SessionStats struct {
	Questions int
	Answers   int
	Errors    int
	Fragments int
	Duration  time.Duration
}

// ChatUI renders the chat client's side of a streaming conversation.
type ChatUI interface {
	// Header displays the connection banner.
	Header(serverURL string)

	// Prompt returns the styled input prompt string.
	Prompt() string

	// AnswerStart marks the beginning of a streamed answer.
	AnswerStart()

	// Chunk writes one streamed answer fragment as it arrives.
	Chunk(text string)

	// AnswerEnd terminates a streamed answer.
	AnswerEnd()

	// ServerError displays an error frame sent by the server.
	ServerError(code, message string)

	// Error displays a local error.
	Error(err error)

	// SessionEnd displays the session summary.
	SessionEnd(stats SessionStats)
}

// terminalChatUI implements ChatUI for terminal output
type terminalChatUI struct {
	writer      io.Writer
	personality PersonalityLevel
}

// NewChatUI creates a ChatUI writing to stdout at the current personality level.
func NewChatUI() ChatUI {
	return NewChatUIWithWriter(os.Stdout, GetPersonality())
}

// NewChatUIWithWriter creates a ChatUI with a custom writer and level.
func NewChatUIWithWriter(w io.Writer, level PersonalityLevel) ChatUI {
	return &terminalChatUI{writer: w, personality: level}
}

func (ui *terminalChatUI) Header(serverURL string) {
	switch ui.personality {
	case PersonalityMachine:
		fmt.Fprintf(ui.writer, "CHAT_START: server=%s\n", serverURL)
	case PersonalityMinimal:
		fmt.Fprintf(ui.writer, "RAG Chat (%s). Type 'exit' to end.\n", serverURL)
	default:
		content := fmt.Sprintf("%s %s\n%s",
			IconArrow.Render(),
			Styles.Subtitle.Render(serverURL),
			Styles.Muted.Render("Type 'exit' or press Ctrl+D to end."))
		fmt.Fprintln(ui.writer, Styles.Box.Width(60).Render(Styles.Title.Render("RAG Chat")+"\n"+content))
	}
}

func (ui *terminalChatUI) Prompt() string {
	if ui.personality == PersonalityFull {
		return Styles.Prompt.Render("> ")
	}
	return "> "
}

func (ui *terminalChatUI) AnswerStart() {
	switch ui.personality {
	case PersonalityMachine:
		fmt.Fprint(ui.writer, "ANSWER: ")
	case PersonalityMinimal:
	default:
		fmt.Fprint(ui.writer, Styles.Highlight.Render("Assistant: "))
	}
}

func (ui *terminalChatUI) Chunk(text string) {
	fmt.Fprint(ui.writer, text)
}

func (ui *terminalChatUI) AnswerEnd() {
	if ui.personality == PersonalityMachine {
		fmt.Fprintln(ui.writer)
		fmt.Fprintln(ui.writer, "ANSWER_END")
		return
	}
	fmt.Fprint(ui.writer, "\n\n")
}

func (ui *terminalChatUI) ServerError(code, message string) {
	switch ui.personality {
	case PersonalityMachine:
		fmt.Fprintf(ui.writer, "SERVER_ERROR: code=%s message=%q\n", code, message)
	case PersonalityMinimal:
		fmt.Fprintf(ui.writer, "%s [%s] %s\n", IconError.Render(), code, message)
	default:
		fmt.Fprintf(ui.writer, "%s %s %s\n",
			IconError.Render(), Styles.Warning.Render("["+code+"]"), Styles.Error.Render(message))
	}
}

func (ui *terminalChatUI) Error(err error) {
	switch ui.personality {
	case PersonalityMachine:
		fmt.Fprintf(ui.writer, "ERROR: %v\n", err)
	case PersonalityMinimal:
		fmt.Fprintf(ui.writer, "%s %v\n", IconError.Render(), err)
	default:
		fmt.Fprintln(ui.writer, Styles.ErrorBox.Width(60).Render(Styles.Error.Render(err.Error())))
	}
}

func (ui *terminalChatUI) SessionEnd(stats SessionStats) {
	duration := stats.Duration.Round(100 * time.Millisecond)
	switch ui.personality {
	case PersonalityMachine:
		fmt.Fprintf(ui.writer, "CHAT_END: questions=%d answers=%d errors=%d fragments=%d duration=%s\n",
			stats.Questions, stats.Answers, stats.Errors, stats.Fragments, duration)
	case PersonalityMinimal:
		fmt.Fprintf(ui.writer, "Session ended: %d questions, %d answers, %d errors in %s\n",
			stats.Questions, stats.Answers, stats.Errors, duration)
	default:
		lines := fmt.Sprintf("%s %d questions  %s %d answers  %s %d errors\n%s",
			IconArrow.Render(), stats.Questions,
			IconSuccess.Render(), stats.Answers,
			IconWarning.Render(), stats.Errors,
			Styles.Muted.Render(fmt.Sprintf("%d fragments in %s", stats.Fragments, duration)))
		fmt.Fprintln(ui.writer, Styles.Box.Width(60).Render(Styles.Title.Render("Session ended")+"\n"+lines))
	}
}
