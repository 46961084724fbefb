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
	"strings"

	"github.com/AleutianAI/ragstream/services/orchestrator/datatypes"
)

// Reformulator rewrites a follow-up question into a standalone one.
//
// # Description
//
// The question is rewritten so that it can be understood without the prior
// conversation, e.g. "and his age?" after a question about a person becomes
// "what is <person>'s age?". The model's reply is returned verbatim; it is
// not trimmed or validated.
//
// # Thread Safety
//
// Safe for concurrent use if the Completer is.
type Reformulator struct {
	completer Completer
}

// NewReformulator creates a Reformulator backed by completer.
func NewReformulator(completer Completer) *Reformulator {
	return &Reformulator{completer: completer}
}

// Reformulate rewrites question using history.
//
// # Inputs
//
//   - ctx: Bounds the upstream call.
//   - history: Conversation so far. Not modified.
//   - question: The new user question.
//
// # Outputs
//
//   - string: The rewritten question. When history holds no user or
//     assistant turn, question is returned unchanged and no call is made.
//   - error: *datatypes.UpstreamError (kind reformulation or timeout).
func (r *Reformulator) Reformulate(ctx context.Context, history []datatypes.ChatTurn, question string) (string, error) {
	rendered, turns := renderHistory(history)
	if turns == 0 {
		return question, nil
	}

	prompt, err := buildReformulationPrompt(rendered, question)
	if err != nil {
		return "", datatypes.NewUpstreamError(datatypes.UpstreamReformulation, "render", err)
	}
	out, err := r.completer.Complete(ctx, prompt)
	if err != nil {
		return "", datatypes.NewUpstreamError(datatypes.UpstreamReformulation, "complete", err)
	}
	return out, nil
}

// renderHistory joins user and assistant turns, each prefixed by a
// newline. System turns are left out. The count of rendered turns is
// returned alongside.
func renderHistory(history []datatypes.ChatTurn) (string, int) {
	var sb strings.Builder
	n := 0
	for _, t := range history {
		if t.Role != datatypes.RoleUser && t.Role != datatypes.RoleAssistant {
			continue
		}
		sb.WriteString("\n")
		sb.WriteString(t.Content)
		n++
	}
	return sb.String(), n
}
