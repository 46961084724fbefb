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

	"github.com/tmc/langchaingo/prompts"
)

// =============================================================================
// Prompt templates
// =============================================================================

const contextPromptTemplate = "context: {context}\n------\nquestion: {question}\n------\nanswer:"

const reformulationPromptTemplate = "chat_history:\n{history}\n----\n" +
	"user's question: {question}\n----\n" +
	"rephrase the user's new_question so that the context of the question is clear and fully " +
	"informed by the provided chat_history. Respond in the same language as the original " +
	"new_question. respond only with rephrased question without any explanation.\n\n" +
	"rephrased question:"

var (
	contextPrompt = prompts.PromptTemplate{
		Template:       contextPromptTemplate,
		InputVariables: []string{"context", "question"},
		TemplateFormat: prompts.TemplateFormatFString,
	}
	reformulationPrompt = prompts.PromptTemplate{
		Template:       reformulationPromptTemplate,
		InputVariables: []string{"history", "question"},
		TemplateFormat: prompts.TemplateFormatFString,
	}
)

// BuildPrompt fills the answer template with retrieved context and the question.
//
// # Description
//
// The output is exactly:
//
//	context: <context>
//	------
//	question: <question>
//	------
//	answer:
//
// context may be empty (retrieval disabled or no hits); the layout is the
// same. Values are inserted literally, braces included.
func BuildPrompt(context, question string) (string, error) {
	out, err := contextPrompt.Format(map[string]any{
		"context":  context,
		"question": question,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render context prompt: %w", err)
	}
	return out, nil
}

// buildReformulationPrompt fills the reformulation template.
func buildReformulationPrompt(history, question string) (string, error) {
	out, err := reformulationPrompt.Format(map[string]any{
		"history":  history,
		"question": question,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render reformulation prompt: %w", err)
	}
	return out, nil
}
