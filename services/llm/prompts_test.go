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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPrompt_Exact(t *testing.T) {
	got, err := BuildPrompt("A\nB\n", "who is X?")
	require.NoError(t, err)
	assert.Equal(t, "context: A\nB\n\n------\nquestion: who is X?\n------\nanswer:", got)
}

func TestBuildPrompt_EmptyContext(t *testing.T) {
	got, err := BuildPrompt("", "hi")
	require.NoError(t, err)
	assert.Equal(t, "context: \n------\nquestion: hi\n------\nanswer:", got)
}

func TestBuildPrompt_ValuesInsertedLiterally(t *testing.T) {
	got, err := BuildPrompt("{context}", "what does {x} mean?")
	require.NoError(t, err)
	assert.Equal(t, "context: {context}\n------\nquestion: what does {x} mean?\n------\nanswer:", got)
}

func TestBuildReformulationPrompt_Exact(t *testing.T) {
	got, err := buildReformulationPrompt("\nq1\na1", "and his age?")
	require.NoError(t, err)
	want := "chat_history:\n\nq1\na1\n----\nuser's question: and his age?\n----\n" +
		"rephrase the user's new_question so that the context of the question is clear and fully " +
		"informed by the provided chat_history. Respond in the same language as the original " +
		"new_question. respond only with rephrased question without any explanation.\n\n" +
		"rephrased question:"
	assert.Equal(t, want, got)
}
