// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the value types shared by the chat session
// engine, the LLM backends and the retrieval layer.
//
// This file contains conversation turns and the per-session history.
// Wire frames live in frames.go, error types in errors.go.
package datatypes

// =============================================================================
// Roles
// =============================================================================

// Role attributes a ChatTurn to a participant.
type Role string

const (
	// RoleSystem is the instruction turn inserted at session creation.
	RoleSystem Role = "system"

	// RoleUser is a turn sent on behalf of the connected client.
	RoleUser Role = "user"

	// RoleAssistant is a turn produced by the generation service.
	RoleAssistant Role = "assistant"
)

// IsValid reports whether r is one of the three known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// =============================================================================
// ChatTurn
// =============================================================================

// ChatTurn is one message in a conversation.
//
// # Description
//
// ChatTurn is a plain value. Copies are independent, so a turn is never
// mutated after it has been appended to a History.
//
// # Fields
//
//   - Role: system, user or assistant.
//   - Content: message text, possibly empty (the system turn usually is).
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemTurn builds a system turn.
func SystemTurn(content string) ChatTurn {
	return ChatTurn{Role: RoleSystem, Content: content}
}

// UserTurn builds a user turn.
func UserTurn(content string) ChatTurn {
	return ChatTurn{Role: RoleUser, Content: content}
}

// AssistantTurn builds an assistant turn.
func AssistantTurn(content string) ChatTurn {
	return ChatTurn{Role: RoleAssistant, Content: content}
}

// =============================================================================
// History
// =============================================================================

// History is the ordered conversation of one session.
//
// # Description
//
// The first element is always the system turn created by NewHistory. Turns
// are only ever appended; the history is never reordered, trimmed or
// deduplicated.
//
// # Thread Safety
//
// History is NOT safe for concurrent use. It is owned by exactly one
// session engine goroutine. Other goroutines work on a Snapshot.
//
// # Examples
//
//	h := datatypes.NewHistory("You are terse.")
//	h.Append(datatypes.UserTurn("hi"))
//	snap := h.Snapshot() // safe to hand to a worker goroutine
type History struct {
	turns []ChatTurn
}

// NewHistory creates a history holding only the system turn.
func NewHistory(systemPrompt string) *History {
	return &History{turns: []ChatTurn{SystemTurn(systemPrompt)}}
}

// Append adds turns to the end of the history.
func (h *History) Append(turns ...ChatTurn) {
	h.turns = append(h.turns, turns...)
}

// Len returns the number of turns, including the system turn.
func (h *History) Len() int {
	return len(h.turns)
}

// Snapshot returns a copy of the turns.
//
// The returned slice shares nothing with the history, so later appends are
// not visible through it and writes to it do not affect the history.
func (h *History) Snapshot() []ChatTurn {
	out := make([]ChatTurn, len(h.turns))
	copy(out, h.turns)
	return out
}

// CountRole returns how many turns carry the given role.
func (h *History) CountRole(role Role) int {
	n := 0
	for _, t := range h.turns {
		if t.Role == role {
			n++
		}
	}
	return n
}
