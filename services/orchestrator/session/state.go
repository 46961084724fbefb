// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

// State is the position of a session in its request cycle.
type State int32

const (
	// StateAwaitingInput is idle: no request cycle is active.
	StateAwaitingInput State = iota

	// StateReformulating waits for the question rewrite.
	StateReformulating

	// StateRetrieving waits for the embedding and the index query.
	StateRetrieving

	// StateGenerating streams fragments to the client.
	StateGenerating

	// StateClosed is terminal.
	StateClosed
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateAwaitingInput:
		return "AwaitingInput"
	case StateReformulating:
		return "Reformulating"
	case StateRetrieving:
		return "Retrieving"
	case StateGenerating:
		return "Generating"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// firstStage is the state a new request cycle enters.
//
// Reformulation only runs when chat-history mode is off; the flag name reads
// the other way round but the behavior is kept as deployed.
func firstStage(cfg *Config) State {
	switch {
	case !cfg.UseChatHistory:
		return StateReformulating
	case cfg.UseIndex:
		return StateRetrieving
	default:
		return StateGenerating
	}
}
