// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"log/slog"
	"strings"
)

// AssembleContext joins passage texts into a single context block.
//
// # Description
//
// Each passage contributes its "text" field followed by a newline, in the
// order given (ascending distance). Passages without a "text" field are
// skipped and counted so the caller can report them; they never produce
// empty lines.
//
// # Inputs
//
//   - passages: Retrieved passages, already ordered.
//
// # Outputs
//
//   - string: Concatenated context. Empty when no passage has text.
//   - int: Number of passages skipped for missing text.
//
// # Examples
//
//	ctxText, skipped := AssembleContext([]Passage{
//	    {ID: "doc:1", Metadata: map[string]string{"text": "A"}},
//	    {ID: "doc:2", Metadata: map[string]string{"text": "B"}},
//	})
//	// ctxText == "A\nB\n", skipped == 0
func AssembleContext(passages []Passage) (string, int) {
	var sb strings.Builder
	skipped := 0
	for _, p := range passages {
		text, ok := p.Text()
		if !ok {
			skipped++
			slog.Warn("Skipping retrieved passage without text field", "id", p.ID)
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), skipped
}
