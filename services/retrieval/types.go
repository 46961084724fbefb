// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval provides k-nearest-neighbor passage retrieval and the
// assembly of retrieved passages into a generation context.
//
// # Description
//
// Two Retriever backends are available:
//   - RedisStore: RediSearch FT.SEARCH KNN query (the default).
//   - WeaviateStore: Weaviate GraphQL nearVector query.
//
// Both return passages in ascending distance order. An empty or malformed
// index reply yields an empty slice, not an error. Failures to reach the
// index are returned as *datatypes.UpstreamError.
//
// # Thread Safety
//
// Stores are safe for concurrent use and are shared by every session.
package retrieval

import "context"

// Metadata field names returned by the index.
const (
	FieldText     = "text"
	FieldIndex    = "_index_name"
	FieldMetadata = "_metadata_json"
	FieldDistance = "vector_distance"
)

// Passage is one retrieved document chunk.
//
// # Fields
//
//   - ID: Opaque document key from the index.
//   - Metadata: Returned fields by name. "text" holds the passage body.
type Passage struct {
	ID       string
	Metadata map[string]string
}

// Text returns the passage body and whether the field was present.
func (p Passage) Text() (string, bool) {
	text, ok := p.Metadata[FieldText]
	return text, ok
}

// Retriever runs a similarity search against a vector index.
//
// # Description
//
// count is the number of nearest neighbours requested from the index. The
// number of passages returned may be lower when a result window is
// configured or the index holds fewer matching documents.
type Retriever interface {
	Query(ctx context.Context, vector []float32, count int) ([]Passage, error)
}

// resultWindow caps the returned passages. A zero window means "same as count".
func resultWindow(count, window int) int {
	if window > 0 && window < count {
		return window
	}
	return count
}
