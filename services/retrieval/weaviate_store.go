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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/ragstream/services/orchestrator/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Compile-time interface implementation check.
var _ Retriever = (*WeaviateStore)(nil)

// WeaviateStore queries a Weaviate class with nearVector.
//
// # Description
//
// The class plays the role of the RediSearch index name. Returned objects
// are mapped onto Passage with the same field names as RedisStore: "text",
// "_index_name" and "vector_distance".
//
// # Limitations
//
//   - The class must have a "text" property and be configured with a
//     vectorizer of "none" (vectors are supplied by the caller).
type WeaviateStore struct {
	client       *weaviate.Client
	className    string
	resultWindow int
}

// NewWeaviateStore creates a store for the Weaviate server at rawURL.
func NewWeaviateStore(rawURL, className string, resultWindow int) (*WeaviateStore, error) {
	rawURL = strings.Trim(rawURL, "\"' ")
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}
	return &WeaviateStore{client: client, className: className, resultWindow: resultWindow}, nil
}

// weaviateGetResponse is the typed shape of a Get query keyed by class name.
type weaviateGetResponse struct {
	Get map[string][]weaviateHit `json:"Get"`
}

type weaviateHit struct {
	Text       *string `json:"text"`
	Additional struct {
		ID       string   `json:"id"`
		Distance *float64 `json:"distance"`
	} `json:"_additional"`
}

// Query runs a nearVector search and returns passages by ascending distance.
func (s *WeaviateStore) Query(ctx context.Context, vector []float32, count int) ([]Passage, error) {
	ctx, span := tracer.Start(ctx, "WeaviateStore.Query")
	defer span.End()

	window := resultWindow(count, s.resultWindow)
	span.SetAttributes(
		attribute.String("retrieval.class", s.className),
		attribute.Int("retrieval.window", window),
	)

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	fields := []graphql.Field{
		{Name: FieldText},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "distance"},
		}},
	}

	resp, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(window).
		Do(ctx)
	if err == nil && resp != nil && len(resp.Errors) > 0 {
		err = errors.New(resp.Errors[0].Message)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Weaviate nearVector query failed", "class", s.className, "error", err)
		return nil, datatypes.NewUpstreamError(datatypes.UpstreamRetrieval, "weaviate.near_vector", err)
	}

	passages, err := s.parse(resp)
	if err != nil {
		slog.Warn("Malformed Weaviate reply, treating as empty", "class", s.className, "error", err)
		return []Passage{}, nil
	}
	span.SetAttributes(attribute.Int("retrieval.results", len(passages)))
	return passages, nil
}

// parse converts the GraphQL reply into passages sorted by distance.
func (s *WeaviateStore) parse(resp *models.GraphQLResponse) ([]Passage, error) {
	if resp == nil {
		return nil, errors.New("nil GraphQL response")
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}
	var typed weaviateGetResponse
	if err := json.Unmarshal(raw, &typed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal GraphQL response data: %w", err)
	}

	hits := typed.Get[s.className]
	sort.SliceStable(hits, func(i, j int) bool {
		return distanceOf(hits[i]) < distanceOf(hits[j])
	})

	passages := make([]Passage, 0, len(hits))
	for _, hit := range hits {
		meta := map[string]string{FieldIndex: s.className}
		if hit.Text != nil {
			meta[FieldText] = *hit.Text
		}
		if hit.Additional.Distance != nil {
			meta[FieldDistance] = strconv.FormatFloat(*hit.Additional.Distance, 'f', -1, 64)
		}
		passages = append(passages, Passage{ID: hit.Additional.ID, Metadata: meta})
	}
	return passages, nil
}

func distanceOf(h weaviateHit) float64 {
	if h.Additional.Distance == nil {
		return 0
	}
	return *h.Additional.Distance
}
