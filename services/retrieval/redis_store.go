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
	"fmt"
	"log/slog"
	"strconv"

	"github.com/AleutianAI/ragstream/services/orchestrator/datatypes"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("ragstream.retrieval")

// Compile-time interface implementation check.
var _ Retriever = (*RedisStore)(nil)

// RedisStore queries a RediSearch vector index.
//
// # Description
//
// RedisStore issues one FT.SEARCH per Query:
//
//	FT.SEARCH <index> "@_index_name:(\"<index>\")=>[KNN <count> @embedding $vector AS vector_distance]"
//	    RETURN 4 text _index_name _metadata_json vector_distance
//	    SORTBY vector_distance ASC DIALECT 2 LIMIT 0 <window>
//	    PARAMS 2 vector <little-endian float32 bytes>
//
// The client is forced to RESP2 so the reply is the classic flat array
// [total, id, [field, value, ...], id, [...], ...].
//
// # Thread Safety
//
// Safe for concurrent use; go-redis pools connections internally.
type RedisStore struct {
	client       *redis.Client
	indexName    string
	resultWindow int
}

// NewRedisStore connects a RedisStore to the server at url.
//
// # Inputs
//
//   - url: redis:// or rediss:// URL.
//   - indexName: RediSearch index, also used as the _index_name tag filter.
//   - resultWindow: Upper bound on returned passages. 0 means "same as count".
//
// # Outputs
//
//   - *RedisStore: Store ready for use. No connection is made until the first query.
//   - error: Non-nil if url cannot be parsed.
func NewRedisStore(url, indexName string, resultWindow int) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.Protocol = 2
	return NewRedisStoreWithClient(redis.NewClient(opts), indexName, resultWindow), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, indexName string, resultWindow int) *RedisStore {
	return &RedisStore{
		client:       client,
		indexName:    indexName,
		resultWindow: resultWindow,
	}
}

// Query runs a KNN search for vector and returns passages by ascending distance.
func (s *RedisStore) Query(ctx context.Context, vector []float32, count int) ([]Passage, error) {
	ctx, span := tracer.Start(ctx, "RedisStore.Query")
	defer span.End()

	window := resultWindow(count, s.resultWindow)
	span.SetAttributes(
		attribute.String("retrieval.index", s.indexName),
		attribute.Int("retrieval.count", count),
		attribute.Int("retrieval.window", window),
		attribute.Int("retrieval.dimensions", len(vector)),
	)

	args := buildSearchArgs(s.indexName, SerializeVector(vector), count, window)
	reply, err := s.client.Do(ctx, args...).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("RediSearch KNN query failed", "index", s.indexName, "error", err)
		return nil, datatypes.NewUpstreamError(datatypes.UpstreamRetrieval, "redis.ft_search", err)
	}

	passages, ok := parseSearchReply(reply)
	if !ok {
		slog.Warn("Malformed RediSearch reply, treating as empty", "index", s.indexName,
			"reply_type", fmt.Sprintf("%T", reply))
	}
	if len(passages) > window {
		passages = passages[:window]
	}
	span.SetAttributes(attribute.Int("retrieval.results", len(passages)))
	return passages, nil
}

// Ping checks connectivity to the redis server.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// buildSearchArgs assembles the FT.SEARCH command.
func buildSearchArgs(indexName string, vectorBytes []byte, count, window int) []interface{} {
	query := fmt.Sprintf("@%s:(\"%s\")=>[KNN %d @embedding $vector AS %s]",
		FieldIndex, indexName, count, FieldDistance)

	return []interface{}{
		"FT.SEARCH", indexName, query,
		"RETURN", "4", FieldText, FieldIndex, FieldMetadata, FieldDistance,
		"SORTBY", FieldDistance, "ASC",
		"DIALECT", "2",
		"LIMIT", "0", strconv.Itoa(window),
		"PARAMS", "2", "vector", vectorBytes,
	}
}

// parseSearchReply converts a RESP2 FT.SEARCH reply into passages.
//
// # Description
//
// The reply is [total, id1, [k, v, ...], id2, [k, v, ...], ...]. Entries
// that do not fit the shape are skipped. The boolean is false when the
// reply as a whole is not a search result; the slice is then empty.
func parseSearchReply(reply interface{}) ([]Passage, bool) {
	items, ok := reply.([]interface{})
	if !ok || len(items) == 0 {
		return []Passage{}, false
	}
	if _, ok := items[0].(int64); !ok {
		return []Passage{}, false
	}

	passages := make([]Passage, 0, (len(items)-1)/2)
	for i := 1; i < len(items); i++ {
		id, ok := asString(items[i])
		if !ok {
			continue
		}
		if i+1 >= len(items) {
			break
		}
		fields, ok := items[i+1].([]interface{})
		if !ok {
			continue
		}
		i++
		passages = append(passages, Passage{ID: id, Metadata: fieldsToMap(fields)})
	}
	return passages, true
}

// fieldsToMap turns a flat [k, v, k, v] array into a map. A trailing key
// without a value, or a non-string key or value, is dropped.
func fieldsToMap(fields []interface{}) map[string]string {
	out := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := asString(fields[i])
		if !ok {
			continue
		}
		value, ok := asString(fields[i+1])
		if !ok {
			continue
		}
		out[key] = value
	}
	return out
}

func asString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}
