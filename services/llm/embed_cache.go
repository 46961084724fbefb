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
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/AleutianAI/ragstream/services/retrieval"
	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
)

// Compile-time interface implementation check.
var _ Embedder = (*CachedEmbedder)(nil)

// EmbedCacheConfig configures a CachedEmbedder.
type EmbedCacheConfig struct {
	// Dir holds the cache files. Empty keeps the cache in memory.
	Dir string
	// TTL expires entries. Zero keeps them for the life of the store.
	TTL time.Duration
	// Model namespaces keys so a model change never returns stale vectors.
	Model string
	// OnLookup, if set, is called once per Embed with whether it was a hit.
	OnLookup func(hit bool)
}

// CachedEmbedder memoizes another Embedder in a badger store.
//
// # Description
//
// Keys are the xxhash64 of model and text; values are the vector in the
// same little-endian float32 layout sent to the index. Cache read or write
// failures are logged and fall through to the wrapped Embedder, so the
// cache can never fail a request that would otherwise succeed.
//
// # Thread Safety
//
// Safe for concurrent use.
type CachedEmbedder struct {
	next     Embedder
	db       *badger.DB
	ttl      time.Duration
	model    string
	onLookup func(hit bool)
}

// NewCachedEmbedder opens the cache store and wraps next.
//
// # Outputs
//
//   - *CachedEmbedder: Caller must call Close when done.
//   - error: Non-nil if the store cannot be opened.
func NewCachedEmbedder(next Embedder, cfg EmbedCacheConfig) (*CachedEmbedder, error) {
	var opts badger.Options
	if cfg.Dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("create embedding cache directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	return &CachedEmbedder{
		next:     next,
		db:       db,
		ttl:      cfg.TTL,
		model:    cfg.Model,
		onLookup: cfg.OnLookup,
	}, nil
}

// Embed implements Embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	if vec, ok := c.lookup(key); ok {
		c.observe(true)
		return vec, nil
	}
	c.observe(false)

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(key, vec)
	return vec, nil
}

// Close releases the cache store.
func (c *CachedEmbedder) Close() error {
	return c.db.Close()
}

func (c *CachedEmbedder) key(text string) []byte {
	h := xxhash.New()
	_, _ = h.WriteString(c.model)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(text)

	key := make([]byte, 4+8)
	copy(key, "emb:")
	binary.BigEndian.PutUint64(key[4:], h.Sum64())
	return key
}

func (c *CachedEmbedder) lookup(key []byte) ([]float32, bool) {
	var vec []float32
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, err := retrieval.DeserializeVector(val)
			if err != nil {
				return err
			}
			vec = decoded
			return nil
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			slog.Warn("Embedding cache read failed", "error", err)
		}
		return nil, false
	}
	return vec, len(vec) > 0
}

func (c *CachedEmbedder) store(key []byte, vec []float32) {
	entry := badger.NewEntry(key, retrieval.SerializeVector(vec))
	if c.ttl > 0 {
		entry = entry.WithTTL(c.ttl)
	}
	if err := c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	}); err != nil {
		slog.Warn("Embedding cache write failed", "error", err)
	}
}

func (c *CachedEmbedder) observe(hit bool) {
	if c.onLookup != nil {
		c.onLookup(hit)
	}
}
