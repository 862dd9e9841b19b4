// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder memoizes embeddings. The knowledge responder embeds the
// whole conversation on every invocation, so within a turn (and across turns
// with identical history) the same text is embedded repeatedly.
type CachedEmbedder struct {
	next  Embedder
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCachedEmbedder caches up to maxBytes of vectors for ttl (zero means no expiry).
func NewCachedEmbedder(next Embedder, maxBytes int64, ttl time.Duration) (*CachedEmbedder, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	counters := maxBytes / 1024 * 10
	if counters < 1000 {
		counters = 1000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: counters,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{next: next, cache: cache, ttl: ttl}, nil
}

// Embed implements Embedder. Failed calls are not cached.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v.([]float32), nil
	}
	vec, err := c.next.Embed(ctx, text)
	if err != nil || len(vec) == 0 {
		return vec, err
	}
	c.cache.SetWithTTL(text, vec, int64(len(vec)*4), c.ttl)
	return vec, nil
}

// Wait blocks until pending cache writes are visible.
func (c *CachedEmbedder) Wait() { c.cache.Wait() }

// Close releases the cache goroutines.
func (c *CachedEmbedder) Close() { c.cache.Close() }
