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
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianRecall/services/llm"
)

// EmbedCache persists document embeddings in Badger keyed by the SHA-256 of
// the embedded text, so force-mode re-syncs after a collection reset do not
// re-pay the embedding API for unchanged content.
type EmbedCache struct {
	db *badger.DB
}

// OpenEmbedCache opens (or creates) the cache at dir.
func OpenEmbedCache(dir string) (*EmbedCache, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("embedcache: open %s: %w", dir, err)
	}
	return &EmbedCache{db: db}, nil
}

// Close releases the underlying store.
func (c *EmbedCache) Close() error { return c.db.Close() }

func cacheKey(text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return sum[:]
}

// Get returns the cached vector for text, if present.
func (c *EmbedCache) Get(text string) ([]float32, bool) {
	var vector []float32
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(text))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			vector = decodeVector(val)
			return nil
		})
	})
	if err != nil || vector == nil {
		return nil, false
	}
	return vector, true
}

// Put stores a vector for text.
func (c *EmbedCache) Put(text string, vector []float32) {
	_ = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cacheKey(text), encodeVector(vector))
	})
}

func encodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, f := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf)%4 != 0 {
		return nil
	}
	vector := make([]float32, len(buf)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vector
}

// CachedEmbedder wraps an Embedder with the Badger cache for document
// batches. Query embeddings bypass the cache - queries rarely repeat
// verbatim and polluting the cache with them buys nothing.
type CachedEmbedder struct {
	inner llm.Embedder
	cache *EmbedCache
}

// NewCachedEmbedder wraps inner. A nil cache passes through untouched.
func NewCachedEmbedder(inner llm.Embedder, cache *EmbedCache) llm.Embedder {
	if cache == nil {
		return inner
	}
	return &CachedEmbedder{inner: inner, cache: cache}
}

// EmbedQuery implements Embedder.
func (e *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.inner.EmbedQuery(ctx, text)
}

// EmbedDocuments implements Embedder, serving hits from the cache and
// embedding only the misses in one provider call.
func (e *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, t := range texts {
		if v, ok := e.cache.Get(t); ok {
			vectors[i] = v
		} else {
			missTexts = append(missTexts, t)
			missIdx = append(missIdx, i)
		}
	}
	if len(missTexts) > 0 {
		fresh, err := e.inner.EmbedDocuments(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, v := range fresh {
			vectors[missIdx[j]] = v
			e.cache.Put(missTexts[j], v)
		}
	}
	return vectors, nil
}
