// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval implements the hybrid retrieval engine: ingestion with
// chunking and dedup, semantic + lexical search fused with reciprocal rank
// fusion, recency supplementation, and context-window expansion.
package retrieval

import (
	"context"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
	"github.com/AleutianAI/AleutianRecall/services/archivist/vectorstore"
)

// Index is the vector-store surface the engine consumes. Implemented by
// *vectorstore.Store; tests inject fakes.
type Index interface {
	// PointExists is the source_id dedup predicate.
	PointExists(ctx context.Context, sourceID string) (bool, error)
	// Upsert writes points with deterministic ids.
	Upsert(ctx context.Context, points []vectorstore.Point) error
	// Query runs filtered similarity search.
	Query(ctx context.Context, vector []float32, filters datatypes.SearchFilters, limit int) ([]datatypes.ScoredNode, error)
	// ScrollMetadata returns filter-only matches with score 1.0.
	ScrollMetadata(ctx context.Context, filters datatypes.SearchFilters, limit int) ([]datatypes.ScoredNode, error)
	// ScrollRecent returns the newest points (timestamp > 0), newest first.
	ScrollRecent(ctx context.Context, filters datatypes.SearchFilters, limit int) ([]datatypes.ScoredNode, error)
	// ScrollWindow returns points of one chat within a timestamp window.
	ScrollWindow(ctx context.Context, chatName string, minTS, maxTS int64, limit int) ([]datatypes.ScoredNode, error)
	// FullTextSearch ORs tokens against one full-text field.
	FullTextSearch(ctx context.Context, field string, tokens []string, filters datatypes.SearchFilters, score float64, limit int) ([]datatypes.ScoredNode, error)
	// TotalCount returns the exact collection size.
	TotalCount(ctx context.Context) (uint64, error)
	// DeleteBySource removes all points of one source.
	DeleteBySource(ctx context.Context, source string) (uint64, error)
	// Reset drops and recreates the collection.
	Reset(ctx context.Context) error
	// FieldValues lists distinct values of a string payload field.
	FieldValues(ctx context.Context, field string) ([]string, error)
	// Count returns the exact number of points matching the filters.
	Count(ctx context.Context, filters datatypes.SearchFilters) (uint64, error)
}

// Labels caches the chat and sender name sets used by the UI filter
// dropdowns. Implemented by the Redis-backed LabelCache.
type Labels interface {
	Add(ctx context.Context, chatName, sender string)
	Chats(ctx context.Context) ([]string, error)
	Senders(ctx context.Context) ([]string, error)
	Invalidate(ctx context.Context)
}
