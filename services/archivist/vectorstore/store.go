// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vectorstore is a thin typed facade over Qdrant.
//
// # Description
//
// The facade owns the collection lifecycle (creation, payload indexes,
// reset) and exposes exactly the operations the retrieval engine consumes:
// upsert with deterministic ids, filtered similarity query, filtered scroll
// with optional timestamp ordering, full-text OR-of-tokens search, exact
// count, delete-by-source, and the source_id dedup predicate.
//
// # Thread Safety
//
// Store is safe for concurrent use. The underlying Qdrant client pools gRPC
// connections; writers may upsert the same source_id concurrently because
// point ids are deterministic.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
)

// Config holds Qdrant connection and collection parameters.
type Config struct {
	Host        string
	Port        int
	APIKey      string
	Collection  string
	VectorSize  uint64
	ReadTimeout time.Duration
}

// DefaultConfig returns production defaults: local Qdrant, 3072-dim vectors
// (text-embedding-3-large), 10 s read timeout.
func DefaultConfig() Config {
	return Config{
		Host:        "localhost",
		Port:        6334,
		Collection:  "recall_archive",
		VectorSize:  3072,
		ReadTimeout: 10 * time.Second,
	}
}

// Point is one vector point ready for upsert.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Store is the typed Qdrant facade.
type Store struct {
	client *qdrant.Client
	cfg    Config
}

// New connects to Qdrant and returns a Store. The collection is not touched;
// call EnsureCollection before first use.
func New(cfg Config) (*Store, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("vectorstore: collection name is required")
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connect %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Store{client: client, cfg: cfg}, nil
}

// Close releases the underlying gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Collection returns the configured collection name.
func (s *Store) Collection() string { return s.cfg.Collection }

// EnsureCollection creates the collection (cosine distance, configured
// dimension) if absent and creates all payload indexes. Safe to call on
// every startup.
func (s *Store) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("vectorstore: collection check: %w", err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.cfg.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.cfg.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("vectorstore: create collection: %w", err)
		}
		slog.Info("Created Qdrant collection", "collection", s.cfg.Collection, "dims", s.cfg.VectorSize)
	}
	return s.ensureIndexes(ctx)
}

// textIndexSpec tunes the multilingual full-text index per field.
type textIndexSpec struct {
	field       string
	maxTokenLen uint64
}

// ensureIndexes creates the payload indexes retrieval depends on. Index
// creation on an already-indexed field returns an error from Qdrant, which
// is logged at debug and ignored.
func (s *Store) ensureIndexes(ctx context.Context) error {
	keyword := []string{"source", "content_type", "source_id"}
	for _, field := range keyword {
		s.createFieldIndex(ctx, field, qdrant.FieldType_FieldTypeKeyword, nil)
	}
	s.createFieldIndex(ctx, "timestamp", qdrant.FieldType_FieldTypeInteger, nil)
	s.createFieldIndex(ctx, "is_group", qdrant.FieldType_FieldTypeBool, nil)

	// Full-text indexes: sender and chat_name hold names, message holds
	// body text, so max token length widens per field.
	for _, spec := range []textIndexSpec{
		{field: "sender", maxTokenLen: 20},
		{field: "chat_name", maxTokenLen: 30},
		{field: "message", maxTokenLen: 40},
	} {
		params := &qdrant.PayloadIndexParams{
			IndexParams: &qdrant.PayloadIndexParams_TextIndexParams{
				TextIndexParams: &qdrant.TextIndexParams{
					Tokenizer:   qdrant.TokenizerType_Multilingual,
					MinTokenLen: qdrant.PtrOf(uint64(2)),
					MaxTokenLen: qdrant.PtrOf(spec.maxTokenLen),
					Lowercase:   qdrant.PtrOf(true),
				},
			},
		}
		s.createFieldIndex(ctx, spec.field, qdrant.FieldType_FieldTypeText, params)
	}
	return nil
}

func (s *Store) createFieldIndex(ctx context.Context, field string, fieldType qdrant.FieldType, params *qdrant.PayloadIndexParams) {
	_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName:   s.cfg.Collection,
		FieldName:        field,
		FieldType:        &fieldType,
		FieldIndexParams: params,
	})
	if err != nil {
		// Most commonly "index already exists" - harmless on restart.
		slog.Debug("Field index creation skipped", "field", field, "error", err)
	}
}

// PointExists is the dedup predicate: true iff at least one point carries
// payload.source_id == sourceID. Runs a scroll with limit 1 and no payload
// or vectors.
func (s *Store) PointExists(ctx context.Context, sourceID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()

	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.cfg.Collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("source_id", sourceID)},
		},
		Limit:       qdrant.PtrOf(uint32(1)),
		WithPayload: qdrant.NewWithPayload(false),
		WithVectors: qdrant.NewWithVectors(false),
	})
	if err != nil {
		return false, fmt.Errorf("vectorstore: dedup check %q: %w", sourceID, err)
	}
	return len(points) > 0, nil
}

// Upsert writes points with caller-assigned deterministic ids.
func (s *Store) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectorsDense(p.Vector),
			Payload: qdrant.NewValueMap(p.Payload),
		})
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         qpoints,
	})
	if err != nil {
		return fmt.Errorf("vectorstore: upsert %d points: %w", len(points), err)
	}
	return nil
}

// Query runs a filtered similarity search and returns scored nodes ordered by
// cosine similarity descending.
func (s *Store) Query(ctx context.Context, vector []float32, filters datatypes.SearchFilters, limit int) ([]datatypes.ScoredNode, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQueryDense(vector),
		Filter:         filterFrom(filters, time.Now(), nil),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: query: %w", err)
	}

	nodes := make([]datatypes.ScoredNode, 0, len(points))
	for _, p := range points {
		nodes = append(nodes, datatypes.ScoredNode{
			ID:      p.Id.GetUuid(),
			Score:   float64(p.Score),
			Payload: payloadToMap(p.Payload),
		})
	}
	return nodes, nil
}

// ScrollMetadata returns up to limit points matching the filters, with no
// similarity scoring (all scores 1.0).
func (s *Store) ScrollMetadata(ctx context.Context, filters datatypes.SearchFilters, limit int) ([]datatypes.ScoredNode, error) {
	return s.scroll(ctx, filterFrom(filters, time.Now(), nil), limit, false, 1.0)
}

// ScrollRecent returns the newest points matching the filters ordered by
// timestamp descending, excluding timestamp=0 supplementary chunks. Scores
// carry the timestamp so newer points rank higher.
func (s *Store) ScrollRecent(ctx context.Context, filters datatypes.SearchFilters, limit int) ([]datatypes.ScoredNode, error) {
	extra := []*qdrant.Condition{
		qdrant.NewRange("timestamp", &qdrant.Range{Gt: qdrant.PtrOf(float64(0))}),
	}
	nodes, err := s.scroll(ctx, filterFrom(filters, time.Now(), extra), limit, true, 0)
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		nodes[i].Score = float64(nodes[i].Timestamp())
	}
	return nodes, nil
}

// ScrollWindow returns points of one chat inside [minTS, maxTS], newest
// first. Used by context expansion.
func (s *Store) ScrollWindow(ctx context.Context, chatName string, minTS, maxTS int64, limit int) ([]datatypes.ScoredNode, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("chat_name", chatName),
			qdrant.NewRange("timestamp", &qdrant.Range{
				Gte: qdrant.PtrOf(float64(minTS)),
				Lte: qdrant.PtrOf(float64(maxTS)),
			}),
		},
	}
	return s.scroll(ctx, filter, limit, true, 0)
}

// FullTextSearch matches any of the tokens against one full-text-indexed
// field (should/OR), AND-merged with the user filters. Every hit carries the
// caller-provided field score.
func (s *Store) FullTextSearch(ctx context.Context, field string, tokens []string, filters datatypes.SearchFilters, score float64, limit int) ([]datatypes.ScoredNode, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	should := make([]*qdrant.Condition, 0, len(tokens))
	for _, token := range tokens {
		should = append(should, qdrant.NewMatchText(field, token))
	}
	filter := filterFrom(filters, time.Now(), nil)
	if filter == nil {
		filter = &qdrant.Filter{}
	}
	filter.Should = should
	return s.scroll(ctx, filter, limit, false, score)
}

// scroll is the shared scroll implementation.
func (s *Store) scroll(ctx context.Context, filter *qdrant.Filter, limit int, newestFirst bool, score float64) ([]datatypes.ScoredNode, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()

	req := &qdrant.ScrollPoints{
		CollectionName: s.cfg.Collection,
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	}
	if newestFirst {
		req.OrderBy = &qdrant.OrderBy{
			Key:       "timestamp",
			Direction: qdrant.Direction_Desc.Enum(),
		}
	}

	points, err := s.client.Scroll(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: scroll: %w", err)
	}

	nodes := make([]datatypes.ScoredNode, 0, len(points))
	for _, p := range points {
		nodes = append(nodes, datatypes.ScoredNode{
			ID:      p.Id.GetUuid(),
			Score:   score,
			Payload: payloadToMap(p.Payload),
		})
	}
	return nodes, nil
}

// Count returns the exact number of points matching the filters.
func (s *Store) Count(ctx context.Context, filters datatypes.SearchFilters) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Filter:         filterFrom(filters, time.Now(), nil),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("vectorstore: count: %w", err)
	}
	return count, nil
}

// TotalCount returns the exact total number of points in the collection.
func (s *Store) TotalCount(ctx context.Context) (uint64, error) {
	return s.Count(ctx, datatypes.SearchFilters{})
}

// DeleteBySource removes every point whose payload source equals source and
// returns how many existed beforehand.
func (s *Store) DeleteBySource(ctx context.Context, source string) (uint64, error) {
	before, err := s.Count(ctx, datatypes.SearchFilters{Sources: []string{source}})
	if err != nil {
		return 0, err
	}
	if before == 0 {
		return 0, nil
	}
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("source", source)},
		}),
	})
	if err != nil {
		return 0, fmt.Errorf("vectorstore: delete source %q: %w", source, err)
	}
	slog.Info("Deleted points by source", "source", source, "count", before)
	return before, nil
}

// Reset drops and recreates the collection with fresh indexes. All stored
// embeddings are lost; dependent caches must be invalidated by the caller.
func (s *Store) Reset(ctx context.Context) error {
	slog.Warn("Dropping Qdrant collection", "collection", s.cfg.Collection)
	if err := s.client.DeleteCollection(ctx, s.cfg.Collection); err != nil {
		return fmt.Errorf("vectorstore: delete collection: %w", err)
	}
	return s.EnsureCollection(ctx)
}

// FieldValues scans the full collection and returns the distinct values of a
// string payload field. Used to rebuild the chat/sender label caches after a
// cache miss.
func (s *Store) FieldValues(ctx context.Context, field string) ([]string, error) {
	values := make(map[string]struct{})
	var offset *qdrant.PointId

	for {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
		resp, err := s.client.GetPointsClient().Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.cfg.Collection,
			Limit:          qdrant.PtrOf(uint32(1000)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("vectorstore: field scan %q: %w", field, err)
		}
		for _, p := range resp.GetResult() {
			payload := payloadToMap(p.Payload)
			if v, ok := payload[field].(string); ok && v != "" {
				values[v] = struct{}{}
			}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}

	out := make([]string, 0, len(values))
	for v := range values {
		out = append(out, v)
	}
	return out, nil
}
