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
	"sort"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
	"github.com/AleutianAI/AleutianRecall/services/llm"
)

var tracer = otel.Tracer("aleutian.archivist.retrieval")

// EngineConfig tunes the hybrid search behavior. Use DefaultEngineConfig()
// for production values; every knob is also exposed as a setting.
type EngineConfig struct {
	// MinimumSimilarity culls weak vector hits. The vector leg fetches 2·k
	// candidates to compensate, which matters for morphologically rich
	// languages where inflected queries score lower.
	MinimumSimilarity float64
	// RRFK is the reciprocal-rank-fusion smoothing constant.
	RRFK int
	// Field-aware lexical scores. Sender matches are most valuable because
	// users ask "what did X say about Y?".
	ScoreSender   float64
	ScoreChatName float64
	ScoreMessage  float64
	// RecencySupplementCount is how many newest messages every retrieval
	// merges in for temporal awareness.
	RecencySupplementCount int
	// ContextWindowSeconds is the ± window around matches that context
	// expansion fetches from the same chat.
	ContextWindowSeconds int64
	// Timezone used when rendering timestamps into display text.
	Location *time.Location
}

// DefaultEngineConfig returns the production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MinimumSimilarity:      0.3,
		RRFK:                   60,
		ScoreSender:            0.95,
		ScoreChatName:          0.85,
		ScoreMessage:           0.75,
		RecencySupplementCount: 5,
		ContextWindowSeconds:   1800,
		Location:               time.UTC,
	}
}

// contextExpansionScore ranks expanded neighbors below real matches while
// keeping them visible to the answerer. Expansion nodes do not participate
// in rank fusion; they are appended after it.
const contextExpansionScore = 0.5

// placeholderText guarantees downstream answer synthesis always receives at
// least one node.
const placeholderText = "[No relevant messages found in the archive for this query]"

// Engine is the hybrid retrieval engine. Stateless across requests apart
// from the injected collaborators.
type Engine struct {
	index    Index
	embedder llm.Embedder
	labels   Labels
	cfg      EngineConfig
}

// NewEngine builds an engine over a vector index and an embedder. labels may
// be nil when no label cache is configured.
func NewEngine(index Index, embedder llm.Embedder, labels Labels, cfg EngineConfig) *Engine {
	if cfg.RRFK <= 0 {
		cfg.RRFK = 60
	}
	if cfg.RecencySupplementCount <= 0 {
		cfg.RecencySupplementCount = 5
	}
	if cfg.ContextWindowSeconds <= 0 {
		cfg.ContextWindowSeconds = 1800
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Engine{index: index, embedder: embedder, labels: labels, cfg: cfg}
}

// Index exposes the underlying vector index for administration handlers.
func (e *Engine) Index() Index { return e.index }

// Retrieve runs the full retrieval pipeline for one query:
//
//  1. Hybrid semantic + lexical search (or metadata-only when the query is
//     empty and filters are set).
//  2. Context expansion around the matches (bounded to 2·k total).
//  3. Recency supplement: the newest messages are always merged in, and
//     become the primary result set when search found nothing.
//  4. Placeholder guarantee: never returns an empty slice.
func (e *Engine) Retrieve(ctx context.Context, query string, k int, filters datatypes.SearchFilters) []datatypes.ScoredNode {
	ctx, span := tracer.Start(ctx, "Retrieve")
	defer span.End()

	if k <= 0 {
		k = 10
	}

	metadataOnly := query == "" && !filters.IsZero()
	results, err := e.Search(ctx, query, k, filters, metadataOnly)
	if err != nil {
		slog.Error("Hybrid search failed", "error", err)
		results = nil
	}

	if len(results) > 0 {
		results = e.ExpandContext(ctx, results, k*2)
	}

	recent, err := e.RecencySearch(ctx, e.cfg.RecencySupplementCount, filters)
	if err != nil {
		slog.Warn("Recency supplement failed", "error", err)
	}
	if len(recent) > 0 {
		if len(results) > 0 {
			existing := make(map[string]bool, len(results))
			for _, n := range results {
				existing[n.ID] = true
			}
			for _, n := range recent {
				if !existing[n.ID] {
					existing[n.ID] = true
					results = append(results, n)
				}
			}
		} else {
			results = recent
			slog.Info("Semantic search empty, using recent messages", "count", len(results))
		}
	}

	if len(results) == 0 {
		results = []datatypes.ScoredNode{{
			ID:    "placeholder",
			Score: 0,
			Text:  placeholderText,
			Payload: map[string]any{
				"source": string(datatypes.SourceSystem),
				"note":   "no_results",
			},
		}}
	}
	return results
}

// Search performs hybrid semantic + lexical search.
//
// The vector leg embeds the query, fetches 2·k candidates and applies the
// minimum-similarity threshold. The lexical leg (skipped when a sender
// filter is active - the sender field is already pinned) tokenizes the
// query, expands Hebrew morphology, and ORs the tokens against the sender,
// chat_name and message full-text indexes with field-aware scores. Both
// legs merge via reciprocal rank fusion.
//
// metadataOnly skips the embedding call entirely and scrolls by filters.
func (e *Engine) Search(ctx context.Context, query string, k int, filters datatypes.SearchFilters, metadataOnly bool) ([]datatypes.ScoredNode, error) {
	ctx, span := tracer.Start(ctx, "Search")
	defer span.End()

	if metadataOnly {
		if filters.IsZero() {
			return nil, nil
		}
		nodes, err := e.index.ScrollMetadata(ctx, filters, k)
		if err != nil {
			return nil, fmt.Errorf("metadata search: %w", err)
		}
		return fillTexts(nodes, e.cfg.Location), nil
	}

	vector, err := e.embedder.EmbedQuery(ctx, truncateForEmbedding(query))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	vectorResults, err := e.index.Query(ctx, vector, filters, k*2)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	filtered := vectorResults[:0]
	for _, n := range vectorResults {
		if n.Score >= e.cfg.MinimumSimilarity {
			filtered = append(filtered, n)
		}
	}
	vectorResults = fillTexts(filtered, e.cfg.Location)

	// Lexical leg. A sender filter already pins the strongest lexical
	// signal, so skip it there (matching on message tokens would only
	// dilute the pinned result set).
	if filters.Sender == "" {
		lexical := e.fulltextSearch(ctx, query, k, filters)
		if len(lexical) > 0 {
			merged := reciprocalRankFusion(vectorResults, lexical, k, e.cfg.RRFK)
			slog.Debug("RRF merged hybrid results",
				"vector", len(vectorResults), "lexical", len(lexical), "final", len(merged))
			return merged, nil
		}
	}
	if len(vectorResults) > k {
		vectorResults = vectorResults[:k]
	}
	return vectorResults, nil
}

// fulltextSearch runs the per-field OR-of-tokens searches and merges them by
// node id keeping the best field score.
func (e *Engine) fulltextSearch(ctx context.Context, query string, k int, filters datatypes.SearchFilters) []datatypes.ScoredNode {
	tokens := TokenizeQuery(query)
	if len(tokens) == 0 {
		return nil
	}

	// The sender condition would conflict with searching the sender field;
	// the caller guarantees filters.Sender is empty here.
	fieldScores := []struct {
		field string
		score float64
	}{
		{"sender", e.cfg.ScoreSender},
		{"chat_name", e.cfg.ScoreChatName},
		{"message", e.cfg.ScoreMessage},
	}

	best := make(map[string]datatypes.ScoredNode)
	for _, fs := range fieldScores {
		nodes, err := e.index.FullTextSearch(ctx, fs.field, tokens, filters, fs.score, k)
		if err != nil {
			slog.Debug("Full-text search failed", "field", fs.field, "error", err)
			continue
		}
		for _, n := range nodes {
			if prev, ok := best[n.ID]; !ok || n.Score > prev.Score {
				best[n.ID] = n
			}
		}
	}
	if len(best) == 0 {
		return nil
	}

	merged := make([]datatypes.ScoredNode, 0, len(best))
	for _, n := range best {
		merged = append(merged, n)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > k {
		merged = merged[:k]
	}
	return fillTexts(merged, e.cfg.Location)
}

// reciprocalRankFusion merges two ranked lists. Each node scores the sum of
// 1/(rrfK + rank + 1) over the lists it appears in; ties in node identity
// keep the first-seen node.
func reciprocalRankFusion(vectorResults, lexicalResults []datatypes.ScoredNode, k, rrfK int) []datatypes.ScoredNode {
	scores := make(map[string]float64)
	nodes := make(map[string]datatypes.ScoredNode)

	for rank, n := range vectorResults {
		scores[n.ID] += 1.0 / float64(rrfK+rank+1)
		if _, ok := nodes[n.ID]; !ok {
			nodes[n.ID] = n
		}
	}
	for rank, n := range lexicalResults {
		scores[n.ID] += 1.0 / float64(rrfK+rank+1)
		if _, ok := nodes[n.ID]; !ok {
			nodes[n.ID] = n
		}
	}

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.SliceStable(ids, func(i, j int) bool { return scores[ids[i]] > scores[ids[j]] })
	if len(ids) > k {
		ids = ids[:k]
	}

	merged := make([]datatypes.ScoredNode, 0, len(ids))
	for _, id := range ids {
		n := nodes[id]
		n.Score = scores[id]
		merged = append(merged, n)
	}
	return merged
}

// RecencySearch returns the newest messages matching the filters, newest
// first, excluding timestamp=0 supplementary chunks.
func (e *Engine) RecencySearch(ctx context.Context, k int, filters datatypes.SearchFilters) ([]datatypes.ScoredNode, error) {
	ctx, span := tracer.Start(ctx, "RecencySearch")
	defer span.End()

	nodes, err := e.index.ScrollRecent(ctx, filters, k)
	if err != nil {
		return nil, fmt.Errorf("recency search: %w", err)
	}
	return fillTexts(nodes, e.cfg.Location), nil
}

// ExpandContext fetches messages temporally adjacent to the current results
// within the same chats, so replies and nearby messages reach the answerer
// even when they don't match the query. Expanded nodes score 0.5 and are
// appended after the originals; the total is capped at maxTotal.
func (e *Engine) ExpandContext(ctx context.Context, results []datatypes.ScoredNode, maxTotal int) []datatypes.ScoredNode {
	if len(results) == 0 {
		return results
	}
	ctx, span := tracer.Start(ctx, "ExpandContext")
	defer span.End()

	budget := maxTotal - len(results)
	if budget <= 0 {
		return results[:maxTotal]
	}

	chatTimestamps := make(map[string][]int64)
	existing := make(map[string]bool, len(results))
	for _, n := range results {
		existing[n.ID] = true
		chat := n.ChatName()
		ts := n.Timestamp()
		if chat != "" && ts > 0 {
			chatTimestamps[chat] = append(chatTimestamps[chat], ts)
		}
	}
	if len(chatTimestamps) == 0 {
		return results
	}

	perChatLimit := budget / len(chatTimestamps)
	if perChatLimit < 3 {
		perChatLimit = 3
	}

	var expanded []datatypes.ScoredNode
	for chat, timestamps := range chatTimestamps {
		minTS, maxTS := timestamps[0], timestamps[0]
		for _, ts := range timestamps[1:] {
			if ts < minTS {
				minTS = ts
			}
			if ts > maxTS {
				maxTS = ts
			}
		}
		nodes, err := e.index.ScrollWindow(ctx, chat,
			minTS-e.cfg.ContextWindowSeconds, maxTS+e.cfg.ContextWindowSeconds, perChatLimit)
		if err != nil {
			slog.Debug("Context expansion failed for chat", "chat", chat, "error", err)
			continue
		}
		for _, n := range nodes {
			if existing[n.ID] {
				continue
			}
			existing[n.ID] = true
			n.Score = contextExpansionScore
			expanded = append(expanded, n)
		}
	}

	if len(expanded) > 0 {
		slog.Info("Context expansion added surrounding messages",
			"added", len(expanded), "chats", len(chatTimestamps))
		results = append(results, fillTexts(expanded, e.cfg.Location)...)
	}
	if len(results) > maxTotal {
		results = results[:maxTotal]
	}
	return results
}

// Stats reports collection totals and per-source counts.
func (e *Engine) Stats(ctx context.Context) (map[string]any, error) {
	total, err := e.index.TotalCount(ctx)
	if err != nil {
		return nil, err
	}
	sourceCounts := make(map[string]uint64)
	for _, source := range []datatypes.Source{
		datatypes.SourceWhatsApp, datatypes.SourceGmail,
		datatypes.SourcePaperless, datatypes.SourceCallRecording,
	} {
		count, err := e.index.Count(ctx, datatypes.SearchFilters{Sources: []string{string(source)}})
		if err != nil {
			continue
		}
		sourceCounts[string(source)] = count
	}
	return map[string]any{
		"total_documents": total,
		"source_counts":   sourceCounts,
	}, nil
}

// ResetCollection drops and recreates the collection, invalidating the label
// caches that depend on it.
func (e *Engine) ResetCollection(ctx context.Context) error {
	if err := e.index.Reset(ctx); err != nil {
		return err
	}
	if e.labels != nil {
		e.labels.Invalidate(ctx)
	}
	slog.Info("Collection reset complete")
	return nil
}

// DeleteBySource removes one source's points and invalidates label caches.
func (e *Engine) DeleteBySource(ctx context.Context, source string) (uint64, error) {
	deleted, err := e.index.DeleteBySource(ctx, source)
	if err != nil {
		return 0, err
	}
	if deleted > 0 && e.labels != nil {
		e.labels.Invalidate(ctx)
	}
	return deleted, nil
}

// truncateForEmbedding bounds text sent to the embedding provider, backing
// off to a rune boundary.
func truncateForEmbedding(text string) string {
	if len(text) <= EmbeddingMaxChars {
		return text
	}
	return text[:backToRuneStart(text, EmbeddingMaxChars)]
}
