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
	"testing"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
	"github.com/AleutianAI/AleutianRecall/services/archivist/vectorstore"
)

// =============================================================================
// Mocks
// =============================================================================

// mockIndex is a scriptable Index implementation.
type mockIndex struct {
	QueryFunc          func(ctx context.Context, vector []float32, filters datatypes.SearchFilters, limit int) ([]datatypes.ScoredNode, error)
	FullTextSearchFunc func(ctx context.Context, field string, tokens []string, filters datatypes.SearchFilters, score float64, limit int) ([]datatypes.ScoredNode, error)
	ScrollRecentFunc   func(ctx context.Context, filters datatypes.SearchFilters, limit int) ([]datatypes.ScoredNode, error)
	ScrollWindowFunc   func(ctx context.Context, chatName string, minTS, maxTS int64, limit int) ([]datatypes.ScoredNode, error)
	ScrollMetadataFunc func(ctx context.Context, filters datatypes.SearchFilters, limit int) ([]datatypes.ScoredNode, error)
	PointExistsFunc    func(ctx context.Context, sourceID string) (bool, error)
	UpsertFunc         func(ctx context.Context, points []vectorstore.Point) error

	Upserted []vectorstore.Point
}

func (m *mockIndex) PointExists(ctx context.Context, sourceID string) (bool, error) {
	if m.PointExistsFunc != nil {
		return m.PointExistsFunc(ctx, sourceID)
	}
	return false, nil
}

func (m *mockIndex) Upsert(ctx context.Context, points []vectorstore.Point) error {
	m.Upserted = append(m.Upserted, points...)
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, points)
	}
	return nil
}

func (m *mockIndex) Query(ctx context.Context, vector []float32, filters datatypes.SearchFilters, limit int) ([]datatypes.ScoredNode, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, vector, filters, limit)
	}
	return nil, nil
}

func (m *mockIndex) ScrollMetadata(ctx context.Context, filters datatypes.SearchFilters, limit int) ([]datatypes.ScoredNode, error) {
	if m.ScrollMetadataFunc != nil {
		return m.ScrollMetadataFunc(ctx, filters, limit)
	}
	return nil, nil
}

func (m *mockIndex) ScrollRecent(ctx context.Context, filters datatypes.SearchFilters, limit int) ([]datatypes.ScoredNode, error) {
	if m.ScrollRecentFunc != nil {
		return m.ScrollRecentFunc(ctx, filters, limit)
	}
	return nil, nil
}

func (m *mockIndex) ScrollWindow(ctx context.Context, chatName string, minTS, maxTS int64, limit int) ([]datatypes.ScoredNode, error) {
	if m.ScrollWindowFunc != nil {
		return m.ScrollWindowFunc(ctx, chatName, minTS, maxTS, limit)
	}
	return nil, nil
}

func (m *mockIndex) FullTextSearch(ctx context.Context, field string, tokens []string, filters datatypes.SearchFilters, score float64, limit int) ([]datatypes.ScoredNode, error) {
	if m.FullTextSearchFunc != nil {
		return m.FullTextSearchFunc(ctx, field, tokens, filters, score, limit)
	}
	return nil, nil
}

func (m *mockIndex) TotalCount(ctx context.Context) (uint64, error) { return 0, nil }
func (m *mockIndex) Count(ctx context.Context, filters datatypes.SearchFilters) (uint64, error) {
	return 0, nil
}
func (m *mockIndex) DeleteBySource(ctx context.Context, source string) (uint64, error) {
	return 0, nil
}
func (m *mockIndex) Reset(ctx context.Context) error { return nil }
func (m *mockIndex) FieldValues(ctx context.Context, field string) ([]string, error) {
	return nil, nil
}

type mockEmbedder struct {
	Calls int
}

func (m *mockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	m.Calls++
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *mockEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	m.Calls++
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{0.1, 0.2, 0.3}
	}
	return vectors, nil
}

func node(id string, score float64, chat string, ts int64, message string) datatypes.ScoredNode {
	return datatypes.ScoredNode{
		ID:    id,
		Score: score,
		Payload: map[string]any{
			"chat_name": chat,
			"sender":    "Someone",
			"timestamp": ts,
			"message":   message,
			"source":    "whatsapp",
		},
	}
}

// =============================================================================
// Fusion
// =============================================================================

func TestReciprocalRankFusionScores(t *testing.T) {
	vector := []datatypes.ScoredNode{node("a", 0.9, "c", 1, "m"), node("b", 0.8, "c", 2, "m")}
	lexical := []datatypes.ScoredNode{node("b", 0.95, "c", 2, "m"), node("c", 0.75, "c", 3, "m")}

	merged := reciprocalRankFusion(vector, lexical, 10, 60)
	if len(merged) != 3 {
		t.Fatalf("expected 3 merged nodes, got %d", len(merged))
	}
	// b appears in both lists (ranks 1 and 0) so it must rank first.
	if merged[0].ID != "b" {
		t.Errorf("expected b first, got %s", merged[0].ID)
	}
	wantB := 1.0/62.0 + 1.0/61.0
	if diff := merged[0].Score - wantB; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("b score = %v, want %v", merged[0].Score, wantB)
	}
}

func TestHybridRecallLexicalBeatsCosine(t *testing.T) {
	// Vector leg returns nothing above threshold; lexical sender match must
	// still surface the point.
	index := &mockIndex{
		QueryFunc: func(ctx context.Context, vector []float32, filters datatypes.SearchFilters, limit int) ([]datatypes.ScoredNode, error) {
			return []datatypes.ScoredNode{node("weak", 0.1, "chat", 100, "hello world")}, nil
		},
		FullTextSearchFunc: func(ctx context.Context, field string, tokens []string, filters datatypes.SearchFilters, score float64, limit int) ([]datatypes.ScoredNode, error) {
			if field == "sender" {
				return []datatypes.ScoredNode{node("X", score, "chat", 100, "hello world")}, nil
			}
			return nil, nil
		},
	}
	engine := NewEngine(index, &mockEmbedder{}, nil, DefaultEngineConfig())

	results, err := engine.Search(context.Background(), "what is Kobi's last name?", 10, datatypes.SearchFilters{}, false)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, n := range results {
		if n.ID == "X" {
			found = true
		}
		if n.ID == "weak" {
			t.Error("below-threshold vector result must be culled")
		}
	}
	if !found {
		t.Error("lexical sender match missing from hybrid results")
	}
}

func TestSearchSkipsLexicalWhenSenderFiltered(t *testing.T) {
	lexicalCalled := false
	index := &mockIndex{
		QueryFunc: func(ctx context.Context, vector []float32, filters datatypes.SearchFilters, limit int) ([]datatypes.ScoredNode, error) {
			return []datatypes.ScoredNode{node("v", 0.9, "chat", 100, "msg")}, nil
		},
		FullTextSearchFunc: func(ctx context.Context, field string, tokens []string, filters datatypes.SearchFilters, score float64, limit int) ([]datatypes.ScoredNode, error) {
			lexicalCalled = true
			return nil, nil
		},
	}
	engine := NewEngine(index, &mockEmbedder{}, nil, DefaultEngineConfig())

	_, err := engine.Search(context.Background(), "query", 10, datatypes.SearchFilters{Sender: "Alice"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if lexicalCalled {
		t.Error("lexical leg must be skipped when a sender filter is set")
	}
}

func TestMetadataOnlySkipsEmbedding(t *testing.T) {
	embedder := &mockEmbedder{}
	index := &mockIndex{
		ScrollMetadataFunc: func(ctx context.Context, filters datatypes.SearchFilters, limit int) ([]datatypes.ScoredNode, error) {
			return []datatypes.ScoredNode{node("m", 1.0, "chat", 100, "msg")}, nil
		},
	}
	engine := NewEngine(index, embedder, nil, DefaultEngineConfig())

	results, err := engine.Search(context.Background(), "", 10, datatypes.SearchFilters{ChatName: "chat"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if embedder.Calls != 0 {
		t.Error("metadata-only search must not call the embedder")
	}
	if len(results) != 1 || results[0].Score != 1.0 {
		t.Errorf("unexpected metadata results: %v", results)
	}
}

// =============================================================================
// Recency + context + placeholder
// =============================================================================

func TestRetrieveMergesRecencySupplement(t *testing.T) {
	index := &mockIndex{
		QueryFunc: func(ctx context.Context, vector []float32, filters datatypes.SearchFilters, limit int) ([]datatypes.ScoredNode, error) {
			return []datatypes.ScoredNode{node("sem", 0.9, "chat", 100, "old relevant")}, nil
		},
		ScrollRecentFunc: func(ctx context.Context, filters datatypes.SearchFilters, limit int) ([]datatypes.ScoredNode, error) {
			return []datatypes.ScoredNode{
				node("sem", 2000, "chat", 2000, "old relevant"), // duplicate of semantic hit
				node("new", 1999, "chat", 1999, "latest message"),
			}, nil
		},
	}
	engine := NewEngine(index, &mockEmbedder{}, nil, DefaultEngineConfig())

	results := engine.Retrieve(context.Background(), "query", 10, datatypes.SearchFilters{})

	if results[0].ID != "sem" {
		t.Errorf("semantic results must keep their position, got %s first", results[0].ID)
	}
	seen := map[string]int{}
	for _, n := range results {
		seen[n.ID]++
	}
	if seen["sem"] != 1 {
		t.Errorf("recency merge must deduplicate by id, sem appeared %d times", seen["sem"])
	}
	if seen["new"] != 1 {
		t.Error("newest message missing from results")
	}
}

func TestRetrieveRecencyPrimaryWhenSemanticEmpty(t *testing.T) {
	index := &mockIndex{
		ScrollRecentFunc: func(ctx context.Context, filters datatypes.SearchFilters, limit int) ([]datatypes.ScoredNode, error) {
			return []datatypes.ScoredNode{node("r1", 100, "chat", 100, "recent")}, nil
		},
	}
	engine := NewEngine(index, &mockEmbedder{}, nil, DefaultEngineConfig())

	results := engine.Retrieve(context.Background(), "query", 10, datatypes.SearchFilters{})
	if len(results) != 1 || results[0].ID != "r1" {
		t.Errorf("recency must become primary when semantic is empty: %v", results)
	}
}

func TestRetrieveNeverEmpty(t *testing.T) {
	engine := NewEngine(&mockIndex{}, &mockEmbedder{}, nil, DefaultEngineConfig())
	results := engine.Retrieve(context.Background(), "anything", 10, datatypes.SearchFilters{})
	if len(results) != 1 {
		t.Fatalf("expected exactly the placeholder, got %d nodes", len(results))
	}
	if results[0].Payload["note"] != "no_results" {
		t.Errorf("placeholder payload missing note: %v", results[0].Payload)
	}
}

func TestExpandContextWindowAndScore(t *testing.T) {
	var gotMin, gotMax int64
	index := &mockIndex{
		ScrollWindowFunc: func(ctx context.Context, chatName string, minTS, maxTS int64, limit int) ([]datatypes.ScoredNode, error) {
			gotMin, gotMax = minTS, maxTS
			return []datatypes.ScoredNode{
				node("match", 0, "Family", 1000, "dup"), // already present
				node("neighbor", 0, "Family", 1050, "confirmed, see you there"),
			}, nil
		},
	}
	engine := NewEngine(index, &mockEmbedder{}, nil, DefaultEngineConfig())

	results := engine.ExpandContext(context.Background(),
		[]datatypes.ScoredNode{node("match", 0.9, "Family", 1000, "we meet at Bistro")}, 20)

	if gotMin != 1000-1800 || gotMax != 1000+1800 {
		t.Errorf("window = [%d,%d], want [%d,%d]", gotMin, gotMax, 1000-1800, 1000+1800)
	}
	if len(results) != 2 {
		t.Fatalf("expected original + neighbor, got %d", len(results))
	}
	if results[1].ID != "neighbor" || results[1].Score != contextExpansionScore {
		t.Errorf("neighbor must rank after originals at score 0.5: %+v", results[1])
	}
}

func TestExpandContextRespectsBudget(t *testing.T) {
	index := &mockIndex{}
	engine := NewEngine(index, &mockEmbedder{}, nil, DefaultEngineConfig())

	full := make([]datatypes.ScoredNode, 5)
	for i := range full {
		full[i] = node(string(rune('a'+i)), 0.9, "chat", int64(100+i), "m")
	}
	results := engine.ExpandContext(context.Background(), full, 5)
	if len(results) != 5 {
		t.Errorf("no budget left — results must be returned capped, got %d", len(results))
	}
}

func TestDisplaySources(t *testing.T) {
	nodes := []datatypes.ScoredNode{
		node("a", 0.9, "chat", 100, "first"),
		node("b", 0.2, "chat", 100, "low score"),
		node("c", 0.8, "chat", 100, "second"),
		{ID: "p", Score: 0.9, Text: "placeholder", Payload: map[string]any{"source": "system"}},
	}
	nodes[0].Text = "first"
	nodes[2].Text = "second"

	sources := DisplaySources(nodes, 0.5, 1)
	if len(sources) != 1 || sources[0].ID != "a" {
		t.Errorf("expected only the top source, got %v", sources)
	}

	sources = DisplaySources(nodes, 0.5, 10)
	if len(sources) != 2 {
		t.Errorf("system placeholder and low-score nodes must be filtered: %v", sources)
	}
}
