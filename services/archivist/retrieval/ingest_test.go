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
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
)

func textDoc(sourceID, text string) *datatypes.Document {
	return &datatypes.Document{
		Common: datatypes.CommonMeta{
			Source:      datatypes.SourceWhatsApp,
			SourceID:    sourceID,
			ContentType: datatypes.ContentTypeText,
			ChatName:    "Family",
			Sender:      "Alice",
			Timestamp:   1000,
		},
		Body: datatypes.TextBody{Content: text},
	}
}

func TestAddDocumentDedupSkips(t *testing.T) {
	index := &mockIndex{
		PointExistsFunc: func(ctx context.Context, sourceID string) (bool, error) {
			return true, nil
		},
	}
	embedder := &mockEmbedder{}
	ing := NewIngestor(index, embedder, nil, nil)

	result, err := ing.AddDocument(context.Background(), textDoc("chat_A:1000", "We meet at Bistro at 7pm on Friday."))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Skipped {
		t.Error("duplicate source_id must be skipped")
	}
	if embedder.Calls != 0 {
		t.Error("dedup hit must not call the embedder")
	}
	if len(index.Upserted) != 0 {
		t.Error("dedup hit must not upsert")
	}
}

func TestAddDocumentIdempotentIDs(t *testing.T) {
	index := &mockIndex{}
	ing := NewIngestor(index, &mockEmbedder{}, nil, nil)
	doc := textDoc("chat_A:1000", "We meet at Bistro at 7pm on Friday.")

	if _, err := ing.AddDocument(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	firstIDs := make([]string, len(index.Upserted))
	for i, p := range index.Upserted {
		firstIDs[i] = p.ID
	}

	index.Upserted = nil
	if _, err := ing.AddDocument(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	for i, p := range index.Upserted {
		if p.ID != firstIDs[i] {
			t.Errorf("re-ingest produced different id: %s vs %s", p.ID, firstIDs[i])
		}
	}
}

func TestAddDocumentChunksLongText(t *testing.T) {
	index := &mockIndex{}
	ing := NewIngestor(index, &mockEmbedder{}, nil, nil)

	long := strings.Repeat("Paragraph content with enough substance to pass quality checks. ", 200)
	result, err := ing.AddDocument(context.Background(), textDoc("doc:1", long))
	if err != nil {
		t.Fatal(err)
	}
	if result.Added < 2 {
		t.Fatalf("expected multiple chunks, got %d", result.Added)
	}
	// Chunk 0 keeps the base source_id so the dedup predicate holds.
	if index.Upserted[0].Payload["source_id"] != "doc:1" {
		t.Errorf("chunk 0 source_id = %v", index.Upserted[0].Payload["source_id"])
	}
	if index.Upserted[1].Payload["source_id"] != "doc:1:chunk:1" {
		t.Errorf("chunk 1 source_id = %v", index.Upserted[1].Payload["source_id"])
	}
	if index.Upserted[0].Payload["chunk_total"] != int64(result.Added) {
		t.Errorf("chunk_total = %v, want %d", index.Upserted[0].Payload["chunk_total"], result.Added)
	}
}

func TestAddDocumentSkipsLowQuality(t *testing.T) {
	index := &mockIndex{}
	ing := NewIngestor(index, &mockEmbedder{}, nil, nil)

	result, err := ing.AddDocument(context.Background(), textDoc("tiny:1", "ok"))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Skipped || len(index.Upserted) != 0 {
		t.Error("sub-minimum content must be skipped without upserting")
	}
}

// truncEmbedder rejects over-long input once, mimicking the provider's
// context-length error.
type truncEmbedder struct {
	rejected bool
	lastLens []int
}

func (e *truncEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1}, nil
}

func (e *truncEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.lastLens = nil
	for _, t := range texts {
		e.lastLens = append(e.lastLens, len(t))
		if len(t) > EmbeddingMaxChars && !e.rejected {
			e.rejected = true
			return nil, errors.New("This model's maximum context length is 8191 tokens")
		}
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{0.1}
	}
	return vectors, nil
}

func TestEmbedTruncateAndRetry(t *testing.T) {
	index := &mockIndex{}
	embedder := &truncEmbedder{}
	ing := NewIngestor(index, embedder, nil, nil)

	// A single chunk under MaxChunkChars but above EmbeddingMaxChars after
	// the prefix is attached.
	doc := textDoc("long:1", strings.Repeat("a", MaxChunkChars-100))
	doc.EmbeddingPrefix = strings.Repeat("p", EmbeddingMaxChars-MaxChunkChars+200)

	result, err := ing.AddDocument(context.Background(), doc)
	if err != nil {
		t.Fatalf("truncate-and-retry should succeed: %v", err)
	}
	if result.Added != 1 {
		t.Fatalf("added = %d, want 1", result.Added)
	}
	for _, l := range embedder.lastLens {
		if l > EmbeddingMaxChars {
			t.Errorf("retry text still too long: %d", l)
		}
	}
	// Stored payload keeps the full message, not the truncated embed text.
	msg, _ := index.Upserted[0].Payload["message"].(string)
	if len(msg) != MaxChunkChars-100 {
		t.Errorf("stored message length %d, want %d", len(msg), MaxChunkChars-100)
	}
}

func TestAddDocumentInvokesLinkHook(t *testing.T) {
	index := &mockIndex{}
	var linkedIDs []string
	link := func(ctx context.Context, doc *datatypes.Document, chunkIDs []string) {
		linkedIDs = chunkIDs
	}
	ing := NewIngestor(index, &mockEmbedder{}, nil, link)

	if _, err := ing.AddDocument(context.Background(), textDoc("chat_A:1000", "We meet at Bistro at 7pm on Friday.")); err != nil {
		t.Fatal(err)
	}
	if len(linkedIDs) != 1 || linkedIDs[0] != "chat_A:1000" {
		t.Errorf("link hook got %v", linkedIDs)
	}
}
