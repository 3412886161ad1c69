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

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
	"github.com/AleutianAI/AleutianRecall/services/archivist/vectorstore"
	"github.com/AleutianAI/AleutianRecall/services/llm"
)

// LinkFunc is the entity-linking hook invoked after a document's points are
// upserted. chunkSourceIDs are the per-chunk dedup ids (asset_refs).
type LinkFunc func(ctx context.Context, doc *datatypes.Document, chunkSourceIDs []string)

// Ingestor owns document ingestion: dedup, chunking, quality filtering, the
// embedding-length safeguard, batch upserts and entity-link hooks.
type Ingestor struct {
	index    Index
	embedder llm.Embedder
	labels   Labels
	link     LinkFunc
}

// NewIngestor builds an ingestor. labels and link may be nil.
func NewIngestor(index Index, embedder llm.Embedder, labels Labels, link LinkFunc) *Ingestor {
	return &Ingestor{index: index, embedder: embedder, labels: labels, link: link}
}

// IngestResult reports what one AddDocument call did.
type IngestResult struct {
	Added   int
	Skipped bool
}

// AddDocument chunks, embeds and upserts one document.
//
// Re-ingesting the same source_id is a no-op: the dedup predicate short
// circuits before any embedding call, and even a racing duplicate upsert is
// harmless because point ids are deterministic in (source, source_id, chunk).
func (ing *Ingestor) AddDocument(ctx context.Context, doc *datatypes.Document) (IngestResult, error) {
	ctx, span := tracer.Start(ctx, "AddDocument")
	defer span.End()

	if doc.Common.SourceID == "" {
		return IngestResult{}, fmt.Errorf("ingest: document has no source_id")
	}

	exists, err := ing.index.PointExists(ctx, doc.Common.SourceID)
	if err != nil {
		// A failed dedup check proceeds with insert; deterministic ids keep
		// the write idempotent.
		slog.Debug("Dedup check failed, proceeding with insert", "error", err)
	} else if exists {
		slog.Debug("Skipping duplicate document", "source_id", doc.Common.SourceID)
		return IngestResult{Skipped: true}, nil
	}

	text := doc.Body.Text()
	chunks := SplitText(text, MaxChunkChars, ChunkOverlapChars)
	quality := chunks[:0]
	for _, c := range chunks {
		if IsQualityChunk(c) {
			quality = append(quality, c)
		}
	}
	if len(quality) == 0 {
		return IngestResult{Skipped: true}, nil
	}
	chunks = quality

	embedTexts := make([]string, len(chunks))
	for i, c := range chunks {
		embedTexts[i] = doc.EmbeddingPrefix + c
	}
	vectors, err := ing.embedWithSafeguard(ctx, embedTexts)
	if err != nil {
		return IngestResult{}, fmt.Errorf("ingest %s: %w", doc.Common.SourceID, err)
	}

	points := make([]vectorstore.Point, len(chunks))
	chunkIDs := make([]string, len(chunks))
	for i, chunk := range chunks {
		payload := doc.PayloadMap(chunk)
		chunkID := datatypes.ChunkSourceID(doc.Common.SourceID, i, len(chunks))
		payload["source_id"] = chunkID
		if len(chunks) > 1 {
			payload["chunk_index"] = int64(i)
			payload["chunk_total"] = int64(len(chunks))
		}
		points[i] = vectorstore.Point{
			ID:      datatypes.PointID(doc.Common.Source, doc.Common.SourceID, i),
			Vector:  vectors[i],
			Payload: payload,
		}
		chunkIDs[i] = chunkID
	}

	if err := ing.index.Upsert(ctx, points); err != nil {
		return IngestResult{}, fmt.Errorf("ingest %s: %w", doc.Common.SourceID, err)
	}

	if ing.labels != nil {
		ing.labels.Add(ctx, doc.Common.ChatName, doc.Common.Sender)
	}
	if ing.link != nil {
		ing.link(ctx, doc, chunkIDs)
	}
	return IngestResult{Added: len(points)}, nil
}

// AddDocuments ingests a batch, counting per-document outcomes. Errors on
// individual documents are logged and counted, not propagated, so one bad
// item never aborts a sync run.
func (ing *Ingestor) AddDocuments(ctx context.Context, docs []*datatypes.Document) (added, skipped, errors int) {
	for _, doc := range docs {
		if ctx.Err() != nil {
			return
		}
		result, err := ing.AddDocument(ctx, doc)
		switch {
		case err != nil:
			slog.Error("Failed to ingest document", "source_id", doc.Common.SourceID, "error", err)
			errors++
		case result.Skipped:
			skipped++
		default:
			added++
		}
	}
	return
}

// embedWithSafeguard embeds a batch, and on the provider's context-length
// rejection truncates every over-long text once and retries. Only the
// embedded text is truncated - stored payloads keep the full content.
func (ing *Ingestor) embedWithSafeguard(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := ing.embedder.EmbedDocuments(ctx, texts)
	if err == nil {
		return vectors, nil
	}
	if !llm.IsContextLengthError(err) {
		return nil, err
	}

	truncated := make([]string, len(texts))
	changed := false
	for i, t := range texts {
		if len(t) > EmbeddingMaxChars {
			truncated[i] = truncateForEmbedding(t)
			changed = true
		} else {
			truncated[i] = t
		}
	}
	if !changed {
		return nil, err
	}
	slog.Warn("Embedding input too long, truncating and retrying once")
	return ing.embedder.EmbedDocuments(ctx, truncated)
}
