// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gmail

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
	"github.com/AleutianAI/AleutianRecall/services/archivist/retrieval"
	"github.com/AleutianAI/AleutianRecall/services/archivist/vectorstore"
)

// fakeIndex implements retrieval.Index over an in-memory point set.
type fakeIndex struct {
	points map[string]vectorstore.Point // keyed by payload source_id
}

func newFakeIndex() *fakeIndex { return &fakeIndex{points: make(map[string]vectorstore.Point)} }

func (f *fakeIndex) PointExists(ctx context.Context, sourceID string) (bool, error) {
	_, ok := f.points[sourceID]
	return ok, nil
}

func (f *fakeIndex) Upsert(ctx context.Context, points []vectorstore.Point) error {
	for _, p := range points {
		if sid, ok := p.Payload["source_id"].(string); ok {
			f.points[sid] = p
		}
	}
	return nil
}

func (f *fakeIndex) Query(ctx context.Context, vector []float32, filters datatypes.SearchFilters, limit int) ([]datatypes.ScoredNode, error) {
	return nil, nil
}
func (f *fakeIndex) ScrollMetadata(ctx context.Context, filters datatypes.SearchFilters, limit int) ([]datatypes.ScoredNode, error) {
	return nil, nil
}
func (f *fakeIndex) ScrollRecent(ctx context.Context, filters datatypes.SearchFilters, limit int) ([]datatypes.ScoredNode, error) {
	return nil, nil
}
func (f *fakeIndex) ScrollWindow(ctx context.Context, chatName string, minTS, maxTS int64, limit int) ([]datatypes.ScoredNode, error) {
	return nil, nil
}
func (f *fakeIndex) FullTextSearch(ctx context.Context, field string, tokens []string, filters datatypes.SearchFilters, score float64, limit int) ([]datatypes.ScoredNode, error) {
	return nil, nil
}
func (f *fakeIndex) TotalCount(ctx context.Context) (uint64, error) {
	return uint64(len(f.points)), nil
}
func (f *fakeIndex) Count(ctx context.Context, filters datatypes.SearchFilters) (uint64, error) {
	return uint64(len(f.points)), nil
}
func (f *fakeIndex) DeleteBySource(ctx context.Context, source string) (uint64, error) { return 0, nil }
func (f *fakeIndex) Reset(ctx context.Context) error                                  { return nil }
func (f *fakeIndex) FieldValues(ctx context.Context, field string) ([]string, error)  { return nil, nil }

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1}, nil
}
func (fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1}
	}
	return out, nil
}

// fakeClient serves a fixed mailbox and records labeling.
type fakeClient struct {
	emails   map[string]*Email
	labeled  map[string]bool
	listLog  []string
}

func newFakeClient(emails ...*Email) *fakeClient {
	c := &fakeClient{emails: make(map[string]*Email), labeled: make(map[string]bool)}
	for _, e := range emails {
		c.emails[e.ID] = e
	}
	return c
}

func (c *fakeClient) ListMessages(ctx context.Context, labelIDs []string, query string, maxResults int, pageToken string) (*ListPage, error) {
	c.listLog = append(c.listLog, query)
	if pageToken != "" {
		return &ListPage{}, nil
	}
	page := &ListPage{}
	for id := range c.emails {
		// Processed-marker exclusion: the real server omits labeled mail.
		if strings.HasPrefix(query, "-label:") && c.labeled[id] {
			continue
		}
		page.Messages = append(page.Messages, Stub{ID: id})
	}
	return page, nil
}

func (c *fakeClient) GetMessage(ctx context.Context, id string) (*Email, error) {
	return c.emails[id], nil
}

func (c *fakeClient) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	return []byte("attachment body with plenty of extractable text content"), nil
}

func (c *fakeClient) ExtractAttachmentText(data []byte, filename, mimeType string) string {
	return string(data)
}

func (c *fakeClient) GetOrCreateLabel(ctx context.Context, name string) (string, error) {
	return "Label_1", nil
}

func (c *fakeClient) AddLabel(ctx context.Context, messageID, labelID string) error {
	c.labeled[messageID] = true
	return nil
}

func (c *fakeClient) Ping(ctx context.Context) error { return nil }

func testEmail(id, subject, body string) *Email {
	return &Email{
		ID:       id,
		ThreadID: "t1",
		Subject:  subject,
		From:     "Dana Levi <dana@example.com>",
		To:       []string{"me@example.com"},
		Date:     time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC),
		BodyText: body,
		Labels:   []string{"INBOX"},
	}
}

func TestSyncIndexesAndLabels(t *testing.T) {
	client := newFakeClient(testEmail("m1", "Quarterly invoice", strings.Repeat("Invoice details and payment terms. ", 5)))
	index := newFakeIndex()
	ingestor := retrieval.NewIngestor(index, fakeEmbedder{}, nil, nil)
	syncer := NewSyncer(client, ingestor, index, nil)

	// Non-empty collection so auto-force stays off.
	index.points["seed"] = vectorstore.Point{}

	stats := syncer.Sync(context.Background(), SyncOptions{MaxEmails: 10})
	if stats.Synced != 1 || stats.Errors != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if _, ok := index.points["gmail:m1"]; !ok {
		t.Error("email not indexed under gmail:<id>")
	}
	if !client.labeled["m1"] {
		t.Error("processed label not applied")
	}
}

func TestSyncSkipsShortAndStillLabels(t *testing.T) {
	client := newFakeClient(testEmail("m2", "ok", "thx"))
	index := newFakeIndex()
	index.points["seed"] = vectorstore.Point{}
	syncer := NewSyncer(client, retrieval.NewIngestor(index, fakeEmbedder{}, nil, nil), index, nil)

	stats := syncer.Sync(context.Background(), SyncOptions{MaxEmails: 10})
	if stats.Synced != 0 || stats.Skipped != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if !client.labeled["m2"] {
		t.Error("short email must still be marked processed")
	}
}

func TestSyncRerunIsNoop(t *testing.T) {
	client := newFakeClient(testEmail("m3", "Report", strings.Repeat("Weekly report content. ", 5)))
	index := newFakeIndex()
	index.points["seed"] = vectorstore.Point{}
	syncer := NewSyncer(client, retrieval.NewIngestor(index, fakeEmbedder{}, nil, nil), index, nil)

	first := syncer.Sync(context.Background(), SyncOptions{MaxEmails: 10})
	if first.Synced != 1 {
		t.Fatalf("first run: %+v", first)
	}
	pointsAfterFirst := len(index.points)

	second := syncer.Sync(context.Background(), SyncOptions{MaxEmails: 10})
	if second.Synced != 0 {
		t.Errorf("second run re-synced: %+v", second)
	}
	if len(index.points) != pointsAfterFirst {
		t.Errorf("second run changed the index: %d → %d", pointsAfterFirst, len(index.points))
	}
}

func TestSyncForceModeOnEmptyCollection(t *testing.T) {
	client := newFakeClient(testEmail("m4", "Old mail", strings.Repeat("Previously indexed content. ", 5)))
	client.labeled["m4"] = true // marked processed upstream
	index := newFakeIndex()    // empty collection → auto force
	syncer := NewSyncer(client, retrieval.NewIngestor(index, fakeEmbedder{}, nil, nil), index, nil)

	stats := syncer.Sync(context.Background(), SyncOptions{MaxEmails: 10})
	if stats.Synced != 1 {
		t.Fatalf("force mode must re-index labeled mail: %+v", stats)
	}
	if len(client.listLog) == 0 || strings.Contains(client.listLog[0], "-label:") {
		t.Errorf("force mode must not exclude the processed label: %v", client.listLog)
	}
}

func TestSyncIndexesAttachments(t *testing.T) {
	email := testEmail("m5", "Contract", strings.Repeat("Please see the attached contract. ", 5))
	email.Attachments = []Attachment{{ID: "a1", Filename: "contract.pdf", MimeType: "application/pdf"}}
	client := newFakeClient(email)
	index := newFakeIndex()
	index.points["seed"] = vectorstore.Point{}
	syncer := NewSyncer(client, retrieval.NewIngestor(index, fakeEmbedder{}, nil, nil), index, nil)

	stats := syncer.Sync(context.Background(), SyncOptions{MaxEmails: 10, IncludeAttachments: true})
	if stats.Attachments != 1 {
		t.Fatalf("attachments = %d, want 1 (%+v)", stats.Attachments, stats)
	}
	if _, ok := index.points["gmail:m5:att:contract.pdf"]; !ok {
		t.Error("attachment not indexed under :att:<filename>")
	}
}
