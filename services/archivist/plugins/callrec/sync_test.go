// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callrec

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
	"github.com/AleutianAI/AleutianRecall/services/archivist/retrieval"
	"github.com/AleutianAI/AleutianRecall/services/archivist/vectorstore"
)

// fakeIndex implements retrieval.Index over an in-memory point set.
type fakeIndex struct {
	points map[string]vectorstore.Point
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

type fakeTranscriber struct {
	result *Transcription
	err    error
}

func (t *fakeTranscriber) Transcribe(ctx context.Context, path string, progress func(string)) (*Transcription, error) {
	progress("transcribing 50%")
	if t.err != nil {
		return nil, t.err
	}
	return t.result, nil
}
func (t *fakeTranscriber) Provider() string { return "whisper-test" }

func testSyncer(t *testing.T, dir string, transcriber Transcriber) (*Syncer, *DB, *fakeIndex) {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "recordings.db"))
	if err != nil {
		t.Fatal(err)
	}
	index := newFakeIndex()
	ingestor := retrieval.NewIngestor(index, fakeEmbedder{}, nil, nil)
	syncer := NewSyncer(db, NewScanner(dir), transcriber, ingestor, nil)
	t.Cleanup(func() {
		syncer.Shutdown()
		db.Close()
	})
	return syncer, db, index
}

func writeAudio(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScanAndRegisterIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeAudio(t, dir, "Call recording +972501234567_20260101_103000.m4a", "audio-bytes-1")
	writeAudio(t, dir, "notes.txt", "not audio")

	syncer, db, _ := testSyncer(t, dir, nil)

	stats := syncer.ScanAndRegister(context.Background(), false)
	if stats.Discovered != 1 || stats.New != 1 {
		t.Fatalf("first scan: %+v", stats)
	}

	// Re-running without new files is a no-op on the status table.
	again := syncer.ScanAndRegister(context.Background(), false)
	if again.New != 0 || again.Skipped != 1 {
		t.Errorf("re-scan: %+v", again)
	}

	records, _ := db.List("", 0)
	if len(records) != 1 {
		t.Fatalf("tracked records = %d", len(records))
	}
	r := records[0]
	if r.Status != StatusPending {
		t.Errorf("status = %q", r.Status)
	}
	if r.PhoneNumber != "+972501234567" {
		t.Errorf("phone from filename = %q", r.PhoneNumber)
	}
	if r.ModifiedAt != "2026-01-01 10:30:00" {
		t.Errorf("recorded-at from filename = %q", r.ModifiedAt)
	}
}

func TestContentHashIdentitySurvivesRename(t *testing.T) {
	dir := t.TempDir()
	writeAudio(t, dir, "original.m4a", "identical-bytes")
	syncer, db, _ := testSyncer(t, dir, nil)
	syncer.ScanAndRegister(context.Background(), false)

	os.Rename(filepath.Join(dir, "original.m4a"), filepath.Join(dir, "renamed.m4a"))
	stats := syncer.ScanAndRegister(context.Background(), false)
	if stats.New != 0 {
		t.Errorf("renamed file registered again: %+v", stats)
	}
	records, _ := db.List("", 0)
	if len(records) != 1 {
		t.Errorf("records = %d", len(records))
	}
}

func TestTranscribeUpdatesStatusAndProgress(t *testing.T) {
	dir := t.TempDir()
	writeAudio(t, dir, "call.m4a", "audio")
	transcriber := &fakeTranscriber{result: &Transcription{
		Text:            "full transcript of the conversation with plenty of content",
		Language:        "he",
		DurationSeconds: 95,
		Confidence:      0.92,
		Segments: []Segment{
			{Speaker: "Speaker 1", Text: "שלום, מה שלומך?"},
			{Speaker: "Speaker 2", Text: "הכל טוב, תודה"},
			{Speaker: "Speaker 2", Text: "ואצלך?"},
		},
	}}
	syncer, db, _ := testSyncer(t, dir, transcriber)
	syncer.ScanAndRegister(context.Background(), false)

	records, _ := db.List("", 0)
	record, err := syncer.TranscribeFile(context.Background(), records[0].ContentHash)
	if err != nil {
		t.Fatal(err)
	}
	if record.Status != StatusTranscribed {
		t.Errorf("status = %q", record.Status)
	}
	if record.DurationSeconds != 95 || record.Language != "he" {
		t.Errorf("metadata not stored: %+v", record)
	}
	// Diarized rendering groups consecutive same-speaker segments.
	if !strings.Contains(record.TranscriptText, "Speaker 1: שלום") {
		t.Errorf("diarized labels missing: %q", record.TranscriptText)
	}
	if strings.Count(record.TranscriptText, "Speaker 2:") != 1 {
		t.Errorf("consecutive speaker segments not grouped: %q", record.TranscriptText)
	}
}

func TestTranscribeErrorCategorized(t *testing.T) {
	dir := t.TempDir()
	writeAudio(t, dir, "bad.m4a", "audio")
	transcriber := &fakeTranscriber{err: errors.New("ffmpeg: invalid audio stream")}
	syncer, db, _ := testSyncer(t, dir, transcriber)
	syncer.ScanAndRegister(context.Background(), false)

	records, _ := db.List("", 0)
	if _, err := syncer.TranscribeFile(context.Background(), records[0].ContentHash); err == nil {
		t.Fatal("expected transcription error")
	}
	record, _ := db.Get(records[0].ContentHash)
	if record.Status != StatusError || record.ErrorType != ErrBadAudio {
		t.Errorf("error not categorized: status=%q type=%q", record.Status, record.ErrorType)
	}
}

func TestApproveIndexesTranscript(t *testing.T) {
	dir := t.TempDir()
	writeAudio(t, dir, "meeting.m4a", "audio")
	transcriber := &fakeTranscriber{result: &Transcription{
		Text: strings.Repeat("Discussion about the renovation budget. ", 5),
	}}
	syncer, db, index := testSyncer(t, dir, transcriber)
	syncer.ScanAndRegister(context.Background(), false)

	records, _ := db.List("", 0)
	hash := records[0].ContentHash

	// Approval before transcription must be rejected.
	if _, err := syncer.ApproveFile(context.Background(), hash); err == nil {
		t.Error("approving a pending recording must fail")
	}

	syncer.TranscribeFile(context.Background(), hash)
	db.UpdateMetadata(hash, "Dana Levi", []string{"Dana Levi", "Me"})

	record, err := syncer.ApproveFile(context.Background(), hash)
	if err != nil {
		t.Fatal(err)
	}
	if record.Status != StatusApproved {
		t.Errorf("status = %q", record.Status)
	}
	sourceID := "call_recording:" + hash
	if record.SourceID != sourceID {
		t.Errorf("source_id = %q", record.SourceID)
	}
	point, ok := index.points[sourceID]
	if !ok {
		t.Fatal("transcript not indexed")
	}
	if point.Payload["content_type"] != "call_recording" {
		t.Errorf("content_type = %v", point.Payload["content_type"])
	}
	chatName, _ := point.Payload["chat_name"].(string)
	if !strings.HasPrefix(chatName, "Call with Dana Levi") {
		t.Errorf("chat_name = %q", chatName)
	}
}

func TestResetStaleTranscribing(t *testing.T) {
	dir := t.TempDir()
	writeAudio(t, dir, "stuck.m4a", "audio")
	syncer, db, _ := testSyncer(t, dir, nil)
	syncer.ScanAndRegister(context.Background(), false)

	records, _ := db.List("", 0)
	hash := records[0].ContentHash
	db.UpdateStatus(hash, StatusTranscribing, "", "")
	// Backdate the row beyond the stale window.
	db.db.Exec("UPDATE call_recording_files SET updated_at = '2000-01-01 00:00:00' WHERE content_hash = ?", hash)

	stats := syncer.ScanAndRegister(context.Background(), false)
	if stats.StaleReset != 1 {
		t.Errorf("stale_reset = %d", stats.StaleReset)
	}
	record, _ := db.Get(hash)
	if record.Status != StatusPending {
		t.Errorf("stale job not reset: %q", record.Status)
	}
}

func TestParseFilenameMetadata(t *testing.T) {
	tests := []struct {
		filename string
		phone    string
		date     string
	}{
		{"Call recording +972501234567_20260101_103000.m4a", "+972501234567", "2026-01-01"},
		{"Dana Levi_2025-12-24.mp3", "", "2025-12-24"},
		{"random.mp3", "", ""},
	}
	for _, tt := range tests {
		meta := ParseFilenameMetadata(tt.filename)
		if meta.PhoneNumber != tt.phone {
			t.Errorf("%s: phone = %q, want %q", tt.filename, meta.PhoneNumber, tt.phone)
		}
		if meta.Date != tt.date {
			t.Errorf("%s: date = %q, want %q", tt.filename, meta.Date, tt.date)
		}
	}

	meta := ParseFilenameMetadata("Dana Levi_2025-12-24.mp3")
	if meta.Participants != "Dana Levi" {
		t.Errorf("participants = %q", meta.Participants)
	}
}
