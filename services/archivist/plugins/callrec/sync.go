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
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
	"github.com/AleutianAI/AleutianRecall/services/archivist/identity"
	"github.com/AleutianAI/AleutianRecall/services/archivist/retrieval"
)

// staleTranscribingAfter resets transcribing rows with no progress.
const staleTranscribingAfter = 30 * time.Minute

// ScanStats reports one scan_and_register run.
type ScanStats struct {
	Status     string `json:"status"`
	Discovered int    `json:"discovered"`
	New        int    `json:"new"`
	Queued     int    `json:"queued"`
	Skipped    int    `json:"skipped"`
	Errors     int    `json:"errors"`
	StaleReset int64  `json:"stale_reset"`
}

// Syncer owns the recording pipeline: scan → register → transcribe (single
// worker) → review → approve → index.
type Syncer struct {
	db          *DB
	scanner     *Scanner
	transcriber Transcriber
	ingestor    *retrieval.Ingestor
	identity    *identity.Store

	syncing  atomic.Bool
	lastScan atomic.Int64

	jobs     chan string
	workerWG sync.WaitGroup
	stopOnce sync.Once
}

// NewSyncer wires the pipeline and starts the single transcription worker.
// Audio is CPU/GPU-bound, so the pool size is fixed at one.
func NewSyncer(db *DB, scanner *Scanner, transcriber Transcriber, ingestor *retrieval.Ingestor, identityStore *identity.Store) *Syncer {
	s := &Syncer{
		db:          db,
		scanner:     scanner,
		transcriber: transcriber,
		ingestor:    ingestor,
		identity:    identityStore,
		jobs:        make(chan string, 64),
	}
	s.workerWG.Add(1)
	go s.worker()
	return s
}

// Shutdown stops the transcription worker after the current job.
func (s *Syncer) Shutdown() {
	s.stopOnce.Do(func() { close(s.jobs) })
	s.workerWG.Wait()
}

func (s *Syncer) worker() {
	defer s.workerWG.Done()
	for contentHash := range s.jobs {
		if _, err := s.TranscribeFile(context.Background(), contentHash); err != nil {
			slog.Error("Background transcription failed", "hash", contentHash[:12], "error", err)
		}
	}
}

// QueueTranscription enqueues a recording for the background worker.
// Returns false when the queue is full.
func (s *Syncer) QueueTranscription(contentHash string) bool {
	select {
	case s.jobs <- contentHash:
		return true
	default:
		return false
	}
}

// IsSyncing reports whether a scan is in flight.
func (s *Syncer) IsSyncing() bool { return s.syncing.Load() }

// Status summarizes the pipeline for /sync/status.
func (s *Syncer) Status() map[string]any {
	counts, _ := s.db.Counts()
	status := map[string]any{
		"is_syncing": s.syncing.Load(),
		"counts":     counts,
	}
	if last := s.lastScan.Load(); last > 0 {
		status["last_scan"] = time.Unix(last, 0).UTC().Format(time.RFC3339)
	}
	return status
}

// ScanAndRegister discovers audio files and registers new ones as pending.
// Already-tracked hashes are skipped without metadata work; stale
// transcribing jobs reset to pending first. autoTranscribe queues new files
// on the background worker.
func (s *Syncer) ScanAndRegister(ctx context.Context, autoTranscribe bool) *ScanStats {
	if !s.syncing.CompareAndSwap(false, true) {
		return &ScanStats{Status: "already_running"}
	}
	defer s.syncing.Store(false)

	stats := &ScanStats{Status: "complete"}

	staleReset, err := s.db.ResetStaleTranscribing(staleTranscribingAfter)
	if err == nil && staleReset > 0 {
		slog.Info("Reset stale transcribing jobs", "count", staleReset)
	}
	stats.StaleReset = staleReset

	known, err := s.db.KnownHashes()
	if err != nil {
		stats.Status = "error"
		stats.Errors++
		return stats
	}

	files, err := s.scanner.Scan()
	if err != nil {
		slog.Error("Recording scan failed", "error", err)
		stats.Status = "error"
		stats.Errors++
		return stats
	}
	stats.Discovered = len(files)

	for _, file := range files {
		if ctx.Err() != nil {
			stats.Status = "cancelled"
			break
		}
		if known[file.ContentHash] {
			stats.Skipped++
			continue
		}

		meta := ParseFilenameMetadata(file.Filename)
		contactName, phone := s.resolveContact(meta)

		participants := []string{"Unknown"}
		if contactName != "" {
			participants = []string{contactName}
		}

		modifiedAt := file.ModifiedAt.UTC().Format("2006-01-02 15:04:05")
		if meta.Date != "" {
			modifiedAt = meta.Date
			if meta.Time != "" {
				modifiedAt += " " + meta.Time
			}
		}

		record, err := s.db.UpsertFile(&Record{
			ContentHash:  file.ContentHash,
			Filename:     file.Filename,
			FilePath:     file.Path,
			FileSize:     file.Size,
			Extension:    file.Extension,
			ModifiedAt:   modifiedAt,
			Participants: participants,
			ContactName:  contactName,
			PhoneNumber:  phone,
		})
		if err != nil {
			slog.Error("Failed to register recording", "file", file.Filename, "error", err)
			stats.Errors++
			continue
		}
		if record.Status == StatusPending {
			stats.New++
			if autoTranscribe && s.QueueTranscription(file.ContentHash) {
				stats.Queued++
			}
		}
	}

	s.lastScan.Store(time.Now().Unix())
	slog.Info("Recording scan complete",
		"discovered", stats.Discovered, "new", stats.New,
		"queued", stats.Queued, "skipped", stats.Skipped, "errors", stats.Errors)
	return stats
}

// resolveContact cross-references filename metadata with the entity store:
// a detected phone looks up the display name; a detected name looks up the
// phone.
func (s *Syncer) resolveContact(meta FilenameMetadata) (contactName, phone string) {
	phone = meta.PhoneNumber
	if s.identity == nil {
		return meta.Participants, phone
	}
	if phone != "" {
		if personID, err := s.identity.FindPersonByPhone(phone); err == nil && personID > 0 {
			if p, err := s.identity.GetPerson(personID); err == nil && p != nil {
				return p.DisplayName, phone
			}
		}
		return meta.Participants, phone
	}
	if meta.Participants != "" {
		if persons, err := s.identity.ResolveName(meta.Participants); err == nil && len(persons) == 1 {
			if phone == "" {
				phone = persons[0].Phone
			}
			return persons[0].DisplayName, phone
		}
	}
	return meta.Participants, phone
}

// TranscribeFile runs the transcriber on one recording, streaming progress
// into the status row. Locked files are copied to a temp location first.
func (s *Syncer) TranscribeFile(ctx context.Context, contentHash string) (*Record, error) {
	record, err := s.db.Get(contentHash)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("callrec: recording %s not tracked", contentHash)
	}
	if s.transcriber == nil {
		s.db.UpdateStatus(contentHash, StatusError, "transcriber is not configured", ErrGeneric)
		return nil, fmt.Errorf("callrec: transcriber is not configured")
	}

	if err := s.db.UpdateStatus(contentHash, StatusTranscribing, "", ""); err != nil {
		return nil, err
	}

	path, cleanup, err := prepareLocalCopy(record.FilePath)
	if err != nil {
		category := ClassifyTranscriptionError(err)
		message := err.Error()
		if category == ErrFileLocked {
			message = "file is locked by cloud sync — retry after the sync settles"
		}
		s.db.UpdateStatus(contentHash, StatusError, message, category)
		return nil, err
	}
	defer cleanup()

	progress := func(message string) {
		s.db.UpdateProgress(contentHash, message)
	}

	transcription, err := s.transcriber.Transcribe(ctx, path, progress)
	if err != nil {
		s.db.UpdateStatus(contentHash, StatusError, err.Error(), ClassifyTranscriptionError(err))
		return nil, err
	}

	if err := s.db.UpdateTranscription(contentHash,
		renderTranscript(transcription), transcription.Language,
		transcription.DurationSeconds, transcription.Confidence); err != nil {
		return nil, err
	}
	slog.Info("Transcription complete",
		"file", record.Filename, "language", transcription.Language,
		"duration_s", transcription.DurationSeconds)
	return s.db.Get(contentHash)
}

// renderTranscript flattens diarized segments into speaker-labeled lines,
// falling back to the raw text when no segments exist.
func renderTranscript(t *Transcription) string {
	if len(t.Segments) == 0 {
		return t.Text
	}
	var sb strings.Builder
	lastSpeaker := ""
	for _, seg := range t.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		speaker := seg.Speaker
		if speaker == "" {
			speaker = "Speaker"
		}
		if speaker != lastSpeaker {
			fmt.Fprintf(&sb, "%s: %s\n", speaker, text)
			lastSpeaker = speaker
		} else {
			fmt.Fprintf(&sb, "%s\n", text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// ApproveFile indexes a reviewed transcript: chunk, ingest with call
// metadata, link participants, and flip the record to approved.
func (s *Syncer) ApproveFile(ctx context.Context, contentHash string) (*Record, error) {
	record, err := s.db.Get(contentHash)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("callrec: recording %s not tracked", contentHash)
	}
	if record.Status != StatusTranscribed && record.Status != StatusError {
		return nil, fmt.Errorf("callrec: cannot approve recording in status %q", record.Status)
	}
	transcript := strings.TrimSpace(record.TranscriptText)
	if len(transcript) < retrieval.MinContentChars {
		return nil, fmt.Errorf("callrec: no usable transcription available")
	}

	participants := record.Participants
	if record.ContactName != "" {
		deduped := []string{record.ContactName}
		for _, p := range participants {
			if p != record.ContactName {
				deduped = append(deduped, p)
			}
		}
		participants = deduped
	}
	if len(participants) == 0 {
		participants = []string{"Unknown"}
	}

	ts := parseRecordedAt(record.ModifiedAt)
	sourceID := "call_recording:" + contentHash
	title := strings.TrimSuffix(record.Filename, filepath.Ext(record.Filename))

	doc := &datatypes.Document{
		Common: datatypes.CommonMeta{
			Source:      datatypes.SourceCallRecording,
			SourceID:    sourceID,
			ContentType: datatypes.ContentTypeCallRecording,
			ChatName:    "Call with " + strings.Join(participants, ", "),
			Sender:      participants[0],
			Timestamp:   ts,
		},
		Body: datatypes.AudioBody{
			Transcript:      transcript,
			DurationSeconds: record.DurationSeconds,
			Participants:    participants,
			Language:        record.Language,
			Provider:        transcriptionProvider(s.transcriber),
		},
		Extras: map[string]any{
			"recording_id":     record.ContentHash[:16],
			"confidence_score": record.Confidence,
			"audio_format":     record.Extension,
			"filename":         record.Filename,
		},
		EmbeddingPrefix: fmt.Sprintf("Call recording: %s\nParticipants: %s\n\n", title, strings.Join(participants, ", ")),
	}

	result, err := s.ingestor.AddDocument(ctx, doc)
	if err != nil {
		return nil, err
	}
	if err := s.db.MarkApproved(contentHash, sourceID); err != nil {
		return nil, err
	}
	slog.Info("Recording approved and indexed",
		"file", record.Filename, "chunks", result.Added)

	if s.identity != nil {
		for _, name := range participants {
			if name == "" || name == "Unknown" {
				continue
			}
			if personID, err := s.identity.GetOrCreatePerson(name, "", record.PhoneNumber, "", false); err == nil {
				s.identity.LinkPersonAsset(personID, "call_recording", sourceID, identity.RoleParticipant, 0.9)
			}
		}
	}
	return s.db.Get(contentHash)
}

func transcriptionProvider(t Transcriber) string {
	if t == nil {
		return ""
	}
	return t.Provider()
}

func parseRecordedAt(value string) int64 {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Unix()
		}
	}
	return time.Now().Unix()
}
