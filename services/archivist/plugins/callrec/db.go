// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package callrec is the call-recordings channel plugin: directory scanning
// with content-hash identity, a single-worker transcription pool with live
// progress, and a review-and-approve flow that indexes transcripts with
// diarized speaker labels.
package callrec

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Recording statuses. Transitions: pending → transcribing → transcribed →
// approved | error. Stale transcribing rows reset to pending at scan time.
const (
	StatusPending      = "pending"
	StatusTranscribing = "transcribing"
	StatusTranscribed  = "transcribed"
	StatusApproved     = "approved"
	StatusError        = "error"
)

// Error categories recorded alongside StatusError.
const (
	ErrFileLocked = "file_locked"
	ErrBadAudio   = "bad_audio"
	ErrGeneric    = "generic"
)

// Record is one tracked recording.
type Record struct {
	ContentHash     string   `json:"content_hash"`
	Filename        string   `json:"filename"`
	FilePath        string   `json:"file_path"`
	FileSize        int64    `json:"file_size"`
	Extension       string   `json:"extension"`
	ModifiedAt      string   `json:"modified_at"`
	Participants    []string `json:"participants"`
	ContactName     string   `json:"contact_name"`
	PhoneNumber     string   `json:"phone_number"`
	Status          string   `json:"status"`
	Progress        string   `json:"progress,omitempty"`
	TranscriptText  string   `json:"transcript_text,omitempty"`
	Language        string   `json:"language,omitempty"`
	DurationSeconds int      `json:"duration_seconds"`
	Confidence      float64  `json:"confidence"`
	ErrorMessage    string   `json:"error_message,omitempty"`
	ErrorType       string   `json:"error_type,omitempty"`
	SourceID        string   `json:"source_id,omitempty"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

// DB is the recording status store.
type DB struct {
	db *sql.DB
}

// OpenDB opens (or creates) the status table at path.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("callrec: open %s: %w", path, err)
	}
	d := &DB{db: db}
	if err := d.init(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Close releases the handle.
func (d *DB) Close() error { return d.db.Close() }

func (d *DB) init() error {
	_, err := d.db.Exec(`CREATE TABLE IF NOT EXISTS call_recording_files (
		content_hash TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		file_path TEXT NOT NULL,
		file_size INTEGER DEFAULT 0,
		extension TEXT DEFAULT '',
		modified_at TEXT DEFAULT '',
		participants TEXT DEFAULT '[]',
		contact_name TEXT DEFAULT '',
		phone_number TEXT DEFAULT '',
		status TEXT DEFAULT 'pending',
		progress TEXT DEFAULT '',
		transcript_text TEXT DEFAULT '',
		language TEXT DEFAULT '',
		duration_seconds INTEGER DEFAULT 0,
		confidence REAL DEFAULT 0,
		error_message TEXT DEFAULT '',
		error_type TEXT DEFAULT '',
		source_id TEXT DEFAULT '',
		created_at TEXT DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("callrec: schema: %w", err)
	}
	d.db.Exec(`CREATE INDEX IF NOT EXISTS idx_callrec_status ON call_recording_files(status)`)
	return nil
}

// UpsertFile registers a discovered file. Already-tracked hashes are left
// untouched and returned as-is.
func (d *DB) UpsertFile(r *Record) (*Record, error) {
	participants, _ := json.Marshal(r.Participants)
	_, err := d.db.Exec(
		`INSERT OR IGNORE INTO call_recording_files
			(content_hash, filename, file_path, file_size, extension, modified_at,
			 participants, contact_name, phone_number, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending')`,
		r.ContentHash, r.Filename, r.FilePath, r.FileSize, r.Extension, r.ModifiedAt,
		string(participants), r.ContactName, r.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("callrec: upsert: %w", err)
	}
	return d.Get(r.ContentHash)
}

const recordColumns = `content_hash, filename, file_path, file_size, extension, modified_at,
	participants, contact_name, phone_number, status, progress, transcript_text,
	language, duration_seconds, confidence, error_message, error_type, source_id,
	created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	var r Record
	var participants string
	err := row.Scan(&r.ContentHash, &r.Filename, &r.FilePath, &r.FileSize, &r.Extension,
		&r.ModifiedAt, &participants, &r.ContactName, &r.PhoneNumber, &r.Status,
		&r.Progress, &r.TranscriptText, &r.Language, &r.DurationSeconds, &r.Confidence,
		&r.ErrorMessage, &r.ErrorType, &r.SourceID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(participants), &r.Participants)
	return &r, nil
}

// Get returns one record, or nil when untracked.
func (d *DB) Get(contentHash string) (*Record, error) {
	record, err := scanRecord(d.db.QueryRow(
		"SELECT "+recordColumns+" FROM call_recording_files WHERE content_hash = ?", contentHash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return record, err
}

// List returns records, optionally filtered by status, newest first.
func (d *DB) List(status string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 200
	}
	query := "SELECT " + recordColumns + " FROM call_recording_files"
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY modified_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// UpdateStatus transitions a record, optionally recording an error message
// and category.
func (d *DB) UpdateStatus(contentHash, status, errorMessage, errorType string) error {
	_, err := d.db.Exec(
		`UPDATE call_recording_files SET status = ?, error_message = ?, error_type = ?,
			updated_at = CURRENT_TIMESTAMP WHERE content_hash = ?`,
		status, errorMessage, errorType, contentHash)
	return err
}

// UpdateProgress writes live transcription progress for UI polling.
func (d *DB) UpdateProgress(contentHash, progress string) error {
	_, err := d.db.Exec(
		`UPDATE call_recording_files SET progress = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE content_hash = ?`, progress, contentHash)
	return err
}

// UpdateTranscription stores a finished transcription and flips status to
// transcribed.
func (d *DB) UpdateTranscription(contentHash, text, language string, durationSeconds int, confidence float64) error {
	_, err := d.db.Exec(
		`UPDATE call_recording_files SET transcript_text = ?, language = ?,
			duration_seconds = ?, confidence = ?, status = 'transcribed',
			progress = '', error_message = '', error_type = '',
			updated_at = CURRENT_TIMESTAMP
		 WHERE content_hash = ?`,
		text, language, durationSeconds, confidence, contentHash)
	return err
}

// UpdateMetadata lets the review UI fix the contact name and participants
// before approval.
func (d *DB) UpdateMetadata(contentHash, contactName string, participants []string) error {
	encoded, _ := json.Marshal(participants)
	_, err := d.db.Exec(
		`UPDATE call_recording_files SET contact_name = ?, participants = ?,
			updated_at = CURRENT_TIMESTAMP WHERE content_hash = ?`,
		contactName, string(encoded), contentHash)
	return err
}

// MarkApproved flips a record to approved and records its index source id.
func (d *DB) MarkApproved(contentHash, sourceID string) error {
	_, err := d.db.Exec(
		`UPDATE call_recording_files SET status = 'approved', source_id = ?,
			updated_at = CURRENT_TIMESTAMP WHERE content_hash = ?`,
		sourceID, contentHash)
	return err
}

// Delete removes a record from tracking.
func (d *DB) Delete(contentHash string) (bool, error) {
	result, err := d.db.Exec("DELETE FROM call_recording_files WHERE content_hash = ?", contentHash)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// KnownHashes returns every tracked content hash, letting scans skip
// already-registered files without metadata work.
func (d *DB) KnownHashes() (map[string]bool, error) {
	rows, err := d.db.Query("SELECT content_hash FROM call_recording_files")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	hashes := make(map[string]bool)
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		hashes[hash] = true
	}
	return hashes, nil
}

// Counts reports record counts by status.
func (d *DB) Counts() (map[string]int64, error) {
	rows, err := d.db.Query("SELECT status, COUNT(*) FROM call_recording_files GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, nil
}

// ResetStaleTranscribing returns jobs stuck in transcribing with no update
// for staleAfter back to pending. Returns how many were reset.
func (d *DB) ResetStaleTranscribing(staleAfter time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-staleAfter).Format("2006-01-02 15:04:05")
	result, err := d.db.Exec(
		`UPDATE call_recording_files SET status = 'pending', progress = '',
			updated_at = CURRENT_TIMESTAMP
		 WHERE status = 'transcribing' AND updated_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
