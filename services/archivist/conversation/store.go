// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation is the durable chat-session store: session id →
// ordered turns of (user text, assistant text, retrieved refs, filters,
// rich attachments), with a TTL sweeper and a hard cap on retained turns.
package conversation

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
)

// MaxTurnsPerSession is the hard cap on retained turns; the oldest are
// trimmed beyond it.
const MaxTurnsPerSession = 20

// Turn is one persisted conversation turn.
type Turn struct {
	Index         int                      `json:"turn_index"`
	UserText      string                   `json:"user_text"`
	AssistantText string                   `json:"assistant_text"`
	Sources       []datatypes.SourceInfo   `json:"sources"`
	RichContent   []datatypes.RichContent  `json:"rich_content"`
	RetrievedIDs  []string                 `json:"retrieved_ids"`
	Filters       datatypes.SearchFilters  `json:"filters"`
	CostUSD       float64                  `json:"cost_usd"`
	CreatedAt     string                   `json:"created_at"`
}

// Session is a session summary row.
type Session struct {
	ID           string  `json:"id"`
	CreatedAt    string  `json:"created_at"`
	LastActivity string  `json:"last_activity"`
	TurnCount    int     `json:"turn_count"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// Store is the SQLite-backed conversation store.
type Store struct {
	db  *sql.DB
	ttl time.Duration

	done chan struct{}
}

// Open opens (or creates) the store at path with the given session TTL.
func Open(path string, ttl time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("conversation: open %s: %w", path, err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &Store{db: db, ttl: ttl, done: make(chan struct{})}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			session_id TEXT PRIMARY KEY,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_activity TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			total_cost_usd REAL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			turn_index INTEGER NOT NULL,
			user_text TEXT NOT NULL,
			assistant_text TEXT NOT NULL DEFAULT '',
			sources TEXT DEFAULT '[]',
			rich_content TEXT DEFAULT '[]',
			retrieved_ids TEXT DEFAULT '[]',
			filters TEXT DEFAULT '{}',
			cost_usd REAL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES conversations(session_id) ON DELETE CASCADE,
			UNIQUE(session_id, turn_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON conversation_turns(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_activity ON conversations(last_activity)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("conversation: schema: %w", err)
		}
	}
	return nil
}

// Close stops the sweeper and releases the handle.
func (s *Store) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return s.db.Close()
}

// EnsureSession creates the session row if needed and returns its id.
// An empty id generates a fresh one.
func (s *Store) EnsureSession(sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = xid.New().String()
	}
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO conversations (session_id) VALUES (?)", sessionID)
	if err != nil {
		return "", fmt.Errorf("conversation: ensure session: %w", err)
	}
	return sessionID, nil
}

// AppendTurn persists one completed turn, touches last_activity, adds cost,
// and trims turns beyond the hard cap.
func (s *Store) AppendTurn(sessionID string, turn Turn) error {
	sources, _ := json.Marshal(turn.Sources)
	rich, _ := json.Marshal(turn.RichContent)
	retrieved, _ := json.Marshal(turn.RetrievedIDs)
	filters, _ := json.Marshal(turn.Filters)

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRow(
		"SELECT COALESCE(MAX(turn_index), -1) + 1 FROM conversation_turns WHERE session_id = ?",
		sessionID).Scan(&next); err != nil {
		return err
	}

	if _, err := tx.Exec(
		`INSERT INTO conversation_turns
			(session_id, turn_index, user_text, assistant_text, sources, rich_content, retrieved_ids, filters, cost_usd)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, next, turn.UserText, turn.AssistantText,
		string(sources), string(rich), string(retrieved), string(filters), turn.CostUSD); err != nil {
		return fmt.Errorf("conversation: append turn: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE conversations SET last_activity = CURRENT_TIMESTAMP,
			total_cost_usd = total_cost_usd + ? WHERE session_id = ?`,
		turn.CostUSD, sessionID); err != nil {
		return err
	}

	// Trim oldest turns beyond the cap.
	if _, err := tx.Exec(
		`DELETE FROM conversation_turns WHERE session_id = ? AND turn_index <= ?`,
		sessionID, next-MaxTurnsPerSession); err != nil {
		return err
	}

	return tx.Commit()
}

// Turns returns a session's turns in order, restoring the serialized JSON
// fields into presentation-ready structures. maxTurns ≤ 0 returns all
// retained turns.
func (s *Store) Turns(sessionID string, maxTurns int) ([]Turn, error) {
	query := `SELECT turn_index, user_text, assistant_text, sources, rich_content,
		retrieved_ids, filters, cost_usd, created_at
		FROM conversation_turns WHERE session_id = ? ORDER BY turn_index`
	rows, err := s.db.Query(query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var sources, rich, retrieved, filters string
		if err := rows.Scan(&t.Index, &t.UserText, &t.AssistantText, &sources, &rich, &retrieved, &filters, &t.CostUSD, &t.CreatedAt); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(sources), &t.Sources)
		json.Unmarshal([]byte(rich), &t.RichContent)
		json.Unmarshal([]byte(retrieved), &t.RetrievedIDs)
		json.Unmarshal([]byte(filters), &t.Filters)
		turns = append(turns, t)
	}
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	return turns, nil
}

// Get returns a session summary, or nil when absent.
func (s *Store) Get(sessionID string) (*Session, error) {
	var session Session
	err := s.db.QueryRow(
		`SELECT c.session_id, c.created_at, c.last_activity, c.total_cost_usd,
			(SELECT COUNT(*) FROM conversation_turns t WHERE t.session_id = c.session_id)
		 FROM conversations c WHERE c.session_id = ?`, sessionID).Scan(
		&session.ID, &session.CreatedAt, &session.LastActivity, &session.TotalCostUSD, &session.TurnCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// List returns session summaries newest-activity first.
func (s *Store) List(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT c.session_id, c.created_at, c.last_activity, c.total_cost_usd,
			(SELECT COUNT(*) FROM conversation_turns t WHERE t.session_id = c.session_id)
		 FROM conversations c ORDER BY c.last_activity DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var session Session
		if err := rows.Scan(&session.ID, &session.CreatedAt, &session.LastActivity, &session.TotalCostUSD, &session.TurnCount); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// Delete removes a session and its turns.
func (s *Store) Delete(sessionID string) (bool, error) {
	result, err := s.db.Exec("DELETE FROM conversations WHERE session_id = ?", sessionID)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// SessionCost returns the running cost total for a session.
func (s *Store) SessionCost(sessionID string) (float64, error) {
	var total float64
	err := s.db.QueryRow(
		"SELECT total_cost_usd FROM conversations WHERE session_id = ?", sessionID).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return total, err
}

// SweepExpired deletes sessions idle longer than the TTL and returns how
// many were removed.
func (s *Store) SweepExpired() (int64, error) {
	cutoff := time.Now().UTC().Add(-s.ttl).Format("2006-01-02 15:04:05")
	result, err := s.db.Exec("DELETE FROM conversations WHERE last_activity < ?", cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// StartSweeper runs SweepExpired on the given interval until Close. Uses
// the ticker + done channel pattern.
func (s *Store) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := s.SweepExpired(); err != nil {
					slog.Error("Conversation sweep failed", "error", err)
				} else if n > 0 {
					slog.Info("Swept expired conversations", "count", n)
				}
			case <-s.done:
				return
			}
		}
	}()
}
