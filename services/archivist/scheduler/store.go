// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler is the durable store of time-scheduled retrieval tasks
// (daily/weekly/monthly/interval/cron), their result history and ratings,
// plus the dispatcher that executes due tasks.
package scheduler

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
)

// Result statuses.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusNoResults = "no_results"
)

// timeLayout is the stored UTC wall-clock format.
const timeLayout = "2006-01-02 15:04:05"

// Task is one scheduled query definition.
type Task struct {
	ID              int64                   `json:"id"`
	Name            string                  `json:"name"`
	Description     string                  `json:"description"`
	Prompt          string                  `json:"prompt"`
	ScheduleType    string                  `json:"schedule_type"`
	ScheduleValue   string                  `json:"schedule_value"`
	Timezone        string                  `json:"timezone"`
	Enabled         bool                    `json:"enabled"`
	Filters         datatypes.SearchFilters `json:"filters"`
	DeliveryChannel string                  `json:"delivery_channel"`
	CreatedAt       string                  `json:"created_at"`
	UpdatedAt       string                  `json:"updated_at"`
	LastRunAt       string                  `json:"last_run_at,omitempty"`
	NextRunAt       string                  `json:"next_run_at,omitempty"`
}

// Result is one execution outcome.
type Result struct {
	ID             int64                  `json:"id"`
	TaskID         int64                  `json:"task_id"`
	Answer         string                 `json:"answer"`
	PromptUsed     string                 `json:"prompt_used"`
	Sources        []datatypes.SourceInfo `json:"sources"`
	CostUSD        float64                `json:"cost_usd"`
	DurationMS     int64                  `json:"duration_ms"`
	Status         string                 `json:"status"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	ExecutedAt     string                 `json:"executed_at"`
	QualityMetrics map[string]any         `json:"quality_metrics,omitempty"`
	Rating         int                    `json:"rating"`
}

// Store is the SQLite-backed task store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the task store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("scheduler: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) init() error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT DEFAULT '',
			prompt TEXT NOT NULL,
			schedule_type TEXT NOT NULL DEFAULT 'daily',
			schedule_value TEXT NOT NULL DEFAULT '08:00',
			timezone TEXT DEFAULT 'UTC',
			enabled INTEGER DEFAULT 1,
			filters TEXT DEFAULT '{}',
			delivery_channel TEXT DEFAULT 'ui',
			created_at TEXT DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT DEFAULT CURRENT_TIMESTAMP,
			last_run_at TEXT,
			next_run_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS task_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id INTEGER NOT NULL REFERENCES scheduled_tasks(id) ON DELETE CASCADE,
			answer TEXT NOT NULL,
			prompt_used TEXT NOT NULL DEFAULT '',
			sources TEXT DEFAULT '[]',
			cost_usd REAL DEFAULT 0,
			duration_ms INTEGER DEFAULT 0,
			status TEXT DEFAULT 'success',
			error_message TEXT,
			executed_at TEXT DEFAULT CURRENT_TIMESTAMP,
			quality_metrics TEXT DEFAULT '{}',
			rating INTEGER DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_results_task_id ON task_results(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_task_results_executed_at ON task_results(executed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_enabled ON scheduled_tasks(enabled)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_next_run ON scheduled_tasks(next_run_at)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("scheduler: schema: %w", err)
		}
	}
	// Additive migrations for pre-existing databases.
	s.migrateAddColumn("task_results", "quality_metrics", "TEXT DEFAULT '{}'")
	s.migrateAddColumn("task_results", "rating", "INTEGER DEFAULT 0")
	return nil
}

func (s *Store) migrateAddColumn(table, column, definition string) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt sql.NullString
		if rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk) == nil && name == column {
			return
		}
	}
	s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
}

// CreateTask inserts a task and computes its first next_run_at when enabled.
func (s *Store) CreateTask(task *Task) (*Task, error) {
	if task.Timezone == "" {
		task.Timezone = "UTC"
	}
	var nextRun sql.NullString
	if task.Enabled {
		next, err := ComputeNextRun(task.ScheduleType, task.ScheduleValue, task.Timezone, time.Now())
		if err != nil {
			return nil, err
		}
		nextRun = sql.NullString{String: next.UTC().Format(timeLayout), Valid: true}
	}
	filters, _ := json.Marshal(task.Filters)

	result, err := s.db.Exec(
		`INSERT INTO scheduled_tasks
			(name, description, prompt, schedule_type, schedule_value, timezone, enabled, filters, delivery_channel, next_run_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.Name, task.Description, task.Prompt, task.ScheduleType, task.ScheduleValue,
		task.Timezone, task.Enabled, string(filters), orDefault(task.DeliveryChannel, "ui"), nextRun)
	if err != nil {
		return nil, fmt.Errorf("scheduler: create task: %w", err)
	}
	id, _ := result.LastInsertId()
	return s.GetTask(id)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

const taskColumns = `id, name, description, prompt, schedule_type, schedule_value,
	timezone, enabled, filters, delivery_channel, created_at, updated_at,
	COALESCE(last_run_at, ''), COALESCE(next_run_at, '')`

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	var filters string
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Prompt, &t.ScheduleType,
		&t.ScheduleValue, &t.Timezone, &t.Enabled, &filters, &t.DeliveryChannel,
		&t.CreatedAt, &t.UpdatedAt, &t.LastRunAt, &t.NextRunAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(filters), &t.Filters)
	return &t, nil
}

// GetTask returns one task, or nil when absent.
func (s *Store) GetTask(id int64) (*Task, error) {
	task, err := scanTask(s.db.QueryRow(
		"SELECT "+taskColumns+" FROM scheduled_tasks WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return task, err
}

// ListTasks returns all tasks, optionally only enabled ones.
func (s *Store) ListTasks(includeDisabled bool) ([]*Task, error) {
	query := "SELECT " + taskColumns + " FROM scheduled_tasks"
	if !includeDisabled {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY id"
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// UpdateTask overwrites mutable fields. next_run_at is recomputed from now
// whenever the task is enabled, and cleared when it is disabled.
func (s *Store) UpdateTask(task *Task) (*Task, error) {
	filters, _ := json.Marshal(task.Filters)
	var nextRun sql.NullString
	if task.Enabled {
		next, err := ComputeNextRun(task.ScheduleType, task.ScheduleValue, task.Timezone, time.Now())
		if err != nil {
			return nil, err
		}
		nextRun = sql.NullString{String: next.UTC().Format(timeLayout), Valid: true}
	}
	_, err := s.db.Exec(
		`UPDATE scheduled_tasks SET name = ?, description = ?, prompt = ?,
			schedule_type = ?, schedule_value = ?, timezone = ?, enabled = ?,
			filters = ?, delivery_channel = ?, next_run_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		task.Name, task.Description, task.Prompt, task.ScheduleType, task.ScheduleValue,
		task.Timezone, task.Enabled, string(filters), orDefault(task.DeliveryChannel, "ui"),
		nextRun, task.ID)
	if err != nil {
		return nil, fmt.Errorf("scheduler: update task %d: %w", task.ID, err)
	}
	return s.GetTask(task.ID)
}

// DeleteTask removes a task; its results cascade.
func (s *Store) DeleteTask(id int64) (bool, error) {
	result, err := s.db.Exec("DELETE FROM scheduled_tasks WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// ToggleTask flips enabled. Disabling nulls next_run_at; enabling
// recomputes it. Returns the new enabled state.
func (s *Store) ToggleTask(id int64) (bool, error) {
	task, err := s.GetTask(id)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, fmt.Errorf("scheduler: task %d not found", id)
	}

	if task.Enabled {
		_, err = s.db.Exec(
			"UPDATE scheduled_tasks SET enabled = 0, next_run_at = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?", id)
		return false, err
	}
	next, err := ComputeNextRun(task.ScheduleType, task.ScheduleValue, task.Timezone, time.Now())
	if err != nil {
		return false, err
	}
	_, err = s.db.Exec(
		"UPDATE scheduled_tasks SET enabled = 1, next_run_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		next.UTC().Format(timeLayout), id)
	return true, err
}

// DueTasks returns enabled tasks with next_run_at ≤ now.
func (s *Store) DueTasks(now time.Time) ([]*Task, error) {
	rows, err := s.db.Query(
		"SELECT "+taskColumns+` FROM scheduled_tasks
		 WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		 ORDER BY next_run_at`, now.UTC().Format(timeLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// AdvanceNextRun records last_run_at = executed and stores the next
// occurrence strictly after executed.
func (s *Store) AdvanceNextRun(id int64, executed time.Time) (time.Time, error) {
	task, err := s.GetTask(id)
	if err != nil {
		return time.Time{}, err
	}
	if task == nil {
		return time.Time{}, fmt.Errorf("scheduler: task %d not found", id)
	}
	next, err := ComputeNextRun(task.ScheduleType, task.ScheduleValue, task.Timezone, executed)
	if err != nil {
		return time.Time{}, err
	}
	_, err = s.db.Exec(
		`UPDATE scheduled_tasks SET last_run_at = ?, next_run_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		executed.UTC().Format(timeLayout), next.UTC().Format(timeLayout), id)
	return next, err
}

// AddResult persists one execution outcome.
func (s *Store) AddResult(result *Result) (int64, error) {
	sources, _ := json.Marshal(result.Sources)
	metrics, _ := json.Marshal(result.QualityMetrics)
	res, err := s.db.Exec(
		`INSERT INTO task_results
			(task_id, answer, prompt_used, sources, cost_usd, duration_ms, status, error_message, quality_metrics)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?)`,
		result.TaskID, result.Answer, result.PromptUsed, string(sources),
		result.CostUSD, result.DurationMS, result.Status, result.ErrorMessage, string(metrics))
	if err != nil {
		return 0, fmt.Errorf("scheduler: add result: %w", err)
	}
	return res.LastInsertId()
}

// Results returns a task's results newest first.
func (s *Store) Results(taskID int64, limit int) ([]*Result, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, task_id, answer, prompt_used, sources, cost_usd, duration_ms,
			status, COALESCE(error_message, ''), executed_at, quality_metrics, rating
		 FROM task_results WHERE task_id = ? ORDER BY executed_at DESC, id DESC LIMIT ?`,
		taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		var r Result
		var sources, metrics string
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Answer, &r.PromptUsed, &sources,
			&r.CostUSD, &r.DurationMS, &r.Status, &r.ErrorMessage, &r.ExecutedAt, &metrics, &r.Rating); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(sources), &r.Sources)
		json.Unmarshal([]byte(metrics), &r.QualityMetrics)
		results = append(results, &r)
	}
	return results, nil
}

// RateResult sets the rating (-1, 0, +1) on one result without touching any
// other field.
func (s *Store) RateResult(resultID int64, rating int) error {
	if rating < -1 || rating > 1 {
		return fmt.Errorf("scheduler: rating must be -1, 0 or 1")
	}
	result, err := s.db.Exec("UPDATE task_results SET rating = ? WHERE id = ?", rating, resultID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("scheduler: result %d not found", resultID)
	}
	return nil
}
