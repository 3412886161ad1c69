// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plugins

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
)

// Settings is the typed settings store. All values are strings on disk;
// each row carries a declared type used to parse on read and render in the
// UI. Registration is insert-if-absent so user-edited values persist, with
// an env-var overlay applied only when a key is first inserted.
type Settings struct {
	db *sql.DB

	mu            sync.RWMutex
	selectOptions map[string][]string
	categoryMeta  map[string]datatypes.CategoryMeta
}

// OpenSettings opens (or creates) the settings store at path.
func OpenSettings(path string) (*Settings, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("settings: open %s: %w", path, err)
	}
	s := &Settings{
		db:            db,
		selectOptions: make(map[string][]string),
		categoryMeta:  make(map[string]datatypes.CategoryMeta),
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS plugin_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT 'general',
		type TEXT NOT NULL DEFAULT 'text',
		description TEXT DEFAULT ''
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("settings: schema: %w", err)
	}
	return s, nil
}

// Close releases the handle.
func (s *Settings) Close() error { return s.db.Close() }

// Register inserts setting defaults (skipping keys that already exist),
// records category metadata and select options, and overlays environment
// variables onto newly inserted defaults.
func (s *Settings) Register(specs []datatypes.SettingSpec, categoryMeta map[string]datatypes.CategoryMeta, envKeys map[string]string) error {
	for _, spec := range specs {
		value := spec.Default
		if envName, ok := envKeys[spec.Key]; ok {
			if env := os.Getenv(envName); env != "" {
				value = env
			}
		}
		_, err := s.db.Exec(
			`INSERT OR IGNORE INTO plugin_settings (key, value, category, type, description)
			 VALUES (?, ?, ?, ?, ?)`,
			spec.Key, value, spec.Category, string(spec.Type), spec.Description)
		if err != nil {
			return fmt.Errorf("settings: register %s: %w", spec.Key, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for category, meta := range categoryMeta {
		s.categoryMeta[category] = meta
	}
	return nil
}

// RegisterSelectOptions records the allowed values for select-typed keys.
func (s *Settings) RegisterSelectOptions(options map[string][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, values := range options {
		s.selectOptions[key] = values
	}
}

// Get returns a setting value, or fallback when the key is absent.
func (s *Settings) Get(key, fallback string) string {
	var value string
	err := s.db.QueryRow("SELECT value FROM plugin_settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		return fallback
	}
	return value
}

// GetBool parses a bool-typed setting.
func (s *Settings) GetBool(key string, fallback bool) bool {
	value := s.Get(key, "")
	if value == "" {
		return fallback
	}
	return strings.EqualFold(value, "true") || value == "1"
}

// GetInt parses an int-typed setting.
func (s *Settings) GetInt(key string, fallback int) int {
	value := s.Get(key, "")
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// GetFloat parses a float-typed setting.
func (s *Settings) GetFloat(key string, fallback float64) float64 {
	value := s.Get(key, "")
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// Set validates value against the key's declared type and stores it.
func (s *Settings) Set(key, value string) error {
	var declaredType string
	err := s.db.QueryRow("SELECT type FROM plugin_settings WHERE key = ?", key).Scan(&declaredType)
	if err == sql.ErrNoRows {
		return fmt.Errorf("settings: unknown key %q", key)
	}
	if err != nil {
		return err
	}

	switch datatypes.SettingType(declaredType) {
	case datatypes.SettingInt:
		if _, err := strconv.Atoi(strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("settings: %q expects an integer", key)
		}
	case datatypes.SettingFloat:
		if _, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err != nil {
			return fmt.Errorf("settings: %q expects a number", key)
		}
	case datatypes.SettingBool:
		lower := strings.ToLower(strings.TrimSpace(value))
		if lower != "true" && lower != "false" && lower != "0" && lower != "1" {
			return fmt.Errorf("settings: %q expects true/false", key)
		}
	case datatypes.SettingSelect:
		s.mu.RLock()
		options := s.selectOptions[key]
		s.mu.RUnlock()
		if len(options) > 0 {
			valid := false
			for _, opt := range options {
				if opt == value {
					valid = true
					break
				}
			}
			if !valid {
				return fmt.Errorf("settings: %q must be one of %v", key, options)
			}
		}
	}

	_, err = s.db.Exec("UPDATE plugin_settings SET value = ? WHERE key = ?", value, key)
	return err
}

// Setting is one settings row for the UI, with secrets masked.
type Setting struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Category    string `json:"category"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// All returns every setting grouped by category. Secret values are masked.
func (s *Settings) All() (map[string][]Setting, error) {
	rows, err := s.db.Query(
		"SELECT key, value, category, type, description FROM plugin_settings ORDER BY category, key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grouped := make(map[string][]Setting)
	for rows.Next() {
		var setting Setting
		if err := rows.Scan(&setting.Key, &setting.Value, &setting.Category, &setting.Type, &setting.Description); err != nil {
			return nil, err
		}
		if setting.Type == string(datatypes.SettingSecret) && setting.Value != "" {
			setting.Value = "••••••••"
		}
		grouped[setting.Category] = append(grouped[setting.Category], setting)
	}
	return grouped, nil
}

// SelectOptions returns the registered option lists.
func (s *Settings) SelectOptions() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string, len(s.selectOptions))
	for k, v := range s.selectOptions {
		out[k] = v
	}
	return out
}

// CategoryMeta returns the registered category metadata.
func (s *Settings) CategoryMeta() map[string]datatypes.CategoryMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]datatypes.CategoryMeta, len(s.categoryMeta))
	for k, v := range s.categoryMeta {
		out[k] = v
	}
	return out
}
