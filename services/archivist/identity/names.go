// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package identity

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// ComputeDisplayName builds the bilingual display name from a canonical
// name and aliases without touching the database.
//
// If the canonical name already mixes scripts it is kept. Otherwise, when
// both Hebrew and Latin non-numeric aliases exist, the longest of each is
// composed as "<latin> / <hebrew>". With only one script present the
// canonical name stands.
func ComputeDisplayName(canonicalName string, aliases []Alias) string {
	if DetectScript(canonicalName) == ScriptMixed {
		return canonicalName
	}

	var bestHebrew, bestLatin string
	for _, a := range aliases {
		if isNumericAlias(a.Alias) {
			continue
		}
		switch a.Script {
		case ScriptHebrew:
			if len(a.Alias) > len(bestHebrew) {
				bestHebrew = a.Alias
			}
		case ScriptLatin:
			if len(a.Alias) > len(bestLatin) {
				bestLatin = a.Alias
			}
		}
	}
	if bestHebrew == "" || bestLatin == "" {
		return canonicalName
	}
	return fmt.Sprintf("%s / %s", bestLatin, bestHebrew)
}

// synthesizeDisplayNameTx attempts to persist a bilingual canonical name
// inside an open transaction. The new name is only written when no other
// person already carries the exact string.
func (s *Store) synthesizeDisplayNameTx(tx *sql.Tx, personID int64) {
	var canonicalName string
	if err := tx.QueryRow("SELECT canonical_name FROM persons WHERE id = ?", personID).Scan(&canonicalName); err != nil {
		return
	}

	rows, err := tx.Query("SELECT id, alias, script, source FROM person_aliases WHERE person_id = ?", personID)
	if err != nil {
		return
	}
	var aliases []Alias
	for rows.Next() {
		var a Alias
		if err := rows.Scan(&a.ID, &a.Alias, &a.Script, &a.Source); err != nil {
			rows.Close()
			return
		}
		aliases = append(aliases, a)
	}
	rows.Close()

	display := ComputeDisplayName(canonicalName, aliases)
	if display == canonicalName {
		return
	}

	var existing int64
	err = tx.QueryRow("SELECT id FROM persons WHERE canonical_name = ? AND id != ?", display, personID).Scan(&existing)
	if err != sql.ErrNoRows {
		return // collision (or query error) - keep the current name
	}
	if _, err := tx.Exec(
		"UPDATE persons SET canonical_name = ?, last_updated = CURRENT_TIMESTAMP WHERE id = ?",
		display, personID); err == nil {
		slog.Info("Updated bilingual display name", "person_id", personID, "name", display)
	}
}

// RefreshDisplayName recomputes and persists the bilingual display name for
// one person outside any larger operation. Returns the new name, or ""
// when nothing changed.
func (s *Store) RefreshDisplayName(personID int64) (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var before string
	if err := tx.QueryRow("SELECT canonical_name FROM persons WHERE id = ?", personID).Scan(&before); err != nil {
		return "", fmt.Errorf("identity: person %d not found", personID)
	}
	s.synthesizeDisplayNameTx(tx, personID)
	var after string
	if err := tx.QueryRow("SELECT canonical_name FROM persons WHERE id = ?", personID).Scan(&after); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	s.cache.invalidate(personID)
	if after == before {
		return "", nil
	}
	return after, nil
}

// RefreshAllDisplayNames runs display-name synthesis over every person.
// Returns the number of updated names.
func (s *Store) RefreshAllDisplayNames() (int, error) {
	rows, err := s.db.Query("SELECT id FROM persons")
	if err != nil {
		return 0, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		rows.Scan(&id)
		ids = append(ids, id)
	}
	rows.Close()

	updated := 0
	for _, id := range ids {
		name, err := s.RefreshDisplayName(id)
		if err != nil {
			continue
		}
		if name != "" {
			updated++
		}
	}
	return updated, nil
}
