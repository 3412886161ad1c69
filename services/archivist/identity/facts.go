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
)

// SetFact upserts a fact under the confidence rule: an existing fact is only
// overwritten when the new confidence is greater than or equal to the stored
// one. Stored confidence never decreases.
func (s *Store) SetFact(personID int64, key, value string, confidence float64, sourceType, sourceRef, sourceQuote string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existing float64
	err = tx.QueryRow(
		"SELECT confidence FROM person_facts WHERE person_id = ? AND fact_key = ?",
		personID, key).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(
			`INSERT INTO person_facts (person_id, fact_key, fact_value, confidence, source_type, source_ref, source_quote)
			 VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''))`,
			personID, key, value, confidence, sourceType, sourceRef, sourceQuote)
		if err != nil {
			return fmt.Errorf("identity: insert fact: %w", err)
		}
	case err != nil:
		return fmt.Errorf("identity: fact lookup: %w", err)
	case confidence >= existing:
		_, err = tx.Exec(
			`UPDATE person_facts SET fact_value = ?, confidence = ?, source_type = ?,
				source_ref = NULLIF(?, ''), source_quote = NULLIF(?, ''), extracted_at = CURRENT_TIMESTAMP
			 WHERE person_id = ? AND fact_key = ?`,
			value, confidence, sourceType, sourceRef, sourceQuote, personID, key)
		if err != nil {
			return fmt.Errorf("identity: update fact: %w", err)
		}
	default:
		// Lower confidence never overwrites.
		return nil
	}

	if _, err := tx.Exec("UPDATE persons SET last_updated = CURRENT_TIMESTAMP WHERE id = ?", personID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.cache.invalidate(personID)
	return nil
}

// GetFact returns one fact value, or "" when absent.
func (s *Store) GetFact(personID int64, key string) (string, error) {
	var value string
	err := s.db.QueryRow(
		"SELECT fact_value FROM person_facts WHERE person_id = ? AND fact_key = ?",
		personID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// DeleteFact removes one fact by key.
func (s *Store) DeleteFact(personID int64, key string) (bool, error) {
	result, err := s.db.Exec(
		"DELETE FROM person_facts WHERE person_id = ? AND fact_key = ?", personID, key)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		s.db.Exec("UPDATE persons SET last_updated = CURRENT_TIMESTAMP WHERE id = ?", personID)
		s.cache.invalidate(personID)
	}
	return n > 0, nil
}

// AddAlias records an alias. Script is auto-detected when empty. Returns
// false when the alias already existed.
func (s *Store) AddAlias(personID int64, alias string, script Script, source string) (bool, error) {
	if script == "" {
		script = DetectScript(alias)
	}
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO person_aliases (person_id, alias, script, source) VALUES (?, ?, ?, ?)`,
		personID, alias, string(script), source)
	if err != nil {
		return false, fmt.Errorf("identity: add alias: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		s.cache.invalidate(personID)
	}
	return n > 0, nil
}

// DeleteAlias removes one alias by row id.
func (s *Store) DeleteAlias(aliasID int64) (bool, error) {
	var personID int64
	if err := s.db.QueryRow("SELECT person_id FROM person_aliases WHERE id = ?", aliasID).Scan(&personID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	result, err := s.db.Exec("DELETE FROM person_aliases WHERE id = ?", aliasID)
	if err != nil {
		return false, err
	}
	s.cache.invalidate(personID)
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// AddRelationship records a typed edge between two persons. Duplicate
// (person, related, type) tuples are ignored.
func (s *Store) AddRelationship(personID, relatedID int64, relType string, confidence float64, sourceRef string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO person_relationships
			(person_id, related_person_id, relationship_type, confidence, source_ref)
		 VALUES (?, ?, ?, ?, NULLIF(?, ''))`,
		personID, relatedID, relType, confidence, sourceRef)
	if err != nil {
		return false, fmt.Errorf("identity: add relationship: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		s.cache.invalidate(personID, relatedID)
	}
	return n > 0, nil
}

// ExpandPersonIDs walks relationships in both directions up to depth hops
// and returns the de-duplicated id set including the originals. Used to
// widen "who is involved" retrieval scoping to related persons.
func (s *Store) ExpandPersonIDs(personIDs []int64, depth int) ([]int64, error) {
	if len(personIDs) == 0 || depth < 1 {
		return personIDs, nil
	}

	expanded := make(map[int64]bool, len(personIDs))
	frontier := make([]int64, 0, len(personIDs))
	for _, id := range personIDs {
		expanded[id] = true
		frontier = append(frontier, id)
	}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []int64
		for _, id := range frontier {
			rows, err := s.db.Query(
				`SELECT related_person_id FROM person_relationships WHERE person_id = ?
				 UNION
				 SELECT person_id FROM person_relationships WHERE related_person_id = ?`, id, id)
			if err != nil {
				return nil, err
			}
			for rows.Next() {
				var related int64
				if err := rows.Scan(&related); err != nil {
					rows.Close()
					return nil, err
				}
				if !expanded[related] {
					expanded[related] = true
					next = append(next, related)
				}
			}
			rows.Close()
		}
		frontier = next
	}

	out := make([]int64, 0, len(expanded))
	for id := range expanded {
		out = append(out, id)
	}
	return out, nil
}
