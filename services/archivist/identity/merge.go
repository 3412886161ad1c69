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
	"sort"
	"strings"
)

// MergeResult summarizes one MergePersons call.
type MergeResult struct {
	TargetID      int64  `json:"target_id"`
	AliasesMoved  int    `json:"aliases_moved"`
	FactsMoved    int    `json:"facts_moved"`
	RelsMoved     int    `json:"relationships_moved"`
	AssetsMoved   int    `json:"assets_moved"`
	SourcesDeleted int   `json:"sources_deleted"`
	DisplayName   string `json:"display_name"`
}

// MergePersons merges source persons into the target. Per source, inside one
// transaction:
//
//  1. aliases move with INSERT OR IGNORE (plus the source's canonical name
//     as a merge alias);
//  2. facts move under the confidence rule;
//  3. forward relationships re-point with INSERT OR IGNORE; reverse
//     relationships use the delete-then-update protocol - reverse edges that
//     would collide with the target's existing (person_id, type) tuples are
//     deleted first, the rest re-point to the target;
//  4. asset links re-point with INSERT OR IGNORE;
//  5. phone/email/whatsapp_id are absorbed where the target's are NULL;
//  6. the source row is deleted (cascading its remains).
//
// After all sources merge, the bilingual display name is recomputed.
// Merging the target into itself is a no-op.
func (s *Store) MergePersons(targetID int64, sourceIDs []int64) (*MergeResult, error) {
	filtered := sourceIDs[:0]
	for _, id := range sourceIDs {
		if id != targetID {
			filtered = append(filtered, id)
		}
	}
	sourceIDs = filtered

	var exists int64
	if err := s.db.QueryRow("SELECT id FROM persons WHERE id = ?", targetID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("identity: merge target %d not found", targetID)
		}
		return nil, err
	}

	result := &MergeResult{TargetID: targetID}

	for _, sourceID := range sourceIDs {
		if err := s.mergeOne(targetID, sourceID, result); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	tx.Exec("UPDATE persons SET last_updated = CURRENT_TIMESTAMP WHERE id = ?", targetID)
	s.synthesizeDisplayNameTx(tx, targetID)
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRow("SELECT canonical_name FROM persons WHERE id = ?", targetID).Scan(&result.DisplayName); err != nil {
		return nil, err
	}
	s.cache.clear()

	slog.Info("Entity merge complete",
		"target", targetID, "sources", result.SourcesDeleted,
		"aliases", result.AliasesMoved, "facts", result.FactsMoved, "relationships", result.RelsMoved)
	return result, nil
}

func (s *Store) mergeOne(targetID, sourceID int64, result *MergeResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var sourceName string
	var sourcePhone, sourceEmail, sourceWA sql.NullString
	err = tx.QueryRow(
		"SELECT canonical_name, phone, email, whatsapp_id FROM persons WHERE id = ?",
		sourceID).Scan(&sourceName, &sourcePhone, &sourceEmail, &sourceWA)
	if err == sql.ErrNoRows {
		return nil // source already gone, nothing to merge
	}
	if err != nil {
		return err
	}

	// 1. Aliases.
	res, err := tx.Exec(
		`INSERT OR IGNORE INTO person_aliases (person_id, alias, script, source)
		 SELECT ?, alias, script, source FROM person_aliases WHERE person_id = ?`,
		targetID, sourceID)
	if err != nil {
		return fmt.Errorf("identity: merge aliases: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		result.AliasesMoved += int(n)
	}
	addAliasTx(tx, targetID, sourceName, "merge")

	// 2. Facts under the confidence rule.
	factRows, err := tx.Query(
		`SELECT fact_key, fact_value, confidence, source_type,
			COALESCE(source_ref, ''), COALESCE(source_quote, '')
		 FROM person_facts WHERE person_id = ?`, sourceID)
	if err != nil {
		return err
	}
	type factRow struct {
		key, value, sourceType, sourceRef, sourceQuote string
		confidence                                     float64
	}
	var facts []factRow
	for factRows.Next() {
		var f factRow
		if err := factRows.Scan(&f.key, &f.value, &f.confidence, &f.sourceType, &f.sourceRef, &f.sourceQuote); err != nil {
			factRows.Close()
			return err
		}
		facts = append(facts, f)
	}
	factRows.Close()
	for _, f := range facts {
		var existing float64
		err := tx.QueryRow(
			"SELECT confidence FROM person_facts WHERE person_id = ? AND fact_key = ?",
			targetID, f.key).Scan(&existing)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.Exec(
				`INSERT INTO person_facts (person_id, fact_key, fact_value, confidence, source_type, source_ref, source_quote)
				 VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''))`,
				targetID, f.key, f.value, f.confidence, f.sourceType, f.sourceRef, f.sourceQuote); err != nil {
				return err
			}
			result.FactsMoved++
		case err != nil:
			return err
		case f.confidence > existing:
			if _, err := tx.Exec(
				`UPDATE person_facts SET fact_value = ?, confidence = ?, source_type = ?,
					source_ref = NULLIF(?, ''), source_quote = NULLIF(?, ''), extracted_at = CURRENT_TIMESTAMP
				 WHERE person_id = ? AND fact_key = ?`,
				f.value, f.confidence, f.sourceType, f.sourceRef, f.sourceQuote, targetID, f.key); err != nil {
				return err
			}
			result.FactsMoved++
		}
	}

	// 3a. Forward relationships (skip self-references).
	res, err = tx.Exec(
		`INSERT OR IGNORE INTO person_relationships
			(person_id, related_person_id, relationship_type, confidence, source_ref)
		 SELECT ?, related_person_id, relationship_type, confidence, source_ref
		 FROM person_relationships WHERE person_id = ? AND related_person_id != ?`,
		targetID, sourceID, targetID)
	if err != nil {
		return fmt.Errorf("identity: merge relationships: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		result.RelsMoved += int(n)
	}

	// 3b. Reverse relationships: delete collisions first, then re-point.
	if _, err := tx.Exec(
		`DELETE FROM person_relationships
		 WHERE related_person_id = ?
		   AND person_id != ?
		   AND (person_id, relationship_type) IN (
			SELECT person_id, relationship_type
			FROM person_relationships
			WHERE related_person_id = ?
		 )`, sourceID, targetID, targetID); err != nil {
		return fmt.Errorf("identity: merge reverse delete: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE OR IGNORE person_relationships
		 SET related_person_id = ?
		 WHERE related_person_id = ? AND person_id != ?`,
		targetID, sourceID, targetID); err != nil {
		return fmt.Errorf("identity: merge reverse update: %w", err)
	}

	// 4. Asset links.
	res, err = tx.Exec(
		`INSERT OR IGNORE INTO person_assets (person_id, asset_type, asset_ref, role, confidence)
		 SELECT ?, asset_type, asset_ref, role, confidence FROM person_assets WHERE person_id = ?`,
		targetID, sourceID)
	if err != nil {
		return fmt.Errorf("identity: merge assets: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		result.AssetsMoved += int(n)
	}

	// 5. Absorb identifiers where the target's are NULL.
	if _, err := tx.Exec(
		`UPDATE persons SET
			phone = COALESCE(phone, ?),
			email = COALESCE(email, ?),
			whatsapp_id = COALESCE(whatsapp_id, ?)
		 WHERE id = ?`,
		sourcePhone, sourceEmail, sourceWA, targetID); err != nil {
		return err
	}

	// 6. Delete the source; remaining aliases/facts/relationships cascade.
	if _, err := tx.Exec("DELETE FROM persons WHERE id = ?", sourceID); err != nil {
		return fmt.Errorf("identity: delete merge source %d: %w", sourceID, err)
	}
	result.SourcesDeleted++

	return tx.Commit()
}

// =============================================================================
// Merge candidates
// =============================================================================

// MergeCandidate is one suggested duplicate group.
type MergeCandidate struct {
	Reason  string          `json:"reason"`
	Persons []PersonSummary `json:"persons"`
}

// FindMergeCandidates suggests duplicate persons, in priority order: same
// phone, same WhatsApp id, same email (column or fact), shared multi-token
// alias, shared full-name alias across scripts. Groups deduplicate by id
// set. Single-token alias matches are intentionally excluded - first names
// alone produce too many false positives.
func (s *Store) FindMergeCandidates(limit int) ([]MergeCandidate, error) {
	if limit <= 0 {
		limit = 50
	}
	var candidates []MergeCandidate
	seen := make(map[string]bool)

	add := func(reason string, ids []int64) error {
		if len(ids) < 2 || len(candidates) >= limit {
			return nil
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		key := fmt.Sprint(ids)
		if seen[key] {
			return nil
		}
		seen[key] = true
		persons, err := s.miniPersons(ids)
		if err != nil {
			return err
		}
		if len(persons) >= 2 {
			candidates = append(candidates, MergeCandidate{Reason: reason, Persons: persons})
		}
		return nil
	}

	groupQueries := []struct {
		reason string
		query  string
	}{
		{"same phone", `SELECT phone, GROUP_CONCAT(id) FROM persons
			WHERE phone IS NOT NULL AND phone != ''
			GROUP BY phone HAVING COUNT(*) > 1 LIMIT ?`},
		{"same whatsapp id", `SELECT whatsapp_id, GROUP_CONCAT(id) FROM persons
			WHERE whatsapp_id IS NOT NULL AND whatsapp_id != ''
			GROUP BY whatsapp_id HAVING COUNT(*) > 1 LIMIT ?`},
		{"same email", `SELECT email, GROUP_CONCAT(id) FROM persons
			WHERE email IS NOT NULL AND email != ''
			GROUP BY LOWER(email) HAVING COUNT(*) > 1 LIMIT ?`},
		{"same email (fact)", `SELECT fact_value, GROUP_CONCAT(person_id) FROM person_facts
			WHERE fact_key = 'email'
			GROUP BY LOWER(fact_value) HAVING COUNT(*) > 1 LIMIT ?`},
		{"same alias", `SELECT alias, GROUP_CONCAT(DISTINCT person_id) FROM person_aliases
			WHERE script != 'numeric' AND alias LIKE '% %'
			GROUP BY alias COLLATE NOCASE HAVING COUNT(DISTINCT person_id) > 1 LIMIT ?`},
	}

	for _, gq := range groupQueries {
		rows, err := s.db.Query(gq.query, limit)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var value, idsCSV string
			if err := rows.Scan(&value, &idsCSV); err != nil {
				rows.Close()
				return nil, err
			}
			if err := add(fmt.Sprintf("%s: %s", gq.reason, value), parseIDList(idsCSV)); err != nil {
				rows.Close()
				return nil, err
			}
		}
		rows.Close()
	}

	// Shared full-name alias across persons: case-insensitive for Latin,
	// exact for Hebrew, at least two whitespace-separated tokens.
	if len(candidates) < limit {
		rows, err := s.db.Query(
			"SELECT person_id, alias, script FROM person_aliases WHERE script IN ('hebrew', 'latin')")
		if err != nil {
			return nil, err
		}
		aliasPersons := make(map[string]map[int64]bool)
		aliasDisplay := make(map[string]string)
		for rows.Next() {
			var pid int64
			var alias string
			var script Script
			if err := rows.Scan(&pid, &alias, &script); err != nil {
				rows.Close()
				return nil, err
			}
			alias = strings.TrimSpace(alias)
			if !strings.Contains(alias, " ") || len(alias) < 3 {
				continue
			}
			key := alias
			if script == ScriptLatin {
				key = strings.ToLower(alias)
			}
			if aliasPersons[key] == nil {
				aliasPersons[key] = make(map[int64]bool)
				aliasDisplay[key] = alias
			}
			aliasPersons[key][pid] = true
		}
		rows.Close()

		keys := make([]string, 0, len(aliasPersons))
		for key := range aliasPersons {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			pids := aliasPersons[key]
			if len(pids) < 2 {
				continue
			}
			ids := make([]int64, 0, len(pids))
			for id := range pids {
				ids = append(ids, id)
			}
			if err := add(fmt.Sprintf("same full name: %q", aliasDisplay[key]), ids); err != nil {
				return nil, err
			}
		}
	}

	return candidates, nil
}

func parseIDList(csv string) []int64 {
	var ids []int64
	for _, part := range strings.Split(csv, ",") {
		var id int64
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "%d", &id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Store) miniPersons(ids []int64) ([]PersonSummary, error) {
	var out []PersonSummary
	for _, id := range ids {
		var p PersonSummary
		err := s.db.QueryRow(
			`SELECT p.id, p.canonical_name, COALESCE(p.phone, ''), COALESCE(p.whatsapp_id, ''), p.last_seen,
				(SELECT COUNT(*) FROM person_aliases a WHERE a.person_id = p.id),
				(SELECT COUNT(*) FROM person_facts f WHERE f.person_id = p.id)
			 FROM persons p WHERE p.id = ?`, id).Scan(
			&p.ID, &p.CanonicalName, &p.Phone, &p.WhatsappID, &p.LastSeen, &p.AliasCount, &p.FactCount)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
