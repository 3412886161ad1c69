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
	"strings"
)

// Person is the core person row.
type Person struct {
	ID            int64  `json:"id"`
	CanonicalName string `json:"canonical_name"`
	WhatsappID    string `json:"whatsapp_id,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Email         string `json:"email,omitempty"`
	IsGroup       bool   `json:"is_group"`
	Confidence    float64 `json:"confidence"`
	FirstSeen     string `json:"first_seen"`
	LastSeen      string `json:"last_seen"`
	LastUpdated   string `json:"last_updated"`
}

// Alias is one name alias with its detected script.
type Alias struct {
	ID     int64  `json:"id"`
	Alias  string `json:"alias"`
	Script Script `json:"script"`
	Source string `json:"source"`
}

// Fact is one extracted fact with provenance.
type Fact struct {
	Key         string  `json:"key"`
	Value       string  `json:"value"`
	Confidence  float64 `json:"confidence"`
	SourceType  string  `json:"source_type"`
	SourceRef   string  `json:"source_ref,omitempty"`
	SourceQuote string  `json:"source_quote,omitempty"`
	ExtractedAt string  `json:"extracted_at"`
}

// Relationship is one typed edge to another person.
type Relationship struct {
	RelatedID   int64   `json:"related_id"`
	RelatedName string  `json:"related_name"`
	Type        string  `json:"type"`
	Confidence  float64 `json:"confidence"`
	SourceRef   string  `json:"source_ref,omitempty"`
}

// PersonDetail is the full person view returned by GetPerson.
type PersonDetail struct {
	Person
	DisplayName   string            `json:"display_name"`
	Aliases       []Alias           `json:"aliases"`
	Facts         map[string]string `json:"facts"`
	FactsDetail   []Fact            `json:"facts_detail"`
	Relationships []Relationship    `json:"relationships"`
	AssetCounts   map[string]int64  `json:"asset_counts"`
}

// GetOrCreatePerson resolves or creates a person by identifier cascade:
// phone (normalized), then email (lowercased), then exact canonical name.
//
// On match, NULL identifier columns are filled from the arguments, last_seen
// is touched, the incoming name is added as an alias when it differs, and a
// bilingual display name is attempted. On miss, the person is inserted with
// auto-created aliases (full name + first token).
//
// A phone equal to the digits of an @lid whatsapp id is discarded - linked
// ids are not phone numbers.
func (s *Store) GetOrCreatePerson(canonicalName, whatsappID, phone, email string, isGroup bool) (int64, error) {
	if lidPhoneImpostor(whatsappID, phone) {
		phone = ""
	}

	var personID int64 = -1

	if phone != "" && !isGroup {
		if id, err := s.FindPersonByPhone(phone); err == nil && id > 0 {
			personID = id
		}
	}
	if personID < 0 && email != "" && !isGroup {
		if id, err := s.FindPersonByEmail(email); err == nil && id > 0 {
			personID = id
		}
	}
	if personID < 0 {
		var id int64
		err := s.db.QueryRow("SELECT id FROM persons WHERE canonical_name = ?", canonicalName).Scan(&id)
		if err == nil {
			personID = id
		} else if err != sql.ErrNoRows {
			return 0, fmt.Errorf("identity: name lookup: %w", err)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if personID >= 0 {
		_, err = tx.Exec(`UPDATE persons SET
			whatsapp_id = COALESCE(whatsapp_id, NULLIF(?, '')),
			phone = COALESCE(phone, NULLIF(?, '')),
			email = COALESCE(email, NULLIF(?, '')),
			last_seen = CURRENT_TIMESTAMP
			WHERE id = ?`, whatsappID, phone, email, personID)
		if err != nil {
			return 0, fmt.Errorf("identity: update person: %w", err)
		}

		var existingName string
		if err := tx.QueryRow("SELECT canonical_name FROM persons WHERE id = ?", personID).Scan(&existingName); err == nil &&
			existingName != canonicalName {
			addAliasTx(tx, personID, canonicalName, "auto")
		}
		s.synthesizeDisplayNameTx(tx, personID)
	} else {
		result, err := tx.Exec(
			`INSERT INTO persons (canonical_name, whatsapp_id, phone, email, is_group)
			 VALUES (?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?)`,
			canonicalName, whatsappID, phone, email, isGroup)
		if err != nil {
			return 0, fmt.Errorf("identity: insert person: %w", err)
		}
		personID, _ = result.LastInsertId()
		autoCreateAliasesTx(tx, personID, canonicalName)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	s.cache.invalidate(personID)
	return personID, nil
}

// addAliasTx inserts an alias inside a transaction, ignoring duplicates.
func addAliasTx(tx *sql.Tx, personID int64, alias, source string) {
	tx.Exec(`INSERT OR IGNORE INTO person_aliases (person_id, alias, script, source)
		VALUES (?, ?, ?, ?)`, personID, alias, string(DetectScript(alias)), source)
}

// autoCreateAliasesTx creates the full-name and first-token aliases.
func autoCreateAliasesTx(tx *sql.Tx, personID int64, canonicalName string) {
	name := strings.TrimSpace(canonicalName)
	if name == "" {
		return
	}
	addAliasTx(tx, personID, name, "auto")
	if parts := strings.Fields(name); len(parts) > 0 && parts[0] != name {
		addAliasTx(tx, personID, parts[0], "auto")
	}
}

// FindPersonByPhone scans persons.phone with normalized comparison, falling
// back to numeric-script aliases. Returns 0 when not found.
func (s *Store) FindPersonByPhone(phone string) (int64, error) {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return 0, nil
	}

	rows, err := s.db.Query("SELECT id, phone FROM persons WHERE phone IS NOT NULL")
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var stored string
		if err := rows.Scan(&id, &stored); err != nil {
			return 0, err
		}
		if NormalizePhone(stored) == normalized {
			return id, nil
		}
	}

	aliasRows, err := s.db.Query("SELECT person_id, alias FROM person_aliases WHERE script = 'numeric'")
	if err != nil {
		return 0, err
	}
	defer aliasRows.Close()
	for aliasRows.Next() {
		var id int64
		var alias string
		if err := aliasRows.Scan(&id, &alias); err != nil {
			return 0, err
		}
		if NormalizePhone(alias) == normalized {
			return id, nil
		}
	}
	return 0, nil
}

// FindPersonByEmail matches case-insensitively against both persons.email
// and the 'email' fact. Returns 0 when not found.
func (s *Store) FindPersonByEmail(email string) (int64, error) {
	lowered := strings.ToLower(strings.TrimSpace(email))
	if lowered == "" {
		return 0, nil
	}
	var id int64
	err := s.db.QueryRow("SELECT id FROM persons WHERE LOWER(email) = ?", lowered).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	err = s.db.QueryRow(
		"SELECT person_id FROM person_facts WHERE fact_key = 'email' AND LOWER(fact_value) = ?",
		lowered).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetPerson returns the full person view, served from the per-identity LRU
// when possible.
func (s *Store) GetPerson(personID int64) (*PersonDetail, error) {
	if cached, ok := s.cache.get(personID); ok {
		return cached, nil
	}

	var p PersonDetail
	var whatsappID, phone, email sql.NullString
	err := s.db.QueryRow(
		`SELECT id, canonical_name, whatsapp_id, phone, email, is_group, confidence,
			first_seen, last_seen, last_updated
		 FROM persons WHERE id = ?`, personID).Scan(
		&p.ID, &p.CanonicalName, &whatsappID, &phone, &email, &p.IsGroup,
		&p.Confidence, &p.FirstSeen, &p.LastSeen, &p.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity: get person %d: %w", personID, err)
	}
	p.WhatsappID = whatsappID.String
	p.Phone = phone.String
	p.Email = email.String

	aliasRows, err := s.db.Query(
		"SELECT id, alias, script, source FROM person_aliases WHERE person_id = ?", personID)
	if err != nil {
		return nil, err
	}
	defer aliasRows.Close()
	for aliasRows.Next() {
		var a Alias
		if err := aliasRows.Scan(&a.ID, &a.Alias, &a.Script, &a.Source); err != nil {
			return nil, err
		}
		p.Aliases = append(p.Aliases, a)
	}

	p.DisplayName = ComputeDisplayName(p.CanonicalName, p.Aliases)

	factRows, err := s.db.Query(
		`SELECT fact_key, fact_value, confidence, source_type,
			COALESCE(source_ref, ''), COALESCE(source_quote, ''), extracted_at
		 FROM person_facts WHERE person_id = ?`, personID)
	if err != nil {
		return nil, err
	}
	defer factRows.Close()
	p.Facts = make(map[string]string)
	for factRows.Next() {
		var f Fact
		if err := factRows.Scan(&f.Key, &f.Value, &f.Confidence, &f.SourceType, &f.SourceRef, &f.SourceQuote, &f.ExtractedAt); err != nil {
			return nil, err
		}
		p.Facts[f.Key] = f.Value
		p.FactsDetail = append(p.FactsDetail, f)
	}

	relRows, err := s.db.Query(
		`SELECT r.related_person_id, p2.canonical_name, r.relationship_type,
			r.confidence, COALESCE(r.source_ref, '')
		 FROM person_relationships r
		 JOIN persons p2 ON p2.id = r.related_person_id
		 WHERE r.person_id = ?`, personID)
	if err != nil {
		return nil, err
	}
	defer relRows.Close()
	for relRows.Next() {
		var r Relationship
		if err := relRows.Scan(&r.RelatedID, &r.RelatedName, &r.Type, &r.Confidence, &r.SourceRef); err != nil {
			return nil, err
		}
		p.Relationships = append(p.Relationships, r)
	}

	assetRows, err := s.db.Query(
		`SELECT asset_type, COUNT(*) FROM person_assets WHERE person_id = ? GROUP BY asset_type`,
		personID)
	if err != nil {
		return nil, err
	}
	defer assetRows.Close()
	p.AssetCounts = make(map[string]int64)
	for assetRows.Next() {
		var assetType string
		var count int64
		if err := assetRows.Scan(&assetType, &count); err != nil {
			return nil, err
		}
		p.AssetCounts[assetType] = count
	}

	s.cache.put(personID, &p)
	return &p, nil
}

// RenamePerson changes the canonical name. The display name recomputes on
// next read.
func (s *Store) RenamePerson(personID int64, newName string) error {
	result, err := s.db.Exec(
		"UPDATE persons SET canonical_name = ?, last_updated = CURRENT_TIMESTAMP WHERE id = ?",
		newName, personID)
	if err != nil {
		return fmt.Errorf("identity: rename person %d: %w", personID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("identity: person %d not found", personID)
	}
	s.cache.invalidate(personID)
	return nil
}

// DeletePerson removes a person; aliases, facts, relationships and asset
// links cascade.
func (s *Store) DeletePerson(personID int64) (bool, error) {
	result, err := s.db.Exec("DELETE FROM persons WHERE id = ?", personID)
	if err != nil {
		return false, err
	}
	s.cache.invalidate(personID)
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// ResolveName returns all persons whose canonical name contains name or
// with an exact alias match, case-insensitively.
func (s *Store) ResolveName(name string) ([]*PersonDetail, error) {
	ids := make(map[int64]bool)

	rows, err := s.db.Query(
		"SELECT id FROM persons WHERE canonical_name LIKE ? COLLATE NOCASE", "%"+name+"%")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id int64
		rows.Scan(&id)
		ids[id] = true
	}
	rows.Close()

	aliasRows, err := s.db.Query(
		"SELECT person_id FROM person_aliases WHERE alias = ? COLLATE NOCASE", name)
	if err != nil {
		return nil, err
	}
	for aliasRows.Next() {
		var id int64
		aliasRows.Scan(&id)
		ids[id] = true
	}
	aliasRows.Close()

	var persons []*PersonDetail
	for id := range ids {
		p, err := s.GetPerson(id)
		if err != nil {
			return nil, err
		}
		if p != nil {
			persons = append(persons, p)
		}
	}
	return persons, nil
}

// PersonSummary is the list-view projection.
type PersonSummary struct {
	ID            int64  `json:"id"`
	CanonicalName string `json:"canonical_name"`
	Phone         string `json:"phone,omitempty"`
	WhatsappID    string `json:"whatsapp_id,omitempty"`
	LastSeen      string `json:"last_seen"`
	AliasCount    int64  `json:"alias_count"`
	FactCount     int64  `json:"fact_count"`
}

// SearchPersons matches name/alias substrings for autocomplete and list
// views.
func (s *Store) SearchPersons(query string, limit int) ([]PersonSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + query + "%"
	rows, err := s.db.Query(
		`SELECT DISTINCT p.id, p.canonical_name, COALESCE(p.phone, ''), COALESCE(p.whatsapp_id, ''), p.last_seen,
			(SELECT COUNT(*) FROM person_aliases a WHERE a.person_id = p.id),
			(SELECT COUNT(*) FROM person_facts f WHERE f.person_id = p.id)
		 FROM persons p
		 LEFT JOIN person_aliases a ON a.person_id = p.id
		 WHERE p.canonical_name LIKE ? COLLATE NOCASE OR a.alias LIKE ? COLLATE NOCASE
		 ORDER BY p.canonical_name LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PersonSummary
	for rows.Next() {
		var p PersonSummary
		if err := rows.Scan(&p.ID, &p.CanonicalName, &p.Phone, &p.WhatsappID, &p.LastSeen, &p.AliasCount, &p.FactCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ListPersons returns summaries of all persons ordered by name.
func (s *Store) ListPersons(limit int) ([]PersonSummary, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Query(
		`SELECT p.id, p.canonical_name, COALESCE(p.phone, ''), COALESCE(p.whatsapp_id, ''), p.last_seen,
			(SELECT COUNT(*) FROM person_aliases a WHERE a.person_id = p.id),
			(SELECT COUNT(*) FROM person_facts f WHERE f.person_id = p.id)
		 FROM persons p ORDER BY p.canonical_name LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PersonSummary
	for rows.Next() {
		var p PersonSummary
		if err := rows.Scan(&p.ID, &p.CanonicalName, &p.Phone, &p.WhatsappID, &p.LastSeen, &p.AliasCount, &p.FactCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
