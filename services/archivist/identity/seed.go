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
	"log/slog"
	"strings"
)

// Contact is one contact record from a chat platform's address book.
type Contact struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Pushname   string `json:"pushname"`
	Number     string `json:"number"`
	IsBusiness bool   `json:"isBusiness"`
	IsMyContact bool  `json:"isMyContact"`
}

// SeedResult counts the outcome of one seeding run.
type SeedResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// SeedFromContacts bulk-upserts contacts through the identifier cascade.
// System/status contacts (broadcast, newsletter) are skipped, as are
// invalid names. Linked-id digits are never stored as phone numbers.
// Pushnames become aliases; real phone numbers become numeric aliases;
// business accounts get an is_business fact.
func (s *Store) SeedFromContacts(contacts []Contact) (*SeedResult, error) {
	result := &SeedResult{}

	for _, contact := range contacts {
		name := contact.Name
		if name == "" {
			name = contact.Pushname
		}
		if name == "" || !IsValidPersonName(name) {
			result.Skipped++
			continue
		}
		if strings.HasSuffix(contact.ID, "@broadcast") ||
			strings.HasSuffix(contact.ID, "@newsletter") ||
			contact.ID == "status@broadcast" {
			result.Skipped++
			continue
		}

		phone := contact.Number
		if lidPhoneImpostor(contact.ID, phone) {
			slog.Debug("Skipping linked-id number as phone", "name", name)
			phone = ""
		}

		var existing int64
		err := s.db.QueryRow("SELECT id FROM persons WHERE canonical_name = ?", name).Scan(&existing)
		if err == nil {
			result.Updated++
		} else {
			result.Created++
		}

		personID, err := s.GetOrCreatePerson(name, contact.ID, phone, "", false)
		if err != nil {
			slog.Error("Failed to seed contact", "name", name, "error", err)
			result.Skipped++
			continue
		}

		if contact.Pushname != "" && contact.Pushname != name {
			s.AddAlias(personID, contact.Pushname, "", "whatsapp_pushname")
		}
		if phone != "" {
			s.AddAlias(personID, phone, ScriptNumeric, "whatsapp_contact")
		}
		if contact.IsBusiness {
			s.SetFact(personID, "is_business", "true", 1.0, "whatsapp", "", "")
		}
	}

	slog.Info("Entity seeding complete",
		"created", result.Created, "updated", result.Updated, "skipped", result.Skipped)
	return result, nil
}

// CleanupResult reports what CleanupGarbagePersons removed.
type CleanupResult struct {
	Deleted int      `json:"deleted"`
	Names   []string `json:"names"`
}

// CleanupGarbagePersons deletes persons whose canonical name fails the
// name-validity predicate. Deletions cascade to aliases, facts,
// relationships and asset links.
func (s *Store) CleanupGarbagePersons() (*CleanupResult, error) {
	rows, err := s.db.Query("SELECT id, canonical_name FROM persons")
	if err != nil {
		return nil, err
	}
	var garbageIDs []int64
	result := &CleanupResult{}
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return nil, err
		}
		if !IsValidPersonName(name) {
			garbageIDs = append(garbageIDs, id)
			result.Names = append(result.Names, name)
		}
	}
	rows.Close()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	for _, id := range garbageIDs {
		if _, err := tx.Exec("DELETE FROM persons WHERE id = ?", id); err != nil {
			return nil, err
		}
		result.Deleted++
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.cache.clear()

	slog.Info("Entity cleanup complete", "deleted", result.Deleted)
	return result, nil
}

// Stats reports table sizes for the health/insights views.
func (s *Store) Stats() (map[string]int64, error) {
	stats := make(map[string]int64)
	for table, key := range map[string]string{
		"persons":              "persons",
		"person_aliases":       "aliases",
		"person_facts":         "facts",
		"person_relationships": "relationships",
		"person_assets":        "asset_links",
		"asset_asset_edges":    "asset_edges",
	} {
		var count int64
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			return nil, err
		}
		stats[key] = count
	}
	return stats, nil
}
