// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package identity is the persistent person-entity graph: persons, aliases,
// facts, relationships, person↔asset links and asset↔asset edges, stored in
// SQLite with WAL journaling and foreign-key enforcement.
//
// # Description
//
// The store deduplicates persons by identifier cascade (phone → email →
// canonical name), synthesizes bilingual display names when a person
// carries both Hebrew and Latin aliases, and supports merge semantics with
// a delete-then-update protocol for reverse-relationship conflicts.
//
// # Thread Safety
//
// Store is safe for concurrent use: SQLite serializes writers, reads run
// under WAL, and all mutations are wrapped in transactions. A small
// per-identity LRU caches GetPerson reads and is invalidated explicitly on
// every mutation.
package identity

import (
	"container/list"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite-backed identity store.
type Store struct {
	db    *sql.DB
	cache *personCache
}

// Open opens (or creates) the store at path and runs the idempotent schema
// setup plus additive migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("identity: open %s: %w", path, err)
	}
	s := &Store{db: db, cache: newPersonCache(256)}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for read-only projections (graph views).
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) init() error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS persons (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			canonical_name TEXT NOT NULL,
			whatsapp_id TEXT,
			phone TEXT,
			email TEXT,
			is_group BOOLEAN DEFAULT FALSE,
			confidence REAL DEFAULT 0.5,
			first_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_updated TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(canonical_name)
		)`,
		`CREATE TABLE IF NOT EXISTS person_aliases (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			person_id INTEGER NOT NULL,
			alias TEXT NOT NULL,
			script TEXT DEFAULT 'unknown',
			source TEXT DEFAULT 'auto',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (person_id) REFERENCES persons(id) ON DELETE CASCADE,
			UNIQUE(person_id, alias)
		)`,
		`CREATE TABLE IF NOT EXISTS person_facts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			person_id INTEGER NOT NULL,
			fact_key TEXT NOT NULL,
			fact_value TEXT NOT NULL,
			confidence REAL DEFAULT 0.5,
			source_type TEXT DEFAULT 'extracted',
			source_ref TEXT,
			source_quote TEXT,
			extracted_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (person_id) REFERENCES persons(id) ON DELETE CASCADE,
			UNIQUE(person_id, fact_key)
		)`,
		`CREATE TABLE IF NOT EXISTS person_relationships (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			person_id INTEGER NOT NULL,
			related_person_id INTEGER NOT NULL,
			relationship_type TEXT NOT NULL,
			confidence REAL DEFAULT 0.5,
			source_ref TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (person_id) REFERENCES persons(id) ON DELETE CASCADE,
			FOREIGN KEY (related_person_id) REFERENCES persons(id) ON DELETE CASCADE,
			UNIQUE(person_id, related_person_id, relationship_type)
		)`,
		`CREATE TABLE IF NOT EXISTS person_assets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			person_id INTEGER NOT NULL,
			asset_type TEXT NOT NULL,
			asset_ref TEXT NOT NULL,
			role TEXT DEFAULT 'sender',
			confidence REAL DEFAULT 1.0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (person_id) REFERENCES persons(id) ON DELETE CASCADE,
			UNIQUE(person_id, asset_ref, role)
		)`,
		`CREATE TABLE IF NOT EXISTS asset_asset_edges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			src_asset_ref TEXT NOT NULL,
			dst_asset_ref TEXT NOT NULL,
			relation_type TEXT NOT NULL,
			confidence REAL DEFAULT 1.0,
			provenance TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(src_asset_ref, dst_asset_ref, relation_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_persons_whatsapp ON persons(whatsapp_id)`,
		`CREATE INDEX IF NOT EXISTS idx_persons_name ON persons(canonical_name)`,
		`CREATE INDEX IF NOT EXISTS idx_persons_phone ON persons(phone)`,
		`CREATE INDEX IF NOT EXISTS idx_persons_email ON persons(email)`,
		`CREATE INDEX IF NOT EXISTS idx_aliases_alias ON person_aliases(alias COLLATE NOCASE)`,
		`CREATE INDEX IF NOT EXISTS idx_aliases_person ON person_aliases(person_id)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_person ON person_facts(person_id)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_key ON person_facts(fact_key)`,
		`CREATE INDEX IF NOT EXISTS idx_person_assets_person ON person_assets(person_id)`,
		`CREATE INDEX IF NOT EXISTS idx_person_assets_ref ON person_assets(asset_ref)`,
		`CREATE INDEX IF NOT EXISTS idx_person_assets_type ON person_assets(asset_type)`,
		`CREATE INDEX IF NOT EXISTS idx_aae_src ON asset_asset_edges(src_asset_ref)`,
		`CREATE INDEX IF NOT EXISTS idx_aae_dst ON asset_asset_edges(dst_asset_ref)`,
		`CREATE INDEX IF NOT EXISTS idx_aae_type ON asset_asset_edges(relation_type)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("identity: schema: %w", err)
		}
	}

	// Additive migrations for databases created before these columns existed.
	s.migrateAddColumn("persons", "email", "TEXT")
	s.migrateAddColumn("person_facts", "source_quote", "TEXT")
	slog.Info("Identity database tables initialized")
	return nil
}

// migrateAddColumn adds a column if absent. Failures are logged and
// tolerated: the column either exists already or the next write will fail
// loudly.
func (s *Store) migrateAddColumn(table, column, definition string) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return
		}
		if name == column {
			return
		}
	}
	if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)); err == nil {
		slog.Info("Migration: added column", "table", table, "column", column)
	}
}

// =============================================================================
// Per-identity LRU
// =============================================================================

// personCache is a small LRU over GetPerson results, invalidated explicitly
// on every mutation touching the person.
type personCache struct {
	mu      sync.Mutex
	max     int
	entries map[int64]*list.Element
	order   *list.List
}

type cacheEntry struct {
	id     int64
	person *PersonDetail
}

func newPersonCache(max int) *personCache {
	return &personCache{
		max:     max,
		entries: make(map[int64]*list.Element),
		order:   list.New(),
	}
}

func (c *personCache) get(id int64) (*PersonDetail, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).person, true
}

func (c *personCache) put(id int64, person *PersonDetail) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[id]; ok {
		el.Value.(*cacheEntry).person = person
		c.order.MoveToFront(el)
		return
	}
	c.entries[id] = c.order.PushFront(&cacheEntry{id: id, person: person})
	if c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).id)
	}
}

func (c *personCache) invalidate(ids ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if el, ok := c.entries[id]; ok {
			c.order.Remove(el)
			delete(c.entries, id)
		}
	}
}

func (c *personCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[int64]*list.Element)
	c.order.Init()
}
