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

import "fmt"

// Asset link roles.
const (
	RoleSender      = "sender"
	RoleRecipient   = "recipient"
	RoleMentioned   = "mentioned"
	RoleParticipant = "participant"
	RoleOwner       = "owner"
)

// Asset↔asset relation types. Edges are intentionally directional.
const (
	RelThreadMember = "thread_member"
	RelAttachmentOf = "attachment_of"
	RelChunkOf      = "chunk_of"
	RelReplyTo      = "reply_to"
	RelReferences   = "references"
	RelTranscriptOf = "transcript_of"
)

// LinkPersonAsset links a person to an indexed asset by its asset_ref (the
// vector payload's source_id). Duplicate (person, ref, role) tuples are
// ignored.
func (s *Store) LinkPersonAsset(personID int64, assetType, assetRef, role string, confidence float64) (bool, error) {
	if role == "" {
		role = RoleSender
	}
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO person_assets (person_id, asset_type, asset_ref, role, confidence)
		 VALUES (?, ?, ?, ?, ?)`,
		personID, assetType, assetRef, role, confidence)
	if err != nil {
		return false, fmt.Errorf("identity: link asset: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		s.cache.invalidate(personID)
	}
	return n > 0, nil
}

// LinkPersonsToAsset links several persons to the same asset with one role.
func (s *Store) LinkPersonsToAsset(personIDs []int64, assetType, assetRef, role string, confidence float64) (int, error) {
	linked := 0
	for _, id := range personIDs {
		added, err := s.LinkPersonAsset(id, assetType, assetRef, role, confidence)
		if err != nil {
			return linked, err
		}
		if added {
			linked++
		}
	}
	return linked, nil
}

// PersonAssetRefs lists a person's asset refs, optionally filtered by type.
func (s *Store) PersonAssetRefs(personID int64, assetType string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT asset_ref FROM person_assets WHERE person_id = ?`
	args := []any{personID}
	if assetType != "" {
		query += ` AND asset_type = ?`
		args = append(args, assetType)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// AssetPersonIDs lists the persons linked to one asset with their roles.
func (s *Store) AssetPersonIDs(assetRef string) (map[int64]string, error) {
	rows, err := s.db.Query(
		"SELECT person_id, role FROM person_assets WHERE asset_ref = ?", assetRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]string)
	for rows.Next() {
		var id int64
		var role string
		if err := rows.Scan(&id, &role); err != nil {
			return nil, err
		}
		out[id] = role
	}
	return out, nil
}

// LinkAssets records a directional asset↔asset edge.
func (s *Store) LinkAssets(srcRef, dstRef, relationType string, confidence float64, provenance string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO asset_asset_edges
			(src_asset_ref, dst_asset_ref, relation_type, confidence, provenance)
		 VALUES (?, ?, ?, ?, NULLIF(?, ''))`,
		srcRef, dstRef, relationType, confidence, provenance)
	if err != nil {
		return false, fmt.Errorf("identity: link assets: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// AssetEdge is one asset↔asset edge.
type AssetEdge struct {
	SrcRef       string  `json:"src_asset_ref"`
	DstRef       string  `json:"dst_asset_ref"`
	RelationType string  `json:"relation_type"`
	Confidence   float64 `json:"confidence"`
	Provenance   string  `json:"provenance,omitempty"`
}

// LinkAssetsBatch records several edges, returning how many were new.
func (s *Store) LinkAssetsBatch(edges []AssetEdge) (int, error) {
	added := 0
	for _, e := range edges {
		ok, err := s.LinkAssets(e.SrcRef, e.DstRef, e.RelationType, e.Confidence, e.Provenance)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	return added, nil
}

// AssetNeighbors returns edges touching one asset in either direction.
func (s *Store) AssetNeighbors(assetRef string, limit int) ([]AssetEdge, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT src_asset_ref, dst_asset_ref, relation_type, confidence, COALESCE(provenance, '')
		 FROM asset_asset_edges
		 WHERE src_asset_ref = ? OR dst_asset_ref = ?
		 LIMIT ?`, assetRef, assetRef, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var edges []AssetEdge
	for rows.Next() {
		var e AssetEdge
		if err := rows.Scan(&e.SrcRef, &e.DstRef, &e.RelationType, &e.Confidence, &e.Provenance); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// AssetEdgeStats counts edges by relation type.
func (s *Store) AssetEdgeStats() (map[string]int64, error) {
	rows, err := s.db.Query(
		"SELECT relation_type, COUNT(*) FROM asset_asset_edges GROUP BY relation_type")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var relType string
		var count int64
		if err := rows.Scan(&relType, &count); err != nil {
			return nil, err
		}
		out[relType] = count
	}
	return out, nil
}
