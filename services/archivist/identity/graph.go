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
	"fmt"
	"strings"
)

// GraphNode is one node in a graph projection. Person nodes use "person:<id>"
// ids in the full graph; asset nodes use "asset:<ref>".
type GraphNode struct {
	ID           string `json:"id"`
	Type         string `json:"type,omitempty"`
	Label        string `json:"label"`
	Phone        string `json:"phone,omitempty"`
	AssetType    string `json:"asset_type,omitempty"`
	AliasCount   int64  `json:"alias_count,omitempty"`
	FactCount    int64  `json:"fact_count,omitempty"`
	TotalAssets  int64  `json:"total_assets,omitempty"`
	AssetSummary string `json:"asset_summary,omitempty"`
}

// GraphEdge is one edge in a graph projection, tagged with a category:
// identity_identity, identity_asset or asset_asset.
type GraphEdge struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Type       string  `json:"type"`
	Category   string  `json:"edge_category"`
	Role       string  `json:"role,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Graph is a read-only projection for visualization.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// GraphData builds the person-only graph: relationship edges plus per-person
// asset-count annotations. Persons with relationships or assets sort
// first.
func (s *Store) GraphData(limit int) (*Graph, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT p.id, p.canonical_name, COALESCE(p.phone, ''),
			(SELECT COUNT(*) FROM person_aliases a WHERE a.person_id = p.id),
			(SELECT COUNT(*) FROM person_facts f WHERE f.person_id = p.id),
			COALESCE(rel_cnt.cnt, 0), COALESCE(asset_cnt.cnt, 0)
		 FROM persons p
		 LEFT JOIN (SELECT person_id, COUNT(*) cnt FROM person_relationships GROUP BY person_id) rel_cnt
			ON rel_cnt.person_id = p.id
		 LEFT JOIN (SELECT person_id, COUNT(*) cnt FROM person_assets GROUP BY person_id) asset_cnt
			ON asset_cnt.person_id = p.id
		 WHERE p.is_group = FALSE
		 ORDER BY (COALESCE(rel_cnt.cnt, 0) > 0) DESC,
			(COALESCE(asset_cnt.cnt, 0) > 0) DESC,
			p.canonical_name
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	graph := &Graph{}
	inGraph := make(map[int64]string)
	for rows.Next() {
		var id, aliasCount, factCount, relCount, assetCount int64
		var name, phone string
		if err := rows.Scan(&id, &name, &phone, &aliasCount, &factCount, &relCount, &assetCount); err != nil {
			return nil, err
		}
		inGraph[id] = name

		summary, total := s.assetSummary(id)
		graph.Nodes = append(graph.Nodes, GraphNode{
			ID:           fmt.Sprint(id),
			Label:        name,
			Phone:        phone,
			AliasCount:   aliasCount,
			FactCount:    factCount,
			TotalAssets:  total,
			AssetSummary: summary,
		})
	}

	relRows, err := s.db.Query(
		`SELECT r.person_id, r.related_person_id, r.relationship_type, r.confidence
		 FROM person_relationships r`)
	if err != nil {
		return nil, err
	}
	defer relRows.Close()
	for relRows.Next() {
		var src, dst int64
		var relType string
		var confidence float64
		if err := relRows.Scan(&src, &dst, &relType, &confidence); err != nil {
			return nil, err
		}
		if _, ok := inGraph[src]; !ok {
			continue
		}
		if _, ok := inGraph[dst]; !ok {
			continue
		}
		graph.Edges = append(graph.Edges, GraphEdge{
			Source:     inGraph[src],
			Target:     inGraph[dst],
			Type:       relType,
			Category:   "identity_identity",
			Confidence: confidence,
		})
	}
	return graph, nil
}

func (s *Store) assetSummary(personID int64) (string, int64) {
	rows, err := s.db.Query(
		`SELECT asset_type, COUNT(*) FROM person_assets WHERE person_id = ? GROUP BY asset_type ORDER BY asset_type`,
		personID)
	if err != nil {
		return "", 0
	}
	defer rows.Close()
	var parts []string
	var total int64
	for rows.Next() {
		var assetType string
		var count int64
		if err := rows.Scan(&assetType, &count); err != nil {
			return "", 0
		}
		parts = append(parts, fmt.Sprintf("%d %s", count, assetType))
		total += count
	}
	return strings.Join(parts, ", "), total
}

// assetLabel derives a short node label from the tail of an asset_ref.
func assetLabel(assetRef string) string {
	label := assetRef
	if idx := strings.LastIndex(assetRef, ":"); idx >= 0 && idx < len(assetRef)-1 {
		label = assetRef[idx+1:]
	}
	if len(label) > 30 {
		label = label[:30]
	}
	return label
}

// FullGraphData builds the full graph: person nodes, asset nodes, and all
// three edge categories.
func (s *Store) FullGraphData(limitPersons, limitAssetsPerPerson int, includeAssetEdges bool) (*Graph, error) {
	if limitPersons <= 0 {
		limitPersons = 100
	}
	if limitAssetsPerPerson <= 0 {
		limitAssetsPerPerson = 10
	}

	graph := &Graph{}
	personIDs := make([]int64, 0, limitPersons)
	assetRefs := make(map[string]bool)

	rows, err := s.db.Query(
		`SELECT p.id, p.canonical_name, COALESCE(p.phone, ''),
			(SELECT COUNT(*) FROM person_aliases a WHERE a.person_id = p.id),
			(SELECT COUNT(*) FROM person_facts f WHERE f.person_id = p.id),
			(SELECT COUNT(*) FROM person_assets pa WHERE pa.person_id = p.id)
		 FROM persons p WHERE p.is_group = FALSE
		 ORDER BY p.canonical_name LIMIT ?`, limitPersons)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id, aliasCount, factCount, totalAssets int64
		var name, phone string
		if err := rows.Scan(&id, &name, &phone, &aliasCount, &factCount, &totalAssets); err != nil {
			rows.Close()
			return nil, err
		}
		personIDs = append(personIDs, id)
		graph.Nodes = append(graph.Nodes, GraphNode{
			ID:          fmt.Sprintf("person:%d", id),
			Type:        "person",
			Label:       name,
			Phone:       phone,
			AliasCount:  aliasCount,
			FactCount:   factCount,
			TotalAssets: totalAssets,
		})
	}
	rows.Close()

	inGraph := make(map[int64]bool, len(personIDs))
	for _, id := range personIDs {
		inGraph[id] = true
	}

	// Identity↔identity edges.
	relRows, err := s.db.Query(
		`SELECT person_id, related_person_id, relationship_type, confidence FROM person_relationships`)
	if err != nil {
		return nil, err
	}
	for relRows.Next() {
		var src, dst int64
		var relType string
		var confidence float64
		if err := relRows.Scan(&src, &dst, &relType, &confidence); err != nil {
			relRows.Close()
			return nil, err
		}
		if !inGraph[src] || !inGraph[dst] {
			continue
		}
		graph.Edges = append(graph.Edges, GraphEdge{
			Source:     fmt.Sprintf("person:%d", src),
			Target:     fmt.Sprintf("person:%d", dst),
			Type:       relType,
			Category:   "identity_identity",
			Confidence: confidence,
		})
	}
	relRows.Close()

	// Asset nodes + identity↔asset edges.
	for _, pid := range personIDs {
		linkRows, err := s.db.Query(
			`SELECT asset_type, asset_ref, role, confidence
			 FROM person_assets WHERE person_id = ?
			 ORDER BY created_at DESC LIMIT ?`, pid, limitAssetsPerPerson)
		if err != nil {
			return nil, err
		}
		for linkRows.Next() {
			var assetType, assetRef, role string
			var confidence float64
			if err := linkRows.Scan(&assetType, &assetRef, &role, &confidence); err != nil {
				linkRows.Close()
				return nil, err
			}
			if !assetRefs[assetRef] {
				assetRefs[assetRef] = true
				graph.Nodes = append(graph.Nodes, GraphNode{
					ID:        "asset:" + assetRef,
					Type:      "asset",
					AssetType: assetType,
					Label:     assetLabel(assetRef),
				})
			}
			graph.Edges = append(graph.Edges, GraphEdge{
				Source:     fmt.Sprintf("person:%d", pid),
				Target:     "asset:" + assetRef,
				Type:       role,
				Category:   "identity_asset",
				Confidence: confidence,
			})
		}
		linkRows.Close()
	}

	// Asset↔asset edges among (or touching) the collected assets.
	if includeAssetEdges && len(assetRefs) > 0 {
		edgeRows, err := s.db.Query(
			`SELECT src_asset_ref, dst_asset_ref, relation_type, confidence
			 FROM asset_asset_edges LIMIT 500`)
		if err != nil {
			return nil, err
		}
		for edgeRows.Next() {
			var src, dst, relType string
			var confidence float64
			if err := edgeRows.Scan(&src, &dst, &relType, &confidence); err != nil {
				edgeRows.Close()
				return nil, err
			}
			if !assetRefs[src] && !assetRefs[dst] {
				continue
			}
			for _, ref := range []string{src, dst} {
				if !assetRefs[ref] && !strings.HasPrefix(ref, "thread:") {
					assetRefs[ref] = true
					graph.Nodes = append(graph.Nodes, GraphNode{
						ID:        "asset:" + ref,
						Type:      "asset",
						AssetType: "linked",
						Label:     assetLabel(ref),
					})
				}
			}
			graph.Edges = append(graph.Edges, GraphEdge{
				Source:     "asset:" + src,
				Target:     "asset:" + dst,
				Type:       relType,
				Category:   "asset_asset",
				Confidence: confidence,
			})
		}
		edgeRows.Close()
	}

	return graph, nil
}
