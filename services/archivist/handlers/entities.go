// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRecall/services/archivist/identity"
)

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// ListEntities returns person summaries, optionally filtered by ?q=.
func ListEntities(store *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := c.Query("q")
		var (
			persons []identity.PersonSummary
			err     error
		)
		if query != "" {
			persons, err = store.SearchPersons(query, 50)
		} else {
			persons, err = store.ListPersons(0)
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list persons"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"persons": persons})
	}
}

// GetEntity returns the full person view.
func GetEntity(store *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		person, err := store.GetPerson(id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load person"})
			return
		}
		if person == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
			return
		}
		c.JSON(http.StatusOK, person)
	}
}

// ResolveEntity lists candidate persons for a name.
func ResolveEntity(store *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Query("name")
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		persons, err := store.ResolveName(name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "resolve failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"persons": persons})
	}
}

// RenameEntity changes a person's canonical name.
func RenameEntity(store *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		var body struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.BindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		if err := store.RenamePerson(id, body.Name); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"renamed": true})
	}
}

// DeleteEntity removes a person.
func DeleteEntity(store *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		deleted, err := store.DeletePerson(id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	}
}

// MergeEntities merges source persons into a target.
func MergeEntities(store *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			TargetID  int64   `json:"target_id" binding:"required"`
			SourceIDs []int64 `json:"source_ids" binding:"required"`
		}
		if err := c.BindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "target_id and source_ids are required"})
			return
		}
		result, err := store.MergePersons(body.TargetID, body.SourceIDs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// AddEntityAlias adds an alias.
func AddEntityAlias(store *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		var body struct {
			Alias  string `json:"alias" binding:"required"`
			Source string `json:"source"`
		}
		if err := c.BindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "alias is required"})
			return
		}
		if body.Source == "" {
			body.Source = "manual"
		}
		added, err := store.AddAlias(id, body.Alias, "", body.Source)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"added": added})
	}
}

// DeleteEntityAlias removes an alias by row id.
func DeleteEntityAlias(store *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		aliasID, ok := paramID(c, "aliasId")
		if !ok {
			return
		}
		deleted, err := store.DeleteAlias(aliasID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	}
}

// SetEntityFact upserts a fact under the confidence rule.
func SetEntityFact(store *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		var body struct {
			Key        string  `json:"key" binding:"required"`
			Value      string  `json:"value" binding:"required"`
			Confidence float64 `json:"confidence"`
			SourceType string  `json:"source_type"`
			SourceRef  string  `json:"source_ref"`
		}
		if err := c.BindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "key and value are required"})
			return
		}
		if body.Confidence <= 0 {
			body.Confidence = 1.0 // manual edits are authoritative
		}
		if body.SourceType == "" {
			body.SourceType = "manual"
		}
		if err := store.SetFact(id, body.Key, body.Value, body.Confidence, body.SourceType, body.SourceRef, ""); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"set": true})
	}
}

// DeleteEntityFact removes a fact by key.
func DeleteEntityFact(store *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		deleted, err := store.DeleteFact(id, c.Param("key"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	}
}

// AddEntityRelationship records a typed edge between persons.
func AddEntityRelationship(store *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		var body struct {
			RelatedID  int64   `json:"related_id" binding:"required"`
			Type       string  `json:"type" binding:"required"`
			Confidence float64 `json:"confidence"`
			SourceRef  string  `json:"source_ref"`
		}
		if err := c.BindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "related_id and type are required"})
			return
		}
		if body.Confidence <= 0 {
			body.Confidence = 0.9
		}
		added, err := store.AddRelationship(id, body.RelatedID, body.Type, body.Confidence, body.SourceRef)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"added": added})
	}
}

// SeedEntities bulk-upserts a contact list.
func SeedEntities(store *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var contacts []identity.Contact
		if err := c.BindJSON(&contacts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contact list"})
			return
		}
		result, err := store.SeedFromContacts(contacts)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// CleanupEntities deletes garbage-named persons.
func CleanupEntities(store *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := store.CleanupGarbagePersons()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// MergeCandidates suggests duplicate person groups.
func MergeCandidates(store *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		candidates, err := store.FindMergeCandidates(limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"candidates": candidates})
	}
}

// EntityGraph serves the person-only graph projection.
func EntityGraph(store *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		graph, err := store.GraphData(limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, graph)
	}
}

// EntityFullGraph serves the person + asset graph projection.
func EntityFullGraph(store *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limitPersons, _ := strconv.Atoi(c.DefaultQuery("limit_persons", "100"))
		limitAssets, _ := strconv.Atoi(c.DefaultQuery("limit_assets", "10"))
		includeEdges := c.DefaultQuery("asset_edges", "true") == "true"
		graph, err := store.FullGraphData(limitPersons, limitAssets, includeEdges)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, graph)
	}
}

// RefreshDisplayNames recomputes bilingual display names for all persons.
func RefreshDisplayNames(store *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		updated, err := store.RefreshAllDisplayNames()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"updated": updated})
	}
}
