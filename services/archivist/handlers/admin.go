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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRecall/services/archivist/plugins"
	"github.com/AleutianAI/AleutianRecall/services/archivist/retrieval"
)

// VectorStats reports collection totals and per-source counts.
func VectorStats(engine *retrieval.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := engine.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// VectorReset drops and recreates the collection. Destructive; the caller
// must confirm with ?confirm=true.
func VectorReset(engine *retrieval.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Query("confirm") != "true" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "pass confirm=true to drop all embeddings"})
			return
		}
		if err := engine.ResetCollection(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reset": true})
	}
}

// VectorDeleteSource removes all points of one source.
func VectorDeleteSource(engine *retrieval.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		source := c.Param("source")
		deleted, err := engine.DeleteBySource(c.Request.Context(), source)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	}
}

// ListPlugins returns all discovered plugins with enabled state.
func ListPlugins(registry *plugins.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"plugins": registry.List()})
	}
}

// TogglePlugin enables or disables a plugin at runtime.
func TogglePlugin(registry *plugins.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		var body struct {
			Enabled bool `json:"enabled"`
		}
		if err := c.BindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "enabled is required"})
			return
		}
		var err error
		if body.Enabled {
			err = registry.Enable(name)
		} else {
			err = registry.Disable(name)
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"enabled": body.Enabled})
	}
}

// ListSettings returns all settings grouped by category, secrets masked.
func ListSettings(settings *plugins.Settings) gin.HandlerFunc {
	return func(c *gin.Context) {
		grouped, err := settings.All()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"settings":       grouped,
			"select_options": settings.SelectOptions(),
			"categories":     settings.CategoryMeta(),
		})
	}
}

// UpdateSetting validates and stores one setting value.
func UpdateSetting(settings *plugins.Settings) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Key   string `json:"key" binding:"required"`
			Value string `json:"value"`
		}
		if err := c.BindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
			return
		}
		if err := settings.Set(body.Key, body.Value); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"updated": true})
	}
}
