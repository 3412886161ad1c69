// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the archivist HTTP surface over gin.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianRecall/services/archivist/plugins"
	"github.com/AleutianAI/AleutianRecall/services/archivist/retrieval"
)

var tracer = otel.Tracer("aleutian.archivist.handlers")

// HealthCheck aggregates core dependency status with per-plugin checks.
// Status is "up" when everything is connected, "degraded" when any
// dependency errors, "unreachable" when the vector store is down.
func HealthCheck(engine *retrieval.Engine, rdb *redis.Client, registry *plugins.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		dependencies := make(map[string]any)
		status := "up"

		if _, err := engine.Index().TotalCount(ctx); err != nil {
			dependencies["qdrant"] = "error: " + err.Error()
			status = "unreachable"
		} else {
			dependencies["qdrant"] = "connected"
		}

		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				dependencies["redis"] = "error: " + err.Error()
				if status == "up" {
					status = "degraded"
				}
			} else {
				dependencies["redis"] = "connected"
			}
		}

		if registry != nil {
			for plugin, checks := range registry.Health(ctx) {
				dependencies[plugin] = checks
				for _, check := range checks {
					if status == "up" && len(check) >= 5 && check[:5] == "error" {
						status = "degraded"
					}
				}
			}
		}

		code := http.StatusOK
		if status == "unreachable" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "dependencies": dependencies})
	}
}

// Labels serves the cached chat and sender name lists for filter dropdowns.
func Labels(labels retrieval.Labels) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		chats, err := labels.Chats(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load labels"})
			return
		}
		senders, err := labels.Senders(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load labels"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"chats": chats, "senders": senders})
	}
}
