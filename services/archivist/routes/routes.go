// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes assembles the archivist HTTP surface.
package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/AleutianAI/AleutianRecall/services/archivist/chatengine"
	"github.com/AleutianAI/AleutianRecall/services/archivist/conversation"
	"github.com/AleutianAI/AleutianRecall/services/archivist/handlers"
	"github.com/AleutianAI/AleutianRecall/services/archivist/identity"
	"github.com/AleutianAI/AleutianRecall/services/archivist/middleware"
	"github.com/AleutianAI/AleutianRecall/services/archivist/observability"
	"github.com/AleutianAI/AleutianRecall/services/archivist/plugins"
	"github.com/AleutianAI/AleutianRecall/services/archivist/retrieval"
	"github.com/AleutianAI/AleutianRecall/services/archivist/scheduler"
)

// Deps carries everything the routes need.
type Deps struct {
	Engine        *retrieval.Engine
	Chat          *chatengine.Engine
	Labels        retrieval.Labels
	Identity      *identity.Store
	Conversations *conversation.Store
	Tasks         *scheduler.Store
	Dispatcher    *scheduler.Dispatcher
	Settings      *plugins.Settings
	Registry      *plugins.Registry
	Redis         *redis.Client
	RateLimit     middleware.RateLimitConfig
	Metrics       *observability.Metrics
}

// Setup mounts all routes on the router and returns the /plugins group for
// the registry to populate.
func Setup(router *gin.Engine, deps Deps) *gin.RouterGroup {
	if deps.Metrics != nil {
		router.Use(requestCounter(deps.Metrics))
	}
	router.GET("/health", handlers.HealthCheck(deps.Engine, deps.Redis, deps.Registry))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// LLM-invoking endpoints share the per-client rate limiter.
	limited := router.Group("/", middleware.RateLimit(deps.Redis, deps.RateLimit))
	{
		limited.POST("/rag/query", handlers.HandleRAGQuery(deps.Chat))
	}

	router.GET("/labels", handlers.Labels(deps.Labels))

	conversations := router.Group("/conversations")
	{
		conversations.GET("", handlers.ListConversations(deps.Conversations))
		conversations.POST("", handlers.CreateConversation(deps.Conversations))
		conversations.GET("/:id", handlers.GetConversation(deps.Conversations))
		conversations.DELETE("/:id", handlers.DeleteConversation(deps.Conversations))
	}

	entities := router.Group("/entities")
	{
		entities.GET("", handlers.ListEntities(deps.Identity))
		entities.GET("/resolve", handlers.ResolveEntity(deps.Identity))
		entities.GET("/merge-candidates", handlers.MergeCandidates(deps.Identity))
		entities.GET("/graph", handlers.EntityGraph(deps.Identity))
		entities.GET("/full-graph", handlers.EntityFullGraph(deps.Identity))
		entities.POST("/merge", handlers.MergeEntities(deps.Identity))
		entities.POST("/seed", handlers.SeedEntities(deps.Identity))
		entities.POST("/cleanup", handlers.CleanupEntities(deps.Identity))
		entities.POST("/refresh-display-names", handlers.RefreshDisplayNames(deps.Identity))
		entities.GET("/:id", handlers.GetEntity(deps.Identity))
		entities.PUT("/:id/name", handlers.RenameEntity(deps.Identity))
		entities.DELETE("/:id", handlers.DeleteEntity(deps.Identity))
		entities.POST("/:id/aliases", handlers.AddEntityAlias(deps.Identity))
		entities.DELETE("/:id/aliases/:aliasId", handlers.DeleteEntityAlias(deps.Identity))
		entities.POST("/:id/facts", handlers.SetEntityFact(deps.Identity))
		entities.DELETE("/:id/facts/:key", handlers.DeleteEntityFact(deps.Identity))
		entities.POST("/:id/relationships", handlers.AddEntityRelationship(deps.Identity))
	}

	scheduled := router.Group("/scheduled")
	{
		scheduled.GET("", handlers.ListTasks(deps.Tasks))
		scheduled.POST("", handlers.CreateTask(deps.Tasks))
		scheduled.GET("/:id", handlers.GetTask(deps.Tasks))
		scheduled.PUT("/:id", handlers.UpdateTask(deps.Tasks))
		scheduled.DELETE("/:id", handlers.DeleteTask(deps.Tasks))
		scheduled.POST("/:id/toggle", handlers.ToggleTask(deps.Tasks))
		scheduled.POST("/:id/run", handlers.RunTaskNow(deps.Dispatcher))
		scheduled.GET("/:id/results", handlers.TaskResults(deps.Tasks))
		scheduled.POST("/results/:resultId/rate", handlers.RateResult(deps.Tasks))
	}

	admin := router.Group("/admin")
	{
		admin.GET("/vector/stats", handlers.VectorStats(deps.Engine))
		admin.POST("/vector/reset", handlers.VectorReset(deps.Engine))
		admin.DELETE("/vector/source/:source", handlers.VectorDeleteSource(deps.Engine))
		admin.GET("/plugins", handlers.ListPlugins(deps.Registry))
		admin.POST("/plugins/:name/toggle", handlers.TogglePlugin(deps.Registry))
		admin.GET("/settings", handlers.ListSettings(deps.Settings))
		admin.PUT("/settings", handlers.UpdateSetting(deps.Settings))
	}

	return router.Group("/plugins")
}

// requestCounter counts requests by route template and status class.
func requestCounter(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RequestsTotal.WithLabelValues(endpoint, fmt.Sprint(c.Writer.Status())).Inc()
	}
}
