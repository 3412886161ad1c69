// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plugins is the channel plugin runtime: the plugin contract, the
// build-time registry that discovers plugins at startup, the settings store
// their configuration lives in, and the lifecycle (initialize, route
// mounting, enable/disable, health aggregation).
package plugins

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
	"github.com/AleutianAI/AleutianRecall/services/archivist/identity"
	"github.com/AleutianAI/AleutianRecall/services/archivist/retrieval"
)

// App is the capability set handed to plugins at initialization: the
// ingestion pipeline, retrieval engine, identity store, settings, the
// WhatsApp conversation buffer and Redis.
type App struct {
	Settings *Settings
	Ingestor *retrieval.Ingestor
	Engine   *retrieval.Engine
	Identity *identity.Store
	Buffer   *retrieval.ConversationBuffer
	Redis    *redis.Client
}

// ChannelPlugin is the contract every channel integration implements.
//
// Lifecycle: plugins are constructed by the registry at startup and their
// settings registered (insert-if-absent). Enabled plugins get Initialize,
// their routes mounted under /plugins/<name>/, and participate in health
// aggregation. Disabling calls Shutdown and persists the flag; routes stay
// mounted and webhook handlers no-op while disabled.
type ChannelPlugin interface {
	// Name is the unique lowercase identifier, used as the settings
	// category, route prefix and enable-flag key.
	Name() string
	// DisplayName is the human-readable name for UI display.
	DisplayName() string
	// Icon is an emoji for UI display.
	Icon() string
	// Version is the plugin's semver string.
	Version() string

	// DefaultSettings returns the plugin's setting defaults, registered
	// with insert-if-absent semantics so user edits survive restarts.
	DefaultSettings() []datatypes.SettingSpec
	// SelectOptions returns option lists for select-typed settings.
	SelectOptions() map[string][]string
	// EnvKeyMap maps setting keys to environment variables overlaid on
	// first boot.
	EnvKeyMap() map[string]string
	// CategoryMeta labels and orders the plugin's settings category.
	CategoryMeta() map[string]datatypes.CategoryMeta

	// Initialize is called when the plugin is enabled (at startup or at
	// runtime). A failing Initialize leaves the plugin discovered but
	// disabled; one bad plugin never breaks startup.
	Initialize(app *App) error
	// Shutdown is called when the plugin is disabled or the service stops.
	Shutdown() error

	// Routes mounts the plugin's endpoints on its /plugins/<name> group.
	Routes(group *gin.RouterGroup)

	// HealthCheck reports dependency → status ("connected" or "error: …").
	HealthCheck(ctx context.Context) map[string]string

	// ProcessWebhook parses a push payload into a document, or returns
	// (nil, nil) for payloads that should be ignored. Pull-style plugins
	// return (nil, nil) unconditionally.
	ProcessWebhook(ctx context.Context, payload map[string]any) (*datatypes.Document, error)
}

// EnableKey is the settings key holding a plugin's enabled flag.
func EnableKey(name string) string { return "plugin_" + name + "_enabled" }

// AutoForce implements the force-mode rule shared by all sync pipelines:
// when the vector collection is empty (fresh install or post-reset), the
// processed-marker exclusion and dedup checks are skipped so everything
// re-indexes.
func AutoForce(ctx context.Context, index retrieval.Index, force bool) bool {
	if force {
		return true
	}
	total, err := index.TotalCount(ctx)
	if err != nil {
		return false
	}
	return total == 0
}
