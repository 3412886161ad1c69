// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
)

// Registry discovers, configures and manages channel plugins.
//
// Discovery is an explicit build-time enumeration: each plugin package
// contributes a constructor and main wires the full list into NewRegistry.
// This keeps the open-closed discoverability of a scan while staying typed.
type Registry struct {
	app          *App
	constructors []func() ChannelPlugin

	mu         sync.RWMutex
	discovered map[string]ChannelPlugin
	enabled    map[string]bool
}

// NewRegistry builds a registry over the plugin constructors.
func NewRegistry(app *App, constructors ...func() ChannelPlugin) *Registry {
	return &Registry{
		app:          app,
		constructors: constructors,
		discovered:   make(map[string]ChannelPlugin),
		enabled:      make(map[string]bool),
	}
}

// Discover instantiates every plugin and registers its settings (including
// the enable flag) with insert-if-absent semantics. Returns the discovered
// plugin names. A plugin that fails settings registration is logged and
// skipped.
func (r *Registry) Discover() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []string
	for _, construct := range r.constructors {
		plugin := construct()
		name := plugin.Name()

		specs := append([]datatypes.SettingSpec{{
			Key:         EnableKey(name),
			Default:     "false",
			Category:    "plugins",
			Type:        datatypes.SettingBool,
			Description: fmt.Sprintf("Enable %s integration", plugin.DisplayName()),
		}}, plugin.DefaultSettings()...)

		if err := r.app.Settings.Register(specs, plugin.CategoryMeta(), plugin.EnvKeyMap()); err != nil {
			slog.Error("Failed to register plugin settings", "plugin", name, "error", err)
			continue
		}
		r.app.Settings.RegisterSelectOptions(plugin.SelectOptions())

		r.discovered[name] = plugin
		names = append(names, name)
		slog.Info("Discovered plugin",
			"plugin", name, "display_name", plugin.DisplayName(), "version", plugin.Version())
	}
	slog.Info("Plugin discovery complete", "count", len(names))
	return names
}

// LoadEnabled initializes every plugin whose enable flag is set and mounts
// all discovered plugins' routes under /plugins/<name>/. Routes are mounted
// regardless of the flag - disabled plugins no-op their handlers - so a
// runtime enable needs no router surgery. An Initialize failure is logged
// and the plugin stays disabled.
func (r *Registry) LoadEnabled(root *gin.RouterGroup) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var enabled []string
	for name, plugin := range r.discovered {
		group := root.Group("/" + name)
		plugin.Routes(group)

		if !r.app.Settings.GetBool(EnableKey(name), false) {
			continue
		}
		if err := plugin.Initialize(r.app); err != nil {
			slog.Error("Plugin initialization failed", "plugin", name, "error", err)
			continue
		}
		r.enabled[name] = true
		enabled = append(enabled, name)
		slog.Info("Plugin enabled", "plugin", name)
	}
	return enabled
}

// Enable initializes a plugin at runtime and persists the flag.
func (r *Registry) Enable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	plugin, ok := r.discovered[name]
	if !ok {
		return fmt.Errorf("plugins: unknown plugin %q", name)
	}
	if r.enabled[name] {
		return nil
	}
	if err := plugin.Initialize(r.app); err != nil {
		return fmt.Errorf("plugins: initialize %s: %w", name, err)
	}
	r.enabled[name] = true
	return r.app.Settings.Set(EnableKey(name), "true")
}

// Disable shuts a plugin down at runtime and persists the flag. Its routes
// stay mounted and no-op.
func (r *Registry) Disable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	plugin, ok := r.discovered[name]
	if !ok {
		return fmt.Errorf("plugins: unknown plugin %q", name)
	}
	if !r.enabled[name] {
		return nil
	}
	if err := plugin.Shutdown(); err != nil {
		slog.Warn("Plugin shutdown reported an error", "plugin", name, "error", err)
	}
	delete(r.enabled, name)
	return r.app.Settings.Set(EnableKey(name), "false")
}

// IsEnabled reports a plugin's runtime state.
func (r *Registry) IsEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[name]
}

// Get returns a discovered plugin by name.
func (r *Registry) Get(name string) (ChannelPlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	plugin, ok := r.discovered[name]
	return plugin, ok
}

// PluginInfo summarizes one plugin for the UI.
type PluginInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Icon        string `json:"icon"`
	Version     string `json:"version"`
	Enabled     bool   `json:"enabled"`
}

// List returns all discovered plugins with their enabled state.
func (r *Registry) List() []PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PluginInfo, 0, len(r.discovered))
	for name, plugin := range r.discovered {
		out = append(out, PluginInfo{
			Name:        name,
			DisplayName: plugin.DisplayName(),
			Icon:        plugin.Icon(),
			Version:     plugin.Version(),
			Enabled:     r.enabled[name],
		})
	}
	return out
}

// Health aggregates per-plugin health checks for enabled plugins.
func (r *Registry) Health(ctx context.Context) map[string]map[string]string {
	r.mu.RLock()
	plugins := make(map[string]ChannelPlugin)
	for name := range r.enabled {
		plugins[name] = r.discovered[name]
	}
	r.mu.RUnlock()

	out := make(map[string]map[string]string, len(plugins))
	for name, plugin := range plugins {
		out[name] = plugin.HealthCheck(ctx)
	}
	return out
}

// Shutdown stops every enabled plugin.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.enabled {
		if err := r.discovered[name].Shutdown(); err != nil {
			slog.Warn("Plugin shutdown failed", "plugin", name, "error", err)
		}
	}
	r.enabled = make(map[string]bool)
}
