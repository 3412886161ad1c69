// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gmail is the pull-style Gmail channel plugin: periodic email sync
// with label-based processed markers, body sanitization, attachment
// indexing and sender/recipient entity linking.
package gmail

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
	"github.com/AleutianAI/AleutianRecall/services/archivist/plugins"
)

// NewClientFunc builds the Gmail API client from plugin settings. The OAuth
// flow lives outside the core; deployments inject a real factory at wiring
// time. A nil factory leaves the plugin discovered but unconfigured.
type NewClientFunc func(settings *plugins.Settings) (Client, error)

// Plugin implements plugins.ChannelPlugin for Gmail.
type Plugin struct {
	newClient NewClientFunc

	mu          sync.Mutex
	app         *plugins.App
	client      Client
	syncer      *Syncer
	initialized bool
	initErr     error
	done        chan struct{}
}

// New constructs the plugin with a client factory (may be nil).
func New(newClient NewClientFunc) func() plugins.ChannelPlugin {
	return func() plugins.ChannelPlugin { return &Plugin{newClient: newClient} }
}

func (p *Plugin) Name() string        { return "gmail" }
func (p *Plugin) DisplayName() string { return "Gmail" }
func (p *Plugin) Icon() string        { return "📧" }
func (p *Plugin) Version() string     { return "1.1.0" }

func (p *Plugin) DefaultSettings() []datatypes.SettingSpec {
	return []datatypes.SettingSpec{
		{Key: "gmail_credentials_json", Default: "", Category: "gmail", Type: datatypes.SettingSecret, Description: "OAuth client credentials JSON"},
		{Key: "gmail_token_json", Default: "", Category: "gmail", Type: datatypes.SettingSecret, Description: "OAuth token JSON"},
		{Key: "gmail_processed_label", Default: "rag-indexed", Category: "gmail", Type: datatypes.SettingText, Description: "Label marking indexed emails"},
		{Key: "gmail_max_emails", Default: "500", Category: "gmail", Type: datatypes.SettingInt, Description: "Maximum emails per sync run"},
		{Key: "gmail_fetch_labels", Default: "INBOX", Category: "gmail", Type: datatypes.SettingText, Description: "Comma-separated labels to fetch from"},
		{Key: "gmail_signature_markers", Default: "-- ,--,---", Category: "gmail", Type: datatypes.SettingText, Description: "Comma-separated signature markers"},
		{Key: "gmail_include_attachments", Default: "true", Category: "gmail", Type: datatypes.SettingBool, Description: "Index PDF/DOCX/TXT attachments"},
		{Key: "gmail_sync_interval_minutes", Default: "0", Category: "gmail", Type: datatypes.SettingInt, Description: "Periodic sync interval (0 disables)"},
	}
}

func (p *Plugin) SelectOptions() map[string][]string { return nil }

func (p *Plugin) EnvKeyMap() map[string]string {
	return map[string]string{
		"gmail_credentials_json": "GMAIL_CREDENTIALS_JSON",
		"gmail_token_json":       "GMAIL_TOKEN_JSON",
	}
}

func (p *Plugin) CategoryMeta() map[string]datatypes.CategoryMeta {
	return map[string]datatypes.CategoryMeta{
		"gmail": {Label: "📧 Gmail", Order: 20},
	}
}

// Initialize builds the API client and starts the periodic syncer when an
// interval is configured. A missing or failing client configuration keeps
// the plugin discovered: Initialize degrades to a no-op and the health
// check reports the error.
func (p *Plugin) Initialize(app *plugins.App) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.app = app
	p.initialized = true
	p.initErr = nil

	if p.newClient == nil {
		p.initErr = errNotConfigured
		return nil
	}
	client, err := p.newClient(app.Settings)
	if err != nil {
		p.initErr = err
		return nil
	}
	p.client = client
	p.syncer = NewSyncer(client, app.Ingestor, app.Engine.Index(), app.Identity)

	if interval := app.Settings.GetInt("gmail_sync_interval_minutes", 0); interval > 0 {
		p.done = make(chan struct{})
		done := p.done
		go func() {
			ticker := time.NewTicker(time.Duration(interval) * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					p.runSync(context.Background(), false)
				case <-done:
					return
				}
			}
		}()
	}
	return nil
}

// Shutdown stops the periodic syncer and cancels any in-flight run.
func (p *Plugin) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	if p.syncer != nil {
		p.syncer.Cancel()
	}
	p.initialized = false
	return nil
}

type notConfiguredError struct{}

func (notConfiguredError) Error() string { return "gmail client is not configured" }

var errNotConfigured = notConfiguredError{}

func (p *Plugin) Routes(group *gin.RouterGroup) {
	group.POST("/sync", p.handleSync)
	group.GET("/sync/status", p.handleSyncStatus)
	group.GET("/test", p.handleTest)
}

func (p *Plugin) HealthCheck(ctx context.Context) map[string]string {
	p.mu.Lock()
	client, initErr, initialized := p.client, p.initErr, p.initialized
	p.mu.Unlock()

	if !initialized {
		return map[string]string{"gmail": "error: not initialized"}
	}
	if initErr != nil {
		return map[string]string{"gmail": "error: " + initErr.Error()}
	}
	if err := client.Ping(ctx); err != nil {
		return map[string]string{"gmail": "error: " + err.Error()}
	}
	return map[string]string{"gmail": "connected"}
}

// ProcessWebhook: Gmail is pull-only.
func (p *Plugin) ProcessWebhook(ctx context.Context, payload map[string]any) (*datatypes.Document, error) {
	return nil, nil
}

func (p *Plugin) runSync(ctx context.Context, force bool) *SyncStats {
	p.mu.Lock()
	syncer, app := p.syncer, p.app
	p.mu.Unlock()
	if syncer == nil {
		return &SyncStats{Status: "error"}
	}

	var labels []string
	for _, l := range strings.Split(app.Settings.Get("gmail_fetch_labels", "INBOX"), ",") {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	return syncer.Sync(ctx, SyncOptions{
		MaxEmails:          app.Settings.GetInt("gmail_max_emails", 500),
		LabelIDs:           labels,
		ProcessedLabel:     app.Settings.Get("gmail_processed_label", "rag-indexed"),
		SignatureMarkers:   app.Settings.Get("gmail_signature_markers", "-- ,--,---"),
		IncludeAttachments: app.Settings.GetBool("gmail_include_attachments", true),
		Force:              force,
	})
}

func (p *Plugin) handleSync(c *gin.Context) {
	p.mu.Lock()
	ready := p.initialized && p.syncer != nil
	initErr := p.initErr
	p.mu.Unlock()
	if !ready {
		message := "plugin disabled"
		if initErr != nil {
			message = initErr.Error()
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": message})
		return
	}
	force := c.Query("force") == "true"
	go p.runSync(context.Background(), force)
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "force": force})
}

func (p *Plugin) handleSyncStatus(c *gin.Context) {
	p.mu.Lock()
	syncer := p.syncer
	p.mu.Unlock()
	if syncer == nil {
		c.JSON(http.StatusOK, gin.H{"is_syncing": false, "configured": false})
		return
	}
	c.JSON(http.StatusOK, syncer.Status())
}

func (p *Plugin) handleTest(c *gin.Context) {
	health := p.HealthCheck(c.Request.Context())
	c.JSON(http.StatusOK, health)
}
