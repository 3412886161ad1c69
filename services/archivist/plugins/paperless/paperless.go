// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package paperless is the pull-style Paperless-NGX channel plugin:
// document sync with tag-based processed markers and correspondent entity
// linking.
package paperless

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
	"github.com/AleutianAI/AleutianRecall/services/archivist/identity"
	"github.com/AleutianAI/AleutianRecall/services/archivist/plugins"
	"github.com/AleutianAI/AleutianRecall/services/archivist/retrieval"
)

// DocumentRef is one document listing entry.
type DocumentRef struct {
	ID            int
	Title         string
	Correspondent string
	Created       time.Time
	TagIDs        []int
}

// Client is the Paperless API surface the syncer consumes.
type Client interface {
	// ListDocuments returns documents NOT carrying excludeTagID (0 means no
	// exclusion), newest first, up to limit.
	ListDocuments(ctx context.Context, excludeTagID, limit int) ([]DocumentRef, error)
	// GetDocumentText returns a document's OCR/extracted text.
	GetDocumentText(ctx context.Context, id int) (string, error)
	// GetOrCreateTag resolves the processed-marker tag id.
	GetOrCreateTag(ctx context.Context, name string) (int, error)
	// AddTagToDocument marks a document processed.
	AddTagToDocument(ctx context.Context, documentID, tagID int) error
	// Ping verifies connectivity.
	Ping(ctx context.Context) error
}

// NewClientFunc builds the API client from plugin settings.
type NewClientFunc func(settings *plugins.Settings) (Client, error)

// SyncStats reports one run's outcome.
type SyncStats struct {
	Status  string `json:"status"`
	Synced  int    `json:"synced"`
	Skipped int    `json:"skipped"`
	Errors  int    `json:"errors"`
	Tagged  int    `json:"tagged"`
}

// Syncer pulls Paperless documents into the archive.
type Syncer struct {
	client   Client
	ingestor *retrieval.Ingestor
	index    retrieval.Index
	identity *identity.Store

	syncing atomic.Bool
	mu        sync.Mutex
	lastSync  time.Time
	syncCount int

	tagMu          sync.Mutex
	processedTagID int
}

// NewSyncer wires a syncer. identityStore may be nil.
func NewSyncer(client Client, ingestor *retrieval.Ingestor, index retrieval.Index, identityStore *identity.Store) *Syncer {
	return &Syncer{client: client, ingestor: ingestor, index: index, identity: identityStore}
}

// IsSyncing reports whether a run is in flight.
func (s *Syncer) IsSyncing() bool { return s.syncing.Load() }

// Cancel requests a cooperative stop.
func (s *Syncer) Cancel() { s.syncing.Store(false) }

// Status summarizes the syncer for /sync/status.
func (s *Syncer) Status() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := map[string]any{
		"is_syncing":   s.syncing.Load(),
		"synced_total": s.syncCount,
	}
	if !s.lastSync.IsZero() {
		status["last_sync"] = s.lastSync.UTC().Format(time.RFC3339)
	}
	return status
}

func (s *Syncer) ensureProcessedTag(ctx context.Context, name string) int {
	s.tagMu.Lock()
	defer s.tagMu.Unlock()
	if s.processedTagID != 0 {
		return s.processedTagID
	}
	id, err := s.client.GetOrCreateTag(ctx, name)
	if err != nil {
		slog.Warn("Could not resolve processed tag; documents sync untagged", "tag", name, "error", err)
		return 0
	}
	s.processedTagID = id
	return id
}

// Sync runs the pull pipeline over untagged documents.
func (s *Syncer) Sync(ctx context.Context, maxDocuments int, processedTag string, force bool) *SyncStats {
	if !s.syncing.CompareAndSwap(false, true) {
		return &SyncStats{Status: "already_running"}
	}
	defer s.syncing.Store(false)

	stats := &SyncStats{Status: "complete"}
	if maxDocuments <= 0 {
		maxDocuments = 200
	}
	if processedTag == "" {
		processedTag = "rag-indexed"
	}

	force = plugins.AutoForce(ctx, s.index, force)
	tagID := s.ensureProcessedTag(ctx, processedTag)
	excludeTag := tagID
	if force {
		excludeTag = 0
		slog.Info("Starting Paperless FORCE re-sync (ignoring processed tag)")
	}

	docs, err := s.client.ListDocuments(ctx, excludeTag, maxDocuments)
	if err != nil {
		slog.Error("Paperless list failed", "error", err)
		return &SyncStats{Status: "error", Errors: 1}
	}

	for _, doc := range docs {
		if ctx.Err() != nil || !s.syncing.Load() {
			stats.Status = "cancelled"
			break
		}
		if err := s.syncOne(ctx, doc, tagID, force, stats); err != nil {
			slog.Error("Failed to sync document", "id", doc.ID, "title", doc.Title, "error", err)
			stats.Errors++
		}
	}

	s.mu.Lock()
	s.lastSync = time.Now()
	s.syncCount += stats.Synced
	s.mu.Unlock()

	slog.Info("Paperless sync finished",
		"synced", stats.Synced, "skipped", stats.Skipped, "errors", stats.Errors)
	return stats
}

func (s *Syncer) syncOne(ctx context.Context, ref DocumentRef, tagID int, force bool, stats *SyncStats) error {
	sourceID := fmt.Sprintf("paperless:%d", ref.ID)

	markProcessed := func() {
		if tagID == 0 {
			return
		}
		if err := s.client.AddTagToDocument(ctx, ref.ID, tagID); err == nil {
			stats.Tagged++
		}
	}

	if !force {
		exists, err := s.index.PointExists(ctx, sourceID)
		if err == nil && exists {
			stats.Skipped++
			markProcessed()
			return nil
		}
	}

	text, err := s.client.GetDocumentText(ctx, ref.ID)
	if err != nil {
		return fmt.Errorf("fetch text: %w", err)
	}
	if len(text) < retrieval.MinContentChars {
		stats.Skipped++
		markProcessed()
		return nil
	}

	ts := ref.Created.Unix()
	if ref.Created.IsZero() {
		ts = time.Now().Unix()
	}

	doc := &datatypes.Document{
		Common: datatypes.CommonMeta{
			Source:      datatypes.SourcePaperless,
			SourceID:    sourceID,
			ContentType: datatypes.ContentTypeDocument,
			ChatName:    ref.Title,
			Sender:      ref.Correspondent,
			Timestamp:   ts,
		},
		Body: datatypes.TextBody{Content: text},
		Extras: map[string]any{
			"document_id": int64(ref.ID),
		},
		EmbeddingPrefix: fmt.Sprintf("Document: %s\n\n", ref.Title),
	}

	result, err := s.ingestor.AddDocument(ctx, doc)
	if err != nil {
		return err
	}
	if result.Skipped {
		stats.Skipped++
	} else {
		stats.Synced++
		slog.Info("Indexed document", "title", ref.Title, "chunks", result.Added)
		if s.identity != nil && ref.Correspondent != "" {
			if personID, err := s.identity.GetOrCreatePerson(ref.Correspondent, "", "", "", false); err == nil {
				s.identity.LinkPersonAsset(personID, "document", sourceID, identity.RoleOwner, 0.8)
			}
		}
	}
	markProcessed()
	return nil
}

// Plugin implements plugins.ChannelPlugin for Paperless-NGX.
type Plugin struct {
	newClient NewClientFunc

	mu          sync.Mutex
	app         *plugins.App
	client      Client
	syncer      *Syncer
	initialized bool
	initErr     error
}

// New constructs the plugin with a client factory (may be nil).
func New(newClient NewClientFunc) func() plugins.ChannelPlugin {
	return func() plugins.ChannelPlugin { return &Plugin{newClient: newClient} }
}

func (p *Plugin) Name() string        { return "paperless" }
func (p *Plugin) DisplayName() string { return "Paperless-NGX" }
func (p *Plugin) Icon() string        { return "📄" }
func (p *Plugin) Version() string     { return "1.0.1" }

func (p *Plugin) DefaultSettings() []datatypes.SettingSpec {
	return []datatypes.SettingSpec{
		{Key: "paperless_base_url", Default: "http://localhost:8000", Category: "paperless", Type: datatypes.SettingText, Description: "Paperless-NGX base URL"},
		{Key: "paperless_api_token", Default: "", Category: "paperless", Type: datatypes.SettingSecret, Description: "Paperless API token"},
		{Key: "paperless_processed_tag", Default: "rag-indexed", Category: "paperless", Type: datatypes.SettingText, Description: "Tag marking indexed documents"},
		{Key: "paperless_max_documents", Default: "200", Category: "paperless", Type: datatypes.SettingInt, Description: "Maximum documents per sync run"},
	}
}

func (p *Plugin) SelectOptions() map[string][]string { return nil }

func (p *Plugin) EnvKeyMap() map[string]string {
	return map[string]string{
		"paperless_base_url":  "PAPERLESS_BASE_URL",
		"paperless_api_token": "PAPERLESS_API_TOKEN",
	}
}

func (p *Plugin) CategoryMeta() map[string]datatypes.CategoryMeta {
	return map[string]datatypes.CategoryMeta{
		"paperless": {Label: "📄 Paperless", Order: 30},
	}
}

func (p *Plugin) Initialize(app *plugins.App) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.app = app
	p.initialized = true
	p.initErr = nil

	if p.newClient == nil {
		p.initErr = fmt.Errorf("paperless client is not configured")
		return nil
	}
	client, err := p.newClient(app.Settings)
	if err != nil {
		p.initErr = err
		return nil
	}
	p.client = client
	p.syncer = NewSyncer(client, app.Ingestor, app.Engine.Index(), app.Identity)
	return nil
}

func (p *Plugin) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.syncer != nil {
		p.syncer.Cancel()
	}
	p.initialized = false
	return nil
}

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
		return map[string]string{"paperless": "error: not initialized"}
	}
	if initErr != nil {
		return map[string]string{"paperless": "error: " + initErr.Error()}
	}
	if err := client.Ping(ctx); err != nil {
		return map[string]string{"paperless": "error: " + err.Error()}
	}
	return map[string]string{"paperless": "connected"}
}

func (p *Plugin) ProcessWebhook(ctx context.Context, payload map[string]any) (*datatypes.Document, error) {
	return nil, nil
}

func (p *Plugin) handleSync(c *gin.Context) {
	p.mu.Lock()
	syncer, app := p.syncer, p.app
	initErr := p.initErr
	p.mu.Unlock()
	if syncer == nil {
		message := "plugin disabled"
		if initErr != nil {
			message = initErr.Error()
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": message})
		return
	}
	force := c.Query("force") == "true"
	go syncer.Sync(context.Background(),
		app.Settings.GetInt("paperless_max_documents", 200),
		app.Settings.Get("paperless_processed_tag", "rag-indexed"),
		force)
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
	c.JSON(http.StatusOK, p.HealthCheck(c.Request.Context()))
}
