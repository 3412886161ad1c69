// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callrec

import (
	"context"
	"fmt"
	"net/http"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
	"github.com/AleutianAI/AleutianRecall/services/archivist/plugins"
)

// NewTranscriberFunc builds the transcriber backend from plugin settings.
// Model loading lives outside the core.
type NewTranscriberFunc func(settings *plugins.Settings) (Transcriber, error)

// watchDebounce batches bursts of file events into one scan.
const watchDebounce = 10 * time.Second

// Plugin implements plugins.ChannelPlugin for call recordings.
type Plugin struct {
	newTranscriber NewTranscriberFunc
	dbPath         string

	mu          sync.Mutex
	app         *plugins.App
	db          *DB
	syncer      *Syncer
	watcher     *fsnotify.Watcher
	initialized bool
	initErr     error
	done        chan struct{}
}

// New constructs the plugin with a transcriber factory (may be nil) and the
// status-table path.
func New(newTranscriber NewTranscriberFunc, dbPath string) func() plugins.ChannelPlugin {
	return func() plugins.ChannelPlugin {
		return &Plugin{newTranscriber: newTranscriber, dbPath: dbPath}
	}
}

func (p *Plugin) Name() string        { return "call_recordings" }
func (p *Plugin) DisplayName() string { return "Call Recordings" }
func (p *Plugin) Icon() string        { return "📞" }
func (p *Plugin) Version() string     { return "1.0.0" }

func (p *Plugin) DefaultSettings() []datatypes.SettingSpec {
	return []datatypes.SettingSpec{
		{Key: "callrec_source_path", Default: "", Category: "call_recordings", Type: datatypes.SettingText, Description: "Directory containing call recordings"},
		{Key: "callrec_auto_transcribe", Default: "true", Category: "call_recordings", Type: datatypes.SettingBool, Description: "Queue new files for transcription automatically"},
		{Key: "callrec_watch_directory", Default: "true", Category: "call_recordings", Type: datatypes.SettingBool, Description: "Watch the directory and scan on new files"},
		{Key: "callrec_whisper_model", Default: "large-v3", Category: "call_recordings", Type: datatypes.SettingSelect, Description: "Whisper model size"},
	}
}

func (p *Plugin) SelectOptions() map[string][]string {
	return map[string][]string{
		"callrec_whisper_model": {"tiny", "base", "small", "medium", "large-v3"},
	}
}

func (p *Plugin) EnvKeyMap() map[string]string {
	return map[string]string{
		"callrec_source_path": "CALLREC_SOURCE_PATH",
	}
}

func (p *Plugin) CategoryMeta() map[string]datatypes.CategoryMeta {
	return map[string]datatypes.CategoryMeta{
		"call_recordings": {Label: "📞 Call Recordings", Order: 40},
	}
}

// Initialize opens the status table, builds the transcriber and syncer, and
// starts the directory watcher. A missing source path keeps the plugin
// discovered with the error surfaced by the health check.
func (p *Plugin) Initialize(app *plugins.App) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.app = app
	p.initialized = true
	p.initErr = nil

	sourcePath := app.Settings.Get("callrec_source_path", "")
	if sourcePath == "" {
		p.initErr = fmt.Errorf("callrec_source_path is not configured")
		return nil
	}

	db, err := OpenDB(p.dbPath)
	if err != nil {
		p.initErr = err
		return nil
	}
	p.db = db

	var transcriber Transcriber
	if p.newTranscriber != nil {
		transcriber, err = p.newTranscriber(app.Settings)
		if err != nil {
			// Scanning and review still work; transcription reports errors.
			slog.Warn("Transcriber unavailable", "error", err)
		}
	}

	scanner := NewScanner(sourcePath)
	p.syncer = NewSyncer(db, scanner, transcriber, app.Ingestor, app.Identity)
	p.done = make(chan struct{})

	if app.Settings.GetBool("callrec_watch_directory", true) {
		p.startWatcher(sourcePath)
	}
	return nil
}

// startWatcher scans shortly after file events settle.
func (p *Plugin) startWatcher(dir string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("Recording directory watch unavailable", "error", err)
		return
	}
	if err := watcher.Add(dir); err != nil {
		slog.Warn("Cannot watch recording directory", "dir", dir, "error", err)
		watcher.Close()
		return
	}
	p.watcher = watcher

	syncer := p.syncer
	app := p.app
	done := p.done
	go func() {
		var timer *time.Timer
		trigger := make(chan struct{}, 1)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(watchDebounce, func() {
					select {
					case trigger <- struct{}{}:
					default:
					}
				})
			case <-trigger:
				auto := app.Settings.GetBool("callrec_auto_transcribe", true)
				syncer.ScanAndRegister(context.Background(), auto)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Debug("Watcher error", "error", err)
			case <-done:
				return
			}
		}
	}()
}

// Shutdown stops the watcher and the transcription worker.
func (p *Plugin) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	if p.watcher != nil {
		p.watcher.Close()
		p.watcher = nil
	}
	if p.syncer != nil {
		p.syncer.Shutdown()
		p.syncer = nil
	}
	if p.db != nil {
		p.db.Close()
		p.db = nil
	}
	p.initialized = false
	return nil
}

func (p *Plugin) Routes(group *gin.RouterGroup) {
	group.POST("/sync", p.handleSync)
	group.GET("/sync/status", p.handleSyncStatus)
	group.GET("/files", p.handleListFiles)
	group.POST("/files/:hash/transcribe", p.handleTranscribe)
	group.POST("/files/:hash/approve", p.handleApprove)
	group.PUT("/files/:hash/metadata", p.handleUpdateMetadata)
	group.DELETE("/files/:hash", p.handleDelete)
	group.GET("/test", p.handleTest)
}

func (p *Plugin) HealthCheck(ctx context.Context) map[string]string {
	p.mu.Lock()
	syncer, initErr, initialized := p.syncer, p.initErr, p.initialized
	p.mu.Unlock()
	if !initialized {
		return map[string]string{"call_recordings": "error: not initialized"}
	}
	if initErr != nil {
		return map[string]string{"call_recordings": "error: " + initErr.Error()}
	}
	if err := syncer.scanner.TestConnection(); err != nil {
		return map[string]string{"source_directory": "error: " + err.Error()}
	}
	return map[string]string{"source_directory": "connected"}
}

// ProcessWebhook: recordings are pull-only.
func (p *Plugin) ProcessWebhook(ctx context.Context, payload map[string]any) (*datatypes.Document, error) {
	return nil, nil
}

func (p *Plugin) active() (*Syncer, *DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized || p.syncer == nil {
		if p.initErr != nil {
			return nil, nil, p.initErr
		}
		return nil, nil, fmt.Errorf("plugin disabled")
	}
	return p.syncer, p.db, nil
}

func (p *Plugin) handleSync(c *gin.Context) {
	syncer, _, err := p.active()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	auto := p.app.Settings.GetBool("callrec_auto_transcribe", true)
	go syncer.ScanAndRegister(context.Background(), auto)
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func (p *Plugin) handleSyncStatus(c *gin.Context) {
	syncer, _, err := p.active()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"is_syncing": false, "configured": false})
		return
	}
	c.JSON(http.StatusOK, syncer.Status())
}

func (p *Plugin) handleListFiles(c *gin.Context) {
	_, db, err := p.active()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	records, err := db.List(c.Query("status"), 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": records})
}

func (p *Plugin) handleTranscribe(c *gin.Context) {
	syncer, _, err := p.active()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if !syncer.QueueTranscription(c.Param("hash")) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "transcription queue is full"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (p *Plugin) handleApprove(c *gin.Context) {
	syncer, _, err := p.active()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	record, err := syncer.ApproveFile(c.Request.Context(), c.Param("hash"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (p *Plugin) handleUpdateMetadata(c *gin.Context) {
	_, db, err := p.active()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	var body struct {
		ContactName  string   `json:"contact_name"`
		Participants []string `json:"participants"`
	}
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := db.UpdateMetadata(c.Param("hash"), body.ContactName, body.Participants); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (p *Plugin) handleDelete(c *gin.Context) {
	_, db, err := p.active()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	deleted, err := db.Delete(c.Param("hash"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (p *Plugin) handleTest(c *gin.Context) {
	c.JSON(http.StatusOK, p.HealthCheck(c.Request.Context()))
}
