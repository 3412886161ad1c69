// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package whatsapp is the push-style WhatsApp channel plugin. It receives
// gateway webhooks, filters non-message events, indexes each message as an
// individual point, feeds the per-chat conversation buffer, seeds the
// identity store from the gateway's contact list, and links indexed
// messages to sender persons.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
	"github.com/AleutianAI/AleutianRecall/services/archivist/identity"
	"github.com/AleutianAI/AleutianRecall/services/archivist/plugins"
	"github.com/AleutianAI/AleutianRecall/services/archivist/retrieval"
)

// bufferSweepInterval drives the stale conversation-buffer flush.
const bufferSweepInterval = 30 * time.Second

// Plugin implements plugins.ChannelPlugin for WhatsApp.
type Plugin struct {
	mu          sync.Mutex
	app         *plugins.App
	initialized bool
	done        chan struct{}

	processed int64
	skipped   int64
}

// New constructs the plugin for the registry.
func New() plugins.ChannelPlugin { return &Plugin{} }

func (p *Plugin) Name() string        { return "whatsapp" }
func (p *Plugin) DisplayName() string { return "WhatsApp" }
func (p *Plugin) Icon() string        { return "💬" }
func (p *Plugin) Version() string     { return "1.2.0" }

func (p *Plugin) DefaultSettings() []datatypes.SettingSpec {
	return []datatypes.SettingSpec{
		{Key: "waha_base_url", Default: "http://localhost:3000", Category: "whatsapp", Type: datatypes.SettingText, Description: "WhatsApp gateway base URL"},
		{Key: "waha_api_key", Default: "", Category: "whatsapp", Type: datatypes.SettingSecret, Description: "WhatsApp gateway API key"},
		{Key: "waha_session_name", Default: "default", Category: "whatsapp", Type: datatypes.SettingText, Description: "Gateway session name"},
		{Key: "whatsapp_index_media_captions", Default: "true", Category: "whatsapp", Type: datatypes.SettingBool, Description: "Index captions of media messages"},
	}
}

func (p *Plugin) SelectOptions() map[string][]string { return nil }

func (p *Plugin) EnvKeyMap() map[string]string {
	return map[string]string{
		"waha_base_url": "WAHA_BASE_URL",
		"waha_api_key":  "WAHA_API_KEY",
	}
}

func (p *Plugin) CategoryMeta() map[string]datatypes.CategoryMeta {
	return map[string]datatypes.CategoryMeta{
		"whatsapp": {Label: "💬 WhatsApp", Order: 10},
	}
}

// Initialize starts the stale-buffer sweeper.
func (p *Plugin) Initialize(app *plugins.App) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.app = app
	p.initialized = true
	p.done = make(chan struct{})

	if app.Buffer != nil {
		done := p.done
		go func() {
			ticker := time.NewTicker(bufferSweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					app.Buffer.FlushStale(context.Background())
				case <-done:
					return
				}
			}
		}()
	}
	return nil
}

// Shutdown stops the sweeper and makes webhook handling a no-op.
func (p *Plugin) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	p.initialized = false
	return nil
}

func (p *Plugin) active() (*plugins.App, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.app, p.initialized
}

// Routes mounts the webhook, contact seeding and status endpoints.
func (p *Plugin) Routes(group *gin.RouterGroup) {
	group.POST("/webhook", p.handleWebhook)
	group.POST("/seed-contacts", p.handleSeedContacts)
	group.GET("/test", p.handleTest)
	group.GET("/status", p.handleStatus)
}

func (p *Plugin) HealthCheck(ctx context.Context) map[string]string {
	app, ok := p.active()
	if !ok {
		return map[string]string{"plugin": "error: not initialized"}
	}
	if app.Redis == nil {
		return map[string]string{"redis": "error: not configured"}
	}
	if err := app.Redis.Ping(ctx).Err(); err != nil {
		return map[string]string{"redis": "error: " + err.Error()}
	}
	return map[string]string{"redis": "connected"}
}

// shouldProcess drops acks, broadcast/newsletter traffic and e2e
// notifications before any parsing happens.
func shouldProcess(event string, payload map[string]any) bool {
	if event == "message_ack" || event == "session.status" {
		return false
	}
	from, _ := payload["from"].(string)
	if strings.HasSuffix(from, "@newsletter") || strings.HasSuffix(from, "@broadcast") {
		return false
	}
	if data, ok := payload["_data"].(map[string]any); ok {
		if t, _ := data["type"].(string); t == "e2e_notification" {
			return false
		}
	}
	return true
}

// message is the parsed webhook payload.
type message struct {
	ChatID    string
	ChatName  string
	Sender    string
	SenderID  string
	Body      string
	Timestamp int64
	IsGroup   bool
	HasMedia  bool
	MediaType string
	MediaURL  string
}

func parseMessage(payload map[string]any) *message {
	m := &message{}
	m.ChatID, _ = payload["from"].(string)
	m.Body, _ = payload["body"].(string)
	switch ts := payload["timestamp"].(type) {
	case float64:
		m.Timestamp = int64(ts)
	case int64:
		m.Timestamp = ts
	}
	m.IsGroup = strings.HasSuffix(m.ChatID, "@g.us")

	if data, ok := payload["_data"].(map[string]any); ok {
		m.Sender, _ = data["notifyName"].(string)
	}
	if m.IsGroup {
		if participant, ok := payload["participant"].(string); ok {
			m.SenderID = participant
		}
	}
	if m.SenderID == "" {
		m.SenderID = m.ChatID
	}
	if m.Sender == "" {
		m.Sender = strings.SplitN(m.SenderID, "@", 2)[0]
	}

	if chatName, ok := payload["chatName"].(string); ok && chatName != "" {
		m.ChatName = chatName
	} else if m.IsGroup {
		m.ChatName = m.ChatID
	} else {
		m.ChatName = m.Sender
	}

	if hasMedia, ok := payload["hasMedia"].(bool); ok && hasMedia {
		if media, ok := payload["media"].(map[string]any); ok {
			m.HasMedia = true
			m.MediaType, _ = media["mimetype"].(string)
			m.MediaURL, _ = media["url"].(string)
		}
	}
	return m
}

// ProcessWebhook parses a gateway payload into a document, or (nil, nil)
// for traffic that should be ignored.
func (p *Plugin) ProcessWebhook(ctx context.Context, body map[string]any) (*datatypes.Document, error) {
	event, _ := body["event"].(string)
	payload, _ := body["payload"].(map[string]any)
	if payload == nil {
		return nil, fmt.Errorf("whatsapp: webhook body has no payload")
	}
	if !shouldProcess(event, payload) {
		return nil, nil
	}

	m := parseMessage(payload)
	if m.Body == "" || m.ChatID == "" || m.Timestamp == 0 {
		return nil, nil
	}

	contentType := datatypes.ContentTypeText
	if m.HasMedia {
		contentType = datatypes.ContentTypeImage
	}
	doc := &datatypes.Document{
		Common: datatypes.CommonMeta{
			Source:      datatypes.SourceWhatsApp,
			SourceID:    fmt.Sprintf("%s:%d", m.ChatID, m.Timestamp),
			ContentType: contentType,
			ChatName:    m.ChatName,
			Sender:      m.Sender,
			Timestamp:   m.Timestamp,
			IsGroup:     m.IsGroup,
		},
		Body: datatypes.TextBody{Content: m.Body},
		Extras: map[string]any{
			"chat_id":   m.ChatID,
			"sender_id": m.SenderID,
			"has_media": m.HasMedia,
		},
	}
	if m.HasMedia {
		doc.Body = datatypes.ImageBody{Caption: m.Body, MimeType: m.MediaType, MediaURL: m.MediaURL}
	}
	return doc, nil
}

func (p *Plugin) handleWebhook(c *gin.Context) {
	app, ok := p.active()
	if !ok {
		// Disabled plugins acknowledge and drop.
		c.JSON(http.StatusOK, gin.H{"status": "disabled"})
		return
	}

	var body map[string]any
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	doc, err := p.ProcessWebhook(c.Request.Context(), body)
	if err != nil {
		slog.Error("WhatsApp webhook processing failed", "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "error"})
		return
	}
	if doc == nil {
		p.mu.Lock()
		p.skipped++
		p.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	ctx := c.Request.Context()
	result, err := app.Ingestor.AddDocument(ctx, doc)
	if err != nil {
		slog.Error("Failed to index WhatsApp message", "source_id", doc.Common.SourceID, "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "error"})
		return
	}

	if !result.Skipped {
		p.afterIngest(ctx, app, doc)
	}
	p.mu.Lock()
	p.processed++
	p.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// afterIngest feeds the conversation buffer and the entity graph.
func (p *Plugin) afterIngest(ctx context.Context, app *plugins.App, doc *datatypes.Document) {
	chatID, _ := doc.Extras["chat_id"].(string)
	senderID, _ := doc.Extras["sender_id"].(string)

	if app.Buffer != nil && chatID != "" {
		app.Buffer.Add(ctx, chatID, retrieval.BufferedMessage{
			Sender:    doc.Common.Sender,
			Message:   doc.Body.Text(),
			Timestamp: doc.Common.Timestamp,
			ChatName:  doc.Common.ChatName,
			IsGroup:   doc.Common.IsGroup,
		})
	}

	if app.Identity == nil {
		return
	}
	phone := ""
	if strings.HasSuffix(senderID, "@c.us") {
		phone = strings.TrimSuffix(senderID, "@c.us")
	}
	personID, err := app.Identity.GetOrCreatePerson(doc.Common.Sender, senderID, phone, "", false)
	if err != nil {
		slog.Debug("Entity resolution failed for sender", "sender", doc.Common.Sender, "error", err)
		return
	}
	if _, err := app.Identity.LinkPersonAsset(personID, "whatsapp_msg", doc.Common.SourceID, identity.RoleSender, 1.0); err != nil {
		slog.Debug("Asset link failed", "error", err)
	}
	if doc.Common.IsGroup && chatID != "" {
		app.Identity.LinkAssets(doc.Common.SourceID, "thread:"+chatID, identity.RelThreadMember, 1.0, "whatsapp")
	}
}

func (p *Plugin) handleSeedContacts(c *gin.Context) {
	app, ok := p.active()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "plugin disabled"})
		return
	}
	var contacts []identity.Contact
	if err := c.BindJSON(&contacts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contact list"})
		return
	}
	result, err := app.Identity.SeedFromContacts(contacts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (p *Plugin) handleTest(c *gin.Context) {
	_, ok := p.active()
	c.JSON(http.StatusOK, gin.H{"plugin": p.Name(), "initialized": ok})
}

func (p *Plugin) handleStatus(c *gin.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{
		"processed": p.processed,
		"skipped":   p.skipped,
		"enabled":   p.initialized,
	})
}
