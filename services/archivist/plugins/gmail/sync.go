// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
	"github.com/AleutianAI/AleutianRecall/services/archivist/identity"
	"github.com/AleutianAI/AleutianRecall/services/archivist/plugins"
	"github.com/AleutianAI/AleutianRecall/services/archivist/retrieval"
)

// SyncOptions configures one sync run.
type SyncOptions struct {
	MaxEmails          int
	LabelIDs           []string
	ProcessedLabel     string
	SignatureMarkers   string
	IncludeAttachments bool
	Force              bool
}

// SyncStats reports one run's outcome.
type SyncStats struct {
	Status      string `json:"status"`
	Synced      int    `json:"synced"`
	Skipped     int    `json:"skipped"`
	Errors      int    `json:"errors"`
	Labeled     int    `json:"labeled"`
	Attachments int    `json:"attachments"`
}

// Syncer pulls emails into the archive. One sync per channel runs at a
// time; cancellation is cooperative via the syncing flag and context.
type Syncer struct {
	client   Client
	ingestor *retrieval.Ingestor
	index    retrieval.Index
	identity *identity.Store

	syncing atomic.Bool
	mu      sync.Mutex
	lastSync  time.Time
	syncCount int

	labelMu          sync.Mutex
	processedLabelID string
}

// NewSyncer wires a syncer. identityStore may be nil.
func NewSyncer(client Client, ingestor *retrieval.Ingestor, index retrieval.Index, identityStore *identity.Store) *Syncer {
	return &Syncer{client: client, ingestor: ingestor, index: index, identity: identityStore}
}

// IsSyncing reports whether a run is in flight.
func (s *Syncer) IsSyncing() bool { return s.syncing.Load() }

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

// Cancel requests a cooperative stop; the pipeline checks between items.
func (s *Syncer) Cancel() { s.syncing.Store(false) }

func (s *Syncer) ensureProcessedLabel(ctx context.Context, name string) string {
	s.labelMu.Lock()
	defer s.labelMu.Unlock()
	if s.processedLabelID != "" {
		return s.processedLabelID
	}
	id, err := s.client.GetOrCreateLabel(ctx, name)
	if err != nil {
		slog.Warn("Could not resolve processed label; emails sync unlabeled", "label", name, "error", err)
		return ""
	}
	s.processedLabelID = id
	return id
}

// Sync runs the pull pipeline: list unprocessed mail, dedup by source_id,
// sanitize, chunk, batch-ingest body and attachments, and add the
// processed label. An empty collection auto-enables force mode so a reset
// re-indexes everything.
func (s *Syncer) Sync(ctx context.Context, opts SyncOptions) *SyncStats {
	if !s.syncing.CompareAndSwap(false, true) {
		return &SyncStats{Status: "already_running"}
	}
	defer s.syncing.Store(false)

	stats := &SyncStats{Status: "complete"}
	if opts.MaxEmails <= 0 {
		opts.MaxEmails = 500
	}
	if opts.ProcessedLabel == "" {
		opts.ProcessedLabel = "rag-indexed"
	}
	if opts.SignatureMarkers == "" {
		opts.SignatureMarkers = "-- ,--,---"
	}

	opts.Force = plugins.AutoForce(ctx, s.index, opts.Force)
	if opts.Force {
		slog.Info("Starting Gmail FORCE re-sync (ignoring processed label)")
	} else {
		slog.Info("Starting Gmail sync")
	}

	labelID := s.ensureProcessedLabel(ctx, opts.ProcessedLabel)
	query := ""
	if !opts.Force && labelID != "" {
		query = "-label:" + opts.ProcessedLabel
	}
	fetchLabels := opts.LabelIDs
	if len(fetchLabels) == 0 {
		fetchLabels = []string{"INBOX"}
	}

	pageToken := ""
	for stats.Synced < opts.MaxEmails {
		if ctx.Err() != nil || !s.syncing.Load() {
			stats.Status = "cancelled"
			break
		}
		page, err := s.client.ListMessages(ctx, fetchLabels, query, min(100, opts.MaxEmails-stats.Synced), pageToken)
		if err != nil {
			slog.Error("Gmail list failed", "error", err)
			stats.Status = "error"
			stats.Errors++
			break
		}
		if len(page.Messages) == 0 {
			break
		}

		for _, stub := range page.Messages {
			if stats.Synced >= opts.MaxEmails || ctx.Err() != nil || !s.syncing.Load() {
				break
			}
			if err := s.syncOne(ctx, stub.ID, labelID, opts, stats); err != nil {
				slog.Error("Failed to sync email", "id", stub.ID, "error", err)
				stats.Errors++
			}
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}

	s.mu.Lock()
	s.lastSync = time.Now()
	s.syncCount += stats.Synced
	s.mu.Unlock()

	slog.Info("Gmail sync finished",
		"synced", stats.Synced, "skipped", stats.Skipped,
		"errors", stats.Errors, "attachments", stats.Attachments)
	return stats
}

func (s *Syncer) syncOne(ctx context.Context, msgID, labelID string, opts SyncOptions, stats *SyncStats) error {
	sourceID := "gmail:" + msgID

	markProcessed := func() {
		if labelID == "" {
			return
		}
		if err := s.client.AddLabel(ctx, msgID, labelID); err == nil {
			stats.Labeled++
		}
	}

	if !opts.Force {
		exists, err := s.index.PointExists(ctx, sourceID)
		if err == nil && exists {
			stats.Skipped++
			// Mark processed anyway so discovery stops returning it.
			markProcessed()
			return nil
		}
	}

	email, err := s.client.GetMessage(ctx, msgID)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	body := SanitizeEmail(email.BodyText, opts.SignatureMarkers)
	if len(body) < retrieval.MinContentChars {
		stats.Skipped++
		markProcessed()
		return nil
	}

	ts := email.Date.Unix()
	if email.Date.IsZero() {
		ts = time.Now().Unix()
	}

	attachmentNames := make([]string, 0, len(email.Attachments))
	for _, a := range email.Attachments {
		attachmentNames = append(attachmentNames, a.Filename)
	}

	doc := &datatypes.Document{
		Common: datatypes.CommonMeta{
			Source:      datatypes.SourceGmail,
			SourceID:    sourceID,
			ContentType: datatypes.ContentTypeText,
			ChatName:    email.Subject,
			Sender:      email.From,
			Timestamp:   ts,
		},
		Body: datatypes.EmailBody{
			Content:         body,
			Subject:         email.Subject,
			From:            email.From,
			To:              email.To,
			Folder:          strings.Join(email.Labels, ","),
			ThreadID:        email.ThreadID,
			AttachmentNames: attachmentNames,
		},
		Extras: map[string]any{
			"to":              strings.Join(firstN(email.To, 5), ","),
			"has_attachments": len(email.Attachments) > 0,
		},
		EmbeddingPrefix: fmt.Sprintf("Email: %s\nFrom: %s\n\n", email.Subject, email.From),
	}

	result, err := s.ingestor.AddDocument(ctx, doc)
	if err != nil {
		return err
	}
	if result.Skipped {
		stats.Skipped++
		markProcessed()
		return nil
	}
	stats.Synced++
	slog.Info("Indexed email", "subject", email.Subject, "chunks", result.Added)

	s.linkEntities(ctx, email, sourceID)

	if opts.IncludeAttachments {
		for _, att := range email.Attachments {
			if err := s.syncAttachment(ctx, email, att, sourceID, opts, stats); err != nil {
				slog.Debug("Attachment indexing failed", "filename", att.Filename, "error", err)
				stats.Errors++
			}
		}
	}

	markProcessed()
	return nil
}

func (s *Syncer) syncAttachment(ctx context.Context, email *Email, att Attachment, baseSourceID string, opts SyncOptions, stats *SyncStats) error {
	data, err := s.client.GetAttachment(ctx, email.ID, att.ID)
	if err != nil {
		return err
	}
	text := s.client.ExtractAttachmentText(data, att.Filename, att.MimeType)
	text = SanitizeEmail(text, opts.SignatureMarkers)
	if len(text) < retrieval.MinContentChars {
		return nil
	}

	attSourceID := fmt.Sprintf("%s:att:%s", baseSourceID, att.Filename)
	doc := &datatypes.Document{
		Common: datatypes.CommonMeta{
			Source:      datatypes.SourceGmail,
			SourceID:    attSourceID,
			ContentType: datatypes.ContentTypeDocument,
			ChatName:    fmt.Sprintf("%s — %s", email.Subject, att.Filename),
			Sender:      email.From,
			Timestamp:   email.Date.Unix(),
		},
		Body: datatypes.TextBody{Content: text},
		Extras: map[string]any{
			"attachment_name": att.Filename,
		},
		EmbeddingPrefix: fmt.Sprintf("Attachment: %s\nEmail: %s\n\n", att.Filename, email.Subject),
	}
	result, err := s.ingestor.AddDocument(ctx, doc)
	if err != nil {
		return err
	}
	if result.Added > 0 {
		stats.Attachments++
		if s.identity != nil {
			s.identity.LinkAssets(attSourceID, baseSourceID, identity.RelAttachmentOf, 1.0, "gmail-sync")
		}
	}
	return nil
}

// linkEntities attaches the email to sender/recipient persons and its
// thread.
func (s *Syncer) linkEntities(ctx context.Context, email *Email, sourceID string) {
	if s.identity == nil {
		return
	}
	name, addr := splitAddress(email.From)
	if addr != "" {
		if personID, err := s.identity.GetOrCreatePerson(orAddr(name, addr), "", "", addr, false); err == nil {
			s.identity.LinkPersonAsset(personID, "gmail", sourceID, identity.RoleSender, 1.0)
		}
	}
	for _, to := range firstN(email.To, 5) {
		name, addr := splitAddress(to)
		if addr == "" {
			continue
		}
		if personID, err := s.identity.GetOrCreatePerson(orAddr(name, addr), "", "", addr, false); err == nil {
			s.identity.LinkPersonAsset(personID, "gmail", sourceID, identity.RoleRecipient, 0.9)
		}
	}
	if email.ThreadID != "" {
		s.identity.LinkAssets(sourceID, "thread:gmail:"+email.ThreadID, identity.RelThreadMember, 1.0, "gmail-sync")
	}
}

// splitAddress parses `Name <addr@host>` or a bare address.
func splitAddress(full string) (name, addr string) {
	full = strings.TrimSpace(full)
	if idx := strings.LastIndex(full, "<"); idx >= 0 && strings.HasSuffix(full, ">") {
		name = strings.Trim(strings.TrimSpace(full[:idx]), `"`)
		addr = strings.ToLower(full[idx+1 : len(full)-1])
		return name, addr
	}
	if strings.Contains(full, "@") {
		return "", strings.ToLower(full)
	}
	return full, ""
}

func orAddr(name, addr string) string {
	if name != "" {
		return name
	}
	return addr
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
