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
	"time"
)

// Attachment is one attachment's metadata.
type Attachment struct {
	ID       string
	Filename string
	MimeType string
}

// Email is a fully fetched, already-parsed message.
type Email struct {
	ID          string
	ThreadID    string
	Subject     string
	From        string
	To          []string
	Date        time.Time
	BodyText    string
	Labels      []string
	Attachments []Attachment
}

// Stub is a message reference from a list call.
type Stub struct {
	ID string
}

// ListPage is one page of message stubs.
type ListPage struct {
	Messages      []Stub
	NextPageToken string
}

// Client is the Gmail API surface the syncer consumes. The OAuth flow and
// REST wrapper live outside the core; the syncer only needs these calls.
type Client interface {
	// ListMessages returns message stubs under the given labels matching
	// the query (e.g. "-label:rag-indexed" to exclude processed mail).
	ListMessages(ctx context.Context, labelIDs []string, query string, maxResults int, pageToken string) (*ListPage, error)
	// GetMessage fetches and parses one full message.
	GetMessage(ctx context.Context, id string) (*Email, error)
	// GetAttachment fetches one attachment's bytes.
	GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
	// ExtractAttachmentText converts attachment bytes to plain text
	// (PDF/DOCX/TXT/CSV). Unsupported types return "".
	ExtractAttachmentText(data []byte, filename, mimeType string) string
	// GetOrCreateLabel resolves the processed-marker label, creating it on
	// first use.
	GetOrCreateLabel(ctx context.Context, name string) (string, error)
	// AddLabel marks a message processed.
	AddLabel(ctx context.Context, messageID, labelID string) error
	// Ping verifies connectivity for health checks.
	Ping(ctx context.Context) error
}
