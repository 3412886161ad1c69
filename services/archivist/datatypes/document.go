// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared data model for the archivist service:
// the unified document variant produced by channel plugins, the search filter
// surface, and the request/response types of the HTTP API.
package datatypes

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source identifies the channel a document came from.
type Source string

const (
	SourceWhatsApp      Source = "whatsapp"
	SourceGmail         Source = "gmail"
	SourcePaperless     Source = "paperless"
	SourceCallRecording Source = "call_recording"
	SourceSystem        Source = "system"
)

// ContentType classifies the payload of a document.
type ContentType string

const (
	ContentTypeText              ContentType = "text"
	ContentTypeImage             ContentType = "image"
	ContentTypeDocument          ContentType = "document"
	ContentTypeCallRecording     ContentType = "call_recording"
	ContentTypeConversationChunk ContentType = "conversation_chunk"
)

// CommonMeta carries the fields every indexed document shares regardless of
// channel. SourceID is the global dedup anchor: exactly one logical item per
// SourceID ever exists in the vector store.
//
// Timestamp is Unix seconds. A Timestamp of 0 marks supplementary points
// (conversation chunks) that must never win recency queries.
type CommonMeta struct {
	Source      Source      `json:"source"`
	SourceID    string      `json:"source_id"`
	ContentType ContentType `json:"content_type"`
	ChatName    string      `json:"chat_name"`
	Sender      string      `json:"sender"`
	Timestamp   int64       `json:"timestamp"`
	IsGroup     bool        `json:"is_group"`
}

// Body is the tagged content variant of a Document. Exactly one concrete
// body type is attached per document.
type Body interface {
	isBody()
	// Text returns the primary text used for indexing and display.
	Text() string
}

// TextBody is a plain message or document chunk.
type TextBody struct {
	Content string
}

func (TextBody) isBody()        {}
func (b TextBody) Text() string { return b.Content }

// EmailBody is an email message body plus envelope metadata.
type EmailBody struct {
	Content string
	Subject string
	From    string
	To      []string
	Folder  string
	ThreadID string
	AttachmentNames []string
}

func (EmailBody) isBody()        {}
func (b EmailBody) Text() string { return b.Content }

// AudioBody is a call transcript with diarization metadata.
type AudioBody struct {
	Transcript      string
	DurationSeconds int
	Participants    []string
	Language        string
	Provider        string
}

func (AudioBody) isBody()        {}
func (b AudioBody) Text() string { return b.Transcript }

// ImageBody is an image caption or description with a media reference.
type ImageBody struct {
	Caption  string
	MimeType string
	MediaURL string
}

func (ImageBody) isBody()        {}
func (b ImageBody) Text() string { return b.Caption }

// Document is the unified unit of ingestion. Channel-specific fields live in
// Extras, a flat map the vector-store adapter projects verbatim into the
// point payload.
type Document struct {
	Common CommonMeta
	Body   Body
	// Extras holds per-channel payload fields (folder, thread_id,
	// recording_id, media_type, ...). Values must be string, int64,
	// float64 or bool.
	Extras map[string]any
	// EmbeddingPrefix, when set, is prepended to the chunk text before
	// embedding ("Email: <subject>\nFrom: <from>\n\n"). The stored payload
	// keeps the raw chunk.
	EmbeddingPrefix string
}

// PayloadMap flattens the document into the vector point payload.
// The chunk text is stored under "message"; chunk bookkeeping fields are
// added by the ingestor when a document splits.
func (d *Document) PayloadMap(chunkText string) map[string]any {
	payload := map[string]any{
		"source":       string(d.Common.Source),
		"source_id":    d.Common.SourceID,
		"content_type": string(d.Common.ContentType),
		"chat_name":    d.Common.ChatName,
		"sender":       d.Common.Sender,
		"timestamp":    d.Common.Timestamp,
		"is_group":     d.Common.IsGroup,
		"message":      chunkText,
	}
	switch b := d.Body.(type) {
	case EmailBody:
		payload["folder"] = b.Folder
		payload["thread_id"] = b.ThreadID
	case AudioBody:
		payload["duration_seconds"] = int64(b.DurationSeconds)
		payload["language_detected"] = b.Language
		payload["transcription_provider"] = b.Provider
	case ImageBody:
		payload["media_type"] = b.MimeType
		payload["media_url"] = b.MediaURL
	}
	for k, v := range d.Extras {
		payload[k] = v
	}
	return payload
}

// pointNamespace seeds deterministic point ids. Re-ingesting the same
// (source, source_id, chunk) always yields the same UUID, making upserts
// idempotent.
var pointNamespace = uuid.MustParse("7b3d9a42-5c1e-4f8a-9d27-f04a81c6b5e9")

// PointID derives the deterministic vector-point id for one chunk of a
// document.
func PointID(source Source, sourceID string, chunkIndex int) string {
	name := fmt.Sprintf("%s|%s|%d", source, sourceID, chunkIndex)
	return uuid.NewSHA1(pointNamespace, []byte(name)).String()
}

// ChunkSourceID returns the per-chunk dedup id. Chunk 0 keeps the base id
// so the dedup predicate point_exists(base) stays true for multi-chunk
// documents; later chunks get "<base>:chunk:<i>".
func ChunkSourceID(base string, chunkIndex, chunkTotal int) string {
	if chunkTotal <= 1 || chunkIndex == 0 {
		return base
	}
	return fmt.Sprintf("%s:chunk:%d", base, chunkIndex)
}

// FormatTimestamp renders a Unix timestamp for display text inside retrieval
// results. A zero timestamp renders as an empty string.
func FormatTimestamp(ts int64, loc *time.Location) string {
	if ts <= 0 {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.Unix(ts, 0).In(loc).Format("2006-01-02 15:04")
}
