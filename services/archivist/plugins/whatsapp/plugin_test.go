// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package whatsapp

import (
	"context"
	"testing"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
)

func webhookBody(event string, payload map[string]any) map[string]any {
	return map[string]any{"event": event, "payload": payload}
}

func TestProcessWebhookFiltersNoise(t *testing.T) {
	p := &Plugin{}
	ctx := context.Background()

	tests := []struct {
		name string
		body map[string]any
	}{
		{"ack event", webhookBody("message_ack", map[string]any{"from": "x@c.us"})},
		{"newsletter", webhookBody("message", map[string]any{"from": "chan@newsletter", "body": "hi", "timestamp": float64(100)})},
		{"broadcast", webhookBody("message", map[string]any{"from": "status@broadcast", "body": "hi", "timestamp": float64(100)})},
		{"e2e notification", webhookBody("message", map[string]any{
			"from": "x@c.us", "body": "hi", "timestamp": float64(100),
			"_data": map[string]any{"type": "e2e_notification"},
		})},
		{"empty body", webhookBody("message", map[string]any{"from": "x@c.us", "timestamp": float64(100)})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := p.ProcessWebhook(ctx, tt.body)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if doc != nil {
				t.Errorf("payload should have been ignored, got %+v", doc)
			}
		})
	}
}

func TestProcessWebhookBuildsDocument(t *testing.T) {
	p := &Plugin{}
	doc, err := p.ProcessWebhook(context.Background(), webhookBody("message", map[string]any{
		"from":      "972501234567@c.us",
		"body":      "We meet at Bistro at 7pm on Friday.",
		"timestamp": float64(1700000000),
		"_data":     map[string]any{"notifyName": "Alice"},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if doc == nil {
		t.Fatal("expected a document")
	}
	if doc.Common.Source != datatypes.SourceWhatsApp {
		t.Errorf("source = %q", doc.Common.Source)
	}
	if doc.Common.SourceID != "972501234567@c.us:1700000000" {
		t.Errorf("source_id = %q", doc.Common.SourceID)
	}
	if doc.Common.Sender != "Alice" || doc.Common.IsGroup {
		t.Errorf("sender/is_group wrong: %+v", doc.Common)
	}
	if doc.Body.Text() != "We meet at Bistro at 7pm on Friday." {
		t.Errorf("body = %q", doc.Body.Text())
	}
}

func TestProcessWebhookGroupMessage(t *testing.T) {
	p := &Plugin{}
	doc, err := p.ProcessWebhook(context.Background(), webhookBody("message", map[string]any{
		"from":        "1234-5678@g.us",
		"chatName":    "Family",
		"participant": "972501234567@c.us",
		"body":        "Confirmed, see you there.",
		"timestamp":   float64(1700000050),
		"_data":       map[string]any{"notifyName": "Bob"},
	}))
	if err != nil || doc == nil {
		t.Fatalf("doc=%v err=%v", doc, err)
	}
	if !doc.Common.IsGroup || doc.Common.ChatName != "Family" {
		t.Errorf("group parsing wrong: %+v", doc.Common)
	}
	if doc.Extras["sender_id"] != "972501234567@c.us" {
		t.Errorf("participant not captured: %v", doc.Extras)
	}
}

func TestProcessWebhookMediaCaption(t *testing.T) {
	p := &Plugin{}
	doc, _ := p.ProcessWebhook(context.Background(), webhookBody("message", map[string]any{
		"from":      "972501234567@c.us",
		"body":      "Look at this sunset photo",
		"timestamp": float64(1700000100),
		"hasMedia":  true,
		"media":     map[string]any{"mimetype": "image/jpeg", "url": "http://gw/media/1"},
	}))
	if doc == nil {
		t.Fatal("expected a document")
	}
	if doc.Common.ContentType != datatypes.ContentTypeImage {
		t.Errorf("content_type = %q", doc.Common.ContentType)
	}
	body, ok := doc.Body.(datatypes.ImageBody)
	if !ok || body.MimeType != "image/jpeg" {
		t.Errorf("image body wrong: %+v", doc.Body)
	}
}
