// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "testing"

func TestPointIDDeterministic(t *testing.T) {
	a := PointID(SourceWhatsApp, "chat_A:1000", 0)
	b := PointID(SourceWhatsApp, "chat_A:1000", 0)
	if a != b {
		t.Errorf("same inputs produced different ids: %s vs %s", a, b)
	}

	c := PointID(SourceWhatsApp, "chat_A:1000", 1)
	if a == c {
		t.Error("different chunk indexes must produce different ids")
	}
	d := PointID(SourceGmail, "chat_A:1000", 0)
	if a == d {
		t.Error("different sources must produce different ids")
	}
}

func TestChunkSourceID(t *testing.T) {
	tests := []struct {
		base  string
		idx   int
		total int
		want  string
	}{
		{"gmail:abc", 0, 1, "gmail:abc"},
		{"gmail:abc", 0, 3, "gmail:abc"},
		{"gmail:abc", 2, 3, "gmail:abc:chunk:2"},
	}
	for _, tt := range tests {
		if got := ChunkSourceID(tt.base, tt.idx, tt.total); got != tt.want {
			t.Errorf("ChunkSourceID(%q,%d,%d) = %q, want %q", tt.base, tt.idx, tt.total, got, tt.want)
		}
	}
}

func TestPayloadMapCarriesChannelFields(t *testing.T) {
	doc := &Document{
		Common: CommonMeta{
			Source:      SourceGmail,
			SourceID:    "gmail:m1",
			ContentType: ContentTypeText,
			ChatName:    "Invoice 42",
			Sender:      "billing@example.com",
			Timestamp:   1700000000,
		},
		Body: EmailBody{
			Content:  "please find attached",
			Subject:  "Invoice 42",
			From:     "billing@example.com",
			Folder:   "INBOX",
			ThreadID: "t9",
		},
		Extras: map[string]any{"has_attachments": true},
	}

	payload := doc.PayloadMap("please find attached")
	if payload["source"] != "gmail" || payload["source_id"] != "gmail:m1" {
		t.Errorf("common fields missing from payload: %v", payload)
	}
	if payload["folder"] != "INBOX" || payload["thread_id"] != "t9" {
		t.Errorf("email fields missing from payload: %v", payload)
	}
	if payload["has_attachments"] != true {
		t.Errorf("extras missing from payload: %v", payload)
	}
	if payload["message"] != "please find attached" {
		t.Errorf("chunk text not stored under message: %v", payload)
	}
}
