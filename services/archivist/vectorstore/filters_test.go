// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectorstore

import (
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
)

func TestFilterFromEmpty(t *testing.T) {
	if got := filterFrom(datatypes.SearchFilters{}, time.Now(), nil); got != nil {
		t.Errorf("empty filters should produce nil, got %v", got)
	}
}

func TestFilterFromConditionCount(t *testing.T) {
	tests := []struct {
		name    string
		filters datatypes.SearchFilters
		want    int
	}{
		{"chat only", datatypes.SearchFilters{ChatName: "Family"}, 1},
		{"chat and sender", datatypes.SearchFilters{ChatName: "Family", Sender: "Alice"}, 2},
		{"days", datatypes.SearchFilters{Days: 7}, 1},
		{"date range", datatypes.SearchFilters{DateFrom: 100, DateTo: 200}, 1},
		{"sources and types", datatypes.SearchFilters{Sources: []string{"gmail", "whatsapp"}, ContentTypes: []string{"text"}}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filterFrom(tt.filters, time.Now(), nil)
			if got == nil {
				t.Fatal("expected non-nil filter")
			}
			if len(got.Must) != tt.want {
				t.Errorf("must conditions = %d, want %d", len(got.Must), tt.want)
			}
		})
	}
}

func TestFilterFromDaysComputesMinTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	f := filterFrom(datatypes.SearchFilters{Days: 2}, now, nil)
	if f == nil || len(f.Must) != 1 {
		t.Fatalf("unexpected filter: %v", f)
	}
	r := f.Must[0].GetField().GetRange()
	if r == nil || r.Gte == nil {
		t.Fatalf("expected range condition, got %v", f.Must[0])
	}
	want := float64(1_700_000_000 - 2*86400)
	if *r.Gte != want {
		t.Errorf("gte = %v, want %v", *r.Gte, want)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	payload := qdrant.NewValueMap(map[string]any{
		"chat_name": "Family",
		"timestamp": int64(1234),
		"is_group":  true,
		"score":     0.5,
	})
	got := payloadToMap(payload)
	if got["chat_name"] != "Family" {
		t.Errorf("chat_name = %v", got["chat_name"])
	}
	if got["timestamp"] != int64(1234) {
		t.Errorf("timestamp = %v (%T)", got["timestamp"], got["timestamp"])
	}
	if got["is_group"] != true {
		t.Errorf("is_group = %v", got["is_group"])
	}
	if got["score"] != 0.5 {
		t.Errorf("score = %v", got["score"])
	}
}
