// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTextSingleChunkAtLimit(t *testing.T) {
	text := strings.Repeat("a", 100)
	chunks := SplitText(text, 100, 10)
	if len(chunks) != 1 {
		t.Fatalf("text of exactly maxChars must stay one chunk, got %d", len(chunks))
	}
	if chunks[0] != text {
		t.Error("single chunk must equal input")
	}
}

func TestSplitTextOneOverLimit(t *testing.T) {
	text := strings.Repeat("a", 101)
	chunks := SplitText(text, 100, 10)
	if len(chunks) != 2 {
		t.Fatalf("maxChars+1 must split into two chunks, got %d", len(chunks))
	}
}

func TestSplitTextParagraphBoundaryPreferred(t *testing.T) {
	text := strings.Repeat("x", 50) + "\n\n" + strings.Repeat("y", 80)
	chunks := SplitText(text, 100, 10)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], "\n") {
		t.Errorf("first chunk should end at the paragraph boundary, got %q", chunks[0][len(chunks[0])-5:])
	}
	if strings.Contains(chunks[1], "x") {
		t.Error("no overlap expected on boundary splits")
	}
}

func TestSplitTextSentenceBoundaryFallback(t *testing.T) {
	text := strings.Repeat("x", 40) + ". " + strings.Repeat("y", 80)
	chunks := SplitText(text, 100, 10)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], ".") {
		t.Errorf("first chunk should end at the sentence boundary: %q", chunks[0])
	}
}

func TestSplitTextHardSplitOverlap(t *testing.T) {
	text := strings.Repeat("a", 250)
	chunks := SplitText(text, 100, 20)
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}
	// Hard splits advance by maxChars-overlap, so chunk 2 repeats the last
	// 20 bytes of chunk 1.
	if chunks[0][len(chunks[0])-20:] != chunks[1][:20] {
		t.Error("expected 20-byte overlap between consecutive hard-split chunks")
	}
	// All content must be covered.
	total := ""
	for i, c := range chunks {
		if i == 0 {
			total = c
		} else {
			total += c[20:]
		}
	}
	if total != text {
		t.Errorf("reassembled text length %d, want %d", len(total), len(text))
	}
}

func TestSplitTextNeverBreaksRunes(t *testing.T) {
	text := strings.Repeat("שלום", 100) // 8 bytes per word
	for _, chunk := range SplitText(text, 50, 10) {
		if !utf8.ValidString(chunk) {
			t.Fatalf("chunk contains a broken rune: %q", chunk)
		}
	}
}

func TestIsQualityChunk(t *testing.T) {
	tests := []struct {
		chunk string
		want  bool
	}{
		{"", false},
		{"   \n  ", false},
		{"short", false},
		{strings.Repeat("long enough content ", 3), true},
	}
	for _, tt := range tests {
		if got := IsQualityChunk(tt.chunk); got != tt.want {
			t.Errorf("IsQualityChunk(%q) = %v, want %v", tt.chunk, got, tt.want)
		}
	}
}
