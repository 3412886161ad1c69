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
	"unicode/utf8"
)

const (
	// MaxChunkChars keeps chunks well under the embedding token limit even
	// for base64/HTML-heavy content (≈1 char/token worst case).
	MaxChunkChars = 6000

	// ChunkOverlapChars is the overlap applied on hard splits so sentences
	// cut mid-way remain searchable in both chunks.
	ChunkOverlapChars = 200

	// MinContentChars is the minimum useful text length; shorter documents
	// and chunks are skipped (but still marked processed upstream).
	MinContentChars = 20

	// EmbeddingMaxChars bounds text sent to the embedding provider.
	// 8191-token limit → 7000-char safety for worst-case tokenisation.
	EmbeddingMaxChars = 7000
)

// SplitText splits text into chunks of at most maxChars bytes.
//
// Boundaries are preferred in order: paragraph (double newline), sentence
// (". "), hard split. Overlap applies only on hard splits - a clean
// boundary split loses nothing, so duplicating text there would only
// inflate the index. Hard splits never cut a UTF-8 rune in half.
//
// A text of length ≤ maxChars returns exactly one chunk.
func SplitText(text string, maxChars, overlap int) []string {
	if maxChars <= 0 {
		maxChars = MaxChunkChars
	}
	if overlap < 0 || overlap >= maxChars {
		overlap = ChunkOverlapChars
	}
	if len(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + maxChars
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}

		hard := false
		boundary := strings.LastIndex(text[start:end], "\n\n")
		if boundary <= 0 {
			boundary = strings.LastIndex(text[start:end], ". ")
		}
		if boundary <= 0 {
			boundary = backToRuneStart(text, maxChars+start) - start
			hard = true
		} else {
			boundary++ // keep the delimiter character in the left chunk
		}

		chunks = append(chunks, text[start:start+boundary])
		if hard {
			start = backToRuneStart(text, start+boundary-overlap)
		} else {
			start += boundary
		}
	}
	return chunks
}

// backToRuneStart moves pos left until it sits on a UTF-8 rune boundary.
func backToRuneStart(text string, pos int) int {
	for pos > 0 && pos < len(text) && !utf8.RuneStart(text[pos]) {
		pos--
	}
	return pos
}

// IsQualityChunk rejects chunks too short to carry meaning.
func IsQualityChunk(chunk string) bool {
	return len(strings.TrimSpace(chunk)) >= MinContentChars
}
