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
	"unicode"
)

// hebrewPrefixes are the prepositions, conjunctions and articles that attach
// directly to Hebrew words: ה ב ל מ ש כ ו.
const hebrewPrefixes = "הבלמשכו"

// hitpaelSuffixes are verb conjugation suffixes stripped after the הת prefix.
var hitpaelSuffixes = []string{"תי", "נו", "תם", "תן", "ת", "ה", "ו", "י"}

// nounSuffixes are noun endings stripped from the original token; a י/ו infix
// is kept (גירושין → גיר, גירוש).
var nounSuffixes = []string{"ושין", "ושים", "ין", "ים", "ות", "ה"}

// verbSuffixes are conjugation suffixes stripped from the original token.
var verbSuffixes = []string{"תי", "נו", "תם", "תן", "ת", "ה"}

// TokenizeQuery splits a query into search tokens: Unicode words of at least
// 3 runes, deduplicated case-insensitively in order, with Hebrew tokens
// expanded into morphological variants.
//
// No stop-word list is applied - the lexical leg ORs tokens, so common words
// only produce more candidates and rank fusion handles relevance.
func TokenizeQuery(query string) []string {
	var tokens []string
	var current []rune
	flush := func() {
		if len(current) >= 3 {
			tokens = append(tokens, string(current))
		}
		current = current[:0]
	}
	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			current = append(current, r)
		} else {
			flush()
		}
	}
	flush()

	seen := make(map[string]bool, len(tokens))
	unique := tokens[:0]
	for _, t := range tokens {
		low := strings.ToLower(t)
		if !seen[low] {
			seen[low] = true
			unique = append(unique, t)
		}
	}
	return ExpandHebrewTokens(unique)
}

// ExpandHebrewTokens adds morphological variants for Hebrew tokens: prefix
// stripping (up to two letters), the Hitpael verb pattern (הת + root,
// applied to the token and to each prefix-stripped variant), noun suffix
// stripping, and verb suffix stripping. Non-Hebrew tokens pass through
// unchanged. All variants are at least 2 runes and deduplicated
// case-insensitively.
//
// Example: "שהתגרשתי" expands to include "התגרשתי", "תגרשתי", "גרשתי" and
// the root "גרש", which lexically matches "גירושין".
func ExpandHebrewTokens(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	var expanded []string

	add := func(candidate []rune, minLen int) {
		if len(candidate) < minLen {
			return
		}
		s := string(candidate)
		low := strings.ToLower(s)
		if seen[low] {
			return
		}
		seen[low] = true
		expanded = append(expanded, s)
	}

	// hitpael derives the verb root from a הת-prefixed form.
	hitpael := func(word []rune) {
		if len(word) < 5 || string(word[:2]) != "הת" {
			return
		}
		base := word[2:]
		for _, suffix := range hitpaelSuffixes {
			sr := []rune(suffix)
			if len(base) > 3 && hasRuneSuffix(base, sr) {
				add(base[:len(base)-len(sr)], 2)
				break
			}
		}
		add(base, 3)
	}

	for _, token := range tokens {
		low := strings.ToLower(token)
		if !seen[low] {
			seen[low] = true
			expanded = append(expanded, token)
		}
		if !containsHebrew(token) {
			continue
		}
		runes := []rune(token)

		// Strip up to two leading prefix letters, keeping every
		// intermediate form as a candidate.
		variants := [][]rune{runes}
		word := runes
		for i := 0; i < 2; i++ {
			if len(word) > 3 && strings.ContainsRune(hebrewPrefixes, word[0]) {
				word = word[1:]
				add(word, 3)
				variants = append(variants, word)
			} else {
				break
			}
		}

		for _, v := range variants {
			hitpael(v)
		}

		// Noun suffixes: גירושין → גיר (ושין) and גירוש (ין).
		for _, suffix := range nounSuffixes {
			sr := []rune(suffix)
			if len(runes) > len(sr)+2 && hasRuneSuffix(runes, sr) {
				add(runes[:len(runes)-len(sr)], 2)
			}
		}

		// Verb suffixes on the original token.
		for _, suffix := range verbSuffixes {
			sr := []rune(suffix)
			if len(runes) > len(sr)+2 && hasRuneSuffix(runes, sr) {
				add(runes[:len(runes)-len(sr)], 3)
				break
			}
		}
	}
	return expanded
}

func containsHebrew(s string) bool {
	for _, r := range s {
		if r >= 0x0590 && r <= 0x05FF {
			return true
		}
	}
	return false
}

func hasRuneSuffix(word, suffix []rune) bool {
	if len(suffix) > len(word) {
		return false
	}
	offset := len(word) - len(suffix)
	for i, r := range suffix {
		if word[offset+i] != r {
			return false
		}
	}
	return true
}
