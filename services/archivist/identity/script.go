// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package identity

import (
	"regexp"
	"strings"
	"unicode"
)

// Script classifies the writing system of a name or alias.
type Script string

const (
	ScriptHebrew  Script = "hebrew"
	ScriptLatin   Script = "latin"
	ScriptMixed   Script = "mixed"
	ScriptNumeric Script = "numeric"
	ScriptUnknown Script = "unknown"
)

// DetectScript returns the primary script of text. Hebrew is the code range
// U+0590–U+05FF; latin is A-Za-z. Both present → mixed.
func DetectScript(text string) Script {
	hasHebrew := false
	hasLatin := false
	for _, r := range text {
		switch {
		case r >= 0x0590 && r <= 0x05FF:
			hasHebrew = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			hasLatin = true
		}
	}
	switch {
	case hasHebrew && hasLatin:
		return ScriptMixed
	case hasHebrew:
		return ScriptHebrew
	case hasLatin:
		return ScriptLatin
	}
	return ScriptUnknown
}

// garbageNamePatterns match contact names that are not real person or group
// names: pure punctuation, pure digits, paren-wrapped fragments, bare
// quotes, star-prefixed short codes, single characters, pure emoji.
var garbageNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[^\p{L}\p{N}_]+$`),
	regexp.MustCompile(`^\d+$`),
	regexp.MustCompile(`^\(.*\)$`),
	regexp.MustCompile(`^['"]+$`),
	regexp.MustCompile(`^\*\w{0,2}$`),
	regexp.MustCompile(`^.{0,1}$`),
	regexp.MustCompile(`^[\x{1F300}-\x{1FAFF}\s]+$`),
}

// IsValidPersonName reports whether name looks like a real person/group
// name. Names shorter than two characters, matching a garbage pattern, or
// containing no letter in any script are rejected.
func IsValidPersonName(name string) bool {
	stripped := strings.TrimSpace(name)
	if len([]rune(stripped)) < 2 {
		return false
	}
	for _, pattern := range garbageNamePatterns {
		if pattern.MatchString(stripped) {
			return false
		}
	}
	for _, r := range stripped {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// phoneStripRe removes whitespace, dashes, parens and plus signs.
var phoneStripRe = regexp.MustCompile(`[\s\-\(\)\+]`)

// NormalizePhone canonicalizes a phone number for comparison: strip
// whitespace, dashes, parens and leading + or 0 ("+972-50-123-4567" →
// "972501234567").
func NormalizePhone(phone string) string {
	if phone == "" {
		return ""
	}
	cleaned := phoneStripRe.ReplaceAllString(phone, "")
	return strings.TrimLeft(cleaned, "0")
}

// isNumericAlias reports whether an alias is a phone-style numeric string.
func isNumericAlias(alias string) bool {
	cleaned := strings.NewReplacer("+", "", "-", "", " ", "").Replace(alias)
	if cleaned == "" {
		return false
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// lidSuffix marks WhatsApp linked identifiers whose digits are not phone
// numbers.
const lidSuffix = "@lid"

// lidPhoneImpostor reports whether phone is actually the digits of a linked
// id and must not be stored as a phone number.
func lidPhoneImpostor(whatsappID, phone string) bool {
	if phone == "" || !strings.HasSuffix(whatsappID, lidSuffix) {
		return false
	}
	return strings.TrimPrefix(phone, "+") == strings.TrimSuffix(whatsappID, lidSuffix)
}
