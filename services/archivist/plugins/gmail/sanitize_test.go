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
	"strings"
	"testing"
)

const markers = "-- ,--,---"

func TestSanitizeStripsHTML(t *testing.T) {
	html := `<html><head><style>.x{color:red}</style></head><body><p>Hello</p><p>World</p><script>evil()</script></body></html>`
	got := SanitizeEmail(html, markers)
	if strings.Contains(got, "<p>") || strings.Contains(got, "color:red") || strings.Contains(got, "evil") {
		t.Errorf("HTML remnants in output: %q", got)
	}
	if !strings.Contains(got, "Hello") || !strings.Contains(got, "World") {
		t.Errorf("content lost: %q", got)
	}
}

func TestSanitizeCapsQuotedLines(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("Thanks, sounds good.\n")
	for i := 0; i < 10; i++ {
		sb.WriteString("> quoted reply line\n")
	}
	got := SanitizeEmail(sb.String(), markers)
	if strings.Count(got, "quoted reply line") > maxQuotedLines {
		t.Errorf("quote depth not capped: %q", got)
	}
	if !strings.Contains(got, "Thanks, sounds good.") {
		t.Errorf("own content lost: %q", got)
	}
}

func TestSanitizeCutsSignature(t *testing.T) {
	body := strings.Repeat("Real content here. ", 20) + "\n-- \nJohn Doe\nVP of Things\n+1 555 0100"
	got := SanitizeEmail(body, markers)
	if strings.Contains(got, "VP of Things") {
		t.Errorf("signature not removed: %q", got)
	}
	if !strings.Contains(got, "Real content here.") {
		t.Errorf("content lost: %q", got)
	}
}

func TestSanitizeKeepsLeadingDashes(t *testing.T) {
	// A marker in the first 30% of the text must not truncate the email.
	body := "--\n" + strings.Repeat("This is the actual email body. ", 10)
	got := SanitizeEmail(body, markers)
	if !strings.Contains(got, "actual email body") {
		t.Errorf("leading marker truncated the email: %q", got)
	}
}

func TestSanitizeStripsControlChars(t *testing.T) {
	got := SanitizeEmail("hello\x00\x07world\nnext line", markers)
	if strings.ContainsAny(got, "\x00\x07") {
		t.Errorf("control characters kept: %q", got)
	}
	if !strings.Contains(got, "next line") {
		t.Errorf("newlines must survive: %q", got)
	}
}

func TestSplitAddress(t *testing.T) {
	tests := []struct {
		in       string
		wantName string
		wantAddr string
	}{
		{`"Dana Levi" <dana@example.com>`, "Dana Levi", "dana@example.com"},
		{"Dana Levi <Dana@Example.com>", "Dana Levi", "dana@example.com"},
		{"dana@example.com", "", "dana@example.com"},
		{"Dana", "Dana", ""},
	}
	for _, tt := range tests {
		name, addr := splitAddress(tt.in)
		if name != tt.wantName || addr != tt.wantAddr {
			t.Errorf("splitAddress(%q) = (%q, %q), want (%q, %q)", tt.in, name, addr, tt.wantName, tt.wantAddr)
		}
	}
}
