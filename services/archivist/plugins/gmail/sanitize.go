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
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// maxQuotedLines keeps the first few reply-quote lines for context and
// drops the rest of the quoted chain.
const maxQuotedLines = 3

var (
	multiBlankRe  = regexp.MustCompile(`\n{3,}`)
	multiSpaceRe  = regexp.MustCompile(`[^\S\n]{2,}`)
)

// SanitizeEmail cleans a raw email body for embedding: control characters
// stripped, HTML converted to text, reply-quote depth capped, signatures
// removed after the configured markers (comma-separated, matched only in
// the latter 70% of the text), whitespace normalised.
func SanitizeEmail(raw string, signatureMarkers string) string {
	if raw == "" {
		return ""
	}
	text := stripControl(raw)

	if strings.Contains(text, "<") && strings.Contains(text, ">") {
		text = stripHTML(text)
	}

	// Cap consecutive quoted lines from reply chains.
	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	quoted := 0
	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, ">") {
			quoted++
			if quoted <= maxQuotedLines {
				cleaned = append(cleaned, strings.TrimLeft(stripped, "> "))
			}
		} else {
			quoted = 0
			cleaned = append(cleaned, line)
		}
	}
	text = strings.Join(cleaned, "\n")

	// Cut signatures. Markers only count in the latter portion so a leading
	// "--" in content never truncates the whole email.
	for _, marker := range strings.Split(signatureMarkers, ",") {
		marker = strings.TrimSpace(marker)
		if marker == "" {
			continue
		}
		if idx := strings.Index(text, marker); idx > 0 && idx > len(text)*3/10 {
			text = text[:idx]
			break
		}
	}

	text = multiBlankRe.ReplaceAllString(text, "\n\n")
	text = multiSpaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// stripControl removes Unicode control characters except newline and tab.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// stripHTML converts HTML to plain text, dropping script and style blocks.
// Unparseable input falls back to a crude tag strip.
func stripHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return crudeTagStrip(html)
	}
	doc.Find("script, style, head").Remove()
	// Block elements become line breaks so paragraphs survive flattening.
	doc.Find("p, div, br, li, tr, h1, h2, h3, h4").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return doc.Text()
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

func crudeTagStrip(html string) string {
	return tagRe.ReplaceAllString(html, " ")
}
