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
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
)

// maxDocumentDisplayChars truncates very long document text for display.
const maxDocumentDisplayChars = 2000

// renderNodeText builds the display text for a retrieved point from its
// payload. Messages render as "[time] sender in chat: message"; documents
// render with a title line and truncated body.
func renderNodeText(payload map[string]any, loc *time.Location) string {
	chatName, _ := payload["chat_name"].(string)
	sender, _ := payload["sender"].(string)
	message, _ := payload["message"].(string)
	source, _ := payload["source"].(string)

	var ts int64
	switch v := payload["timestamp"].(type) {
	case int64:
		ts = v
	case float64:
		ts = int64(v)
	}

	if message == "" {
		return ""
	}
	formatted := datatypes.FormatTimestamp(ts, loc)

	if source == string(datatypes.SourcePaperless) {
		body := message
		if len(body) > maxDocumentDisplayChars {
			body = body[:maxDocumentDisplayChars]
		}
		if sender != "" {
			return fmt.Sprintf("[%s] %s in %s:\n%s", formatted, sender, chatName, body)
		}
		return fmt.Sprintf("[%s] Document '%s':\n%s", formatted, chatName, body)
	}

	if sender == "" {
		sender = "Unknown"
	}
	if chatName == "" {
		chatName = "Unknown"
	}
	return fmt.Sprintf("[%s] %s in %s: %s", formatted, sender, chatName, message)
}

// fillTexts populates Text on nodes that have none, dropping nodes whose
// payload yields no displayable text.
func fillTexts(nodes []datatypes.ScoredNode, loc *time.Location) []datatypes.ScoredNode {
	out := nodes[:0]
	for _, n := range nodes {
		if n.Text == "" {
			n.Text = renderNodeText(n.Payload, loc)
		}
		if n.Text != "" {
			out = append(out, n)
		}
	}
	return out
}
