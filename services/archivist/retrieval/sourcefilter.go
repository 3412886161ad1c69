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
	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
)

// snippetChars bounds citation snippets.
const snippetChars = 200

// DisplaySources converts retrieval results into user-facing citations,
// filtered by a minimum score and capped in count. This is orthogonal to
// what the answerer sees - the full node set still reaches the LLM.
func DisplaySources(nodes []datatypes.ScoredNode, minScore float64, maxCount int) []datatypes.SourceInfo {
	if maxCount <= 0 {
		maxCount = 5
	}
	sources := make([]datatypes.SourceInfo, 0, maxCount)
	for _, n := range nodes {
		if n.Score < minScore {
			continue
		}
		source, _ := n.Payload["source"].(string)
		if source == string(datatypes.SourceSystem) {
			continue
		}
		sender, _ := n.Payload["sender"].(string)
		snippet := n.Text
		if len(snippet) > snippetChars {
			snippet = snippet[:backToRuneStart(snippet, snippetChars)]
		}
		sources = append(sources, datatypes.SourceInfo{
			ID:        n.ID,
			Source:    source,
			ChatName:  n.ChatName(),
			Sender:    sender,
			Timestamp: n.Timestamp(),
			Snippet:   snippet,
			Score:     n.Score,
		})
		if len(sources) >= maxCount {
			break
		}
	}
	return sources
}
