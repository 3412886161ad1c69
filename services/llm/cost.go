// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import "strings"

// modelPrice holds USD cost per 1M tokens.
type modelPrice struct {
	input  float64
	output float64
}

// priceTable maps model-name prefixes to prices. Longest matching prefix
// wins so dated snapshots ("gpt-4o-mini-2024-07-18") resolve correctly.
var priceTable = map[string]modelPrice{
	"gpt-4o-mini":            {input: 0.15, output: 0.60},
	"gpt-4o":                 {input: 2.50, output: 10.00},
	"gpt-4.1-mini":           {input: 0.40, output: 1.60},
	"gpt-4.1":                {input: 2.00, output: 8.00},
	"text-embedding-3-large": {input: 0.13},
	"text-embedding-3-small": {input: 0.02},
}

// CostUSD computes the dollar cost of one call from its token usage.
// Unknown models cost zero.
func CostUSD(model string, usage Usage) float64 {
	var best string
	for prefix := range priceTable {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return 0
	}
	price := priceTable[best]
	return float64(usage.PromptTokens)/1_000_000*price.input +
		float64(usage.CompletionTokens)/1_000_000*price.output
}
