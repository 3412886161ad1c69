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
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
)

// filterFrom projects the typed filter surface into a Qdrant filter.
// All user filters are must (AND) conditions; Sources and ContentTypes
// become keyword OR-matches within their field. Returns nil when nothing is
// set so callers can pass it straight through.
func filterFrom(f datatypes.SearchFilters, now time.Time, extra []*qdrant.Condition) *qdrant.Filter {
	var must []*qdrant.Condition

	if f.ChatName != "" {
		must = append(must, qdrant.NewMatch("chat_name", f.ChatName))
	}
	if f.Sender != "" {
		must = append(must, qdrant.NewMatch("sender", f.Sender))
	}
	if min := f.MinTimestamp(now); min > 0 {
		must = append(must, qdrant.NewRange("timestamp", &qdrant.Range{
			Gte: qdrant.PtrOf(float64(min)),
		}))
	}
	if f.DateFrom > 0 || f.DateTo > 0 {
		r := &qdrant.Range{}
		if f.DateFrom > 0 {
			r.Gte = qdrant.PtrOf(float64(f.DateFrom))
		}
		if f.DateTo > 0 {
			r.Lte = qdrant.PtrOf(float64(f.DateTo))
		}
		must = append(must, qdrant.NewRange("timestamp", r))
	}
	if len(f.Sources) > 0 {
		must = append(must, qdrant.NewMatchKeywords("source", f.Sources...))
	}
	if len(f.ContentTypes) > 0 {
		must = append(must, qdrant.NewMatchKeywords("content_type", f.ContentTypes...))
	}
	must = append(must, extra...)

	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// payloadToMap converts a Qdrant payload into plain Go values. Nested lists
// flatten to []any; unsupported kinds are dropped.
func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if converted, ok := valueToAny(v); ok {
			out[k] = converted
		}
	}
	return out
}

func valueToAny(v *qdrant.Value) (any, bool) {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue, true
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue, true
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue, true
	case *qdrant.Value_BoolValue:
		return kind.BoolValue, true
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		list := make([]any, 0, len(items))
		for _, item := range items {
			if converted, ok := valueToAny(item); ok {
				list = append(list, converted)
			}
		}
		return list, true
	default:
		return nil, false
	}
}
