// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// SearchFilters is the user-facing filter surface of retrieval. All fields
// combine with AND; Sources and ContentTypes are OR-lists within their field.
type SearchFilters struct {
	ChatName     string   `json:"chat_name,omitempty"`
	Sender       string   `json:"sender,omitempty"`
	Days         int      `json:"days,omitempty"`
	Sources      []string `json:"sources,omitempty"`
	DateFrom     int64    `json:"date_from,omitempty"`
	DateTo       int64    `json:"date_to,omitempty"`
	ContentTypes []string `json:"content_types,omitempty"`
}

// IsZero reports whether no filter is set.
func (f SearchFilters) IsZero() bool {
	return f.ChatName == "" && f.Sender == "" && f.Days == 0 &&
		len(f.Sources) == 0 && f.DateFrom == 0 && f.DateTo == 0 &&
		len(f.ContentTypes) == 0
}

// MinTimestamp resolves the Days filter against now. Returns 0 when no Days
// filter is set.
func (f SearchFilters) MinTimestamp(now time.Time) int64 {
	if f.Days <= 0 {
		return 0
	}
	return now.Unix() - int64(f.Days)*86400
}

// ScoredNode is one retrieval result: a display text, the raw payload, and a
// score whose meaning depends on the retrieval leg (cosine similarity, fixed
// lexical field score, RRF score, or the 0.5 context-expansion score).
type ScoredNode struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Text    string         `json:"text"`
	Payload map[string]any `json:"payload"`
}

// ChatName extracts the payload chat name, if any.
func (n ScoredNode) ChatName() string {
	s, _ := n.Payload["chat_name"].(string)
	return s
}

// Timestamp extracts the payload timestamp, if any.
func (n ScoredNode) Timestamp() int64 {
	switch v := n.Payload["timestamp"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// RAGRequest is the body of POST /rag/query.
type RAGRequest struct {
	Question           string   `json:"question" binding:"required"`
	ConversationID     string   `json:"conversation_id"`
	K                  int      `json:"k"`
	FilterChatName     string   `json:"filter_chat_name"`
	FilterSender       string   `json:"filter_sender"`
	FilterDays         int      `json:"filter_days"`
	FilterSources      []string `json:"filter_sources"`
	FilterDateFrom     int64    `json:"filter_date_from"`
	FilterDateTo       int64    `json:"filter_date_to"`
	FilterContentTypes []string `json:"filter_content_types"`
	SortOrder          string   `json:"sort_order"`
}

// Filters assembles the typed filter set from the request fields.
func (r RAGRequest) Filters() SearchFilters {
	return SearchFilters{
		ChatName:     r.FilterChatName,
		Sender:       r.FilterSender,
		Days:         r.FilterDays,
		Sources:      r.FilterSources,
		DateFrom:     r.FilterDateFrom,
		DateTo:       r.FilterDateTo,
		ContentTypes: r.FilterContentTypes,
	}
}

// SourceInfo is one citation shown to the user.
type SourceInfo struct {
	ID        string  `json:"id"`
	Source    string  `json:"source"`
	ChatName  string  `json:"chat_name"`
	Sender    string  `json:"sender"`
	Timestamp int64   `json:"timestamp"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score"`
}

// RichContent is presentation-ready non-text content attached to an answer
// (image attachments, calendar events, button prompts).
type RichContent struct {
	Kind string         `json:"kind"`
	Data map[string]any `json:"data"`
}

// CostInfo reports LLM spend for one query and the running session total.
type CostInfo struct {
	QueryCostUSD    float64 `json:"query_cost_usd"`
	SessionTotalUSD float64 `json:"session_total_usd"`
}

// RAGResponse is the body returned by POST /rag/query.
type RAGResponse struct {
	Answer         string        `json:"answer"`
	Sources        []SourceInfo  `json:"sources"`
	RichContent    []RichContent `json:"rich_content"`
	ConversationID string        `json:"conversation_id"`
	Cost           CostInfo      `json:"cost"`
}
