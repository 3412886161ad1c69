// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chatengine

import (
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianRecall/services/archivist/conversation"
)

func TestBuildSystemPromptInjectsDates(t *testing.T) {
	loc, _ := time.LoadLocation("Asia/Jerusalem")
	// 2026-08-03 09:30 UTC is a Monday.
	now := time.Date(2026, 8, 3, 9, 30, 0, 0, time.UTC)

	prompt := BuildSystemPrompt("", now, loc)
	if strings.Contains(prompt, "{current_datetime}") || strings.Contains(prompt, "{hebrew_date}") {
		t.Error("placeholders not substituted")
	}
	if !strings.Contains(prompt, "Monday, August 3, 2026") {
		t.Errorf("english date missing: %s", prompt)
	}
	if !strings.Contains(prompt, "יום שני") {
		t.Errorf("hebrew weekday missing: %s", prompt)
	}
	// 09:30 UTC renders as 12:30 Jerusalem time in August.
	if !strings.Contains(prompt, "12:30") {
		t.Errorf("timezone not applied: %s", prompt)
	}
}

func TestBuildSystemPromptCustomTemplate(t *testing.T) {
	prompt := BuildSystemPrompt("Now: {current_datetime}", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), time.UTC)
	if !strings.HasPrefix(prompt, "Now: Thursday") {
		t.Errorf("custom template not used: %s", prompt)
	}
}

func TestTrimHistoryByTokens(t *testing.T) {
	long := strings.Repeat("word ", 400)
	history := []conversation.Turn{
		{UserText: long, AssistantText: long},   // oldest, expensive
		{UserText: "short q", AssistantText: "short a"},
		{UserText: "latest q", AssistantText: "latest a"},
	}

	trimmed := trimHistoryByTokens(history, 100)
	if len(trimmed) == len(history) {
		t.Fatal("over-budget history not trimmed")
	}
	// The newest turn always survives trimming order (oldest drop first).
	if trimmed[len(trimmed)-1].UserText != "latest q" {
		t.Errorf("newest turn lost: %+v", trimmed)
	}

	// A generous budget keeps everything.
	kept := trimHistoryByTokens(history, 1_000_000)
	if len(kept) != 3 {
		t.Errorf("under-budget history trimmed: %d", len(kept))
	}
}
