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
	"fmt"
	"strings"
	"time"
)

// hebrewDays maps weekday names for the bilingual date line.
var hebrewDays = map[time.Weekday]string{
	time.Sunday:    "יום ראשון",
	time.Monday:    "יום שני",
	time.Tuesday:   "יום שלישי",
	time.Wednesday: "יום רביעי",
	time.Thursday:  "יום חמישי",
	time.Friday:    "יום שישי",
	time.Saturday:  "שבת",
}

// BuildSystemPrompt renders the answerer's system prompt with the current
// date/time in the configured timezone, including a Hebrew date line so
// temporal questions resolve in either language. A non-empty template
// overrides the default; {current_datetime} and {hebrew_date} are
// substituted either way.
func BuildSystemPrompt(template string, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	currentDatetime := now.Format("Monday, January 2, 2006 at 15:04")
	hebrewDate := fmt.Sprintf("%s, %d/%d/%d בשעה %s",
		hebrewDays[now.Weekday()], now.Day(), int(now.Month()), now.Year(), now.Format("15:04"))

	if template == "" {
		template = defaultSystemPrompt
	}
	template = strings.ReplaceAll(template, "{current_datetime}", currentDatetime)
	template = strings.ReplaceAll(template, "{hebrew_date}", hebrewDate)
	return template
}

const defaultSystemPrompt = `You are a helpful AI assistant for a personal knowledge base and message archive search system.
You have access to retrieved messages and documents from multiple sources (messaging platforms, documents, emails, call transcripts) that will be provided as context.

Current Date/Time: {current_datetime}
תאריך ושעה נוכחיים: {hebrew_date}

Instructions:
1. ANALYZE the retrieved messages to find information relevant to the question.
2. CITE specific messages when possible — mention who said what and when.
3. If multiple messages are relevant, SYNTHESIZE them into a coherent answer.
4. For follow-up questions, USE information from earlier in this conversation. If you already provided an answer about a topic, build on it — do NOT say "no information found" when you discussed it in a previous turn.
5. Only say you lack information when BOTH the retrieved context AND the conversation history don't contain what's needed. Do NOT fabricate information.
6. If the question is general (like "what day is today?"), answer directly without referencing the archive.
7. Answer in the SAME LANGUAGE as the question.
8. Be concise but thorough. Prefer specific facts over vague summaries.`

// contextPrompt wraps the retrieved nodes around the user's question. It
// explicitly forbids "no results" answers when the chat history already
// covered the topic.
const contextPrompt = `Here are the relevant messages from the archive:
-----
%s
-----
IMPORTANT: Use BOTH the retrieved messages above AND the chat history to answer the user's question. If the retrieved messages don't contain new relevant information but you already discussed the topic in previous turns, use that prior context to answer — do NOT say 'no results found' when you already have the information from earlier in the conversation.
Only say no relevant messages were found if BOTH the retrieved context AND the chat history lack the information needed to answer.

Question: %s`

// condenseSystemPrompt turns a follow-up plus history into a standalone
// search query.
const condenseSystemPrompt = `Given the following conversation and a follow-up question, rephrase the follow-up into a single standalone question that captures all relevant context. Keep names, dates and topics explicit. Keep the question's original language. Return ONLY the standalone question, nothing else.`
