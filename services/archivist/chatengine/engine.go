// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chatengine runs the conversational retrieval loop: condense the
// follow-up question against history, retrieve with session filters, build
// the answer prompt, generate, and persist the turn with cost accounting.
package chatengine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianRecall/services/archivist/conversation"
	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
	"github.com/AleutianAI/AleutianRecall/services/archivist/retrieval"
	"github.com/AleutianAI/AleutianRecall/services/llm"
)

var tracer = otel.Tracer("aleutian.archivist.chatengine")

// Config tunes the chat loop.
type Config struct {
	// MaxHistoryTurns bounds how many prior turns reach the prompt.
	MaxHistoryTurns int
	// HistoryTokenBudget bounds prior turns by token count (tiktoken,
	// cl100k_base). Oldest turns drop first.
	HistoryTokenBudget int
	// SourceMinScore / SourceMaxCount filter the citations shown to the
	// user (orthogonal to what the answerer sees).
	SourceMinScore float64
	SourceMaxCount int
	// SystemPromptTemplate overrides the built-in system prompt when set.
	SystemPromptTemplate string
	// Location is the display timezone for the date lines.
	Location *time.Location
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxHistoryTurns:    10,
		HistoryTokenBudget: 2000,
		SourceMinScore:     0,
		SourceMaxCount:     5,
		Location:           time.UTC,
	}
}

// Engine is the conversational retrieval engine.
type Engine struct {
	llm       llm.LLMClient
	retriever *retrieval.Engine
	store     *conversation.Store
	cfg       Config
	chatModel string
}

// NewEngine wires the chat loop. chatModel names the model for cost
// accounting.
func NewEngine(llmClient llm.LLMClient, retriever *retrieval.Engine, store *conversation.Store, chatModel string, cfg Config) *Engine {
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = 10
	}
	if cfg.HistoryTokenBudget <= 0 {
		cfg.HistoryTokenBudget = 2000
	}
	if cfg.SourceMaxCount <= 0 {
		cfg.SourceMaxCount = 5
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Engine{llm: llmClient, retriever: retriever, store: store, chatModel: chatModel, cfg: cfg}
}

// Ask answers one user question inside a conversation. Every step that can
// degrade does: a failed condense falls back to the raw question, an empty
// retrieval still reaches the answerer via the engine's placeholder node.
func (e *Engine) Ask(ctx context.Context, req datatypes.RAGRequest) (*datatypes.RAGResponse, error) {
	ctx, span := tracer.Start(ctx, "Ask")
	defer span.End()

	sessionID, err := e.store.EnsureSession(req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("chatengine: session: %w", err)
	}

	history, err := e.store.Turns(sessionID, e.cfg.MaxHistoryTurns)
	if err != nil {
		slog.Warn("Failed to load history, continuing without", "error", err)
		history = nil
	}
	history = trimHistoryByTokens(history, e.cfg.HistoryTokenBudget)

	totalCost := 0.0

	// 1. Condense the follow-up into a standalone query.
	standalone := req.Question
	if len(history) > 0 {
		condensed, cost, err := e.condense(ctx, req.Question, history)
		totalCost += cost
		if err != nil {
			slog.Warn("Question condensing failed, using raw question", "error", err)
		} else if condensed != "" {
			standalone = condensed
		}
	}

	// 2. Retrieve with session-scoped filters.
	k := req.K
	if k <= 0 {
		k = 10
	}
	nodes := e.retriever.Retrieve(ctx, standalone, k, req.Filters())

	// 3. Generate the answer.
	answer, usage, err := e.answer(ctx, req.Question, nodes, history)
	if err != nil {
		return nil, fmt.Errorf("chatengine: answer: %w", err)
	}
	totalCost += llm.CostUSD(e.chatModel, usage)

	// 4. Persist the turn.
	sources := retrieval.DisplaySources(nodes, e.cfg.SourceMinScore, e.cfg.SourceMaxCount)
	if strings.EqualFold(req.SortOrder, "date_desc") {
		sort.SliceStable(sources, func(i, j int) bool {
			return sources[i].Timestamp > sources[j].Timestamp
		})
	}
	retrievedIDs := make([]string, 0, len(nodes))
	for _, n := range nodes {
		retrievedIDs = append(retrievedIDs, n.ID)
	}
	turn := conversation.Turn{
		UserText:      req.Question,
		AssistantText: answer,
		Sources:       sources,
		RetrievedIDs:  retrievedIDs,
		Filters:       req.Filters(),
		CostUSD:       totalCost,
	}
	if err := e.store.AppendTurn(sessionID, turn); err != nil {
		slog.Error("Failed to persist turn", "session", sessionID, "error", err)
	}

	sessionTotal, _ := e.store.SessionCost(sessionID)
	return &datatypes.RAGResponse{
		Answer:         answer,
		Sources:        sources,
		RichContent:    []datatypes.RichContent{},
		ConversationID: sessionID,
		Cost: datatypes.CostInfo{
			QueryCostUSD:    totalCost,
			SessionTotalUSD: sessionTotal,
		},
	}, nil
}

// condense rewrites a follow-up into a standalone query using the history.
func (e *Engine) condense(ctx context.Context, question string, history []conversation.Turn) (string, float64, error) {
	ctx, span := tracer.Start(ctx, "Condense")
	defer span.End()

	var sb strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n", turn.UserText, turn.AssistantText)
	}
	fmt.Fprintf(&sb, "\nFollow-up question: %s", question)

	result, err := e.llm.Chat(ctx, condenseSystemPrompt, []llm.Message{
		{Role: llm.RoleUser, Content: sb.String()},
	})
	if err != nil {
		return "", 0, err
	}
	return strings.TrimSpace(result.Text), llm.CostUSD(e.chatModel, result.Usage), nil
}

// answer generates the final response from the retrieved context and the
// conversation history.
func (e *Engine) answer(ctx context.Context, question string, nodes []datatypes.ScoredNode, history []conversation.Turn) (string, llm.Usage, error) {
	ctx, span := tracer.Start(ctx, "Answer")
	defer span.End()

	var contextBlock strings.Builder
	for _, n := range nodes {
		contextBlock.WriteString(n.Text)
		contextBlock.WriteString("\n\n")
	}

	messages := make([]llm.Message, 0, len(history)*2+1)
	for _, turn := range history {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: turn.UserText},
			llm.Message{Role: llm.RoleAssistant, Content: turn.AssistantText})
	}
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf(contextPrompt, strings.TrimSpace(contextBlock.String()), question),
	})

	system := BuildSystemPrompt(e.cfg.SystemPromptTemplate, time.Now(), e.cfg.Location)
	result, err := e.llm.Chat(ctx, system, messages)
	if err != nil {
		return "", llm.Usage{}, err
	}
	return result.Text, result.Usage, nil
}

// trimHistoryByTokens drops oldest turns until the history fits the token
// budget. Token counting uses cl100k_base; when the tokenizer is
// unavailable a 4-chars-per-token estimate stands in.
func trimHistoryByTokens(history []conversation.Turn, budget int) []conversation.Turn {
	if len(history) == 0 || budget <= 0 {
		return history
	}
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	count := func(s string) int {
		if err != nil || encoder == nil {
			return len(s) / 4
		}
		return len(encoder.Encode(s, nil, nil))
	}

	total := 0
	counts := make([]int, len(history))
	for i, turn := range history {
		counts[i] = count(turn.UserText) + count(turn.AssistantText)
		total += counts[i]
	}
	start := 0
	for start < len(history) && total > budget {
		total -= counts[start]
		start++
	}
	return history[start:]
}

// OneShot answers a standalone prompt outside any conversation - the
// scheduler dispatcher's execution path. noResults reports that retrieval
// found nothing beyond the placeholder.
func (e *Engine) OneShot(ctx context.Context, prompt string, k int, filters datatypes.SearchFilters) (answer string, sources []datatypes.SourceInfo, costUSD float64, noResults bool, err error) {
	ctx, span := tracer.Start(ctx, "OneShot")
	defer span.End()

	if k <= 0 {
		k = 10
	}
	nodes := e.retriever.Retrieve(ctx, prompt, k, filters)
	noResults = len(nodes) == 1 && nodes[0].Payload["note"] == "no_results"

	answer, usage, err := e.answer(ctx, prompt, nodes, nil)
	if err != nil {
		return "", nil, 0, noResults, err
	}
	sources = retrieval.DisplaySources(nodes, e.cfg.SourceMinScore, e.cfg.SourceMaxCount)
	return answer, sources, llm.CostUSD(e.chatModel, usage), noResults, nil
}
