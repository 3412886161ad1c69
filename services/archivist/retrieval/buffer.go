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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
)

const (
	bufferKeyPrefix  = "recall:chunk_buffer:"
	bufferChatSetKey = "recall:chunk_buffer:chats"

	// bufferTTL flushes a chat's buffer after this much inactivity.
	bufferTTL = 120 * time.Second

	// bufferMaxMessages flushes as soon as this many messages accumulate.
	bufferMaxMessages = 5

	// bufferMinMessages is the smallest buffer worth a conversation chunk.
	bufferMinMessages = 2
)

// BufferedMessage is one message queued for conversation chunking.
type BufferedMessage struct {
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	ChatName  string `json:"chat_name"`
	IsGroup   bool   `json:"is_group"`
}

// ConversationBuffer batches short messages per chat in Redis and flushes
// them as a single "conversation_chunk" point whose embedding carries the
// surrounding context. This makes otherwise-uninformative replies ("yes",
// "me too") retrievable.
//
// Chunk points carry timestamp=0 so recency queries never surface them.
type ConversationBuffer struct {
	rdb    *redis.Client
	ingest func(ctx context.Context, doc *datatypes.Document) error
	loc    *time.Location
}

// NewConversationBuffer wires the buffer to Redis and an ingest function.
func NewConversationBuffer(rdb *redis.Client, loc *time.Location, ingest func(ctx context.Context, doc *datatypes.Document) error) *ConversationBuffer {
	if loc == nil {
		loc = time.UTC
	}
	return &ConversationBuffer{rdb: rdb, ingest: ingest, loc: loc}
}

// Add buffers one message. Buffering failures are non-critical: the message
// itself was already indexed individually.
func (b *ConversationBuffer) Add(ctx context.Context, chatID string, msg BufferedMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	key := bufferKeyPrefix + chatID
	if err := b.rdb.RPush(ctx, key, data).Err(); err != nil {
		slog.Debug("Chunk buffering failed", "error", err)
		return
	}
	// The list outlives the idle cutoff so FlushStale can still read it.
	b.rdb.Expire(ctx, key, 2*bufferTTL)
	b.rdb.SAdd(ctx, bufferChatSetKey, chatID)
	b.rdb.HSet(ctx, bufferChatSetKey+":last", chatID, time.Now().Unix())

	length, err := b.rdb.LLen(ctx, key).Result()
	if err == nil && length >= bufferMaxMessages {
		if err := b.Flush(ctx, chatID); err != nil {
			slog.Debug("Chunk buffer flush failed", "chat_id", chatID, "error", err)
		}
	}
}

// Flush drains one chat's buffer into a conversation-chunk point. Buffers
// with fewer than two messages are discarded - a single message carries no
// conversational context worth a second embedding.
func (b *ConversationBuffer) Flush(ctx context.Context, chatID string) error {
	key := bufferKeyPrefix + chatID
	raw, err := b.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return err
	}
	b.rdb.Del(ctx, key)
	b.rdb.SRem(ctx, bufferChatSetKey, chatID)
	b.rdb.HDel(ctx, bufferChatSetKey+":last", chatID)

	messages := make([]BufferedMessage, 0, len(raw))
	for _, r := range raw {
		var m BufferedMessage
		if err := json.Unmarshal([]byte(r), &m); err == nil {
			messages = append(messages, m)
		}
	}
	if len(messages) < bufferMinMessages {
		return nil
	}

	first := messages[0]
	last := messages[len(messages)-1]

	var lines string
	senders := make(map[string]bool)
	for _, m := range messages {
		lines += fmt.Sprintf("[%s] %s: %s\n", datatypes.FormatTimestamp(m.Timestamp, b.loc), m.Sender, m.Message)
		senders[m.Sender] = true
	}
	senderList := make([]any, 0, len(senders))
	for s := range senders {
		senderList = append(senderList, s)
	}

	doc := &datatypes.Document{
		Common: datatypes.CommonMeta{
			Source:      datatypes.SourceWhatsApp,
			SourceID:    fmt.Sprintf("chunk:%s:%d:%d", chatID, first.Timestamp, last.Timestamp),
			ContentType: datatypes.ContentTypeConversationChunk,
			ChatName:    first.ChatName,
			IsGroup:     first.IsGroup,
			// timestamp 0 keeps chunks out of recency queries.
			Timestamp: 0,
		},
		Body: datatypes.TextBody{Content: lines},
		Extras: map[string]any{
			"chat_id":         chatID,
			"first_timestamp": first.Timestamp,
			"last_timestamp":  last.Timestamp,
			"message_count":   int64(len(messages)),
			"senders":         senderList,
		},
	}
	if err := b.ingest(ctx, doc); err != nil {
		return err
	}
	slog.Info("Created conversation chunk", "chat", first.ChatName, "messages", len(messages))
	return nil
}

// FlushStale flushes every buffer idle longer than the buffer TTL. Run from
// a periodic sweep so context chunks still materialize for chats that went
// quiet before reaching the message cap.
func (b *ConversationBuffer) FlushStale(ctx context.Context) {
	chatIDs, err := b.rdb.SMembers(ctx, bufferChatSetKey).Result()
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-bufferTTL).Unix()
	for _, chatID := range chatIDs {
		lastStr, err := b.rdb.HGet(ctx, bufferChatSetKey+":last", chatID).Result()
		if err != nil {
			continue
		}
		var last int64
		fmt.Sscanf(lastStr, "%d", &last)
		if last <= cutoff {
			if err := b.Flush(ctx, chatID); err != nil {
				slog.Debug("Stale buffer flush failed", "chat_id", chatID, "error", err)
			}
		}
	}
}
