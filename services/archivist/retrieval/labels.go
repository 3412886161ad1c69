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
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	chatSetKey   = "recall:chat_names"
	senderSetKey = "recall:sender_names"
	labelsTTL    = time.Hour
)

// LabelCache maintains the distinct chat and sender name sets in Redis,
// updated incrementally on every ingest and rebuilt from a full collection
// scan on cache miss. Implements Labels.
type LabelCache struct {
	rdb         *redis.Client
	fieldValues func(ctx context.Context, field string) ([]string, error)
}

// NewLabelCache wires the cache to Redis and the index field scanner.
func NewLabelCache(rdb *redis.Client, fieldValues func(ctx context.Context, field string) ([]string, error)) *LabelCache {
	return &LabelCache{rdb: rdb, fieldValues: fieldValues}
}

// Add incrementally records a chat and/or sender name. Failures only age
// the cache; they are logged at debug and swallowed.
func (c *LabelCache) Add(ctx context.Context, chatName, sender string) {
	if c.rdb == nil {
		return
	}
	if chatName != "" {
		if err := c.rdb.SAdd(ctx, chatSetKey, chatName).Err(); err != nil {
			slog.Debug("Label cache update failed", "error", err)
			return
		}
		c.rdb.Expire(ctx, chatSetKey, labelsTTL)
	}
	if sender != "" {
		if err := c.rdb.SAdd(ctx, senderSetKey, sender).Err(); err != nil {
			return
		}
		c.rdb.Expire(ctx, senderSetKey, labelsTTL)
	}
}

// Chats returns all known chat names, sorted.
func (c *LabelCache) Chats(ctx context.Context) ([]string, error) {
	return c.get(ctx, chatSetKey, "chat_name")
}

// Senders returns all known sender names, sorted.
func (c *LabelCache) Senders(ctx context.Context) ([]string, error) {
	return c.get(ctx, senderSetKey, "sender")
}

func (c *LabelCache) get(ctx context.Context, key, field string) ([]string, error) {
	if c.rdb != nil {
		cached, err := c.rdb.SMembers(ctx, key).Result()
		if err == nil && len(cached) > 0 {
			sort.Strings(cached)
			return cached, nil
		}
		if err != nil {
			slog.Debug("Label cache miss", "key", key, "error", err)
		}
	}

	// Cache miss - rebuild from a full collection scan.
	values, err := c.fieldValues(ctx, field)
	if err != nil {
		return nil, err
	}
	if c.rdb != nil && len(values) > 0 {
		members := make([]any, len(values))
		for i, v := range values {
			members[i] = v
		}
		pipe := c.rdb.Pipeline()
		pipe.Del(ctx, key)
		pipe.SAdd(ctx, key, members...)
		pipe.Expire(ctx, key, labelsTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			slog.Warn("Failed to store rebuilt label cache", "key", key, "error", err)
		}
		slog.Info("Rebuilt label cache", "field", field, "values", len(values))
	}
	sort.Strings(values)
	return values, nil
}

// Invalidate drops both cached sets, forcing a rebuild on next access.
func (c *LabelCache) Invalidate(ctx context.Context) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, chatSetKey, senderSetKey).Err(); err != nil {
		slog.Warn("Failed to invalidate label caches", "error", err)
		return
	}
	slog.Info("Invalidated cached chat/sender lists")
}
