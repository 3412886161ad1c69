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

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// LazyClient defers construction of the real LLMClient until the first Chat
// call. Construction runs behind singleflight so concurrent first requests
// build the client exactly once; a failed construction is retried on the
// next call.
type LazyClient struct {
	construct func() (LLMClient, error)
	group     singleflight.Group
	client    atomic.Pointer[clientBox]
	mu        sync.Mutex
}

type clientBox struct {
	client LLMClient
}

// NewLazyClient wraps a constructor.
func NewLazyClient(construct func() (LLMClient, error)) *LazyClient {
	return &LazyClient{construct: construct}
}

// Chat implements LLMClient, constructing the backend on first use.
func (l *LazyClient) Chat(ctx context.Context, system string, messages []Message) (*ChatResult, error) {
	client, err := l.get()
	if err != nil {
		return nil, err
	}
	return client.Chat(ctx, system, messages)
}

func (l *LazyClient) get() (LLMClient, error) {
	if box := l.client.Load(); box != nil {
		return box.client, nil
	}
	v, err, _ := l.group.Do("construct", func() (any, error) {
		if box := l.client.Load(); box != nil {
			return box.client, nil
		}
		client, err := l.construct()
		if err != nil {
			return nil, err
		}
		l.client.Store(&clientBox{client: client})
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(LLMClient), nil
}
