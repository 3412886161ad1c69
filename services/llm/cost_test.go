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
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
)

func TestCostUSD(t *testing.T) {
	tests := []struct {
		model string
		usage Usage
		want  float64
	}{
		{"gpt-4o-mini", Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000}, 0.75},
		{"gpt-4o-mini-2024-07-18", Usage{PromptTokens: 1_000_000}, 0.15},
		{"gpt-4o", Usage{PromptTokens: 1_000_000}, 2.50},
		{"text-embedding-3-large", Usage{PromptTokens: 1_000_000}, 0.13},
		{"unknown-model", Usage{PromptTokens: 1_000_000}, 0},
	}
	for _, tt := range tests {
		if got := CostUSD(tt.model, tt.usage); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("CostUSD(%q, %+v) = %v, want %v", tt.model, tt.usage, got, tt.want)
		}
	}
}

type countingClient struct {
	calls int32
}

func (c *countingClient) Chat(ctx context.Context, system string, messages []Message) (*ChatResult, error) {
	return &ChatResult{Text: "ok"}, nil
}

func TestLazyClientConstructsOnce(t *testing.T) {
	var constructs int32
	lazy := NewLazyClient(func() (LLMClient, error) {
		atomic.AddInt32(&constructs, 1)
		return &countingClient{}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := lazy.Chat(context.Background(), "", nil); err != nil {
				t.Errorf("Chat: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&constructs); got != 1 {
		t.Errorf("constructor ran %d times, want 1", got)
	}
}

func TestLazyClientRetriesFailedConstruction(t *testing.T) {
	attempts := 0
	lazy := NewLazyClient(func() (LLMClient, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("api key missing")
		}
		return &countingClient{}, nil
	})

	if _, err := lazy.Chat(context.Background(), "", nil); err == nil {
		t.Fatal("expected first call to fail")
	}
	if _, err := lazy.Chat(context.Background(), "", nil); err != nil {
		t.Fatalf("second call should succeed: %v", err)
	}
}
