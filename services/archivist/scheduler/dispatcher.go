// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
)

// Outcome is what an Executor produced for one task run.
type Outcome struct {
	Answer     string
	PromptUsed string
	Sources    []datatypes.SourceInfo
	CostUSD    float64
	NoResults  bool
}

// Executor runs one scheduled task's prompt through the retrieval engine and
// answerer.
type Executor interface {
	Execute(ctx context.Context, task *Task) (*Outcome, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task *Task) (*Outcome, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, task *Task) (*Outcome, error) {
	return f(ctx, task)
}

// Dispatcher polls the store and executes due tasks. Execution failures are
// persisted as error results and never stop the loop; next_run_at always
// advances so a failing task cannot wedge the schedule.
type Dispatcher struct {
	store    *Store
	executor Executor
	interval time.Duration

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// NewDispatcher builds a dispatcher polling at interval (default 30 s).
func NewDispatcher(store *Store, executor Executor, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Dispatcher{
		store:    store,
		executor: executor,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the background tick loop. Starting twice is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		slog.Info("Scheduler dispatcher started", "interval", d.interval)
		for {
			select {
			case <-ticker.C:
				d.RunDue(ctx, time.Now())
			case <-d.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the loop.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.running = false
	close(d.done)
	d.done = make(chan struct{})
}

// RunDue executes every task with next_run_at ≤ now. Returns how many ran.
func (d *Dispatcher) RunDue(ctx context.Context, now time.Time) int {
	tasks, err := d.store.DueTasks(now)
	if err != nil {
		slog.Error("Failed to load due tasks", "error", err)
		return 0
	}
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		d.runOne(ctx, task, now)
	}
	return len(tasks)
}

// RunNow executes one task immediately regardless of its schedule.
func (d *Dispatcher) RunNow(ctx context.Context, taskID int64) (*Result, error) {
	task, err := d.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}
	return d.runOne(ctx, task, time.Now()), nil
}

func (d *Dispatcher) runOne(ctx context.Context, task *Task, now time.Time) *Result {
	start := time.Now()
	outcome, err := d.executor.Execute(ctx, task)
	duration := time.Since(start).Milliseconds()

	result := &Result{
		TaskID:     task.ID,
		PromptUsed: task.Prompt,
		DurationMS: duration,
	}
	switch {
	case err != nil:
		result.Status = StatusError
		result.Answer = ""
		result.ErrorMessage = err.Error()
		slog.Error("Scheduled task failed", "task", task.Name, "error", err)
	case outcome.NoResults:
		result.Status = StatusNoResults
		result.Answer = outcome.Answer
		result.Sources = outcome.Sources
		result.CostUSD = outcome.CostUSD
	default:
		result.Status = StatusSuccess
		result.Answer = outcome.Answer
		result.PromptUsed = orDefault(outcome.PromptUsed, task.Prompt)
		result.Sources = outcome.Sources
		result.CostUSD = outcome.CostUSD
	}

	if _, err := d.store.AddResult(result); err != nil {
		slog.Error("Failed to persist task result", "task", task.Name, "error", err)
	}

	// Advance the schedule even on failure so the task stays live.
	if task.Enabled {
		if next, err := d.store.AdvanceNextRun(task.ID, now); err != nil {
			slog.Error("Failed to advance schedule", "task", task.Name, "error", err)
		} else {
			slog.Info("Scheduled task executed",
				"task", task.Name, "status", result.Status, "duration_ms", duration,
				"next_run", next.UTC().Format(timeLayout))
		}
	}
	return result
}
