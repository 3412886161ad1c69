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
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianRecall/services/archivist/datatypes"
)

func testTaskStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateTaskComputesNextRun(t *testing.T) {
	s := testTaskStore(t)
	task, err := s.CreateTask(&Task{
		Name: "morning digest", Prompt: "what happened yesterday?",
		ScheduleType: ScheduleInterval, ScheduleValue: "15m",
		Timezone: "UTC", Enabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if task.NextRunAt == "" {
		t.Error("enabled task must get a next_run_at")
	}

	disabled, _ := s.CreateTask(&Task{
		Name: "paused", Prompt: "x",
		ScheduleType: ScheduleDaily, ScheduleValue: "08:00", Enabled: false,
	})
	if disabled.NextRunAt != "" {
		t.Error("disabled task must have no next_run_at")
	}
}

func TestToggleTask(t *testing.T) {
	s := testTaskStore(t)
	task, _ := s.CreateTask(&Task{
		Name: "t", Prompt: "p",
		ScheduleType: ScheduleInterval, ScheduleValue: "1h", Enabled: true,
	})

	enabled, err := s.ToggleTask(task.ID)
	if err != nil || enabled {
		t.Fatalf("toggle off: %v %v", enabled, err)
	}
	got, _ := s.GetTask(task.ID)
	if got.NextRunAt != "" {
		t.Error("disabling must null next_run_at")
	}

	enabled, _ = s.ToggleTask(task.ID)
	got, _ = s.GetTask(task.ID)
	if !enabled || got.NextRunAt == "" {
		t.Error("enabling must recompute next_run_at")
	}
}

func TestDispatcherRunsDueTask(t *testing.T) {
	s := testTaskStore(t)
	task, _ := s.CreateTask(&Task{
		Name: "interval", Prompt: "summarize",
		ScheduleType: ScheduleInterval, ScheduleValue: "15m",
		Timezone: "UTC", Enabled: true,
		Filters: datatypes.SearchFilters{Days: 1},
	})

	// Backdate next_run_at so the task is due.
	if _, err := s.db.Exec(
		"UPDATE scheduled_tasks SET next_run_at = '2000-01-01 00:00:00' WHERE id = ?", task.ID); err != nil {
		t.Fatal(err)
	}

	var gotFilters datatypes.SearchFilters
	executor := ExecutorFunc(func(ctx context.Context, task *Task) (*Outcome, error) {
		gotFilters = task.Filters
		return &Outcome{Answer: "nothing notable", CostUSD: 0.001,
			Sources: []datatypes.SourceInfo{{ID: "s1"}}}, nil
	})
	d := NewDispatcher(s, executor, time.Second)

	dispatchedAt := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	if ran := d.RunDue(context.Background(), dispatchedAt); ran != 1 {
		t.Fatalf("ran %d tasks, want 1", ran)
	}
	if gotFilters.Days != 1 {
		t.Error("task filters not passed to executor")
	}

	results, _ := s.Results(task.ID, 10)
	if len(results) != 1 {
		t.Fatalf("results = %d", len(results))
	}
	r := results[0]
	if r.Status != StatusSuccess || r.Answer != "nothing notable" || r.DurationMS < 0 {
		t.Errorf("unexpected result: %+v", r)
	}
	if len(r.Sources) != 1 || r.Sources[0].ID != "s1" {
		t.Errorf("sources not persisted: %+v", r.Sources)
	}

	// next_run_at advanced to ≈ dispatch + 15m and is strictly future
	// relative to dispatch.
	got, _ := s.GetTask(task.ID)
	next, err := time.Parse(timeLayout, got.NextRunAt)
	if err != nil {
		t.Fatalf("next_run_at unparseable: %q", got.NextRunAt)
	}
	want := dispatchedAt.Add(15 * time.Minute)
	if !next.Equal(want) {
		t.Errorf("next_run_at = %v, want %v", next, want)
	}
	if got.LastRunAt == "" {
		t.Error("last_run_at not recorded")
	}
}

func TestDispatcherPersistsErrorAndAdvances(t *testing.T) {
	s := testTaskStore(t)
	task, _ := s.CreateTask(&Task{
		Name: "failing", Prompt: "p",
		ScheduleType: ScheduleInterval, ScheduleValue: "15m", Timezone: "UTC", Enabled: true,
	})
	s.db.Exec("UPDATE scheduled_tasks SET next_run_at = '2000-01-01 00:00:00' WHERE id = ?", task.ID)

	executor := ExecutorFunc(func(ctx context.Context, task *Task) (*Outcome, error) {
		return nil, errors.New("llm unavailable")
	})
	d := NewDispatcher(s, executor, time.Second)
	d.RunDue(context.Background(), time.Now())

	results, _ := s.Results(task.ID, 10)
	if len(results) != 1 || results[0].Status != StatusError || results[0].ErrorMessage == "" {
		t.Fatalf("error result not persisted: %+v", results)
	}

	got, _ := s.GetTask(task.ID)
	if got.NextRunAt == "" || got.NextRunAt == "2000-01-01 00:00:00" {
		t.Error("schedule must advance even on failure")
	}
}

func TestSchedulerLivenessNextRunIncreases(t *testing.T) {
	s := testTaskStore(t)
	task, _ := s.CreateTask(&Task{
		Name: "live", Prompt: "p",
		ScheduleType: ScheduleInterval, ScheduleValue: "15m", Timezone: "UTC", Enabled: true,
	})

	executor := ExecutorFunc(func(ctx context.Context, task *Task) (*Outcome, error) {
		return &Outcome{Answer: "ok"}, nil
	})
	d := NewDispatcher(s, executor, time.Second)

	var previous time.Time
	base := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		dispatch := base.Add(time.Duration(i) * time.Hour)
		s.db.Exec("UPDATE scheduled_tasks SET next_run_at = '2000-01-01 00:00:00' WHERE id = ?", task.ID)
		d.RunDue(context.Background(), dispatch)

		got, _ := s.GetTask(task.ID)
		next, _ := time.Parse(timeLayout, got.NextRunAt)
		if !next.After(previous) {
			t.Fatalf("next_run_at did not increase: %v then %v", previous, next)
		}
		previous = next
	}
}

func TestRateResultTouchesOnlyRating(t *testing.T) {
	s := testTaskStore(t)
	task, _ := s.CreateTask(&Task{
		Name: "rated", Prompt: "p",
		ScheduleType: ScheduleInterval, ScheduleValue: "1h", Timezone: "UTC", Enabled: true,
	})
	id, _ := s.AddResult(&Result{TaskID: task.ID, Answer: "the answer", Status: StatusSuccess, CostUSD: 0.5})

	if err := s.RateResult(id, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.RateResult(id, 2); err == nil {
		t.Error("rating outside {-1,0,1} must be rejected")
	}

	results, _ := s.Results(task.ID, 1)
	r := results[0]
	if r.Rating != 1 {
		t.Errorf("rating = %d", r.Rating)
	}
	if r.Answer != "the answer" || r.CostUSD != 0.5 || r.Status != StatusSuccess {
		t.Errorf("rating mutated other fields: %+v", r)
	}
}
