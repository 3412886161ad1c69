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
	"testing"
	"time"
)

// at builds a UTC reference time.
func at(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func TestNextDaily(t *testing.T) {
	// 2026-08-03 is a Monday.
	now := at(2026, 8, 3, 7, 30)

	next, err := ComputeNextRun(ScheduleDaily, "08:00", "UTC", now)
	if err != nil {
		t.Fatal(err)
	}
	if !next.Equal(at(2026, 8, 3, 8, 0)) {
		t.Errorf("daily before clock time = %v", next)
	}

	next, _ = ComputeNextRun(ScheduleDaily, "08:00", "UTC", at(2026, 8, 3, 9, 0))
	if !next.Equal(at(2026, 8, 4, 8, 0)) {
		t.Errorf("daily past clock time must roll to tomorrow: %v", next)
	}
}

func TestNextWeekly(t *testing.T) {
	monday := at(2026, 8, 3, 10, 0)

	next, err := ComputeNextRun(ScheduleWeekly, "wed,Friday 09:15", "UTC", monday)
	if err != nil {
		t.Fatal(err)
	}
	if !next.Equal(at(2026, 8, 5, 9, 15)) {
		t.Errorf("weekly = %v, want Wednesday 09:15", next)
	}

	// Same-day target already past rolls to next listed day.
	next, _ = ComputeNextRun(ScheduleWeekly, "mon 09:00", "UTC", monday)
	if !next.Equal(at(2026, 8, 10, 9, 0)) {
		t.Errorf("weekly same-day past = %v, want next Monday", next)
	}
}

func TestNextMonthlyClampsToLastDay(t *testing.T) {
	// Asking for day 31 from mid-April (30 days) must clamp to April 30.
	now := at(2026, 4, 10, 12, 0)
	next, err := ComputeNextRun(ScheduleMonthly, "31 08:00", "UTC", now)
	if err != nil {
		t.Fatal(err)
	}
	if !next.Equal(at(2026, 4, 30, 8, 0)) {
		t.Errorf("monthly clamp = %v, want April 30", next)
	}

	// Past this month's occurrence rolls to next month.
	next, _ = ComputeNextRun(ScheduleMonthly, "05 08:00", "UTC", now)
	if !next.Equal(at(2026, 5, 5, 8, 0)) {
		t.Errorf("monthly rollover = %v, want May 5", next)
	}
}

func TestNextInterval(t *testing.T) {
	now := at(2026, 8, 3, 10, 0)

	next, err := ComputeNextRun(ScheduleInterval, "15m", "UTC", now)
	if err != nil {
		t.Fatal(err)
	}
	if !next.Equal(at(2026, 8, 3, 10, 15)) {
		t.Errorf("15m interval = %v", next)
	}

	next, _ = ComputeNextRun(ScheduleInterval, "2h", "UTC", now)
	if !next.Equal(at(2026, 8, 3, 12, 0)) {
		t.Errorf("2h interval = %v", next)
	}

	next, _ = ComputeNextRun(ScheduleInterval, "1d", "UTC", now)
	if !next.Equal(at(2026, 8, 4, 10, 0)) {
		t.Errorf("1d interval = %v", next)
	}

	if _, err := ComputeNextRun(ScheduleInterval, "soon", "UTC", now); err == nil {
		t.Error("bad interval must error")
	}
}

func TestNextCron(t *testing.T) {
	// */15 at 10:07 → 10:15.
	next, err := ComputeNextRun(ScheduleCron, "*/15 * * * *", "UTC", at(2026, 8, 3, 10, 7))
	if err != nil {
		t.Fatal(err)
	}
	if !next.Equal(at(2026, 8, 3, 10, 15)) {
		t.Errorf("*/15 at 10:07 = %v, want 10:15", next)
	}

	// Weekday cron evaluated on a Saturday → next Monday 09:00.
	// 2026-08-01 is a Saturday; 2026-08-03 is a Monday.
	next, _ = ComputeNextRun(ScheduleCron, "0 9 * * 1-5", "UTC", at(2026, 8, 1, 12, 0))
	if !next.Equal(at(2026, 8, 3, 9, 0)) {
		t.Errorf("weekday cron from Saturday = %v, want Monday 09:00", next)
	}
}

func TestComputeNextRunTimezone(t *testing.T) {
	// 06:00 UTC is 09:00 in Jerusalem (UTC+3 in August) - the daily 08:00
	// Jerusalem run must resolve to tomorrow, not today.
	now := at(2026, 8, 3, 6, 0)
	next, err := ComputeNextRun(ScheduleDaily, "08:00", "Asia/Jerusalem", now)
	if err != nil {
		t.Fatal(err)
	}
	loc, _ := time.LoadLocation("Asia/Jerusalem")
	want := time.Date(2026, 8, 4, 8, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("tz-aware daily = %v, want %v", next, want)
	}
}

func TestComputeNextRunStrictlyFuture(t *testing.T) {
	now := at(2026, 8, 3, 8, 0)
	next, err := ComputeNextRun(ScheduleDaily, "08:00", "UTC", now)
	if err != nil {
		t.Fatal(err)
	}
	if !next.After(now) {
		t.Errorf("next run %v not strictly after %v", next, now)
	}
}
