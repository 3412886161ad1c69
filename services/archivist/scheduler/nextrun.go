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
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// Schedule kinds.
const (
	ScheduleDaily    = "daily"
	ScheduleWeekly   = "weekly"
	ScheduleMonthly  = "monthly"
	ScheduleInterval = "interval"
	ScheduleCron     = "cron"
)

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ComputeNextRun returns the next run time strictly after from, evaluated in
// the task's IANA timezone.
//
// Schedule values: daily "HH:MM"; weekly "day[,day...] HH:MM" with English
// names or 3-letter abbreviations; monthly "DD HH:MM" clamping to the
// month's last day; interval "Nm"/"Nh"/"Nd"; cron, a standard five-field
// expression with dow 0=Sunday.
func ComputeNextRun(scheduleType, scheduleValue, timezone string, from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: timezone %q: %w", timezone, err)
	}
	now := from.In(loc)

	switch scheduleType {
	case ScheduleDaily:
		return nextDaily(scheduleValue, now)
	case ScheduleWeekly:
		return nextWeekly(scheduleValue, now)
	case ScheduleMonthly:
		return nextMonthly(scheduleValue, now)
	case ScheduleInterval:
		return nextInterval(scheduleValue, now)
	case ScheduleCron:
		return nextCron(scheduleValue, now)
	default:
		return time.Time{}, fmt.Errorf("scheduler: unknown schedule type %q", scheduleType)
	}
}

func parseClock(value string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("scheduler: bad time %q (want HH:MM)", value)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("scheduler: bad hour in %q", value)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("scheduler: bad minute in %q", value)
	}
	return hour, minute, nil
}

func nextDaily(value string, now time.Time) (time.Time, error) {
	hour, minute, err := parseClock(value)
	if err != nil {
		return time.Time{}, err
	}
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate, nil
}

func nextWeekly(value string, now time.Time) (time.Time, error) {
	parts := strings.Fields(strings.TrimSpace(value))
	daysPart := value
	clockPart := "08:00"
	if len(parts) >= 2 {
		daysPart = strings.Join(parts[:len(parts)-1], "")
		clockPart = parts[len(parts)-1]
	} else if len(parts) == 1 {
		daysPart = parts[0]
	}
	hour, minute, err := parseClock(clockPart)
	if err != nil {
		return time.Time{}, err
	}

	targets := make(map[time.Weekday]bool)
	for _, d := range strings.Split(daysPart, ",") {
		d = strings.ToLower(strings.TrimSpace(d))
		if wd, ok := weekdayNames[d]; ok {
			targets[wd] = true
		}
	}
	if len(targets) == 0 {
		targets[time.Monday] = true
	}

	for offset := 0; offset <= 7; offset++ {
		day := now.AddDate(0, 0, offset)
		if !targets[day.Weekday()] {
			continue
		}
		candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
		if candidate.After(now) {
			return candidate, nil
		}
	}
	return time.Time{}, fmt.Errorf("scheduler: no weekly occurrence for %q", value)
}

func nextMonthly(value string, now time.Time) (time.Time, error) {
	parts := strings.Fields(strings.TrimSpace(value))
	if len(parts) == 0 {
		return time.Time{}, fmt.Errorf("scheduler: bad monthly value %q", value)
	}
	day, err := strconv.Atoi(parts[0])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("scheduler: bad day-of-month in %q", value)
	}
	clockPart := "08:00"
	if len(parts) > 1 {
		clockPart = parts[1]
	}
	hour, minute, err := parseClock(clockPart)
	if err != nil {
		return time.Time{}, err
	}

	build := func(year int, month time.Month) time.Time {
		clamped := day
		if last := lastDayOfMonth(year, month); clamped > last {
			clamped = last
		}
		return time.Date(year, month, clamped, hour, minute, 0, 0, now.Location())
	}

	candidate := build(now.Year(), now.Month())
	if candidate.After(now) {
		return candidate, nil
	}
	next := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, now.Location())
	return build(next.Year(), next.Month()), nil
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 12, 0, 0, 0, time.UTC).Day()
}

var intervalRe = regexp.MustCompile(`^(\d+)([mhd])$`)

func nextInterval(value string, now time.Time) (time.Time, error) {
	match := intervalRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(value)))
	if match == nil {
		return time.Time{}, fmt.Errorf("scheduler: bad interval %q (want Nm/Nh/Nd)", value)
	}
	amount, _ := strconv.Atoi(match[1])
	if amount < 1 {
		amount = 1
	}
	switch match[2] {
	case "m":
		return now.Add(time.Duration(amount) * time.Minute), nil
	case "h":
		return now.Add(time.Duration(amount) * time.Hour), nil
	default:
		return now.AddDate(0, 0, amount), nil
	}
}

// cronParser accepts standard five-field expressions; dow uses the 0=Sunday
// convention.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow)

func nextCron(value string, now time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: bad cron %q: %w", value, err)
	}
	next := schedule.Next(now)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("scheduler: cron %q has no next occurrence", value)
	}
	return next, nil
}
