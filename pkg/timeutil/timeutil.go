// Package timeutil provides timezone utilities for the Taipei timezone (UTC+8).
// The course and its students run on Taipei time; grading cutoffs, weekly
// token grants, and card border progression are all computed against it.
// No external dependencies - uses only standard library.
package timeutil

import (
	"time"
)

// TaipeiTZ is the Taipei timezone (UTC+8, no DST).
var TaipeiTZ = time.FixedZone("Asia/Taipei", 8*60*60)

// Now returns the current time in Taipei timezone.
func Now() time.Time {
	return time.Now().In(TaipeiTZ)
}

// ToTaipei converts a time to Taipei timezone.
func ToTaipei(t time.Time) time.Time {
	return t.In(TaipeiTZ)
}

// ToUTC converts a time to UTC.
func ToUTC(t time.Time) time.Time {
	return t.UTC()
}

// Date creates a time in Taipei timezone with the given date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, TaipeiTZ)
}

// StartOfDay returns the start of the day (00:00:00) in Taipei timezone.
func StartOfDay(t time.Time) time.Time {
	local := ToTaipei(t)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, TaipeiTZ)
}

// StartOfWeek returns the start of the week (Monday 00:00:00) in Taipei timezone.
func StartOfWeek(t time.Time) time.Time {
	local := ToTaipei(t)
	weekday := int(local.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	start := local.AddDate(0, 0, -(weekday - 1))
	return time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, TaipeiTZ)
}

// WeeksBetween returns the number of whole course weeks from start to now,
// counting the starting week as week 1. Returns 0 when now precedes start.
// Drives the copper/silver/gold card border progression.
func WeeksBetween(start, now time.Time) int {
	if now.Before(start) {
		return 0
	}
	return int(StartOfWeek(now).Sub(StartOfWeek(start)).Hours()/(24*7)) + 1
}

// SameDay reports whether two times fall on the same Taipei calendar day.
func SameDay(a, b time.Time) bool {
	la, lb := ToTaipei(a), ToTaipei(b)
	return la.Year() == lb.Year() && la.YearDay() == lb.YearDay()
}
