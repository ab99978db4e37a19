package domain

import "time"

// Weekly reset anchor: allowances replenish Mondays at 00:00 UTC.
const (
	ResetWeekday = time.Monday
	ResetHourUTC = 0
)

// WeekStart returns the canonical start of the week containing t: the most
// recent instant at the given weekday and hour, in UTC. A t exactly at the
// boundary maps to itself.
//
// WeekStart is idempotent (WeekStart(WeekStart(t)) == WeekStart(t)), which is
// what makes resets keyed on it safe to retry.
func WeekStart(t time.Time, weekday time.Weekday, hour int) time.Time {
	t = t.UTC()
	anchor := time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, time.UTC)

	daysBack := int(t.Weekday()-weekday+7) % 7
	anchor = anchor.AddDate(0, 0, -daysBack)

	// Same weekday but before the reset hour: the current week started on
	// the previous anchor.
	if anchor.After(t) {
		anchor = anchor.AddDate(0, 0, -7)
	}
	return anchor
}

// CurrentWeekStart returns the canonical start of the current week using the
// default reset anchor.
func CurrentWeekStart(now time.Time) time.Time {
	return WeekStart(now, ResetWeekday, ResetHourUTC)
}

// NextWeekStart returns the first reset instant strictly after t.
func NextWeekStart(t time.Time, weekday time.Weekday, hour int) time.Time {
	return WeekStart(t, weekday, hour).AddDate(0, 0, 7)
}
