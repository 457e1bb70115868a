package models

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// Envelope is the date/time bounds within which an event's meeting must fall.
type Envelope struct {
	EventID         string
	DateRangeStart  civil.Date    // First calendar day, inclusive
	DateRangeEnd    civil.Date    // Last calendar day, inclusive
	DailyEarliest   civil.Time    // Earliest local wall-clock start per day
	DailyLatest     civil.Time    // Latest local wall-clock end per day
	MinSlotDuration time.Duration // Shortest acceptable window
	Timezone        string        // IANA zone used to interpret the daily bounds
}

// Validate checks the envelope invariants and that the timezone can be loaded.
func (e Envelope) Validate() error {
	if !e.DateRangeStart.IsValid() || !e.DateRangeEnd.IsValid() {
		return &ValidationError{Field: "envelope.date_range", Reason: "dates must be valid calendar dates"}
	}
	if e.DateRangeEnd.Before(e.DateRangeStart) {
		return &ValidationError{Field: "envelope.date_range", Reason: fmt.Sprintf("start %s is after end %s", e.DateRangeStart, e.DateRangeEnd)}
	}
	if !e.DailyEarliest.IsValid() || !e.DailyLatest.IsValid() {
		return &ValidationError{Field: "envelope.daily_window", Reason: "times of day must be valid"}
	}
	if !e.DailyEarliest.Before(e.DailyLatest) {
		return &ValidationError{Field: "envelope.daily_window", Reason: fmt.Sprintf("earliest %s must be before latest %s", e.DailyEarliest, e.DailyLatest)}
	}
	if e.MinSlotDuration <= 0 {
		return &ValidationError{Field: "envelope.min_slot_duration", Reason: "must be positive"}
	}
	if _, err := e.Location(); err != nil {
		return err
	}
	return nil
}

// Location loads the envelope's timezone. An empty timezone means UTC.
func (e Envelope) Location() (*time.Location, error) {
	if e.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return nil, &ValidationError{Field: "envelope.timezone", Reason: fmt.Sprintf("unknown timezone %q", e.Timezone)}
	}
	return loc, nil
}

// Range returns the UTC span covered by the envelope's date range, from the
// first day's local midnight to the local midnight after the last day.
func (e Envelope) Range() (time.Time, time.Time, error) {
	loc, err := e.Location()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := e.DateRangeStart.In(loc)
	end := e.DateRangeEnd.AddDays(1).In(loc)
	return start.UTC(), end.UTC(), nil
}

// DayBounds returns the UTC bounds of the daily window on day d. Each day is
// resolved separately so daylight-saving shifts land on the right days.
func (e Envelope) DayBounds(d civil.Date, loc *time.Location) (time.Time, time.Time) {
	start := civil.DateTime{Date: d, Time: e.DailyEarliest}.In(loc)
	end := civil.DateTime{Date: d, Time: e.DailyLatest}.In(loc)
	return start.UTC(), end.UTC()
}
