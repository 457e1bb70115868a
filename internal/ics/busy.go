// Package ics turns iCalendar data into busy intervals and exports candidate
// windows as iCalendar.
package ics

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"meetslot/internal/models"
)

// MaxOccurrencesPerEvent caps recurrence expansion for a single VEVENT.
const MaxOccurrencesPerEvent = 5000

// BusyFromCalendar extracts the busy intervals of every VEVENT in cal that
// intersects [start, end), clipped to that range and attributed to owner.
// Cancelled and transparent events are not busy. Recurring events are expanded
// and RECURRENCE-ID overrides replace the instances they name. loc resolves
// floating and all-day times.
//
// Events that cannot be read are skipped and reported in the returned errors.
func BusyFromCalendar(cal *ical.Calendar, owner string, start, end time.Time, loc *time.Location) ([]models.Interval, []error) {
	if loc == nil {
		loc = time.UTC
	}
	events := cal.Events()

	overridden := make(map[string]map[int64]bool)
	for i := range events {
		ev := &events[i]
		rid := ev.Props.Get(ical.PropRecurrenceID)
		if rid == nil {
			continue
		}
		t, err := rid.DateTime(loc)
		if err != nil {
			continue
		}
		uid := uidOf(ev)
		if overridden[uid] == nil {
			overridden[uid] = make(map[int64]bool)
		}
		overridden[uid][t.Unix()] = true
	}

	var (
		out  []models.Interval
		errs []error
	)
	for i := range events {
		ev := &events[i]
		if !isBusy(ev) {
			continue
		}
		spans, err := expand(ev, start, end, loc, overridden[uidOf(ev)])
		if err != nil {
			errs = append(errs, fmt.Errorf("event %q: %w", uidOf(ev), err))
			continue
		}
		for _, s := range spans {
			if iv, ok := clip(s[0], s[1], start, end, owner); ok {
				out = append(out, iv)
			}
		}
	}
	models.SortIntervals(out)
	return out, errs
}

func expand(ev *ical.Event, start, end time.Time, loc *time.Location, overridden map[int64]bool) ([][2]time.Time, error) {
	dtStart, err := ev.DateTimeStart(loc)
	if err != nil {
		return nil, fmt.Errorf("failed to read DTSTART: %w", err)
	}
	dtEnd, err := ev.DateTimeEnd(loc)
	if err != nil {
		return nil, fmt.Errorf("failed to read DTEND: %w", err)
	}
	dur := dtEnd.Sub(dtStart)
	if dur <= 0 {
		return nil, nil
	}

	var set *rrule.Set
	if ev.Props.Get(ical.PropRecurrenceID) == nil {
		set, err = ev.RecurrenceSet(loc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse recurrence: %w", err)
		}
	}
	if set == nil {
		return [][2]time.Time{{dtStart, dtEnd}}, nil
	}

	// Occurrences starting up to one duration before the range still overlap it.
	occs := set.Between(start.Add(-dur), end, true)
	if len(occs) > MaxOccurrencesPerEvent {
		occs = occs[:MaxOccurrencesPerEvent]
	}
	spans := make([][2]time.Time, 0, len(occs))
	for _, o := range occs {
		if overridden[o.Unix()] {
			continue
		}
		spans = append(spans, [2]time.Time{o, o.Add(dur)})
	}
	return spans, nil
}

func isBusy(ev *ical.Event) bool {
	if p := ev.Props.Get(ical.PropStatus); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
		return false
	}
	if p := ev.Props.Get(ical.PropTransparency); p != nil && strings.EqualFold(p.Value, "TRANSPARENT") {
		return false
	}
	return true
}

func uidOf(ev *ical.Event) string {
	if p := ev.Props.Get(ical.PropUID); p != nil {
		return p.Value
	}
	return ""
}

func clip(s, e, start, end time.Time, owner string) (models.Interval, bool) {
	if s.Before(start) {
		s = start
	}
	if e.After(end) {
		e = end
	}
	if !s.Before(e) {
		return models.Interval{}, false
	}
	return models.Interval{Start: s.UTC(), End: e.UTC(), Owner: owner}, true
}
