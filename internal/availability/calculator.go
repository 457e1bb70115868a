// Package availability derives candidate meeting windows from a busy timeline
// and an event envelope.
package availability

import (
	"sort"
	"time"

	"meetslot/internal/busy"
	"meetslot/internal/models"
)

// Request is the input to Calculate.
type Request struct {
	Timeline busy.Timeline
	Envelope models.Envelope
	// Threshold is the number of participants allowed to be busy during a
	// window. Zero requires everyone to be free.
	Threshold int
	// ParticipantCount is the roster size used to derive free counts.
	ParticipantCount int
}

// Calculate returns the chronological, non-overlapping candidate windows for req.
//
// An invalid envelope yields a *models.ValidationError. A valid envelope with no
// room left yields an empty, non-nil slice, so the two outcomes stay distinct.
func Calculate(req Request) ([]models.CandidateWindow, error) {
	if err := req.Envelope.Validate(); err != nil {
		return nil, err
	}
	if req.Threshold < 0 {
		return nil, &models.ValidationError{Field: "threshold", Reason: "must not be negative"}
	}
	loc, err := req.Envelope.Location()
	if err != nil {
		return nil, err
	}

	env := req.Envelope
	windows := make([]models.CandidateWindow, 0)
	for d := env.DateRangeStart; !d.After(env.DateRangeEnd); d = d.AddDays(1) {
		dayStart, dayEnd := env.DayBounds(d, loc)
		if !dayStart.Before(dayEnd) {
			// The daily window vanished in a DST gap on this day.
			continue
		}
		day := req.Timeline.Clip(dayStart, dayEnd)
		for _, w := range freeWindows(day, dayStart, dayEnd, req.Threshold) {
			if w.Duration() < env.MinSlotDuration {
				continue
			}
			w.FreeParticipantCount = max(req.ParticipantCount-w.BusyParticipantCount, 0)
			windows = append(windows, w)
		}
	}
	return windows, nil
}

// freeWindows returns the complement of segments busier than threshold within
// [dayStart, dayEnd). Segments at or below threshold are folded into the window:
// the busy count takes their peak concurrency and the owner list their union.
func freeWindows(day busy.Timeline, dayStart, dayEnd time.Time, threshold int) []models.CandidateWindow {
	var out []models.CandidateWindow
	cur := models.CandidateWindow{Start: dayStart}
	owners := make(map[string]struct{})

	flush := func(end time.Time) {
		if cur.Start.Before(end) {
			cur.End = end
			cur.BusyParticipants = sortedKeys(owners)
			out = append(out, cur)
		}
		owners = make(map[string]struct{})
	}

	for _, s := range day.Segments {
		if s.Concurrency > threshold {
			flush(s.Start)
			cur = models.CandidateWindow{Start: s.End}
			continue
		}
		if s.Concurrency > cur.BusyParticipantCount {
			cur.BusyParticipantCount = s.Concurrency
		}
		for _, o := range s.Owners {
			owners[o] = struct{}{}
		}
	}
	flush(dayEnd)
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
