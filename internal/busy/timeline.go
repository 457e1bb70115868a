// Package busy merges per-participant busy intervals into one timeline
// annotated with how many participants are busy at each instant.
package busy

import "time"

// Segment is a maximal stretch of the timeline with a constant owner set.
type Segment struct {
	Start       time.Time
	End         time.Time
	Concurrency int      // Number of participants busy during the segment
	Owners      []string // Sorted ids of those participants
}

// Timeline is an ordered, non-overlapping, coalesced sequence of segments.
// Time before the first and after the last segment is free of everyone.
type Timeline struct {
	Segments []Segment
}

// Clip returns the part of the timeline inside [start, end).
func (t Timeline) Clip(start, end time.Time) Timeline {
	var out []Segment
	for _, s := range t.Segments {
		if !s.End.After(start) || !s.Start.Before(end) {
			continue
		}
		if s.Start.Before(start) {
			s.Start = start
		}
		if s.End.After(end) {
			s.End = end
		}
		out = append(out, s)
	}
	return Timeline{Segments: out}
}

// BusyDuration sums the time during which at least one participant is busy.
func (t Timeline) BusyDuration() time.Duration {
	var total time.Duration
	for _, s := range t.Segments {
		if s.Concurrency > 0 {
			total += s.End.Sub(s.Start)
		}
	}
	return total
}

// MaxConcurrency returns the highest concurrency on the timeline.
func (t Timeline) MaxConcurrency() int {
	maxC := 0
	for _, s := range t.Segments {
		maxC = max(maxC, s.Concurrency)
	}
	return maxC
}
