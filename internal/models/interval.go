package models

import (
	"sort"
	"time"
)

// Interval is a half-open busy range [Start, End) attributed to a participant.
// Owner is empty for merged or free intervals.
type Interval struct {
	Start time.Time // Inclusive start, UTC
	End   time.Time // Exclusive end, UTC
	Owner string    // Participant identifier

	owners []string // Owner set of a merged interval
}

// NewInterval builds an Interval normalized to UTC and validates it.
func NewInterval(start, end time.Time, owner string) (Interval, error) {
	iv := Interval{Start: start.UTC(), End: end.UTC(), Owner: owner}
	if err := iv.Validate(); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

// Validate rejects zero, degenerate and inverted intervals.
func (iv Interval) Validate() error {
	if iv.Start.IsZero() || iv.End.IsZero() {
		return &ValidationError{Field: "interval", Reason: "start and end must be set"}
	}
	if !iv.Start.Before(iv.End) {
		return &ValidationError{Field: "interval", Reason: "start must be before end"}
	}
	return nil
}

// Duration returns End - Start.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Owners returns the sorted owner set of the interval.
func (iv Interval) Owners() []string {
	if len(iv.owners) > 0 {
		return append([]string(nil), iv.owners...)
	}
	if iv.Owner == "" {
		return nil
	}
	return []string{iv.Owner}
}

// Overlaps reports whether a and b share any instant. Touching endpoints do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Adjacent reports whether one interval ends exactly where the other starts.
func Adjacent(a, b Interval) bool {
	return a.End.Equal(b.Start) || b.End.Equal(a.Start)
}

// Merge joins two overlapping or adjacent intervals into one spanning both.
// The owner is preserved only when both inputs share it; the full owner set is
// available through Owners.
func Merge(a, b Interval) (Interval, error) {
	if err := a.Validate(); err != nil {
		return Interval{}, err
	}
	if err := b.Validate(); err != nil {
		return Interval{}, err
	}
	if !Overlaps(a, b) && !Adjacent(a, b) {
		return Interval{}, &ValidationError{Field: "interval", Reason: "cannot merge disjoint intervals"}
	}

	out := Interval{Start: a.Start, End: a.End}
	if b.Start.Before(out.Start) {
		out.Start = b.Start
	}
	if b.End.After(out.End) {
		out.End = b.End
	}

	owners := unionOwners(a.Owners(), b.Owners())
	if len(owners) == 1 {
		out.Owner = owners[0]
	} else {
		out.owners = owners
	}
	return out, nil
}

// SortIntervals orders intervals by start, then end, then owner.
func SortIntervals(ivs []Interval) {
	sort.SliceStable(ivs, func(i, j int) bool {
		if !ivs[i].Start.Equal(ivs[j].Start) {
			return ivs[i].Start.Before(ivs[j].Start)
		}
		if !ivs[i].End.Equal(ivs[j].End) {
			return ivs[i].End.Before(ivs[j].End)
		}
		return ivs[i].Owner < ivs[j].Owner
	})
}

func unionOwners(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, o := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}
