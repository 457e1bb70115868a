package busy

import (
	"slices"
	"sort"
	"time"

	"meetslot/internal/models"
)

// Result is the output of Merge.
type Result struct {
	Timeline Timeline
	// Participants lists every known participant id, sorted, including those
	// with no busy intervals and those skipped with a warning.
	Participants []string
	Warnings     []models.Warning
}

type boundary struct {
	at    time.Time
	delta int // +1 start, -1 end
	owner string
}

// Merge sweeps all participants' busy intervals into a single Timeline.
//
// A participant whose list contains a malformed interval is skipped entirely
// and reported as a Warning. Duplicate or self-overlapping intervals from one
// participant are collapsed first, so a participant never counts more than once.
// The result depends only on the input set, not on map or fetch order.
func Merge(byParticipant map[string][]models.Interval) Result {
	var res Result

	ids := make([]string, 0, len(byParticipant))
	for id := range byParticipant {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	res.Participants = ids

	var events []boundary
	for _, id := range ids {
		ivs := byParticipant[id]
		if w, ok := validateParticipant(id, ivs); !ok {
			res.Warnings = append(res.Warnings, w)
			continue
		}
		for _, iv := range Normalize(ivs, id) {
			events = append(events,
				boundary{at: iv.Start, delta: +1, owner: id},
				boundary{at: iv.End, delta: -1, owner: id},
			)
		}
	}

	// End-events sort before start-events at the same instant so that a slot
	// ending at T and another starting at T are not counted as concurrent.
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.at.Equal(b.at) {
			return a.at.Before(b.at)
		}
		if a.delta != b.delta {
			return a.delta < b.delta
		}
		return a.owner < b.owner
	})

	active := make(map[string]int)
	var segs []Segment
	var prev time.Time
	started := false

	for i := 0; i < len(events); {
		ts := events[i].at
		if started && prev.Before(ts) {
			segs = appendSegment(segs, Segment{
				Start:       prev,
				End:         ts,
				Concurrency: len(active),
				Owners:      ownerSet(active),
			})
		}
		for ; i < len(events) && events[i].at.Equal(ts); i++ {
			e := events[i]
			active[e.owner] += e.delta
			if active[e.owner] <= 0 {
				delete(active, e.owner)
			}
		}
		prev = ts
		started = true
	}

	res.Timeline = Timeline{Segments: segs}
	return res
}

// Normalize sorts one participant's intervals and collapses overlapping or
// adjacent ones. Every returned interval is attributed to owner.
func Normalize(ivs []models.Interval, owner string) []models.Interval {
	if len(ivs) == 0 {
		return nil
	}
	sorted := make([]models.Interval, len(ivs))
	for i, iv := range ivs {
		sorted[i] = models.Interval{Start: iv.Start.UTC(), End: iv.End.UTC(), Owner: owner}
	}
	models.SortIntervals(sorted)

	out := []models.Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if models.Overlaps(*last, iv) || models.Adjacent(*last, iv) {
			merged, err := models.Merge(*last, iv)
			if err == nil {
				*last = merged
				continue
			}
		}
		out = append(out, iv)
	}
	return out
}

func validateParticipant(id string, ivs []models.Interval) (models.Warning, bool) {
	for _, iv := range ivs {
		if err := iv.Validate(); err != nil {
			return models.Warning{Participant: id, Reason: err.Error()}, false
		}
	}
	return models.Warning{}, true
}

func appendSegment(segs []Segment, s Segment) []Segment {
	if n := len(segs); n > 0 {
		last := &segs[n-1]
		if last.End.Equal(s.Start) && slices.Equal(last.Owners, s.Owners) {
			last.End = s.End
			return segs
		}
	}
	return append(segs, s)
}

func ownerSet(active map[string]int) []string {
	if len(active) == 0 {
		return nil
	}
	owners := make([]string, 0, len(active))
	for o := range active {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	return owners
}
