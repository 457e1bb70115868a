package busy

import (
	"slices"
	"time"
)

func isEmpty(t Timeline) bool {
	for _, s := range t.Segments {
		if s.Concurrency > 0 {
			return false
		}
	}
	return true
}

func concurrencyAt(t Timeline, ts time.Time) int {
	i, found := slices.BinarySearchFunc(t.Segments, ts, func(s Segment, ts time.Time) int {
		switch {
		case !s.End.After(ts):
			return -1
		case s.Start.After(ts):
			return 1
		}
		return 0
	})
	if !found {
		return 0
	}
	return t.Segments[i].Concurrency
}
