package busy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetslot/internal/models"
)

func at(hour, minute int) time.Time {
	return time.Date(2025, 3, 10, hour, minute, 0, 0, time.UTC)
}

func iv(start, end time.Time) models.Interval {
	return models.Interval{Start: start, End: end}
}

func TestMerge_Empty(t *testing.T) {
	res := Merge(nil)
	assert.Empty(t, res.Timeline.Segments)
	assert.True(t, isEmpty(res.Timeline))
	assert.Empty(t, res.Warnings)
}

func TestMerge_ParticipantWithoutIntervalsIsKnown(t *testing.T) {
	res := Merge(map[string][]models.Interval{
		"alice": nil,
		"bob":   {iv(at(9, 0), at(10, 0))},
	})
	assert.Equal(t, []string{"alice", "bob"}, res.Participants)
	require.Len(t, res.Timeline.Segments, 1)
	assert.Equal(t, []string{"bob"}, res.Timeline.Segments[0].Owners)
}

func TestMerge_OverlapFromTwoParticipants(t *testing.T) {
	res := Merge(map[string][]models.Interval{
		"a": {iv(at(9, 0), at(10, 0))},
		"b": {iv(at(9, 30), at(10, 30))},
	})

	want := []Segment{
		{Start: at(9, 0), End: at(9, 30), Concurrency: 1, Owners: []string{"a"}},
		{Start: at(9, 30), End: at(10, 0), Concurrency: 2, Owners: []string{"a", "b"}},
		{Start: at(10, 0), End: at(10, 30), Concurrency: 1, Owners: []string{"b"}},
	}
	assert.Equal(t, want, res.Timeline.Segments)
	assert.Equal(t, 2, concurrencyAt(res.Timeline, at(9, 45)))
	assert.Equal(t, 0, concurrencyAt(res.Timeline, at(10, 30)))
	assert.Equal(t, 2, res.Timeline.MaxConcurrency())
}

func TestMerge_TouchingIntervalsAreNotConcurrent(t *testing.T) {
	res := Merge(map[string][]models.Interval{
		"a": {iv(at(9, 0), at(10, 0))},
		"b": {iv(at(10, 0), at(11, 0))},
	})
	require.Len(t, res.Timeline.Segments, 2)
	for _, s := range res.Timeline.Segments {
		assert.Equal(t, 1, s.Concurrency)
	}
	assert.Equal(t, []string{"a"}, res.Timeline.Segments[0].Owners)
	assert.Equal(t, []string{"b"}, res.Timeline.Segments[1].Owners)
}

func TestMerge_DisjointParticipants(t *testing.T) {
	input := map[string][]models.Interval{
		"a": {iv(at(9, 0), at(9, 45)), iv(at(13, 0), at(14, 0))},
		"b": {iv(at(10, 0), at(11, 0))},
		"c": {iv(at(15, 30), at(16, 0))},
	}
	res := Merge(input)

	var sum time.Duration
	for _, ivs := range input {
		for _, i := range ivs {
			sum += i.Duration()
		}
	}
	for _, s := range res.Timeline.Segments {
		assert.LessOrEqual(t, s.Concurrency, 1)
	}
	assert.Equal(t, sum, res.Timeline.BusyDuration())

	window := at(17, 0).Sub(at(8, 0))
	free := window - res.Timeline.Clip(at(8, 0), at(17, 0)).BusyDuration()
	assert.Equal(t, window-sum, free)
}

func TestMerge_ZeroGapsBetweenBusySegments(t *testing.T) {
	res := Merge(map[string][]models.Interval{
		"a": {iv(at(9, 0), at(10, 0)), iv(at(11, 0), at(12, 0))},
	})
	require.Len(t, res.Timeline.Segments, 3)
	gap := res.Timeline.Segments[1]
	assert.Equal(t, 0, gap.Concurrency)
	assert.Nil(t, gap.Owners)
	assert.Equal(t, at(10, 0), gap.Start)
	assert.Equal(t, at(11, 0), gap.End)
}

func TestMerge_DuplicatesAreIdempotent(t *testing.T) {
	once := map[string][]models.Interval{
		"a": {iv(at(9, 0), at(10, 0)), iv(at(12, 0), at(13, 0))},
		"b": {iv(at(9, 30), at(12, 30))},
	}
	twice := map[string][]models.Interval{
		"a": append(append([]models.Interval(nil), once["a"]...), once["a"]...),
		"b": append(append([]models.Interval(nil), once["b"]...), once["b"]...),
	}
	assert.Equal(t, Merge(once).Timeline, Merge(twice).Timeline)
	assert.Equal(t, 2, Merge(twice).Timeline.MaxConcurrency())
}

func TestMerge_SelfOverlapCollapses(t *testing.T) {
	res := Merge(map[string][]models.Interval{
		"a": {iv(at(9, 0), at(10, 0)), iv(at(9, 30), at(11, 0)), iv(at(11, 0), at(11, 30))},
	})
	require.Len(t, res.Timeline.Segments, 1)
	assert.Equal(t, Segment{Start: at(9, 0), End: at(11, 30), Concurrency: 1, Owners: []string{"a"}}, res.Timeline.Segments[0])
}

func TestMerge_MalformedParticipantSkipped(t *testing.T) {
	res := Merge(map[string][]models.Interval{
		"a": {iv(at(9, 0), at(10, 0))},
		"b": {iv(at(9, 0), at(10, 0)), iv(at(12, 0), at(12, 0))},
	})
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "b", res.Warnings[0].Participant)
	assert.Equal(t, []string{"a", "b"}, res.Participants)
	require.Len(t, res.Timeline.Segments, 1)
	assert.Equal(t, []string{"a"}, res.Timeline.Segments[0].Owners)
}

func TestMerge_IndependentOfInputOrder(t *testing.T) {
	a := map[string][]models.Interval{
		"x": {iv(at(14, 0), at(15, 0)), iv(at(9, 0), at(10, 0))},
		"y": {iv(at(9, 30), at(14, 30))},
	}
	b := map[string][]models.Interval{
		"y": {iv(at(9, 30), at(14, 30))},
		"x": {iv(at(9, 0), at(10, 0)), iv(at(14, 0), at(15, 0))},
	}
	assert.Equal(t, Merge(a).Timeline, Merge(b).Timeline)
}

func TestTimelineClip(t *testing.T) {
	res := Merge(map[string][]models.Interval{
		"a": {iv(at(8, 0), at(10, 0))},
	})
	clipped := res.Timeline.Clip(at(9, 0), at(17, 0))
	require.Len(t, clipped.Segments, 1)
	assert.Equal(t, at(9, 0), clipped.Segments[0].Start)
	assert.Equal(t, at(10, 0), clipped.Segments[0].End)

	assert.Empty(t, res.Timeline.Clip(at(10, 0), at(11, 0)).Segments)
}
