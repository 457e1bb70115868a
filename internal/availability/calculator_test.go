package availability

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetslot/internal/busy"
	"meetslot/internal/models"
)

func utc(day, hour, minute int) time.Time {
	return time.Date(2025, 3, day, hour, minute, 0, 0, time.UTC)
}

func oneDayEnvelope() models.Envelope {
	return models.Envelope{
		EventID:         "standup",
		DateRangeStart:  civil.Date{Year: 2025, Month: 3, Day: 10},
		DateRangeEnd:    civil.Date{Year: 2025, Month: 3, Day: 10},
		DailyEarliest:   civil.Time{Hour: 9},
		DailyLatest:     civil.Time{Hour: 17},
		MinSlotDuration: 30 * time.Minute,
		Timezone:        "UTC",
	}
}

func timeline(byParticipant map[string][]models.Interval) busy.Timeline {
	return busy.Merge(byParticipant).Timeline
}

func TestCalculate_WorkedExample(t *testing.T) {
	tl := timeline(map[string][]models.Interval{
		"a": {{Start: utc(10, 9, 0), End: utc(10, 10, 0)}},
		"b": {{Start: utc(10, 9, 30), End: utc(10, 10, 30)}},
	})

	windows, err := Calculate(Request{Timeline: tl, Envelope: oneDayEnvelope(), ParticipantCount: 2})
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, utc(10, 10, 30), windows[0].Start)
	assert.Equal(t, utc(10, 17, 0), windows[0].End)
	assert.Equal(t, 2, windows[0].FreeParticipantCount)
	assert.Equal(t, 0, windows[0].BusyParticipantCount)
	assert.Equal(t, 390, windows[0].DurationMinutes())
}

func TestCalculate_NobodyBusy(t *testing.T) {
	env := oneDayEnvelope()
	env.DateRangeEnd = civil.Date{Year: 2025, Month: 3, Day: 12}

	windows, err := Calculate(Request{Envelope: env, ParticipantCount: 3})
	require.NoError(t, err)
	require.Len(t, windows, 3)
	for i, w := range windows {
		assert.Equal(t, utc(10+i, 9, 0), w.Start)
		assert.Equal(t, utc(10+i, 17, 0), w.End)
		assert.Equal(t, 3, w.FreeParticipantCount)
	}
}

func TestCalculate_MinSlotBoundary(t *testing.T) {
	// Free gaps: 09:00-09:30 (exactly 30m) and 10:00-10:29 (29m).
	tl := timeline(map[string][]models.Interval{
		"a": {
			{Start: utc(10, 9, 30), End: utc(10, 10, 0)},
			{Start: utc(10, 10, 29), End: utc(10, 17, 0)},
		},
	})
	windows, err := Calculate(Request{Timeline: tl, Envelope: oneDayEnvelope(), ParticipantCount: 1})
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, utc(10, 9, 0), windows[0].Start)
	assert.Equal(t, utc(10, 9, 30), windows[0].End)
}

func TestCalculate_FullyBookedIsEmptyNotError(t *testing.T) {
	tl := timeline(map[string][]models.Interval{
		"a": {{Start: utc(10, 0, 0), End: utc(11, 0, 0)}},
	})
	windows, err := Calculate(Request{Timeline: tl, Envelope: oneDayEnvelope(), ParticipantCount: 1})
	require.NoError(t, err)
	assert.NotNil(t, windows)
	assert.Empty(t, windows)
}

func TestCalculate_InvalidEnvelope(t *testing.T) {
	env := oneDayEnvelope()
	env.DailyEarliest = civil.Time{Hour: 17}

	windows, err := Calculate(Request{Envelope: env})
	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Nil(t, windows)

	env = oneDayEnvelope()
	env.DateRangeStart = civil.Date{Year: 2025, Month: 3, Day: 11}
	_, err = Calculate(Request{Envelope: env})
	require.ErrorAs(t, err, &vErr)
}

func TestCalculate_WindowsNeverSpanDays(t *testing.T) {
	env := oneDayEnvelope()
	env.DateRangeEnd = civil.Date{Year: 2025, Month: 3, Day: 11}
	env.DailyEarliest = civil.Time{}
	env.DailyLatest = civil.Time{Hour: 23, Minute: 59, Second: 59}

	windows, err := Calculate(Request{Envelope: env})
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.True(t, windows[0].End.Before(windows[1].Start))
}

func TestCalculate_DaylightSavingTransition(t *testing.T) {
	// America/New_York switches to EDT on 2025-03-09.
	env := models.Envelope{
		EventID:         "dst",
		DateRangeStart:  civil.Date{Year: 2025, Month: 3, Day: 8},
		DateRangeEnd:    civil.Date{Year: 2025, Month: 3, Day: 9},
		DailyEarliest:   civil.Time{Hour: 9},
		DailyLatest:     civil.Time{Hour: 17},
		MinSlotDuration: time.Hour,
		Timezone:        "America/New_York",
	}
	windows, err := Calculate(Request{Envelope: env, ParticipantCount: 1})
	require.NoError(t, err)
	require.Len(t, windows, 2)

	assert.Equal(t, utc(8, 14, 0), windows[0].Start)
	assert.Equal(t, utc(8, 22, 0), windows[0].End)
	assert.Equal(t, utc(9, 13, 0), windows[1].Start)
	assert.Equal(t, utc(9, 21, 0), windows[1].End)

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	for _, w := range windows {
		assert.Equal(t, 9, w.Start.In(loc).Hour())
		assert.Equal(t, 17, w.End.In(loc).Hour())
	}
}

func TestCalculate_Threshold(t *testing.T) {
	tl := timeline(map[string][]models.Interval{
		"a": {{Start: utc(10, 9, 0), End: utc(10, 12, 0)}},
		"b": {{Start: utc(10, 11, 0), End: utc(10, 13, 0)}},
	})

	windows, err := Calculate(Request{Timeline: tl, Envelope: oneDayEnvelope(), Threshold: 1, ParticipantCount: 3})
	require.NoError(t, err)
	require.Len(t, windows, 2)

	assert.Equal(t, utc(10, 9, 0), windows[0].Start)
	assert.Equal(t, utc(10, 11, 0), windows[0].End)
	assert.Equal(t, 1, windows[0].BusyParticipantCount)
	assert.Equal(t, 2, windows[0].FreeParticipantCount)
	assert.Equal(t, []string{"a"}, windows[0].BusyParticipants)

	assert.Equal(t, utc(10, 12, 0), windows[1].Start)
	assert.Equal(t, utc(10, 17, 0), windows[1].End)
	assert.Equal(t, []string{"b"}, windows[1].BusyParticipants)

	_, err = Calculate(Request{Timeline: tl, Envelope: oneDayEnvelope(), Threshold: -1})
	assert.Error(t, err)
}

func TestCalculate_BusyCountIsPeakNotUnion(t *testing.T) {
	tl := timeline(map[string][]models.Interval{
		"a": {{Start: utc(10, 9, 0), End: utc(10, 10, 0)}},
		"b": {{Start: utc(10, 11, 0), End: utc(10, 12, 0)}},
	})

	windows, err := Calculate(Request{Timeline: tl, Envelope: oneDayEnvelope(), Threshold: 1, ParticipantCount: 2})
	require.NoError(t, err)
	require.Len(t, windows, 1)
	w := windows[0]
	assert.Equal(t, 8*time.Hour, w.Duration())
	assert.Equal(t, 1, w.BusyParticipantCount)
	assert.Equal(t, 1, w.FreeParticipantCount)
	assert.Equal(t, []string{"a", "b"}, w.BusyParticipants)
}

func TestCalculate_WindowsInsideDailyBounds(t *testing.T) {
	env := oneDayEnvelope()
	env.DateRangeEnd = civil.Date{Year: 2025, Month: 3, Day: 14}
	env.Timezone = "Asia/Kolkata"
	tl := timeline(map[string][]models.Interval{
		"a": {{Start: utc(11, 5, 0), End: utc(11, 6, 15)}, {Start: utc(13, 1, 0), End: utc(13, 9, 0)}},
		"b": {{Start: utc(12, 3, 45), End: utc(12, 4, 0)}},
	})
	windows, err := Calculate(Request{Timeline: tl, Envelope: env, ParticipantCount: 2})
	require.NoError(t, err)
	require.NotEmpty(t, windows)

	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	for _, w := range windows {
		assert.GreaterOrEqual(t, w.Duration(), env.MinSlotDuration)
		ls, le := w.Start.In(loc), w.End.In(loc)
		assert.Equal(t, ls.YearDay(), le.YearDay())
		assert.False(t, ls.Before(time.Date(ls.Year(), ls.Month(), ls.Day(), 9, 0, 0, 0, loc)))
		assert.False(t, le.After(time.Date(ls.Year(), ls.Month(), ls.Day(), 17, 0, 0, 0, loc)))
	}
}
