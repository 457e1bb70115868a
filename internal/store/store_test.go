package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetslot/internal/models"
)

type proposalStore interface {
	GetCachedProposal(ctx context.Context, eventID string) (models.Proposal, bool, error)
	SaveProposal(ctx context.Context, eventID string, p models.Proposal, expectedPrior string) (bool, error)
}

type eventStore interface {
	UpsertEvent(ctx context.Context, ev models.Event) error
	ListEventIDs(ctx context.Context) ([]string, error)
	GetEventEnvelope(ctx context.Context, eventID string) (models.Envelope, error)
	GetParticipantRoster(ctx context.Context, eventID string) ([]string, error)
	GetPreferences(ctx context.Context, eventID string) (map[string][]models.Interval, error)
}

func utc(hour, minute int) time.Time {
	return time.Date(2025, 6, 2, hour, minute, 0, 0, time.UTC)
}

func sampleEvent() models.Event {
	return models.Event{
		Envelope: models.Envelope{
			EventID:         "retro",
			DateRangeStart:  civil.Date{Year: 2025, Month: 6, Day: 2},
			DateRangeEnd:    civil.Date{Year: 2025, Month: 6, Day: 6},
			DailyEarliest:   civil.Time{Hour: 9, Minute: 30},
			DailyLatest:     civil.Time{Hour: 16},
			MinSlotDuration: 45 * time.Minute,
			Timezone:        "Europe/London",
		},
		Participants: []string{"bob", "alice"},
		Preferences: map[string][]models.Interval{
			"alice": {{Start: utc(12, 0), End: utc(13, 0), Owner: "alice"}},
		},
	}
}

func sampleProposal(fp string) models.Proposal {
	return models.Proposal{
		Windows: []models.CandidateWindow{
			{Start: utc(9, 30), End: utc(12, 0), FreeParticipantCount: 2},
			{Start: utc(13, 0), End: utc(15, 0), FreeParticipantCount: 1, BusyParticipantCount: 1, BusyParticipants: []string{"bob"}},
		},
		Fingerprint: fp,
		ComputedAt:  utc(8, 0),
	}
}

func testProposalStore(t *testing.T, s proposalStore) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.GetCachedProposal(ctx, "retro")
	require.NoError(t, err)
	assert.False(t, ok)

	saved, err := s.SaveProposal(ctx, "retro", sampleProposal("v1:a"), "stale")
	require.NoError(t, err)
	assert.False(t, saved, "expected prior on a missing proposal must fail")

	saved, err = s.SaveProposal(ctx, "retro", sampleProposal("v1:a"), "")
	require.NoError(t, err)
	assert.True(t, saved)

	got, ok, err := s.GetCachedProposal(ctx, "retro")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1:a", got.Fingerprint)
	assert.Equal(t, sampleProposal("v1:a").Windows, got.Windows)
	assert.True(t, got.ComputedAt.Equal(utc(8, 0)))

	saved, err = s.SaveProposal(ctx, "retro", sampleProposal("v1:b"), "")
	require.NoError(t, err)
	assert.False(t, saved, "insert must not overwrite an existing proposal")

	saved, err = s.SaveProposal(ctx, "retro", sampleProposal("v1:b"), "v1:other")
	require.NoError(t, err)
	assert.False(t, saved)

	saved, err = s.SaveProposal(ctx, "retro", sampleProposal("v1:b"), "v1:a")
	require.NoError(t, err)
	assert.True(t, saved)

	got, _, err = s.GetCachedProposal(ctx, "retro")
	require.NoError(t, err)
	assert.Equal(t, "v1:b", got.Fingerprint)
}

func testEventStore(t *testing.T, s eventStore) {
	t.Helper()
	ctx := context.Background()

	_, err := s.GetEventEnvelope(ctx, "retro")
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = s.GetParticipantRoster(ctx, "retro")
	require.ErrorIs(t, err, models.ErrNotFound)

	ev := sampleEvent()
	require.NoError(t, s.UpsertEvent(ctx, ev))

	env, err := s.GetEventEnvelope(ctx, "retro")
	require.NoError(t, err)
	assert.Equal(t, ev.Envelope, env)

	roster, err := s.GetParticipantRoster(ctx, "retro")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, roster)

	prefs, err := s.GetPreferences(ctx, "retro")
	require.NoError(t, err)
	assert.Equal(t, ev.Preferences, prefs)

	ev.Participants = []string{"alice"}
	ev.Preferences = nil
	require.NoError(t, s.UpsertEvent(ctx, ev))
	roster, err = s.GetParticipantRoster(ctx, "retro")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, roster)
	prefs, err = s.GetPreferences(ctx, "retro")
	require.NoError(t, err)
	assert.Empty(t, prefs)

	ids, err := s.ListEventIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"retro"}, ids)

	var vErr *models.ValidationError
	require.ErrorAs(t, s.UpsertEvent(ctx, models.Event{}), &vErr)
}

func TestMemory(t *testing.T) {
	t.Run("proposals", func(t *testing.T) { testProposalStore(t, NewMemory()) })
	t.Run("events", func(t *testing.T) { testEventStore(t, NewMemory()) })
}

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "meetslot.db"), DefaultSQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite(t *testing.T) {
	t.Run("proposals", func(t *testing.T) { testProposalStore(t, openTestSQLite(t)) })
	t.Run("events", func(t *testing.T) { testEventStore(t, openTestSQLite(t)) })
}

func TestSQLite_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meetslot.db")
	s, err := OpenSQLite(path, DefaultSQLiteConfig())
	require.NoError(t, err)
	require.NoError(t, s.UpsertEvent(context.Background(), sampleEvent()))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path, DefaultSQLiteConfig())
	require.NoError(t, err)
	defer s.Close()
	env, err := s.GetEventEnvelope(context.Background(), "retro")
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, env.MinSlotDuration)
}

func setupMiniRedis(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisProposals) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return mr, newRedisProposals(client, RedisConfig{TTL: ttl}, logger)
}

func TestRedisProposals(t *testing.T) {
	_, s := setupMiniRedis(t, 0)
	testProposalStore(t, s)
}

func TestRedisProposals_TTL(t *testing.T) {
	mr, s := setupMiniRedis(t, time.Hour)
	ctx := context.Background()

	saved, err := s.SaveProposal(ctx, "retro", sampleProposal("v1:a"), "")
	require.NoError(t, err)
	require.True(t, saved)
	assert.Equal(t, time.Hour, mr.TTL("meetslot:proposal:retro"))

	mr.FastForward(2 * time.Hour)
	_, ok, err := s.GetCachedProposal(ctx, "retro")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisProposals_UndecodablePayloadIsMiss(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
	}{
		{"bad json", []string{"fingerprint", "v1:a", "payload", "{not json"}},
		{"missing payload", []string{"fingerprint", "v1:a"}},
		{"missing fingerprint", []string{"payload", "{}"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mr, s := setupMiniRedis(t, 0)
			mr.HSet("meetslot:proposal:retro", tt.fields...)

			_, ok, err := s.GetCachedProposal(ctx, "retro")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.False(t, mr.Exists("meetslot:proposal:retro"))

			// A miss must let the next save create the proposal.
			saved, err := s.SaveProposal(ctx, "retro", sampleProposal("v1:b"), "")
			require.NoError(t, err)
			require.True(t, saved)

			p, ok, err := s.GetCachedProposal(ctx, "retro")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "v1:b", p.Fingerprint)
		})
	}
}
