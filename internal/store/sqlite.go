package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	_ "modernc.org/sqlite" // Pure Go driver

	"meetslot/internal/models"
)

// SQLiteConfig defines SQLite operational parameters.
type SQLiteConfig struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultSQLiteConfig returns the recommended SQLite configuration.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 4,
	}
}

// SQLite persists events, rosters, preferences and proposals.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and runs migrations.
func OpenSQLite(path string, cfg SQLiteConfig) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		timezone TEXT NOT NULL,
		date_start TEXT NOT NULL,
		date_end TEXT NOT NULL,
		daily_earliest TEXT NOT NULL,
		daily_latest TEXT NOT NULL,
		min_slot_ns INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS event_participants (
		event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		participant_id TEXT NOT NULL,
		PRIMARY KEY (event_id, participant_id)
	);

	CREATE TABLE IF NOT EXISTS event_preferences (
		event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		participant_id TEXT NOT NULL,
		start_ns INTEGER NOT NULL,
		end_ns INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_event_preferences_event ON event_preferences(event_id);

	CREATE TABLE IF NOT EXISTS proposals (
		event_id TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		windows TEXT NOT NULL,
		computed_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// UpsertEvent stores or replaces an event with its roster and preferences.
func (s *SQLite) UpsertEvent(ctx context.Context, ev models.Event) (err error) {
	if ev.ID() == "" {
		return &models.ValidationError{Field: "event.id", Reason: "must not be empty"}
	}
	env := ev.Envelope

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, timezone, date_start, date_end, daily_earliest, daily_latest, min_slot_ns, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			timezone = excluded.timezone,
			date_start = excluded.date_start,
			date_end = excluded.date_end,
			daily_earliest = excluded.daily_earliest,
			daily_latest = excluded.daily_latest,
			min_slot_ns = excluded.min_slot_ns,
			updated_at = excluded.updated_at`,
		ev.ID(), env.Timezone, env.DateRangeStart.String(), env.DateRangeEnd.String(),
		env.DailyEarliest.String(), env.DailyLatest.String(), int64(env.MinSlotDuration), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("upsert event: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM event_participants WHERE event_id = ?`, ev.ID()); err != nil {
		return fmt.Errorf("clear participants: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM event_preferences WHERE event_id = ?`, ev.ID()); err != nil {
		return fmt.Errorf("clear preferences: %w", err)
	}

	for _, p := range ev.Participants {
		if _, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO event_participants (event_id, participant_id) VALUES (?, ?)`, ev.ID(), p); err != nil {
			return fmt.Errorf("insert participant %s: %w", p, err)
		}
	}
	for p, ivs := range ev.Preferences {
		for _, iv := range ivs {
			if _, err = tx.ExecContext(ctx,
				`INSERT INTO event_preferences (event_id, participant_id, start_ns, end_ns) VALUES (?, ?, ?, ?)`,
				ev.ID(), p, iv.Start.UnixNano(), iv.End.UnixNano()); err != nil {
				return fmt.Errorf("insert preference for %s: %w", p, err)
			}
		}
	}

	return tx.Commit()
}

// ListEventIDs returns the ids of all stored events.
func (s *SQLite) ListEventIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetEventEnvelope returns the envelope of eventID or a wrapped models.ErrNotFound.
func (s *SQLite) GetEventEnvelope(ctx context.Context, eventID string) (models.Envelope, error) {
	var (
		tz, dateStart, dateEnd, earliest, latest string
		minSlot                                  int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT timezone, date_start, date_end, daily_earliest, daily_latest, min_slot_ns
		FROM events WHERE id = ?`, eventID).
		Scan(&tz, &dateStart, &dateEnd, &earliest, &latest, &minSlot)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Envelope{}, fmt.Errorf("event %q: %w", eventID, models.ErrNotFound)
	}
	if err != nil {
		return models.Envelope{}, fmt.Errorf("query event: %w", err)
	}

	env := models.Envelope{EventID: eventID, Timezone: tz, MinSlotDuration: time.Duration(minSlot)}
	if env.DateRangeStart, err = civil.ParseDate(dateStart); err != nil {
		return models.Envelope{}, &models.ValidationError{Field: "envelope.date_range", Reason: err.Error()}
	}
	if env.DateRangeEnd, err = civil.ParseDate(dateEnd); err != nil {
		return models.Envelope{}, &models.ValidationError{Field: "envelope.date_range", Reason: err.Error()}
	}
	if env.DailyEarliest, err = civil.ParseTime(earliest); err != nil {
		return models.Envelope{}, &models.ValidationError{Field: "envelope.daily_window", Reason: err.Error()}
	}
	if env.DailyLatest, err = civil.ParseTime(latest); err != nil {
		return models.Envelope{}, &models.ValidationError{Field: "envelope.daily_window", Reason: err.Error()}
	}
	return env, nil
}

// GetParticipantRoster returns the roster of eventID sorted by id.
func (s *SQLite) GetParticipantRoster(ctx context.Context, eventID string) ([]string, error) {
	if err := s.ensureEvent(ctx, eventID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT participant_id FROM event_participants WHERE event_id = ? ORDER BY participant_id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()

	var roster []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		roster = append(roster, id)
	}
	return roster, rows.Err()
}

// GetPreferences returns the preference blocks of eventID by participant.
func (s *SQLite) GetPreferences(ctx context.Context, eventID string) (map[string][]models.Interval, error) {
	if err := s.ensureEvent(ctx, eventID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT participant_id, start_ns, end_ns FROM event_preferences
		WHERE event_id = ? ORDER BY participant_id, start_ns`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	prefs := make(map[string][]models.Interval)
	for rows.Next() {
		var (
			id         string
			start, end int64
		)
		if err := rows.Scan(&id, &start, &end); err != nil {
			return nil, err
		}
		prefs[id] = append(prefs[id], models.Interval{
			Start: time.Unix(0, start).UTC(),
			End:   time.Unix(0, end).UTC(),
			Owner: id,
		})
	}
	return prefs, rows.Err()
}

// GetCachedProposal returns the stored proposal for eventID, if any.
func (s *SQLite) GetCachedProposal(ctx context.Context, eventID string) (models.Proposal, bool, error) {
	var (
		fp, payload string
		computedAt  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, windows, computed_at FROM proposals WHERE event_id = ?`, eventID).
		Scan(&fp, &payload, &computedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Proposal{}, false, nil
	}
	if err != nil {
		return models.Proposal{}, false, fmt.Errorf("query proposal: %w", err)
	}

	p := models.Proposal{EventID: eventID, Fingerprint: fp, ComputedAt: time.Unix(0, computedAt).UTC()}
	if err := json.Unmarshal([]byte(payload), &p.Windows); err != nil {
		return models.Proposal{}, false, fmt.Errorf("decode proposal windows: %w", err)
	}
	return p, true, nil
}

// SaveProposal writes p only if the stored fingerprint still equals expectedPrior.
func (s *SQLite) SaveProposal(ctx context.Context, eventID string, p models.Proposal, expectedPrior string) (bool, error) {
	payload, err := json.Marshal(p.Windows)
	if err != nil {
		return false, fmt.Errorf("encode proposal windows: %w", err)
	}

	var res sql.Result
	if expectedPrior == "" {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO proposals (event_id, fingerprint, windows, computed_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(event_id) DO NOTHING`,
			eventID, p.Fingerprint, string(payload), p.ComputedAt.UnixNano())
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE proposals SET fingerprint = ?, windows = ?, computed_at = ?
			WHERE event_id = ? AND fingerprint = ?`,
			p.Fingerprint, string(payload), p.ComputedAt.UnixNano(), eventID, expectedPrior)
	}
	if err != nil {
		return false, fmt.Errorf("save proposal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save proposal: %w", err)
	}
	return n == 1, nil
}

func (s *SQLite) ensureEvent(ctx context.Context, eventID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM events WHERE id = ?`, eventID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("event %q: %w", eventID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("query event: %w", err)
	}
	return nil
}
