package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"meetslot/internal/models"
)

// Source types understood by the router.
const (
	SourceGoogle = "google"
	SourceCalDAV = "caldav"
	SourceICS    = "ics"
)

// SourceConfig describes one calendar holding a participant's busy time.
type SourceConfig struct {
	// Type is one of "google", "caldav" or "ics".
	Type string `yaml:"type" json:"type"`

	// Account names the Google token file (token-<account>.json).
	Account string `yaml:"account,omitempty" json:"account,omitempty"`
	// Calendars are Google calendar ids. Defaults to ["primary"].
	Calendars []string `yaml:"calendars,omitempty" json:"calendars,omitempty"`

	// Endpoint is the CalDAV base URL; empty means iCloud.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	// PasswordEnv names the environment variable holding the CalDAV password.
	PasswordEnv string `yaml:"password_env,omitempty" json:"password_env,omitempty"`
	Calendar    string `yaml:"calendar,omitempty" json:"calendar,omitempty"`

	// URL is the published .ics feed.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// Timezone resolves floating and all-day times from CalDAV and ICS data.
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`
}

// Password reads the CalDAV password from the configured environment variable.
func (s SourceConfig) Password() string {
	if s.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(s.PasswordEnv)
}

// Label is a short, secret-free description used in logs.
func (s SourceConfig) Label() string {
	switch s.Type {
	case SourceGoogle:
		return "google:" + s.Account
	case SourceCalDAV:
		return "caldav:" + s.Calendar
	default:
		return s.Type
	}
}

// ParticipantConfig binds a participant id to its calendars.
type ParticipantConfig struct {
	ID      string         `yaml:"id" json:"id"`
	Sources []SourceConfig `yaml:"sources" json:"sources"`
}

// PreferenceConfig is an explicit unavailable block. Times are RFC 3339 or a
// local "2006-01-02T15:04" in the event timezone.
type PreferenceConfig struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// EventConfig declares one event to schedule.
type EventConfig struct {
	ID       string `yaml:"id" json:"id"`
	Timezone string `yaml:"timezone" json:"timezone"`

	// DateStart and DateEnd are inclusive "YYYY-MM-DD" days.
	DateStart string `yaml:"date_start" json:"date_start"`
	DateEnd   string `yaml:"date_end" json:"date_end"`

	// DailyStart and DailyEnd are "HH:MM" wall-clock bounds.
	DailyStart string `yaml:"daily_start" json:"daily_start"`
	DailyEnd   string `yaml:"daily_end" json:"daily_end"`

	MinSlot time.Duration `yaml:"min_slot" json:"min_slot"`

	// Threshold is the default concurrency threshold for this event.
	Threshold int `yaml:"threshold" json:"threshold"`

	Participants []string                      `yaml:"participants" json:"participants"`
	Preferences  map[string][]PreferenceConfig `yaml:"preferences,omitempty" json:"preferences,omitempty"`
}

// RedisConfig enables the Redis proposal cache when Addr is set.
type RedisConfig struct {
	Addr        string        `yaml:"addr" json:"addr"`
	PasswordEnv string        `yaml:"password_env,omitempty" json:"password_env,omitempty"`
	DB          int           `yaml:"db" json:"db"`
	KeyPrefix   string        `yaml:"key_prefix,omitempty" json:"key_prefix,omitempty"`
	TTL         time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// FetchConfig tunes the busy-data fan-out.
type FetchConfig struct {
	Concurrency  int           `yaml:"concurrency" json:"concurrency"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	AllowPartial bool          `yaml:"allow_partial" json:"allow_partial"`

	// RatePerSecond caps calendar reads across all participants; zero disables it.
	RatePerSecond float64 `yaml:"rate_per_second,omitempty" json:"rate_per_second,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Database is the SQLite file for events and proposals.
	Database string `yaml:"database" json:"database"`

	// TokenDir holds Google OAuth token files.
	TokenDir string `yaml:"token_dir" json:"token_dir"`

	Redis *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
	Fetch FetchConfig  `yaml:"fetch" json:"fetch"`

	Participants []ParticipantConfig `yaml:"participants" json:"participants"`
	Events       []EventConfig       `yaml:"events" json:"events"`
}

// DefaultConfig returns an example configuration suitable for first runs.
func DefaultConfig() *Config {
	return &Config{
		Database: "meetslot.db",
		TokenDir: ".",
		Fetch: FetchConfig{
			Concurrency: 8,
			Timeout:     20 * time.Second,
		},
		Participants: []ParticipantConfig{
			{ID: "alice", Sources: []SourceConfig{{Type: SourceGoogle, Account: "work", Calendars: []string{"primary"}}}},
			{ID: "bob", Sources: []SourceConfig{{Type: SourceICS, URL: "https://example.com/bob.ics"}}},
		},
		Events: []EventConfig{{
			ID:           "planning",
			Timezone:     "UTC",
			DateStart:    "2025-03-10",
			DateEnd:      "2025-03-14",
			DailyStart:   "09:00",
			DailyEnd:     "17:00",
			MinSlot:      30 * time.Minute,
			Participants: []string{"alice", "bob"},
		}},
	}
}

// Normalize fills in missing/zero values with sensible defaults.
func (c *Config) Normalize() {
	if c.Database == "" {
		c.Database = "meetslot.db"
	}
	if c.TokenDir == "" {
		c.TokenDir = "."
	}
	if c.Fetch.Concurrency <= 0 {
		c.Fetch.Concurrency = 8
	}
	if c.Fetch.RatePerSecond < 0 {
		c.Fetch.RatePerSecond = 0
	}
	if c.Redis != nil && c.Redis.Addr == "" {
		c.Redis = nil
	}
	for i := range c.Participants {
		for j := range c.Participants[i].Sources {
			s := &c.Participants[i].Sources[j]
			s.Type = strings.ToLower(strings.TrimSpace(s.Type))
			if s.Type == SourceGoogle && len(s.Calendars) == 0 {
				s.Calendars = []string{"primary"}
			}
		}
	}
	for i := range c.Events {
		if c.Events[i].Timezone == "" {
			c.Events[i].Timezone = "UTC"
		}
	}
}

// Validate checks references and source settings. Envelope rules are checked
// by ToEvents through models.Envelope.Validate.
func (c *Config) Validate() error {
	known := make(map[string]bool, len(c.Participants))
	for _, p := range c.Participants {
		if p.ID == "" {
			return &models.ValidationError{Field: "participants.id", Reason: "must not be empty"}
		}
		if known[p.ID] {
			return &models.ValidationError{Field: "participants.id", Reason: fmt.Sprintf("duplicate participant %q", p.ID)}
		}
		known[p.ID] = true
		for _, s := range p.Sources {
			if err := s.validate(); err != nil {
				return fmt.Errorf("participant %s: %w", p.ID, err)
			}
		}
	}

	seen := make(map[string]bool, len(c.Events))
	for _, ev := range c.Events {
		if ev.ID == "" {
			return &models.ValidationError{Field: "events.id", Reason: "must not be empty"}
		}
		if seen[ev.ID] {
			return &models.ValidationError{Field: "events.id", Reason: fmt.Sprintf("duplicate event %q", ev.ID)}
		}
		seen[ev.ID] = true
		if ev.Threshold < 0 {
			return &models.ValidationError{Field: "events.threshold", Reason: fmt.Sprintf("event %s: must not be negative", ev.ID)}
		}
		for _, pid := range ev.Participants {
			if !known[pid] {
				return &models.ValidationError{Field: "events.participants", Reason: fmt.Sprintf("event %s references unknown participant %q", ev.ID, pid)}
			}
		}
	}
	return nil
}

func (s SourceConfig) validate() error {
	switch s.Type {
	case SourceGoogle:
		if s.Account == "" {
			return &models.ValidationError{Field: "sources.account", Reason: "google sources need an account"}
		}
	case SourceCalDAV:
		if s.Username == "" || s.Calendar == "" {
			return &models.ValidationError{Field: "sources.caldav", Reason: "caldav sources need username and calendar"}
		}
	case SourceICS:
		if s.URL == "" {
			return &models.ValidationError{Field: "sources.url", Reason: "ics sources need a url"}
		}
	default:
		return &models.ValidationError{Field: "sources.type", Reason: fmt.Sprintf("unknown source type %q", s.Type)}
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return &models.ValidationError{Field: "sources.timezone", Reason: fmt.Sprintf("unknown timezone %q", s.Timezone)}
		}
	}
	return nil
}

// Event returns the event declaration with the given id.
func (c *Config) Event(id string) (EventConfig, bool) {
	for _, ev := range c.Events {
		if ev.ID == id {
			return ev, true
		}
	}
	return EventConfig{}, false
}

// ToEvents converts every declared event into its domain model.
func (c *Config) ToEvents() ([]models.Event, error) {
	out := make([]models.Event, 0, len(c.Events))
	for _, ec := range c.Events {
		ev, err := ec.ToEvent()
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", ec.ID, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// ToEvent parses the declaration into a validated models.Event.
func (ec EventConfig) ToEvent() (models.Event, error) {
	start, err := civil.ParseDate(ec.DateStart)
	if err != nil {
		return models.Event{}, &models.ValidationError{Field: "envelope.date_range", Reason: fmt.Sprintf("bad date_start %q", ec.DateStart)}
	}
	end, err := civil.ParseDate(ec.DateEnd)
	if err != nil {
		return models.Event{}, &models.ValidationError{Field: "envelope.date_range", Reason: fmt.Sprintf("bad date_end %q", ec.DateEnd)}
	}
	earliest, err := parseClock(ec.DailyStart)
	if err != nil {
		return models.Event{}, &models.ValidationError{Field: "envelope.daily_window", Reason: fmt.Sprintf("bad daily_start %q", ec.DailyStart)}
	}
	latest, err := parseClock(ec.DailyEnd)
	if err != nil {
		return models.Event{}, &models.ValidationError{Field: "envelope.daily_window", Reason: fmt.Sprintf("bad daily_end %q", ec.DailyEnd)}
	}

	env := models.Envelope{
		EventID:         ec.ID,
		DateRangeStart:  start,
		DateRangeEnd:    end,
		DailyEarliest:   earliest,
		DailyLatest:     latest,
		MinSlotDuration: ec.MinSlot,
		Timezone:        ec.Timezone,
	}
	if err := env.Validate(); err != nil {
		return models.Event{}, err
	}
	loc, _ := env.Location()

	prefs := make(map[string][]models.Interval, len(ec.Preferences))
	for pid, blocks := range ec.Preferences {
		for _, b := range blocks {
			s, err := parseInstant(b.Start, loc)
			if err != nil {
				return models.Event{}, fmt.Errorf("preference for %s: %w", pid, err)
			}
			e, err := parseInstant(b.End, loc)
			if err != nil {
				return models.Event{}, fmt.Errorf("preference for %s: %w", pid, err)
			}
			iv, err := models.NewInterval(s, e, pid)
			if err != nil {
				return models.Event{}, fmt.Errorf("preference for %s: %w", pid, err)
			}
			prefs[pid] = append(prefs[pid], iv)
		}
	}

	return models.Event{
		Envelope:     env,
		Participants: append([]string(nil), ec.Participants...),
		Preferences:  prefs,
	}, nil
}

// parseClock accepts "HH:MM" or "HH:MM:SS".
func parseClock(s string) (civil.Time, error) {
	if strings.Count(s, ":") == 1 {
		s += ":00"
	}
	return civil.ParseTime(s)
}

// parseInstant accepts RFC 3339 or a local date-time interpreted in loc.
func parseInstant(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	local := s
	if strings.Count(local, ":") == 1 {
		local += ":00"
	}
	dt, err := civil.ParseDateTime(local)
	if err != nil {
		return time.Time{}, &models.ValidationError{Field: "preferences", Reason: fmt.Sprintf("bad time %q", s)}
	}
	return dt.In(loc).UTC(), nil
}

// Load reads configuration from the given YAML path, then normalizes and
// validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to path atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// renameio handles temp file creation, fsync and the atomic rename
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}
