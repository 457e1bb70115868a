package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"meetslot/internal/aggregator"
	"meetslot/internal/config"
	"meetslot/internal/models"
)

// eventWriter is the part of the event store the runner seeds from config.
type eventWriter interface {
	UpsertEvent(ctx context.Context, ev models.Event) error
}

// computer is the part of the aggregator the runner drives.
type computer interface {
	ComputeCandidateWindows(ctx context.Context, eventID string, opts aggregator.Options) (*aggregator.Result, error)
}

// runFlags are command-line overrides; nil pointers mean "use the config".
type runFlags struct {
	events       []string
	force        bool
	threshold    *int
	timeout      *time.Duration
	allowPartial bool
}

// runner performs computation cycles for the configured events.
type runner struct {
	logger *slog.Logger
	events eventWriter
	agg    computer
	out    io.Writer
	format string
	flags  runFlags

	mu  sync.Mutex
	cfg *config.Config
}

// seed stores cfg's events and makes cfg current.
func (r *runner) seed(ctx context.Context, cfg *config.Config) error {
	events, err := cfg.ToEvents()
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := r.events.UpsertEvent(ctx, ev); err != nil {
			return fmt.Errorf("failed to store event %s: %w", ev.ID(), err)
		}
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
	r.logger.Info("Loaded events from configuration.", "count", len(events))
	return nil
}

func (r *runner) config() *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

func (r *runner) eventIDs(cfg *config.Config) []string {
	if len(r.flags.events) > 0 {
		return r.flags.events
	}
	ids := make([]string, 0, len(cfg.Events))
	for _, ev := range cfg.Events {
		ids = append(ids, ev.ID)
	}
	return ids
}

// options resolves the computation options for id: flags win over the event
// declaration, which wins over the fetch defaults.
func (r *runner) options(cfg *config.Config, id string) aggregator.Options {
	opts := aggregator.Options{
		ForceRecompute: r.flags.force,
		FetchTimeout:   cfg.Fetch.Timeout,
		AllowPartial:   cfg.Fetch.AllowPartial || r.flags.allowPartial,
	}
	if ec, ok := cfg.Event(id); ok {
		opts.ConcurrencyThreshold = ec.Threshold
	}
	if r.flags.threshold != nil {
		opts.ConcurrencyThreshold = *r.flags.threshold
	}
	if r.flags.timeout != nil {
		opts.FetchTimeout = *r.flags.timeout
	}
	return opts
}

// runOnce computes every selected event. A failing event does not stop the
// others; the returned error lists all of them.
func (r *runner) runOnce(ctx context.Context) error {
	cfg := r.config()
	var failed []string
	for _, id := range r.eventIDs(cfg) {
		res, err := r.agg.ComputeCandidateWindows(ctx, id, r.options(cfg, id))
		if err != nil {
			// Continue with the next event
			failed = append(failed, id)
			continue
		}
		if err := writeResult(r.out, r.format, res, eventLocation(cfg, id)); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("candidate windows unavailable for %d event(s): %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

func eventLocation(cfg *config.Config, id string) *time.Location {
	if ec, ok := cfg.Event(id); ok {
		if loc, err := time.LoadLocation(ec.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}
