// Package aggregator orchestrates candidate window computation: it loads event
// configuration, fans out busy-data fetches, reuses fresh proposals and
// persists new ones with optimistic concurrency.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"meetslot/internal/availability"
	"meetslot/internal/busy"
	"meetslot/internal/freshness"
	"meetslot/internal/metrics"
	"meetslot/internal/models"
)

const defaultFetchConcurrency = 8

// errProposalMoved signals a lost compare-and-set on the proposal store.
var errProposalMoved = errors.New("proposal fingerprint moved")

// Options tune a single computation.
type Options struct {
	// ConcurrencyThreshold is how many participants may be busy during a
	// window. Zero requires everyone to be free.
	ConcurrencyThreshold int
	// ForceRecompute ignores a fresh cached proposal.
	ForceRecompute bool
	// FetchTimeout bounds the busy-data fan-out. Zero means no extra bound.
	FetchTimeout time.Duration
	// AllowPartial returns a degraded result when some fetches fail instead
	// of failing with *models.AggregationFailedError.
	AllowPartial bool
}

// Result is the outcome of ComputeCandidateWindows.
type Result struct {
	EventID            string
	Windows            []models.CandidateWindow
	Verdict            freshness.Verdict
	FromCache          bool
	Degraded           bool
	FailedParticipants []string
	Warnings           []models.Warning
	ComputedAt         time.Time
}

// Aggregator computes candidate windows for events.
type Aggregator struct {
	logger           *slog.Logger
	events           EventStore
	busy             BusySource
	proposals        ProposalStore
	fetchConcurrency int
	now              func() time.Time
}

// NewAggregator creates a new Aggregator. fetchConcurrency caps parallel busy
// fetches; values below one use a default.
func NewAggregator(logger *slog.Logger, events EventStore, busySrc BusySource, proposals ProposalStore, fetchConcurrency int) *Aggregator {
	if fetchConcurrency < 1 {
		fetchConcurrency = defaultFetchConcurrency
	}
	return &Aggregator{
		logger:           logger,
		events:           events,
		busy:             busySrc,
		proposals:        proposals,
		fetchConcurrency: fetchConcurrency,
		now:              time.Now,
	}
}

// ComputeCandidateWindows returns the candidate windows for eventID, reusing the
// cached proposal when its fingerprint still matches the current inputs.
//
// A lost compare-and-set on save is retried once. If it recurs the call fails
// with models.ErrOptimisticWriteConflict.
func (a *Aggregator) ComputeCandidateWindows(ctx context.Context, eventID string, opts Options) (*Result, error) {
	started := a.now()
	logger := a.logger.With("event", eventID)

	res, err := a.compute(ctx, logger, eventID, opts)
	if errors.Is(err, errProposalMoved) {
		logger.Info("Proposal changed during computation, retrying once.")
		res, err = a.compute(ctx, logger, eventID, opts)
		if errors.Is(err, errProposalMoved) {
			err = fmt.Errorf("failed to save proposal for event %s: %w", eventID, models.ErrOptimisticWriteConflict)
		}
	}

	took := a.now().Sub(started)
	switch {
	case errors.Is(err, models.ErrOptimisticWriteConflict):
		metrics.RecordOutcome("conflict", took)
	case err != nil:
		metrics.RecordOutcome("failed", took)
	case res.FromCache:
		metrics.RecordOutcome("cached", took)
	case res.Degraded:
		metrics.RecordOutcome("degraded", took)
	default:
		metrics.RecordOutcome("computed", took)
	}
	if err != nil {
		logger.Error("Candidate window computation failed", "error", err, "retryable", models.IsRetryable(err))
		return nil, err
	}

	metrics.SetCandidateWindows(eventID, len(res.Windows))
	logger.Info("Candidate windows ready.",
		"count", len(res.Windows),
		"fromCache", res.FromCache,
		"degraded", res.Degraded,
		"reason", string(res.Verdict.Reason),
		"took", took,
	)
	return res, nil
}

func (a *Aggregator) compute(ctx context.Context, logger *slog.Logger, eventID string, opts Options) (*Result, error) {
	if opts.ConcurrencyThreshold < 0 {
		return nil, &models.ValidationError{Field: "threshold", Reason: "must not be negative"}
	}

	env, err := a.events.GetEventEnvelope(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load envelope for event %s: %w", eventID, err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}

	roster, err := a.events.GetParticipantRoster(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roster for event %s: %w", eventID, err)
	}
	roster = uniqueSorted(roster)

	prefs, err := a.events.GetPreferences(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences for event %s: %w", eventID, err)
	}
	prefs = rosterOnly(prefs, roster)

	cached, hasCached, err := a.proposals.GetCachedProposal(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached proposal for event %s: %w", eventID, err)
	}

	rangeStart, rangeEnd, err := env.Range()
	if err != nil {
		return nil, err
	}

	busyData, causes := a.fetchAll(ctx, logger, roster, rangeStart, rangeEnd, opts.FetchTimeout)
	failed := sortedKeys(causes)
	if len(failed) > 0 {
		metrics.RecordFetchFailures(len(failed))
		if !opts.AllowPartial {
			return nil, &models.AggregationFailedError{Failed: failed, Causes: causes}
		}
		logger.Warn("Continuing with partial busy data.", "failed", failed)
	}
	degraded := len(failed) > 0

	fp := freshness.Compute(freshness.Inputs{
		Roster:      roster,
		Envelope:    env,
		Threshold:   opts.ConcurrencyThreshold,
		Busy:        busyData,
		Preferences: prefs,
	})

	var cachedFP *freshness.Fingerprint
	if hasCached {
		parsed, perr := freshness.ParseFingerprint(cached.Fingerprint)
		if perr != nil {
			logger.Warn("Ignoring cached proposal with unreadable fingerprint", "error", perr)
		} else {
			cachedFP = &parsed
		}
	}

	now := a.now().UTC()
	verdict := freshness.Evaluate(fp, cachedFP, opts.ForceRecompute, now)
	metrics.RecordVerdict(string(verdict.Reason))

	if !verdict.IsStale && !degraded {
		logger.Debug("Cached proposal is fresh, reusing it.", "computedAt", cached.ComputedAt)
		return &Result{
			EventID:    eventID,
			Windows:    cached.Windows,
			Verdict:    verdict,
			FromCache:  true,
			ComputedAt: cached.ComputedAt,
		}, nil
	}
	logger.Info("Recomputing candidate windows.", "reason", string(verdict.Reason), "participants", len(roster))

	known := withoutFailed(roster, causes)
	merged := busy.Merge(combine(known, busyData, prefs))
	for _, w := range merged.Warnings {
		logger.Warn("Skipping participant with malformed busy data", "participant", w.Participant, "reason", w.Reason)
	}
	metrics.RecordMergeWarnings(len(merged.Warnings))
	logger.Debug("Merged busy timeline.",
		"segments", len(merged.Timeline.Segments),
		"maxConcurrency", merged.Timeline.MaxConcurrency(),
		"busyFor", merged.Timeline.BusyDuration(),
	)

	windows, err := availability.Calculate(availability.Request{
		Timeline:         merged.Timeline,
		Envelope:         env,
		Threshold:        opts.ConcurrencyThreshold,
		ParticipantCount: len(known),
	})
	if err != nil {
		return nil, err
	}
	for i := range windows {
		windows[i].UnknownParticipantCount = len(failed)
	}

	res := &Result{
		EventID:            eventID,
		Windows:            windows,
		Verdict:            verdict,
		Degraded:           degraded,
		FailedParticipants: failed,
		Warnings:           merged.Warnings,
		ComputedAt:         now,
	}
	if degraded {
		// Partial results are never cached.
		return res, nil
	}

	prior := ""
	if hasCached {
		prior = cached.Fingerprint
	}
	saved, err := a.proposals.SaveProposal(ctx, eventID, models.Proposal{
		EventID:     eventID,
		Windows:     windows,
		Fingerprint: fp.String(),
		ComputedAt:  now,
	}, prior)
	if err != nil {
		return nil, fmt.Errorf("failed to save proposal for event %s: %w", eventID, err)
	}
	if !saved {
		return nil, errProposalMoved
	}
	return res, nil
}

// combine folds preferences into each participant's busy list. Every roster
// member gets an entry, even without intervals.
func combine(roster []string, busyData, prefs map[string][]models.Interval) map[string][]models.Interval {
	out := make(map[string][]models.Interval, len(roster))
	for _, id := range roster {
		ivs := slices.Clone(busyData[id])
		out[id] = append(ivs, prefs[id]...)
	}
	return out
}

// withoutFailed drops participants whose fetch failed. Their availability is
// unknown, so they count as neither free nor busy.
func withoutFailed(roster []string, causes map[string]error) []string {
	if len(causes) == 0 {
		return roster
	}
	out := make([]string, 0, len(roster))
	for _, id := range roster {
		if _, ok := causes[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func rosterOnly(prefs map[string][]models.Interval, roster []string) map[string][]models.Interval {
	out := make(map[string][]models.Interval)
	for _, id := range roster {
		if ivs, ok := prefs[id]; ok {
			out[id] = ivs
		}
	}
	return out
}

func uniqueSorted(ids []string) []string {
	out := slices.Clone(ids)
	sort.Strings(out)
	return slices.Compact(out)
}

func sortedKeys(m map[string]error) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
