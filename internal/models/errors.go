package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when an event or participant is unknown.
	ErrNotFound = errors.New("not found")

	// ErrOptimisticWriteConflict is returned when a proposal save keeps losing
	// the fingerprint compare-and-set.
	ErrOptimisticWriteConflict = errors.New("optimistic write conflict")
)

// ValidationError reports malformed envelope or interval input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Warning is a data-quality issue found while merging. It does not abort the computation.
type Warning struct {
	Participant string
	Reason      string
}

func (w Warning) String() string {
	return fmt.Sprintf("participant %s: %s", w.Participant, w.Reason)
}

// AggregationFailedError reports participants whose busy data could not be fetched
// when the caller did not allow a degraded result.
type AggregationFailedError struct {
	Failed []string
	Causes map[string]error
}

func (e *AggregationFailedError) Error() string {
	failed := append([]string(nil), e.Failed...)
	sort.Strings(failed)
	return fmt.Sprintf("aggregation failed: busy data unavailable for %d participant(s): %s",
		len(failed), strings.Join(failed, ", "))
}

// Unwrap exposes the per-participant causes to errors.Is / errors.As.
func (e *AggregationFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Causes))
	for _, id := range e.Failed {
		if err, ok := e.Causes[id]; ok && err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// IsRetryable reports whether err is transient. Validation and not-found errors are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) || errors.Is(err, ErrNotFound) {
		return false
	}
	var aggErr *AggregationFailedError
	switch {
	case errors.As(err, &aggErr):
		return true
	case errors.Is(err, ErrOptimisticWriteConflict):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}
