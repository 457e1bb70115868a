// Package sources routes busy-data requests to each participant's calendars.
package sources

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"meetslot/internal/models"
)

// Source yields the busy intervals of one calendar, attributed to owner.
type Source interface {
	BusyIntervals(ctx context.Context, owner string, start, end time.Time) ([]models.Interval, error)
}

// Named labels a Source for logs and errors.
type Named struct {
	Name string
	Source
}

// Router maps participants to the calendars that hold their busy time.
type Router struct {
	logger  *slog.Logger
	limiter *rate.Limiter

	mu     sync.RWMutex
	routes map[string][]Named
}

// NewRouter creates an empty Router.
func NewRouter(logger *slog.Logger) *Router {
	return &Router{logger: logger, routes: make(map[string][]Named)}
}

// SetRateLimit caps calendar reads across all participants at perSecond with
// the given burst. A non-positive perSecond removes the cap. Call it before the
// router is shared.
func (r *Router) SetRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		r.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Register declares participant and appends srcs to its calendars. Registering
// a participant with no sources makes it known with no busy data.
func (r *Router) Register(participant string, srcs ...Named) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[participant] = append(r.routes[participant], srcs...)
}

// Participants returns the registered participant ids in sorted order.
func (r *Router) Participants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.routes))
	for id := range r.routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetBusyIntervals concatenates the intervals of every source registered for
// participantID. Unknown participants fail with models.ErrNotFound. Any source
// error fails the whole participant so partial calendars never look free.
func (r *Router) GetBusyIntervals(ctx context.Context, participantID string, start, end time.Time) ([]models.Interval, error) {
	r.mu.RLock()
	srcs, ok := r.routes[participantID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("participant %s has no calendar sources: %w", participantID, models.ErrNotFound)
	}

	out := []models.Interval{}
	for _, src := range srcs {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait for %s: %w", src.Name, err)
			}
		}
		ivs, err := src.BusyIntervals(ctx, participantID, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s for %s: %w", src.Name, participantID, err)
		}
		for _, iv := range ivs {
			iv.Owner = participantID
			out = append(out, iv)
		}
		r.logger.Debug("Read busy intervals", "participant", participantID, "source", src.Name, "count", len(ivs))
	}
	return out, nil
}

// Unavailable stands in for a calendar that could not be set up. Every read
// fails with Err.
type Unavailable struct {
	Err error
}

func (u Unavailable) BusyIntervals(context.Context, string, time.Time, time.Time) ([]models.Interval, error) {
	return nil, u.Err
}
