package aggregator

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"meetslot/internal/models"
)

// fetchAll retrieves busy intervals for every participant concurrently, capped
// at a.fetchConcurrency. A failing participant never cancels the others; its
// error is returned in the causes map keyed by participant id.
func (a *Aggregator) fetchAll(ctx context.Context, logger *slog.Logger, roster []string, start, end time.Time, timeout time.Duration) (map[string][]models.Interval, map[string]error) {
	fetchCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	results := make([][]models.Interval, len(roster))
	errs := make([]error, len(roster))

	var g errgroup.Group
	g.SetLimit(a.fetchConcurrency)
	for i, id := range roster {
		g.Go(func() error {
			if err := fetchCtx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			ivs, err := a.busy.GetBusyIntervals(fetchCtx, id, start, end)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = ivs
			return nil
		})
	}
	_ = g.Wait()

	busyData := make(map[string][]models.Interval, len(roster))
	causes := make(map[string]error)
	for i, id := range roster {
		if errs[i] != nil {
			logger.Error("Could not fetch busy data for participant", "participant", id, "error", errs[i])
			causes[id] = errs[i]
			continue
		}
		busyData[id] = results[i]
	}
	logger.Debug("Fetched busy data for all participants.", "participants", len(roster), "failed", len(causes))
	return busyData, causes
}
