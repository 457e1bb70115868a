package aggregator

import (
	"context"
	"time"

	"meetslot/internal/models"
)

// EventStore supplies event configuration. GetEventEnvelope fails with
// models.ErrNotFound for unknown events.
type EventStore interface {
	GetEventEnvelope(ctx context.Context, eventID string) (models.Envelope, error)
	GetParticipantRoster(ctx context.Context, eventID string) ([]string, error)
	// GetPreferences returns explicit per-participant unavailable blocks.
	GetPreferences(ctx context.Context, eventID string) (map[string][]models.Interval, error)
}

// BusySource returns a participant's busy intervals within [start, end).
// A participant without data yields an empty list, not an error.
type BusySource interface {
	GetBusyIntervals(ctx context.Context, participantID string, start, end time.Time) ([]models.Interval, error)
}

// ProposalStore caches computed proposals. SaveProposal is a conditional write
// that reports false when the stored fingerprint no longer equals expectedPrior.
// An empty expectedPrior means no proposal is expected to exist yet.
type ProposalStore interface {
	GetCachedProposal(ctx context.Context, eventID string) (models.Proposal, bool, error)
	SaveProposal(ctx context.Context, eventID string, p models.Proposal, expectedPrior string) (bool, error)
}
