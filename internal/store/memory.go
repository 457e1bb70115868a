// Package store provides event and proposal persistence backends.
package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"meetslot/internal/models"
)

// Memory is an in-process event and proposal store.
type Memory struct {
	mu        sync.RWMutex
	events    map[string]models.Event
	proposals map[string]models.Proposal
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		events:    make(map[string]models.Event),
		proposals: make(map[string]models.Proposal),
	}
}

// UpsertEvent stores or replaces an event definition.
func (m *Memory) UpsertEvent(_ context.Context, ev models.Event) error {
	if ev.ID() == "" {
		return &models.ValidationError{Field: "event.id", Reason: "must not be empty"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.ID()] = cloneEvent(ev)
	return nil
}

// ListEventIDs returns the ids of all stored events.
func (m *Memory) ListEventIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.events))
	for id := range m.events {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// GetEventEnvelope returns the envelope of eventID or a wrapped models.ErrNotFound.
func (m *Memory) GetEventEnvelope(_ context.Context, eventID string) (models.Envelope, error) {
	ev, err := m.event(eventID)
	if err != nil {
		return models.Envelope{}, err
	}
	return ev.Envelope, nil
}

// GetParticipantRoster returns a copy of the event roster.
func (m *Memory) GetParticipantRoster(_ context.Context, eventID string) ([]string, error) {
	ev, err := m.event(eventID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(ev.Participants), nil
}

// GetPreferences returns a copy of the per-participant preference blocks.
func (m *Memory) GetPreferences(_ context.Context, eventID string) (map[string][]models.Interval, error) {
	ev, err := m.event(eventID)
	if err != nil {
		return nil, err
	}
	return clonePrefs(ev.Preferences), nil
}

// GetCachedProposal returns the last saved proposal, if any.
func (m *Memory) GetCachedProposal(_ context.Context, eventID string) (models.Proposal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proposals[eventID]
	if !ok {
		return models.Proposal{}, false, nil
	}
	p.Windows = slices.Clone(p.Windows)
	return p, true, nil
}

// SaveProposal stores p only if the current fingerprint equals expectedPrior.
// An empty expectedPrior requires that no proposal exists.
func (m *Memory) SaveProposal(_ context.Context, eventID string, p models.Proposal, expectedPrior string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.proposals[eventID]
	switch {
	case !ok && expectedPrior != "":
		return false, nil
	case ok && current.Fingerprint != expectedPrior:
		return false, nil
	}
	p.EventID = eventID
	p.Windows = slices.Clone(p.Windows)
	m.proposals[eventID] = p
	return true, nil
}

func (m *Memory) event(eventID string) (models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[eventID]
	if !ok {
		return models.Event{}, fmt.Errorf("event %q: %w", eventID, models.ErrNotFound)
	}
	return ev, nil
}

func cloneEvent(ev models.Event) models.Event {
	ev.Participants = slices.Clone(ev.Participants)
	ev.Preferences = clonePrefs(ev.Preferences)
	return ev
}

func clonePrefs(prefs map[string][]models.Interval) map[string][]models.Interval {
	out := make(map[string][]models.Interval, len(prefs))
	for id, ivs := range prefs {
		out[id] = slices.Clone(ivs)
	}
	return out
}
