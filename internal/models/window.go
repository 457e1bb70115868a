package models

import "time"

// CandidateWindow is a computed range eligible to be proposed as a meeting time.
type CandidateWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	// BusyParticipantCount is the peak number of participants busy at the same
	// instant inside the window, which never exceeds the threshold.
	BusyParticipantCount int `json:"busy_participant_count"`
	// FreeParticipantCount is the known participant count minus the peak.
	FreeParticipantCount int `json:"free_participant_count"`
	// BusyParticipants lists everyone busy at some point in the window. With a
	// threshold above zero it can be longer than BusyParticipantCount, since
	// participants may be busy at different times.
	BusyParticipants []string `json:"busy_participants,omitempty"`
	// UnknownParticipantCount counts participants whose busy data could not be
	// fetched. They are neither free nor busy.
	UnknownParticipantCount int `json:"unknown_participant_count,omitempty"`
}

// Duration returns End - Start.
func (w CandidateWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// DurationMinutes returns the window length in whole minutes.
func (w CandidateWindow) DurationMinutes() int {
	return int(w.Duration() / time.Minute)
}

// Proposal is the persisted result of one computation for an event.
type Proposal struct {
	EventID     string            `json:"event_id"`
	Windows     []CandidateWindow `json:"windows"`
	Fingerprint string            `json:"fingerprint"`
	ComputedAt  time.Time         `json:"computed_at"`
}
