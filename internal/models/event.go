package models

// Event is a scheduling request: its envelope, the participants who must
// attend and their explicit unavailable blocks.
type Event struct {
	Envelope     Envelope
	Participants []string
	Preferences  map[string][]Interval // Participant id -> declared unavailable blocks
}

// ID returns the event identifier.
func (e Event) ID() string {
	return e.Envelope.EventID
}
