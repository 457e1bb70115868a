package freshness

import "time"

// Reason explains why a proposal is stale.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonNoCache            Reason = "no-cache"
	ReasonBusyDataChanged    Reason = "busy-data-changed"
	ReasonRosterChanged      Reason = "participant-roster-changed"
	ReasonEnvelopeChanged    Reason = "envelope-changed"
	ReasonPreferencesChanged Reason = "preferences-changed"
	ReasonForced             Reason = "forced"
)

// Verdict is the outcome of Evaluate.
type Verdict struct {
	IsStale   bool
	Reason    Reason
	CheckedAt time.Time
}

// Evaluate compares the current fingerprint with the cached one. cached is nil
// when no proposal exists. Roster changes are reported ahead of envelope,
// busy-data and preference changes so callers can pick cheaper paths per reason.
func Evaluate(current Fingerprint, cached *Fingerprint, force bool, now time.Time) Verdict {
	v := Verdict{IsStale: true, CheckedAt: now}
	switch {
	case force:
		v.Reason = ReasonForced
	case cached == nil || cached.IsZero():
		v.Reason = ReasonNoCache
	case current.Roster != cached.Roster:
		v.Reason = ReasonRosterChanged
	case current.Envelope != cached.Envelope:
		v.Reason = ReasonEnvelopeChanged
	case current.Busy != cached.Busy:
		v.Reason = ReasonBusyDataChanged
	case current.Preferences != cached.Preferences:
		v.Reason = ReasonPreferencesChanged
	default:
		v.IsStale = false
	}
	return v
}
