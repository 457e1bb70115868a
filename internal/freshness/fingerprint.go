// Package freshness decides whether a cached proposal still reflects its inputs.
package freshness

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"strconv"
	"strings"
	"time"

	"meetslot/internal/busy"
	"meetslot/internal/models"
)

const fingerprintVersion = "v1"

// Fingerprint is a versioning token over every input that can invalidate a
// cached proposal. Each part is a hex SHA-256 digest so a change can be
// attributed to the roster, the envelope, busy data or preferences.
type Fingerprint struct {
	Roster      string
	Envelope    string
	Busy        string
	Preferences string
}

// Inputs are the values a Fingerprint is computed from.
type Inputs struct {
	Roster      []string
	Envelope    models.Envelope
	Threshold   int
	Busy        map[string][]models.Interval
	Preferences map[string][]models.Interval
}

// Compute builds the fingerprint for in. Ordering of roster ids and intervals
// does not affect the result.
func Compute(in Inputs) Fingerprint {
	return Fingerprint{
		Roster:      rosterDigest(in.Roster),
		Envelope:    envelopeDigest(in.Envelope, in.Threshold),
		Busy:        intervalsDigest(in.Busy),
		Preferences: intervalsDigest(in.Preferences),
	}
}

// String encodes the fingerprint for storage.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%s:%s.%s.%s.%s", fingerprintVersion, f.Roster, f.Envelope, f.Busy, f.Preferences)
}

// IsZero reports whether the fingerprint is unset.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// ParseFingerprint decodes a token produced by Fingerprint.String.
func ParseFingerprint(s string) (Fingerprint, error) {
	version, body, ok := strings.Cut(s, ":")
	if !ok || version != fingerprintVersion {
		return Fingerprint{}, fmt.Errorf("unsupported fingerprint %q", s)
	}
	parts := strings.Split(body, ".")
	if len(parts) != 4 {
		return Fingerprint{}, fmt.Errorf("malformed fingerprint %q", s)
	}
	return Fingerprint{Roster: parts[0], Envelope: parts[1], Busy: parts[2], Preferences: parts[3]}, nil
}

func rosterDigest(roster []string) string {
	ids := append([]string(nil), roster...)
	sort.Strings(ids)
	h := sha256.New()
	for _, id := range ids {
		writeField(h, id)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func envelopeDigest(e models.Envelope, threshold int) string {
	h := sha256.New()
	writeField(h, e.EventID)
	writeField(h, e.DateRangeStart.String())
	writeField(h, e.DateRangeEnd.String())
	writeField(h, e.DailyEarliest.String())
	writeField(h, e.DailyLatest.String())
	writeField(h, e.MinSlotDuration.String())
	writeField(h, e.Timezone)
	writeField(h, strconv.Itoa(threshold))
	return hex.EncodeToString(h.Sum(nil))
}

// intervalsDigest hashes the normalized interval set of every participant, so
// duplicate or reordered source records do not change the digest.
func intervalsDigest(byParticipant map[string][]models.Interval) string {
	ids := make([]string, 0, len(byParticipant))
	for id := range byParticipant {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		writeField(h, id)
		for _, iv := range busy.Normalize(byParticipant[id], id) {
			writeField(h, iv.Start.UTC().Format(time.RFC3339Nano))
			writeField(h, iv.End.UTC().Format(time.RFC3339Nano))
		}
		writeField(h, "")
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, s string) {
	h.Write([]byte(strconv.Itoa(len(s))))
	h.Write([]byte{':'})
	h.Write([]byte(s))
}
