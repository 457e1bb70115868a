package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"meetslot/internal/aggregator"
	"meetslot/internal/ics"
	"meetslot/internal/models"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatICS  = "ics"
)

type resultOutput struct {
	Event              string                   `json:"event"`
	Windows            []models.CandidateWindow `json:"windows"`
	Stale              bool                     `json:"stale"`
	Reason             string                   `json:"reason,omitempty"`
	FromCache          bool                     `json:"from_cache"`
	Degraded           bool                     `json:"degraded"`
	FailedParticipants []string                 `json:"failed_participants,omitempty"`
	Warnings           []string                 `json:"warnings,omitempty"`
	ComputedAt         time.Time                `json:"computed_at"`
}

func writeResult(w io.Writer, format string, res *aggregator.Result, loc *time.Location) error {
	switch format {
	case formatJSON:
		out := resultOutput{
			Event:              res.EventID,
			Windows:            res.Windows,
			Stale:              res.Verdict.IsStale,
			Reason:             string(res.Verdict.Reason),
			FromCache:          res.FromCache,
			Degraded:           res.Degraded,
			FailedParticipants: res.FailedParticipants,
			ComputedAt:         res.ComputedAt,
		}
		for _, warn := range res.Warnings {
			out.Warnings = append(out.Warnings, warn.String())
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case formatICS:
		return ics.ExportWindows(w, res.EventID, res.Windows, res.ComputedAt)
	default:
		return writeText(w, res, loc)
	}
}

func writeText(w io.Writer, res *aggregator.Result, loc *time.Location) error {
	var b strings.Builder
	status := "computed"
	switch {
	case res.FromCache:
		status = "cached"
	case res.Degraded:
		status = "degraded"
	}
	fmt.Fprintf(&b, "%s: %d window(s) [%s", res.EventID, len(res.Windows), status)
	if res.Verdict.Reason != "" {
		fmt.Fprintf(&b, ", %s", res.Verdict.Reason)
	}
	b.WriteString("]\n")
	if len(res.FailedParticipants) > 0 {
		fmt.Fprintf(&b, "  missing busy data: %s\n", strings.Join(res.FailedParticipants, ", "))
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(&b, "  warning: %s\n", warn)
	}
	for _, win := range res.Windows {
		start, end := win.Start.In(loc), win.End.In(loc)
		fmt.Fprintf(&b, "  %s %s-%s %s  %dm  free=%d busy=%d",
			start.Format("Mon 2006-01-02"), start.Format("15:04"), end.Format("15:04"), start.Format("MST"),
			win.DurationMinutes(), win.FreeParticipantCount, win.BusyParticipantCount)
		if win.UnknownParticipantCount > 0 {
			fmt.Fprintf(&b, " unknown=%d", win.UnknownParticipantCount)
		}
		if len(win.BusyParticipants) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(win.BusyParticipants, ", "))
		}
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
