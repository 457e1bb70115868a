package ics

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"meetslot/internal/models"
)

// ExportWindows writes windows as a VCALENDAR of tentative VEVENTs. UIDs are
// derived from the event id and window start, so re-exporting the same
// proposal yields the same UIDs.
func ExportWindows(w io.Writer, eventID string, windows []models.CandidateWindow, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//meetslot//EN")

	for _, win := range windows {
		cal.Children = append(cal.Children, toICal(eventID, win, stamp))
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode candidate windows to iCal format: %w", err)
	}
	return nil
}

// WindowUID returns the stable UID of a candidate window.
func WindowUID(eventID string, win models.CandidateWindow) string {
	name := eventID + "/" + win.Start.UTC().Format(time.RFC3339Nano) + "/" + win.End.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func toICal(eventID string, win models.CandidateWindow, stamp time.Time) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, WindowUID(eventID, win))
	ve.Props.SetText(ical.PropSummary, fmt.Sprintf("Candidate slot: %s", eventID))
	ve.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, win.Start.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, win.End.UTC())
	ve.Props.SetText(ical.PropStatus, "TENTATIVE")
	ve.Props.SetText(ical.PropTransparency, "TRANSPARENT")
	ve.Props.SetText(ical.PropDescription, fmt.Sprintf("%d free, %d busy", win.FreeParticipantCount, win.BusyParticipantCount))
	return ve
}
