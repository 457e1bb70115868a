package icloud

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/emersion/go-webdav/caldav"

	"meetslot/internal/ics"
	"meetslot/internal/models"
)

const (
	iCloudCalDAVEndpoint = "https://caldav.icloud.com/"
)

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "meetslot/1.0")
	return t.Transport.RoundTrip(req)
}

// Config describes one CalDAV calendar. An empty Endpoint means iCloud.
type Config struct {
	Endpoint     string
	Username     string
	Password     string
	CalendarName string
	Location     *time.Location
}

// CalDAVClient reads busy time from a single CalDAV calendar (iCloud by default).
type CalDAVClient struct {
	caldavClient *caldav.Client
	logger       *slog.Logger
	calendarPath string
	loc          *time.Location
}

// NewClient creates a CalDAVClient and resolves the named calendar.
func NewClient(ctx context.Context, logger *slog.Logger, cfg Config) (*CalDAVClient, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = iCloudCalDAVEndpoint
	}
	transport := &customTransport{
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: http.DefaultTransport,
	}
	httpClient := &http.Client{Transport: transport, Timeout: 30 * time.Second}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	c := &CalDAVClient{
		caldavClient: caldavClient,
		logger:       logger,
		loc:          loc,
	}

	logger.Info("Finding CalDAV calendar", "endpoint", endpoint, "calendarName", cfg.CalendarName)
	calendarPath, err := c.findCalendar(ctx, cfg.CalendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", cfg.CalendarName, err)
	}
	c.calendarPath = calendarPath
	logger.Info("Successfully found CalDAV calendar", "path", calendarPath)

	return c, nil
}

// BusyIntervals runs a time-range calendar-query and returns owner's busy
// intervals in [start, end). Recurring events are expanded locally.
func (c *CalDAVClient) BusyIntervals(ctx context.Context, owner string, start, end time.Time) ([]models.Interval, error) {
	objects, err := c.caldavClient.QueryCalendar(ctx, c.calendarPath, busyQuery(start, end))
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar %s: %w", c.calendarPath, err)
	}

	ivs := c.intervalsFromObjects(objects, owner, start, end)
	c.logger.Info("Successfully fetched busy periods from CalDAV", "participant", owner, "objects", len(objects), "count", len(ivs))
	return ivs, nil
}

func (c *CalDAVClient) intervalsFromObjects(objects []caldav.CalendarObject, owner string, start, end time.Time) []models.Interval {
	var out []models.Interval
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		ivs, errs := ics.BusyFromCalendar(obj.Data, owner, start, end, c.loc)
		for _, e := range errs {
			// Continue with the next event
			c.logger.Warn("Skipping unreadable CalDAV event", "participant", owner, "path", obj.Path, "error", e)
		}
		out = append(out, ivs...)
	}
	models.SortIntervals(out)
	return out
}

// busyQuery asks for full VEVENTs intersecting [start, end).
func busyQuery(start, end time.Time) *caldav.CalendarQuery {
	return &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: "VCALENDAR",
			Comps: []caldav.CalendarCompRequest{{
				Name:     "VEVENT",
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  "VEVENT",
				Start: start.UTC(),
				End:   end.UTC(),
			}},
		},
	}
}

// findCalendar discovers the user's calendars and returns the path of the one with the matching name.
func (c *CalDAVClient) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s': %w", name, models.ErrNotFound)
}
