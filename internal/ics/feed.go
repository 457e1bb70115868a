package ics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"

	"meetslot/internal/models"
)

// Feed reads busy intervals from a published iCalendar (.ics) URL. Responses
// are revalidated with ETag / Last-Modified and the last good body is reused
// on 304 or when the server is unreachable.
type Feed struct {
	client *http.Client
	logger *slog.Logger
	url    string
	loc    *time.Location

	mu           sync.Mutex
	etag         string
	lastModified string
	body         []byte
}

// NewFeed creates a Feed. A nil client uses one with a 15 second timeout.
func NewFeed(logger *slog.Logger, client *http.Client, url string, loc *time.Location) *Feed {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Feed{client: client, logger: logger, url: url, loc: loc}
}

// BusyIntervals fetches the feed and returns owner's busy intervals in [start, end).
func (f *Feed) BusyIntervals(ctx context.Context, owner string, start, end time.Time) ([]models.Interval, error) {
	body, err := f.fetch(ctx)
	if err != nil {
		return nil, err
	}

	cal, err := ical.NewDecoder(bytes.NewReader(body)).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode ics feed: %w", err)
	}

	ivs, errs := BusyFromCalendar(cal, owner, start, end, f.loc)
	for _, e := range errs {
		f.logger.Warn("Skipping unreadable feed event", "participant", owner, "url", RedactURL(f.url), "error", e)
	}
	f.logger.Debug("Read busy intervals from ics feed", "participant", owner, "count", len(ivs))
	return ivs, nil
}

func (f *Feed) fetch(ctx context.Context) ([]byte, error) {
	if f.url == "" {
		return nil, errors.New("ics feed URL is empty")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	if f.etag != "" {
		req.Header.Set("If-None-Match", f.etag)
	}
	if f.lastModified != "" {
		req.Header.Set("If-Modified-Since", f.lastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(f.body) > 0 && ctx.Err() == nil {
			f.logger.Warn("ics fetch failed, using cached body", "url", RedactURL(f.url), "error", err)
			return f.body, nil
		}
		return nil, fmt.Errorf("failed to fetch ics feed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read ics feed: %w", err)
		}
		f.body = body
		f.etag = resp.Header.Get("ETag")
		f.lastModified = resp.Header.Get("Last-Modified")
		return body, nil
	case http.StatusNotModified:
		if len(f.body) == 0 {
			return nil, errors.New("received 304 Not Modified but no cached body available")
		}
		return f.body, nil
	case http.StatusNotFound, http.StatusGone:
		return nil, fmt.Errorf("ics feed %s: %w", RedactURL(f.url), models.ErrNotFound)
	default:
		if len(f.body) > 0 {
			f.logger.Warn("ics fetch non-OK, using cached body", "url", RedactURL(f.url), "status", resp.StatusCode)
			return f.body, nil
		}
		return nil, fmt.Errorf("failed to fetch ics feed: %s", resp.Status)
	}
}

// RedactURL hides everything after the host, since feed URLs often embed secrets.
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"
	scheme, rest, ok := strings.Cut(u, "://")
	if !ok {
		return "ics://...(redacted)"
	}
	host := rest
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' || rest[i] == '?' {
			host = rest[:i]
			break
		}
	}
	return scheme + "://" + host + redactedSuffix
}
