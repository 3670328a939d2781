// Package timesource resolves the wall-clock time pushed to the appliance.
// It prefers external HTTP time APIs and falls back to the system clock in
// the configured zone, since the appliance has no battery-backed RTC and
// trusts whatever the server sends.
package timesource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"go.uber.org/zap"
)

const queryTimeout = 3 * time.Second

// Time is a resolved wall-clock instant plus its provenance.
type Time struct {
	Hour      int
	Minute    int
	Second    int
	DayOfWeek string
	Source    string
	Timestamp time.Time
}

type endpoint struct {
	url   string
	field string
}

// Source queries a fixed list of time APIs in order.
type Source struct {
	client    *http.Client
	endpoints []endpoint
	loc       *time.Location
	log       *zap.Logger
}

// New builds a source for the given IANA zone name. An unknown or empty zone
// falls back to UTC.
func New(zone string, log *zap.Logger) *Source {
	loc, err := time.LoadLocation(zone)
	if err != nil || zone == "" {
		loc = time.UTC
	}
	return &Source{
		client: &http.Client{Timeout: queryTimeout},
		endpoints: []endpoint{
			{url: "https://worldtimeapi.org/api/timezone/" + zone, field: "datetime"},
			{url: "https://timeapi.io/api/Time/current/zone?timeZone=" + zone, field: "currentDateTime"},
		},
		loc: loc,
		log: log,
	}
}

var clockPattern = regexp.MustCompile(`(\d{2}):(\d{2}):(\d{2})`)

// Now resolves the current time, preferring external sources and falling
// back to the system clock.
func (s *Source) Now(ctx context.Context) Time {
	for _, ep := range s.endpoints {
		t, err := s.query(ctx, ep)
		if err != nil {
			s.log.Debug("time source failed", zap.String("url", ep.url), zap.Error(err))
			continue
		}
		return t
	}

	now := time.Now().In(s.loc)
	return Time{
		Hour:      now.Hour(),
		Minute:    now.Minute(),
		Second:    now.Second(),
		DayOfWeek: now.Weekday().String(),
		Source:    "system_fallback",
		Timestamp: now,
	}
}

func (s *Source) query(ctx context.Context, ep endpoint) (Time, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.url, nil)
	if err != nil {
		return Time{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Time{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Time{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Time{}, err
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return Time{}, err
	}
	raw, ok := fields[ep.field].(string)
	if !ok {
		return Time{}, fmt.Errorf("missing %q field", ep.field)
	}

	return parseDatetime(raw, ep.url)
}

func parseDatetime(raw, source string) (Time, error) {
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		// Some APIs omit the zone offset; take the clock digits as-is.
		m := clockPattern.FindStringSubmatch(raw)
		if m == nil {
			return Time{}, fmt.Errorf("unparseable datetime %q", raw)
		}
		d, err := time.Parse("2006-01-02", raw[:10])
		if err != nil {
			return Time{}, fmt.Errorf("unparseable datetime %q", raw)
		}
		return Time{
			Hour:      atoi2(m[1]),
			Minute:    atoi2(m[2]),
			Second:    atoi2(m[3]),
			DayOfWeek: d.Weekday().String(),
			Source:    source,
			Timestamp: d,
		}, nil
	}

	return Time{
		Hour:      parsed.Hour(),
		Minute:    parsed.Minute(),
		Second:    parsed.Second(),
		DayOfWeek: parsed.Weekday().String(),
		Source:    source,
		Timestamp: parsed,
	}, nil
}

func atoi2(s string) int {
	return int(s[0]-'0')*10 + int(s[1]-'0')
}
