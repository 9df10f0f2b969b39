package ics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"prayeralert/internal/config"
	appLog "prayeralert/internal/log"
	"prayeralert/internal/meeting"
	"prayeralert/internal/model"
)

var ErrCircuitOpen = errors.New("calendar provider circuit open")

// Provider serves meeting.CalendarProvider from configured ICS feeds.
type Provider struct {
	fetcher *Fetcher
	sources []Source
	loc     *time.Location
	breaker *gobreaker.CircuitBreaker
}

var _ meeting.CalendarProvider = (*Provider)(nil)

// NewProvider builds sources from config, skipping entries without a URL.
func NewProvider(cfg config.CalendarConfig, loc *time.Location) *Provider {
	sources := make([]Source, 0, len(cfg.ICS))
	for _, c := range cfg.ICS {
		if c.URL == "" {
			continue
		}
		id := c.ID
		if id == "" {
			if c.Name != "" {
				id = c.Name
			} else {
				id = c.URL
			}
		}
		sources = append(sources, Source{ID: id, URL: c.URL})
	}
	if loc == nil {
		loc = time.Local
	}

	return &Provider{
		fetcher: NewFetcher(cfg.CacheDir),
		sources: sources,
		loc:     loc,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "calendar",
			MaxRequests: 1,
			Interval:    10 * time.Minute,
			Timeout:     5 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				appLog.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// AccessStatus is fullAccess with at least one source, restricted while the
// breaker is open, notDetermined when no calendars are configured.
func (p *Provider) AccessStatus() meeting.AccessStatus {
	if len(p.sources) == 0 {
		return meeting.AccessNotDetermined
	}
	if p.breaker.State() == gobreaker.StateOpen {
		return meeting.AccessRestricted
	}
	return meeting.AccessFull
}

// Events fetches, parses and expands every source for [start, end]. It
// fails only when no source produced a body.
func (p *Provider) Events(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	if len(p.sources) == 0 {
		return nil, meeting.ErrAccessDenied
	}

	res, err := p.breaker.Execute(func() (interface{}, error) {
		return p.events(ctx, start, end)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return nil, err
	}
	return res.([]model.CalendarEvent), nil
}

func (p *Provider) events(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	results, errs := p.fetcher.FetchAll(ctx, p.sources)
	if len(results) == 0 {
		return nil, fmt.Errorf("all %d calendar sources failed: %w", len(p.sources), errorsAggregate(errs))
	}

	parsed := make([]ParsedEvent, 0)
	var parseErrs []error
	for _, r := range results {
		evs, err := ParseICS(r.Source, r.Body)
		if err != nil {
			appLog.Error("ics parse failed", err, "id", r.Source.ID)
			parseErrs = append(parseErrs, fmt.Errorf("%s: %w", r.Source.ID, err))
			continue
		}
		parsed = append(parsed, evs...)
	}
	// Every body was unreadable: report it instead of an empty calendar.
	if len(parseErrs) == len(results) {
		return nil, fmt.Errorf("all %d calendar bodies failed to parse: %w", len(results), errorsAggregate(parseErrs))
	}

	occs, err := ExpandOccurrences(parsed, ExpandConfig{
		DisplayLocation: p.loc,
		RangeStart:      start,
		RangeEnd:        end,
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.CalendarEvent, 0, len(occs))
	for _, o := range occs {
		out = append(out, model.CalendarEvent{
			Start:        o.Start,
			End:          o.End,
			IsAllDay:     o.AllDay,
			HasAttendees: o.Attendees > 0,
			Title:        o.Summary,
		})
	}
	appLog.Debug("calendar events loaded",
		"sources", len(results),
		"events", len(out),
		"range_start", start,
		"range_end", end,
	)
	return out, nil
}

func errorsAggregate(errs []error) error {
	if len(errs) == 0 {
		return errors.New("no body")
	}
	var b strings.Builder
	for i, e := range errs {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(e.Error())
	}
	return errors.New(b.String())
}
