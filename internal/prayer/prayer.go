// Package prayer produces the five daily prayer times for a location and
// derives the upcoming set the scheduler works from.
package prayer

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"prayeralert/internal/model"
)

var ErrMissingTime = errors.New("missing prayer time")

// Coordinates is a geographic position in decimal degrees.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Calculator computes the five prayer times of one calendar date.
type Calculator interface {
	Times(coords Coordinates, date time.Time, method string) ([]model.PrayerTime, error)
}

type clock struct {
	hour, minute int
}

// Timetable serves fixed local "HH:MM" times for every date, for places
// that follow a published timetable instead of the calculation.
type Timetable struct {
	loc   *time.Location
	times map[model.PrayerName]clock
}

// NewTimetable parses entries keyed by lower-case prayer name. Every
// canonical prayer must be present.
func NewTimetable(entries map[string]string, loc *time.Location) (*Timetable, error) {
	if loc == nil {
		loc = time.UTC
	}
	times, err := parseEntries(entries)
	if err != nil {
		return nil, err
	}
	for _, name := range model.CanonicalPrayers {
		if _, ok := times[name]; !ok {
			return nil, fmt.Errorf("timetable: %w: %s", ErrMissingTime, name)
		}
	}
	return &Timetable{loc: loc, times: times}, nil
}

func parseEntries(entries map[string]string) (map[model.PrayerName]clock, error) {
	times := make(map[model.PrayerName]clock, len(entries))
	for key, value := range entries {
		name, ok := model.ParsePrayerName(key)
		if !ok {
			return nil, fmt.Errorf("timetable: unknown prayer %q", key)
		}
		c, err := parseClock(value)
		if err != nil {
			return nil, fmt.Errorf("timetable: %s: %w", key, err)
		}
		times[name] = c
	}
	return times, nil
}

func parseClock(v string) (clock, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok {
		return clock{}, fmt.Errorf("invalid time %q, want HH:MM", v)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return clock{}, fmt.Errorf("invalid hour in %q", v)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return clock{}, fmt.Errorf("invalid minute in %q", v)
	}
	return clock{hour: h, minute: m}, nil
}

// Times ignores coords and method; the table already encodes both.
func (t *Timetable) Times(_ Coordinates, date time.Time, _ string) ([]model.PrayerTime, error) {
	d := date.In(t.loc)
	out := make([]model.PrayerTime, 0, len(model.CanonicalPrayers))
	for _, name := range model.CanonicalPrayers {
		c := t.times[name]
		out = append(out, model.PrayerTime{
			Name:        name,
			DisplayName: string(name),
			Time:        time.Date(d.Year(), d.Month(), d.Day(), c.hour, c.minute, 0, 0, t.loc),
		})
	}
	return out, nil
}

// Upcoming returns the next occurrence of each prayer after now: today's
// time when it is still ahead, otherwise tomorrow's. The result is sorted by
// time.
func Upcoming(calc Calculator, coords Coordinates, method string, now time.Time) ([]model.PrayerTime, error) {
	today, err := calc.Times(coords, now, method)
	if err != nil {
		return nil, fmt.Errorf("prayer times for %s: %w", now.Format(time.DateOnly), err)
	}
	tomorrow, err := calc.Times(coords, now.AddDate(0, 0, 1), method)
	if err != nil {
		return nil, fmt.Errorf("prayer times for %s: %w", now.AddDate(0, 0, 1).Format(time.DateOnly), err)
	}

	next := make(map[model.PrayerName]model.PrayerTime, len(tomorrow))
	for _, p := range tomorrow {
		next[p.Name] = p
	}
	for _, p := range today {
		if p.Time.After(now) {
			next[p.Name] = p
		}
	}

	out := make([]model.PrayerTime, 0, len(next))
	for _, name := range model.CanonicalPrayers {
		if p, ok := next[name]; ok {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b model.PrayerTime) int { return a.Time.Compare(b.Time) })
	return out, nil
}

// Countdown is the next prayer and the time left until it.
type Countdown struct {
	Prayer    model.PrayerTime
	Remaining time.Duration
}

// Next picks the earliest prayer strictly after now. ok is false when none is.
func Next(prayers []model.PrayerTime, now time.Time) (Countdown, bool) {
	var (
		best  model.PrayerTime
		found bool
	)
	for _, p := range prayers {
		if !p.Time.After(now) {
			continue
		}
		if !found || p.Time.Before(best.Time) {
			best = p
			found = true
		}
	}
	if !found {
		return Countdown{}, false
	}
	return Countdown{Prayer: best, Remaining: best.Time.Sub(now)}, true
}
