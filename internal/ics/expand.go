package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "prayeralert/internal/log"
	"prayeralert/internal/model"
)

const defaultMaxOccurrencesPerEvent = 500

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone all occurrences are converted to.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps very long expansions.
	MaxOccurrencesPerEvent int
}

// ExpandOccurrences expands parsed events into concrete occurrences that
// overlap the configured range, handling RRULE, EXDATE, RECURRENCE-ID
// overrides and all-day semantics. Transparent (free) events are dropped.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	out := make([]model.Occurrence, 0)
	for uid, baseEvents := range baseByUID {
		ov := overridesByUID[uid]
		for _, ev := range baseEvents {
			var occ []candidate
			if ev.RawRRule == "" {
				occ = expandSingleEvent(ev, ov, cfg)
			} else {
				var hitCap bool
				occ, hitCap = expandRecurringEvent(ev, ov, cfg)
				if hitCap {
					appLog.Warn("expand: truncated occurrences", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
				}
			}
			for _, o := range occ {
				if !o.Busy() {
					continue
				}
				out = append(out, o.Occurrence)
			}
		}
	}
	return out, nil
}

// candidate carries the transparency flag alongside an occurrence, since a
// RECURRENCE-ID override may change it.
type candidate struct {
	model.Occurrence
	free bool
}

func (c candidate) Busy() bool { return !c.free }

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []candidate {
	if o, ok := findOverrideForStart(overrides, ev.Start); ok {
		ev = o
	}
	if !timeRangesOverlap(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []candidate{makeOccurrence(ev, ev.Start, ev.End, cfg.DisplayLocation)}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]candidate, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)

	// Widen the lower bound by the duration so instances that started
	// before the range but are still running are included.
	rangeStart := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())
	occTimes := set.Between(rangeStart, rangeEnd, true)

	hitCap := false
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]candidate, 0, len(occTimes))
	for _, occStart := range occTimes {
		occEnd := occStart.Add(dur)
		baseEv := ev
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			baseEv = o
			occStart, occEnd = o.Start, o.End
		}
		if !timeRangesOverlap(occStart, occEnd, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, makeOccurrence(baseEv, occStart, occEnd, cfg.DisplayLocation))
	}
	return out, hitCap
}

// findOverrideForStart finds an override whose RECURRENCE-ID equals start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func makeOccurrence(ev ParsedEvent, start, end time.Time, displayLoc *time.Location) candidate {
	startLocal := start.In(displayLoc)
	return candidate{
		Occurrence: model.Occurrence{
			SourceID:    ev.Source.ID,
			UID:         ev.UID,
			InstanceKey: startLocal.Format(time.RFC3339Nano),
			Summary:     ev.Summary,
			Location:    ev.Location,
			AllDay:      ev.AllDay,
			Attendees:   ev.Attendees,
			Start:       startLocal,
			End:         end.In(displayLoc),
		},
		free: ev.Free,
	}
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
