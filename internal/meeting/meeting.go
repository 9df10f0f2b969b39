// Package meeting decides whether an alert time falls inside a calendar
// meeting, backed by a time-windowed cache of busy intervals.
package meeting

import (
	"context"
	"errors"
	"time"

	"prayeralert/internal/model"
)

var ErrAccessDenied = errors.New("calendar access not granted")

// AccessStatus mirrors the calendar authorization states.
type AccessStatus string

const (
	AccessNotDetermined AccessStatus = "notDetermined"
	AccessDenied        AccessStatus = "denied"
	AccessRestricted    AccessStatus = "restricted"
	AccessFull          AccessStatus = "fullAccess"
)

// CalendarProvider lists raw events overlapping [start, end].
type CalendarProvider interface {
	AccessStatus() AccessStatus
	Events(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error)
}

// Checker answers point-in-time meeting queries over a fixed interval list.
type Checker struct {
	intervals []model.MeetingInterval
}

func NewChecker(intervals []model.MeetingInterval) *Checker {
	cp := make([]model.MeetingInterval, len(intervals))
	copy(cp, intervals)
	return &Checker{intervals: cp}
}

// IsInMeeting is true when a non-all-day interval that looks like a meeting
// contains t, bounds inclusive.
func (c *Checker) IsInMeeting(t time.Time) bool {
	for _, iv := range c.intervals {
		if iv.AllDay || !iv.LooksLikeMeeting {
			continue
		}
		if !t.Before(iv.Start) && !t.After(iv.End) {
			return true
		}
	}
	return false
}
