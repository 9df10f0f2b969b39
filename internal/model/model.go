package model

import (
	"strings"
	"time"
)

// PrayerName is one of the five canonical daily prayers.
type PrayerName string

const (
	Fajr    PrayerName = "Fajr"
	Dhuhr   PrayerName = "Dhuhr"
	Asr     PrayerName = "Asr"
	Maghrib PrayerName = "Maghrib"
	Isha    PrayerName = "Isha"
)

// CanonicalPrayers lists the prayers in the order they occur during a day.
var CanonicalPrayers = []PrayerName{Fajr, Dhuhr, Asr, Maghrib, Isha}

// ParsePrayerName resolves a name case-insensitively ("fajr", "FAJR").
func ParsePrayerName(s string) (PrayerName, bool) {
	s = strings.TrimSpace(s)
	for _, p := range CanonicalPrayers {
		if strings.EqualFold(string(p), s) {
			return p, true
		}
	}
	return "", false
}

// PrayerTime is one computed prayer for a calculation date.
type PrayerTime struct {
	Name        PrayerName
	DisplayName string // localized label shown in alert titles
	Time        time.Time
}

// PreferenceState controls how a prayer's primary alert is delivered.
type PreferenceState string

const (
	StateOff     PreferenceState = "off"
	StateVibrate PreferenceState = "vibrate"
	StateSound   PreferenceState = "sound"
)

// ParsePreferenceState is case-insensitive; ok is false for unknown tags.
func ParsePreferenceState(s string) (PreferenceState, bool) {
	switch PreferenceState(strings.ToLower(strings.TrimSpace(s))) {
	case StateOff:
		return StateOff, true
	case StateVibrate:
		return StateVibrate, true
	case StateSound:
		return StateSound, true
	}
	return "", false
}

// CalendarEvent is a raw event as returned by a calendar provider for a window.
type CalendarEvent struct {
	Start        time.Time
	End          time.Time
	IsAllDay     bool
	HasAttendees bool
	Title        string
}

// Occurrence represents a single concrete instance of an ICS event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	SourceID string // calendar source ID
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, derived from the local start time.
	InstanceKey string

	Summary  string
	Location string

	AllDay bool

	// Attendees counts ATTENDEE properties on the VEVENT.
	Attendees int

	// Start / End are in the configured display timezone.
	Start time.Time
	End   time.Time
}

// MeetingInterval is a busy interval snapshotted from a calendar event at
// fetch time. LooksLikeMeeting is precomputed once.
type MeetingInterval struct {
	Start            time.Time
	End              time.Time
	AllDay           bool
	LooksLikeMeeting bool
}

var meetingKeywords = []string{"meeting", "call"}

// NewMeetingInterval derives an interval from a calendar event. An event
// looks like a meeting when it has attendees or its title mentions
// "meeting" or "call".
func NewMeetingInterval(ev CalendarEvent) MeetingInterval {
	looks := ev.HasAttendees
	if !looks {
		title := strings.ToLower(ev.Title)
		for _, kw := range meetingKeywords {
			if strings.Contains(title, kw) {
				looks = true
				break
			}
		}
	}
	return MeetingInterval{
		Start:            ev.Start,
		End:              ev.End,
		AllDay:           ev.IsAllDay,
		LooksLikeMeeting: looks,
	}
}
