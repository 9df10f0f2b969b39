// Package notify turns prayer times and preferences into a de-duplicated set
// of pending alerts and keeps an external alert store in sync with it.
package notify

import (
	"fmt"
	"time"

	"prayeralert/internal/model"
)

const (
	// ReminderSuffix is appended to the prayer name for the early alert.
	ReminderSuffix = "_reminder"
	// ReminderLead is how far ahead of the prayer the reminder fires.
	ReminderLead = 5 * time.Minute
)

// PrimaryID is the stable store identifier of a prayer's main alert.
func PrimaryID(name model.PrayerName) string { return string(name) }

// ReminderID is the stable store identifier of a prayer's reminder.
func ReminderID(name model.PrayerName) string { return string(name) + ReminderSuffix }

type SoundKind string

const (
	SoundNone    SoundKind = "none" // silent, vibration only
	SoundDefault SoundKind = "default"
	SoundNamed   SoundKind = "named"
)

// Sound is the audio attached to an alert.
type Sound struct {
	Kind SoundKind `json:"kind"`
	Name string    `json:"name,omitempty"`
}

func (s Sound) String() string {
	if s.Kind == SoundNamed {
		return "named:" + s.Name
	}
	return string(s.Kind)
}

type Content struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound Sound  `json:"sound"`
}

// Trigger fires once at FireAt. Hour and Minute repeat the wall-clock time
// for display; Repeats is always false for alerts built here.
type Trigger struct {
	Hour    int       `json:"hour"`
	Minute  int       `json:"minute"`
	FireAt  time.Time `json:"fire_at"`
	Repeats bool      `json:"repeats"`
}

// Blueprint describes one alert to commit to the store.
type Blueprint struct {
	ID       string           `json:"id"`
	Prayer   model.PrayerName `json:"prayer"`
	Reminder bool             `json:"reminder"`
	Content  Content          `json:"content"`
	Trigger  Trigger          `json:"trigger"`
}

func newTrigger(at time.Time) Trigger {
	return Trigger{
		Hour:   at.Hour(),
		Minute: at.Minute(),
		FireAt: at,
	}
}

func displayName(p model.PrayerTime) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return string(p.Name)
}

func primaryContent(p model.PrayerTime, sound Sound) Content {
	name := displayName(p)
	return Content{
		Title: name,
		Body:  fmt.Sprintf("It's time for %s prayer.", name),
		Sound: sound,
	}
}

func reminderContent(p model.PrayerTime, sound Sound) Content {
	name := displayName(p)
	return Content{
		Title: fmt.Sprintf("%s in %d minutes", name, int(ReminderLead/time.Minute)),
		Body:  fmt.Sprintf("%s prayer is at %s.", name, p.Time.Format("15:04")),
		Sound: sound,
	}
}
