// Package settings holds the user's notification preferences and the
// immutable snapshot a scheduling run works from.
package settings

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"prayeralert/internal/config"
	"prayeralert/internal/model"
)

var (
	ErrUnknownPrayer = errors.New("unknown prayer name")
	ErrInvalidState  = errors.New("invalid notification state")
)

// Settings is the live, mutable preference set. Callers mutate it freely and
// persist it through Store.Save at well-defined points.
type Settings struct {
	AzanEnabled                 bool
	ReminderEnabled             bool
	VibrationOnlyDuringMeetings bool
	PerPrayer                   map[model.PrayerName]model.PreferenceState
}

// Default has every prayer set to sound, azan on, reminders and meeting
// awareness off.
func Default() Settings {
	s := Settings{
		AzanEnabled: true,
		PerPrayer:   make(map[model.PrayerName]model.PreferenceState, len(model.CanonicalPrayers)),
	}
	for _, p := range model.CanonicalPrayers {
		s.PerPrayer[p] = model.StateSound
	}
	return s
}

// FromConfig converts the persisted YAML section into Settings.
func FromConfig(nc config.NotificationsConfig) (Settings, error) {
	s := Settings{
		AzanEnabled:                 nc.AzanEnabled,
		ReminderEnabled:             nc.ReminderEnabled,
		VibrationOnlyDuringMeetings: nc.VibrationOnlyDuringMeetings,
		PerPrayer:                   make(map[model.PrayerName]model.PreferenceState, len(nc.Prayers)),
	}
	for name, tag := range nc.Prayers {
		p, ok := model.ParsePrayerName(name)
		if !ok {
			return Settings{}, fmt.Errorf("%w: %q", ErrUnknownPrayer, name)
		}
		st, ok := model.ParsePreferenceState(tag)
		if !ok {
			return Settings{}, fmt.Errorf("%w: %q for %s", ErrInvalidState, tag, p)
		}
		s.PerPrayer[p] = st
	}
	return s, nil
}

// ApplyTo writes s into the persisted YAML section, keeping fields Settings
// does not own (azan sound, prefetch delay).
func (s Settings) ApplyTo(nc *config.NotificationsConfig) {
	nc.AzanEnabled = s.AzanEnabled
	nc.ReminderEnabled = s.ReminderEnabled
	nc.VibrationOnlyDuringMeetings = s.VibrationOnlyDuringMeetings
	nc.Prayers = make(map[string]string, len(s.PerPrayer))
	for p, st := range s.PerPrayer {
		nc.Prayers[strings.ToLower(string(p))] = string(st)
	}
}

// Snapshot is an immutable capture of the scheduling-relevant settings.
// Later edits to the Settings it came from do not affect it.
type Snapshot struct {
	azanEnabled                 bool
	reminderEnabled             bool
	vibrationOnlyDuringMeetings bool
	states                      map[string]model.PreferenceState // lower-cased keys
}

// NewSnapshot copies s.
func NewSnapshot(s Settings) Snapshot {
	snap := Snapshot{
		azanEnabled:                 s.AzanEnabled,
		reminderEnabled:             s.ReminderEnabled,
		vibrationOnlyDuringMeetings: s.VibrationOnlyDuringMeetings,
		states:                      make(map[string]model.PreferenceState, len(s.PerPrayer)),
	}
	for p, st := range s.PerPrayer {
		snap.states[strings.ToLower(string(p))] = st
	}
	return snap
}

func (s Snapshot) AzanEnabled() bool                 { return s.azanEnabled }
func (s Snapshot) ReminderEnabled() bool             { return s.reminderEnabled }
func (s Snapshot) VibrationOnlyDuringMeetings() bool { return s.vibrationOnlyDuringMeetings }

// State looks up a prayer case-insensitively; unknown names are sound.
func (s Snapshot) State(name string) model.PreferenceState {
	if st, ok := s.states[strings.ToLower(name)]; ok {
		return st
	}
	return model.StateSound
}

// AllStates returns a copy keyed by lower-cased prayer name.
func (s Snapshot) AllStates() map[string]model.PreferenceState {
	return maps.Clone(s.states)
}

// Equal reports whether both snapshots hold identical values.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.azanEnabled == o.azanEnabled &&
		s.reminderEnabled == o.reminderEnabled &&
		s.vibrationOnlyDuringMeetings == o.vibrationOnlyDuringMeetings &&
		maps.Equal(s.states, o.states)
}
