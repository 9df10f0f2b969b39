package notify

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"prayeralert/internal/model"
	"prayeralert/internal/settings"
)

type prayerKey struct {
	name string
	at   int64 // unix nanoseconds
}

type stateKey struct {
	name  string
	state model.PreferenceState
}

// Signature fingerprints the scheduling inputs so an unchanged request can
// be skipped. It is independent of prayer and state ordering.
type Signature struct {
	prayers          []prayerKey
	azan             bool
	reminder         bool
	meetingVibration bool
	states           []stateKey
}

func NewSignature(prayers []model.PrayerTime, snap settings.Snapshot) Signature {
	sig := Signature{
		prayers:          make([]prayerKey, 0, len(prayers)),
		azan:             snap.AzanEnabled(),
		reminder:         snap.ReminderEnabled(),
		meetingVibration: snap.VibrationOnlyDuringMeetings(),
	}
	for _, p := range prayers {
		sig.prayers = append(sig.prayers, prayerKey{
			name: strings.ToLower(string(p.Name)),
			at:   p.Time.UnixNano(),
		})
	}
	slices.SortFunc(sig.prayers, func(a, b prayerKey) int {
		if c := cmp.Compare(a.name, b.name); c != 0 {
			return c
		}
		return cmp.Compare(a.at, b.at)
	})

	states := snap.AllStates()
	sig.states = make([]stateKey, 0, len(states))
	for name, st := range states {
		sig.states = append(sig.states, stateKey{name: strings.ToLower(name), state: st})
	}
	slices.SortFunc(sig.states, func(a, b stateKey) int {
		return cmp.Compare(a.name, b.name)
	})
	return sig
}

func (s Signature) Equal(o Signature) bool {
	return s.azan == o.azan &&
		s.reminder == o.reminder &&
		s.meetingVibration == o.meetingVibration &&
		slices.Equal(s.prayers, o.prayers) &&
		slices.Equal(s.states, o.states)
}

// Fingerprint is a short digest for logs.
func (s Signature) Fingerprint() string {
	h := sha256.New()
	for _, p := range s.prayers {
		fmt.Fprintf(h, "p:%s:%d;", p.name, p.at)
	}
	fmt.Fprintf(h, "t:%t:%t:%t;", s.azan, s.reminder, s.meetingVibration)
	for _, st := range s.states {
		fmt.Fprintf(h, "s:%s:%s;", st.name, st.state)
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}
