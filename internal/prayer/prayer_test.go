package prayer

import (
	"errors"
	"testing"
	"time"

	"prayeralert/internal/model"
)

func table() map[string]string {
	return map[string]string{
		"fajr":    "05:10",
		"dhuhr":   "12:25",
		"asr":     "15:45",
		"maghrib": "18:20",
		"isha":    "19:45",
	}
}

func TestNewTimetableErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(map[string]string)
		wantErr error
	}{
		{"missing", func(m map[string]string) { delete(m, "asr") }, ErrMissingTime},
		{"bad hour", func(m map[string]string) { m["asr"] = "25:00" }, nil},
		{"bad format", func(m map[string]string) { m["asr"] = "1545" }, nil},
		{"unknown", func(m map[string]string) { m["duha"] = "08:00" }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := table()
			tt.mutate(m)
			_, err := NewTimetable(m, time.UTC)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTimetableTimes(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	tt, err := NewTimetable(table(), loc)
	if err != nil {
		t.Fatalf("NewTimetable: %v", err)
	}
	date := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC) // already the 11th in loc
	got, err := tt.Times(Coordinates{}, date, "MWL")
	if err != nil {
		t.Fatalf("Times: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d times", len(got))
	}
	want := time.Date(2026, 3, 11, 5, 10, 0, 0, loc)
	if got[0].Name != model.Fajr || !got[0].Time.Equal(want) {
		t.Errorf("first = %s %v, want Fajr %v", got[0].Name, got[0].Time, want)
	}
}

func TestUpcoming(t *testing.T) {
	tt, err := NewTimetable(table(), time.UTC)
	if err != nil {
		t.Fatalf("NewTimetable: %v", err)
	}
	now := time.Date(2026, 3, 10, 15, 45, 0, 0, time.UTC) // exactly Asr

	got, err := Upcoming(tt, Coordinates{}, "MWL", now)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}

	want := []struct {
		name model.PrayerName
		day  int
	}{
		{model.Maghrib, 10},
		{model.Isha, 10},
		{model.Fajr, 11},
		{model.Dhuhr, 11},
		{model.Asr, 11},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d prayers, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Name != w.name || got[i].Time.Day() != w.day {
			t.Errorf("[%d] = %s on %d, want %s on %d", i, got[i].Name, got[i].Time.Day(), w.name, w.day)
		}
	}
}

func TestNext(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	prayers := []model.PrayerTime{
		{Name: model.Asr, Time: now.Add(3 * time.Hour)},
		{Name: model.Dhuhr, Time: now.Add(25 * time.Minute)},
		{Name: model.Fajr, Time: now.Add(-7 * time.Hour)},
	}

	c, ok := Next(prayers, now)
	if !ok {
		t.Fatal("Next found nothing")
	}
	if c.Prayer.Name != model.Dhuhr || c.Remaining != 25*time.Minute {
		t.Errorf("Next = %s in %v, want Dhuhr in 25m", c.Prayer.Name, c.Remaining)
	}

	if _, ok := Next(prayers[2:], now); ok {
		t.Error("Next with only past prayers returned ok")
	}
}
