package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"prayeralert/internal/config"
	"prayeralert/internal/meeting"
)

func icsBody(events ...string) []byte {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//prayeralert//test//EN",
	}
	for _, ev := range events {
		lines = append(lines, strings.Split(strings.TrimSpace(ev), "\n")...)
	}
	lines = append(lines, "END:VCALENDAR", "")
	return []byte(strings.Join(lines, "\r\n"))
}

const standup = `BEGIN:VEVENT
UID:standup@example.com
DTSTAMP:20260501T000000Z
DTSTART:20260504T090000Z
DTEND:20260504T093000Z
SUMMARY:Standup
RRULE:FREQ=DAILY;COUNT=5
EXDATE:20260506T090000Z
ATTENDEE;CN=Ayla:mailto:ayla@example.com
END:VEVENT`

const focus = `BEGIN:VEVENT
UID:focus@example.com
DTSTAMP:20260501T000000Z
DTSTART:20260504T130000Z
DTEND:20260504T150000Z
SUMMARY:Focus block
TRANSP:TRANSPARENT
END:VEVENT`

const cancelled = `BEGIN:VEVENT
UID:gone@example.com
DTSTAMP:20260501T000000Z
DTSTART:20260504T110000Z
DTEND:20260504T120000Z
SUMMARY:Cancelled call
STATUS:CANCELLED
END:VEVENT`

const holiday = `BEGIN:VEVENT
UID:holiday@example.com
DTSTAMP:20260501T000000Z
DTSTART;VALUE=DATE:20260505
DTEND;VALUE=DATE:20260506
SUMMARY:Team offsite meeting
END:VEVENT`

func TestParseICS(t *testing.T) {
	events, err := ParseICS(Source{ID: "work"}, icsBody(standup, focus, cancelled, holiday))
	if err != nil {
		t.Fatalf("ParseICS() error = %v", err)
	}
	byUID := make(map[string]ParsedEvent)
	for _, ev := range events {
		byUID[ev.UID] = ev
	}

	if _, ok := byUID["gone@example.com"]; ok {
		t.Error("cancelled event was kept")
	}
	if ev := byUID["standup@example.com"]; ev.Attendees != 1 || ev.RawRRule == "" || len(ev.ExDates) != 1 {
		t.Errorf("standup parsed as %+v", ev)
	}
	if ev := byUID["focus@example.com"]; !ev.Free {
		t.Error("TRANSP:TRANSPARENT not detected")
	}
	if ev := byUID["holiday@example.com"]; !ev.AllDay {
		t.Error("VALUE=DATE event not all-day")
	}
}

func TestExpandOccurrences(t *testing.T) {
	events, err := ParseICS(Source{ID: "work"}, icsBody(standup, focus, holiday))
	if err != nil {
		t.Fatal(err)
	}

	occs, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC),
		RangeEnd:        time.Date(2026, 5, 7, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("ExpandOccurrences() error = %v", err)
	}

	var standups, allDay int
	for _, o := range occs {
		switch o.UID {
		case "standup@example.com":
			standups++
			if o.Attendees != 1 {
				t.Errorf("occurrence lost attendees: %+v", o)
			}
		case "holiday@example.com":
			allDay++
		case "focus@example.com":
			t.Error("transparent event expanded as busy")
		}
	}
	// 4th and 5th are in range; the 6th is excluded by EXDATE.
	if standups != 2 {
		t.Errorf("standup occurrences = %d, want 2", standups)
	}
	if allDay != 1 {
		t.Errorf("all-day occurrences = %d, want 1", allDay)
	}
}

func TestExpandRejectsInvertedRange(t *testing.T) {
	now := time.Now()
	if _, err := ExpandOccurrences(nil, ExpandConfig{RangeStart: now, RangeEnd: now.Add(-time.Hour)}); err == nil {
		t.Error("inverted range accepted")
	}
}

func TestFetcherRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(icsBody(focus))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	f.delay = time.Millisecond

	res, err := f.FetchOne(context.Background(), Source{ID: "s", URL: srv.URL + "/cal.ics"})
	if err != nil {
		t.Fatalf("FetchOne() error = %v", err)
	}
	if res.FromCache || len(res.Body) == 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("server hits = %d, want 2", n)
	}
}

func TestFetcherDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	f.delay = time.Millisecond

	if _, err := f.FetchOne(context.Background(), Source{ID: "s", URL: srv.URL}); err == nil {
		t.Fatal("FetchOne() succeeded on 404")
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hits = %d, want 1", n)
	}
}

func TestFetcherUsesCacheOnNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(icsBody(focus))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	src := Source{ID: "s", URL: srv.URL}
	if _, err := f.FetchOne(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	res, err := f.FetchOne(context.Background(), src)
	if err != nil {
		t.Fatalf("second FetchOne() error = %v", err)
	}
	if !res.FromCache || len(res.Body) == 0 {
		t.Errorf("304 did not reuse cached body: %+v", res)
	}
}

func TestProviderEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(icsBody(standup, focus))
	}))
	defer srv.Close()

	p := NewProvider(config.CalendarConfig{
		ICS:      []config.ICSConfig{{ID: "work", URL: srv.URL}, {ID: "empty"}},
		CacheDir: t.TempDir(),
	}, time.UTC)

	if got := p.AccessStatus(); got != meeting.AccessFull {
		t.Fatalf("AccessStatus() = %s", got)
	}

	start := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	events, err := p.Events(context.Background(), start, start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1 (%+v)", len(events), events)
	}
	if !events[0].HasAttendees || events[0].Title != "Standup" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestProviderSkipsUnparsableSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.ics" {
			// 200 with no body
			return
		}
		_, _ = w.Write(icsBody(standup))
	}))
	defer srv.Close()

	start := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		sources []config.ICSConfig
		want    int
		wantErr bool
	}{
		{
			name: "one broken",
			sources: []config.ICSConfig{
				{ID: "broken", URL: srv.URL + "/broken.ics"},
				{ID: "work", URL: srv.URL + "/work.ics"},
			},
			want: 1,
		},
		{
			name:    "all broken",
			sources: []config.ICSConfig{{ID: "broken", URL: srv.URL + "/broken.ics"}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider(config.CalendarConfig{ICS: tt.sources, CacheDir: t.TempDir()}, time.UTC)
			events, err := p.Events(context.Background(), start, start.Add(24*time.Hour))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Events() = %+v, want error", events)
				}
				return
			}
			if err != nil {
				t.Fatalf("Events() error = %v", err)
			}
			if len(events) != tt.want {
				t.Errorf("events = %d, want %d", len(events), tt.want)
			}
		})
	}
}

func TestProviderWithoutSources(t *testing.T) {
	p := NewProvider(config.CalendarConfig{CacheDir: t.TempDir()}, nil)
	if got := p.AccessStatus(); got != meeting.AccessNotDetermined {
		t.Errorf("AccessStatus() = %s, want notDetermined", got)
	}
	if _, err := p.Events(context.Background(), time.Now(), time.Now().Add(time.Hour)); err == nil {
		t.Error("Events() without sources succeeded")
	}
}

func TestRedactURL(t *testing.T) {
	tests := map[string]string{
		"https://example.com/private.ics?token=abc": "https://example.com/...(redacted)",
		"https://cal.example.com?token=abc":         "https://cal.example.com/...(redacted)",
		"not a url":                                 "ics://...(redacted)",
	}
	for in, want := range tests {
		if got := redactURL(in); got != want {
			t.Errorf("redactURL(%q) = %q, want %q", in, got, want)
		}
	}
}
