package meeting

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"prayeralert/internal/model"
)

var base = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type fakeProvider struct {
	status  AccessStatus
	events  []model.CalendarEvent
	err     error
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (f *fakeProvider) AccessStatus() AccessStatus { return f.status }

func (f *fakeProvider) Events(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.events, f.err
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestCheckerIsInMeeting(t *testing.T) {
	checker := NewChecker([]model.MeetingInterval{
		{Start: base, End: base.Add(30 * time.Minute), LooksLikeMeeting: true},
		{Start: base.Add(2 * time.Hour), End: base.Add(3 * time.Hour), LooksLikeMeeting: false},
		{Start: base.Add(-12 * time.Hour), End: base.Add(12 * time.Hour), AllDay: true, LooksLikeMeeting: true},
	})

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"inside", base.Add(10 * time.Minute), true},
		{"start bound", base, true},
		{"end bound", base.Add(30 * time.Minute), true},
		{"after", base.Add(40 * time.Minute), false},
		{"not a meeting", base.Add(150 * time.Minute), false},
		{"only all-day", base.Add(-6 * time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checker.IsInMeeting(tt.at); got != tt.want {
				t.Errorf("IsInMeeting(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestWindow(t *testing.T) {
	start, end, ok := Window([]time.Time{base.Add(time.Hour), base})
	if !ok {
		t.Fatal("Window() not ok")
	}
	if !start.Equal(base.Add(-6 * time.Hour)) {
		t.Errorf("start = %v", start)
	}
	if !end.Equal(base.Add(13 * time.Hour)) {
		t.Errorf("end = %v", end)
	}
	if _, _, ok := Window(nil); ok {
		t.Error("Window(nil) ok")
	}
}

func TestCachedEventsEmptyInput(t *testing.T) {
	c := NewCache(&fakeProvider{status: AccessFull})
	got, ok := c.CachedEvents(nil)
	if !ok || got == nil || len(got) != 0 {
		t.Errorf("CachedEvents(nil) = %v, %v; want empty, true", got, ok)
	}
}

func TestCacheCoverageAndAge(t *testing.T) {
	clock := &fakeClock{t: base}
	provider := &fakeProvider{
		status: AccessFull,
		events: []model.CalendarEvent{{Start: base, End: base.Add(time.Hour), Title: "Sync call"}},
	}
	c := NewCache(provider, WithClock(clock.Now))

	query := []time.Time{base.Add(time.Hour), base.Add(2 * time.Hour)}
	if _, ok := c.CachedEvents(query); ok {
		t.Fatal("cold cache reported a hit")
	}
	if !c.PrefetchEvents(context.Background(), query) {
		t.Fatal("PrefetchEvents() = false on cold cache")
	}

	got, ok := c.CachedEvents(query)
	if !ok || len(got) != 1 || !got[0].LooksLikeMeeting {
		t.Fatalf("CachedEvents() = %v, %v", got, ok)
	}

	// A narrower query inside the cached window is also covered.
	if _, ok := c.CachedEvents([]time.Time{base.Add(90 * time.Minute)}); !ok {
		t.Error("sub-window query missed")
	}

	// A query extending beyond the cached window misses.
	if _, ok := c.CachedEvents([]time.Time{base.Add(24 * time.Hour)}); ok {
		t.Error("query outside the window hit")
	}

	// Already covered: no second query.
	if c.PrefetchEvents(context.Background(), query) {
		t.Error("PrefetchEvents() refetched a covered window")
	}
	if n := provider.calls.Load(); n != 1 {
		t.Errorf("provider calls = %d, want 1", n)
	}

	clock.Advance(29 * time.Minute)
	if _, ok := c.CachedEvents(query); !ok {
		t.Error("29 minute old cache missed")
	}
	clock.Advance(time.Minute)
	if _, ok := c.CachedEvents(query); ok {
		t.Error("30 minute old cache hit")
	}
}

func TestPrefetchRequiresFullAccess(t *testing.T) {
	for _, status := range []AccessStatus{AccessNotDetermined, AccessDenied, AccessRestricted} {
		provider := &fakeProvider{status: status}
		c := NewCache(provider)
		if c.PrefetchEvents(context.Background(), []time.Time{base}) {
			t.Errorf("status %s: PrefetchEvents() = true", status)
		}
		if provider.calls.Load() != 0 {
			t.Errorf("status %s: provider queried", status)
		}
	}
}

func TestPrefetchFailureKeepsPreviousState(t *testing.T) {
	clock := &fakeClock{t: base}
	provider := &fakeProvider{
		status: AccessFull,
		events: []model.CalendarEvent{{Start: base, End: base.Add(time.Hour), HasAttendees: true}},
	}
	c := NewCache(provider, WithClock(clock.Now))
	if !c.PrefetchEvents(context.Background(), []time.Time{base}) {
		t.Fatal("initial prefetch failed")
	}

	provider.err = errors.New("calendar offline")
	provider.events = nil
	if c.PrefetchEvents(context.Background(), []time.Time{base.Add(48 * time.Hour)}) {
		t.Error("failed prefetch reported success")
	}
	intervals, _, _, _ := c.Snapshot()
	if len(intervals) != 1 {
		t.Errorf("cached intervals = %d after failed fetch, want 1", len(intervals))
	}

	// The in-progress flag was cleared, so a later attempt queries again.
	provider.err = nil
	if !c.PrefetchEvents(context.Background(), []time.Time{base.Add(48 * time.Hour)}) {
		t.Error("prefetch after failure did not run")
	}
}

func TestPrefetchSingleFlight(t *testing.T) {
	provider := &fakeProvider{
		status:  AccessFull,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	c := NewCache(provider)
	query := []time.Time{base}

	first := make(chan bool)
	go func() { first <- c.PrefetchEvents(context.Background(), query) }()

	<-provider.entered
	if c.PrefetchEvents(context.Background(), []time.Time{base.Add(time.Hour)}) {
		t.Error("concurrent prefetch ran")
	}
	close(provider.release)

	if !<-first {
		t.Error("first prefetch = false")
	}
	if n := provider.calls.Load(); n != 1 {
		t.Errorf("provider calls = %d, want 1", n)
	}
}
