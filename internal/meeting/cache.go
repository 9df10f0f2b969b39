package meeting

import (
	"context"
	"sync"
	"time"

	appLog "prayeralert/internal/log"
	"prayeralert/internal/model"
)

const (
	windowLead    = 6 * time.Hour
	windowTrail   = 12 * time.Hour
	windowMinSpan = 10 * time.Minute
	maxCacheAge   = 30 * time.Minute
)

// Observer receives cache outcomes; the notify metrics implement it.
type Observer interface {
	CacheLookup(hit bool)
	CalendarFetch(ok bool)
}

type nopObserver struct{}

func (nopObserver) CacheLookup(bool)   {}
func (nopObserver) CalendarFetch(bool) {}

// Cache holds the busy intervals for one covering window. All state is
// guarded by mu; the provider query runs outside the lock while fetching
// keeps other prefetches out.
type Cache struct {
	provider CalendarProvider
	observer Observer
	now      func() time.Time

	mu          sync.Mutex
	intervals   []model.MeetingInterval
	windowStart time.Time
	windowEnd   time.Time
	lastFetch   time.Time
	fetching    bool
}

// CacheOption customizes a Cache.
type CacheOption func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithObserver reports hits, misses and fetch outcomes.
func WithObserver(o Observer) CacheOption {
	return func(c *Cache) { c.observer = o }
}

func NewCache(provider CalendarProvider, opts ...CacheOption) *Cache {
	c := &Cache{
		provider: provider,
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Window expands the timestamps into the span a fetch must cover: 6h before
// the earliest, 12h after the latest, at least 10 minutes wide. ok is false
// for an empty list.
func Window(timestamps []time.Time) (start, end time.Time, ok bool) {
	if len(timestamps) == 0 {
		return time.Time{}, time.Time{}, false
	}
	earliest, latest := timestamps[0], timestamps[0]
	for _, ts := range timestamps[1:] {
		if ts.Before(earliest) {
			earliest = ts
		}
		if ts.After(latest) {
			latest = ts
		}
	}
	start = earliest.Add(-windowLead)
	end = latest.Add(windowTrail)
	if end.Sub(start) < windowMinSpan {
		end = start.Add(windowMinSpan)
	}
	return start, end, true
}

// CachedEvents returns the cached intervals when they cover the expanded
// window of timestamps and are younger than 30 minutes. An empty input needs
// no coverage and yields an empty, non-nil list with ok true.
func (c *Cache) CachedEvents(timestamps []time.Time) ([]model.MeetingInterval, bool) {
	start, end, ok := Window(timestamps)
	if !ok {
		return []model.MeetingInterval{}, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.coversLocked(start, end) {
		c.observer.CacheLookup(false)
		return nil, false
	}
	c.observer.CacheLookup(true)

	out := make([]model.MeetingInterval, len(c.intervals))
	copy(out, c.intervals)
	return out, true
}

func (c *Cache) coversLocked(start, end time.Time) bool {
	if c.lastFetch.IsZero() {
		return false
	}
	if c.now().Sub(c.lastFetch) >= maxCacheAge {
		return false
	}
	return !c.windowStart.After(start) && !c.windowEnd.Before(end)
}

// PrefetchEvents queries the calendar for the expanded window and replaces
// the cached state. It returns false without querying when access is not
// fully granted, another prefetch is running, or the window is already
// covered. A failed query leaves the previous state untouched.
func (c *Cache) PrefetchEvents(ctx context.Context, timestamps []time.Time) bool {
	start, end, ok := Window(timestamps)
	if !ok {
		return false
	}
	if status := c.provider.AccessStatus(); status != AccessFull {
		appLog.Debug("meeting prefetch skipped", "reason", "access", "status", string(status))
		return false
	}

	c.mu.Lock()
	if c.fetching {
		c.mu.Unlock()
		appLog.Debug("meeting prefetch skipped", "reason", "in_progress")
		return false
	}
	if c.coversLocked(start, end) {
		c.mu.Unlock()
		appLog.Debug("meeting prefetch skipped", "reason", "covered")
		return false
	}
	c.fetching = true
	c.mu.Unlock()

	events, err := c.provider.Events(ctx, start, end)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetching = false

	if err != nil {
		c.observer.CalendarFetch(false)
		appLog.Error("meeting prefetch failed", err, "window_start", start, "window_end", end)
		return false
	}
	c.observer.CalendarFetch(true)

	intervals := make([]model.MeetingInterval, 0, len(events))
	for _, ev := range events {
		intervals = append(intervals, model.NewMeetingInterval(ev))
	}
	c.intervals = intervals
	c.windowStart = start
	c.windowEnd = end
	c.lastFetch = c.now()

	appLog.Info("meeting cache refreshed",
		"intervals", len(intervals),
		"window_start", start,
		"window_end", end,
	)
	return true
}

// Snapshot returns the cached intervals and window regardless of age.
func (c *Cache) Snapshot() (intervals []model.MeetingInterval, start, end, fetchedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.MeetingInterval, len(c.intervals))
	copy(out, c.intervals)
	return out, c.windowStart, c.windowEnd, c.lastFetch
}
