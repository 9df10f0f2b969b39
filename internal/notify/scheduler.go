package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	appLog "prayeralert/internal/log"
	"prayeralert/internal/meeting"
	"prayeralert/internal/model"
	"prayeralert/internal/settings"
)

const defaultPrefetchDelay = 2 * time.Second

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	// AzanSound is the sound name attached when azan is enabled.
	AzanSound string
	// PrefetchDelay is the grace period before a calendar prefetch.
	PrefetchDelay time.Duration
	// Now replaces time.Now.
	Now func() time.Time
	// OnMeetingData is called after a prefetch populated the meeting cache.
	OnMeetingData func()
}

// Plan is the desired alert set for one run.
type Plan struct {
	Blueprints    []Blueprint
	Timestamps    []time.Time // meeting-check timestamps
	NeedsPrefetch bool
}

// Result reports what a commit changed. Deferred lists alerts that were due
// but not yet delivered; they are left in place for the dispatcher.
type Result struct {
	Removed  []string
	Added    []string
	Failed   []string
	Deferred []string
}

// Scheduler builds alert blueprints and commits them to a Store. Commits are
// serialized so a superseded run never interleaves with its successor.
type Scheduler struct {
	store Store
	cache *meeting.Cache // nil when no calendar is configured
	opts  SchedulerOptions
	ctx   context.Context // lifetime of background prefetches

	commitMu sync.Mutex
	// wg counts prefetch goroutines. A Manager shares its own group so the
	// counter stays above zero from a run through the reschedule it triggers.
	wg *sync.WaitGroup
}

func NewScheduler(ctx context.Context, store Store, cache *meeting.Cache, opts SchedulerOptions) *Scheduler {
	return newScheduler(ctx, store, cache, opts, &sync.WaitGroup{})
}

func newScheduler(ctx context.Context, store Store, cache *meeting.Cache, opts SchedulerOptions, wg *sync.WaitGroup) *Scheduler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PrefetchDelay <= 0 {
		opts.PrefetchDelay = defaultPrefetchDelay
	}
	return &Scheduler{store: store, cache: cache, opts: opts, ctx: ctx, wg: wg}
}

// Build computes the desired blueprints. It reads the meeting cache but never
// touches the store, and stops with ctx.Err() when cancelled.
func (s *Scheduler) Build(ctx context.Context, prayers []model.PrayerTime, snap settings.Snapshot) (Plan, error) {
	var plan Plan

	for _, p := range prayers {
		plan.Timestamps = append(plan.Timestamps, p.Time)
		if snap.ReminderEnabled() {
			plan.Timestamps = append(plan.Timestamps, p.Time.Add(-ReminderLead))
		}
	}

	var checker *meeting.Checker
	if snap.VibrationOnlyDuringMeetings() && s.cache != nil {
		intervals, ok := s.cache.CachedEvents(plan.Timestamps)
		switch {
		case !ok:
			plan.NeedsPrefetch = true
		case len(intervals) > 0:
			checker = meeting.NewChecker(intervals)
		}
	}

	now := s.opts.Now()
	seen := make(map[string]bool)
	add := func(bp Blueprint) {
		if seen[bp.ID] {
			appLog.Warn("duplicate alert identifier dropped", "id", bp.ID)
			return
		}
		seen[bp.ID] = true
		plan.Blueprints = append(plan.Blueprints, bp)
	}

	for _, p := range prayers {
		if err := ctx.Err(); err != nil {
			return Plan{}, err
		}
		state := snap.State(string(p.Name))
		if state == model.StateOff || !p.Time.After(now) {
			continue
		}
		add(Blueprint{
			ID:      PrimaryID(p.Name),
			Prayer:  p.Name,
			Content: primaryContent(p, s.soundFor(state, p.Time, checker, snap)),
			Trigger: newTrigger(p.Time),
		})
	}

	if snap.ReminderEnabled() {
		for _, p := range prayers {
			if err := ctx.Err(); err != nil {
				return Plan{}, err
			}
			at := p.Time.Add(-ReminderLead)
			if !at.After(now) {
				continue
			}
			// Reminders follow the global toggle; an "off" prayer still
			// gets one, with the regular sound policy.
			state := snap.State(string(p.Name))
			if state == model.StateOff {
				state = model.StateSound
			}
			add(Blueprint{
				ID:       ReminderID(p.Name),
				Prayer:   p.Name,
				Reminder: true,
				Content:  reminderContent(p, s.soundFor(state, at, checker, snap)),
				Trigger:  newTrigger(at),
			})
		}
	}

	return plan, nil
}

func (s *Scheduler) soundFor(state model.PreferenceState, at time.Time, checker *meeting.Checker, snap settings.Snapshot) Sound {
	switch state {
	case model.StateVibrate, model.StateOff:
		return Sound{Kind: SoundNone}
	}
	if checker != nil && checker.IsInMeeting(at) {
		return Sound{Kind: SoundNone}
	}
	if snap.AzanEnabled() && s.opts.AzanSound != "" {
		return Sound{Kind: SoundNamed, Name: s.opts.AzanSound}
	}
	return Sound{Kind: SoundDefault}
}

// Run builds the plan and commits it. A run cancelled before the commit
// step leaves the store untouched; once the commit starts it completes.
// When the meeting cache missed, a delayed prefetch is started afterwards.
func (s *Scheduler) Run(ctx context.Context, prayers []model.PrayerTime, snap settings.Snapshot) (Result, error) {
	plan, err := s.Build(ctx, prayers, snap)
	if err != nil {
		return Result{}, err
	}

	s.commitMu.Lock()
	if err := ctx.Err(); err != nil {
		s.commitMu.Unlock()
		return Result{}, err
	}
	res, err := s.commit(context.WithoutCancel(ctx), plan.Blueprints)
	s.commitMu.Unlock()
	if err != nil {
		return res, err
	}

	if plan.NeedsPrefetch {
		s.prefetchLater(plan.Timestamps)
	}
	return res, nil
}

func (s *Scheduler) commit(ctx context.Context, blueprints []Blueprint) (Result, error) {
	timer := prometheus.NewTimer(CommitLatency)
	defer timer.ObserveDuration()

	var res Result

	pending, err := s.store.Pending(ctx)
	if err != nil {
		return res, fmt.Errorf("list pending alerts: %w", err)
	}

	// An alert whose trigger passed within MaxLateness is still owed to the
	// dispatcher. It is neither removed nor replaced by a later occurrence.
	now := s.opts.Now()
	awaiting := make(map[string]bool)
	for _, bp := range pending {
		at := bp.Trigger.FireAt
		if !at.After(now) && now.Sub(at) <= MaxLateness {
			awaiting[bp.ID] = true
		}
	}

	desired := make(map[string]bool, len(blueprints))
	for _, bp := range blueprints {
		desired[bp.ID] = true
	}
	for _, bp := range pending {
		if !desired[bp.ID] && !awaiting[bp.ID] {
			res.Removed = append(res.Removed, bp.ID)
		}
	}
	if len(res.Removed) > 0 {
		if err := s.store.Remove(ctx, res.Removed); err != nil {
			appLog.Error("remove stale alerts failed", err, "ids", res.Removed)
		} else {
			AlertsRemoved.Add(float64(len(res.Removed)))
		}
	}

	// Each blueprint is submitted on its own; a failure does not stop the batch.
	for _, bp := range blueprints {
		if awaiting[bp.ID] {
			res.Deferred = append(res.Deferred, bp.ID)
			appLog.Debug("alert awaiting delivery, not replaced", "id", bp.ID, "next_fire_at", bp.Trigger.FireAt)
			continue
		}
		if err := s.store.Add(ctx, bp); err != nil {
			res.Failed = append(res.Failed, bp.ID)
			BlueprintFailures.Inc()
			appLog.Error("add alert failed", err, "id", bp.ID, "fire_at", bp.Trigger.FireAt)
			continue
		}
		res.Added = append(res.Added, bp.ID)
		kind := "primary"
		if bp.Reminder {
			kind = "reminder"
		}
		BlueprintsCommitted.WithLabelValues(kind).Inc()
	}
	return res, nil
}

func (s *Scheduler) prefetchLater(timestamps []time.Time) {
	if s.cache == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(s.opts.PrefetchDelay)
		defer timer.Stop()
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}

		if s.cache.PrefetchEvents(s.ctx, timestamps) && s.opts.OnMeetingData != nil {
			appLog.Info("meeting data fetched, rescheduling")
			s.opts.OnMeetingData()
		}
	}()
}

// Clear removes every pending alert, waiting for an in-flight commit.
func (s *Scheduler) Clear(ctx context.Context) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	return s.store.RemoveAll(ctx)
}

// Wait blocks until background prefetches have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
