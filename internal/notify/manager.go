package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "prayeralert/internal/log"
	"prayeralert/internal/meeting"
	"prayeralert/internal/model"
	"prayeralert/internal/settings"
)

// ManagerOptions configures the Scheduler a Manager owns.
type ManagerOptions struct {
	AzanSound     string
	PrefetchDelay time.Duration
	Now           func() time.Time
}

// Manager is the entry point for scheduling. It skips requests whose
// signature matches the last one and keeps at most one scheduling task
// current, cancelling the previous task when a new one starts.
type Manager struct {
	store     Store
	scheduler *Scheduler
	ctx       context.Context

	mu           sync.Mutex
	generation   uint64
	cancel       context.CancelFunc
	lastSig      *Signature
	lastPrayers  []model.PrayerTime
	lastSettings *settings.Snapshot

	// wg counts scheduling tasks and the prefetches they start.
	wg sync.WaitGroup
}

// NewManager wires a Scheduler whose meeting callback reschedules through
// this manager. cache may be nil. ctx bounds every background task.
func NewManager(ctx context.Context, store Store, cache *meeting.Cache, opts ManagerOptions) *Manager {
	m := &Manager{store: store, ctx: ctx}
	m.scheduler = newScheduler(ctx, store, cache, SchedulerOptions{
		AzanSound:     opts.AzanSound,
		PrefetchDelay: opts.PrefetchDelay,
		Now:           opts.Now,
		OnMeetingData: m.RescheduleAfterMeetingFetch,
	}, &m.wg)
	return m
}

// RequestAuthorization asks the store for permission to post alerts.
func (m *Manager) RequestAuthorization(ctx context.Context) (AuthorizationStatus, error) {
	status, err := m.store.RequestAuthorization(ctx)
	if err != nil {
		return status, err
	}
	appLog.Info("notification authorization", "status", string(status))
	return status, nil
}

// AuthorizationStatus reports the store's current permission state.
func (m *Manager) AuthorizationStatus(ctx context.Context) AuthorizationStatus {
	return m.store.AuthorizationStatus(ctx)
}

// Schedule snapshots s and starts a background scheduling task unless force
// is false and the inputs match the last accepted request. It reports
// whether a task was started.
func (m *Manager) Schedule(prayers []model.PrayerTime, s settings.Settings, force bool) bool {
	return m.schedule(prayers, settings.NewSnapshot(s), force)
}

func (m *Manager) schedule(prayers []model.PrayerTime, snap settings.Snapshot, force bool) bool {
	if status := m.store.AuthorizationStatus(m.ctx); status != AuthAuthorized {
		appLog.Debug("schedule skipped", "reason", "not authorized", "status", string(status))
		return false
	}

	sig := NewSignature(prayers, snap)

	m.mu.Lock()
	if !force && m.lastSig != nil && m.lastSig.Equal(sig) {
		m.mu.Unlock()
		ScheduleSkipped.Inc()
		appLog.Debug("schedule skipped", "reason", "unchanged", "signature", sig.Fingerprint())
		return false
	}

	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancel = cancel
	m.generation++
	gen := m.generation

	m.lastSig = &sig
	m.lastPrayers = append([]model.PrayerTime(nil), prayers...)
	m.lastSettings = &snap

	m.wg.Add(1)
	m.mu.Unlock()

	runID := uuid.NewString()
	appLog.Info("schedule started",
		"run", runID,
		"signature", sig.Fingerprint(),
		"prayers", len(prayers),
		"force", force,
	)

	go func() {
		defer m.wg.Done()
		defer cancel()
		m.run(ctx, gen, runID, prayers, snap)
	}()
	return true
}

func (m *Manager) run(ctx context.Context, gen uint64, runID string, prayers []model.PrayerTime, snap settings.Snapshot) {
	res, err := m.scheduler.Run(ctx, prayers, snap)
	switch {
	case errors.Is(err, context.Canceled):
		ScheduleRuns.WithLabelValues("cancelled").Inc()
		appLog.Info("schedule superseded", "run", runID)
	case err != nil:
		ScheduleRuns.WithLabelValues("failed").Inc()
		appLog.Error("schedule failed", err, "run", runID)
		// Nothing was committed; forget the signature so the next request retries.
		m.mu.Lock()
		if m.generation == gen {
			m.lastSig = nil
		}
		m.mu.Unlock()
	default:
		ScheduleRuns.WithLabelValues("committed").Inc()
		appLog.Info("schedule committed",
			"run", runID,
			"added", len(res.Added),
			"removed", len(res.Removed),
			"failed", len(res.Failed),
			"deferred", len(res.Deferred),
		)
		if len(res.Failed) > 0 || len(res.Deferred) > 0 {
			// Rejected or deferred alerts are not in their desired state; let
			// the next request redo the run.
			m.mu.Lock()
			if m.generation == gen {
				m.lastSig = nil
			}
			m.mu.Unlock()
		}
	}
}

// CancelAll stops the current task, forgets the remembered inputs and
// removes every pending alert.
func (m *Manager) CancelAll(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.generation++
	m.lastSig = nil
	m.lastPrayers = nil
	m.lastSettings = nil
	m.mu.Unlock()

	if err := m.scheduler.Clear(ctx); err != nil {
		return err
	}
	appLog.Info("all alerts cancelled")
	return nil
}

// RescheduleAfterMeetingFetch re-runs the last request with force so fresh
// meeting data takes effect. It does nothing before the first Schedule.
func (m *Manager) RescheduleAfterMeetingFetch() {
	m.mu.Lock()
	prayers := m.lastPrayers
	snap := m.lastSettings
	m.mu.Unlock()

	if snap == nil {
		return
	}
	m.schedule(prayers, *snap, true)
}

// Wait blocks until scheduling tasks, their prefetches and any reschedule
// those triggered have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}
