// Package app wires the calculator, settings, meeting cache and notification
// manager together and drives them from cron and the HTTP API.
package app

import (
	"context"
	"fmt"
	"time"

	"prayeralert/internal/config"
	"prayeralert/internal/ics"
	appLog "prayeralert/internal/log"
	"prayeralert/internal/meeting"
	"prayeralert/internal/model"
	"prayeralert/internal/notify"
	"prayeralert/internal/prayer"
	"prayeralert/internal/settings"
)

// SettingsStore loads and explicitly saves user preferences.
type SettingsStore interface {
	Load() (settings.Settings, error)
	Save(settings.Settings) error
}

// Deps are the pieces New would otherwise build from config. Tests inject
// them directly.
type Deps struct {
	Calculator prayer.Calculator
	Settings   SettingsStore
	Store      notify.Store
	Cache      *meeting.Cache // nil disables meeting awareness
	Now        func() time.Time
}

// App owns one notification manager and feeds it the upcoming prayers.
type App struct {
	cfg    *config.Config
	loc    *time.Location
	coords prayer.Coordinates
	calc   prayer.Calculator
	prefs  SettingsStore
	store  notify.Store
	cache  *meeting.Cache
	now    func() time.Time

	manager *notify.Manager
	closers []func() error
}

// New builds every dependency from cfg. configPath is where settings edits
// are saved.
func New(ctx context.Context, cfg *config.Config, configPath string) (*App, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	calc, err := prayer.NewCalculator(cfg.Calculation, loc)
	if err != nil {
		return nil, err
	}

	auth := notify.NewAuthorizer(true)
	store, closeStore, err := OpenStore(ctx, cfg.Store, auth)
	if err != nil {
		return nil, err
	}

	var cache *meeting.Cache
	if len(cfg.Calendar.ICS) > 0 {
		provider := ics.NewProvider(cfg.Calendar, loc)
		cache = meeting.NewCache(provider, meeting.WithObserver(notify.CacheMetrics{}))
	}

	a, err := NewWithDeps(ctx, cfg, Deps{
		Calculator: calc,
		Settings:   settings.NewFileStore(configPath, cfg),
		Store:      store,
		Cache:      cache,
	})
	if err != nil {
		closeStore()
		return nil, err
	}
	a.closers = append(a.closers, closeStore)
	return a, nil
}

// NewWithDeps builds an App around injected dependencies.
func NewWithDeps(ctx context.Context, cfg *config.Config, deps Deps) (*App, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	prefetch, err := time.ParseDuration(cfg.Notifications.PrefetchDelay)
	if err != nil {
		appLog.Warn("invalid prefetch_delay, using default", "value", cfg.Notifications.PrefetchDelay)
		prefetch = 0
	}

	a := &App{
		cfg: cfg,
		loc: loc,
		coords: prayer.Coordinates{
			Latitude:  cfg.Location.Latitude,
			Longitude: cfg.Location.Longitude,
		},
		calc:  deps.Calculator,
		prefs: deps.Settings,
		store: deps.Store,
		cache: deps.Cache,
		now:   now,
	}
	a.manager = notify.NewManager(ctx, deps.Store, deps.Cache, notify.ManagerOptions{
		AzanSound:     cfg.Notifications.AzanSound,
		PrefetchDelay: prefetch,
		Now:           now,
	})
	return a, nil
}

func (a *App) Location() *time.Location { return a.loc }
func (a *App) Store() notify.Store { return a.store }
func (a *App) Cache() *meeting.Cache { return a.cache }
func (a *App) Manager() *notify.Manager { return a.manager }
func (a *App) Now() time.Time { return a.now().In(a.loc) }

// Authorize requests alert permission; scheduling is a no-op until granted.
func (a *App) Authorize(ctx context.Context) error {
	status, err := a.manager.RequestAuthorization(ctx)
	if err != nil {
		return fmt.Errorf("request authorization: %w", err)
	}
	if status != notify.AuthAuthorized {
		appLog.Warn("notifications not authorized; alerts will not be scheduled", "status", string(status))
	}
	return nil
}

// Prayers returns the next occurrence of each prayer, sorted by time.
func (a *App) Prayers() ([]model.PrayerTime, error) {
	return prayer.Upcoming(a.calc, a.coords, a.cfg.Calculation.Method, a.Now())
}

// Refresh schedules alerts for the upcoming prayers with the current
// settings. It reports whether a scheduling task was started.
func (a *App) Refresh(force bool) (bool, error) {
	prayers, err := a.Prayers()
	if err != nil {
		return false, err
	}
	s, err := a.prefs.Load()
	if err != nil {
		return false, fmt.Errorf("load settings: %w", err)
	}
	return a.manager.Schedule(prayers, s, force), nil
}

// Settings returns the current preferences.
func (a *App) Settings() (settings.Settings, error) {
	return a.prefs.Load()
}

// UpdateSettings saves s and reschedules. The save happens before the
// schedule so a restart sees the same preferences.
func (a *App) UpdateSettings(s settings.Settings) error {
	if err := a.prefs.Save(s); err != nil {
		return err
	}
	if _, err := a.Refresh(false); err != nil {
		return err
	}
	return nil
}

// CancelAll drops every pending alert and the remembered schedule.
func (a *App) CancelAll(ctx context.Context) error {
	return a.manager.CancelAll(ctx)
}

// Wait blocks until background scheduling has finished.
func (a *App) Wait() {
	a.manager.Wait()
}

// Close releases the store backend.
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
