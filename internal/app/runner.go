package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	appLog "prayeralert/internal/log"
)

// Runner drives an App from cron: a periodic non-forced refresh, which is a
// no-op while nothing changed, and a daily forced rebuild of the one-shot
// alert set.
type Runner struct {
	app  *App
	cron *cron.Cron
}

func NewRunner(a *App, refreshSpec, rebuildSpec string) (*Runner, error) {
	c := cron.New(cron.WithLocation(a.Location()))

	if _, err := c.AddFunc(refreshSpec, func() { a.runJob("refresh", false) }); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", refreshSpec, err)
	}
	if _, err := c.AddFunc(rebuildSpec, func() { a.runJob("rebuild", true) }); err != nil {
		return nil, fmt.Errorf("invalid rebuild schedule %q: %w", rebuildSpec, err)
	}
	return &Runner{app: a, cron: c}, nil
}

func (a *App) runJob(name string, force bool) {
	started, err := a.Refresh(force)
	if err != nil {
		appLog.Error("cron job failed", err, "job", name)
		return
	}
	appLog.Debug("cron job done", "job", name, "started", started)
}

// Start runs one forced schedule immediately and then starts cron.
func (r *Runner) Start() {
	r.app.runJob("startup", true)
	r.cron.Start()
	appLog.Info("cron started", "entries", len(r.cron.Entries()))
}

// Stop stops cron and waits for running jobs or ctx.
func (r *Runner) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
