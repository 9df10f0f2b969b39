package notify

import (
	"context"
	"sync"
	"time"

	appLog "prayeralert/internal/log"
)

// MaxLateness is how late an alert may still be delivered; older ones are
// dropped as stale.
const MaxLateness = time.Hour

// Deliverer presents one alert to the user.
type Deliverer interface {
	Deliver(ctx context.Context, bp Blueprint) error
}

// LogDeliverer writes alerts to the application log.
type LogDeliverer struct{}

func (LogDeliverer) Deliver(_ context.Context, bp Blueprint) error {
	appLog.Info("ALERT",
		"id", bp.ID,
		"title", bp.Content.Title,
		"body", bp.Content.Body,
		"sound", bp.Content.Sound.String(),
	)
	return nil
}

// Dispatcher polls the pending store and delivers alerts whose trigger has
// passed. Delivered one-shot alerts are removed from the store.
type Dispatcher struct {
	store     Store
	deliverer Deliverer
	interval  time.Duration
	now       func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatchClock replaces time.Now.
func WithDispatchClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(store Store, deliverer Deliverer, interval time.Duration, opts ...DispatcherOption) *Dispatcher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	d := &Dispatcher{
		store:     store,
		deliverer: deliverer,
		interval:  interval,
		now:       time.Now,
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start runs the polling loop until ctx is done or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		appLog.Info("dispatcher started", "interval", d.interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopChan:
				return
			case <-ticker.C:
				d.DispatchDue(ctx)
			}
		}
	}()
}

// Stop ends the loop and waits for it to exit.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopChan) })
	<-d.done
}

// DispatchDue delivers every due alert once and returns how many were
// delivered.
func (d *Dispatcher) DispatchDue(ctx context.Context) int {
	pending, err := d.store.Pending(ctx)
	if err != nil {
		appLog.Error("dispatcher: list pending failed", err)
		return 0
	}

	now := d.now()
	var (
		done      []Blueprint
		delivered int
	)
	for _, bp := range pending {
		at := bp.Trigger.FireAt
		if at.After(now) {
			// sorted by fire time
			break
		}
		if now.Sub(at) > MaxLateness {
			appLog.Warn("dropping stale alert", "id", bp.ID, "fire_at", at)
		} else if err := d.deliverer.Deliver(ctx, bp); err != nil {
			appLog.Error("deliver alert failed", err, "id", bp.ID)
			continue
		} else {
			delivered++
			AlertsDispatched.WithLabelValues(string(bp.Content.Sound.Kind)).Inc()
		}
		if !bp.Trigger.Repeats {
			done = append(done, bp)
		}
	}

	// A commit may have replaced an alert while it was being delivered; only
	// the occurrence that was handled here is removed.
	if len(done) > 0 {
		if err := d.store.RemoveIfUnchanged(ctx, done); err != nil {
			appLog.Error("dispatcher: remove delivered failed", err, "count", len(done))
		}
	}
	return delivered
}
