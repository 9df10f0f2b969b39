package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prayeralert/internal/app"
	"prayeralert/internal/config"
	appLog "prayeralert/internal/log"
	"prayeralert/internal/notify"
	"prayeralert/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	appLog.Info("prayeralert starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"method", conf.Calculation.Method,
		"madhab", conf.Calculation.Madhab,
		"latitude", conf.Location.Latitude,
		"longitude", conf.Location.Longitude,
		"refresh", conf.RefreshCron,
		"rebuild", conf.RebuildCron,
		"store", conf.Store.Backend,
		"ics_count", len(conf.Calendar.ICS),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	a, err := app.New(ctx, conf, flags.configPath)
	if err != nil {
		appLog.Error("failed to initialize", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Authorize(ctx); err != nil {
		appLog.Error("authorization failed", err)
		os.Exit(1)
	}

	if flags.once {
		runOnce(a)
		return
	}

	runner, err := app.NewRunner(a, conf.RefreshCron, conf.RebuildCron)
	if err != nil {
		appLog.Error("failed to set up cron", err)
		os.Exit(1)
	}
	runner.Start()

	dispatcher := notify.NewDispatcher(a.Store(), notify.LogDeliverer{}, 15*time.Second)
	dispatcher.Start(ctx)

	go func() {
		if err := web.StartServer(ctx, conf, a); err != nil {
			appLog.Error("HTTP server failed", err)
			cancel()
		}
	}()

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	runner.Stop(stopCtx)
	dispatcher.Stop()
	a.Wait()

	appLog.Info("prayeralert exiting")
}

// runOnce schedules the upcoming prayers a single time, waits for the commit
// and any meeting prefetch, and exits.
func runOnce(a *app.App) {
	started, err := a.Refresh(true)
	if err != nil {
		appLog.Error("schedule failed", err)
		os.Exit(1)
	}
	a.Wait()

	pending, err := a.Store().Pending(context.Background())
	if err != nil {
		appLog.Error("list pending failed", err)
		os.Exit(1)
	}
	appLog.Info("schedule finished", "started", started, "pending", len(pending))
	for _, bp := range pending {
		appLog.Info("pending alert",
			"id", bp.ID,
			"fire_at", bp.Trigger.FireAt.Format(time.RFC3339),
			"sound", bp.Content.Sound.String(),
		)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/prayeralert/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Schedule alerts once, print the pending set and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
