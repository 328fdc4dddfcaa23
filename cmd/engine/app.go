package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unityext/core/activity"
	"github.com/unityext/core/config"
	"github.com/unityext/core/host"
	"github.com/unityext/core/logging"
	"github.com/unityext/core/metrics"
	"github.com/unityext/core/schedule"
	"github.com/unityext/core/server"
	"github.com/unityext/core/statusreporter"
)

const flushTimeout = 10 * time.Second

// app wires the manager, the frame loop, the scheduler and the inspection
// server from one configuration.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	manager   *engineManager
	driver    *host.Driver
	launcher  *schedule.ActivityLauncher
	scheduler *schedule.Scheduler
	server    *server.Server
	push      *metrics.PushRegistry
	flusher   *schedule.Trigger
	statuses  *statusreporter.StatusReporter

	// unscheduled activities are started once when the app runs.
	unscheduled []*activity.Timer
}

// engineManager bundles the manager with the stores it feeds.
type engineManager struct {
	*activity.Manager
	profiler *activity.ProfileHandler
	history  *activity.History
	logs     *logging.LogCollector
}

func newApp(cfg config.Config, configPath string, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, statuses: statusreporter.New()}

	registry, scrape, err := a.newRegistry()
	if err != nil {
		return nil, err
	}

	em := &engineManager{
		profiler: activity.NewProfileHandler(),
		history:  activity.NewHistory(activity.DefaultHistorySize),
		logs:     logging.NewLogCollector(),
	}
	em.Manager, err = activity.NewManager(
		activity.WithLogger(logger),
		activity.WithAsyncTimeSlice(cfg.Engine.AsyncTimeSlice),
		activity.WithMaxThreads(cfg.Engine.MaxThreads),
		activity.WithWorkerSleep(cfg.Engine.WorkerSleep),
		activity.WithMaintenanceQueueSize(cfg.Engine.MaintenanceQueueSize),
		activity.WithMetrics(registry),
		activity.WithProfiler(em.profiler),
		activity.WithHistory(em.history),
		activity.WithLoggerHook(logging.NewCapturingLoggerHook(em.logs)),
		activity.WithRetainFinished(cfg.Engine.RetainFinished),
		activity.WithForgetters(a.statuses),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create manager: %w", err)
	}
	a.manager = em

	a.driver = host.NewDriver(em.Manager,
		host.WithLogger(logger),
		host.WithFrameInterval(cfg.Host.FrameInterval),
		host.WithFixedStep(cfg.Host.FixedStep),
		host.WithKeepAliveInterval(cfg.Host.KeepAliveInterval))

	if err := a.buildActivities(); err != nil {
		return nil, err
	}

	if cfg.Monitoring.ListenAddr != "" {
		opts := []server.Option{
			server.WithLogger(logger),
			server.WithListenAddr(cfg.Monitoring.ListenAddr),
			server.WithProfiles(em.profiler),
			server.WithHistory(em.history),
			server.WithLogs(em.logs),
			server.WithStatuses(a.statuses),
			server.WithShutdownTimeout(cfg.Host.ShutdownTimeout),
		}
		if configPath != "" {
			opts = append(opts, server.WithConfigPath(configPath))
		} else {
			opts = append(opts, server.WithConfig(&a.cfg))
		}
		if scrape != nil {
			opts = append(opts, server.WithMetricsHandler(scrape))
		}
		if a.scheduler != nil {
			opts = append(opts, server.WithSchedule(a.scheduler))
		}
		if cfg.Monitoring.ReloadUser != "" {
			opts = append(opts, server.WithReloadAuth(cfg.Monitoring.ReloadUser, cfg.Monitoring.ReloadPasswordHash))
		}
		if cfg.Monitoring.TLSCert != "" {
			opts = append(opts, server.WithTLS(cfg.Monitoring.TLSCert, cfg.Monitoring.TLSKey))
		}
		if a.server, err = server.New(em.Manager, opts...); err != nil {
			return nil, fmt.Errorf("failed to create server: %w", err)
		}
	}
	return a, nil
}

// newRegistry returns the push registry when a push URL is configured and a
// scrape registry with its handler otherwise.
func (a *app) newRegistry() (metrics.Registry, http.Handler, error) {
	mon := a.cfg.Monitoring
	if mon.PushURL == "" {
		reg, err := metrics.NewScrapeRegistry(metrics.WithNamespace(mon.MetricsPrefix))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create metrics registry: %w", err)
		}
		return reg, reg.Handler(), nil
	}

	instance, err := os.Hostname()
	if err != nil {
		instance = "unknown"
	}
	a.push = metrics.NewPushRegistry(metrics.PushConfig{
		URL:      mon.PushURL,
		Prefix:   mon.MetricsPrefix,
		Job:      mon.JobName,
		Instance: instance,
	})
	a.flusher, err = schedule.NewTrigger(mon.PushSchedule, a.flushMetrics, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("push schedule: %w", err)
	}
	return a.push, nil, nil
}

func (a *app) flushMetrics() error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	return a.push.Flush(ctx)
}

// buildActivities creates a timer per configured activity. Activities named
// in a schedule are left to the scheduler.
func (a *app) buildActivities() error {
	a.launcher = schedule.NewActivityLauncher()
	timers := make([]*activity.Timer, 0, len(a.cfg.Activities))
	for _, ac := range a.cfg.Activities {
		ctx, err := activity.ParseContext(ac.Context)
		if err != nil {
			return fmt.Errorf("activity %q: %w", ac.ID, err)
		}
		t := activity.NewTimer(ac.ID, ctx, ac.Duration, activity.WithManager(a.manager.Manager))
		line := a.statuses.Line(t.Activity)
		t.OnTick(func(t *activity.Timer) {
			line.Set(fmt.Sprintf("%d%%", int(t.Progress()*100)))
		})
		a.launcher.Add(t.Activity)
		timers = append(timers, t)
	}

	scheduled := make(map[string]bool)
	if strings.TrimSpace(a.cfg.Schedules) != "" {
		specs, err := schedule.ParseTriggerSpecs(a.cfg.Schedules, a.launcher.Names())
		if err != nil {
			return fmt.Errorf("schedules: %w", err)
		}
		for _, spec := range specs {
			for _, target := range spec.Targets {
				scheduled[target] = true
			}
		}
		if a.scheduler, err = schedule.NewScheduler(a.cfg.Schedules, a.launcher, a.logger); err != nil {
			return fmt.Errorf("schedules: %w", err)
		}
	}

	for _, t := range timers {
		if !scheduled[t.ID()] {
			a.unscheduled = append(a.unscheduled, t)
		}
	}
	return nil
}

// Run starts the unscheduled activities and drives everything until ctx is
// cancelled, then shuts the manager down.
func (a *app) Run(ctx context.Context) error {
	for _, t := range a.unscheduled {
		if !t.Start() {
			a.logger.Warn("activity not accepted", "activity", t.ID())
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.driver.Run(gctx)
	})
	if a.scheduler != nil {
		g.Go(func() error {
			return a.scheduler.Run(gctx)
		})
	}
	if a.flusher != nil {
		g.Go(func() error {
			a.flusher.Run(gctx)
			return nil
		})
	}
	if a.server != nil {
		g.Go(func() error {
			return a.server.Run(gctx)
		})
	}

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Host.ShutdownTimeout)
	defer cancel()
	if err := a.manager.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("manager shutdown failed", logging.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	if a.push != nil {
		if err := a.push.Flush(shutdownCtx); err != nil {
			a.logger.Warn("final metrics flush failed", logging.Error(err))
		}
	}
	a.logger.Info("engine stopped", "frames", a.driver.Frames())
	return runErr
}
