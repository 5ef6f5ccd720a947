// Package app assembles the monitor, its storage, the chat surface and the
// ops server, and owns their start, reload and shutdown order.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"sitewatch/internal/config"
	"sitewatch/internal/eventbus"
	"sitewatch/internal/metrics"
	"sitewatch/internal/monitor"
	"sitewatch/internal/notifier"
	"sitewatch/internal/ops"
	"sitewatch/internal/probe"
	rtsup "sitewatch/internal/runtime/supervisor"
	"sitewatch/internal/storage"
	"sitewatch/internal/task/engine"
	"sitewatch/internal/task/scheduler"
	kit "sitewatch/internal/transport"
	telegram "sitewatch/internal/transport/telegram/adapter"
	"sitewatch/internal/transport/telegram/router"
	"sitewatch/internal/watchbot"
	logx "sitewatch/pkg/logx"
	"sitewatch/pkg/systemd"
)

const (
	pruneJob     = "storage.prune"
	pruneTimeout = time.Minute
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	store   storage.Store
	adapter *telegram.Adapter

	engine *engine.Service
	sched  *scheduler.Service
	mon    *monitor.Engine
	notif  *notifier.Service
	met    *metrics.Metrics
	ops    *ops.Service
	router *router.Router

	// retention in nanoseconds; swapped on reload
	retention atomic.Int64
	prune     string
	startedAt time.Time

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	c, err := mapConfig(cfg)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.Component("telegram.adapter"))
	ad, err := telegram.New(c.adapter, bootLog)
	if err != nil {
		return nil, err
	}

	// Apply warns when the telegram sink is on without a target, so the
	// target is set before the sink is enabled.
	boot := c.logging
	boot.Telegram.Enabled = false
	logSvc, root := logx.New(boot, ad)
	logSvc.SetTelegramTarget(c.logChat, c.logging.Telegram.ThreadID)
	logSvc.Apply(c.logging)
	log := root.With(logx.Component("app"))

	bus := eventbus.New()

	openCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := storage.Open(openCtx, c.storage, root)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", c.storage.Driver))

	// each component tags its own records with logx.Component
	eng := engine.New(c.engine, root, bus)
	sched := scheduler.New(scheduler.Config{Enabled: true, Timezone: cfg.Monitor.Timezone}, eng, root)
	prober := probe.New(c.probe, root)
	mon := monitor.New(c.monitor, prober, store, sched, root, bus)

	notif := notifier.New(c.notifier, ad, root, bus)
	mon.OnAlert(func(ctx context.Context, a monitor.Alert) {
		if err := notif.Notify(ctx, notifier.AlertNotification(a)); err != nil {
			log.Warn("alert not queued", logx.Owner(a.OwnerID), logx.URL(a.URL), logx.Err(err))
		}
	})

	met := metrics.New(mon.Count)
	opsSvc := ops.New(c.ops, mon, met.Handler(), root)

	r := router.New(c.router, ad, cfg.Telegram.OwnerUserIDs, root)
	watchbot.New(c.bot, mon, root).Register(r)

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		engine:  eng,
		sched:   sched,
		mon:     mon,
		notif:   notif,
		met:     met,
		ops:     opsSvc,
		router:  r,
		updates: make(chan kit.Update, 256),
	}
	a.retention.Store(int64(c.retention))
	a.prune = c.prune
	return a, nil
}

// Done is closed when the app context is canceled by a fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.startedAt = time.Now()
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	// a reload is committed only when every component accepts its section
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := mapConfig(cfg)
		return err
	})

	a.engine.Start(runCtx)
	n, err := a.mon.Restore(runCtx)
	if err != nil {
		return fmt.Errorf("restore watches: %w", err)
	}

	if _, err := a.sched.AddSchedule(pruneJob, a.prune, pruneTimeout, a.pruneHistory); err != nil {
		return fmt.Errorf("schedule prune: %w", err)
	}
	a.sched.Start(runCtx)

	a.notif.Start(runCtx)
	a.sup.Go("metrics", func(c context.Context) error { return a.met.Run(c, a.bus) })
	a.ops.SetStatus(a.status)
	if err := a.ops.Start(runCtx); err != nil {
		// the monitor works without its HTTP surface
		a.log.Warn("ops server not started", logx.Err(err))
	}

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", func(c context.Context) error { return a.cfgm.Watch(c) })
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.Watchdog(c, a.log.With(logx.Component("systemd")))
	})

	systemd.Ready(a.log)
	systemd.Status(a.log, fmt.Sprintf("watching %d sites", n))
	a.log.Info("app started")
	return nil
}

func (a *App) pruneHistory(ctx context.Context) error {
	return a.mon.PruneHistory(ctx, time.Duration(a.retention.Load()))
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			next = cfg
		}
		// keep only the newest of a burst
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					next = newer
				}
			default:
				break drain
			}
		}
		a.apply(ctx, last, next)
		last = next
	}
}

func (a *App) apply(ctx context.Context, prev, cfg *config.Config) {
	sections, attrs := config.SummarizeChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(prev, cfg); len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("settings", restart))
	}

	c, err := mapConfig(cfg)
	if err != nil {
		a.log.Warn("config not applied", logx.Err(err))
		return
	}

	a.logs.SetTelegramTarget(c.logChat, c.logging.Telegram.ThreadID)
	a.logs.Apply(c.logging)

	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)
	a.mon.ApplyConfig(c.monitor)
	a.retention.Store(int64(c.retention))
	if c.prune != a.prune {
		// upsert re-arms the job under the same name
		if _, err := a.sched.AddSchedule(pruneJob, c.prune, pruneTimeout, a.pruneHistory); err != nil {
			a.log.Warn("prune schedule not changed", logx.Err(err))
		} else {
			a.prune = c.prune
		}
	}

	wasOn := a.notif.Enabled()
	a.notif.Apply(c.notifier)
	switch {
	case wasOn && !c.notifier.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !wasOn && c.notifier.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}

	a.ops.Reconfigure(ctx, c.ops)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	systemd.Stopping(a.log)
	a.sup.Cancel()

	var errs error
	// step bounds one shutdown stage so a stuck component cannot hold the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < limit {
				limit = rem
			}
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if err := a.logs.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}
