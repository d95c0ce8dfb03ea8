package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"giveawaybot/internal/config"
	"giveawaybot/internal/eventbus"
	gw "giveawaybot/internal/giveaway"
	"giveawaybot/internal/metrics"
	"giveawaybot/internal/observability/httpserver"
	rtsup "giveawaybot/internal/runtime/supervisor"
	"giveawaybot/internal/storage"
	"giveawaybot/internal/task/engine"
	"giveawaybot/internal/task/scheduler"
	kit "giveawaybot/internal/transport"
	telegram "giveawaybot/internal/transport/telegram/adapter"
	"giveawaybot/internal/transport/telegram/router"
	logx "giveawaybot/pkg/logx"
	gwplugin "giveawaybot/plugins/giveaway"
	"giveawaybot/plugins/system"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	router  *router.Router
	sups    *router.SupervisorRegistry

	giveaways *gw.Service
	engine    *engine.Service
	sched     *scheduler.Service

	gwPlugin  *gwplugin.Plugin
	sysPlugin *system.Plugin

	metrics *metrics.Collector
	http    *httpserver.Service

	updates chan kit.Update
}

// New loads the config and builds every service. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	rt, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("info").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: rt.PollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	// The adapter is the Telegram log sink; the log chat comes from config.
	logs, log := logx.New(mapLogConfig(cfg), ad)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	store, err := OpenStore(ctx, cfg, log)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	giveaways := gw.NewService(store, log.With(logx.String("comp", "giveaway")), bus)
	eng := engine.New(mapEngineConfig(rt), log.With(logx.String("comp", "taskengine")), bus)
	sched := scheduler.New(mapSchedulerConfig(rt), eng, store, log.With(logx.String("comp", "scheduler")), bus)
	sched.SetTerminator(giveaways)
	giveaways.SetScheduler(sched)

	gwp := gwplugin.New(mapGiveawayConfig(rt), gwplugin.Deps{
		Service: giveaways,
		Adapter: ad,
		Audit:   store,
		Logger:  log,
	})
	giveaways.SetAnnouncer(gwp)
	sched.SetDeadLetter(gwp.DeadLetter)

	sups := router.NewSupervisorRegistry()
	_, botUsername := ad.Me()
	r := router.New(router.Config{
		BotUsername:    botUsername,
		Owners:         cfg.Telegram.OwnerUserIDs,
		Workers:        rt.RouterWorkers,
		DefaultTimeout: rt.HandlerTimeout,
	}, ad, log.With(logx.String("comp", "router")), sups)

	sysp := system.New(system.Deps{
		Scheduler:   sched.Snapshot,
		Supervisors: sups,
		Store:       store,
		Logger:      log,
		StartedAt:   time.Now(),
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.New(reg, metrics.Gauges{ArmedTimers: sched.Armed, Engine: eng.Snapshot}, log.With(logx.String("comp", "metrics")))
	hs := httpserver.New(mapHTTPConfig(cfg, rt), reg, func(ctx context.Context) (any, error) {
		return sysp.Report(ctx)
	}, log)

	return &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logs,
		bus:       bus,
		store:     store,
		adapter:   ad,
		router:    r,
		sups:      sups,
		giveaways: giveaways,
		engine:    eng,
		sched:     sched,
		gwPlugin:  gwp,
		sysPlugin: sysp,
		metrics:   mc,
		http:      hs,
		updates:   make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start brings services up in dependency order. Active giveaways are
// recovered before polling starts so no press reaches an unarmed giveaway.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	a.engine.Start(runCtx)
	a.sups.Set("task.engine", a.engine.Supervisor())

	n, err := a.sched.RecoverAll(runCtx)
	if err != nil {
		return err
	}
	if err := a.sched.Start(runCtx); err != nil {
		return err
	}
	a.log.Info("giveaways recovered", logx.Int("active", n))

	a.router.SetRegistry(runCtx,
		append(a.gwPlugin.Commands(), a.sysPlugin.Commands()...),
		a.gwPlugin.Callbacks(),
	)
	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.sups.Set("telegram.adapter", a.adapter.Supervisor())

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go("metrics", func(c context.Context) error {
		return a.metrics.Run(c, a.bus)
	})

	a.http.Start(runCtx)
	if sup := a.http.Supervisor(); sup != nil {
		a.sups.Set("http", sup)
	}

	a.startEventLog()
	a.startReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started")
	return nil
}

// startEventLog mirrors bus traffic into the debug log.
func (a *App) startEventLog() {
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
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		var cancel context.CancelFunc
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					limit = 0
				} else if rem < limit {
					limit = rem
				}
			}
			if limit > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, limit)
				defer cancel()
			}
		}

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
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			elapsed := time.Since(start)
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", elapsed),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Polling stops first so no new giveaway is created while timers are
	// being disarmed. Active giveaways stay in the store for the next start.
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("http", 1*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
