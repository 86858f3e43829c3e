package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"broadcastbot/internal/bot"
	"broadcastbot/internal/config"
	"broadcastbot/internal/eventbus"
	"broadcastbot/internal/services/broadcast"
	"broadcastbot/internal/services/scheduler"
	"broadcastbot/internal/session"
	"broadcastbot/internal/storage"
	kit "broadcastbot/internal/transport"
	telegram "broadcastbot/internal/transport/telegram/adapter"
	"broadcastbot/internal/transport/telegram/router"
	logx "broadcastbot/pkg/logx"
)

type App struct {
	cfgm *ConfigManager
	sup  *Supervisor
	sups *SupervisorRegistry

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter

	bc    *broadcast.Service
	sched *scheduler.Service
	bot   *bot.Bot
	cmdm  *router.CommandManager

	updates chan kit.Update
}

// latePruner lets the scheduler prune through the bot, which is built
// after the scheduler it depends on.
type latePruner struct{ b *bot.Bot }

func (p *latePruner) RemoveGroup(ctx context.Context, chatID int64) error {
	if p.b == nil {
		return errors.New("pruner not ready")
	}
	return p.b.RemoveGroup(ctx, chatID)
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validateConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Telegram logging starts disabled so Apply does not warn about a
	// missing target; the target is set first, then the final config applied.
	logCfg := mapLoggingConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	if chatID, ok := logTarget(cfg); ok {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	openCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	store, err := storage.Open(openCtx, sc, log.With(logx.String("comp", "storage")))
	cancel()
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	bcfg, err := mapBroadcastConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	rcfg, err := mapRouterConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ttl, err := mapSessionTTL(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()
	busLog := log.With(logx.String("comp", "eventbus"))
	bus.SetDropHandler(func(e eventbus.Event) {
		busLog.Warn("event dropped; subscriber is full", logx.String("type", e.Type), logx.Uint64("dropped", bus.Dropped()))
	})
	bc := broadcast.New(bcfg, ad, log.With(logx.String("comp", "broadcast")))
	pruner := &latePruner{}
	sched := scheduler.New(scfg, scheduler.Deps{
		Store:      store,
		Directory:  store,
		Pruner:     pruner,
		Dispatcher: bc,
		Bus:        bus,
		Log:        log.With(logx.String("comp", "scheduler")),
	})

	sups := NewSupervisorRegistry()
	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs, rcfg)
	b := bot.New(bot.Deps{
		Scheduler:   sched,
		Broadcaster: bc,
		Store:       store,
		Adapter:     ad,
		Owners:      cmdm.Owners,
		Sessions:    session.New[*bot.Wizard](ttl, cfg.Session.MaxSessions),
		Supervisors: sups,
		Log:         log.With(logx.String("comp", "bot")),
	})
	pruner.b = b
	cmdm.SetObserver(b.Observe)
	cmdm.SetFallback(b.Fallback)

	return &App{
		cfgm:    cfgm,
		sups:    sups,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		bc:      bc,
		sched:   sched,
		bot:     b,
		cmdm:    cmdm,
		updates: make(chan kit.Update, 256),
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

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))
	a.cmdm.SetSupervisors(a.sups, a.sup)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	// A failed restore is retried by the tick loop; it never stops startup.
	rctx, cancel := context.WithTimeout(a.sup.Context(), 30*time.Second)
	_, _ = a.sched.Restore(rctx)
	cancel()
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if sup := a.adapter.Supervisor(); sup != nil {
		a.sups.Set("telegram.adapter", sup)
	}

	a.cmdm.SetRegistry(a.bot.Commands(), a.bot.Callbacks())
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go("bot.events", func(c context.Context) error {
		return a.bot.Run(c, a.bus)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdogLoop(c, a.log.With(logx.String("comp", "systemd")))
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

// applyConfig pushes a committed config into the running components.
// Token, poll timeout, timezone and storage only change on restart.
func (a *App) applyConfig(oldCfg, newCfg *Config) {
	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if keys := config.RestartRequired(oldCfg, newCfg); len(keys) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("keys", keys))
	}

	if chatID, ok := logTarget(newCfg); ok {
		a.logs.SetTelegramTarget(chatID, newCfg.Logging.Telegram.ThreadID)
	} else {
		a.logs.SetTelegramTarget(0, 0)
	}
	a.logs.Apply(mapLoggingConfig(newCfg))

	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)

	if scfg, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else if err := a.sched.Apply(scfg); err != nil {
		a.log.Warn("scheduler maintenance not restarted", logx.Err(err))
	}
	if bcfg, err := mapBroadcastConfig(newCfg); err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
	} else {
		a.bc.Apply(bcfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// Cancelling the run context ends the dispatch loop, the tick loop and
	// polling right away; the steps below wait for them.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
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
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)))
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline",
					logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	step("adapter", 2*time.Second, a.adapter.Stop)
	step("scheduler", 10*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("bot", 5*time.Second, func(c context.Context) error { a.bot.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
