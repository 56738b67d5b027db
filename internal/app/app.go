package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"schedbot/internal/bot"
	"schedbot/internal/config"
	"schedbot/internal/eventbus"
	"schedbot/internal/health"
	"schedbot/internal/monitor"
	rtsup "schedbot/internal/runtime/supervisor"
	"schedbot/internal/source"
	"schedbot/internal/subscribers"
	kit "schedbot/internal/transport"
	"schedbot/internal/transport/telegram/adapter"
	logx "schedbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config
	res  config.Resolved

	logs *logx.Service
	log  logx.Logger

	store   subscribers.Store
	src     *source.Client
	adapter *adapter.Adapter
	bus     eventbus.Bus
	mon     *monitor.Monitor
	bot     *bot.Bot
	health  *health.Server
	report  *statsReport
	notify  *sdNotifier

	updates chan kit.Update
	sup     *rtsup.Supervisor
}

// LogConfig maps the logging section onto the logging service.
func LogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// StoreConfig maps the storage section onto the subscriber store.
func StoreConfig(cfg *config.Config, res config.Resolved) (subscribers.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return subscribers.Config{}, err
	}
	return subscribers.Config{
		Driver:         cfg.Storage.Driver,
		Path:           cfg.Storage.Path,
		DSN:            cfg.Storage.DSN,
		BusyTimeout:    busy,
		MaxExtraGroups: res.MaxExtraGroups,
	}, nil
}

func SourceConfig(res config.Resolved) source.Config {
	return source.Config{URL: res.SourceURL, Timeout: res.SourceTimeout, UserAgent: res.UserAgent}
}

func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	res, err := config.Resolve(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve config: %w", err)
	}

	logs, log := logx.New(LogConfig(cfg), nil)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgm:    cfgm,
		cfg:     cfg,
		res:     res,
		logs:    logs,
		log:     log,
		bus:     eventbus.New(),
		updates: make(chan kit.Update, 256),
	}

	scfg, err := StoreConfig(cfg, res)
	if err != nil {
		return nil, err
	}
	a.store, err = subscribers.Open(ctx, scfg, log.With(logx.String("comp", "subscribers")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a.adapter, err = adapter.New(adapter.Config{Token: cfg.Telegram.Token, PollTimeout: res.PollTimeout},
		log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = a.store.Close()
		return nil, err
	}
	logs.SetSender(a.adapter)

	a.src = source.NewClient(SourceConfig(res), log.With(logx.String("comp", "source")))
	a.mon = monitor.New(monitor.Deps{
		Fetcher:   a.src,
		Store:     a.store,
		Sink:      a.adapter,
		Formatter: bot.FormatNotification,
		Bus:       a.bus,
	}, monitor.Config{
		Interval:     res.MonitorInterval,
		FetchTimeout: res.SourceTimeout,
		Workers:      res.MonitorWorkers,
		RatePerSec:   res.MonitorRate,
	}, log.With(logx.String("comp", "monitor")))

	a.bot = bot.New(bot.Deps{
		Adapter:  a.adapter,
		Store:    a.store,
		Fetcher:  a.src,
		Interval: a.mon.Interval,
	}, bot.Config{
		Cooldown:       res.CommandCooldown,
		MaxExtraGroups: res.MaxExtraGroups,
	}, log.With(logx.String("comp", "bot")))

	if res.HealthEnabled {
		var src health.StatusSource
		if res.MonitorEnabled {
			src = a.mon
		}
		a.health = health.New(res.HealthAddr, src, log.With(logx.String("comp", "health")),
			health.WithPprof(cfg.Health.Pprof))
	}
	if cfg.Report.Enabled {
		a.report, err = newStatsReport(cfg.Report.Spec, cfg.Report.Timezone, a.store, a.adapter,
			cfg.Telegram.OwnerUserIDs, log.With(logx.String("comp", "report")))
		if err != nil {
			_ = a.store.Close()
			return nil, err
		}
	}
	a.notify = newSDNotifier(cfg.Systemd.Notify, log.With(logx.String("comp", "systemd")))
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := config.Resolve(cfg)
		return err
	})
	a.logStartup(ctx)

	// subscribe before the monitor starts so the first cycle is seen
	events, unsub := a.bus.Subscribe(64)
	a.sup.Go0("events", func(c context.Context) {
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
				if a.health != nil {
					a.health.Record(e)
				}
				if e.Type == eventbus.TypeCycleDone {
					a.bot.Prime(a.mon.Last())
				}
			}
		}
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	mctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.adapter.UpdateMenuCommands(mctx, a.bot.MenuCommands()); err != nil {
		a.log.Warn("set menu commands failed", logx.Err(err))
	}
	cancel()

	a.sup.Go("bot", func(c context.Context) error {
		return a.bot.Run(c, a.updates)
	})
	if a.res.MonitorEnabled {
		a.sup.GoRestart("monitor", a.mon.Run, rtsup.WithRestartBackoff(time.Second, time.Minute))
	} else {
		a.log.Warn("monitor disabled via config")
	}
	if a.health != nil {
		a.sup.Go("health", a.health.Run)
	}
	if a.report != nil {
		a.sup.Go("report", a.report.Run)
	}

	// config reload fan-out (coalesced)
	a.sup.Go0("config.reload", func(c context.Context) {
		ch := a.cfgm.Subscribe(1)
		defer a.cfgm.Unsubscribe(ch)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-ch:
				if !ok {
					return
				}
				// coalesce bursts so only the latest config is applied
				for {
					select {
					case next, ok := <-ch:
						if !ok {
							return
						}
						newCfg = next
						continue
					default:
					}
					break
				}
				a.applyConfig(newCfg)
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.notify.Ready()
	a.sup.Go0("systemd.watchdog", a.notify.Watchdog)
	a.log.Info("app started")
	return nil
}

// Done is closed when a supervised component fails fatally.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) applyConfig(newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(a.cfg, newCfg)
	res, err := config.Resolve(newCfg)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}
	a.logs.Apply(LogConfig(newCfg))
	a.mon.SetInterval(res.MonitorInterval)
	a.bot.SetCooldown(res.CommandCooldown)

	var restart []string
	for _, s := range sections {
		if !config.LiveSections[s] {
			restart = append(restart, s)
		}
	}
	// only the interval and cooldown are applied live inside these sections
	if res.MonitorEnabled != a.res.MonitorEnabled || res.MonitorWorkers != a.res.MonitorWorkers || res.MonitorRate != a.res.MonitorRate {
		restart = append(restart, "monitor.enabled/workers/rate_per_sec")
	}
	if res.MaxExtraGroups != a.res.MaxExtraGroups {
		restart = append(restart, "limits.max_extra_groups")
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}
	a.cfg, a.res = newCfg, res

	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config applied", fields...)
	} else {
		a.log.Info("config applied (no changes)")
	}
}

func (a *App) logStartup(ctx context.Context) {
	fields := []logx.Field{
		logx.String("source", a.res.SourceURL),
		logx.Duration("interval", a.res.MonitorInterval),
		logx.String("storage", a.cfg.Storage.Driver),
		logx.Bool("health", a.res.HealthEnabled),
	}
	if st, err := a.store.Stats(ctx); err == nil {
		fields = append(fields,
			logx.Int("users", st.Users),
			logx.Int("subscribers", st.Subscribers),
		)
	} else {
		a.log.Warn("store stats failed", logx.Err(err))
	}
	a.log.Info("starting", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify.Stopping()
	a.sup.Cancel()

	// step bounds one shutdown step; it never extends the caller's deadline.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < limit {
				limit = rem
			}
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped (deadline)", logx.String("name", name))
			return
		}
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("adapter", 3*time.Second, a.adapter.Stop)
	step("supervisor", 5*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
