package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tabsleep/internal/browser"
	"tabsleep/internal/eventbus"
	"tabsleep/internal/router"
	"tabsleep/internal/scheduler"
	"tabsleep/internal/storage"
	"tabsleep/internal/tab"
	"tabsleep/internal/timer"
	"tabsleep/internal/transport/httpapi"
	logx "tabsleep/pkg/logx"
)

type App struct {
	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.Memory
	store storage.Store

	browser *browser.Actuator
	act     tab.Actuator

	reg    *timer.Registry
	router *router.Router
	loop   *scheduler.Loop
	http   *httpapi.Server

	startedAt time.Time
}

// Option adjusts NewApp. Used by tests and embedders.
type Option func(*options)

type options struct {
	act tab.Actuator
	now func() time.Time
}

// WithActuator replaces the playwright browser with act.
func WithActuator(act tab.Actuator) Option { return func(o *options) { o.act = act } }

// WithClock overrides the timer clock.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		log.Warn("storage disabled; timers will not survive a restart")
	}

	a := &App{cfgm: cfgm, log: log, logs: logSvc, bus: bus, store: store}
	if err := a.build(cfg, o); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *Config, o options) error {
	switch {
	case o.act != nil:
		a.act = o.act
	case cfg.Browser.IsEnabled():
		bc, err := mapBrowserConfig(cfg)
		if err != nil {
			return err
		}
		b, err := browser.Open(bc, a.log.With(logx.String("comp", "browser")))
		if err != nil {
			return fmt.Errorf("browser: %w", err)
		}
		a.browser, a.act = b, b
	default:
		a.log.Warn("browser disabled; timers expire without closing tabs")
	}

	tc, err := mapTimerConfig(cfg)
	if err != nil {
		return err
	}
	tc.Now = o.now
	a.reg = timer.NewRegistry(tc, a.store, a.act, a.log.With(logx.String("comp", "timer")), a.bus)

	snap, err := timer.LoadSnapshot(context.Background(), a.store, tc.StoreKey)
	if err != nil {
		// A corrupt or unreadable snapshot is not fatal; start empty.
		a.log.Warn("timer snapshot unusable; starting empty", logx.Err(err))
	}
	a.reg.Restore(snap)

	a.router = router.New(a.reg, a.log.With(logx.String("comp", "router")))
	if a.browser != nil {
		a.browser.SetHandler(a.router)
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	a.loop, err = scheduler.New(schedCfg, a.reg, a.act, a.log.With(logx.String("comp", "scheduler")), a.bus)
	if err != nil {
		return err
	}

	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		return err
	}
	deps := httpapi.Deps{Router: a.router, Timers: a.reg, Health: a.health}
	if tabs, ok := a.act.(httpapi.Tabs); ok {
		deps.Tabs = tabs
	}
	a.http = httpapi.New(hc, deps, a.log.With(logx.String("comp", "http")))
	return nil
}

// Router returns the message router (for embedders that bring their own
// transport).
func (a *App) Router() *router.Router { return a.router }

// Timers returns the timer registry.
func (a *App) Timers() *timer.Registry { return a.reg }

// HTTPAddr returns the bound HTTP address, or "" when the server is off.
func (a *App) HTTPAddr() string { return a.http.Addr() }

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

func (a *App) health() map[string]any {
	out := map[string]any{
		"timers":  a.reg.Len(),
		"ticks":   a.loop.Ticks(),
		"browser": a.act != nil,
		"persist": a.reg.Persister().Stats(),
	}
	pub, dropped := a.bus.Stats()
	out["events"] = map[string]uint64{"published": pub, "dropped": dropped}
	if !a.startedAt.IsZero() {
		out["uptime"] = time.Since(a.startedAt).Truncate(time.Second).String()
	}
	if a.sup != nil {
		out["goroutines"] = a.sup.Counters()
	}
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))
	a.startedAt = time.Now()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error { return validate(cfg) })

	if err := a.loop.Start(a.sup.Context()); err != nil {
		return err
	}
	a.http.Start(a.sup.Context())

	if a.browser != nil {
		a.sup.Go("browser.start_urls", func(c context.Context) error {
			a.browser.OpenStartURLs(c)
			return nil
		})
	}

	// Debug visibility into timer lifecycle events.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
				if d, ok := e.Data.(eventbus.TimerData); ok {
					fields = append(fields, logx.String("tab", d.Tab))
				}
				a.log.Debug("event", fields...)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				newCfg = drainLatest(sub, newCfg)
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("timers", a.reg.Len()),
		logx.Bool("browser", a.act != nil),
		logx.String("config", a.cfgm.Path()),
	)
	return nil
}

// drainLatest coalesces a burst of reloads into the newest one.
func drainLatest(ch <-chan *Config, cur *Config) *Config {
	for {
		select {
		case newer := <-ch:
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

// applyConfig applies the sections that can change live and warns about
// the rest.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *Config) {
	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if restart := RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if hc, err := mapHTTPConfig(newCfg); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.http.Reconfigure(ctx, hc)
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Stop ticking first so no tab is closed mid-shutdown.
	a.step(ctx, "scheduler", 3*time.Second, func(c context.Context) error { a.loop.Stop(c); return nil })
	a.sup.Cancel()
	a.step(ctx, "http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	a.step(ctx, "timers.flush", 2*time.Second, func(c context.Context) error { return a.reg.Flush(c) })
	a.step(ctx, "storage", 1*time.Second, func(c context.Context) error { return a.closeStore() })
	a.step(ctx, "browser", 3*time.Second, func(c context.Context) error { return a.closeBrowser() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
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
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func (a *App) closeBrowser() error {
	if a.browser == nil {
		return nil
	}
	err := a.browser.Close()
	a.browser = nil
	return err
}

// closeResources releases what NewApp opened when Start never ran.
func (a *App) closeResources() {
	_ = a.closeBrowser()
	_ = a.closeStore()
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
