package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"tabsleep/internal/eventbus"
	"tabsleep/internal/tab"
	"tabsleep/internal/timer"
	logx "tabsleep/pkg/logx"
)

// Loop re-evaluates every timer once per tick.
type Loop struct {
	cfg  Config
	spec TickSpec
	reg  *timer.Registry
	act  tab.Actuator
	log  logx.Logger
	bus  eventbus.Bus
	warn *logx.Sampler

	// tickMu keeps a manual Tick from overlapping a cron tick.
	tickMu sync.Mutex
	ticks  atomic.Uint64

	mu     sync.Mutex
	c      *cron.Cron
	cancel context.CancelFunc
}

func New(cfg Config, reg *timer.Registry, act tab.Actuator, log logx.Logger, bus eventbus.Bus) (*Loop, error) {
	cfg = cfg.withDefaults()
	spec, err := ParseTick(cfg.Tick)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Loop{
		cfg:  cfg,
		spec: spec,
		reg:  reg,
		act:  act,
		log:  log,
		bus:  bus,
		warn: logx.NewSampler(log, 1, 5),
	}, nil
}

// Ticks returns the number of completed ticks.
func (l *Loop) Ticks() uint64 { return l.ticks.Load() }

// Tick runs one evaluation pass over every timer.
func (l *Loop) Tick(ctx context.Context) TickReport {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()
	defer l.ticks.Add(1)

	var rep TickReport
	if stale := l.reg.TakeStale(); len(stale) > 0 {
		l.closeStale(ctx, stale, &rep)
	}

	now := l.reg.Now()
	for _, id := range l.reg.Tabs() {
		if ctx.Err() != nil {
			break
		}
		rep.Checked++
		l.processSafe(ctx, id, now, &rep)
	}
	if rep.Shown+rep.Hidden+rep.Closed+rep.Failed > 0 {
		l.log.Debug("tick",
			logx.Int("checked", rep.Checked),
			logx.Int("shown", rep.Shown),
			logx.Int("hidden", rep.Hidden),
			logx.Int("closed", rep.Closed),
			logx.Int("failed", rep.Failed),
		)
	}
	return rep
}

// closeStale closes tabs whose restored timer had already expired.
func (l *Loop) closeStale(ctx context.Context, ids []tab.ID, rep *TickReport) {
	for _, id := range ids {
		rep.Stale++
		if err := l.call(ctx, func(ctx context.Context) error { return l.act.CloseTab(ctx, id) }); err != nil {
			l.actionFailed("close stale tab", id, err, rep)
			continue
		}
		l.log.Info("stale tab closed", logx.String("tab", id.String()))
		l.bus.Publish(eventbus.Event{Type: eventbus.TimerClosed, Data: eventbus.TimerData{Tab: id.String()}})
	}
	if err := l.reg.Flush(ctx); err != nil {
		l.log.Warn("persist after stale close failed", logx.Err(err))
	}
}

func (l *Loop) processSafe(ctx context.Context, id tab.ID, now time.Time, rep *TickReport) {
	defer func() {
		if r := recover(); r != nil {
			rep.Panics++
			l.log.Error("tab processing panicked",
				logx.String("tab", id.String()),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	l.process(ctx, id, now, rep)
}

func (l *Loop) process(ctx context.Context, id tab.ID, now time.Time, rep *TickReport) {
	v, ok := l.reg.Peek(id)
	if !ok {
		// Canceled after the tab list was taken.
		return
	}
	rem := v.Remaining(now)
	threshold := l.reg.WarningThreshold()

	switch {
	case rem <= threshold:
		if !v.WarningShown {
			if err := l.run(ctx, id, tab.ShowCountdown); err != nil {
				l.actionFailed("show countdown", id, err, rep)
				break
			}
			if !l.reg.MarkWarning(v, true) {
				// Changed while the script ran. The overlay is on the page
				// but unflagged, so nothing else would remove it.
				l.dropOrphanCountdown(ctx, id, now, rep)
				break
			}
			v.WarningShown = true
			rep.Shown++
			l.bus.Publish(eventbus.Event{Type: eventbus.TimerWarning, Data: eventbus.TimerData{Tab: id.String(), EndTime: v.EndTime.UnixMilli()}})
		}
		if v.WarningShown {
			secs := int64(rem / time.Second)
			if err := l.run(ctx, id, tab.UpdateCountdown, secs); err != nil {
				l.actionFailed("update countdown", id, err, rep)
			} else {
				rep.Updated++
			}
		}
	case v.WarningShown:
		if err := l.run(ctx, id, tab.RemoveCountdown); err != nil {
			l.actionFailed("remove countdown", id, err, rep)
		}
		// The flag is cleared even if removal failed; the page may be gone.
		if l.reg.MarkWarning(v, false) {
			rep.Hidden++
			l.bus.Publish(eventbus.Event{Type: eventbus.TimerWarnReset, Data: eventbus.TimerData{Tab: id.String(), EndTime: v.EndTime.UnixMilli()}})
		}
	}

	if rem > 0 {
		return
	}
	claimed, ok := l.reg.ClaimExpired(id, now)
	if !ok {
		return
	}
	if err := l.call(ctx, func(ctx context.Context) error { return l.act.CloseTab(ctx, id) }); err != nil {
		l.actionFailed("close tab", id, err, rep)
	} else {
		l.log.Info("tab closed", logx.String("tab", id.String()), logx.Time("end", claimed.EndTime))
	}
	rep.Closed++
	l.bus.Publish(eventbus.Event{Type: eventbus.TimerClosed, Data: eventbus.TimerData{Tab: id.String(), EndTime: claimed.EndTime.UnixMilli()}})
	if err := l.reg.Flush(ctx); err != nil {
		l.log.Warn("persist after close failed", logx.String("tab", id.String()), logx.Err(err))
	}
}

// dropOrphanCountdown removes a countdown injected for an entry that has
// since been canceled or pushed past the threshold. An entry still under the
// threshold is shown again by the next tick.
func (l *Loop) dropOrphanCountdown(ctx context.Context, id tab.ID, now time.Time, rep *TickReport) {
	cur, ok := l.reg.Peek(id)
	if ok && (cur.WarningShown || cur.Remaining(now) <= l.reg.WarningThreshold()) {
		return
	}
	if err := l.run(ctx, id, tab.RemoveCountdown); err != nil {
		l.actionFailed("remove countdown", id, err, rep)
		return
	}
	rep.Hidden++
}

func (l *Loop) run(ctx context.Context, id tab.ID, s tab.Script, args ...any) error {
	return l.call(ctx, func(ctx context.Context) error { return l.act.RunInPage(ctx, id, s, args...) })
}

func (l *Loop) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if l.act == nil {
		return fmt.Errorf("no actuator: %w", tab.ErrNotFound)
	}
	if l.cfg.ActionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.ActionTimeout)
		defer cancel()
	}
	return fn(ctx)
}

func (l *Loop) actionFailed(what string, id tab.ID, err error, rep *TickReport) {
	rep.Failed++
	if tab.Expected(err) {
		l.log.Debug(what+" skipped", logx.String("tab", id.String()), logx.Err(err))
		return
	}
	l.warn.Warn(what+" failed", logx.String("tab", id.String()), logx.Err(err))
}
