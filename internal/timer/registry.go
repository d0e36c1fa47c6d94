package timer

import (
	"context"
	"sort"
	"sync"
	"time"

	"tabsleep/internal/eventbus"
	"tabsleep/internal/storage"
	"tabsleep/internal/tab"
	logx "tabsleep/pkg/logx"
)

type entry struct {
	endTime      time.Time
	warningShown bool
	gen          uint64
}

// Registry maps tab ids to timers.
type Registry struct {
	cfg     Config
	log     logx.Logger
	act     tab.Actuator
	bus     eventbus.Bus
	persist *Persister

	mu     sync.Mutex
	timers map[tab.ID]*entry
	gen    uint64
	// stale holds restored ids whose deadline had already passed; the
	// scheduler closes them on its first tick.
	stale []tab.ID
}

func NewRegistry(cfg Config, st storage.Store, act tab.Actuator, log logx.Logger, bus eventbus.Bus) *Registry {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	r := &Registry{
		cfg:    cfg,
		log:    log,
		act:    act,
		bus:    bus,
		timers: map[tab.ID]*entry{},
	}
	r.persist = NewPersister(st, cfg.StoreKey, r.Snapshot, log.With(logx.String("sub", "persist")))
	return r
}

// Now returns the registry clock.
func (r *Registry) Now() time.Time { return r.cfg.Now() }

// WarningThreshold returns the configured countdown threshold.
func (r *Registry) WarningThreshold() time.Duration { return r.cfg.WarningThreshold }

// Persister exposes the snapshot writer (stats, explicit flushes).
func (r *Registry) Persister() *Persister { return r.persist }

func (r *Registry) nextGenLocked() uint64 {
	r.gen++
	return r.gen
}

// Set replaces any timer for id with a fresh one ending at endTime.
// An endTime in the past is accepted; the tab closes on the next tick.
func (r *Registry) Set(ctx context.Context, id tab.ID, endTime time.Time) {
	r.mu.Lock()
	_, existed := r.timers[id]
	r.mu.Unlock()
	if existed {
		// The previous timer may have left its countdown on the page.
		r.RemoveUI(ctx, id)
	}

	r.mu.Lock()
	_, replaced := r.timers[id]
	r.timers[id] = &entry{endTime: endTime, gen: r.nextGenLocked()}
	r.mu.Unlock()

	r.log.Info("timer set",
		logx.String("tab", id.String()),
		logx.Time("end", endTime),
		logx.Bool("replaced", replaced),
	)
	r.bus.Publish(eventbus.Event{Type: eventbus.TimerSet, Data: eventbus.TimerData{Tab: id.String(), EndTime: endTime.UnixMilli()}})
	r.flush(ctx)
}

// Cancel removes the timer for id and reports whether one existed.
func (r *Registry) Cancel(ctx context.Context, id tab.ID) bool {
	r.mu.Lock()
	_, ok := r.timers[id]
	delete(r.timers, id)
	r.mu.Unlock()
	if !ok {
		return false
	}

	r.log.Info("timer canceled", logx.String("tab", id.String()))
	r.bus.Publish(eventbus.Event{Type: eventbus.TimerCanceled, Data: eventbus.TimerData{Tab: id.String()}})
	r.flush(ctx)
	r.RemoveUI(ctx, id)
	return true
}

// Extend pushes the deadline of an existing timer by minutes. If the new
// remaining time is above the warning threshold, a shown countdown is
// dismissed. Returns ErrNotFound (and changes nothing) if no timer exists.
func (r *Registry) Extend(ctx context.Context, id tab.ID, minutes float64) (Status, error) {
	delta := time.Duration(minutes * float64(time.Minute))
	now := r.cfg.Now()

	r.mu.Lock()
	e, ok := r.timers[id]
	if !ok {
		r.mu.Unlock()
		return Status{Tab: id}, ErrNotFound
	}
	e.endTime = e.endTime.Add(delta)
	e.gen = r.nextGenLocked()
	rem := remaining(e.endTime, now)
	dismiss := e.warningShown && rem > r.cfg.WarningThreshold
	if dismiss {
		e.warningShown = false
	}
	st := Status{Tab: id, Active: true, EndTime: e.endTime, Remaining: rem}
	r.mu.Unlock()

	r.log.Info("timer extended",
		logx.String("tab", id.String()),
		logx.Duration("delta", delta),
		logx.Duration("remaining", rem),
	)
	r.bus.Publish(eventbus.Event{Type: eventbus.TimerExtended, Data: eventbus.TimerData{Tab: id.String(), EndTime: st.EndTime.UnixMilli()}})
	r.flush(ctx)
	if dismiss {
		r.RemoveUI(ctx, id)
	}
	return st, nil
}

// Get returns the timer status for id. Inactive when no timer exists.
func (r *Registry) Get(id tab.ID) Status {
	now := r.cfg.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.timers[id]
	if !ok {
		return Status{Tab: id}
	}
	return Status{Tab: id, Active: true, EndTime: e.endTime, Remaining: remaining(e.endTime, now)}
}

// List returns the status of every timer, ordered by tab id.
func (r *Registry) List() []Status {
	now := r.cfg.Now()
	r.mu.Lock()
	out := make([]Status, 0, len(r.timers))
	for id, e := range r.timers {
		out = append(out, Status{Tab: id, Active: true, EndTime: e.endTime, Remaining: remaining(e.endTime, now)})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Tab < out[j].Tab })
	return out
}

// Tabs returns the ids that currently have a timer.
func (r *Registry) Tabs() []tab.ID {
	r.mu.Lock()
	ids := make([]tab.ID, 0, len(r.timers))
	for id := range r.timers {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Snapshot returns the persisted form of the current timers.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(Snapshot, len(r.timers))
	for id, e := range r.timers {
		out[id.String()] = Record{EndTime: e.endTime.UnixMilli()}
	}
	return out
}

// Restore imports persisted timers at startup. Entries still in the future
// become fresh timers; expired ones are not imported and no tab is closed
// here. Their ids are queued for the scheduler's first tick (TakeStale).
func (r *Registry) Restore(snap Snapshot) RestoreReport {
	now := r.cfg.Now()
	var rep RestoreReport

	r.mu.Lock()
	for k, rec := range snap {
		id := tab.ID(k)
		end := rec.endTime()
		if !end.After(now) {
			r.stale = append(r.stale, id)
			rep.Stale++
			continue
		}
		r.timers[id] = &entry{endTime: end, gen: r.nextGenLocked()}
		rep.Restored++
	}
	r.mu.Unlock()

	for k, rec := range snap {
		if !rec.endTime().After(now) {
			continue
		}
		r.bus.Publish(eventbus.Event{Type: eventbus.TimerRestored, Data: eventbus.TimerData{Tab: k, EndTime: rec.EndTime}})
	}
	r.log.Info("timers restored", logx.Int("restored", rep.Restored), logx.Int("stale", rep.Stale))
	return rep
}

// TakeStale returns and clears the expired ids found by Restore.
// Ids that have since been given a new timer are skipped.
func (r *Registry) TakeStale() []tab.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]tab.ID, 0, len(r.stale))
	for _, id := range r.stale {
		if _, live := r.timers[id]; live {
			continue
		}
		out = append(out, id)
	}
	r.stale = nil
	return out
}

// Peek returns a view of the timer for id.
func (r *Registry) Peek(id tab.ID) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.timers[id]
	if !ok {
		return View{}, false
	}
	return View{Tab: id, EndTime: e.endTime, WarningShown: e.warningShown, Gen: e.gen}, true
}

// MarkWarning sets the countdown flag if the entry is unchanged since v.
func (r *Registry) MarkWarning(v View, shown bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.timers[v.Tab]
	if !ok || e.gen != v.Gen {
		return false
	}
	e.warningShown = shown
	return true
}

// ClaimExpired removes the timer for id if its deadline has passed at now.
// Exactly one caller can claim a given timer.
func (r *Registry) ClaimExpired(id tab.ID, now time.Time) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.timers[id]
	if !ok || e.endTime.After(now) {
		return View{}, false
	}
	delete(r.timers, id)
	return View{Tab: id, EndTime: e.endTime, WarningShown: e.warningShown, Gen: e.gen}, true
}

// Flush persists the current registry state.
func (r *Registry) Flush(ctx context.Context) error {
	return r.persist.Flush(ctx)
}

func (r *Registry) flush(ctx context.Context) {
	if err := r.persist.Flush(ctx); err != nil {
		// The in-memory registry stays authoritative; the next write retries.
		r.log.Warn("persist timers failed", logx.Err(err))
	}
}

// RemoveUI removes the countdown from the tab's page, best-effort.
func (r *Registry) RemoveUI(ctx context.Context, id tab.ID) {
	if r.act == nil {
		return
	}
	if err := r.act.RunInPage(ctx, id, tab.RemoveCountdown); err != nil {
		if tab.Expected(err) {
			r.log.Debug("countdown removal skipped", logx.String("tab", id.String()), logx.Err(err))
			return
		}
		r.log.Warn("countdown removal failed", logx.String("tab", id.String()), logx.Err(err))
	}
}
