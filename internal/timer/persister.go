package timer

import (
	"context"
	"sync/atomic"
	"time"

	"tabsleep/internal/storage"
	logx "tabsleep/pkg/logx"
)

// Persister writes registry snapshots to the durable store, one write at a
// time, always from the registry state at the moment the write starts.
type Persister struct {
	store    storage.Store
	key      string
	snapshot func() Snapshot
	log      logx.Logger

	// sem admits a single writer; acquiring it honors ctx.
	sem chan struct{}

	requested atomic.Uint64
	// guarded by sem
	written uint64

	writes   atomic.Uint64
	failures atomic.Uint64
}

// PersistStats are counters for tests and debug output.
type PersistStats struct {
	Requested uint64
	Writes    uint64
	Failures  uint64
}

func NewPersister(st storage.Store, key string, snapshot func() Snapshot, log logx.Logger) *Persister {
	if log.IsZero() {
		log = logx.Nop()
	}
	if key == "" {
		key = DefaultStoreKey
	}
	return &Persister{
		store:    st,
		key:      key,
		snapshot: snapshot,
		log:      log,
		sem:      make(chan struct{}, 1),
	}
}

// Flush makes sure every mutation applied before the call is durable.
//
// If another caller's write started after this call's request, that write
// already covers it and Flush returns without writing again.
func (p *Persister) Flush(ctx context.Context) error {
	if p == nil || p.store == nil {
		return nil
	}
	seq := p.requested.Add(1)

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	if p.written >= seq {
		return nil
	}

	// Everything requested up to target is reflected in the snapshot below,
	// because requests are made after their mutation is applied.
	target := p.requested.Load()
	b, err := p.snapshot().Encode()
	if err != nil {
		p.failures.Add(1)
		return err
	}

	start := time.Now()
	if err := p.store.Set(ctx, p.key, b); err != nil {
		p.failures.Add(1)
		return err
	}
	p.written = target
	p.writes.Add(1)
	p.log.Trace("timers persisted", logx.Int("bytes", len(b)), logx.Duration("took", time.Since(start)))
	return nil
}

func (p *Persister) Stats() PersistStats {
	if p == nil {
		return PersistStats{}
	}
	return PersistStats{
		Requested: p.requested.Load(),
		Writes:    p.writes.Load(),
		Failures:  p.failures.Load(),
	}
}
