package timer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tabsleep/internal/storage"
	"tabsleep/internal/tab"
	"tabsleep/internal/tab/tabtest"
	logx "tabsleep/pkg/logx"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock { return &fakeClock{now: time.UnixMilli(1_700_000_000_000)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T) (*Registry, *fakeClock, *tabtest.Actuator, storage.Store) {
	t.Helper()
	clk := newClock()
	act := tabtest.New()
	st := storage.NewMemory()
	r := NewRegistry(Config{Now: clk.Now}, st, act, logx.Nop(), nil)
	return r, clk, act, st
}

func storedSnapshot(t *testing.T, st storage.Store) Snapshot {
	t.Helper()
	snap, err := LoadSnapshot(context.Background(), st, DefaultStoreKey)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	return snap
}

func TestGetInactiveForUnknownTab(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	for _, id := range []tab.ID{"1", "2", "abc"} {
		if st := r.Get(id); st.Active || st.Remaining != 0 {
			t.Fatalf("Get(%s) = %+v, want inactive", id, st)
		}
	}
}

func TestSetThenGetRemaining(t *testing.T) {
	r, clk, _, st := newTestRegistry(t)
	ctx := context.Background()
	const T = 300 * time.Second

	r.Set(ctx, "1", clk.Now().Add(T))
	got := r.Get("1")
	if !got.Active {
		t.Fatal("expected active timer")
	}
	if got.Remaining > T || got.Remaining < T-time.Second {
		t.Fatalf("Remaining = %v, want within [%v, %v]", got.Remaining, T-time.Second, T)
	}
	if got.RemainingSeconds() != 300 {
		t.Fatalf("RemainingSeconds = %d", got.RemainingSeconds())
	}

	snap := storedSnapshot(t, st)
	if rec, ok := snap["1"]; !ok || rec.EndTime != clk.Now().Add(T).UnixMilli() {
		t.Fatalf("stored snapshot = %+v", snap)
	}
}

func TestSetReplacesExistingTimer(t *testing.T) {
	r, clk, act, _ := newTestRegistry(t)
	ctx := context.Background()

	r.Set(ctx, "1", clk.Now().Add(30*time.Second))
	v, _ := r.Peek("1")
	if !r.MarkWarning(v, true) {
		t.Fatal("MarkWarning on fresh view failed")
	}

	r.Set(ctx, "1", clk.Now().Add(10*time.Minute))
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	v2, _ := r.Peek("1")
	if v2.WarningShown {
		t.Fatal("replacement timer should start with warning hidden")
	}
	if v2.Gen == v.Gen {
		t.Fatal("replacement should bump generation")
	}
	if act.Count("1", tab.RemoveCountdown.Name) != 1 {
		t.Fatalf("expected one countdown removal, calls=%+v", act.Calls())
	}
}

func TestExtendMissingTimerMutatesNothing(t *testing.T) {
	r, _, act, st := newTestRegistry(t)
	_, err := r.Extend(context.Background(), "9", 5)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Extend err = %v, want ErrNotFound", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
	if _, ok, _ := st.Get(context.Background(), DefaultStoreKey); ok {
		t.Fatal("extend on missing timer should not write the store")
	}
	if len(act.Calls()) != 0 {
		t.Fatalf("unexpected actuator calls: %+v", act.Calls())
	}
}

func TestExtendPastThresholdDismissesWarning(t *testing.T) {
	r, clk, act, st := newTestRegistry(t)
	ctx := context.Background()

	r.Set(ctx, "1", clk.Now().Add(30*time.Second))
	v, _ := r.Peek("1")
	r.MarkWarning(v, true)

	got, err := r.Extend(ctx, "1", 5)
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if want := 330 * time.Second; got.Remaining != want {
		t.Fatalf("Remaining = %v, want %v", got.Remaining, want)
	}
	v2, _ := r.Peek("1")
	if v2.WarningShown {
		t.Fatal("warning should reset after extending past threshold")
	}
	if act.Count("1", tab.RemoveCountdown.Name) != 1 {
		t.Fatalf("expected countdown removal, calls=%+v", act.Calls())
	}
	if rec := storedSnapshot(t, st)["1"]; rec.EndTime != got.EndTime.UnixMilli() {
		t.Fatalf("stored end = %d, want %d", rec.EndTime, got.EndTime.UnixMilli())
	}
}

func TestExtendWithinThresholdKeepsWarning(t *testing.T) {
	r, clk, act, _ := newTestRegistry(t)
	ctx := context.Background()

	r.Set(ctx, "1", clk.Now().Add(10*time.Second))
	v, _ := r.Peek("1")
	r.MarkWarning(v, true)

	if _, err := r.Extend(ctx, "1", 0.5); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	v2, _ := r.Peek("1")
	if !v2.WarningShown {
		t.Fatal("warning should stay while remaining is under threshold")
	}
	if act.Count("1", tab.RemoveCountdown.Name) != 0 {
		t.Fatal("countdown should not be removed")
	}
}

func TestCancelRemovesAndPersists(t *testing.T) {
	r, clk, act, st := newTestRegistry(t)
	ctx := context.Background()

	r.Set(ctx, "1", clk.Now().Add(time.Hour))
	r.Set(ctx, "2", clk.Now().Add(time.Hour))
	if !r.Cancel(ctx, "1") {
		t.Fatal("Cancel of existing timer returned false")
	}
	if r.Cancel(ctx, "1") {
		t.Fatal("second Cancel should be a no-op")
	}
	if r.Get("1").Active {
		t.Fatal("timer still active after cancel")
	}
	snap := storedSnapshot(t, st)
	if _, ok := snap["1"]; ok || len(snap) != 1 {
		t.Fatalf("stored snapshot = %+v", snap)
	}
	if act.Count("1", tab.RemoveCountdown.Name) != 1 {
		t.Fatalf("expected one countdown removal, calls=%+v", act.Calls())
	}
}

func TestCancelToleratesGoneTab(t *testing.T) {
	r, clk, act, _ := newTestRegistry(t)
	ctx := context.Background()
	r.Set(ctx, "1", clk.Now().Add(time.Hour))
	act.Gone("1")
	if !r.Cancel(ctx, "1") {
		t.Fatal("Cancel should succeed even if the tab is gone")
	}
}

func TestRestoreSkipsExpiredWithoutClosing(t *testing.T) {
	r, clk, act, _ := newTestRegistry(t)
	now := clk.Now().UnixMilli()

	rep := r.Restore(Snapshot{
		"1": {EndTime: now + 300_000},
		"2": {EndTime: now - 1000},
	})
	if rep.Restored != 1 || rep.Stale != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if r.Len() != 1 || !r.Get("1").Active || r.Get("2").Active {
		t.Fatalf("unexpected registry after restore: %+v", r.List())
	}
	v, _ := r.Peek("1")
	if v.WarningShown {
		t.Fatal("restored timers start with warning hidden")
	}
	if len(act.Calls()) != 0 {
		t.Fatalf("restore must not touch tabs: %+v", act.Calls())
	}

	stale := r.TakeStale()
	if len(stale) != 1 || stale[0] != "2" {
		t.Fatalf("TakeStale = %v", stale)
	}
	if again := r.TakeStale(); len(again) != 0 {
		t.Fatalf("TakeStale twice = %v", again)
	}
}

func TestTakeStaleSkipsReusedTab(t *testing.T) {
	r, clk, _, _ := newTestRegistry(t)
	r.Restore(Snapshot{"2": {EndTime: clk.Now().UnixMilli() - 1}})
	r.Set(context.Background(), "2", clk.Now().Add(time.Hour))
	if stale := r.TakeStale(); len(stale) != 0 {
		t.Fatalf("TakeStale = %v, want none", stale)
	}
}

func TestMarkWarningRejectsStaleView(t *testing.T) {
	r, clk, _, _ := newTestRegistry(t)
	ctx := context.Background()
	r.Set(ctx, "1", clk.Now().Add(30*time.Second))
	v, _ := r.Peek("1")
	if _, err := r.Extend(ctx, "1", 10); err != nil {
		t.Fatal(err)
	}
	if r.MarkWarning(v, true) {
		t.Fatal("MarkWarning with a pre-extend view should be rejected")
	}
	r.Cancel(ctx, "1")
	if r.MarkWarning(v, true) {
		t.Fatal("MarkWarning on a removed entry should be rejected")
	}
}

func TestClaimExpiredOnce(t *testing.T) {
	r, clk, _, _ := newTestRegistry(t)
	ctx := context.Background()
	r.Set(ctx, "1", clk.Now().Add(time.Second))

	if _, ok := r.ClaimExpired("1", clk.Now()); ok {
		t.Fatal("claimed a timer before its deadline")
	}
	clk.Advance(time.Second)
	if _, ok := r.ClaimExpired("1", clk.Now()); !ok {
		t.Fatal("expected claim at deadline")
	}
	if _, ok := r.ClaimExpired("1", clk.Now()); ok {
		t.Fatal("timer claimed twice")
	}
}

type blockingStore struct {
	storage.Store
	release chan struct{}
	once    sync.Once
	entered chan struct{}
}

func (b *blockingStore) Set(ctx context.Context, key string, value []byte) error {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return b.Store.Set(ctx, key, value)
}

func TestPersisterCoalescesConcurrentFlushes(t *testing.T) {
	clk := newClock()
	bs := &blockingStore{Store: storage.NewMemory(), release: make(chan struct{}), entered: make(chan struct{})}
	r := NewRegistry(Config{Now: clk.Now}, bs, nil, logx.Nop(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Set(ctx, "0", clk.Now().Add(time.Hour))
	}()
	<-bs.entered

	const n = 10
	for i := 1; i <= n; i++ {
		id := tab.ID(string(rune('a' + i)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Set(ctx, id, clk.Now().Add(time.Hour))
		}()
	}
	deadline := time.Now().Add(2 * time.Second)
	for r.Persister().Stats().Requested < n+1 {
		if time.Now().After(deadline) {
			t.Fatal("flushers did not queue up")
		}
		time.Sleep(time.Millisecond)
	}
	close(bs.release)
	wg.Wait()

	stats := r.Persister().Stats()
	if stats.Writes > 2 {
		t.Fatalf("Writes = %d, want coalesced into at most 2", stats.Writes)
	}
	if got := storedSnapshot(t, bs); len(got) != n+1 {
		t.Fatalf("stored %d timers, want %d", len(got), n+1)
	}
}

type failingStore struct{ storage.Store }

func (failingStore) Set(context.Context, string, []byte) error { return errors.New("disk full") }

func TestPersistFailureKeepsTimerInMemory(t *testing.T) {
	clk := newClock()
	r := NewRegistry(Config{Now: clk.Now}, failingStore{storage.NewMemory()}, nil, logx.Nop(), nil)
	r.Set(context.Background(), "1", clk.Now().Add(time.Minute))
	if !r.Get("1").Active {
		t.Fatal("timer should be tracked even if persistence fails")
	}
	if r.Persister().Stats().Failures != 1 {
		t.Fatalf("Failures = %d", r.Persister().Stats().Failures)
	}
}

func TestZeroEndTimeSurvivesRestartAsStale(t *testing.T) {
	r, clk, _, st := newTestRegistry(t)
	ctx := context.Background()
	r.Set(ctx, "7", time.UnixMilli(0))
	if err := r.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	snap, err := LoadSnapshot(ctx, st, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := snap["7"]; !ok {
		t.Fatalf("zero end time not persisted: %+v", snap)
	}

	fresh := NewRegistry(Config{Now: clk.Now}, storage.NewMemory(), nil, logx.Nop(), nil)
	if rep := fresh.Restore(snap); rep.Stale != 1 || rep.Restored != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if stale := fresh.TakeStale(); len(stale) != 1 || stale[0] != "7" {
		t.Fatalf("TakeStale = %v", stale)
	}
}

func TestDecodeSnapshotTolerant(t *testing.T) {
	snap, err := DecodeSnapshot([]byte("not json"))
	if err == nil || len(snap) != 0 {
		t.Fatalf("DecodeSnapshot(garbage) = %v, %v", snap, err)
	}
	snap, err = DecodeSnapshot([]byte(`{"1":{"endTime":5},"2":{"endTime":0},"":{"endTime":9}}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 2 || snap["1"].EndTime != 5 || snap["2"].EndTime != 0 {
		t.Fatalf("DecodeSnapshot = %+v", snap)
	}
	if snap, err := LoadSnapshot(context.Background(), storage.NewMemory(), ""); err != nil || len(snap) != 0 {
		t.Fatalf("LoadSnapshot(empty) = %v, %v", snap, err)
	}
}
