package timer

import (
	"errors"
	"time"

	"tabsleep/internal/tab"
)

const (
	// DefaultWarningThreshold is the remaining time at which the in-page
	// countdown appears.
	DefaultWarningThreshold = 60 * time.Second
	// DefaultStoreKey is the durable-store key holding the snapshot.
	DefaultStoreKey = "sleepTimers"
)

var ErrNotFound = errors.New("no timer for tab")

// Config controls the registry.
type Config struct {
	StoreKey         string
	WarningThreshold time.Duration
	// Now overrides the clock (tests). Nil means time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.StoreKey == "" {
		c.StoreKey = DefaultStoreKey
	}
	if c.WarningThreshold <= 0 {
		c.WarningThreshold = DefaultWarningThreshold
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Status is the externally visible state of one tab's timer.
type Status struct {
	Tab       tab.ID
	Active    bool
	EndTime   time.Time
	Remaining time.Duration
}

// RemainingSeconds is the remaining time in whole seconds (floor).
func (s Status) RemainingSeconds() int64 {
	return int64(s.Remaining / time.Second)
}

// View is a point-in-time copy of an entry, used to commit follow-up
// changes only if the entry has not changed since.
type View struct {
	Tab          tab.ID
	EndTime      time.Time
	WarningShown bool
	Gen          uint64
}

// Remaining returns max(0, EndTime-now).
func (v View) Remaining(now time.Time) time.Duration {
	return remaining(v.EndTime, now)
}

func remaining(end, now time.Time) time.Duration {
	d := end.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RestoreReport summarizes Restore.
type RestoreReport struct {
	Restored int
	Stale    int
}
