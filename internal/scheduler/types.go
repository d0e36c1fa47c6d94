package scheduler

import "time"

const (
	DefaultTick          = time.Second
	DefaultActionTimeout = 10 * time.Second
)

// Config controls the loop.
type Config struct {
	// Tick is a schedule string accepted by ParseTick ("1s", "@every 2s",
	// "*/2 * * * * *"). Empty means DefaultTick.
	Tick string
	// ActionTimeout bounds every actuator call made from a tick.
	// Zero means DefaultActionTimeout; negative disables the bound.
	ActionTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ActionTimeout == 0 {
		c.ActionTimeout = DefaultActionTimeout
	}
	return c
}

// TickReport counts what one tick did.
type TickReport struct {
	Checked int
	Shown   int
	Updated int
	Hidden  int
	Closed  int
	Stale   int
	Failed  int
	Panics  int
}
