// Package tabtest provides an in-memory tab.Actuator for tests.
package tabtest

import (
	"context"
	"fmt"
	"sync"

	"tabsleep/internal/tab"
)

// Call records one actuator invocation.
type Call struct {
	Tab    tab.ID
	Op     string // "close" or the script name
	Args   []any
	Failed bool
}

// Actuator is a fake actuator. Tabs are "open" unless marked Gone; calls on
// gone tabs fail with tab.ErrNotFound.
type Actuator struct {
	mu    sync.Mutex
	gone  map[tab.ID]bool
	calls []Call

	// Hook, if set, runs before every call outside the fake's lock.
	Hook func(c Call)
}

func New() *Actuator {
	return &Actuator{gone: map[tab.ID]bool{}}
}

// Gone marks a tab as closed.
func (a *Actuator) Gone(id tab.ID) {
	a.mu.Lock()
	a.gone[id] = true
	a.mu.Unlock()
}

func (a *Actuator) CloseTab(ctx context.Context, id tab.ID) error {
	return a.record(ctx, Call{Tab: id, Op: "close"}, true)
}

func (a *Actuator) RunInPage(ctx context.Context, id tab.ID, script tab.Script, args ...any) error {
	return a.record(ctx, Call{Tab: id, Op: script.Name, Args: args}, false)
}

func (a *Actuator) record(ctx context.Context, c Call, closing bool) error {
	if a.Hook != nil {
		a.Hook(c)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	if a.gone[c.Tab] {
		c.Failed = true
		err = fmt.Errorf("%s on %s: %w", c.Op, c.Tab, tab.ErrNotFound)
	} else if closing {
		a.gone[c.Tab] = true
	}
	a.calls = append(a.calls, c)
	return err
}

// Calls returns a copy of every recorded call.
func (a *Actuator) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Call(nil), a.calls...)
}

// Count returns how many calls of op were made for id.
func (a *Actuator) Count(id tab.ID, op string) int {
	n := 0
	for _, c := range a.Calls() {
		if c.Tab == id && c.Op == op {
			n++
		}
	}
	return n
}

// Last returns the most recent call for id, if any.
func (a *Actuator) Last(id tab.ID) (Call, bool) {
	calls := a.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Tab == id {
			return calls[i], true
		}
	}
	return Call{}, false
}

// Reset drops recorded calls.
func (a *Actuator) Reset() {
	a.mu.Lock()
	a.calls = nil
	a.mu.Unlock()
}
