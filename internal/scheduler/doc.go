// Package scheduler runs the fixed-period tick that walks every timer and
// drives its page countdown and, at expiry, the tab close.
//
// The tick is the only time-based driver. There are no per-timer wake-ups;
// a process that was suspended simply catches up on the next tick.
package scheduler
