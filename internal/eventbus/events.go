package eventbus

// Timer lifecycle event types.
const (
	TimerSet       = "timer.set"
	TimerCanceled  = "timer.canceled"
	TimerExtended  = "timer.extended"
	TimerWarning   = "timer.warning"
	TimerWarnReset = "timer.warning_reset"
	TimerClosed    = "timer.closed"
	TimerRestored  = "timer.restored"
)

// TimerData is the payload of every timer.* event.
type TimerData struct {
	Tab     string `json:"tab"`
	EndTime int64  `json:"end_time_ms,omitempty"`
}
