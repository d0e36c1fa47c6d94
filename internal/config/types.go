package config

// Config is the process configuration, decoded strictly from JSON or YAML.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Browser   BrowserConfig   `json:"browser"`
	HTTP      HTTPConfig      `json:"http"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls where timers survive restarts.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./tabsleep.db" }
//
// Omitting the section (or driver "memory") keeps timers in memory only.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	// Key is the store key holding the timer snapshot (default "sleepTimers").
	Key string `json:"key,omitempty"`
}

// SchedulerConfig controls the tick loop.
//
// Defaults: tick "1s", warning_threshold "60s", action_timeout "10s".
type SchedulerConfig struct {
	// Tick accepts a duration ("1s") or a cron spec with seconds.
	Tick             string `json:"tick,omitempty"`
	WarningThreshold string `json:"warning_threshold,omitempty"`
	ActionTimeout    string `json:"action_timeout,omitempty"`
}

// BrowserConfig selects the playwright browser.
//
// Enabled is a pointer so an omitted section still starts the browser.
type BrowserConfig struct {
	Enabled     *bool    `json:"enabled,omitempty"`
	Headless    bool     `json:"headless"`
	CDPURL      string   `json:"cdp_url,omitempty"`
	StartURLs   []string `json:"start_urls,omitempty"`
	Install     bool     `json:"install,omitempty"`
	CallTimeout string   `json:"call_timeout,omitempty"`
}

// IsEnabled reports the effective browser flag.
func (b BrowserConfig) IsEnabled() bool { return b.Enabled == nil || *b.Enabled }

// HTTPConfig controls the HTTP transport.
//
// Security note:
//   - Prefer binding to localhost (default "127.0.0.1:7878").
//   - A non-loopback addr requires a token or allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
