package browser

import "time"

const (
	DefaultCallTimeout = 10 * time.Second
	DefaultViewportW   = 1280
	DefaultViewportH   = 800
)

// Config controls how the browser is obtained.
type Config struct {
	// CDPURL attaches to an already running Chromium instead of launching one.
	CDPURL   string
	Headless bool
	// Install downloads the playwright driver and browsers before starting.
	Install bool
	// StartURLs are opened once the binding is in place.
	StartURLs []string
	// CallTimeout bounds a single page call when ctx has no deadline.
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	return c
}
