package app

import (
	"fmt"
	"strings"
	"time"

	"tabsleep/internal/browser"
	"tabsleep/internal/config"
	"tabsleep/internal/scheduler"
	"tabsleep/internal/storage"
	"tabsleep/internal/timer"
	"tabsleep/internal/transport/httpapi"
	logx "tabsleep/pkg/logx"
)

func mapLogConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig returns the store config. An omitted section keeps timers
// in memory; driver "none" disables persistence entirely.
func mapStorageConfig(cfg *Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	case "none":
		return storage.Config{Driver: "none"}, nil
	case "file":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTimerConfig(cfg *Config) (timer.Config, error) {
	threshold, err := config.ParseDurationOrDefault("scheduler.warning_threshold", cfg.Scheduler.WarningThreshold, timer.DefaultWarningThreshold)
	if err != nil {
		return timer.Config{}, err
	}
	key := timer.DefaultStoreKey
	if cfg.Storage != nil && strings.TrimSpace(cfg.Storage.Key) != "" {
		key = strings.TrimSpace(cfg.Storage.Key)
	}
	return timer.Config{StoreKey: key, WarningThreshold: threshold}, nil
}

func mapSchedulerConfig(cfg *Config) (scheduler.Config, error) {
	if _, err := scheduler.ParseTick(cfg.Scheduler.Tick); err != nil {
		return scheduler.Config{}, fmt.Errorf("scheduler.tick: %w", err)
	}
	timeout, err := config.ParseDurationOrDefault("scheduler.action_timeout", cfg.Scheduler.ActionTimeout, scheduler.DefaultActionTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Tick: cfg.Scheduler.Tick, ActionTimeout: timeout}, nil
}

func mapBrowserConfig(cfg *Config) (browser.Config, error) {
	timeout, err := config.ParseDurationOrDefault("browser.call_timeout", cfg.Browser.CallTimeout, browser.DefaultCallTimeout)
	if err != nil {
		return browser.Config{}, err
	}
	for _, u := range cfg.Browser.StartURLs {
		if strings.TrimSpace(u) == "" {
			return browser.Config{}, fmt.Errorf("browser.start_urls: empty url")
		}
	}
	return browser.Config{
		CDPURL:      strings.TrimSpace(cfg.Browser.CDPURL),
		Headless:    cfg.Browser.Headless,
		Install:     cfg.Browser.Install,
		StartURLs:   cfg.Browser.StartURLs,
		CallTimeout: timeout,
	}, nil
}

func mapHTTPConfig(cfg *Config) (httpapi.Config, error) {
	h := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", h.WriteTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", h.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Enabled:       h.Enabled,
		Addr:          strings.TrimSpace(h.Addr),
		Token:         strings.TrimSpace(h.Token),
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// validate rejects a config before it is applied, at startup or on reload.
func validate(cfg *Config) error {
	if !logx.ValidLevel(cfg.Logging.Level) {
		return fmt.Errorf("logging.level: invalid %q", cfg.Logging.Level)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		return fmt.Errorf("logging.file.path is required when logging.file.enabled=true")
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTimerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapBrowserConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	return nil
}
