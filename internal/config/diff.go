package config

import (
	"reflect"
	"strings"

	logx "tabsleep/pkg/logx"
)

// Sections whose changes are applied without a restart.
var liveSections = map[string]bool{"logging": true, "http": true}

// SummarizeConfigChange returns the changed sections and safe structured
// fields for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)))
		}
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.tick", newCfg.Scheduler.Tick),
			logx.String("scheduler.warning_threshold", newCfg.Scheduler.WarningThreshold),
		)
	}

	if !reflect.DeepEqual(oldCfg.Browser, newCfg.Browser) {
		changed = append(changed, "browser")
		attrs = append(attrs,
			logx.Bool("browser.enabled", newCfg.Browser.IsEnabled()),
			logx.Bool("browser.headless", newCfg.Browser.Headless),
			logx.Bool("browser.cdp", strings.TrimSpace(newCfg.Browser.CDPURL) != ""),
		)
	}

	oh, nh := oldCfg.HTTP, newCfg.HTTP
	tokenChanged := oh.Token != nh.Token
	oh.Token, nh.Token = "", ""
	if tokenChanged || oh != nh {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
		)
	}
	return changed, attrs
}

// RestartRequired filters sections that only take effect after a restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		if !liveSections[s] {
			out = append(out, s)
		}
	}
	return out
}
