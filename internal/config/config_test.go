package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"logging":{"level":"info"},"bogus":1}`))
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"logging":{}} {"logging":{}}`))
	if err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("expected trailing data error, got %v", err)
	}
}

func TestDecodeYAML(t *testing.T) {
	src := `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./t.db
scheduler:
  tick: 2s
  warning_threshold: 30s
browser:
  enabled: false
  start_urls: ["https://example.com"]
http:
  enabled: true
  addr: 127.0.0.1:9000
`
	cfg, err := Decode("c.yaml", []byte(src))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Scheduler.Tick != "2s" || cfg.Scheduler.WarningThreshold != "30s" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Browser.IsEnabled() || len(cfg.Browser.StartURLs) != 1 {
		t.Fatalf("browser = %+v", cfg.Browser)
	}
	if !cfg.HTTP.Enabled || cfg.HTTP.Addr != "127.0.0.1:9000" {
		t.Fatalf("http = %+v", cfg.HTTP)
	}
}

func TestDecodeYAMLUnknownField(t *testing.T) {
	if _, err := Decode("c.yml", []byte("scheduler:\n  tik: 1s\n")); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestBrowserEnabledDefault(t *testing.T) {
	var b BrowserConfig
	if !b.IsEnabled() {
		t.Fatal("omitted enabled should mean enabled")
	}
	off := false
	b.Enabled = &off
	if b.IsEnabled() {
		t.Fatal("explicit false ignored")
	}
}

func TestSummarizeConfigChangeHidesToken(t *testing.T) {
	oldCfg := &Config{HTTP: HTTPConfig{Enabled: true, Token: "secret-a"}}
	newCfg := &Config{HTTP: HTTPConfig{Enabled: true, Token: "secret-b"}, Scheduler: SchedulerConfig{Tick: "2s"}}

	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) != 2 || sections[0] != "scheduler" || sections[1] != "http" {
		t.Fatalf("sections = %v", sections)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if got := RestartRequired(sections); len(got) != 1 || got[0] != "scheduler" {
		t.Fatalf("RestartRequired = %v", got)
	}
}

func TestSummarizeConfigChangeNoop(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "info"}}
	sections, _ := SummarizeConfigChange(cfg, &Config{Logging: LoggingConfig{Level: "info"}})
	if len(sections) != 0 {
		t.Fatalf("sections = %v", sections)
	}
}

func TestParseDurationFields(t *testing.T) {
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative accepted")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("garbage accepted")
	}
	if d, err := ParseDurationOrDefault("x", "0s", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default: %v %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "90s", time.Minute); err != nil || d != 90*time.Second {
		t.Fatalf("explicit: %v %v", d, err)
	}
}

func TestLoadAndCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"scheduler":{"tick":"1s"}}`)

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if m.Get() != cfg || cfg.Scheduler.Tick != "1s" {
		t.Fatalf("Get mismatch: %+v", m.Get())
	}
}

func TestReloadSkipsUnchangedAndRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"scheduler":{"tick":"1s"}}`)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if m.reload(context.Background()) {
		t.Fatal("unchanged file published")
	}

	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Scheduler.Tick == "bad" {
			return os.ErrInvalid
		}
		return nil
	})
	writeFile(t, path, `{"scheduler":{"tick":"bad"}}`)
	if m.reload(context.Background()) {
		t.Fatal("rejected config published")
	}
	if m.Get().Scheduler.Tick != "1s" {
		t.Fatal("rejected config committed")
	}

	writeFile(t, path, `{"scheduler":{"tick":"3s"}}`)
	if !m.reload(context.Background()) {
		t.Fatal("changed config not published")
	}
	select {
	case got := <-ch:
		if got.Scheduler.Tick != "3s" {
			t.Fatalf("published %+v", got.Scheduler)
		}
	default:
		t.Fatal("subscriber got nothing")
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	m.publish(&Config{Scheduler: SchedulerConfig{Tick: "1s"}})
	m.publish(&Config{Scheduler: SchedulerConfig{Tick: "2s"}})
	if got := <-ch; got.Scheduler.Tick != "2s" {
		t.Fatalf("got %q, want newest", got.Scheduler.Tick)
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed on unsubscribe")
	}
}

func TestWatchPublishesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "scheduler:\n  tick: 1s\n")

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	// The watcher starts asynchronously; keep rewriting until it notices.
	for i := 0; ; i++ {
		select {
		case got := <-ch:
			if got.Scheduler.Tick != "5s" {
				t.Fatalf("published %+v", got.Scheduler)
			}
			cancel()
			<-done
			return
		case <-tick.C:
			writeFile(t, path, "scheduler:\n  tick: 5s\n"+strings.Repeat("#\n", i%2))
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
}
