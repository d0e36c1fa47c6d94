package logx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "timer"))
	log.Info("timer set", String("tab", "7"), Int64("end_ms", 42))

	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if m["comp"] != "timer" || m["tab"] != "7" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["message"] != "timer set" {
		t.Fatalf("message = %v", m["message"])
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("ignored")
	if Nop().IsZero() {
		t.Fatal("Nop logger is not zero")
	}
}

func TestSamplerSuppresses(t *testing.T) {
	var buf bytes.Buffer
	s := NewSampler(NewWriter(&buf, "debug"), 0.001, 1)
	s.Warn("first")
	s.Warn("second")
	s.Warn("third")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 emitted line, got %d: %q", len(lines), buf.String())
	}
	if got := s.Suppressed(); got != 2 {
		t.Fatalf("Suppressed = %d, want 2", got)
	}
}

func TestValidLevel(t *testing.T) {
	for _, lv := range []string{"", "debug", "INFO", "warning"} {
		if !ValidLevel(lv) {
			t.Fatalf("ValidLevel(%q) = false", lv)
		}
	}
	if ValidLevel("loud") {
		t.Fatal("ValidLevel(loud) = true")
	}
}

func TestServiceApplyFollowsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	svc, log := New(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	log = log.With(String("comp", "test"))
	log.Info("hidden")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("shown")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line written at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, `"comp":"test"`) {
		t.Fatalf("debug line missing after Apply: %q", out)
	}
}

func TestErrFieldSkipsNil(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, "debug").Warn("x", Err(nil))
	if strings.Contains(buf.String(), `"err"`) {
		t.Fatalf("nil error logged: %q", buf.String())
	}
}
