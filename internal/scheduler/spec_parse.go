package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// TickSpec is a parsed tick schedule in the form robfig/cron accepts.
type TickSpec struct {
	Cron  string
	Every time.Duration // zero for real cron expressions
}

// ParseTick parses a tick schedule.
//
// Supported forms:
//   - Interval duration: "1s", "2s" (anything under 1s is raised to 1s)
//   - "every:" or "interval:" prefixed duration
//   - Cron with optional seconds field: "*/2 * * * * *", "@every 2s"
//
// "cron:" forces cron parsing.
func ParseTick(raw string) (TickSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return everySpec(DefaultTick), nil
	}

	low := strings.ToLower(s)
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return TickSpec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return TickSpec{Cron: expr}, nil
	}
	for _, p := range []string{"every:", "interval:"} {
		if strings.HasPrefix(low, p) {
			return parseEvery(strings.TrimSpace(s[len(p):]))
		}
	}

	if strings.HasPrefix(low, "@every") {
		return parseEvery(strings.TrimSpace(s[len("@every"):]))
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return TickSpec{Cron: s}, nil
	}
	if _, err := time.ParseDuration(s); err == nil {
		return parseEvery(s)
	}
	return TickSpec{}, fmt.Errorf("invalid tick %q (use a duration like '1s' or a cron spec like '*/2 * * * * *')", raw)
}

func parseEvery(v string) (TickSpec, error) {
	if v == "" {
		return TickSpec{}, fmt.Errorf("interval required")
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return TickSpec{}, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	if d <= 0 {
		return TickSpec{}, fmt.Errorf("interval must be > 0")
	}
	if d < time.Second {
		d = time.Second
	}
	return everySpec(d), nil
}

func everySpec(d time.Duration) TickSpec {
	return TickSpec{Cron: "@every " + d.String(), Every: d}
}
