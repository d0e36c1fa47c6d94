package logx

import (
	"strings"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// parseLevel accepts zerolog level names (any case) plus "warning".
// Empty or unknown names yield def.
func parseLevel(s string, def Level) Level {
	lv, ok := lookupLevel(s)
	if !ok || lv == zerolog.NoLevel {
		return def
	}
	return lv
}

func lookupLevel(s string) (Level, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return zerolog.NoLevel, true
	case "warning":
		return zerolog.WarnLevel, true
	}
	lv, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, false
	}
	switch lv {
	case zerolog.TraceLevel, zerolog.DebugLevel, zerolog.InfoLevel, zerolog.WarnLevel, zerolog.ErrorLevel:
		return lv, true
	}
	return zerolog.NoLevel, false
}

// ValidLevel reports whether s names a known level (empty means default).
func ValidLevel(s string) bool {
	_, ok := lookupLevel(s)
	return ok
}
