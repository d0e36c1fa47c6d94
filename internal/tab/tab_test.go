package tab

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestIDUnmarshalNumberAndString(t *testing.T) {
	tests := []struct {
		raw  string
		want ID
	}{
		{raw: `42`, want: "42"},
		{raw: `"42"`, want: "42"},
		{raw: `"A1B2C3"`, want: "A1B2C3"},
		{raw: `null`, want: ""},
	}
	for _, tt := range tests {
		var id ID
		if err := json.Unmarshal([]byte(tt.raw), &id); err != nil {
			t.Fatalf("Unmarshal(%s): %v", tt.raw, err)
		}
		if id != tt.want {
			t.Fatalf("Unmarshal(%s) = %q, want %q", tt.raw, id, tt.want)
		}
	}

	var id ID
	if err := json.Unmarshal([]byte(`1.5`), &id); err == nil {
		t.Fatal("expected error for fractional id")
	}
}

func TestExpected(t *testing.T) {
	if !Expected(fmt.Errorf("close 3: %w", ErrNotFound)) {
		t.Fatal("wrapped ErrNotFound should be expected")
	}
	if !Expected(ErrNotScriptable) {
		t.Fatal("ErrNotScriptable should be expected")
	}
	if Expected(errors.New("connection reset")) {
		t.Fatal("transport error should not be expected")
	}
}

func TestFormatRemaining(t *testing.T) {
	for in, want := range map[int64]string{0: "0:00", 59: "0:59", 60: "1:00", 359: "5:59", -3: "0:00"} {
		if got := FormatRemaining(in); got != want {
			t.Fatalf("FormatRemaining(%d) = %q, want %q", in, got, want)
		}
	}
}
