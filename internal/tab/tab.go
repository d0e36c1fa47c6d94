// Package tab defines the browser-tab model shared by the timer core and the
// actuators that act on real pages.
package tab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNotFound means the target tab no longer exists (closed by the user,
	// or never existed in this browser).
	ErrNotFound = errors.New("tab not found")
	// ErrNotScriptable means the tab exists but its page refuses script
	// execution (browser-internal pages, crashed renderers).
	ErrNotScriptable = errors.New("tab not scriptable")
)

// ID is an opaque, host-assigned tab identifier.
//
// On the wire it may arrive as a JSON number (browser tab ids) or a string
// (CDP target ids); both decode to the same ID.
type ID string

func (id ID) String() string { return string(id) }

func (id ID) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("tab id: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	return fmt.Errorf("tab id: not an integer: %s", n)
}

// Info describes a live tab.
type Info struct {
	ID    ID     `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Script is a function evaluated inside a tab's page context.
type Script struct {
	Name   string
	Source string
}

// Actuator closes tabs and runs scripts inside them.
//
// All calls are best-effort: ErrNotFound and ErrNotScriptable are expected
// outcomes, not failures of the actuator itself.
type Actuator interface {
	CloseTab(ctx context.Context, id ID) error
	RunInPage(ctx context.Context, id ID, script Script, args ...any) error
}

// Expected reports whether err is one of the expected "target gone" outcomes.
func Expected(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotScriptable)
}
