package timer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tabsleep/internal/storage"
	"tabsleep/internal/tab"
)

// Record is the persisted shadow of a timer.
type Record struct {
	EndTime int64 `json:"endTime"` // unix milliseconds
}

// Snapshot maps tab id (as string) to its record. It is the whole persisted
// value; there is no schema version.
type Snapshot map[string]Record

func (s Snapshot) Encode() ([]byte, error) {
	if s == nil {
		s = Snapshot{}
	}
	return json.Marshal(s)
}

// DecodeSnapshot parses a stored value. Entries with an empty tab id are
// dropped; a zero or negative end time is kept and restores as expired.
// On malformed input it returns an empty snapshot and the
// decode error, so callers can log it and continue.
func DecodeSnapshot(b []byte) (Snapshot, error) {
	out := Snapshot{}
	if len(b) == 0 {
		return out, nil
	}
	var raw map[string]Record
	if err := json.Unmarshal(b, &raw); err != nil {
		return out, fmt.Errorf("decode timer snapshot: %w", err)
	}
	for k, r := range raw {
		if tab.ID(k).IsZero() {
			continue
		}
		out[k] = r
	}
	return out, nil
}

// LoadSnapshot reads the snapshot stored under key. A nil store or a missing
// key yields an empty snapshot.
func LoadSnapshot(ctx context.Context, st storage.Store, key string) (Snapshot, error) {
	if st == nil {
		return Snapshot{}, nil
	}
	if key == "" {
		key = DefaultStoreKey
	}
	b, ok, err := st.Get(ctx, key)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load timer snapshot: %w", err)
	}
	if !ok {
		return Snapshot{}, nil
	}
	return DecodeSnapshot(b)
}

func (r Record) endTime() time.Time { return time.UnixMilli(r.EndTime) }
