package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "tabsleep/pkg/logx"
)

//go:embed migrations.sql
var schema string

const defaultBusyTimeout = time.Second

// sqliteStore keeps every key in one kv table. A single connection
// serializes writers; WAL keeps readers off the writer's lock.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	get *sql.Stmt
	set *sql.Stmt
}

// sqliteDSN builds a modernc.org/sqlite DSN with pragmas applied per connection.
func sqliteDSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, cfg.BusyTimeout))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := prepareSQLite(ctx, db, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite %s: %w", path, err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func prepareSQLite(ctx context.Context, db *sql.DB, log logx.Logger) (*sqliteStore, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	get, err := db.PrepareContext(ctx, `SELECT value FROM kv WHERE key = ?`)
	if err != nil {
		return nil, err
	}
	set, err := db.PrepareContext(ctx,
		`INSERT INTO kv(key, value, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if err != nil {
		_ = get.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log, get: get, set: set}, nil
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := errors.Join(s.get.Close(), s.set.Close(), s.db.Close())
	s.db = nil
	return err
}

func (s *sqliteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.db == nil {
		return nil, false, ErrClosed
	}
	var v []byte
	switch err := s.get.QueryRowContext(ctx, key).Scan(&v); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return v, true, nil
}

func (s *sqliteStore) Set(ctx context.Context, key string, value []byte) error {
	if s.db == nil {
		return ErrClosed
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("storage: empty key")
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.set.ExecContext(ctx, key, value, time.Now().UnixMilli())
	return err
}
