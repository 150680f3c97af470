package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS state_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts REAL NOT NULL,
		state TEXT NOT NULL,
		confidence REAL NOT NULL,
		source TEXT NOT NULL,
		reasoning TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_state_log_ts ON state_log(ts)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		ts REAL NOT NULL,
		type TEXT NOT NULL,
		message TEXT NOT NULL,
		user_action TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_ts ON notifications(ts)`,
	`CREATE TABLE IF NOT EXISTS daily_summary (
		date TEXT PRIMARY KEY,
		stats_json TEXT NOT NULL,
		report_json TEXT,
		updated_at REAL NOT NULL
	)`,
}

type sqliteStore struct {
	sqlStore
	memory bool
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:sidekick.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	memory := strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
	if memory {
		// every connection to :memory: opens a fresh database
		db.SetMaxOpenConns(1)
	}
	return &sqliteStore{sqlStore: sqlStore{baseStore: baseStore{db: db}, schema: sqliteSchema}, memory: memory}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	if !s.memory {
		if _, err := s.db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
			return err
		}
	}
	return s.sqlStore.Init(ctx)
}
