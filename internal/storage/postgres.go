package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS state_log (
		id BIGSERIAL PRIMARY KEY,
		ts DOUBLE PRECISION NOT NULL,
		state TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		source TEXT NOT NULL,
		reasoning TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_state_log_ts ON state_log(ts)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		ts DOUBLE PRECISION NOT NULL,
		type TEXT NOT NULL,
		message TEXT NOT NULL,
		user_action TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_ts ON notifications(ts)`,
	`CREATE TABLE IF NOT EXISTS daily_summary (
		date TEXT PRIMARY KEY,
		stats_json JSONB NOT NULL,
		report_json JSONB,
		updated_at DOUBLE PRECISION NOT NULL
	)`,
}

type postgresStore struct {
	sqlStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/sidekick?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{sqlStore{baseStore: baseStore{db: db}, dollar: true, schema: postgresSchema}}, nil
}
