package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"sidekick/internal/config"
	"sidekick/internal/model"
)

var (
	ErrNotFound      = errors.New("storage: not found")
	ErrInvalidAction = errors.New("storage: invalid user action")
)

// Store is the history log. Range queries are inclusive and return entries
// in ascending time order; when limit truncates, the newest entries win.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	AppendState(ctx context.Context, state model.IntegratedState) (model.StateLogEntry, error)
	QueryRange(ctx context.Context, start, end time.Time, limit int) ([]model.StateLogEntry, error)
	DailySummary(ctx context.Context, date string) (model.DailySummary, bool, error)
	UpsertDailySummary(ctx context.Context, summary model.DailySummary) error

	SaveNotification(ctx context.Context, n model.Notification) error
	ListNotifications(ctx context.Context, start, end time.Time, limit int) ([]model.Notification, error)
	RecordUserAction(ctx context.Context, id string, action model.UserAction) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	case "memory":
		return NewMemory(cfg.MemoryLimit), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnix(sec float64) time.Time {
	return time.Unix(0, int64(math.Round(sec*float64(time.Second)))).UTC()
}

// rangeBounds maps zero times to an open range.
func rangeBounds(start, end time.Time) (float64, float64) {
	lo, hi := 0.0, math.MaxFloat64
	if !start.IsZero() {
		lo = unixSeconds(start)
	}
	if !end.IsZero() {
		hi = unixSeconds(end)
	}
	return lo, hi
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > math.MaxInt32 {
		return math.MaxInt32
	}
	return limit
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
