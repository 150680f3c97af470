package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sidekick/internal/model"
)

// sqlStore implements Store over database/sql. Queries are written with ?
// placeholders and rebound per dialect.
type sqlStore struct {
	baseStore
	dollar bool
	schema []string
}

func (s *sqlStore) rebind(query string) string {
	if !s.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (s *sqlStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	for _, stmt := range s.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) AppendState(ctx context.Context, state model.IntegratedState) (model.StateLogEntry, error) {
	ts := state.Timestamp
	if ts.IsZero() {
		ts = nowUTC()
	}
	entry := model.StateLogEntry{
		Timestamp:  fromUnix(unixSeconds(ts)),
		State:      state.State,
		Confidence: state.Confidence,
		Source:     state.Source,
		Reasoning:  state.Reasoning,
	}
	err := s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO state_log (ts, state, confidence, source, reasoning)
		VALUES (?, ?, ?, ?, ?) RETURNING id`),
		unixSeconds(ts), string(state.State), state.Confidence, string(state.Source), state.Reasoning,
	).Scan(&entry.ID)
	if err != nil {
		return model.StateLogEntry{}, fmt.Errorf("append state: %w", err)
	}
	return entry, nil
}

func (s *sqlStore) QueryRange(ctx context.Context, start, end time.Time, limit int) ([]model.StateLogEntry, error) {
	lo, hi := rangeBounds(start, end)
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, ts, state, confidence, source, reasoning FROM (
			SELECT id, ts, state, confidence, source, reasoning FROM state_log
			WHERE ts >= ? AND ts <= ? ORDER BY ts DESC, id DESC LIMIT ?
		) recent ORDER BY ts ASC, id ASC`),
		lo, hi, normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query state log: %w", err)
	}
	defer rows.Close()
	out := make([]model.StateLogEntry, 0)
	for rows.Next() {
		var e model.StateLogEntry
		var ts float64
		var state, source string
		if err := rows.Scan(&e.ID, &ts, &state, &e.Confidence, &source, &e.Reasoning); err != nil {
			return nil, err
		}
		e.Timestamp = fromUnix(ts)
		e.State = model.State(state)
		e.Source = model.Source(source)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqlStore) DailySummary(ctx context.Context, date string) (model.DailySummary, bool, error) {
	var statsJSON string
	var reportJSON sql.NullString
	var updated float64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT stats_json, report_json, updated_at FROM daily_summary WHERE date = ?`), date,
	).Scan(&statsJSON, &reportJSON, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DailySummary{}, false, nil
	}
	if err != nil {
		return model.DailySummary{}, false, fmt.Errorf("load daily summary: %w", err)
	}
	summary := model.DailySummary{Date: date, UpdatedAt: fromUnix(updated)}
	if err := json.Unmarshal([]byte(statsJSON), &summary.Stats); err != nil {
		return model.DailySummary{}, false, fmt.Errorf("decode daily stats: %w", err)
	}
	if reportJSON.Valid && reportJSON.String != "" && reportJSON.String != "null" {
		var report model.Report
		if err := json.Unmarshal([]byte(reportJSON.String), &report); err != nil {
			return model.DailySummary{}, false, fmt.Errorf("decode report: %w", err)
		}
		summary.Report = &report
	}
	return summary, true, nil
}

func (s *sqlStore) UpsertDailySummary(ctx context.Context, summary model.DailySummary) error {
	updated := summary.UpdatedAt
	if updated.IsZero() {
		updated = nowUTC()
	}
	var report any
	if summary.Report != nil {
		report = encodeJSON(summary.Report)
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO daily_summary (date, stats_json, report_json, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (date) DO UPDATE SET
			stats_json = excluded.stats_json,
			report_json = excluded.report_json,
			updated_at = excluded.updated_at`),
		summary.Date, encodeJSON(summary.Stats), report, unixSeconds(updated),
	)
	if err != nil {
		return fmt.Errorf("upsert daily summary: %w", err)
	}
	return nil
}

func (s *sqlStore) SaveNotification(ctx context.Context, n model.Notification) error {
	var action any
	if n.UserAction != nil {
		action = string(*n.UserAction)
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO notifications (id, ts, type, message, user_action) VALUES (?, ?, ?, ?, ?)`),
		n.ID, unixSeconds(n.Timestamp), string(n.Type), n.Message, action,
	)
	if err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	return nil
}

func (s *sqlStore) ListNotifications(ctx context.Context, start, end time.Time, limit int) ([]model.Notification, error) {
	lo, hi := rangeBounds(start, end)
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, ts, type, message, user_action FROM (
			SELECT id, ts, type, message, user_action FROM notifications
			WHERE ts >= ? AND ts <= ? ORDER BY ts DESC LIMIT ?
		) recent ORDER BY ts ASC`),
		lo, hi, normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	out := make([]model.Notification, 0)
	for rows.Next() {
		var n model.Notification
		var ts float64
		var kind string
		var action sql.NullString
		if err := rows.Scan(&n.ID, &ts, &kind, &n.Message, &action); err != nil {
			return nil, err
		}
		n.Timestamp = fromUnix(ts)
		n.Type = model.NotificationType(kind)
		if action.Valid && action.String != "" {
			a := model.UserAction(action.String)
			n.UserAction = &a
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *sqlStore) RecordUserAction(ctx context.Context, id string, action model.UserAction) error {
	if !action.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE notifications SET user_action = ? WHERE id = ?`), string(action), id)
	if err != nil {
		return fmt.Errorf("record user action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
