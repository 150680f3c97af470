package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sidekick/internal/model"
)

// memoryStore keeps the newest limit entries and notifications in ring
// buffers. Nothing survives a restart.
type memoryStore struct {
	mu            sync.RWMutex
	limit         int
	nextID        int64
	entries       []model.StateLogEntry
	notifications []model.Notification
	summaries     map[string]model.DailySummary
}

func NewMemory(limit int) Store {
	if limit <= 0 {
		limit = 100000
	}
	return &memoryStore{limit: limit, summaries: make(map[string]model.DailySummary)}
}

func (s *memoryStore) Init(ctx context.Context) error { return nil }

func (s *memoryStore) Close() error { return nil }

func appendRing[T any](buf []T, v T, limit int) []T {
	if len(buf) < limit {
		return append(buf, v)
	}
	copy(buf, buf[1:])
	buf[len(buf)-1] = v
	return buf
}

func (s *memoryStore) AppendState(ctx context.Context, state model.IntegratedState) (model.StateLogEntry, error) {
	ts := state.Timestamp
	if ts.IsZero() {
		ts = nowUTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry := model.StateLogEntry{
		ID:         s.nextID,
		Timestamp:  ts.UTC(),
		State:      state.State,
		Confidence: state.Confidence,
		Source:     state.Source,
		Reasoning:  state.Reasoning,
	}
	s.entries = appendRing(s.entries, entry, s.limit)
	if n := len(s.entries); n > 1 && entry.Timestamp.Before(s.entries[n-2].Timestamp) {
		sort.SliceStable(s.entries, func(i, j int) bool {
			return s.entries[i].Timestamp.Before(s.entries[j].Timestamp)
		})
	}
	return entry, nil
}

func inRange(ts, start, end time.Time) bool {
	if !start.IsZero() && ts.Before(start) {
		return false
	}
	if !end.IsZero() && ts.After(end) {
		return false
	}
	return true
}

func newest[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[len(in)-limit:]
	}
	return in
}

func (s *memoryStore) QueryRange(ctx context.Context, start, end time.Time, limit int) ([]model.StateLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.StateLogEntry, 0)
	for _, e := range s.entries {
		if inRange(e.Timestamp, start, end) {
			out = append(out, e)
		}
	}
	return newest(out, limit), nil
}

func (s *memoryStore) DailySummary(ctx context.Context, date string) (model.DailySummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary, ok := s.summaries[date]
	return summary, ok, nil
}

func (s *memoryStore) UpsertDailySummary(ctx context.Context, summary model.DailySummary) error {
	if summary.UpdatedAt.IsZero() {
		summary.UpdatedAt = nowUTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[summary.Date] = summary
	return nil
}

func (s *memoryStore) SaveNotification(ctx context.Context, n model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.notifications {
		if existing.ID == n.ID {
			return fmt.Errorf("save notification: duplicate id %q", n.ID)
		}
	}
	s.notifications = appendRing(s.notifications, n, s.limit)
	return nil
}

func (s *memoryStore) ListNotifications(ctx context.Context, start, end time.Time, limit int) ([]model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Notification, 0)
	for _, n := range s.notifications {
		if inRange(n.Timestamp, start, end) {
			if n.UserAction != nil {
				a := *n.UserAction
				n.UserAction = &a
			}
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return newest(out, limit), nil
}

func (s *memoryStore) RecordUserAction(ctx context.Context, id string, action model.UserAction) error {
	if !action.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			a := action
			s.notifications[i].UserAction = &a
			return nil
		}
	}
	return ErrNotFound
}
