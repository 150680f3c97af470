package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sidekick/internal/model"
)

// Store is the part of the history log the summarizer needs.
type Store interface {
	Reader
	DailySummary(ctx context.Context, date string) (model.DailySummary, bool, error)
	UpsertDailySummary(ctx context.Context, summary model.DailySummary) error
}

// Summarizer serves daily stats. Past days come from the cache when one is
// stored; today is always recomputed.
type Summarizer struct {
	store  Store
	loc    *time.Location
	opts   Options
	now    func() time.Time
	logger *slog.Logger
}

func NewSummarizer(store Store, loc *time.Location, opts Options, logger *slog.Logger) *Summarizer {
	if loc == nil {
		loc = time.Local
	}
	return &Summarizer{store: store, loc: loc, opts: opts, now: time.Now, logger: logger}
}

func (s *Summarizer) Location() *time.Location { return s.loc }

func (s *Summarizer) Today() string { return Today(s.now(), s.loc) }

// Stats returns the stats for date, an empty date meaning today.
func (s *Summarizer) Stats(ctx context.Context, date string) (model.DailyStats, error) {
	if date == "" {
		date = s.Today()
	}
	if date != s.Today() {
		cached, ok, err := s.store.DailySummary(ctx, date)
		if err != nil {
			return model.DailyStats{}, fmt.Errorf("load daily summary: %w", err)
		}
		if ok {
			return cached.Stats, nil
		}
	}
	return ComputeDailyStats(ctx, s.store, date, s.loc, s.opts)
}

// Refresh recomputes date and stores it, keeping any report already saved.
func (s *Summarizer) Refresh(ctx context.Context, date string) (model.DailySummary, error) {
	if date == "" {
		date = s.Today()
	}
	stats, err := ComputeDailyStats(ctx, s.store, date, s.loc, s.opts)
	if err != nil {
		return model.DailySummary{}, err
	}
	summary := model.DailySummary{Date: date, Stats: stats, UpdatedAt: s.now().UTC()}
	if prev, ok, err := s.store.DailySummary(ctx, date); err == nil && ok {
		summary.Report = prev.Report
	}
	if err := s.store.UpsertDailySummary(ctx, summary); err != nil {
		return model.DailySummary{}, fmt.Errorf("upsert daily summary: %w", err)
	}
	if s.logger != nil {
		s.logger.Debug("daily summary refreshed", "date", date, "focused_minutes", stats.FocusedMinutes)
	}
	return summary, nil
}

// GenerateReport recomputes date and attaches a local report.
func (s *Summarizer) GenerateReport(ctx context.Context, date string) (model.DailySummary, error) {
	summary, err := s.Refresh(ctx, date)
	if err != nil {
		return model.DailySummary{}, err
	}
	report := LocalReport(summary.Stats)
	summary.Report = &report
	if err := s.store.UpsertDailySummary(ctx, summary); err != nil {
		return model.DailySummary{}, fmt.Errorf("save report: %w", err)
	}
	return summary, nil
}
