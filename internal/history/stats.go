package history

import (
	"context"
	"fmt"
	"math"
	"time"

	"sidekick/internal/model"
)

const (
	dailyEntryLimit        = 100000
	dailyNotificationLimit = 1000
)

// Reader is the read side of the history log.
type Reader interface {
	QueryRange(ctx context.Context, start, end time.Time, limit int) ([]model.StateLogEntry, error)
	ListNotifications(ctx context.Context, start, end time.Time, limit int) ([]model.Notification, error)
}

// DayBounds returns the first and last instant of date in loc.
func DayBounds(date string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	day, err := time.ParseInLocation(time.DateOnly, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return day, day.AddDate(0, 0, 1).Add(-time.Microsecond), nil
}

func Today(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return now.In(loc).Format(time.DateOnly)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// ComputeDailyStats aggregates one local calendar day.
func ComputeDailyStats(ctx context.Context, r Reader, date string, loc *time.Location, opts Options) (model.DailyStats, error) {
	if loc == nil {
		loc = time.Local
	}
	opts = opts.withDefaults()
	start, end, err := DayBounds(date, loc)
	if err != nil {
		return model.DailyStats{}, err
	}
	entries, err := r.QueryRange(ctx, start, end, dailyEntryLimit)
	if err != nil {
		return model.DailyStats{}, fmt.Errorf("query state log: %w", err)
	}
	segments := BuildSegments(entries, opts)

	minutes := map[model.State]float64{}
	for _, seg := range segments {
		minutes[seg.State] += seg.DurationMin
	}

	notifications, err := r.ListNotifications(ctx, start, end, dailyNotificationLimit)
	if err != nil {
		return model.DailyStats{}, fmt.Errorf("list notifications: %w", err)
	}
	records := make([]model.NotificationRecord, 0, len(notifications))
	accepted := 0
	for _, n := range notifications {
		if n.UserAction != nil && *n.UserAction == model.ActionAccepted {
			accepted++
		}
		records = append(records, model.NotificationRecord{
			Type:   n.Type,
			Time:   n.Timestamp.In(loc).Format("15:04"),
			Action: n.UserAction,
		})
	}

	return model.DailyStats{
		Date:                 date,
		FocusedMinutes:       round1(minutes[model.StateFocused]),
		DrowsyMinutes:        round1(minutes[model.StateDrowsy]),
		DistractedMinutes:    round1(minutes[model.StateDistracted]),
		AwayMinutes:          round1(minutes[model.StateAway]),
		NotificationCount:    len(notifications),
		NotificationAccepted: accepted,
		FocusBlocks:          ExtractFocusBlocks(segments, opts.FocusBlockMinMinutes, loc),
		Segments:             segments,
		Notifications:        records,
	}, nil
}
