// Package notify decides when to interrupt the user. Two evaluators exist:
// BucketEngine reads bucketed history, Tracker follows the live state
// stream. Both share a Gate for cooldowns and the daily cap.
package notify

import (
	"time"

	"sidekick/internal/config"
	"sidekick/internal/model"
)

// Input is one evaluation request. BucketEngine reads Segments; Tracker
// reads State and Interval.
type Input struct {
	Segments []model.Segment
	State    model.State
	Interval time.Duration
}

type Evaluator interface {
	Evaluate(in Input, now time.Time) (*model.Notification, bool)
	// Lookback is how much history the evaluator needs as segments. Zero
	// means it consumes live samples only.
	Lookback() time.Duration
	Reset()
	ResetConsecutive()
	SentToday(now time.Time) int
}

func cooldowns(cfg config.NotificationsConfig) map[model.NotificationType]time.Duration {
	return map[model.NotificationType]time.Duration{
		model.NotifyDrowsy:     cfg.DrowsyCooldown,
		model.NotifyDistracted: cfg.DistractedCooldown,
		model.NotifyOverFocus:  cfg.OverFocusCooldown,
	}
}

// NewEvaluator builds the evaluator selected by notifications.mode. A nil
// daily cap gets a fresh one in local time.
func NewEvaluator(cfg config.NotificationsConfig, bucketWidth time.Duration, daily *DailyCap) Evaluator {
	if daily == nil {
		daily = NewDailyCap(cfg.MaxPerDay, nil)
	}
	gate := NewGate(cooldowns(cfg), daily)
	if cfg.Mode == config.NotifyModeContinuous {
		return NewTracker(TrackerOptions{
			DrowsyTrigger:      cfg.DrowsyTrigger,
			DistractedTrigger:  cfg.DistractedTrigger,
			OverFocusWindow:    cfg.OverFocusWindow,
			OverFocusThreshold: cfg.OverFocusThreshold,
		}, gate)
	}
	return NewBucketEngine(BucketOptions{
		BucketWidth:               bucketWidth,
		DrowsyTriggerBuckets:      cfg.DrowsyTriggerBuckets,
		DistractedTriggerBuckets:  cfg.DistractedTriggerBuckets,
		OverFocusWindowBuckets:    cfg.OverFocusWindowBuckets,
		OverFocusThresholdBuckets: cfg.OverFocusThresholdBuckets,
	}, gate)
}
