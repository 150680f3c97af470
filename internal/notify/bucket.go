package notify

import (
	"math"
	"time"

	"sidekick/internal/model"
)

type BucketOptions struct {
	BucketWidth               time.Duration
	DrowsyTriggerBuckets      int
	DistractedTriggerBuckets  int
	OverFocusWindowBuckets    int
	OverFocusThresholdBuckets int
}

func DefaultBucketOptions() BucketOptions {
	return BucketOptions{
		BucketWidth:               5 * time.Minute,
		DrowsyTriggerBuckets:      2,
		DistractedTriggerBuckets:  2,
		OverFocusWindowBuckets:    18,
		OverFocusThresholdBuckets: 16,
	}
}

// BucketEngine fires on runs of whole buckets.
type BucketEngine struct {
	opts BucketOptions
	gate *Gate
}

func NewBucketEngine(opts BucketOptions, gate *Gate) *BucketEngine {
	def := DefaultBucketOptions()
	if opts.BucketWidth <= 0 {
		opts.BucketWidth = def.BucketWidth
	}
	if opts.DrowsyTriggerBuckets <= 0 {
		opts.DrowsyTriggerBuckets = def.DrowsyTriggerBuckets
	}
	if opts.DistractedTriggerBuckets <= 0 {
		opts.DistractedTriggerBuckets = def.DistractedTriggerBuckets
	}
	if opts.OverFocusWindowBuckets <= 0 {
		opts.OverFocusWindowBuckets = def.OverFocusWindowBuckets
	}
	if opts.OverFocusThresholdBuckets <= 0 {
		opts.OverFocusThresholdBuckets = def.OverFocusThresholdBuckets
	}
	if gate == nil {
		gate = NewGate(nil, nil)
	}
	return &BucketEngine{opts: opts, gate: gate}
}

func (b *BucketEngine) Lookback() time.Duration {
	n := max(b.opts.OverFocusWindowBuckets, b.opts.DrowsyTriggerBuckets, b.opts.DistractedTriggerBuckets)
	return time.Duration(n) * b.opts.BucketWidth
}

// Expand turns merged segments back into one state per bucket.
func (b *BucketEngine) Expand(segments []model.Segment) []model.State {
	width := b.opts.BucketWidth.Minutes()
	out := make([]model.State, 0, len(segments))
	for _, seg := range segments {
		n := max(1, int(math.Round(seg.DurationMin/width)))
		for i := 0; i < n; i++ {
			out = append(out, seg.State)
		}
	}
	return out
}

func (b *BucketEngine) Evaluate(in Input, now time.Time) (*model.Notification, bool) {
	return b.Check(in.Segments, now)
}

// Check runs drowsy, distracted, then over_focus and fires at most one.
// A condition whose type is cooling down is skipped.
func (b *BucketEngine) Check(segments []model.Segment, now time.Time) (*model.Notification, bool) {
	buckets := b.Expand(segments)
	if len(buckets) == 0 || b.gate.CapReached(now) {
		return nil, false
	}
	if tailAll(buckets, b.opts.DrowsyTriggerBuckets, model.StateDrowsy) {
		if n, ok := b.gate.Fire(model.NotifyDrowsy, now); ok {
			return n, true
		}
	}
	if tailAll(buckets, b.opts.DistractedTriggerBuckets, model.StateDistracted) {
		if n, ok := b.gate.Fire(model.NotifyDistracted, now); ok {
			return n, true
		}
	}
	if tailCount(buckets, b.opts.OverFocusWindowBuckets, model.StateFocused) >= b.opts.OverFocusThresholdBuckets {
		if n, ok := b.gate.Fire(model.NotifyOverFocus, now); ok {
			return n, true
		}
	}
	return nil, false
}

func (b *BucketEngine) Reset() {
	b.gate.Reset()
}

func (b *BucketEngine) ResetConsecutive() {}

func (b *BucketEngine) SentToday(now time.Time) int {
	return b.gate.SentToday(now)
}

func tailAll(buckets []model.State, n int, state model.State) bool {
	if len(buckets) < n {
		return false
	}
	for _, s := range buckets[len(buckets)-n:] {
		if s != state {
			return false
		}
	}
	return true
}

func tailCount(buckets []model.State, n int, state model.State) int {
	start := max(0, len(buckets)-n)
	count := 0
	for _, s := range buckets[start:] {
		if s == state {
			count++
		}
	}
	return count
}
