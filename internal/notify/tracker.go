package notify

import (
	"sync"
	"time"

	"sidekick/internal/model"
)

type TrackerOptions struct {
	DrowsyTrigger      time.Duration
	DistractedTrigger  time.Duration
	OverFocusWindow    time.Duration
	OverFocusThreshold time.Duration
}

func DefaultTrackerOptions() TrackerOptions {
	return TrackerOptions{
		DrowsyTrigger:      120 * time.Second,
		DistractedTrigger:  120 * time.Second,
		OverFocusWindow:    90 * time.Minute,
		OverFocusThreshold: 80 * time.Minute,
	}
}

type sample struct {
	ts       time.Time
	state    model.State
	duration time.Duration
}

// Tracker evaluates each integrated state as it arrives. Samples older than
// twice the over-focus window are evicted.
type Tracker struct {
	mu          sync.Mutex
	opts        TrackerOptions
	gate        *Gate
	samples     []sample
	head        int
	consecutive model.State
	since       time.Time
}

func NewTracker(opts TrackerOptions, gate *Gate) *Tracker {
	def := DefaultTrackerOptions()
	if opts.DrowsyTrigger <= 0 {
		opts.DrowsyTrigger = def.DrowsyTrigger
	}
	if opts.DistractedTrigger <= 0 {
		opts.DistractedTrigger = def.DistractedTrigger
	}
	if opts.OverFocusWindow <= 0 {
		opts.OverFocusWindow = def.OverFocusWindow
	}
	if opts.OverFocusThreshold <= 0 {
		opts.OverFocusThreshold = def.OverFocusThreshold
	}
	if gate == nil {
		gate = NewGate(nil, nil)
	}
	return &Tracker{opts: opts, gate: gate, samples: make([]sample, 0, 128)}
}

func (t *Tracker) Lookback() time.Duration { return 0 }

func (t *Tracker) Evaluate(in Input, now time.Time) (*model.Notification, bool) {
	return t.Observe(in.State, now, in.Interval)
}

// Observe records state at ts lasting interval and returns a notification
// when a trigger fires.
func (t *Tracker) Observe(state model.State, ts time.Time, interval time.Duration) (*model.Notification, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples = append(t.samples, sample{ts: ts, state: state, duration: interval})
	t.evict(ts.Add(-2 * t.opts.OverFocusWindow))

	if state != t.consecutive {
		t.consecutive = state
		t.since = ts
	}
	held := ts.Sub(t.since)

	if state == model.StateDrowsy && held >= t.opts.DrowsyTrigger {
		if n, ok := t.gate.Fire(model.NotifyDrowsy, ts); ok {
			return n, true
		}
	}
	if state == model.StateDistracted && held >= t.opts.DistractedTrigger {
		if n, ok := t.gate.Fire(model.NotifyDistracted, ts); ok {
			return n, true
		}
	}
	if t.gate.CapReached(ts) || t.gate.OnCooldown(model.NotifyOverFocus, ts) {
		return nil, false
	}
	if t.focusedSince(ts.Add(-t.opts.OverFocusWindow)) >= t.opts.OverFocusThreshold {
		return t.gate.Fire(model.NotifyOverFocus, ts)
	}
	return nil, false
}

func (t *Tracker) evict(cutoff time.Time) {
	for t.head < len(t.samples) && t.samples[t.head].ts.Before(cutoff) {
		t.head++
	}
	if t.head > 0 && t.head*2 >= len(t.samples) {
		t.samples = append([]sample{}, t.samples[t.head:]...)
		t.head = 0
	}
}

func (t *Tracker) focusedSince(start time.Time) time.Duration {
	var total time.Duration
	for _, s := range t.samples[t.head:] {
		if s.ts.Before(start) || s.state != model.StateFocused {
			continue
		}
		total += s.duration
	}
	return total
}

// Held is how long the current state has been continuous.
func (t *Tracker) Held(now time.Time) (model.State, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.consecutive == "" {
		return "", 0
	}
	return t.consecutive, now.Sub(t.since)
}

// ResetConsecutive forgets the running state so a pause does not count
// toward drowsy or distracted triggers.
func (t *Tracker) ResetConsecutive() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutive = ""
	t.since = time.Time{}
}

func (t *Tracker) Reset() {
	t.ResetConsecutive()
	t.gate.Reset()
}

func (t *Tracker) SentToday(now time.Time) int {
	return t.gate.SentToday(now)
}
