package notify

import (
	"sync"
	"time"

	"sidekick/internal/model"
)

// DailyCap counts notifications per local calendar day. A zero max means
// no cap.
type DailyCap struct {
	mu    sync.Mutex
	max   int
	loc   *time.Location
	date  string
	count int
}

func NewDailyCap(max int, loc *time.Location) *DailyCap {
	if loc == nil {
		loc = time.Local
	}
	return &DailyCap{max: max, loc: loc}
}

func (d *DailyCap) rollover(now time.Time) {
	today := now.In(d.loc).Format(time.DateOnly)
	if today != d.date {
		d.date = today
		d.count = 0
	}
}

func (d *DailyCap) Reached(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollover(now)
	return d.max > 0 && d.count >= d.max
}

func (d *DailyCap) Add(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollover(now)
	d.count++
	return d.count
}

// Configure changes the cap and the day boundary. The count for the current
// day is kept.
func (d *DailyCap) Configure(max int, loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.max = max
	d.loc = loc
}

func (d *DailyCap) Count(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollover(now)
	return d.count
}

// Gate decides whether a notification type may fire at a given instant.
type Gate struct {
	cooldown  *Cooldown
	daily     *DailyCap
	cooldowns map[model.NotificationType]time.Duration
}

func NewGate(cooldowns map[model.NotificationType]time.Duration, daily *DailyCap) *Gate {
	if daily == nil {
		daily = NewDailyCap(0, nil)
	}
	return &Gate{cooldown: NewCooldown(), daily: daily, cooldowns: cooldowns}
}

func (g *Gate) CapReached(now time.Time) bool {
	return g.daily.Reached(now)
}

func (g *Gate) OnCooldown(kind model.NotificationType, now time.Time) bool {
	return g.cooldown.Blocked(string(kind), now, g.cooldowns[kind])
}

// Fire records a notification of kind at now if both the daily cap and the
// cooldown allow it.
func (g *Gate) Fire(kind model.NotificationType, now time.Time) (*model.Notification, bool) {
	if g.daily.Reached(now) {
		return nil, false
	}
	if !g.cooldown.AllowAt(string(kind), now, g.cooldowns[kind]) {
		return nil, false
	}
	g.daily.Add(now)
	return &model.Notification{Type: kind, Message: Message(kind), Timestamp: now}, true
}

// Reset clears cooldowns. The daily count survives.
func (g *Gate) Reset() {
	g.cooldown.Reset()
}

func (g *Gate) SentToday(now time.Time) int {
	return g.daily.Count(now)
}
