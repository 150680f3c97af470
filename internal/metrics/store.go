package metrics

import (
	"maps"
	"sync"
	"time"
)

const (
	Ticks                 = "ticks"
	TicksSkippedPaused    = "ticks_skipped_paused"
	TicksSkippedIdle      = "ticks_skipped_idle"
	ArbitrationFailures   = "arbitration_failures"
	PersistenceFailures   = "persistence_failures"
	NotificationsFired    = "notifications_fired"
	SignalsAccepted       = "signals_accepted"
	SignalsDropped        = "signals_dropped"
	SignalsDuplicate      = "signals_duplicate"
	SignalsRejected       = "signals_rejected"
	BroadcastFailures     = "broadcast_failures"
	SummaryFailures       = "summary_failures"
	classificationsPrefix = "classifications_"
)

// Classifications is the counter name for results from source.
func Classifications(source string) string {
	return classificationsPrefix + source
}

type Snapshot struct {
	StartedAt time.Time            `json:"started_at"`
	UptimeSec float64              `json:"uptime_sec"`
	Counters  map[string]int64     `json:"counters"`
	Gauges    map[string]float64   `json:"gauges"`
	UpdatedAt map[string]time.Time `json:"updated_at"`
}

// Store holds process counters and gauges for /status.
type Store struct {
	mu        sync.RWMutex
	counters  map[string]int64
	gauges    map[string]float64
	updatedAt map[string]time.Time
	started   time.Time
}

func NewStore() *Store {
	return &Store{
		counters:  make(map[string]int64),
		gauges:    make(map[string]float64),
		updatedAt: make(map[string]time.Time),
		started:   time.Now().UTC(),
	}
}

func (s *Store) Inc(name string) {
	s.Add(name, 1)
}

func (s *Store) Add(name string, n int64) {
	if s == nil || name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name] += n
	s.updatedAt[name] = time.Now().UTC()
}

func (s *Store) Set(name string, v float64) {
	if s == nil || name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges[name] = v
	s.updatedAt[name] = time.Now().UTC()
}

func (s *Store) Counter(name string) int64 {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[name]
}

func (s *Store) Gauge(name string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.gauges[name]
	return v, ok
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		StartedAt: s.started,
		UptimeSec: time.Since(s.started).Seconds(),
		Counters:  maps.Clone(s.counters),
		Gauges:    maps.Clone(s.gauges),
		UpdatedAt: maps.Clone(s.updatedAt),
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[string]int64)
	s.gauges = make(map[string]float64)
	s.updatedAt = make(map[string]time.Time)
}
