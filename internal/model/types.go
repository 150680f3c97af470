package model

import "time"

type State string

const (
	StateFocused    State = "focused"
	StateDrowsy     State = "drowsy"
	StateDistracted State = "distracted"
	StateAway       State = "away"
	StateUnknown    State = "unknown"
)

func (s State) Valid() bool {
	switch s {
	case StateFocused, StateDrowsy, StateDistracted, StateAway, StateUnknown:
		return true
	}
	return false
}

type Source string

const (
	SourceRule        Source = "rule"
	SourceArbitration Source = "arbitration"
	SourceFallback    Source = "fallback"
)

type ClassificationResult struct {
	State      State   `json:"state"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Source     Source  `json:"source"`
}

type IntegratedState struct {
	State      State     `json:"state"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning"`
	Source     Source    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}

type StateLogEntry struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	State      State     `json:"integrated_state"`
	Confidence float64   `json:"confidence"`
	Source     Source    `json:"source"`
	Reasoning  string    `json:"reasoning,omitempty"`
}

type Segment struct {
	State       State             `json:"state"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time"`
	DurationMin float64           `json:"duration_min"`
	Breakdown   map[State]float64 `json:"breakdown"`
}

type FocusBlock struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	DurationMin int    `json:"duration_min"`
}

type NotificationType string

const (
	NotifyDrowsy     NotificationType = "drowsy"
	NotifyDistracted NotificationType = "distracted"
	NotifyOverFocus  NotificationType = "over_focus"
)

type UserAction string

const (
	ActionAccepted  UserAction = "accepted"
	ActionSnoozed   UserAction = "snoozed"
	ActionDismissed UserAction = "dismissed"
)

func (a UserAction) Valid() bool {
	switch a {
	case ActionAccepted, ActionSnoozed, ActionDismissed:
		return true
	}
	return false
}

type Notification struct {
	ID         string           `json:"id"`
	Type       NotificationType `json:"type"`
	Message    string           `json:"message"`
	Timestamp  time.Time        `json:"timestamp"`
	UserAction *UserAction      `json:"user_action"`
}

type NotificationRecord struct {
	Type   NotificationType `json:"type"`
	Time   string           `json:"time"`
	Action *UserAction      `json:"action"`
}

type DailyStats struct {
	Date                 string               `json:"date"`
	FocusedMinutes       float64              `json:"focused_minutes"`
	DrowsyMinutes        float64              `json:"drowsy_minutes"`
	DistractedMinutes    float64              `json:"distracted_minutes"`
	AwayMinutes          float64              `json:"away_minutes"`
	IdleMinutes          float64              `json:"idle_minutes"`
	NotificationCount    int                  `json:"notification_count"`
	NotificationAccepted int                  `json:"notification_accepted"`
	FocusBlocks          []FocusBlock         `json:"focus_blocks"`
	Segments             []Segment            `json:"segments"`
	Notifications        []NotificationRecord `json:"notifications"`
}

type Report struct {
	Summary     string   `json:"summary"`
	Highlights  []string `json:"highlights"`
	Concerns    []string `json:"concerns"`
	TomorrowTip string   `json:"tomorrow_tip"`
	Source      string   `json:"source"`
}

type DailySummary struct {
	Date      string     `json:"date"`
	Stats     DailyStats `json:"stats"`
	Report    *Report    `json:"report,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}
