package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"sidekick/internal/config"
)

type settingsResponse struct {
	NotificationMode          string  `json:"notification_mode"`
	MaxPerDay                 int     `json:"max_per_day"`
	DesktopNotifications      bool    `json:"desktop_notifications"`
	DrowsyCooldownMinutes     int     `json:"drowsy_cooldown_minutes"`
	DistractedCooldownMinutes int     `json:"distracted_cooldown_minutes"`
	OverFocusCooldownMinutes  int     `json:"over_focus_cooldown_minutes"`
	DrowsyTriggerBuckets      int     `json:"drowsy_trigger_buckets"`
	DistractedTriggerBuckets  int     `json:"distracted_trigger_buckets"`
	OverFocusWindowBuckets    int     `json:"over_focus_window_buckets"`
	OverFocusThresholdBuckets int     `json:"over_focus_threshold_buckets"`
	BucketMinutes             int     `json:"bucket_minutes"`
	IntegrationIntervalSec    float64 `json:"integration_interval_sec"`
	ArbitrationMode           string  `json:"arbitration_mode"`
	ArbitrationModel          string  `json:"arbitration_model"`
}

type settingsUpdate struct {
	NotificationMode          *string  `json:"notification_mode"`
	MaxPerDay                 *int     `json:"max_per_day"`
	DesktopNotifications      *bool    `json:"desktop_notifications"`
	DrowsyCooldownMinutes     *int     `json:"drowsy_cooldown_minutes"`
	DistractedCooldownMinutes *int     `json:"distracted_cooldown_minutes"`
	OverFocusCooldownMinutes  *int     `json:"over_focus_cooldown_minutes"`
	DrowsyTriggerBuckets      *int     `json:"drowsy_trigger_buckets"`
	DistractedTriggerBuckets  *int     `json:"distracted_trigger_buckets"`
	OverFocusWindowBuckets    *int     `json:"over_focus_window_buckets"`
	OverFocusThresholdBuckets *int     `json:"over_focus_threshold_buckets"`
	BucketMinutes             *int     `json:"bucket_minutes"`
	IntegrationIntervalSec    *float64 `json:"integration_interval_sec"`
	ArbitrationMode           *string  `json:"arbitration_mode"`
	ArbitrationModel          *string  `json:"arbitration_model"`
}

func toSettings(cfg *config.Config) settingsResponse {
	n := cfg.Notifications
	return settingsResponse{
		NotificationMode:          n.Mode,
		MaxPerDay:                 n.MaxPerDay,
		DesktopNotifications:      n.Desktop,
		DrowsyCooldownMinutes:     int(n.DrowsyCooldown / time.Minute),
		DistractedCooldownMinutes: int(n.DistractedCooldown / time.Minute),
		OverFocusCooldownMinutes:  int(n.OverFocusCooldown / time.Minute),
		DrowsyTriggerBuckets:      n.DrowsyTriggerBuckets,
		DistractedTriggerBuckets:  n.DistractedTriggerBuckets,
		OverFocusWindowBuckets:    n.OverFocusWindowBuckets,
		OverFocusThresholdBuckets: n.OverFocusThresholdBuckets,
		BucketMinutes:             cfg.History.BucketMinutes,
		IntegrationIntervalSec:    cfg.Engine.IntegrationInterval.Seconds(),
		ArbitrationMode:           cfg.Arbitration.Mode,
		ArbitrationModel:          cfg.Arbitration.Model,
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setMinutes(dst *time.Duration, v *int) {
	if v != nil {
		*dst = time.Duration(*v) * time.Minute
	}
}

func (u settingsUpdate) apply(cfg *config.Config) {
	n := &cfg.Notifications
	if u.NotificationMode != nil {
		n.Mode = *u.NotificationMode
	}
	if u.DesktopNotifications != nil {
		n.Desktop = *u.DesktopNotifications
	}
	setInt(&n.MaxPerDay, u.MaxPerDay)
	setMinutes(&n.DrowsyCooldown, u.DrowsyCooldownMinutes)
	setMinutes(&n.DistractedCooldown, u.DistractedCooldownMinutes)
	setMinutes(&n.OverFocusCooldown, u.OverFocusCooldownMinutes)
	setInt(&n.DrowsyTriggerBuckets, u.DrowsyTriggerBuckets)
	setInt(&n.DistractedTriggerBuckets, u.DistractedTriggerBuckets)
	setInt(&n.OverFocusWindowBuckets, u.OverFocusWindowBuckets)
	setInt(&n.OverFocusThresholdBuckets, u.OverFocusThresholdBuckets)
	setInt(&cfg.History.BucketMinutes, u.BucketMinutes)
	if u.IntegrationIntervalSec != nil {
		cfg.Engine.IntegrationInterval = time.Duration(*u.IntegrationIntervalSec * float64(time.Second))
	}
	if u.ArbitrationMode != nil {
		cfg.Arbitration.Mode = *u.ArbitrationMode
	}
	if u.ArbitrationModel != nil {
		cfg.Arbitration.Model = *u.ArbitrationModel
	}
}

// handleSettings reads or partially updates the live settings. Updates are
// validated, saved to the config file and applied to the running engine.
// Only file-backed values are saved; command-line and environment overrides
// stay in memory.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, toSettings(s.cfg.Get()))
	case http.MethodPut:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var update settingsUpdate
		if err := json.Unmarshal(body, &update); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		next := *s.cfg.Get()
		update.apply(&next)
		if next.Engine.IntegrationInterval <= 0 {
			writeError(w, http.StatusBadRequest, "integration_interval_sec must be positive")
			return
		}
		if err := config.Validate(&next); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		live, err := s.cfg.Edit(update.apply)
		if err != nil {
			s.internalError(w, "save settings", err)
			return
		}
		if s.engine != nil {
			s.engine.ApplyConfig(live)
		}
		writeJSON(w, http.StatusOK, toSettings(live))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
