// Package broadcast pushes integrated states and fired notifications to
// live subscribers.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"sidekick/internal/model"
)

const (
	TypeState        = "state"
	TypeNotification = "notification"
)

type Publisher interface {
	PublishState(ctx context.Context, st model.IntegratedState) error
	PublishNotification(ctx context.Context, n model.Notification) error
}

type stateMessage struct {
	Type       string       `json:"type"`
	State      model.State  `json:"state"`
	Confidence float64      `json:"confidence"`
	Reasoning  string       `json:"reasoning"`
	Source     model.Source `json:"source"`
	Timestamp  float64      `json:"timestamp"`
}

type notificationMessage struct {
	Type             string                 `json:"type"`
	NotificationType model.NotificationType `json:"notification_type"`
	Message          string                 `json:"message"`
	Timestamp        float64                `json:"timestamp"`
	ID               string                 `json:"id"`
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func StateMessage(st model.IntegratedState) ([]byte, error) {
	return json.Marshal(stateMessage{
		Type:       TypeState,
		State:      st.State,
		Confidence: st.Confidence,
		Reasoning:  st.Reasoning,
		Source:     st.Source,
		Timestamp:  unixSeconds(st.Timestamp),
	})
}

func NotificationMessage(n model.Notification) ([]byte, error) {
	return json.Marshal(notificationMessage{
		Type:             TypeNotification,
		NotificationType: n.Type,
		Message:          n.Message,
		Timestamp:        unixSeconds(n.Timestamp),
		ID:               n.ID,
	})
}

// Multi fans out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) PublishState(ctx context.Context, st model.IntegratedState) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.PublishState(ctx, st); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) PublishNotification(ctx context.Context, n model.Notification) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.PublishNotification(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
