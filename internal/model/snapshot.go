package model

import "time"

type HeadPose struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// FacialSnapshot is one observation from the camera collaborator. Pointer
// fields are optional; a nil FaceDetected means the face was detected.
type FacialSnapshot struct {
	ObservedAt           time.Time `json:"timestamp"`
	FaceDetected         *bool     `json:"face_detected,omitempty"`
	EARAverage           *float64  `json:"ear_average,omitempty"`
	Perclos              *float64  `json:"perclos,omitempty"`
	PerclosDrowsy        bool      `json:"perclos_drowsy"`
	Yawning              bool      `json:"yawning"`
	HeadPose             *HeadPose `json:"head_pose,omitempty"`
	GazeOffScreenRatio   *float64  `json:"gaze_off_screen_ratio,omitempty"`
	FaceNotDetectedRatio *float64  `json:"face_not_detected_ratio,omitempty"`
	BlinksPerMinute      *float64  `json:"blinks_per_minute,omitempty"`
}

func (f FacialSnapshot) Detected() bool {
	return f.FaceDetected == nil || *f.FaceDetected
}

// UsageSnapshot is one observation from the PC usage collaborator.
type UsageSnapshot struct {
	ObservedAt               time.Time `json:"timestamp"`
	ActiveApp                string    `json:"active_app"`
	IdleSeconds              float64   `json:"idle_seconds"`
	IsIdle                   bool      `json:"is_idle"`
	KeyboardRate             float64   `json:"keyboard_rate_window"`
	MouseRate                float64   `json:"mouse_rate_window"`
	AppSwitches              int       `json:"app_switches_in_window"`
	UniqueApps               int       `json:"unique_apps_in_window"`
	SecondsSinceLastKeyboard *float64  `json:"seconds_since_last_keyboard,omitempty"`
}

type SignalKind string

const (
	SignalFacial SignalKind = "facial"
	SignalUsage  SignalKind = "usage"
)

// Signal carries exactly one snapshot from a producer transport.
type Signal struct {
	Kind   SignalKind      `json:"kind"`
	Facial *FacialSnapshot `json:"facial,omitempty"`
	Usage  *UsageSnapshot  `json:"usage,omitempty"`
	Source string          `json:"source,omitempty"`
}

func (s Signal) ObservedAt() time.Time {
	switch {
	case s.Facial != nil:
		return s.Facial.ObservedAt
	case s.Usage != nil:
		return s.Usage.ObservedAt
	}
	return time.Time{}
}
