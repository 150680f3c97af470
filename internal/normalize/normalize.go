// Package normalize validates snapshots at the producer boundary and
// resolves their timestamps.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"sidekick/internal/model"
)

var ErrInvalidSignal = errors.New("invalid signal")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSignal, fmt.Sprintf(format, args...))
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

// ParseTimestamp accepts unix seconds (fractional allowed), unix
// milliseconds, or one of the layouts above interpreted in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	dots := 0
	for _, ch := range value {
		if ch == '.' {
			dots++
			continue
		}
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0 && dots <= 1
}

func parseUnix(value string) (time.Time, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return time.Time{}, err
	}
	return FromUnixFloat(f), nil
}

// FromUnixFloat reads values above 1e12 as milliseconds, otherwise seconds.
func FromUnixFloat(f float64) time.Time {
	if f >= 1e12 {
		if f == math.Trunc(f) {
			return time.UnixMilli(int64(f)).UTC()
		}
		f /= 1000
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*float64(time.Second)))).UTC()
}

// Clamp replaces a missing timestamp, or one further than maxFuture ahead
// of now, with now.
func Clamp(ts, now time.Time, maxFuture time.Duration) time.Time {
	if ts.IsZero() {
		return now
	}
	if maxFuture > 0 && ts.Sub(now) > maxFuture {
		return now
	}
	return ts
}

func ratio(name string, v *float64) error {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || *v < 0 || *v > 1 {
		return invalid("%s must be within [0,1], got %v", name, *v)
	}
	return nil
}

func nonNegative(name string, v float64) error {
	if math.IsNaN(v) || v < 0 {
		return invalid("%s must be >= 0, got %v", name, v)
	}
	return nil
}

func Facial(s *model.FacialSnapshot) error {
	if s == nil {
		return invalid("facial snapshot missing")
	}
	for name, v := range map[string]*float64{
		"perclos":                 s.Perclos,
		"gaze_off_screen_ratio":   s.GazeOffScreenRatio,
		"face_not_detected_ratio": s.FaceNotDetectedRatio,
	} {
		if err := ratio(name, v); err != nil {
			return err
		}
	}
	if s.EARAverage != nil {
		if err := nonNegative("ear_average", *s.EARAverage); err != nil {
			return err
		}
	}
	if s.BlinksPerMinute != nil {
		if err := nonNegative("blinks_per_minute", *s.BlinksPerMinute); err != nil {
			return err
		}
	}
	return nil
}

func Usage(s *model.UsageSnapshot) error {
	if s == nil {
		return invalid("usage snapshot missing")
	}
	checks := []struct {
		name string
		v    float64
	}{
		{"idle_seconds", s.IdleSeconds},
		{"keyboard_rate_window", s.KeyboardRate},
		{"mouse_rate_window", s.MouseRate},
		{"app_switches_in_window", float64(s.AppSwitches)},
		{"unique_apps_in_window", float64(s.UniqueApps)},
	}
	for _, c := range checks {
		if err := nonNegative(c.name, c.v); err != nil {
			return err
		}
	}
	if s.SecondsSinceLastKeyboard != nil {
		return nonNegative("seconds_since_last_keyboard", *s.SecondsSinceLastKeyboard)
	}
	return nil
}

// Signal checks that exactly the snapshot named by Kind is present and valid.
func Signal(sig model.Signal) error {
	switch sig.Kind {
	case model.SignalFacial:
		if sig.Usage != nil {
			return invalid("facial signal carries a usage snapshot")
		}
		return Facial(sig.Facial)
	case model.SignalUsage:
		if sig.Facial != nil {
			return invalid("usage signal carries a facial snapshot")
		}
		return Usage(sig.Usage)
	case "":
		return invalid("kind is required")
	default:
		return invalid("unknown kind %q", sig.Kind)
	}
}
