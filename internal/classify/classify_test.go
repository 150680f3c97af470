package classify

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidekick/internal/model"
)

func f64(v float64) *float64 { return &v }

func boolPtr(v bool) *bool { return &v }

func facialSnapshot(mut ...func(*model.FacialSnapshot)) *model.FacialSnapshot {
	s := &model.FacialSnapshot{
		FaceDetected:         boolPtr(true),
		EARAverage:           f64(0.30),
		Perclos:              f64(0.05),
		HeadPose:             &model.HeadPose{},
		GazeOffScreenRatio:   f64(0.1),
		BlinksPerMinute:      f64(17),
		FaceNotDetectedRatio: f64(0),
	}
	for _, m := range mut {
		m(s)
	}
	return s
}

func usageSnapshot(mut ...func(*model.UsageSnapshot)) *model.UsageSnapshot {
	s := &model.UsageSnapshot{
		ActiveApp:    "Code",
		IdleSeconds:  5,
		KeyboardRate: 120,
		MouseRate:    80,
		AppSwitches:  2,
		UniqueApps:   2,
	}
	for _, m := range mut {
		m(s)
	}
	return s
}

func decided(t *testing.T, o Outcome) model.ClassificationResult {
	t.Helper()
	r, ok := o.Result()
	require.True(t, ok, "expected a decided outcome")
	return r
}

func TestClassifyNoData(t *testing.T) {
	r := decided(t, Classify(nil, nil))
	assert.Equal(t, model.StateUnknown, r.State)
	assert.Equal(t, 0.0, r.Confidence)
	assert.Equal(t, model.SourceRule, r.Source)
}

func TestClassifyMissingFacialIsAmbiguous(t *testing.T) {
	assert.True(t, Classify(nil, usageSnapshot()).Ambiguous())
}

func TestClassifyAway(t *testing.T) {
	r := decided(t, Classify(facialSnapshot(func(s *model.FacialSnapshot) {
		s.FaceDetected = boolPtr(false)
	}), usageSnapshot()))
	assert.Equal(t, model.StateAway, r.State)
	assert.Equal(t, 1.0, r.Confidence)

	idle := usageSnapshot(func(s *model.UsageSnapshot) {
		s.IsIdle = true
		s.IdleSeconds = 3600
	})
	r = decided(t, Classify(facialSnapshot(func(s *model.FacialSnapshot) {
		s.FaceNotDetectedRatio = f64(0.8)
	}), idle))
	assert.Equal(t, model.StateAway, r.State)
	assert.Equal(t, 0.9, r.Confidence)
	assert.Contains(t, r.Reasoning, "80%")
}

func TestClassifyAwayRatioBoundary(t *testing.T) {
	r := decided(t, Classify(facialSnapshot(func(s *model.FacialSnapshot) {
		s.FaceNotDetectedRatio = f64(0.7)
	}), usageSnapshot()))
	assert.NotEqual(t, model.StateAway, r.State)
	assert.Equal(t, model.StateFocused, r.State)
}

func TestClassifyAwayWithoutUsage(t *testing.T) {
	r := decided(t, Classify(facialSnapshot(func(s *model.FacialSnapshot) {
		s.FaceDetected = boolPtr(false)
	}), nil))
	assert.Equal(t, model.StateAway, r.State)
}

func TestClassifyMissingUsageIsAmbiguous(t *testing.T) {
	assert.True(t, Classify(facialSnapshot(), nil).Ambiguous())
}

func TestClassifyCascade(t *testing.T) {
	tests := []struct {
		name       string
		facial     *model.FacialSnapshot
		usage      *model.UsageSnapshot
		ambiguous  bool
		confidence float64
	}{
		{
			name:       "fast path",
			facial:     facialSnapshot(),
			usage:      usageSnapshot(),
			confidence: 0.9,
		},
		{
			name: "negative yaw uses absolute value",
			facial: facialSnapshot(func(s *model.FacialSnapshot) {
				s.HeadPose = &model.HeadPose{Yaw: -35, Pitch: -10}
			}),
			usage:      usageSnapshot(),
			confidence: 0.9,
		},
		{
			name:       "idle seconds at ceiling still active",
			facial:     facialSnapshot(),
			usage:      usageSnapshot(func(s *model.UsageSnapshot) { s.IdleSeconds = 60 }),
			confidence: 0.9,
		},
		{
			name:       "reading when pc idle",
			facial:     facialSnapshot(),
			usage:      usageSnapshot(func(s *model.UsageSnapshot) { s.IdleSeconds = 95; s.IsIdle = true }),
			confidence: 0.75,
		},
		{
			name:       "reading when idle seconds above ceiling",
			facial:     facialSnapshot(),
			usage:      usageSnapshot(func(s *model.UsageSnapshot) { s.IdleSeconds = 61 }),
			confidence: 0.75,
		},
		{
			name:       "ear exactly at high threshold takes low ear path",
			facial:     facialSnapshot(func(s *model.FacialSnapshot) { s.EARAverage = f64(0.27) }),
			usage:      usageSnapshot(),
			confidence: 0.8,
		},
		{
			name:       "ear slightly low",
			facial:     facialSnapshot(func(s *model.FacialSnapshot) { s.EARAverage = f64(0.24) }),
			usage:      usageSnapshot(),
			confidence: 0.8,
		},
		{
			name:      "ear exactly at relaxed floor is ambiguous",
			facial:    facialSnapshot(func(s *model.FacialSnapshot) { s.EARAverage = f64(0.22) }),
			usage:     usageSnapshot(),
			ambiguous: true,
		},
		{
			name:      "missing ear is ambiguous",
			facial:    facialSnapshot(func(s *model.FacialSnapshot) { s.EARAverage = nil }),
			usage:     usageSnapshot(),
			ambiguous: true,
		},
		{
			name: "yaw exactly at forward limit is multi monitor",
			facial: facialSnapshot(func(s *model.FacialSnapshot) {
				s.HeadPose = &model.HeadPose{Yaw: 40}
			}),
			usage:      usageSnapshot(),
			confidence: 0.75,
		},
		{
			name: "multi monitor",
			facial: facialSnapshot(func(s *model.FacialSnapshot) {
				s.HeadPose = &model.HeadPose{Yaw: -48, Pitch: 5}
			}),
			usage:      usageSnapshot(),
			confidence: 0.75,
		},
		{
			name: "yaw exactly at multi monitor limit is ambiguous",
			facial: facialSnapshot(func(s *model.FacialSnapshot) {
				s.HeadPose = &model.HeadPose{Yaw: 60}
			}),
			usage:     usageSnapshot(),
			ambiguous: true,
		},
		{
			name: "pitch exactly at limit is ambiguous",
			facial: facialSnapshot(func(s *model.FacialSnapshot) {
				s.HeadPose = &model.HeadPose{Pitch: 30}
			}),
			usage:     usageSnapshot(),
			ambiguous: true,
		},
		{
			name: "turned head with idle pc is ambiguous",
			facial: facialSnapshot(func(s *model.FacialSnapshot) {
				s.HeadPose = &model.HeadPose{Yaw: 50}
			}),
			usage:     usageSnapshot(func(s *model.UsageSnapshot) { s.IsIdle = true }),
			ambiguous: true,
		},
		{
			name:      "perclos drowsy is ambiguous",
			facial:    facialSnapshot(func(s *model.FacialSnapshot) { s.PerclosDrowsy = true }),
			usage:     usageSnapshot(),
			ambiguous: true,
		},
		{
			name:      "yawning is ambiguous",
			facial:    facialSnapshot(func(s *model.FacialSnapshot) { s.Yawning = true }),
			usage:     usageSnapshot(),
			ambiguous: true,
		},
		{
			name:      "missing head pose is ambiguous",
			facial:    facialSnapshot(func(s *model.FacialSnapshot) { s.HeadPose = nil }),
			usage:     usageSnapshot(),
			ambiguous: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := Classify(tc.facial, tc.usage)
			if tc.ambiguous {
				assert.True(t, out.Ambiguous())
				return
			}
			r := decided(t, out)
			assert.Equal(t, model.StateFocused, r.State)
			assert.Equal(t, tc.confidence, r.Confidence)
			assert.Equal(t, model.SourceRule, r.Source)
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	facial := facialSnapshot(func(s *model.FacialSnapshot) { s.EARAverage = f64(0.25) })
	usage := usageSnapshot()
	first := Classify(facial, usage)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(facial, usage))
	}
}

func TestFallback(t *testing.T) {
	tests := []struct {
		name       string
		facial     *model.FacialSnapshot
		usage      *model.UsageSnapshot
		state      model.State
		confidence float64
	}{
		{"no data", nil, nil, model.StateUnknown, 0.0},
		{
			"perclos and yawn",
			facialSnapshot(func(s *model.FacialSnapshot) { s.PerclosDrowsy = true; s.Yawning = true }),
			usageSnapshot(), model.StateDrowsy, 0.7,
		},
		{
			"yawn only",
			facialSnapshot(func(s *model.FacialSnapshot) { s.Yawning = true }),
			nil, model.StateDrowsy, 0.6,
		},
		{
			"perclos only is not drowsy",
			facialSnapshot(func(s *model.FacialSnapshot) { s.PerclosDrowsy = true }),
			nil, model.StateFocused, 0.5,
		},
		{
			"wide turn",
			facialSnapshot(func(s *model.FacialSnapshot) { s.HeadPose = &model.HeadPose{Yaw: -46} }),
			nil, model.StateDistracted, 0.6,
		},
		{
			"yaw at threshold falls through",
			facialSnapshot(func(s *model.FacialSnapshot) { s.HeadPose = &model.HeadPose{Yaw: 45} }),
			nil, model.StateFocused, 0.5,
		},
		{
			"drowsy beats distracted",
			facialSnapshot(func(s *model.FacialSnapshot) {
				s.Yawning = true
				s.HeadPose = &model.HeadPose{Yaw: 80}
			}),
			usageSnapshot(func(s *model.UsageSnapshot) { s.AppSwitches = 20; s.UniqueApps = 9 }),
			model.StateDrowsy, 0.6,
		},
		{
			"app switching",
			nil,
			usageSnapshot(func(s *model.UsageSnapshot) { s.AppSwitches = 7; s.UniqueApps = 5 }),
			model.StateDistracted, 0.6,
		},
		{
			"switches at threshold falls through",
			nil,
			usageSnapshot(func(s *model.UsageSnapshot) { s.AppSwitches = 6; s.UniqueApps = 9 }),
			model.StateFocused, 0.5,
		},
		{
			"unique apps at threshold falls through",
			nil,
			usageSnapshot(func(s *model.UsageSnapshot) { s.AppSwitches = 9; s.UniqueApps = 4 }),
			model.StateFocused, 0.5,
		},
		{"default focused", facialSnapshot(), usageSnapshot(), model.StateFocused, 0.5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := Fallback(tc.facial, tc.usage)
			assert.Equal(t, tc.state, r.State)
			assert.Equal(t, tc.confidence, r.Confidence)
			assert.Equal(t, model.SourceFallback, r.Source)
			assert.NotEmpty(t, r.Reasoning)
		})
	}
}

func TestUserPrompt(t *testing.T) {
	prompt, err := UserPrompt(nil, usageSnapshot())
	require.NoError(t, err)
	assert.Contains(t, prompt, "Facial features:\n(unavailable)")
	assert.Contains(t, prompt, `"active_app": "Code"`)
	assert.True(t, strings.HasSuffix(prompt, "Respond with ONLY a JSON object."))

	prompt, err = UserPrompt(facialSnapshot(), nil)
	require.NoError(t, err)
	assert.Contains(t, prompt, `"ear_average": 0.3`)
	assert.Contains(t, prompt, "PC usage:\n(unavailable)")
}

func TestIntegrate(t *testing.T) {
	at := time.Date(2024, 2, 14, 9, 30, 0, 0, time.UTC)
	r := model.ClassificationResult{State: model.StateDrowsy, Confidence: 0.7, Reasoning: "x", Source: model.SourceFallback}
	got := Integrate(r, at)
	assert.Equal(t, model.IntegratedState{
		State:      model.StateDrowsy,
		Confidence: 0.7,
		Reasoning:  "x",
		Source:     model.SourceFallback,
		Timestamp:  at,
	}, got)
}
