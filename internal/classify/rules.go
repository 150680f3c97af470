// Package classify holds the deterministic state classifiers: the rule
// cascade, the fallback used when arbitration is unavailable, and the
// prompt rendering for the arbitration backend.
package classify

import (
	"fmt"
	"math"

	"sidekick/internal/model"
)

const (
	AwayFaceNotDetectedRatio  = 0.7
	FocusedMinEAR             = 0.27
	FocusedRelaxedMinEAR      = 0.22
	FocusedMaxYaw             = 40.0
	FocusedMultiMonitorMaxYaw = 60.0
	FocusedMaxPitch           = 30.0
	PCNotIdleMaxSeconds       = 60.0

	FallbackDistractedYaw         = 45.0
	FallbackDistractedAppSwitches = 6
	FallbackDistractedUniqueApps  = 4
)

// Outcome is either a decided result or an explicit deferral to arbitration.
type Outcome struct {
	result  model.ClassificationResult
	decided bool
}

func Decided(r model.ClassificationResult) Outcome {
	return Outcome{result: r, decided: true}
}

func Ambiguous() Outcome {
	return Outcome{}
}

func (o Outcome) Ambiguous() bool {
	return !o.decided
}

// Result returns the decided result; ok is false for an ambiguous outcome.
func (o Outcome) Result() (model.ClassificationResult, bool) {
	return o.result, o.decided
}

// Classify runs the rule cascade. It only decides unambiguous combinations
// and returns Ambiguous for everything else.
func Classify(facial *model.FacialSnapshot, usage *model.UsageSnapshot) Outcome {
	if facial == nil && usage == nil {
		return Decided(noData(model.SourceRule))
	}
	if facial == nil {
		return Ambiguous()
	}

	if !facial.Detected() {
		return Decided(rule(model.StateAway, 1.0, "No face detected in frame"))
	}
	if r := facial.FaceNotDetectedRatio; r != nil && *r > AwayFaceNotDetectedRatio {
		return Decided(rule(model.StateAway, 0.9,
			fmt.Sprintf("Face not detected in %.0f%% of recent frames", *r*100)))
	}

	if usage == nil {
		return Ambiguous()
	}

	ear := facial.EARAverage
	pose := facial.HeadPose
	pcNotIdle := !usage.IsIdle && usage.IdleSeconds <= PCNotIdleMaxSeconds

	var yaw, pitch float64
	if pose != nil {
		yaw, pitch = headPose(pose)
	}
	forward := pose != nil && yaw < FocusedMaxYaw && pitch < FocusedMaxPitch

	if ear != nil && *ear > FocusedMinEAR &&
		!facial.PerclosDrowsy && !facial.Yawning &&
		pcNotIdle && forward {
		return Decided(rule(model.StateFocused, 0.9,
			"Eyes open, facing screen, no drowsiness signals, PC active"))
	}

	noDrowsy := !facial.PerclosDrowsy && !facial.Yawning &&
		ear != nil && *ear > FocusedRelaxedMinEAR

	if noDrowsy && !pcNotIdle && forward {
		return Decided(rule(model.StateFocused, 0.75,
			"Facing screen, no drowsy signs; likely reading or watching"))
	}

	if noDrowsy && *ear <= FocusedMinEAR && pcNotIdle && forward {
		return Decided(rule(model.StateFocused, 0.8,
			"EAR slightly low but no drowsy signals, PC active"))
	}

	if noDrowsy && pose != nil && pcNotIdle &&
		yaw >= FocusedMaxYaw && yaw < FocusedMultiMonitorMaxYaw &&
		pitch < FocusedMaxPitch {
		return Decided(rule(model.StateFocused, 0.75,
			fmt.Sprintf("Head turned (yaw=%.0f) but PC active, likely multi-monitor", yaw)))
	}

	return Ambiguous()
}

func headPose(p *model.HeadPose) (yaw, pitch float64) {
	return math.Abs(p.Yaw), math.Abs(p.Pitch)
}

func rule(state model.State, confidence float64, reasoning string) model.ClassificationResult {
	return model.ClassificationResult{
		State:      state,
		Confidence: confidence,
		Reasoning:  reasoning,
		Source:     model.SourceRule,
	}
}

func noData(source model.Source) model.ClassificationResult {
	return model.ClassificationResult{
		State:      model.StateUnknown,
		Confidence: 0.0,
		Reasoning:  "No data from camera or PC monitor",
		Source:     source,
	}
}
