package classify

import (
	"fmt"

	"sidekick/internal/model"
)

// Fallback always produces a result. Drowsy checks run before distraction
// checks; every threshold is strict.
func Fallback(facial *model.FacialSnapshot, usage *model.UsageSnapshot) model.ClassificationResult {
	if facial == nil && usage == nil {
		return noData(model.SourceFallback)
	}

	if facial != nil {
		if facial.PerclosDrowsy && facial.Yawning {
			return fallback(model.StateDrowsy, 0.7, "PERCLOS drowsy and yawning detected")
		}
		if facial.Yawning {
			return fallback(model.StateDrowsy, 0.6, "Yawning detected")
		}
		if facial.HeadPose != nil {
			yaw, _ := headPose(facial.HeadPose)
			if yaw > FallbackDistractedYaw {
				return fallback(model.StateDistracted, 0.6,
					fmt.Sprintf("Head turned significantly (yaw=%.0f)", yaw))
			}
		}
	}

	if usage != nil &&
		usage.AppSwitches > FallbackDistractedAppSwitches &&
		usage.UniqueApps > FallbackDistractedUniqueApps {
		return fallback(model.StateDistracted, 0.6,
			fmt.Sprintf("%d app switches across %d apps", usage.AppSwitches, usage.UniqueApps))
	}

	return fallback(model.StateFocused, 0.5, "No strong signals detected, assuming focused")
}

func fallback(state model.State, confidence float64, reasoning string) model.ClassificationResult {
	return model.ClassificationResult{
		State:      state,
		Confidence: confidence,
		Reasoning:  reasoning,
		Source:     model.SourceFallback,
	}
}
