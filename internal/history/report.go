package history

import (
	"fmt"

	"sidekick/internal/model"
)

const ReportSourceLocal = "local"

// LocalReport writes a short deterministic report from the day's numbers.
func LocalReport(stats model.DailyStats) model.Report {
	tracked := stats.FocusedMinutes + stats.DrowsyMinutes + stats.DistractedMinutes + stats.AwayMinutes
	report := model.Report{
		Summary:    fmt.Sprintf("Focused %.0f of %.0f tracked minutes on %s.", stats.FocusedMinutes, tracked, stats.Date),
		Highlights: []string{},
		Concerns:   []string{},
		Source:     ReportSourceLocal,
	}

	longest := 0
	for _, b := range stats.FocusBlocks {
		longest = max(longest, b.DurationMin)
	}
	if longest > 0 {
		report.Highlights = append(report.Highlights, fmt.Sprintf("Longest focus block: %d minutes.", longest))
	}
	if stats.NotificationAccepted > 0 {
		report.Highlights = append(report.Highlights, fmt.Sprintf("Took %d suggested breaks.", stats.NotificationAccepted))
	}
	if stats.DrowsyMinutes >= 15 {
		report.Concerns = append(report.Concerns, fmt.Sprintf("Drowsy for %.0f minutes.", stats.DrowsyMinutes))
	}
	if tracked > 0 && stats.DistractedMinutes/tracked >= 0.25 {
		report.Concerns = append(report.Concerns, fmt.Sprintf("Distracted for %.0f minutes.", stats.DistractedMinutes))
	}

	switch {
	case stats.DrowsyMinutes >= 15:
		report.TomorrowTip = "Get some daylight and schedule a short walk after lunch."
	case longest >= 90:
		report.TomorrowTip = "Break long sessions with a 5-minute pause every 80 minutes."
	case stats.DistractedMinutes > stats.FocusedMinutes:
		report.TomorrowTip = "Close unused apps and work on one task at a time."
	default:
		report.TomorrowTip = "Keep the same rhythm tomorrow."
	}
	return report
}
