package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"sidekick/internal/history"
	"sidekick/internal/model"
	"sidekick/internal/output"
)

var statsDate string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show one day of working-state statistics",
	Long: `Show focused, drowsy, distracted and away minutes, focus blocks and
notifications for one local day. Past days are served from the stored daily
summary when one exists.

Examples:
  sidekick stats
  sidekick stats --date 2024-02-14 --json`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsDate, "date", "", "Day to show as YYYY-MM-DD (default: today)")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	if err := checkDate(statsDate); err != nil {
		return err
	}
	mgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	ctx := cmd.Context()
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	summarizer := history.NewSummarizer(store, cfg.Engine.Location(), historyOptions(cfg.History), nil)
	return showStats(ctx, cmd.OutOrStdout(), summarizer, statsDate, flagJSON)
}

func checkDate(date string) error {
	if date == "" {
		return nil
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return fmt.Errorf("--date must be YYYY-MM-DD, got %q", date)
	}
	return nil
}

func showStats(ctx context.Context, w io.Writer, s *history.Summarizer, date string, asJSON bool) error {
	stats, err := s.Stats(ctx, date)
	if err != nil {
		return fmt.Errorf("computing stats: %w", err)
	}
	if asJSON {
		return writeJSON(w, stats)
	}
	renderStats(w, stats)
	return nil
}

func renderStats(w io.Writer, stats model.DailyStats) {
	fmt.Fprintln(w, output.StyleHeader.Render("Daily stats "+stats.Date))
	fmt.Fprintln(w)
	fmt.Fprintln(w, output.KV(output.State(model.StateFocused), minutes(stats.FocusedMinutes)))
	fmt.Fprintln(w, output.KV(output.State(model.StateDrowsy), minutes(stats.DrowsyMinutes)))
	fmt.Fprintln(w, output.KV(output.State(model.StateDistracted), minutes(stats.DistractedMinutes)))
	fmt.Fprintln(w, output.KV(output.State(model.StateAway), minutes(stats.AwayMinutes)))
	fmt.Fprintln(w, output.KV("idle", minutes(stats.IdleMinutes)))
	fmt.Fprintln(w, output.KV("notifications", fmt.Sprintf("%d (%d accepted)", stats.NotificationCount, stats.NotificationAccepted)))

	if len(stats.FocusBlocks) > 0 {
		fmt.Fprintln(w)
		tbl := output.NewTable("START", "END", "MIN")
		for _, b := range stats.FocusBlocks {
			tbl.AddRow(b.Start, b.End, fmt.Sprintf("%d", b.DurationMin))
		}
		fmt.Fprint(w, tbl.Render())
	}

	if len(stats.Notifications) > 0 {
		fmt.Fprintln(w)
		tbl := output.NewTable("TIME", "TYPE", "ACTION")
		for _, n := range stats.Notifications {
			action := output.StyleMuted.Render("none")
			if n.Action != nil {
				action = string(*n.Action)
			}
			tbl.AddRow(n.Time, string(n.Type), action)
		}
		fmt.Fprint(w, tbl.Render())
	}
}

func minutes(v float64) string {
	return fmt.Sprintf("%.1f min", v)
}
