package app

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sidekick/internal/history"
	"sidekick/internal/model"
	"sidekick/internal/output"
	"sidekick/internal/storage"
)

var (
	segmentsDate   string
	segmentsBucket int
)

var segmentsCmd = &cobra.Command{
	Use:   "segments",
	Short: "Show the bucketed state timeline for one day",
	Args:  cobra.NoArgs,
	RunE:  runSegments,
}

func init() {
	segmentsCmd.Flags().StringVar(&segmentsDate, "date", "", "Day to show as YYYY-MM-DD (default: today)")
	segmentsCmd.Flags().IntVar(&segmentsBucket, "bucket", 0, "Bucket width in minutes, 1..60 (default: history.bucket_minutes)")
	rootCmd.AddCommand(segmentsCmd)
}

func runSegments(cmd *cobra.Command, args []string) error {
	if err := checkDate(segmentsDate); err != nil {
		return err
	}
	if segmentsBucket != 0 && (segmentsBucket < 1 || segmentsBucket > 60) {
		return fmt.Errorf("--bucket must be within 1..60, got %d", segmentsBucket)
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

	opts := historyOptions(cfg.History)
	if segmentsBucket > 0 {
		opts.BucketWidth = time.Duration(segmentsBucket) * time.Minute
	}
	date := segmentsDate
	if date == "" {
		date = history.Today(time.Now(), cfg.Engine.Location())
	}
	return showSegments(ctx, cmd.OutOrStdout(), store, date, cfg.Engine.Location(), opts, flagJSON)
}

func showSegments(ctx context.Context, w io.Writer, store storage.Store, date string, loc *time.Location, opts history.Options, asJSON bool) error {
	start, end, err := history.DayBounds(date, loc)
	if err != nil {
		return err
	}
	entries, err := store.QueryRange(ctx, start, end, 0)
	if err != nil {
		return fmt.Errorf("querying history: %w", err)
	}
	segments := history.BuildSegments(entries, opts)
	if asJSON {
		return writeJSON(w, map[string]any{"date": date, "segments": segments, "count": len(segments)})
	}
	if len(segments) == 0 {
		fmt.Fprintln(w, output.StyleMuted.Render("No history for "+date))
		return nil
	}
	tbl := output.NewTable("START", "END", "STATE", "MIN", "BREAKDOWN")
	for _, seg := range segments {
		tbl.AddRow(
			seg.StartTime.In(loc).Format("15:04"),
			seg.EndTime.In(loc).Format("15:04"),
			output.State(seg.State),
			fmt.Sprintf("%.1f", seg.DurationMin),
			breakdown(seg.Breakdown),
		)
	}
	fmt.Fprint(w, tbl.Render())
	return nil
}

// breakdown lists weighted seconds as minutes, largest first, ties by name.
func breakdown(shares map[model.State]float64) string {
	states := make([]model.State, 0, len(shares))
	for s := range shares {
		states = append(states, s)
	}
	slices.SortFunc(states, func(a, b model.State) int {
		if shares[a] != shares[b] {
			if shares[a] > shares[b] {
				return -1
			}
			return 1
		}
		return strings.Compare(string(a), string(b))
	})
	parts := make([]string, 0, len(states))
	for _, s := range states {
		parts = append(parts, fmt.Sprintf("%s %.1fm", s, shares[s]/60))
	}
	return strings.Join(parts, ", ")
}
