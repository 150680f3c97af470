package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"sidekick/internal/arbiter"
	"sidekick/internal/classify"
	"sidekick/internal/ingest"
	"sidekick/internal/model"
	"sidekick/internal/output"
)

var (
	classifyFacial    string
	classifyUsage     string
	classifyArbitrate bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify one pair of snapshots without touching history",
	Long: `Run the rule cascade over a facial and/or usage snapshot read from JSON
files. Ambiguous cases go to the fallback rules, or to the configured
arbitration backend with --arbitrate.

Examples:
  sidekick classify --facial face.json --usage pc.json
  sidekick classify --facial face.json --arbitrate --json`,
	Args: cobra.NoArgs,
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().StringVar(&classifyFacial, "facial", "", "Facial snapshot JSON file")
	classifyCmd.Flags().StringVar(&classifyUsage, "usage", "", "PC usage snapshot JSON file")
	classifyCmd.Flags().BoolVar(&classifyArbitrate, "arbitrate", false, "Send ambiguous cases to the arbitration backend")
	rootCmd.AddCommand(classifyCmd)
}

type classifyReport struct {
	model.ClassificationResult
	Ambiguous bool `json:"ambiguous"`
}

func runClassify(cmd *cobra.Command, args []string) error {
	if classifyFacial == "" && classifyUsage == "" {
		return errors.New("at least one of --facial or --usage is required")
	}
	mgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	opts := ingest.DecodeOptions{MaxFutureSkew: cfg.Engine.MaxFutureSkew, Location: cfg.Engine.Location()}
	facial, usage, err := readSnapshots(classifyFacial, classifyUsage, opts)
	if err != nil {
		return err
	}
	var loader *arbiter.Loader
	if classifyArbitrate {
		loader = arbiter.NewLoader(cfg.Arbitration, nil, nil)
		defer func() { _ = loader.Release() }()
	}
	report, err := classifyOnce(cmd.Context(), facial, usage, loader)
	if err != nil {
		return err
	}
	return showClassification(cmd.OutOrStdout(), report, flagJSON)
}

func readSnapshots(facialPath, usagePath string, opts ingest.DecodeOptions) (*model.FacialSnapshot, *model.UsageSnapshot, error) {
	var facial *model.FacialSnapshot
	var usage *model.UsageSnapshot
	if facialPath != "" {
		data, err := os.ReadFile(facialPath)
		if err != nil {
			return nil, nil, fmt.Errorf("reading facial snapshot: %w", err)
		}
		sig, err := ingest.DecodeFacial(data, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", facialPath, err)
		}
		facial = sig.Facial
	}
	if usagePath != "" {
		data, err := os.ReadFile(usagePath)
		if err != nil {
			return nil, nil, fmt.Errorf("reading usage snapshot: %w", err)
		}
		sig, err := ingest.DecodeUsage(data, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", usagePath, err)
		}
		usage = sig.Usage
	}
	return facial, usage, nil
}

// classifyOnce mirrors one engine tick without persistence. A nil loader
// means ambiguous cases use the fallback rules.
func classifyOnce(ctx context.Context, facial *model.FacialSnapshot, usage *model.UsageSnapshot, loader *arbiter.Loader) (classifyReport, error) {
	outcome := classify.Classify(facial, usage)
	if res, ok := outcome.Result(); ok {
		return classifyReport{ClassificationResult: res}, nil
	}
	report := classifyReport{Ambiguous: true}
	if loader == nil {
		report.ClassificationResult = classify.Fallback(facial, usage)
		return report, nil
	}
	prompt, err := classify.UserPrompt(facial, usage)
	if err != nil {
		return report, fmt.Errorf("building prompt: %w", err)
	}
	verdict, err := loader.Classify(ctx, classify.SystemPrompt, prompt)
	if err != nil {
		fmt.Fprintln(os.Stderr, output.StyleMuted.Render("arbitration unavailable, using fallback: "+err.Error()))
		report.ClassificationResult = classify.Fallback(facial, usage)
		return report, nil
	}
	report.ClassificationResult = model.ClassificationResult{
		State:      verdict.State,
		Confidence: verdict.Confidence,
		Reasoning:  verdict.Reasoning,
		Source:     model.SourceArbitration,
	}
	return report, nil
}

func showClassification(w io.Writer, r classifyReport, asJSON bool) error {
	if asJSON {
		return writeJSON(w, r)
	}
	fmt.Fprintln(w, output.KV("state", output.State(r.State)))
	fmt.Fprintln(w, output.KV("confidence", fmt.Sprintf("%.2f", r.Confidence)))
	fmt.Fprintln(w, output.KV("source", string(r.Source)))
	fmt.Fprintln(w, output.KV("reasoning", r.Reasoning))
	return nil
}
