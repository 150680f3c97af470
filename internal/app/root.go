// Package app contains the cobra command tree for sidekick.
package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sidekick/internal/config"
	"sidekick/internal/output"
)

var appVersion = "dev"

// SetVersion sets the version reported by --version and /health.
func SetVersion(v string) {
	appVersion = v
	rootCmd.Version = v
}

var (
	flagNoColor bool
	flagJSON    bool
	flagVerbose bool
)

// settings resolves overrides from flags first, then SIDEKICK_* variables.
var settings = viper.New()

var rootCmd = &cobra.Command{
	Use:   "sidekick",
	Short: "Working-state inference for a desktop companion",
	Long: `sidekick fuses camera and PC usage snapshots into one working state
(focused, drowsy, distracted, away), keeps a history of it, and raises
break, wake-up and refocus notifications.

Run 'sidekick serve' to start the engine and HTTP API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		output.SetNoColor(flagNoColor || !output.IsTerminal(os.Stdout))
	},
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file path (default: ~/.sidekick/config.yaml)")
	pf.BoolVar(&flagNoColor, "no-color", false, "Disable colored output")
	pf.BoolVar(&flagJSON, "json", false, "Output as JSON")
	pf.BoolVar(&flagVerbose, "verbose", false, "Enable debug logging")
	pf.String("log-level", "", "Log level override (debug, info, warn, error)")
	pf.String("api-addr", "", "HTTP API listen address override")
	pf.String("storage-driver", "", "History store driver override (sqlite, postgres, memory)")
	pf.String("storage-dsn", "", "History store DSN override")

	settings.SetEnvPrefix("sidekick")
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	settings.AutomaticEnv()
	for key, flag := range map[string]string{
		"config":         "config",
		"log_level":      "log-level",
		"api_addr":       "api-addr",
		"storage_driver": "storage-driver",
		"storage_dsn":    "storage-dsn",
	} {
		if err := settings.BindPFlag(key, pf.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func configPath() string {
	if p := settings.GetString("config"); p != "" {
		return config.ResolvePath(p)
	}
	return config.DefaultPath()
}

// applyOverrides copies flag and environment overrides onto cfg. Arbitration
// credentials are environment-only.
func applyOverrides(cfg *config.Config) {
	if v := settings.GetString("log_level"); v != "" {
		cfg.LogLevel = v
	}
	if flagVerbose {
		cfg.LogLevel = "debug"
	}
	if v := settings.GetString("api_addr"); v != "" {
		cfg.API.Addr = v
	}
	if v := settings.GetString("storage_driver"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := settings.GetString("storage_dsn"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := settings.GetString("arbitration_mode"); v != "" {
		cfg.Arbitration.Mode = v
	}
	if v := settings.GetString("arbitration_base_url"); v != "" {
		cfg.Arbitration.BaseURL = v
	}
	if v := settings.GetString("arbitration_model"); v != "" {
		cfg.Arbitration.Model = v
	}
	if v := settings.GetString("arbitration_api_key"); v != "" {
		cfg.Arbitration.APIKey = v
	}
}

func loadConfig() (*config.Manager, error) {
	mgr, err := config.NewManager(configPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := mgr.SetOverlay(applyOverrides); err != nil {
		return nil, err
	}
	return mgr, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
