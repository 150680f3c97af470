package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"sidekick/internal/model"
	"sidekick/internal/storage"
)

var respondCmd = &cobra.Command{
	Use:   "respond <notification-id> <accepted|snoozed|dismissed>",
	Short: "Record the user's response to a notification",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		store, err := openStore(ctx, mgr.Get().Storage)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		return respond(ctx, cmd.OutOrStdout(), store, args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(respondCmd)
}

func respond(ctx context.Context, w io.Writer, store storage.Store, id, action string) error {
	a := model.UserAction(action)
	if !a.Valid() {
		return fmt.Errorf("invalid action %q: use accepted, snoozed or dismissed", action)
	}
	if err := store.RecordUserAction(ctx, id, a); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("notification %s not found", id)
		}
		return fmt.Errorf("recording response: %w", err)
	}
	if flagJSON {
		return writeJSON(w, map[string]string{"status": "ok", "id": id, "action": action})
	}
	fmt.Fprintf(w, "Recorded %s for %s\n", action, id)
	return nil
}
