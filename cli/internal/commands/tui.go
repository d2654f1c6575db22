package commands

import (
	"fmt"
	"os"

	"github.com/malbeclabs/notes/cli/internal/tui"
	"github.com/malbeclabs/notes/utils/pkg/logger"
	"github.com/spf13/cobra"
)

func newTUICommand(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Browse and edit notes interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// The terminal belongs to the UI; logs go to a file under the state dir.
			if err := os.MkdirAll(r.cfg.StateDir, 0o700); err != nil {
				return fmt.Errorf("failed to create state dir: %w", err)
			}
			f, err := os.OpenFile(r.cfg.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer f.Close()
			log := logger.NewWithWriter(f, r.verbose, true)

			a, closeApp, err := r.openApp(ctx, openOptions{log: log})
			if err != nil {
				return err
			}
			defer closeApp()

			return tui.Run(ctx, tui.Config{
				Logger:         log,
				App:            a,
				ConfirmTimeout: r.cfg.ConfirmTimeout.Std(),
			})
		},
	}
}
