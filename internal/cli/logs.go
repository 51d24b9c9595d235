package cli

import (
	"github.com/spf13/cobra"

	"stackbuild/internal/logview"
)

func newLogsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logs [project]",
		Short: "Browse the build logs in a terminal viewer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			start := ""
			if len(args) == 1 {
				start = args[0]
			}
			return logview.New(app.cfg.LogDir(), start).Run()
		},
	}
}
