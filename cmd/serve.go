package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// newServeCmd creates the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the HTTP API and scheduled runs",
		Long: `Starts the HTTP server (/invoke, /healthz, /readyz, /metrics) and runs
check_domains on the configured cron schedule until interrupted.`,
		Annotations: map[string]string{needsAppAnnotation: "true"},
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			if err := appInstance.Serve(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		}),
	}
}
