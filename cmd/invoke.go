package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitewatch/internal/clock/system"
	"github.com/JakeFAU/sitewatch/internal/handler"
	"github.com/JakeFAU/sitewatch/internal/server"
)

type invokeError struct {
	status int
	err    error
}

func (e *invokeError) Error() string {
	return fmt.Sprintf("invocation returned %d: %v", e.status, e.err)
}

func (e *invokeError) Unwrap() error {
	return e.err
}

// newInvokeCmd creates the 'invoke' subcommand, which runs a single event
// through the handler and prints the response.
func newInvokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Runs one invocation event",
		Long: `Runs one event through the invocation handler and prints the JSON
response. --mode check_domains performs a scan; any other mode is a test
invocation that only reports the current time.`,
		Annotations: map[string]string{needsAppAnnotation: "true"},
		RunE: withApp(runInvokeCommand),
	}
	cmd.Flags().String("mode", handler.ModeCheckDomains, "run_mode of the event")
	cmd.Flags().Int64("at", 0, "unix seconds to use as the run time instead of the wall clock")
	return cmd
}

func runInvokeCommand(cmd *cobra.Command, appInstance App) error {
	mode, err := cmd.Flags().GetString("mode")
	if err != nil {
		return fmt.Errorf("read mode flag: %w", err)
	}

	resp, runErr := appInstance.Invoke(cmd.Context(), mode)
	out, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(out)); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if runErr != nil {
		return &invokeError{status: resp.StatusCode, err: runErr}
	}
	return nil
}

// appOptions translates command flags into build options.
func appOptions(cmd *cobra.Command) ([]server.Option, error) {
	var opts []server.Option
	if f := cmd.Flags().Lookup("at"); f != nil && f.Changed {
		at, err := cmd.Flags().GetInt64("at")
		if err != nil {
			return nil, fmt.Errorf("read at flag: %w", err)
		}
		opts = append(opts, server.WithClock(system.NewFrozen(time.Unix(at, 0).UTC())))
	}
	return opts, nil
}
