// File: cmd/probe.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/attendant/internal/observability"
)

// newProbeCmd creates the `probe` command: log in, check the presence module,
// optionally dump the page for inspection. Nothing is submitted.
func newProbeCmd(a *app) *cobra.Command {
	var dumpFile string

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Log in and check whether the presence module is available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			components, err := initializePortalComponents(ctx, a.cfg, consoleFor(a.stdin, cmd.ErrOrStderr(), a.cfg), logger)
			if err != nil {
				return fmt.Errorf("failed to initialize probe components: %w", err)
			}
			defer components.Shutdown()

			auth, err := components.Auth.Authenticate(ctx)
			if err != nil {
				return fmt.Errorf("login failed after %d attempts: %w", len(auth.Attempts), err)
			}

			res, err := components.Probe.Inspect(ctx)
			if err != nil {
				return fmt.Errorf("probe failed: %w", err)
			}

			if dumpFile != "" {
				if err := os.WriteFile(dumpFile, []byte(res.Page), 0o600); err != nil {
					return fmt.Errorf("failed to write page dump: %w", err)
				}
				logger.Info("Page dumped.", zap.String("file", dumpFile), zap.Int("bytes", len(res.Page)))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "login: ok (%d attempts)\nmodule available: %t\nstatus: %d\n",
				len(auth.Attempts), res.Available, res.StatusCode)
			return nil
		},
	}

	probeCmd.Flags().StringVar(&dumpFile, "dump", "", "write the probed page to this file")
	return probeCmd
}
