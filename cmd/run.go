// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/attendant/internal/config"
	"github.com/xkilldash9x/attendant/internal/notify"
	"github.com/xkilldash9x/attendant/internal/observability"
	"github.com/xkilldash9x/attendant/internal/orchestrator"
	"github.com/xkilldash9x/attendant/internal/portal"
)

// errRunFailed marks a run that finished without filing its report.
var errRunFailed = errors.New("run failed")

type runOptions struct {
	dryRun        bool
	force         bool
	manualCaptcha bool
	reportType    string
	insecure      bool
	requireModule bool
}

// newRunCmd creates and configures the `run` command.
func newRunCmd(a *app) *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Log in and submit the presence report for the current time of day",
		Long: "Run performs one complete presence run: workday check, login with captcha, " +
			"module probe, report submission and notification. Schedule it with cron or a systemd timer.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPresence(cmd, opts)
		},
	}

	runCmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "log in and probe, but do not submit")
	runCmd.Flags().BoolVar(&opts.force, "force", false, "run even on a Saturday or Sunday")
	runCmd.Flags().BoolVar(&opts.manualCaptcha, "manual-captcha", false, "type the captcha yourself instead of using the recognition service")
	runCmd.Flags().StringVar(&opts.reportType, "type", "", "force the report type (arrival|departure)")
	runCmd.Flags().BoolVar(&opts.insecure, "insecure", false, "skip TLS certificate verification")
	runCmd.Flags().BoolVar(&opts.requireModule, "require-module", false, "do not submit when the presence module looks unavailable")
	return runCmd
}

func (a *app) runPresence(cmd *cobra.Command, opts runOptions) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()

	var cfg config.Interface = a.cfg
	applyRunOverrides(cmd, cfg, opts)

	var forced *portal.ReportType
	if opts.reportType != "" {
		rt, err := portal.ParseReportType(opts.reportType)
		if err != nil {
			return err
		}
		forced = &rt
	}

	if err := cfg.Portal().RequireCoordinates(); err != nil {
		return err
	}

	loc, err := cfg.Schedule().Location()
	if err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}

	components, err := initializePortalComponents(ctx, cfg, consoleFor(a.stdin, cmd.ErrOrStderr(), cfg), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize run components: %w", err)
	}
	defer components.Shutdown()

	dispatcher := notify.FromConfig(cfg.Notify(), logger)
	orch, err := orchestrator.New(orchestrator.Components{
		Auth:     components.Auth,
		Probe:    components.Probe,
		Reporter: components.Reporter,
		Notifier: dispatcher,
	}, orchestrator.Settings{
		Location:                   loc,
		Latitude:                   cfg.Portal().Latitude,
		Longitude:                  cfg.Portal().Longitude,
		ProceedOnUnavailableModule: cfg.Policy().ProceedOnUnavailableModule,
		NotifyOnAuthFailure:        cfg.Notify().OnAuthFailure,
		Force:                      opts.force,
		ReportType:                 forced,
		DryRun:                     opts.dryRun,
	}, logger)
	if err != nil {
		return err
	}

	out := orch.Run(ctx)

	if err := dispatcher.Wait(); err != nil {
		logger.Warn("Notification delivery failed.", zap.Error(err))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", out.Status, out.ReportType, out.RunID)
	return runResult(out)
}

// applyRunOverrides pushes explicitly set flags into the config.
func applyRunOverrides(cmd *cobra.Command, cfg config.Interface, opts runOptions) {
	if opts.manualCaptcha {
		cfg.SetRecognitionProvider(config.ProviderManual)
	}
	if cmd.Flags().Changed("insecure") {
		cfg.SetNetworkInsecureSkipVerify(opts.insecure)
	}
	if cmd.Flags().Changed("require-module") {
		cfg.SetPolicyProceedOnUnavailableModule(!opts.requireModule)
	}
}

// runResult maps an outcome to the command error that decides the exit code.
func runResult(out orchestrator.Outcome) error {
	switch out.Status {
	case orchestrator.StatusReported, orchestrator.StatusNonWorkday, orchestrator.StatusDryRun:
		return nil
	case orchestrator.StatusCancelled:
		return context.Canceled
	default:
		if out.Err != nil {
			return fmt.Errorf("%w (%s): %w", errRunFailed, out.Status, out.Err)
		}
		return fmt.Errorf("%w (%s)", errRunFailed, out.Status)
	}
}
