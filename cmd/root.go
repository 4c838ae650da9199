// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/attendant/internal/config"
	"github.com/xkilldash9x/attendant/internal/observability"
)

// app carries the state shared by every subcommand of one root command.
type app struct {
	cfgFile  string
	envFile  string
	logLevel string

	v   *viper.Viper
	cfg *config.Config

	// stdin is read by the manual captcha prompt.
	stdin io.Reader
}

// NewRootCommand builds a fresh command tree. Every call gets its own viper
// instance so tests never share state.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New(), stdin: os.Stdin}

	rootCmd := &cobra.Command{
		Use:   "attendant",
		Short: "Attendant files StarASN presence reports.",
		Long: "Attendant logs into the StarASN portal, solves the login captcha, " +
			"and submits the arrival or departure presence report for the current time of day.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initializeConfig(); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "attendant"})
				return err
			}
			observability.InitializeLogger(a.cfg.Logger())
			observability.GetLogger().Debug("Configuration loaded.", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file with credentials; missing is fine")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logger.level")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newRunCmd(a),
		newProbeCmd(a),
		newHistoryCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command with a signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		observability.GetLogger().Warn("Interrupted.")
		return err
	}
	if errors.Is(err, errRunFailed) {
		// The run already logged and notified.
		return err
	}
	observability.GetLogger().Error("Command execution failed", zap.Error(err))
	fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	return err
}

// initializeConfig layers defaults, config file, .env and environment, in that
// order of increasing precedence.
func (a *app) initializeConfig() error {
	if a.envFile != "" {
		// godotenv never overrides variables already present in the environment.
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error loading env file %s: %w", a.envFile, err)
		}
	}

	v := a.v
	config.SetDefaults(v)

	if a.cfgFile != "" {
		v.SetConfigFile(a.cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("ATTENDANT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}

	if a.logLevel != "" {
		v.Set("logger.level", a.logLevel)
	}

	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}
