package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/imcf/image-tools/internal/config"
	"github.com/imcf/image-tools/internal/logging"
	"github.com/imcf/image-tools/internal/status"
)

var (
	// cfg and logger are set up before any subcommand runs.
	cfg    config.Config
	logger zerolog.Logger

	configPath string
	prefsPath  string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "image-tools",
	Short:         "Helpers for microscopy image analysis and OMERO",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath, prefsPath)
		if err != nil {
			return err
		}

		level := logging.LevelFromEnv(cfg.LogLevel)
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}
		logger = logging.NewConsole(level)
		logger.Debug().
			Str("config", configPath).
			Str("prefs", prefsPath).
			Str("level", level).
			Msg("configuration loaded")
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(fmt.Sprintf("image-tools %s\n  Build time: %s\n  Git commit: %s\n", Version, BuildTime, GitCommit))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&prefsPath, "prefs", "", "Preferences file holding imcf.sender_email and imcf.smtpserver")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error); overrides "+logging.EnvLevel)
}

// newReporter draws progress on stderr when it is a terminal and only logs
// otherwise.
func newReporter() *status.Reporter {
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return status.NewReporter(logger, os.Stderr)
	}
	return status.NewReporter(logger, nil)
}
