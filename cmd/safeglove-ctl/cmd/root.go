package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/safeglove/internal/config"
	"github.com/oshokin/safeglove/internal/service/client"
	"github.com/oshokin/safeglove/internal/version"
)

var (
	// options are shared by every subcommand.
	options client.Options

	// rootCmd represents the base command of the control CLI.
	rootCmd = &cobra.Command{
		Use:   "safeglove-ctl",
		Short: "Publish signals to and control a safeglove engine.",
		Long: `Command-line client of the safeglove engine.

Producers use emit to publish signal events. Operators inspect the session with
status, start a fresh session with restart, toggle SMS and authority contact
with auto-response, and probe every response gateway with selftest.
The server address comes from the configuration file unless --server is set.`,
		SilenceUsage: true,
	}
)

// Execute runs the safeglove-ctl CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext cancels on SIGTERM or SIGINT.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&options.ConfigPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().
		StringVarP(&options.ServerAddress, "server", "s", "", "engine address, overrides configuration")

	rootCmd.AddCommand(newEmitCommand(), newStatusCommand(), newRestartCommand(), newAutoResponseCommand(), newSelfTestCommand())
}
