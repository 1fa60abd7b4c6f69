package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/safeglove/internal/config"
	"github.com/oshokin/safeglove/internal/service/engine"
	"github.com/oshokin/safeglove/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// metricsAddress overrides the metrics endpoint address.
	metricsAddress string
	// logLevel overrides the configured log level.
	logLevel string

	// rootCmd represents the base command for running the engine.
	rootCmd = &cobra.Command{
		Use:   "safeglove-engine [listen-address]",
		Short: "Run the threat-escalation engine.",
		Long: `Starts the engine that fuses sensor and vision signals into a threat score,
escalates through Safe, Caution, Alert and Emergency, and dispatches responses.

Producers publish signal events and operators control the session over gRPC.
The listen address can be provided as argument to override config (e.g., :50551).
Prometheus metrics are served on metrics_addr when configured.
Resolved incidents are persisted to incident_file for recovery across restarts.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &engine.Options{
				ConfigPath:     configPath,
				ListenAddress:  listenAddress,
				MetricsAddress: metricsAddress,
				LogLevel:       logLevel,
			}

			return engine.Run(ctx, options)
		},
	}
)

// Execute runs the safeglove-engine CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&metricsAddress, "metrics-addr", "m", "", "address of the /metrics endpoint")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")
}
