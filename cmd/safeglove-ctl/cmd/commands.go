package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/safeglove/internal/domain/threat"
	"github.com/oshokin/safeglove/internal/service/client"
)

// errInvalidSwitch is returned when auto-response gets something other than on or off.
var errInvalidSwitch = errors.New("expected on or off")

func newEmitCommand() *cobra.Command {
	emitOptions := client.EmitOptions{PersonCount: -1}

	command := &cobra.Command{
		Use:   "emit <source> <value>",
		Short: "Publish one signal event.",
		Long: fmt.Sprintf(`Publishes one signal event with a magnitude or confidence in [0,1].

Known sources: %v.
The event is retried while the engine is unavailable or its bus is full.
Timestamps further ahead of the engine clock than bus.max_skew_ms are rejected.`, threat.SourceKinds()),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("parse value: %w", err)
			}

			ctx, stop := signalContext()
			defer stop()

			emitOptions.Options = options
			emitOptions.Options.Out = cmd.OutOrStdout()
			emitOptions.Source = args[0]
			emitOptions.Value = value

			return client.Emit(ctx, &emitOptions)
		},
	}

	command.Flags().IntVar(&emitOptions.PersonCount, "person-count", -1, "number of persons detected (vision-person)")
	command.Flags().StringVar(&emitOptions.GestureID, "gesture", "", "recognized gesture id (vision-gesture)")
	command.Flags().IntVar(&emitOptions.Attempts, "attempts", client.DefaultAttempts, "maximum number of attempts")
	command.Flags().DurationVar(&emitOptions.RetryInterval, "retry-interval", client.DefaultRetryInterval,
		"delay between attempts")
	command.Flags().Var(newTimeValue(&emitOptions.Timestamp), "at", "event timestamp in RFC 3339, defaults to now")

	return command
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session level, score, tasks and incidents.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			opts := options
			opts.Out = cmd.OutOrStdout()

			return client.Status(ctx, &opts)
		},
	}
}

func newRestartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Start a fresh session at Safe.",
		Long: `Starts a fresh session: fusion windows are cleared, cancellable response
tasks are cancelled and the open incident is resolved. No transition is emitted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			opts := options
			opts.Out = cmd.OutOrStdout()

			return client.Restart(ctx, &opts)
		},
	}
}

func newAutoResponseCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "auto-response <on|off>",
		Short:     "Enable or disable SMS and authority contact.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool

			switch args[0] {
			case "on":
				enabled = true
			case "off":
			default:
				return fmt.Errorf("%w: %q", errInvalidSwitch, args[0])
			}

			ctx, stop := signalContext()
			defer stop()

			opts := options
			opts.Out = cmd.OutOrStdout()

			return client.SetAutoResponse(ctx, &opts, enabled)
		},
	}
}

func newSelfTestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Probe every response gateway.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			opts := options
			opts.Out = cmd.OutOrStdout()

			return client.SelfTest(ctx, &opts)
		},
	}
}

// timeValue is a pflag.Value parsing RFC 3339 timestamps.
type timeValue struct {
	target *time.Time
}

func newTimeValue(target *time.Time) *timeValue {
	return &timeValue{target: target}
}

func (v *timeValue) String() string {
	if v.target == nil || v.target.IsZero() {
		return ""
	}

	return v.target.Format(time.RFC3339Nano)
}

func (v *timeValue) Set(raw string) error {
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return err
	}

	*v.target = parsed

	return nil
}

func (v *timeValue) Type() string {
	return "time"
}
