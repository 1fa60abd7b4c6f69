package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oshokin/safeglove/internal/config"
	"github.com/oshokin/safeglove/internal/domain/threat"
	"github.com/oshokin/safeglove/internal/logger"
	"github.com/oshokin/safeglove/internal/service/common"
)

// Options configures the connection shared by every command.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string
	// ServerAddress overrides server address from config when specified.
	ServerAddress string
	// Out receives rendered output; defaults to stdout.
	Out io.Writer
}

// EmitOptions describes one signal event to publish.
type EmitOptions struct {
	Options

	Source string
	Value  float64
	// PersonCount is sent when non-negative.
	PersonCount int
	GestureID   string
	// Timestamp defaults to now.
	Timestamp time.Time
	// Attempts bounds the retries while the engine is unavailable or busy.
	Attempts int
	// RetryInterval is the delay between attempts.
	RetryInterval time.Duration
}

const (
	// DefaultAttempts is the number of emit attempts.
	DefaultAttempts = 5
	// DefaultRetryInterval is the delay between emit attempts.
	DefaultRetryInterval = 1 * time.Second
)

var (
	// ErrUnknownSource is returned for source names that are not source kinds.
	ErrUnknownSource = errors.New("unknown source kind")
	// ErrSelfTestFailed is returned when at least one executor failed its probe.
	ErrSelfTestFailed = errors.New("self-test failed")
)

// emitter is the part of the client Emit depends on.
type emitter interface {
	Emit(ctx context.Context, ev threat.SignalEvent) error
}

// Emit publishes one event, retrying while the engine is unavailable or its
// bus is full. Invalid events fail immediately.
func Emit(ctx context.Context, opts *EmitOptions) error {
	source, ok := threat.ParseSourceKind(opts.Source)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSource, opts.Source)
	}

	ev := threat.SignalEvent{
		Source:    source,
		Timestamp: opts.Timestamp,
		Value:     opts.Value,
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if opts.PersonCount >= 0 || opts.GestureID != "" {
		ev.Payload = &threat.Payload{GestureID: opts.GestureID}

		if opts.PersonCount >= 0 {
			count := opts.PersonCount
			ev.Payload.PersonCount = &count
		}
	}

	if err := ev.Validate(); err != nil {
		return err
	}

	ctx = logger.WithName(ctx, "emit")

	client, err := connect(ctx, &opts.Options)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	if err = emitWithRetry(ctx, client, ev, opts.Attempts, opts.RetryInterval); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Event published", "source", string(ev.Source), "value", ev.Value)

	return nil
}

// emitWithRetry tries once immediately and then on every interval.
func emitWithRetry(ctx context.Context, client emitter, ev threat.SignalEvent, attempts int, interval time.Duration) error {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	if interval <= 0 {
		interval = DefaultRetryInterval
	}

	var err error

	for attempt := 1; ; attempt++ {
		err = client.Emit(ctx, ev)
		if err == nil || !retryable(err) || attempt >= attempts {
			return err
		}

		logger.WarnKV(ctx, "Emit failed, retrying", "attempt", attempt, "error", err)

		timer := time.NewTimer(interval)

		select {
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		case <-timer.C:
		}
	}
}

func retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

// Status prints the session snapshot.
func Status(ctx context.Context, opts *Options) error {
	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	snapshot, err := client.Status(ctx)
	if err != nil {
		return err
	}

	RenderStatus(output(opts), snapshot)

	return nil
}

// Restart starts a fresh session and prints the new snapshot.
func Restart(ctx context.Context, opts *Options) error {
	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	snapshot, err := client.RestartSession(ctx)
	if err != nil {
		return err
	}

	RenderStatus(output(opts), snapshot)

	return nil
}

// SetAutoResponse toggles SMS and authority-contact actions.
func SetAutoResponse(ctx context.Context, opts *Options, enabled bool) error {
	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	snapshot, err := client.SetAutoResponse(ctx, enabled)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(output(opts), "Automatic response: %s\n", onOff(snapshot.AutoResponse))

	return nil
}

// SelfTest probes every executor and fails when any probe failed.
func SelfTest(ctx context.Context, opts *Options) error {
	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	checks, err := client.TestSystems(ctx)
	if err != nil {
		return err
	}

	if !RenderChecks(output(opts), checks) {
		return ErrSelfTestFailed
	}

	return nil
}

// connect loads settings and dials the engine; the address override wins.
func connect(ctx context.Context, opts *Options) (*common.Client, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	serverAddress := cfg.ServerAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	clientOptions := []common.Option{common.WithCallTimeout(cfg.Timeout)}

	// The actor is only used for the engine's audit log.
	if actor, err := common.DetectActor(); err == nil {
		clientOptions = append(clientOptions, common.WithActor(actor))
	} else {
		logger.DebugKV(ctx, "Actor detection failed", "error", err)
	}

	client, err := common.Dial(ctx, serverAddress, clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("dial server: %w", err)
	}

	return client, nil
}

func output(opts *Options) io.Writer {
	if opts.Out != nil {
		return opts.Out
	}

	return os.Stdout
}
