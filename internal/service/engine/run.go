package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/oshokin/safeglove/internal/api/grpc/glove"
	"github.com/oshokin/safeglove/internal/config"
	"github.com/oshokin/safeglove/internal/logger"
	"github.com/oshokin/safeglove/internal/version"
)

const (
	// shutdownTimeout bounds the wait for in-flight dispatch tasks on exit.
	shutdownTimeout = 10 * time.Second
	// readHeaderTimeout protects the metrics endpoint from slow clients.
	readHeaderTimeout = 5 * time.Second
)

// Options controls the engine process.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress overrides the gRPC listen address.
	ListenAddress string
	// MetricsAddress overrides the metrics listen address.
	MetricsAddress string
	// LogLevel overrides the configured log level.
	LogLevel string
}

var (
	// ErrNoServerAddress indicates missing server configuration.
	ErrNoServerAddress = errors.New("no server address configured")
	// ErrInvalidLogLevel is returned for unknown log level names.
	ErrInvalidLogLevel = errors.New("invalid log level")
)

// Run starts the session, the gRPC server and the metrics endpoint and blocks
// until the context is cancelled or a server fails.
func Run(ctx context.Context, opts *Options) error {
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if err = configureLogging(settings, opts.LogLevel); err != nil {
		return err
	}

	// The logger is picked up after configureLogging may have replaced it.
	ctx = logger.WithName(ctx, "safeglove-engine")

	listenAddress, err := resolveListenAddress(settings.ServerAddress, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	metricsAddress := settings.MetricsAddress
	if opts.MetricsAddress != "" {
		metricsAddress = opts.MetricsAddress
	}

	// Dispatch tasks outlive the signal context until Close cancels them.
	components, err := Build(context.WithoutCancel(ctx), settings)
	if err != nil {
		return fmt.Errorf("initialise engine: %w", err)
	}

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return errors.Join(fmt.Errorf("listen on %s: %w", listenAddress, err), shutdown(ctx, components))
	}

	grpcServer := grpc.NewServer()
	glove.RegisterGloveServiceServer(grpcServer, glove.NewServer(components.Session))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		runErr  error
	)

	fail := func(err error) {
		errOnce.Do(func() { runErr = err })
		cancel()
	}

	wg.Go(func() {
		if err := components.Bus.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			fail(fmt.Errorf("event bus: %w", err))
		}
	})

	sessionDone := make(chan struct{})

	go func() {
		defer close(sessionDone)

		if err := components.Session.Run(runCtx); err != nil {
			fail(fmt.Errorf("session: %w", err))
		}
	}()

	var metricsServer *http.Server

	if metricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", components.Metrics.Handler())

		metricsServer = &http.Server{
			Addr:              metricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		}

		wg.Go(func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fail(fmt.Errorf("serve metrics: %w", err))
			}
		})

		logger.InfoKV(ctx, "Metrics endpoint listening", "metrics_address", metricsAddress)
	}

	wg.Go(func() {
		<-runCtx.Done()
		logger.Info(ctx, "Shutting down gRPC server")
		grpcServer.GracefulStop()
	})

	logger.InfoKV(ctx, "Engine listening",
		"version", version.Full(),
		"listen_address", listenAddress,
		"session_id", components.Session.SessionID(),
		"incident_file", settings.IncidentFile)

	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		fail(fmt.Errorf("serve gRPC: %w", err))
	}

	cancel()
	<-sessionDone

	if metricsServer != nil {
		shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), readHeaderTimeout)
		_ = metricsServer.Shutdown(shutdownCtx)

		stop()
	}

	wg.Wait()

	if err := shutdown(ctx, components); err != nil {
		runErr = errors.Join(runErr, err)
	}

	logger.Info(ctx, "Engine stopped")

	return runErr
}

// shutdown closes the components within shutdownTimeout.
func shutdown(ctx context.Context, components *Components) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := components.Close(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}

// configureLogging applies the log level and format; override wins over settings.
func configureLogging(settings *config.Config, override string) error {
	if encoding, ok := logger.ParseEncoding(settings.LogFormat); ok && encoding != logger.EncodingConsole {
		logger.SetLogger(logger.NewWithEncoding(encoding, nil, logger.AtomicLevel()))
	}

	name := settings.LogLevel
	if override != "" {
		name = override
	}

	if name == "" {
		return nil
	}

	level, ok := logger.ParseLogLevel(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, name)
	}

	logger.SetLevel(level)

	return nil
}

// resolveListenAddress determines the listen address for the gRPC server.
// If override is provided, uses it directly. Otherwise the configured address
// is used as is.
func resolveListenAddress(configAddr, override string) (string, error) {
	if override != "" {
		return override, nil
	}

	if configAddr == "" {
		return "", ErrNoServerAddress
	}

	if _, _, err := net.SplitHostPort(configAddr); err != nil {
		return "", fmt.Errorf("invalid server address format %q: %w", configAddr, err)
	}

	return configAddr, nil
}
