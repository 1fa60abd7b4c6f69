package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/oshokin/safeglove/internal/bus"
	"github.com/oshokin/safeglove/internal/config"
	"github.com/oshokin/safeglove/internal/dispatch"
	"github.com/oshokin/safeglove/internal/domain/threat"
	"github.com/oshokin/safeglove/internal/escalation"
	"github.com/oshokin/safeglove/internal/executor"
	"github.com/oshokin/safeglove/internal/fusion"
	"github.com/oshokin/safeglove/internal/logger"
	"github.com/oshokin/safeglove/internal/repository/dedup"
	"github.com/oshokin/safeglove/internal/repository/incident"
	"github.com/oshokin/safeglove/internal/telemetry"
)

// Components are the collaborators of a session built from configuration.
type Components struct {
	Bus         *bus.Bus
	Fusion      *fusion.Engine
	Machine     *escalation.Machine
	Coordinator *dispatch.Coordinator
	Metrics     *telemetry.Metrics
	Session     *Session
	// closers release external connections after the coordinator is closed.
	closers []func() error
}

// Build creates every component of a session from validated settings.
// The dispatch coordinator is bound to ctx.
func Build(ctx context.Context, settings *config.Config) (*Components, error) {
	engine, err := fusion.New(fusionOptions(&settings.Fusion))
	if err != nil {
		return nil, fmt.Errorf("create fusion engine: %w", err)
	}

	plan, err := dispatch.PlanFromConfig(settings.Dispatch.Map)
	if err != nil {
		return nil, fmt.Errorf("create dispatch plan: %w", err)
	}

	executors, fallbacks, err := buildExecutors(settings.Executors)
	if err != nil {
		return nil, err
	}

	components := &Components{
		Bus:     bus.New(bus.WithCapacity(settings.Bus.Capacity), bus.WithMaxSkew(settings.Bus.MaxSkew())),
		Metrics: telemetry.NewMetrics(),
		Machine: escalation.New(escalation.Options{
			Thresholds: escalation.Thresholds{
				Caution:    settings.Thresholds.Caution,
				Alert:      settings.Thresholds.Alert,
				Emergency:  settings.Thresholds.Emergency,
				Hysteresis: settings.Thresholds.Hysteresis,
			},
			Debounce:  settings.Debounce(),
			SessionID: uuid.NewString(),
		}),
		Fusion: engine,
	}

	store, history, err := loadIncidents(ctx, settings.IncidentFile)
	if err != nil {
		return nil, err
	}

	deduper := buildDeduper(ctx, settings, components)

	observer := telemetry.Multi{telemetry.LogObserver{}, components.Metrics}

	components.Coordinator = dispatch.New(ctx, dispatch.Options{
		Plan:                 plan,
		Executors:            executors,
		Fallbacks:            fallbacks,
		Deduper:              deduper,
		DedupWindow:          settings.Dispatch.DedupWindow(),
		DedupTimeout:         settings.Dispatch.DedupTimeout(),
		MaxRetries:           settings.Dispatch.MaxRetries,
		Timeout:              settings.Dispatch.Timeout(),
		Backoff:              settings.Dispatch.Backoff(),
		MaxBackoff:           settings.Dispatch.MaxBackoff(),
		SMSContacts:          settings.Dispatch.SMSContacts,
		SMSFallbackContacts:  settings.Dispatch.SMSFallbackContacts,
		AuthorityNumber:      settings.Dispatch.AuthorityNumber,
		Location:             settings.Dispatch.Location,
		AutoResponse:         settings.Dispatch.AutoResponse == nil || *settings.Dispatch.AutoResponse,
		CancelOnDeescalation: actionKinds(settings.Dispatch.CancelOnDeescalation),
		Observer:             observer,
		Store:                store,
		Incidents:            history,
		IncidentHistory:      settings.IncidentHistory,
	})

	var alarm Alarm

	if len(settings.AlarmCommand) > 0 {
		command, err := executor.NewCommand(settings.AlarmCommand)
		if err != nil {
			return nil, fmt.Errorf("alarm_command: %w", err)
		}

		alarm = command
	}

	components.Session = NewSession(SessionOptions{
		Bus:         components.Bus,
		Fusion:      components.Fusion,
		Machine:     components.Machine,
		Coordinator: components.Coordinator,
		Observer:    observer,
		Alarm:       alarm,
		Tick:        settings.Fusion.Tick(),
	})

	return components, nil
}

// Close stops the bus, waits for dispatch tasks and releases connections.
// The session loop must have returned before Close is called.
func (c *Components) Close(ctx context.Context) error {
	c.Bus.Close()

	errs := []error{c.Coordinator.Close(ctx)}
	for _, closer := range c.closers {
		errs = append(errs, closer())
	}

	return errors.Join(errs...)
}

func fusionOptions(f *config.FusionConfig) fusion.Options {
	weights := make(map[threat.SourceKind]float64, len(f.Weights))
	for name, weight := range f.Weights {
		weights[threat.SourceKind(name)] = weight
	}

	disabled := make([]threat.SourceKind, 0, len(f.Disabled))
	for _, name := range f.Disabled {
		disabled = append(disabled, threat.SourceKind(name))
	}

	return fusion.Options{
		Window:           f.Window(),
		Decay:            f.Decay(),
		StaleAfter:       f.StaleAfter(),
		Weights:          weights,
		Disabled:         disabled,
		PersonThreshold:  f.PersonThreshold,
		DistressGestures: f.DistressGestures,
	}
}

// buildExecutors picks a gateway per action kind: a webhook when a URL is
// configured, a local command when a command is, and otherwise the built-in
// haptic player or the log executor.
func buildExecutors(
	settings map[string]config.ExecutorConfig,
) (map[threat.ActionKind]dispatch.Executor, map[threat.ActionKind]dispatch.Executor, error) {
	var (
		executors = make(map[threat.ActionKind]dispatch.Executor, len(threat.ActionKinds()))
		fallbacks = make(map[threat.ActionKind]dispatch.Executor)
	)

	for _, kind := range threat.ActionKinds() {
		cfg := settings[string(kind)]

		switch {
		case cfg.URL != "":
			executors[kind] = executor.NewWebhook(cfg.URL, cfg.Timeout())
		case len(cfg.Command) > 0:
			command, err := executor.NewCommand(cfg.Command)
			if err != nil {
				return nil, nil, fmt.Errorf("executors.%s: %w", kind, err)
			}

			executors[kind] = command
		case kind == threat.ActionHaptic:
			executors[kind] = executor.NewHaptic(executor.LogDriver{}, executor.DefaultPatterns())
		default:
			executors[kind] = executor.Log{}
		}

		if cfg.FallbackURL != "" {
			fallbacks[kind] = executor.NewWebhook(cfg.FallbackURL, cfg.Timeout())
		}
	}

	return executors, fallbacks, nil
}

// buildDeduper uses Redis when configured so replicas share transition IDs.
// An unreachable server is logged; dispatch fails open on dedup errors.
func buildDeduper(ctx context.Context, settings *config.Config, components *Components) dispatch.Deduper {
	if settings.RedisAddress == "" {
		return dedup.NewMemory()
	}

	store := dedup.NewRedis(dedup.RedisConfig{
		Addr:    settings.RedisAddress,
		Timeout: settings.Dispatch.DedupTimeout(),
	})
	components.closers = append(components.closers, store.Close)

	pingCtx, cancel := context.WithTimeout(ctx, settings.Timeout)
	defer cancel()

	if err := store.Ping(pingCtx); err != nil {
		logger.WarnKV(ctx, "Redis dedup store unavailable", "redis_addr", settings.RedisAddress, "error", err)
	} else {
		logger.InfoKV(ctx, "Using Redis dedup store", "redis_addr", settings.RedisAddress)
	}

	return store
}

// loadIncidents opens the incident history; an empty path disables persistence.
func loadIncidents(ctx context.Context, path string) (dispatch.IncidentStore, []*threat.Incident, error) {
	if path == "" {
		return nil, nil, nil
	}

	repo := incident.NewFileRepository(path)

	history, err := repo.Load(ctx)
	switch {
	case err == nil:
		logger.InfoKV(ctx, "Incident history loaded", "incident_file", repo.Path(), "incidents", len(history))
	case errors.Is(err, incident.ErrNotFound):
		// Start with an empty history.
	default:
		return nil, nil, fmt.Errorf("load incidents: %w", err)
	}

	return repo, history, nil
}

func actionKinds(names []string) []threat.ActionKind {
	if names == nil {
		return nil
	}

	kinds := make([]threat.ActionKind, 0, len(names))
	for _, name := range names {
		kinds = append(kinds, threat.ActionKind(name))
	}

	return kinds
}
