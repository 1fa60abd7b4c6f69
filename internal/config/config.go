package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/safeglove/internal/domain/threat"
)

// Config holds every option consumed by the engine and the CLI.
type Config struct {
	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
	// LogFormat is console or json.
	LogFormat string `yaml:"log_format"`
	// ServerAddress is the gRPC address for producers and operators.
	ServerAddress string `yaml:"server_addr"`
	// MetricsAddress is the HTTP address serving /metrics; empty disables it.
	MetricsAddress string `yaml:"metrics_addr"`
	// Timeout is the per-RPC timeout used by the CLI.
	Timeout time.Duration `yaml:"timeout"`
	// RedisAddress enables the shared transition dedup store when set.
	RedisAddress string `yaml:"redis_addr"`
	// IncidentFile is where resolved incidents are persisted; empty disables it.
	IncidentFile string `yaml:"incident_file"`
	// IncidentHistory bounds the number of incidents kept.
	IncidentHistory int `yaml:"incident_history"`
	// AlarmCommand is run when a critical dispatch failure is reported.
	AlarmCommand []string `yaml:"alarm_command"`
	// Bus configures the signal event bus.
	Bus BusConfig `yaml:"bus"`
	// Fusion configures the fusion engine.
	Fusion FusionConfig `yaml:"fusion"`
	// Thresholds configures escalation.
	Thresholds Thresholds `yaml:"thresholds"`
	// DebounceMS is how long a lower score must persist before stepping down.
	// Unset means DefaultDebounceMS; an explicit 0 steps down on the next evaluation.
	DebounceMS *int64 `yaml:"debounce_ms"`
	// Dispatch configures the response coordinator.
	Dispatch DispatchConfig `yaml:"dispatch"`
	// Executors maps an action kind to its gateway settings.
	Executors map[string]ExecutorConfig `yaml:"executors"`
}

// BusConfig configures the signal event bus.
type BusConfig struct {
	// Capacity bounds the number of undelivered events.
	Capacity int `yaml:"capacity"`
	// MaxSkewMS is how far in the future an event timestamp may lie.
	MaxSkewMS int64 `yaml:"max_skew_ms"`
}

// FusionConfig configures score fusion.
type FusionConfig struct {
	// WindowMS is the sliding window per source.
	WindowMS int64 `yaml:"window_ms"`
	// TickMS is the recomputation interval without events.
	TickMS int64 `yaml:"tick_ms"`
	// DecayMS is the time constant of the decay past the window.
	DecayMS int64 `yaml:"decay_ms"`
	// StaleAfterMS marks a silent source as unhealthy.
	StaleAfterMS int64 `yaml:"stale_after_ms"`
	// Weights maps a source kind to its share of the score.
	Weights map[string]float64 `yaml:"weights"`
	// Disabled lists source kinds whose weight is redistributed.
	Disabled []string `yaml:"disabled"`
	// PersonThreshold is the head count from which person detections count.
	PersonThreshold int `yaml:"person_threshold"`
	// DistressGestures lists gesture ids treated as distress.
	DistressGestures []string `yaml:"distress_gestures"`
}

// Thresholds are the escalation score boundaries.
type Thresholds struct {
	Caution   float64 `yaml:"caution"`
	Alert     float64 `yaml:"alert"`
	Emergency float64 `yaml:"emergency"`
	// Hysteresis widens the de-escalation band below each threshold.
	Hysteresis float64 `yaml:"hysteresis"`
}

// ActionSpec is one configured response step.
type ActionSpec struct {
	Kind   string `yaml:"kind"`
	Target string `yaml:"target"`
}

// DispatchConfig configures the response coordinator.
type DispatchConfig struct {
	// Map lists the actions per destination level name.
	Map map[string][]ActionSpec `yaml:"map"`
	// MaxRetries is the maximum number of attempts per task.
	MaxRetries int `yaml:"max_retries"`
	// TimeoutMS bounds one attempt.
	TimeoutMS int64 `yaml:"timeout_ms"`
	// BackoffMS is the first retry delay, doubled per attempt.
	BackoffMS int64 `yaml:"backoff_ms"`
	// MaxBackoffMS caps the retry delay.
	MaxBackoffMS int64 `yaml:"max_backoff_ms"`
	// DedupWindowMS is how long a transition ID is remembered.
	DedupWindowMS int64 `yaml:"dedup_window_ms"`
	// DedupTimeoutMS bounds one call to the dedup store.
	DedupTimeoutMS int64 `yaml:"dedup_timeout_ms"`
	// SMSContacts are the primary SMS recipients.
	SMSContacts []string `yaml:"sms_contacts"`
	// SMSFallbackContacts receive SMS when the primary route fails permanently.
	SMSFallbackContacts []string `yaml:"sms_fallback_contacts"`
	// AuthorityNumber is dialed for authority-contact actions.
	AuthorityNumber string `yaml:"authority_number"`
	// Location is included in outgoing messages.
	Location string `yaml:"location"`
	// AutoResponse enables SMS and authority-contact actions.
	AutoResponse *bool `yaml:"auto_response"`
	// CancelOnDeescalation lists kinds whose tasks are cancelled by a lower level.
	CancelOnDeescalation []string `yaml:"cancel_on_deescalation"`
}

// ExecutorConfig configures the gateway of one action kind.
type ExecutorConfig struct {
	// URL is the webhook endpoint.
	URL string `yaml:"url"`
	// Command is a local program run instead of a webhook.
	// With neither URL nor Command the action is only logged.
	Command []string `yaml:"command"`
	// FallbackURL is an optional secondary endpoint for SMS fallback.
	FallbackURL string `yaml:"fallback_url"`
	// TimeoutMS bounds the HTTP client; the dispatch timeout still applies.
	TimeoutMS int64 `yaml:"timeout_ms"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "safeglove-settings.yaml"
	// DefaultServerAddress is the default gRPC address.
	DefaultServerAddress = "127.0.0.1:50551"
	// DefaultTimeout is the default duration for CLI calls.
	DefaultTimeout = 5 * time.Second
	// DefaultFilePermissions is the default file permission for written files.
	DefaultFilePermissions = 0o600

	// DefaultIncidentHistory mirrors the bounded history of the glove firmware.
	DefaultIncidentHistory = 100
	// DefaultBusCapacity bounds undelivered events.
	DefaultBusCapacity = 4096
	// DefaultMaxSkewMS tolerates producer clocks slightly ahead of the engine.
	DefaultMaxSkewMS = 2000

	DefaultWindowMS        = 2000
	DefaultTickMS          = 100
	DefaultStaleAfterMS    = 10000
	DefaultPersonThreshold = 3
	DefaultDebounceMS      = 3000

	DefaultCautionThreshold   = 0.3
	DefaultAlertThreshold     = 0.6
	DefaultEmergencyThreshold = 0.85

	DefaultMaxRetries     = 3
	DefaultDispatchMS     = 5000
	DefaultBackoffMS      = 200
	DefaultMaxBackoffMS   = 2000
	DefaultDedupWindowMS  = 30000
	DefaultDedupTimeoutMS = 250

	// weightTolerance absorbs float rounding of YAML weights.
	weightTolerance = 1e-6
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInvalidThresholds is returned for unordered or out-of-range thresholds.
	errInvalidThresholds = errors.New("thresholds must satisfy 0 < caution < alert < emergency <= 1")
	// errInvalidHysteresis is returned when hysteresis would hide the caution band.
	errInvalidHysteresis = errors.New("hysteresis must be in [0, caution)")
	// errNegativeOption is returned for negative durations or counts.
	errNegativeOption = errors.New("option must not be negative")
	// errUnknownLevel is returned for dispatch map keys that are not levels.
	errUnknownLevel = errors.New("unknown level in dispatch map")
	// errUnknownAction is returned for unknown action kinds.
	errUnknownAction = errors.New("unknown action kind")
	// errUnknownSource is returned for unknown source kinds.
	errUnknownSource = errors.New("unknown source kind")
	// errAmbiguousExecutor is returned when an executor has both a URL and a command.
	errAmbiguousExecutor = errors.New("executor must not set both url and command")
)

// Load reads configuration from the provided path and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions, the file holds contact numbers.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := new(Config)

	// Defaults always validate.
	_ = Validate(cfg) //nolint:errcheck // See above.

	return cfg
}

// Validate fills defaults and checks the settings.
//
//nolint:cyclop,funlen // A flat list of checks reads better than helpers.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.ServerAddress == "" {
		cfg.ServerAddress = DefaultServerAddress
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.ServerAddress); err != nil {
		return fmt.Errorf("invalid server socket: %w", err)
	}

	if cfg.MetricsAddress != "" {
		if _, err := net.ResolveTCPAddr("tcp", cfg.MetricsAddress); err != nil {
			return fmt.Errorf("invalid metrics socket: %w", err)
		}
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.IncidentHistory <= 0 {
		cfg.IncidentHistory = DefaultIncidentHistory
	}

	if cfg.Bus.Capacity <= 0 {
		cfg.Bus.Capacity = DefaultBusCapacity
	}

	if cfg.Bus.MaxSkewMS < 0 {
		return fmt.Errorf("bus.max_skew_ms: %w", errNegativeOption)
	}

	if cfg.Bus.MaxSkewMS == 0 {
		cfg.Bus.MaxSkewMS = DefaultMaxSkewMS
	}

	if err := validateFusion(&cfg.Fusion); err != nil {
		return err
	}

	if err := validateThresholds(&cfg.Thresholds); err != nil {
		return err
	}

	if cfg.DebounceMS == nil {
		debounce := int64(DefaultDebounceMS)
		cfg.DebounceMS = &debounce
	}

	if *cfg.DebounceMS < 0 {
		return fmt.Errorf("debounce_ms: %w", errNegativeOption)
	}

	if err := validateDispatch(&cfg.Dispatch); err != nil {
		return err
	}

	for kind, executor := range cfg.Executors {
		if _, ok := threat.ParseActionKind(kind); !ok {
			return fmt.Errorf("executors: %w: %q", errUnknownAction, kind)
		}

		if executor.URL != "" && len(executor.Command) > 0 {
			return fmt.Errorf("executors.%s: %w", kind, errAmbiguousExecutor)
		}

		for _, raw := range []string{executor.URL, executor.FallbackURL} {
			if raw == "" {
				continue
			}

			if _, err := url.ParseRequestURI(raw); err != nil {
				return fmt.Errorf("executors.%s: invalid URL: %w", kind, err)
			}
		}
	}

	return nil
}

func validateFusion(f *FusionConfig) error {
	if f.WindowMS < 0 || f.TickMS < 0 || f.DecayMS < 0 || f.StaleAfterMS < 0 || f.PersonThreshold < 0 {
		return fmt.Errorf("fusion: %w", errNegativeOption)
	}

	if f.WindowMS == 0 {
		f.WindowMS = DefaultWindowMS
	}

	if f.TickMS == 0 {
		f.TickMS = DefaultTickMS
	}

	if f.DecayMS == 0 {
		f.DecayMS = f.WindowMS
	}

	if f.StaleAfterMS == 0 {
		f.StaleAfterMS = DefaultStaleAfterMS
	}

	if f.PersonThreshold == 0 {
		f.PersonThreshold = DefaultPersonThreshold
	}

	if len(f.DistressGestures) == 0 {
		f.DistressGestures = []string{"fist", "sos", "distress"}
	}

	if len(f.Weights) == 0 {
		f.Weights = DefaultWeights()
	}

	for _, name := range f.Disabled {
		if _, ok := threat.ParseSourceKind(name); !ok {
			return fmt.Errorf("fusion.disabled: %w: %q", errUnknownSource, name)
		}
	}

	var total, enabled float64

	for name, weight := range f.Weights {
		if _, ok := threat.ParseSourceKind(name); !ok {
			return fmt.Errorf("fusion.weights: %w: %q", errUnknownSource, name)
		}

		if math.IsNaN(weight) || weight < 0 || weight > 1 {
			return fmt.Errorf("%w: %s weight %v outside [0,1]", threat.ErrInvalidWeights, name, weight)
		}

		total += weight

		if !slices.Contains(f.Disabled, name) {
			enabled += weight
		}
	}

	if math.Abs(total-1) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %v, want 1", threat.ErrInvalidWeights, total)
	}

	if enabled <= 0 {
		return fmt.Errorf("%w: no enabled source carries weight", threat.ErrInvalidWeights)
	}

	return nil
}

func validateThresholds(t *Thresholds) error {
	if t.Caution == 0 && t.Alert == 0 && t.Emergency == 0 {
		t.Caution = DefaultCautionThreshold
		t.Alert = DefaultAlertThreshold
		t.Emergency = DefaultEmergencyThreshold
	}

	if t.Caution <= 0 || t.Caution >= t.Alert || t.Alert >= t.Emergency || t.Emergency > 1 {
		return errInvalidThresholds
	}

	if t.Hysteresis < 0 || t.Hysteresis >= t.Caution {
		return errInvalidHysteresis
	}

	return nil
}

func validateDispatch(d *DispatchConfig) error {
	if d.MaxRetries < 0 || d.TimeoutMS < 0 || d.BackoffMS < 0 || d.MaxBackoffMS < 0 || d.DedupWindowMS < 0 ||
		d.DedupTimeoutMS < 0 {
		return fmt.Errorf("dispatch: %w", errNegativeOption)
	}

	if d.MaxRetries == 0 {
		d.MaxRetries = DefaultMaxRetries
	}

	if d.TimeoutMS == 0 {
		d.TimeoutMS = DefaultDispatchMS
	}

	if d.BackoffMS == 0 {
		d.BackoffMS = DefaultBackoffMS
	}

	if d.MaxBackoffMS == 0 {
		d.MaxBackoffMS = DefaultMaxBackoffMS
	}

	if d.MaxBackoffMS < d.BackoffMS {
		d.MaxBackoffMS = d.BackoffMS
	}

	if d.DedupWindowMS == 0 {
		d.DedupWindowMS = DefaultDedupWindowMS
	}

	if d.DedupTimeoutMS == 0 {
		d.DedupTimeoutMS = DefaultDedupTimeoutMS
	}

	if d.AutoResponse == nil {
		enabled := true
		d.AutoResponse = &enabled
	}

	if d.CancelOnDeescalation == nil {
		d.CancelOnDeescalation = []string{
			string(threat.ActionHaptic),
			string(threat.ActionSMS),
			string(threat.ActionLivestream),
		}
	}

	for _, name := range d.CancelOnDeescalation {
		if _, ok := threat.ParseActionKind(name); !ok {
			return fmt.Errorf("dispatch.cancel_on_deescalation: %w: %q", errUnknownAction, name)
		}
	}

	if len(d.Map) == 0 {
		d.Map = DefaultDispatchMap()
	}

	for levelName, actions := range d.Map {
		if _, ok := threat.ParseLevel(levelName); !ok {
			return fmt.Errorf("dispatch.map: %w: %q", errUnknownLevel, levelName)
		}

		for _, action := range actions {
			if _, ok := threat.ParseActionKind(action.Kind); !ok {
				return fmt.Errorf("dispatch.map.%s: %w: %q", levelName, errUnknownAction, action.Kind)
			}
		}
	}

	return nil
}

// DefaultWeights returns the default share of every source kind.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		string(threat.SourceVisionThreat):  0.4,
		string(threat.SourceVisionPerson):  0.25,
		string(threat.SourceVisionGesture): 0.2,
		string(threat.SourceIMU):           0.1,
		string(threat.SourcePressure):      0.05,
		string(threat.SourceFlex):          0,
	}
}

// DefaultDispatchMap returns the default response plan per level.
func DefaultDispatchMap() map[string][]ActionSpec {
	return map[string][]ActionSpec{
		threat.Safe.String(): {
			{Kind: string(threat.ActionHaptic), Target: "none"},
			{Kind: string(threat.ActionLivestream), Target: "stop"},
		},
		threat.Caution.String(): {
			{Kind: string(threat.ActionHaptic), Target: "gentle-pulse"},
		},
		threat.Alert.String(): {
			{Kind: string(threat.ActionHaptic), Target: "rapid-pulse"},
			{Kind: string(threat.ActionSMS), Target: "all-contacts"},
			{Kind: string(threat.ActionLivestream), Target: "start"},
		},
		threat.Emergency.String(): {
			{Kind: string(threat.ActionHaptic), Target: "emergency-pattern"},
			{Kind: string(threat.ActionSMS), Target: "all-contacts"},
			{Kind: string(threat.ActionLivestream), Target: "start"},
			{Kind: string(threat.ActionAuthorityContact), Target: "dial"},
		},
	}
}

// Window returns the fusion window.
func (f *FusionConfig) Window() time.Duration { return ms(f.WindowMS) }

// Tick returns the fusion tick interval.
func (f *FusionConfig) Tick() time.Duration { return ms(f.TickMS) }

// Decay returns the decay time constant.
func (f *FusionConfig) Decay() time.Duration { return ms(f.DecayMS) }

// StaleAfter returns the source staleness limit.
func (f *FusionConfig) StaleAfter() time.Duration { return ms(f.StaleAfterMS) }

// Debounce returns the de-escalation debounce interval.
func (c *Config) Debounce() time.Duration {
	if c.DebounceMS == nil {
		return ms(DefaultDebounceMS)
	}

	return ms(*c.DebounceMS)
}

// MaxSkew returns the tolerated future offset of event timestamps.
func (b *BusConfig) MaxSkew() time.Duration { return ms(b.MaxSkewMS) }

// Timeout returns the per-attempt dispatch timeout.
func (d *DispatchConfig) Timeout() time.Duration { return ms(d.TimeoutMS) }

// Backoff returns the first retry delay.
func (d *DispatchConfig) Backoff() time.Duration { return ms(d.BackoffMS) }

// MaxBackoff returns the retry delay cap.
func (d *DispatchConfig) MaxBackoff() time.Duration { return ms(d.MaxBackoffMS) }

// DedupWindow returns how long transition IDs are remembered.
func (d *DispatchConfig) DedupWindow() time.Duration { return ms(d.DedupWindowMS) }

// DedupTimeout returns the bound of one dedup store call.
func (d *DispatchConfig) DedupTimeout() time.Duration { return ms(d.DedupTimeoutMS) }

// Timeout returns the HTTP client timeout of the executor, zero when unset.
func (e *ExecutorConfig) Timeout() time.Duration { return ms(e.TimeoutMS) }

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}
