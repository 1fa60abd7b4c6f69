package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oshokin/safeglove/internal/domain/threat"
	"github.com/oshokin/safeglove/internal/logger"
)

const (
	// DefaultWebhookTimeout bounds one HTTP exchange.
	DefaultWebhookTimeout = 10 * time.Second
	// maxErrorBody limits how much of a failure response is quoted.
	maxErrorBody = 512
)

// ErrGatewayStatus wraps unexpected HTTP statuses of a gateway.
var ErrGatewayStatus = errors.New("unexpected gateway status")

// webhookPayload is the JSON document posted to gateways.
type webhookPayload struct {
	Kind         string   `json:"kind"`
	Target       string   `json:"target"`
	Level        string   `json:"level"`
	TransitionID string   `json:"transition_id"`
	IncidentID   string   `json:"incident_id,omitempty"`
	Contacts     []string `json:"contacts,omitempty"`
	Message      string   `json:"message,omitempty"`
	Fallback     bool     `json:"fallback"`
}

// Webhook posts actions as JSON to an HTTP gateway: an SMS provider bridge,
// the livestream controller or the authority contact service.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates an executor posting to url; timeout <= 0 selects the default.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}

	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// URL returns the gateway endpoint.
func (w *Webhook) URL() string {
	return w.url
}

// Execute implements dispatch.Executor.
// Network errors, 5xx and 429 are transient, other 4xx are permanent.
func (w *Webhook) Execute(ctx context.Context, action threat.Action) error {
	body, err := json.Marshal(webhookPayload{
		Kind:         string(action.Kind),
		Target:       action.Target,
		Level:        action.Level.String(),
		TransitionID: action.TransitionID,
		IncidentID:   action.IncidentID,
		Contacts:     action.Contacts,
		Message:      action.Message,
		Fallback:     action.Fallback,
	})
	if err != nil {
		return threat.Permanent(fmt.Errorf("encode action: %w", err))
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return threat.Permanent(fmt.Errorf("build request: %w", err))
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Idempotency-Key", action.TransitionID+"/"+string(action.Kind)+fallbackSuffix(action))

	response, err := w.client.Do(request)
	if err != nil {
		return threat.Transient(fmt.Errorf("post to %s: %w", w.url, err))
	}

	defer func() {
		if closeErr := response.Body.Close(); closeErr != nil {
			logger.DebugKV(ctx, "Failed to close gateway response", "error", closeErr)
		}
	}()

	return classifyStatus(response)
}

// Probe implements dispatch.Prober: any answer below 500 means the gateway is up.
func (w *Webhook) Probe(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodHead, w.url, nil)
	if err != nil {
		return fmt.Errorf("build probe: %w", err)
	}

	response, err := w.client.Do(request)
	if err != nil {
		return fmt.Errorf("probe %s: %w", w.url, err)
	}

	defer response.Body.Close() //nolint:errcheck // HEAD responses carry no body.

	if response.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s", ErrGatewayStatus, response.Status)
	}

	return nil
}

func classifyStatus(response *http.Response) error {
	if response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody)) //nolint:errcheck // Best effort.
	err := fmt.Errorf("%w: %s: %s", ErrGatewayStatus, response.Status, bytes.TrimSpace(detail))

	switch {
	case response.StatusCode == http.StatusTooManyRequests,
		response.StatusCode == http.StatusRequestTimeout,
		response.StatusCode >= http.StatusInternalServerError:
		return threat.Transient(err)
	default:
		return threat.Permanent(err)
	}
}

func fallbackSuffix(action threat.Action) string {
	if action.Fallback {
		return "/fallback"
	}

	return ""
}
