//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/oshokin/safeglove/internal/api/grpc/glove"
	"github.com/oshokin/safeglove/internal/config"
	"github.com/oshokin/safeglove/internal/domain/threat"
	"github.com/oshokin/safeglove/internal/wire"
)

// Client wraps the gRPC GloveService client with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the engine.
	conn grpc.ClientConnInterface
	// closer releases conn; nil for borrowed connections.
	closer func() error
	// api is the GloveService client.
	api *glove.GloveServiceClient

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
	// actor is sent with every call for the engine's audit log.
	actor string
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithActor attaches the operator identity to every call.
func WithActor(actor Actor) Option {
	return func(c *Client) {
		c.actor = actor.String()
	}
}

// errAddressRequired is returned when a required address value is missing.
var errAddressRequired = errors.New("address must be provided")

// Dial establishes a gRPC connection to the engine.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy until native TLS is added.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	// Use the non-context NewClient API recommended by grpc-go
	// (DialContext is deprecated as of grpc-go v1.60+).
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial engine: %w", err)
	}

	client := NewClient(conn, opts...)
	client.closer = conn.Close

	return client, nil
}

// NewClient wraps an existing connection; Close leaves it open.
func NewClient(conn grpc.ClientConnInterface, opts ...Option) *Client {
	client := &Client{
		conn:        conn,
		api:         glove.NewGloveServiceClient(conn),
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}

	return c.closer()
}

// Emit publishes one signal event.
func (c *Client) Emit(ctx context.Context, ev threat.SignalEvent) error {
	request, err := wire.EventToStruct(ev)
	if err != nil {
		return err
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if _, err = c.api.Emit(callCtx, request); err != nil {
		return fmt.Errorf("emit event: %w", err)
	}

	return nil
}

// Status retrieves the session snapshot.
func (c *Client) Status(ctx context.Context) (threat.Snapshot, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.GetStatus(callCtx)
	if err != nil {
		return threat.Snapshot{}, fmt.Errorf("get status: %w", err)
	}

	return wire.SnapshotFromStruct(response)
}

// RestartSession starts a fresh session at Safe.
func (c *Client) RestartSession(ctx context.Context) (threat.Snapshot, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.RestartSession(callCtx)
	if err != nil {
		return threat.Snapshot{}, fmt.Errorf("restart session: %w", err)
	}

	return wire.SnapshotFromStruct(response)
}

// SetAutoResponse enables or disables SMS and authority-contact actions.
func (c *Client) SetAutoResponse(ctx context.Context, enabled bool) (threat.Snapshot, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.SetAutoResponse(callCtx, enabled)
	if err != nil {
		return threat.Snapshot{}, fmt.Errorf("set auto-response: %w", err)
	}

	return wire.SnapshotFromStruct(response)
}

// TestSystems asks the engine to probe every action executor.
func (c *Client) TestSystems(ctx context.Context) ([]threat.SystemCheck, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.TestSystems(callCtx)
	if err != nil {
		return nil, fmt.Errorf("test systems: %w", err)
	}

	return wire.ChecksFromStruct(response), nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline. The actor, when
// known, travels as metadata.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.actor != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, glove.ActorMetadataKey, c.actor)
	}

	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
