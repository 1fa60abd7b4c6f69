package integration

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/safeglove/internal/config"
	"github.com/oshokin/safeglove/internal/domain/threat"
	"github.com/oshokin/safeglove/internal/service/client"
	"github.com/oshokin/safeglove/internal/service/common"
	"github.com/oshokin/safeglove/internal/service/engine"
)

// reservePort returns a free local TCP address.
func reservePort(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	_ = l.Close()

	return addr
}

// startEngine writes a configuration where vision-threat carries the whole score
// and runs the engine until the returned stop function is called.
func startEngine(t *testing.T, addr string, incidentPath string) (cfgPath string, stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	cfgPath = filepath.Join(t.TempDir(), "settings.yaml")

	require.NoError(
		t,
		config.Save(cfgPath, &config.Config{
			ServerAddress: addr,
			Timeout:       3 * time.Second,
			IncidentFile:  incidentPath,
			Fusion: config.FusionConfig{
				WindowMS: 60000,
				Weights: map[string]float64{
					string(threat.SourceVisionThreat):  1,
					string(threat.SourceVisionPerson):  0,
					string(threat.SourceVisionGesture): 0,
					string(threat.SourceIMU):           0,
					string(threat.SourcePressure):      0,
					string(threat.SourceFlex):          0,
				},
			},
		}),
	)

	done := make(chan error, 1)

	go func() {
		done <- engine.Run(ctx, &engine.Options{ConfigPath: cfgPath})
	}()

	// Wait until the gRPC listener accepts connections.
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err != nil {
			return false
		}

		_ = conn.Close()

		return true
	}, 5*time.Second, 50*time.Millisecond)

	return cfgPath, func() {
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(15 * time.Second):
			t.Error("engine did not stop")
		}
	}
}

// TestEngine_EscalatesAndRestarts publishes a threat over gRPC, waits for Alert and
// verifies that a restart resolves the incident and persists it.
func TestEngine_EscalatesAndRestarts(t *testing.T) {
	t.Parallel()

	addr := reservePort(t)
	incidentPath := filepath.Join(t.TempDir(), "incidents.json")

	_, stop := startEngine(t, addr, incidentPath)
	defer stop()

	ctx := context.Background()

	c, err := common.Dial(ctx, addr, common.WithCallTimeout(3*time.Second))
	require.NoError(t, err)

	defer func() {
		_ = c.Close()
	}()

	// Fresh session starts at Safe.
	snapshot, err := c.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, threat.Safe, snapshot.Level)
	require.NotEmpty(t, snapshot.SessionID)

	firstSession := snapshot.SessionID

	require.NoError(t, c.Emit(ctx, threat.SignalEvent{
		Source:    threat.SourceVisionThreat,
		Timestamp: time.Now(),
		Value:     0.7,
	}))

	require.Eventually(t, func() bool {
		snapshot, err = c.Status(ctx)

		return err == nil && snapshot.Level == threat.Alert
	}, 5*time.Second, 50*time.Millisecond)

	require.NotNil(t, snapshot.ActiveIncident)
	require.NotEmpty(t, snapshot.Tasks)

	// A fresh session drops back to Safe without emitting a transition.
	restarted, err := c.RestartSession(ctx)
	require.NoError(t, err)
	require.Equal(t, threat.Safe, restarted.Level)
	require.NotEqual(t, firstSession, restarted.SessionID)
	require.Nil(t, restarted.ActiveIncident)
	require.Len(t, restarted.Incidents, 1)

	require.Eventually(t, func() bool {
		_, statErr := os.Stat(incidentPath)

		return statErr == nil
	}, 5*time.Second, 50*time.Millisecond)
}

// TestEngine_RejectsInvalidEvents verifies that out-of-range values never reach the session.
func TestEngine_RejectsInvalidEvents(t *testing.T) {
	t.Parallel()

	addr := reservePort(t)

	_, stop := startEngine(t, addr, "")
	defer stop()

	ctx := context.Background()

	c, err := common.Dial(ctx, addr, common.WithCallTimeout(3*time.Second))
	require.NoError(t, err)

	defer func() {
		_ = c.Close()
	}()

	err = c.Emit(ctx, threat.SignalEvent{
		Source:    threat.SourceVisionThreat,
		Timestamp: time.Now(),
		Value:     1.5,
	})
	require.Error(t, err)

	snapshot, err := c.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, threat.Safe, snapshot.Level)
}

// TestCLI_Commands drives the CLI operations against a running engine.
func TestCLI_Commands(t *testing.T) {
	t.Parallel()

	addr := reservePort(t)

	cfgPath, stop := startEngine(t, addr, "")
	defer stop()

	ctx := context.Background()

	var out bytes.Buffer

	options := client.Options{
		ConfigPath: cfgPath,
		Out:        &out,
	}

	require.NoError(t, client.Emit(ctx, &client.EmitOptions{
		Options:     options,
		Source:      string(threat.SourceVisionThreat),
		Value:       0.2,
		PersonCount: -1,
	}))

	require.NoError(t, client.SetAutoResponse(ctx, &options, false))
	require.Contains(t, out.String(), "disabled")

	out.Reset()
	require.NoError(t, client.Status(ctx, &options))
	require.Contains(t, out.String(), "SAFE")

	out.Reset()
	require.NoError(t, client.SelfTest(ctx, &options))
	require.Contains(t, out.String(), string(threat.ActionAuthorityContact))

	out.Reset()
	require.NoError(t, client.Restart(ctx, &options))
}
