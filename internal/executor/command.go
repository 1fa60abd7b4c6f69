package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/oshokin/safeglove/internal/domain/threat"
)

// ErrEmptyCommand is returned when no program is configured.
var ErrEmptyCommand = errors.New("command is empty")

// Command runs a local program for every action, passing the action in
// SAFEGLOVE_* environment variables and the message on stdin.
// It also raises the local alarm on critical dispatch failures.
type Command struct {
	argv []string
}

// NewCommand creates a command executor; argv[0] is the program.
func NewCommand(argv []string) (*Command, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, ErrEmptyCommand
	}

	return &Command{argv: append([]string(nil), argv...)}, nil
}

// Execute implements dispatch.Executor. A missing program is permanent,
// a failing run is transient.
func (c *Command) Execute(ctx context.Context, action threat.Action) error {
	env := []string{
		"SAFEGLOVE_KIND=" + string(action.Kind),
		"SAFEGLOVE_TARGET=" + action.Target,
		"SAFEGLOVE_LEVEL=" + action.Level.String(),
		"SAFEGLOVE_TRANSITION_ID=" + action.TransitionID,
		"SAFEGLOVE_INCIDENT_ID=" + action.IncidentID,
		"SAFEGLOVE_CONTACTS=" + strings.Join(action.Contacts, ","),
		fmt.Sprintf("SAFEGLOVE_FALLBACK=%t", action.Fallback),
	}

	return c.run(ctx, env, action.Message)
}

// Raise runs the command for a critical dispatch failure.
func (c *Command) Raise(ctx context.Context, failure threat.CriticalDispatchFailure) error {
	env := []string{
		"SAFEGLOVE_KIND=" + string(failure.Task.Action.Kind),
		"SAFEGLOVE_TARGET=critical",
		"SAFEGLOVE_LEVEL=" + failure.Transition.To.String(),
		"SAFEGLOVE_TRANSITION_ID=" + failure.Transition.ID,
		"SAFEGLOVE_INCIDENT_ID=" + failure.Task.Action.IncidentID,
	}

	return c.run(ctx, env, failure.Error())
}

// Probe implements dispatch.Prober by resolving the program.
func (c *Command) Probe(context.Context) error {
	if _, err := exec.LookPath(c.argv[0]); err != nil {
		return fmt.Errorf("look up %s: %w", c.argv[0], err)
	}

	return nil
}

func (c *Command) run(ctx context.Context, env []string, stdin string) error {
	//nolint:gosec // The program comes from the operator's settings file.
	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdin = strings.NewReader(stdin)

	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	err = fmt.Errorf("run %s: %w: %s", c.argv[0], err, strings.TrimSpace(string(output)))

	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return threat.Permanent(err)
	}

	return threat.Transient(err)
}
