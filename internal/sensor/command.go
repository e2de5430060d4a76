package sensor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds one adapter invocation.
const DefaultTimeout = 180 * time.Second

// CommandAdapter runs an adapter as a subprocess speaking JSON on
// stdin/stdout.
type CommandAdapter struct {
	ID      ID
	Command []string
	Dir     string
	Timeout time.Duration
	logger  *slog.Logger
}

// NewCommandAdapter returns an adapter that executes command in dir.
func NewCommandAdapter(id ID, command []string, dir string, timeout time.Duration) *CommandAdapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CommandAdapter{
		ID:      id,
		Command: command,
		Dir:     dir,
		Timeout: timeout,
		logger:  slog.Default(),
	}
}

func (a *CommandAdapter) Run(ctx context.Context, p Payload) (Envelope, error) {
	if len(a.Command) == 0 {
		return Envelope{}, fmt.Errorf("sensor %s: empty command", a.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	args := append(append([]string{}, a.Command[1:]...), p.Args...)
	cmd := exec.CommandContext(ctx, a.Command[0], args...)
	cmd.Dir = a.Dir
	// Adapters that spawn children must not keep the pipes open past the
	// deadline.
	cmd.WaitDelay = time.Second

	if p.Input != nil {
		in, err := json.Marshal(p.Input)
		if err != nil {
			return Envelope{}, fmt.Errorf("encoding payload for %s: %w", a.ID, err)
		}
		cmd.Stdin = bytes.NewReader(in)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	a.logger.Debug("sensor process finished", "sensor", a.ID, "duration", time.Since(start), "stdout_bytes", stdout.Len())

	if ctx.Err() == context.DeadlineExceeded {
		return Envelope{}, fmt.Errorf("sensor %s timed out after %s", a.ID, a.Timeout)
	}
	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return Envelope{}, fmt.Errorf("starting sensor %s: %w", a.ID, runErr)
	}

	diag := strings.TrimSpace(stderr.String())
	return interpretOutput(stdout.Bytes(), diag, runErr != nil), nil
}

// interpretOutput applies the envelope rules to a finished process.
func interpretOutput(stdout []byte, stderr string, exitedNonZero bool) Envelope {
	obj, ok := ExtractJSON(stdout)
	if !ok {
		msg := stderr
		if msg == "" {
			msg = "sensor returned non-JSON output"
		}
		return FailureEnvelope(msg)
	}

	env, hasSuccess := DecodeEnvelope(obj)
	if exitedNonZero && !hasSuccess {
		env.Success = false
	}
	if !env.Success && stderr != "" {
		if env.Error != "" {
			env.Error = env.Error + "; " + stderr
		} else {
			env.Error = stderr
		}
	}
	return env
}
