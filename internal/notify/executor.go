package notify

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ExitStatus describes a finished command. Output holds combined stdout and stderr.
type ExitStatus struct {
	Code   int
	Output []byte
}

func (s ExitStatus) Success() bool {
	return s.Code == 0
}

// Executor runs an external command. A non-zero exit is reported through
// ExitStatus; an error means the command could not be run to completion.
type Executor interface {
	Execute(ctx context.Context, command string) (ExitStatus, error)
}

// ShellExecutor runs commands through /bin/sh -c.
type ShellExecutor struct{}

func (ShellExecutor) Execute(ctx context.Context, command string) (ExitStatus, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	// Children that inherit our pipes must not keep us waiting after a kill.
	cmd.WaitDelay = time.Second

	out, err := cmd.CombinedOutput()
	status := ExitStatus{Code: -1, Output: out}
	if cmd.ProcessState != nil {
		status.Code = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return status, fmt.Errorf("run %q: %w", command, ctxErr)
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return status, fmt.Errorf("run %q: %w", command, err)
	}
	return status, nil
}
