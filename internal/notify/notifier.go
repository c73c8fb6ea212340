package notify

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type recorder interface {
	UpdateCommandRan(ok bool)
}

// Notifier runs the configured update command after the hosts file changed.
// Failures are logged and never propagated.
type Notifier struct {
	command  string
	timeout  time.Duration
	executor Executor
	recorder recorder
	logger   zerolog.Logger
}

func New(command string, timeout time.Duration, executor Executor, recorder recorder, logger zerolog.Logger) *Notifier {
	return &Notifier{
		command:  strings.TrimSpace(command),
		timeout:  timeout,
		executor: executor,
		recorder: recorder,
		logger:   logger.With().Str("component", "notifier").Logger(),
	}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.command != ""
}

// Notify runs the update command once and reports whether it succeeded.
func (n *Notifier) Notify(ctx context.Context) bool {
	if !n.Enabled() {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	n.logger.Info().Str("command", n.command).Msg("Running update command")
	started := time.Now()
	status, err := n.executor.Execute(ctx, n.command)
	ok := err == nil && status.Success()
	if n.recorder != nil {
		n.recorder.UpdateCommandRan(ok)
	}

	switch {
	case err != nil:
		n.logger.Error().Err(err).Str("command", n.command).Dur("elapsed", time.Since(started)).Msg("Update command failed to run")
	case !status.Success():
		n.logger.Warn().Int("exit_code", status.Code).Str("command", n.command).Bytes("output", status.Output).Msg("Update command exited with non-zero status")
	default:
		n.logger.Debug().Str("command", n.command).Bytes("output", status.Output).Dur("elapsed", time.Since(started)).Msg("Update command finished")
	}
	return ok
}
