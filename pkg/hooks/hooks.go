// Package hooks runs the shell commands configured around a backup.
package hooks

import (
	"context"
	"strings"

	"github.com/oneconcern/snapback/pkg/command"
	"github.com/oneconcern/snapback/pkg/core/status"
	"go.uber.org/zap"
)

const outputTail = 1024

// Option for the hook runner
type Option func(*Runner)

// WithExecutor sets the process executor
func WithExecutor(x command.Executor) Option {
	return func(r *Runner) {
		if x != nil {
			r.executor = x
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.l = l
		}
	}
}

// WithEnv adds variables to the environment of hook commands
func WithEnv(env ...string) Option {
	return func(r *Runner) {
		r.env = append(r.env, env...)
	}
}

// Runner executes hook commands with /bin/sh, one after the other.
// The first failing command stops the phase.
type Runner struct {
	executor command.Executor
	env      []string
	l        *zap.Logger
}

// New hook runner
func New(opts ...Option) *Runner {
	r := &Runner{
		executor: command.NewExecExecutor(),
		l:        zap.NewNop(),
	}
	for _, apply := range opts {
		apply(r)
	}
	return r
}

// Run the commands of a phase. SNAPBACK_PHASE is set in their environment.
func (r *Runner) Run(ctx context.Context, phase string, commands []string) error {
	for i, line := range commands {
		if strings.TrimSpace(line) == "" {
			continue
		}
		output := command.NewTail(outputTail)
		cmd := command.Shell(line)
		cmd.Env = append(append([]string(nil), r.env...), "SNAPBACK_PHASE="+phase)
		cmd.Stdout = output
		cmd.Stderr = output

		r.l.Info("running hook", zap.String("phase", phase), zap.Int("index", i), zap.String("command", line))
		code, err := r.executor.Run(ctx, cmd)
		if err != nil {
			return status.ErrHook.Wrapf("%s hook %q: %w", phase, line, err)
		}
		if code != 0 {
			return status.ErrHook.Wrapf("%s hook %q exited with code %d: %s", phase, line, code, strings.TrimSpace(output.String()))
		}
		r.l.Debug("hook complete", zap.String("phase", phase), zap.String("output", output.String()))
	}
	return nil
}
