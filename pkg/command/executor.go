// Package command runs external programs such as rsync and hook scripts.
package command

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Cmd describes a process to run
type Cmd struct {
	Name   string
	Args   []string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line, for logs
func (c Cmd) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Executor runs commands.
//
// A process that ran to completion is reported by its exit code with a nil error,
// whatever that code is. The error is reserved to processes which could not be started
// or were interrupted.
type Executor interface {
	Run(context.Context, Cmd) (int, error)
}

// ExecExecutor is the Executor delegating to the os/exec package
type ExecExecutor struct{}

// NewExecExecutor builds the default executor
func NewExecExecutor() *ExecExecutor {
	return &ExecExecutor{}
}

// Run implements Executor.Run
func (ExecExecutor) Run(ctx context.Context, c Cmd) (int, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return -1, cerr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// Shell builds a command interpreted by /bin/sh
func Shell(line string) Cmd {
	return Cmd{Name: "/bin/sh", Args: []string{"-c", line}}
}
