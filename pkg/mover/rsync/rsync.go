// Copyright © 2018 One Concern

// Package rsync implements the mover port with the rsync program.
package rsync

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/oneconcern/snapback/pkg/command"
	"github.com/oneconcern/snapback/pkg/core/status"
	"github.com/oneconcern/snapback/pkg/model"
	"github.com/oneconcern/snapback/pkg/mover"
	"go.uber.org/zap"
)

const (
	// DefaultBinary is looked up in PATH
	DefaultBinary = "rsync"

	// ExitVanished is the exit code of rsync when source files vanished during the transfer
	ExitVanished = 24

	stderrTail = 2048
)

// Option for the rsync mover
type Option func(*Mover)

// WithExecutor sets the process executor
func WithExecutor(x command.Executor) Option {
	return func(m *Mover) {
		if x != nil {
			m.executor = x
		}
	}
}

// WithBinary sets the path to the rsync program
func WithBinary(bin string) Option {
	return func(m *Mover) {
		if bin != "" {
			m.binary = bin
		}
	}
}

// WithExtraArgs appends arguments to the rsync command line, before the paths
func WithExtraArgs(args ...string) Option {
	return func(m *Mover) {
		m.extraArgs = append(m.extraArgs, args...)
	}
}

// WithSSH sets how the remote side is reached
func WithSSH(o model.SSHOptions) Option {
	return func(m *Mover) {
		m.ssh = o
	}
}

// WithTolerateVanished reports source files vanishing during the transfer as a warning
func WithTolerateVanished(enabled bool) Option {
	return func(m *Mover) {
		m.tolerateVanished = enabled
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Mover) {
		if l != nil {
			m.l = l
		}
	}
}

// Mover runs rsync in archive mode, deleting extraneous and excluded files on the destination
type Mover struct {
	executor         command.Executor
	binary           string
	extraArgs        []string
	ssh              model.SSHOptions
	tolerateVanished bool
	l                *zap.Logger
}

var _ mover.Mover = &Mover{}

// New rsync mover. Vanished source files are tolerated unless told otherwise.
func New(opts ...Option) *Mover {
	m := &Mover{
		executor:         command.NewExecExecutor(),
		binary:           DefaultBinary,
		tolerateVanished: true,
		l:                zap.NewNop(),
	}
	for _, apply := range opts {
		apply(m)
	}
	return m
}

func (m *Mover) String() string {
	return "rsync"
}

// Args builds the rsync command line for a request
func (m *Mover) Args(r mover.Request) ([]string, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	args := []string{"-a", "--delete", "--delete-excluded", "--stats"}
	for _, pattern := range r.Excludes {
		if pattern == "" {
			continue
		}
		args = append(args, "--exclude="+pattern)
	}

	remote := r.Destination.IsRemote()
	for _, s := range r.Sources {
		remote = remote || s.IsRemote()
	}
	if remote {
		args = append(args, "-e", m.remoteShell())
	}
	args = append(args, m.extraArgs...)

	// a trailing slash transfers the content of a directory, rather than the directory itself
	single := len(r.Sources) == 1
	for _, s := range r.Sources {
		arg := s.String()
		if single {
			arg = withTrailingSlash(arg)
		}
		args = append(args, arg)
	}
	return append(args, withTrailingSlash(r.Destination.String())), nil
}

func withTrailingSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

// remoteShell renders the ssh command used by rsync to reach the remote side
func (m *Mover) remoteShell() string {
	port := m.ssh.Port
	if port == 0 {
		port = model.DefaultSSHPort
	}
	parts := []string{"ssh", "-p", strconv.Itoa(port), "-o", "BatchMode=yes"}
	if m.ssh.IdentityFile != "" {
		parts = append(parts, "-i", command.Quote(m.ssh.IdentityFile))
	}
	if m.ssh.KnownHostsFile != "" {
		parts = append(parts, "-o", command.Quote("UserKnownHostsFile="+m.ssh.KnownHostsFile))
	}
	if m.ssh.InsecureIgnoreHostKey {
		parts = append(parts, "-o", "StrictHostKeyChecking=no", "-o", "UserKnownHostsFile=/dev/null")
	}
	return strings.Join(parts, " ")
}

// Move runs rsync. The content of the destination is only known to be complete when no error is returned.
func (m *Mover) Move(ctx context.Context, r mover.Request) (mover.Stats, error) {
	args, err := m.Args(r)
	if err != nil {
		return mover.Stats{}, err
	}

	stderr := command.NewTail(stderrTail)
	stdout := &statsWriter{l: m.l}
	cmd := command.Cmd{
		Name:   m.binary,
		Args:   args,
		Stdout: stdout,
		Stderr: stderr,
	}
	m.l.Info("starting transfer", zap.Stringer("command", cmd))

	code, err := m.executor.Run(ctx, cmd)
	if err != nil {
		return mover.Stats{}, status.ErrSync.Wrap(err)
	}

	stats := stdout.stats()
	switch {
	case code == 0:
	case code == ExitVanished && m.tolerateVanished:
		warning := fmt.Sprintf("some source files vanished during the transfer: %s", strings.TrimSpace(stderr.String()))
		m.l.Warn("transfer completed with vanished files", zap.String("stderr", stderr.String()))
		stats.Warnings = append(stats.Warnings, warning)
	default:
		return stats, status.ErrSync.Wrapf("%s exited with code %d: %s", m.binary, code, strings.TrimSpace(stderr.String()))
	}
	return stats, nil
}

// statsWriter forwards the output of rsync to debug logs, line by line,
// and picks the file counters from the summary printed by --stats:
//
//	Number of regular files transferred: 1,234
//	Number of deleted files: 5 (reg: 5)
type statsWriter struct {
	l           *zap.Logger
	partial     []byte
	transferred int
	deleted     int
}

func (w *statsWriter) Write(p []byte) (int, error) {
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.line(string(w.partial[:i]))
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

func (w *statsWriter) line(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if ce := w.l.Check(zap.DebugLevel, "rsync"); ce != nil {
		ce.Write(zap.String("output", text))
	}

	key, value, ok := strings.Cut(text, ":")
	if !ok {
		return
	}
	switch key {
	// rsync before 3.1 counts every kind of file as transferred
	case "Number of regular files transferred", "Number of files transferred":
		if n, ok := counter(value); ok {
			w.transferred = n
		}
	case "Number of deleted files":
		if n, ok := counter(value); ok {
			w.deleted = n
		}
	}
}

func (w *statsWriter) stats() mover.Stats {
	if len(w.partial) > 0 {
		w.line(string(w.partial))
		w.partial = nil
	}
	return mover.Stats{Transferred: w.transferred, Deleted: w.deleted}
}

// counter parses the leading number of a value, ignoring digit separators
func counter(value string) (int, bool) {
	value = strings.TrimSpace(value)
	if i := strings.IndexByte(value, ' '); i >= 0 {
		value = value[:i]
	}
	value = strings.NewReplacer(",", "", ".", "", "'", "").Replace(value)
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
