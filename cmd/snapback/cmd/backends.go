package cmd

import (
	"context"

	"github.com/oneconcern/snapback/pkg/backend"
	"github.com/oneconcern/snapback/pkg/backend/instrumented"
	"github.com/oneconcern/snapback/pkg/backend/localfs"
	"github.com/oneconcern/snapback/pkg/backend/remote"
	"github.com/oneconcern/snapback/pkg/command"
	"github.com/oneconcern/snapback/pkg/core/status"
	"github.com/oneconcern/snapback/pkg/dlogger"
	"github.com/oneconcern/snapback/pkg/model"
	"github.com/oneconcern/snapback/pkg/mover"
	"github.com/oneconcern/snapback/pkg/mover/mirror"
	"github.com/oneconcern/snapback/pkg/mover/rsync"
	"go.uber.org/zap"
)

var (
	// used to patch over the ssh connection and the process executor during test
	dialRemote                  = remote.Dial
	executor   command.Executor = command.NewExecExecutor()
)

func newLogger(c *CLIConfig) (*zap.Logger, error) {
	l, err := dlogger.GetLoggerWithFormat(c.LogLevel, c.LogFormat)
	if err != nil {
		return nil, status.ErrValidation.Wrapf("logger: %w", err)
	}
	return l, nil
}

// openBackend connects to the host of a location: a remote location opens an ssh connection,
// which lasts until the backend is closed
func openBackend(ctx context.Context, l *zap.Logger, loc model.Location, opts model.SSHOptions) (backend.Backend, error) {
	if !loc.IsRemote() {
		return instrumented.Instrument(l, localfs.New()), nil
	}
	runner, err := dialRemote(ctx, loc, opts)
	if err != nil {
		return nil, err
	}
	l.Debug("connected", zap.String("host", runner.String()))
	return instrumented.Instrument(l, remote.New(runner)), nil
}

func newMover(c *CLIConfig, l *zap.Logger, job model.Job) mover.Mover {
	if c.Mover.Engine == moverBuiltin {
		return mirror.New(mirror.WithLogger(l))
	}
	return rsync.New(
		rsync.WithExecutor(executor),
		rsync.WithBinary(c.Mover.RsyncPath),
		rsync.WithExtraArgs(c.Mover.ExtraArgs...),
		rsync.WithSSH(job.SSH()),
		rsync.WithTolerateVanished(c.Mover.TolerateVanished),
		rsync.WithLogger(l),
	)
}
