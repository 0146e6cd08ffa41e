// Copyright © 2018 One Concern

// Package dryrun provides a backend which only reports the mutations it would perform.
//
// Queries (Exists, Readlink, DiskUsage) are answered by the wrapped backend, so that a dry run
// follows the same decisions as a real one.
package dryrun

import (
	"context"

	"github.com/oneconcern/snapback/pkg/backend"
	"go.uber.org/zap"
)

// Wrap a backend: mutating calls are logged and skipped
func Wrap(l *zap.Logger, b backend.Backend) backend.Backend {
	if l == nil {
		l = zap.NewNop()
	}
	return &dryRun{backend: b, l: l.With(zap.Bool("dry-run", true))}
}

type dryRun struct {
	backend backend.Backend
	l       *zap.Logger
}

func (d *dryRun) String() string {
	return "dryrun:" + d.backend.String()
}

func (d *dryRun) Exists(ctx context.Context, p string) (bool, error) {
	return d.backend.Exists(ctx, p)
}

func (d *dryRun) Mkdir(_ context.Context, p string) error {
	d.l.Info("would create directory", zap.String("path", p))
	return nil
}

func (d *dryRun) RemoveTree(_ context.Context, p string) error {
	d.l.Info("would remove tree", zap.String("path", p))
	return nil
}

func (d *dryRun) MoveDir(_ context.Context, src, dst string) error {
	d.l.Info("would move directory", zap.String("src", src), zap.String("dst", dst))
	return nil
}

func (d *dryRun) HardlinkClone(_ context.Context, src, dst string) error {
	d.l.Info("would clone with hardlinks", zap.String("src", src), zap.String("dst", dst))
	return nil
}

func (d *dryRun) Symlink(_ context.Context, target, linkPath string) error {
	d.l.Info("would point symlink", zap.String("link", linkPath), zap.String("target", target))
	return nil
}

func (d *dryRun) Readlink(ctx context.Context, p string) (string, error) {
	return d.backend.Readlink(ctx, p)
}

func (d *dryRun) Touch(_ context.Context, p string) error {
	d.l.Debug("would touch", zap.String("path", p))
	return nil
}

func (d *dryRun) DiskUsage(ctx context.Context, p string) (backend.Usage, error) {
	return d.backend.DiskUsage(ctx, p)
}

func (d *dryRun) Close() error {
	return d.backend.Close()
}
