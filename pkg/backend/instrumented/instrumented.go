// Copyright © 2018 One Concern

// Package instrumented decorates a backend with debug logs and timings.
package instrumented

import (
	"context"
	"time"

	"github.com/oneconcern/snapback/pkg/backend"
	"go.uber.org/zap"
)

// Observer is notified of every backend call and its duration
type Observer func(op string, elapsed time.Duration, err error)

// Option for the instrumented backend
type Option func(*instrumentedBackend)

// WithObserver registers a callback invoked after each call
func WithObserver(o Observer) Option {
	return func(i *instrumentedBackend) {
		if o != nil {
			i.observe = o
		}
	}
}

// Instrument wraps a backend so that every call is logged with its elapsed time
func Instrument(l *zap.Logger, b backend.Backend, opts ...Option) backend.Backend {
	if l == nil {
		l = zap.NewNop()
	}
	i := &instrumentedBackend{
		backend: b,
		l:       l.With(zap.String("backend", b.String())),
		observe: func(string, time.Duration, error) {},
	}
	for _, apply := range opts {
		apply(i)
	}
	return i
}

type instrumentedBackend struct {
	backend backend.Backend
	l       *zap.Logger
	observe Observer
}

func (i *instrumentedBackend) done(op string, start time.Time, err error, fields ...zap.Field) {
	elapsed := time.Since(start)
	i.observe(op, elapsed, err)
	fields = append(fields, zap.String("op", op), zap.Duration("elapsed", elapsed))
	if err != nil {
		i.l.Debug("backend call failed", append(fields, zap.Error(err))...)
		return
	}
	i.l.Debug("backend call", fields...)
}

func (i *instrumentedBackend) String() string {
	return i.backend.String()
}

func (i *instrumentedBackend) Exists(ctx context.Context, p string) (bool, error) {
	start := time.Now()
	ok, err := i.backend.Exists(ctx, p)
	i.done("exists", start, err, zap.String("path", p), zap.Bool("exists", ok))
	return ok, err
}

func (i *instrumentedBackend) Mkdir(ctx context.Context, p string) error {
	start := time.Now()
	err := i.backend.Mkdir(ctx, p)
	i.done("mkdir", start, err, zap.String("path", p))
	return err
}

func (i *instrumentedBackend) RemoveTree(ctx context.Context, p string) error {
	start := time.Now()
	err := i.backend.RemoveTree(ctx, p)
	i.done("removeTree", start, err, zap.String("path", p))
	return err
}

func (i *instrumentedBackend) MoveDir(ctx context.Context, src, dst string) error {
	start := time.Now()
	err := i.backend.MoveDir(ctx, src, dst)
	i.done("moveDir", start, err, zap.String("src", src), zap.String("dst", dst))
	return err
}

func (i *instrumentedBackend) HardlinkClone(ctx context.Context, src, dst string) error {
	start := time.Now()
	err := i.backend.HardlinkClone(ctx, src, dst)
	i.done("hardlinkClone", start, err, zap.String("src", src), zap.String("dst", dst))
	return err
}

func (i *instrumentedBackend) Symlink(ctx context.Context, target, linkPath string) error {
	start := time.Now()
	err := i.backend.Symlink(ctx, target, linkPath)
	i.done("symlink", start, err, zap.String("target", target), zap.String("link", linkPath))
	return err
}

func (i *instrumentedBackend) Readlink(ctx context.Context, p string) (string, error) {
	start := time.Now()
	target, err := i.backend.Readlink(ctx, p)
	i.done("readlink", start, err, zap.String("path", p), zap.String("target", target))
	return target, err
}

func (i *instrumentedBackend) Touch(ctx context.Context, p string) error {
	start := time.Now()
	err := i.backend.Touch(ctx, p)
	i.done("touch", start, err, zap.String("path", p))
	return err
}

func (i *instrumentedBackend) DiskUsage(ctx context.Context, p string) (backend.Usage, error) {
	start := time.Now()
	u, err := i.backend.DiskUsage(ctx, p)
	i.done("diskUsage", start, err, zap.String("path", p), zap.Uint64("used", u.Used), zap.Uint64("total", u.Total))
	return u, err
}

func (i *instrumentedBackend) Close() error {
	start := time.Now()
	err := i.backend.Close()
	i.done("close", start, err)
	return err
}
