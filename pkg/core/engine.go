// Copyright © 2018 One Concern

package core

import (
	"context"
	"fmt"
	"time"

	"github.com/oneconcern/snapback/pkg/backend"
	backendstatus "github.com/oneconcern/snapback/pkg/backend/status"
	"github.com/oneconcern/snapback/pkg/core/status"
	"github.com/oneconcern/snapback/pkg/errors"
	"github.com/oneconcern/snapback/pkg/model"
	"github.com/oneconcern/snapback/pkg/mover"
	"go.uber.org/zap"
)

// EngineOption is a functor to build a rotation engine with some options
type EngineOption func(*Engine)

// EngineLogger sets the logger of the engine
func EngineLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.l = l
		}
	}
}

// Engine rotates the snapshot slots of a job on its destination.
//
// Each step blocks until the backend completes it: a step relies on the side effects of the
// previous one. An engine drives a single destination root and is not safe for concurrent use.
type Engine struct {
	job      model.Job
	layout   model.Layout
	backend  backend.Backend
	mover    mover.Mover
	l        *zap.Logger
	warnings []string
}

// NewEngine builds a rotation engine for a job. The backend acts on the destination side.
func NewEngine(job model.Job, b backend.Backend, m mover.Mover, opts ...EngineOption) *Engine {
	e := &Engine{
		job:     job,
		layout:  job.Layout(),
		backend: b,
		mover:   m,
		l:       zap.NewNop(),
	}
	for _, apply := range opts {
		apply(e)
	}
	return e
}

// Layout of the destination
func (e *Engine) Layout() model.Layout {
	return e.layout
}

// Warnings collected since the engine was built
func (e *Engine) Warnings() []string {
	return append([]string(nil), e.warnings...)
}

func (e *Engine) warn(msg string, err error, fields ...zap.Field) {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	e.warnings = append(e.warnings, msg)
	e.l.Warn(msg, fields...)
}

// EnsureTiers creates the tier directories under the destination root
func (e *Engine) EnsureTiers(ctx context.Context) error {
	for _, tier := range model.Tiers() {
		if err := e.backend.Mkdir(ctx, e.layout.TierPath(tier)); err != nil {
			return err
		}
	}
	return nil
}

// cloneOrEmpty clones src into dst, or creates dst empty when there is nothing to clone yet
func (e *Engine) cloneOrEmpty(ctx context.Context, src, dst string, fields ...zap.Field) error {
	ok, err := e.backend.Exists(ctx, src)
	if err != nil {
		return backendstatus.ErrSnapshotClone.Wrap(err)
	}
	if !ok {
		e.warn(fmt.Sprintf("no snapshot at %s to start from, starting with an empty slot", src), nil, fields...)
		return e.backend.Mkdir(ctx, dst)
	}
	e.l.Info("cloning snapshot", append(fields, zap.String("from", src))...)
	return e.backend.HardlinkClone(ctx, src, dst)
}

// PrepareDaily evicts the daily slot of a weekday and replaces it with a hardlink clone of the previous day
func (e *Engine) PrepareDaily(ctx context.Context, w time.Weekday) error {
	slot := e.layout.DailySlot(w)
	fields := []zap.Field{zap.String("tier", string(model.Daily)), zap.String("slot", slot)}

	e.l.Info("evicting slot", fields...)
	if err := e.backend.RemoveTree(ctx, slot); err != nil {
		return err
	}
	return e.cloneOrEmpty(ctx, e.layout.DailySlot(PreviousWeekday(w)), slot, fields...)
}

// Sync refreshes the daily slot of a weekday from the sources
func (e *Engine) Sync(ctx context.Context, w time.Weekday) (mover.Stats, error) {
	dst := e.job.Destination()
	dst.Path = e.layout.DailySlot(w)

	e.l.Info("synchronizing slot", zap.String("tier", string(model.Daily)), zap.String("slot", dst.Path), zap.String("mover", e.mover.String()))
	stats, err := e.mover.Move(ctx, mover.Request{
		Sources:     e.job.Sources(),
		Destination: dst,
		Excludes:    e.job.Excludes(),
	})
	e.warnings = append(e.warnings, stats.Warnings...)
	if err != nil {
		if !errors.Is(err, status.ErrSync) && !errors.Is(err, status.ErrValidation) {
			err = status.ErrSync.Wrap(err)
		}
		return stats, err
	}
	return stats, nil
}

// CompleteDaily stamps the daily slot of a weekday and points the latest link at it.
// Failures are reported as warnings: the snapshot itself is complete.
func (e *Engine) CompleteDaily(ctx context.Context, w time.Weekday) {
	slot := e.layout.DailySlot(w)
	if err := e.backend.Touch(ctx, slot); err != nil {
		e.l.Debug("could not touch slot", zap.String("slot", slot), zap.Error(err))
	}
	if err := e.backend.Symlink(ctx, e.layout.LatestTarget(w), e.layout.Latest()); err != nil {
		e.warn("could not update the latest link", err, zap.String("slot", slot))
		return
	}
	e.l.Info("latest snapshot", zap.String("link", e.layout.Latest()), zap.String("target", e.layout.LatestTarget(w)))
}

// RotateDaily runs a complete daily rotation: prepare, sync and complete
func (e *Engine) RotateDaily(ctx context.Context, w time.Weekday) (mover.Stats, error) {
	if err := e.PrepareDaily(ctx, w); err != nil {
		return mover.Stats{}, err
	}
	stats, err := e.Sync(ctx, w)
	if err != nil {
		return stats, err
	}
	e.CompleteDaily(ctx, w)
	return stats, nil
}

// RotateWeekly shifts the weekly ring by one slot and archives the daily snapshot of the day before date
func (e *Engine) RotateWeekly(ctx context.Context, date time.Time) error {
	size := model.WeeklyTier.Size()
	for i := 0; i < size; i++ {
		if err := e.backend.Mkdir(ctx, e.layout.WeeklySlot(i)); err != nil {
			return err
		}
	}

	oldest := e.layout.WeeklySlot(size - 1)
	e.l.Info("evicting slot", zap.String("tier", string(model.Weekly)), zap.String("slot", oldest))
	if err := e.backend.RemoveTree(ctx, oldest); err != nil {
		return err
	}
	for i := size - 2; i >= 0; i-- {
		src, dst := e.layout.WeeklySlot(i), e.layout.WeeklySlot(i+1)
		e.l.Info("shifting slot", zap.String("tier", string(model.Weekly)), zap.String("slot", src), zap.String("to", dst))
		if err := e.backend.MoveDir(ctx, src, dst); err != nil {
			return err
		}
	}

	newest := e.layout.WeeklySlot(0)
	return e.cloneOrEmpty(ctx, e.layout.DailySlot(PreviousWeekday(date.Weekday())), newest,
		zap.String("tier", string(model.Weekly)), zap.String("slot", newest))
}

// RotateMonthly replaces the slot of the month before date with the daily snapshot of the day before date
func (e *Engine) RotateMonthly(ctx context.Context, date time.Time) error {
	for i := 0; i < model.MonthlyTier.Size(); i++ {
		if err := e.backend.Mkdir(ctx, e.layout.MonthlySlot(i)); err != nil {
			return err
		}
	}

	slot := e.layout.MonthlySlot(PreviousMonth(date.Month()))
	fields := []zap.Field{zap.String("tier", string(model.Monthly)), zap.String("slot", slot)}
	e.l.Info("evicting slot", fields...)
	if err := e.backend.RemoveTree(ctx, slot); err != nil {
		return err
	}
	return e.cloneOrEmpty(ctx, e.layout.DailySlot(PreviousWeekday(date.Weekday())), slot, fields...)
}
