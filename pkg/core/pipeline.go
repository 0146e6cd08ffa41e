// Copyright © 2018 One Concern

package core

import (
	"context"
	"time"

	"github.com/oneconcern/snapback/pkg/backend"
	"github.com/oneconcern/snapback/pkg/backend/dryrun"
	"github.com/oneconcern/snapback/pkg/core/status"
	"github.com/oneconcern/snapback/pkg/errors"
	"github.com/oneconcern/snapback/pkg/model"
	"github.com/oneconcern/snapback/pkg/mover"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Stages of a run, as reported to the recorder
const (
	StagePreHooks  = "pre-hooks"
	StageValidate  = "validate"
	StageLock      = "lock"
	StageTiers     = "tiers"
	StageDaily     = "daily"
	StageSync      = "sync"
	StageWeekly    = "weekly"
	StageMonthly   = "monthly"
	StagePostHooks = "post-hooks"
)

// HookRunner executes the hook commands of a phase, in order
type HookRunner interface {
	Run(ctx context.Context, phase string, commands []string) error
}

// Locker guards a destination root against concurrent runs
type Locker interface {
	Acquire() error
	Release() error
}

// Recorder is notified of the progress of a run
type Recorder interface {
	StageDone(stage string, elapsed time.Duration, err error)
	TierRotated(tier model.TierName)
	RunDone(Result, error)
}

type noopRecorder struct{}

func (noopRecorder) StageDone(string, time.Duration, error) {}
func (noopRecorder) TierRotated(model.TierName)             {}
func (noopRecorder) RunDone(Result, error)                  {}

// Result of a run
type Result struct {
	Job      string           `json:"job" yaml:"job"`
	Date     time.Time        `json:"date" yaml:"date"`
	Start    time.Time        `json:"start" yaml:"start"`
	End      time.Time        `json:"end" yaml:"end"`
	Slot     string           `json:"slot,omitempty" yaml:"slot,omitempty"`
	Rotated  []model.TierName `json:"rotated,omitempty" yaml:"rotated,omitempty"`
	Transfer mover.Stats      `json:"transfer" yaml:"transfer"`
	Warnings []string         `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Usage    *backend.Usage   `json:"usage,omitempty" yaml:"usage,omitempty"`
	DryRun   bool             `json:"dryRun,omitempty" yaml:"dryRun,omitempty"`
}

// Elapsed duration of the run
func (r Result) Elapsed() time.Duration {
	return r.End.Sub(r.Start)
}

// PipelineOption is a functor to build a pipeline with some options
type PipelineOption func(*Pipeline)

// Logger sets the logger of the pipeline and its engine
func Logger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.l = l
		}
	}
}

// Clock sets the source of time, used for the date of the run when none is set and for timings
func Clock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// Date forces the date of the run, which selects the slots to rotate
func Date(d time.Time) PipelineOption {
	return func(p *Pipeline) {
		p.date = d
	}
}

// Hooks sets the runner of pre and post hooks
func Hooks(h HookRunner) PipelineOption {
	return func(p *Pipeline) {
		p.hooks = h
	}
}

// Lock sets the guard of the destination root
func Lock(l Locker) PipelineOption {
	return func(p *Pipeline) {
		p.locker = l
	}
}

// Metrics sets the recorder of the run
func Metrics(r Recorder) PipelineOption {
	return func(p *Pipeline) {
		if r != nil {
			p.recorder = r
		}
	}
}

// DryRun reports the mutations of a run instead of performing them.
// Hooks are not executed and the destination is not locked.
func DryRun(enabled bool) PipelineOption {
	return func(p *Pipeline) {
		p.dryRun = enabled
	}
}

// Pipeline sequences a complete run of a job
type Pipeline struct {
	job      model.Job
	dest     backend.Backend
	sources  backend.Backend
	mover    mover.Mover
	hooks    HookRunner
	locker   Locker
	recorder Recorder
	now      func() time.Time
	date     time.Time
	dryRun   bool
	l        *zap.Logger
}

// NewPipeline builds the pipeline of a job.
//
// The destination backend acts where the snapshots live, the sources backend is used to check that
// the sources exist: they are distinct when one side of the job is remote.
func NewPipeline(job model.Job, dest, sources backend.Backend, m mover.Mover, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		job:      job,
		dest:     dest,
		sources:  sources,
		mover:    m,
		recorder: noopRecorder{},
		now:      time.Now,
		l:        zap.NewNop(),
	}
	for _, apply := range opts {
		apply(p)
	}
	if p.dryRun {
		p.dest = dryrun.Wrap(p.l, p.dest)
		p.mover = mover.Noop{Logger: p.l}
	}
	return p
}

type stageFunc func(context.Context) error

func (p *Pipeline) stage(ctx context.Context, name string, fn stageFunc) error {
	start := p.now()
	err := fn(ctx)
	elapsed := p.now().Sub(start)
	p.recorder.StageDone(name, elapsed, err)
	if err != nil {
		p.l.Error("stage failed", zap.String("stage", name), zap.Duration("elapsed", elapsed), zap.Error(err))
		return err
	}
	p.l.Debug("stage complete", zap.String("stage", name), zap.Duration("elapsed", elapsed))
	return nil
}

// Run the pipeline:
//
//	validate the job → pre hooks → check sources and destination exist → lock
//	→ tiers → daily rotation and sync → weekly rotation on sundays → monthly rotation on the 1st
//	→ unlock → post hooks
//
// Any failure aborts the remaining stages, but post hooks run as soon as pre hooks have started.
func (p *Pipeline) Run(ctx context.Context) (res Result, err error) {
	res = Result{Job: p.job.Name(), Start: p.now(), DryRun: p.dryRun}
	res.Date = p.date
	if res.Date.IsZero() {
		res.Date = res.Start
	}
	l := p.l.With(zap.String("job", p.job.Name()), zap.Time("date", res.Date))
	engine := NewEngine(p.job, p.dest, p.mover, EngineLogger(l))

	defer func() {
		res.Warnings = append(res.Warnings, engine.Warnings()...)
		res.End = p.now()
		p.recorder.RunDone(res, err)
	}()

	if err = p.job.Validate(); err != nil {
		p.recorder.StageDone(StageValidate, 0, err)
		return res, err
	}

	defer func() {
		// post hooks run to clean up, even when the run was interrupted
		if herr := p.runHooks(context.WithoutCancel(ctx), StagePostHooks, "post", p.job.Hooks().Post, &res); herr != nil {
			err = multierr.Append(err, herr)
		}
	}()
	if err = p.runHooks(ctx, StagePreHooks, "pre", p.job.Hooks().Pre, &res); err != nil {
		return res, err
	}

	if err = p.stage(ctx, StageValidate, p.checkExistence); err != nil {
		return res, err
	}

	if p.locker != nil && !p.dryRun {
		if err = p.stage(ctx, StageLock, func(context.Context) error { return p.locker.Acquire() }); err != nil {
			return res, err
		}
		defer func() {
			if uerr := p.locker.Release(); uerr != nil {
				res.Warnings = append(res.Warnings, "releasing the lock: "+uerr.Error())
				l.Warn("could not release the lock", zap.Error(uerr))
			}
		}()
	}

	if err = p.stage(ctx, StageTiers, engine.EnsureTiers); err != nil {
		return res, err
	}

	w := res.Date.Weekday()
	res.Slot = engine.Layout().DailySlot(w)
	if err = p.stage(ctx, StageDaily, func(ctx context.Context) error { return engine.PrepareDaily(ctx, w) }); err != nil {
		return res, err
	}
	if err = p.stage(ctx, StageSync, func(ctx context.Context) (serr error) {
		res.Transfer, serr = engine.Sync(ctx, w)
		return serr
	}); err != nil {
		return res, err
	}
	engine.CompleteDaily(ctx, w)
	p.rotated(&res, model.Daily)

	if WeeklyDue(res.Date) {
		if err = p.stage(ctx, StageWeekly, func(ctx context.Context) error { return engine.RotateWeekly(ctx, res.Date) }); err != nil {
			return res, err
		}
		p.rotated(&res, model.Weekly)
	}
	if MonthlyDue(res.Date) {
		if err = p.stage(ctx, StageMonthly, func(ctx context.Context) error { return engine.RotateMonthly(ctx, res.Date) }); err != nil {
			return res, err
		}
		p.rotated(&res, model.Monthly)
	}

	if u, uerr := p.dest.DiskUsage(ctx, engine.Layout().Root); uerr == nil {
		res.Usage = &u
	} else {
		l.Debug("disk usage unavailable", zap.Error(uerr))
	}
	l.Info("run complete", zap.String("slot", res.Slot), zap.Duration("elapsed", p.now().Sub(res.Start)))
	return res, nil
}

func (p *Pipeline) rotated(res *Result, tier model.TierName) {
	res.Rotated = append(res.Rotated, tier)
	p.recorder.TierRotated(tier)
}

func (p *Pipeline) runHooks(ctx context.Context, stage, phase string, commands []string, res *Result) error {
	if len(commands) == 0 {
		return nil
	}
	if p.dryRun || p.hooks == nil {
		p.l.Info("skipping hooks", zap.String("phase", phase), zap.Strings("commands", commands))
		return nil
	}
	err := p.stage(ctx, stage, func(ctx context.Context) error {
		return p.hooks.Run(ctx, phase, commands)
	})
	if err != nil && p.job.Hooks().Tolerant {
		res.Warnings = append(res.Warnings, err.Error())
		return nil
	}
	return err
}

// checkExistence verifies that every source and the destination root exist, before anything is modified
func (p *Pipeline) checkExistence(ctx context.Context) error {
	for _, s := range p.job.Sources() {
		ok, err := p.sources.Exists(ctx, s.Path)
		if err != nil {
			return status.ErrValidation.Wrapf("checking source %q: %v", s, err)
		}
		if !ok {
			return status.ErrValidation.Wrapf("source %q does not exist", s)
		}
	}

	dst := p.job.Destination()
	ok, err := p.dest.Exists(ctx, dst.Path)
	if err != nil {
		return status.ErrValidation.Wrapf("checking destination %q: %v", dst, err)
	}
	if !ok {
		return status.ErrValidation.Wrapf("destination %q does not exist", dst)
	}
	return nil
}

// IsLocked tells if a run failed because another one holds the destination
func IsLocked(err error) bool {
	return errors.Is(err, status.ErrLocked)
}
