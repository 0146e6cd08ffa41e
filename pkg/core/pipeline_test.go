// Copyright © 2018 One Concern

package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oneconcern/snapback/pkg/backend/localfs"
	"github.com/oneconcern/snapback/pkg/core/status"
	"github.com/oneconcern/snapback/pkg/errors"
	"github.com/oneconcern/snapback/pkg/model"
	"github.com/oneconcern/snapback/pkg/mover"
	"github.com/oneconcern/snapback/pkg/mover/mirror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f fixture) pipeline(job model.Job, opts ...PipelineOption) (*Pipeline, *recordingBackend) {
	rec := &recordingBackend{Backend: localfs.New()}
	return NewPipeline(job, rec, localfs.New(), mirror.New(), opts...), rec
}

func TestScenarioFirstRun(t *testing.T) {
	f := newFixture(t)
	metrics := &fakeRecorder{}
	p, _ := f.pipeline(f.job(), Date(date("2026-10-15")), Metrics(metrics))

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	thursday := filepath.Join(f.dest, "daily", "thursday")
	assert.Equal(t, thursday, res.Slot)
	assert.False(t, exists(filepath.Join(f.dest, "daily", "wednesday")))
	assert.Equal(t, []string{filepath.Join("photos", "cat.jpg"), "todo.txt"}, files(t, thursday))
	assertLatest(t, f.dest, "daily/thursday")

	for _, tier := range []string{"daily", "weekly", "monthly"} {
		assert.True(t, exists(filepath.Join(f.dest, tier)))
	}
	assert.Equal(t, []model.TierName{model.Daily}, res.Rotated)
	assert.Equal(t, 2, res.Transfer.Transferred)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "starting with an empty slot")
	require.NotNil(t, res.Usage)
	assert.False(t, res.End.Before(res.Start))

	assert.Equal(t, []string{StageValidate, StageTiers, StageDaily, StageSync}, metrics.stages)
	assert.Equal(t, []model.TierName{model.Daily}, metrics.tiers)
	require.NotNil(t, metrics.result)
	assert.NoError(t, metrics.lastErr)
}

func TestScenarioSundayWeeklyRotation(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 4; i++ {
		writeFile(t, filepath.Join(f.dest, "weekly", fmt.Sprintf("week%d", i), "marker"), fmt.Sprintf("w%d", i))
	}
	saturday := filepath.Join(f.dest, "daily", "saturday")
	writeFile(t, filepath.Join(saturday, "todo.txt"), "saturday's todo")

	p, rec := f.pipeline(f.job(), Date(date("2026-10-18")))
	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.TierName{model.Daily, model.Weekly}, res.Rotated)

	weekly := filepath.Join(f.dest, "weekly")
	assert.Equal(t, "w3", readFile(t, filepath.Join(weekly, "week4", "marker")))
	assert.Equal(t, "w2", readFile(t, filepath.Join(weekly, "week3", "marker")))
	assert.Equal(t, "w1", readFile(t, filepath.Join(weekly, "week2", "marker")))
	assert.False(t, exists(filepath.Join(weekly, "week1", "marker")))
	assert.Equal(t, "saturday's todo", readFile(t, filepath.Join(weekly, "week1", "todo.txt")))
	assert.True(t, sameFile(t, filepath.Join(saturday, "todo.txt"), filepath.Join(weekly, "week1", "todo.txt")))

	var steps []string
	for _, c := range rec.Calls() {
		if strings.Contains(c, "weekly/") && !strings.HasPrefix(c, "mkdir") {
			steps = append(steps, strings.ReplaceAll(c, f.dest+"/", ""))
		}
	}
	assert.Equal(t, []string{
		"rm weekly/week4",
		"mv weekly/week3 weekly/week4",
		"mv weekly/week2 weekly/week3",
		"mv weekly/week1 weekly/week2",
		"clone daily/saturday weekly/week1",
	}, steps)

	assertLatest(t, f.dest, "daily/sunday")
}

func TestScenarioFirstOfMonth(t *testing.T) {
	f := newFixture(t)
	monthly := filepath.Join(f.dest, "monthly")
	writeFile(t, filepath.Join(monthly, "march", "old.txt"), "march of last year")
	writeFile(t, filepath.Join(monthly, "april", "keep.txt"), "april of last year")
	writeFile(t, filepath.Join(f.dest, "daily", "wednesday", "march31.txt"), "last day of march")

	p, _ := f.pipeline(f.job(), Date(date("2027-04-01")))
	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.TierName{model.Daily, model.Monthly}, res.Rotated)

	assert.Equal(t, []string{"march31.txt"}, files(t, filepath.Join(monthly, "march")))
	assert.Equal(t, "april of last year", readFile(t, filepath.Join(monthly, "april", "keep.txt")))
	for _, m := range model.MonthlyTier.SlotNames() {
		assert.Truef(t, exists(filepath.Join(monthly, m)), "expected monthly slot %s", m)
	}
	assert.False(t, exists(filepath.Join(f.dest, "weekly", "week1")))
}

func TestSundayFirstOfMonthRotatesEveryTier(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.dest, "daily", "saturday", "october31.txt"), "last day of october")

	p, _ := f.pipeline(f.job(), Date(date("2026-11-01")))
	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.TierName{model.Daily, model.Weekly, model.Monthly}, res.Rotated)
	assert.Equal(t, []string{"october31.txt"}, files(t, filepath.Join(f.dest, "weekly", "week1")))
	assert.Equal(t, []string{"october31.txt"}, files(t, filepath.Join(f.dest, "monthly", "october")))
}

func TestScenarioProtectedDestination(t *testing.T) {
	f := newFixture(t)
	hooks := &fakeHooks{}

	for _, job := range []model.Job{
		model.NewJob("etc", []model.Location{model.MustParseLocation(f.src)}, model.MustParseLocation("/etc/")),
		f.job(model.WithProtected(f.dest)),
	} {
		p, rec := f.pipeline(job, Date(date("2026-10-15")), Hooks(hooks))
		_, err := p.Run(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrValidation))
		assert.Empty(t, rec.Calls())
	}
	assert.Empty(t, hooks.calls)

	entries, err := os.ReadDir(f.dest)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMissingSourceAbortsBeforeAnyMutation(t *testing.T) {
	f := newFixture(t)
	hooks := &fakeHooks{}
	locker := &fakeLocker{}
	job := model.NewJob("home",
		[]model.Location{model.MustParseLocation(filepath.Join(f.root, "nowhere"))},
		model.MustParseLocation(f.dest),
		model.WithHooks(model.Hooks{Pre: []string{"mount"}, Post: []string{"umount"}}),
	)

	p, rec := f.pipeline(job, Date(date("2026-10-15")), Hooks(hooks), Lock(locker))
	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrValidation))
	assert.Empty(t, rec.Calls())
	assert.Zero(t, locker.acquired)
	assert.Equal(t, []string{"pre", "post"}, hooks.calls)

	job = model.NewJob("home", []model.Location{model.MustParseLocation(f.src)}, model.MustParseLocation(filepath.Join(f.root, "unmounted")))
	p, rec = f.pipeline(job, Date(date("2026-10-15")))
	_, err = p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrValidation))
	assert.Empty(t, rec.Calls())
}

type failingMover struct{}

func (failingMover) String() string { return "failing" }
func (failingMover) Move(context.Context, mover.Request) (mover.Stats, error) {
	return mover.Stats{}, fmt.Errorf("connection closed by remote host")
}

func TestSyncFailureRunsPostHooks(t *testing.T) {
	f := newFixture(t)
	hooks := &fakeHooks{fail: map[string]error{"post": status.ErrHook.Wrapf("umount: target is busy")}}
	locker := &fakeLocker{}
	metrics := &fakeRecorder{}
	job := f.job(model.WithHooks(model.Hooks{Pre: []string{"mount"}, Post: []string{"umount"}}))

	p := NewPipeline(job, localfs.New(), localfs.New(), failingMover{},
		Date(date("2026-10-15")), Hooks(hooks), Lock(locker), Metrics(metrics))
	res, err := p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrSync))
	assert.True(t, errors.Is(err, status.ErrHook))
	assert.Contains(t, err.Error(), "connection closed by remote host")

	assert.Equal(t, []string{"pre", "post"}, hooks.calls)
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, locker.released)
	assert.Empty(t, res.Rotated)
	assert.False(t, exists(filepath.Join(f.dest, model.LatestLinkName)))
	assert.Equal(t, err, metrics.lastErr)
	assert.Equal(t,
		[]string{StagePreHooks, StageValidate, StageLock, StageTiers, StageDaily, StageSync, StagePostHooks},
		metrics.stages)
}

func TestPreHookFailure(t *testing.T) {
	f := newFixture(t)
	hooks := &fakeHooks{fail: map[string]error{"pre": status.ErrHook.Wrapf("mount: no such device")}}

	p, rec := f.pipeline(f.job(model.WithHooks(model.Hooks{Pre: []string{"mount"}, Post: []string{"umount"}})),
		Date(date("2026-10-15")), Hooks(hooks))
	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrHook))
	assert.Empty(t, rec.Calls())
	assert.Equal(t, []string{"pre", "post"}, hooks.calls)

	// tolerant hooks only warn
	hooks.calls = nil
	p, _ = f.pipeline(f.job(model.WithHooks(model.Hooks{Pre: []string{"mount"}, Tolerant: true})),
		Date(date("2026-10-15")), Hooks(hooks))
	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"pre"}, hooks.calls)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "no such device")
	assertLatest(t, f.dest, "daily/thursday")
}

func TestLockedDestination(t *testing.T) {
	f := newFixture(t)
	locker := &fakeLocker{err: status.ErrLocked.Wrapf("held by pid 4242")}

	p, rec := f.pipeline(f.job(), Date(date("2026-10-15")), Lock(locker))
	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsLocked(err))
	assert.Empty(t, rec.Calls())
	assert.Zero(t, locker.released)
}

func TestDryRun(t *testing.T) {
	f := newFixture(t)
	hooks := &fakeHooks{}
	locker := &fakeLocker{}

	p, rec := f.pipeline(f.job(model.WithHooks(model.Hooks{Pre: []string{"mount"}})),
		Date(date("2026-10-18")), DryRun(true), Hooks(hooks), Lock(locker))
	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, []model.TierName{model.Daily, model.Weekly}, res.Rotated)

	// the dry-run decorator sits above the recording backend
	assert.Empty(t, rec.Calls())
	assert.Empty(t, hooks.calls)
	assert.Zero(t, locker.acquired)
	entries, err := os.ReadDir(f.dest)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHardlinksAcrossDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, _ := f.pipeline(f.job(), Date(date("2026-10-19")))
	_, err := p.Run(ctx)
	require.NoError(t, err)

	writeFile(t, filepath.Join(f.src, "todo.txt"), "backup everything, twice")
	require.NoError(t, os.Remove(filepath.Join(f.src, "photos", "cat.jpg")))
	writeFile(t, filepath.Join(f.src, "photos", "dog.jpg"), "woof")

	p, _ = f.pipeline(f.job(), Date(date("2026-10-20")))
	_, err = p.Run(ctx)
	require.NoError(t, err)

	monday := filepath.Join(f.dest, "daily", "monday")
	tuesday := filepath.Join(f.dest, "daily", "tuesday")
	assert.Equal(t, []string{filepath.Join("photos", "cat.jpg"), "todo.txt"}, files(t, monday))
	assert.Equal(t, []string{filepath.Join("photos", "dog.jpg"), "todo.txt"}, files(t, tuesday))
	assert.Equal(t, "backup everything", readFile(t, filepath.Join(monday, "todo.txt")))
	assert.Equal(t, "backup everything, twice", readFile(t, filepath.Join(tuesday, "todo.txt")))
	assert.False(t, sameFile(t, filepath.Join(monday, "todo.txt"), filepath.Join(tuesday, "todo.txt")))
	assertLatest(t, f.dest, "daily/tuesday")

	// a week later, the monday slot is evicted and rebuilt from sunday's
	writeFile(t, filepath.Join(f.dest, "daily", "sunday", "todo.txt"), "sunday")
	p, _ = f.pipeline(f.job(), Date(date("2026-10-26")))
	_, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join("photos", "dog.jpg"), "todo.txt"}, files(t, monday))
	assert.Equal(t, "backup everything, twice", readFile(t, filepath.Join(monday, "todo.txt")))
	assert.Equal(t, "sunday", readFile(t, filepath.Join(f.dest, "daily", "sunday", "todo.txt")))
}
