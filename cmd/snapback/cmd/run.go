// Copyright © 2018 One Concern

package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oneconcern/snapback/pkg/core"
	"github.com/oneconcern/snapback/pkg/core/status"
	"github.com/oneconcern/snapback/pkg/hooks"
	"github.com/oneconcern/snapback/pkg/lock"
	"github.com/oneconcern/snapback/pkg/metrics"
	"github.com/oneconcern/snapback/pkg/report"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a backup and rotate the snapshots",
	Long: `Synchronize the sources into today's daily snapshot, then rotate the tiers:

  - every day, the daily snapshot of the weekday starts as a hardlinked copy of yesterday's
  - on sundays, the weekly snapshots shift and week1 receives a copy of yesterday's daily snapshot
  - on the first day of a month, the snapshot of the previous month is replaced

The "latest" link at the root of the destination points to the last completed daily snapshot.
`,
	Example: `# back up a home directory to a mounted disk
snapback run --source /home/alice --destination /mnt/backup

# pull a remote directory as described by a configuration file
snapback run --config /etc/snapback/photos.yaml

# see what a sunday run would do
snapback run --date 2026-10-18 --dry-run`,
	Run: func(cmd *cobra.Command, args []string) {
		if config == nil {
			return
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := runBackup(ctx, config, cmd.OutOrStdout())
		if err != nil {
			wrapFatalWithCode(err)
			return
		}
		if len(res.Warnings) > 0 {
			infoLogger.Printf("completed with %d warning(s)", len(res.Warnings))
		}
	},
}

func init() {
	addSourceFlag(runCmd)
	addExcludeFlag(runCmd)
	addDateFlag(runCmd)
	addDryRunFlag(runCmd)
	addMoverFlag(runCmd)
	addMetricsTextfileFlag(runCmd)
	addNoLockFlag(runCmd)
	rootCmd.AddCommand(runCmd)
}

func runDate() (time.Time, error) {
	if snapbackFlags.run.date == "" {
		return time.Time{}, nil
	}
	d, err := time.ParseInLocation(dateLayout, snapbackFlags.run.date, time.Local)
	if err != nil {
		return time.Time{}, status.ErrValidation.Wrapf("invalid date %q, expected %s", snapbackFlags.run.date, dateLayout)
	}
	return d, nil
}

// runBackup runs the pipeline of the configured job, then writes the report and the metrics
func runBackup(ctx context.Context, c *CLIConfig, out io.Writer) (res core.Result, err error) {
	formats := report.RunFormats()
	if _, err = formats.Get(snapbackFlags.root.format); err != nil {
		return res, status.ErrValidation.Wrap(err)
	}
	date, err := runDate()
	if err != nil {
		return res, err
	}
	job, err := c.toJob()
	if err != nil {
		return res, err
	}
	l, err := newLogger(c)
	if err != nil {
		return res, err
	}
	defer func() { _ = l.Sync() }()

	dest, err := openBackend(ctx, l, job.Destination(), job.SSH())
	if err != nil {
		return res, err
	}
	sources := dest
	if job.SourceRemote() || job.Destination().IsRemote() {
		// the source side needs its own backend, local or remote
		if sources, err = openBackend(ctx, l, job.Sources()[0], job.SSH()); err != nil {
			_ = dest.Close()
			return res, err
		}
	}
	defer func() {
		cerr := dest.Close()
		if sources != dest {
			cerr = multierr.Append(cerr, sources.Close())
		}
		if cerr != nil {
			l.Warn("closing backends", zap.Error(cerr))
		}
	}()

	opts := []core.PipelineOption{
		core.Logger(l),
		core.DryRun(snapbackFlags.run.dryRun),
		core.Hooks(hooks.New(
			hooks.WithExecutor(executor),
			hooks.WithLogger(l),
			hooks.WithEnv("SNAPBACK_JOB="+job.Name(), "SNAPBACK_DESTINATION="+job.Destination().String()),
		)),
	}
	if !date.IsZero() {
		opts = append(opts, core.Date(date))
	}
	if !c.Lock.Disabled {
		opts = append(opts, core.Lock(lock.New(c.Lock.Dir, job.Destination().String())))
	}
	var recorder *metrics.Run
	if c.Metrics.Textfile != "" {
		recorder = metrics.NewRun(job.Name())
		opts = append(opts, core.Metrics(recorder))
	}

	res, err = core.NewPipeline(job, dest, sources, newMover(c, l, job), opts...).Run(ctx)

	if recorder != nil && !res.DryRun {
		if merr := recorder.WriteTextfile(c.Metrics.Textfile); merr != nil {
			l.Warn("could not write metrics", zap.String("path", c.Metrics.Textfile), zap.Error(merr))
		}
	}
	if ferr := formats.Write(out, snapbackFlags.root.format, report.NewRunOutcome(res, err)); ferr != nil {
		l.Warn("could not write the report", zap.Error(ferr))
	}
	return res, err
}
