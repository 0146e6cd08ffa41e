package cmd

import (
	"context"
	"io"

	"github.com/oneconcern/snapback/pkg/core"
	"github.com/oneconcern/snapback/pkg/core/status"
	"github.com/oneconcern/snapback/pkg/model"
	"github.com/oneconcern/snapback/pkg/mover"
	"github.com/oneconcern/snapback/pkg/report"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List the snapshots of a destination",
	Long: `List every slot of every tier under a destination root, telling which ones hold a snapshot
and where the "latest" link points. Nothing is modified.`,
	Example: `snapback status --destination backup@nas:/volume1/backup`,
	Run: func(cmd *cobra.Command, args []string) {
		if config == nil {
			return
		}
		if err := showStatus(context.Background(), config, cmd.OutOrStdout()); err != nil {
			wrapFatalWithCode(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(ctx context.Context, c *CLIConfig, out io.Writer) error {
	formats := report.InventoryFormats()
	if _, err := formats.Get(snapbackFlags.root.format); err != nil {
		return status.ErrValidation.Wrap(err)
	}
	dst, err := c.destination()
	if err != nil {
		return err
	}
	l, err := newLogger(c)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	b, err := openBackend(ctx, l, dst, c.sshOptions())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			l.Warn("closing backend", zap.Error(cerr))
		}
	}()

	ok, err := b.Exists(ctx, dst.Path)
	if err != nil {
		return status.ErrValidation.Wrapf("checking destination %q: %w", dst, err)
	}
	if !ok {
		return status.ErrValidation.Wrapf("destination %q does not exist", dst)
	}

	job := model.NewJob(c.Name, nil, dst)
	inv, err := core.NewEngine(job, b, mover.Noop{}, core.EngineLogger(l)).Inventory(ctx)
	if err != nil {
		return err
	}
	return formats.Write(out, snapbackFlags.root.format, inv)
}
