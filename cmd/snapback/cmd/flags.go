// Copyright © 2018 One Concern

package cmd

import (
	"github.com/oneconcern/snapback/pkg/dlogger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type flagsT struct {
	root struct {
		config    string
		logLevel  string
		logFormat string
		format    string
	}
	run struct {
		sources         []string
		destination     string
		excludes        []string
		date            string
		dryRun          bool
		mover           string
		metricsTextfile string
		noLock          bool
	}
}

var snapbackFlags = flagsT{}

const (
	configFlag          = "config"
	destinationFlag     = "destination"
	logLevelFlag        = "loglevel"
	logFormatFlag       = "log-format"
	formatFlag          = "format"
	sourceFlag          = "source"
	excludeFlag         = "exclude"
	dateFlag            = "date"
	dryRunFlag          = "dry-run"
	moverFlag           = "mover"
	metricsTextfileFlag = "metrics-textfile"
	noLockFlag          = "no-lock"
)

func addConfigFlag(cmd *cobra.Command) string {
	cmd.PersistentFlags().StringVar(&snapbackFlags.root.config, configFlag, "", "Configuration file, overriding $SNAPBACK_CONFIG")
	return configFlag
}

func addDestinationFlag(cmd *cobra.Command) string {
	cmd.PersistentFlags().StringVar(&snapbackFlags.run.destination, destinationFlag, "", "Destination root, as a local path or [user@]host:path")
	return destinationFlag
}

func addLogLevelFlag(cmd *cobra.Command) string {
	cmd.PersistentFlags().StringVar(&snapbackFlags.root.logLevel, logLevelFlag, "", "The logging level: none, error, warn, info or debug")
	return logLevelFlag
}

func addLogFormatFlag(cmd *cobra.Command) string {
	cmd.PersistentFlags().StringVar(&snapbackFlags.root.logFormat, logFormatFlag, "", "The logging format: console or json")
	return logFormatFlag
}

func addFormatFlag(cmd *cobra.Command) string {
	cmd.PersistentFlags().StringVar(&snapbackFlags.root.format, formatFlag, "table", "Output format of reports: table, json or yaml")
	return formatFlag
}

func addSourceFlag(cmd *cobra.Command) string {
	cmd.Flags().StringSliceVar(&snapbackFlags.run.sources, sourceFlag, nil, "Source to back up, may be repeated")
	return sourceFlag
}

func addExcludeFlag(cmd *cobra.Command) string {
	cmd.Flags().StringSliceVar(&snapbackFlags.run.excludes, excludeFlag, nil, "Exclude pattern, may be repeated")
	return excludeFlag
}

func addDateFlag(cmd *cobra.Command) string {
	cmd.Flags().StringVar(&snapbackFlags.run.date, dateFlag, "", "Run as if today were this date (YYYY-MM-DD)")
	return dateFlag
}

func addDryRunFlag(cmd *cobra.Command) string {
	cmd.Flags().BoolVar(&snapbackFlags.run.dryRun, dryRunFlag, false, "Report the rotation without modifying anything")
	return dryRunFlag
}

func addMoverFlag(cmd *cobra.Command) string {
	cmd.Flags().StringVar(&snapbackFlags.run.mover, moverFlag, "", "Data mover: rsync or builtin")
	return moverFlag
}

func addMetricsTextfileFlag(cmd *cobra.Command) string {
	cmd.Flags().StringVar(&snapbackFlags.run.metricsTextfile, metricsTextfileFlag, "", "Write run metrics to this node_exporter textfile")
	return metricsTextfileFlag
}

func addNoLockFlag(cmd *cobra.Command) string {
	cmd.Flags().BoolVar(&snapbackFlags.run.noLock, noLockFlag, false, "Do not lock the destination root")
	return noLockFlag
}

// bindFlags maps flags onto configuration keys: a flag set on the command line overrides the configuration
func bindFlags() {
	bind := func(key string, flags *pflag.FlagSet, name string) {
		if f := flags.Lookup(name); f != nil {
			_ = viper.BindPFlag(key, f)
		}
	}
	root := rootCmd.PersistentFlags()
	bind("destination", root, destinationFlag)
	bind("loglevel", root, logLevelFlag)
	bind("log_format", root, logFormatFlag)

	run := runCmd.Flags()
	bind("sources", run, sourceFlag)
	bind("excludes", run, excludeFlag)
	bind("mover.engine", run, moverFlag)
	bind("metrics.textfile", run, metricsTextfileFlag)
	bind("lock.disabled", run, noLockFlag)
}

func setDefaults() {
	viper.SetDefault("name", "snapback")
	viper.SetDefault("sources", []string{})
	viper.SetDefault("destination", "")
	viper.SetDefault("excludes", []string{})
	viper.SetDefault("protected", []string{})
	viper.SetDefault("hooks.pre", []string{})
	viper.SetDefault("hooks.post", []string{})
	viper.SetDefault("hooks.on_failure", hookFailureFatal)
	viper.SetDefault("ssh.port", 0)
	viper.SetDefault("ssh.identity", "")
	viper.SetDefault("ssh.known_hosts", "")
	viper.SetDefault("ssh.insecure_ignore_host_key", false)
	viper.SetDefault("mover.engine", moverRsync)
	viper.SetDefault("mover.rsync_path", "rsync")
	viper.SetDefault("mover.extra_args", []string{})
	viper.SetDefault("mover.tolerate_vanished", true)
	viper.SetDefault("lock.dir", "")
	viper.SetDefault("lock.disabled", false)
	viper.SetDefault("metrics.textfile", "")
	viper.SetDefault("loglevel", dlogger.LogLevelInfo)
	viper.SetDefault("log_format", dlogger.FormatConsole)
}
