// Copyright © 2018 One Concern

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/oneconcern/snapback/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "snapback",
	Short: "Snapback keeps a rotating history of hardlinked backups",
	Long: `Snapback keeps a bounded history of snapshots of some directories:
one per weekday, the last four sundays and the first of each month.

Every snapshot is a complete tree you can browse and restore from with regular tools.
Files that did not change from a snapshot to the next share their storage as hardlinks.

Sources and destination are local paths or [user@]host:path locations reached over ssh,
but only one side of a job may be remote.
`,
	SilenceUsage: true,
}

// config holds the effective configuration of the command being executed
var config *CLIConfig

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		osExit(exitFailure)
	}
}

func init() {
	addConfigFlag(rootCmd)
	addDestinationFlag(rootCmd)
	addLogLevelFlag(rootCmd)
	addLogFormatFlag(rootCmd)
	addFormatFlag(rootCmd)

	cobra.OnInitialize(initConfig)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	setDefaults()
	bindFlags()

	switch {
	case snapbackFlags.root.config != "":
		viper.SetConfigFile(snapbackFlags.root.config)
	case os.Getenv("SNAPBACK_CONFIG") != "":
		viper.SetConfigFile(os.Getenv("SNAPBACK_CONFIG"))
	default:
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.snapback")
		viper.AddConfigPath("/etc/snapback")
		viper.SetConfigName("snapback")
	}

	viper.SetEnvPrefix("snapback")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			wrapFatalWithCode(fmt.Errorf("reading configuration: %w", err))
			return
		}
	} else {
		infoLogger.Println("Using config file:", viper.ConfigFileUsed())
	}

	var err error
	config, err = newConfig()
	if err != nil {
		wrapFatalWithCode(err)
	}
}
