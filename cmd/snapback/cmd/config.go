package cmd

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/oneconcern/snapback/pkg/core/status"
	"github.com/oneconcern/snapback/pkg/errors"
	"github.com/oneconcern/snapback/pkg/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	moverRsync   = "rsync"
	moverBuiltin = "builtin"

	hookFailureFatal = "fatal"
	hookFailureWarn  = "warn"
)

// CLIConfig describes the CLI configuration.
type CLIConfig struct {
	Name        string        `mapstructure:"name" json:"name" yaml:"name" validate:"required"`
	Sources     []string      `mapstructure:"sources" json:"sources" yaml:"sources" validate:"dive,required"`
	Destination string        `mapstructure:"destination" json:"destination" yaml:"destination"`
	Excludes    []string      `mapstructure:"excludes" json:"excludes,omitempty" yaml:"excludes,omitempty"`
	Protected   []string      `mapstructure:"protected" json:"protected,omitempty" yaml:"protected,omitempty"`
	Hooks       HooksConfig   `mapstructure:"hooks" json:"hooks" yaml:"hooks"`
	SSH         SSHConfig     `mapstructure:"ssh" json:"ssh" yaml:"ssh"`
	Mover       MoverConfig   `mapstructure:"mover" json:"mover" yaml:"mover"`
	Lock        LockConfig    `mapstructure:"lock" json:"lock" yaml:"lock"`
	Metrics     MetricsConfig `mapstructure:"metrics" json:"metrics" yaml:"metrics"`
	LogLevel    string        `mapstructure:"loglevel" json:"loglevel" yaml:"loglevel" validate:"oneof=none error warn info debug"`
	LogFormat   string        `mapstructure:"log_format" json:"log_format" yaml:"log_format" validate:"oneof=console json"`
}

// HooksConfig holds shell commands run around a backup
type HooksConfig struct {
	Pre       []string `mapstructure:"pre" json:"pre,omitempty" yaml:"pre,omitempty"`
	Post      []string `mapstructure:"post" json:"post,omitempty" yaml:"post,omitempty"`
	OnFailure string   `mapstructure:"on_failure" json:"on_failure" yaml:"on_failure" validate:"oneof=fatal warn"`
}

// SSHConfig configures the connection to the remote side of a job
type SSHConfig struct {
	Port                  int    `mapstructure:"port" json:"port,omitempty" yaml:"port,omitempty" validate:"min=0,max=65535"`
	Identity              string `mapstructure:"identity" json:"identity,omitempty" yaml:"identity,omitempty"`
	KnownHosts            string `mapstructure:"known_hosts" json:"known_hosts,omitempty" yaml:"known_hosts,omitempty"`
	InsecureIgnoreHostKey bool   `mapstructure:"insecure_ignore_host_key" json:"insecure_ignore_host_key,omitempty" yaml:"insecure_ignore_host_key,omitempty"`
}

// MoverConfig selects and tunes the data mover
type MoverConfig struct {
	Engine           string   `mapstructure:"engine" json:"engine" yaml:"engine" validate:"oneof=rsync builtin"`
	RsyncPath        string   `mapstructure:"rsync_path" json:"rsync_path" yaml:"rsync_path" validate:"required_if=Engine rsync"`
	ExtraArgs        []string `mapstructure:"extra_args" json:"extra_args,omitempty" yaml:"extra_args,omitempty"`
	TolerateVanished bool     `mapstructure:"tolerate_vanished" json:"tolerate_vanished" yaml:"tolerate_vanished"`
}

// LockConfig configures the run lock
type LockConfig struct {
	Dir      string `mapstructure:"dir" json:"dir,omitempty" yaml:"dir,omitempty"`
	Disabled bool   `mapstructure:"disabled" json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// MetricsConfig configures the output of run metrics
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile" json:"textfile,omitempty" yaml:"textfile,omitempty"`
}

var validation = validator.New()

func newConfig() (*CLIConfig, error) {
	var config CLIConfig
	if err := viper.Unmarshal(&config); err != nil {
		return nil, status.ErrValidation.Wrapf("decoding configuration: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *CLIConfig) validate() error {
	err := validation.Struct(c)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return status.ErrValidation.Wrap(err)
	}
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		msgs = append(msgs, fmt.Sprintf("%s: invalid value %q (%s)", fe.Namespace(), fmt.Sprint(fe.Value()), fe.Tag()))
	}
	return status.ErrValidation.Wrapf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func (c *CLIConfig) sshOptions() model.SSHOptions {
	return model.SSHOptions{
		Port:                  c.SSH.Port,
		IdentityFile:          c.SSH.Identity,
		KnownHostsFile:        c.SSH.KnownHosts,
		InsecureIgnoreHostKey: c.SSH.InsecureIgnoreHostKey,
	}
}

func (c *CLIConfig) destination() (model.Location, error) {
	if c.Destination == "" {
		return model.Location{}, status.ErrValidation.Wrapf("no destination configured")
	}
	return model.ParseLocation(c.Destination)
}

// toJob converts the configuration into a validated job
func (c *CLIConfig) toJob() (model.Job, error) {
	sources := make([]model.Location, 0, len(c.Sources))
	for _, s := range c.Sources {
		loc, err := model.ParseLocation(s)
		if err != nil {
			return model.Job{}, err
		}
		sources = append(sources, loc)
	}
	dst, err := c.destination()
	if err != nil {
		return model.Job{}, err
	}

	opts := []model.JobOption{
		model.WithExcludes(c.Excludes...),
		model.WithHooks(model.Hooks{
			Pre:      c.Hooks.Pre,
			Post:     c.Hooks.Post,
			Tolerant: c.Hooks.OnFailure == hookFailureWarn,
		}),
		model.WithSSH(c.sshOptions()),
	}
	if len(c.Protected) > 0 {
		opts = append(opts, model.WithProtected(c.Protected...))
	}

	job := model.NewJob(c.Name, sources, dst, opts...)
	if err = job.Validate(); err != nil {
		return model.Job{}, err
	}
	if c.Mover.Engine == moverBuiltin && (job.SourceRemote() || dst.IsRemote()) {
		return model.Job{}, status.ErrValidation.Wrapf("the builtin mover only handles local jobs, use rsync")
	}
	return job, nil
}

// configCmd represents the config related commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Commands to inspect the configuration",
	Long: `Commands to inspect the snapback configuration.

The configuration is read from the file given by --config or $SNAPBACK_CONFIG,
or from snapback.yaml in the current directory, $HOME/.snapback or /etc/snapback.
Every key may be overridden by an environment variable prefixed with SNAPBACK_,
e.g. SNAPBACK_MOVER_ENGINE=builtin, and by command line flags.`,
}

func init() {
	rootCmd.AddCommand(configCmd)
}
