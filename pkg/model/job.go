package model

import (
	"path"

	"github.com/oneconcern/snapback/pkg/core/status"
)

// DefaultProtected lists the system paths that may never be used as a destination root
var DefaultProtected = []string{
	"/", "/bin", "/boot", "/dev", "/etc", "/home", "/lib", "/lib64", "/opt",
	"/proc", "/root", "/run", "/sbin", "/srv", "/sys", "/tmp", "/usr", "/var",
}

// Hooks are shell commands run around a backup.
type Hooks struct {
	Pre  []string `json:"pre,omitempty" yaml:"pre,omitempty"`
	Post []string `json:"post,omitempty" yaml:"post,omitempty"`

	// Tolerant hooks only log a warning when failing
	Tolerant bool `json:"tolerant,omitempty" yaml:"tolerant,omitempty"`
}

// Job is the immutable description of a backup: what to copy, where, and how.
//
// Accessors return copies so that a Job may be shared by value.
type Job struct {
	name        string
	sources     []Location
	destination Location
	excludes    []string
	protected   []string
	hooks       Hooks
	ssh         SSHOptions
}

// JobOption sets an optional attribute of a job
type JobOption func(*Job)

// WithExcludes sets the exclude patterns passed to the data mover
func WithExcludes(patterns ...string) JobOption {
	return func(j *Job) {
		j.excludes = append([]string(nil), patterns...)
	}
}

// WithProtected replaces the default deny-list of destination roots
func WithProtected(paths ...string) JobOption {
	return func(j *Job) {
		j.protected = append([]string(nil), paths...)
	}
}

// WithHooks sets the pre and post hooks
func WithHooks(h Hooks) JobOption {
	return func(j *Job) {
		j.hooks = Hooks{
			Pre:      append([]string(nil), h.Pre...),
			Post:     append([]string(nil), h.Post...),
			Tolerant: h.Tolerant,
		}
	}
}

// WithSSH sets the ssh options used for the remote side
func WithSSH(o SSHOptions) JobOption {
	return func(j *Job) {
		j.ssh = o
	}
}

// NewJob builds a job. Use Validate to check it before running.
func NewJob(name string, sources []Location, destination Location, opts ...JobOption) Job {
	j := Job{
		name:        name,
		sources:     append([]Location(nil), sources...),
		destination: destination,
		protected:   DefaultProtected,
	}
	for _, apply := range opts {
		apply(&j)
	}
	return j
}

// Name of the job
func (j Job) Name() string { return j.name }

// Sources yields the source set
func (j Job) Sources() []Location { return append([]Location(nil), j.sources...) }

// Destination yields the destination root
func (j Job) Destination() Location { return j.destination }

// Excludes yields the exclude patterns
func (j Job) Excludes() []string { return append([]string(nil), j.excludes...) }

// Protected yields the deny-list of destination roots
func (j Job) Protected() []string { return append([]string(nil), j.protected...) }

// Hooks yields the hook commands
func (j Job) Hooks() Hooks { return j.hooks }

// SSH yields the ssh options
func (j Job) SSH() SSHOptions { return j.ssh }

// SourceRemote tells if the source set lives on a remote host
func (j Job) SourceRemote() bool {
	return len(j.sources) > 0 && j.sources[0].IsRemote()
}

// Layout yields the tier layout under the destination root
func (j Job) Layout() Layout {
	return NewLayout(j.destination.Path)
}

// Validate performs the checks that do not need to touch any filesystem.
//
// Existence of sources and destination is verified by the pipeline, through the backends.
func (j Job) Validate() error {
	if len(j.sources) == 0 {
		return status.ErrValidation.Wrapf("no source configured")
	}
	if j.destination.Path == "" {
		return status.ErrValidation.Wrapf("no destination configured")
	}

	first := j.sources[0]
	for _, s := range j.sources[1:] {
		if s.IsRemote() != first.IsRemote() {
			return status.ErrValidation.Wrapf("sources mix local and remote paths: %q and %q", first, s)
		}
		if s.IsRemote() && s.Address() != first.Address() {
			return status.ErrValidation.Wrapf("remote sources must all be on the same host: %q and %q", first, s)
		}
	}

	if first.IsRemote() && j.destination.IsRemote() {
		return status.ErrValidation.Wrapf("source %q and destination %q cannot both be remote", first, j.destination)
	}

	if j.IsProtected(j.destination.Path) {
		return status.ErrValidation.Wrapf("destination %q is a protected path", j.destination)
	}
	return nil
}

// IsProtected tells if a path exactly matches an entry of the deny-list
func (j Job) IsProtected(p string) bool {
	p = path.Clean(p)
	for _, protected := range j.protected {
		if protected == "" {
			continue
		}
		if path.Clean(protected) == p {
			return true
		}
	}
	return false
}
