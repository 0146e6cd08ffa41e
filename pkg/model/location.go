package model

import (
	"path"
	"strconv"
	"strings"

	"github.com/oneconcern/snapback/pkg/core/status"
)

// Location is a local path, or a path on a remote host reached over ssh.
type Location struct {
	User string `json:"user,omitempty" yaml:"user,omitempty"`
	Host string `json:"host,omitempty" yaml:"host,omitempty"`
	Path string `json:"path" yaml:"path"`
}

// ParseLocation parses "[user@]host:path" as a remote location and anything else as a local path.
//
// A colon only marks a remote location when it appears before the first slash,
// so that local paths such as "/data/a:b" are not mistaken for remote ones.
// Paths must be absolute.
func ParseLocation(s string) (Location, error) {
	if s == "" {
		return Location{}, status.ErrValidation.Wrapf("empty location")
	}

	var loc Location
	colon := strings.Index(s, ":")
	slash := strings.Index(s, "/")
	if colon > 0 && (slash < 0 || colon < slash) {
		hostPart, p := s[:colon], s[colon+1:]
		if at := strings.LastIndex(hostPart, "@"); at >= 0 {
			loc.User, hostPart = hostPart[:at], hostPart[at+1:]
			if loc.User == "" {
				return Location{}, status.ErrValidation.Wrapf("empty user in %q", s)
			}
		}
		if hostPart == "" {
			return Location{}, status.ErrValidation.Wrapf("empty host in %q", s)
		}
		loc.Host = hostPart
		s = p
	}

	if !path.IsAbs(s) {
		return Location{}, status.ErrValidation.Wrapf("path must be absolute, got %q", s)
	}
	loc.Path = path.Clean(s)
	return loc, nil
}

// MustParseLocation is like ParseLocation but panics on error
func MustParseLocation(s string) Location {
	l, err := ParseLocation(s)
	if err != nil {
		panic(err)
	}
	return l
}

// IsRemote tells if this location lives on a remote host
func (l Location) IsRemote() bool {
	return l.Host != ""
}

// Address yields the ssh address of a remote location, as user@host or host
func (l Location) Address() string {
	if l.User == "" {
		return l.Host
	}
	return l.User + "@" + l.Host
}

// Join yields a location on the same host, for a path relative to this one
func (l Location) Join(elem ...string) Location {
	j := l
	j.Path = path.Join(append([]string{l.Path}, elem...)...)
	return j
}

// String renders the location in the [user@]host:path syntax
func (l Location) String() string {
	if !l.IsRemote() {
		return l.Path
	}
	return l.Address() + ":" + l.Path
}

// SSHOptions describe how to reach the remote side of a job.
type SSHOptions struct {
	Port                  int    `json:"port,omitempty" yaml:"port,omitempty"`
	IdentityFile          string `json:"identity,omitempty" yaml:"identity,omitempty"`
	KnownHostsFile        string `json:"known_hosts,omitempty" yaml:"known_hosts,omitempty"`
	InsecureIgnoreHostKey bool   `json:"insecure_ignore_host_key,omitempty" yaml:"insecure_ignore_host_key,omitempty"`
}

// DefaultSSHPort is the port used when none is configured
const DefaultSSHPort = 22

// HostPort yields the dial address for a remote location
func (o SSHOptions) HostPort(l Location) string {
	port := o.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return l.Host + ":" + strconv.Itoa(port)
}
