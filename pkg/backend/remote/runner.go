// Copyright © 2018 One Concern

package remote

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/oneconcern/snapback/pkg/backend/status"
	"github.com/oneconcern/snapback/pkg/model"
	"go.uber.org/multierr"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Runner executes shell command lines on a remote host.
type Runner interface {
	String() string

	// Run executes a command line and returns what it wrote on stdout and stderr.
	// A non-zero exit status is reported as an error.
	Run(ctx context.Context, command string) (stdout, stderr []byte, err error)

	Close() error
}

// sshRunner holds a single ssh connection for the duration of a run.
// Every command is executed in a new session multiplexed over that connection.
//
// It is not safe for concurrent use.
type sshRunner struct {
	address string
	client  *ssh.Client
	agent   net.Conn
}

// Dial opens the ssh connection to the host of a remote location
func Dial(ctx context.Context, loc model.Location, opts model.SSHOptions) (Runner, error) {
	cfg, agentConn, err := clientConfig(loc, opts)
	if err != nil {
		return nil, status.ErrRemoteCommand.Wrap(err)
	}
	closeAgent := func() {
		if agentConn != nil {
			_ = agentConn.Close()
		}
	}

	hostPort := opts.HostPort(loc)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		closeAgent()
		return nil, status.ErrRemoteCommand.Wrap(err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, hostPort, cfg)
	if err != nil {
		_ = conn.Close()
		closeAgent()
		return nil, status.ErrRemoteCommand.Wrap(err)
	}

	return &sshRunner{
		address: cfg.User + "@" + hostPort,
		client:  ssh.NewClient(c, chans, reqs),
		agent:   agentConn,
	}, nil
}

func clientConfig(loc model.Location, opts model.SSHOptions) (*ssh.ClientConfig, net.Conn, error) {
	userName := loc.User
	if userName == "" {
		u, err := user.Current()
		if err != nil {
			return nil, nil, fmt.Errorf("resolving the invoking account: %w", err)
		}
		userName = u.Username
	}

	hostKeys, err := hostKeyCallback(opts)
	if err != nil {
		return nil, nil, err
	}

	auths, agentConn, err := authMethods(opts)
	if err != nil {
		return nil, nil, err
	}

	return &ssh.ClientConfig{
		User:            userName,
		Auth:            auths,
		HostKeyCallback: hostKeys,
	}, agentConn, nil
}

func authMethods(opts model.SSHOptions) ([]ssh.AuthMethod, net.Conn, error) {
	var methods []ssh.AuthMethod

	if opts.IdentityFile != "" {
		pem, err := os.ReadFile(expandHome(opts.IdentityFile))
		if err != nil {
			return nil, nil, fmt.Errorf("reading identity file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing identity file %q: %w", opts.IdentityFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	var agentConn net.Conn
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err == nil {
			agentConn = conn
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if len(methods) == 0 {
		return nil, nil, fmt.Errorf("no ssh identity configured and no agent available")
	}
	return methods, agentConn, nil
}

func hostKeyCallback(opts model.SSHOptions) (ssh.HostKeyCallback, error) {
	if opts.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	file := opts.KnownHostsFile
	if file == "" {
		file = filepath.Join("~", ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(expandHome(file))
	if err != nil {
		return nil, fmt.Errorf("loading known hosts: %w", err)
	}
	return cb, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func (r *sshRunner) String() string {
	return "ssh://" + r.address
}

func (r *sshRunner) Run(ctx context.Context, command string) ([]byte, []byte, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return nil, nil, status.ErrRemoteCommand.Wrap(err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = session.Signal(ssh.SIGTERM)
			_ = session.Close()
		case <-done:
		}
	}()

	err = session.Run(command)
	if err == nil {
		err = ctx.Err()
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

func (r *sshRunner) Close() error {
	var err error
	if r.client != nil {
		err = multierr.Append(err, r.client.Close())
		r.client = nil
	}
	if r.agent != nil {
		err = multierr.Append(err, r.agent.Close())
		r.agent = nil
	}
	return err
}
