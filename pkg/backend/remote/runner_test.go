// Copyright © 2018 One Concern

package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/oneconcern/snapback/pkg/backend/status"
	"github.com/oneconcern/snapback/pkg/errors"
	"github.com/oneconcern/snapback/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// testServer is an ssh server executing commands with the local shell
type testServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	hostKey  ssh.Signer

	mu    sync.Mutex
	conns []net.Conn
	wg    sync.WaitGroup
}

func newSigner(t testing.TB) (ssh.Signer, ed25519.PrivateKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer, priv
}

func newTestServer(t testing.TB, authorized ssh.PublicKey) *testServer {
	t.Helper()
	hostKey, _ := newSigner(t)
	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown public key for %s", key.Type())
		},
	}
	cfg.AddHostKey(hostKey)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testServer{listener: l, config: cfg, hostKey: hostKey}
	s.wg.Add(1)
	go s.serve()

	t.Cleanup(func() {
		_ = l.Close()
		s.mu.Lock()
		for _, c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
	})
	return s
}

func (s *testServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *testServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *testServer) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()

	_, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ssh.DiscardRequests(reqs)
	}()

	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "only sessions are served")
			continue
		}
		ch, requests, err := nc.Accept()
		if err != nil {
			continue
		}
		s.wg.Add(1)
		go s.handleSession(ch, requests)
	}
}

func (s *testServer) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer s.wg.Done()
	defer func() { _ = ch.Close() }()

	var cmd *exec.Cmd
	done := make(chan int, 1)
	kill := func() {
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}

	for {
		select {
		case req, ok := <-requests:
			if !ok {
				if cmd != nil {
					kill()
					<-done
				}
				return
			}
			switch req.Type {
			case "exec":
				var payload struct{ Command string }
				if cmd != nil || ssh.Unmarshal(req.Payload, &payload) != nil {
					_ = req.Reply(false, nil)
					continue
				}
				cmd = exec.Command("/bin/sh", "-c", payload.Command)
				cmd.Stdout = ch
				cmd.Stderr = ch.Stderr()
				cmd.WaitDelay = 100 * time.Millisecond
				if err := cmd.Start(); err != nil {
					_ = req.Reply(false, nil)
					return
				}
				_ = req.Reply(true, nil)

				s.wg.Add(1)
				go func(c *exec.Cmd) {
					defer s.wg.Done()
					done <- exitCode(c.Wait())
				}(cmd)
			case "signal":
				kill()
				_ = req.Reply(false, nil)
			default:
				_ = req.Reply(false, nil)
			}

		case code := <-done:
			_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(code)}))
			return
		}
	}
}

func exitCode(err error) int {
	var ee *exec.ExitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ee) && ee.ExitCode() >= 0:
		return ee.ExitCode()
	default:
		return 255
	}
}

// sshFixture holds the files a client needs to reach a test server
type sshFixture struct {
	server     *testServer
	identity   string
	knownHosts string
}

func setupSSH(t testing.TB) sshFixture {
	t.Helper()
	if _, err := exec.LookPath("cp"); err != nil {
		t.Skip("no coreutils available")
	}
	t.Setenv("SSH_AUTH_SOCK", "")

	clientKey, clientPriv := newSigner(t)
	server := newTestServer(t, clientKey.PublicKey())
	dir := t.TempDir()

	block, err := ssh.MarshalPrivateKey(clientPriv, "snapback test key")
	require.NoError(t, err)
	identity := filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(identity, pem.EncodeToMemory(block), 0600))

	addr := knownhosts.Normalize(net.JoinHostPort("127.0.0.1", strconv.Itoa(server.port())))
	knownHosts := filepath.Join(dir, "known_hosts")
	line := knownhosts.Line([]string{addr}, server.hostKey.PublicKey()) + "\n"
	require.NoError(t, os.WriteFile(knownHosts, []byte(line), 0600))

	return sshFixture{server: server, identity: identity, knownHosts: knownHosts}
}

func (f sshFixture) location() model.Location {
	return model.Location{User: "backup", Host: "127.0.0.1", Path: "/volume1/backup"}
}

func (f sshFixture) options() model.SSHOptions {
	return model.SSHOptions{
		Port:           f.server.port(),
		IdentityFile:   f.identity,
		KnownHostsFile: f.knownHosts,
	}
}

func TestSSHRunner(t *testing.T) {
	f := setupSSH(t)
	ctx := context.Background()

	r, err := Dial(ctx, f.location(), f.options())
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	assert.Equal(t, fmt.Sprintf("ssh://backup@127.0.0.1:%d", f.server.port()), r.String())

	stdout, stderr, err := r.Run(ctx, "echo sixteentons; echo seventeentons >&2")
	require.NoError(t, err)
	assert.Equal(t, "sixteentons\n", string(stdout))
	assert.Equal(t, "seventeentons\n", string(stderr))

	_, _, err = r.Run(ctx, "exit 3")
	require.Error(t, err)
	var exit *ssh.ExitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 3, exit.ExitStatus())

	// the backend drives the same connection for every primitive
	root := filepath.Join(t.TempDir(), "backup")
	fs := New(r)
	require.NoError(t, fs.Mkdir(ctx, filepath.Join(root, "daily", "monday")))
	ok, err := fs.Exists(ctx, filepath.Join(root, "daily", "monday"))
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, fs.Symlink(ctx, "daily/monday", filepath.Join(root, "latest")))
	target, err := os.Readlink(filepath.Join(root, "latest"))
	require.NoError(t, err)
	assert.Equal(t, "daily/monday", target)
}

func TestSSHRunnerCancel(t *testing.T) {
	f := setupSSH(t)

	r, err := Dial(context.Background(), f.location(), f.options())
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err = r.Run(ctx, "exec sleep 5")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestDialRejectsUnknownHostKey(t *testing.T) {
	f := setupSSH(t)

	other, _ := newSigner(t)
	addr := knownhosts.Normalize(net.JoinHostPort("127.0.0.1", strconv.Itoa(f.server.port())))
	require.NoError(t, os.WriteFile(f.knownHosts, []byte(knownhosts.Line([]string{addr}, other.PublicKey())+"\n"), 0600))

	_, err := Dial(context.Background(), f.location(), f.options())
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrRemoteCommand))

	opts := f.options()
	opts.InsecureIgnoreHostKey = true
	r, err := Dial(context.Background(), f.location(), opts)
	require.NoError(t, err)
	require.NoError(t, r.Close())
}

func TestDialRejectsUnknownIdentity(t *testing.T) {
	f := setupSSH(t)

	_, priv := newSigner(t)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.identity, pem.EncodeToMemory(block), 0600))

	_, err = Dial(context.Background(), f.location(), f.options())
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrRemoteCommand))
}

func TestDialConfigurationErrors(t *testing.T) {
	f := setupSSH(t)

	opts := f.options()
	opts.IdentityFile = ""
	_, err := Dial(context.Background(), f.location(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ssh identity")

	opts = f.options()
	opts.IdentityFile = filepath.Join(t.TempDir(), "missing")
	_, err = Dial(context.Background(), f.location(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading identity file")

	opts = f.options()
	opts.KnownHostsFile = filepath.Join(t.TempDir(), "missing")
	_, err = Dial(context.Background(), f.location(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading known hosts")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".ssh", "known_hosts"), expandHome("~/.ssh/known_hosts"))
	assert.Equal(t, "/etc/ssh/known_hosts", expandHome("/etc/ssh/known_hosts"))
	assert.Equal(t, "~backup/x", expandHome("~backup/x"))
}
