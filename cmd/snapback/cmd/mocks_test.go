package cmd

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/oneconcern/snapback/pkg/backend/remote"
	"github.com/oneconcern/snapback/pkg/command"
	"github.com/oneconcern/snapback/pkg/model"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

// ExitMocks stands for os.Exit and log.Fatalln
type ExitMocks struct {
	mock.Mock
}

func (m *ExitMocks) Exit(code int) {
	m.Called(code)
}

func (m *ExitMocks) Fatalln(v ...interface{}) {
	m.Called(v...)
}

var exitMocks *ExitMocks

// fakeExecutor records the commands it is given instead of running them
type fakeExecutor struct {
	mu       sync.Mutex
	commands []command.Cmd
	code     int
}

func (f *fakeExecutor) Run(_ context.Context, c command.Cmd) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, c)
	return f.code, nil
}

func (f *fakeExecutor) find(name string) (command.Cmd, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commands {
		if c.Name == name {
			return c, true
		}
	}
	return command.Cmd{}, false
}

// localRunner runs the commands meant for a remote host with the local shell
type localRunner struct {
	address string
	closed  bool
}

func (r *localRunner) String() string { return "ssh://" + r.address }

func (r *localRunner) Run(ctx context.Context, line string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", line)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func (r *localRunner) Close() error {
	r.closed = true
	return nil
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// setupTests isolates a test from the configuration and the exits of the previous ones
func setupTests(t *testing.T) {
	t.Helper()
	color.NoColor = true
	t.Setenv("SNAPBACK_CONFIG", "")

	viper.Reset()
	resetFlags(rootCmd)
	config = nil

	exitMocks = new(ExitMocks)
	exitMocks.Test(t)
	osExit = exitMocks.Exit
	logFatalln = exitMocks.Fatalln

	previousExecutor, previousDial := executor, dialRemote
	t.Cleanup(func() {
		executor, dialRemote = previousExecutor, previousDial
		exitMocks.AssertExpectations(t)
	})
}

// testJob lays out a source tree, an empty destination and a configuration file
type testJob struct {
	source      string
	destination string
	lockDir     string
	textfile    string
	configFile  string
}

func newTestJob(t *testing.T, overrides map[string]interface{}) testJob {
	t.Helper()
	root := t.TempDir()
	j := testJob{
		source:      filepath.Join(root, "home", "alice"),
		destination: filepath.Join(root, "backup"),
		lockDir:     filepath.Join(root, "locks"),
		textfile:    filepath.Join(root, "snapback.prom"),
		configFile:  filepath.Join(root, "snapback.yaml"),
	}
	for name, content := range map[string]string{
		"todo.txt":         "buy milk",
		"photos/cat.jpg":   "meow",
		"scratch.tmp":      "scratch",
		"notes/2026/q4.md": "plans",
	} {
		p := filepath.Join(j.source, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	require.NoError(t, os.MkdirAll(j.destination, 0755))
	require.NoError(t, os.MkdirAll(j.lockDir, 0755))

	cfg := map[string]interface{}{
		"name":        "home",
		"sources":     []string{j.source},
		"destination": j.destination,
		"excludes":    []string{"*.tmp"},
		"mover":       map[string]interface{}{"engine": "builtin"},
		"lock":        map[string]interface{}{"dir": j.lockDir},
		"metrics":     map[string]interface{}{"textfile": j.textfile},
		"loglevel":    "none",
	}
	for k, v := range overrides {
		cfg[k] = v
	}
	b, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(j.configFile, b, 0600))
	return j
}

// executeCmd executes the CLI and yields what it wrote on its output
func executeCmd(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), "error executing '"+strings.Join(args, " ")+"'")
	return out.String()
}

func dialLocal(_ context.Context, loc model.Location, _ model.SSHOptions) (remote.Runner, error) {
	return &localRunner{address: loc.Address()}, nil
}
