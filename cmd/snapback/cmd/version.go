package cmd

import (
	"io"
	"runtime"
	"runtime/debug"

	"github.com/gosuri/uitable"
	"github.com/oneconcern/snapback/pkg/report"
	"github.com/spf13/cobra"
)

// Build information, set with -ldflags
var (
	Version   string
	BuildDate string
	GitCommit string
	GitState  string
)

const develVersion = "(devel)"

// VersionInfo describes the build of the binary
type VersionInfo struct {
	Version   string `json:"version,omitempty" yaml:"version,omitempty"`
	BuildDate string `json:"buildDate,omitempty" yaml:"buildDate,omitempty"`
	GitCommit string `json:"gitCommit,omitempty" yaml:"gitCommit,omitempty"`
	GitState  string `json:"gitState,omitempty" yaml:"gitState,omitempty"`
	GoVersion string `json:"goVersion" yaml:"goVersion"`
	Platform  string `json:"platform" yaml:"platform"`
}

// NewVersionInfo reports the build information.
//
// Binaries built without ldflags fall back to the module version recorded by go install,
// and to "dev" for a local build.
func NewVersionInfo() VersionInfo {
	ver := VersionInfo{
		Version:   "dev",
		BuildDate: BuildDate,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	switch {
	case Version != "":
		ver.Version = Version
		ver.GitState = "clean"
	default:
		if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != develVersion {
			ver.Version = bi.Main.Version
		}
	}
	if GitState != "" {
		ver.GitState = GitState
	}
	return ver
}

func (v VersionInfo) table() *uitable.Table {
	t := uitable.New()
	t.AddRow("Version:", v.Version)
	t.AddRow("Build date:", v.BuildDate)
	t.AddRow("Commit:", v.GitCommit)
	t.AddRow("Working tree:", v.GitState)
	t.AddRow("Go:", v.GoVersion+" "+v.Platform)
	return t
}

func (v VersionInfo) String() string {
	return v.table().String()
}

func versionFormats() report.Formats {
	return report.NewFormats(report.FormatterFunc(func(w io.Writer, data interface{}) error {
		_, err := io.WriteString(w, data.(VersionInfo).String()+"\n")
		return err
	}))
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "prints the version of snapback",
	Long: `Prints the version of snapback. It includes the following components:
	* Semver (output of git describe --tags)
	* Build Date (date at which the binary was built)
	* Git Commit (the git commit hash this binary was built from)
	* Git State (when dirty there were uncommitted changes during the build)
`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := versionFormats().Write(cmd.OutOrStdout(), snapbackFlags.root.format, NewVersionInfo()); err != nil {
			wrapFatalWithCode(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
