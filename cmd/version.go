package cmd

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the stepplane build version",
	Long: `Print the module version stepplane was built from, with the VCS revision
and build time when the binary carries them.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(getVersion())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// buildVersion is what the Go toolchain stamped into the binary.
type buildVersion struct {
	module   string
	revision string
	modified bool
	time     string
}

func (v buildVersion) String() string {
	var b strings.Builder
	b.WriteString(v.module)
	if v.revision != "" {
		rev := v.revision
		if len(rev) > 7 {
			rev = rev[:7]
		}
		fmt.Fprintf(&b, " (%s", rev)
		if v.modified {
			b.WriteString(" modified")
		}
		b.WriteString(")")
	}
	if v.time != "" {
		fmt.Fprintf(&b, " built %s", v.time)
	}
	return b.String()
}

func readBuildVersion(info *debug.BuildInfo) buildVersion {
	v := buildVersion{module: info.Main.Version}
	if v.module == "" || v.module == "(devel)" {
		v.module = "dev"
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			v.revision = setting.Value
		case "vcs.modified":
			v.modified = setting.Value == "true"
		case "vcs.time":
			v.time = setting.Value
		}
	}
	return v
}

func getVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	return readBuildVersion(info).String()
}
