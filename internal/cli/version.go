package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version information set via ldflags at build time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// versionShort controls whether to show short or full version output
var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of sabakan.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		v := GetVersion()
		if MachineMode() {
			return WriteJSONSuccess(w, map[string]string{
				"version": formatVersion(v),
				"commit":  commit,
				"date":    date,
				"go":      runtime.Version(),
			})
		}
		if versionShort {
			fmt.Fprintln(w, v)
			return nil
		}

		fmt.Fprintf(w, "sabakan %s\n", formatVersion(v))
		fmt.Fprintf(w, "commit: %s\n", commit)
		fmt.Fprintf(w, "built: %s\n", date)
		fmt.Fprintf(w, "go: %s\n", runtime.Version())
		fmt.Fprintf(w, "os/arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print only the version number")
}

// formatVersion ensures version has a 'v' prefix for display
func formatVersion(v string) string {
	if v == "" || v == "dev" {
		return v
	}
	if v[0] != 'v' {
		return "v" + v
	}
	return v
}

// SetVersionInfo sets the version information (called from main). It also
// enables the --version flag on the root command.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = formatVersion(GetVersion())
}

// GetVersion returns the current version string.
func GetVersion() string {
	return version
}
