package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sabakan-dev/sabakan/internal/config"
	"github.com/sabakan-dev/sabakan/internal/logger"
	"github.com/sabakan-dev/sabakan/internal/ui"
	"github.com/sabakan-dev/sabakan/pkg/sshutil"
	"github.com/spf13/cobra"
)

// Global flags
var (
	cfgFile   string
	envFile   string
	hostsFlag string
	verbose   bool
	noColor   bool
)

var rootCmd = &cobra.Command{
	Use:   "sabakan",
	Short: "Show GPU, process and disk status of remote GPU servers",
	Long: `sabakan connects to every configured server over SSH, runs gpustat,
ps and a disk usage report, and shows the result as tables or JSON.

Servers are configured in ~/.sabakan/config.yaml:

  ssh:
    user: alice
    secret_key_path: ~/.ssh/id_ed25519
  servers:
    gpu01: {host: 10.0.0.1, gpustat: ~/.local/bin/gpustat, du_path: /var/log/du.txt}`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor || MachineMode() {
			ui.DisableColors()
		}
		if verbose {
			logger.SetDefault(logger.New("sabakan", true))
		}
		return config.LoadDotEnv(envFile)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ~/.sabakan/config.yaml)")
	pf.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	pf.StringVar(&hostsFlag, "hosts", "", "only these servers (comma-separated)")
	pf.BoolVar(&machineMode, "json", false, "write machine-readable JSON")
	pf.BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
	pf.BoolVar(&noColor, "no-color", false, "disable colors and interactive prompts")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	sshutil.CloseAgent()
	if err == nil {
		return
	}

	if MachineMode() {
		_ = WriteJSONFromError(os.Stdout, err)
		os.Exit(1)
	}

	if isUnknownCommandError(err) {
		fmt.Fprintf(os.Stderr, "✗ %s\n\n  Run 'sabakan --help' for the list of commands.\n", err)
		if name := extractUnknownCommand(err); name != "" {
			if _, ok := lookupServer(name); ok {
				fmt.Fprintf(os.Stderr, "  '%s' is a server; try: sabakan status --hosts %s\n", name, name)
			}
		}
		os.Exit(1)
	}

	fmt.Fprint(os.Stderr, err.Error())
	if !strings.HasSuffix(err.Error(), "\n") {
		fmt.Fprintln(os.Stderr)
	}
	os.Exit(1)
}

func isUnknownCommandError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") || strings.HasPrefix(msg, "unknown flag")
}

// extractUnknownCommand pulls the name out of cobra's
// `unknown command "foo" for "sabakan"` message.
func extractUnknownCommand(err error) string {
	msg := err.Error()
	start := strings.Index(msg, `"`)
	if start < 0 {
		return ""
	}
	end := strings.Index(msg[start+1:], `"`)
	if end < 0 {
		return ""
	}
	return msg[start+1 : start+1+end]
}

// lookupServer checks the config for a server name, ignoring load errors.
func lookupServer(name string) (config.Server, bool) {
	path, err := config.Find(cfgFile)
	if err != nil {
		return config.Server{}, false
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Server{}, false
	}
	return cfg.Server(name)
}

// splitHosts parses the --hosts value.
func splitHosts(flag string) []string {
	var names []string
	for _, n := range strings.Split(flag, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}
