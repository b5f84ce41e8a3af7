package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sabakan-dev/sabakan/internal/errors"
	"github.com/sabakan-dev/sabakan/internal/status"
	"github.com/sabakan-dev/sabakan/internal/ui"
	"github.com/spf13/cobra"
)

// Views accepted by --view.
const (
	viewAll       = "all"
	viewGPU       = "gpu"
	viewMemory    = "memory"
	viewProcesses = "processes"
	viewDisk      = "disk"
)

// memoryBarWidth is the cell width of each GPU memory bar.
const memoryBarWidth = 30

var (
	statusFromFile string
	statusView     string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show GPU, process and disk status of the fleet",
	Long: `Fetch the status of every configured server and print it as tables.

Servers that can't be reached or whose commands fail are listed at the end
with the reason; the others are shown normally.

Examples:
  sabakan status
  sabakan status --hosts gpu01,gpu02 --view processes
  sabakan status --view memory
  sabakan status --json > fleet.json
  sabakan status --from-file fleet.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusCommand(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusFromFile, "from-file", "", "render a saved status JSON instead of fetching")
	statusCmd.Flags().StringVar(&statusView, "view", viewAll, "what to show: all, gpu, memory, processes or disk")
	rootCmd.AddCommand(statusCmd)
}

func statusCommand(ctx context.Context, w io.Writer) error {
	if err := checkView(statusView); err != nil {
		return err
	}

	var fs status.FleetStatus
	var err error
	if statusFromFile != "" {
		fs, err = readStatusFile(statusFromFile)
	} else {
		var a *app
		if a, err = loadApp(); err == nil {
			fs, err = fetchWithProgress(ctx, a)
		}
	}
	if err != nil {
		return err
	}

	if MachineMode() {
		return WriteJSONSuccess(w, fs)
	}
	renderStatus(w, fs, statusView)
	return nil
}

func checkView(view string) error {
	switch view {
	case viewAll, viewGPU, viewMemory, viewProcesses, viewDisk:
		return nil
	}
	return errors.New(errors.ErrConfig,
		fmt.Sprintf("Unknown view '%s'", view),
		"Use one of: all, gpu, memory, processes, disk")
}

// renderStatus writes the requested sections followed by any failed hosts.
func renderStatus(w io.Writer, fs status.FleetStatus, view string) {
	section := func(title, body string) {
		fmt.Fprintln(w, ui.HeadingStyle().Render(title))
		fmt.Fprintln(w, body)
		fmt.Fprintln(w)
	}

	if view == viewAll || view == viewGPU {
		section("GPUs", ui.GPUTable(fs))
	}
	if view == viewAll || view == viewMemory {
		if bars := ui.MemoryBars(fs, memoryBarWidth); bars != "" {
			section("GPU memory", strings.TrimRight(bars, "\n"))
		}
	}
	if view == viewAll || view == viewProcesses {
		section("Processes", ui.ProcessTable(fs))
	}
	if view == viewAll || view == viewDisk {
		section("Disk", ui.DiskTable(fs))
	}

	if failures := ui.FailureList(fs); failures != "" {
		fmt.Fprintln(w, ui.HeadingStyle().Render("Unavailable"))
		fmt.Fprint(w, failures)
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, ui.Summary(fs))
}

// readStatusFile loads a FleetStatus saved with --json. Both the bare
// status and the success envelope are accepted.
func readStatusFile(path string) (status.FleetStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return status.FleetStatus{}, errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't read "+path,
			"Save one first with: sabakan status --json > "+path)
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if json.Unmarshal(data, &env) == nil && len(env.Data) > 0 && strings.TrimSpace(string(env.Data)) != "null" {
		data = env.Data
	}

	var fs status.FleetStatus
	if err := json.Unmarshal(data, &fs); err != nil {
		return status.FleetStatus{}, errors.WrapWithCode(err, errors.ErrParse,
			"Couldn't parse "+path,
			"The file should hold the output of: sabakan status --json")
	}
	return fs, nil
}
