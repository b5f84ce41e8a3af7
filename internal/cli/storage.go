package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/sabakan-dev/sabakan/internal/status"
	"github.com/sabakan-dev/sabakan/internal/ui"
	"github.com/spf13/cobra"
)

var storageTop int

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Show the largest disk users per server",
	Long: `Read each server's disk usage report and list the users taking the
most space, largest first.

Examples:
  sabakan storage
  sabakan storage --top 10 --hosts gpu01`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return storageCommand(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	storageCmd.Flags().IntVar(&storageTop, "top", 5, "users per server (0 for all)")
	rootCmd.AddCommand(storageCmd)
}

// StorageOutput is the JSON shape of one server in the storage command.
type StorageOutput struct {
	Host  string             `json:"host"`
	Mount string             `json:"mount,omitempty"`
	Users []status.UserUsage `json:"users,omitempty"`
	Error *status.HostError  `json:"error,omitempty"`
}

func storageCommand(ctx context.Context, w io.Writer) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	fs, err := fetchWithProgress(ctx, a)
	if err != nil {
		return err
	}

	if MachineMode() {
		return WriteJSONSuccess(w, storageOutput(fs, storageTop))
	}

	fmt.Fprintln(w, ui.StorageTable(fs, storageTop))
	if failures := ui.FailureList(fs); failures != "" {
		fmt.Fprintln(w)
		fmt.Fprint(w, failures)
	}
	return nil
}

func storageOutput(fs status.FleetStatus, top int) []StorageOutput {
	out := make([]StorageOutput, 0, fs.Len())
	fs.Each(func(name string, hs status.HostStatus) {
		entry := StorageOutput{Host: name, Error: hs.Error}
		if hs.IsOK() && hs.Disk != nil {
			entry.Mount = hs.Disk.Mount
			entry.Users = status.TopUsers(*hs.Disk, top)
		}
		out = append(out, entry)
	})
	return out
}
