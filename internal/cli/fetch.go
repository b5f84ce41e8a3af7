package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/sabakan-dev/sabakan/internal/secret"
	"github.com/sabakan-dev/sabakan/internal/status"
	"github.com/sabakan-dev/sabakan/internal/ui"
	"github.com/sabakan-dev/sabakan/internal/util"
	"golang.org/x/term"
)

// prepare resolves credentials once so a passphrase prompt happens before
// any progress output starts. The prompter keeps the answer for later
// fetches.
func (a *app) prepare() error {
	_, err := secret.Resolve(a.cfg.SSH, a.prompter)
	return err
}

// fetchWithProgress fetches the fleet, showing a spinner on stderr when it
// is a terminal and output is meant for humans.
func fetchWithProgress(ctx context.Context, a *app) (status.FleetStatus, error) {
	if MachineMode() || !term.IsTerminal(int(os.Stderr.Fd())) {
		return a.fetch(ctx)
	}
	if err := a.prepare(); err != nil {
		return status.FleetStatus{}, err
	}

	n := len(a.servers)
	sp := ui.NewSpinner(fmt.Sprintf("Fetching %d %s", n, util.Pluralize(n, "server", "servers")), os.Stderr)
	sp.Start()

	fs, err := a.fetch(ctx)
	if err != nil {
		sp.Fail()
		return fs, err
	}
	sp.Success()
	return fs, nil
}
