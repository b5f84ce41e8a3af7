package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sabakan-dev/sabakan/internal/errors"
	"github.com/sabakan-dev/sabakan/internal/logger"
	"github.com/sabakan-dev/sabakan/internal/status"
	"github.com/sabakan-dev/sabakan/internal/ui"
	"github.com/spf13/cobra"
)

var (
	watchInterval time.Duration
	watchLogFile  string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Refresh the fleet status periodically",
	Long: `Show a dashboard of GPUs and GPU processes that refreshes on an interval.

Refreshes go through the cache, so an interval shorter than cache_ttl
reuses the last result. Press r to force a refresh and q to quit.

The dashboard owns the terminal, so logs and SSH warnings are dropped
unless --log-file names a file to append them to.

Examples:
  sabakan watch
  sabakan watch --interval 30s --hosts gpu01
  sabakan watch --log-file /tmp/sabakan.log --verbose`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchCommand(cmd.Context())
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 10*time.Second, "refresh interval (e.g. 5s, 1m)")
	watchCmd.Flags().StringVar(&watchLogFile, "log-file", "", "append logs and SSH warnings to this file")
	rootCmd.AddCommand(watchCmd)
}

func watchCommand(ctx context.Context) error {
	if watchInterval <= 0 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("--interval must be positive (got %s)", watchInterval),
			"Try something like 5s or 1m.")
	}
	if MachineMode() {
		return errors.New(errors.ErrConfig,
			"watch has no JSON output",
			"Poll 'sabakan status --json' instead.")
	}

	log, closeLog, err := watchLogger(watchLogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	a, err := loadAppWith(log, log)
	if err != nil {
		return err
	}
	// The TUI owns the terminal, so ask for a passphrase first.
	if err := a.prepare(); err != nil {
		return err
	}

	m := newWatchModel(ctx, a.fetch, a.refresh, watchInterval, a.servers.Names())
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() != nil {
		// Stopped by a signal.
		return nil
	}
	return err
}

// watchLogger opens the logger used while the dashboard runs. Nothing may
// write to the terminal then, so without a path it discards everything.
func watchLogger(path string) (logger.Logger, func(), error) {
	if path == "" {
		return logger.Noop(), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Couldn't open log file %s", path),
			"Check that the directory exists and is writable.")
	}
	return logger.NewWriter(f, "sabakan", debugLogging()), func() { f.Close() }, nil
}

// fetchFunc is a fleet fetch; the watch model calls one on every refresh.
type fetchFunc func(ctx context.Context) (status.FleetStatus, error)

// tickMsg signals a periodic refresh.
type tickMsg time.Time

// fleetMsg carries the result of one fetch.
type fleetMsg struct {
	fleet status.FleetStatus
	err   error
	at    time.Time
}

// Key bindings.
const (
	keyQuit    = "q"
	keyQuitAlt = "ctrl+c"
	keyRefresh = "r"
)

type watchModel struct {
	ctx      context.Context
	fetch    fetchFunc
	refresh  fetchFunc
	interval time.Duration
	servers  []string

	spinner    spinner.Model
	fleet      *status.FleetStatus
	err        error
	fetching   bool
	lastUpdate time.Time
	quitting   bool
}

func newWatchModel(ctx context.Context, fetch, refresh fetchFunc, interval time.Duration, servers []string) watchModel {
	return watchModel{
		ctx:      ctx,
		fetch:    fetch,
		refresh:  refresh,
		interval: interval,
		servers:  servers,
		spinner:  ui.NewBubblesSpinner(),
		fetching: true,
	}
}

// Init starts the spinner and the first fetch.
func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchCmd(m.fetch))
}

// Update handles messages and updates the model state.
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case keyQuit, keyQuitAlt:
			m.quitting = true
			return m, tea.Quit
		case keyRefresh:
			if !m.fetching {
				m.fetching = true
				return m, m.fetchCmd(m.refresh)
			}
		}

	case tickMsg:
		if m.fetching {
			return m, nil
		}
		m.fetching = true
		return m, m.fetchCmd(m.fetch)

	case fleetMsg:
		m.fetching = false
		m.lastUpdate = msg.at
		if msg.err != nil {
			m.err = msg.err
		} else {
			fs := msg.fleet
			m.fleet = &fs
			m.err = nil
		}
		return m, m.tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the dashboard.
func (m watchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	header := fmt.Sprintf("sabakan · %d servers · every %s", len(m.servers), m.interval)
	b.WriteString(ui.HeadingStyle().Render(header))
	b.WriteString(ui.MutedStyle().Render("   r refresh · q quit"))
	b.WriteString("\n\n")

	if m.fleet == nil {
		if m.fetching {
			b.WriteString(m.spinner.View() + " Fetching...\n")
		}
	} else {
		b.WriteString(ui.GPUTable(*m.fleet) + "\n\n")
		if bars := ui.MemoryBars(*m.fleet, memoryBarWidth); bars != "" {
			b.WriteString(bars + "\n")
		}
		b.WriteString(ui.ProcessTable(*m.fleet) + "\n\n")
		if failures := ui.FailureList(*m.fleet); failures != "" {
			b.WriteString(failures + "\n")
		}
		b.WriteString(ui.Summary(*m.fleet))
		if m.fetching {
			b.WriteString("  " + m.spinner.View())
		}
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString("\n" + ui.ErrorStyle().Render(ui.SymbolFail+" "+errors.Summary(m.err)) + "\n")
	}
	return b.String()
}

func (m watchModel) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m watchModel) fetchCmd(fetch fetchFunc) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		fs, err := fetch(ctx)
		return fleetMsg{fleet: fs, err: err, at: time.Now()}
	}
}
