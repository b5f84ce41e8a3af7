package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/sabakan-dev/sabakan/internal/status"
	"github.com/sabakan-dev/sabakan/internal/util"
)

// commandWidth bounds the command column of the process table.
const commandWidth = 40

// GPUTable renders one row per GPU of every healthy host.
func GPUTable(f status.FleetStatus) string {
	titles := []string{"Host", "GPU", "Name", "Memory", "Mem%", "GPU%", "Procs", "Temp", "Fan", "Power"}
	var rows [][]string

	f.Each(func(name string, hs status.HostStatus) {
		if !hs.IsOK() {
			return
		}
		for _, g := range hs.GPUs {
			rows = append(rows, []string{
				name,
				strconv.Itoa(g.Index),
				g.Name,
				FormatMiB(g.MemoryUsed) + " / " + FormatMiB(g.MemoryTotal),
				fmt.Sprintf("%.0f%%", g.MemoryPercent()),
				optional(g.Utilization, "%"),
				strconv.Itoa(g.ProcessCount()),
				optional(g.Temperature, "°C"),
				optional(g.FanSpeed, "%"),
				optional(g.PowerDraw, "W") + " / " + optional(g.PowerLimit, "W"),
			})
		}
	})

	if len(rows) == 0 {
		return MutedStyle().Render("No GPUs reported")
	}
	return RenderSimpleTable(AutoColumns(titles, rows), rows)
}

// ProcessTable renders the joined GPU process listing of every healthy host.
func ProcessTable(f status.FleetStatus) string {
	titles := []string{"Host", "GPU", "PID", "User", "GPU Mem", "CPU%", "CPU Time", "Elapsed", "Command"}
	var rows [][]string

	f.Each(func(name string, hs status.HostStatus) {
		if !hs.IsOK() {
			return
		}
		for _, r := range hs.Rows {
			row := []string{name, "-", strconv.Itoa(r.PID), r.Username, "-", "-", "-", "-", r.Command}
			if r.GPUIndex != nil {
				row[1] = strconv.Itoa(*r.GPUIndex)
			}
			if r.GPUMemoryUsage != nil {
				row[4] = FormatMiB(*r.GPUMemoryUsage)
			}
			if p := r.Process; p != nil {
				row[5] = fmt.Sprintf("%.1f", p.CPUPercent)
				row[6] = string(p.CPUTime)
				row[7] = string(p.ElapsedTime)
				row[8] = p.FullCommand
			}
			row[8] = util.Truncate(row[8], commandWidth)
			rows = append(rows, row)
		}
	})

	if len(rows) == 0 {
		return MutedStyle().Render("No GPU processes running")
	}
	return RenderSimpleTable(AutoColumns(titles, rows), rows)
}

// DiskTable renders the disk summary line of every healthy host.
func DiskTable(f status.FleetStatus) string {
	titles := []string{"Host", "Filesystem", "Size", "Used", "Avail", "Use%", "Mount", "Captured"}
	var rows [][]string

	f.Each(func(name string, hs status.HostStatus) {
		if !hs.IsOK() || hs.Disk == nil {
			return
		}
		d := hs.Disk
		rows = append(rows, []string{name, d.Filesystem, d.Total, d.Used, d.Available, d.UsedRate, d.Mount, d.CapturedAt})
	})

	if len(rows) == 0 {
		return MutedStyle().Render("No disk usage reported")
	}
	return RenderSimpleTable(AutoColumns(titles, rows), rows)
}

// StorageTable renders the top users per host by disk usage. top <= 0 shows
// every user.
func StorageTable(f status.FleetStatus, top int) string {
	titles := []string{"Host", "Rank", "User", "Usage"}
	var rows [][]string

	f.Each(func(name string, hs status.HostStatus) {
		if !hs.IsOK() || hs.Disk == nil {
			return
		}
		for i, u := range status.TopUsers(*hs.Disk, top) {
			rows = append(rows, []string{name, strconv.Itoa(i + 1), u.User, FormatGiB(u.GiB)})
		}
	})

	if len(rows) == 0 {
		return MutedStyle().Render("No per-user usage reported")
	}
	return RenderSimpleTable(AutoColumns(titles, rows), rows)
}

// FailureList renders one line per failed host, or "" when none failed.
func FailureList(f status.FleetStatus) string {
	var b strings.Builder
	f.Each(func(name string, hs status.HostStatus) {
		if hs.IsOK() {
			return
		}
		fmt.Fprintf(&b, "%s %s %s %s\n",
			ErrorStyle().Render(SymbolFail),
			name,
			MutedStyle().Render(string(hs.Error.Kind)+":"),
			hs.Error.Message,
		)
	})
	return b.String()
}

// Summary renders a one-line count of healthy and failed hosts.
func Summary(f status.FleetStatus) string {
	failed := f.Failures()
	ok := f.Len() - failed

	line := SuccessStyle().Render(SymbolSuccess) + fmt.Sprintf(" %d %s ok", ok, util.Pluralize(ok, "host", "hosts"))
	if failed > 0 {
		line += ", " + ErrorStyle().Render(SymbolFail) + fmt.Sprintf(" %d failed", failed)
	}
	if !f.CollectedAt.IsZero() {
		line += MutedStyle().Render(" · collected " + humanize.Time(f.CollectedAt))
	}
	return line
}

// MemoryBars draws one memory bar per GPU of every healthy host, labels
// aligned:
//
//	gpu01/0  █████▌░░░░  55%  22 GiB / 40 GiB
func MemoryBars(f status.FleetStatus, width int) string {
	type bar struct {
		label string
		gpu   status.GPUSnapshot
	}
	var bars []bar
	labelWidth := 0
	f.Each(func(name string, hs status.HostStatus) {
		if !hs.IsOK() {
			return
		}
		for _, g := range hs.GPUs {
			label := fmt.Sprintf("%s/%d", name, g.Index)
			labelWidth = max(labelWidth, lipgloss.Width(label))
			bars = append(bars, bar{label, g})
		}
	})

	var b strings.Builder
	for _, m := range bars {
		pad := strings.Repeat(" ", labelWidth-lipgloss.Width(m.label))
		fmt.Fprintf(&b, "%s%s  %s  %s / %s\n", m.label, pad,
			UsageBar(m.gpu.MemoryPercent(), width), FormatMiB(m.gpu.MemoryUsed), FormatMiB(m.gpu.MemoryTotal))
	}
	return b.String()
}

// FormatMiB formats a MiB count with binary units, e.g. "500 MiB", "40 GiB".
func FormatMiB(mib int) string {
	if mib < 0 {
		mib = 0
	}
	return humanize.IBytes(uint64(mib) * 1024 * 1024)
}

// FormatGiB formats a GiB amount, e.g. "0.5 GiB", "2,048 GiB".
func FormatGiB(gib float64) string {
	return humanize.CommafWithDigits(gib, 1) + " GiB"
}

func optional(v *int, suffix string) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v) + suffix
}
