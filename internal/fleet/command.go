package fleet

import (
	"sort"

	"github.com/sabakan-dev/sabakan/internal/util"
)

// psFormat is the column list the ps parser expects, in order.
const psFormat = "pid,cp,time,etime,cmd"

// GPUStatCommand returns the command that dumps GPU status as JSON.
// The executable path is left unquoted so the remote shell expands ~.
func GPUStatCommand(gpustat string) string {
	return gpustat + " --json"
}

// PSCommand returns the ps invocation for pids, or "" when there are none.
// Pids are deduplicated and sorted.
func PSCommand(pids []int) string {
	if len(pids) == 0 {
		return ""
	}

	uniq := make([]int, 0, len(pids))
	seen := make(map[int]bool, len(pids))
	for _, pid := range pids {
		if !seen[pid] {
			seen[pid] = true
			uniq = append(uniq, pid)
		}
	}
	sort.Ints(uniq)

	return "ps -ww -p " + util.JoinInts(uniq, ",") + " -o " + psFormat
}

// DiskUsageCommand returns the command that prints the disk usage file.
func DiskUsageCommand(duPath string) string {
	return "cat " + util.ShellQuotePreserveTilde(duPath)
}
