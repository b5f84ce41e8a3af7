package status

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// GPUStatReport is one decoded gpustat --json document.
type GPUStatReport struct {
	Hostname      string
	DriverVersion string
	QueryTime     string
	GPUs          []GPUSnapshot
}

// PIDs returns the distinct pids of all GPU processes in ascending order.
func (r GPUStatReport) PIDs() []int {
	seen := make(map[int]struct{})
	var pids []int
	for _, gpu := range r.GPUs {
		for _, p := range gpu.Processes {
			if _, ok := seen[p.PID]; ok {
				continue
			}
			seen[p.PID] = struct{}{}
			pids = append(pids, p.PID)
		}
	}
	sort.Ints(pids)
	return pids
}

// GPUSnapshot is the state of a single GPU. Sensor readings are nil when the
// driver reports them as unsupported.
type GPUSnapshot struct {
	Index       int          `json:"index"`
	UUID        string       `json:"uuid"`
	Name        string       `json:"name"`
	Temperature *int         `json:"temperature"`
	FanSpeed    *int         `json:"fan_speed"`
	Utilization *int         `json:"utilization"`
	PowerDraw   *int         `json:"power_draw"`
	PowerLimit  *int         `json:"power_limit"`
	MemoryUsed  int          `json:"memory_used"`  // MiB
	MemoryTotal int          `json:"memory_total"` // MiB
	Processes   []GPUProcess `json:"processes"`
}

// ProcessCount returns the number of processes holding GPU memory.
func (g GPUSnapshot) ProcessCount() int {
	return len(g.Processes)
}

// MemoryPercent returns used memory as a percentage of total.
func (g GPUSnapshot) MemoryPercent() float64 {
	if g.MemoryTotal <= 0 {
		return 0
	}
	return float64(g.MemoryUsed) / float64(g.MemoryTotal) * 100
}

// GPUProcess is a process gpustat reports against a GPU. Process is filled in
// from the ps listing and stays nil when ps had no row for the pid.
type GPUProcess struct {
	PID            int            `json:"pid"`
	Username       string         `json:"username"`
	Command        string         `json:"command"`
	GPUMemoryUsage int            `json:"gpu_memory_usage"` // MiB
	Process        *ProcessRecord `json:"process"`
}

// ProcessRecord is one row of ps output.
type ProcessRecord struct {
	PID         int     `json:"pid"`
	CPUPercent  float64 `json:"cpu_usage_percent"`
	CPUTime     PSTime  `json:"use_time"`
	ElapsedTime PSTime  `json:"elapse_time"`
	FullCommand string  `json:"full_command"`
}

// PSTime is a ps time column normalized to "[D days ]HH:MM:SS".
type PSTime string

// Duration converts the time to a time.Duration. Both "MM:SS" and
// "HH:MM:SS" are accepted, with or without a day prefix.
func (t PSTime) Duration() (time.Duration, error) {
	s := strings.TrimSpace(string(t))
	var days int
	if i := strings.Index(s, " days "); i >= 0 {
		d, err := strconv.Atoi(s[:i])
		if err != nil {
			return 0, fmt.Errorf("invalid day count in %q", string(t))
		}
		days = d
		s = s[i+len(" days "):]
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid ps time %q", string(t))
	}

	var total time.Duration
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid ps time %q", string(t))
		}
		total = total*60 + time.Duration(n)
	}
	return time.Duration(days)*24*time.Hour + total*time.Second, nil
}

// DiskReport is the parsed content of a host's disk usage file.
type DiskReport struct {
	CapturedAt string      `json:"captured_at"`
	Filesystem string      `json:"filesystem"`
	Total      string      `json:"total"`
	Used       string      `json:"used"`
	Available  string      `json:"available"`
	UsedRate   string      `json:"used_rate"`
	Mount      string      `json:"mount"`
	Users      []UserUsage `json:"users"`
}

// UserUsage is one "usage user" line of the disk usage file.
type UserUsage struct {
	User  string  `json:"user"`
	Usage string  `json:"usage"`
	GiB   float64 `json:"gib"`
}

// TopUsers returns the n largest users by usage, largest first. The summary
// row for the mount point itself is left out. n <= 0 returns every user.
func TopUsers(report DiskReport, n int) []UserUsage {
	users := make([]UserUsage, 0, len(report.Users))
	for _, u := range report.Users {
		if strings.TrimSuffix(u.User, "/") == strings.TrimSuffix(report.Mount, "/") {
			continue
		}
		users = append(users, u)
	}

	sort.SliceStable(users, func(i, j int) bool {
		return users[i].GiB > users[j].GiB
	})
	if n > 0 && len(users) > n {
		users = users[:n]
	}
	return users
}

// ProcessRow is one row of the outer join between GPU processes and the ps
// listing. GPU fields are nil for processes ps reported that no GPU claims.
type ProcessRow struct {
	GPUIndex       *int           `json:"gpu_index"`
	PID            int            `json:"pid"`
	Username       string         `json:"username"`
	Command        string         `json:"command"`
	GPUMemoryUsage *int           `json:"gpu_memory_usage"`
	Process        *ProcessRecord `json:"process"`
}
