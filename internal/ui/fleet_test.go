package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/sabakan-dev/sabakan/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func sampleFleet() status.FleetStatus {
	proc := &status.ProcessRecord{
		PID:         100,
		CPUPercent:  12.3,
		CPUTime:     "00:01:02",
		ElapsedTime: "2 days 01:00:00",
		FullCommand: "python train.py --epochs 10",
	}
	gpus := []status.GPUSnapshot{{
		Index:       0,
		Name:        "NVIDIA A100",
		Temperature: intPtr(41),
		Utilization: intPtr(87),
		PowerDraw:   intPtr(250),
		PowerLimit:  intPtr(400),
		MemoryUsed:  20480,
		MemoryTotal: 40960,
		Processes: []status.GPUProcess{{
			PID: 100, Username: "alice", Command: "python", GPUMemoryUsage: 500, Process: proc,
		}},
	}}
	rows := []status.ProcessRow{
		{GPUIndex: intPtr(0), PID: 100, Username: "alice", Command: "python", GPUMemoryUsage: intPtr(500), Process: proc},
		{PID: 200, Process: &status.ProcessRecord{PID: 200, FullCommand: "sleep 1000"}},
	}
	disk := status.DiskReport{
		CapturedAt: "2026-10-14 03:00",
		Filesystem: "/dev/sda1",
		Total:      "2.0T",
		Used:       "1.5T",
		Available:  "500G",
		UsedRate:   "75%",
		Mount:      "/home",
		Users: []status.UserUsage{
			{User: "/home", Usage: "1.5T", GiB: 1536},
			{User: "alice", Usage: "200G", GiB: 200},
			{User: "bob", Usage: "1.2T", GiB: 1228.8},
		},
	}

	var f status.FleetStatus
	f.Set("gpu01", status.Ok(gpus, []status.ProcessRecord{*proc}, disk, rows))
	f.Set("gpu02", status.Failed(status.KindConnect, "connection refused"))
	return f
}

func TestGPUTable(t *testing.T) {
	DisableColors()
	out := GPUTable(sampleFleet())

	assert.Contains(t, out, "Host")
	assert.Contains(t, out, "gpu01")
	assert.Contains(t, out, "NVIDIA A100")
	assert.Contains(t, out, "20 GiB / 40 GiB")
	assert.Contains(t, out, "50%")
	assert.Contains(t, out, "87%")
	assert.Contains(t, out, "41°C")
	assert.Contains(t, out, "250W / 400W")
	assert.NotContains(t, out, "gpu02")
}

func TestGPUTable_MissingReadings(t *testing.T) {
	DisableColors()
	var f status.FleetStatus
	f.Set("h", status.Ok([]status.GPUSnapshot{{Index: 1, Name: "T4", MemoryTotal: 15360}}, nil, status.DiskReport{}, nil))

	out := GPUTable(f)
	assert.Contains(t, out, "T4")
	assert.Contains(t, out, "- / -")
}

func TestGPUTable_Empty(t *testing.T) {
	DisableColors()
	var f status.FleetStatus
	f.Set("down", status.Failed(status.KindTimeout, "deadline"))
	assert.Equal(t, "No GPUs reported", GPUTable(f))
}

func TestProcessTable(t *testing.T) {
	DisableColors()
	out := ProcessTable(sampleFleet())

	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "500 MiB")
	assert.Contains(t, out, "12.3")
	assert.Contains(t, out, "2 days 01:00:00")
	assert.Contains(t, out, "python train.py")
	assert.Contains(t, out, "sleep 1000")
}

func TestProcessTable_TruncatesCommand(t *testing.T) {
	DisableColors()
	long := strings.Repeat("x", commandWidth+20)
	var f status.FleetStatus
	f.Set("h", status.Ok(nil, nil, status.DiskReport{}, []status.ProcessRow{
		{PID: 1, Process: &status.ProcessRecord{PID: 1, FullCommand: long}},
	}))

	out := ProcessTable(f)
	assert.NotContains(t, out, long)
	assert.Contains(t, out, "…")
}

func TestDiskTable(t *testing.T) {
	DisableColors()
	out := DiskTable(sampleFleet())

	assert.Contains(t, out, "/dev/sda1")
	assert.Contains(t, out, "75%")
	assert.Contains(t, out, "/home")
}

func TestStorageTable(t *testing.T) {
	DisableColors()
	out := StorageTable(sampleFleet(), 1)

	assert.Contains(t, out, "bob")
	assert.Contains(t, out, "1,228.8 GiB")
	assert.NotContains(t, out, "alice")
}

func TestStorageTable_All(t *testing.T) {
	DisableColors()
	out := StorageTable(sampleFleet(), 0)

	bob := strings.Index(out, "bob")
	alice := strings.Index(out, "alice")
	require.NotEqual(t, -1, bob)
	require.NotEqual(t, -1, alice)
	assert.Less(t, bob, alice)
}

func TestFailureList(t *testing.T) {
	DisableColors()
	out := FailureList(sampleFleet())

	assert.Equal(t, "✗ gpu02 connect: connection refused\n", out)
}

func TestFailureList_NoFailures(t *testing.T) {
	var f status.FleetStatus
	f.Set("h", status.Ok(nil, nil, status.DiskReport{}, nil))
	assert.Empty(t, FailureList(f))
}

func TestSummary(t *testing.T) {
	DisableColors()
	f := sampleFleet()
	f.CollectedAt = time.Now()

	out := Summary(f)
	assert.Contains(t, out, "1 host ok")
	assert.Contains(t, out, "1 failed")
	assert.Contains(t, out, "collected")
}

func TestMemoryBars(t *testing.T) {
	DisableColors()
	f := sampleFleet()
	f.Set("gpu-long", status.Ok([]status.GPUSnapshot{{Index: 3, MemoryUsed: 40960, MemoryTotal: 40960}},
		nil, status.DiskReport{}, nil))

	lines := strings.Split(strings.TrimRight(MemoryBars(f, 10), "\n"), "\n")
	require.Len(t, lines, 2, "failed hosts have no bars")
	assert.Equal(t, "gpu01/0     █████░░░░░  50%  20 GiB / 40 GiB", lines[0])
	assert.Equal(t, "gpu-long/3  ██████████ 100%  40 GiB / 40 GiB", lines[1])
	assert.Empty(t, MemoryBars(status.FleetStatus{}, 10))
}

func TestFormatMiB(t *testing.T) {
	assert.Equal(t, "500 MiB", FormatMiB(500))
	assert.Equal(t, "40 GiB", FormatMiB(40960))
	assert.Equal(t, "0 B", FormatMiB(-1))
}

func TestFormatGiB(t *testing.T) {
	assert.Equal(t, "0.5 GiB", FormatGiB(0.5))
	assert.Equal(t, "2,048 GiB", FormatGiB(2048))
}
