package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sabakan-dev/sabakan/internal/errors"
	"github.com/sabakan-dev/sabakan/internal/status"
	"github.com/sabakan-dev/sabakan/internal/ui"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFleet() status.FleetStatus {
	used := 75
	proc := &status.ProcessRecord{PID: 100, CPUPercent: 12.3, CPUTime: "00:01:00", ElapsedTime: "2 days 03:04:05", FullCommand: "python train.py"}
	gpus := []status.GPUSnapshot{{
		Index: 0, Name: "NVIDIA A100", Utilization: &used, MemoryUsed: 500, MemoryTotal: 40960,
		Processes: []status.GPUProcess{{PID: 100, Username: "alice", Command: "python", GPUMemoryUsage: 500, Process: proc}},
	}}
	idx, mem := 0, 500
	rows := []status.ProcessRow{{GPUIndex: &idx, PID: 100, Username: "alice", Command: "python", GPUMemoryUsage: &mem, Process: proc}}
	disk := status.DiskReport{
		CapturedAt: "2026-01-02 03:00:01", Filesystem: "/dev/sdb1", Total: "7.3T", Used: "5.1T",
		Available: "2.2T", UsedRate: "70%", Mount: "/home",
		Users: []status.UserUsage{
			{User: "/home", Usage: "5.1T", GiB: 5222.4},
			{User: "alice", Usage: "2T", GiB: 2048},
			{User: "bob", Usage: "512M", GiB: 0.5},
		},
	}

	var fs status.FleetStatus
	fs.Set("gpu01", status.Ok(gpus, []status.ProcessRecord{*proc}, disk, rows))
	fs.Set("gpu02", status.Failed(status.KindConnect, "Can't reach 'gpu02.example'"))
	return fs
}

func TestRenderStatus(t *testing.T) {
	ui.DisableColors()
	var buf bytes.Buffer
	renderStatus(&buf, sampleFleet(), viewAll)

	out := buf.String()
	assert.Contains(t, out, "GPUs")
	assert.Contains(t, out, "NVIDIA A100")
	assert.Contains(t, out, "Processes")
	assert.Contains(t, out, "python train.py")
	assert.Contains(t, out, "Disk")
	assert.Contains(t, out, "/dev/sdb1")
	assert.Contains(t, out, "Unavailable")
	assert.Contains(t, out, "gpu02 connect: Can't reach 'gpu02.example'")
	assert.Contains(t, out, "1 host ok, ✗ 1 failed")
}

func TestRenderStatus_SingleView(t *testing.T) {
	ui.DisableColors()
	var buf bytes.Buffer
	renderStatus(&buf, sampleFleet(), viewDisk)

	out := buf.String()
	assert.Contains(t, out, "/dev/sdb1")
	assert.NotContains(t, out, "NVIDIA A100")
	assert.NotContains(t, out, "python train.py")
}

func TestRenderStatus_MemoryView(t *testing.T) {
	ui.DisableColors()
	var buf bytes.Buffer
	renderStatus(&buf, sampleFleet(), viewMemory)

	out := buf.String()
	assert.Contains(t, out, "GPU memory")
	assert.Contains(t, out, "gpu01/0")
	assert.Contains(t, out, "▍"+strings.Repeat("░", memoryBarWidth-1))
	assert.Contains(t, out, "500 MiB / 40 GiB")
	assert.NotContains(t, out, "NVIDIA A100", "the GPU table is a separate view")
}

func TestCheckView(t *testing.T) {
	for _, v := range []string{viewAll, viewGPU, viewMemory, viewProcesses, viewDisk} {
		assert.NoError(t, checkView(v))
	}
	err := checkView("graphs")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestReadStatusFile(t *testing.T) {
	dir := t.TempDir()
	fs := sampleFleet()

	var env bytes.Buffer
	require.NoError(t, WriteJSONSuccess(&env, fs))
	envPath := filepath.Join(dir, "envelope.json")
	require.NoError(t, os.WriteFile(envPath, env.Bytes(), 0600))

	bare, err := json.Marshal(fs)
	require.NoError(t, err)
	barePath := filepath.Join(dir, "bare.json")
	require.NoError(t, os.WriteFile(barePath, bare, 0600))

	for _, path := range []string{envPath, barePath} {
		t.Run(filepath.Base(path), func(t *testing.T) {
			got, err := readStatusFile(path)
			require.NoError(t, err)
			assert.Equal(t, []string{"gpu01", "gpu02"}, got.Names())

			hs, _ := got.Get("gpu01")
			require.True(t, hs.IsOK())
			require.Len(t, hs.Rows, 1)
			assert.Equal(t, 100, hs.Rows[0].PID)

			failed, _ := got.Get("gpu02")
			assert.Equal(t, status.KindConnect, failed.Error.Kind)
		})
	}
}

func TestReadStatusFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := readStatusFile(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"hosts": [1, 2]}`), 0600))
	_, err = readStatusFile(bad)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrParse))
}

func TestStatusCommand_FromFileJSON(t *testing.T) {
	oldFile, oldMode, oldView := statusFromFile, machineMode, statusView
	defer func() { statusFromFile, machineMode, statusView = oldFile, oldMode, oldView }()

	data, err := json.Marshal(sampleFleet())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "fleet.json")
	require.NoError(t, os.WriteFile(path, data, 0600))

	statusFromFile, machineMode, statusView = path, true, viewAll

	var buf bytes.Buffer
	require.NoError(t, statusCommand(context.Background(), &buf))

	var env struct {
		Success bool               `json:"success"`
		Data    status.FleetStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Equal(t, []string{"gpu01", "gpu02"}, env.Data.Names())
}

func TestStatusCommand_BadView(t *testing.T) {
	oldView := statusView
	defer func() { statusView = oldView }()

	statusView = "everything"
	err := statusCommand(context.Background(), &bytes.Buffer{})
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}
