package fleet

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/sabakan-dev/sabakan/internal/config"
	"github.com/sabakan-dev/sabakan/internal/errors"
	"github.com/sabakan-dev/sabakan/internal/logger"
	"github.com/sabakan-dev/sabakan/internal/status"
	"github.com/sabakan-dev/sabakan/internal/status/parsers"
	"github.com/sabakan-dev/sabakan/pkg/sshutil"
)

// psNoMatchExit is the status ps exits with when none of the pids exist.
const psNoMatchExit = 1

// Worker collects the status of one host over an open connection.
type Worker struct {
	// ExecTimeout bounds each remote command. Zero means no per-command limit.
	ExecTimeout time.Duration

	Log logger.Logger
}

// hostFailure carries the error kind of a failed step up to Collect.
type hostFailure struct {
	kind status.ErrorKind
	err  error
}

// Collect runs gpustat, ps and cat on client and joins their output.
// Any failure turns the whole host into an error status; no partial data is
// returned. A failure caused by ctx ending is a timeout. The client is not
// closed.
func (w *Worker) Collect(ctx context.Context, server config.Server, client sshutil.SSHClient) status.HostStatus {
	hs, fail := w.collect(ctx, server, client)
	if fail != nil {
		kind := fail.kind
		if endedBy(ctx, fail.err) {
			kind = status.KindTimeout
		}
		return status.Failed(kind, errors.Summary(fail.err))
	}
	return hs
}

func (w *Worker) collect(ctx context.Context, server config.Server, client sshutil.SSHClient) (status.HostStatus, *hostFailure) {
	log := w.logger()

	out, fail := w.run(ctx, client, GPUStatCommand(server.GPUStat), false)
	if fail != nil {
		return status.HostStatus{}, fail
	}
	report, err := parsers.ParseGPUStat(out)
	if err != nil {
		return status.HostStatus{}, &hostFailure{status.KindParse, err}
	}
	log.Debug("%s: %d GPUs, %d GPU processes", server.Name, len(report.GPUs), len(report.PIDs()))

	procs := []status.ProcessRecord{}
	if cmd := PSCommand(report.PIDs()); cmd != "" {
		out, fail := w.run(ctx, client, cmd, true)
		if fail != nil {
			return status.HostStatus{}, fail
		}
		procs, err = parsers.ParsePS(string(out))
		if err != nil {
			return status.HostStatus{}, &hostFailure{status.KindParse, err}
		}
	}

	out, fail = w.run(ctx, client, DiskUsageCommand(server.DUPath), false)
	if fail != nil {
		return status.HostStatus{}, fail
	}
	disk, err := parsers.ParseDiskUsage(string(out))
	if err != nil {
		return status.HostStatus{}, &hostFailure{status.KindParse, err}
	}

	gpus, rows := Join(report.GPUs, procs)
	return status.Ok(gpus, procs, disk, rows), nil
}

// run executes cmd and returns its stdout. A non-zero exit is a failure,
// except ps exiting 1 after printing only its header line, which means every
// pid has already gone away.
func (w *Worker) run(ctx context.Context, client sshutil.SSHClient, cmd string, isPS bool) ([]byte, *hostFailure) {
	stdout, stderr, code, err := client.Run(ctx, cmd, w.ExecTimeout)
	if err != nil {
		return nil, &hostFailure{status.KindExec, err}
	}
	if code == 0 {
		return stdout, nil
	}
	if isPS && code == psNoMatchExit && headerOnly(stdout) {
		return stdout, nil
	}

	detail := firstLine(stderr)
	if detail == "" {
		detail = firstLine(stdout)
	}
	return nil, &hostFailure{status.KindExec, errors.New(errors.ErrExec,
		fmt.Sprintf("%s exited with status %d: %s", commandName(cmd), code, detail), "")}
}

// endedBy reports whether err was caused by ctx ending.
func endedBy(ctx context.Context, err error) bool {
	return ctx.Err() != nil && stderrors.Is(err, ctx.Err())
}

func (w *Worker) logger() logger.Logger {
	if w.Log == nil {
		return logger.Noop()
	}
	return w.Log
}

// Join attaches each GPU process to its ps record by pid and builds the
// full outer join of both lists. GPU rows come first in GPU order, then ps
// records no GPU claims, in ps order. The input slices are not modified.
func Join(gpus []status.GPUSnapshot, procs []status.ProcessRecord) ([]status.GPUSnapshot, []status.ProcessRow) {
	records := make([]status.ProcessRecord, len(procs))
	copy(records, procs)
	byPID := make(map[int]*status.ProcessRecord, len(records))
	for i := range records {
		if _, dup := byPID[records[i].PID]; !dup {
			byPID[records[i].PID] = &records[i]
		}
	}

	joined := make([]status.GPUSnapshot, len(gpus))
	rows := []status.ProcessRow{}
	claimed := make(map[int]bool)

	for i, gpu := range gpus {
		gpu.Processes = make([]status.GPUProcess, len(gpus[i].Processes))
		for j, p := range gpus[i].Processes {
			p.Process = byPID[p.PID]
			gpu.Processes[j] = p
			claimed[p.PID] = true

			index, mem := gpu.Index, p.GPUMemoryUsage
			rows = append(rows, status.ProcessRow{
				GPUIndex:       &index,
				PID:            p.PID,
				Username:       p.Username,
				Command:        p.Command,
				GPUMemoryUsage: &mem,
				Process:        p.Process,
			})
		}
		joined[i] = gpu
	}

	for i := range records {
		if claimed[records[i].PID] {
			continue
		}
		claimed[records[i].PID] = true
		rows = append(rows, status.ProcessRow{
			PID:     records[i].PID,
			Process: &records[i],
		})
	}
	return joined, rows
}

func headerOnly(out []byte) bool {
	lines := 0
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) != "" {
			lines++
		}
	}
	return lines == 1
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

func commandName(cmd string) string {
	if i := strings.IndexByte(cmd, ' '); i >= 0 {
		return cmd[:i]
	}
	return cmd
}
