// Package parsers turns the raw output of the remote commands into status
// types. Parsers never see the SSH session; they only get bytes.
package parsers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/sabakan-dev/sabakan/internal/errors"
	"github.com/sabakan-dev/sabakan/internal/status"
)

type gpustatDoc struct {
	Hostname      string        `json:"hostname"`
	DriverVersion string        `json:"driver_version"`
	QueryTime     string        `json:"query_time"`
	GPUs          *[]gpustatGPU `json:"gpus"`
}

type gpustatGPU struct {
	Index       int             `json:"index"`
	UUID        string          `json:"uuid"`
	Name        string          `json:"name"`
	Temperature *float64        `json:"temperature.gpu"`
	FanSpeed    *float64        `json:"fan.speed"`
	Utilization *float64        `json:"utilization.gpu"`
	PowerDraw   *float64        `json:"power.draw"`
	PowerLimit  *float64        `json:"enforced.power.limit"`
	MemoryUsed  *float64        `json:"memory.used"`
	MemoryTotal *float64        `json:"memory.total"`
	Processes   json.RawMessage `json:"processes"`
}

type gpustatProcess struct {
	PID            *int     `json:"pid"`
	Username       string   `json:"username"`
	Command        string   `json:"command"`
	GPUMemoryUsage *float64 `json:"gpu_memory_usage"`
}

// ParseGPUStat parses the output of gpustat --json.
//
// The processes field of a GPU is a list, a single object when there is
// exactly one process, or null when the driver hides processes. All three are
// returned as a (possibly empty) list.
func ParseGPUStat(output []byte) (status.GPUStatReport, error) {
	var doc gpustatDoc
	if err := json.Unmarshal(output, &doc); err != nil {
		return status.GPUStatReport{}, errors.WrapWithCode(err, errors.ErrParse,
			fmt.Sprintf("gpustat output isn't valid JSON: %s", excerpt(output)),
			"Make sure the configured gpustat supports --json (gpustat >= 0.6).")
	}
	if doc.GPUs == nil {
		return status.GPUStatReport{}, errors.New(errors.ErrParse,
			"gpustat output has no gpus field",
			"Make sure the configured gpustat supports --json (gpustat >= 0.6).")
	}

	report := status.GPUStatReport{
		Hostname:      doc.Hostname,
		DriverVersion: doc.DriverVersion,
		QueryTime:     doc.QueryTime,
		GPUs:          make([]status.GPUSnapshot, 0, len(*doc.GPUs)),
	}

	for _, g := range *doc.GPUs {
		procs, err := decodeProcesses(g.Processes)
		if err != nil {
			return status.GPUStatReport{}, errors.WrapWithCode(err, errors.ErrParse,
				fmt.Sprintf("gpustat processes of GPU %d can't be read: %s", g.Index, excerpt(g.Processes)), "")
		}
		report.GPUs = append(report.GPUs, status.GPUSnapshot{
			Index:       g.Index,
			UUID:        g.UUID,
			Name:        g.Name,
			Temperature: roundPtr(g.Temperature),
			FanSpeed:    roundPtr(g.FanSpeed),
			Utilization: roundPtr(g.Utilization),
			PowerDraw:   roundPtr(g.PowerDraw),
			PowerLimit:  roundPtr(g.PowerLimit),
			MemoryUsed:  roundOrZero(g.MemoryUsed),
			MemoryTotal: roundOrZero(g.MemoryTotal),
			Processes:   procs,
		})
	}
	return report, nil
}

func decodeProcesses(raw json.RawMessage) ([]status.GPUProcess, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []status.GPUProcess{}, nil
	}

	var items []gpustatProcess
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
	case '{':
		var one gpustatProcess
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, err
		}
		items = []gpustatProcess{one}
	default:
		return nil, fmt.Errorf("expected a list or an object")
	}

	procs := make([]status.GPUProcess, 0, len(items))
	for _, p := range items {
		if p.PID == nil {
			return nil, fmt.Errorf("process entry without pid")
		}
		procs = append(procs, status.GPUProcess{
			PID:            *p.PID,
			Username:       p.Username,
			Command:        p.Command,
			GPUMemoryUsage: roundOrZero(p.GPUMemoryUsage),
		})
	}
	return procs, nil
}

func roundPtr(v *float64) *int {
	if v == nil {
		return nil
	}
	n := int(math.Round(*v))
	return &n
}

func roundOrZero(v *float64) int {
	if v == nil {
		return 0
	}
	return int(math.Round(*v))
}

// excerpt shortens command output for error messages. The cut never splits
// a UTF-8 sequence.
func excerpt(b []byte) string {
	const limit = 80
	s := string(bytes.TrimSpace(b))
	if len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "..."
	}
	if s == "" {
		return "(empty)"
	}
	return s
}
