package status

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// State tells which variant a HostStatus holds.
type State string

const (
	StateOK    State = "ok"
	StateError State = "error"
)

// ErrorKind classifies why a host failed.
type ErrorKind string

const (
	KindConnect ErrorKind = "connect"
	KindExec    ErrorKind = "exec"
	KindParse   ErrorKind = "parse"
	KindTimeout ErrorKind = "timeout"
)

// HostError describes a failed host.
type HostError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// HostStatus is the result for one host: either the collected data or an
// error, never both. Build it with Ok or Failed.
type HostStatus struct {
	State     State
	GPUs      []GPUSnapshot
	Processes []ProcessRecord
	Disk      *DiskReport
	Rows      []ProcessRow
	Error     *HostError
}

// Ok builds a successful HostStatus. Nil slices are replaced by empty ones.
func Ok(gpus []GPUSnapshot, procs []ProcessRecord, disk DiskReport, rows []ProcessRow) HostStatus {
	if gpus == nil {
		gpus = []GPUSnapshot{}
	}
	if procs == nil {
		procs = []ProcessRecord{}
	}
	if rows == nil {
		rows = []ProcessRow{}
	}
	return HostStatus{
		State:     StateOK,
		GPUs:      gpus,
		Processes: procs,
		Disk:      &disk,
		Rows:      rows,
	}
}

// Failed builds a HostStatus for a host that could not be collected.
func Failed(kind ErrorKind, message string) HostStatus {
	return HostStatus{
		State: StateError,
		Error: &HostError{Kind: kind, Message: message},
	}
}

// IsOK reports whether the host was collected successfully.
func (h HostStatus) IsOK() bool {
	return h.State == StateOK
}

type hostJSON struct {
	State     State           `json:"state"`
	GPUs      []GPUSnapshot   `json:"gpus,omitempty"`
	Processes []ProcessRecord `json:"processes,omitempty"`
	Disk      *DiskReport     `json:"disk,omitempty"`
	Rows      []ProcessRow    `json:"rows,omitempty"`
	Error     *HostError      `json:"error,omitempty"`
}

type hostOKJSON struct {
	State     State           `json:"state"`
	GPUs      []GPUSnapshot   `json:"gpus"`
	Processes []ProcessRecord `json:"processes"`
	Disk      *DiskReport     `json:"disk"`
	Rows      []ProcessRow    `json:"rows"`
}

// MarshalJSON encodes only the fields of the variant the status holds.
func (h HostStatus) MarshalJSON() ([]byte, error) {
	if h.State == StateError {
		return json.Marshal(struct {
			State State      `json:"state"`
			Error *HostError `json:"error"`
		}{h.State, h.Error})
	}
	return json.Marshal(hostOKJSON{
		State:     StateOK,
		GPUs:      h.GPUs,
		Processes: h.Processes,
		Disk:      h.Disk,
		Rows:      h.Rows,
	})
}

// UnmarshalJSON decodes a status written by MarshalJSON.
func (h *HostStatus) UnmarshalJSON(data []byte) error {
	var raw hostJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch raw.State {
	case StateError:
		if raw.Error == nil {
			return fmt.Errorf("host status in error state has no error")
		}
		*h = Failed(raw.Error.Kind, raw.Error.Message)
	case StateOK:
		var disk DiskReport
		if raw.Disk != nil {
			disk = *raw.Disk
		}
		*h = Ok(raw.GPUs, raw.Processes, disk, raw.Rows)
	default:
		return fmt.Errorf("unknown host state %q", raw.State)
	}
	return nil
}

// FleetStatus maps host names to their status, in configuration order.
// The zero value is an empty fleet ready to use.
type FleetStatus struct {
	CollectedAt time.Time

	names []string
	hosts map[string]HostStatus
}

// Set stores the status for name. A new name is appended to the order.
func (f *FleetStatus) Set(name string, hs HostStatus) {
	if f.hosts == nil {
		f.hosts = make(map[string]HostStatus)
	}
	if _, ok := f.hosts[name]; !ok {
		f.names = append(f.names, name)
	}
	f.hosts[name] = hs
}

// Get returns the status for name.
func (f FleetStatus) Get(name string) (HostStatus, bool) {
	hs, ok := f.hosts[name]
	return hs, ok
}

// Names returns host names in order.
func (f FleetStatus) Names() []string {
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

// Len returns the number of hosts.
func (f FleetStatus) Len() int {
	return len(f.names)
}

// Each calls fn for every host in order.
func (f FleetStatus) Each(fn func(name string, hs HostStatus)) {
	for _, name := range f.names {
		fn(name, f.hosts[name])
	}
}

// Failures returns how many hosts are in the error state.
func (f FleetStatus) Failures() int {
	n := 0
	for _, hs := range f.hosts {
		if !hs.IsOK() {
			n++
		}
	}
	return n
}

// MarshalJSON encodes the fleet as {"collected_at": ..., "hosts": {...}} with
// the hosts object keyed in order.
func (f FleetStatus) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"collected_at":`)
	ts, err := json.Marshal(f.CollectedAt)
	if err != nil {
		return nil, err
	}
	buf.Write(ts)
	buf.WriteString(`,"hosts":{`)
	for i, name := range f.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.hosts[name])
		if err != nil {
			return nil, fmt.Errorf("encoding host %s: %w", name, err)
		}
		buf.Write(val)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a fleet written by MarshalJSON, keeping the order of
// the hosts object.
func (f *FleetStatus) UnmarshalJSON(data []byte) error {
	var raw struct {
		CollectedAt time.Time       `json:"collected_at"`
		Hosts       json.RawMessage `json:"hosts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := FleetStatus{CollectedAt: raw.CollectedAt}
	if len(raw.Hosts) == 0 || string(raw.Hosts) == "null" {
		*f = out
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw.Hosts))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("hosts must be a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in hosts", tok)
		}
		var hs HostStatus
		if err := dec.Decode(&hs); err != nil {
			return fmt.Errorf("decoding host %s: %w", name, err)
		}
		out.Set(name, hs)
	}
	*f = out
	return nil
}
