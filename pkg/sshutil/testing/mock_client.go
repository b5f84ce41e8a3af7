// Package testing provides in-memory SSH doubles for code that talks to
// remote hosts through sshutil.SSHClient and sshutil.Dialer.
package testing

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/sabakan-dev/sabakan/internal/errors"
	"github.com/sabakan-dev/sabakan/pkg/sshutil"
)

// CommandResponse defines a canned response for a specific command pattern.
type CommandResponse struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Error    error

	// Delay holds the response back, letting tests exercise timeouts.
	Delay time.Duration
}

type patternResponse struct {
	re   *regexp.Regexp
	resp CommandResponse
}

// MockClient simulates an SSH connection for testing.
// Commands are answered from exact matches first, then from regex patterns in
// registration order. Unknown commands exit 127.
type MockClient struct {
	mu       sync.Mutex
	host     string
	address  string
	closed   bool
	commands map[string]CommandResponse
	patterns []patternResponse
	calls    []string
}

// NewMockClient creates a new mock SSH client.
func NewMockClient(host string) *MockClient {
	return &MockClient{
		host:     host,
		address:  host + ":22",
		commands: make(map[string]CommandResponse),
	}
}

// SetCommandResponse registers a canned response for an exact command.
func (m *MockClient) SetCommandResponse(cmd string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[cmd] = resp
}

// SetPatternResponse registers a canned response for commands matching pattern.
func (m *MockClient) SetPatternResponse(pattern string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = append(m.patterns, patternResponse{re: regexp.MustCompile(pattern), resp: resp})
}

// Run answers cmd from the registered responses.
func (m *MockClient) Run(ctx context.Context, cmd string, timeout time.Duration) (stdout, stderr []byte, exitCode int, err error) {
	resp, closed := m.lookup(cmd)
	if closed {
		return nil, nil, -1, errors.New(errors.ErrExec, "connection closed", "")
	}

	if resp.Delay > 0 {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		select {
		case <-ctx.Done():
			return nil, nil, -1, errors.WrapWithCode(ctx.Err(), errors.ErrExec,
				fmt.Sprintf("Command didn't finish in time: %s", cmd), "")
		case <-time.After(resp.Delay):
		}
	}

	if resp.Error != nil {
		return nil, nil, -1, resp.Error
	}
	return resp.Stdout, resp.Stderr, resp.ExitCode, nil
}

func (m *MockClient) lookup(cmd string) (CommandResponse, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return CommandResponse{}, true
	}
	m.calls = append(m.calls, cmd)

	if resp, ok := m.commands[cmd]; ok {
		return resp, false
	}
	for _, p := range m.patterns {
		if p.re.MatchString(cmd) {
			return p.resp, false
		}
	}
	return CommandResponse{
		Stderr:   []byte("sh: command not found\n"),
		ExitCode: 127,
	}, false
}

// Calls returns the commands run so far, in order.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Close marks the connection as closed.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (m *MockClient) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GetHost returns the host name.
func (m *MockClient) GetHost() string {
	return m.host
}

// GetAddress returns the host:port address.
func (m *MockClient) GetAddress() string {
	return m.address
}

// MockDialer hands out registered MockClients by host.
type MockDialer struct {
	mu      sync.Mutex
	clients map[string]*MockClient
	errs    map[string]error
	delays  map[string]time.Duration
	dials   map[string]int
}

// NewMockDialer creates an empty dialer. Hosts without a client or error fail to connect.
func NewMockDialer() *MockDialer {
	return &MockDialer{
		clients: make(map[string]*MockClient),
		errs:    make(map[string]error),
		delays:  make(map[string]time.Duration),
		dials:   make(map[string]int),
	}
}

// AddClient registers a client for host and returns it.
func (d *MockDialer) AddClient(host string) *MockClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := NewMockClient(host)
	d.clients[host] = c
	return c
}

// SetDialError makes dialing host fail with err.
func (d *MockDialer) SetDialError(host string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[host] = err
}

// SetDialDelay holds the dial of host back by delay.
func (d *MockDialer) SetDialDelay(host string, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delays[host] = delay
}

// Dials returns how many times host was dialed.
func (d *MockDialer) Dials(host string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[host]
}

// Dial implements sshutil.Dialer. Dialing a host again reopens its client.
func (d *MockDialer) Dial(ctx context.Context, host string, timeout time.Duration) (sshutil.SSHClient, error) {
	d.mu.Lock()
	d.dials[host]++
	client := d.clients[host]
	dialErr := d.errs[host]
	delay := d.delays[host]
	d.mu.Unlock()

	if delay > 0 {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		select {
		case <-ctx.Done():
			return nil, errors.WrapWithCode(ctx.Err(), errors.ErrConnect,
				fmt.Sprintf("Can't reach '%s'", host),
				"Connection timed out. Check SSH and VPN settings.")
		case <-time.After(delay):
		}
	}

	if dialErr != nil {
		return nil, dialErr
	}
	if client == nil {
		return nil, errors.New(errors.ErrConnect,
			fmt.Sprintf("Can't reach '%s'", host),
			"Make sure the host is reachable: ping <host>")
	}

	// Each dial is a new connection.
	client.mu.Lock()
	client.closed = false
	client.mu.Unlock()
	return client, nil
}

var (
	_ sshutil.SSHClient = (*MockClient)(nil)
	_ sshutil.Dialer    = (*MockDialer)(nil)
)
