package sshutil

import (
	"context"
	"time"
)

// SSHClient defines the interface for running commands on one remote host.
// Both the real Client and mock implementations satisfy this interface.
//
// A client is used sequentially: one command in flight at a time.
type SSHClient interface {
	// Run executes cmd and returns its stdout, stderr, and exit code.
	// Exit code is -1 if the command couldn't be executed at all.
	// A non-zero exit code with nil error means the command ran but failed.
	// A positive timeout bounds the command on top of ctx.
	Run(ctx context.Context, cmd string, timeout time.Duration) (stdout, stderr []byte, exitCode int, err error)

	// Close closes the SSH connection.
	Close() error

	// GetHost returns the original host/alias used to connect.
	GetHost() string

	// GetAddress returns the resolved host:port address.
	GetAddress() string
}

// Dialer opens authenticated connections.
type Dialer interface {
	// Dial connects to host, failing after timeout or when ctx ends.
	Dial(ctx context.Context, host string, timeout time.Duration) (SSHClient, error)
}
