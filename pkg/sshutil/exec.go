package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/sabakan-dev/sabakan/internal/errors"
	"golang.org/x/crypto/ssh"
)

// Run executes cmd in a new session on the remote host.
// Returns stdout, stderr, exit code, and any error.
// Exit code is -1 if the command couldn't be executed at all.
// When ctx ends or timeout elapses the session is closed and an ErrExec
// error flagged as a timeout is returned.
func (c *Client) Run(ctx context.Context, cmd string, timeout time.Duration) (stdout, stderr []byte, exitCode int, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	session, err := c.Client.NewSession()
	if err != nil {
		return nil, nil, -1, errors.WrapWithCode(err, errors.ErrExec,
			"Failed to create SSH session",
			"Connection may have been closed. Try again.")
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	// session.Run has no context support, so it runs in a goroutine and the
	// session is closed if ctx ends first.
	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return nil, nil, -1, errors.WrapWithCode(ctx.Err(), errors.ErrExec,
			fmt.Sprintf("Command didn't finish in time: %s", cmd),
			"The host may be overloaded. Try a larger timeout.command.")
	case runErr := <-done:
		return classifyRunError(cmd, runErr, stdoutBuf.Bytes(), stderrBuf.Bytes())
	}
}

func classifyRunError(cmd string, runErr error, stdout, stderr []byte) ([]byte, []byte, int, error) {
	if runErr == nil {
		return stdout, stderr, 0, nil
	}

	var exitErr *ssh.ExitError
	if stderrors.As(runErr, &exitErr) {
		// Command ran, just had non-zero exit
		return stdout, stderr, exitErr.ExitStatus(), nil
	}

	return nil, nil, -1, errors.WrapWithCode(runErr, errors.ErrExec,
		fmt.Sprintf("Failed to execute command: %s", cmd),
		"Check if the command exists on the remote host.")
}
