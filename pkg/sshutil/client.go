package sshutil

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sabakan-dev/sabakan/internal/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Client wraps an SSH connection with additional metadata.
type Client struct {
	*ssh.Client
	Host    string // The original host/alias used to connect
	Address string // The resolved address (host:port)
}

// Auth is the authenticated identity shared by every connection of one fetch.
// It holds parsed signers only, never raw key material or passphrases, and is
// read-only once built.
type Auth struct {
	User            string
	Signers         []ssh.Signer
	HostKeyCallback ssh.HostKeyCallback
}

// Dial establishes an SSH connection to the specified host.
// The host can be:
//   - An SSH config alias (e.g., "gpu01")
//   - A hostname (e.g., "192.168.1.100")
//   - A user@hostname (e.g., "user@192.168.1.100")
//   - A hostname:port (e.g., "192.168.1.100:2222")
//
// timeout bounds the TCP dial and the SSH handshake together.
func Dial(ctx context.Context, host string, auth *Auth, timeout time.Duration) (*Client, error) {
	if auth == nil || len(auth.Signers) == 0 {
		return nil, errors.New(errors.ErrConnect,
			"No SSH credentials available",
			"Set ssh.secret_key_path in your config or load a key into ssh-agent: ssh-add -l")
	}

	settings := resolveSSHSettings(host, auth.User)
	address := settings.address()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConnect,
			fmt.Sprintf("Can't reach '%s' at %s", host, address),
			suggestionForDialError(err))
	}

	// The handshake has no context support; a connection deadline bounds it.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	config := &ssh.ClientConfig{
		User:            settings.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(auth.Signers...)},
		HostKeyCallback: auth.HostKeyCallback,
		Timeout:         timeout,
	}
	if config.HostKeyCallback == nil {
		config.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // Caller chose not to verify host keys
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()

		var hostKeyErr *HostKeyMismatchError
		if stderrors.As(err, &hostKeyErr) {
			return nil, errors.New(errors.ErrConnect,
				hostKeyErr.Error(),
				hostKeyErr.Suggestion())
		}

		return nil, errors.WrapWithCode(err, errors.ErrConnect,
			fmt.Sprintf("SSH handshake with '%s' didn't go through", host),
			suggestionForHandshakeError(err))
	}

	_ = conn.SetDeadline(time.Time{})

	return &Client{
		Client:  ssh.NewClient(sshConn, chans, reqs),
		Host:    host,
		Address: address,
	}, nil
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// GetHost returns the original host/alias used to connect.
func (c *Client) GetHost() string {
	return c.Host
}

// GetAddress returns the resolved host:port address.
func (c *Client) GetAddress() string {
	return c.Address
}

// AuthDialer dials with a fixed Auth. It is safe for concurrent use.
type AuthDialer struct {
	Auth *Auth
}

// Dial implements Dialer.
func (d *AuthDialer) Dial(ctx context.Context, host string, timeout time.Duration) (SSHClient, error) {
	client, err := Dial(ctx, host, d.Auth, timeout)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// ErrWrongPassphrase is the cause of a key that could not be decrypted with
// the passphrase given.
var ErrWrongPassphrase = stderrors.New("wrong passphrase")

// ParsePrivateKey parses PEM key material. The passphrase is only used when
// the key is encrypted. An encrypted key without a passphrase returns
// EncryptedKeyError.
func ParsePrivateKey(path string, pem, passphrase []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(pem)
	if err == nil {
		return signer, nil
	}

	var missing *ssh.PassphraseMissingError
	if !stderrors.As(err, &missing) {
		return nil, errors.WrapWithCode(err, errors.ErrConnect,
			fmt.Sprintf("Couldn't read SSH key %s", path),
			"Check the file is an OpenSSH or PEM private key.")
	}
	if len(passphrase) == 0 {
		return nil, &EncryptedKeyError{Path: path}
	}

	signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, passphrase)
	if err != nil {
		return nil, errors.WrapWithCode(fmt.Errorf("%w: %v", ErrWrongPassphrase, err), errors.ErrConnect,
			fmt.Sprintf("Couldn't decrypt SSH key %s", path),
			"The passphrase may be wrong. Enter it again.")
	}
	return signer, nil
}

// agentConn holds the reusable SSH agent connection.
var (
	agentConn     net.Conn
	agentClient   agent.ExtendedAgent
	agentConnOnce sync.Once
)

// AgentSigners returns the signers held by the SSH agent, or nil if there is
// no agent or it has no keys.
func AgentSigners() []ssh.Signer {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	agentConnOnce.Do(func() {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return
		}
		agentConn = conn
		agentClient = agent.NewClient(conn)
	})

	if agentClient == nil {
		return nil
	}

	signers, err := agentClient.Signers()
	if err != nil || len(signers) == 0 {
		return nil
	}
	return signers
}

// CloseAgent closes the SSH agent connection if one is open.
// This should be called when the application is shutting down.
func CloseAgent() {
	if agentConn != nil {
		agentConn.Close()
	}
}

// HostKeyCallback verifies servers against knownHostsPath.
// With strict false, hosts missing from the file are accepted with a warning,
// but a host whose key changed is still rejected.
func HostKeyCallback(knownHostsPath string, strict bool) (ssh.HostKeyCallback, error) {
	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		dir := filepath.Dir(knownHostsPath)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create .ssh directory: %w", err)
		}
		if err := os.WriteFile(knownHostsPath, []byte{}, 0600); err != nil {
			return nil, fmt.Errorf("failed to create known_hosts: %w", err)
		}
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, err
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := callback(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !stderrors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) > 0 {
			return &HostKeyMismatchError{
				Hostname:     hostname,
				ReceivedType: key.Type(),
				KnownHosts:   knownHostsPath,
				Want:         keyErr.Want,
			}
		}
		if !strict {
			emitWarning(fmt.Sprintf("Host %s is not in %s; accepting its %s key", hostname, knownHostsPath, key.Type()))
			return nil
		}
		return err
	}, nil
}

func suggestionForDialError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") {
		return "Is SSH running on that box? Try: ssh <host>"
	}
	if strings.Contains(errStr, "no route to host") || strings.Contains(errStr, "network is unreachable") {
		return "Can't route to the host. Check your network and VPN connection."
	}
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "Connection timed out. Check SSH and VPN settings."
	}
	return "Make sure the host is reachable: ping <host>"
}

func suggestionForHandshakeError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "unable to authenticate") || strings.Contains(errStr, "no supported methods") {
		return "Auth failed. Check ssh.user and that your public key is in the host's authorized_keys."
	}
	if strings.Contains(errStr, "knownhosts: key is unknown") {
		return "Host isn't in known_hosts. Connect once with: ssh <host>, or set ssh.strict_host_key: false"
	}
	if strings.Contains(errStr, "timeout") {
		return "Handshake timed out. Check SSH and VPN settings."
	}
	return "Something went wrong during SSH setup. Try: ssh <host>"
}

// EncryptedKeyError is returned when an SSH key requires a passphrase.
type EncryptedKeyError struct {
	Path string
}

func (e *EncryptedKeyError) Error() string {
	return fmt.Sprintf("SSH key at %s is encrypted (passphrase protected)", e.Path)
}

// HostKeyMismatchError provides helpful context when known_hosts verification fails.
type HostKeyMismatchError struct {
	Hostname     string
	ReceivedType string
	KnownHosts   string
	Want         []knownhosts.KnownKey
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch for %s: server sent %s key", e.Hostname, e.ReceivedType)
}

// Suggestion returns actionable steps to fix the host key mismatch.
func (e *HostKeyMismatchError) Suggestion() string {
	host := e.Hostname
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	var wantTypes []string
	for _, k := range e.Want {
		wantTypes = append(wantTypes, k.Key.Type())
	}
	wantStr := "unknown"
	if len(wantTypes) > 0 {
		wantStr = strings.Join(wantTypes, ", ")
	}

	return fmt.Sprintf(
		"The server's host key doesn't match what's in known_hosts.\n"+
			"  Known types: %s\n"+
			"  Server sent: %s\n\n"+
			"  If the host was reinstalled, remove the old entry:\n"+
			"    ssh-keygen -R %s -f %s",
		wantStr, e.ReceivedType, host, e.KnownHosts)
}
