package sshutil

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sabakan-dev/sabakan/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type execReply struct {
	stdout string
	stderr string
	code   uint32
	delay  time.Duration
}

type testServer struct {
	addr         string
	hostKey      ssh.PublicKey
	clientSigner ssh.Signer
}

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

// startTestServer runs an in-process SSH server that answers exec requests via reply.
func startTestServer(t *testing.T, reply func(cmd string) execReply) *testServer {
	t.Helper()

	original := ConfigPath
	ConfigPath = filepath.Join(t.TempDir(), "no-ssh-config")
	t.Cleanup(func() { ConfigPath = original })

	hostSigner := newSigner(t)
	clientSigner := newSigner(t)
	allowed := string(clientSigner.PublicKey().Marshal())

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == allowed {
				return nil, nil
			}
			return nil, assert.AnError
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg, reply)
		}
	}()

	return &testServer{
		addr:         ln.Addr().String(),
		hostKey:      hostSigner.PublicKey(),
		clientSigner: clientSigner,
	}
}

func serveConn(conn net.Conn, cfg *ssh.ServerConfig, reply func(string) execReply) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range chReqs {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				_ = ssh.Unmarshal(req.Payload, &payload)
				_ = req.Reply(true, nil)

				r := reply(payload.Command)
				go func() {
					time.Sleep(r.delay)
					_, _ = ch.Write([]byte(r.stdout))
					_, _ = ch.Stderr().Write([]byte(r.stderr))
					_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{r.code}))
					ch.Close()
				}()
			}
		}()
	}
}

func (s *testServer) auth() *Auth {
	return &Auth{
		User:            "tester",
		Signers:         []ssh.Signer{s.clientSigner},
		HostKeyCallback: ssh.FixedHostKey(s.hostKey),
	}
}

func TestDialAndRun(t *testing.T) {
	srv := startTestServer(t, func(cmd string) execReply {
		switch cmd {
		case "echo hello":
			return execReply{stdout: "hello\n"}
		case "false":
			return execReply{stderr: "nope\n", code: 3}
		case "sleep":
			return execReply{delay: 2 * time.Second}
		}
		return execReply{code: 127}
	})

	ctx := context.Background()
	client, err := Dial(ctx, srv.addr, srv.auth(), 5*time.Second)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, srv.addr, client.GetHost())
	assert.Equal(t, srv.addr, client.GetAddress())

	t.Run("success", func(t *testing.T) {
		stdout, stderr, code, err := client.Run(ctx, "echo hello", 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, 0, code)
		assert.Equal(t, "hello\n", string(stdout))
		assert.Empty(t, stderr)
	})

	t.Run("non-zero exit is not an error", func(t *testing.T) {
		_, stderr, code, err := client.Run(ctx, "false", 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, 3, code)
		assert.Equal(t, "nope\n", string(stderr))
	})

	t.Run("timeout", func(t *testing.T) {
		start := time.Now()
		_, _, code, err := client.Run(ctx, "sleep", 100*time.Millisecond)
		require.Error(t, err)
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, -1, code)
		assert.True(t, errors.IsCode(err, errors.ErrExec))
		assert.True(t, errors.IsTimeout(err))
	})
}

func TestAuthDialer(t *testing.T) {
	srv := startTestServer(t, func(string) execReply { return execReply{stdout: "ok"} })

	var d Dialer = &AuthDialer{Auth: srv.auth()}
	client, err := d.Dial(context.Background(), srv.addr, 5*time.Second)
	require.NoError(t, err)
	defer client.Close()

	out, _, _, err := client.Run(context.Background(), "anything", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(out))
}

func TestDial_WrongKey(t *testing.T) {
	srv := startTestServer(t, func(string) execReply { return execReply{} })

	auth := srv.auth()
	auth.Signers = []ssh.Signer{newSigner(t)}

	_, err := Dial(context.Background(), srv.addr, auth, 5*time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConnect))
	assert.Contains(t, err.Error(), "Auth failed")
}

func TestDial_HostKeyMismatch(t *testing.T) {
	srv := startTestServer(t, func(string) execReply { return execReply{} })

	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	other := newSigner(t).PublicKey()
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.addr)}, other)
	require.NoError(t, os.WriteFile(knownHosts, []byte(line+"\n"), 0600))

	cb, err := HostKeyCallback(knownHosts, true)
	require.NoError(t, err)

	auth := srv.auth()
	auth.HostKeyCallback = cb

	_, err = Dial(context.Background(), srv.addr, auth, 5*time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConnect))
	assert.Contains(t, err.Error(), "host key mismatch")
}

func TestDial_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dial(context.Background(), addr, &Auth{Signers: []ssh.Signer{newSigner(t)}}, time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConnect))
}

func TestDial_NoSigners(t *testing.T) {
	_, err := Dial(context.Background(), "127.0.0.1:1", &Auth{}, time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConnect))
	assert.Contains(t, err.Error(), "No SSH credentials")
}

func TestHostKeyCallback_Strictness(t *testing.T) {
	dir := t.TempDir()
	knownHosts := filepath.Join(dir, "sub", "known_hosts")
	key := newSigner(t).PublicKey()
	addr := &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 22}

	strict, err := HostKeyCallback(knownHosts, true)
	require.NoError(t, err)
	assert.FileExists(t, knownHosts, "missing known_hosts is created")
	assert.Error(t, strict("10.0.0.1:22", addr, key), "unknown host rejected when strict")

	WarningHandler = func(string) {}
	defer func() { WarningHandler = nil }()

	lenient, err := HostKeyCallback(knownHosts, false)
	require.NoError(t, err)
	assert.NoError(t, lenient("10.0.0.1:22", addr, key), "unknown host accepted when not strict")

	line := knownhosts.Line([]string{knownhosts.Normalize("10.0.0.1:22")}, key)
	require.NoError(t, os.WriteFile(knownHosts, []byte(line+"\n"), 0600))

	lenient, err = HostKeyCallback(knownHosts, false)
	require.NoError(t, err)
	assert.NoError(t, lenient("10.0.0.1:22", addr, key))

	err = lenient("10.0.0.1:22", addr, newSigner(t).PublicKey())
	var mismatch *HostKeyMismatchError
	require.ErrorAs(t, err, &mismatch, "changed key rejected even when not strict")
	assert.Contains(t, mismatch.Suggestion(), "ssh-keygen -R 10.0.0.1")
}

func TestParsePrivateKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	plainBlock, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	encBlock, err := ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte("secret"))
	require.NoError(t, err)

	plain := pem.EncodeToMemory(plainBlock)
	enc := pem.EncodeToMemory(encBlock)

	t.Run("unencrypted", func(t *testing.T) {
		s, err := ParsePrivateKey("id", plain, nil)
		require.NoError(t, err)
		assert.NotNil(t, s)
	})

	t.Run("encrypted with passphrase", func(t *testing.T) {
		s, err := ParsePrivateKey("id", enc, []byte("secret"))
		require.NoError(t, err)
		assert.NotNil(t, s)
	})

	t.Run("encrypted without passphrase", func(t *testing.T) {
		_, err := ParsePrivateKey("id", enc, nil)
		var encErr *EncryptedKeyError
		require.ErrorAs(t, err, &encErr)
		assert.Equal(t, "id", encErr.Path)
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		_, err := ParsePrivateKey("id", enc, []byte("wrong"))
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrConnect))
		assert.Contains(t, err.Error(), "passphrase may be wrong")
		assert.ErrorIs(t, err, ErrWrongPassphrase)
	})

	t.Run("unencrypted ignores passphrase", func(t *testing.T) {
		s, err := ParsePrivateKey("id", plain, []byte("unused"))
		require.NoError(t, err)
		assert.NotNil(t, s)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParsePrivateKey("id", []byte("not a key"), nil)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrConnect))
	})
}
