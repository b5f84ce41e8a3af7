package fleet

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sabakan-dev/sabakan/internal/config"
	"github.com/sabakan-dev/sabakan/internal/logger"
	"github.com/sabakan-dev/sabakan/internal/secret"
	"github.com/sabakan-dev/sabakan/pkg/sshutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireSSH skips unless a real GPU host is available:
//
//	SABAKAN_TEST_SSH_HOST  user@host[:port]
//	SABAKAN_TEST_SSH_KEY   unencrypted private key
//	SABAKAN_TEST_GPUSTAT   gpustat path on the host (default "gpustat")
//	SABAKAN_TEST_DU_PATH   disk usage report on the host
func requireSSH(t *testing.T) (config.Server, config.SSHConfig) {
	t.Helper()
	host := os.Getenv("SABAKAN_TEST_SSH_HOST")
	key := os.Getenv("SABAKAN_TEST_SSH_KEY")
	duPath := os.Getenv("SABAKAN_TEST_DU_PATH")
	if host == "" || key == "" || duPath == "" {
		t.Skip("Skipping: SABAKAN_TEST_SSH_HOST, SABAKAN_TEST_SSH_KEY and SABAKAN_TEST_DU_PATH must be set")
	}

	gpustat := os.Getenv("SABAKAN_TEST_GPUSTAT")
	if gpustat == "" {
		gpustat = "gpustat"
	}

	server := config.Server{Name: "integration", Host: host, GPUStat: gpustat, DUPath: duPath}
	ssh := config.SSHConfig{
		SecretKeyPath:  key,
		KnownHostsPath: filepath.Join(t.TempDir(), "known_hosts"),
		StrictHostKey:  false,
	}
	return server, ssh
}

func TestIntegration_FetchRealHost(t *testing.T) {
	server, sshCfg := requireSSH(t)

	auth, err := secret.Resolve(sshCfg, nil)
	require.NoError(t, err)

	c := NewCollector(&sshutil.AuthDialer{Auth: auth}, Options{
		ConnectTimeout: 10 * time.Second,
		ExecTimeout:    10 * time.Second,
		Deadline:       30 * time.Second,
	}, logger.Noop())

	fs, err := c.Fetch(context.Background(), []config.Server{server})
	require.NoError(t, err)

	hs, ok := fs.Get("integration")
	require.True(t, ok)
	require.True(t, hs.IsOK(), "host failed: %+v", hs.Error)
	assert.NotEmpty(t, hs.GPUs)
	require.NotNil(t, hs.Disk)
	assert.NotEmpty(t, hs.Disk.Mount)
}
