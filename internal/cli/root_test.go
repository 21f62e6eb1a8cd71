package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sshscan/sshscan-worker/internal/config"
	"github.com/sshscan/sshscan-worker/internal/domain"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"SSHSCAN_API_HOST", "SSHSCAN_API_SCHEME", "SSHSCAN_API_VERIFY",
		"SSHSCAN_API_PORT", "SSHSCAN_API_TOKEN",
		"SSHSCAN_POLL_INTERVAL", "SSHSCAN_POLL_RESTORE_INTERVAL",
	} {
		t.Setenv(env, "")
	}
	t.Setenv("HOME", t.TempDir())
}

func TestMissingFieldStopsBeforeLoop(t *testing.T) {
	clearEnv(t)

	cmd := NewRootCommand()
	cmd.SetArgs([]string{
		"--scheme", "https", "--port", "443", "--verify=false", "--token", "T",
		"--poll-interval", "5", "--poll-restore-interval", "30",
	})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.ExecuteContext(context.Background())

	var cfgErr domain.ErrConfiguration
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	require.Equal(t, config.KeyHost, cfgErr.Field)
}

func TestConfigFileSuppliesFields(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: api.example.com\nscheme: https\nport: 443\nverify: false\npoll_interval: 5\npoll_restore_interval: 30\n"), 0o600))

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--config", path})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.ExecuteContext(context.Background())

	var cfgErr domain.ErrConfiguration
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	require.Equal(t, config.KeyToken, cfgErr.Field)
}

func TestMissingRestoreIntervalStopsBeforeLoop(t *testing.T) {
	clearEnv(t)

	cmd := NewRootCommand()
	cmd.SetArgs([]string{
		"--host", "api.example.com", "--scheme", "https", "--port", "443",
		"--verify=false", "--token", "T", "--poll-interval", "5",
	})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.ExecuteContext(context.Background())

	var cfgErr domain.ErrConfiguration
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	require.Equal(t, config.KeyPollRestoreInterval, cfgErr.Field)
}

func TestVersionCommand(t *testing.T) {
	clearEnv(t)

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"version"})
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "sshscan-worker dev")
}
