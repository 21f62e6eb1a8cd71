package scan

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sshscan/sshscan-worker/internal/domain"
)

var testSettings = Settings{
	FingerprintDatabase: "data/fingerprints.yml",
	Policy:              "config/policies/mozilla_modern.yml",
	Timeout:             5 * time.Second,
}

func TestExecutePassesDerivedConfig(t *testing.T) {
	var got Config
	engine := EngineFunc(func(_ context.Context, cfg Config) (any, error) {
		got = cfg
		return map[string]string{"ok": "yes"}, nil
	})

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	exec := NewExecutor(engine, testSettings, logger)

	result, err := exec.Execute(context.Background(), &domain.Job{UUID: "abc", Target: "10.0.0.1", Port: 22})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"ok": "yes"}, result)

	require.Equal(t, []string{"10.0.0.1:22"}, got.Sockets)
	require.Equal(t, testSettings.FingerprintDatabase, got.FingerprintDatabase)
	require.Equal(t, testSettings.Policy, got.Policy)
	require.Equal(t, 5*time.Second, got.Timeout)

	require.Contains(t, logs.String(), `"msg":"started job"`)
	require.Contains(t, logs.String(), `"msg":"completed job"`)
	require.NotContains(t, logs.String(), "10.0.0.1")
}

func TestConfigForBracketsIPv6(t *testing.T) {
	exec := NewExecutor(nil, testSettings, slog.Default())
	cfg := exec.ConfigFor(&domain.Job{UUID: "a", Target: "2001:db8::1", Port: 2222})
	require.Equal(t, []string{"[2001:db8::1]:2222"}, cfg.Sockets)
}

func TestExecuteWrapsEngineError(t *testing.T) {
	cause := errors.New("handshake timeout")
	engine := EngineFunc(func(context.Context, Config) (any, error) {
		return nil, cause
	})
	var logs bytes.Buffer
	exec := NewExecutor(engine, testSettings, slog.New(slog.NewJSONHandler(&logs, nil)))

	result, err := exec.Execute(context.Background(), &domain.Job{UUID: "abc", Target: "h", Port: 22})
	require.Nil(t, result)

	var jobErr domain.ErrJob
	require.True(t, errors.As(err, &jobErr))
	require.Equal(t, "abc", jobErr.JobID)
	require.ErrorIs(t, err, cause)

	require.Contains(t, logs.String(), `"msg":"job failed"`)
	require.Contains(t, logs.String(), "handshake timeout")
}

func TestExecuteRecoversEnginePanic(t *testing.T) {
	engine := EngineFunc(func(context.Context, Config) (any, error) {
		panic("nil fingerprint table")
	})
	exec := NewExecutor(engine, testSettings, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	var err error
	require.NotPanics(t, func() {
		_, err = exec.Execute(context.Background(), &domain.Job{UUID: "abc", Target: "h", Port: 22})
	})

	var jobErr domain.ErrJob
	require.True(t, errors.As(err, &jobErr))
	require.Contains(t, err.Error(), "nil fingerprint table")
}
