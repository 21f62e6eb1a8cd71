package coordinator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/sshscan/sshscan-worker/internal/domain"
)

const testWorkerID = "7d3c1c52-33f6-4c3e-9d4c-0b7d2e6a9f10"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCoordinator serves the work endpoint with a fixed body.
func fakeCoordinator(t *testing.T, status int, body string) (*httptest.Server, *http.Request) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var last http.Request
	router := gin.New()
	router.GET(workPath, func(c *gin.Context) {
		last = *c.Request.Clone(context.Background())
		c.Data(status, "application/json", []byte(body))
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, &last
}

func newTestClient(t *testing.T, baseURL, token string, tlsOpts TLSOptions) *Client {
	t.Helper()
	client, err := NewClient(Options{
		BaseURL: baseURL,
		Token:   token,
		TLS:     tlsOpts,
		Timeout: 2 * time.Second,
	}, discardLogger())
	require.NoError(t, err)
	return client
}

func TestPollJob(t *testing.T) {
	srv, last := fakeCoordinator(t, http.StatusOK, `{"work": {"uuid": "abc", "target": "10.0.0.1", "port": 22}}`)
	poller := NewPoller(newTestClient(t, srv.URL, "T", TLSOptions{}), discardLogger())

	env, err := poller.Poll(context.Background(), testWorkerID)
	require.NoError(t, err)
	require.Equal(t, domain.EnvelopeJob, env.Kind)
	require.Equal(t, &domain.Job{UUID: "abc", Target: "10.0.0.1", Port: 22}, env.Job)

	require.Equal(t, workPath, last.URL.Path)
	require.Equal(t, testWorkerID, last.URL.Query().Get("worker_id"))
	require.Equal(t, "T", last.Header.Get(AuthTokenHeader))
}

func TestPollInterpretsEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		kind    domain.EnvelopeKind
		message string
		jobID   string
	}{
		{name: "empty object", body: `{}`, kind: domain.EnvelopeEmpty},
		{name: "null work", body: `{"work": null}`, kind: domain.EnvelopeEmpty},
		{name: "error", body: `{"error": "worker not authorized"}`, kind: domain.EnvelopeError, message: "worker not authorized"},
		{name: "job wins over error", body: `{"work": {"uuid": "j1", "target": "h", "port": "2222"}, "error": "x"}`, kind: domain.EnvelopeJob, jobID: "j1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := fakeCoordinator(t, http.StatusOK, tt.body)
			poller := NewPoller(newTestClient(t, srv.URL, "T", TLSOptions{}), discardLogger())

			env, err := poller.Poll(context.Background(), testWorkerID)
			require.NoError(t, err)
			require.Equal(t, tt.kind, env.Kind)
			require.Equal(t, tt.message, env.Message)
			if tt.jobID != "" {
				require.Equal(t, tt.jobID, env.Job.UUID)
			}
		})
	}
}

func TestPollProtocolErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"not json", http.StatusOK, `<html>oops</html>`},
		{"job without uuid", http.StatusOK, `{"work": {"target": "h", "port": 22}}`},
		{"job with bad port", http.StatusOK, `{"work": {"uuid": "a", "target": "h", "port": "ssh"}}`},
		{"server error", http.StatusInternalServerError, `{"error": "boom"}`},
		{"unauthorized", http.StatusUnauthorized, `denied`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := fakeCoordinator(t, tt.status, tt.body)
			poller := NewPoller(newTestClient(t, srv.URL, "T", TLSOptions{}), discardLogger())

			_, err := poller.Poll(context.Background(), testWorkerID)
			var protoErr domain.ErrProtocol
			require.True(t, errors.As(err, &protoErr), "got %v", err)
			require.Equal(t, tt.status, protoErr.Status)
			if tt.status != http.StatusOK {
				require.Equal(t, tt.body, protoErr.Body)
			}
		})
	}
}

func TestPollUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	poller := NewPoller(newTestClient(t, baseURL, "T", TLSOptions{}), discardLogger())
	_, err := poller.Poll(context.Background(), testWorkerID)

	var unreachable domain.ErrUnreachable
	require.True(t, errors.As(err, &unreachable), "got %v", err)
}

func TestSendDoesNotRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, "T", TLSOptions{})
	_, err := client.Send(context.Background(), http.MethodGet, workPath, nil, nil)

	var protoErr domain.ErrProtocol
	require.True(t, errors.As(err, &protoErr))
	require.Equal(t, http.StatusServiceUnavailable, protoErr.Status)
	require.EqualValues(t, 1, hits.Load())
}

func TestSendOmitsEmptyToken(t *testing.T) {
	var present atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.Header[http.CanonicalHeaderKey(AuthTokenHeader)]
		present.Store(ok)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, "", TLSOptions{})
	_, err := client.Send(context.Background(), http.MethodGet, workPath, nil, nil)
	require.NoError(t, err)
	require.False(t, present.Load())
}

func TestSendTLSVerification(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	insecure := newTestClient(t, srv.URL, "T", TLSOptions{Verify: false})
	_, err := insecure.Send(context.Background(), http.MethodGet, workPath, nil, nil)
	require.NoError(t, err)

	verifying := newTestClient(t, srv.URL, "T", TLSOptions{Verify: true})
	_, err = verifying.Send(context.Background(), http.MethodGet, workPath, nil, nil)
	var protoErr domain.ErrProtocol
	require.True(t, errors.As(err, &protoErr), "got %v", err)
}

func TestSendHonoursCancelledContext(t *testing.T) {
	srv, _ := fakeCoordinator(t, http.StatusOK, `{}`)
	client := newTestClient(t, srv.URL, "T", TLSOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Send(ctx, http.MethodGet, workPath, nil, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReport(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var (
		gotPath, gotType, gotToken string
		gotBody                    []byte
	)
	router := gin.New()
	router.POST(resultsPath+"/:worker/:job", func(c *gin.Context) {
		gotPath = c.Request.URL.Path
		gotType = c.GetHeader("Content-Type")
		gotToken = c.GetHeader(AuthTokenHeader)
		gotBody, _ = io.ReadAll(c.Request.Body)
		c.JSON(http.StatusOK, gin.H{"accepted": true})
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	reporter := NewReporter(newTestClient(t, srv.URL, "T", TLSOptions{}))
	err := reporter.Report(context.Background(), testWorkerID, "abc", map[string]any{"ip": "10.0.0.1"})
	require.NoError(t, err)

	require.Equal(t, resultsPath+"/"+testWorkerID+"/abc", gotPath)
	require.Equal(t, "application/json", gotType)
	require.Equal(t, "T", gotToken)
	require.JSONEq(t, `{"ip": "10.0.0.1"}`, string(gotBody))
}

func TestReportUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	reporter := NewReporter(newTestClient(t, baseURL, "T", TLSOptions{}))
	err := reporter.Report(context.Background(), testWorkerID, "abc", []string{})

	var unreachable domain.ErrUnreachable
	require.True(t, errors.As(err, &unreachable), "got %v", err)
}

func TestReportUnencodableResult(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	reporter := NewReporter(newTestClient(t, srv.URL, "T", TLSOptions{}))
	err := reporter.Report(context.Background(), testWorkerID, "abc", make(chan int))

	var encErr domain.ErrResultEncoding
	require.True(t, errors.As(err, &encErr), "got %v", err)
	require.Equal(t, "abc", encErr.JobID)
	require.Zero(t, hits.Load())
}

func TestTransportLogsAtDebug(t *testing.T) {
	srv, _ := fakeCoordinator(t, http.StatusOK, `{}`)

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client, err := NewClient(Options{BaseURL: srv.URL, Timeout: 2 * time.Second}, logger)
	require.NoError(t, err)

	_, err = client.Send(context.Background(), http.MethodGet, workPath, nil, nil)
	require.NoError(t, err)
	require.Contains(t, logs.String(), `"component":"transport"`)
	require.NotContains(t, logs.String(), `"level":"ERROR"`)
}

func TestNewClientRejectsScheme(t *testing.T) {
	_, err := NewClient(Options{BaseURL: "ftp://example.com:21"}, discardLogger())
	require.Error(t, err)
}
