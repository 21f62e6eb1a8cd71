package coordinator

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/sshscan/sshscan-worker/internal/domain"
)

const (
	// AuthTokenHeader carries the coordinator auth token.
	AuthTokenHeader = "SSH_SCAN_AUTH_TOKEN"
	applicationJSON = "application/json"

	maxResponseBody = 8 << 20
)

// TLSOptions is the TLS policy for https coordinators.
type TLSOptions struct {
	// Verify enables peer certificate verification. false is insecure and
	// only meant for coordinators with self-signed certificates.
	Verify bool

	// MinVersion defaults to TLS 1.2. SSLv2/SSLv3 are never offered and
	// crypto/tls does not implement TLS compression.
	MinVersion uint16
}

func (o TLSOptions) config() *tls.Config {
	minVersion := o.MinVersion
	if minVersion < tls.VersionTLS12 {
		minVersion = tls.VersionTLS12
	}
	return &tls.Config{
		MinVersion:         minVersion,
		InsecureSkipVerify: !o.Verify,
	}
}

// Options configures a Client.
type Options struct {
	// BaseURL is scheme://host:port of the coordinator.
	BaseURL string

	// Token is sent in AuthTokenHeader when non-empty.
	Token string

	TLS TLSOptions

	// Timeout bounds each request, including reading the body.
	Timeout time.Duration
}

// Response is a coordinator reply with a 2xx status.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client sends requests to the coordinator. It never retries; retry policy
// belongs to the worker loop.
type Client struct {
	baseURL *url.URL
	token   string

	http   *retryablehttp.Client
	logger *slog.Logger
}

// NewClient creates a coordinator client.
func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", base.Scheme)
	}

	transport := cleanhttp.DefaultPooledTransport()
	transport.TLSClientConfig = opts.TLS.config()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.CheckRetry = neverRetry
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.HTTPClient = &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
	retryClient.Logger = transportLogger{logger.With("component", "transport")}

	if base.Scheme == "https" && !opts.TLS.Verify {
		logger.Warn("TLS certificate verification disabled for coordinator",
			"url", base.String(),
		)
	}

	return &Client{
		baseURL: base,
		token:   opts.Token,
		http:    retryClient,
		logger:  logger,
	}, nil
}

// Addr returns host:port of the coordinator, for log messages.
func (c *Client) Addr() string {
	return c.baseURL.Host
}

// Send issues a request to path (which may carry a query string).
// Network-level failures return domain.ErrUnreachable, non-2xx replies and
// unreadable bodies return domain.ErrProtocol.
func (c *Client) Send(ctx context.Context, method, path string, header http.Header, body []byte) (*Response, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse path %q: %w", path, err)
	}
	target := c.baseURL.ResolveReference(ref)
	op := method + " " + ref.Path

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, target.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.token != "" {
		req.Header.Set(AuthTokenHeader, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if isUnreachable(err) {
			return nil, domain.ErrUnreachable{Op: op, Addr: c.Addr(), Err: err}
		}
		return nil, domain.ErrProtocol{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, domain.ErrProtocol{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("coordinator error",
			"method", method,
			"path", ref.Path,
			"status", resp.StatusCode,
			"body", string(respBody),
		)
		return nil, domain.ErrProtocol{Op: op, Status: resp.StatusCode, Body: string(respBody)}
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   respBody,
	}, nil
}

// transportLogger hands retryablehttp's per-request messages to slog at
// debug level. The worker loop logs the classified failure itself.
type transportLogger struct {
	logger *slog.Logger
}

func (l transportLogger) Error(msg string, kv ...any) { l.logger.Debug(msg, kv...) }
func (l transportLogger) Warn(msg string, kv ...any)  { l.logger.Debug(msg, kv...) }
func (l transportLogger) Info(msg string, kv ...any)  { l.logger.Debug(msg, kv...) }
func (l transportLogger) Debug(msg string, kv ...any) { l.logger.Debug(msg, kv...) }

func neverRetry(ctx context.Context, _ *http.Response, _ error) (bool, error) {
	return false, ctx.Err()
}

// isUnreachable reports whether err means the coordinator could not be
// reached at all, as opposed to answering badly.
func isUnreachable(err error) bool {
	for _, errno := range []syscall.Errno{syscall.ECONNREFUSED, syscall.EHOSTUNREACH, syscall.ENETUNREACH} {
		if errors.Is(err, errno) {
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return false
}
