package engine

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/batchgate/batchgate/pkg/errors"
)

// Exact user-facing messages for classified transport failures.
const (
	MsgConnectFailed = "Could not connect to vLLM service."
	MsgTimeout       = "Request to vLLM timed out."
)

// Client is a raw HTTP client for a single OpenAI-compatible inference
// engine. Payloads and completion bodies are opaque bytes; the gateway
// relays them without interpretation.
type Client struct {
	baseURL        string
	requestTimeout time.Duration
	client         *http.Client
	logger         *zap.Logger
}

// New creates an engine client for the given base URL. requestTimeout
// bounds each non-streaming call and the per-read idle window of
// streaming bodies.
func New(baseURL string, requestTimeout time.Duration, logger *zap.Logger) *Client {
	if requestTimeout <= 0 {
		requestTimeout = 180 * time.Second
	}

	// Connection pool sized for full scheduler fan-out against one host.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: requestTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          300,
		MaxIdleConnsPerHost:   300,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		requestTimeout: requestTimeout,
		client:         &http.Client{Transport: transport},
		logger:         logger.With(zap.String("component", "engine")),
	}
}

// BaseURL returns the configured engine address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Post sends payload to endpoint and returns the engine's status and
// body. Non-2xx statuses are results, not errors; only transport
// failures return an error, classified into the gateway taxonomy.
func (c *Client) Post(ctx context.Context, endpoint string, payload []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, apperrors.NewInternalErrorWithCause("create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("Engine request failed",
			zap.String("endpoint", endpoint),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return 0, nil, classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, classify(err)
	}

	c.logger.Debug("Engine request done",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp.StatusCode, body, nil
}

// Stream opens a streaming call and returns the live response for chunk
// proxying. The body is wrapped with a per-read idle timeout so a stalled
// stream terminates; total stream duration is not capped.
func (c *Client) Stream(ctx context.Context, endpoint string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("Engine stream failed",
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
		return nil, classify(err)
	}

	resp.Body = &timedReadCloser{rc: resp.Body, timeout: c.requestTimeout}
	return resp, nil
}

// Ping probes the engine's health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return apperrors.NewInternalErrorWithCause("create request", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return apperrors.NewInternalError(fmt.Sprintf("engine health returned %d", resp.StatusCode))
	}
	return nil
}

// classify maps a transport error onto the gateway error taxonomy.
// Connection failures (dial, DNS, refused) rank before generic timeouts:
// an unreachable engine is a connectivity problem even when the dialer
// gives up by deadline.
func classify(err error) error {
	if isConnectFailure(err) {
		return apperrors.NewUpstreamConnectError(MsgConnectFailed, err)
	}
	if isTimeout(err) {
		return apperrors.NewUpstreamTimeoutError(MsgTimeout, err)
	}
	return apperrors.NewInternalErrorWithCause("engine request failed", err)
}

func isConnectFailure(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errIdleTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// --- stream idle timeout support ---

var errIdleTimeout = errors.New("stream read idle timeout")

// IsIdleTimeout reports whether a stream read failed because the engine
// stopped producing chunks.
func IsIdleTimeout(err error) bool {
	return errors.Is(err, errIdleTimeout)
}

// timedReadCloser applies a per-Read deadline to a streaming body.
type timedReadCloser struct {
	rc      io.ReadCloser
	timeout time.Duration
}

func (t *timedReadCloser) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.rc.Read(p)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		// Closing unblocks the pending Read above.
		_ = t.rc.Close()
		return 0, errIdleTimeout
	}
}

func (t *timedReadCloser) Close() error {
	return t.rc.Close()
}
