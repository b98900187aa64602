package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/edulink-io/crm-bridge/pkg/config"
	"github.com/edulink-io/crm-bridge/pkg/enums"
	pkgerrors "github.com/edulink-io/crm-bridge/pkg/errors"
	"github.com/edulink-io/crm-bridge/pkg/logger"
)

const (
	defaultAttempts   = 3
	defaultRetryDelay = 2 * time.Second
	defaultTimeout    = 30 * time.Second
	responseBodyLimit = 64 * 1024
	errorSnippetLimit = 512
)

var errEndpointRequired = errors.New("backend endpoint is required")

// Result is the classified outcome of one delivery call.
type Result struct {
	StatusCode     int
	Body           []byte
	Action         *enums.EventAction
	RemoteRecordID *string
}

// Client performs the outbound HTTP POST to the CRM-facing backend. Transient
// failures (transport errors, 5xx) are retried in-call with a linear delay;
// this is a short-lived retry for flaky connections, distinct from the event
// store's long-horizon backoff cycle.
type Client struct {
	httpClient *http.Client
	endpoint   string
	token      string
	attempts   int
	retryDelay time.Duration
	logg       *logger.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithSleep overrides the inter-attempt wait, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// NewClient builds a delivery client from the backend and delivery config.
func NewClient(backend config.BackendConfig, del config.DeliveryConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	endpoint := strings.TrimSpace(backend.Endpoint())
	if strings.TrimRight(strings.TrimSpace(backend.BaseURL), "/") == "" {
		return nil, errEndpointRequired
	}

	timeout := backend.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := http.DefaultTransport
	if backend.InsecureSkipVerify {
		cloned := http.DefaultTransport.(*http.Transport).Clone()
		cloned.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		transport = cloned
	}

	attempts := del.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	retryDelay := del.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}

	client := &Client{
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		endpoint:   endpoint,
		token:      strings.TrimSpace(backend.Token),
		attempts:   attempts,
		retryDelay: retryDelay,
		logg:       logg,
		sleep:      sleepWithContext,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Send posts the serialized envelope. A 2xx response yields a Result and nil
// error. A 4xx yields the Result alongside a non-retryable rejection error.
// Transport failures and 5xx are retried up to the attempt budget with a
// linear delay (delay * attempt), then surfaced as a transient error.
func (c *Client) Send(ctx context.Context, body []byte) (*Result, error) {
	var lastErr error
	var lastResult *Result

	for attempt := 1; attempt <= c.attempts; attempt++ {
		result, err := c.post(ctx, body)
		if err == nil {
			return result, nil
		}

		lastErr = err
		lastResult = result

		if !pkgerrors.Retryable(err) {
			return result, err
		}
		if attempt == c.attempts {
			break
		}

		if c.logg != nil {
			logCtx := c.logg.WithFields(ctx, map[string]any{
				"attempt": attempt,
				"error":   err.Error(),
			})
			c.logg.Warn(logCtx, "delivery attempt failed, retrying in-call")
		}
		if sleepErr := c.sleep(ctx, c.retryDelay*time.Duration(attempt)); sleepErr != nil {
			return lastResult, pkgerrors.Wrap(pkgerrors.CodeDeliveryTransient, sleepErr, "delivery interrupted")
		}
	}

	return lastResult, lastErr
}

func (c *Client) post(ctx context.Context, body []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build delivery request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDeliveryTransient, err, "execute delivery request")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDeliveryTransient, err, "read delivery response")
	}

	result := &Result{StatusCode: resp.StatusCode, Body: respBody}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		decodeResponseFields(respBody, result)
		return result, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return result, pkgerrors.Wrap(pkgerrors.CodeDeliveryRejected,
			fmt.Errorf("status %d: %s", resp.StatusCode, bodySnippet(respBody)),
			"backend rejected event")
	default:
		return result, pkgerrors.Wrap(pkgerrors.CodeDeliveryTransient,
			fmt.Errorf("status %d: %s", resp.StatusCode, bodySnippet(respBody)),
			"backend unavailable")
	}
}

// decodeResponseFields pulls the optional fields out of a success body.
// Absent or malformed fields decode to nil; the body is an external contract
// we do not control.
func decodeResponseFields(body []byte, result *Result) {
	var decoded struct {
		Action   string `json:"action"`
		RecordID string `json:"record_id"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return
	}
	if action, err := enums.ParseEventAction(decoded.Action); err == nil {
		result.Action = &action
	}
	if trimmed := strings.TrimSpace(decoded.RecordID); trimmed != "" {
		result.RemoteRecordID = &trimmed
	}
}

func bodySnippet(body []byte) string {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > errorSnippetLimit {
		snippet = snippet[:errorSnippetLimit]
	}
	return snippet
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
