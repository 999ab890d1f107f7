package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	defaultHTTPTimeout   = 600 * time.Second
	defaultRetryAttempts = 5
	defaultRetryBase     = 1 * time.Second
	defaultRetryMax      = 30 * time.Second
)

// httpStatusError carries the response status and body of a failed call, plus
// any server-provided Retry-After delay.
type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, payloadSnippet(e.Body))
}

// transport issues JSON POST requests with bounded retries. Only transport
// faults are retried: 408, 429, 5xx, and network timeouts. Client errors and
// content rejections surface immediately.
type transport struct {
	client    *http.Client
	attempts  uint
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newTransport(timeoutSeconds int) *transport {
	timeout := defaultHTTPTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	return &transport{
		client:    &http.Client{Timeout: timeout},
		attempts:  defaultRetryAttempts,
		baseDelay: defaultRetryBase,
		maxDelay:  defaultRetryMax,
	}
}

// postJSON sends payload and returns the response body. The request is
// re-encoded per attempt so retries never reuse a consumed reader.
func (t *transport) postJSON(ctx context.Context, endpoint string, headers map[string]string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var body []byte
	err = retry.Do(
		func() error {
			var attemptErr error
			body, attemptErr = t.postOnce(ctx, endpoint, headers, encoded)
			return attemptErr
		},
		retry.Context(ctx),
		retry.Attempts(t.attempts),
		retry.Delay(t.baseDelay),
		retry.MaxDelay(t.maxDelay),
		retry.DelayType(t.delayType),
		retry.RetryIf(retryableError),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (t *transport) postOnce(ctx context.Context, endpoint string, headers map[string]string, encoded []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}
	return body, nil
}

// delayType honors Retry-After when the server supplied one, otherwise falls
// back to exponential backoff.
func (t *transport) delayType(n uint, err error, config *retry.Config) time.Duration {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
		if statusErr.RetryAfter > t.maxDelay {
			return t.maxDelay
		}
		return statusErr.RetryAfter
	}
	return retry.BackOffDelay(n, err, config)
}

func retryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return false
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
