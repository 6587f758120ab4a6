package jsonrpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"
)

const (
	contentTypeJSON = "application/json"

	// maxResponseSize bounds a single reply; exports of large libraries
	// are the biggest payloads seen in practice.
	maxResponseSize = 64 << 20

	defaultTimeout = 30 * time.Second
)

var errTransportClosed = errors.New("transport closed")

// ErrResponseTooLarge is returned for replies larger than the transport
// accepts.
var ErrResponseTooLarge = errors.New("response too large")

// StatusError is returned for replies with a non-2xx HTTP status.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return "unexpected HTTP status " + e.Status
}

// HTTPTransport posts envelopes to endpoints resolved against a base URL.
type HTTPTransport struct {
	base   *url.URL
	client *http.Client
	limit  int64
	closed atomic.Bool
}

// NewHTTPTransport returns a transport for baseURL. If client is nil a
// client with a 30 second timeout is used.
func NewHTTPTransport(baseURL string, client *http.Client) (*HTTPTransport, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPTransport{base: base, client: client, limit: maxResponseSize}, nil
}

// URL returns the absolute URL for endpoint.
func (t *HTTPTransport) URL(endpoint string) (string, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	return t.base.ResolveReference(ref).String(), nil
}

func (t *HTTPTransport) RoundTrip(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	if t.closed.Load() {
		return nil, errTransportClosed
	}
	u, err := t.URL(endpoint)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP POST: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain body to allow connection reuse.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, t.limit))
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	reply, err := io.ReadAll(io.LimitReader(resp.Body, t.limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading HTTP response: %w", err)
	}
	if int64(len(reply)) > t.limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, t.limit)
	}
	return reply, nil
}

// Close drops idle connections; later round trips fail.
func (t *HTTPTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.client.CloseIdleConnections()
	return nil
}
