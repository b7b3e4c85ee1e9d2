package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// DefaultTimeout bounds one camera request.
const DefaultTimeout = 5 * time.Second

// maxFrameBytes caps the payload read from the camera.
const maxFrameBytes = 16 << 20

// HTTPSource fetches frames with a GET request, e.g. an ESP32-CAM /capture endpoint.
type HTTPSource struct {
	url     string
	timeout time.Duration
	client  *http.Client
	clock   clock.Clock
}

// HTTPOption customizes an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) { s.client = c }
}

// WithClock replaces the clock used to timestamp frames.
func WithClock(c clock.Clock) HTTPOption {
	return func(s *HTTPSource) { s.clock = c }
}

// NewHTTPSource creates an HTTP frame source.
//
// Arguments:
//   - url: The capture endpoint.
//   - timeout: The per-request timeout. Zero or negative uses DefaultTimeout.
//   - opts: Optional overrides.
//
// Returns:
//   - *HTTPSource: The source.
func NewHTTPSource(url string, timeout time.Duration, opts ...HTTPOption) *HTTPSource {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &HTTPSource{
		url:     url,
		timeout: timeout,
		client:  http.DefaultClient,
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// URL returns the capture endpoint.
func (s *HTTPSource) URL() string {
	return s.url
}

// Fetch performs one GET request and decodes the body.
//
// Arguments:
//   - ctx: The parent context. The request is additionally bounded by the source timeout.
//
// Returns:
//   - *Frame: The decoded frame.
//   - error: ErrTransport, ErrStatus or ErrDecode, wrapped with detail.
func (s *HTTPSource) Fetch(ctx context.Context) (*Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, errors.Wrapf(ErrTransport, "build request: %v", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrTransport, "GET %s: %v", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, errors.Wrap(ErrStatus, fmt.Sprintf("GET %s: %s", s.url, resp.Status))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return nil, errors.Wrapf(ErrTransport, "read body: %v", err)
	}

	return decodeFrame(data, s.url, s.clock.Now())
}
