package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const updateRunPath = "v1/engine/update-run"

const defaultSinkTimeout = 30 * time.Second

// at most this much of a rejected response body ends up in StatusError
const maxErrorBody = 512

// HTTPSink posts updates as JSON to <internalAPIURL>v1/engine/update-run
// with the run's engine token as bearer credential.
type HTTPSink struct {
	client *http.Client
	url    string
	token  string
}

type SinkOption func(*HTTPSink)

func WithHTTPClient(c *http.Client) SinkOption {
	return func(s *HTTPSink) { s.client = c }
}

func NewHTTPSink(internalAPIURL, engineToken string, opts ...SinkOption) (*HTTPSink, error) {
	base := strings.TrimSpace(internalAPIURL)
	if base == "" {
		return nil, fmt.Errorf("internal api url is required")
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base + updateRunPath)
	if err != nil {
		return nil, fmt.Errorf("parse internal api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("internal api url must be http(s), got %q", u.Scheme)
	}

	s := &HTTPSink{
		client: &http.Client{Timeout: defaultSinkTimeout},
		url:    u.String(),
		token:  engineToken,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *HTTPSink) URL() string { return s.url }

func (s *HTTPSink) Deliver(ctx context.Context, u Update) error {
	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("%w: encode update: %w", ErrDeliveryFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		})
	}

	//drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
