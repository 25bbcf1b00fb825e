package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPSender posts evaluation requests to each oracle node's HTTP endpoint.
type HTTPSender struct {
	client *http.Client
	apiKey string
}

var _ Sender = (*HTTPSender)(nil)

// NewHTTPSender constructs an HTTP sender. A nil client gets a 10 second
// timeout default.
func NewHTTPSender(client *http.Client, apiKey string) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSender{client: client, apiKey: strings.TrimSpace(apiKey)}
}

// Send posts the request body as JSON to the job's endpoint. Any non-2xx
// response is a failed send.
func (s *HTTPSender) Send(ctx context.Context, req Request) error {
	endpoint, err := url.Parse(strings.TrimSpace(req.Endpoint))
	if err != nil {
		return fmt.Errorf("parse oracle endpoint: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("oracle request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("oracle endpoint %s returned status %d", req.Endpoint, resp.StatusCode)
	}
	return nil
}
