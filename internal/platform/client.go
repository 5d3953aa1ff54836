// Package platform calls the remote platform REST API on behalf of an installation.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shohag/risebridge/internal/apperr"
)

const maxResponseSize = 1 << 20

// Response is a successful platform reply, kept verbatim.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Do sends body (JSON encoded, may be nil) to path with the installation's
// access token. Non-2xx replies become *apperr.UpstreamAPIError.
func (c *Client) Do(ctx context.Context, accessToken, method, path string, body any) (*Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build platform request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if apperr.IsTimeout(err) {
			return nil, fmt.Errorf("%s %s: %w", method, path, apperr.ErrUpstreamTimeout)
		}
		return nil, &apperr.UpstreamAPIError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if apperr.IsTimeout(err) {
			return nil, fmt.Errorf("%s %s: %w", method, path, apperr.ErrUpstreamTimeout)
		}
		return nil, &apperr.UpstreamAPIError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apperr.UpstreamAPIError{StatusCode: resp.StatusCode, Body: data}
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}
