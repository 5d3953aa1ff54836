package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shohag/risebridge/internal/apperr"
)

const grantClientCredentials = "client_credentials"

// Response is the decoded body of a successful token endpoint call.
type Response struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Exchanger obtains an access token for one installation.
type Exchanger interface {
	Exchange(ctx context.Context, instanceID string) (*Response, error)
}

type ClientConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Client performs client-credentials exchanges against the platform token endpoint.
type Client struct {
	cfg    ClientConfig
	client *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	InstanceID   string `json:"instance_id"`
}

// Exchange sends one token request. It never retries.
func (c *Client) Exchange(ctx context.Context, instanceID string) (*Response, error) {
	if strings.TrimSpace(c.cfg.TokenURL) == "" {
		return nil, &apperr.UpstreamAuthError{Err: errors.New("token url missing")}
	}

	payload, err := json.Marshal(tokenRequest{
		GrantType:    grantClientCredentials,
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		InstanceID:   instanceID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if apperr.IsTimeout(err) {
			return nil, fmt.Errorf("token exchange for %s: %w", instanceID, apperr.ErrUpstreamTimeout)
		}
		return nil, &apperr.UpstreamAuthError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if apperr.IsTimeout(err) {
			return nil, fmt.Errorf("read token response for %s: %w", instanceID, apperr.ErrUpstreamTimeout)
		}
		return nil, &apperr.UpstreamAuthError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read token response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apperr.UpstreamAuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &apperr.UpstreamAuthError{StatusCode: resp.StatusCode, Body: string(body), Err: fmt.Errorf("decode token response: %w", err)}
	}
	if out.AccessToken == "" {
		return nil, &apperr.UpstreamAuthError{StatusCode: resp.StatusCode, Body: string(body), Err: errors.New("token response has no access_token")}
	}
	if out.TokenType == "" {
		out.TokenType = "Bearer"
	}
	return &out, nil
}
