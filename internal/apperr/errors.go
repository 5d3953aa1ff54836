// Package apperr holds the error taxonomy shared by the token lifecycle,
// webhook and passthrough code paths, and its mapping onto HTTP responses.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrMissingParameters signals a request that lacks a required input.
	ErrMissingParameters = errors.New("missing parameters")
	// ErrMissingInstallToken signals an authorize request without the platform install token.
	ErrMissingInstallToken = errors.New("missing install token")
	// ErrInstallationNotFound signals that no token record exists for an instance.
	ErrInstallationNotFound = errors.New("installation not found")
	// ErrInvalidSignature signals a webhook body that failed verification or decoding.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUpstreamTimeout signals that a call to the platform ran past its deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")
)

// UpstreamAuthError wraps a failed call to the platform token endpoint.
type UpstreamAuthError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamAuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token endpoint: %v", e.Err)
	}
	return fmt.Sprintf("token endpoint returned status %d", e.StatusCode)
}

func (e *UpstreamAuthError) Unwrap() error { return e.Err }

// UpstreamAPIError wraps a failed passthrough call to the platform API.
type UpstreamAPIError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *UpstreamAPIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("platform api: %v", e.Err)
	}
	return fmt.Sprintf("platform api returned status %d", e.StatusCode)
}

func (e *UpstreamAPIError) Unwrap() error { return e.Err }

// Status maps err onto the HTTP status a JSON API response should carry.
func Status(err error) int {
	var authErr *UpstreamAuthError
	var apiErr *UpstreamAPIError

	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMissingParameters),
		errors.Is(err, ErrMissingInstallToken),
		errors.Is(err, ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, ErrInstallationNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &apiErr):
		// Remote 4xx/5xx is passed through; anything else is a bad gateway.
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 600 {
			return apiErr.StatusCode
		}
		return http.StatusBadGateway
	case errors.As(err, &authErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the stable machine-readable error code for err.
func Code(err error) string {
	var authErr *UpstreamAuthError
	var apiErr *UpstreamAPIError

	switch {
	case errors.Is(err, ErrMissingParameters):
		return "missing_parameters"
	case errors.Is(err, ErrMissingInstallToken):
		return "missing_token"
	case errors.Is(err, ErrInvalidSignature):
		return "webhook_verification_failed"
	case errors.Is(err, ErrInstallationNotFound):
		return "installation_not_found"
	case errors.Is(err, ErrUpstreamTimeout):
		return "upstream_timeout"
	case errors.As(err, &authErr):
		return "upstream_auth_error"
	case errors.As(err, &apiErr):
		return "upstream_api_error"
	default:
		return "internal_error"
	}
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
