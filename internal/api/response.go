package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shohag/risebridge/internal/apperr"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeAppError renders err with the status and code of its apperr class.
// Upstream bodies are passed back in details.
func writeAppError(w http.ResponseWriter, err error) {
	resp := errorResponse{
		Error:   apperr.Code(err),
		Message: errorMessage(err),
	}

	var apiErr *apperr.UpstreamAPIError
	var authErr *apperr.UpstreamAuthError
	switch {
	case errors.As(err, &apiErr):
		resp.Details = upstreamDetails(apiErr.StatusCode, apiErr.Body)
	case errors.As(err, &authErr):
		resp.Details = upstreamDetails(authErr.StatusCode, []byte(authErr.Body))
	}

	writeJSON(w, apperr.Status(err), resp)
}

func errorMessage(err error) string {
	switch apperr.Code(err) {
	case "internal_error":
		return "internal error"
	default:
		return err.Error()
	}
}

type upstreamDetail struct {
	Status int `json:"status,omitempty"`
	Body   any `json:"body,omitempty"`
}

func upstreamDetails(status int, body []byte) *upstreamDetail {
	d := &upstreamDetail{Status: status}
	if len(body) == 0 {
		return d
	}
	if json.Valid(body) {
		d.Body = json.RawMessage(body)
	} else {
		d.Body = string(body)
	}
	return d
}
