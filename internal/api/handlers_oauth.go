package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/shohag/risebridge/internal/apperr"
	"github.com/shohag/risebridge/internal/install"
)

type OAuthHandler struct {
	redirector *install.Redirector
	callback   *install.CallbackHandler
	log        zerolog.Logger
}

func NewOAuthHandler(redirector *install.Redirector, callback *install.CallbackHandler, log zerolog.Logger) *OAuthHandler {
	return &OAuthHandler{redirector: redirector, callback: callback, log: log}
}

func (h *OAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	target, err := h.redirector.BuildAuthorizeURL(r.URL.Query().Get("token"))
	if err != nil {
		if errors.Is(err, apperr.ErrMissingInstallToken) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: apperr.Code(err)})
			return
		}
		h.log.Error().Err(err).Msg("build authorize url")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Callback accepts the parameters from the query string or a form body.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	inst, err := h.callback.HandleCallback(r.Context(), r.FormValue("code"), r.FormValue("instanceId"))
	if err != nil {
		if errors.Is(err, apperr.ErrMissingParameters) {
			writeError(w, http.StatusBadRequest, apperr.Code(err), err.Error())
			return
		}

		reqID := middleware.GetReqID(r.Context())
		h.log.Error().Err(err).
			Str("request_id", reqID).
			Str("instance_id", r.FormValue("instanceId")).
			Msg("installation callback failed")
		renderPage(w, http.StatusInternalServerError, "callback_failure.html", failurePage{RequestID: reqID})
		return
	}

	renderPage(w, http.StatusOK, "callback_success.html", successPage{
		InstanceID: inst.InstanceID,
		ExpiresAt:  inst.ExpiresAt,
	})
}
