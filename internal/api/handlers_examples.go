package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/shohag/risebridge/internal/platform"
)

// TokenSource yields a currently valid access token for an installation.
type TokenSource interface {
	ValidToken(ctx context.Context, instanceID string) (string, error)
}

type platformCall func(ctx context.Context, accessToken string) (*platform.Response, error)

// ExampleHandler demonstrates authenticated calls made on behalf of an installation.
type ExampleHandler struct {
	tokens   TokenSource
	platform *platform.Client
	log      zerolog.Logger
}

func NewExampleHandler(tokens TokenSource, client *platform.Client, log zerolog.Logger) *ExampleHandler {
	return &ExampleHandler{tokens: tokens, platform: client, log: log}
}

func (h *ExampleHandler) Account(w http.ResponseWriter, r *http.Request) {
	h.passthrough(w, r, "account", h.platform.GetAccount)
}

func (h *ExampleHandler) GiftCard(w http.ResponseWriter, r *http.Request) {
	h.passthrough(w, r, "gift_card", h.platform.CreateGiftCard)
}

func (h *ExampleHandler) Wallet(w http.ResponseWriter, r *http.Request) {
	h.passthrough(w, r, "wallet", h.platform.CreateWallet)
}

func (h *ExampleHandler) SalesChannels(w http.ResponseWriter, r *http.Request) {
	h.passthrough(w, r, "sales_channels", h.platform.ListSalesChannels)
}

func (h *ExampleHandler) passthrough(w http.ResponseWriter, r *http.Request, name string, call platformCall) {
	instanceID := chi.URLParam(r, "instanceId")
	log := h.log.With().Str("example", name).Str("instance_id", instanceID).Logger()

	accessToken, err := h.tokens.ValidToken(r.Context(), instanceID)
	if err != nil {
		log.Warn().Err(err).Msg("no valid token")
		writeAppError(w, err)
		return
	}

	resp, err := call(r.Context(), accessToken)
	if err != nil {
		log.Warn().Err(err).Msg("platform call failed")
		writeAppError(w, err)
		return
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}
