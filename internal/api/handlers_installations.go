package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/shohag/risebridge/internal/models"
	"github.com/shohag/risebridge/internal/storage"
)

// Remover deletes an installation without racing its token refresh.
type Remover interface {
	Remove(ctx context.Context, instanceID string) error
}

type InstallationHandler struct {
	store   storage.InstallationStore
	remover Remover
	now     func() time.Time
	log     zerolog.Logger
}

func NewInstallationHandler(store storage.InstallationStore, remover Remover, now func() time.Time, log zerolog.Logger) *InstallationHandler {
	return &InstallationHandler{store: store, remover: remover, now: now, log: log}
}

// List never exposes access tokens.
func (h *InstallationHandler) List(w http.ResponseWriter, r *http.Request) {
	insts, err := h.store.List(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list installations")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list installations")
		return
	}

	now := h.now()
	views := make([]models.InstallationView, 0, len(insts))
	for i := range insts {
		views = append(views, insts[i].View(now))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *InstallationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instanceId")
	if err := h.remover.Remove(r.Context(), id); err != nil {
		h.log.Error().Err(err).Str("instance_id", id).Msg("delete installation")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete installation")
		return
	}
	h.log.Info().Str("instance_id", id).Msg("installation deleted by operator")
	w.WriteHeader(http.StatusNoContent)
}
