package install

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shohag/risebridge/internal/apperr"
	"github.com/shohag/risebridge/internal/models"
	"github.com/shohag/risebridge/internal/storage"
)

// CodeExchanger mints the first token of an installation.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, instanceID string) (*models.Installation, error)
}

// CallbackHandler completes an installation once the platform redirects back.
type CallbackHandler struct {
	exchanger CodeExchanger
	store     storage.InstallationStore
	log       zerolog.Logger
}

func NewCallbackHandler(exchanger CodeExchanger, store storage.InstallationStore, log zerolog.Logger) *CallbackHandler {
	return &CallbackHandler{exchanger: exchanger, store: store, log: log}
}

// HandleCallback exchanges a token for instanceID and stores it. The code is
// only checked for presence: the client-credentials grant does not consume it.
func (h *CallbackHandler) HandleCallback(ctx context.Context, code, instanceID string) (*models.Installation, error) {
	code = strings.TrimSpace(code)
	instanceID = strings.TrimSpace(instanceID)

	var missing []string
	if code == "" {
		missing = append(missing, "code")
	}
	if instanceID == "" {
		missing = append(missing, "instanceId")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", apperr.ErrMissingParameters, strings.Join(missing, ", "))
	}

	inst, err := h.exchanger.ExchangeCode(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if err := h.store.Put(ctx, inst); err != nil {
		return nil, fmt.Errorf("store installation %s: %w", instanceID, err)
	}

	h.log.Info().Str("instance_id", instanceID).Time("expires_at", inst.ExpiresAt).Msg("installation completed")
	return inst, nil
}
