package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/shohag/risebridge/internal/storage"
)

// AppInstalledData is the inner payload of an AppInstalled event.
type AppInstalledData struct {
	AppID            string `json:"appId"`
	OriginInstanceID string `json:"originInstanceId"`
}

var errNoStoredToken = errors.New("no token stored for instance")

// ConfirmInstalled returns a hook that logs the install payload and reports
// an instance whose callback has not stored a token yet.
func ConfirmInstalled(store storage.InstallationStore, log zerolog.Logger) InstalledHook {
	return func(ctx context.Context, ev *Event) error {
		var data AppInstalledData
		if err := ev.DecodeData(&data); err != nil {
			return fmt.Errorf("decode AppInstalled data: %w", err)
		}

		inst, err := store.Get(ctx, ev.InstanceID)
		if err != nil {
			return fmt.Errorf("load installation %s: %w", ev.InstanceID, err)
		}

		log.Info().
			Str("instance_id", ev.InstanceID).
			Str("app_id", data.AppID).
			Str("origin_instance_id", data.OriginInstanceID).
			Bool("token_stored", inst != nil).
			Msg("app installed")

		if inst == nil {
			return fmt.Errorf("%s: %w", ev.InstanceID, errNoStoredToken)
		}
		return nil
	}
}
