package webhook

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Remover deletes an installation. token.Manager implements it so that a
// removal is ordered against any refresh of the same instance.
type Remover interface {
	Remove(ctx context.Context, instanceID string) error
}

// InstalledHook runs side effects for AppInstalled events.
type InstalledHook func(ctx context.Context, ev *Event) error

// Dispatcher applies verified events to stored installations.
type Dispatcher struct {
	remover     Remover
	log         zerolog.Logger
	onInstalled InstalledHook
}

func NewDispatcher(remover Remover, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{remover: remover, log: log}
}

// OnInstalled registers a side-effect hook for AppInstalled events.
func (d *Dispatcher) OnInstalled(hook InstalledHook) {
	d.onInstalled = hook
}

// Known reports whether eventType has a handler.
func Known(eventType string) bool {
	return eventType == EventAppInstalled || eventType == EventAppRemoved
}

// Dispatch handles ev. Unknown event types are logged and ignored.
// Removing an already absent installation is not an error, as deliveries may repeat.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) error {
	log := d.log.With().Str("event_type", ev.EventType).Str("instance_id", ev.InstanceID).Logger()

	switch ev.EventType {
	case EventAppRemoved:
		if err := d.remover.Remove(ctx, ev.InstanceID); err != nil {
			return fmt.Errorf("dispatch %s: %w", ev.EventType, err)
		}
		log.Info().Msg("installation removed")
	case EventAppInstalled:
		// The token was stored by the OAuth callback already.
		log.Info().Msg("installation confirmed")
		if d.onInstalled != nil {
			if err := d.onInstalled(ctx, ev); err != nil {
				// Side effects only; the delivery itself is still acknowledged.
				log.Warn().Err(err).Msg("installed hook failed")
			}
		}
	default:
		log.Debug().Msg("ignoring unhandled event type")
	}
	return nil
}
