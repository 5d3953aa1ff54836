// Package token owns the access-token lifecycle of platform installations:
// the first client-credentials exchange on install and the lazy refresh
// of expired tokens on use.
package token

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/shohag/risebridge/internal/apperr"
	"github.com/shohag/risebridge/internal/metrics"
	"github.com/shohag/risebridge/internal/models"
	"github.com/shohag/risebridge/internal/storage"
)

// Manager issues and refreshes installation tokens.
//
// Refreshes for the same instance id are collapsed into a single in-flight
// exchange; every concurrent caller receives that exchange's result.
// A refresh and a Remove of the same instance id never overlap, so a
// removal cannot be undone by a refresh that started before it.
type Manager struct {
	store   storage.InstallationStore
	client  Exchanger
	margin  time.Duration
	now     func() time.Time
	log     zerolog.Logger
	flights singleflight.Group
	locks   *keyLock
}

type Option func(*Manager)

// WithNow overrides the clock.
func WithNow(fn func() time.Time) Option {
	return func(m *Manager) { m.now = fn }
}

// WithRefreshMargin treats tokens as expired margin before their expiry.
func WithRefreshMargin(margin time.Duration) Option {
	return func(m *Manager) {
		if margin > 0 {
			m.margin = margin
		}
	}
}

func NewManager(store storage.InstallationStore, client Exchanger, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
		log:    log,
		locks:  newKeyLock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ExchangeCode obtains the first token for instanceID. The record is
// returned, not stored; the caller decides whether to persist it.
func (m *Manager) ExchangeCode(ctx context.Context, instanceID string) (*models.Installation, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("exchange: %w", apperr.ErrMissingParameters)
	}

	resp, err := m.client.Exchange(ctx, instanceID)
	metrics.ObserveTokenExchange("install", err)
	if err != nil {
		m.log.Error().Err(err).Str("instance_id", instanceID).Msg("token exchange failed")
		return nil, err
	}

	now := m.now()
	m.log.Info().Str("instance_id", instanceID).Int64("expires_in", resp.ExpiresIn).Msg("token issued")
	return &models.Installation{
		InstanceID:  instanceID,
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		ExpiresAt:   now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ValidToken returns a usable access token for instanceID, refreshing and
// storing it first when the stored one has expired.
func (m *Manager) ValidToken(ctx context.Context, instanceID string) (string, error) {
	inst, err := m.store.Get(ctx, instanceID)
	if err != nil {
		return "", fmt.Errorf("load installation %s: %w", instanceID, err)
	}
	if inst == nil {
		return "", fmt.Errorf("%s: %w", instanceID, apperr.ErrInstallationNotFound)
	}
	if !inst.Expired(m.now(), m.margin) {
		return inst.AccessToken, nil
	}

	refreshed, err := m.refresh(ctx, instanceID, false)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Refresh re-exchanges the token of instanceID regardless of its expiry.
func (m *Manager) Refresh(ctx context.Context, instanceID string) (*models.Installation, error) {
	return m.refresh(ctx, instanceID, true)
}

// Remove deletes the installation of instanceID once any refresh in flight
// for it has finished. Removing an absent installation is not an error.
func (m *Manager) Remove(ctx context.Context, instanceID string) error {
	unlock := m.locks.Lock(instanceID)
	defer unlock()

	if err := m.store.Delete(ctx, instanceID); err != nil {
		return fmt.Errorf("remove installation %s: %w", instanceID, err)
	}
	return nil
}

// Expired reports whether inst is due for refresh under the manager's clock and margin.
func (m *Manager) Expired(inst *models.Installation) bool {
	return inst.Expired(m.now(), m.margin)
}

func (m *Manager) refresh(ctx context.Context, instanceID string, force bool) (*models.Installation, error) {
	ch := m.flights.DoChan(instanceID, func() (interface{}, error) {
		// Shared by every waiter, so it must outlive the first caller's cancellation.
		fctx := context.WithoutCancel(ctx)

		unlock := m.locks.Lock(instanceID)
		defer unlock()

		current, err := m.store.Get(fctx, instanceID)
		if err != nil {
			return nil, fmt.Errorf("load installation %s: %w", instanceID, err)
		}
		if current == nil {
			return nil, fmt.Errorf("%s: %w", instanceID, apperr.ErrInstallationNotFound)
		}
		if !force && !current.Expired(m.now(), m.margin) {
			return current, nil
		}

		resp, err := m.client.Exchange(fctx, instanceID)
		metrics.ObserveTokenExchange("refresh", err)
		if err != nil {
			m.log.Error().Err(err).Str("instance_id", instanceID).Msg("token refresh failed")
			return nil, err
		}

		now := m.now()
		updated := &models.Installation{
			InstanceID:  instanceID,
			AccessToken: resp.AccessToken,
			TokenType:   resp.TokenType,
			ExpiresAt:   now.Add(time.Duration(resp.ExpiresIn) * time.Second),
			CreatedAt:   current.CreatedAt,
			UpdatedAt:   now,
		}
		if err := m.store.Put(fctx, updated); err != nil {
			return nil, fmt.Errorf("store refreshed installation %s: %w", instanceID, err)
		}

		m.log.Info().
			Str("instance_id", instanceID).
			Time("expires_at", updated.ExpiresAt).
			Msg("token refreshed")
		return updated, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Installation), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
