// Package refresh renews stale installation tokens in bulk, either once on
// operator request or periodically when a refresh interval is configured.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/shohag/risebridge/internal/models"
	"github.com/shohag/risebridge/internal/storage"
)

// TokenRefresher is the subset of token.Manager the refresher needs.
type TokenRefresher interface {
	Refresh(ctx context.Context, instanceID string) (*models.Installation, error)
	Expired(inst *models.Installation) bool
}

type Result struct {
	Checked   int      `json:"checked"`
	Refreshed int      `json:"refreshed"`
	Failed    []string `json:"failed,omitempty"`
}

type Refresher struct {
	store   storage.InstallationStore
	tokens  TokenRefresher
	workers int
	log     zerolog.Logger
	stop    chan struct{}
	wg      sync.WaitGroup
}

func New(store storage.InstallationStore, tokens TokenRefresher, workers int, log zerolog.Logger) *Refresher {
	if workers <= 0 {
		workers = 4
	}
	return &Refresher{
		store:   store,
		tokens:  tokens,
		workers: workers,
		log:     log,
		stop:    make(chan struct{}),
	}
}

// RefreshStale refreshes every expired installation with bounded concurrency.
// Failures are collected per instance and do not abort the run.
func (r *Refresher) RefreshStale(ctx context.Context) (*Result, error) {
	installations, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	result := &Result{Checked: len(installations)}

	p := pool.New().WithMaxGoroutines(r.workers)
	for _, inst := range installations {
		inst := inst
		if !r.tokens.Expired(&inst) {
			continue
		}
		p.Go(func() {
			_, err := r.tokens.Refresh(ctx, inst.InstanceID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.log.Warn().Err(err).Str("instance_id", inst.InstanceID).Msg("refresh failed")
				result.Failed = append(result.Failed, inst.InstanceID)
				return
			}
			result.Refreshed++
		})
	}
	p.Wait()

	r.log.Info().
		Int("checked", result.Checked).
		Int("refreshed", result.Refreshed).
		Int("failed", len(result.Failed)).
		Msg("stale token refresh finished")
	return result, nil
}

// Start runs RefreshStale every interval until Stop or ctx is done.
func (r *Refresher) Start(ctx context.Context, interval time.Duration) {
	r.log.Info().Dur("interval", interval).Int("workers", r.workers).Msg("starting background token refresh")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop(ctx, interval)
	}()
}

func (r *Refresher) Stop() {
	close(r.stop)
	r.wg.Wait()
	r.log.Info().Msg("background token refresh stopped")
}

func (r *Refresher) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RefreshStale(ctx); err != nil {
				r.log.Error().Err(err).Msg("failed to list installations for refresh")
			}
		}
	}
}
