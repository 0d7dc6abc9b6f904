package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/GTDGit/conversion_api/internal/service"
	"github.com/GTDGit/conversion_api/internal/utils"
)

// TokenRefresher is the part of the token manager the worker drives.
type TokenRefresher interface {
	Refresh(ctx context.Context) (*service.RefreshResult, error)
}

// TokenRefreshWorker refreshes the token pair on a fixed period with bounded retries.
type TokenRefreshWorker struct {
	refresher TokenRefresher
	task      *PeriodicTask
}

// NewTokenRefreshWorker constructs a TokenRefreshWorker.
func NewTokenRefreshWorker(refresher TokenRefresher, interval time.Duration, policy RetryPolicy, clock Clock, runOnStart bool) *TokenRefreshWorker {
	w := &TokenRefreshWorker{refresher: refresher}
	w.task = &PeriodicTask{
		Name:           "token-refresh",
		Period:         interval,
		Policy:         policy,
		Clock:          clock,
		RunImmediately: runOnStart,
		Run:            w.run,
		OnExhausted: func(attempts int, err error) {
			log.Error().Err(err).
				Int("attempts", attempts).
				Dur("next_in", interval).
				Msg("Token refresh retries exhausted, manual intervention required")
		},
	}
	return w
}

// Start begins the refresh loop and listens for context cancellation.
func (w *TokenRefreshWorker) Start(ctx context.Context) {
	log.Info().
		Dur("interval", w.task.Period).
		Int("max_retries", w.task.Policy.MaxRetries).
		Dur("retry_delay", w.task.Policy.Delay).
		Msg("Starting token refresh worker")

	w.task.Start(ctx)
	log.Info().Msg("Token refresh worker stopped")
}

func (w *TokenRefreshWorker) run(ctx context.Context) error {
	res, err := w.refresher.Refresh(ctx)
	if errors.Is(err, utils.ErrRefreshInProgress) {
		// someone else is spending the refresh token right now
		log.Info().Msg("Token refresh already in progress, skipping")
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("Token refresh attempt failed")
		return err
	}
	log.Info().Time("refreshed_at", res.RefreshedAt).Int("expires_in", res.ExpiresIn).Msg("Scheduled token refresh succeeded")
	return nil
}
