package service

import (
	"context"
	"errors"
	"time"
)

type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: 5 * time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2.0,
	}
}

// SetupWithRetry repeats Setup while it reports ErrNotReady, backing off
// exponentially. Any other error, or a cancelled ctx, ends the loop.
func (s *Service) SetupWithRetry(ctx context.Context, cfg RetryConfig) error {
	delay := cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		err := s.Setup(ctx)
		if err == nil || !errors.Is(err, ErrNotReady) {
			return err
		}
		s.logger.Warn("setup not ready, retrying", "attempt", attempt, "delay", delay.String(), "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}
