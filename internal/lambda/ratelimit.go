package lambda

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Provider request pacing.
const (
	MinRequestInterval = time.Second
	MinLaunchInterval  = 12 * time.Second
)

// rateLimiter spaces all requests by MinRequestInterval and launches by
// MinLaunchInterval.
type rateLimiter struct {
	general *rate.Limiter
	launch  *rate.Limiter
}

func newRateLimiter(general, launch time.Duration) *rateLimiter {
	return &rateLimiter{
		general: rate.NewLimiter(rate.Every(general), 1),
		launch:  rate.NewLimiter(rate.Every(launch), 1),
	}
}

func (r *rateLimiter) wait(ctx context.Context, path string) error {
	if path == launchPath {
		if err := r.launch.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit launch: %w", err)
		}
	}
	if err := r.general.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}
