// ABOUTME: Reconnect loop around single agent sessions with capped exponential backoff.
// ABOUTME: A session that stayed up longer than the maximum delay resets the backoff.

package agent

import (
	"context"
	"math"
	"time"
)

// Backoff returns base * 2^attempt, capped at maxDelay.
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 32 {
		return maxDelay
	}
	delay := time.Duration(math.Pow(2, float64(attempt))) * base
	if delay > maxDelay || delay <= 0 {
		return maxDelay
	}
	return delay
}

// RunWithReconnect runs sessions until ctx is canceled, waiting between
// attempts. It returns nil on cancellation.
func (a *Agent) RunWithReconnect(ctx context.Context, base, maxDelay time.Duration) error {
	if base <= 0 {
		base = time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}

	attempt := 0
	for {
		start := time.Now()
		err := a.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(start) > maxDelay {
			attempt = 0
		}

		delay := Backoff(attempt, base, maxDelay)
		attempt++
		if err != nil {
			a.logger.Warn("session failed, reconnecting", "error", err, "attempt", attempt, "delay", delay)
		} else {
			a.logger.Info("session ended, reconnecting", "delay", delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}
