// Package limiter throttles repeated failed logins per (email, client address).
package limiter

import (
	"context"
	"time"
)

// Limiter controls login attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether a login for (email, ip) may proceed and, if not, for how long it is blocked.
	Allow(ctx context.Context, email, ip string) (bool, time.Duration, error)
	// Success clears the failure counter after a successful login.
	Success(ctx context.Context, email, ip string) error
	// Failure records a failed attempt and reports whether it triggered a block.
	Failure(ctx context.Context, email, ip string) (bool, time.Duration, error)
}

// Noop never blocks. Used when limiting is disabled in config.
type Noop struct{}

func (Noop) Allow(context.Context, string, string) (bool, time.Duration, error) { return true, 0, nil }
func (Noop) Success(context.Context, string, string) error                       { return nil }
func (Noop) Failure(context.Context, string, string) (bool, time.Duration, error) {
	return false, 0, nil
}
