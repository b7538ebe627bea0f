// Package ratelimit implements fixed-window rate limiting, abuse
// escalation and whitelisting on top of the shared counter store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/Nicouicich/savium-backend-sub002/internal/common/logging"
	"github.com/Nicouicich/savium-backend-sub002/internal/store"
)

// WindowConfig describes one fixed-window limit
type WindowConfig struct {
	Window      time.Duration `json:"window"`
	MaxRequests int           `json:"max_requests"`
	KeyPrefix   string        `json:"key_prefix"`
}

// Result is the verdict of a single rate-limit check
type Result struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
	Total     int64     `json:"total"`
}

// Engine computes fixed-window counters. Windows are aligned to
// floor(now/window), so a burst straddling a window boundary can see up
// to twice the limit; that is an accepted property of fixed windows,
// not a defect.
type Engine struct {
	store   *store.Client
	logger  logging.Logger
	enabled bool
	now     func() time.Time
}

// NewEngine creates a rate-limit engine. When enabled is false every
// check passes with full remaining quota.
func NewEngine(storeClient *store.Client, logger logging.Logger, enabled bool) *Engine {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Engine{
		store:   storeClient,
		logger:  logger,
		enabled: enabled,
		now:     time.Now,
	}
}

// Check increments the window counter for identifier and returns the
// verdict. Store failures fail open: the request is allowed with full
// remaining quota and the error is logged, never surfaced.
func (e *Engine) Check(ctx context.Context, identifier string, cfg WindowConfig) Result {
	if !e.enabled {
		return Result{
			Allowed:   true,
			Limit:     cfg.MaxRequests,
			Remaining: cfg.MaxRequests,
			ResetTime: e.now().Add(cfg.Window),
		}
	}

	windowMs := cfg.Window.Milliseconds()
	if windowMs <= 0 {
		// a window that cannot hold a request is a config mistake;
		// treat it like a disabled check rather than dividing by zero
		e.logger.Warn("rate limit config has no window, allowing request",
			logging.String("key_prefix", cfg.KeyPrefix),
		)
		return Result{
			Allowed:   true,
			Limit:     cfg.MaxRequests,
			Remaining: cfg.MaxRequests,
			ResetTime: e.now(),
		}
	}
	nowMs := e.now().UnixMilli()
	windowStart := nowMs - nowMs%windowMs
	resetTime := time.UnixMilli(windowStart + windowMs)

	key := fmt.Sprintf("%s:%s:%d", cfg.KeyPrefix, identifier, windowStart)

	count, err := e.store.IncrementWithTTL(ctx, key, ttlFor(cfg.Window))
	if err != nil {
		e.logger.Warn("rate limit check failed, allowing request",
			logging.String("identifier", identifier),
			logging.String("key_prefix", cfg.KeyPrefix),
			logging.Any("error", err.Error()),
		)
		return Result{
			Allowed:   true,
			Limit:     cfg.MaxRequests,
			Remaining: cfg.MaxRequests,
			ResetTime: resetTime,
		}
	}

	remaining := cfg.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   count <= int64(cfg.MaxRequests),
		Limit:     cfg.MaxRequests,
		Remaining: remaining,
		ResetTime: resetTime,
		Total:     count,
	}
}

// ClearLimits removes every rate window belonging to an identifier.
// Maintenance hook for the admin surface.
func (e *Engine) ClearLimits(ctx context.Context, identifier string) (int, error) {
	deleted, err := e.store.DeletePattern(ctx, fmt.Sprintf("rate:*:%s:*", identifier))
	if err != nil {
		return deleted, fmt.Errorf("failed to clear rate limits for %s: %w", identifier, err)
	}

	e.logger.Info("rate limits cleared",
		logging.String("identifier", identifier),
		logging.Int("windows_deleted", deleted),
	)
	return deleted, nil
}

// ttlFor rounds a window up to whole seconds for the store expiry
func ttlFor(window time.Duration) time.Duration {
	secs := (window + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}
