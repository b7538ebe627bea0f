package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/Nicouicich/savium-backend-sub002/internal/common/logging"
	"github.com/Nicouicich/savium-backend-sub002/internal/store"
)

// WhitelistEntry marks an identifier that bypasses all admission checks
type WhitelistEntry struct {
	Identifier string    `json:"identifier"`
	AddedAt    time.Time `json:"added_at"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

// Whitelist manages identifiers exempt from rate limiting
type Whitelist struct {
	store  *store.Client
	logger logging.Logger
	now    func() time.Time
}

// NewWhitelist creates a whitelist backed by the counter store
func NewWhitelist(storeClient *store.Client, logger logging.Logger) *Whitelist {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Whitelist{
		store:  storeClient,
		logger: logger,
		now:    time.Now,
	}
}

// Add whitelists an identifier. A zero ttl means the entry never
// expires on its own.
func (w *Whitelist) Add(ctx context.Context, identifier string, ttl time.Duration) error {
	now := w.now()
	entry := WhitelistEntry{
		Identifier: identifier,
		AddedAt:    now,
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	if err := w.store.Set(ctx, whitelistKey(identifier), entry, ttl); err != nil {
		return fmt.Errorf("failed to whitelist %s: %w", identifier, err)
	}

	w.logger.Info("identifier whitelisted",
		logging.String("identifier", identifier),
		logging.Duration("ttl", ttl),
	)
	return nil
}

// Remove drops an identifier from the whitelist
func (w *Whitelist) Remove(ctx context.Context, identifier string) error {
	if err := w.store.Delete(ctx, whitelistKey(identifier)); err != nil {
		return fmt.Errorf("failed to remove %s from whitelist: %w", identifier, err)
	}

	w.logger.Info("identifier removed from whitelist",
		logging.String("identifier", identifier),
	)
	return nil
}

// Contains reports whether an identifier is whitelisted. Store errors
// count as not whitelisted, so an unreachable store only means the
// normal checks run.
func (w *Whitelist) Contains(ctx context.Context, identifier string) bool {
	if identifier == "" {
		return false
	}

	exists, err := w.store.Exists(ctx, whitelistKey(identifier))
	if err != nil {
		w.logger.Debug("whitelist lookup failed",
			logging.String("identifier", identifier),
			logging.Any("error", err.Error()),
		)
		return false
	}
	return exists
}

func whitelistKey(identifier string) string {
	return "whitelist:" + identifier
}
