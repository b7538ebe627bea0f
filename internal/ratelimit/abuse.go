package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/Nicouicich/savium-backend-sub002/internal/common/logging"
	"github.com/Nicouicich/savium-backend-sub002/internal/store"
)

// BanRecord is the durable record of a temporary ban
type BanRecord struct {
	Identifier string        `json:"identifier"`
	BannedAt   time.Time     `json:"banned_at"`
	Duration   time.Duration `json:"duration"`
	ExpiresAt  time.Time     `json:"expires_at"`
}

// BanStatus is the answer to a ban lookup
type BanStatus struct {
	Banned    bool      `json:"banned"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// escalations maps abuse counts to ban durations, most severe first.
// The first threshold met wins, so a count of 49 gets the 1-hour ban,
// never the 4-hour one.
var escalations = []struct {
	Threshold int64
	Ban       time.Duration
}{
	{Threshold: 50, Ban: 4 * time.Hour},
	{Threshold: 20, Ban: time.Hour},
	{Threshold: 10, Ban: 15 * time.Minute},
}

const abuseWindow = time.Hour

// Detector tracks per-identifier violation counts and escalates to
// time-boxed bans. Counters roll on a one-hour TTL refreshed by every
// violation; bans expire lazily on the first check past their deadline,
// so no background sweep is needed.
type Detector struct {
	store  *store.Client
	logger logging.Logger
	now    func() time.Time
}

// NewDetector creates an abuse detector backed by the counter store
func NewDetector(storeClient *store.Client, logger logging.Logger) *Detector {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Detector{
		store:  storeClient,
		logger: logger,
		now:    time.Now,
	}
}

// DetectAbuse records one denied admission for identifier on endpoint
// and applies the highest escalation threshold the new count meets.
// Returns the ban duration applied, or zero. Store failures are logged
// and swallowed; abuse accounting never blocks a request path.
func (d *Detector) DetectAbuse(ctx context.Context, identifier, endpoint string) time.Duration {
	key := fmt.Sprintf("abuse:%s:%s", identifier, endpoint)

	count, err := d.store.IncrementWithTTL(ctx, key, abuseWindow)
	if err != nil {
		d.logger.Warn("abuse counter increment failed",
			logging.String("identifier", identifier),
			logging.String("endpoint", endpoint),
			logging.Any("error", err.Error()),
		)
		return 0
	}

	for _, esc := range escalations {
		if count >= esc.Threshold {
			if err := d.TemporaryBan(ctx, identifier, esc.Ban); err != nil {
				d.logger.Error("failed to apply ban", err,
					logging.String("identifier", identifier),
				)
				return 0
			}
			d.logger.Warn("abuse threshold reached, identifier banned",
				logging.String("identifier", identifier),
				logging.String("endpoint", endpoint),
				logging.Int64("violations", count),
				logging.Duration("ban", esc.Ban),
			)
			return esc.Ban
		}
	}

	return 0
}

// TemporaryBan writes a ban record for identifier lasting duration.
// Re-banning an already banned identifier replaces the record, which
// extends the ban from now.
func (d *Detector) TemporaryBan(ctx context.Context, identifier string, duration time.Duration) error {
	now := d.now()
	record := BanRecord{
		Identifier: identifier,
		BannedAt:   now,
		Duration:   duration,
		ExpiresAt:  now.Add(duration),
	}

	if err := d.store.Set(ctx, banKey(identifier), record, ttlFor(duration)); err != nil {
		return fmt.Errorf("failed to store ban record: %w", err)
	}
	return nil
}

// CheckSuspiciousActivity reports whether identifier is currently
// banned. Records past their deadline are deleted on read. Store errors
// fail open: an unreachable store never locks anyone out.
func (d *Detector) CheckSuspiciousActivity(ctx context.Context, identifier string) BanStatus {
	var record BanRecord
	found, err := d.store.GetJSON(ctx, banKey(identifier), &record)
	if err != nil {
		d.logger.Warn("ban lookup failed, treating as not banned",
			logging.String("identifier", identifier),
			logging.Any("error", err.Error()),
		)
		return BanStatus{}
	}
	if !found {
		return BanStatus{}
	}

	if !d.now().Before(record.ExpiresAt) {
		// Lazy expiry; the TTL usually beats us here
		if err := d.store.Delete(ctx, banKey(identifier)); err != nil {
			d.logger.Warn("failed to delete expired ban record",
				logging.String("identifier", identifier),
				logging.Any("error", err.Error()),
			)
		}
		return BanStatus{}
	}

	return BanStatus{Banned: true, ExpiresAt: record.ExpiresAt}
}

// Unban removes a ban record ahead of its expiry
func (d *Detector) Unban(ctx context.Context, identifier string) error {
	return d.store.Delete(ctx, banKey(identifier))
}

func banKey(identifier string) string {
	return "ban:" + identifier
}
