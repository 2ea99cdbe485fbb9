package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// TokenPurger deletes magic-link records that expired before cutoff.
type TokenPurger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeExpiredTokens removes login tokens that expired more than retention
// ago. Used tokens are kept for the same window so the audit trail can
// still resolve them.
func PurgeExpiredTokens(ctx context.Context, purger TokenPurger, retention time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-retention)
	n, err := purger.PurgeExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("purged expired login tokens")
	}
	return n, nil
}

// RunTokenPurge purges once immediately and then on every interval tick
// until ctx is cancelled.
func RunTokenPurge(ctx context.Context, purger TokenPurger, retention, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	log.Info().Dur("interval", interval).Dur("retention", retention).Msg("token purge worker started")

	purge := func() {
		if _, err := PurgeExpiredTokens(ctx, purger, retention, time.Now()); err != nil {
			log.Error().Err(err).Msg("token purge failed")
		}
	}
	purge()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("token purge worker stopped")
			return
		case <-ticker.C:
			purge()
		}
	}
}
