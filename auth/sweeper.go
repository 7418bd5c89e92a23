package auth

import (
	"context"
	"time"

	"github.com/workflo/cmsauth/internal/logutil"
	"github.com/workflo/cmsauth/store"
)

// SweepExpiredSessions deactivates every session that already expired.
// Running it again right away changes nothing.
func (s *Service) SweepExpiredSessions(ctx context.Context) (int64, error) {
	now := s.now()
	n, err := s.store.SweepExpired(ctx, now)
	if err != nil {
		return 0, s.fail(ctx, "sweep sessions", err)
	}
	if n > 0 {
		s.audit.Record(ctx, store.AuditEvent{
			Action:       ActionSessionsSwept,
			ResourceType: "session",
			Data:         map[string]interface{}{"count": n},
			CreatedAt:    now,
		})
	}
	log := logutil.GetOrDefault(ctx)
	log.Debug().Int64("sessions", n).Msg("Expired sessions swept")
	return n, nil
}

// SweepEvery runs SweepExpiredSessions every interval until ctx is done.
// Failures are logged and retried on the next tick.
func (s *Service) SweepEvery(ctx context.Context, interval time.Duration) {
	log := logutil.GetOrDefault(ctx).With().Str("sweeper.interval", interval.String()).Logger()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Info().Msg("Starting session sweeper")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Session sweeper stopped")
			return
		case <-ticker.C:
			_, err := s.SweepExpiredSessions(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Sweep failed")
			}
		}
	}
}
