package accounts

import (
	"context"
	"log/slog"
	"time"

	"quay/cmd/identity"
)

// Sweeper periodically purges expired login tokens from every identity
// record in one bulk store operation.
//
// The cutoff predicate is age-only, so a sweep is safe under concurrent
// logins (freshly minted tokens are never older than the cutoff) and
// idempotent: re-running with the same or a later now removes nothing
// beyond newly-aged tokens. Failures are operational — logged, then retried
// on the next cycle.
type Sweeper struct {
	log      *slog.Logger
	store    identity.Store
	interval time.Duration
	lifetime time.Duration

	now func() time.Time
}

// NewSweeper constructs a Sweeper from the accounts configuration.
func NewSweeper(log *slog.Logger, store identity.Store, cfg Config) *Sweeper {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}
	lifetime := cfg.LoginTokenLifetime
	if lifetime <= 0 {
		lifetime = DefaultConfig().LoginTokenLifetime
	}
	return &Sweeper{log: log, store: store, interval: interval, lifetime: lifetime}
}

// Run blocks, sweeping on the configured cadence until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.log.Info("sweep.start", "interval", s.interval.String(), "token_lifetime", s.lifetime.String())

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweep.stop")
			return
		case <-t.C:
			s.sweepOnce(ctx)
		}
	}
}

// sweepOnce performs one sweep cycle.
func (s *Sweeper) sweepOnce(ctx context.Context) {
	cutoff := s.clock().Add(-s.lifetime)

	removed, err := s.store.SweepLoginTokens(ctx, cutoff)
	if err != nil {
		s.log.Error("sweep.fail", "err", err)
		return
	}

	metricSweepRuns.Inc()
	metricSweptTokens.Add(float64(removed))

	if removed > 0 {
		s.log.Info("sweep.run", "removed", removed, "cutoff", cutoff)
	}
}

func (s *Sweeper) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}
