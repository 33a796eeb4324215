// Package sweep holds the scheduled background passes: point expiration and
// monthly tier evaluation.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/opensource-loyalty/magpie/internal/domain"
	"github.com/opensource-loyalty/magpie/internal/repository"
)

// ExpirationSweep transitions overdue ACTIVE ledger entries to EXPIRED and
// deducts their points from member balances. Each entry is processed in its
// own transaction; one failing entry never blocks the rest.
type ExpirationSweep struct {
	repo   domain.Repository
	cache  domain.Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewExpirationSweep creates the sweep. Cache may be nil.
func NewExpirationSweep(repo domain.Repository, cache domain.Cache, logger *slog.Logger) *ExpirationSweep {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpirationSweep{
		repo:   repo,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// Run performs one expiration pass. Returns the number of entries expired.
// Running twice in a row is harmless: expired entries are no longer
// candidates.
func (s *ExpirationSweep) Run(ctx context.Context) (int, error) {
	asOf := s.now().UTC()

	candidates, err := s.repo.ListExpiredPointTransactions(ctx, asOf)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	s.logger.Info("expiration sweep started", "candidates", len(candidates))

	expired := 0
	for _, entry := range candidates {
		claimed, err := s.expireEntry(ctx, entry)
		if err != nil {
			s.logger.Error("failed to expire ledger entry",
				"entry_id", entry.ID,
				"member_id", entry.MemberID,
				"error", err,
			)
			continue
		}
		if claimed {
			expired++
		}
	}

	s.logger.Info("expiration sweep finished", "expired", expired)
	return expired, nil
}

// expireEntry transitions one entry and adjusts the member balance in a
// single transaction. Returns false when a concurrent sweep already claimed
// the entry, in which case the balance is left alone.
func (s *ExpirationSweep) expireEntry(ctx context.Context, entry *domain.PointTransaction) (bool, error) {
	var updated *domain.Member
	claimed := false
	err := s.repo.WithTx(ctx, func(tx domain.Repository) error {
		ok, err := tx.TransitionPointTransactionStatus(ctx, entry.ID, domain.PointStatusActive, domain.PointStatusExpired)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		claimed = true

		member, err := tx.GetMember(ctx, entry.MemberID)
		if err != nil {
			// The entry still expires when its member row is gone.
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}

		member.TotalPoints -= entry.Points
		if member.TotalPoints < 0 {
			member.TotalPoints = 0
		}
		member.ExpiredPoints += entry.Points

		if err := tx.UpdateMember(ctx, member); err != nil {
			return err
		}
		updated = member
		return nil
	})
	if err != nil {
		return false, err
	}

	if updated != nil && s.cache != nil {
		if err := s.cache.SetMember(ctx, updated, 5*time.Minute); err != nil {
			s.logger.Debug("failed to refresh member cache",
				"member_id", updated.ID,
				"error", err,
			)
		}
	}
	return claimed, nil
}
