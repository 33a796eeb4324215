// Package ledger credits earned points to member balances. Every award is an
// append-only ledger entry with its own expiry, applied exactly once per
// transaction.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-loyalty/magpie/internal/domain"
	"github.com/opensource-loyalty/magpie/internal/repository"
)

// cacheTTL is how long refreshed member records stay cached after an award.
const cacheTTL = 5 * time.Minute

// welcomeBonus is the balance granted by a reset.
const welcomeBonus = 500

// Service applies point awards and resets. All balance mutations run inside
// one repository transaction per award.
type Service struct {
	repo   domain.Repository
	cache  domain.Cache
	bus    domain.EventBus
	logger *slog.Logger
	now    func() time.Time

	sub domain.Subscription
}

// New creates the ledger service. Cache may be nil.
func New(repo domain.Repository, cache domain.Cache, bus domain.EventBus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		cache:  cache,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// Start subscribes to points-earned events.
func (s *Service) Start(ctx context.Context) error {
	sub, err := s.bus.Subscribe(ctx, domain.TopicPointsEarned, s.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicPointsEarned, err)
	}
	s.sub = sub
	s.logger.Info("ledger started", "topic", domain.TopicPointsEarned)
	return nil
}

// Stop unsubscribes.
func (s *Service) Stop() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
}

func (s *Service) handle(ctx context.Context, msg *domain.Message) error {
	var evt domain.PointsEarnedEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		s.logger.Warn("dropping malformed points event",
			"message_id", msg.ID,
			"error", err,
		)
		return nil
	}
	return s.AwardPoints(ctx, &evt)
}

// AwardPoints credits an award to the member. Duplicate deliveries for the
// same transaction are skipped; the balance update, ledger entry, and dedup
// marker commit atomically.
func (s *Service) AwardPoints(ctx context.Context, evt *domain.PointsEarnedEvent) error {
	if evt.MemberID == 0 || evt.PointsEarned <= 0 {
		return nil
	}

	processed, err := s.repo.IsTransactionProcessed(ctx, evt.TransactionID)
	if err != nil {
		return fmt.Errorf("failed to check dedup marker: %w", err)
	}
	if processed {
		s.logger.Info("skipping already processed transaction",
			"transaction_id", evt.TransactionID,
			"member_id", evt.MemberID,
		)
		return nil
	}

	now := s.now().UTC()
	expiry := now.AddDate(0, s.expirationMonths(ctx), 0)

	var updated *domain.Member
	err = s.repo.WithTx(ctx, func(tx domain.Repository) error {
		member, err := tx.GetMember(ctx, evt.MemberID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				s.logger.Warn("award for unknown member dropped",
					"member_id", evt.MemberID,
					"transaction_id", evt.TransactionID,
				)
				return nil
			}
			return err
		}

		member.TotalPoints += evt.PointsEarned
		member.LifetimePoints += evt.PointsEarned

		// Lifetime points can only ever raise the tier here. Monthly
		// re-tiering is the only path that lowers it.
		if candidate := domain.LadderTier(member.LifetimePoints); candidate.Rank() > member.Tier.Rank() {
			s.logger.Info("member tier raised",
				"member_id", member.ID,
				"from", member.Tier,
				"to", candidate,
			)
			member.Tier = candidate
		}

		if err := tx.UpdateMember(ctx, member); err != nil {
			return err
		}

		txID := evt.TransactionID
		entry := &domain.PointTransaction{
			MemberID:      member.ID,
			Points:        evt.PointsEarned,
			EarnedDate:    now,
			ExpiryDate:    expiry,
			Status:        domain.PointStatusActive,
			TransactionID: &txID,
			Reason:        evt.Reason,
		}
		if err := tx.SavePointTransaction(ctx, entry); err != nil {
			return err
		}

		if err := tx.MarkTransactionProcessed(ctx, evt.TransactionID); err != nil {
			return err
		}

		updated = member
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to award points: %w", err)
	}

	if updated != nil {
		s.refreshCache(ctx, updated)
		s.logger.Info("points awarded",
			"member_id", updated.ID,
			"transaction_id", evt.TransactionID,
			"points", evt.PointsEarned,
			"total_points", updated.TotalPoints,
			"tier", updated.Tier,
		)
	}

	return nil
}

// ResetMemberPoints wipes a member's ledger and restores the welcome state:
// a 500 point balance, BRONZE tier, and a fresh Welcome Bonus entry.
func (s *Service) ResetMemberPoints(ctx context.Context, memberID int64) error {
	now := s.now().UTC()
	expiry := now.AddDate(0, s.expirationMonths(ctx), 0)

	var updated *domain.Member
	err := s.repo.WithTx(ctx, func(tx domain.Repository) error {
		member, err := tx.GetMember(ctx, memberID)
		if err != nil {
			return err
		}

		if err := tx.DeletePointTransactionsByMember(ctx, memberID); err != nil {
			return err
		}

		member.TotalPoints = welcomeBonus
		member.LifetimePoints = welcomeBonus
		member.Tier = domain.TierBronze
		if err := tx.UpdateMember(ctx, member); err != nil {
			return err
		}

		entry := &domain.PointTransaction{
			MemberID:   memberID,
			Points:     welcomeBonus,
			EarnedDate: now,
			ExpiryDate: expiry,
			Status:     domain.PointStatusActive,
			Reason:     "Welcome Bonus",
		}
		if err := tx.SavePointTransaction(ctx, entry); err != nil {
			return err
		}

		updated = member
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reset member points: %w", err)
	}

	s.refreshCache(ctx, updated)
	s.logger.Info("member points reset", "member_id", memberID)
	return nil
}

// expirationMonths reads the active expiration config, falling back to the
// default when none is configured or the read fails.
func (s *Service) expirationMonths(ctx context.Context) int {
	cfg, err := s.repo.ActiveExpirationConfig(ctx)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("failed to read expiration config, using default",
				"error", err,
			)
		}
		return domain.DefaultExpirationMonths
	}
	if cfg.ExpirationMonths <= 0 {
		return domain.DefaultExpirationMonths
	}
	return cfg.ExpirationMonths
}

func (s *Service) refreshCache(ctx context.Context, member *domain.Member) {
	if s.cache == nil || member == nil {
		return
	}
	if err := s.cache.SetMember(ctx, member, cacheTTL); err != nil {
		s.logger.Debug("failed to refresh member cache",
			"member_id", member.ID,
			"error", err,
		)
	}
}
