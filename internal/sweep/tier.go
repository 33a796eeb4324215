package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-loyalty/magpie/internal/domain"
)

// TierSweep re-evaluates every member's tier against the threshold ladder
// using the current month's activity. Unlike the award path, this pass can
// lower a tier. Per-member failures are logged and skipped.
type TierSweep struct {
	repo     domain.Repository
	activity domain.ActivityProvider
	logger   *slog.Logger
	now      func() time.Time
}

// NewTierSweep creates the sweep.
func NewTierSweep(repo domain.Repository, activity domain.ActivityProvider, logger *slog.Logger) *TierSweep {
	if logger == nil {
		logger = slog.Default()
	}
	return &TierSweep{
		repo:     repo,
		activity: activity,
		logger:   logger,
		now:      time.Now,
	}
}

// Run performs one tier evaluation pass over all members. Returns the number
// of members whose tier changed.
func (s *TierSweep) Run(ctx context.Context) (int, error) {
	thresholds, err := s.repo.ListTierThresholds(ctx)
	if err != nil {
		return 0, err
	}
	if len(thresholds) == 0 {
		s.logger.Info("tier evaluation skipped, no thresholds configured")
		return 0, nil
	}

	members, err := s.repo.ListMembers(ctx)
	if err != nil {
		return 0, err
	}

	// Current calendar month.
	now := s.now().UTC()
	period := now.Format("2006-01")

	s.logger.Info("tier evaluation started",
		"members", len(members),
		"period", period,
	)

	changed := 0
	for _, member := range members {
		wasChanged, err := s.evaluateMember(ctx, member, thresholds, period, now)
		if err != nil {
			s.logger.Error("tier evaluation failed for member",
				"member_id", member.ID,
				"error", err,
			)
			continue
		}
		if wasChanged {
			changed++
		}
	}

	s.logger.Info("tier evaluation finished", "changed", changed)
	return changed, nil
}

// evaluateMember assigns the tier of the last threshold the member qualifies
// for, scanning in ascending priority order. Members qualifying for nothing
// drop to BRONZE. The evaluation timestamp is recorded either way.
func (s *TierSweep) evaluateMember(ctx context.Context, member *domain.Member, thresholds []*domain.TierThreshold, period string, now time.Time) (bool, error) {
	summary, err := s.activity.GetSummary(ctx, member.ID, period)
	if err != nil {
		return false, err
	}

	tier := domain.TierBronze
	for _, th := range thresholds {
		if summary.TotalAmount >= th.MinMonthlyAmount &&
			summary.TransactionCount >= th.MinMonthlyTransactionCount {
			tier = th.TargetTier
		}
	}

	changed := member.Tier != tier
	if changed {
		s.logger.Info("member tier changed by monthly evaluation",
			"member_id", member.ID,
			"from", member.Tier,
			"to", tier,
			"monthly_amount", summary.TotalAmount,
			"monthly_count", summary.TransactionCount,
		)
		member.Tier = tier
	}
	member.LastTierEvaluation = &now

	if err := s.repo.UpdateMember(ctx, member); err != nil {
		return false, err
	}
	return changed, nil
}
