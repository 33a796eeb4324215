// Package reward computes points for transactions: it builds evaluation
// facts, runs the rule evaluator, and publishes the resulting award.
package reward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-loyalty/magpie/internal/domain"
)

// ErrDependencyUnavailable marks fact-building failures caused by a backing
// service rather than by the event itself.
var ErrDependencyUnavailable = errors.New("dependency unavailable")

// memberTTL is how long member records stay cached for fact building.
const memberTTL = 5 * time.Minute

// MemberStore is the repository slice the fact builder reads members from.
type MemberStore interface {
	GetMember(ctx context.Context, id int64) (*domain.Member, error)
}

// FactBuilder assembles the evaluation facts for one transaction event:
// the transaction fact from the event and member record, and the activity
// fact from aggregate summaries.
type FactBuilder struct {
	members  MemberStore
	cache    domain.Cache
	activity domain.ActivityProvider
	logger   *slog.Logger
}

// NewFactBuilder creates a fact builder. Cache may be nil.
func NewFactBuilder(members MemberStore, cache domain.Cache, activity domain.ActivityProvider, logger *slog.Logger) *FactBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &FactBuilder{
		members:  members,
		cache:    cache,
		activity: activity,
		logger:   logger,
	}
}

// Build returns the transaction fact and activity fact for an event. Member
// lookup is best-effort: an unknown or unreadable member degrades to BRONZE
// defaults. An activity provider failure returns the transaction fact along
// with an ErrDependencyUnavailable error; callers decide whether to proceed
// without aggregates.
func (b *FactBuilder) Build(ctx context.Context, evt *domain.TransactionCreatedEvent) (*domain.TransactionFact, *domain.MemberActivityFact, error) {
	tier := string(domain.TierBronze)
	role := "CUSTOMER"

	if member := b.lookupMember(ctx, evt.MemberID); member != nil {
		tier = string(member.Tier)
	}

	fact := domain.NewTransactionFact(
		evt.MemberID, evt.TransactionID, evt.Amount,
		evt.PaymentMethod, evt.ProductCategory, tier, role,
	)

	if b.activity == nil {
		return fact, nil, nil
	}

	monthly, err := b.activity.GetSummary(ctx, evt.MemberID, domain.PeriodMonthly)
	if err != nil {
		return fact, nil, fmt.Errorf("%w: monthly summary: %v", ErrDependencyUnavailable, err)
	}
	quarterly, err := b.activity.GetSummary(ctx, evt.MemberID, domain.PeriodQuarterly)
	if err != nil {
		return fact, nil, fmt.Errorf("%w: quarterly summary: %v", ErrDependencyUnavailable, err)
	}

	activityFact := &domain.MemberActivityFact{
		MemberID:                  evt.MemberID,
		MonthlyTransactionCount:   monthly.TransactionCount,
		MonthlyTotalSpent:         monthly.TotalAmount,
		QuarterlyTransactionCount: quarterly.TransactionCount,
		QuarterlyTotalSpent:       quarterly.TotalAmount,

		// The lifetime-default pair mirrors the monthly aggregates; rules
		// without an explicit scope read these.
		TransactionCount: monthly.TransactionCount,
		TotalSpent:       monthly.TotalAmount,
	}

	return fact, activityFact, nil
}

// lookupMember reads the member through the cache, falling back to the store.
// Returns nil when the member cannot be resolved.
func (b *FactBuilder) lookupMember(ctx context.Context, memberID int64) *domain.Member {
	if b.cache != nil {
		if member, err := b.cache.GetMember(ctx, memberID); err == nil && member != nil {
			return member
		}
	}

	member, err := b.members.GetMember(ctx, memberID)
	if err != nil {
		b.logger.Warn("member lookup failed, using defaults",
			"member_id", memberID,
			"error", err,
		)
		return nil
	}

	if b.cache != nil {
		if err := b.cache.SetMember(ctx, member, memberTTL); err != nil {
			b.logger.Debug("failed to cache member", "member_id", memberID, "error", err)
		}
	}

	return member
}
