// Package activity supplies member activity summaries for scoped rule bounds
// and tier evaluation.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-loyalty/magpie/internal/domain"
)

// summaryTTL bounds staleness of cached aggregates. Summaries feed rule
// bounds and tier evaluation, neither of which needs to-the-second accuracy.
const summaryTTL = time.Minute

// SummaryStore is the repository slice the service reads aggregates from.
type SummaryStore interface {
	GetActivitySummary(ctx context.Context, memberID int64, since, until time.Time) (*domain.ActivitySummary, error)
}

// Service computes activity summaries over the transaction store with a
// short-TTL cache in front. Implements domain.ActivityProvider.
type Service struct {
	store  SummaryStore
	cache  domain.Cache
	logger *slog.Logger
	now    func() time.Time
}

// New creates an activity service. The cache may be nil.
func New(store SummaryStore, cache domain.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// GetSummary returns the member's transaction count and total amount for a
// period. Period is MONTHLY, QUARTERLY, or a specific month in YYYY-MM form.
// A member with no transactions in the period gets a zero-valued summary.
func (s *Service) GetSummary(ctx context.Context, memberID int64, period string) (*domain.ActivitySummary, error) {
	since, until, err := s.periodBounds(period)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("activity:%d:%s", memberID, period)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, key); err == nil && data != nil {
			var summary domain.ActivitySummary
			if err := json.Unmarshal(data, &summary); err == nil {
				return &summary, nil
			}
		}
	}

	summary, err := s.store.GetActivitySummary(ctx, memberID, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to compute activity summary: %w", err)
	}

	if s.cache != nil {
		if data, err := json.Marshal(summary); err == nil {
			if err := s.cache.Set(ctx, key, data, summaryTTL); err != nil {
				s.logger.Debug("failed to cache activity summary", "member_id", memberID, "error", err)
			}
		}
	}

	return summary, nil
}

// periodBounds resolves a period name to a [since, until) window.
func (s *Service) periodBounds(period string) (time.Time, time.Time, error) {
	now := s.now().UTC()

	switch period {
	case domain.PeriodMonthly:
		return now.AddDate(0, -1, 0), now, nil
	case domain.PeriodQuarterly:
		return now.AddDate(0, -3, 0), now, nil
	}

	// Specific month: YYYY-MM
	month, err := time.Parse("2006-01", period)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid period %q: %w", period, err)
	}
	return month, month.AddDate(0, 1, 0), nil
}
