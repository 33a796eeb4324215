package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-loyalty/magpie/internal/domain"
)

// SeedStore is the repository slice the seeder needs.
type SeedStore interface {
	CountRules(ctx context.Context) (int64, error)
	SaveRule(ctx context.Context, r *domain.Rule) error
}

// Seed installs the default rule set into an empty store. A store that
// already holds rules is left untouched.
func Seed(ctx context.Context, store SeedStore, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	count, err := store.CountRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to count rules: %w", err)
	}
	if count > 0 {
		return nil
	}

	minSpend := 100.0
	midSpendMax := 500.0
	defaults := []*domain.Rule{
		{
			RuleType:   domain.RuleTypeEvent,
			Name:       "Welcome Bonus",
			Conditions: domain.RuleConditions{EventType: "ONBOARDING"},
			Actions: []domain.RuleAction{
				{Type: domain.ActionAwardPoints, Points: 500, Reason: "Welcome Bonus"},
			},
			Priority: 1,
			Active:   true,
		},
		{
			RuleType:   domain.RuleTypeEvent,
			Name:       "Referral Bonus",
			Conditions: domain.RuleConditions{EventType: "REFERRAL"},
			Actions: []domain.RuleAction{
				{Type: domain.ActionAwardPoints, Points: 200, Reason: "Referral Bonus"},
			},
			Priority: 2,
			Active:   true,
		},
		{
			RuleType:        domain.RuleTypeTransaction,
			Name:            "Tiered Spending Bonus",
			EvaluationScope: domain.ScopeTransaction,
			MinAmount:       &minSpend,
			Actions: []domain.RuleAction{
				{
					Type: domain.ActionTieredPoints,
					Ranges: []domain.TieredRange{
						{Min: 100, Max: &midSpendMax, Points: 100, Multiplier: 0.1, Reason: "Mid spend bonus"},
						{Min: 500, Points: 500, Multiplier: 0.2, Reason: "High spend bonus"},
					},
				},
			},
			Priority: 10,
			Active:   true,
		},
	}

	for _, rule := range defaults {
		if err := store.SaveRule(ctx, rule); err != nil {
			return fmt.Errorf("failed to seed rule %q: %w", rule.Name, err)
		}
	}

	logger.Info("seeded default rules", "count", len(defaults))
	return nil
}
