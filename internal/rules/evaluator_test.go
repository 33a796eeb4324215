package rules

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-loyalty/magpie/internal/domain"
)

// memAudits collects audit rows in memory.
type memAudits struct {
	audits []*domain.RuleAudit
}

func (a *memAudits) SaveRuleAudit(ctx context.Context, audit *domain.RuleAudit) error {
	a.audits = append(a.audits, audit)
	return nil
}

func newTestEvaluator(t *testing.T, rules ...*domain.Rule) (*Evaluator, *memAudits) {
	t.Helper()
	store := &memStore{rules: rules}
	compiler, err := NewCompiler(store)
	if err != nil {
		t.Fatalf("NewCompiler failed: %v", err)
	}
	audits := &memAudits{}
	return NewEvaluator(store, compiler, audits, nil), audits
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int64) *int64       { return &i }

func TestEvaluateAwardPointsAction(t *testing.T) {
	ev, _ := newTestEvaluator(t, &domain.Rule{
		ID:       1,
		RuleType: domain.RuleTypeTransaction,
		Name:     "Flat Bonus",
		Active:   true,
		Actions: []domain.RuleAction{
			{Type: domain.ActionAwardPoints, Points: 20, Multiplier: 0.5},
		},
	})

	fact := domain.NewTransactionFact(1, 10, 101, "CARD", "GROCERY", "GOLD", "CUSTOMER")
	if err := ev.Evaluate(context.Background(), fact, nil); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	// 20 + floor(101 * 0.5) = 20 + 50
	if fact.BonusPoints != 70 {
		t.Errorf("expected 70 bonus points, got %d", fact.BonusPoints)
	}
}

func TestEvaluateTieredPointsFirstRangeWins(t *testing.T) {
	mid := 500.0
	rule := &domain.Rule{
		ID:       1,
		RuleType: domain.RuleTypeTransaction,
		Name:     "Tiered Spending Bonus",
		Active:   true,
		Actions: []domain.RuleAction{
			{
				Type: domain.ActionTieredPoints,
				Ranges: []domain.TieredRange{
					{Min: 100, Max: &mid, Points: 100, Multiplier: 0.1},
					{Min: 500, Points: 500, Multiplier: 0.2},
				},
			},
		},
	}

	tests := []struct {
		amount float64
		want   int
	}{
		{300, 130},  // 100 + floor(30)
		{1000, 700}, // 500 + floor(200)
		{50, 0},     // below all ranges
	}

	for _, tt := range tests {
		ev, _ := newTestEvaluator(t, rule)
		fact := domain.NewTransactionFact(1, 10, tt.amount, "", "", "GOLD", "CUSTOMER")
		if err := ev.Evaluate(context.Background(), fact, nil); err != nil {
			t.Fatalf("Evaluate(%v) failed: %v", tt.amount, err)
		}
		if fact.BonusPoints != tt.want {
			t.Errorf("amount %v: expected %d bonus points, got %d", tt.amount, tt.want, fact.BonusPoints)
		}
	}
}

func TestEvaluateDiscountAction(t *testing.T) {
	ev, _ := newTestEvaluator(t, &domain.Rule{
		ID:       1,
		RuleType: domain.RuleTypeTransaction,
		Name:     "Member Discount",
		Active:   true,
		Actions: []domain.RuleAction{
			{Type: domain.ActionAwardDiscount},
		},
	})

	fact := domain.NewTransactionFact(1, 10, 100, "", "", "GOLD", "CUSTOMER")
	if err := ev.Evaluate(context.Background(), fact, nil); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if fact.RewardType != domain.RewardDiscount {
		t.Errorf("expected DISCOUNT reward type, got %s", fact.RewardType)
	}
	// Zero-valued percentage falls back to 10.
	if fact.DiscountPercentage != 10.0 {
		t.Errorf("expected 10%% default discount, got %v", fact.DiscountPercentage)
	}
}

func TestEvaluateTierFilterCaseInsensitive(t *testing.T) {
	rule := &domain.Rule{
		ID:         1,
		RuleType:   domain.RuleTypeTransaction,
		Name:       "Gold Only",
		Active:     true,
		TargetTier: "gold",
		Actions:    []domain.RuleAction{{Type: domain.ActionAwardPoints, Points: 10}},
	}

	ev, _ := newTestEvaluator(t, rule)
	fact := domain.NewTransactionFact(1, 10, 100, "", "", "GOLD", "CUSTOMER")
	if err := ev.Evaluate(context.Background(), fact, nil); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if fact.BonusPoints != 10 {
		t.Errorf("expected tier filter to match case-insensitively, got %d", fact.BonusPoints)
	}

	ev2, _ := newTestEvaluator(t, rule)
	other := domain.NewTransactionFact(1, 10, 100, "", "", "SILVER", "CUSTOMER")
	if err := ev2.Evaluate(context.Background(), other, nil); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if other.BonusPoints != 0 {
		t.Errorf("expected tier mismatch to skip rule, got %d", other.BonusPoints)
	}
}

func TestEvaluateExpiredRuleSkipped(t *testing.T) {
	past := time.Now().Add(-24 * time.Hour)
	ev, _ := newTestEvaluator(t, &domain.Rule{
		ID:         1,
		RuleType:   domain.RuleTypeTransaction,
		Name:       "Expired Promo",
		Active:     true,
		ValidUntil: &past,
		Actions:    []domain.RuleAction{{Type: domain.ActionAwardPoints, Points: 100}},
	})

	fact := domain.NewTransactionFact(1, 10, 100, "", "", "GOLD", "CUSTOMER")
	if err := ev.Evaluate(context.Background(), fact, nil); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if fact.BonusPoints != 0 {
		t.Errorf("expected expired rule to be skipped, got %d", fact.BonusPoints)
	}
}

func TestEvaluateProductCodeFilters(t *testing.T) {
	// Explicit code set takes precedence over the legacy single code.
	ev, _ := newTestEvaluator(t, &domain.Rule{
		ID:                 1,
		RuleType:           domain.RuleTypeTransaction,
		Name:               "Category Bonus",
		Active:             true,
		TargetProductCode:  "ELECTRONICS",
		TargetProductCodes: []string{"GROCERY", "FUEL"},
		Actions:            []domain.RuleAction{{Type: domain.ActionAwardPoints, Points: 25}},
	})

	fact := domain.NewTransactionFact(1, 10, 100, "", "GROCERY", "GOLD", "CUSTOMER")
	if err := ev.Evaluate(context.Background(), fact, nil); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if fact.BonusPoints != 25 {
		t.Errorf("expected code-set match, got %d", fact.BonusPoints)
	}
}

func TestEvaluateScopedVolumeBounds(t *testing.T) {
	ev, _ := newTestEvaluator(t, &domain.Rule{
		ID:              1,
		RuleType:        domain.RuleTypeTransaction,
		Name:            "Monthly Regular",
		Active:          true,
		EvaluationScope: domain.ScopeMonthly,
		MinVolume:       intPtr(5),
		MinAmount:       floatPtr(400),
		Actions:         []domain.RuleAction{{Type: domain.ActionAwardPoints, Points: 50}},
	})

	activity := &domain.MemberActivityFact{
		MemberID:                1,
		MonthlyTransactionCount: 6,
		MonthlyTotalSpent:       450,
	}

	// The amount floor gates both the transaction and the monthly aggregate.
	fact := domain.NewTransactionFact(1, 10, 420, "", "", "GOLD", "CUSTOMER")
	if err := ev.Evaluate(context.Background(), fact, activity); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if fact.BonusPoints != 50 {
		t.Errorf("expected scoped rule to match, got %d", fact.BonusPoints)
	}

	ev2, _ := newTestEvaluator(t, &domain.Rule{
		ID:              1,
		RuleType:        domain.RuleTypeTransaction,
		Name:            "Monthly Regular",
		Active:          true,
		EvaluationScope: domain.ScopeMonthly,
		MinVolume:       intPtr(10),
		Actions:         []domain.RuleAction{{Type: domain.ActionAwardPoints, Points: 50}},
	})
	fact2 := domain.NewTransactionFact(1, 10, 20, "", "", "GOLD", "CUSTOMER")
	if err := ev2.Evaluate(context.Background(), fact2, activity); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if fact2.BonusPoints != 0 {
		t.Errorf("expected volume minimum to skip rule, got %d", fact2.BonusPoints)
	}
}

func TestEvaluateAmountBoundsApplyPerTransaction(t *testing.T) {
	// A scoped rule's minAmount still gates the transaction amount itself;
	// a large monthly aggregate does not rescue a small transaction.
	ev, _ := newTestEvaluator(t, &domain.Rule{
		ID:              1,
		RuleType:        domain.RuleTypeTransaction,
		Name:            "Monthly Big Spender",
		Active:          true,
		EvaluationScope: domain.ScopeMonthly,
		MinAmount:       floatPtr(1000),
		Actions:         []domain.RuleAction{{Type: domain.ActionAwardPoints, Points: 100}},
	})

	activity := &domain.MemberActivityFact{
		MemberID:          1,
		MonthlyTotalSpent: 2000,
	}

	fact := domain.NewTransactionFact(1, 10, 50, "", "", "GOLD", "CUSTOMER")
	if err := ev.Evaluate(context.Background(), fact, activity); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if fact.BonusPoints != 0 {
		t.Errorf("expected small transaction to be rejected at the amount bound, got %d", fact.BonusPoints)
	}
}

func TestEvaluateTransactionScopeVolumeBounds(t *testing.T) {
	rule := &domain.Rule{
		ID:              1,
		RuleType:        domain.RuleTypeTransaction,
		Name:            "Repeat Customer",
		Active:          true,
		EvaluationScope: domain.ScopeTransaction,
		MinVolume:       intPtr(5),
		Actions:         []domain.RuleAction{{Type: domain.ActionAwardPoints, Points: 100}},
	}

	// Volume bounds on a TRANSACTION scope check the lifetime aggregate.
	ev, _ := newTestEvaluator(t, rule)
	fact := domain.NewTransactionFact(1, 10, 200, "", "", "GOLD", "CUSTOMER")
	newMember := &domain.MemberActivityFact{MemberID: 1, TransactionCount: 0}
	if err := ev.Evaluate(context.Background(), fact, newMember); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if fact.BonusPoints != 0 {
		t.Errorf("expected zero lifetime volume to be rejected, got %d", fact.BonusPoints)
	}

	ev2, _ := newTestEvaluator(t, rule)
	fact2 := domain.NewTransactionFact(1, 10, 200, "", "", "GOLD", "CUSTOMER")
	regular := &domain.MemberActivityFact{MemberID: 1, TransactionCount: 6}
	if err := ev2.Evaluate(context.Background(), fact2, regular); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if fact2.BonusPoints != 100 {
		t.Errorf("expected lifetime volume to qualify, got %d", fact2.BonusPoints)
	}
}

func TestEvaluateTransactionScopeSkipsAggregateSpendFloor(t *testing.T) {
	// The seeded spending rule declares a TRANSACTION scope with a minAmount;
	// the floor applies to the transaction only, never the lifetime spend.
	ev, _ := newTestEvaluator(t, &domain.Rule{
		ID:              1,
		RuleType:        domain.RuleTypeTransaction,
		Name:            "Spending Bonus",
		Active:          true,
		EvaluationScope: domain.ScopeTransaction,
		MinAmount:       floatPtr(100),
		Actions:         []domain.RuleAction{{Type: domain.ActionAwardPoints, Points: 10}},
	})

	firstPurchase := &domain.MemberActivityFact{MemberID: 1, TotalSpent: 0}
	fact := domain.NewTransactionFact(1, 10, 150, "", "", "GOLD", "CUSTOMER")
	if err := ev.Evaluate(context.Background(), fact, firstPurchase); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if fact.BonusPoints != 10 {
		t.Errorf("expected first qualifying purchase to fire, got %d", fact.BonusPoints)
	}
}

func TestEvaluateNilActivitySkipsAggregateBounds(t *testing.T) {
	ev, _ := newTestEvaluator(t, &domain.Rule{
		ID:              1,
		RuleType:        domain.RuleTypeTransaction,
		Name:            "Monthly Regular",
		Active:          true,
		EvaluationScope: domain.ScopeMonthly,
		MinVolume:       intPtr(5),
		Actions:         []domain.RuleAction{{Type: domain.ActionAwardPoints, Points: 50}},
	})

	fact := domain.NewTransactionFact(1, 10, 200, "", "", "GOLD", "CUSTOMER")
	if err := ev.Evaluate(context.Background(), fact, nil); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if fact.BonusPoints != 50 {
		t.Errorf("expected aggregate bounds to be skipped without activity data, got %d", fact.BonusPoints)
	}
}

func TestEvaluateValidFromNotEnforced(t *testing.T) {
	future := time.Now().Add(24 * time.Hour)
	ev, _ := newTestEvaluator(t, &domain.Rule{
		ID:        1,
		RuleType:  domain.RuleTypeTransaction,
		Name:      "Upcoming Promo",
		Active:    true,
		ValidFrom: &future,
		Actions:   []domain.RuleAction{{Type: domain.ActionAwardPoints, Points: 100}},
	})

	fact := domain.NewTransactionFact(1, 10, 100, "", "", "GOLD", "CUSTOMER")
	if err := ev.Evaluate(context.Background(), fact, nil); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	// Only the expiry side of the validity window filters.
	if fact.BonusPoints != 100 {
		t.Errorf("expected validFrom to be ignored, got %d", fact.BonusPoints)
	}
}

func TestEvaluateEventRulesIgnored(t *testing.T) {
	ev, _ := newTestEvaluator(t, &domain.Rule{
		ID:         1,
		RuleType:   domain.RuleTypeEvent,
		Name:       "Welcome Bonus",
		Active:     true,
		Conditions: domain.RuleConditions{EventType: "ONBOARDING"},
		Actions:    []domain.RuleAction{{Type: domain.ActionAwardPoints, Points: 500}},
	})

	fact := domain.NewTransactionFact(1, 10, 100, "", "", "GOLD", "CUSTOMER")
	if err := ev.Evaluate(context.Background(), fact, nil); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if fact.BonusPoints != 0 {
		t.Errorf("event rules must not apply to transactions, got %d", fact.BonusPoints)
	}
}

func TestEvaluateSessionAudits(t *testing.T) {
	ev, audits := newTestEvaluator(t, &domain.Rule{
		ID:         1,
		Name:       "Expression Bonus",
		Active:     true,
		Expression: `amount >= 100.0 ? 42 : 0`,
	})

	fact := domain.NewTransactionFact(7, 10, 100, "", "", "GOLD", "CUSTOMER")
	if err := ev.Evaluate(context.Background(), fact, nil); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if fact.BonusPoints != 42 {
		t.Errorf("expected 42 bonus points from expression rule, got %d", fact.BonusPoints)
	}
	if len(audits.audits) != 1 {
		t.Fatalf("expected 1 audit row, got %d", len(audits.audits))
	}
	a := audits.audits[0]
	if a.MemberID != 7 || a.RuleName != "Expression Bonus" || a.ResultType != ResultPoints || a.ResultValue != "42" {
		t.Errorf("unexpected audit: %+v", a)
	}
}

func TestSeedInstallsDefaultsOnce(t *testing.T) {
	store := &seedMemStore{}
	if err := Seed(context.Background(), store, nil); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if len(store.rules) != 3 {
		t.Fatalf("expected 3 seeded rules, got %d", len(store.rules))
	}

	if err := Seed(context.Background(), store, nil); err != nil {
		t.Fatalf("second Seed failed: %v", err)
	}
	if len(store.rules) != 3 {
		t.Errorf("expected seeding to be idempotent, got %d rules", len(store.rules))
	}

	names := map[string]bool{}
	for _, r := range store.rules {
		names[r.Name] = true
	}
	for _, want := range []string{"Welcome Bonus", "Referral Bonus", "Tiered Spending Bonus"} {
		if !names[want] {
			t.Errorf("missing seeded rule %q", want)
		}
	}
}

type seedMemStore struct {
	rules []*domain.Rule
}

func (s *seedMemStore) CountRules(ctx context.Context) (int64, error) {
	return int64(len(s.rules)), nil
}

func (s *seedMemStore) SaveRule(ctx context.Context, r *domain.Rule) error {
	r.ID = int64(len(s.rules) + 1)
	s.rules = append(s.rules, r)
	return nil
}
