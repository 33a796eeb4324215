package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-loyalty/magpie/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedMember(t *testing.T, repo domain.Repository, email string) *domain.Member {
	t.Helper()

	m := &domain.Member{
		Name:  "Test Member",
		Email: email,
		Tier:  domain.TierBronze,
	}
	if err := repo.SaveMember(context.Background(), m); err != nil {
		t.Fatalf("failed to save member: %v", err)
	}
	return m
}

func TestMemberCRUD(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	m := seedMember(t, repo, "alice@example.com")
	if m.ID == 0 {
		t.Fatal("expected generated member ID")
	}

	got, err := repo.GetMember(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMember failed: %v", err)
	}
	if got.Email != "alice@example.com" {
		t.Errorf("expected email alice@example.com, got %s", got.Email)
	}
	if got.Tier != domain.TierBronze {
		t.Errorf("expected BRONZE tier, got %s", got.Tier)
	}

	got.TotalPoints = 150
	got.LifetimePoints = 150
	got.Tier = domain.TierSilver
	if err := repo.UpdateMember(ctx, got); err != nil {
		t.Fatalf("UpdateMember failed: %v", err)
	}

	updated, err := repo.GetMember(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMember after update failed: %v", err)
	}
	if updated.TotalPoints != 150 || updated.Tier != domain.TierSilver {
		t.Errorf("update not persisted: points=%d tier=%s", updated.TotalPoints, updated.Tier)
	}

	byEmail, err := repo.GetMemberByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetMemberByEmail failed: %v", err)
	}
	if byEmail.ID != m.ID {
		t.Errorf("expected member %d, got %d", m.ID, byEmail.ID)
	}

	exists, err := repo.MemberExists(ctx, m.ID)
	if err != nil || !exists {
		t.Errorf("expected member to exist, got exists=%v err=%v", exists, err)
	}
	exists, err = repo.MemberExists(ctx, 9999)
	if err != nil || exists {
		t.Errorf("expected member 9999 to not exist, got exists=%v err=%v", exists, err)
	}
}

func TestGetMemberNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetMember(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDuplicateEmailRejected(t *testing.T) {
	repo := newTestRepo(t)

	seedMember(t, repo, "dup@example.com")
	err := repo.SaveMember(context.Background(), &domain.Member{
		Name:  "Other",
		Email: "dup@example.com",
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for reused email, got %v", err)
	}
}

func TestRuleRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	minAmount := 100.0
	rule := &domain.Rule{
		RuleType:        domain.RuleTypeTransaction,
		Name:            "Bonus Rule",
		Priority:        10,
		Active:          true,
		EvaluationScope: domain.ScopeTransaction,
		TargetTier:      "GOLD",
		MinAmount:       &minAmount,
		Actions: []domain.RuleAction{
			{Type: domain.ActionAwardPoints, Points: 50, Multiplier: 0.1},
		},
		Expression: `amount > 100.0 ? 50 : 0`,
	}
	if err := repo.SaveRule(ctx, rule); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}
	if rule.ID == 0 {
		t.Fatal("expected generated rule ID")
	}

	got, err := repo.GetRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetRule failed: %v", err)
	}
	if got.Name != "Bonus Rule" || !got.Active {
		t.Errorf("unexpected rule: %+v", got)
	}
	if got.MinAmount == nil || *got.MinAmount != 100.0 {
		t.Errorf("minAmount not persisted: %v", got.MinAmount)
	}
	if len(got.Actions) != 1 || got.Actions[0].Type != domain.ActionAwardPoints {
		t.Errorf("actions not persisted: %+v", got.Actions)
	}
	if got.Actions[0].Points != 50 {
		t.Errorf("expected 50 points in action, got %d", got.Actions[0].Points)
	}
	if got.Expression == "" {
		t.Error("expression not persisted")
	}

	got.Active = false
	if err := repo.UpdateRule(ctx, got); err != nil {
		t.Fatalf("UpdateRule failed: %v", err)
	}
	updated, _ := repo.GetRule(ctx, rule.ID)
	if updated.Active {
		t.Error("expected rule to be inactive after update")
	}

	count, err := repo.CountRules(ctx)
	if err != nil || count != 1 {
		t.Errorf("expected 1 rule, got count=%d err=%v", count, err)
	}

	if err := repo.DeleteRule(ctx, rule.ID); err != nil {
		t.Fatalf("DeleteRule failed: %v", err)
	}
	if err := repo.DeleteRule(ctx, rule.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestPointTransactionLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	m := seedMember(t, repo, "ledger@example.com")

	now := time.Now().UTC()
	txID := int64(77)
	pt := &domain.PointTransaction{
		MemberID:      m.ID,
		Points:        30,
		EarnedDate:    now,
		ExpiryDate:    now.AddDate(0, -1, 0), // already expired
		TransactionID: &txID,
		Reason:        "Tiered loyalty points (Tier: BRONZE)",
	}
	if err := repo.SavePointTransaction(ctx, pt); err != nil {
		t.Fatalf("SavePointTransaction failed: %v", err)
	}
	if pt.Status != domain.PointStatusActive {
		t.Errorf("expected default ACTIVE status, got %s", pt.Status)
	}

	expired, err := repo.ListExpiredPointTransactions(ctx, now)
	if err != nil {
		t.Fatalf("ListExpiredPointTransactions failed: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("expected 1 expired entry, got %d", len(expired))
	}
	if expired[0].TransactionID == nil || *expired[0].TransactionID != txID {
		t.Errorf("transaction linkage not persisted: %v", expired[0].TransactionID)
	}

	claimed, err := repo.TransitionPointTransactionStatus(ctx, pt.ID, domain.PointStatusActive, domain.PointStatusExpired)
	if err != nil {
		t.Fatalf("TransitionPointTransactionStatus failed: %v", err)
	}
	if !claimed {
		t.Fatal("expected transition of an ACTIVE entry to succeed")
	}

	// A second transition finds the entry no longer ACTIVE.
	claimed, err = repo.TransitionPointTransactionStatus(ctx, pt.ID, domain.PointStatusActive, domain.PointStatusExpired)
	if err != nil {
		t.Fatalf("second TransitionPointTransactionStatus failed: %v", err)
	}
	if claimed {
		t.Error("expected repeated transition to report false")
	}

	// Expired entries no longer show up as candidates.
	expired, err = repo.ListExpiredPointTransactions(ctx, now)
	if err != nil {
		t.Fatalf("second ListExpiredPointTransactions failed: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("expected no candidates after expiry, got %d", len(expired))
	}

	entries, err := repo.ListPointTransactionsByMember(ctx, m.ID)
	if err != nil {
		t.Fatalf("ListPointTransactionsByMember failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != domain.PointStatusExpired {
		t.Errorf("unexpected ledger state: %+v", entries)
	}

	if err := repo.DeletePointTransactionsByMember(ctx, m.ID); err != nil {
		t.Fatalf("DeletePointTransactionsByMember failed: %v", err)
	}
	entries, _ = repo.ListPointTransactionsByMember(ctx, m.ID)
	if len(entries) != 0 {
		t.Errorf("expected empty ledger after delete, got %d entries", len(entries))
	}
}

func TestDedupMarkers(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	processed, err := repo.IsTransactionProcessed(ctx, 500)
	if err != nil || processed {
		t.Fatalf("expected unprocessed, got processed=%v err=%v", processed, err)
	}

	if err := repo.MarkTransactionProcessed(ctx, 500); err != nil {
		t.Fatalf("MarkTransactionProcessed failed: %v", err)
	}

	processed, err = repo.IsTransactionProcessed(ctx, 500)
	if err != nil || !processed {
		t.Fatalf("expected processed, got processed=%v err=%v", processed, err)
	}

	// Second marker insert violates the primary key.
	if err := repo.MarkTransactionProcessed(ctx, 500); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate on second mark, got %v", err)
	}
}

func TestTierThresholdsOrderedByPriority(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, th := range []*domain.TierThreshold{
		{TargetTier: domain.TierGold, MinMonthlyAmount: 5000, MinMonthlyTransactionCount: 10, Priority: 3},
		{TargetTier: domain.TierSilver, MinMonthlyAmount: 1000, MinMonthlyTransactionCount: 5, Priority: 2},
		{TargetTier: domain.TierBronze, MinMonthlyAmount: 0, MinMonthlyTransactionCount: 0, Priority: 1},
	} {
		if err := repo.SaveTierThreshold(ctx, th); err != nil {
			t.Fatalf("SaveTierThreshold failed: %v", err)
		}
	}

	thresholds, err := repo.ListTierThresholds(ctx)
	if err != nil {
		t.Fatalf("ListTierThresholds failed: %v", err)
	}
	if len(thresholds) != 3 {
		t.Fatalf("expected 3 thresholds, got %d", len(thresholds))
	}
	want := []domain.MemberTier{domain.TierBronze, domain.TierSilver, domain.TierGold}
	for i, th := range thresholds {
		if th.TargetTier != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], th.TargetTier)
		}
	}
}

func TestActiveExpirationConfig(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.ActiveExpirationConfig(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound with no configs, got %v", err)
	}

	first := &domain.PointExpirationConfig{ExpirationMonths: 12, Active: true}
	second := &domain.PointExpirationConfig{ExpirationMonths: 6, Policy: domain.PolicyFixedDate, Active: true}
	if err := repo.SaveExpirationConfig(ctx, first); err != nil {
		t.Fatalf("SaveExpirationConfig failed: %v", err)
	}
	if err := repo.SaveExpirationConfig(ctx, second); err != nil {
		t.Fatalf("SaveExpirationConfig failed: %v", err)
	}

	active, err := repo.ActiveExpirationConfig(ctx)
	if err != nil {
		t.Fatalf("ActiveExpirationConfig failed: %v", err)
	}
	if active.ExpirationMonths != 6 || active.Policy != domain.PolicyFixedDate {
		t.Errorf("expected most recent active config, got %+v", active)
	}
}

func TestActivitySummary(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	m := seedMember(t, repo, "activity@example.com")
	now := time.Now().UTC()

	for _, amount := range []float64{100, 250, 75} {
		tx := &domain.Transaction{
			MemberID:        m.ID,
			Amount:          amount,
			TransactionDate: now.AddDate(0, 0, -5),
		}
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}
	}
	// One outside the window.
	old := &domain.Transaction{MemberID: m.ID, Amount: 999, TransactionDate: now.AddDate(0, -2, 0)}
	if err := repo.SaveTransaction(ctx, old); err != nil {
		t.Fatalf("SaveTransaction failed: %v", err)
	}

	summary, err := repo.GetActivitySummary(ctx, m.ID, now.AddDate(0, -1, 0), now)
	if err != nil {
		t.Fatalf("GetActivitySummary failed: %v", err)
	}
	if summary.TransactionCount != 3 {
		t.Errorf("expected 3 transactions in window, got %d", summary.TransactionCount)
	}
	if summary.TotalAmount != 425 {
		t.Errorf("expected total 425, got %f", summary.TotalAmount)
	}

	// No rows still yields a zero summary.
	empty, err := repo.GetActivitySummary(ctx, 9999, now.AddDate(0, -1, 0), now)
	if err != nil {
		t.Fatalf("GetActivitySummary for unknown member failed: %v", err)
	}
	if empty.TransactionCount != 0 || empty.TotalAmount != 0 {
		t.Errorf("expected zero summary, got %+v", empty)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	m := seedMember(t, repo, "tx@example.com")

	sentinel := errors.New("abort")
	err := repo.WithTx(ctx, func(txRepo domain.Repository) error {
		member, err := txRepo.GetMember(ctx, m.ID)
		if err != nil {
			return err
		}
		member.TotalPoints = 1000
		if err := txRepo.UpdateMember(ctx, member); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	got, err := repo.GetMember(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMember failed: %v", err)
	}
	if got.TotalPoints != 0 {
		t.Errorf("expected rollback to discard points, got %d", got.TotalPoints)
	}
}

func TestWithTxCommits(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	m := seedMember(t, repo, "commit@example.com")

	err := repo.WithTx(ctx, func(txRepo domain.Repository) error {
		member, err := txRepo.GetMember(ctx, m.ID)
		if err != nil {
			return err
		}
		member.TotalPoints = 200
		member.LifetimePoints = 200
		if err := txRepo.UpdateMember(ctx, member); err != nil {
			return err
		}
		return txRepo.MarkTransactionProcessed(ctx, 123)
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}

	got, _ := repo.GetMember(ctx, m.ID)
	if got.TotalPoints != 200 {
		t.Errorf("expected committed points 200, got %d", got.TotalPoints)
	}
	processed, _ := repo.IsTransactionProcessed(ctx, 123)
	if !processed {
		t.Error("expected dedup marker to be committed")
	}
}
