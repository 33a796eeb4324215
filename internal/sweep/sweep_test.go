package sweep

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-loyalty/magpie/internal/domain"
	"github.com/opensource-loyalty/magpie/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedMember(t *testing.T, repo domain.Repository, email string, tier domain.MemberTier, total int) *domain.Member {
	t.Helper()
	m := &domain.Member{
		Name:           "Test",
		Email:          email,
		Tier:           tier,
		TotalPoints:    total,
		LifetimePoints: total,
	}
	if err := repo.SaveMember(context.Background(), m); err != nil {
		t.Fatalf("failed to seed member: %v", err)
	}
	return m
}

func seedEntry(t *testing.T, repo domain.Repository, memberID int64, points int, expiry time.Time) *domain.PointTransaction {
	t.Helper()
	entry := &domain.PointTransaction{
		MemberID:   memberID,
		Points:     points,
		EarnedDate: expiry.AddDate(-1, 0, 0),
		ExpiryDate: expiry,
		Status:     domain.PointStatusActive,
		Reason:     "test",
	}
	if err := repo.SavePointTransaction(context.Background(), entry); err != nil {
		t.Fatalf("failed to seed entry: %v", err)
	}
	return entry
}

func TestExpirationSweep(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	m := seedMember(t, repo, "expire@example.com", domain.TierSilver, 100)

	past := time.Now().UTC().AddDate(0, 0, -1)
	future := time.Now().UTC().AddDate(0, 1, 0)
	expiredEntry := seedEntry(t, repo, m.ID, 30, past)
	seedEntry(t, repo, m.ID, 50, future)

	sweep := NewExpirationSweep(repo, nil, nil)
	n, err := sweep.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired entry, got %d", n)
	}

	got, _ := repo.GetMember(ctx, m.ID)
	if got.TotalPoints != 70 {
		t.Errorf("expected balance 70 after expiry, got %d", got.TotalPoints)
	}
	if got.ExpiredPoints != 30 {
		t.Errorf("expected 30 expired points, got %d", got.ExpiredPoints)
	}

	entries, _ := repo.ListPointTransactionsByMember(ctx, m.ID)
	for _, e := range entries {
		if e.ID == expiredEntry.ID && e.Status != domain.PointStatusExpired {
			t.Errorf("entry %d should be EXPIRED, got %s", e.ID, e.Status)
		}
	}
}

func TestExpirationSweepIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	m := seedMember(t, repo, "twice@example.com", domain.TierBronze, 50)
	seedEntry(t, repo, m.ID, 50, time.Now().UTC().AddDate(0, 0, -1))

	sweep := NewExpirationSweep(repo, nil, nil)
	if _, err := sweep.Run(ctx); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	n, err := sweep.Run(ctx)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if n != 0 {
		t.Errorf("second run must find no candidates, got %d", n)
	}

	got, _ := repo.GetMember(ctx, m.ID)
	if got.TotalPoints != 0 || got.ExpiredPoints != 50 {
		t.Errorf("double deduction detected: total=%d expired=%d", got.TotalPoints, got.ExpiredPoints)
	}
}

func TestExpirationSweepConcurrentRunsDeductOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	m := seedMember(t, repo, "overlap@example.com", domain.TierBronze, 100)
	entry := seedEntry(t, repo, m.ID, 60, time.Now().UTC().AddDate(0, 0, -1))

	// Two overlapping runs both list the entry while it is still ACTIVE.
	// Only the one that wins the status transition may touch the balance.
	sweep := NewExpirationSweep(repo, nil, nil)
	first, err := sweep.expireEntry(ctx, entry)
	if err != nil {
		t.Fatalf("first expireEntry failed: %v", err)
	}
	second, err := sweep.expireEntry(ctx, entry)
	if err != nil {
		t.Fatalf("second expireEntry failed: %v", err)
	}
	if !first || second {
		t.Errorf("expected exactly one run to claim the entry, got first=%v second=%v", first, second)
	}

	got, _ := repo.GetMember(ctx, m.ID)
	if got.TotalPoints != 40 || got.ExpiredPoints != 60 {
		t.Errorf("double deduction detected: total=%d expired=%d", got.TotalPoints, got.ExpiredPoints)
	}
}

func TestExpirationSweepFloorsAtZero(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	// Balance smaller than the expiring entry.
	m := seedMember(t, repo, "floor@example.com", domain.TierBronze, 10)
	seedEntry(t, repo, m.ID, 40, time.Now().UTC().AddDate(0, 0, -1))

	sweep := NewExpirationSweep(repo, nil, nil)
	if _, err := sweep.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got, _ := repo.GetMember(ctx, m.ID)
	if got.TotalPoints != 0 {
		t.Errorf("balance must floor at zero, got %d", got.TotalPoints)
	}
	if got.ExpiredPoints != 40 {
		t.Errorf("expected full entry counted as expired, got %d", got.ExpiredPoints)
	}
}

// fixedActivity serves per-member summaries and remembers the last period
// requested.
type fixedActivity struct {
	summaries  map[int64]*domain.ActivitySummary
	errFor     int64
	lastPeriod string
}

func (a *fixedActivity) GetSummary(ctx context.Context, memberID int64, period string) (*domain.ActivitySummary, error) {
	a.lastPeriod = period
	if a.errFor != 0 && memberID == a.errFor {
		return nil, errors.New("summary unavailable")
	}
	if s, ok := a.summaries[memberID]; ok {
		return s, nil
	}
	return &domain.ActivitySummary{MemberID: memberID}, nil
}

func seedThresholds(t *testing.T, repo domain.Repository) {
	t.Helper()
	for _, th := range []*domain.TierThreshold{
		{TargetTier: domain.TierSilver, MinMonthlyAmount: 500, MinMonthlyTransactionCount: 3, Priority: 1},
		{TargetTier: domain.TierGold, MinMonthlyAmount: 2000, MinMonthlyTransactionCount: 5, Priority: 2},
		{TargetTier: domain.TierPlatinum, MinMonthlyAmount: 5000, MinMonthlyTransactionCount: 10, Priority: 3},
	} {
		if err := repo.SaveTierThreshold(context.Background(), th); err != nil {
			t.Fatalf("failed to seed threshold: %v", err)
		}
	}
}

func TestTierSweepLastQualifyingWins(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedThresholds(t, repo)

	m := seedMember(t, repo, "tiers@example.com", domain.TierBronze, 0)
	activity := &fixedActivity{summaries: map[int64]*domain.ActivitySummary{
		// Qualifies for SILVER and GOLD but not PLATINUM.
		m.ID: {MemberID: m.ID, TransactionCount: 6, TotalAmount: 2500},
	}}

	sweep := NewTierSweep(repo, activity, nil)
	changed, err := sweep.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if changed != 1 {
		t.Errorf("expected 1 change, got %d", changed)
	}

	got, _ := repo.GetMember(ctx, m.ID)
	if got.Tier != domain.TierGold {
		t.Errorf("expected GOLD (last qualifying threshold), got %s", got.Tier)
	}
	if got.LastTierEvaluation == nil {
		t.Error("expected evaluation timestamp to be set")
	}
}

func TestTierSweepCanLowerTier(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedThresholds(t, repo)

	m := seedMember(t, repo, "demote@example.com", domain.TierPlatinum, 0)
	// No qualifying activity at all.
	sweep := NewTierSweep(repo, &fixedActivity{}, nil)
	if _, err := sweep.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got, _ := repo.GetMember(ctx, m.ID)
	if got.Tier != domain.TierBronze {
		t.Errorf("expected drop to BRONZE, got %s", got.Tier)
	}
}

func TestTierSweepIsolatesMemberFailures(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedThresholds(t, repo)

	bad := seedMember(t, repo, "bad@example.com", domain.TierBronze, 0)
	good := seedMember(t, repo, "good@example.com", domain.TierBronze, 0)

	activity := &fixedActivity{
		errFor: bad.ID,
		summaries: map[int64]*domain.ActivitySummary{
			good.ID: {MemberID: good.ID, TransactionCount: 4, TotalAmount: 600},
		},
	}

	sweep := NewTierSweep(repo, activity, nil)
	changed, err := sweep.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if changed != 1 {
		t.Errorf("expected the healthy member to still be evaluated, changed=%d", changed)
	}

	gotGood, _ := repo.GetMember(ctx, good.ID)
	if gotGood.Tier != domain.TierSilver {
		t.Errorf("expected SILVER for healthy member, got %s", gotGood.Tier)
	}
}

func TestTierSweepUsesCurrentMonth(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedThresholds(t, repo)
	seedMember(t, repo, "period@example.com", domain.TierBronze, 0)

	activity := &fixedActivity{}
	sweep := NewTierSweep(repo, activity, nil)
	sweep.now = func() time.Time {
		return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	}

	if _, err := sweep.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if activity.lastPeriod != "2026-08" {
		t.Errorf("expected evaluation over the current month, got %q", activity.lastPeriod)
	}
}

func TestTierSweepNoThresholds(t *testing.T) {
	repo := newTestRepo(t)
	seedMember(t, repo, "nothresh@example.com", domain.TierGold, 0)

	sweep := NewTierSweep(repo, &fixedActivity{}, nil)
	changed, err := sweep.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if changed != 0 {
		t.Errorf("expected no changes without thresholds, got %d", changed)
	}
}

func TestSchedulerRunsExpirationAtConfiguredHour(t *testing.T) {
	repo := newTestRepo(t)
	m := seedMember(t, repo, "sched@example.com", domain.TierBronze, 20)
	seedEntry(t, repo, m.ID, 20, time.Now().UTC().AddDate(0, 0, -1))

	expiration := NewExpirationSweep(repo, nil, nil)
	tier := NewTierSweep(repo, &fixedActivity{}, nil)

	sched := NewScheduler(expiration, tier, domain.SweepConfig{
		CheckInterval:     10 * time.Millisecond,
		ExpirationHour:    3,
		TierEvaluationDay: 0, // never matches a real day
	}, nil)
	// Pin the clock to the configured hour.
	sched.now = func() time.Time {
		return time.Date(2026, 8, 15, 3, 0, 0, 0, time.UTC)
	}

	sched.Start(context.Background())
	defer sched.Stop()

	deadline := time.After(2 * time.Second)
	for {
		got, _ := repo.GetMember(context.Background(), m.ID)
		if got.ExpiredPoints == 20 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timeout waiting for scheduled expiration sweep")
		case <-time.After(20 * time.Millisecond):
		}
	}

	// The same day never triggers a second run; the balance stays put.
	time.Sleep(50 * time.Millisecond)
	got, _ := repo.GetMember(context.Background(), m.ID)
	if got.ExpiredPoints != 20 {
		t.Errorf("expected single run per day, got expired=%d", got.ExpiredPoints)
	}
}
