package domain

import "context"

// TransactionFact is the mutable computation record rules read and annotate
// during one evaluation pass. The input fields are set once by the fact
// builder; the output fields accumulate (or, for discounts, are overwritten)
// as rules apply.
type TransactionFact struct {
	// Inputs
	MemberID        int64   `json:"memberId"`
	TransactionID   int64   `json:"transactionId"`
	Amount          float64 `json:"amount"`
	PaymentMethod   string  `json:"paymentMethod"`
	ProductCategory string  `json:"productCategory"`
	MemberTier      string  `json:"memberTier"`
	Role            string  `json:"role"`

	// Outputs
	PointMultiplier    float64 `json:"pointMultiplier"`
	BonusPoints        int     `json:"bonusPoints"`
	RewardType         string  `json:"rewardType"`
	DiscountPercentage float64 `json:"discountPercentage"`
}

// NewTransactionFact returns a fact with output defaults applied.
func NewTransactionFact(memberID, transactionID int64, amount float64, paymentMethod, productCategory, memberTier, role string) *TransactionFact {
	return &TransactionFact{
		MemberID:        memberID,
		TransactionID:   transactionID,
		Amount:          amount,
		PaymentMethod:   paymentMethod,
		ProductCategory: productCategory,
		MemberTier:      memberTier,
		Role:            role,
		PointMultiplier: 1.0,
		RewardType:      RewardPoints,
	}
}

// MemberActivityFact carries a member's aggregate activity for scoped rule
// bounds. The unprefixed pair is the legacy lifetime-default aggregate.
type MemberActivityFact struct {
	MemberID int64 `json:"memberId"`

	MonthlyTransactionCount int64   `json:"monthlyTransactionCount"`
	MonthlyTotalSpent       float64 `json:"monthlyTotalSpent"`

	QuarterlyTransactionCount int64   `json:"quarterlyTransactionCount"`
	QuarterlyTotalSpent       float64 `json:"quarterlyTotalSpent"`

	TransactionCount int64   `json:"transactionCount"`
	TotalSpent       float64 `json:"totalSpent"`
}

// Aggregate returns the (count, spent) pair matching an evaluation scope.
// Unknown or empty scopes fall back to the lifetime-default pair.
func (f *MemberActivityFact) Aggregate(scope string) (int64, float64) {
	switch scope {
	case ScopeMonthly:
		return f.MonthlyTransactionCount, f.MonthlyTotalSpent
	case ScopeQuarterly:
		return f.QuarterlyTransactionCount, f.QuarterlyTotalSpent
	default:
		return f.TransactionCount, f.TotalSpent
	}
}

// ActivitySummary is the synchronous summary contract: transaction count and
// total amount for a member over a period.
type ActivitySummary struct {
	MemberID         int64   `json:"memberId"`
	TransactionCount int64   `json:"transactionCount"`
	TotalAmount      float64 `json:"totalAmount"`
}

// Summary periods. A period may also be a specific month in YYYY-MM form.
const (
	PeriodMonthly   = "MONTHLY"
	PeriodQuarterly = "QUARTERLY"
)

// ActivityProvider supplies aggregate activity summaries. Implementations
// must return a zero-valued summary, never an error, when the member has no
// transactions in the period.
type ActivityProvider interface {
	GetSummary(ctx context.Context, memberID int64, period string) (*ActivitySummary, error)
}
