// Package domain defines the core interfaces and types for Magpie.
package domain

import "time"

// MemberTier is the loyalty tier of a member, ordered from BRONZE up to DIAMOND.
type MemberTier string

const (
	TierBronze   MemberTier = "BRONZE"
	TierSilver   MemberTier = "SILVER"
	TierGold     MemberTier = "GOLD"
	TierPlatinum MemberTier = "PLATINUM"
	TierDiamond  MemberTier = "DIAMOND"
)

var tierRanks = map[MemberTier]int{
	TierBronze:   0,
	TierSilver:   1,
	TierGold:     2,
	TierPlatinum: 3,
	TierDiamond:  4,
}

// Rank returns the ladder position of the tier. Unknown tiers rank below BRONZE.
func (t MemberTier) Rank() int {
	if r, ok := tierRanks[t]; ok {
		return r
	}
	return -1
}

// Valid reports whether t is one of the five known tiers.
func (t MemberTier) Valid() bool {
	_, ok := tierRanks[t]
	return ok
}

// Member is a loyalty program member with point balances and tier state.
type Member struct {
	ID                 int64      `json:"id"`
	Name               string     `json:"name"`
	Email              string     `json:"email"`
	Phone              string     `json:"phone,omitempty"`
	Tier               MemberTier `json:"tier"`
	TotalPoints        int        `json:"totalPoints"`
	LifetimePoints     int        `json:"lifetimePoints"`
	ExpiredPoints      int        `json:"expiredPoints"`
	LastTierEvaluation *time.Time `json:"lastTierEvaluationDate,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
}

// PointStatus is the lifecycle state of a ledger entry.
type PointStatus string

const (
	PointStatusActive   PointStatus = "ACTIVE"
	PointStatusExpired  PointStatus = "EXPIRED"
	PointStatusRedeemed PointStatus = "REDEEMED"
)

// PointTransaction is one ledger entry: a single earn or reset event with its
// own expiry. Entries transition ACTIVE -> EXPIRED via the expiration sweep and
// are otherwise immutable.
type PointTransaction struct {
	ID            int64       `json:"id"`
	MemberID      int64       `json:"memberId"`
	Points        int         `json:"points"`
	EarnedDate    time.Time   `json:"earnedDate"`
	ExpiryDate    time.Time   `json:"expiryDate"`
	Status        PointStatus `json:"status"`
	TransactionID *int64      `json:"transactionId,omitempty"`
	Reason        string      `json:"reason"`
}

// TierThreshold is one row of the monthly re-tiering ladder. Thresholds are
// scanned in ascending priority order; a member qualifies when both the amount
// and the transaction count minimums are met.
type TierThreshold struct {
	ID                         int64      `json:"id"`
	TargetTier                 MemberTier `json:"targetTier"`
	MinMonthlyAmount           float64    `json:"minMonthlyAmount"`
	MinMonthlyTransactionCount int64      `json:"minMonthlyTransactionCount"`
	Priority                   int        `json:"priority"`
	Description                string     `json:"description,omitempty"`
}

// ExpirationPolicy selects how point expiry dates are computed.
type ExpirationPolicy string

const (
	// PolicyRolling expires each entry a fixed number of months after it was earned.
	PolicyRolling ExpirationPolicy = "ROLLING"

	// PolicyFixedDate is retained for configs migrated from older deployments.
	// Expiry is still computed as earned date plus months.
	PolicyFixedDate ExpirationPolicy = "FIXED_DATE"
)

// PointExpirationConfig controls expiry computation for newly earned points.
// Only one config is active at a time; the most recently created active row wins.
type PointExpirationConfig struct {
	ID               int64            `json:"id"`
	ExpirationMonths int              `json:"expirationMonths"`
	Policy           ExpirationPolicy `json:"policy"`
	Active           bool             `json:"active"`
	Description      string           `json:"description,omitempty"`
}

// DefaultExpirationMonths applies when no expiration config is active.
const DefaultExpirationMonths = 12

// LadderTier returns the tier a member is entitled to from lifetime points
// alone. The award path only ever raises a member to this tier, never lowers.
func LadderTier(lifetimePoints int) MemberTier {
	switch {
	case lifetimePoints >= 50000:
		return TierDiamond
	case lifetimePoints >= 15000:
		return TierPlatinum
	case lifetimePoints >= 5000:
		return TierGold
	case lifetimePoints >= 1000:
		return TierSilver
	default:
		return TierBronze
	}
}
