package rules

import "github.com/opensource-loyalty/magpie/internal/domain"

// basePointRow is one amount bucket of the base-point table. Tiers index the
// points array in ascending rank order.
type basePointRow struct {
	maxAmount float64 // inclusive upper bound; <= 0 means open-ended
	points    [5]int  // BRONZE, SILVER, GOLD, PLATINUM, DIAMOND
}

// basePointTable maps (amount bucket, member tier) to base points. Rows are
// scanned in order; the first row whose bound covers the amount applies.
var basePointTable = []basePointRow{
	{maxAmount: 100, points: [5]int{1, 1, 2, 3, 5}},
	{maxAmount: 1000, points: [5]int{2, 2, 3, 4, 6}},
	{maxAmount: 5000, points: [5]int{3, 4, 5, 6, 8}},
	{maxAmount: 0, points: [5]int{5, 6, 8, 10, 15}},
}

// BasePoints returns the base points for a transaction amount and member
// tier. Non-positive amounts earn nothing. An unrecognized tier is treated as
// BRONZE.
func BasePoints(amount float64, tier domain.MemberTier) int {
	if amount <= 0 {
		return 0
	}

	col := 0
	if tier.Valid() {
		col = tier.Rank()
	}

	for _, row := range basePointTable {
		if row.maxAmount <= 0 || amount <= row.maxAmount {
			return row.points[col]
		}
	}
	return 0
}
