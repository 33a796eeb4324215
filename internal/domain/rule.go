package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Rule types.
const (
	RuleTypeEvent       = "EVENT"
	RuleTypeTransaction = "TRANSACTION"
	RuleTypeSimple      = "SIMPLE"
)

// Evaluation scopes for rule volume/amount bounds.
const (
	ScopeTransaction = "TRANSACTION"
	ScopeMonthly     = "MONTHLY"
	ScopeQuarterly   = "QUARTERLY"
)

// Reward types.
const (
	RewardPoints   = "POINTS"
	RewardDiscount = "DISCOUNT"
)

// Rule is an admin-editable reward rule. TRANSACTION/SIMPLE rules are applied
// by the declarative evaluator; EVENT rules are matched against occurrence
// events; rules carrying an Expression additionally participate in the
// compiled session.
type Rule struct {
	ID         int64          `json:"id"`
	RuleType   string         `json:"ruleType"`
	Name       string         `json:"ruleName"`
	Conditions RuleConditions `json:"conditions"`
	Actions    []RuleAction   `json:"actions"`
	Priority   int            `json:"priority"`
	Active     bool           `json:"isActive"`

	// Advanced filters
	EvaluationScope    string   `json:"evaluationType,omitempty"` // TRANSACTION, MONTHLY, QUARTERLY
	TargetTier         string   `json:"targetTier,omitempty"`
	TargetProductCode  string   `json:"targetProductCode,omitempty"` // legacy single-code field
	TargetProductCodes []string `json:"targetProductCodes,omitempty"`
	MinAmount          *float64 `json:"minAmount,omitempty"`
	MaxAmount          *float64 `json:"maxAmount,omitempty"`
	MinVolume          *int64   `json:"minVolume,omitempty"`
	MaxVolume          *int64   `json:"maxVolume,omitempty"`
	RewardType         string   `json:"rewardType,omitempty"` // POINTS, DISCOUNT

	// ValidFrom is stored for bookkeeping only; the evaluator enforces just
	// the ValidUntil side of the window.
	ValidFrom  *time.Time `json:"validFrom,omitempty"`
	ValidUntil *time.Time `json:"validUntil,omitempty"`

	// Expression is the optional compiled-session source (a CEL expression
	// over the evaluation facts). Rules with a non-empty Expression are
	// compiled into the shared session template.
	Expression string `json:"expression,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// RuleConditions is the structured condition document of a rule. EVENT rules
// match on exact equality of EventType.
type RuleConditions struct {
	EventType string `json:"eventType,omitempty"`
}

// ActionType tags a rule action. The set is closed; unknown tags are rejected
// when a rule is decoded at the store boundary.
type ActionType string

const (
	ActionAwardPoints   ActionType = "AWARD_POINTS"
	ActionTieredPoints  ActionType = "TIERED_POINTS"
	ActionAwardDiscount ActionType = "AWARD_DISCOUNT"
)

// RuleAction is one tagged action document. Which fields are meaningful
// depends on Type:
//
//	AWARD_POINTS:   Points, Multiplier, Reason, MemberIDField, TransactionIDField
//	TIERED_POINTS:  Ranges, MemberIDField, TransactionIDField
//	AWARD_DISCOUNT: DiscountPercentage
type RuleAction struct {
	Type               ActionType    `json:"type"`
	Points             int           `json:"points,omitempty"`
	Multiplier         float64       `json:"multiplier,omitempty"`
	DiscountPercentage float64       `json:"discountPercentage,omitempty"`
	Reason             string        `json:"reason,omitempty"`
	MemberIDField      string        `json:"memberIdField,omitempty"`
	TransactionIDField string        `json:"transactionIdField,omitempty"`
	Ranges             []TieredRange `json:"ranges,omitempty"`
}

// TieredRange is one amount bucket of a TIERED_POINTS action. Max nil means
// the range is open-ended. The first matching range wins.
type TieredRange struct {
	Min        float64  `json:"min"`
	Max        *float64 `json:"max,omitempty"`
	Points     int      `json:"points"`
	Multiplier float64  `json:"multiplier,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// Contains reports whether amount falls inside the range.
func (r TieredRange) Contains(amount float64) bool {
	if amount < r.Min {
		return false
	}
	if r.Max != nil && amount > *r.Max {
		return false
	}
	return true
}

// DecodeActions parses a raw action document into the closed action set.
// Accepts either a JSON array or a single object. A document without a type
// tag but with a "points" field is normalized to AWARD_POINTS (legacy rules).
func DecodeActions(raw json.RawMessage) ([]RuleAction, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var actions []RuleAction
	if err := json.Unmarshal(raw, &actions); err != nil {
		var single RuleAction
		if err2 := json.Unmarshal(raw, &single); err2 != nil {
			return nil, fmt.Errorf("invalid actions document: %w", err)
		}
		actions = []RuleAction{single}
	}

	for i := range actions {
		switch actions[i].Type {
		case ActionAwardPoints, ActionTieredPoints, ActionAwardDiscount:
		case "":
			if actions[i].Points == 0 && len(actions[i].Ranges) == 0 {
				return nil, fmt.Errorf("action %d: missing type", i)
			}
			// Legacy documents like {"points": 500, "reason": "..."}
			actions[i].Type = ActionAwardPoints
			if len(actions[i].Ranges) > 0 {
				actions[i].Type = ActionTieredPoints
			}
		default:
			return nil, fmt.Errorf("action %d: unknown type %q", i, actions[i].Type)
		}
	}

	return actions, nil
}

// RuleAudit is an append-only record of a compiled-session rule firing.
type RuleAudit struct {
	ID          int64     `json:"id"`
	MemberID    int64     `json:"memberId"`
	RuleName    string    `json:"ruleName"`
	ResultType  string    `json:"resultType"`
	ResultValue string    `json:"resultValue"`
	FiredAt     time.Time `json:"firedAt"`
}
