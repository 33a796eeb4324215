package domain

import (
	"encoding/json"
	"fmt"
)

// Standard topic names for the reward pipeline.
const (
	TopicTransactionCreated = "loyalty.transaction.created"
	TopicEventOccurrence    = "loyalty.event.occurrence"
	TopicPointsEarned       = "loyalty.points.earned"
)

// TransactionCreatedEvent announces a recorded transaction to the reward
// pipeline.
type TransactionCreatedEvent struct {
	TransactionID   int64   `json:"transactionId"`
	MemberID        int64   `json:"memberId"`
	Amount          float64 `json:"amount"`
	PaymentMethod   string  `json:"paymentMethod"`
	ProductCategory string  `json:"productCategory"`
}

// Validate checks the fields the reward pipeline cannot proceed without.
func (e *TransactionCreatedEvent) Validate() error {
	if e.TransactionID == 0 {
		return fmt.Errorf("transactionId is required")
	}
	if e.MemberID == 0 {
		return fmt.Errorf("memberId is required")
	}
	return nil
}

// PointsEarnedEvent is broadcast after reward computation. The ledger credits
// the balance; other subscribers (notification log) are side-effect free.
type PointsEarnedEvent struct {
	MemberID      int64  `json:"memberId"`
	TransactionID int64  `json:"transactionId"`
	PointsEarned  int    `json:"pointsEarned"`
	Reason        string `json:"reason"`
}

// OccurrenceEvent is a business event (onboarding, referral, ...) consumed by
// EVENT-type rules. EventType is the closed envelope field; all other payload
// attributes are kept in a bounded map so actions can address them by
// configurable field names.
type OccurrenceEvent struct {
	EventType  string
	Timestamp  string
	Attributes map[string]any
}

// maxOccurrenceAttributes bounds the extra-attribute map at ingestion.
const maxOccurrenceAttributes = 32

// UnmarshalJSON decodes the envelope and captures remaining attributes.
func (e *OccurrenceEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) > maxOccurrenceAttributes {
		return fmt.Errorf("event has %d attributes, limit is %d", len(raw), maxOccurrenceAttributes)
	}

	eventType, _ := raw["eventType"].(string)
	if eventType == "" {
		return fmt.Errorf("eventType is required")
	}
	e.EventType = eventType
	e.Timestamp, _ = raw["timestamp"].(string)

	delete(raw, "eventType")
	delete(raw, "timestamp")
	e.Attributes = raw
	return nil
}

// Int64 returns a numeric attribute by field name. JSON numbers decode as
// float64; integral values are converted.
func (e *OccurrenceEvent) Int64(field string) (int64, bool) {
	v, ok := e.Attributes[field]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// Float64 returns a numeric attribute by field name.
func (e *OccurrenceEvent) Float64(field string) (float64, bool) {
	v, ok := e.Attributes[field]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
