// Package events consumes business occurrence events (onboarding, referral)
// and applies EVENT-type rules to them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/opensource-loyalty/magpie/internal/domain"
	"github.com/opensource-loyalty/magpie/internal/rules"
)

// Default payload field names for member and transaction identities. Rules
// may override them per action.
const (
	defaultMemberIDField      = "memberId"
	defaultTransactionIDField = "transactionId"
	fallbackEventIDField      = "eventId"
)

// Consumer matches occurrence events against EVENT rules and publishes the
// resulting point awards.
type Consumer struct {
	bus    domain.EventBus
	store  rules.RuleStore
	logger *slog.Logger

	sub domain.Subscription
}

// NewConsumer creates the occurrence consumer.
func NewConsumer(bus domain.EventBus, store rules.RuleStore, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		bus:    bus,
		store:  store,
		logger: logger,
	}
}

// Start subscribes to occurrence events.
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.bus.Subscribe(ctx, domain.TopicEventOccurrence, c.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicEventOccurrence, err)
	}
	c.sub = sub
	c.logger.Info("occurrence consumer started", "topic", domain.TopicEventOccurrence)
	return nil
}

// Stop unsubscribes.
func (c *Consumer) Stop() {
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
}

func (c *Consumer) handle(ctx context.Context, msg *domain.Message) error {
	var evt domain.OccurrenceEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		c.logger.Warn("dropping malformed occurrence event",
			"message_id", msg.ID,
			"error", err,
		)
		return nil
	}

	ruleSet, err := c.store.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	for _, rule := range ruleSet {
		if !rule.Active || rule.RuleType != domain.RuleTypeEvent {
			continue
		}
		if rule.Conditions.EventType != evt.EventType {
			continue
		}
		c.applyRule(ctx, rule, &evt)
	}

	return nil
}

// applyRule executes a matched EVENT rule's actions against the occurrence.
func (c *Consumer) applyRule(ctx context.Context, rule *domain.Rule, evt *domain.OccurrenceEvent) {
	for _, action := range rule.Actions {
		switch action.Type {
		case domain.ActionAwardPoints, domain.ActionTieredPoints:
			c.award(ctx, rule, action, evt)

		case domain.ActionAwardDiscount:
			// Discounts only make sense against a transaction; an event
			// occurrence has nothing to discount.
			c.logger.Warn("discount action ignored for event rule",
				"rule", rule.Name,
				"event_type", evt.EventType,
			)
		}
	}
}

func (c *Consumer) award(ctx context.Context, rule *domain.Rule, action domain.RuleAction, evt *domain.OccurrenceEvent) {
	memberField := action.MemberIDField
	if memberField == "" {
		memberField = defaultMemberIDField
	}
	memberID, ok := evt.Int64(memberField)
	if !ok || memberID == 0 {
		c.logger.Warn("occurrence event missing member identity",
			"rule", rule.Name,
			"event_type", evt.EventType,
			"field", memberField,
		)
		return
	}

	txField := action.TransactionIDField
	if txField == "" {
		txField = defaultTransactionIDField
	}
	txID, ok := evt.Int64(txField)
	if !ok {
		txID, ok = evt.Int64(fallbackEventIDField)
	}
	if !ok || txID == 0 {
		c.logger.Warn("occurrence event missing dedup identity",
			"rule", rule.Name,
			"event_type", evt.EventType,
			"field", txField,
		)
		return
	}

	amount, _ := evt.Float64("amount")
	points := c.points(action, amount)
	if points <= 0 {
		return
	}

	reason := action.Reason
	if reason == "" {
		reason = rule.Name
	}

	earned := domain.PointsEarnedEvent{
		MemberID:      memberID,
		TransactionID: txID,
		PointsEarned:  points,
		Reason:        reason,
	}
	payload, err := json.Marshal(earned)
	if err != nil {
		c.logger.Error("failed to marshal points event", "error", err)
		return
	}

	if err := c.bus.Publish(ctx, domain.TopicPointsEarned, payload); err != nil {
		c.logger.Error("failed to publish points event",
			"rule", rule.Name,
			"member_id", memberID,
			"error", err,
		)
		return
	}

	c.logger.Info("event rule awarded points",
		"rule", rule.Name,
		"event_type", evt.EventType,
		"member_id", memberID,
		"points", points,
	)
}

// points resolves the award size for an action against an optional amount.
func (c *Consumer) points(action domain.RuleAction, amount float64) int {
	switch action.Type {
	case domain.ActionAwardPoints:
		return action.Points + int(math.Floor(amount*action.Multiplier))

	case domain.ActionTieredPoints:
		for _, rng := range action.Ranges {
			if rng.Contains(amount) {
				return rng.Points + int(math.Floor(amount*rng.Multiplier))
			}
		}
	}
	return 0
}
