package reward

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opensource-loyalty/magpie/internal/domain"
	"github.com/opensource-loyalty/magpie/internal/rules"
)

// Aggregator consumes transaction-created events, computes the total award
// (tiered base points plus rule bonus), and publishes a points-earned event.
// Rule evaluation failures degrade to base points only; they never block the
// award.
type Aggregator struct {
	bus       domain.EventBus
	facts     *FactBuilder
	evaluator *rules.Evaluator
	logger    *slog.Logger

	sub domain.Subscription
}

// NewAggregator creates the reward aggregator.
func NewAggregator(bus domain.EventBus, facts *FactBuilder, evaluator *rules.Evaluator, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		bus:       bus,
		facts:     facts,
		evaluator: evaluator,
		logger:    logger,
	}
}

// Start subscribes to transaction-created events.
func (a *Aggregator) Start(ctx context.Context) error {
	sub, err := a.bus.Subscribe(ctx, domain.TopicTransactionCreated, a.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicTransactionCreated, err)
	}
	a.sub = sub
	a.logger.Info("reward aggregator started", "topic", domain.TopicTransactionCreated)
	return nil
}

// Stop unsubscribes.
func (a *Aggregator) Stop() {
	if a.sub != nil {
		_ = a.sub.Unsubscribe()
	}
}

// handle processes one transaction-created event end to end.
func (a *Aggregator) handle(ctx context.Context, msg *domain.Message) error {
	var evt domain.TransactionCreatedEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		a.logger.Warn("dropping malformed transaction event",
			"message_id", msg.ID,
			"error", err,
		)
		return nil
	}
	if err := evt.Validate(); err != nil {
		a.logger.Warn("dropping invalid transaction event",
			"message_id", msg.ID,
			"error", err,
		)
		return nil
	}

	fact, activity, err := a.facts.Build(ctx, &evt)
	if err != nil {
		// Aggregates are an enrichment; the award proceeds without them.
		a.logger.Warn("fact building degraded",
			"transaction_id", evt.TransactionID,
			"member_id", evt.MemberID,
			"error", err,
		)
	}

	a.evaluate(ctx, fact, activity)

	base := rules.BasePoints(evt.Amount, domain.MemberTier(fact.MemberTier))
	total := base + fact.BonusPoints

	a.logger.Info("reward computed",
		"transaction_id", evt.TransactionID,
		"member_id", evt.MemberID,
		"tier", fact.MemberTier,
		"base_points", base,
		"bonus_points", fact.BonusPoints,
		"total_points", total,
	)

	if fact.RewardType == domain.RewardDiscount {
		a.logger.Info("discount reward applied",
			"transaction_id", evt.TransactionID,
			"member_id", evt.MemberID,
			"discount_percentage", fact.DiscountPercentage,
		)
	}

	if total <= 0 {
		return nil
	}

	earned := domain.PointsEarnedEvent{
		MemberID:      evt.MemberID,
		TransactionID: evt.TransactionID,
		PointsEarned:  total,
		Reason:        fmt.Sprintf("Tiered loyalty points (Tier: %s)", fact.MemberTier),
	}
	payload, err := json.Marshal(earned)
	if err != nil {
		return fmt.Errorf("failed to marshal points event: %w", err)
	}

	if err := a.bus.Publish(ctx, domain.TopicPointsEarned, payload); err != nil {
		a.logger.Error("failed to publish points event",
			"transaction_id", evt.TransactionID,
			"member_id", evt.MemberID,
			"error", err,
		)
		return err
	}

	return nil
}

// evaluate runs the rule engine on a scratch copy of the fact and adopts the
// annotations only on success. A failing evaluation leaves the fact with zero
// bonus.
func (a *Aggregator) evaluate(ctx context.Context, fact *domain.TransactionFact, activity *domain.MemberActivityFact) {
	if a.evaluator == nil {
		return
	}

	scratch := *fact
	if err := a.evaluator.Evaluate(ctx, &scratch, activity); err != nil {
		a.logger.Warn("rule evaluation failed, awarding base points only",
			"transaction_id", fact.TransactionID,
			"member_id", fact.MemberID,
			"error", err,
		)
		return
	}
	*fact = scratch
}
