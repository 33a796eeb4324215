package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opensource-loyalty/magpie/internal/domain"
)

// Notifier is a side-effect-free subscriber on points-earned events. It
// stands in for an outbound notification channel; delivery here is a
// structured log line per award.
type Notifier struct {
	bus    domain.EventBus
	logger *slog.Logger

	sub domain.Subscription
}

// NewNotifier creates the notifier.
func NewNotifier(bus domain.EventBus, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{bus: bus, logger: logger}
}

// Start subscribes to points-earned events.
func (n *Notifier) Start(ctx context.Context) error {
	sub, err := n.bus.Subscribe(ctx, domain.TopicPointsEarned, n.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicPointsEarned, err)
	}
	n.sub = sub
	n.logger.Info("notifier started", "topic", domain.TopicPointsEarned)
	return nil
}

// Stop unsubscribes.
func (n *Notifier) Stop() {
	if n.sub != nil {
		_ = n.sub.Unsubscribe()
	}
}

func (n *Notifier) handle(ctx context.Context, msg *domain.Message) error {
	var evt domain.PointsEarnedEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		n.logger.Warn("dropping malformed points event",
			"message_id", msg.ID,
			"error", err,
		)
		return nil
	}

	n.logger.Info("points notification",
		"member_id", evt.MemberID,
		"transaction_id", evt.TransactionID,
		"points", evt.PointsEarned,
		"reason", evt.Reason,
	)
	return nil
}
