package rules

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/opensource-loyalty/magpie/internal/domain"
)

// AuditSink records compiled-session rule firings.
type AuditSink interface {
	SaveRuleAudit(ctx context.Context, a *domain.RuleAudit) error
}

// Evaluator applies reward rules to a transaction fact. Two paths run per
// evaluation: the declarative matcher walks stored rule rows in store order,
// then the compiled session fires expression rules. Both annotate the same
// fact.
type Evaluator struct {
	store    RuleStore
	compiler *Compiler
	audits   AuditSink
	logger   *slog.Logger
}

// NewEvaluator creates an evaluator. The audit sink may be nil, in which case
// firings are only logged.
func NewEvaluator(store RuleStore, compiler *Compiler, audits AuditSink, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		store:    store,
		compiler: compiler,
		audits:   audits,
		logger:   logger,
	}
}

// Evaluate runs both rule paths against the fact. On error the fact may be
// partially annotated; callers that need all-or-nothing semantics evaluate a
// scratch copy and adopt it only on success.
func (e *Evaluator) Evaluate(ctx context.Context, fact *domain.TransactionFact, activity *domain.MemberActivityFact) error {
	rules, err := e.store.ListRules(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, rule := range rules {
		if !rule.Active || rule.RuleType == domain.RuleTypeEvent || rule.Expression != "" {
			continue
		}
		if !e.matches(rule, fact, activity, now) {
			continue
		}
		e.applyActions(rule, fact)
	}

	return e.fireSession(ctx, fact, activity)
}

// matches applies the declarative filters in order. A rule with no filters
// set matches every transaction. Only the expiry side of the validity window
// is enforced; validFrom is stored but not checked.
func (e *Evaluator) matches(rule *domain.Rule, fact *domain.TransactionFact, activity *domain.MemberActivityFact, now time.Time) bool {
	if rule.TargetTier != "" && !strings.EqualFold(rule.TargetTier, fact.MemberTier) {
		return false
	}

	if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
		return false
	}

	if len(rule.TargetProductCodes) > 0 {
		if !containsFold(rule.TargetProductCodes, fact.ProductCategory) {
			return false
		}
	} else if rule.TargetProductCode != "" && !strings.EqualFold(rule.TargetProductCode, fact.ProductCategory) {
		return false
	}

	// Amount bounds apply to the transaction itself regardless of scope.
	if rule.MinAmount != nil && fact.Amount < *rule.MinAmount {
		return false
	}
	if rule.MaxAmount != nil && fact.Amount > *rule.MaxAmount {
		return false
	}

	// Aggregate bounds need both a declared scope and activity data. A
	// TRANSACTION scope routes volume bounds through the lifetime-default
	// aggregate.
	if rule.EvaluationScope == "" || activity == nil {
		return true
	}

	count, spent := activity.Aggregate(rule.EvaluationScope)

	if rule.MinVolume != nil && count < *rule.MinVolume {
		return false
	}
	if rule.MaxVolume != nil && count > *rule.MaxVolume {
		return false
	}
	// For periodic scopes the minimum amount bound doubles as an aggregate
	// spend floor. Per-transaction scope already checked it above.
	if rule.EvaluationScope != domain.ScopeTransaction &&
		rule.MinAmount != nil && spent < *rule.MinAmount {
		return false
	}

	return true
}

// applyActions mutates the fact for every action of a matched rule.
func (e *Evaluator) applyActions(rule *domain.Rule, fact *domain.TransactionFact) {
	for _, action := range rule.Actions {
		switch action.Type {
		case domain.ActionAwardPoints:
			bonus := action.Points + int(math.Floor(fact.Amount*action.Multiplier))
			fact.BonusPoints += bonus

		case domain.ActionTieredPoints:
			for _, rng := range action.Ranges {
				if rng.Contains(fact.Amount) {
					fact.BonusPoints += rng.Points + int(math.Floor(fact.Amount*rng.Multiplier))
					break
				}
			}

		case domain.ActionAwardDiscount:
			pct := action.DiscountPercentage
			if pct == 0 {
				pct = 10.0
			}
			fact.RewardType = domain.RewardDiscount
			fact.DiscountPercentage = pct
		}
	}
}

// fireSession runs the compiled expression rules and records an audit row for
// each firing. Audit failures are logged, never fatal.
func (e *Evaluator) fireSession(ctx context.Context, fact *domain.TransactionFact, activity *domain.MemberActivityFact) error {
	if e.compiler == nil {
		return nil
	}

	template, err := e.compiler.Session(ctx)
	if err != nil {
		return err
	}

	session := template.NewContext(fact, activity)
	defer session.Release()

	firings, err := session.Fire(ctx)
	if err != nil {
		return err
	}

	for _, f := range firings {
		e.logger.Debug("rule fired",
			"rule", f.RuleName,
			"member_id", fact.MemberID,
			"result_type", f.ResultType,
			"result_value", f.ResultValue,
		)

		if e.audits == nil {
			continue
		}
		audit := &domain.RuleAudit{
			MemberID:    fact.MemberID,
			RuleName:    f.RuleName,
			ResultType:  f.ResultType,
			ResultValue: f.ResultValue,
		}
		if err := e.audits.SaveRuleAudit(ctx, audit); err != nil {
			e.logger.Warn("failed to save rule audit",
				"rule", f.RuleName,
				"member_id", fact.MemberID,
				"error", err,
			)
		}
	}

	return nil
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}
