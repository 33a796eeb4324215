// Package rules provides reward rule evaluation: a declarative matcher over
// persisted rule rows and a CEL-Go compiled session for expression rules.
package rules

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-loyalty/magpie/internal/domain"
)

// RuleStore is the slice of the repository the rule engine reads from.
type RuleStore interface {
	ListRules(ctx context.Context) ([]*domain.Rule, error)
}

// Compiler maintains the shared session template: every active rule with a
// CEL expression, compiled once and reused across evaluations. Rebuilds are
// serialized; evaluations keep using the previous template until a rebuild
// succeeds.
type Compiler struct {
	env   *cel.Env
	store RuleStore

	buildMu sync.Mutex // serializes Rebuild

	mu       sync.RWMutex
	template *SessionTemplate
}

// compiledRule pairs a rule with its compiled CEL program.
type compiledRule struct {
	rule    *domain.Rule
	program cel.Program
}

// NewCompiler creates a compiler with the evaluation fact variables declared.
func NewCompiler(store RuleStore) (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("payment_method", cel.StringType),
		cel.Variable("product_category", cel.StringType),
		cel.Variable("member_tier", cel.StringType),
		cel.Variable("role", cel.StringType),
		cel.Variable("monthly_count", cel.IntType),
		cel.Variable("monthly_spent", cel.DoubleType),
		cel.Variable("quarterly_count", cel.IntType),
		cel.Variable("quarterly_spent", cel.DoubleType),
		cel.Variable("lifetime_count", cel.IntType),
		cel.Variable("lifetime_spent", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Compiler{
		env:   env,
		store: store,
	}, nil
}

// ValidateExpression compiles an expression without touching the template.
// Used at the rule admin boundary to reject bad expressions before they are
// stored.
func (c *Compiler) ValidateExpression(expr string) error {
	_, err := c.compile(expr, 0)
	return err
}

// Rebuild recompiles the session template from the current rule store. On any
// compile failure the previous template stays in service and the error is
// returned to the caller.
func (c *Compiler) Rebuild(ctx context.Context) error {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	rules, err := c.store.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	var compiled []*compiledRule
	for _, rule := range rules {
		if !rule.Active || rule.Expression == "" {
			continue
		}
		program, err := c.compile(rule.Expression, rule.ID)
		if err != nil {
			return err
		}
		compiled = append(compiled, &compiledRule{rule: rule, program: program})
	}

	c.mu.Lock()
	c.template = &SessionTemplate{compiled: compiled}
	c.mu.Unlock()

	return nil
}

// Session returns the current template, building it on first use.
func (c *Compiler) Session(ctx context.Context) (*SessionTemplate, error) {
	c.mu.RLock()
	tmpl := c.template
	c.mu.RUnlock()

	if tmpl != nil {
		return tmpl, nil
	}

	if err := c.Rebuild(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.template, nil
}

func (c *Compiler) compile(expr string, ruleID int64) (cel.Program, error) {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression for rule %d: %w", ruleID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %d: expression must return bool, int, or double, got %s", ruleID, outputType)
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %d: %w", ruleID, err)
	}
	return program, nil
}

// RuleCount returns the number of rules in the current template.
func (c *Compiler) RuleCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.template == nil {
		return 0
	}
	return len(c.template.compiled)
}

// SessionTemplate is an immutable set of compiled expression rules. Each
// evaluation creates a fresh context over it.
type SessionTemplate struct {
	compiled []*compiledRule
}

// NewContext binds the template to one evaluation's facts.
func (t *SessionTemplate) NewContext(fact *domain.TransactionFact, activity *domain.MemberActivityFact) *SessionContext {
	return &SessionContext{
		template: t,
		fact:     fact,
		activity: activity,
	}
}

// Firing records one expression rule that applied during a session.
type Firing struct {
	RuleName    string
	ResultType  string
	ResultValue string
	Points      int
}

// Firing result types.
const (
	ResultPoints  = "POINTS"
	ResultGeneral = "GENERAL"
)

// SessionContext is a single-use evaluation over a session template. Not safe
// for concurrent use; Release after Fire.
type SessionContext struct {
	template   *SessionTemplate
	fact       *domain.TransactionFact
	activity   *domain.MemberActivityFact
	activation map[string]any
	released   bool
}

// Fire evaluates every compiled rule against the bound facts. A boolean true
// result fires the rule; a positive numeric result fires and adds its floor
// to the fact's bonus points. The first evaluation error aborts the session.
func (s *SessionContext) Fire(ctx context.Context) ([]Firing, error) {
	if s.released {
		return nil, fmt.Errorf("session context already released")
	}

	s.activation = map[string]any{
		"amount":           s.fact.Amount,
		"payment_method":   s.fact.PaymentMethod,
		"product_category": s.fact.ProductCategory,
		"member_tier":      s.fact.MemberTier,
		"role":             s.fact.Role,
		"monthly_count":    int64(0),
		"monthly_spent":    0.0,
		"quarterly_count":  int64(0),
		"quarterly_spent":  0.0,
		"lifetime_count":   int64(0),
		"lifetime_spent":   0.0,
	}
	if s.activity != nil {
		s.activation["monthly_count"] = s.activity.MonthlyTransactionCount
		s.activation["monthly_spent"] = s.activity.MonthlyTotalSpent
		s.activation["quarterly_count"] = s.activity.QuarterlyTransactionCount
		s.activation["quarterly_spent"] = s.activity.QuarterlyTotalSpent
		s.activation["lifetime_count"] = s.activity.TransactionCount
		s.activation["lifetime_spent"] = s.activity.TotalSpent
	}

	var firings []Firing
	for _, cr := range s.template.compiled {
		out, _, err := cr.program.Eval(s.activation)
		if err != nil {
			return nil, fmt.Errorf("rule %q evaluation failed: %w", cr.rule.Name, err)
		}

		firing, fired := s.apply(cr.rule, out)
		if fired {
			firings = append(firings, firing)
		}
	}

	return firings, nil
}

// apply interprets one expression result against the fact.
func (s *SessionContext) apply(rule *domain.Rule, out ref.Val) (Firing, bool) {
	switch v := out.(type) {
	case types.Bool:
		if !bool(v) {
			return Firing{}, false
		}
		return Firing{
			RuleName:    rule.Name,
			ResultType:  ResultGeneral,
			ResultValue: "Fired",
		}, true

	case types.Int:
		if v <= 0 {
			return Firing{}, false
		}
		points := int(v)
		s.fact.BonusPoints += points
		return Firing{
			RuleName:    rule.Name,
			ResultType:  ResultPoints,
			ResultValue: fmt.Sprintf("%d", points),
			Points:      points,
		}, true

	case types.Double:
		if v <= 0 {
			return Firing{}, false
		}
		points := int(math.Floor(float64(v)))
		if points <= 0 {
			return Firing{}, false
		}
		s.fact.BonusPoints += points
		return Firing{
			RuleName:    rule.Name,
			ResultType:  ResultPoints,
			ResultValue: fmt.Sprintf("%d", points),
			Points:      points,
		}, true

	default:
		return Firing{}, false
	}
}

// Release discards the context. Safe to call multiple times.
func (s *SessionContext) Release() {
	s.released = true
	s.activation = nil
}
