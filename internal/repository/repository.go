// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/opensource-loyalty/magpie/internal/domain"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// querier is the subset of *sql.DB and *sql.Tx the repository uses, so the
// same methods serve both direct and transactional access.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	q      querier
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		q:      db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if r.driver == "postgres" {
			schema = strings.ReplaceAll(schema, "INTEGER PRIMARY KEY", "BIGSERIAL PRIMARY KEY")
			schema = strings.ReplaceAll(schema, " REAL ", " DOUBLE PRECISION ")
		}
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// WithTx runs fn against a transactional view of the repository.
func (r *SQLRepository) WithTx(ctx context.Context, fn func(domain.Repository) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txRepo := &SQLRepository{db: r.db, q: tx, driver: r.driver}
	if err := fn(txRepo); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	return tx.Commit()
}

// ---- Members ----

// SaveMember inserts a new member and fills in its generated ID.
func (r *SQLRepository) SaveMember(ctx context.Context, m *domain.Member) error {
	if m.Tier == "" {
		m.Tier = domain.TierBronze
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO members (name, email, phone, tier, total_points, lifetime_points, expired_points, last_tier_evaluation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	err := r.q.QueryRowContext(ctx, r.rebind(query),
		m.Name, m.Email, m.Phone, string(m.Tier),
		m.TotalPoints, m.LifetimePoints, m.ExpiredPoints,
		m.LastTierEvaluation, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: email %s", ErrDuplicate, m.Email)
		}
		return fmt.Errorf("failed to save member: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a unique-constraint failure from
// either driver. modernc/sqlite exposes no typed error, so the sqlite side
// matches on the constraint message.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// UpdateMember persists balance/tier mutations of an existing member.
func (r *SQLRepository) UpdateMember(ctx context.Context, m *domain.Member) error {
	query := `
		UPDATE members
		SET name = ?, phone = ?, tier = ?, total_points = ?, lifetime_points = ?,
		    expired_points = ?, last_tier_evaluation = ?
		WHERE id = ?
	`

	result, err := r.q.ExecContext(ctx, r.rebind(query),
		m.Name, m.Phone, string(m.Tier),
		m.TotalPoints, m.LifetimePoints, m.ExpiredPoints,
		m.LastTierEvaluation, m.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

const memberColumns = `id, name, email, phone, tier, total_points, lifetime_points, expired_points, last_tier_evaluation, created_at`

func scanMember(row interface{ Scan(...any) error }) (*domain.Member, error) {
	var m domain.Member
	var tier string
	var phone sql.NullString
	var lastEval sql.NullTime

	err := row.Scan(&m.ID, &m.Name, &m.Email, &phone, &tier,
		&m.TotalPoints, &m.LifetimePoints, &m.ExpiredPoints, &lastEval, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	m.Tier = domain.MemberTier(tier)
	m.Phone = phone.String
	if lastEval.Valid {
		t := lastEval.Time
		m.LastTierEvaluation = &t
	}
	return &m, nil
}

// GetMember retrieves a member by ID.
func (r *SQLRepository) GetMember(ctx context.Context, id int64) (*domain.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE id = ?`

	m, err := scanMember(r.q.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetMemberByEmail retrieves a member by email.
func (r *SQLRepository) GetMemberByEmail(ctx context.Context, email string) (*domain.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE email = ?`

	m, err := scanMember(r.q.QueryRowContext(ctx, r.rebind(query), email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMembers retrieves all members ordered by ID.
func (r *SQLRepository) ListMembers(ctx context.Context) ([]*domain.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members ORDER BY id`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// MemberExists reports whether a member row exists.
func (r *SQLRepository) MemberExists(ctx context.Context, id int64) (bool, error) {
	var exists int
	query := `SELECT COUNT(1) FROM members WHERE id = ?`
	if err := r.q.QueryRowContext(ctx, r.rebind(query), id).Scan(&exists); err != nil {
		return false, err
	}
	return exists > 0, nil
}

// ---- Transactions ----

// SaveTransaction stores a transaction and fills in its generated ID.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.TransactionDate.IsZero() {
		tx.TransactionDate = time.Now().UTC()
	}

	query := `
		INSERT INTO transactions (member_id, amount, payment_method, product_category, transaction_date)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`

	err := r.q.QueryRowContext(ctx, r.rebind(query),
		tx.MemberID, tx.Amount, tx.PaymentMethod, tx.ProductCategory, tx.TransactionDate,
	).Scan(&tx.ID)
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	query := `
		SELECT id, member_id, amount, payment_method, product_category, transaction_date
		FROM transactions
		WHERE id = ?
	`

	var tx domain.Transaction
	var payment, category sql.NullString
	err := r.q.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&tx.ID, &tx.MemberID, &tx.Amount, &payment, &category, &tx.TransactionDate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tx.PaymentMethod = payment.String
	tx.ProductCategory = category.String
	return &tx, nil
}

// ListTransactionsByMember retrieves a member's transactions, newest first.
func (r *SQLRepository) ListTransactionsByMember(ctx context.Context, memberID int64, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, member_id, amount, payment_method, product_category, transaction_date
		FROM transactions
		WHERE member_id = ?
		ORDER BY transaction_date DESC
		LIMIT ?
	`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), memberID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var payment, category sql.NullString
		if err := rows.Scan(&tx.ID, &tx.MemberID, &tx.Amount, &payment, &category, &tx.TransactionDate); err != nil {
			return nil, err
		}
		tx.PaymentMethod = payment.String
		tx.ProductCategory = category.String
		transactions = append(transactions, &tx)
	}
	return transactions, rows.Err()
}

// GetActivitySummary aggregates a member's transaction count and total amount
// within [since, until). Returns a zero-valued summary when there are no rows.
func (r *SQLRepository) GetActivitySummary(ctx context.Context, memberID int64, since, until time.Time) (*domain.ActivitySummary, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE member_id = ? AND transaction_date >= ? AND transaction_date < ?
	`

	summary := &domain.ActivitySummary{MemberID: memberID}
	err := r.q.QueryRowContext(ctx, r.rebind(query), memberID, since, until).Scan(
		&summary.TransactionCount, &summary.TotalAmount,
	)
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// ---- Rules ----

const ruleColumns = `id, rule_type, rule_name, conditions, actions, priority, is_active,
	evaluation_type, target_tier, target_product_code, target_product_codes,
	min_amount, max_amount, min_volume, max_volume, reward_type,
	valid_from, valid_until, expression, created_at, updated_at`

// SaveRule inserts a rule and fills in its generated ID. Actions are decoded
// through the closed tagged-variant set before this point; here they are
// stored as their canonical JSON.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	conditions, _ := json.Marshal(rule.Conditions)
	actions, _ := json.Marshal(rule.Actions)
	productCodes, _ := json.Marshal(rule.TargetProductCodes)

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	query := `
		INSERT INTO rules (rule_type, rule_name, conditions, actions, priority, is_active,
			evaluation_type, target_tier, target_product_code, target_product_codes,
			min_amount, max_amount, min_volume, max_volume, reward_type,
			valid_from, valid_until, expression, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	err := r.q.QueryRowContext(ctx, r.rebind(query),
		rule.RuleType, rule.Name, string(conditions), string(actions),
		rule.Priority, boolToInt(rule.Active),
		rule.EvaluationScope, rule.TargetTier, rule.TargetProductCode, string(productCodes),
		rule.MinAmount, rule.MaxAmount, rule.MinVolume, rule.MaxVolume, rule.RewardType,
		rule.ValidFrom, rule.ValidUntil, rule.Expression,
		rule.CreatedAt, rule.UpdatedAt,
	).Scan(&rule.ID)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

// UpdateRule replaces a rule's mutable fields.
func (r *SQLRepository) UpdateRule(ctx context.Context, rule *domain.Rule) error {
	conditions, _ := json.Marshal(rule.Conditions)
	actions, _ := json.Marshal(rule.Actions)
	productCodes, _ := json.Marshal(rule.TargetProductCodes)

	rule.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE rules
		SET rule_type = ?, rule_name = ?, conditions = ?, actions = ?, priority = ?, is_active = ?,
			evaluation_type = ?, target_tier = ?, target_product_code = ?, target_product_codes = ?,
			min_amount = ?, max_amount = ?, min_volume = ?, max_volume = ?, reward_type = ?,
			valid_from = ?, valid_until = ?, expression = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.q.ExecContext(ctx, r.rebind(query),
		rule.RuleType, rule.Name, string(conditions), string(actions),
		rule.Priority, boolToInt(rule.Active),
		rule.EvaluationScope, rule.TargetTier, rule.TargetProductCode, string(productCodes),
		rule.MinAmount, rule.MaxAmount, rule.MinVolume, rule.MaxVolume, rule.RewardType,
		rule.ValidFrom, rule.ValidUntil, rule.Expression, rule.UpdatedAt,
		rule.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRule(row interface{ Scan(...any) error }) (*domain.Rule, error) {
	var rule domain.Rule
	var conditions, actions, productCodes sql.NullString
	var scope, targetTier, productCode, rewardType, expression sql.NullString
	var active int
	var validFrom, validUntil sql.NullTime

	err := row.Scan(&rule.ID, &rule.RuleType, &rule.Name, &conditions, &actions,
		&rule.Priority, &active,
		&scope, &targetTier, &productCode, &productCodes,
		&rule.MinAmount, &rule.MaxAmount, &rule.MinVolume, &rule.MaxVolume, &rewardType,
		&validFrom, &validUntil, &expression, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rule.Active = active == 1
	rule.EvaluationScope = scope.String
	rule.TargetTier = targetTier.String
	rule.TargetProductCode = productCode.String
	rule.RewardType = rewardType.String
	rule.Expression = expression.String
	if validFrom.Valid {
		t := validFrom.Time
		rule.ValidFrom = &t
	}
	if validUntil.Valid {
		t := validUntil.Time
		rule.ValidUntil = &t
	}

	if conditions.String != "" {
		if err := json.Unmarshal([]byte(conditions.String), &rule.Conditions); err != nil {
			return nil, fmt.Errorf("failed to parse rule conditions: %w", err)
		}
	}
	if actions.String != "" {
		decoded, err := domain.DecodeActions([]byte(actions.String))
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", rule.ID, err)
		}
		rule.Actions = decoded
	}
	if productCodes.String != "" {
		json.Unmarshal([]byte(productCodes.String), &rule.TargetProductCodes)
	}

	return &rule, nil
}

// GetRule retrieves a rule by ID.
func (r *SQLRepository) GetRule(ctx context.Context, id int64) (*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = ?`

	rule, err := scanRule(r.q.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules retrieves all rules in store iteration order (by ID). The
// declarative evaluator depends on this ordering being stable; it does not
// sort by priority.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules ORDER BY id`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// DeleteRule removes a rule.
func (r *SQLRepository) DeleteRule(ctx context.Context, id int64) error {
	result, err := r.q.ExecContext(ctx, r.rebind(`DELETE FROM rules WHERE id = ?`), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CountRules returns the number of stored rules.
func (r *SQLRepository) CountRules(ctx context.Context) (int64, error) {
	var count int64
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM rules`).Scan(&count)
	return count, err
}

// ---- Rule audits ----

// SaveRuleAudit appends a rule firing record.
func (r *SQLRepository) SaveRuleAudit(ctx context.Context, a *domain.RuleAudit) error {
	if a.FiredAt.IsZero() {
		a.FiredAt = time.Now().UTC()
	}

	query := `
		INSERT INTO rule_audits (member_id, rule_name, result_type, result_value, fired_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`

	return r.q.QueryRowContext(ctx, r.rebind(query),
		a.MemberID, a.RuleName, a.ResultType, a.ResultValue, a.FiredAt,
	).Scan(&a.ID)
}

// ListRuleAudits retrieves a member's firing records, newest first.
func (r *SQLRepository) ListRuleAudits(ctx context.Context, memberID int64, limit int) ([]*domain.RuleAudit, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, member_id, rule_name, result_type, result_value, fired_at
		FROM rule_audits
		WHERE member_id = ?
		ORDER BY fired_at DESC
		LIMIT ?
	`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), memberID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []*domain.RuleAudit
	for rows.Next() {
		var a domain.RuleAudit
		var value sql.NullString
		if err := rows.Scan(&a.ID, &a.MemberID, &a.RuleName, &a.ResultType, &value, &a.FiredAt); err != nil {
			return nil, err
		}
		a.ResultValue = value.String
		audits = append(audits, &a)
	}
	return audits, rows.Err()
}

// ---- Point transactions ----

// SavePointTransaction appends a ledger entry and fills in its generated ID.
func (r *SQLRepository) SavePointTransaction(ctx context.Context, pt *domain.PointTransaction) error {
	if pt.Status == "" {
		pt.Status = domain.PointStatusActive
	}

	query := `
		INSERT INTO point_transactions (member_id, points, earned_date, expiry_date, status, transaction_id, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	err := r.q.QueryRowContext(ctx, r.rebind(query),
		pt.MemberID, pt.Points, pt.EarnedDate, pt.ExpiryDate,
		string(pt.Status), pt.TransactionID, pt.Reason,
	).Scan(&pt.ID)
	if err != nil {
		return fmt.Errorf("failed to save point transaction: %w", err)
	}
	return nil
}

// ListPointTransactionsByMember retrieves a member's ledger entries, newest first.
func (r *SQLRepository) ListPointTransactionsByMember(ctx context.Context, memberID int64) ([]*domain.PointTransaction, error) {
	query := `
		SELECT id, member_id, points, earned_date, expiry_date, status, transaction_id, reason
		FROM point_transactions
		WHERE member_id = ?
		ORDER BY earned_date DESC
	`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPointTransactions(rows)
}

// ListExpiredPointTransactions retrieves ACTIVE entries whose expiry date has
// passed as of the given instant.
func (r *SQLRepository) ListExpiredPointTransactions(ctx context.Context, asOf time.Time) ([]*domain.PointTransaction, error) {
	query := `
		SELECT id, member_id, points, earned_date, expiry_date, status, transaction_id, reason
		FROM point_transactions
		WHERE status = ? AND expiry_date < ?
	`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), string(domain.PointStatusActive), asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPointTransactions(rows)
}

func collectPointTransactions(rows *sql.Rows) ([]*domain.PointTransaction, error) {
	var entries []*domain.PointTransaction
	for rows.Next() {
		var pt domain.PointTransaction
		var status string
		var txID sql.NullInt64
		var reason sql.NullString
		if err := rows.Scan(&pt.ID, &pt.MemberID, &pt.Points, &pt.EarnedDate, &pt.ExpiryDate, &status, &txID, &reason); err != nil {
			return nil, err
		}
		pt.Status = domain.PointStatus(status)
		pt.Reason = reason.String
		if txID.Valid {
			id := txID.Int64
			pt.TransactionID = &id
		}
		entries = append(entries, &pt)
	}
	return entries, rows.Err()
}

// TransitionPointTransactionStatus moves a ledger entry from one status to
// another. The guard on the current status makes the transition a
// compare-and-set: a second caller racing on the same entry gets false.
func (r *SQLRepository) TransitionPointTransactionStatus(ctx context.Context, id int64, from, to domain.PointStatus) (bool, error) {
	result, err := r.q.ExecContext(ctx,
		r.rebind(`UPDATE point_transactions SET status = ? WHERE id = ? AND status = ?`),
		string(to), id, string(from),
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// DeletePointTransactionsByMember removes all of a member's ledger entries.
func (r *SQLRepository) DeletePointTransactionsByMember(ctx context.Context, memberID int64) error {
	_, err := r.q.ExecContext(ctx,
		r.rebind(`DELETE FROM point_transactions WHERE member_id = ?`), memberID)
	return err
}

// ---- Dedup markers ----

// IsTransactionProcessed reports whether an award for the transaction has
// already been applied.
func (r *SQLRepository) IsTransactionProcessed(ctx context.Context, transactionID int64) (bool, error) {
	var count int
	query := `SELECT COUNT(1) FROM processed_transactions WHERE transaction_id = ?`
	if err := r.q.QueryRowContext(ctx, r.rebind(query), transactionID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkTransactionProcessed records the dedup marker. A second insert for the
// same transaction fails on the primary key, surfacing races between
// concurrent deliveries of the same award.
func (r *SQLRepository) MarkTransactionProcessed(ctx context.Context, transactionID int64) error {
	query := `INSERT INTO processed_transactions (transaction_id, processed_at) VALUES (?, ?)`
	_, err := r.q.ExecContext(ctx, r.rebind(query), transactionID, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: transaction %d", ErrDuplicate, transactionID)
		}
		return fmt.Errorf("failed to mark transaction processed: %w", err)
	}
	return nil
}

// ---- Tier thresholds ----

// SaveTierThreshold inserts a threshold row.
func (r *SQLRepository) SaveTierThreshold(ctx context.Context, t *domain.TierThreshold) error {
	query := `
		INSERT INTO tier_thresholds (target_tier, min_monthly_amount, min_monthly_transaction_count, priority, description)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`

	err := r.q.QueryRowContext(ctx, r.rebind(query),
		string(t.TargetTier), t.MinMonthlyAmount, t.MinMonthlyTransactionCount, t.Priority, t.Description,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to save tier threshold: %w", err)
	}
	return nil
}

// ListTierThresholds retrieves all thresholds in ascending priority order.
func (r *SQLRepository) ListTierThresholds(ctx context.Context) ([]*domain.TierThreshold, error) {
	query := `
		SELECT id, target_tier, min_monthly_amount, min_monthly_transaction_count, priority, description
		FROM tier_thresholds
		ORDER BY priority ASC
	`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var thresholds []*domain.TierThreshold
	for rows.Next() {
		var t domain.TierThreshold
		var tier string
		var desc sql.NullString
		if err := rows.Scan(&t.ID, &tier, &t.MinMonthlyAmount, &t.MinMonthlyTransactionCount, &t.Priority, &desc); err != nil {
			return nil, err
		}
		t.TargetTier = domain.MemberTier(tier)
		t.Description = desc.String
		thresholds = append(thresholds, &t)
	}
	return thresholds, rows.Err()
}

// DeleteTierThreshold removes a threshold row.
func (r *SQLRepository) DeleteTierThreshold(ctx context.Context, id int64) error {
	result, err := r.q.ExecContext(ctx, r.rebind(`DELETE FROM tier_thresholds WHERE id = ?`), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- Expiration configs ----

// SaveExpirationConfig inserts a config row.
func (r *SQLRepository) SaveExpirationConfig(ctx context.Context, c *domain.PointExpirationConfig) error {
	if c.Policy == "" {
		c.Policy = domain.PolicyRolling
	}

	query := `
		INSERT INTO point_expiration_configs (expiration_months, policy, is_active, description, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`

	err := r.q.QueryRowContext(ctx, r.rebind(query),
		c.ExpirationMonths, string(c.Policy), boolToInt(c.Active), c.Description, time.Now().UTC(),
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("failed to save expiration config: %w", err)
	}
	return nil
}

// ActiveExpirationConfig retrieves the single governing config: the most
// recently created active row. Returns ErrNotFound when none is configured.
func (r *SQLRepository) ActiveExpirationConfig(ctx context.Context) (*domain.PointExpirationConfig, error) {
	query := `
		SELECT id, expiration_months, policy, is_active, description
		FROM point_expiration_configs
		WHERE is_active = 1
		ORDER BY id DESC
		LIMIT 1
	`

	var c domain.PointExpirationConfig
	var policy string
	var active int
	var desc sql.NullString
	err := r.q.QueryRowContext(ctx, query).Scan(&c.ID, &c.ExpirationMonths, &policy, &active, &desc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Policy = domain.ExpirationPolicy(policy)
	c.Active = active == 1
	c.Description = desc.String
	return &c, nil
}

// ListExpirationConfigs retrieves all config rows, newest first.
func (r *SQLRepository) ListExpirationConfigs(ctx context.Context) ([]*domain.PointExpirationConfig, error) {
	query := `
		SELECT id, expiration_months, policy, is_active, description
		FROM point_expiration_configs
		ORDER BY id DESC
	`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.PointExpirationConfig
	for rows.Next() {
		var c domain.PointExpirationConfig
		var policy string
		var active int
		var desc sql.NullString
		if err := rows.Scan(&c.ID, &c.ExpirationMonths, &policy, &active, &desc); err != nil {
			return nil, err
		}
		c.Policy = domain.ExpirationPolicy(policy)
		c.Active = active == 1
		c.Description = desc.String
		configs = append(configs, &c)
	}
	return configs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
