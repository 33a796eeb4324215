package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Member operations
	SaveMember(ctx context.Context, m *Member) error
	UpdateMember(ctx context.Context, m *Member) error
	GetMember(ctx context.Context, id int64) (*Member, error)
	GetMemberByEmail(ctx context.Context, email string) (*Member, error)
	ListMembers(ctx context.Context) ([]*Member, error)
	MemberExists(ctx context.Context, id int64) (bool, error)

	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id int64) (*Transaction, error)
	ListTransactionsByMember(ctx context.Context, memberID int64, limit int) ([]*Transaction, error)
	GetActivitySummary(ctx context.Context, memberID int64, since, until time.Time) (*ActivitySummary, error)

	// Rule store operations
	SaveRule(ctx context.Context, r *Rule) error
	UpdateRule(ctx context.Context, r *Rule) error
	GetRule(ctx context.Context, id int64) (*Rule, error)
	ListRules(ctx context.Context) ([]*Rule, error)
	DeleteRule(ctx context.Context, id int64) error
	CountRules(ctx context.Context) (int64, error)

	// Rule audit trail
	SaveRuleAudit(ctx context.Context, a *RuleAudit) error
	ListRuleAudits(ctx context.Context, memberID int64, limit int) ([]*RuleAudit, error)

	// Points ledger
	SavePointTransaction(ctx context.Context, pt *PointTransaction) error
	ListPointTransactionsByMember(ctx context.Context, memberID int64) ([]*PointTransaction, error)
	ListExpiredPointTransactions(ctx context.Context, asOf time.Time) ([]*PointTransaction, error)
	// TransitionPointTransactionStatus moves an entry from one status to
	// another. Returns false when the entry no longer holds the expected
	// status, so overlapping sweeps claim each entry at most once.
	TransitionPointTransactionStatus(ctx context.Context, id int64, from, to PointStatus) (bool, error)
	DeletePointTransactionsByMember(ctx context.Context, memberID int64) error

	// Dedup markers
	IsTransactionProcessed(ctx context.Context, transactionID int64) (bool, error)
	MarkTransactionProcessed(ctx context.Context, transactionID int64) error

	// Tier thresholds
	SaveTierThreshold(ctx context.Context, t *TierThreshold) error
	ListTierThresholds(ctx context.Context) ([]*TierThreshold, error)
	DeleteTierThreshold(ctx context.Context, id int64) error

	// Point expiration configuration
	SaveExpirationConfig(ctx context.Context, c *PointExpirationConfig) error
	ActiveExpirationConfig(ctx context.Context) (*PointExpirationConfig, error)
	ListExpirationConfigs(ctx context.Context) ([]*PointExpirationConfig, error)

	// WithTx runs fn against a transactional view of the repository. All
	// writes made through fn's argument commit together or not at all.
	WithTx(ctx context.Context, fn func(Repository) error) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
