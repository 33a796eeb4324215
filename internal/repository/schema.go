package repository

// Schema definitions for the Magpie database.
// Compatible with both SQLite and PostgreSQL.

const schemaMembers = `
CREATE TABLE IF NOT EXISTS members (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL UNIQUE,
    phone TEXT,
    tier TEXT NOT NULL DEFAULT 'BRONZE',
    total_points INTEGER NOT NULL DEFAULT 0,
    lifetime_points INTEGER NOT NULL DEFAULT 0,
    expired_points INTEGER NOT NULL DEFAULT 0,
    last_tier_evaluation TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_members_email ON members(email);
CREATE INDEX IF NOT EXISTS idx_members_tier ON members(tier);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id INTEGER PRIMARY KEY,
    member_id INTEGER NOT NULL,
    amount REAL NOT NULL,
    payment_method TEXT,
    product_category TEXT,
    transaction_date TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_member ON transactions(member_id);
CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(member_id, transaction_date);
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id INTEGER PRIMARY KEY,
    rule_type TEXT NOT NULL,
    rule_name TEXT NOT NULL,
    conditions TEXT,
    actions TEXT,
    priority INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    evaluation_type TEXT,
    target_tier TEXT,
    target_product_code TEXT,
    target_product_codes TEXT,
    min_amount REAL,
    max_amount REAL,
    min_volume INTEGER,
    max_volume INTEGER,
    reward_type TEXT,
    valid_from TIMESTAMP,
    valid_until TIMESTAMP,
    expression TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_type ON rules(rule_type);
CREATE INDEX IF NOT EXISTS idx_rules_active ON rules(is_active);
`

const schemaRuleAudits = `
CREATE TABLE IF NOT EXISTS rule_audits (
    id INTEGER PRIMARY KEY,
    member_id INTEGER NOT NULL,
    rule_name TEXT NOT NULL,
    result_type TEXT NOT NULL,
    result_value TEXT,
    fired_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_audits_member ON rule_audits(member_id);
`

const schemaPointTransactions = `
CREATE TABLE IF NOT EXISTS point_transactions (
    id INTEGER PRIMARY KEY,
    member_id INTEGER NOT NULL,
    points INTEGER NOT NULL,
    earned_date TIMESTAMP NOT NULL,
    expiry_date TIMESTAMP NOT NULL,
    status TEXT NOT NULL DEFAULT 'ACTIVE',
    transaction_id INTEGER,
    reason TEXT
);

CREATE INDEX IF NOT EXISTS idx_point_tx_member ON point_transactions(member_id);
CREATE INDEX IF NOT EXISTS idx_point_tx_expiry ON point_transactions(status, expiry_date);
`

const schemaProcessedTransactions = `
CREATE TABLE IF NOT EXISTS processed_transactions (
    transaction_id INTEGER PRIMARY KEY,
    processed_at TIMESTAMP NOT NULL
);
`

const schemaTierThresholds = `
CREATE TABLE IF NOT EXISTS tier_thresholds (
    id INTEGER PRIMARY KEY,
    target_tier TEXT NOT NULL UNIQUE,
    min_monthly_amount REAL NOT NULL,
    min_monthly_transaction_count INTEGER NOT NULL,
    priority INTEGER NOT NULL,
    description TEXT
);

CREATE INDEX IF NOT EXISTS idx_tier_thresholds_priority ON tier_thresholds(priority);
`

const schemaExpirationConfigs = `
CREATE TABLE IF NOT EXISTS point_expiration_configs (
    id INTEGER PRIMARY KEY,
    expiration_months INTEGER NOT NULL,
    policy TEXT NOT NULL DEFAULT 'ROLLING',
    is_active INTEGER NOT NULL DEFAULT 1,
    description TEXT,
    created_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaMembers,
		schemaTransactions,
		schemaRules,
		schemaRuleAudits,
		schemaPointTransactions,
		schemaProcessedTransactions,
		schemaTierThresholds,
		schemaExpirationConfigs,
	}
}
