package repository

// Schema definitions for the PLB database.
// Compatible with both SQLite and PostgreSQL.

const schemaRulesets = `
CREATE TABLE IF NOT EXISTS rulesets (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    source_name TEXT NOT NULL,
    document TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_rulesets_tenant ON rulesets(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rulesets_enabled ON rulesets(tenant_id, enabled);
`

// schemaResults stores processing results. The indexed columns are a
// projection of the JSON document kept in result.
const schemaResults = `
CREATE TABLE IF NOT EXISTS results (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    ticket_number TEXT NOT NULL,
    coupon_number TEXT NOT NULL,
    airline TEXT NOT NULL,
    eligible_contracts INTEGER NOT NULL DEFAULT 0,
    total_payout TEXT NOT NULL,
    result TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_tenant ON results(tenant_id);
CREATE INDEX IF NOT EXISTS idx_results_ticket ON results(tenant_id, ticket_number);
CREATE INDEX IF NOT EXISTS idx_results_created ON results(tenant_id, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRulesets,
		schemaResults,
	}
}
