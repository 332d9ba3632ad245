// Package domain defines the core types and interfaces of the PLB rule engine.
package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Repository persists ruleset documents and processing results.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	SaveRuleset(ctx context.Context, tenantID string, rs *StoredRuleset) error
	GetRuleset(ctx context.Context, tenantID string, id string) (*StoredRuleset, error)
	ListRulesets(ctx context.Context, tenantID string) ([]*StoredRuleset, error)
	DeleteRuleset(ctx context.Context, tenantID string, id string) error

	SaveResult(ctx context.Context, tenantID string, result *ProcessingResult) error
	GetResult(ctx context.Context, tenantID string, id string) (*ProcessingResult, error)
	ListResultsByTicket(ctx context.Context, tenantID string, ticket string) ([]*ResultSummary, error)

	Ping(ctx context.Context) error
	Close() error
}

// StoredRuleset is a ruleset document as persisted.
type StoredRuleset struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenantId"`
	SourceName string          `json:"sourceName"`
	Document   json.RawMessage `json:"document"`
	Enabled    bool            `json:"enabled"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// ResultSummary is the indexed projection of a stored result.
type ResultSummary struct {
	ID                string          `json:"id"`
	TicketNumber      string          `json:"ticketNumber"`
	CouponNumber      string          `json:"couponNumber"`
	Airline           string          `json:"airline"`
	EligibleContracts int             `json:"eligibleContracts"`
	TotalPayout       decimal.Decimal `json:"totalPayout"`
	CreatedAt         time.Time       `json:"createdAt"`
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
