// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/plb/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
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
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRuleset stores a ruleset document, replacing any previous version
// with the same id. Saving re-enables a deleted ruleset.
func (r *SQLRepository) SaveRuleset(ctx context.Context, tenantID string, rs *domain.StoredRuleset) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rs == nil || rs.ID == "" {
		return fmt.Errorf("%w: ruleset id is required", ErrInvalidInput)
	}
	if !json.Valid(rs.Document) {
		return fmt.Errorf("%w: ruleset document is not valid JSON", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = now
	}
	rs.UpdatedAt = now
	rs.TenantID = tenantID
	rs.Enabled = true

	query := `
		INSERT INTO rulesets (
			id, tenant_id, source_name, document, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			source_name = excluded.source_name,
			document = excluded.document,
			enabled = 1,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rs.ID, tenantID, rs.SourceName, string(rs.Document),
		rs.CreatedAt, rs.UpdatedAt,
	)
	return err
}

// GetRuleset retrieves an enabled ruleset with tenant isolation.
func (r *SQLRepository) GetRuleset(ctx context.Context, tenantID string, id string) (*domain.StoredRuleset, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, source_name, document, enabled, created_at, updated_at
		FROM rulesets
		WHERE tenant_id = ? AND id = ? AND enabled = 1
	`

	rs, err := scanRuleset(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// ListRulesets retrieves all enabled rulesets for a tenant, ordered by id.
func (r *SQLRepository) ListRulesets(ctx context.Context, tenantID string) ([]*domain.StoredRuleset, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, source_name, document, enabled, created_at, updated_at
		FROM rulesets
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []*domain.StoredRuleset
	for rows.Next() {
		rs, err := scanRuleset(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, rs)
	}

	return sets, rows.Err()
}

// DeleteRuleset soft-deletes a ruleset by setting enabled = 0.
func (r *SQLRepository) DeleteRuleset(ctx context.Context, tenantID string, id string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE rulesets
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND enabled = 1
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, id)
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

// SaveResult stores a processing result with tenant isolation.
func (r *SQLRepository) SaveResult(ctx context.Context, tenantID string, result *domain.ProcessingResult) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if result == nil || result.ID == "" {
		return fmt.Errorf("%w: result id is required", ErrInvalidInput)
	}

	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	var ticket, coupon, airline string
	if result.Record != nil {
		ticket = result.Record.TicketNumber.String()
		coupon = result.Record.CouponNumber.String()
		airline = result.Record.AirlineCode
	} else if t, c, ok := strings.Cut(result.RecordKey, "-"); ok {
		ticket, coupon = t, c
	}

	createdAt := result.ProcessedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO results (
			id, tenant_id, ticket_number, coupon_number, airline,
			eligible_contracts, total_payout, result, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		result.ID, tenantID, ticket, coupon, airline,
		result.EligibleContracts, result.TotalPayout().String(), string(doc),
		createdAt.UTC(),
	)
	return err
}

// GetResult retrieves a processing result by ID with tenant isolation.
func (r *SQLRepository) GetResult(ctx context.Context, tenantID string, id string) (*domain.ProcessingResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT result
		FROM results
		WHERE tenant_id = ? AND id = ?
	`

	var doc string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var result domain.ProcessingResult
	if err := json.Unmarshal([]byte(doc), &result); err != nil {
		return nil, fmt.Errorf("failed to parse result %s: %w", id, err)
	}
	return &result, nil
}

// ListResultsByTicket returns summaries of every result stored for a
// ticket, newest first.
func (r *SQLRepository) ListResultsByTicket(ctx context.Context, tenantID string, ticket string) ([]*domain.ResultSummary, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, ticket_number, coupon_number, airline,
			   eligible_contracts, total_payout, created_at
		FROM results
		WHERE tenant_id = ? AND ticket_number = ?
		ORDER BY created_at DESC, coupon_number
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, ticket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*domain.ResultSummary
	for rows.Next() {
		var s domain.ResultSummary
		if err := rows.Scan(
			&s.ID, &s.TicketNumber, &s.CouponNumber, &s.Airline,
			&s.EligibleContracts, &s.TotalPayout, &s.CreatedAt,
		); err != nil {
			return nil, err
		}
		summaries = append(summaries, &s)
	}

	return summaries, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuleset(row rowScanner) (*domain.StoredRuleset, error) {
	var rs domain.StoredRuleset
	var doc string
	var enabled int

	if err := row.Scan(
		&rs.ID, &rs.TenantID, &rs.SourceName, &doc, &enabled,
		&rs.CreatedAt, &rs.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rs.Document = json.RawMessage(doc)
	rs.Enabled = enabled == 1
	return &rs, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
