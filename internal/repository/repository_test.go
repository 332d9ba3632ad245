package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/plb/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "plb-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testResult(id, ticket, coupon string, payout string) *domain.ProcessingResult {
	return &domain.ProcessingResult{
		ID:        id,
		RecordKey: ticket + "-" + coupon,
		Record: &domain.Record{
			TicketNumber: domain.Code(ticket),
			CouponNumber: domain.Code(coupon),
			AirlineCode:  "QR",
			Total:        decimal.RequireFromString("1100"),
		},
		AirlineEligibility: true,
		EligibleContracts:  1,
		Analyses: []domain.ContractAnalysis{
			{
				ContractID:      "C1",
				SectorEligible:  true,
				TriggerEligible: true,
				PayoutEligible:  true,
				PayoutValue:     decimal.RequireFromString(payout),
			},
		},
		ProcessedAt:   time.Now().UTC(),
		EngineVersion: "1.2.0",
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetRuleset", func(t *testing.T) {
		rs := &domain.StoredRuleset{
			ID:         "QR_2025",
			SourceName: "qr_2025.json",
			Document:   json.RawMessage(`{"ruleset_id":"QR_2025","rules":[]}`),
		}
		if err := repo.SaveRuleset(ctx, tenantID, rs); err != nil {
			t.Fatalf("SaveRuleset failed: %v", err)
		}

		got, err := repo.GetRuleset(ctx, tenantID, "QR_2025")
		if err != nil {
			t.Fatalf("GetRuleset failed: %v", err)
		}
		if got.SourceName != "qr_2025.json" || !got.Enabled {
			t.Errorf("unexpected ruleset %+v", got)
		}
		if got.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, got.TenantID)
		}
		if string(got.Document) != `{"ruleset_id":"QR_2025","rules":[]}` {
			t.Errorf("unexpected document %s", got.Document)
		}
	})

	t.Run("SaveRulesetReplaces", func(t *testing.T) {
		rs := &domain.StoredRuleset{
			ID:         "QR_2025",
			SourceName: "qr_2025_v2.json",
			Document:   json.RawMessage(`{"ruleset_id":"QR_2025"}`),
		}
		if err := repo.SaveRuleset(ctx, tenantID, rs); err != nil {
			t.Fatalf("SaveRuleset failed: %v", err)
		}

		sets, err := repo.ListRulesets(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListRulesets failed: %v", err)
		}
		if len(sets) != 1 || sets[0].SourceName != "qr_2025_v2.json" {
			t.Errorf("expected one replaced ruleset, got %+v", sets)
		}
	})

	t.Run("RejectsInvalidDocument", func(t *testing.T) {
		rs := &domain.StoredRuleset{ID: "bad", Document: json.RawMessage(`{`)}
		if err := repo.SaveRuleset(ctx, tenantID, rs); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("DeleteRuleset", func(t *testing.T) {
		rs := &domain.StoredRuleset{ID: "EK_2025", Document: json.RawMessage(`{}`)}
		if err := repo.SaveRuleset(ctx, tenantID, rs); err != nil {
			t.Fatalf("SaveRuleset failed: %v", err)
		}
		if err := repo.DeleteRuleset(ctx, tenantID, "EK_2025"); err != nil {
			t.Fatalf("DeleteRuleset failed: %v", err)
		}
		if _, err := repo.GetRuleset(ctx, tenantID, "EK_2025"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.DeleteRuleset(ctx, tenantID, "EK_2025"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}

		sets, err := repo.ListRulesets(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListRulesets failed: %v", err)
		}
		for _, s := range sets {
			if s.ID == "EK_2025" {
				t.Error("deleted ruleset still listed")
			}
		}
	})

	t.Run("SaveAndGetResult", func(t *testing.T) {
		res := testResult("res-001", "1572345678901", "1", "20.0000")
		if err := repo.SaveResult(ctx, tenantID, res); err != nil {
			t.Fatalf("SaveResult failed: %v", err)
		}

		got, err := repo.GetResult(ctx, tenantID, "res-001")
		if err != nil {
			t.Fatalf("GetResult failed: %v", err)
		}
		if got.RecordKey != "1572345678901-1" {
			t.Errorf("expected record key 1572345678901-1, got %s", got.RecordKey)
		}
		if len(got.Analyses) != 1 || !got.Analyses[0].PayoutValue.Equal(decimal.RequireFromString("20")) {
			t.Errorf("unexpected analyses %+v", got.Analyses)
		}
	})

	t.Run("ListResultsByTicket", func(t *testing.T) {
		if err := repo.SaveResult(ctx, tenantID, testResult("res-002", "1572345678901", "2", "5.5")); err != nil {
			t.Fatalf("SaveResult failed: %v", err)
		}
		if err := repo.SaveResult(ctx, tenantID, testResult("res-003", "9999999999999", "1", "1")); err != nil {
			t.Fatalf("SaveResult failed: %v", err)
		}

		summaries, err := repo.ListResultsByTicket(ctx, tenantID, "1572345678901")
		if err != nil {
			t.Fatalf("ListResultsByTicket failed: %v", err)
		}
		if len(summaries) != 2 {
			t.Fatalf("expected 2 summaries, got %d", len(summaries))
		}

		byID := map[string]*domain.ResultSummary{}
		for _, s := range summaries {
			byID[s.ID] = s
		}
		s := byID["res-002"]
		if s == nil {
			t.Fatal("missing res-002")
		}
		if s.CouponNumber != "2" || s.Airline != "QR" || s.EligibleContracts != 1 {
			t.Errorf("unexpected summary %+v", s)
		}
		if !s.TotalPayout.Equal(decimal.RequireFromString("5.5")) {
			t.Errorf("expected total payout 5.5, got %s", s.TotalPayout)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		otherTenant := "tenant-002"

		if _, err := repo.GetResult(ctx, otherTenant, "res-001"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
		if _, err := repo.GetRuleset(ctx, otherTenant, "QR_2025"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
		sets, err := repo.ListRulesets(ctx, otherTenant)
		if err != nil {
			t.Fatalf("ListRulesets failed: %v", err)
		}
		if len(sets) != 0 {
			t.Errorf("expected no rulesets for other tenant, got %d", len(sets))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := repo.SaveResult(ctx, "", testResult("res-x", "1", "1", "1")); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.GetResult(ctx, "", "res-001"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.ListRulesets(ctx, ""); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetResult(ctx, tenantID, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestInMemorySQLite(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if err := repo.SaveResult(ctx, "t1", testResult("r1", "123", "1", "2")); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}
	if _, err := repo.GetResult(ctx, "t1", "r1"); err != nil {
		t.Errorf("GetResult failed: %v", err)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestPostgresDSN(t *testing.T) {
	tests := []struct {
		name     string
		cfg      domain.RepositoryConfig
		expected string
	}{
		{
			name:     "defaults",
			cfg:      domain.RepositoryConfig{},
			expected: "host=localhost port=5432 dbname=plb sslmode=disable",
		},
		{
			name: "quoted password",
			cfg: domain.RepositoryConfig{
				PostgresHost:     "db",
				PostgresPort:     6543,
				PostgresUser:     "plb",
				PostgresPassword: "it's secret",
				PostgresSSLMode:  "require",
			},
			expected: `host=db port=6543 dbname=plb sslmode=require user=plb password='it\'s secret'`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := postgresDSN(tt.cfg); got != tt.expected {
				t.Errorf("postgresDSN() = %q, want %q", got, tt.expected)
			}
		})
	}
}
