package worker

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/plb/internal/bus"
	"github.com/opensource-finance/plb/internal/cache"
	"github.com/opensource-finance/plb/internal/domain"
	"github.com/opensource-finance/plb/internal/progress"
	"github.com/opensource-finance/plb/internal/repository"
	"github.com/opensource-finance/plb/internal/rules"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testRecord(rbd string) domain.Record {
	return domain.Record{
		TicketNumber: "1570000000001",
		CouponNumber: "1",
		AirlineCode:  "QR",
		RBD:          rbd,
		Origin:       "DOH",
		Destination:  "LHR",
		SalesDate:    domain.MustParseDate("2025-03-01"),
		FlownDate:    domain.MustParseDate("2025-04-01"),
		Base:         dec("1000"),
		YQ:           dec("100"),
		Total:        dec("1100"),
	}
}

func testEngine(t *testing.T) *rules.Engine {
	t.Helper()

	pct := dec("2")
	engine, err := rules.NewEngine(domain.DefaultConfig().Engine, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	err = engine.Load([]*domain.Contract{{
		ContractID:   "C1",
		ContractName: "Base 2%",
		RulesetID:    "RS1",
		StartDate:    domain.MustParseDate("2025-01-01"),
		EndDate:      domain.MustParseDate("2025-12-31"),
		Trigger:      domain.TriggerSpec{Type: domain.TriggerFlown, Components: []string{"BASE"}},
		Payout: domain.PayoutSpec{
			Type:       domain.PayoutPercentage,
			Components: []string{"BASE"},
			Percentage: &pct,
		},
		TriggerCriteria: domain.MustCriteriaSet(map[string][]string{"RBD": {"Y"}}, nil),
	}})
	if err != nil {
		t.Fatalf("failed to load contracts: %v", err)
	}
	return engine
}

// collect subscribes to a topic and forwards every message.
func collect(t *testing.T, b domain.EventBus, tenantID, topic string) <-chan *domain.Message {
	t.Helper()
	ch := make(chan *domain.Message, 10)
	sub, err := b.Subscribe(context.Background(), tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	t.Cleanup(func() { sub.Unsubscribe() })
	return ch
}

func publishRecord(t *testing.T, b domain.EventBus, tenantID string, rec domain.Record) {
	t.Helper()
	payload, _ := json.Marshal(domain.RecordMessage{TraceID: "trace-001", Record: rec})
	if err := b.Publish(context.Background(), tenantID, domain.TopicRecordIngested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func wait(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	engine := testEngine(t)

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, engine)
		if err := w.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicRecordIngested {
			t.Errorf("unexpected stats %+v", stats)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("PublishesComputedAndEligible", func(t *testing.T) {
		w := NewWorker(eventBus, engine)
		if err := w.Start(Config{TenantIDs: []string{"tenant-test"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		computed := collect(t, eventBus, "tenant-test", domain.TopicResultComputed)
		eligible := collect(t, eventBus, "tenant-test", domain.TopicResultEligible)

		publishRecord(t, eventBus, "tenant-test", testRecord("Y"))

		var out domain.ResultMessage
		if err := json.Unmarshal(wait(t, computed).Payload, &out); err != nil {
			t.Fatalf("failed to parse result: %v", err)
		}
		if out.TenantID != "tenant-test" || out.TraceID != "trace-001" {
			t.Errorf("unexpected envelope %+v", out)
		}
		if out.Result.RecordKey != "1570000000001-1" {
			t.Errorf("expected record key 1570000000001-1, got %s", out.Result.RecordKey)
		}
		if !out.Result.TotalPayout().Equal(dec("20")) {
			t.Errorf("expected payout 20, got %s", out.Result.TotalPayout())
		}

		wait(t, eligible)
	})

	t.Run("IneligibleNotPublishedAsEligible", func(t *testing.T) {
		w := NewWorker(eventBus, engine)
		if err := w.Start(Config{TenantIDs: []string{"tenant-m"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		computed := collect(t, eventBus, "tenant-m", domain.TopicResultComputed)
		eligible := collect(t, eventBus, "tenant-m", domain.TopicResultEligible)

		publishRecord(t, eventBus, "tenant-m", testRecord("M"))
		wait(t, computed)

		select {
		case <-eligible:
			t.Error("ineligible record published as eligible")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("GlobalWorker", func(t *testing.T) {
		w := NewWorker(eventBus, engine)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		computed := collect(t, eventBus, "tenant-x", domain.TopicResultComputed)
		publishRecord(t, eventBus, "tenant-x", testRecord("Y"))

		msg := wait(t, computed)
		if msg.TenantID != "tenant-x" {
			t.Errorf("expected tenant-x, got %s", msg.TenantID)
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, engine)
		w.Start(Config{TenantIDs: []string{"tenant-a", "tenant-b"}})
		defer w.Stop()

		if stats := w.GetStats(); stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})
}

func TestProcessPersistsAndTracks(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	tmpFile, err := os.CreateTemp("", "plb-worker-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	engine := testEngine(t)
	tracker := progress.NewTracker(cache.NewLRUCache(100), engine, "")
	w := NewWorker(eventBus, engine, WithRepository(repo), WithProgress(tracker))

	ctx := context.Background()
	rec := testRecord("Y")
	result, err := w.Process(ctx, "tenant-001", "trace-1", &rec)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	stored, err := repo.GetResult(ctx, "tenant-001", result.ID)
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if stored.EligibleContracts != result.EligibleContracts {
		t.Errorf("expected %d eligible contracts, got %d", result.EligibleContracts, stored.EligibleContracts)
	}

	got, err := tracker.Accumulated(ctx, "tenant-001", "C1", "2025-04")
	if err != nil {
		t.Fatalf("Accumulated failed: %v", err)
	}
	if !got.Equal(dec("1000")) {
		t.Errorf("expected accumulated 1000, got %s", got)
	}
}

func TestProcessRejectsInvalidRecord(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	w := NewWorker(eventBus, testEngine(t))
	rec := testRecord("Y")
	rec.AirlineCode = ""
	if _, err := w.Process(context.Background(), "tenant-001", "", &rec); err == nil {
		t.Error("expected error for record without airline")
	}
}
