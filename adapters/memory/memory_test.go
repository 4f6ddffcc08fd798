package memory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marketlens/insightgate/adapters/memory"
	"github.com/marketlens/insightgate/domain/client"
	"github.com/marketlens/insightgate/domain/insight"
	"github.com/marketlens/insightgate/domain/usage"
)

var day = time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

// ClientStore tests

func TestClientStore_GetByPrefix(t *testing.T) {
	store := memory.NewClientStore()
	ctx := context.Background()

	store.Create(ctx, client.Client{ID: "c1", KeyPrefix: "p1"})
	store.Create(ctx, client.Client{ID: "c2", KeyPrefix: "p1"})
	store.Create(ctx, client.Client{ID: "c3", KeyPrefix: "p2"})

	got, err := store.GetByPrefix(ctx, "p1")
	if err != nil {
		t.Fatalf("GetByPrefix failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 clients with p1, got %d", len(got))
	}
}

func TestClientStore_SetStatus(t *testing.T) {
	store := memory.NewClientStore()
	ctx := context.Background()
	store.Create(ctx, client.Client{ID: "c1", Status: client.StatusActive})

	if err := store.SetStatus(ctx, "c1", client.StatusRevoked, day); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	got, _ := store.Get(ctx, "c1")
	if got.Status != client.StatusRevoked {
		t.Errorf("Status = %s, want revoked", got.Status)
	}

	if err := store.SetStatus(ctx, "missing", client.StatusRevoked, day); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestClientStore_FailWith(t *testing.T) {
	store := memory.NewClientStore()
	boom := errors.New("directory down")
	store.FailWith(boom)

	if _, err := store.GetByPrefix(context.Background(), "p"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

// Ledger tests

func TestLedger_RecordAndCount(t *testing.T) {
	l := memory.NewLedger(4)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := l.Record(ctx, usage.NewRecord(fmt.Sprint(i), "c1", "/insights/trends", nil, 10, 1, day))
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if n != int64(i) {
			t.Errorf("count = %d, want %d", n, i)
		}
	}

	if n, _ := l.Count(ctx, "c1", "2026-03-12"); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
	if n, _ := l.Count(ctx, "c2", "2026-03-12"); n != 0 {
		t.Errorf("Count for other client = %d, want 0", n)
	}
}

func TestLedger_CounterMatchesRecordsUnderConcurrency(t *testing.T) {
	l := memory.NewLedger(0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Record(ctx, usage.NewRecord(fmt.Sprint(i), "c1", "/insights/categories", nil, 1, 1, day))
		}(i)
	}
	wg.Wait()

	n, _ := l.Count(ctx, "c1", "2026-03-12")
	if n != 200 || len(l.Records("c1")) != 200 {
		t.Errorf("count = %d, records = %d, want 200/200", n, len(l.Records("c1")))
	}
}

func TestLedger_ResetKeepsRecords(t *testing.T) {
	l := memory.NewLedger(1)
	ctx := context.Background()
	l.Record(ctx, usage.NewRecord("r1", "c1", "/insights/trends", nil, 1, 1, day))

	l.Reset(ctx, "c1", "2026-03-12")

	if n, _ := l.Count(ctx, "c1", "2026-03-12"); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
	if len(l.Records("c1")) != 1 {
		t.Error("reset must not delete records")
	}
}

func TestLedger_RecentAndSummary(t *testing.T) {
	l := memory.NewLedger(1)
	ctx := context.Background()
	l.Record(ctx, usage.NewRecord("old", "c1", "/insights/trends", nil, 100, 10, day))
	l.Record(ctx, usage.NewRecord("new", "c1", "/insights/categories", nil, 300, 30, day.Add(time.Hour)))

	recent, _ := l.Recent(ctx, "c1", 1)
	if len(recent) != 1 || recent[0].ID != "new" {
		t.Errorf("Recent = %+v, want [new]", recent)
	}

	s, _ := l.Summary(ctx, "c1", day, day.Add(24*time.Hour))
	if s.RequestCount != 2 || s.BytesOut != 400 || s.AvgLatencyMs != 20 {
		t.Errorf("Summary = %+v", s)
	}
}

// ObservationSource tests

func TestObservationSource_FetchFilters(t *testing.T) {
	w := insight.WeekStart(day)
	src := memory.NewObservationSource(
		insight.Observation{UserID: "u1", Category: "dairy", Region: "NE", Week: w},
		insight.Observation{UserID: "u2", Category: "bakery", Region: "NE", Week: w},
	)

	got, err := src.Fetch(context.Background(), insight.Filter{Category: "dairy"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "u1" {
		t.Errorf("Fetch = %+v", got)
	}
	if src.Calls() != 1 {
		t.Errorf("Calls = %d, want 1", src.Calls())
	}
}

func TestObservationSource_CanceledContext(t *testing.T) {
	src := memory.NewObservationSource()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := src.Fetch(ctx, insight.Filter{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
