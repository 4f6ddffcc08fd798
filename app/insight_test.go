package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/marketlens/insightgate/adapters/clock"
	"github.com/marketlens/insightgate/adapters/hasher"
	"github.com/marketlens/insightgate/adapters/idgen"
	"github.com/marketlens/insightgate/adapters/memory"
	"github.com/marketlens/insightgate/adapters/metrics"
	"github.com/marketlens/insightgate/app"
	"github.com/marketlens/insightgate/domain/b2b"
	"github.com/marketlens/insightgate/domain/client"
	"github.com/marketlens/insightgate/domain/insight"
	"github.com/marketlens/insightgate/domain/quota"
	"github.com/marketlens/insightgate/domain/usage"
	"github.com/marketlens/insightgate/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Thursday; the current week starts Monday 2026-03-09.
var baseTime = time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)

const keyPrefix = "ig_live_"

func rawKey(seed string) string {
	return keyPrefix + seed + strings.Repeat("0", 64-len(seed))
}

type testEnv struct {
	svc     *app.InsightService
	auth    *app.Authenticator
	clients *memory.ClientStore
	ledger  *memory.Ledger
	source  *memory.ObservationSource
	clock   *clock.Fake
}

type envOption func(*envConfig)

type envConfig struct {
	ledger  ports.UsageLedger
	source  ports.ObservationSource
	timeout time.Duration
}

func withLedger(l ports.UsageLedger) envOption {
	return func(c *envConfig) { c.ledger = l }
}

func withSource(s ports.ObservationSource) envOption {
	return func(c *envConfig) { c.source = s }
}

func withTimeout(d time.Duration) envOption {
	return func(c *envConfig) { c.timeout = d }
}

func newTestEnv(opts ...envOption) *testEnv {
	env := &testEnv{
		clients: memory.NewClientStore(),
		ledger:  memory.NewLedger(4),
		source:  memory.NewObservationSource(),
		clock:   clock.NewFake(baseTime),
	}

	cfg := envConfig{ledger: env.ledger, source: env.source}
	for _, o := range opts {
		o(&cfg)
	}

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	env.auth = app.NewAuthenticator(app.AuthDeps{
		Clients: env.clients,
		Ledger:  cfg.ledger,
		Hasher:  hasher.Fake{},
		Clock:   env.clock,
		Logger:  zerolog.Nop(),
		Metrics: m,
	}, app.AuthConfig{
		KeyPrefix: keyPrefix,
		Tiers: []quota.Tier{
			{ID: "standard", RequestsPerDay: 3, Default: true},
			{ID: "enterprise", RequestsPerDay: 1000},
		},
	})

	env.svc = app.NewInsightService(app.InsightDeps{
		Auth:    env.auth,
		Engine:  app.NewEngine(cfg.source, env.clock, insight.DefaultThreshold, m),
		Ledger:  cfg.ledger,
		Clock:   env.clock,
		IDGen:   idgen.NewSequential("rec-"),
		Logger:  zerolog.Nop(),
		Metrics: m,
	}, app.InsightConfig{
		Defaults:     insight.DefaultDefaults(),
		QueryTimeout: cfg.timeout,
	})
	return env
}

// addClient registers a client whose credential is rawKey(seed).
func (e *testEnv) addClient(id, seed string, status client.Status, tier string) string {
	raw := rawKey(seed)
	e.clients.Create(context.Background(), client.Client{
		ID:        id,
		KeyHash:   []byte(raw),
		KeyPrefix: raw[:client.PrefixLen],
		Status:    status,
		TierID:    tier,
		CreatedAt: baseTime.Add(-24 * time.Hour),
	})
	return raw
}

func (e *testEnv) count(clientID string) int64 {
	n, _ := e.ledger.Count(context.Background(), clientID, quota.Day(e.clock.Now()))
	return n
}

func cohort(prefix string, n int, category, region string, week time.Time, price float64) []insight.Observation {
	out := make([]insight.Observation, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, insight.Observation{
			UserID:   fmt.Sprintf("%s-%d", prefix, i),
			Category: category,
			Region:   region,
			Week:     week,
			Price:    price,
		})
	}
	return out
}

func request(key, endpoint string, params map[string]string) b2b.Request {
	if params == nil {
		params = map[string]string{}
	}
	return b2b.Request{APIKey: key, Endpoint: endpoint, Params: params, TraceID: "trace-1"}
}

type responseBody struct {
	Data []app.BucketView `json:"data"`
	Meta map[string]any   `json:"meta"`
}

func decode(t *testing.T, body []byte) responseBody {
	t.Helper()
	var rb responseBody
	if err := json.Unmarshal(body, &rb); err != nil {
		t.Fatalf("decode body %s: %v", body, err)
	}
	return rb
}

// -----------------------------------------------------------------------------
// Success path
// -----------------------------------------------------------------------------

func TestInsightService_Handle_Categories(t *testing.T) {
	env := newTestEnv()
	key := env.addClient("cl-1", "aa", client.StatusActive, "standard")
	week := insight.WeekStart(baseTime)
	env.source.Add(cohort("ne", 150, "dairy", "NE", week, 2.0)...)
	env.source.Add(cohort("sw", 50, "dairy", "SW", week, 4.0)...)

	result := env.svc.Handle(context.Background(), request(key, b2b.EndpointCategories, map[string]string{"weeks": "1"}))

	if result.Error != nil {
		t.Fatalf("unexpected error: %+v", result.Error)
	}
	if result.Response.Status != 200 {
		t.Errorf("status = %d, want 200", result.Response.Status)
	}

	rb := decode(t, result.Response.Body)
	if len(rb.Data) != 1 {
		t.Fatalf("len(data) = %d, want 1", len(rb.Data))
	}
	b := rb.Data[0]
	if b.Category != "dairy" || b.Region != "all" || b.DistinctUsers != 200 {
		t.Errorf("bucket = %+v", b)
	}
	if b.MeanPrice != 2.5 {
		t.Errorf("MeanPrice = %v, want 2.5", b.MeanPrice)
	}
	if rb.Meta["region"] != "all" || rb.Meta["weeks"] != float64(1) || rb.Meta["count"] != float64(1) {
		t.Errorf("meta = %v", rb.Meta)
	}
	if _, ok := rb.Meta["category"]; ok {
		t.Error("meta.category must be absent when not filtered")
	}

	records := env.ledger.Records("cl-1")
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	r := records[0]
	if r.Endpoint != b2b.EndpointCategories || r.Params["weeks"] != "1" || r.Params["region"] != "all" {
		t.Errorf("record = %+v", r)
	}
	if r.ResponseBytes != int64(len(result.Response.Body)) {
		t.Errorf("ResponseBytes = %d, want %d", r.ResponseBytes, len(result.Response.Body))
	}
	if env.count("cl-1") != 1 {
		t.Errorf("count = %d, want 1", env.count("cl-1"))
	}
	if got := result.Response.Headers["X-RateLimit-Remaining"]; got != "2" {
		t.Errorf("X-RateLimit-Remaining = %s, want 2", got)
	}
	if got := result.Response.Headers["X-RateLimit-Reset"]; got != "2026-03-13T00:00:00Z" {
		t.Errorf("X-RateLimit-Reset = %s", got)
	}
}

func TestInsightService_Handle_TrendsRegionBelowThreshold(t *testing.T) {
	env := newTestEnv()
	key := env.addClient("cl-1", "aa", client.StatusActive, "standard")
	week := insight.WeekStart(baseTime)
	env.source.Add(cohort("ne", 150, "dairy", "NE", week, 2.0)...)
	env.source.Add(cohort("sw", 50, "dairy", "SW", week, 4.0)...)

	result := env.svc.Handle(context.Background(), request(key, b2b.EndpointTrends,
		map[string]string{"category": "dairy", "region": "SW", "weeks": "1"}))

	if result.Error != nil {
		t.Fatalf("unexpected error: %+v", result.Error)
	}
	rb := decode(t, result.Response.Body)
	if len(rb.Data) != 0 {
		t.Errorf("data = %+v, want empty", rb.Data)
	}
	if !strings.Contains(string(result.Response.Body), `"data":[]`) {
		t.Errorf("body = %s, want an empty array", result.Response.Body)
	}
	if rb.Meta["category"] != "dairy" || rb.Meta["region"] != "SW" {
		t.Errorf("meta = %v", rb.Meta)
	}
	if env.count("cl-1") != 1 {
		t.Error("an empty but successful answer still counts")
	}
}

func TestInsightService_Handle_TrendsLabelsPooledRegions(t *testing.T) {
	env := newTestEnv()
	key := env.addClient("cl-1", "aa", client.StatusActive, "standard")
	week := insight.WeekStart(baseTime)
	env.source.Add(cohort("ne", 150, "dairy", "NE", week, 2.0)...)
	env.source.Add(cohort("sw", 60, "dairy", "SW", week, 4.0)...)
	env.source.Add(cohort("nw", 60, "dairy", "NW", week, 4.0)...)

	result := env.svc.Handle(context.Background(), request(key, b2b.EndpointTrends,
		map[string]string{"category": "dairy", "weeks": "1"}))

	if result.Error != nil {
		t.Fatalf("unexpected error: %+v", result.Error)
	}
	rb := decode(t, result.Response.Body)
	if len(rb.Data) != 2 {
		t.Fatalf("data = %+v, want 2 buckets", rb.Data)
	}
	for _, b := range rb.Data {
		switch b.Region {
		case "other":
			if !b.Pooled || b.DistinctUsers != 120 {
				t.Errorf("pooled bucket = %+v", b)
			}
		case "NE":
			if b.Pooled || b.DistinctUsers != 150 {
				t.Errorf("NE bucket = %+v", b)
			}
		default:
			t.Errorf("unexpected region %q in %+v", b.Region, b)
		}
	}
	if strings.Contains(string(result.Response.Body), `"region":"all"`) {
		t.Errorf("leftover pool must not be labelled all regions: %s", result.Response.Body)
	}
}

func TestInsightService_Handle_ClientCancellationDoesNotAbortQuery(t *testing.T) {
	env := newTestEnv()
	key := env.addClient("cl-1", "aa", client.StatusActive, "standard")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := env.svc.Handle(ctx, request(key, b2b.EndpointCategories, nil))

	if result.Error != nil {
		t.Fatalf("unexpected error: %+v", result.Error)
	}
	if env.count("cl-1") != 1 {
		t.Errorf("count = %d, want 1", env.count("cl-1"))
	}
}

// -----------------------------------------------------------------------------
// Rejections leave the ledger untouched
// -----------------------------------------------------------------------------

func TestInsightService_Handle_Unauthorized(t *testing.T) {
	env := newTestEnv()
	env.addClient("cl-active", "aa", client.StatusActive, "standard")
	suspended := env.addClient("cl-susp", "bb", client.StatusSuspended, "standard")
	revoked := env.addClient("cl-rev", "cc", client.StatusRevoked, "standard")

	tests := []struct {
		name string
		key  string
	}{
		{"missing", ""},
		{"malformed", "not-a-key"},
		{"wrong prefix", "xx_live_" + strings.Repeat("0", 64)},
		{"unknown", rawKey("ff")},
		{"suspended", suspended},
		{"revoked", revoked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := env.svc.Handle(context.Background(), request(tt.key, b2b.EndpointCategories, nil))

			if result.Error == nil {
				t.Fatal("expected error")
			}
			if *result.Error != b2b.ErrUnauthorized {
				t.Errorf("error = %+v, want ErrUnauthorized", result.Error)
			}
		})
	}

	for _, id := range []string{"cl-active", "cl-susp", "cl-rev"} {
		if len(env.ledger.Records(id)) != 0 {
			t.Errorf("%s: rejected request was recorded", id)
		}
	}
	if env.source.Calls() != 0 {
		t.Errorf("source called %d times for rejected requests", env.source.Calls())
	}
}

func TestInsightService_Handle_QuotaBoundary(t *testing.T) {
	env := newTestEnv()
	key := env.addClient("cl-1", "aa", client.StatusActive, "standard") // 3 per day
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		result := env.svc.Handle(ctx, request(key, b2b.EndpointCategories, nil))
		if result.Error != nil {
			t.Fatalf("call %d: unexpected error %+v", i, result.Error)
		}
	}

	result := env.svc.Handle(ctx, request(key, b2b.EndpointCategories, nil))
	if result.Error == nil || result.Error.Status != 429 {
		t.Fatalf("call 4: error = %+v, want 429", result.Error)
	}
	if result.Response.Headers["X-RateLimit-Remaining"] != "0" {
		t.Errorf("X-RateLimit-Remaining = %s, want 0", result.Response.Headers["X-RateLimit-Remaining"])
	}
	if result.Response.Headers["Retry-After"] != "50400" {
		t.Errorf("Retry-After = %s, want 50400", result.Response.Headers["Retry-After"])
	}
	if env.count("cl-1") != 3 {
		t.Errorf("count = %d, want 3", env.count("cl-1"))
	}

	// A new UTC day starts a fresh allowance.
	env.clock.NextDay()
	if result := env.svc.Handle(ctx, request(key, b2b.EndpointCategories, nil)); result.Error != nil {
		t.Errorf("next day: unexpected error %+v", result.Error)
	}
}

func TestInsightService_Handle_OperatorResetRestoresAccess(t *testing.T) {
	env := newTestEnv()
	key := env.addClient("cl-1", "aa", client.StatusActive, "standard")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env.svc.Handle(ctx, request(key, b2b.EndpointCategories, nil))
	}
	env.ledger.Reset(ctx, "cl-1", quota.Day(baseTime))

	if result := env.svc.Handle(ctx, request(key, b2b.EndpointCategories, nil)); result.Error != nil {
		t.Errorf("after reset: unexpected error %+v", result.Error)
	}
}

func TestInsightService_Handle_ValidationFailure(t *testing.T) {
	env := newTestEnv()
	key := env.addClient("cl-1", "aa", client.StatusActive, "standard")

	tests := []struct {
		name      string
		endpoint  string
		params    map[string]string
		wantParam string
	}{
		{"trends without category", b2b.EndpointTrends, nil, "category"},
		{"weeks not numeric", b2b.EndpointCategories, map[string]string{"weeks": "abc"}, "weeks"},
		{"weeks zero", b2b.EndpointCategories, map[string]string{"weeks": "0"}, "weeks"},
		{"weeks too many", b2b.EndpointTrends, map[string]string{"category": "dairy", "weeks": "60"}, "weeks"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := env.svc.Handle(context.Background(), request(key, tt.endpoint, tt.params))

			if result.Error == nil || result.Error.Status != 400 {
				t.Fatalf("error = %+v, want 400", result.Error)
			}
			if result.Error.Param != tt.wantParam {
				t.Errorf("Param = %s, want %s", result.Error.Param, tt.wantParam)
			}
		})
	}

	if env.count("cl-1") != 0 {
		t.Errorf("count = %d, want 0", env.count("cl-1"))
	}
	if env.source.Calls() != 0 {
		t.Errorf("source called %d times, want 0", env.source.Calls())
	}
}

func TestInsightService_Handle_UnknownEndpoint(t *testing.T) {
	env := newTestEnv()
	key := env.addClient("cl-1", "aa", client.StatusActive, "standard")

	result := env.svc.Handle(context.Background(), request(key, "/insights/reports", nil))

	if result.Error == nil || result.Error.Status != 404 {
		t.Fatalf("error = %+v, want 404", result.Error)
	}
	if env.count("cl-1") != 0 {
		t.Error("unknown endpoint was counted")
	}
}

// -----------------------------------------------------------------------------
// Failures
// -----------------------------------------------------------------------------

func TestInsightService_Handle_EngineFailure(t *testing.T) {
	env := newTestEnv()
	key := env.addClient("cl-1", "aa", client.StatusActive, "standard")
	env.source.FailWith(errors.New("warehouse unavailable"))

	result := env.svc.Handle(context.Background(), request(key, b2b.EndpointCategories, nil))

	if result.Error == nil || *result.Error != b2b.ErrInternal {
		t.Fatalf("error = %+v, want ErrInternal", result.Error)
	}
	if strings.Contains(result.Error.Message, "warehouse") {
		t.Error("internal detail leaked to client")
	}
	if env.count("cl-1") != 0 {
		t.Errorf("count = %d, want 0", env.count("cl-1"))
	}
}

// blockingSource waits for its context to end.
type blockingSource struct{}

func (blockingSource) Fetch(ctx context.Context, f insight.Filter) ([]insight.Observation, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestInsightService_Handle_EngineTimeout(t *testing.T) {
	env := newTestEnv(withSource(blockingSource{}), withTimeout(20*time.Millisecond))
	key := env.addClient("cl-1", "aa", client.StatusActive, "standard")

	result := env.svc.Handle(context.Background(), request(key, b2b.EndpointCategories, nil))

	if result.Error == nil || result.Error.Status != 500 {
		t.Fatalf("error = %+v, want 500", result.Error)
	}
	if env.count("cl-1") != 0 {
		t.Error("timed out request was counted")
	}
}

// failingRecorder counts normally but refuses to store records.
type failingRecorder struct {
	ports.UsageLedger
}

func (failingRecorder) Record(ctx context.Context, r usage.Record) (int64, error) {
	return 0, errors.New("disk full")
}

func TestInsightService_Handle_LedgerFailureStillResponds(t *testing.T) {
	base := memory.NewLedger(1)
	env := newTestEnv(withLedger(failingRecorder{UsageLedger: base}))
	key := env.addClient("cl-1", "aa", client.StatusActive, "standard")

	result := env.svc.Handle(context.Background(), request(key, b2b.EndpointCategories, nil))

	if result.Error != nil {
		t.Fatalf("unexpected error: %+v", result.Error)
	}
	if result.Response.Status != 200 {
		t.Errorf("status = %d, want 200", result.Response.Status)
	}
}

func TestInsightService_Handle_DirectoryFailure(t *testing.T) {
	env := newTestEnv()
	key := env.addClient("cl-1", "aa", client.StatusActive, "standard")
	env.clients.FailWith(errors.New("connection refused"))

	result := env.svc.Handle(context.Background(), request(key, b2b.EndpointCategories, nil))

	if result.Error == nil || result.Error.Status != 500 {
		t.Fatalf("error = %+v, want 500", result.Error)
	}
}
