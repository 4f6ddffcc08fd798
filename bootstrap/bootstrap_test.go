package bootstrap_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marketlens/insightgate/bootstrap"
	"github.com/marketlens/insightgate/config"
	"github.com/marketlens/insightgate/domain/client"
	"github.com/marketlens/insightgate/domain/insight"
	"github.com/marketlens/insightgate/domain/quota"
	"github.com/rs/zerolog"
)

func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "insightgate.yaml")
	content := fmt.Sprintf(`
database:
  dsn: %q
tiers:
  - id: standard
    requests_per_day: 2
    default: true
metrics:
  enabled: true
auth:
  bcrypt_cost: 4
%s`, filepath.Join(dir, "test.db"), extra)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *bootstrap.App {
	t.Helper()
	a, err := bootstrap.NewWithConfig(cfg, bootstrap.Options{Version: "test", LogOutput: io.Discard})
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	t.Cleanup(func() { a.Shutdown() })
	return a
}

func TestBootstrap_Integration(t *testing.T) {
	a := newTestApp(t, testConfig(t, ""))
	ctx := context.Background()

	if a.Stores.DB == nil || a.HTTPServer == nil || a.Metrics == nil {
		t.Fatal("app not fully initialized")
	}

	raw, hash, lookup, err := client.Generate("ig_live_")
	if err != nil {
		t.Fatalf("generate credential: %v", err)
	}
	if err := a.Stores.Clients.Create(ctx, client.Client{
		ID:        "cl-1",
		Name:      "Acme Foods",
		KeyHash:   hash,
		KeyPrefix: lookup,
		Status:    client.StatusActive,
		TierID:    "standard",
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create client: %v", err)
	}

	week := insight.WeekStart(time.Now().UTC())
	var obs []insight.Observation
	for i := 0; i < 120; i++ {
		obs = append(obs, insight.Observation{
			UserID: fmt.Sprintf("u-%d", i), Category: "dairy", Region: "NE", Week: week, Price: 3,
		})
	}
	if err := a.Stores.LocalObservations.Insert(ctx, obs); err != nil {
		t.Fatalf("insert observations: %v", err)
	}

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", path, nil)
		req.Header.Set("Authorization", "Bearer "+raw)
		rec := httptest.NewRecorder()
		a.HTTPServer.Handler.ServeHTTP(rec, req)
		return rec
	}

	rec := get("/insights/categories?weeks=1")
	if rec.Code != 200 {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"distinct_users":120`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	n, err := a.Stores.Ledger.Count(ctx, "cl-1", quota.Day(time.Now()))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}

	get("/insights/categories")
	if rec := get("/insights/categories"); rec.Code != 429 {
		t.Errorf("third call status = %d, want 429", rec.Code)
	}

	metricsRec := httptest.NewRecorder()
	a.HTTPServer.Handler.ServeHTTP(metricsRec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(metricsRec.Body.String(), "insightgate_requests_total") {
		t.Error("metrics endpoint missing insightgate_requests_total")
	}
}

func TestBootstrap_Readiness(t *testing.T) {
	a := newTestApp(t, testConfig(t, ""))

	rec := httptest.NewRecorder()
	a.HTTPServer.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ready status = %d, want 200", rec.Code)
	}
}

func TestBootstrap_ApplyConfig(t *testing.T) {
	a := newTestApp(t, testConfig(t, ""))

	next := *a.Config
	next.Tiers = []config.TierConfig{{ID: "standard", RequestsPerDay: 99, Default: true}}
	next.Logging.Level = "warn"
	a.ApplyConfig(&next)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	tiers := a.Auth.Tiers()
	if len(tiers) != 1 || tiers[0].RequestsPerDay != 99 {
		t.Errorf("tiers = %+v", tiers)
	}
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Errorf("global level = %v, want warn", zerolog.GlobalLevel())
	}
}

func TestBootstrap_RedisUnavailable(t *testing.T) {
	cfg := testConfig(t, `
ledger:
  driver: redis
  redis:
    addr: "127.0.0.1:1"
`)

	_, err := bootstrap.NewWithConfig(cfg, bootstrap.Options{LogOutput: io.Discard})
	if err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}

func TestBootstrap_MigrationsCreateTables(t *testing.T) {
	a := newTestApp(t, testConfig(t, ""))

	for _, table := range []string{"clients", "usage_records", "daily_usage_counters", "observations"} {
		var count int
		if err := a.Stores.DB.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			t.Errorf("query %s: %v", table, err)
		}
	}
}

func TestOpenStores_LogsSchemaVersion(t *testing.T) {
	var buf strings.Builder
	logger := zerolog.New(&buf)

	stores, err := bootstrap.OpenStores(context.Background(), testConfig(t, ""), logger)
	if err != nil {
		t.Fatalf("OpenStores error: %v", err)
	}
	defer stores.Close()

	if !strings.Contains(buf.String(), `"schema":"003_observations"`) {
		t.Errorf("log = %s, want the applied schema version", buf.String())
	}
}
