package metrics_test

import (
	"testing"

	"github.com/marketlens/insightgate/adapters/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func gatherNames(t *testing.T, reg *prometheus.Registry) map[string]int {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	names := make(map[string]int)
	for _, f := range families {
		names[f.GetName()] = len(f.GetMetric())
	}
	return names
}

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m.RequestsTotal == nil || m.AuthFailures == nil || m.QuotaRejections == nil {
		t.Fatal("request metrics not initialized")
	}
	if m.BucketsEmitted == nil || m.GroupsSuppressed == nil || m.EngineDuration == nil {
		t.Fatal("engine metrics not initialized")
	}
	if m.UsageRecordFailures == nil || m.ConfigReloads == nil {
		t.Fatal("ledger or config metrics not initialized")
	}
}

func TestRequestsTotal(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.RequestsTotal.WithLabelValues("/insights/trends", "2xx").Inc()
	m.RequestsTotal.WithLabelValues("/insights/categories", "4xx").Add(3)

	names := gatherNames(t, reg)
	if names["insightgate_requests_total"] != 2 {
		t.Errorf("series = %d, want 2", names["insightgate_requests_total"])
	}
}

func TestEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.BucketsEmitted.WithLabelValues("trends").Add(12)
	m.GroupsSuppressed.WithLabelValues("trends").Add(2)
	m.EngineDuration.WithLabelValues("trends").Observe(0.02)

	names := gatherNames(t, reg)
	for _, n := range []string{
		"insightgate_buckets_emitted_total",
		"insightgate_groups_suppressed_total",
		"insightgate_engine_duration_seconds",
	} {
		if names[n] != 1 {
			t.Errorf("%s series = %d, want 1", n, names[n])
		}
	}
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, "2xx"},
		{304, "3xx"},
		{400, "4xx"},
		{429, "4xx"},
		{500, "5xx"},
	}
	for _, tt := range tests {
		if got := metrics.StatusClass(tt.status); got != tt.want {
			t.Errorf("StatusClass(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}
