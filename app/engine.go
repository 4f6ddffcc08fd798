package app

import (
	"context"
	"fmt"
	"time"

	"github.com/marketlens/insightgate/adapters/metrics"
	"github.com/marketlens/insightgate/domain/insight"
	"github.com/marketlens/insightgate/ports"
)

// Engine fetches raw observations and runs the anonymizing aggregation.
// It holds no mutable state; k is fixed at construction.
type Engine struct {
	source  ports.ObservationSource
	clock   ports.Clock
	metrics *metrics.Collector
	k       int
}

// NewEngine creates an engine with threshold k.
// Thresholds below insight.DefaultThreshold are raised to it.
func NewEngine(source ports.ObservationSource, clk ports.Clock, k int, m *metrics.Collector) *Engine {
	if k < insight.DefaultThreshold {
		k = insight.DefaultThreshold
	}
	return &Engine{source: source, clock: clk, metrics: m, k: k}
}

// Threshold returns the effective k.
func (e *Engine) Threshold() int {
	return e.k
}

// Aggregate answers q. Empty data yields an empty result, not an error.
func (e *Engine) Aggregate(ctx context.Context, q insight.Query) (insight.Result, error) {
	start := time.Now()
	f := q.Filter(e.clock.Now())

	obs, err := e.source.Fetch(ctx, f)
	if err != nil {
		return insight.Result{}, fmt.Errorf("fetch observations: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return insight.Result{}, err
	}

	res := insight.Aggregate(obs, q, f, e.k)

	if e.metrics != nil {
		kind := string(q.Kind)
		e.metrics.EngineDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		e.metrics.BucketsEmitted.WithLabelValues(kind).Add(float64(len(res.Buckets)))
		e.metrics.GroupsSuppressed.WithLabelValues(kind).Add(float64(res.SuppressedGroups))
	}
	return res, nil
}
