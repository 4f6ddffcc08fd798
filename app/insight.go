package app

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/marketlens/insightgate/adapters/metrics"
	"github.com/marketlens/insightgate/domain/b2b"
	"github.com/marketlens/insightgate/domain/client"
	"github.com/marketlens/insightgate/domain/insight"
	"github.com/marketlens/insightgate/domain/usage"
	"github.com/marketlens/insightgate/pkg/envelope"
	"github.com/marketlens/insightgate/ports"
	"github.com/rs/zerolog"
)

// resetLayout formats X-RateLimit-Reset.
const resetLayout = "2006-01-02T15:04:05Z"

// InsightService handles B2B insight requests end to end:
// authenticate, validate, aggregate, record usage, respond.
type InsightService struct {
	auth    *Authenticator
	engine  *Engine
	ledger  ports.UsageLedger
	clock   ports.Clock
	idGen   ports.IDGenerator
	logger  zerolog.Logger
	metrics *metrics.Collector

	queryTimeout time.Duration
	defaults     atomic.Pointer[insight.Defaults]
}

// InsightDeps contains dependencies for InsightService.
type InsightDeps struct {
	Auth    *Authenticator
	Engine  *Engine
	Ledger  ports.UsageLedger
	Clock   ports.Clock
	IDGen   ports.IDGenerator
	Logger  zerolog.Logger
	Metrics *metrics.Collector // optional
}

// InsightConfig contains configuration for InsightService.
type InsightConfig struct {
	Defaults     insight.Defaults
	QueryTimeout time.Duration
}

// NewInsightService creates a new insight service.
func NewInsightService(deps InsightDeps, cfg InsightConfig) *InsightService {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	s := &InsightService{
		auth:         deps.Auth,
		engine:       deps.Engine,
		ledger:       deps.Ledger,
		clock:        deps.Clock,
		idGen:        deps.IDGen,
		logger:       deps.Logger,
		metrics:      deps.Metrics,
		queryTimeout: cfg.QueryTimeout,
	}
	s.UpdateDefaults(cfg.Defaults)
	return s
}

// UpdateDefaults swaps the parameter defaults. Safe to call while serving.
func (s *InsightService) UpdateDefaults(d insight.Defaults) {
	s.defaults.Store(&d)
}

// HandleResult represents the outcome of handling a request.
type HandleResult struct {
	Response b2b.Response
	Error    *b2b.ErrorResponse
	Client   *client.Context
}

// BucketView is the wire form of an aggregate bucket.
type BucketView struct {
	Category      string   `json:"category"`
	Region        string   `json:"region"`
	Week          string   `json:"week,omitempty"`
	DistinctUsers int      `json:"distinct_users"`
	Items         int      `json:"items"`
	MeanPrice     float64  `json:"mean_price"`
	ChangePct     *float64 `json:"change_pct,omitempty"`
	Pooled        bool     `json:"pooled,omitempty"`
}

// Handle processes one B2B request.
// Usage is recorded only for successful responses.
func (s *InsightService) Handle(ctx context.Context, req b2b.Request) HandleResult {
	start := s.clock.Now()
	log := s.logger.With().Str("endpoint", req.Endpoint).Str("trace_id", req.TraceID).Logger()

	// 1. Authenticate (I/O reads only)
	ar := s.auth.Authenticate(ctx, req.APIKey)
	if ar.Error != nil {
		log.Warn().Str("reason", ar.Reason).Int("status", ar.Error.Status).Msg("insight request rejected")
		res := HandleResult{Error: ar.Error, Client: ar.Client}
		if ar.Client != nil {
			res.Response.Headers = rateLimitHeaders(*ar.Client, ar.Client.Used)
			res.Response.Headers["Retry-After"] = retryAfter(ar.Client.ResetAt, start)
		}
		return res
	}
	cc := ar.Client
	log = log.With().Str("client_id", cc.ClientID).Logger()

	// 2. Validate (PURE)
	kind, ok := b2b.KindOf(req.Endpoint)
	if !ok {
		return HandleResult{Error: &b2b.ErrNotFound, Client: cc}
	}
	q, err := insight.Parse(insight.Kind(kind), req.Params, *s.defaults.Load())
	if err != nil {
		var ve *insight.ValidationError
		if errors.As(err, &ve) {
			log.Info().Str("param", ve.Param).Msg("insight request invalid")
			return HandleResult{Error: b2b.BadRequest(ve.Param, ve.Error()), Client: cc}
		}
		return HandleResult{Error: b2b.BadRequest("", "invalid request"), Client: cc}
	}
	params := q.Params()

	// 3. Aggregate (I/O), bounded by our own timeout only
	engineCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.queryTimeout)
	result, err := s.engine.Aggregate(engineCtx, q)
	cancel()
	if err != nil {
		log.Error().Err(err).Fields(stringFields(params)).Msg("insight aggregation failed")
		return HandleResult{Error: &b2b.ErrInternal, Client: cc}
	}

	// 4. Encode
	meta := envelope.Meta{
		"count":  len(result.Buckets),
		"weeks":  q.Weeks,
		"region": q.RegionLabel(),
	}
	if q.Category != "" {
		meta["category"] = q.Category
	}
	body, err := envelope.Encode(toViews(result.Buckets), meta)
	if err != nil {
		log.Error().Err(err).Msg("encode insight response")
		return HandleResult{Error: &b2b.ErrInternal, Client: cc}
	}

	// 5. Record usage before responding
	latency := s.clock.Now().Sub(start).Milliseconds()
	rec := usage.NewRecord(s.idGen.New(), cc.ClientID, req.Endpoint, params, int64(len(body)), latency, start)
	used := cc.Used + 1
	if n, err := s.ledger.Record(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn().Err(err).Str("record_id", rec.ID).Msg("usage record failed")
		if s.metrics != nil {
			s.metrics.UsageRecordFailures.Inc()
		}
	} else {
		used = n
		if s.metrics != nil {
			s.metrics.UsageRecorded.WithLabelValues(cc.TierID).Inc()
		}
	}

	log.Info().
		Int("buckets", len(result.Buckets)).
		Int("suppressed_groups", result.SuppressedGroups).
		Int("suppressed_users", result.SuppressedUsers).
		Int64("latency_ms", latency).
		Int("bytes", len(body)).
		Msg("insight request")

	return HandleResult{
		Response: b2b.Response{
			Status:  200,
			Headers: rateLimitHeaders(*cc, used),
			Body:    body,
		},
		Client: cc,
	}
}

func toViews(buckets []insight.Bucket) []BucketView {
	views := make([]BucketView, 0, len(buckets))
	for _, b := range buckets {
		v := BucketView{
			Category:      b.Category,
			Region:        b.Region,
			DistinctUsers: b.DistinctUsers,
			Items:         b.Items,
			MeanPrice:     b.MeanPrice,
			ChangePct:     b.ChangePct,
			Pooled:        b.Pooled,
		}
		if v.Region == "" {
			v.Region = insight.AllRegions
			if b.Pooled {
				v.Region = insight.PooledRegions
			}
		}
		if !b.Week.IsZero() {
			v.Week = b.Week.Format("2006-01-02")
		}
		views = append(views, v)
	}
	return views
}

func rateLimitHeaders(cc client.Context, used int64) map[string]string {
	remaining := cc.DailyLimit - used
	if remaining < 0 {
		remaining = 0
	}
	return map[string]string{
		"X-RateLimit-Limit":     strconv.FormatInt(cc.DailyLimit, 10),
		"X-RateLimit-Remaining": strconv.FormatInt(remaining, 10),
		"X-RateLimit-Reset":     cc.ResetAt.UTC().Format(resetLayout),
	}
}

func retryAfter(resetAt, now time.Time) string {
	secs := int64(resetAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func stringFields(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
