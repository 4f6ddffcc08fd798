// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"sync/atomic"

	"github.com/marketlens/insightgate/adapters/metrics"
	"github.com/marketlens/insightgate/domain/b2b"
	"github.com/marketlens/insightgate/domain/client"
	"github.com/marketlens/insightgate/domain/quota"
	"github.com/marketlens/insightgate/ports"
	"github.com/rs/zerolog"
)

// Internal rejection reasons. They label logs and metrics only; the caller
// always sees b2b.ErrUnauthorized.
const (
	ReasonMalformed    = "malformed"
	ReasonUnknown      = "unknown"
	ReasonInactive     = "inactive"
	ReasonLookupFailed = "lookup_failed"
	ReasonNoTier       = "no_tier"
	ReasonQuotaRead    = "quota_read_failed"
)

// Authenticator validates B2B credentials and applies the per-tier daily
// quota. It never increments counters and may be called any number of times.
type Authenticator struct {
	clients   ports.ClientDirectory
	ledger    ports.UsageLedger
	hasher    ports.Hasher
	clock     ports.Clock
	logger    zerolog.Logger
	metrics   *metrics.Collector
	keyPrefix string

	// Hot-reloadable
	tiers atomic.Pointer[[]quota.Tier]
}

// AuthDeps contains dependencies for Authenticator.
type AuthDeps struct {
	Clients ports.ClientDirectory
	Ledger  ports.UsageLedger
	Hasher  ports.Hasher
	Clock   ports.Clock
	Logger  zerolog.Logger
	Metrics *metrics.Collector // optional
}

// AuthConfig contains configuration for Authenticator.
type AuthConfig struct {
	KeyPrefix string
	Tiers     []quota.Tier
}

// AuthResult is the outcome of Authenticate.
// On quota rejection both Error and Client are set so rate-limit headers can
// still be emitted.
type AuthResult struct {
	Client *client.Context
	Error  *b2b.ErrorResponse
	Reason string
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(deps AuthDeps, cfg AuthConfig) *Authenticator {
	a := &Authenticator{
		clients:   deps.Clients,
		ledger:    deps.Ledger,
		hasher:    deps.Hasher,
		clock:     deps.Clock,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		keyPrefix: cfg.KeyPrefix,
	}
	a.UpdateTiers(cfg.Tiers)
	return a
}

// UpdateTiers swaps the tier table. Safe to call while serving.
func (a *Authenticator) UpdateTiers(tiers []quota.Tier) {
	cp := append([]quota.Tier(nil), tiers...)
	a.tiers.Store(&cp)
}

// Tiers returns the current tier table.
func (a *Authenticator) Tiers() []quota.Tier {
	return *a.tiers.Load()
}

// Authenticate resolves rawKey to a client context.
func (a *Authenticator) Authenticate(ctx context.Context, rawKey string) AuthResult {
	now := a.clock.Now()

	// 1. Shape check (PURE)
	prefix, ok := client.LookupPrefix(rawKey, a.keyPrefix)
	if !ok {
		return a.reject(ReasonMalformed)
	}

	// 2. Lookup (I/O)
	candidates, err := a.clients.GetByPrefix(ctx, prefix)
	if err != nil {
		a.logger.Error().Err(err).Str("reason", ReasonLookupFailed).Msg("client lookup failed")
		return a.fail(ReasonLookupFailed)
	}

	// 3. Hash comparison
	var matched *client.Client
	for i := range candidates {
		if a.hasher.Compare(candidates[i].KeyHash, rawKey) {
			matched = &candidates[i]
			break
		}
	}
	if matched == nil {
		return a.reject(ReasonUnknown)
	}

	// 4. Status (PURE)
	if !matched.CanAccess() {
		a.logger.Info().
			Str("client_id", matched.ID).
			Str("status", string(matched.Status)).
			Msg("inactive client rejected")
		return a.reject(ReasonInactive)
	}

	// 5. Tier (PURE)
	tier, ok := quota.FindTier(a.Tiers(), matched.TierID)
	if !ok {
		a.logger.Error().
			Str("client_id", matched.ID).
			Str("tier_id", matched.TierID).
			Msg("client has no usable tier")
		return a.fail(ReasonNoTier)
	}

	// 6. Quota (I/O read + PURE check)
	used, err := a.ledger.Count(ctx, matched.ID, quota.Day(now))
	if err != nil {
		a.logger.Error().Err(err).Str("client_id", matched.ID).Msg("quota counter read failed")
		return a.fail(ReasonQuotaRead)
	}
	check := quota.Check(used, tier, now)

	cc := &client.Context{
		ClientID:   matched.ID,
		TierID:     tier.ID,
		DailyLimit: tier.RequestsPerDay,
		Used:       used,
		ResetAt:    check.ResetAt,
	}

	if !check.Allowed {
		if a.metrics != nil {
			a.metrics.QuotaRejections.WithLabelValues(tier.ID).Inc()
		}
		return AuthResult{Client: cc, Error: &b2b.ErrRateLimited, Reason: check.Reason}
	}

	return AuthResult{Client: cc}
}

func (a *Authenticator) reject(reason string) AuthResult {
	if a.metrics != nil {
		a.metrics.AuthFailures.WithLabelValues(reason).Inc()
	}
	return AuthResult{Error: &b2b.ErrUnauthorized, Reason: reason}
}

func (a *Authenticator) fail(reason string) AuthResult {
	return AuthResult{Error: &b2b.ErrInternal, Reason: reason}
}
