// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/marketlens/insightgate/domain/client"
	"github.com/marketlens/insightgate/domain/insight"
	"github.com/marketlens/insightgate/domain/usage"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Hasher Port
// -----------------------------------------------------------------------------

// Hasher provides credential hashing.
type Hasher interface {
	// Hash generates a hash from a plaintext value.
	Hash(plaintext string) ([]byte, error)

	// Compare checks if plaintext matches hash.
	Compare(hash []byte, plaintext string) bool
}

// -----------------------------------------------------------------------------
// Client Directory Ports
// -----------------------------------------------------------------------------

// ClientDirectory resolves API credentials to client records.
// The core only ever reads from it.
type ClientDirectory interface {
	// GetByPrefix returns all clients whose credential lookup prefix matches.
	GetByPrefix(ctx context.Context, prefix string) ([]client.Client, error)
}

// ClientStore is the writable directory used by operator tooling.
type ClientStore interface {
	ClientDirectory

	// Get retrieves a client by ID.
	Get(ctx context.Context, id string) (client.Client, error)

	// Create stores a new client.
	Create(ctx context.Context, c client.Client) error

	// List returns all clients ordered by creation time.
	List(ctx context.Context) ([]client.Client, error)

	// SetStatus changes a client's status.
	SetStatus(ctx context.Context, id string, status client.Status, at time.Time) error
}

// -----------------------------------------------------------------------------
// Usage Ledger Port
// -----------------------------------------------------------------------------

// UsageLedger persists per-call usage records and per-day counters.
// Record appends the record and increments the (client, day) counter as one
// atomic storage operation.
type UsageLedger interface {
	// Record appends r and returns the updated counter for r's day.
	Record(ctx context.Context, r usage.Record) (int64, error)

	// Count returns the counter for clientID on day (YYYY-MM-DD, UTC).
	Count(ctx context.Context, clientID, day string) (int64, error)

	// Reset deletes the counter for clientID on day. Records are kept.
	Reset(ctx context.Context, clientID, day string) error

	// Recent returns the latest records for clientID, newest first.
	Recent(ctx context.Context, clientID string, limit int) ([]usage.Record, error)

	// Summary aggregates records for clientID in [from, to).
	Summary(ctx context.Context, clientID string, from, to time.Time) (usage.Summary, error)
}

// -----------------------------------------------------------------------------
// Observation Source Port
// -----------------------------------------------------------------------------

// ObservationSource supplies raw observations from the external data store.
type ObservationSource interface {
	// Fetch returns observations matching f.
	Fetch(ctx context.Context, f insight.Filter) ([]insight.Observation, error)
}

// Pinger is implemented by adapters that can report storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
