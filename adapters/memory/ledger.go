package memory

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/marketlens/insightgate/domain/usage"
	"github.com/marketlens/insightgate/ports"
)

// ledgerShard holds the records and counters of the clients hashed to it.
type ledgerShard struct {
	mu       sync.RWMutex
	records  map[string][]usage.Record // by client ID, append order
	counters map[string]int64          // by client:day
}

// Ledger is a sharded in-memory implementation of ports.UsageLedger.
// A record and its counter increment happen under one shard lock.
type Ledger struct {
	shards []*ledgerShard
	err    error
	errMu  sync.RWMutex
}

// NewLedger creates a ledger with n shards (32 when n <= 0).
func NewLedger(n int) *Ledger {
	if n <= 0 {
		n = 32
	}
	l := &Ledger{shards: make([]*ledgerShard, n)}
	for i := range l.shards {
		l.shards[i] = &ledgerShard{
			records:  make(map[string][]usage.Record),
			counters: make(map[string]int64),
		}
	}
	return l
}

func (l *Ledger) shard(clientID string) *ledgerShard {
	h := fnv.New32a()
	h.Write([]byte(clientID))
	return l.shards[h.Sum32()%uint32(len(l.shards))]
}

func counterKey(clientID, day string) string {
	return clientID + ":" + day
}

func (l *Ledger) failure() error {
	l.errMu.RLock()
	defer l.errMu.RUnlock()
	return l.err
}

// Record appends r and increments its daily counter.
func (l *Ledger) Record(ctx context.Context, r usage.Record) (int64, error) {
	if err := l.failure(); err != nil {
		return 0, err
	}

	s := l.shard(r.ClientID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[r.ClientID] = append(s.records[r.ClientID], r)
	k := counterKey(r.ClientID, r.Day())
	s.counters[k]++
	return s.counters[k], nil
}

// Count returns the counter for a client and day.
func (l *Ledger) Count(ctx context.Context, clientID, day string) (int64, error) {
	if err := l.failure(); err != nil {
		return 0, err
	}

	s := l.shard(clientID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[counterKey(clientID, day)], nil
}

// Reset deletes the counter for a client and day.
func (l *Ledger) Reset(ctx context.Context, clientID, day string) error {
	s := l.shard(clientID)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, counterKey(clientID, day))
	return nil
}

// Recent returns the latest records for a client, newest first.
func (l *Ledger) Recent(ctx context.Context, clientID string, limit int) ([]usage.Record, error) {
	s := l.shard(clientID)
	s.mu.RLock()
	records := append([]usage.Record(nil), s.records[clientID]...)
	s.mu.RUnlock()

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Summary aggregates a client's records in [from, to).
func (l *Ledger) Summary(ctx context.Context, clientID string, from, to time.Time) (usage.Summary, error) {
	s := l.shard(clientID)
	s.mu.RLock()
	var inRange []usage.Record
	for _, r := range s.records[clientID] {
		if !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
			inRange = append(inRange, r)
		}
	}
	s.mu.RUnlock()

	summary := usage.Aggregate(inRange, from, to)
	summary.ClientID = clientID
	return summary, nil
}

// Records returns every record for a client in append order (for testing).
func (l *Ledger) Records(clientID string) []usage.Record {
	s := l.shard(clientID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]usage.Record(nil), s.records[clientID]...)
}

// FailWith makes Record and Count return err until called with nil (for testing).
func (l *Ledger) FailWith(err error) {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	l.err = err
}

// Ensure interface compliance.
var _ ports.UsageLedger = (*Ledger)(nil)
