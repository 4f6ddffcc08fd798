// Package redis provides a Redis-backed usage ledger for multi-instance
// deployments.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/marketlens/insightgate/domain/quota"
	"github.com/marketlens/insightgate/domain/usage"
	"github.com/marketlens/insightgate/ports"
	goredis "github.com/redis/go-redis/v9"
)

// Options configures the ledger key layout and retention.
type Options struct {
	KeyPrefix  string        // default "insightgate"
	CounterTTL time.Duration // retention after the counter's UTC day ends, default 48h
	MaxRecords int64         // approximate per-client stream cap, default 100000
}

// Ledger implements ports.UsageLedger on Redis.
// Each record is XADDed to a per-client stream and the (client, day) counter
// is INCRed in the same MULTI/EXEC block.
type Ledger struct {
	client *goredis.Client
	opts   Options
}

// NewClient creates a Redis client.
func NewClient(addr, password string, db int) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewLedger creates a ledger on an existing client.
func NewLedger(client *goredis.Client, opts Options) *Ledger {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "insightgate"
	}
	if opts.CounterTTL <= 0 {
		opts.CounterTTL = 48 * time.Hour
	}
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = 100000
	}
	return &Ledger{client: client, opts: opts}
}

func (l *Ledger) counterKey(clientID, day string) string {
	return fmt.Sprintf("%s:usage:count:%s:%s", l.opts.KeyPrefix, clientID, day)
}

func (l *Ledger) streamKey(clientID string) string {
	return fmt.Sprintf("%s:usage:records:%s", l.opts.KeyPrefix, clientID)
}

// Record appends r and increments its daily counter atomically.
func (l *Ledger) Record(ctx context.Context, r usage.Record) (int64, error) {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return 0, fmt.Errorf("encode params: %w", err)
	}

	counter := l.counterKey(r.ClientID, r.Day())
	var incr *goredis.IntCmd

	_, err = l.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: l.streamKey(r.ClientID),
			MaxLen: l.opts.MaxRecords,
			Approx: true,
			Values: map[string]any{
				"id":             r.ID,
				"endpoint":       r.Endpoint,
				"params":         string(params),
				"response_bytes": r.ResponseBytes,
				"latency_ms":     r.LatencyMs,
				"ts_ms":          r.Timestamp.UnixMilli(),
			},
		})
		incr = pipe.Incr(ctx, counter)
		pipe.ExpireAt(ctx, counter, counterExpiry(r.Timestamp, l.opts.CounterTTL))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis record usage: %w", err)
	}
	return incr.Val(), nil
}

// counterExpiry is the end of ts's UTC day plus retention, so a counter can
// never lapse while its day is still current.
func counterExpiry(ts time.Time, retention time.Duration) time.Time {
	_, end := quota.DayBounds(ts)
	return end.Add(retention)
}

// Count returns the counter for a client and day. Missing keys count as zero.
func (l *Ledger) Count(ctx context.Context, clientID, day string) (int64, error) {
	n, err := l.client.Get(ctx, l.counterKey(clientID, day)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis read counter: %w", err)
	}
	return n, nil
}

// Reset deletes the counter for a client and day.
func (l *Ledger) Reset(ctx context.Context, clientID, day string) error {
	if err := l.client.Del(ctx, l.counterKey(clientID, day)).Err(); err != nil {
		return fmt.Errorf("redis delete counter: %w", err)
	}
	return nil
}

// Recent returns the latest records for a client, newest first.
func (l *Ledger) Recent(ctx context.Context, clientID string, limit int) ([]usage.Record, error) {
	msgs, err := l.client.XRevRangeN(ctx, l.streamKey(clientID), "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read records: %w", err)
	}
	return decodeAll(clientID, msgs)
}

// Summary aggregates a client's records in [from, to).
// Stream entries are scanned from the stream ID matching from, since entries
// are appended in wall-clock order.
func (l *Ledger) Summary(ctx context.Context, clientID string, from, to time.Time) (usage.Summary, error) {
	start := strconv.FormatInt(from.Add(-time.Minute).UnixMilli(), 10)
	msgs, err := l.client.XRange(ctx, l.streamKey(clientID), start, "+").Result()
	if err != nil {
		return usage.Summary{}, fmt.Errorf("redis read records: %w", err)
	}

	records, err := decodeAll(clientID, msgs)
	if err != nil {
		return usage.Summary{}, err
	}

	var inRange []usage.Record
	for _, r := range records {
		if !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
			inRange = append(inRange, r)
		}
	}
	s := usage.Aggregate(inRange, from, to)
	s.ClientID = clientID
	return s, nil
}

// Ping checks connectivity for readiness probes.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (l *Ledger) Close() error {
	return l.client.Close()
}

func decodeAll(clientID string, msgs []goredis.XMessage) ([]usage.Record, error) {
	records := make([]usage.Record, 0, len(msgs))
	for _, m := range msgs {
		r, err := decode(clientID, m.Values)
		if err != nil {
			return nil, fmt.Errorf("decode record %s: %w", m.ID, err)
		}
		records = append(records, r)
	}
	return records, nil
}

func decode(clientID string, v map[string]any) (usage.Record, error) {
	r := usage.Record{
		ClientID: clientID,
		ID:       str(v["id"]),
		Endpoint: str(v["endpoint"]),
	}
	if p := str(v["params"]); p != "" {
		if err := json.Unmarshal([]byte(p), &r.Params); err != nil {
			return usage.Record{}, err
		}
	}

	var err error
	if r.ResponseBytes, err = strconv.ParseInt(str(v["response_bytes"]), 10, 64); err != nil {
		return usage.Record{}, err
	}
	if r.LatencyMs, err = strconv.ParseInt(str(v["latency_ms"]), 10, 64); err != nil {
		return usage.Record{}, err
	}
	ts, err := strconv.ParseInt(str(v["ts_ms"]), 10, 64)
	if err != nil {
		return usage.Record{}, err
	}
	r.Timestamp = time.UnixMilli(ts).UTC()
	return r, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// Ensure interface compliance.
var _ ports.UsageLedger = (*Ledger)(nil)
