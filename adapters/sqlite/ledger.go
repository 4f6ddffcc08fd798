package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marketlens/insightgate/domain/usage"
	"github.com/marketlens/insightgate/ports"
)

// Ledger implements ports.UsageLedger using SQLite.
// The record insert and the counter upsert share one transaction, so the
// daily counter always equals the number of records for that day.
type Ledger struct {
	db *DB
}

// NewLedger creates a new SQLite usage ledger.
func NewLedger(db *DB) *Ledger {
	return &Ledger{db: db}
}

// Record appends r and increments its daily counter.
func (l *Ledger) Record(ctx context.Context, r usage.Record) (int64, error) {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return 0, fmt.Errorf("encode params: %w", err)
	}
	day := r.Day()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_records (id, client_id, endpoint, params, response_bytes, latency_ms, day, ts_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.ClientID, r.Endpoint, string(params), r.ResponseBytes, r.LatencyMs, day, r.Timestamp.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("insert usage record: %w", err)
	}

	var count int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO daily_usage_counters (client_id, day, count, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(client_id, day) DO UPDATE SET
			count = count + 1,
			updated_at = excluded.updated_at
		RETURNING count
	`, r.ClientID, day, r.Timestamp.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit usage: %w", err)
	}
	return count, nil
}

// Count returns the counter for a client and day. Missing rows count as zero.
func (l *Ledger) Count(ctx context.Context, clientID, day string) (int64, error) {
	var count int64
	err := l.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(count), 0) FROM daily_usage_counters
		WHERE client_id = ? AND day = ?
	`, clientID, day).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	return count, nil
}

// Reset deletes the counter row for a client and day.
func (l *Ledger) Reset(ctx context.Context, clientID, day string) error {
	_, err := l.db.ExecContext(ctx, `
		DELETE FROM daily_usage_counters WHERE client_id = ? AND day = ?
	`, clientID, day)
	if err != nil {
		return fmt.Errorf("delete counter: %w", err)
	}
	return nil
}

// Recent returns the latest records for a client, newest first.
func (l *Ledger) Recent(ctx context.Context, clientID string, limit int) ([]usage.Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, client_id, endpoint, params, response_bytes, latency_ms, ts_ms
		FROM usage_records
		WHERE client_id = ?
		ORDER BY ts_ms DESC, id DESC
		LIMIT ?
	`, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent usage: %w", err)
	}
	defer rows.Close()

	var records []usage.Record
	for rows.Next() {
		var r usage.Record
		var params string
		var tsMs int64
		if err := rows.Scan(&r.ID, &r.ClientID, &r.Endpoint, &params, &r.ResponseBytes, &r.LatencyMs, &tsMs); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		r.Timestamp = time.UnixMilli(tsMs).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// Summary aggregates a client's records in [from, to).
func (l *Ledger) Summary(ctx context.Context, clientID string, from, to time.Time) (usage.Summary, error) {
	s := usage.Summary{
		ClientID:    clientID,
		PeriodStart: from,
		PeriodEnd:   to,
		ByEndpoint:  make(map[string]int64),
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT endpoint,
			COUNT(*),
			COALESCE(SUM(response_bytes), 0),
			COALESCE(SUM(latency_ms), 0)
		FROM usage_records
		WHERE client_id = ? AND ts_ms >= ? AND ts_ms < ?
		GROUP BY endpoint
	`, clientID, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return usage.Summary{}, fmt.Errorf("query usage summary: %w", err)
	}
	defer rows.Close()

	var latencyTotal int64
	for rows.Next() {
		var endpoint string
		var count, bytes, latency int64
		if err := rows.Scan(&endpoint, &count, &bytes, &latency); err != nil {
			return usage.Summary{}, fmt.Errorf("scan usage summary: %w", err)
		}
		s.ByEndpoint[endpoint] = count
		s.RequestCount += count
		s.BytesOut += bytes
		latencyTotal += latency
	}
	if err := rows.Err(); err != nil {
		return usage.Summary{}, err
	}

	if s.RequestCount > 0 {
		s.AvgLatencyMs = latencyTotal / s.RequestCount
	}
	return s, nil
}

// Ensure interface compliance.
var _ ports.UsageLedger = (*Ledger)(nil)
