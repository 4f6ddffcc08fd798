// Package usage provides usage record types and aggregation functions.
// All functions are pure - no side effects.
package usage

import (
	"sort"
	"strings"
	"time"
)

// Record is one successfully served B2B call (immutable value type).
// Records are append-only; retention is owned outside this service.
type Record struct {
	ID            string
	ClientID      string
	Endpoint      string
	Params        map[string]string // canonical query params, never raw PII
	ResponseBytes int64
	LatencyMs     int64
	Timestamp     time.Time
}

// NewRecord creates a record stamped in UTC.
func NewRecord(id, clientID, endpoint string, params map[string]string, responseBytes, latencyMs int64, at time.Time) Record {
	return Record{
		ID:            id,
		ClientID:      clientID,
		Endpoint:      endpoint,
		Params:        params,
		ResponseBytes: responseBytes,
		LatencyMs:     latencyMs,
		Timestamp:     at.UTC(),
	}
}

// Day returns the UTC date key the record counts against.
func (r Record) Day() string {
	return r.Timestamp.UTC().Format("2006-01-02")
}

// ParamString renders params as a stable "k=v&k=v" string for logs and tables.
func (r Record) ParamString() string {
	keys := make([]string, 0, len(r.Params))
	for k := range r.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(r.Params[k])
	}
	return b.String()
}

// Summary represents aggregated usage for a period (value type).
type Summary struct {
	ClientID     string
	PeriodStart  time.Time
	PeriodEnd    time.Time
	RequestCount int64
	BytesOut     int64
	AvgLatencyMs int64
	ByEndpoint   map[string]int64
}

// Aggregate combines records into a summary.
// This is a PURE function.
func Aggregate(records []Record, periodStart, periodEnd time.Time) Summary {
	s := Summary{
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		ByEndpoint:  make(map[string]int64),
	}

	var totalLatency int64
	for _, r := range records {
		if s.ClientID == "" {
			s.ClientID = r.ClientID
		}
		s.RequestCount++
		s.BytesOut += r.ResponseBytes
		totalLatency += r.LatencyMs
		s.ByEndpoint[r.Endpoint]++
	}

	if s.RequestCount > 0 {
		s.AvgLatencyMs = totalLatency / s.RequestCount
	}
	return s
}
