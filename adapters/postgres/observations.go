// Package postgres reads raw price observations from the analytics
// warehouse.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/marketlens/insightgate/domain/insight"
	"github.com/marketlens/insightgate/ports"
)

const fetchQuery = `SELECT user_id, category, COALESCE(region, ''), week, price FROM price_observations ` +
	`WHERE ($1 = '' OR category = $1) AND ($2 = '' OR region = $2) AND week >= $3 AND week < $4`

var (
	minWeek = time.Date(1970, 1, 5, 0, 0, 0, 0, time.UTC)
	maxWeek = time.Date(9999, 12, 27, 0, 0, 0, 0, time.UTC)
)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// ObservationSource implements ports.ObservationSource over the
// price_observations table. It only reads.
type ObservationSource struct {
	db *sql.DB
}

// NewObservationSource wraps an open database handle.
func NewObservationSource(db *sql.DB) *ObservationSource {
	return &ObservationSource{db: db}
}

// Fetch returns observations matching f.
func (s *ObservationSource) Fetch(ctx context.Context, f insight.Filter) ([]insight.Observation, error) {
	// Warehouse rows may carry any day of their week, so the upper bound is
	// the Monday after the last week, exclusive.
	from, until := minWeek, maxWeek
	if !f.From.IsZero() {
		from = insight.WeekStart(f.From)
	}
	if !f.To.IsZero() {
		until = insight.WeekStart(f.To).AddDate(0, 0, 7)
	}

	rows, err := s.db.QueryContext(ctx, fetchQuery, f.Category, f.Region, from, until)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []insight.Observation
	for rows.Next() {
		var o insight.Observation
		if err := rows.Scan(&o.UserID, &o.Category, &o.Region, &o.Week, &o.Price); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.Week = insight.WeekStart(o.Week)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}
	return out, nil
}

// Ping checks connectivity for readiness probes.
func (s *ObservationSource) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Ensure interface compliance.
var _ ports.ObservationSource = (*ObservationSource)(nil)
