package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/marketlens/insightgate/domain/insight"
	"github.com/marketlens/insightgate/ports"
)

const weekLayout = "2006-01-02"

// ObservationStore implements ports.ObservationSource over a local table.
type ObservationStore struct {
	db *DB
}

// NewObservationStore creates a new SQLite observation store.
func NewObservationStore(db *DB) *ObservationStore {
	return &ObservationStore{db: db}
}

// Fetch returns observations matching f.
func (s *ObservationStore) Fetch(ctx context.Context, f insight.Filter) ([]insight.Observation, error) {
	var where []string
	var args []any
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.Region != "" {
		where = append(where, "region = ?")
		args = append(args, f.Region)
	}
	if !f.From.IsZero() {
		where = append(where, "week >= ?")
		args = append(args, insight.WeekStart(f.From).Format(weekLayout))
	}
	if !f.To.IsZero() {
		where = append(where, "week <= ?")
		args = append(args, insight.WeekStart(f.To).Format(weekLayout))
	}

	query := `SELECT user_id, category, region, week, price FROM observations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []insight.Observation
	for rows.Next() {
		var o insight.Observation
		var week string
		if err := rows.Scan(&o.UserID, &o.Category, &o.Region, &week, &o.Price); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		if o.Week, err = time.Parse(weekLayout, week); err != nil {
			return nil, fmt.Errorf("parse week %q: %w", week, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Insert stores observations in one transaction. Weeks are normalized to
// their Monday.
func (s *ObservationStore) Insert(ctx context.Context, obs []insight.Observation) error {
	if len(obs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (user_id, category, region, week, price)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range obs {
		week := insight.WeekStart(o.Week).Format(weekLayout)
		if _, err := stmt.ExecContext(ctx, o.UserID, o.Category, o.Region, week, o.Price); err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
	}

	return tx.Commit()
}

// Ensure interface compliance.
var _ ports.ObservationSource = (*ObservationStore)(nil)
