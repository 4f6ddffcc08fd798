package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marketlens/insightgate/domain/client"
	"github.com/marketlens/insightgate/ports"
)

// ClientStore implements ports.ClientStore using SQLite.
type ClientStore struct {
	db *DB
}

// NewClientStore creates a new SQLite client store.
func NewClientStore(db *DB) *ClientStore {
	return &ClientStore{db: db}
}

const clientColumns = `id, name, key_hash, key_prefix, status, tier_id, created_at, updated_at`

// GetByPrefix retrieves clients whose credential starts with prefix.
func (s *ClientStore) GetByPrefix(ctx context.Context, prefix string) ([]client.Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE key_prefix = ?
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("query clients by prefix: %w", err)
	}
	defer rows.Close()

	return scanClients(rows)
}

// Get retrieves a client by ID.
func (s *ClientStore) Get(ctx context.Context, id string) (client.Client, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE id = ?
	`, id)

	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return client.Client{}, ErrNotFound
	}
	return c, err
}

// Create stores a new client.
func (s *ClientStore) Create(ctx context.Context, c client.Client) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (`+clientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Name, c.KeyHash, c.KeyPrefix, string(c.Status), c.TierID,
		c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

// List returns all clients, oldest first.
func (s *ClientStore) List(ctx context.Context) ([]client.Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	return scanClients(rows)
}

// SetStatus changes a client's status.
func (s *ClientStore) SetStatus(ctx context.Context, id string, status client.Status, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE clients SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("update client status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (client.Client, error) {
	var c client.Client
	var status string
	err := row.Scan(&c.ID, &c.Name, &c.KeyHash, &c.KeyPrefix, &status, &c.TierID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return client.Client{}, err
	}
	c.Status = client.Status(status)
	return c, nil
}

func scanClients(rows *sql.Rows) ([]client.Client, error) {
	var clients []client.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// Ensure interface compliance.
var _ ports.ClientStore = (*ClientStore)(nil)
