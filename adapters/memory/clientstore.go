// Package memory provides in-memory implementations of the storage ports.
// They back tests and single-process demos.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/marketlens/insightgate/domain/client"
	"github.com/marketlens/insightgate/ports"
)

// ErrNotFound is returned when a requested item does not exist.
var ErrNotFound = errors.New("not found")

// ClientStore is an in-memory implementation of ports.ClientStore.
type ClientStore struct {
	mu      sync.RWMutex
	clients map[string]client.Client // by ID
	err     error
}

// NewClientStore creates a new in-memory client store.
func NewClientStore() *ClientStore {
	return &ClientStore{
		clients: make(map[string]client.Client),
	}
}

// GetByPrefix retrieves clients matching a credential prefix.
func (s *ClientStore) GetByPrefix(ctx context.Context, prefix string) ([]client.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return nil, s.err
	}

	var result []client.Client
	for _, c := range s.clients {
		if c.KeyPrefix == prefix {
			result = append(result, c)
		}
	}
	return result, nil
}

// Get retrieves a client by ID.
func (s *ClientStore) Get(ctx context.Context, id string) (client.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[id]
	if !ok {
		return client.Client{}, ErrNotFound
	}
	return c, nil
}

// Create stores a new client.
func (s *ClientStore) Create(ctx context.Context, c client.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[c.ID] = c
	return nil
}

// List returns all clients, oldest first.
func (s *ClientStore) List(ctx context.Context) ([]client.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]client.Client, 0, len(s.clients))
	for _, c := range s.clients {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// SetStatus changes a client's status.
func (s *ClientStore) SetStatus(ctx context.Context, id string, status client.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[id]
	if !ok {
		return ErrNotFound
	}
	s.clients[id] = c.WithStatus(status, at)
	return nil
}

// FailWith makes lookups return err until called with nil (for testing).
func (s *ClientStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Ensure interface compliance.
var _ ports.ClientStore = (*ClientStore)(nil)
