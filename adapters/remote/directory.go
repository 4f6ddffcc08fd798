package remote

import (
	"context"
	"net/url"
	"time"

	"github.com/marketlens/insightgate/domain/client"
	"github.com/marketlens/insightgate/ports"
)

// Directory resolves credentials against the account-management service.
//
// API Contract:
//
//	GET /clients/prefix/{prefix}
//	Response: {"clients": [{"id": "...", "key_hash": "<base64>", "key_prefix": "...",
//	           "status": "active", "tier_id": "standard", ...}]}
//
// A 404 means no client holds the prefix.
type Directory struct {
	client *Client
}

// NewDirectory creates a remote client directory.
func NewDirectory(c *Client) *Directory {
	return &Directory{client: c}
}

// RemoteClient is the wire form of a client record.
type RemoteClient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	KeyHash   []byte    `json:"key_hash"`
	KeyPrefix string    `json:"key_prefix"`
	Status    string    `json:"status"`
	TierID    string    `json:"tier_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetByPrefix retrieves clients matching a credential prefix.
func (d *Directory) GetByPrefix(ctx context.Context, prefix string) ([]client.Client, error) {
	var resp struct {
		Clients []RemoteClient `json:"clients"`
	}

	err := d.client.Get(ctx, "/clients/prefix/"+url.PathEscape(prefix), &resp)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	clients := make([]client.Client, 0, len(resp.Clients))
	for _, rc := range resp.Clients {
		clients = append(clients, toClient(rc))
	}
	return clients, nil
}

// Ping checks that the service answers.
func (d *Directory) Ping(ctx context.Context) error {
	err := d.client.Get(ctx, "/health", nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// toClient maps the wire form. Unknown statuses are treated as revoked.
func toClient(rc RemoteClient) client.Client {
	status := client.Status(rc.Status)
	if !status.Valid() {
		status = client.StatusRevoked
	}
	return client.Client{
		ID:        rc.ID,
		Name:      rc.Name,
		KeyHash:   rc.KeyHash,
		KeyPrefix: rc.KeyPrefix,
		Status:    status,
		TierID:    rc.TierID,
		CreatedAt: rc.CreatedAt,
		UpdatedAt: rc.UpdatedAt,
	}
}

// Ensure interface compliance.
var _ ports.ClientDirectory = (*Directory)(nil)
