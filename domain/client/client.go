// Package client provides B2B client value types and pure credential validation.
// This package has NO dependencies on I/O.
package client

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Status is the lifecycle state of a client account.
// Transitions are owned by the account-management subsystem.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusRevoked   Status = "revoked"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusRevoked:
		return true
	}
	return false
}

// PrefixLen is the number of leading credential characters stored for lookup.
const PrefixLen = 12

// secretHexLen is the length of the random part of a credential.
const secretHexLen = 64

// Client is a paying B2B consumer (immutable value type).
type Client struct {
	ID        string
	Name      string
	KeyHash   []byte // bcrypt hash of the full credential
	KeyPrefix string // first PrefixLen chars, for lookup
	Status    Status
	TierID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Context is what downstream components learn about an authenticated client.
type Context struct {
	ClientID   string
	TierID     string
	DailyLimit int64
	Used       int64     // calls already counted today
	ResetAt    time.Time // next UTC midnight
}

// Remaining returns the number of calls left today.
func (c Context) Remaining() int64 {
	if c.Used >= c.DailyLimit {
		return 0
	}
	return c.DailyLimit - c.Used
}

// Generate creates a new credential with the given prefix.
// Returns the raw credential (shown once to the operator) and its hash and lookup prefix.
// The raw credential is: prefix + 64 hex chars.
func Generate(prefix string) (raw string, hash []byte, lookup string, err error) {
	b := make([]byte, secretHexLen/2)
	if _, err := rand.Read(b); err != nil {
		return "", nil, "", fmt.Errorf("read random: %w", err)
	}

	raw = prefix + hex.EncodeToString(b)
	hash, err = bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, "", fmt.Errorf("hash credential: %w", err)
	}

	return raw, hash, raw[:PrefixLen], nil
}

// LookupPrefix checks the shape of a raw credential and returns its lookup prefix.
// This is a PURE function. Callers must not tell the requester why it failed.
func LookupPrefix(raw, expectedPrefix string) (string, bool) {
	if !strings.HasPrefix(raw, expectedPrefix) {
		return "", false
	}
	if len(raw) < len(expectedPrefix)+secretHexLen || len(raw) < PrefixLen {
		return "", false
	}
	return raw[:PrefixLen], true
}

// CanAccess reports whether the client may call the API at all.
func (c Client) CanAccess() bool {
	return c.Status == StatusActive
}

// WithStatus returns a copy of the client with the status set.
func (c Client) WithStatus(s Status, at time.Time) Client {
	c.Status = s
	c.UpdatedAt = at
	return c
}
