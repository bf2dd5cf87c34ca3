/*
Package session mirrors per-connection identity into a shared key-value store.

The in-memory registry of the hub is authoritative; the store is a write-through
replica keyed by connection id that other instances (and SendMessage routing)
read from. Backends: in-process memory, Redis and PostgreSQL.
*/
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no record exists for the connection.
var ErrNotFound = errors.New("session: record not found")

// Record is the serialized mirror of one connection's identity.
type Record struct {
	UserName string `json:"userName"`
	ChatRoom string `json:"chatRoom"`
	Role     string `json:"role"`
}

// Store is the get/set/delete contract of the session store.
type Store interface {
	// Get returns the record for connectionID, or ErrNotFound.
	Get(ctx context.Context, connectionID string) (Record, error)

	// Set writes (or overwrites) the record for connectionID.
	Set(ctx context.Context, connectionID string, rec Record) error

	// Delete removes the record; deleting an absent key is not an error.
	Delete(ctx context.Context, connectionID string) error

	// Close releases the backend's resources.
	Close() error
}

// validRoles lists the role strings a record may carry.
var validRoles = map[string]struct{}{
	"Member": {},
	"Admin":  {},
}

// Encode serializes rec to its JSON wire form.
func Encode(rec Record) ([]byte, error) {
	if _, ok := validRoles[rec.Role]; !ok {
		return nil, fmt.Errorf("session: encode: invalid role %q", rec.Role)
	}
	return json.Marshal(rec)
}

// Decode parses data produced by Encode.
func Decode(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("session: decode: %w", err)
	}
	if _, ok := validRoles[rec.Role]; !ok {
		return Record{}, fmt.Errorf("session: decode: invalid role %q", rec.Role)
	}
	return rec, nil
}
