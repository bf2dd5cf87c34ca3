/*
Package backplane carries hub broadcasts between server instances.

A single instance needs nothing (Local). When several instances share a session
store, NATS relays every room-scoped and global event so clients connected to
other instances receive it too. Delivery is fire-and-forget, like the hub itself.
*/
package backplane

import (
	"context"
	"encoding/json"
	"fmt"
)

// Scope selects the audience of an envelope.
type Scope string

const (
	// ScopeRoom delivers to the members of Envelope.Room.
	ScopeRoom Scope = "room"

	// ScopeAll delivers to every connected client.
	ScopeAll Scope = "all"
)

// Envelope is one broadcast relayed between instances.
type Envelope struct {
	// Origin is the instance id of the publisher; receivers skip their own.
	Origin string `json:"origin"`

	Scope Scope `json:"scope"`

	// Room is set for ScopeRoom.
	Room string `json:"room,omitempty"`

	// Payload is the already-encoded outbound frame.
	Payload json.RawMessage `json:"payload"`
}

// Validate checks that the envelope is deliverable.
func (e Envelope) Validate() error {
	switch e.Scope {
	case ScopeAll:
	case ScopeRoom:
		if e.Room == "" {
			return fmt.Errorf("backplane: room envelope without room")
		}
	default:
		return fmt.Errorf("backplane: unknown scope %q", e.Scope)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("backplane: empty payload")
	}
	return nil
}

// Handler receives envelopes published by other instances.
type Handler func(Envelope)

// Backplane relays envelopes to the other instances.
type Backplane interface {
	// Publish sends env to every other instance.
	Publish(ctx context.Context, env Envelope) error

	// Subscribe registers the handler for remote envelopes. Call once.
	Subscribe(h Handler) error

	// Close stops delivery and releases the connection.
	Close() error
}

// Local is the single-instance backplane: nothing to relay.
type Local struct{}

// NewLocal returns the no-op backplane.
func NewLocal() *Local { return &Local{} }

// Publish implements Backplane.
func (*Local) Publish(context.Context, Envelope) error { return nil }

// Subscribe implements Backplane.
func (*Local) Subscribe(Handler) error { return nil }

// Close implements Backplane.
func (*Local) Close() error { return nil }
