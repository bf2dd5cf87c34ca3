package hub

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"chathub/internal/app/backplane"
	"chathub/internal/pkg/logx"
)

// Sink is one live transport connection that frames can be pushed to.
type Sink interface {
	// ConnectionID returns the opaque id assigned when the transport connected.
	ConnectionID() string

	// Deliver queues frame without blocking; false means it was dropped.
	Deliver(frame []byte) bool

	// Close flushes already queued frames and closes the transport.
	Close()
}

// roomIndex is the part of the Registry the dispatcher reads.
type roomIndex interface {
	RoomMembers(room string) []string
}

// Dispatcher fans frames out to sinks. Audiences are snapshotted first and
// delivered without holding any registry or dispatcher lock. Delivery is
// fire-and-forget: a full client queue drops the frame.
type Dispatcher struct {
	mu    sync.RWMutex
	sinks map[string]Sink

	rooms      roomIndex
	backplane  backplane.Backplane
	instanceID string

	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher reading room membership from rooms.
func NewDispatcher(rooms roomIndex, bp backplane.Backplane, instanceID string) *Dispatcher {
	if bp == nil {
		bp = backplane.NewLocal()
	}

	return &Dispatcher{
		sinks:      make(map[string]Sink),
		rooms:      rooms,
		backplane:  bp,
		instanceID: instanceID,
		logger:     logx.Component("Dispatcher"),
	}
}

// Attach makes s reachable. It reports false if the id is already attached.
func (d *Dispatcher) Attach(s Sink) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.sinks[s.ConnectionID()]; exists {
		return false
	}
	d.sinks[s.ConnectionID()] = s
	return true
}

// Detach removes and returns the sink for connectionID.
func (d *Dispatcher) Detach(connectionID string) (Sink, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sinks[connectionID]
	if ok {
		delete(d.sinks, connectionID)
	}
	return s, ok
}

// Attached reports whether connectionID has a live sink.
func (d *Dispatcher) Attached(connectionID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.sinks[connectionID]
	return ok
}

// Len returns the number of attached sinks.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sinks)
}

// Sinks returns a snapshot of every attached sink.
func (d *Dispatcher) Sinks() []Sink {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Sink, 0, len(d.sinks))
	for _, s := range d.sinks {
		out = append(out, s)
	}
	return out
}

func (d *Dispatcher) lookup(ids []string) []Sink {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Sink, 0, len(ids))
	for _, id := range ids {
		if s, ok := d.sinks[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (d *Dispatcher) deliver(sinks []Sink, frame []byte) int {
	delivered := 0
	for _, s := range sinks {
		if s.Deliver(frame) {
			delivered++
			continue
		}
		d.logger.Warn().Str("connection_id", s.ConnectionID()).Msg("Client queue full or closed, frame dropped.")
	}
	return delivered
}

func (d *Dispatcher) encode(f Frame) []byte {
	data, err := EncodeFrame(f)
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to encode frame.")
		return nil
	}
	return data
}

// ToConn sends f to a single connection on this instance.
func (d *Dispatcher) ToConn(connectionID string, f Frame) bool {
	data := d.encode(f)
	if data == nil {
		return false
	}
	return d.deliver(d.lookup([]string{connectionID}), data) == 1
}

// ToRoom sends f to every connection indexed under room, here and on other instances.
func (d *Dispatcher) ToRoom(ctx context.Context, room string, f Frame) int {
	data := d.encode(f)
	if data == nil {
		return 0
	}

	n := d.deliver(d.lookup(d.rooms.RoomMembers(room)), data)
	d.publish(ctx, backplane.Envelope{Scope: backplane.ScopeRoom, Room: room, Payload: data})
	return n
}

// ToAll sends f to every attached connection, joined or not, here and on other instances.
func (d *Dispatcher) ToAll(ctx context.Context, f Frame) int {
	data := d.encode(f)
	if data == nil {
		return 0
	}

	n := d.deliver(d.Sinks(), data)
	d.publish(ctx, backplane.Envelope{Scope: backplane.ScopeAll, Payload: data})
	return n
}

func (d *Dispatcher) publish(ctx context.Context, env backplane.Envelope) {
	env.Origin = d.instanceID
	if err := d.backplane.Publish(context.WithoutCancel(ctx), env); err != nil {
		d.logger.Warn().Err(err).Str("scope", string(env.Scope)).Msg("Backplane publish failed.")
	}
}

// HandleRemote delivers an envelope published by another instance to local sinks only.
func (d *Dispatcher) HandleRemote(env backplane.Envelope) {
	switch env.Scope {
	case backplane.ScopeRoom:
		d.deliver(d.lookup(d.rooms.RoomMembers(env.Room)), env.Payload)
	case backplane.ScopeAll:
		d.deliver(d.Sinks(), env.Payload)
	default:
		d.logger.Warn().Str("scope", string(env.Scope)).Msg("Ignoring remote envelope with unknown scope.")
	}
}
