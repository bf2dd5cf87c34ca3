package hub

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chathub/internal/app/session"
	"chathub/internal/pkg/errs"
	"chathub/internal/pkg/logx"
)

const (
	// MaxSearchResults caps the size of a Search result.
	MaxSearchResults = 50

	// DefaultStoreTimeout bounds a single session store call.
	DefaultStoreTimeout = 3 * time.Second
)

type registryEntry struct {
	record IdentityRecord
	seq    uint64
}

// Registry is the in-memory index of joined connections and the room index
// derived from it. Both maps change under one lock, so a connection is never
// in one without the other. Every successful mutation is mirrored to the
// session store after the lock is released.
type Registry struct {
	// mu guards records, rooms and seq.
	mu sync.RWMutex

	// records maps connection id to its identity.
	records map[string]*registryEntry

	// rooms maps a room name to the connection ids indexed under it.
	rooms map[string]map[string]struct{}

	// seq orders entries by insertion.
	seq uint64

	// conns serializes join/remove/set-role per connection id, store write included.
	conns connLocks

	store        session.Store
	storeTimeout time.Duration

	logger zerolog.Logger
}

// NewRegistry returns an empty registry mirroring into store.
func NewRegistry(store session.Store, storeTimeout time.Duration) *Registry {
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}

	return &Registry{
		records:      make(map[string]*registryEntry),
		rooms:        make(map[string]map[string]struct{}),
		conns:        connLocks{m: make(map[string]*connLock)},
		store:        store,
		storeTimeout: storeTimeout,
		logger:       logx.Component("Registry"),
	}
}

// Join registers connectionID in chatRoom under userName and returns the new record.
// The role follows the join-time rule evaluated atomically with the insert.
// Duplicate user names are allowed; only a connection id that is already joined is rejected.
func (r *Registry) Join(ctx context.Context, connectionID, userName, chatRoom string) (IdentityRecord, *errs.CustomError) {
	unlock := r.conns.lock(connectionID)
	defer unlock()

	r.mu.Lock()
	if _, exists := r.records[connectionID]; exists {
		r.mu.Unlock()
		return IdentityRecord{}, errs.NewError(errs.ErrAlreadyJoined)
	}

	rec := IdentityRecord{
		ConnectionID: connectionID,
		UserName:     userName,
		ChatRoom:     chatRoom,
		Role:         joinRole(len(r.records) == 0, userName),
	}

	r.seq++
	r.records[connectionID] = &registryEntry{record: rec, seq: r.seq}

	members, ok := r.rooms[chatRoom]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[chatRoom] = members
	}
	members[connectionID] = struct{}{}
	total := len(r.records)
	r.mu.Unlock()

	r.logger.Info().
		Str("connection_id", connectionID).
		Str("chat_room", chatRoom).
		Stringer("role", rec.Role).
		Int("total_users", total).
		Msg("Connection joined.")

	r.mirror(ctx, rec)

	return rec, nil
}

// Remove deletes the record, its room index entry and its store mirror.
// It reports the removed record; a second call for the same id is a no-op.
func (r *Registry) Remove(ctx context.Context, connectionID string) (IdentityRecord, bool) {
	unlock := r.conns.lock(connectionID)
	defer unlock()

	r.mu.Lock()
	entry, ok := r.records[connectionID]
	if !ok {
		r.mu.Unlock()
		return IdentityRecord{}, false
	}

	delete(r.records, connectionID)

	room := entry.record.ChatRoom
	if members, ok := r.rooms[room]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	total := len(r.records)
	r.mu.Unlock()

	r.logger.Info().
		Str("connection_id", connectionID).
		Str("chat_room", room).
		Int("total_users", total).
		Msg("Connection removed.")

	// cleanup runs on disconnect, when the caller's context may already be cancelled
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.storeTimeout)
	defer cancel()

	if err := r.store.Delete(storeCtx, connectionID); err != nil {
		r.logger.Warn().Err(err).Str("connection_id", connectionID).Msg("Failed to delete session mirror.")
	}

	return entry.record, true
}

// SetRole changes the role of a joined connection and re-mirrors it.
// It reports false when the connection is not joined.
func (r *Registry) SetRole(ctx context.Context, connectionID string, role Role) (IdentityRecord, bool) {
	unlock := r.conns.lock(connectionID)
	defer unlock()

	r.mu.Lock()
	entry, ok := r.records[connectionID]
	if !ok {
		r.mu.Unlock()
		return IdentityRecord{}, false
	}
	entry.record.Role = role
	rec := entry.record
	r.mu.Unlock()

	r.logger.Info().
		Str("connection_id", connectionID).
		Stringer("role", role).
		Msg("Role updated.")

	r.mirror(ctx, rec)

	return rec, true
}

// Refresh rewrites the store mirror of a joined connection, restarting any
// store-side expiry. It reports false when the connection is not joined.
func (r *Registry) Refresh(ctx context.Context, connectionID string) bool {
	unlock := r.conns.lock(connectionID)
	defer unlock()

	rec, ok := r.Lookup(connectionID)
	if !ok {
		return false
	}

	r.mirror(ctx, rec)
	return true
}

// mirror writes rec to the session store. Failures are logged and otherwise
// ignored: the registry stays authoritative and the mutation is not rolled back.
func (r *Registry) mirror(ctx context.Context, rec IdentityRecord) {
	storeCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	if err := r.store.Set(storeCtx, rec.ConnectionID, rec.sessionRecord()); err != nil {
		r.logger.Warn().
			Err(err).
			Str("connection_id", rec.ConnectionID).
			Msg("Failed to mirror identity to session store; messages from this connection will be dropped.")
	}
}

// Lookup returns the record of a joined connection.
func (r *Registry) Lookup(connectionID string) (IdentityRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.records[connectionID]
	if !ok {
		return IdentityRecord{}, false
	}
	return entry.record, true
}

// FindByUserName returns the earliest joined connection whose user name equals
// userName exactly. When several connections share a name only that first one
// is ever targeted by moderation actions.
func (r *Registry) FindByUserName(userName string) (IdentityRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *registryEntry
	for _, entry := range r.records {
		if entry.record.UserName != userName {
			continue
		}
		if found == nil || entry.seq < found.seq {
			found = entry
		}
	}

	if found == nil {
		return IdentityRecord{}, false
	}
	return found.record, true
}

// ordered returns a copy of all records in insertion order. Callers hold r.mu.
func (r *Registry) ordered() []registryEntry {
	entries := make([]registryEntry, 0, len(r.records))
	for _, entry := range r.records {
		entries = append(entries, *entry)
	}

	slices.SortFunc(entries, func(a, b registryEntry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	return entries
}

// Snapshot returns the public view of every joined connection in join order.
func (r *Registry) Snapshot() []UserInfo {
	r.mu.RLock()
	entries := r.ordered()
	r.mu.RUnlock()

	users := make([]UserInfo, 0, len(entries))
	for _, entry := range entries {
		users = append(users, entry.record.Info())
	}
	return users
}

// Search returns up to MaxSearchResults users whose name contains term, ignoring case.
func (r *Registry) Search(term string) []UserInfo {
	needle := strings.ToLower(term)

	r.mu.RLock()
	entries := r.ordered()
	r.mu.RUnlock()

	users := make([]UserInfo, 0, min(len(entries), MaxSearchResults))
	for _, entry := range entries {
		if len(users) == MaxSearchResults {
			break
		}
		if strings.Contains(strings.ToLower(entry.record.UserName), needle) {
			users = append(users, entry.record.Info())
		}
	}
	return users
}

// RoomMembers returns a copy of the connection ids indexed under room.
func (r *Registry) RoomMembers(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// ConnectionIDs returns the ids of every joined connection.
func (r *Registry) ConnectionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of joined connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// RoomCount returns the number of non-empty rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

type connLock struct {
	mu   sync.Mutex
	refs int
}

// connLocks hands out one mutex per connection id and frees it when unused.
type connLocks struct {
	mu sync.Mutex
	m  map[string]*connLock
}

func (l *connLocks) lock(id string) (unlock func()) {
	l.mu.Lock()
	cl, ok := l.m[id]
	if !ok {
		cl = &connLock{}
		l.m[id] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()

	return func() {
		cl.mu.Unlock()

		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
