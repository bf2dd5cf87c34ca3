package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"chathub/internal/app/backplane"
	"chathub/internal/app/session"
	"chathub/internal/pkg/errs"
	"chathub/internal/pkg/limiter"
	"chathub/internal/pkg/logx"
)

const (
	// MaxNameRunes bounds user and room names.
	MaxNameRunes = 64

	// DefaultMaxMessageBytes is used when Options.MaxMessageBytes is zero.
	DefaultMaxMessageBytes = 5000

	// RemovedReason is the text of the USER_REMOVED notice.
	RemovedReason = "You were removed from the chat."
)

// Options tunes a Hub.
type Options struct {
	// InstanceID tags backplane envelopes published by this hub.
	InstanceID string

	MaxMessageBytes int

	// MessageRate and MessageBurst throttle SendMessage per connection. Zero disables throttling.
	MessageRate  rate.Limit
	MessageBurst int

	// NotifyDeniedPromotion sends a caller-only notice when MakeAdmin is denied,
	// mirroring RemoveUser. Off by default: denied promotions are silent.
	NotifyDeniedPromotion bool

	// StoreTimeout bounds each session store call.
	StoreTimeout time.Duration
}

// Hub implements the chat protocol on top of the Registry, the authorization
// policy and the Dispatcher. One Hub serves every connection of the process.
type Hub struct {
	registry   *Registry
	dispatcher *Dispatcher
	store      session.Store
	backplane  backplane.Backplane

	// sendLimiter throttles SendMessage per connection id; nil when disabled.
	sendLimiter *limiter.KeyedLimiter

	opts   Options
	closed atomic.Bool
	logger zerolog.Logger
}

// New builds a Hub mirroring identities into store and relaying broadcasts over bp.
func New(store session.Store, bp backplane.Backplane, opts Options) (*Hub, error) {
	if store == nil {
		return nil, errors.New("hub: session store is required")
	}
	if bp == nil {
		bp = backplane.NewLocal()
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}

	registry := NewRegistry(store, opts.StoreTimeout)

	h := &Hub{
		registry:   registry,
		dispatcher: NewDispatcher(registry, bp, opts.InstanceID),
		store:      store,
		backplane:  bp,
		opts:       opts,
		logger:     logx.Component("Hub").With().Str("instance", opts.InstanceID).Logger(),
	}

	if opts.MessageRate > 0 && opts.MessageBurst > 0 {
		h.sendLimiter = limiter.New(opts.MessageRate, opts.MessageBurst, 0)
	}

	if err := bp.Subscribe(h.dispatcher.HandleRemote); err != nil {
		return nil, fmt.Errorf("hub: backplane subscribe: %w", err)
	}

	h.logger.Info().Msg("Hub started.")
	return h, nil
}

// Registry exposes the connection registry (read-mostly access for handlers and tests).
func (h *Hub) Registry() *Registry { return h.registry }

// Connections returns the number of live transport connections, joined or not.
func (h *Hub) Connections() int { return h.dispatcher.Len() }

// MaxMessageBytes returns the configured chat message limit.
func (h *Hub) MaxMessageBytes() int { return h.opts.MaxMessageBytes }

// Attach registers a live transport connection so it receives global events
// and can invoke JoinChat.
func (h *Hub) Attach(s Sink) *errs.CustomError {
	if h.closed.Load() {
		return errs.NewError(errs.ErrConnectionClosed)
	}
	if !h.dispatcher.Attach(s) {
		return errs.NewError(errs.ErrAlreadyJoined)
	}

	h.logger.Debug().Str("connection_id", s.ConnectionID()).Msg("Connection attached.")
	return nil
}

func cleanName(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || utf8.RuneCountInString(s) > MaxNameRunes {
		return "", false
	}
	return s, true
}

// JoinChat gives connectionID an identity in chatRoom, announces it to the room
// and pushes the new directory to everyone.
func (h *Hub) JoinChat(ctx context.Context, connectionID, userName, chatRoom string) (IdentityRecord, *errs.CustomError) {
	userName, okName := cleanName(userName)
	chatRoom, okRoom := cleanName(chatRoom)
	if !okName || !okRoom {
		return IdentityRecord{}, errs.NewError(errs.ErrInvalidParams)
	}

	if !h.dispatcher.Attached(connectionID) {
		return IdentityRecord{}, errs.NewError(errs.ErrConnectionClosed)
	}

	rec, err := h.registry.Join(ctx, connectionID, userName, chatRoom)
	if err != nil {
		return IdentityRecord{}, err
	}

	// transport closed while joining: undo so the record does not outlive it
	if !h.dispatcher.Attached(connectionID) {
		h.registry.Remove(ctx, connectionID)
		return IdentityRecord{}, errs.NewError(errs.ErrConnectionClosed)
	}

	h.dispatcher.ToRoom(ctx, rec.ChatRoom, receiveMessageFrame(SenderAdmin, fmt.Sprintf("%s joined the chat", rec.UserName)))
	h.broadcastUsers(ctx)

	return rec, nil
}

// SendMessage relays message to the sender's room; empty messages are relayed
// too. The sender is resolved through the session store, not the registry: with
// no store entry (never mirrored, store down) the message is dropped and nobody
// is told. A relayed message refreshes the sender's mirror.
func (h *Hub) SendMessage(ctx context.Context, connectionID, message string) *errs.CustomError {
	if len(message) > h.opts.MaxMessageBytes {
		return errs.NewError(errs.ErrMessageContentTooLong, h.opts.MaxMessageBytes)
	}
	if h.sendLimiter != nil && !h.sendLimiter.Allow(connectionID) {
		return errs.NewError(errs.ErrRateLimitExceeded)
	}

	storeCtx, cancel := context.WithTimeout(ctx, h.opts.StoreTimeout)
	rec, err := h.store.Get(storeCtx, connectionID)
	cancel()

	if errors.Is(err, session.ErrNotFound) {
		h.logger.Debug().Str("connection_id", connectionID).Msg("No session entry, message dropped.")
		return errs.NewError(errs.ErrSessionNotFound)
	}
	if err != nil {
		h.logger.Warn().Err(err).Str("connection_id", connectionID).Msg("Session lookup failed, message dropped.")
		return errs.NewError(errs.ErrSessionStoreFailed)
	}

	h.dispatcher.ToRoom(ctx, rec.ChatRoom, receiveMessageFrame(rec.UserName, message))
	h.registry.Refresh(ctx, connectionID)
	return nil
}

// Touch keeps the session mirror of a live, joined connection from expiring.
// The transport calls it on every heartbeat.
func (h *Hub) Touch(ctx context.Context, connectionID string) {
	if h.closed.Load() {
		return
	}
	h.registry.Refresh(ctx, connectionID)
}

// RemoveUser lets an Admin remove the first connection named targetUserName.
// A denial is explained to the caller only. On success the room is told, the
// target gets USER_REMOVED and its connection is closed, and everyone gets the
// new directory.
func (h *Hub) RemoveUser(ctx context.Context, connectionID, targetUserName string) *errs.CustomError {
	caller, ok := h.registry.Lookup(connectionID)
	if !ok {
		return errs.NewError(errs.ErrNotJoined)
	}

	if deny := Authorize(caller, ActionRemoveUser, targetUserName); deny != nil {
		h.logger.Info().
			Str("connection_id", connectionID).
			Str("target", targetUserName).
			Int("code", deny.Code).
			Msg("RemoveUser denied.")
		h.dispatcher.ToConn(connectionID, receiveMessageFrame(SenderSystem, deny.Message))
		return deny
	}

	target, ok := h.registry.FindByUserName(targetUserName)
	if !ok {
		return errs.NewError(errs.ErrTargetNotFound)
	}

	removed, ok := h.registry.Remove(ctx, target.ConnectionID)
	if !ok {
		// the target disconnected between lookup and removal
		return errs.NewError(errs.ErrTargetNotFound)
	}

	h.logger.Info().
		Str("connection_id", connectionID).
		Str("target_connection_id", removed.ConnectionID).
		Str("chat_room", removed.ChatRoom).
		Msg("User removed by admin.")

	h.dispatcher.ToRoom(ctx, removed.ChatRoom, receiveMessageFrame(SenderSystem, fmt.Sprintf("%s was removed from the chat", removed.UserName)))
	h.dispatcher.ToConn(removed.ConnectionID, userRemovedFrame(RemovedReason))
	h.broadcastUsers(ctx)
	h.retire(removed.ConnectionID)

	return nil
}

// MakeAdmin lets an Admin promote the first connection named targetUserName.
// Denials and unknown targets produce no event.
func (h *Hub) MakeAdmin(ctx context.Context, connectionID, targetUserName string) *errs.CustomError {
	caller, ok := h.registry.Lookup(connectionID)
	if !ok {
		return errs.NewError(errs.ErrNotJoined)
	}

	if deny := Authorize(caller, ActionMakeAdmin, targetUserName); deny != nil {
		h.logger.Info().
			Str("connection_id", connectionID).
			Str("target", targetUserName).
			Msg("MakeAdmin denied.")
		if h.opts.NotifyDeniedPromotion {
			h.dispatcher.ToConn(connectionID, receiveMessageFrame(SenderSystem, deny.Message))
		}
		return deny
	}

	target, ok := h.registry.FindByUserName(targetUserName)
	if !ok {
		return errs.NewError(errs.ErrTargetNotFound)
	}

	updated, ok := h.registry.SetRole(ctx, target.ConnectionID, RoleAdmin)
	if !ok {
		return errs.NewError(errs.ErrTargetNotFound)
	}

	h.dispatcher.ToAll(ctx, userRoleUpdatedFrame(updated.UserName, updated.Role))
	h.broadcastUsers(ctx)
	h.dispatcher.ToRoom(ctx, updated.ChatRoom, receiveMessageFrame(SenderSystem, fmt.Sprintf("%s is now an admin", updated.UserName)))

	return nil
}

// GetAllUsers returns the current directory.
func (h *Hub) GetAllUsers() []UserInfo {
	return h.registry.Snapshot()
}

// SearchUsers returns at most MaxSearchResults users whose name contains term, ignoring case.
func (h *Hub) SearchUsers(term string) []UserInfo {
	return h.registry.Search(term)
}

// Disconnect is called by the transport when a connection ends. It shares the
// cleanup path with RemoveUser and is a no-op for an id already cleaned up.
// Once Shutdown has begun it only cleans up: no leave notice, no directory push.
func (h *Hub) Disconnect(ctx context.Context, connectionID string) {
	h.dispatcher.Detach(connectionID)
	if h.sendLimiter != nil {
		h.sendLimiter.Forget(connectionID)
	}

	removed, ok := h.registry.Remove(ctx, connectionID)
	if !ok || h.closed.Load() {
		return
	}

	h.dispatcher.ToRoom(ctx, removed.ChatRoom, receiveMessageFrame(SenderAdmin, fmt.Sprintf("%s left the chat", removed.UserName)))
	h.broadcastUsers(ctx)
}

// retire detaches a removed connection and closes its transport after the
// queued frames are flushed. The connection id can never join again.
func (h *Hub) retire(connectionID string) {
	if s, ok := h.dispatcher.Detach(connectionID); ok {
		s.Close()
	}
	if h.sendLimiter != nil {
		h.sendLimiter.Forget(connectionID)
	}
}

func (h *Hub) broadcastUsers(ctx context.Context) {
	h.dispatcher.ToAll(ctx, usersListFrame(h.registry.Snapshot()))
}

// Shutdown closes every connection, clears their session mirrors and stops
// the backplane. Transports that react to the close by calling Disconnect
// find the hub closed, so no leave notices are sent or published.
func (h *Hub) Shutdown(ctx context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	h.logger.Info().Int("connections", h.dispatcher.Len()).Msg("Shutting down hub...")

	for _, s := range h.dispatcher.Sinks() {
		h.dispatcher.Detach(s.ConnectionID())
		s.Close()
	}

	for _, id := range h.registry.ConnectionIDs() {
		if err := ctx.Err(); err != nil {
			h.logger.Warn().Err(err).Msg("Shutdown deadline reached before all sessions were cleared.")
			break
		}
		h.registry.Remove(ctx, id)
	}

	if h.sendLimiter != nil {
		h.sendLimiter.Stop()
	}

	if err := h.backplane.Close(); err != nil {
		return fmt.Errorf("hub: close backplane: %w", err)
	}

	h.logger.Info().Msg("Hub shutdown complete.")
	return nil
}
