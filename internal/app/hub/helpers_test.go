package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"testing"

	"chathub/internal/app/backplane"
	"chathub/internal/app/session"
	"chathub/internal/pkg/logx"
)

func TestMain(m *testing.M) {
	logx.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// fakeSink records every frame delivered to it.
type fakeSink struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newFakeSink(id string) *fakeSink {
	return &fakeSink{id: id}
}

func (s *fakeSink) ConnectionID() string { return s.id }

func (s *fakeSink) Deliver(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.frames = append(s.frames, frame)
	return true
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// decodedFrame is an outbound frame with its payload left raw.
type decodedFrame struct {
	Type    EventType       `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

func (s *fakeSink) received(t *testing.T) []decodedFrame {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]decodedFrame, 0, len(s.frames))
	for _, raw := range s.frames {
		var f decodedFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("sink %s got invalid frame %q: %v", s.id, raw, err)
		}
		out = append(out, f)
	}
	return out
}

func (s *fakeSink) reset() {
	s.mu.Lock()
	s.frames = nil
	s.mu.Unlock()
}

// ofType returns the frames of type typ, in delivery order.
func (s *fakeSink) ofType(t *testing.T, typ EventType) []decodedFrame {
	t.Helper()

	var out []decodedFrame
	for _, f := range s.received(t) {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func (s *fakeSink) messages(t *testing.T) []ReceiveMessagePayload {
	t.Helper()

	var out []ReceiveMessagePayload
	for _, f := range s.ofType(t, EventReceiveMessage) {
		var p ReceiveMessagePayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			t.Fatalf("invalid RECEIVE_MESSAGE payload: %v", err)
		}
		out = append(out, p)
	}
	return out
}

// lastUsers returns the users of the most recent USERS_LIST_UPDATED frame.
func (s *fakeSink) lastUsers(t *testing.T) []wireUser {
	t.Helper()

	frames := s.ofType(t, EventUsersListUpdated)
	if len(frames) == 0 {
		t.Fatalf("sink %s received no %s", s.id, EventUsersListUpdated)
	}

	var p struct {
		Users []wireUser `json:"users"`
	}
	if err := json.Unmarshal(frames[len(frames)-1].Payload, &p); err != nil {
		t.Fatalf("invalid USERS_LIST_UPDATED payload: %v", err)
	}
	return p.Users
}

type wireUser struct {
	UserName string `json:"userName"`
	Role     string `json:"role"`
	ChatRoom string `json:"chatRoom"`
}

func newTestHub(t *testing.T, opts Options) (*Hub, *session.MemoryStore) {
	t.Helper()

	store := session.NewMemoryStore(0)
	return newTestHubWithStore(t, store, opts), store
}

func newTestHubWithStore(t *testing.T, store session.Store, opts Options) *Hub {
	t.Helper()

	if opts.InstanceID == "" {
		opts.InstanceID = "hub_test"
	}

	h, err := New(store, nil, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = h.Shutdown(context.Background()) })
	return h
}

func newTestHubWithBackplane(t *testing.T, bp backplane.Backplane) *Hub {
	t.Helper()

	h, err := New(session.NewMemoryStore(0), bp, Options{InstanceID: "hub_a"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = h.Shutdown(context.Background()) })
	return h
}

// connect attaches a fake transport connection.
func connect(t *testing.T, h *Hub, id string) *fakeSink {
	t.Helper()

	s := newFakeSink(id)
	if err := h.Attach(s); err != nil {
		t.Fatalf("Attach(%s) error = %v", id, err)
	}
	return s
}

// join attaches a connection and joins it.
func join(t *testing.T, h *Hub, id, userName, room string) (*fakeSink, IdentityRecord) {
	t.Helper()

	s := connect(t, h, id)
	rec, err := h.JoinChat(context.Background(), id, userName, room)
	if err != nil {
		t.Fatalf("JoinChat(%s, %q, %q) error = %v", id, userName, room, err)
	}
	return s, rec
}

// failingStore fails every call.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Get(context.Context, string) (session.Record, error) {
	return session.Record{}, errStoreDown
}
func (failingStore) Set(context.Context, string, session.Record) error { return errStoreDown }
func (failingStore) Delete(context.Context, string) error              { return errStoreDown }
func (failingStore) Close() error                                      { return nil }
