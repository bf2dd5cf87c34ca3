package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chathub/internal/app/backplane"
	"chathub/internal/app/hub"
	"chathub/internal/app/session"
	"chathub/internal/configs"
	"chathub/internal/pkg/errs"
	"chathub/internal/pkg/logx"
)

func TestMain(m *testing.M) {
	logx.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type wireFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// setupTestServer starts the full router on an httptest server.
func setupTestServer(t *testing.T) (*httptest.Server, *hub.Hub) {
	t.Helper()

	cfg := &configs.AppConfig{
		Environment:     "development",
		InstanceID:      "hub_test",
		MaxMessageBytes: 5000,
	}

	h, err := hub.New(session.NewMemoryStore(0), backplane.NewLocal(), hub.Options{
		InstanceID:      cfg.InstanceID,
		MaxMessageBytes: cfg.MaxMessageBytes,
	})
	if err != nil {
		t.Fatalf("hub.New() error = %v", err)
	}

	router, stopRouter := Router(&AppDeps{Hub: h, Config: cfg})
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		_ = h.Shutdown(context.Background())
		server.Close()
		stopRouter()
	})

	return server, h
}

func TestRouterStopEndsSweepers(t *testing.T) {
	cfg := &configs.AppConfig{Environment: "development", InstanceID: "hub_test", MaxMessageBytes: 5000}
	h, err := hub.New(session.NewMemoryStore(0), backplane.NewLocal(), hub.Options{InstanceID: cfg.InstanceID})
	if err != nil {
		t.Fatalf("hub.New() error = %v", err)
	}
	t.Cleanup(func() { _ = h.Shutdown(context.Background()) })

	const routers = 25
	before := runtime.NumGoroutine()

	for i := 0; i < routers; i++ {
		_, stop := Router(&AppDeps{Hub: h, Config: cfg})
		stop()
		stop()
	}

	// each router starts two sweepers; all of them must have exited
	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before+routers/2 {
		if time.Now().After(deadline) {
			t.Fatalf("goroutines = %d after stopping %d routers, started with %d", runtime.NumGoroutine(), routers, before)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// dial opens a websocket connection to the test server.
func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	if resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke(t *testing.T, conn *websocket.Conn, typ, id string, payload any) {
	t.Helper()

	msg := map[string]any{"type": typ, "id": id}
	if payload != nil {
		msg["payload"] = payload
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("Failed to send %s: %v", typ, err)
	}
}

// readUntil reads frames until match returns true or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, what string, match func(wireFrame) bool) wireFrame {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatal(err)
	}
	defer conn.SetReadDeadline(time.Time{})

	for {
		var f wireFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("Waiting for %s: %v", what, err)
		}
		if match(f) {
			return f
		}
	}
}

func byType(typ string) func(wireFrame) bool {
	return func(f wireFrame) bool { return f.Type == typ }
}

func replyTo(id string) func(wireFrame) bool {
	return func(f wireFrame) bool {
		return f.ID == id && (f.Type == string(hub.EventResult) || f.Type == string(hub.EventError))
	}
}

func joinChat(t *testing.T, conn *websocket.Conn, userName, room string) {
	t.Helper()

	invoke(t, conn, string(hub.InvokeJoinChat), "join", hub.JoinChatArgs{UserName: userName, ChatRoom: room})
	if f := readUntil(t, conn, "join result", replyTo("join")); f.Type != string(hub.EventResult) {
		t.Fatalf("JOIN_CHAT answered with %s: %s", f.Type, f.Payload)
	}
}

func waitForUsers(t *testing.T, h *hub.Hub, n int) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for h.Registry().Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("registry size = %d, want %d", h.Registry().Len(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestHealthEndpoint checks the health envelope and counters.
func TestHealthEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var body envelope
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}

	var health HealthResponse
	if err := json.Unmarshal(body.Data, &health); err != nil {
		t.Fatal(err)
	}
	if body.Code != 0 || health.Status != "ok" || health.Instance != "hub_test" {
		t.Errorf("unexpected health response: %+v %+v", body, health)
	}
}

// TestWebSocketRequiresUpgrade rejects plain GETs on /ws.
func TestWebSocketRequiresUpgrade(t *testing.T) {
	server, _ := setupTestServer(t)

	resp, err := http.Get(server.URL + "/ws")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}

// TestChatFlow joins two clients and relays a message between them.
func TestChatFlow(t *testing.T) {
	server, h := setupTestServer(t)

	alice := dial(t, server)
	bob := dial(t, server)

	joinChat(t, alice, "alice", "lobby")
	joinChat(t, bob, "bob", "lobby")

	invoke(t, bob, string(hub.InvokeSendMessage), "", hub.SendMessageArgs{Message: "hello alice"})

	f := readUntil(t, alice, "bob's message", func(f wireFrame) bool {
		if f.Type != string(hub.EventReceiveMessage) {
			return false
		}
		var p hub.ReceiveMessagePayload
		return json.Unmarshal(f.Payload, &p) == nil && p.UserName == "bob"
	})

	var p hub.ReceiveMessagePayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.Message != "hello alice" {
		t.Errorf("message = %q", p.Message)
	}

	if got := h.Registry().Len(); got != 2 {
		t.Errorf("registry size = %d, want 2", got)
	}
}

// TestProtocolErrors checks the ERROR frames for malformed invocations.
func TestProtocolErrors(t *testing.T) {
	server, _ := setupTestServer(t)
	conn := dial(t, server)

	tests := []struct {
		name     string
		raw      string
		id       string
		wantCode int
	}{
		{"invalid json", `{"type":`, "", errs.ErrInvalidJSONFormat},
		{"unknown type", `{"type":"DANCE","id":"u1"}`, "u1", errs.ErrUnsupportedMessageType},
		{"missing payload", `{"type":"JOIN_CHAT","id":"j1"}`, "j1", errs.ErrInvalidParams},
		{"blank name", `{"type":"JOIN_CHAT","id":"j2","payload":{"userName":" ","chatRoom":"x"}}`, "j2", errs.ErrInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.raw)); err != nil {
				t.Fatal(err)
			}

			f := readUntil(t, conn, "error frame", byType(string(hub.EventError)))
			if f.ID != tt.id {
				t.Errorf("error id = %q, want %q", f.ID, tt.id)
			}

			var p hub.ErrorPayload
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				t.Fatal(err)
			}
			if p.Code != tt.wantCode {
				t.Errorf("error code = %d, want %d (%s)", p.Code, tt.wantCode, p.Message)
			}
		})
	}
}

// TestRemoveUserClosesConnection removes a member and expects the socket to close.
func TestRemoveUserClosesConnection(t *testing.T) {
	server, h := setupTestServer(t)

	admin := dial(t, server)
	member := dial(t, server)

	joinChat(t, admin, "alice", "lobby")
	joinChat(t, member, "bob", "lobby")

	invoke(t, admin, string(hub.InvokeRemoveUser), "rm", hub.TargetArgs{TargetUserName: "bob"})
	if f := readUntil(t, admin, "remove result", replyTo("rm")); f.Type != string(hub.EventResult) {
		t.Fatalf("REMOVE_USER answered with %s", f.Type)
	}

	readUntil(t, member, "USER_REMOVED", byType(string(hub.EventUserRemoved)))

	if err := member.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatal(err)
	}
	for {
		if _, _, err := member.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Errorf("expected normal close, got %v", err)
			}
			break
		}
	}

	waitForUsers(t, h, 1)
}

// TestDeniedRemovalIsSilentOnTheWire answers with RESULT and a System notice.
func TestDeniedRemovalIsSilentOnTheWire(t *testing.T) {
	server, _ := setupTestServer(t)

	admin := dial(t, server)
	member := dial(t, server)

	joinChat(t, admin, "alice", "lobby")
	joinChat(t, member, "bob", "lobby")

	invoke(t, member, string(hub.InvokeRemoveUser), "rm", hub.TargetArgs{TargetUserName: "alice"})

	notice := readUntil(t, member, "denial notice", func(f wireFrame) bool {
		if f.Type != string(hub.EventReceiveMessage) {
			return false
		}
		var p hub.ReceiveMessagePayload
		return json.Unmarshal(f.Payload, &p) == nil && p.UserName == hub.SenderSystem
	})
	var p hub.ReceiveMessagePayload
	_ = json.Unmarshal(notice.Payload, &p)
	if p.Message != "Not authorized." {
		t.Errorf("denial notice = %q", p.Message)
	}

	if f := readUntil(t, member, "remove reply", replyTo("rm")); f.Type != string(hub.EventResult) {
		t.Errorf("denied REMOVE_USER answered with %s", f.Type)
	}
}

// TestDirectoryEndpoints lists and searches joined users over REST and the socket.
func TestDirectoryEndpoints(t *testing.T) {
	server, h := setupTestServer(t)

	alice := dial(t, server)
	bob := dial(t, server)
	joinChat(t, alice, "alice", "lobby")
	joinChat(t, bob, "Bob", "hall")
	waitForUsers(t, h, 2)

	tests := []struct {
		path      string
		wantNames []string
	}{
		{"/api/users", []string{"alice", "Bob"}},
		{"/api/users/search?q=BO", []string{"Bob"}},
		{"/api/users/search?q=nobody", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(server.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}

			var body envelope
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			var data UsersResponse
			if err := json.Unmarshal(body.Data, &data); err != nil {
				t.Fatal(err)
			}

			names := []string{}
			for _, u := range data.Users {
				names = append(names, u.UserName)
			}
			if strings.Join(names, ",") != strings.Join(tt.wantNames, ",") || data.Total != len(tt.wantNames) {
				t.Errorf("users = %v (total %d), want %v", names, data.Total, tt.wantNames)
			}
		})
	}

	invoke(t, alice, string(hub.InvokeSearchUsers), "s1", hub.SearchUsersArgs{Term: "ALI"})
	f := readUntil(t, alice, "search result", replyTo("s1"))

	var result struct {
		Users []struct {
			UserName string `json:"userName"`
			Role     string `json:"role"`
		} `json:"users"`
	}
	if err := json.Unmarshal(f.Payload, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Users) != 1 || result.Users[0].UserName != "alice" || result.Users[0].Role != "Admin" {
		t.Errorf("SEARCH_USERS result = %+v", result.Users)
	}
}

// TestSearchTermTooLong rejects oversized search terms.
func TestSearchTermTooLong(t *testing.T) {
	server, _ := setupTestServer(t)

	resp, err := http.Get(server.URL + "/api/users/search?q=" + strings.Repeat("a", 65))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

// TestDisconnectAnnouncesLeave closes a socket and expects the leave notice.
func TestDisconnectAnnouncesLeave(t *testing.T) {
	server, h := setupTestServer(t)

	alice := dial(t, server)
	bob := dial(t, server)
	joinChat(t, alice, "alice", "lobby")
	joinChat(t, bob, "bob", "lobby")

	bob.Close()

	readUntil(t, alice, "leave notice", func(f wireFrame) bool {
		if f.Type != string(hub.EventReceiveMessage) {
			return false
		}
		var p hub.ReceiveMessagePayload
		return json.Unmarshal(f.Payload, &p) == nil && p.Message == "bob left the chat"
	})

	waitForUsers(t, h, 1)
}
