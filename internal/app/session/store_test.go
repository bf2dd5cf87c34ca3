package session

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestEncodeDecode(t *testing.T) {
	rec := Record{UserName: "alice", ChatRoom: "lobby", Role: "Admin"}

	data, err := Encode(rec)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if string(data) != `{"userName":"alice","chatRoom":"lobby","role":"Admin"}` {
		t.Errorf("Encode() = %s", data)
	}

	back, err := Decode(data)
	if err != nil || back != rec {
		t.Errorf("Decode() = %+v, %v", back, err)
	}
}

func TestCodecRejectsInvalidRecords(t *testing.T) {
	if _, err := Encode(Record{UserName: "a", ChatRoom: "b", Role: "Owner"}); err == nil {
		t.Error("Encode() accepted role Owner")
	}

	tests := []struct {
		name string
		data string
	}{
		{"not json", `nope`},
		{"unknown role", `{"userName":"a","chatRoom":"b","role":"admin"}`},
		{"missing role", `{"userName":"a","chatRoom":"b"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.data)); err == nil {
				t.Errorf("Decode(%s) succeeded", tt.data)
			}
		})
	}
}

// storeContract runs the behaviour every backend must share.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "conn_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}

	rec := Record{UserName: "alice", ChatRoom: "lobby", Role: "Member"}
	if err := s.Set(ctx, "conn_1", rec); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, err := s.Get(ctx, "conn_1"); err != nil || got != rec {
		t.Fatalf("Get() = %+v, %v", got, err)
	}

	rec.Role = "Admin"
	if err := s.Set(ctx, "conn_1", rec); err != nil {
		t.Fatalf("overwrite Set() error = %v", err)
	}
	if got, _ := s.Get(ctx, "conn_1"); got.Role != "Admin" {
		t.Errorf("role after overwrite = %q", got.Role)
	}

	if err := s.Delete(ctx, "conn_1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, "conn_1"); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, "conn_1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore(0))
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	s := NewMemoryStore(time.Minute)
	s.now = func() time.Time { return now }

	if err := s.Set(ctx, "conn_1", Record{UserName: "a", ChatRoom: "b", Role: "Member"}); err != nil {
		t.Fatal(err)
	}

	now = now.Add(59 * time.Second)
	if _, err := s.Get(ctx, "conn_1"); err != nil {
		t.Errorf("Get() before expiry error = %v", err)
	}

	now = now.Add(time.Second)
	if _, err := s.Get(ctx, "conn_1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after expiry error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewMemoryStore(0)
	if err := s.Set(ctx, "conn_1", Record{UserName: "a", ChatRoom: "b", Role: "Member"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Set() error = %v, want context.Canceled", err)
	}
	if s.Len() != 0 {
		t.Error("Set() with cancelled context stored a record")
	}
}

// TestRedisStore runs against a real server when REDIS_ADDR is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	s, err := NewRedisStore(context.Background(), RedisConfig{Addr: addr, TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	defer s.Close()

	storeContract(t, s)
}
