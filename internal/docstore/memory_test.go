package docstore

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type doc struct {
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

func TestMemoryStore_SetGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Set(ctx, "users/u1", doc{Name: "Ann"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	raw, ok, err := s.Get(ctx, "users/u1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	var got doc
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Name != "Ann" {
		t.Errorf("Name = %q, want Ann", got.Name)
	}

	_, ok, err = s.Get(ctx, "users/missing")
	if err != nil || ok {
		t.Errorf("Get(missing) = ok=%v err=%v, want false nil", ok, err)
	}
}

func TestMemoryStore_InvalidPath(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Set(context.Background(), "users", doc{}); err == nil {
		t.Fatal("expected error for invalid path")
	}
}

func TestMemoryStore_Patch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Set(ctx, "appointments/a1", doc{Name: "Ann", Status: "Scheduled"})

	if err := s.Patch(ctx, "appointments/a1", map[string]any{"status": "Confirmed"}); err != nil {
		t.Fatalf("Patch: %v", err)
	}

	raw, _, _ := s.Get(ctx, "appointments/a1")
	var got doc
	_ = json.Unmarshal(raw, &got)
	if got.Name != "Ann" || got.Status != "Confirmed" {
		t.Errorf("got %+v", got)
	}
}

func TestMemoryStore_ListReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Set(ctx, "patients/p1", doc{Name: "Ann"})

	snap, err := s.List(ctx, "patients")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	snap["p1"][0] = 'X'

	raw, _, _ := s.Get(ctx, "patients/p1")
	if raw[0] != '{' {
		t.Error("List must not expose internal buffers")
	}
}

// TestMemoryStore_Subscribe は購読直後と書き込みのたびにスナップショット全体が届くことを検証する。
func TestMemoryStore_Subscribe(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Set(ctx, "appointments/a1", doc{Name: "Ann"})

	var mu sync.Mutex
	var sizes []int
	unsubscribe, err := s.Subscribe(ctx, "appointments", func(snap Snapshot, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		mu.Lock()
		sizes = append(sizes, len(snap))
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	_ = s.Set(ctx, "appointments/a2", doc{Name: "Bob"})
	_ = s.Set(ctx, "users/u1", doc{Name: "other collection"})
	unsubscribe()
	_ = s.Set(ctx, "appointments/a3", doc{Name: "Cid"})

	mu.Lock()
	defer mu.Unlock()
	if len(sizes) != 2 || sizes[0] != 1 || sizes[1] != 2 {
		t.Errorf("snapshot sizes = %v, want [1 2]", sizes)
	}
	if n := s.hub.subscriberCount("appointments"); n != 0 {
		t.Errorf("subscriberCount = %d, want 0", n)
	}
}

func TestMemoryStore_SubscribeCancelledByContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := s.Subscribe(ctx, "queue", func(Snapshot, error) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if n := s.hub.subscriberCount("queue"); n != 1 {
		t.Fatalf("subscriberCount = %d, want 1", n)
	}

	cancel()

	deadline := time.Now().Add(time.Second)
	for s.hub.subscriberCount("queue") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not removed after context cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMemoryStore_UnsubscribeDuringDispatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	calls := 0
	var unsubscribe func()
	unsubscribe, _ = s.Subscribe(ctx, "appointments", func(Snapshot, error) {
		calls++
		if calls == 2 && unsubscribe != nil {
			unsubscribe()
		}
	})

	_ = s.Set(ctx, "appointments/a1", doc{})
	_ = s.Set(ctx, "appointments/a2", doc{})

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
