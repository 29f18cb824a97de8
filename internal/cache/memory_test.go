package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_ = s.Set(ctx, "a", []byte("1"), time.Second)
	_ = s.Set(ctx, "b", []byte("2"), 0)

	if v, ok, _ := s.Get(ctx, "a"); !ok || string(v) != "1" {
		t.Fatalf("a=%q ok=%v", v, ok)
	}
	now = now.Add(2 * time.Second)
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatalf("a should be expired")
	}
	if v, ok, _ := s.Get(ctx, "b"); !ok || string(v) != "2" {
		t.Fatalf("b=%q ok=%v", v, ok)
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }
	ctx := context.Background()
	_ = s.Set(ctx, "x", []byte("1"), time.Second)
	_ = s.Set(ctx, "y", []byte("1"), time.Hour)
	now = now.Add(time.Minute)
	if n := s.Sweep(); n != 1 {
		t.Fatalf("swept=%d want=1", n)
	}
}

func TestJSONHelpers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	type payload struct {
		Price string `json:"price"`
	}
	if err := SetJSON(ctx, s, "k", payload{Price: "42.5"}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got payload
	ok, err := GetJSON(ctx, s, "k", &got)
	if err != nil || !ok || got.Price != "42.5" {
		t.Fatalf("got=%+v ok=%v err=%v", got, ok, err)
	}
	_ = s.Set(ctx, "bad", []byte("{"), time.Minute)
	if ok, _ := GetJSON(ctx, s, "bad", &got); ok {
		t.Fatalf("corrupt entry should miss")
	}
	if _, found, _ := s.Get(ctx, "bad"); found {
		t.Fatalf("corrupt entry should be evicted")
	}
}
