package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/postwire/postwire-backend/pkg/kv"
)

func TestStringOperations(t *testing.T) {
	store := NewStore()
	defer store.Close()
	ctx := context.Background()

	if err := store.SetString(ctx, "k1", "v1"); err != nil {
		t.Fatalf("SetString failed: %v", err)
	}

	got, err := store.GetString(ctx, "k1")
	if err != nil {
		t.Fatalf("GetString failed: %v", err)
	}
	if got != "v1" {
		t.Errorf("expected v1, got %s", got)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	deleted, err := store.Del(ctx, "k1", "missing")
	if err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
}

func TestExpiration(t *testing.T) {
	store := NewStore()
	defer store.Close()
	ctx := context.Background()

	if err := store.Set(ctx, "short", []byte("v"), 20*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, err := store.Get(ctx, "short"); err != nil {
		t.Fatalf("expected key before expiry: %v", err)
	}

	ttl, err := store.TTL(ctx, "short")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > 20*time.Millisecond {
		t.Errorf("unexpected ttl %v", ttl)
	}

	time.Sleep(30 * time.Millisecond)

	if _, err := store.Get(ctx, "short"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}

	count, err := store.Exists(ctx, "short")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected expired key to not exist, got count %d", count)
	}
}

func TestExpireOnHash(t *testing.T) {
	store := NewStore()
	defer store.Close()
	ctx := context.Background()

	fields := map[string][]byte{"a": []byte("1"), "b": []byte("2")}
	if err := store.HSet(ctx, "h1", fields); err != nil {
		t.Fatalf("HSet failed: %v", err)
	}

	ok, err := store.Expire(ctx, "h1", 20*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("Expire failed: ok=%v err=%v", ok, err)
	}

	all, err := store.HGetAll(ctx, "h1")
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 fields, got %d", len(all))
	}

	time.Sleep(30 * time.Millisecond)

	if _, err := store.HGetAll(ctx, "h1"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("expected ErrNotFound after hash expiry, got %v", err)
	}
}

func TestHashFieldOperations(t *testing.T) {
	store := NewStore()
	defer store.Close()
	ctx := context.Background()

	if err := store.HSet(ctx, "h", map[string][]byte{"title": []byte("first")}); err != nil {
		t.Fatalf("HSet failed: %v", err)
	}
	// Second HSet merges fields rather than replacing the hash
	if err := store.HSet(ctx, "h", map[string][]byte{"content": []byte("body")}); err != nil {
		t.Fatalf("HSet failed: %v", err)
	}

	title, err := store.HGet(ctx, "h", "title")
	if err != nil {
		t.Fatalf("HGet failed: %v", err)
	}
	if string(title) != "first" {
		t.Errorf("expected first, got %s", title)
	}

	all, err := store.HGetAll(ctx, "h")
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected merged hash of 2 fields, got %d", len(all))
	}

	if _, err := store.HGet(ctx, "h", "missing"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing field, got %v", err)
	}
}

func TestSetOperations(t *testing.T) {
	store := NewStore()
	defer store.Close()
	ctx := context.Background()

	added, err := store.SAdd(ctx, "s", []byte("a"), []byte("b"), []byte("a"))
	if err != nil {
		t.Fatalf("SAdd failed: %v", err)
	}
	if added != 2 {
		t.Errorf("expected 2 added, got %d", added)
	}

	members, err := store.SMembers(ctx, "s")
	if err != nil {
		t.Fatalf("SMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("expected 2 members, got %d", len(members))
	}

	removed, err := store.SRem(ctx, "s", []byte("a"), []byte("z"))
	if err != nil {
		t.Fatalf("SRem failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}

	// Removing the last member deletes the set entirely
	if _, err := store.SRem(ctx, "s", []byte("b")); err != nil {
		t.Fatalf("SRem failed: %v", err)
	}
	if _, err := store.SMembers(ctx, "s"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("expected ErrNotFound for deleted set, got %v", err)
	}
}

func TestJanitorEviction(t *testing.T) {
	store := New(10 * time.Millisecond)
	defer store.Close()
	ctx := context.Background()

	if err := store.Set(ctx, "doomed", []byte("v"), 15*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	store.mu.Lock()
	_, stillThere := store.strings["doomed"]
	store.mu.Unlock()
	if stillThere {
		t.Error("expected janitor to evict the expired key")
	}
}
