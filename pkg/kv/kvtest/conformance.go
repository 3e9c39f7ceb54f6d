// Package kvtest provides conformance tests for kv.Store implementations
package kvtest

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/farmsight/farmsight-backend/pkg/kv"
)

// StoreFactory creates a fresh Store instance for testing
type StoreFactory func(t *testing.T) kv.Store

// RunConformanceTests runs all conformance tests against a Store implementation
func RunConformanceTests(t *testing.T, factory StoreFactory) {
	tests := []struct {
		name string
		test func(t *testing.T, store kv.Store)
	}{
		{"SetGet", testSetGet},
		{"GetNonExistent", testGetNonExistent},
		{"Overwrite", testOverwrite},
		{"BinaryValue", testBinaryValue},
		{"LargeValue", testLargeValue},
		{"Del", testDel},
		{"Exists", testExists},
		{"SetWithTTL", testSetWithTTL},
		{"SetWithoutTTLClearsExpiry", testSetWithoutTTLClearsExpiry},
		{"HealthCheck", testHealthCheck},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			tt.test(t, store)
		})
	}
}

func testSetGet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:string"
	value := []byte("hello world")

	if err := store.Set(ctx, key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	result, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !bytes.Equal(result, value) {
		t.Fatalf("Expected %q, got %q", value, result)
	}
}

func testGetNonExistent(t *testing.T, store kv.Store) {
	ctx := context.Background()

	_, err := store.Get(ctx, "test:nonexistent")
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func testOverwrite(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:overwrite"

	if err := store.Set(ctx, key, []byte("first")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, key, []byte("second")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	result, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(result) != "second" {
		t.Fatalf("Expected %q, got %q", "second", result)
	}
}

func testBinaryValue(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:binary"
	value := []byte{0x00, 0xff, 0x10, 0x00, 'S', 'Q', 'L'}

	if err := store.Set(ctx, key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	result, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(result, value) {
		t.Fatalf("Binary value mangled: expected %v, got %v", value, result)
	}
}

func testLargeValue(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:large"
	value := bytes.Repeat([]byte("ndvi"), 256*1024)

	if err := store.Set(ctx, key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	result, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(result) != len(value) {
		t.Fatalf("Expected %d bytes, got %d", len(value), len(result))
	}
}

func testDel(t *testing.T, store kv.Store) {
	ctx := context.Background()

	if err := store.Set(ctx, "test:del1", []byte("a")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, "test:del2", []byte("b")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	deleted, err := store.Del(ctx, "test:del1", "test:del2", "test:missing")
	if err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("Expected 2 deleted keys, got %d", deleted)
	}

	if _, err := store.Get(ctx, "test:del1"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after Del, got %v", err)
	}
}

func testExists(t *testing.T, store kv.Store) {
	ctx := context.Background()

	if err := store.Set(ctx, "test:exists", []byte("a")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	count, err := store.Exists(ctx, "test:exists", "test:absent")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("Expected 1 existing key, got %d", count)
	}
}

func testSetWithTTL(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:ttl"

	if err := store.Set(ctx, key, []byte("short"), 100*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, err := store.Get(ctx, key); err != nil {
		t.Fatalf("Expected key before expiry: %v", err)
	}

	time.Sleep(1100 * time.Millisecond)

	if _, err := store.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after expiry, got %v", err)
	}
}

func testSetWithoutTTLClearsExpiry(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:ttl-cleared"

	if err := store.Set(ctx, key, []byte("short"), 100*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, key, []byte("persistent")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	result, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Expected key to survive after overwrite without TTL: %v", err)
	}
	if string(result) != "persistent" {
		t.Fatalf("Expected %q, got %q", "persistent", result)
	}
}

func testHealthCheck(t *testing.T, store kv.Store) {
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}
