package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"

	"github.com/farmsight/farmsight-backend/pkg/kv"
	"github.com/farmsight/farmsight-backend/pkg/kv/kvtest"
	"github.com/redis/go-redis/v9"
)

func TestRedisStore(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set, skipping Redis tests")
	}

	factory := func(t *testing.T) kv.Store {
		store, err := New(redisURL)
		if err != nil {
			t.Fatalf("Failed to create Redis store: %v", err)
		}
		return store
	}

	kvtest.RunConformanceTests(t, factory)
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"redis nil", redis.Nil, false},
		{"canceled", context.Canceled, false},
		{"refused errno", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"message", errors.New("read tcp: connection reset by peer"), true},
		{"business", errors.New("WRONGTYPE Operation against a key"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectionError(tt.err); got != tt.want {
				t.Fatalf("IsConnectionError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestParseOptions(t *testing.T) {
	opt, err := parseOptions("redis://:secret@localhost:6380/2")
	if err != nil {
		t.Fatalf("parseOptions failed: %v", err)
	}
	if opt.Addr != "localhost:6380" || opt.DB != 2 || opt.Password != "secret" {
		t.Fatalf("unexpected options: %+v", opt)
	}

	opt, err = parseOptions("127.0.0.1:6379/3")
	if err != nil {
		t.Fatalf("parseOptions bare address failed: %v", err)
	}
	if opt.Addr != "127.0.0.1:6379" || opt.DB != 3 {
		t.Fatalf("unexpected options for bare address: %+v", opt)
	}
}
