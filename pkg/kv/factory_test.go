package kv_test

import (
	"context"
	"testing"

	"github.com/farmsight/farmsight-backend/pkg/kv"
	_ "github.com/farmsight/farmsight-backend/pkg/kv/file"
	_ "github.com/farmsight/farmsight-backend/pkg/kv/memory"
	_ "github.com/farmsight/farmsight-backend/pkg/kv/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.Set(ctx, "k", []byte("v")))
		got, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", string(got))
	})

	t.Run("file", func(t *testing.T) {
		store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendFile, Dir: t.TempDir()})
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.Ping(ctx))
	})

	t.Run("file requires dir", func(t *testing.T) {
		_, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendFile})
		assert.Error(t, err)
	})

	t.Run("redis requires url", func(t *testing.T) {
		_, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendRedis})
		assert.Error(t, err)
	})

	t.Run("unreachable redis falls back to files", func(t *testing.T) {
		var logged []string
		store, err := kv.NewStoreFromConfig(kv.Config{
			Backend:         kv.BackendRedis,
			RedisURL:        "redis://127.0.0.1:1/0",
			Dir:             t.TempDir(),
			FailoverEnabled: true,
			Logger: func(msg string, fields ...any) {
				logged = append(logged, msg)
			},
		})
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.Set(ctx, "farmsight-db", []byte("image")))
		got, err := store.Get(ctx, "farmsight-db")
		require.NoError(t, err)
		assert.Equal(t, "image", string(got))
		assert.NotEmpty(t, logged)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := kv.NewStoreFromConfig(kv.Config{Backend: "etcd"})
		assert.Error(t, err)
	})
}
