// Package dbtest builds initialized stores for tests of the service packages.
package dbtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/farmsight/farmsight-backend/internal/db"
	"github.com/farmsight/farmsight-backend/pkg/kv"
	"github.com/farmsight/farmsight-backend/pkg/kv/memory"
)

// NewStore returns an initialized store backed by a fresh in-memory kv
// store. Both are closed when the test ends.
func NewStore(t testing.TB) *db.Store {
	t.Helper()
	store, _ := NewStoreWithKV(t)
	return store
}

// NewStoreWithKV is NewStore that also hands back the kv store holding the image.
func NewStoreWithKV(t testing.TB) (*db.Store, kv.Store) {
	t.Helper()

	backing := memory.NewStore()
	store := db.New(backing, zap.NewNop().Sugar())
	_, err := store.Initialize(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
		backing.Close()
	})
	return store, backing
}
