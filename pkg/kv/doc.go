// Package kv provides the durable key-value storage that holds the serialized
// database image.
//
// Three backends register themselves with the package factory when imported:
// memory (tests and throwaway runs), file (one file per key in a directory,
// the default for a local install) and redis. A redis store can be wrapped in
// a FailoverStore that falls back to the file or memory backend while redis is
// unreachable and promotes redis again once it answers pings.
//
// Example usage:
//
//	cfg := kv.Config{
//		Backend: kv.BackendFile,
//		Dir:     "./data",
//	}
//	store, err := kv.NewStoreFromConfig(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	if err := store.Set(ctx, "farmsight-db", image); err != nil {
//		log.Fatal(err)
//	}
//
//	image, err = store.Get(ctx, "farmsight-db")
//	if errors.Is(err, kv.ErrNotFound) {
//		// nothing persisted yet
//	}
package kv
