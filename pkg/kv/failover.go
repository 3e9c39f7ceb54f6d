package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// LogFunc is a function type for structured logging
type LogFunc func(msg string, fields ...any)

// resyncTimeout bounds copying fallback writes back to the primary.
const resyncTimeout = 30 * time.Second

// FailoverStore wraps a primary and fallback store, automatically failing over
// when the primary becomes unavailable and recovering when it becomes healthy again.
//
// Keys written or deleted while the fallback is active are replayed onto the
// primary before it is promoted again; if that copy fails the fallback stays
// active and probing resumes. Expiry is not carried over. A process that
// starts with redis down reads only the fallback, and what the fallback held
// before that start is not replayed.
type FailoverStore struct {
	primary       Store
	fallback      Store
	active        atomic.Value // Store
	probeInterval time.Duration
	logger        LogFunc

	// writes hold writeMu shared; promotion holds it exclusively so nothing
	// lands on the fallback between the copy and the switch.
	writeMu sync.RWMutex
	dirtyMu sync.Mutex
	dirty   map[string]bool // key -> true if set, false if deleted

	mu        sync.Mutex
	probing   bool
	closed    chan struct{}
	probeStop chan struct{}
	probeDone chan struct{}
	promote   chan struct{}
}

// NewFailoverStore creates a new failover store that prefers the primary but falls back to fallback
func NewFailoverStore(primary, fallback Store, probeInterval time.Duration, logger LogFunc) *FailoverStore {
	fs := newFailoverStore(primary, fallback, probeInterval, logger)
	fs.active.Store(primary)
	go fs.handlePromotions()
	return fs
}

// NewFailoverStoreWithFallbackActive creates a failover store that starts with fallback active
// and probes primary for recovery (used when primary fails at startup)
func NewFailoverStoreWithFallbackActive(primary, fallback Store, probeInterval time.Duration, logger LogFunc) *FailoverStore {
	fs := newFailoverStore(primary, fallback, probeInterval, logger)
	fs.active.Store(fallback)
	fs.startProbing()
	go fs.handlePromotions()
	return fs
}

func newFailoverStore(primary, fallback Store, probeInterval time.Duration, logger LogFunc) *FailoverStore {
	if logger == nil {
		logger = func(msg string, fields ...any) {}
	}
	return &FailoverStore{
		primary:       primary,
		fallback:      fallback,
		probeInterval: probeInterval,
		logger:        logger,
		closed:        make(chan struct{}),
		promote:       make(chan struct{}, 1),
		dirty:         make(map[string]bool),
	}
}

func (fs *FailoverStore) getActiveStore() Store {
	return fs.active.Load().(Store)
}

// demoteToFallback switches to the fallback store and starts background probing for recovery
func (fs *FailoverStore) demoteToFallback() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.getActiveStore() == fs.fallback {
		return
	}

	fs.active.Store(fs.fallback)
	fs.logger("Failing over to local store", "reason", "primary_unavailable")

	fs.startProbingUnsafe()
}

func (fs *FailoverStore) handlePromotions() {
	for {
		select {
		case <-fs.closed:
			return
		case <-fs.promote:
			if fs.getActiveStore() == fs.primary {
				continue
			}

			if err := fs.resyncPrimary(); err != nil {
				fs.logger("Primary resync failed; staying on local store", "error", err.Error())
				// the probe loop exits after signalling, so start a fresh one
				fs.stopProbing()
				fs.startProbing()
				continue
			}
			fs.logger("Recovered to primary store", "reason", "primary_healthy")

			fs.stopProbing()
		}
	}
}

// resyncPrimary copies every key changed on the fallback to the primary and
// then makes the primary active.
func (fs *FailoverStore) resyncPrimary() error {
	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
	defer cancel()

	fs.dirtyMu.Lock()
	defer fs.dirtyMu.Unlock()

	for key, set := range fs.dirty {
		var value []byte
		if set {
			v, err := fs.fallback.Get(ctx, key)
			switch {
			case err == nil:
				value = v
			case errors.Is(err, ErrNotFound):
				set = false
			default:
				return fmt.Errorf("read %s from fallback: %w", key, err)
			}
		}

		if set {
			if err := fs.primary.Set(ctx, key, value); err != nil {
				return fmt.Errorf("copy %s to primary: %w", key, err)
			}
		} else if _, err := fs.primary.Del(ctx, key); err != nil {
			return fmt.Errorf("delete %s on primary: %w", key, err)
		}
		delete(fs.dirty, key)
	}

	fs.active.Store(fs.primary)
	return nil
}

// markDirty records keys changed while the fallback is active. Caller holds
// writeMu shared.
func (fs *FailoverStore) markDirty(set bool, keys ...string) {
	if fs.getActiveStore() != fs.fallback {
		return
	}
	fs.dirtyMu.Lock()
	defer fs.dirtyMu.Unlock()
	for _, key := range keys {
		fs.dirty[key] = set
	}
}

// signalPromotion signals that primary should be promoted (non-blocking)
func (fs *FailoverStore) signalPromotion() {
	select {
	case fs.promote <- struct{}{}:
	default:
	}
}

// startProbingUnsafe starts background probing if not already active (must hold mutex)
func (fs *FailoverStore) startProbingUnsafe() {
	if fs.probing {
		return
	}

	fs.probing = true
	fs.probeStop = make(chan struct{})
	fs.probeDone = make(chan struct{})

	go fs.probeLoop(fs.probeStop, fs.probeDone)
}

func (fs *FailoverStore) startProbing() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.startProbingUnsafe()
}

func (fs *FailoverStore) stopProbing() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.stopProbingUnsafe()
}

// stopProbingUnsafe stops background probing (must hold mutex)
func (fs *FailoverStore) stopProbingUnsafe() {
	if !fs.probing {
		return
	}

	close(fs.probeStop)
	<-fs.probeDone
	fs.probing = false
}

func (fs *FailoverStore) probeLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(fs.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-fs.closed:
			return
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), fs.probeInterval/2)
			err := fs.primary.Ping(ctx)
			cancel()

			if err == nil {
				fs.signalPromotion()
				return
			}
		}
	}
}

// execute runs fn on the active store and retries on the fallback when the
// primary reports ErrBackendUnavailable.
func execute[T any](fs *FailoverStore, fn func(Store) (T, error)) (T, error) {
	store := fs.getActiveStore()
	result, err := fn(store)

	if store == fs.primary && errors.Is(err, ErrBackendUnavailable) {
		fs.demoteToFallback()

		if fallbackStore := fs.getActiveStore(); fallbackStore != store {
			return fn(fallbackStore)
		}
	}

	return result, err
}

func (fs *FailoverStore) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	fs.writeMu.RLock()
	defer fs.writeMu.RUnlock()

	_, err := execute(fs, func(store Store) (struct{}, error) {
		return struct{}{}, store.Set(ctx, key, value, ttl...)
	})
	if err == nil {
		fs.markDirty(true, key)
	}
	return err
}

func (fs *FailoverStore) Get(ctx context.Context, key string) ([]byte, error) {
	return execute(fs, func(store Store) ([]byte, error) {
		return store.Get(ctx, key)
	})
}

func (fs *FailoverStore) Del(ctx context.Context, keys ...string) (int64, error) {
	fs.writeMu.RLock()
	defer fs.writeMu.RUnlock()

	n, err := execute(fs, func(store Store) (int64, error) {
		return store.Del(ctx, keys...)
	})
	if err == nil {
		fs.markDirty(false, keys...)
	}
	return n, err
}

func (fs *FailoverStore) Exists(ctx context.Context, keys ...string) (int64, error) {
	return execute(fs, func(store Store) (int64, error) {
		return store.Exists(ctx, keys...)
	})
}

func (fs *FailoverStore) Ping(ctx context.Context) error {
	return fs.getActiveStore().Ping(ctx)
}

// GetActiveBackend returns information about which backend is currently active
func (fs *FailoverStore) GetActiveBackend() string {
	if fs.getActiveStore() == fs.primary {
		return "primary"
	}
	return "fallback"
}

// Close shuts down the failover store and stops all background processes
func (fs *FailoverStore) Close() error {
	close(fs.closed)

	fs.mu.Lock()
	if fs.probing {
		fs.stopProbingUnsafe()
	}
	fs.mu.Unlock()

	return errors.Join(fs.primary.Close(), fs.fallback.Close())
}
