// Package file implements kv.Store on top of a directory, one file per key.
// Writes go to a temp file that is renamed over the target, so a reader never
// observes a half-written value.
package file

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/farmsight/farmsight-backend/pkg/kv"
)

const (
	fileSuffix = ".kv"
	headerSize = 8
)

// Store keeps values under dir. Each file starts with an 8-byte big-endian
// expiry (unix nanoseconds, 0 means no expiry) followed by the raw value.
type Store struct {
	mu  sync.RWMutex
	dir string
	now func() time.Time
}

// New creates the directory if needed and returns a store rooted at it.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("file backend requires a directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+fileSuffix)
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var expiry int64
	if len(ttl) > 0 && ttl[0] > 0 {
		expiry = s.now().Add(ttl[0]).UnixNano()
	}

	buf := make([]byte, headerSize+len(value))
	binary.BigEndian.PutUint64(buf[:headerSize], uint64(expiry))
	copy(buf[headerSize:], value)

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write value: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync value: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace value: %w", err)
	}
	return nil
}

// read returns the live value for key; expired files are reported as missing.
func (s *Store) read(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(data) < headerSize {
		return nil, false, fmt.Errorf("corrupt value file for key %q", key)
	}

	expiry := int64(binary.BigEndian.Uint64(data[:headerSize]))
	if expiry != 0 && s.now().UnixNano() > expiry {
		return nil, false, nil
	}
	return data[headerSize:], true, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok, err := s.read(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, kv.ErrNotFound
	}
	return value, nil
}

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, key := range keys {
		_, live, err := s.read(key)
		if err != nil {
			return deleted, err
		}
		if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return deleted, fmt.Errorf("failed to delete %q: %w", key, err)
		}
		if live {
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, key := range keys {
		_, live, err := s.read(key)
		if err != nil {
			return count, err
		}
		if live {
			count++
		}
	}
	return count, nil
}

// Ping verifies the directory is still there and writable.
func (s *Store) Ping(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("%w: %v", kv.ErrBackendUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", kv.ErrBackendUnavailable, s.dir)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}
