package db

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/farmsight/farmsight-backend/pkg/kv"
	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// DefaultKey is the kv key holding the serialized database image.
const DefaultKey = "farmsight-db"

const driverName = "sqlite"

var sqliteHeader = []byte("SQLite format 3\x00")

// tables in dependency order, children first.
var tables = []string{"sessions", "user_settings", "ndvi_data", "alerts", "videos", "farms", "users"}

// PersistRecorder receives one observation per persist attempt.
type PersistRecorder interface {
	RecordPersist(ctx context.Context, size int, duration time.Duration, err error)
}

// Store owns the single database handle. The live database is a private
// working file; after every mutation the whole image is written to the kv
// store under one key, and on startup that image is loaded back.
type Store struct {
	mu          sync.Mutex
	kv          kv.Store
	key         string
	logger      *zap.SugaredLogger
	recorder    PersistRecorder
	autoMigrate bool

	dir  string
	path string
	conn *sql.DB
	// handle mirrors conn so Handle never waits behind a running persist.
	handle atomic.Pointer[sql.DB]
}

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the kv key of the image.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithMetrics records persist count, duration and size.
func WithMetrics(r PersistRecorder) Option {
	return func(s *Store) { s.recorder = r }
}

// WithAutoMigrate controls whether Initialize applies pending migrations.
// The migrate command turns it off to drive goose itself.
func WithAutoMigrate(enabled bool) Option {
	return func(s *Store) { s.autoMigrate = enabled }
}

// New creates a store on top of a kv backend. Nothing is opened until Initialize.
func New(store kv.Store, logger *zap.SugaredLogger, opts ...Option) *Store {
	s := &Store{
		kv:          store,
		key:         DefaultKey,
		logger:      logger,
		autoMigrate: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize opens the database, loading the persisted image when one exists
// and creating a fresh schema otherwise. It is idempotent.
func (s *Store) Initialize(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return s.conn, nil
	}

	image, err := s.loadImage(ctx)
	if err != nil {
		return nil, storeErr("initialize", err)
	}

	conn, path, err := s.openImageLocked(ctx, image)
	if err != nil {
		return nil, storeErr("initialize", err)
	}
	s.swapLocked(conn, path)

	s.logger.Infow("Database initialized",
		"key", s.key,
		"restored", image != nil,
		"image_bytes", len(image),
	)
	return s.conn, nil
}

// loadImage fetches and decodes the persisted image; nil means none exists.
func (s *Store) loadImage(ctx context.Context) ([]byte, error) {
	encoded, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read persisted image: %w", err)
	}

	image, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode persisted image: %w", err)
	}
	if !bytes.HasPrefix(image, sqliteHeader) {
		return nil, ErrInvalidImage
	}
	return image, nil
}

// openImageLocked writes image (nil for an empty database) to a new working
// file, opens it and migrates it. Nothing on the store changes; on failure the
// file is removed again. Caller holds s.mu.
func (s *Store) openImageLocked(ctx context.Context, image []byte) (*sql.DB, string, error) {
	if s.dir == "" {
		dir, err := os.MkdirTemp("", "farmsight-*")
		if err != nil {
			return nil, "", fmt.Errorf("failed to create working dir: %w", err)
		}
		s.dir = dir
	}

	path := filepath.Join(s.dir, "work-"+uuid.NewString()+".db")
	if image != nil {
		if err := os.WriteFile(path, image, 0o600); err != nil {
			return nil, "", fmt.Errorf("failed to write working file: %w", err)
		}
	}

	conn, err := s.openConn(ctx, path, image != nil)
	if err != nil {
		removeWorkFiles(path)
		return nil, "", err
	}
	return conn, path, nil
}

func (s *Store) openConn(ctx context.Context, path string, restored bool) (*sql.DB, error) {
	conn, err := sql.Open(driverName, dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one logical writer; also keeps the foreign_keys pragma on the only connection
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		if restored {
			return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if restored {
		var result string
		if err := conn.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
		if result != "ok" {
			conn.Close()
			return nil, fmt.Errorf("%w: integrity check: %s", ErrInvalidImage, result)
		}
	}

	if s.autoMigrate {
		if err := Migrate(ctx, conn, s.logger); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

// swapLocked installs conn as the live database and drops the previous one.
func (s *Store) swapLocked(conn *sql.DB, path string) {
	prev, prevPath := s.conn, s.path

	s.conn = conn
	s.path = path
	s.handle.Store(conn)

	if prev != nil {
		if err := prev.Close(); err != nil {
			s.logger.Warnw("Failed to close replaced database", "error", err)
		}
		removeWorkFiles(prevPath)
	}
}

func removeWorkFiles(path string) {
	for _, suffix := range []string{"", "-journal", "-wal", "-shm"} {
		os.Remove(path + suffix)
	}
}

func dsn(path string) string {
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Handle returns the open database or a StoreError when Initialize has not run.
func (s *Store) Handle() (*sql.DB, error) {
	conn := s.handle.Load()
	if conn == nil {
		return nil, storeErr("handle", ErrNotInitialized)
	}
	return conn, nil
}

// IsOpen reports whether Initialize has completed.
func (s *Store) IsOpen() bool {
	return s.handle.Load() != nil
}

// Persist writes the current image to the kv store. It is a no-op before
// Initialize.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	return s.persistLocked(ctx)
}

func (s *Store) persistLocked(ctx context.Context) error {
	start := time.Now()

	image, err := s.snapshotLocked(ctx)
	if err == nil {
		encoded := base64.StdEncoding.EncodeToString(image)
		if setErr := s.kv.Set(ctx, s.key, []byte(encoded)); setErr != nil {
			err = fmt.Errorf("failed to write image: %w", setErr)
		}
	}

	if s.recorder != nil {
		s.recorder.RecordPersist(ctx, len(image), time.Since(start), err)
	}
	if err != nil {
		s.logger.Errorw("Failed to persist database", "key", s.key, "error", err)
		return storeErr("persist", err)
	}

	s.logger.Debugw("Database persisted", "key", s.key, "image_bytes", len(image), "duration", time.Since(start))
	return nil
}

// snapshotLocked produces a consistent image via VACUUM INTO a scratch file.
func (s *Store) snapshotLocked(ctx context.Context) ([]byte, error) {
	target := filepath.Join(s.dir, "snapshot-"+uuid.NewString()+".db")
	defer os.Remove(target)

	if _, err := s.conn.ExecContext(ctx, "VACUUM INTO "+quoteLiteral(target)); err != nil {
		return nil, fmt.Errorf("failed to snapshot database: %w", err)
	}

	image, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return image, nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ExportBytes returns a full database image suitable for ImportBytes.
func (s *Store) ExportBytes(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil, storeErr("export", ErrNotInitialized)
	}
	image, err := s.snapshotLocked(ctx)
	if err != nil {
		return nil, storeErr("export", err)
	}
	return image, nil
}

// ImportBytes replaces the whole database with image and persists it. The
// store does not need to be initialized first. An image that cannot be opened
// or migrated leaves the current database in place.
func (s *Store) ImportBytes(ctx context.Context, image []byte) error {
	if !bytes.HasPrefix(image, sqliteHeader) {
		return storeErr("import", ErrInvalidImage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conn, path, err := s.openImageLocked(ctx, image)
	if err != nil {
		return storeErr("import", err)
	}
	s.swapLocked(conn, path)

	s.logger.Infow("Database imported", "image_bytes", len(image))
	return s.persistLocked(ctx)
}

// Reset deletes every row from every table and persists the empty database.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return storeErr("reset", ErrNotInitialized)
	}

	for _, table := range tables {
		if _, err := s.conn.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return storeErr("reset", fmt.Errorf("failed to clear %s: %w", table, err))
		}
	}

	s.logger.Infow("Database reset")
	return s.persistLocked(ctx)
}

// Close releases the handle and the working directory. The kv store is owned
// by the caller and stays open.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	s.handle.Store(nil)
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
		s.path = ""
	}
	if s.dir != "" {
		err = errors.Join(err, os.RemoveAll(s.dir))
		s.dir = ""
	}
	return err
}
