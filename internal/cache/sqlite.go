package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// SQLite is a file-backed Backend shared across processes. Writes take a file
// lock so concurrent CLI invocations do not collide.
type SQLite struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

func OpenSQLite(path, lockPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	lock := flock.New(lockPath)
	if err := withLock(lock, func() error {
		_, err := db.Exec("CREATE TABLE IF NOT EXISTS route_cache (key TEXT PRIMARY KEY, value BLOB NOT NULL, stored_at_ms INTEGER NOT NULL, expires_at_ms INTEGER NOT NULL);")
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}

	store := &SQLite{db: db, lock: lock, now: time.Now}
	_ = withLock(lock, store.Prune)
	return store, nil
}

// sqliteDSN sets the pragmas on every pooled connection. busy_timeout comes
// first so the journal mode switch already waits on a locked file.
func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

// withLock runs fn while holding the cross-process file lock.
func withLock(lock *flock.Flock, fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune deletes expired entries. It runs on open.
func (s *SQLite) Prune() error {
	if s == nil || s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("DELETE FROM route_cache WHERE expires_at_ms <= ?", s.now().UnixMilli()); err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, key string) (Entry, bool, error) {
	var (
		value     []byte
		storedAt  int64
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, "SELECT value, stored_at_ms, expires_at_ms FROM route_cache WHERE key = ?", key).Scan(&value, &storedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache read: %w", err)
	}
	if s.now().UnixMilli() >= expiresAt {
		return Entry{}, false, nil
	}
	return Entry{Value: value, StoredAt: time.UnixMilli(storedAt).UTC()}, true, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	now := s.now()
	if ttl <= 0 {
		ttl = time.Millisecond
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO route_cache (key, value, stored_at_ms, expires_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			stored_at_ms=excluded.stored_at_ms,
			expires_at_ms=excluded.expires_at_ms
	`, key, value, now.UnixMilli(), now.Add(ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}
