package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/model"
)

// Store persists bridge records in sqlite. Writes are serialized across
// processes with a file lock so a tracking process and the CLI can share it.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenStore(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create record store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create record lock directory: %w", err)
	}
	// busy_timeout precedes journal_mode so every pooled connection waits
	// on a locked file instead of failing.
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open record sqlite: %w", err)
	}
	store := &Store{db: db, lock: flock.New(lockPath)}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS bridge_records (
			record_id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			status TEXT NOT NULL,
			source_chain TEXT NOT NULL,
			destination_chain TEXT NOT NULL,
			source_tx_hash TEXT NOT NULL,
			submitted_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_bridge_records_status_updated ON bridge_records(status, updated_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_bridge_records_source_tx ON bridge_records(source_tx_hash);",
	}
	err = store.locked(context.Background(), func() error {
		for _, q := range queries {
			if _, err := db.Exec(q); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init record schema: %w", err)
	}
	return store, nil
}

// locked runs fn while holding the cross-process write lock.
func (s *Store) locked(ctx context.Context, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ok, err := s.lock.TryLockContext(lockCtx, 25*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock record store: %w", err)
	}
	if !ok {
		return fmt.Errorf("lock record store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save inserts or replaces a record. A stored record never moves backwards:
// if the row on disk is already terminal the write is ignored.
func (s *Store) Save(ctx context.Context, rec model.BridgeRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("save record: missing record id")
	}
	return s.locked(ctx, func() error { return s.save(ctx, rec) })
}

func (s *Store) save(ctx context.Context, rec model.BridgeRecord) error {
	var current string
	err := s.db.QueryRowContext(ctx, "SELECT status FROM bridge_records WHERE record_id = ?", rec.ID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read record status: %w", err)
	case model.SettlementStatus(current).Terminal() && current != string(rec.Status):
		return nil
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	submitted := rec.SubmittedAt
	if submitted.IsZero() {
		submitted = time.Now().UTC()
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = submitted
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bridge_records (record_id, provider, status, source_chain, destination_chain, source_tx_hash, submitted_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			status=excluded.status,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, rec.ID, rec.Provider, string(rec.Status), rec.SourceChain, rec.DestinationChain, rec.SourceTxHash, submitted.UnixMilli(), updated.UnixMilli(), payload)
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

// ErrRecordNotFound is the cause of Get errors for unknown ids and hashes.
var ErrRecordNotFound = errors.New("record not found")

func (s *Store) Get(ctx context.Context, recordID string) (model.BridgeRecord, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM bridge_records WHERE record_id = ? OR source_tx_hash = ?", recordID, recordID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.BridgeRecord{}, clierr.Wrap(clierr.CodeUsage, "record "+recordID, ErrRecordNotFound)
		}
		return model.BridgeRecord{}, fmt.Errorf("read record: %w", err)
	}
	var rec model.BridgeRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return model.BridgeRecord{}, fmt.Errorf("decode record payload: %w", err)
	}
	return rec, nil
}

// List returns records newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status string, limit int) ([]model.BridgeRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(status) == "" {
		rows, err = s.db.QueryContext(ctx, "SELECT payload FROM bridge_records ORDER BY updated_at DESC LIMIT ?", limit)
	} else {
		rows, err = s.db.QueryContext(ctx, "SELECT payload FROM bridge_records WHERE status = ? ORDER BY updated_at DESC LIMIT ?", strings.ToLower(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return scanRecords(rows)
}

// Active returns every record that has not reached a terminal state.
func (s *Store) Active(ctx context.Context) ([]model.BridgeRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT payload FROM bridge_records WHERE status IN (?, ?, ?) ORDER BY submitted_at ASC",
		string(model.StatusPending), string(model.StatusSourceConfirmed), string(model.StatusDestinationPending))
	if err != nil {
		return nil, fmt.Errorf("list active records: %w", err)
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]model.BridgeRecord, error) {
	defer rows.Close()
	out := make([]model.BridgeRecord, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		var rec model.BridgeRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("decode record row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}
	return out, nil
}
