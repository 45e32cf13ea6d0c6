package execution

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "records.db"), filepath.Join(dir, "records.lock"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRecord(id string, at time.Time) model.BridgeRecord {
	return model.BridgeRecord{
		ID:               id,
		Provider:         "stargate",
		SourceChain:      "ethereum",
		DestinationChain: "arbitrum",
		Token:            "USDC",
		Amount:           model.AmountInfo{AmountBaseUnits: "1000000", AmountDecimal: "1", Decimals: 6, Symbol: "USDC"},
		SourceTxHash:     "0x" + id,
		Status:           model.StatusPending,
		SubmittedAt:      at,
		UpdatedAt:        at,
	}
}

func TestStoreSaveGetList(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Unix(1700000000, 0).UTC()

	rec := testRecord("r1", now)
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, testRecord("r2", now.Add(time.Second))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Provider != "stargate" || got.Amount.AmountBaseUnits != "1000000" {
		t.Fatalf("unexpected record: %+v", got)
	}
	byHash, err := store.Get(ctx, "0xr1")
	if err != nil || byHash.ID != "r1" {
		t.Fatalf("expected lookup by source tx hash, got %+v err=%v", byHash, err)
	}

	got.Advance(model.StatusSourceConfirmed, "receipt ok", now.Add(2*time.Second))
	if err := store.Save(ctx, got); err != nil {
		t.Fatalf("Save update failed: %v", err)
	}
	confirmed, err := store.List(ctx, string(model.StatusSourceConfirmed), 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(confirmed) != 1 || confirmed[0].ID != "r1" || len(confirmed[0].History) != 1 {
		t.Fatalf("unexpected confirmed list: %+v", confirmed)
	}
	all, err := store.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != "r1" {
		t.Fatalf("expected newest update first, got %+v", all)
	}
}

func TestStoreIgnoresWritesOverTerminalRecords(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Unix(1700000000, 0).UTC()

	rec := testRecord("r1", now)
	rec.Advance(model.StatusFailed, "source reverted", now)
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	stale := testRecord("r1", now)
	if err := store.Save(ctx, stale); err != nil {
		t.Fatalf("Save stale failed: %v", err)
	}
	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != model.StatusFailed {
		t.Fatalf("expected terminal status to stick, got %s", got.Status)
	}

	active, err := store.Active(ctx)
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active records, got %d", len(active))
	}
}

func TestStoreGetMissingRecord(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected missing record error")
	}
	if cliErr, ok := clierr.As(err); !ok || cliErr.Code != clierr.CodeUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound in chain, got %v", err)
	}
}

func TestStoreConcurrentOpenAndSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.db")
	lockPath := filepath.Join(dir, "records.lock")
	now := time.Unix(1700000000, 0).UTC()

	const workers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			store, err := OpenStore(path, lockPath)
			if err != nil {
				errCh <- fmt.Errorf("worker %d open: %w", workerID, err)
				return
			}
			defer store.Close()
			for i := 0; i < 5; i++ {
				if err := store.Save(context.Background(), testRecord(fmt.Sprintf("w%d-%d", workerID, i), now)); err != nil {
					errCh <- fmt.Errorf("worker %d save %d: %w", workerID, i, err)
					return
				}
			}
		}(worker)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}

	reopened, err := OpenStore(path, lockPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	recs, err := reopened.List(context.Background(), "", 100)
	if err != nil || len(recs) != workers*5 {
		t.Fatalf("expected %d records, got %d err=%v", workers*5, len(recs), err)
	}
}
