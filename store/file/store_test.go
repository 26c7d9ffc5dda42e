package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestStoreRequiresRoot(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for blank root")
	}
}

func TestStoreGetMissingKey(t *testing.T) {
	store := newTestStore(t)
	value, version, found, err := store.Get(context.Background(), "watch:reimbursement")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found || value != nil || version != "" {
		t.Fatalf("expected absent key, got found=%v value=%q version=%q", found, value, version)
	}
}

func TestStorePutBumpsVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "status:reimbursement", []byte(`{"state":"running"}`)); err != nil {
		t.Fatalf("first put: %v", err)
	}
	_, first, _, err := store.Get(ctx, "status:reimbursement")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := store.Put(ctx, "status:reimbursement", []byte(`{"state":"succeeded"}`)); err != nil {
		t.Fatalf("second put: %v", err)
	}
	value, second, found, err := store.Get(ctx, "status:reimbursement")
	if err != nil || !found {
		t.Fatalf("get after overwrite: found=%v err=%v", found, err)
	}
	if string(value) != `{"state":"succeeded"}` {
		t.Fatalf("unexpected value %s", value)
	}
	if first == second {
		t.Fatalf("expected version change, got %q twice", first)
	}
}

func TestStoreCompareAndSwapCreateAndUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CompareAndSwap(ctx, "watch:reimbursement", "", []byte(`{"channel_id":"one"}`))
	if err != nil || !created {
		t.Fatalf("create swap: created=%v err=%v", created, err)
	}
	if again, err := store.CompareAndSwap(ctx, "watch:reimbursement", "", []byte(`{}`)); err != nil || again {
		t.Fatalf("duplicate create should lose: won=%v err=%v", again, err)
	}

	_, version, _, err := store.Get(ctx, "watch:reimbursement")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	swapped, err := store.CompareAndSwap(ctx, "watch:reimbursement", version, []byte(`{"channel_id":"two"}`))
	if err != nil || !swapped {
		t.Fatalf("update swap: swapped=%v err=%v", swapped, err)
	}
	if stale, err := store.CompareAndSwap(ctx, "watch:reimbursement", version, []byte(`{}`)); err != nil || stale {
		t.Fatalf("stale swap should lose: won=%v err=%v", stale, err)
	}

	value, _, _, err := store.Get(ctx, "watch:reimbursement")
	if err != nil {
		t.Fatalf("final get: %v", err)
	}
	if string(value) != `{"channel_id":"two"}` {
		t.Fatalf("stale swap mutated entry: %s", value)
	}
}

func TestStoreCompareAndSwapConcurrentSingleWinner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			won, err := store.CompareAndSwap(ctx, "dedup:reimbursement:race", "", []byte(fmt.Sprintf(`{"worker":%d}`, i)))
			if err != nil {
				t.Errorf("swap %d: %v", i, err)
				return
			}
			results <- won
		}(i)
	}
	wg.Wait()
	close(results)

	winners := 0
	for won := range results {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestStoreDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "watch:reimbursement", []byte(`{}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, "watch:reimbursement"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, found, err := store.Get(ctx, "watch:reimbursement"); err != nil || found {
		t.Fatalf("expected deleted key to be absent: found=%v err=%v", found, err)
	}
	if err := store.Delete(ctx, "watch:reimbursement"); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
}

func TestStoreKeysFiltersByPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{
		"dedup:reimbursement:aaa",
		"dedup:reimbursement:bbb",
		"dedup:travel:ccc",
		"watch:reimbursement",
	} {
		if err := store.Put(ctx, key, []byte(`{}`)); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}

	keys, err := store.Keys(ctx, "dedup:reimbursement:")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "dedup:reimbursement:aaa" || keys[1] != "dedup:reimbursement:bbb" {
		t.Fatalf("unexpected keys %v", keys)
	}

	all, err := store.Keys(ctx, "")
	if err != nil {
		t.Fatalf("all keys: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 keys, got %v", all)
	}
}

func TestStoreLeavesNoTempFiles(t *testing.T) {
	root := filepath.Join(t.TempDir(), "state")
	store, err := New(root)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Put(context.Background(), "watch:reimbursement", []byte(`{}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", entry.Name())
		}
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	root := filepath.Join(t.TempDir(), "state")
	first, err := New(root)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if err := first.Put(ctx, "watch:reimbursement", []byte(`{"channel_id":"abc"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, version, _, err := first.Get(ctx, "watch:reimbursement")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	second, err := New(root)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	value, reopened, found, err := second.Get(ctx, "watch:reimbursement")
	if err != nil || !found {
		t.Fatalf("get after reopen: found=%v err=%v", found, err)
	}
	if string(value) != `{"channel_id":"abc"}` || reopened != version {
		t.Fatalf("entry changed across reopen: value=%s version=%q want %q", value, reopened, version)
	}
}
