package sqlstore_test

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	statemigrations "github.com/Outbound-Project/outbound-bot/migrations"
	sqlstore "github.com/Outbound-Project/outbound-bot/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "outbound-bot-tests"
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:outbound-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = statemigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != statemigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, statemigrations.WithValidationTargets(statemigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

func newTestStateStore(t *testing.T) (*sqlstore.StateStore, func()) {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	store, err := sqlstore.NewStateStore(client.DB())
	if err != nil {
		cleanup()
		t.Fatalf("new state store: %v", err)
	}
	return store, cleanup
}

func TestStateStoreGetMissingKey(t *testing.T) {
	store, cleanup := newTestStateStore(t)
	defer cleanup()

	value, version, found, err := store.Get(context.Background(), "watch:reimbursement")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found || value != nil || version != "" {
		t.Fatalf("expected absent key, got found=%v value=%q version=%q", found, value, version)
	}
}

func TestStateStorePutBumpsVersion(t *testing.T) {
	store, cleanup := newTestStateStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Put(ctx, "status:reimbursement", []byte(`{"state":"running"}`)); err != nil {
		t.Fatalf("first put: %v", err)
	}
	_, first, found, err := store.Get(ctx, "status:reimbursement")
	if err != nil || !found {
		t.Fatalf("get after first put: found=%v err=%v", found, err)
	}

	if err := store.Put(ctx, "status:reimbursement", []byte(`{"state":"succeeded"}`)); err != nil {
		t.Fatalf("second put: %v", err)
	}
	value, second, found, err := store.Get(ctx, "status:reimbursement")
	if err != nil || !found {
		t.Fatalf("get after second put: found=%v err=%v", found, err)
	}
	if string(value) != `{"state":"succeeded"}` {
		t.Fatalf("unexpected value %s", value)
	}
	if first == second {
		t.Fatalf("expected overwrite to change version, got %q twice", first)
	}
}

func TestStateStoreCompareAndSwapCreate(t *testing.T) {
	store, cleanup := newTestStateStore(t)
	defer cleanup()
	ctx := context.Background()

	created, err := store.CompareAndSwap(ctx, "dedup:reimbursement:abc", "", []byte(`{"status":"in_progress"}`))
	if err != nil {
		t.Fatalf("create swap: %v", err)
	}
	if !created {
		t.Fatal("expected create to win on absent key")
	}

	duplicate, err := store.CompareAndSwap(ctx, "dedup:reimbursement:abc", "", []byte(`{"status":"in_progress"}`))
	if err != nil {
		t.Fatalf("duplicate create swap: %v", err)
	}
	if duplicate {
		t.Fatal("expected create to lose on existing key")
	}
}

func TestStateStoreCompareAndSwapUpdate(t *testing.T) {
	store, cleanup := newTestStateStore(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := store.CompareAndSwap(ctx, "watch:reimbursement", "", []byte(`{"channel_id":"one"}`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, version, _, err := store.Get(ctx, "watch:reimbursement")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	swapped, err := store.CompareAndSwap(ctx, "watch:reimbursement", version, []byte(`{"channel_id":"two"}`))
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if !swapped {
		t.Fatal("expected swap with current version to win")
	}

	stale, err := store.CompareAndSwap(ctx, "watch:reimbursement", version, []byte(`{"channel_id":"three"}`))
	if err != nil {
		t.Fatalf("stale swap: %v", err)
	}
	if stale {
		t.Fatal("expected swap with stale version to lose")
	}

	value, next, _, err := store.Get(ctx, "watch:reimbursement")
	if err != nil {
		t.Fatalf("final get: %v", err)
	}
	if string(value) != `{"channel_id":"two"}` {
		t.Fatalf("stale swap mutated the row: %s", value)
	}
	if next == version {
		t.Fatalf("expected version to advance past %q", version)
	}
}

func TestStateStoreCompareAndSwapConcurrentSingleWinner(t *testing.T) {
	store, cleanup := newTestStateStore(t)
	defer cleanup()
	ctx := context.Background()

	const attempts = 8
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
		t.Fatalf("expected exactly one create winner, got %d", winners)
	}
}

func TestStateStoreDelete(t *testing.T) {
	store, cleanup := newTestStateStore(t)
	defer cleanup()
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
	// Deleting an absent key is not an error.
	if err := store.Delete(ctx, "watch:reimbursement"); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
}

func TestStateStoreKeysFiltersByPrefix(t *testing.T) {
	store, cleanup := newTestStateStore(t)
	defer cleanup()
	ctx := context.Background()

	seed := map[string]string{
		"dedup:reimbursement:aaa": `{}`,
		"dedup:reimbursement:bbb": `{}`,
		"dedup:travel:ccc":        `{}`,
		"watch:reimbursement":     `{}`,
	}
	for key, value := range seed {
		if err := store.Put(ctx, key, []byte(value)); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}

	keys, err := store.Keys(ctx, "dedup:reimbursement:")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
	if keys[0] != "dedup:reimbursement:aaa" || keys[1] != "dedup:reimbursement:bbb" {
		t.Fatalf("unexpected key order %v", keys)
	}

	all, err := store.Keys(ctx, "")
	if err != nil {
		t.Fatalf("all keys: %v", err)
	}
	if len(all) != len(seed) {
		t.Fatalf("expected %d keys, got %v", len(seed), all)
	}
}

func TestStoreFactoryResolvesPersistenceClient(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewStoreFactory(client)
	if err != nil {
		t.Fatalf("factory from persistence client: %v", err)
	}
	store, err := factory.BuildStateStore()
	if err != nil {
		t.Fatalf("build state store: %v", err)
	}
	if err := store.Put(context.Background(), "watch:reimbursement", []byte(`{}`)); err != nil {
		t.Fatalf("put through factory store: %v", err)
	}

	if _, err := sqlstore.NewStoreFactory(42); err == nil {
		t.Fatal("expected unsupported client error")
	}
}
