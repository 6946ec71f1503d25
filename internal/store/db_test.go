package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// createTestDB creates a temporary database for testing.
func createTestDB(t *testing.T) *DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_CreatesTable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}

	var tableName string
	err = db.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='kv'").Scan(&tableName)
	if err != nil {
		t.Errorf("failed to find kv table: %v", err)
	}

	var indexName string
	err = db.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_kv_updated_at'").Scan(&indexName)
	if err != nil {
		t.Errorf("failed to find updated_at index: %v", err)
	}
}

func TestOpen_SurvivesRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	if err := db1.Set(KeySyncedIDs, []string{"a", "b"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	db1.Close()

	// Reopening runs the migrator again against an up-to-date schema.
	db2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer db2.Close()

	var ids []string
	if !Load(db2, KeySyncedIDs, &ids) {
		t.Fatal("value lost across restart")
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("unexpected ids after restart: %v", ids)
	}
}

func TestGet_Absent(t *testing.T) {
	db := createTestDB(t)

	if raw, ok := db.Get("missing"); ok || raw != nil {
		t.Errorf("Get(missing) = %s, %v; want nil, false", raw, ok)
	}
}

func TestSet_Upsert(t *testing.T) {
	db := createTestDB(t)

	if err := db.Set(KeyToken, "first"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := db.Set(KeyToken, "second"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var got string
	if !Load(db, KeyToken, &got) || got != "second" {
		t.Errorf("expected 'second', got %q", got)
	}

	var count int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM kv WHERE key = ?", KeyToken).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected one row per key, got %d", count)
	}
}

func TestSet_UnmarshalableValue(t *testing.T) {
	db := createTestDB(t)

	err := db.Set("bad", make(chan int))
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	var pe *PersistenceError
	if !errors.As(err, &pe) || pe.Op != "set" || pe.Key != "bad" {
		t.Errorf("unexpected error detail: %#v", err)
	}
}

func TestSet_ClosedDB(t *testing.T) {
	db := createTestDB(t)
	db.Close()

	if err := db.Set(KeyToken, "x"); !errors.Is(err, ErrPersistence) {
		t.Errorf("expected ErrPersistence on closed db, got %v", err)
	}
	if _, ok := db.Get(KeyToken); ok {
		t.Error("Get on closed db should report absent")
	}
}

func TestRemove(t *testing.T) {
	db := createTestDB(t)

	if err := db.Set(KeyRecentPosts, []int{1}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := db.Remove(KeyRecentPosts); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, ok := db.Get(KeyRecentPosts); ok {
		t.Error("key still present after Remove")
	}
	if err := db.Remove(KeyRecentPosts); err != nil {
		t.Errorf("removing an absent key should succeed, got %v", err)
	}
}

func TestGetAll(t *testing.T) {
	db := createTestDB(t)

	values := map[string]any{
		KeyToken:  "lin_api_x",
		KeyTeamID: "team",
		KeySyncStats: map[string]int{
			"totalSynced": 3,
		},
	}
	for k, v := range values {
		if err := db.Set(k, v); err != nil {
			t.Fatalf("Set(%s) failed: %v", k, err)
		}
	}

	all := db.GetAll()
	if len(all) != len(values) {
		t.Fatalf("expected %d keys, got %d", len(values), len(all))
	}
	var stats map[string]int
	if err := json.Unmarshal(all[KeySyncStats], &stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats["totalSynced"] != 3 {
		t.Errorf("unexpected stats: %v", stats)
	}
	if db.SizeBytes() <= 0 {
		t.Error("expected a positive size")
	}
}

func TestLoad_Undecodable(t *testing.T) {
	db := createTestDB(t)

	if err := db.Set(KeySyncQueue, "not a list"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	var queue []int
	if Load(db, KeySyncQueue, &queue) {
		t.Error("Load should report false for an undecodable value")
	}
}
