package storage

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func testDatabase(t *testing.T, db Database) {
	t.Helper()
	key := []byte("gov/engine/state")

	if _, err := db.Get(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.Put(key, []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, err := db.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(value, []byte("v1")) {
		t.Fatalf("value = %q", value)
	}
	ok, err := db.Has(key)
	if err != nil || !ok {
		t.Fatalf("has = %v/%v", ok, err)
	}
	if err := db.Put(key, []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, _ = db.Get(key)
	if !bytes.Equal(value, []byte("v2")) {
		t.Fatalf("overwrite lost: %q", value)
	}
	if err := db.Delete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	testDatabase(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	value := []byte("original")
	if err := db.Put([]byte("k"), value); err != nil {
		t.Fatalf("put: %v", err)
	}
	value[0] = 'X'
	stored, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(stored, []byte("original")) {
		t.Fatalf("stored value aliased caller buffer: %q", stored)
	}
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	testDatabase(t, db)
}
