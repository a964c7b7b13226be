package sftpsvc

import (
	"path/filepath"
	"testing"
)

func TestProgressStoreSaveLoadDelete(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "progress.db")
	store, err := OpenProgressStore(dbPath)
	if err != nil {
		t.Fatalf("OpenProgressStore failed: %v", err)
	}
	defer store.Close()

	rec := ProgressRecord{
		TransferID: "xfer-1", LocalPath: "/a", RemotePath: "/b",
		Direction: "upload", BytesDone: 512, TotalBytes: 1024,
	}
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, found, err := store.Load("xfer-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !found {
		t.Fatal("expected record to be found")
	}
	if got.BytesDone != 512 || got.TotalBytes != 1024 {
		t.Fatalf("unexpected loaded record: %+v", got)
	}

	if err := store.Delete("xfer-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, found, err = store.Load("xfer-1")
	if err != nil {
		t.Fatalf("Load after delete failed: %v", err)
	}
	if found {
		t.Fatal("expected record to be gone after Delete")
	}
}

func TestProgressStoreLoadMissingIsNotFoundNotError(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "progress.db")
	store, err := OpenProgressStore(dbPath)
	if err != nil {
		t.Fatalf("OpenProgressStore failed: %v", err)
	}
	defer store.Close()

	_, found, err := store.Load("nonexistent")
	if err != nil {
		t.Fatalf("expected no error for missing record, got %v", err)
	}
	if found {
		t.Fatal("expected found=false for missing record")
	}
}
