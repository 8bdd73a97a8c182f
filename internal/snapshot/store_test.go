package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var sample = Snapshot{
	Entries: []Entry{
		{Index: 0, Name: "ab", Record: "hello", Owner: "0x00000000000000000000000000000000000000AA"},
		{Index: 1, Name: "xyz", Record: "", Owner: "0x00000000000000000000000000000000000000BB"},
	},
	FetchedAt: time.Unix(1700000000, 0).UTC(),
}

func TestKeyIsCaseInsensitive(t *testing.T) {
	a := Key("0x13881", "0x56d04eC782E8F324f6515868c1065A5efd70AB16")
	b := Key("0x13881", "0x56D04EC782E8F324F6515868C1065A5EFD70AB16")
	if a != b {
		t.Fatalf("keys differ: %q vs %q", a, b)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if snap, _ := store.Get(ctx, "missing"); snap != nil {
		t.Fatalf("expected nil for missing key")
	}

	if err := store.Save(ctx, "k", sample); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, _ := store.Get(ctx, "k")
	if got == nil || len(got.Entries) != 2 || got.Entries[0].Name != "ab" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}

	got.Entries[0].Name = "mutated"
	again, _ := store.Get(ctx, "k")
	if again.Entries[0].Name != "ab" {
		t.Fatalf("stored snapshot shares memory with caller")
	}
}

func TestFileStorePersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "snapshots.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Save(ctx, "k", sample); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	store2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("re-open store: %v", err)
	}

	got, _ := store2.Get(ctx, "k")
	if got == nil || len(got.Entries) != 2 || got.Entries[1].Owner != sample.Entries[1].Owner {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if !got.FetchedAt.Equal(sample.FetchedAt) {
		t.Fatalf("fetchedAt = %v, want %v", got.FetchedAt, sample.FetchedAt)
	}
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path); err == nil {
		t.Fatalf("expected error for corrupt file")
	}
}
