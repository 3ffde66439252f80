package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStore_EmptyDomainHasNoRecords(t *testing.T) {
	store := NewFileStore(t.TempDir())

	records, err := store.List(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records, want 0", len(records))
	}
}

func TestFileStore_CreateListRoundTrip(t *testing.T) {
	store := NewFileStore(t.TempDir())
	ctx := context.Background()

	created, err := store.Create(ctx, "example.com", Record{
		Type: "A", Name: "@", Value: "203.0.113.10", TTL: 3600,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("Create should assign an id")
	}

	records, err := store.List(ctx, "example.com")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 || records[0].ID != created.ID {
		t.Errorf("List = %+v, want the created record", records)
	}
}

func TestFileStore_UpdateAndDelete(t *testing.T) {
	store := NewFileStore(t.TempDir())
	ctx := context.Background()

	created, err := store.Create(ctx, "example.com", Record{
		Type: "A", Name: "@", Value: "203.0.113.10", TTL: 3600,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := store.Update(ctx, "example.com", created.ID, Record{
		Type: "A", Name: "@", Value: "203.0.113.20", TTL: 600,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.ID != created.ID || updated.Value != "203.0.113.20" {
		t.Errorf("Update = %+v", updated)
	}

	if err := store.Delete(ctx, "example.com", created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	records, err := store.List(ctx, "example.com")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("record should be gone, got %+v", records)
	}
}

func TestFileStore_UpdateMissingRecord(t *testing.T) {
	store := NewFileStore(t.TempDir())

	_, err := store.Update(context.Background(), "example.com", "nope", Record{Type: "A", Name: "@"})
	if err == nil {
		t.Fatal("updating a missing record should fail")
	}
}

func TestFileStore_StateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := NewFileStore(dir)
	created, err := first.Create(ctx, "example.com", Record{
		Type: "TXT", Name: "@", Value: "v=spf1 -all", TTL: 3600,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	second := NewFileStore(dir)
	records, err := second.List(ctx, "example.com")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 || records[0].ID != created.ID {
		t.Errorf("state did not survive reopen: %+v", records)
	}
}

func TestFileStore_DomainsAreIsolated(t *testing.T) {
	store := NewFileStore(t.TempDir())
	ctx := context.Background()

	if _, err := store.Create(ctx, "one.example", Record{Type: "A", Name: "@", Value: "203.0.113.1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	records, err := store.List(ctx, "two.example")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("domains should not share records, got %+v", records)
	}
}

func TestFileStore_NoTmpFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)

	if _, err := store.Create(context.Background(), "example.com", Record{Type: "A", Name: "@", Value: "203.0.113.1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}
