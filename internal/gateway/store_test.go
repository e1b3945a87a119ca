package gateway

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestContactStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenContactStore(dir, testLogger())
	if err != nil {
		t.Fatalf("OpenContactStore: %v", err)
	}
	defer store.Close()

	if err := store.Put(contactKindUsername, "alice", 42); err != nil {
		t.Fatalf("Put username: %v", err)
	}
	if err := store.Put(contactKindPhone, "79991234567", 43); err != nil {
		t.Fatalf("Put phone: %v", err)
	}
	// Re-resolving the same key must refresh, not fail.
	if err := store.Put(contactKindUsername, "alice", 44); err != nil {
		t.Fatalf("Put duplicate username: %v", err)
	}

	usernames, phones, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(usernames) != 1 || usernames["alice"] != 44 {
		t.Errorf("usernames = %v, want alice=44", usernames)
	}
	if len(phones) != 1 || phones["79991234567"] != 43 {
		t.Errorf("phones = %v, want 79991234567=43", phones)
	}
}

func TestContactStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := OpenContactStore(dir, testLogger())
	if err != nil {
		t.Fatalf("OpenContactStore: %v", err)
	}
	if err := store.Put(contactKindPhone, "123", 7); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenContactStore(dir, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	_, phones, err := reopened.Load()
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if phones["123"] != 7 {
		t.Errorf("phones = %v, want 123=7", phones)
	}
}

func TestContactStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "tddb")
	store, err := OpenContactStore(dir, testLogger())
	if err != nil {
		t.Fatalf("OpenContactStore with missing directory: %v", err)
	}
	store.Close()
}
