// Package testutil provides shared test helpers for databases and media directories.
package testutil

import (
	"os"
	"testing"
	"time"

	"github.com/starford/piko/internal/media"
	"github.com/starford/piko/internal/store"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "piko-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })
	return OpenDB(t, dbFile.Name())
}

// TestMedia creates a temporary media directory with a media.Store.
func TestMedia(t *testing.T) (string, *media.Store) {
	t.Helper()
	dir := t.TempDir()
	ms, err := media.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, ms
}

// Eventually polls fn until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}

// OpenDB opens the database at path and closes it when the test ends.
func OpenDB(t *testing.T, path string) *store.DB {
	t.Helper()
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
