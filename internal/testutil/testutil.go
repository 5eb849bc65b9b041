// Package testutil provides shared test helpers for setting up content roots,
// catalogs and node services.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/starford/infrawiki/internal/index"
	"github.com/starford/infrawiki/internal/lock"
	"github.com/starford/infrawiki/internal/nodeservice"
	"github.com/starford/infrawiki/internal/storage"
)

// TestDB creates a temporary SQLite catalog that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "infrawiki-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestContent creates a temporary content root with a filesystem store.
func TestContent(t *testing.T) (string, *storage.FS) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return root, store
}

// QuietLogger discards everything.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Env is a wired node service over a temporary content root.
type Env struct {
	Root  string
	Store *storage.FS
	Index *index.Index
	DB    *index.DB
	Locks *lock.Manager
	Svc   *nodeservice.Service
}

// TestService wires a node service with a catalog-backed index over a fresh
// content root. The lock timeout is short so contention tests finish fast.
func TestService(t *testing.T, opts ...nodeservice.Option) *Env {
	t.Helper()
	root, store := TestContent(t)
	db := TestDB(t)
	logger := QuietLogger()

	ix := index.New(nodeservice.NewSource(store, logger), index.WithCatalog(db), index.WithLogger(logger))
	if _, err := ix.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	locks := lock.New(lock.WithTimeout(2 * time.Second))
	opts = append([]nodeservice.Option{nodeservice.WithLogger(logger)}, opts...)
	return &Env{
		Root:  root,
		Store: store,
		Index: ix,
		DB:    db,
		Locks: locks,
		Svc:   nodeservice.NewService(store, locks, ix, opts...),
	}
}
