// Package testutil provides shared test helpers for setting up rings and catalogs.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/mioring/internal/catalog"
	"github.com/starford/mioring/internal/mioservice"
	"github.com/starford/mioring/internal/operable"
	"github.com/starford/mioring/internal/persist"
	"github.com/starford/mioring/internal/ring"
)

// Quiet returns a logger that discards everything.
func Quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestDB creates a temporary SQLite catalog that is automatically cleaned up.
func TestDB(t *testing.T) *catalog.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "mioring-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := catalog.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestDirs creates the three ring directories under a temp root.
func TestDirs(t *testing.T) ring.Dirs {
	t.Helper()
	root := t.TempDir()
	dirs, err := ring.NewDirs(filepath.Join(root, "config"), filepath.Join(root, "cache"), filepath.Join(root, "data"))
	if err != nil {
		t.Fatal(err)
	}
	return dirs
}

// TestService wires a fresh ring, file-backed index, image backends and a
// catalog into a service. opts are appended after the defaults.
func TestService(t *testing.T, opts ...mioservice.Option) (*mioservice.Service, ring.Dirs) {
	t.Helper()
	dirs := TestDirs(t)

	reg, err := operable.NewRegistry(operable.WithImage())
	if err != nil {
		t.Fatal(err)
	}
	store := persist.NewStore(persist.NewFileBackend(filepath.Join(dirs.Data.Root(), "index.json")), nil, Quiet())
	m, err := store.Load(ring.WithDirs(dirs), ring.WithDispatcher(reg), ring.WithLogger(Quiet()))
	if err != nil {
		t.Fatal(err)
	}

	base := []mioservice.Option{mioservice.WithCatalog(TestDB(t)), mioservice.WithLogger(Quiet())}
	svc := mioservice.New(m, store, reg, append(base, opts...)...)
	t.Cleanup(func() { svc.Close() })
	return svc, dirs
}
