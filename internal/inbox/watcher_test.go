package inbox

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/mioring/internal/ring"
)

// fakeRegistrar records registered paths and removes them like a move would.
type fakeRegistrar struct {
	mu    sync.Mutex
	paths []string
	fail  map[string]bool
	next  uint64
}

func (f *fakeRegistrar) RegisterFiles(_ context.Context, paths []string, move bool) ([]ring.MioID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []ring.MioID
	for _, p := range paths {
		if f.fail[filepath.Base(p)] {
			return nil, errors.New("rejected")
		}
		f.next++
		f.paths = append(f.paths, filepath.Base(p))
		ids = append(ids, ring.MioID{RingID: ring.RingID{Epoch: 1, Ord: f.next}})
		if move {
			_ = os.Remove(p)
		}
	}
	return ids, nil
}

func (f *fakeRegistrar) registered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestWatch_InitialScan(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "early.png"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "notes.docx"), []byte("x"), 0o644)

	reg := &fakeRegistrar{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, reg, dir, 50*time.Millisecond, testLogger(), nil)

	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		return contains(reg.registered(), "early.png")
	}, "pre-existing file not registered")

	if contains(reg.registered(), "notes.docx") {
		t.Error("unknown extension should be ignored")
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.docx")); err != nil {
		t.Errorf("ignored file should stay: %v", err)
	}
}

func TestWatch_NewFileRegistered(t *testing.T) {
	dir := t.TempDir()
	reg := &fakeRegistrar{}

	var mu sync.Mutex
	var seen []string

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, reg, dir, 50*time.Millisecond, testLogger(), func(path string, id ring.MioID) {
		mu.Lock()
		seen = append(seen, filepath.Base(path))
		mu.Unlock()
	})

	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(dir, ".partial.txt"), []byte("hidden"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "drop.txt"), []byte("hello"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return contains(seen, "drop.txt")
	}, "dropped file not registered")

	if _, err := os.Stat(filepath.Join(dir, "drop.txt")); !os.IsNotExist(err) {
		t.Error("registered file should be moved out of the inbox")
	}
	if contains(reg.registered(), ".partial.txt") {
		t.Error("hidden file should be ignored")
	}
}

func TestWatch_FailureKeepsFile(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "bad.txt"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "good.txt"), []byte("x"), 0o644)

	reg := &fakeRegistrar{fail: map[string]bool{"bad.txt": true}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, reg, dir, 50*time.Millisecond, testLogger(), nil)

	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		return contains(reg.registered(), "good.txt")
	}, "good file held back by a bad one")

	if _, err := os.Stat(filepath.Join(dir, "bad.txt")); err != nil {
		t.Errorf("rejected file should stay in the inbox: %v", err)
	}
}

func TestCandidate(t *testing.T) {
	cases := map[string]bool{
		"a.png":       true,
		"b.JPEG":      true,
		"c.docx":      false,
		".hidden.txt": false,
		"backup.txt~": false,
		"noext":       false,
	}
	for name, want := range cases {
		if got := candidate(name); got != want {
			t.Errorf("candidate(%q) = %v, want %v", name, got, want)
		}
	}
}
