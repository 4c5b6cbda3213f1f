package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func tempRoot(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempRoot(t)
	content := []byte("hello\nworld\n")
	if err := s.Write("1a-0.txt", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("1a-0.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
	if !s.Exists("1a-0.txt") {
		t.Error("Exists = false after Write")
	}
}

func TestImport(t *testing.T) {
	s := tempRoot(t)
	src := filepath.Join(t.TempDir(), "shot.png")
	if err := os.WriteFile(src, []byte("png bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Import("1b-3.png", src); err != nil {
		t.Fatalf("Import: %v", err)
	}
	got, _ := s.Read("1b-3.png")
	if string(got) != "png bytes" {
		t.Errorf("content = %q", got)
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("source should survive import: %v", err)
	}
}

func TestDeleteMissingIsNoop(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("del.txt", []byte("bye"))
	if err := s.Delete("del.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Exists("del.txt") {
		t.Error("file still exists")
	}
	if err := s.Delete("del.txt"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestMoveTo(t *testing.T) {
	cache := tempRoot(t)
	data := tempRoot(t)
	_ = cache.Write("2c-4.png", []byte("data"))
	if err := cache.MoveTo("2c-4.png", data); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	got, err := data.Read("2c-4.png")
	if err != nil {
		t.Fatalf("Read after move: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("content = %q", got)
	}
	if cache.Exists("2c-4.png") {
		t.Error("old path should not exist")
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempRoot(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.txt",
		"/etc/shadow",
		"",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteNoLeftovers(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("atomic.txt", []byte("original content"))

	updated := []byte("updated content")
	if err := s.Write("atomic.txt", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.txt")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(s.root, ".mioring-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestEnsureFS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	s, err := EnsureFS(dir)
	if err != nil {
		t.Fatalf("EnsureFS: %v", err)
	}
	if s.Root() != dir {
		t.Errorf("Root = %q, want %q", s.Root(), dir)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp(t.TempDir(), "mioring-test-*")
	_ = f.Close()
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
