package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestMemoryFileSystemRoundTrip(t *testing.T) {
	m := NewMemoryFileSystem()

	if err := m.WriteFile("a/b.json", []byte(`{}`), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	data, err := m.ReadFile("a/b.json")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != `{}` {
		t.Errorf("ReadFile = %q, want {}", data)
	}

	info, err := m.Stat("a/b.json")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 2 || info.IsDir() {
		t.Errorf("Stat = size %d isDir %v, want size 2 file", info.Size(), info.IsDir())
	}
}

func TestMemoryFileSystemMissingFile(t *testing.T) {
	m := NewMemoryFileSystem()

	if _, err := m.ReadFile("missing.txt"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile error = %v, want fs.ErrNotExist", err)
	}
	if _, err := m.Stat("missing.txt"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Stat error = %v, want fs.ErrNotExist", err)
	}
	if m.Exists("missing.txt") {
		t.Error("Exists reported a missing file")
	}
}

func TestMemoryFileSystemMkdirAll(t *testing.T) {
	m := NewMemoryFileSystem()

	if err := m.MkdirAll("x/y/z", 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	for _, dir := range []string{"x", "x/y", "x/y/z"} {
		if !m.Exists(dir) {
			t.Errorf("Exists(%q) = false after MkdirAll", dir)
		}
		info, err := m.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("Stat(%q) = %v, %v; want directory", dir, info, err)
		}
	}
}

func TestMemoryFileSystemWriteIsolation(t *testing.T) {
	m := NewMemoryFileSystem()

	buf := []byte("hello")
	if err := m.WriteFile("f", buf, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	buf[0] = 'X'

	data, err := m.ReadFile("f")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("stored data mutated through caller slice: %q", data)
	}
}

func TestOSFileSystem(t *testing.T) {
	var osFS OSFileSystem
	path := filepath.Join(t.TempDir(), "f.txt")

	if osFS.Exists(path) {
		t.Fatal("Exists reported a file before creation")
	}
	if err := osFS.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	data, err := osFS.ReadFile(path)
	if err != nil || string(data) != "data" {
		t.Fatalf("ReadFile = %q, %v", data, err)
	}
	if !osFS.Exists(path) {
		t.Error("Exists = false after write")
	}
}
