package fsx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

func TestWriteFileSyncMem(t *testing.T) {
	fsys := NewMemFS()
	path := "/t/a.txt"

	if err := WriteFileSync(fsys, path, []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("WriteFileSync() error = %v", err)
	}

	content, err := afero.ReadFile(fsys, path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(content) != "hello\n" {
		t.Errorf("content = %q, want %q", content, "hello\n")
	}

	entries, _ := afero.ReadDir(fsys, "/t")
	for _, e := range entries {
		if e.Name() != "a.txt" {
			t.Errorf("leftover staging file: %s", e.Name())
		}
	}
}

func TestWriteFileSyncOverwrite(t *testing.T) {
	fsys := NewMemFS()
	path := "/t/a.txt"
	if err := afero.WriteFile(fsys, path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := WriteFileSync(fsys, path, []byte("new"), 0o644); err != nil {
		t.Fatalf("WriteFileSync() error = %v", err)
	}

	content, _ := afero.ReadFile(fsys, path)
	if string(content) != "new" {
		t.Errorf("content = %q, want %q", content, "new")
	}
}

func TestAtomicRenameRealFS(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "fsx-rename-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	fsys := NewOsFS()
	src := filepath.Join(tmpDir, "src.txt")
	dst := filepath.Join(tmpDir, "dst.txt")
	if err := afero.WriteFile(fsys, src, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := AtomicRename(fsys, src, dst); err != nil {
		t.Fatalf("AtomicRename() error = %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Errorf("expected source to be gone, stat err = %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "payload" {
		t.Errorf("dst contents = %q, err = %v", data, err)
	}
}
