package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureDir(t *testing.T) {
	tempRoot := t.TempDir()

	dir := filepath.Join(tempRoot, "one", "two")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("expected %q to be a dir, err: %v", dir, err)
	}

	// already existing dir is not an error
	if err := EnsureDir(dir); err != nil {
		t.Errorf("unexpected error on existing dir: %v", err)
	}
}

func TestDirIsEmpty(t *testing.T) {
	tempRoot := t.TempDir()

	if empty, err := DirIsEmpty(tempRoot); err != nil {
		t.Fatalf("unexpected error: %v", err)
	} else if !empty {
		t.Errorf("expected %q to be deemed empty", tempRoot)
	}

	path := filepath.Join(tempRoot, "a")
	if err := os.WriteFile(path, []byte{}, 0755); err != nil {
		t.Fatalf("failed to write a file: %v", err)
	}

	if empty, err := DirIsEmpty(tempRoot); err != nil {
		t.Fatalf("unexpected error: %v", err)
	} else if empty {
		t.Errorf("expected %q to be deemed non-empty", tempRoot)
	}

	if _, err := DirIsEmpty(filepath.Join(tempRoot, "missing")); err == nil {
		t.Errorf("expected error for missing dir")
	}
}
