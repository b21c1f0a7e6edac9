package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func mkEngine(t *testing.T, dir string, files ...string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func TestLoadDirFindsEngineSubdirs(t *testing.T) {
	root := t.TempDir()
	mkEngine(t, filepath.Join(root, "llama-7b"), "rank0.engine", "config.json")
	mkEngine(t, filepath.Join(root, "gpt2"), "rank1.ENGINE", "rank0.engine")
	mkEngine(t, filepath.Join(root, "notes"), "readme.txt")

	engines, err := LoadDir(root)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(engines) != 2 || engines[0].ID != "gpt2" || engines[1].ID != "llama-7b" {
		t.Fatalf("unexpected engines: %+v", engines)
	}
	if got := engines[0].Files; len(got) != 2 || got[0] != "rank0.engine" {
		t.Fatalf("expected sorted engine files, got %v", got)
	}
	if engines[1].Path != filepath.Join(root, "llama-7b") {
		t.Fatalf("unexpected path %s", engines[1].Path)
	}
}

func TestLoadDirEngineRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "solo")
	mkEngine(t, root, "rank0.engine")
	engines, err := LoadDir(root)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(engines) != 1 || engines[0].ID != "solo" {
		t.Fatalf("unexpected engines: %+v", engines)
	}
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	if _, err := Resolve(root, ""); !errors.Is(err, ErrNoEngine) {
		t.Fatalf("expected ErrNoEngine, got %v", err)
	}
	mkEngine(t, filepath.Join(root, "a"), "rank0.engine")
	e, err := Resolve(root, "")
	if err != nil || e.ID != "a" {
		t.Fatalf("single engine: %+v %v", e, err)
	}
	mkEngine(t, filepath.Join(root, "b"), "rank0.engine")
	if _, err := Resolve(root, ""); err == nil {
		t.Fatalf("expected ambiguity error")
	}
	if e, err := Resolve(root, "b"); err != nil || e.ID != "b" {
		t.Fatalf("named engine: %+v %v", e, err)
	}
	if _, err := Resolve(root, "c"); !errors.Is(err, ErrNoEngine) {
		t.Fatalf("expected ErrNoEngine for unknown id, got %v", err)
	}
	if _, err := Resolve(filepath.Join(root, "missing"), ""); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}
