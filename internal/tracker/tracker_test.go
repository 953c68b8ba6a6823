package tracker

import (
	"os"
	"path/filepath"
	"testing"

	"skb/internal/logging"
	"skb/internal/skberr"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTrackFileAndHasChanged(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "src/Handler.java", "class Handler {}")

	tr := New(dir, logging.Discard())

	changed, err := tr.HasChanged("src/Handler.java")
	if err != nil {
		t.Fatalf("HasChanged() error: %v", err)
	}
	if !changed {
		t.Error("untracked file should read as changed")
	}

	snap, err := tr.TrackFile("src/Handler.java")
	if err != nil {
		t.Fatalf("TrackFile() error: %v", err)
	}
	if snap.Path != "src/Handler.java" {
		t.Errorf("snapshot path = %q", snap.Path)
	}
	if snap.Hash == "" {
		t.Error("snapshot hash is empty")
	}

	changed, err = tr.HasChanged("src/Handler.java")
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("freshly tracked file should not read as changed")
	}

	// Same content rewritten: mtime moves, hash does not.
	writeFile(t, dir, "src/Handler.java", "class Handler {}")
	changed, err = tr.HasChanged("src/Handler.java")
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("touch without edit must not count as a change")
	}

	writeFile(t, dir, "src/Handler.java", "class Handler { void run() {} }")
	changed, err = tr.HasChanged("src/Handler.java")
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("edited file should read as changed")
	}
}

func TestTrackMissingFile(t *testing.T) {
	tr := New(t.TempDir(), logging.Discard())

	_, err := tr.TrackFile("no/such/File.java")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !skberr.HasCode(err, skberr.FileNotFound) {
		t.Errorf("error code = %v, want FILE_NOT_FOUND", skberr.CodeOf(err))
	}
}

func TestFlushAndLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "A.java", "class A {}")
	writeFile(t, dir, "B.java", "class B {}")

	tr := New(dir, logging.Discard())
	if _, err := tr.TrackFile("A.java"); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.TrackFile("B.java"); err != nil {
		t.Fatal(err)
	}
	if err := tr.Flush(); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	fresh := New(dir, logging.Discard())
	if err := fresh.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if fresh.Len() != 2 {
		t.Fatalf("Len() = %d after reload, want 2", fresh.Len())
	}

	changed, err := fresh.HasChanged("A.java")
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("unmodified file should not read as changed after reload")
	}
}

func TestLoadCorruptCacheStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, filepath.Join(".skb", "snapshots.json"), "{not json")

	tr := New(dir, logging.Discard())
	if err := tr.Load(); err != nil {
		t.Fatalf("Load() should tolerate a corrupt cache, got %v", err)
	}
	if tr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tr.Len())
	}
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "A.java", "class A {}")

	tr := New(dir, logging.Discard())
	if _, err := tr.TrackFile("A.java"); err != nil {
		t.Fatal(err)
	}
	tr.Remove("A.java")
	if tr.Len() != 0 {
		t.Errorf("Len() = %d after Remove, want 0", tr.Len())
	}
	if _, ok := tr.Get("A.java"); ok {
		t.Error("Get() found a removed snapshot")
	}
}
