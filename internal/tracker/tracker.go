// Package tracker implements content-hash based change detection for
// source files. It decides whether the expensive LLM description step
// runs at all, so false positives cost money and false negatives cost
// correctness: comparison is by content hash, never by mtime.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"skb/internal/logging"
	"skb/internal/skberr"
)

// Snapshot records the last-processed state of one source file
type Snapshot struct {
	Path    string    `json:"path"` // project-relative, forward slashes
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
	Hash    string    `json:"hash"`
}

// Tracker detects file changes against a persisted snapshot cache.
// A single lock guards every read-modify-persist sequence so concurrent
// track/flush calls never interleave partial writes.
type Tracker struct {
	repoRoot  string
	cachePath string
	logger    *logging.Logger

	mu        sync.Mutex
	snapshots map[string]Snapshot
	dirty     bool
}

// New creates a tracker rooted at repoRoot. The snapshot cache lives at
// <repoRoot>/.skb/snapshots.json.
func New(repoRoot string, logger *logging.Logger) *Tracker {
	return &Tracker{
		repoRoot:  repoRoot,
		cachePath: filepath.Join(repoRoot, ".skb", "snapshots.json"),
		logger:    logger.With("tracker"),
		snapshots: make(map[string]Snapshot),
	}
}

// Load restores the snapshot cache from disk. A missing cache file is
// not an error: the tracker simply starts empty and every file reads
// as changed.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.cachePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return skberr.Wrap(skberr.StoreIO, "failed to read snapshot cache", err)
	}

	var snapshots map[string]Snapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		// A corrupt cache only costs re-describing files, never data.
		t.logger.Warn("snapshot cache corrupt, starting empty", map[string]interface{}{
			"path":  t.cachePath,
			"error": err.Error(),
		})
		t.snapshots = make(map[string]Snapshot)
		return nil
	}

	t.snapshots = snapshots
	t.logger.Debug("snapshot cache loaded", map[string]interface{}{
		"files": len(snapshots),
	})
	return nil
}

// TrackFile reads the file, computes its content hash and stores or
// overwrites the snapshot keyed by project-relative path. It fails when
// the file does not exist.
func (t *Tracker) TrackFile(path string) (Snapshot, error) {
	abs := t.absolute(path)

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, skberr.Newf(skberr.FileNotFound, "cannot track missing file %s", path)
		}
		return Snapshot{}, skberr.Wrap(skberr.StoreIO, fmt.Sprintf("failed to stat %s", path), err)
	}

	hash, err := hashFile(abs)
	if err != nil {
		return Snapshot{}, skberr.Wrap(skberr.StoreIO, fmt.Sprintf("failed to hash %s", path), err)
	}

	snap := Snapshot{
		Path:    t.relative(path),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Hash:    hash,
	}

	t.mu.Lock()
	t.snapshots[snap.Path] = snap
	t.dirty = true
	t.mu.Unlock()

	return snap, nil
}

// HasChanged reports whether the file differs from its stored snapshot.
// A file with no snapshot has always changed. The comparison rereads and
// rehashes the file so touch-without-edit never reports a change.
func (t *Tracker) HasChanged(path string) (bool, error) {
	abs := t.absolute(path)
	rel := t.relative(path)

	t.mu.Lock()
	snap, ok := t.snapshots[rel]
	t.mu.Unlock()

	if !ok {
		return true, nil
	}

	hash, err := hashFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return false, skberr.Newf(skberr.FileNotFound, "cannot check missing file %s", path)
		}
		return false, skberr.Wrap(skberr.StoreIO, fmt.Sprintf("failed to hash %s", path), err)
	}

	return hash != snap.Hash, nil
}

// Get returns the stored snapshot for a path, if any
func (t *Tracker) Get(path string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap, ok := t.snapshots[t.relative(path)]
	return snap, ok
}

// Remove drops the snapshot for a path (after a file is deleted)
func (t *Tracker) Remove(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rel := t.relative(path)
	if _, ok := t.snapshots[rel]; ok {
		delete(t.snapshots, rel)
		t.dirty = true
	}
}

// Len returns the number of tracked files
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.snapshots)
}

// Flush serializes the snapshot cache to disk when it has pending
// changes. Called after pipeline runs and periodically by the scheduler.
func (t *Tracker) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.dirty {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(t.cachePath), 0755); err != nil {
		return skberr.Wrap(skberr.StoreIO, "failed to create cache directory", err)
	}

	data, err := json.MarshalIndent(t.snapshots, "", "  ")
	if err != nil {
		return skberr.Wrap(skberr.Internal, "failed to marshal snapshot cache", err)
	}

	// Write-then-rename so a crash mid-write never corrupts the cache.
	tmp := t.cachePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return skberr.Wrap(skberr.StoreIO, "failed to write snapshot cache", err)
	}
	if err := os.Rename(tmp, t.cachePath); err != nil {
		return skberr.Wrap(skberr.StoreIO, "failed to replace snapshot cache", err)
	}

	t.dirty = false
	return nil
}

func (t *Tracker) absolute(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(t.repoRoot, path)
}

func (t *Tracker) relative(path string) string {
	if filepath.IsAbs(path) {
		if rel, err := filepath.Rel(t.repoRoot, path); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}

// hashFile computes the xxh3 content hash of a file
func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", xxh3.Hash(data)), nil
}
