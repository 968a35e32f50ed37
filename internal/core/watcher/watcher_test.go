package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewWatcher_RejectsNilCallback(t *testing.T) {
	w, err := NewWatcher(100*time.Millisecond, nil, nil, nil)
	if err == nil {
		t.Fatal("expected error for nil callback")
	}
	if !errors.Is(err, os.ErrInvalid) {
		t.Fatalf("expected os.ErrInvalid, got %v", err)
	}
	if w != nil {
		t.Fatal("expected nil watcher when callback is invalid")
	}
}

func TestWatcherDeliversDebouncedChanges(t *testing.T) {
	tmpDir := t.TempDir()

	changedFiles := make(chan []string, 1)
	w, err := NewWatcher(100*time.Millisecond, nil, []string{"*.exclude"}, func(paths []string) {
		changedFiles <- paths
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	w.Register(tmpDir)

	testFile := filepath.Join(tmpDir, "scenario.toml")
	if err := os.WriteFile(testFile, []byte("version = 1"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case paths := <-changedFiles:
		found := false
		for _, p := range paths {
			if p == testFile {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected %s in changed files %v", testFile, paths)
		}
	case <-time.After(2 * time.Second):
		t.Error("timed out waiting for file change event")
	}

	// Excluded files never reach the callback.
	excludeFile := filepath.Join(tmpDir, "editor.exclude")
	if err := os.WriteFile(excludeFile, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case paths := <-changedFiles:
		for _, p := range paths {
			if filepath.Base(p) == "editor.exclude" {
				t.Error("excluded file triggered event")
			}
		}
	case <-time.After(500 * time.Millisecond):
		// Expected
	}
}

func TestWatcherRegistrationRefCounts(t *testing.T) {
	tmpDir := t.TempDir()

	changedFiles := make(chan []string, 4)
	w, err := NewWatcher(50*time.Millisecond, nil, nil, func(paths []string) {
		changedFiles <- paths
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	// Two registrations share a single OS watch; one unregister keeps it.
	w.Register(tmpDir)
	w.Register(tmpDir)
	w.Unregister(tmpDir)

	testFile := filepath.Join(tmpDir, "a.ts")
	if err := os.WriteFile(testFile, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changedFiles:
	case <-time.After(2 * time.Second):
		t.Fatal("watch dropped while a registration remained")
	}

	// Dropping the last registration removes the watch.
	w.Unregister(tmpDir)
	if err := os.WriteFile(filepath.Join(tmpDir, "b.ts"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case paths := <-changedFiles:
		t.Errorf("unwatched path still delivered: %v", paths)
	case <-time.After(300 * time.Millisecond):
		// Expected
	}

	// Unregistering an unknown path is a no-op.
	w.Unregister(filepath.Join(tmpDir, "never-registered"))
}

func TestWatcherToleratesMissingPath(t *testing.T) {
	w, err := NewWatcher(50*time.Millisecond, nil, nil, func([]string) {})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	// The cache may register ancestor directories that do not exist yet.
	w.Register(filepath.Join(t.TempDir(), "not-created", "node_modules"))
}
