// Package hosts provides the resolution.Host implementations: an in-memory
// host for scenarios and tests, and a disk-backed host that installs real
// fsnotify watches.
package hosts

import (
	"cacheguard/internal/engine/resolution"
	"cacheguard/internal/shared/vfs"
)

// MemHost serves resolution lookups from an in-memory file tree. Watch
// installation is a no-op unless hooks are set, which lets tests observe
// the cache's watch protocol without OS watchers.
type MemHost struct {
	FS         *vfs.MemFS
	CurrentDir string
	LibDir     string
	LibName    string

	OnWatchDirectory func(path string, recursive bool)
	OnWatchFile      func(path string)
}

func NewMemHost(fs *vfs.MemFS, currentDir string) *MemHost {
	return &MemHost{
		FS:         fs,
		CurrentDir: currentDir,
		LibDir:     "/lib",
		LibName:    "lib.d.ts",
	}
}

func (h *MemHost) GetCurrentDirectory() string     { return h.CurrentDir }
func (h *MemHost) UseCaseSensitiveFileNames() bool { return h.FS.CaseSensitive() }
func (h *MemHost) FileExists(p string) bool        { return h.FS.FileExists(p) }
func (h *MemHost) ReadFile(p string) (string, bool) {
	return h.FS.ReadFile(p)
}
func (h *MemHost) Realpath(p string) (string, bool) { return h.FS.Realpath(p) }
func (h *MemHost) GetDefaultLibraryPath() string    { return h.LibDir }
func (h *MemHost) DefaultLibFileName() string       { return h.LibName }

func (h *MemHost) WatchDirectory(p string, recursive bool) resolution.WatchHandle {
	if h.OnWatchDirectory != nil {
		h.OnWatchDirectory(p, recursive)
	}
	return resolution.NoopHandle()
}

func (h *MemHost) WatchFile(p string) resolution.WatchHandle {
	if h.OnWatchFile != nil {
		h.OnWatchFile(p)
	}
	return resolution.NoopHandle()
}
