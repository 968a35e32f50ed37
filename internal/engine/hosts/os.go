package hosts

import (
	"os"
	"path/filepath"
	"runtime"

	"cacheguard/internal/core/watcher"
	"cacheguard/internal/engine/resolution"
)

// OSHost serves lookups from the real filesystem and installs cache watch
// registrations through an fsnotify watcher.
type OSHost struct {
	CurrentDir string
	LibDir     string
	LibName    string
	Watches    *watcher.Watcher
}

func NewOSHost(currentDir, libDir, libName string, watches *watcher.Watcher) *OSHost {
	return &OSHost{
		CurrentDir: currentDir,
		LibDir:     libDir,
		LibName:    libName,
		Watches:    watches,
	}
}

func (h *OSHost) GetCurrentDirectory() string { return h.CurrentDir }

func (h *OSHost) UseCaseSensitiveFileNames() bool {
	return runtime.GOOS != "windows" && runtime.GOOS != "darwin"
}

func (h *OSHost) FileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func (h *OSHost) ReadFile(p string) (string, bool) {
	data, err := os.ReadFile(p)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (h *OSHost) Realpath(p string) (string, bool) {
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		return p, false
	}
	return real, real != filepath.Clean(p)
}

func (h *OSHost) GetDefaultLibraryPath() string { return h.LibDir }
func (h *OSHost) DefaultLibFileName() string    { return h.LibName }

func (h *OSHost) WatchDirectory(p string, recursive bool) resolution.WatchHandle {
	if h.Watches == nil {
		return resolution.NoopHandle()
	}
	h.Watches.Register(p)
	return &osWatchHandle{watches: h.Watches, path: p}
}

func (h *OSHost) WatchFile(p string) resolution.WatchHandle {
	if h.Watches == nil {
		return resolution.NoopHandle()
	}
	h.Watches.Register(p)
	return &osWatchHandle{watches: h.Watches, path: p}
}

type osWatchHandle struct {
	watches *watcher.Watcher
	path    string
}

func (h *osWatchHandle) Close() {
	h.watches.Unregister(h.path)
}
