package resolution

import (
	"path"
	"strings"
)

// WatchHandle is what a host hands back for an installed watch. Verification
// hosts return no-op handles; the fsnotify host returns real ones.
type WatchHandle interface {
	Close()
}

type noopHandle struct{}

func (noopHandle) Close() {}

// NoopHandle returns a watch handle that does nothing on Close.
func NoopHandle() WatchHandle { return noopHandle{} }

// Host is everything the cache needs from its surroundings. Watch
// registration goes through the host so the same cache code serves both the
// live system and the shadow replay the verifier builds.
type Host interface {
	GetCurrentDirectory() string
	UseCaseSensitiveFileNames() bool
	FileExists(path string) bool
	ReadFile(path string) (string, bool)
	// Realpath resolves symlinks; the bool reports whether a link was
	// traversed.
	Realpath(path string) (string, bool)
	GetDefaultLibraryPath() string
	DefaultLibFileName() string
	WatchDirectory(path string, recursive bool) WatchHandle
	WatchFile(path string) WatchHandle
}

// noopWatchHost forwards everything except watch installation.
type noopWatchHost struct {
	Host
}

func (noopWatchHost) WatchDirectory(string, bool) WatchHandle { return noopHandle{} }
func (noopWatchHost) WatchFile(string) WatchHandle            { return noopHandle{} }

// WithNoopWatches wraps a host so no real watches are ever installed.
func WithNoopWatches(h Host) Host {
	return noopWatchHost{Host: h}
}

// CanonicalPath folds case according to the host's file-name casing rule so
// map keys agree across differently spelled references to the same file.
func CanonicalPath(h Host, p string) string {
	p = path.Clean(p)
	if h.UseCaseSensitiveFileNames() {
		return p
	}
	return strings.ToLower(p)
}

// DefaultLibFilePath is the inference rule hosts use for the on-disk
// location of a named lib file.
func DefaultLibFilePath(h Host, libName string) string {
	return path.Join(h.GetDefaultLibraryPath(), libName)
}

// AffectingManifestOf reports the nearest existing package.json ancestor of
// a source file: the manifest whose content the file depends on directly,
// independent of any single resolution.
func AffectingManifestOf(h Host, file string) (string, bool) {
	for d := path.Dir(path.Clean(file)); ; d = path.Dir(d) {
		manifest := path.Join(d, "package.json")
		if h.FileExists(manifest) {
			return manifest, true
		}
		if d == "/" || d == "." {
			break
		}
	}
	return "", false
}

// DirectoryToWatch maps a lookup path to the directory whose contents can
// change the outcome: the nearest node_modules ancestor (watched
// recursively), or the containing directory otherwise.
func DirectoryToWatch(p string) (dir string, recursive bool) {
	clean := path.Clean(p)
	for d := path.Dir(clean); d != "/" && d != "."; d = path.Dir(d) {
		if path.Base(d) == "node_modules" {
			return d, true
		}
	}
	return path.Dir(clean), false
}
