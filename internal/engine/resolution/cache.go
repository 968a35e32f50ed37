package resolution

import (
	"sort"
)

// Cache is the live resolution cache: per-file mode-aware maps for modules
// and type references, lib resolutions, the reverse index from resolved file
// to the resolutions pointing at it, the failed-lookup/affecting-only sets,
// and the directory/file watch registries.
//
// Bookkeeping invariants (the verifier re-derives all of these from
// scratch):
//   - entry.refCount equals the number of (file, name, mode) references.
//   - an entry with refCount 0 is absent from every aggregate index.
//   - a directory/file watch exists iff at least one live dependent needs
//     that path, and its ref count equals the number of dependents.
type Cache struct {
	host Host

	modules  map[string]*ModeAwareCache[*Entry]
	typeRefs map[string]*ModeAwareCache[*Entry]
	libs     map[string]*LibEntry

	resolvedTo        map[string]map[*Entry]struct{}
	withFailedLookups map[*Entry]struct{}
	onlyAffecting     map[*Entry]struct{}

	dirWatches  map[string]*DirectoryWatch
	dirHandles  map[string]WatchHandle
	fileWatches map[string]*FileWatch
	fileHandles map[string]WatchHandle

	// fileAffecting tracks affecting locations registered per source file
	// (not per resolution) so RemoveResolutionsOfFile can release them.
	fileAffecting map[string][]string

	liveEntries int

	// Per-directory resolution recording session. While a pass is open,
	// identical (name, mode) lookups from the same directory coalesce onto
	// one shared entry, and host-level directory watch installation is
	// batched until the pass finishes.
	passDepth   int
	perDir      map[string]map[ModeKey]*Entry
	pendingDirs map[string]bool
}

func NewCache(host Host) *Cache {
	return &Cache{
		host:              host,
		modules:           make(map[string]*ModeAwareCache[*Entry]),
		typeRefs:          make(map[string]*ModeAwareCache[*Entry]),
		libs:              make(map[string]*LibEntry),
		resolvedTo:        make(map[string]map[*Entry]struct{}),
		withFailedLookups: make(map[*Entry]struct{}),
		onlyAffecting:     make(map[*Entry]struct{}),
		dirWatches:        make(map[string]*DirectoryWatch),
		dirHandles:        make(map[string]WatchHandle),
		fileWatches:       make(map[string]*FileWatch),
		fileHandles:       make(map[string]WatchHandle),
		fileAffecting:     make(map[string][]string),
	}
}

func (c *Cache) Host() Host { return c.host }

// StartResolutionPass opens a per-directory recording session. Passes nest;
// batched directory watches install when the outermost pass finishes.
func (c *Cache) StartResolutionPass() {
	c.passDepth++
	if c.perDir == nil {
		c.perDir = make(map[string]map[ModeKey]*Entry)
	}
	if c.pendingDirs == nil {
		c.pendingDirs = make(map[string]bool)
	}
}

func (c *Cache) FinishResolutionPass() {
	if c.passDepth == 0 {
		return
	}
	c.passDepth--
	if c.passDepth > 0 {
		return
	}
	// Install watches for directories that are still referenced. A
	// directory both created and drained within the pass needs no watch.
	dirs := make([]string, 0, len(c.pendingDirs))
	for dir := range c.pendingDirs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	for _, dir := range dirs {
		recursive := c.pendingDirs[dir]
		if _, live := c.dirWatches[dir]; live {
			c.dirHandles[dir] = c.host.WatchDirectory(dir, recursive)
		}
	}
	c.perDir = nil
	c.pendingDirs = nil
}

// PerDirLookup returns the entry recorded for (name, mode) in dir during the
// current pass, if any.
func (c *Cache) PerDirLookup(dir string, key ModeKey) (*Entry, bool) {
	if c.perDir == nil {
		return nil, false
	}
	byKey, ok := c.perDir[CanonicalPath(c.host, dir)]
	if !ok {
		return nil, false
	}
	e, ok := byKey[key]
	return e, ok
}

func (c *Cache) PerDirStore(dir string, key ModeKey, e *Entry) {
	if c.perDir == nil {
		return
	}
	canon := CanonicalPath(c.host, dir)
	byKey, ok := c.perDir[canon]
	if !ok {
		byKey = make(map[ModeKey]*Entry)
		c.perDir[canon] = byKey
	}
	byKey[key] = e
}

// SetModuleResolution stores the entry under (file, name, mode) and watches
// it on behalf of file. The EmptyEntry sentinel is never materialized.
func (c *Cache) SetModuleResolution(file, name string, mode Mode, e *Entry) {
	c.setResolution(c.modules, file, ModeKey{Name: name, Mode: mode}, e)
}

func (c *Cache) SetTypeRefResolution(file, name string, mode Mode, e *Entry) {
	c.setResolution(c.typeRefs, file, ModeKey{Name: name, Mode: mode}, e)
}

func (c *Cache) setResolution(store map[string]*ModeAwareCache[*Entry], file string, key ModeKey, e *Entry) {
	if e == nil || e == EmptyEntry {
		return
	}
	file = CanonicalPath(c.host, file)
	mc, ok := store[file]
	if !ok {
		mc = NewModeAwareCache[*Entry]()
		store[file] = mc
	}
	if old, ok := mc.Get(key.Name, key.Mode); ok {
		if old == e {
			return
		}
		c.releaseEntry(old, file)
	}
	mc.Set(key, e)
	c.watchEntry(e, file)
}

func (c *Cache) GetModuleResolution(file, name string, mode Mode) (*Entry, bool) {
	return c.getResolution(c.modules, file, name, mode)
}

func (c *Cache) GetTypeRefResolution(file, name string, mode Mode) (*Entry, bool) {
	return c.getResolution(c.typeRefs, file, name, mode)
}

func (c *Cache) getResolution(store map[string]*ModeAwareCache[*Entry], file, name string, mode Mode) (*Entry, bool) {
	mc, ok := store[CanonicalPath(c.host, file)]
	if !ok {
		return nil, false
	}
	return mc.Get(name, mode)
}

// SetLibResolution records the resolution for a standard-library reference,
// keyed by lib file name. The referencing "file" is the lib file's inferred
// location under the host's default library path.
func (c *Cache) SetLibResolution(libName string, e *Entry, actual bool) {
	if e == nil || e == EmptyEntry {
		return
	}
	refFile := CanonicalPath(c.host, DefaultLibFilePath(c.host, libName))
	if old, ok := c.libs[libName]; ok {
		if old.Entry == e {
			old.Actual = actual
			return
		}
		c.releaseEntry(old.Entry, refFile)
	}
	c.libs[libName] = &LibEntry{Entry: e, Actual: actual}
	c.watchEntry(e, refFile)
}

func (c *Cache) GetLibResolution(libName string) (*LibEntry, bool) {
	le, ok := c.libs[libName]
	return le, ok
}

// RemoveLibResolutions releases every lib resolution. Safe to call twice.
func (c *Cache) RemoveLibResolutions() {
	for libName, le := range c.libs {
		refFile := CanonicalPath(c.host, DefaultLibFilePath(c.host, libName))
		c.releaseEntry(le.Entry, refFile)
		delete(c.libs, libName)
	}
}

// WatchAffectingLocationOfFile registers a direct dependency of a source
// file on an affecting location (its package manifest), independent of any
// resolution.
func (c *Cache) WatchAffectingLocationOfFile(file, location string) {
	file = CanonicalPath(c.host, file)
	key := c.fileWatchKey(location)
	for _, existing := range c.fileAffecting[file] {
		if existing == location {
			return
		}
	}
	fw := c.ensureFileWatch(key)
	fw.Files[file] = struct{}{}
	c.recordSymlink(fw, key, location)
	c.fileAffecting[file] = append(c.fileAffecting[file], location)
}

// RemoveResolutionsOfFile releases every resolution referenced from file and
// the file's direct affecting-location registrations. Idempotent.
func (c *Cache) RemoveResolutionsOfFile(file string) {
	file = CanonicalPath(c.host, file)
	if mc, ok := c.modules[file]; ok {
		mc.Range(func(_ ModeKey, e *Entry) bool {
			c.releaseEntry(e, file)
			return true
		})
		delete(c.modules, file)
	}
	if mc, ok := c.typeRefs[file]; ok {
		mc.Range(func(_ ModeKey, e *Entry) bool {
			c.releaseEntry(e, file)
			return true
		})
		delete(c.typeRefs, file)
	}
	for _, location := range c.fileAffecting[file] {
		key := c.fileWatchKey(location)
		if fw, ok := c.fileWatches[key]; ok {
			delete(fw.Files, file)
			c.pruneFileWatch(key, fw)
		}
	}
	delete(c.fileAffecting, file)
}

// InvalidateResolutionsOfPath marks every resolution whose outcome depends
// on path as invalidated and reports how many were hit. The caller is
// expected to rebuild affected programs afterwards.
func (c *Cache) InvalidateResolutionsOfPath(p string) int {
	canon := CanonicalPath(c.host, p)
	hit := make(map[*Entry]struct{})
	for e := range c.resolvedTo[canon] {
		hit[e] = struct{}{}
	}
	for e := range c.withFailedLookups {
		for _, loc := range e.FailedLookupLocations {
			if CanonicalPath(c.host, loc) == canon {
				hit[e] = struct{}{}
				break
			}
		}
	}
	if fw, ok := c.fileWatches[canon]; ok {
		for e := range fw.Resolutions {
			hit[e] = struct{}{}
		}
	}
	for e := range hit {
		e.IsInvalidated = true
	}
	return len(hit)
}

func (c *Cache) watchEntry(e *Entry, file string) {
	if e.files == nil {
		e.files = make(map[string]struct{})
	}
	e.files[file] = struct{}{}
	e.refCount++
	if e.refCount > 1 {
		return
	}
	c.liveEntries++

	if e.IsResolved() {
		target := CanonicalPath(c.host, e.ResolvedFileName)
		set, ok := c.resolvedTo[target]
		if !ok {
			set = make(map[*Entry]struct{})
			c.resolvedTo[target] = set
		}
		set[e] = struct{}{}
	}
	if len(e.FailedLookupLocations) > 0 {
		c.withFailedLookups[e] = struct{}{}
	} else if len(e.AffectingLocations) > 0 {
		c.onlyAffecting[e] = struct{}{}
	}

	for dir, recursive := range c.watchDirsOf(e) {
		c.incDirWatch(dir, recursive)
	}
	for _, loc := range e.AffectingLocations {
		key := c.fileWatchKey(loc)
		fw := c.ensureFileWatch(key)
		fw.Resolutions[e] = struct{}{}
		c.recordSymlink(fw, key, loc)
	}
}

func (c *Cache) releaseEntry(e *Entry, file string) {
	e.refCount--
	delete(e.files, file)
	if e.refCount > 0 {
		return
	}
	c.liveEntries--

	if e.IsResolved() {
		target := CanonicalPath(c.host, e.ResolvedFileName)
		if set, ok := c.resolvedTo[target]; ok {
			delete(set, e)
			if len(set) == 0 {
				delete(c.resolvedTo, target)
			}
		}
	}
	delete(c.withFailedLookups, e)
	delete(c.onlyAffecting, e)

	for dir := range c.watchDirsOf(e) {
		c.decDirWatch(dir)
	}
	for _, loc := range e.AffectingLocations {
		key := c.fileWatchKey(loc)
		if fw, ok := c.fileWatches[key]; ok {
			delete(fw.Resolutions, e)
			c.pruneFileWatch(key, fw)
		}
	}
}

// watchDirsOf derives the deduplicated directory watch set of an entry from
// its failed lookups and resolved target. Deterministic, so the same set is
// recomputed at release time.
func (c *Cache) watchDirsOf(e *Entry) map[string]bool {
	dirs := make(map[string]bool)
	for _, loc := range e.FailedLookupLocations {
		dir, recursive := DirectoryToWatch(CanonicalPath(c.host, loc))
		dirs[dir] = dirs[dir] || recursive
	}
	if e.IsResolved() {
		dir, recursive := DirectoryToWatch(CanonicalPath(c.host, e.ResolvedFileName))
		dirs[dir] = dirs[dir] || recursive
	}
	return dirs
}

func (c *Cache) incDirWatch(dir string, recursive bool) {
	if w, ok := c.dirWatches[dir]; ok {
		w.RefCount++
		return
	}
	c.dirWatches[dir] = &DirectoryWatch{RefCount: 1, Recursive: recursive}
	if c.passDepth > 0 {
		c.pendingDirs[dir] = recursive
		return
	}
	c.dirHandles[dir] = c.host.WatchDirectory(dir, recursive)
}

func (c *Cache) decDirWatch(dir string) {
	w, ok := c.dirWatches[dir]
	if !ok {
		return
	}
	w.RefCount--
	if w.RefCount > 0 {
		return
	}
	delete(c.dirWatches, dir)
	if h, ok := c.dirHandles[dir]; ok {
		h.Close()
		delete(c.dirHandles, dir)
	}
	delete(c.pendingDirs, dir)
}

// fileWatchKey canonicalizes an affecting location through symlinks; the
// watch is installed on the real path.
func (c *Cache) fileWatchKey(location string) string {
	real, _ := c.host.Realpath(location)
	return CanonicalPath(c.host, real)
}

func (c *Cache) ensureFileWatch(key string) *FileWatch {
	fw, ok := c.fileWatches[key]
	if !ok {
		fw = newFileWatch()
		c.fileWatches[key] = fw
		c.fileHandles[key] = c.host.WatchFile(key)
	}
	return fw
}

func (c *Cache) recordSymlink(fw *FileWatch, key, location string) {
	if canon := CanonicalPath(c.host, location); canon != key {
		fw.Symlinks[canon] = struct{}{}
	}
}

func (c *Cache) pruneFileWatch(key string, fw *FileWatch) {
	if !fw.unreferenced() {
		return
	}
	delete(c.fileWatches, key)
	if h, ok := c.fileHandles[key]; ok {
		h.Close()
		delete(c.fileHandles, key)
	}
}

// Read-only views for the verifier. Callers must not mutate.

func (c *Cache) ModuleCacheForFile(file string) *ModeAwareCache[*Entry] {
	return c.modules[CanonicalPath(c.host, file)]
}

func (c *Cache) TypeRefCacheForFile(file string) *ModeAwareCache[*Entry] {
	return c.typeRefs[CanonicalPath(c.host, file)]
}

// CachedFiles lists every file with at least one cached resolution, sorted.
func (c *Cache) CachedFiles() []string {
	seen := make(map[string]struct{}, len(c.modules)+len(c.typeRefs))
	for f := range c.modules {
		seen[f] = struct{}{}
	}
	for f := range c.typeRefs {
		seen[f] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (c *Cache) ResolvedTo() map[string]map[*Entry]struct{} { return c.resolvedTo }
func (c *Cache) WithFailedLookups() map[*Entry]struct{}     { return c.withFailedLookups }
func (c *Cache) OnlyAffecting() map[*Entry]struct{}         { return c.onlyAffecting }
func (c *Cache) DirectoryWatches() map[string]*DirectoryWatch {
	return c.dirWatches
}
func (c *Cache) FileWatches() map[string]*FileWatch { return c.fileWatches }
func (c *Cache) Libs() map[string]*LibEntry         { return c.libs }

// Stats summarizes cache occupancy for metrics and reports.
type Stats struct {
	LiveResolutions  int
	DirectoryWatches int
	FileWatches      int
}

func (c *Cache) Stats() Stats {
	return Stats{
		LiveResolutions:  c.liveEntries,
		DirectoryWatches: len(c.dirWatches),
		FileWatches:      len(c.fileWatches),
	}
}
