// Package vfs provides the in-memory file tree backing verification
// scenarios. Resolution probing only needs existence/read/realpath, so the
// model is a flat path map plus a symlink table.
package vfs

import (
	"path"
	"sort"
	"strings"
	"sync"
)

type MemFS struct {
	mu            sync.RWMutex
	caseSensitive bool
	files         map[string]string
	symlinks      map[string]string // link path -> target path
}

func NewMemFS(caseSensitive bool) *MemFS {
	return &MemFS{
		caseSensitive: caseSensitive,
		files:         make(map[string]string),
		symlinks:      make(map[string]string),
	}
}

func (m *MemFS) CaseSensitive() bool { return m.caseSensitive }

func (m *MemFS) canonical(p string) string {
	p = path.Clean(p)
	if m.caseSensitive {
		return p
	}
	return strings.ToLower(p)
}

func (m *MemFS) WriteFile(p, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[m.canonical(p)] = content
}

func (m *MemFS) Remove(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.canonical(p)
	delete(m.files, key)
	delete(m.symlinks, key)
}

// Symlink registers a link so that reads through link resolve to target and
// Realpath(link) reports target.
func (m *MemFS) Symlink(link, target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symlinks[m.canonical(link)] = path.Clean(target)
}

func (m *MemFS) resolveLocked(p string) (string, bool) {
	key := m.canonical(p)
	// Resolve symlinked ancestors one level deep; scenario trees do not
	// nest links through links.
	if target, ok := m.symlinks[key]; ok {
		return m.canonical(target), true
	}
	for dir := path.Dir(key); dir != "/" && dir != "."; dir = path.Dir(dir) {
		if target, ok := m.symlinks[dir]; ok {
			rest := strings.TrimPrefix(key, dir)
			return m.canonical(path.Clean(target + rest)), true
		}
	}
	return key, false
}

func (m *MemFS) FileExists(p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	real, _ := m.resolveLocked(p)
	_, ok := m.files[real]
	return ok
}

func (m *MemFS) ReadFile(p string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	real, _ := m.resolveLocked(p)
	content, ok := m.files[real]
	return content, ok
}

// Realpath reports the symlink-resolved path and whether any link was
// traversed to reach it.
func (m *MemFS) Realpath(p string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resolveLocked(p)
}

func (m *MemFS) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
