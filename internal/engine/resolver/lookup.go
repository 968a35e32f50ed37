// Package resolver performs the node_modules-style lookups that feed the
// resolution cache. The probing order is deliberately small and fully
// deterministic: what matters downstream is the failed-lookup and
// affecting-location bookkeeping, not resolution-algorithm fidelity.
package resolver

import (
	"encoding/json"
	"path"
	"strings"

	"cacheguard/internal/engine/resolution"
)

var moduleExtensions = []string{".ts", ".tsx", ".d.ts", ".js"}

type packageManifest struct {
	Main string `json:"main"`
}

// LookupModule resolves name from containingFile. Relative names probe
// extension candidates next to the containing file; bare names walk the
// node_modules ancestry. Every missed probe is recorded in order as a failed
// lookup location.
func LookupModule(host resolution.Host, containingFile, name string, mode resolution.Mode) *resolution.Entry {
	e := &resolution.Entry{}
	dir := path.Dir(path.Clean(containingFile))

	if strings.HasPrefix(name, "./") || strings.HasPrefix(name, "../") || strings.HasPrefix(name, "/") {
		base := path.Clean(path.Join(dir, name))
		if strings.HasPrefix(name, "/") {
			base = path.Clean(name)
		}
		if target, ok := probeWithExtensions(host, base, e); ok {
			e.ResolvedFileName = target
		}
		return e
	}

	for d := dir; ; d = path.Dir(d) {
		pkgDir := path.Join(d, "node_modules", name)
		if target, ok := probePackage(host, pkgDir, mode, e); ok {
			e.ResolvedFileName = target
			return e
		}
		if d == "/" || d == "." {
			break
		}
	}
	return e
}

// LookupTypeRef resolves a type-reference directive through the @types
// ancestry. Only declaration files satisfy it.
func LookupTypeRef(host resolution.Host, containingFile, name string, mode resolution.Mode) *resolution.Entry {
	e := &resolution.Entry{}
	dir := path.Dir(path.Clean(containingFile))
	for d := dir; ; d = path.Dir(d) {
		pkgDir := path.Join(d, "node_modules", "@types", name)
		manifest := path.Join(pkgDir, "package.json")
		if host.FileExists(manifest) {
			e.AffectingLocations = append(e.AffectingLocations, manifest)
		} else {
			e.FailedLookupLocations = append(e.FailedLookupLocations, manifest)
		}
		candidate := path.Join(pkgDir, "index.d.ts")
		if host.FileExists(candidate) {
			e.ResolvedFileName = candidate
			return e
		}
		e.FailedLookupLocations = append(e.FailedLookupLocations, candidate)
		if d == "/" || d == "." {
			break
		}
	}
	return e
}

// LookupLib resolves a standard-library reference against the host's default
// library path. The bool reports whether the lib file actually exists.
func LookupLib(host resolution.Host, libName string) (*resolution.Entry, bool) {
	e := &resolution.Entry{}
	candidate := resolution.DefaultLibFilePath(host, libName)
	if host.FileExists(candidate) {
		e.ResolvedFileName = candidate
		return e, true
	}
	e.FailedLookupLocations = append(e.FailedLookupLocations, candidate)
	return e, false
}

func probePackage(host resolution.Host, pkgDir string, mode resolution.Mode, e *resolution.Entry) (string, bool) {
	manifest := path.Join(pkgDir, "package.json")
	var main string
	if content, ok := host.ReadFile(manifest); ok {
		e.AffectingLocations = append(e.AffectingLocations, manifest)
		var pkg packageManifest
		if err := json.Unmarshal([]byte(content), &pkg); err == nil {
			main = pkg.Main
		}
	} else {
		e.FailedLookupLocations = append(e.FailedLookupLocations, manifest)
	}

	if main != "" {
		if target, ok := probeWithExtensions(host, path.Join(pkgDir, main), e); ok {
			return target, true
		}
	}
	if target, ok := probeWithExtensions(host, path.Join(pkgDir, "index"), e); ok {
		// An index fallback under ESM only holds via node10-style lookup.
		if mode == resolution.ModeESM {
			e.Node10Compat = true
		}
		return target, true
	}
	return "", false
}

func probeWithExtensions(host resolution.Host, base string, e *resolution.Entry) (string, bool) {
	if path.Ext(base) != "" {
		if host.FileExists(base) {
			return base, true
		}
		e.FailedLookupLocations = append(e.FailedLookupLocations, base)
	}
	for _, ext := range moduleExtensions {
		candidate := base + ext
		if host.FileExists(candidate) {
			return candidate, true
		}
		e.FailedLookupLocations = append(e.FailedLookupLocations, candidate)
	}
	return "", false
}
