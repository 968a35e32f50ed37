package resolver

import (
	"testing"

	"cacheguard/internal/engine/hosts"
	"cacheguard/internal/engine/resolution"
	"cacheguard/internal/shared/vfs"
)

func newHost(files map[string]string) *hosts.MemHost {
	fs := vfs.NewMemFS(true)
	for p, text := range files {
		fs.WriteFile(p, text)
	}
	return hosts.NewMemHost(fs, "/proj")
}

func TestLookupModuleRelative(t *testing.T) {
	t.Run("first extension hit", func(t *testing.T) {
		host := newHost(map[string]string{"/proj/b.ts": ""})
		e := LookupModule(host, "/proj/a.ts", "./b", resolution.ModeNone)
		if e.ResolvedFileName != "/proj/b.ts" {
			t.Errorf("resolved %q", e.ResolvedFileName)
		}
		if len(e.FailedLookupLocations) != 0 {
			t.Errorf("unexpected failed lookups: %v", e.FailedLookupLocations)
		}
	})

	t.Run("records missed probes in order", func(t *testing.T) {
		host := newHost(map[string]string{"/proj/b.tsx": ""})
		e := LookupModule(host, "/proj/a.ts", "./b", resolution.ModeNone)
		if e.ResolvedFileName != "/proj/b.tsx" {
			t.Errorf("resolved %q", e.ResolvedFileName)
		}
		if len(e.FailedLookupLocations) != 1 || e.FailedLookupLocations[0] != "/proj/b.ts" {
			t.Errorf("failed lookups = %v", e.FailedLookupLocations)
		}
	})

	t.Run("unresolved keeps every probe", func(t *testing.T) {
		host := newHost(nil)
		e := LookupModule(host, "/proj/a.ts", "./missing", resolution.ModeNone)
		if e.IsResolved() {
			t.Error("should not resolve")
		}
		if len(e.FailedLookupLocations) != 4 {
			t.Errorf("expected 4 extension probes, got %v", e.FailedLookupLocations)
		}
	})
}

func TestLookupModuleBare(t *testing.T) {
	t.Run("package main through manifest", func(t *testing.T) {
		host := newHost(map[string]string{
			"/proj/node_modules/bar/package.json": `{"main": "lib/entry.ts"}`,
			"/proj/node_modules/bar/lib/entry.ts": "",
		})
		e := LookupModule(host, "/proj/src/a.ts", "bar", resolution.ModeNone)
		if e.ResolvedFileName != "/proj/node_modules/bar/lib/entry.ts" {
			t.Errorf("resolved %q", e.ResolvedFileName)
		}
		found := false
		for _, loc := range e.AffectingLocations {
			if loc == "/proj/node_modules/bar/package.json" {
				found = true
			}
		}
		if !found {
			t.Errorf("manifest missing from affecting locations: %v", e.AffectingLocations)
		}
		// The src-level node_modules probe missed before the root one hit.
		if len(e.FailedLookupLocations) == 0 {
			t.Error("ancestor misses should be recorded")
		}
	})

	t.Run("index fallback under esm sets node10 compat", func(t *testing.T) {
		host := newHost(map[string]string{
			"/proj/node_modules/bar/index.ts": "",
		})
		e := LookupModule(host, "/proj/a.ts", "bar", resolution.ModeESM)
		if e.ResolvedFileName != "/proj/node_modules/bar/index.ts" {
			t.Errorf("resolved %q", e.ResolvedFileName)
		}
		if !e.Node10Compat {
			t.Error("index fallback under esm should be node10-compat only")
		}

		e = LookupModule(host, "/proj/a.ts", "bar", resolution.ModeCommonJS)
		if e.Node10Compat {
			t.Error("commonjs index fallback must not be flagged")
		}
	})

	t.Run("walks the full ancestry when unresolved", func(t *testing.T) {
		host := newHost(nil)
		e := LookupModule(host, "/proj/deep/nested/a.ts", "ghost", resolution.ModeNone)
		if e.IsResolved() {
			t.Error("should not resolve")
		}
		if len(e.FailedLookupLocations) == 0 {
			t.Error("every ancestry probe should be recorded")
		}
	})
}

func TestLookupTypeRef(t *testing.T) {
	host := newHost(map[string]string{
		"/proj/node_modules/@types/node/package.json": "{}",
		"/proj/node_modules/@types/node/index.d.ts":   "",
	})
	e := LookupTypeRef(host, "/proj/src/a.ts", "node", resolution.ModeNone)
	if e.ResolvedFileName != "/proj/node_modules/@types/node/index.d.ts" {
		t.Errorf("resolved %q", e.ResolvedFileName)
	}
	found := false
	for _, loc := range e.AffectingLocations {
		if loc == "/proj/node_modules/@types/node/package.json" {
			found = true
		}
	}
	if !found {
		t.Errorf("@types manifest missing from affecting locations: %v", e.AffectingLocations)
	}
}

func TestLookupLib(t *testing.T) {
	host := newHost(map[string]string{"/lib/lib.d.ts": ""})

	e, actual := LookupLib(host, "lib.d.ts")
	if !actual || e.ResolvedFileName != "/lib/lib.d.ts" {
		t.Errorf("LookupLib = (%q, %t)", e.ResolvedFileName, actual)
	}

	e, actual = LookupLib(host, "lib.webworker.d.ts")
	if actual || e.IsResolved() {
		t.Error("missing lib must not report actual")
	}
	if len(e.FailedLookupLocations) != 1 {
		t.Errorf("failed lookups = %v", e.FailedLookupLocations)
	}
}
