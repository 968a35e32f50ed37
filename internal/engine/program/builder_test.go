package program

import (
	"testing"

	"cacheguard/internal/engine/hosts"
	"cacheguard/internal/engine/registry"
	"cacheguard/internal/engine/resolution"
	"cacheguard/internal/shared/vfs"
)

func newScenarioHost() *hosts.MemHost {
	fs := vfs.NewMemFS(true)
	fs.WriteFile("/proj/package.json", "{}")
	fs.WriteFile("/proj/a.ts", "")
	fs.WriteFile("/proj/b.ts", "")
	fs.WriteFile("/proj/node_modules/bar/package.json", `{"main": "index.ts"}`)
	fs.WriteFile("/proj/node_modules/bar/index.ts", "")
	fs.WriteFile("/proj/node_modules/@types/node/package.json", "{}")
	fs.WriteFile("/proj/node_modules/@types/node/index.d.ts", "")
	fs.WriteFile("/lib/lib.d.ts", "")
	fs.WriteFile("/lib/lib.dom.d.ts", "")
	return hosts.NewMemHost(fs, "/proj")
}

func twoFileInput() BuildInput {
	return BuildInput{
		Files: []FileSpec{
			{Path: "/proj/a.ts", Kind: registry.KindTS, Imports: []Ref{{Name: "bar"}, {Name: "./b"}}},
			{Path: "/proj/b.ts", Kind: registry.KindTS, Imports: []Ref{{Name: "bar"}}},
		},
		Options: &Options{ModuleKind: "esnext", Target: "es2022"},
	}
}

func TestBuildSharesEntriesPerDirectory(t *testing.T) {
	host := newScenarioHost()
	cache := resolution.NewCache(host)
	p := Build(host, cache, twoFileInput())

	fa := p.FileByPath("/proj/a.ts")
	fb := p.FileByPath("/proj/b.ts")
	barKey := resolution.ModeKey{Name: "bar"}

	ea := p.ResolvedModulesForFile(fa)[barKey]
	eb := p.ResolvedModulesForFile(fb)[barKey]
	if ea == nil || ea != eb {
		t.Fatal("same (name, mode) from one directory should share a single entry")
	}
	if ea.RefCount() != 2 {
		t.Errorf("shared entry refCount = %d, want 2", ea.RefCount())
	}
	if !ea.HasFile("/proj/a.ts") || !ea.HasFile("/proj/b.ts") {
		t.Errorf("shared entry files = %v", ea.FileList())
	}

	// Program view and cache must hold the identical objects.
	cached, ok := cache.GetModuleResolution("/proj/a.ts", "bar", resolution.ModeNone)
	if !ok || cached != ea {
		t.Error("cache and program must share entry identity")
	}
}

func TestBuildDropsDuplicateFileSpecs(t *testing.T) {
	host := newScenarioHost()
	cache := resolution.NewCache(host)

	in := BuildInput{
		Files: []FileSpec{
			{Path: "/proj/a.ts", Kind: registry.KindTS, Imports: []Ref{{Name: "bar"}}},
			{Path: "/proj/a.ts", Kind: registry.KindTS, Imports: []Ref{{Name: "bar"}}},
		},
		Options: &Options{ModuleKind: "esnext", Target: "es2022"},
	}
	p := Build(host, cache, in)

	if got := len(p.SourceFiles()); got != 1 {
		t.Fatalf("duplicate path produced %d source files, want 1", got)
	}
	e := p.ResolvedModulesForFile(p.FileByPath("/proj/a.ts"))[resolution.ModeKey{Name: "bar"}]
	if e == nil {
		t.Fatal("bar resolution missing from program view")
	}
	if e.RefCount() != 1 {
		t.Errorf("entry refCount after duplicate specs = %d, want 1", e.RefCount())
	}
}

func TestBuildAmbientStaysOutOfCache(t *testing.T) {
	host := newScenarioHost()
	cache := resolution.NewCache(host)
	in := BuildInput{
		Files: []FileSpec{
			{Path: "/proj/a.ts", Kind: registry.KindTS, Imports: []Ref{{Name: "fs"}}},
		},
		AmbientNames: []string{"fs"},
		Options:      &Options{},
	}
	p := Build(host, cache, in)

	f := p.FileByPath("/proj/a.ts")
	if e := p.ResolvedModulesForFile(f)[resolution.ModeKey{Name: "fs"}]; e != resolution.EmptyEntry {
		t.Error("ambient import should resolve to the sentinel in the program view")
	}
	if cache.ModuleCacheForFile("/proj/a.ts") != nil {
		t.Error("sentinel must never reach the cache")
	}
}

func TestBuildAutoTypesAreProgramOnly(t *testing.T) {
	host := newScenarioHost()
	cache := resolution.NewCache(host)
	in := BuildInput{
		Files:              []FileSpec{{Path: "/proj/a.ts", Kind: registry.KindTS}},
		AutoTypeDirectives: []string{"node"},
		Options:            &Options{},
	}
	p := Build(host, cache, in)

	e := p.AutomaticTypeDirectives()["node"]
	if e == nil || e.ResolvedFileName != "/proj/node_modules/@types/node/index.d.ts" {
		t.Fatalf("auto type directive resolved to %+v", e)
	}
	if e.RefCount() != 0 {
		t.Errorf("auto type entry must not be ref-counted by the cache, got %d", e.RefCount())
	}
	for _, f := range cache.CachedFiles() {
		if f != "/proj/a.ts" {
			t.Errorf("unexpected cached file %q", f)
		}
	}
}

func TestBuildLibReferences(t *testing.T) {
	host := newScenarioHost()
	cache := resolution.NewCache(host)
	in := BuildInput{
		Files:   []FileSpec{{Path: "/proj/a.ts", Kind: registry.KindTS}},
		Libs:    []string{"lib.dom.d.ts", "lib.dom.d.ts", "lib.missing.d.ts"},
		Options: &Options{},
	}
	p := Build(host, cache, in)

	libs := p.ResolvedLibReferences()
	if len(libs) != 3 {
		t.Fatalf("expected default + 2 distinct extra libs, got %d", len(libs))
	}
	if le, ok := cache.GetLibResolution("lib.d.ts"); !ok || !le.Actual {
		t.Error("default lib should resolve as actual")
	}
	if le, ok := cache.GetLibResolution("lib.missing.d.ts"); !ok || le.Actual {
		t.Error("missing lib should be cached with Actual=false")
	}
}

func TestBuildRegistersManifestWatch(t *testing.T) {
	host := newScenarioHost()
	cache := resolution.NewCache(host)
	Build(host, cache, twoFileInput())

	fw, ok := cache.FileWatches()["/proj/package.json"]
	if !ok {
		t.Fatal("source files should register their nearest manifest")
	}
	for _, f := range []string{"/proj/a.ts", "/proj/b.ts"} {
		if _, ok := fw.Files[f]; !ok {
			t.Errorf("%s missing from manifest watch file set", f)
		}
	}
}

func TestReleaseDrainsCache(t *testing.T) {
	host := newScenarioHost()
	cache := resolution.NewCache(host)
	in := twoFileInput()
	in.Libs = []string{"lib.dom.d.ts"}
	p := Build(host, cache, in)

	Release(cache, p)
	if s := cache.Stats(); s != (resolution.Stats{}) {
		t.Errorf("cache not empty after release: %+v", s)
	}
	if len(cache.CachedFiles()) != 0 || len(cache.Libs()) != 0 {
		t.Error("release should drop every per-file cache and lib resolution")
	}

	Release(cache, p) // safe to repeat
	Release(cache, nil)
}
