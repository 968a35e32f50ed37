package verify

import (
	"testing"

	"cacheguard/internal/core/errors"
	"cacheguard/internal/engine/hosts"
	"cacheguard/internal/engine/program"
	"cacheguard/internal/engine/registry"
	"cacheguard/internal/engine/resolution"
	"cacheguard/internal/shared/vfs"
)

func scenarioHost() *hosts.MemHost {
	fs := vfs.NewMemFS(true)
	fs.WriteFile("/proj/package.json", "{}")
	fs.WriteFile("/proj/a.ts", "")
	fs.WriteFile("/proj/b.ts", "")
	fs.WriteFile("/proj/node_modules/bar/package.json", `{"main": "index.ts"}`)
	fs.WriteFile("/proj/node_modules/bar/index.ts", "")
	fs.WriteFile("/proj/node_modules/@types/node/package.json", "{}")
	fs.WriteFile("/proj/node_modules/@types/node/index.d.ts", "")
	fs.WriteFile("/lib/lib.d.ts", "")
	fs.WriteFile("/lib/lib.extra.d.ts", "")
	return hosts.NewMemHost(fs, "/proj")
}

func scenarioInput() program.BuildInput {
	return program.BuildInput{
		Files: []program.FileSpec{
			{
				Path:     "/proj/a.ts",
				Kind:     registry.KindTS,
				Imports:  []program.Ref{{Name: "./b"}, {Name: "bar"}, {Name: "fs"}},
				TypeRefs: []program.Ref{{Name: "node"}},
			},
			{
				Path:    "/proj/b.ts",
				Kind:    registry.KindTS,
				Imports: []program.Ref{{Name: "bar"}, {Name: "./ghost"}},
			},
		},
		AmbientNames:       []string{"fs"},
		AutoTypeDirectives: []string{"node"},
		Libs:               []string{"lib.extra.d.ts"},
		Options:            &program.Options{ModuleKind: "esnext", Target: "es2022"},
	}
}

func builtScenario(t *testing.T) (*hosts.MemHost, *resolution.Cache, *program.Program) {
	t.Helper()
	host := scenarioHost()
	cache := resolution.NewCache(host)
	prog := program.Build(host, cache, scenarioInput())
	return host, cache, prog
}

func TestVerifyCleanBuild(t *testing.T) {
	host, cache, prog := builtScenario(t)
	if err := VerifyResolutionCache(cache, prog, host, "clean"); err != nil {
		t.Fatalf("clean build failed verification: %v", err)
	}
	// The verifier must not mutate the live cache; a second run sees the
	// same state.
	if err := VerifyResolutionCache(cache, prog, host, "clean-again"); err != nil {
		t.Fatalf("repeat verification failed: %v", err)
	}
}

// repeatingProgram reports every source file twice, so each (file, name,
// mode) site reaches the verifier more than once.
type repeatingProgram struct {
	*program.Program
}

func (rp *repeatingProgram) SourceFiles() []*program.File {
	files := rp.Program.SourceFiles()
	return append(files, files...)
}

func TestVerifyDuplicateReferenceSites(t *testing.T) {
	host, cache, prog := builtScenario(t)

	// The live cache holds one reference per site; a site reported twice
	// must still count once against the entry's refCount.
	if err := VerifyResolutionCache(cache, &repeatingProgram{prog}, host, "dup-sites"); err != nil {
		t.Fatalf("duplicate reference sites failed verification: %v", err)
	}
}

func TestVerifyDetectsExtraCacheFile(t *testing.T) {
	host, cache, prog := builtScenario(t)

	stray := &resolution.Entry{ResolvedFileName: "/proj/node_modules/bar/index.ts"}
	cache.SetModuleResolution("/proj/stray.ts", "bar", resolution.ModeNone, stray)

	err := VerifyResolutionCache(cache, prog, host, "extra-file")
	if !errors.IsCode(err, errors.CodeStructuralMismatch) {
		t.Fatalf("expected STRUCTURAL_MISMATCH, got %v", err)
	}
}

func TestVerifyDetectsPrematureRelease(t *testing.T) {
	host, cache, prog := builtScenario(t)

	cache.RemoveResolutionsOfFile("/proj/a.ts")

	err := VerifyResolutionCache(cache, prog, host, "premature-release")
	if !errors.IsCode(err, errors.CodeStructuralMismatch) {
		t.Fatalf("expected STRUCTURAL_MISMATCH, got %v", err)
	}
}

func TestVerifyDetectsStaleCacheKey(t *testing.T) {
	host, cache, prog := builtScenario(t)

	stale := &resolution.Entry{ResolvedFileName: "/proj/b.ts"}
	cache.SetModuleResolution("/proj/a.ts", "neverImported", resolution.ModeNone, stale)

	err := VerifyResolutionCache(cache, prog, host, "stale-key")
	if !errors.IsCode(err, errors.CodeStructuralMismatch) {
		t.Fatalf("expected STRUCTURAL_MISMATCH, got %v", err)
	}
}

func TestVerifyDetectsInvalidatedEntry(t *testing.T) {
	host, cache, prog := builtScenario(t)

	if n := cache.InvalidateResolutionsOfPath("/proj/node_modules/bar/index.ts"); n == 0 {
		t.Fatal("expected the invalidation to hit the bar resolution")
	}

	err := VerifyResolutionCache(cache, prog, host, "invalidated")
	if !errors.IsCode(err, errors.CodeStructuralMismatch) {
		t.Fatalf("expected STRUCTURAL_MISMATCH, got %v", err)
	}
}

func TestVerifyDetectsUntrackedFileWatch(t *testing.T) {
	host, cache, prog := builtScenario(t)

	cache.WatchAffectingLocationOfFile("/proj/a.ts", "/proj/bogus/package.json")

	err := VerifyResolutionCache(cache, prog, host, "bogus-watch")
	if !errors.IsCode(err, errors.CodeStructuralMismatch) {
		t.Fatalf("expected STRUCTURAL_MISMATCH, got %v", err)
	}
}

func TestVerifyDetectsExtraLib(t *testing.T) {
	host, cache, prog := builtScenario(t)

	extra := &resolution.Entry{ResolvedFileName: "/lib/lib.extra.d.ts"}
	cache.SetLibResolution("lib.phantom.d.ts", extra, false)

	err := VerifyResolutionCache(cache, prog, host, "extra-lib")
	if !errors.IsCode(err, errors.CodeStructuralMismatch) {
		t.Fatalf("expected STRUCTURAL_MISMATCH, got %v", err)
	}
}

// lyingProgram substitutes the module view of one file, simulating a program
// whose resolution objects drifted away from the cache's.
type lyingProgram struct {
	*program.Program
	file string
	view map[resolution.ModeKey]*resolution.Entry
}

func (lp *lyingProgram) ResolvedModulesForFile(f *program.File) map[resolution.ModeKey]*resolution.Entry {
	if f.Path == lp.file {
		return lp.view
	}
	return lp.Program.ResolvedModulesForFile(f)
}

func TestVerifyModuleIdentityRecheck(t *testing.T) {
	host, cache, prog := builtScenario(t)

	f := prog.FileByPath("/proj/a.ts")
	real := prog.ResolvedModulesForFile(f)
	forged := make(map[resolution.ModeKey]*resolution.Entry, len(real))
	for key, e := range real {
		forged[key] = e
	}
	barKey := resolution.ModeKey{Name: "bar"}
	orig := real[barKey]
	forged[barKey] = &resolution.Entry{
		ResolvedFileName:      orig.ResolvedFileName,
		FailedLookupLocations: append([]string(nil), orig.FailedLookupLocations...),
		AffectingLocations:    append([]string(nil), orig.AffectingLocations...),
	}
	liar := &lyingProgram{Program: prog, file: "/proj/a.ts", view: forged}

	err := VerifyResolutionCache(cache, liar, host, "identity")
	if !errors.IsCode(err, errors.CodeCrossDesync) {
		t.Fatalf("expected CROSS_DESYNC, got %v", err)
	}

	// With the module recheck skipped the verifier groups by the cached
	// object instead, so the same drift passes.
	if err := VerifyResolutionCache(cache, liar, host, "identity-skip", WithSkipModuleRecheck()); err != nil {
		t.Fatalf("skip-recheck verification failed: %v", err)
	}
}

func TestVerifyAfterTeardown(t *testing.T) {
	_, cache, prog := builtScenario(t)

	program.Release(cache, prog)

	if n := len(cache.CachedFiles()); n != 0 {
		t.Fatalf("cache still holds %d files after release", n)
	}
	if s := cache.Stats(); s != (resolution.Stats{}) {
		t.Fatalf("cache stats nonzero after release: %+v", s)
	}
}

func TestVerifyMutatedScenario(t *testing.T) {
	host := scenarioHost()
	cache := resolution.NewCache(host)
	prog := program.Build(host, cache, scenarioInput())
	if err := VerifyResolutionCache(cache, prog, host, "before-mutation"); err != nil {
		t.Fatalf("initial build failed verification: %v", err)
	}

	// The ghost import appears on disk: invalidate, rebuild, re-verify.
	host.FS.WriteFile("/proj/ghost.ts", "")
	if n := cache.InvalidateResolutionsOfPath("/proj/ghost.ts"); n == 0 {
		t.Fatal("new file at a failed lookup location should invalidate")
	}

	program.Release(cache, prog)
	prog = program.Build(host, cache, scenarioInput())
	if err := VerifyResolutionCache(cache, prog, host, "after-mutation"); err != nil {
		t.Fatalf("rebuilt scenario failed verification: %v", err)
	}

	f := prog.FileByPath("/proj/b.ts")
	ghost := prog.ResolvedModulesForFile(f)[resolution.ModeKey{Name: "./ghost"}]
	if ghost == nil || ghost.ResolvedFileName != "/proj/ghost.ts" {
		t.Errorf("ghost now resolves to %+v", ghost)
	}
}
