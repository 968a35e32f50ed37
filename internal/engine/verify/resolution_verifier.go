// Package verify contains the consistency checkers for the resolution
// cache, the document registry, and program structure. Each verifier
// rebuilds an independent "expected" view from scratch and asserts
// structural and reference-count equivalence against the live state; any
// mismatch is a fatal DomainError with the failure taxonomy code and a
// lazily-rendered diagnostic dump.
package verify

import (
	"sort"

	"cacheguard/internal/core/errors"
	"cacheguard/internal/core/ports"
	"cacheguard/internal/engine/resolution"
)

// Option adjusts a resolution cache verification.
type Option func(*resolutionVerifier)

// WithSkipModuleRecheck disables the program/cache identity recheck for
// module resolutions (type references are always rechecked). Used after
// operations that legitimately leave the program's module view ahead of the
// cache.
func WithSkipModuleRecheck() Option {
	return func(v *resolutionVerifier) { v.skipModuleRecheck = true }
}

// expectedResolution is the structurally-equal shadow of one live entry,
// built independently and linked to it through the verifier's
// cross-reference maps. refs records every (file, name, mode) site that
// referenced the live entry.
type expectedResolution struct {
	entry *resolution.Entry
	refs  []refSite
}

type refSite struct {
	file string
	key  resolution.ModeKey
	kind resolution.CacheKind
}

type resolutionVerifier struct {
	actual *resolution.Cache
	prog   ports.Program
	host   resolution.Host
	label  string

	skipModuleRecheck bool

	shadow         *resolution.Cache
	realToExpected map[*resolution.Entry]*expectedResolution
	expectedToReal map[*resolution.Entry]*resolution.Entry

	// seenSites dedupes (file, key, kind) reference sites: the live cache
	// holds one reference per site, so a site reported twice by the program
	// must count once.
	seenSites map[refSite]struct{}
}

// VerifyResolutionCache rebuilds an independent resolution cache from the
// program + host, replays the population protocol the live cache used, and
// asserts equivalence of every structural slice; it then drives the shadow
// down to empty to prove the bookkeeping has no leaks. The live cache is
// never mutated.
func VerifyResolutionCache(actual *resolution.Cache, prog ports.Program, host resolution.Host, label string, opts ...Option) error {
	v := &resolutionVerifier{
		actual:         actual,
		prog:           prog,
		host:           host,
		label:          label,
		shadow:         resolution.NewCache(resolution.WithNoopWatches(host)),
		realToExpected: make(map[*resolution.Entry]*expectedResolution),
		expectedToReal: make(map[*resolution.Entry]*resolution.Entry),
		seenSites:      make(map[refSite]struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v.run()
}

func (v *resolutionVerifier) run() error {
	v.shadow.StartResolutionPass()

	programFiles := make(map[string]struct{})
	for _, f := range v.prog.SourceFiles() {
		canon := resolution.CanonicalPath(v.host, f.Path)
		programFiles[canon] = struct{}{}

		if err := v.replayFileCache(canon, v.prog.ResolvedModulesForFile(f),
			v.actual.ModuleCacheForFile(f.Path), resolution.KindModule); err != nil {
			return err
		}
		if err := v.replayFileCache(canon, v.prog.ResolvedTypeRefsForFile(f),
			v.actual.TypeRefCacheForFile(f.Path), resolution.KindTypeRef); err != nil {
			return err
		}
		if manifest, ok := resolution.AffectingManifestOf(v.host, f.Path); ok {
			v.shadow.WatchAffectingLocationOfFile(canon, manifest)
		}
	}

	// The cache must not know files the program does not.
	for _, cached := range v.actual.CachedFiles() {
		if _, ok := programFiles[cached]; !ok {
			return v.fail(errors.CodeStructuralMismatch, "cache holds resolutions for a file not in the program").
				WithContext(errors.CtxFile, cached)
		}
	}

	if err := v.replayLibs(); err != nil {
		return err
	}
	v.shadow.FinishResolutionPass()

	if err := v.checkEntries(); err != nil {
		return err
	}
	if err := v.checkAggregates(); err != nil {
		return err
	}
	if err := v.checkDirectoryWatches(); err != nil {
		return err
	}
	if err := v.checkFileWatches(); err != nil {
		return err
	}
	return v.teardown(programFiles)
}

// replayFileCache walks one per-file resolution view of the program, checks
// it against the live cache, and replays every reference into the shadow.
func (v *resolutionVerifier) replayFileCache(file string, progView map[resolution.ModeKey]*resolution.Entry,
	liveCache *resolution.ModeAwareCache[*resolution.Entry], kind resolution.CacheKind) error {

	keys := make([]resolution.ModeKey, 0, len(progView))
	for key := range progView {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	for _, key := range keys {
		progEntry := progView[key]

		var liveEntry *resolution.Entry
		var inCache bool
		if liveCache != nil {
			liveEntry, inCache = liveCache.Get(key.Name, key.Mode)
		}

		// Ambient/unresolvable sentinel: intentionally not cached; it must
		// never be materialized or watched.
		if progEntry == resolution.EmptyEntry {
			if inCache {
				return v.fail(errors.CodeStructuralMismatch, "sentinel resolution materialized in cache").
					WithContext(errors.CtxCache, kind.String()).
					WithContext(errors.CtxFile, file).
					WithContext(errors.CtxName, key.Name).
					WithContext(errors.CtxMode, key.Mode.String())
			}
			continue
		}

		if !inCache {
			return v.fail(errors.CodeStructuralMismatch, "program resolution missing from cache").
				WithContext(errors.CtxCache, kind.String()).
				WithContext(errors.CtxFile, file).
				WithContext(errors.CtxName, key.Name).
				WithContext(errors.CtxMode, key.Mode.String())
		}
		recheck := kind != resolution.KindModule || !v.skipModuleRecheck
		if recheck && liveEntry != progEntry {
			return v.fail(errors.CodeCrossDesync, "cache resolution differs from program resolution").
				WithContext(errors.CtxCache, kind.String()).
				WithContext(errors.CtxFile, file).
				WithContext(errors.CtxName, key.Name).
				WithContext(errors.CtxMode, key.Mode.String())
		}

		site := refSite{file: file, key: key, kind: kind}
		if _, dup := v.seenSites[site]; dup {
			continue
		}
		v.seenSites[site] = struct{}{}

		exp := v.expectedFor(liveEntry)
		exp.refs = append(exp.refs, site)
		switch kind {
		case resolution.KindModule:
			v.shadow.SetModuleResolution(file, key.Name, key.Mode, exp.entry)
		default:
			v.shadow.SetTypeRefResolution(file, key.Name, key.Mode, exp.entry)
		}
	}

	// Reverse direction: a cached key the program never reported is stale.
	var staleErr *errors.DomainError
	if liveCache != nil {
		liveCache.Range(func(key resolution.ModeKey, _ *resolution.Entry) bool {
			if _, ok := progView[key]; !ok {
				staleErr = v.fail(errors.CodeStructuralMismatch, "cache resolution unknown to program").
					WithContext(errors.CtxCache, kind.String()).
					WithContext(errors.CtxFile, file).
					WithContext(errors.CtxName, key.Name).
					WithContext(errors.CtxMode, key.Mode.String())
				return false
			}
			return true
		})
	}
	if staleErr != nil {
		return staleErr
	}
	return nil
}

func (v *resolutionVerifier) replayLibs() error {
	progLibs := v.prog.ResolvedLibReferences()
	names := make([]string, 0, len(progLibs))
	for name := range progLibs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		progEntry := progLibs[name]
		live, ok := v.actual.GetLibResolution(name)
		if !ok {
			return v.fail(errors.CodeStructuralMismatch, "program lib reference missing from cache").
				WithContext(errors.CtxCache, resolution.KindLib.String()).
				WithContext(errors.CtxName, name)
		}
		if live.Entry != progEntry {
			return v.fail(errors.CodeCrossDesync, "cache lib resolution differs from program").
				WithContext(errors.CtxCache, resolution.KindLib.String()).
				WithContext(errors.CtxName, name)
		}
		exp := v.expectedFor(live.Entry)
		refFile := resolution.CanonicalPath(v.host, resolution.DefaultLibFilePath(v.host, name))
		exp.refs = append(exp.refs, refSite{file: refFile, key: resolution.ModeKey{Name: name}, kind: resolution.KindLib})
		v.shadow.SetLibResolution(name, exp.entry, live.Actual)
	}

	for name := range v.actual.Libs() {
		if _, ok := progLibs[name]; !ok {
			return v.fail(errors.CodeStructuralMismatch, "cache lib resolution unknown to program").
				WithContext(errors.CtxCache, resolution.KindLib.String()).
				WithContext(errors.CtxName, name)
		}
	}
	return nil
}

// expectedFor returns the shared shadow of a live entry, creating it on
// first sight. Grouping is identity-based: lookups backed by the same live
// object share one ExpectedResolution, so multiplicity flows into the shadow
// ref counts.
func (v *resolutionVerifier) expectedFor(live *resolution.Entry) *expectedResolution {
	if exp, ok := v.realToExpected[live]; ok {
		return exp
	}
	shadowEntry := &resolution.Entry{
		ResolvedFileName:      live.ResolvedFileName,
		FailedLookupLocations: append([]string(nil), live.FailedLookupLocations...),
		AffectingLocations:    append([]string(nil), live.AffectingLocations...),
		Node10Compat:          live.Node10Compat,
	}
	exp := &expectedResolution{entry: shadowEntry}
	v.realToExpected[live] = exp
	v.expectedToReal[shadowEntry] = live
	return exp
}

// checkEntries asserts per-entry invariants: ref count equals the number of
// reference sites, no invalidated entry is live, and the referencing file
// sets of live and shadow agree exactly.
func (v *resolutionVerifier) checkEntries() error {
	for live, exp := range v.realToExpected {
		if live.IsInvalidated {
			return v.fail(errors.CodeStructuralMismatch, "live resolution is marked invalidated").
				WithContext(errors.CtxPath, targetOf(live))
		}
		if live.RefCount() != len(exp.refs) {
			return v.fail(errors.CodeRefCountMismatch, "resolution refCount differs from reference-site count").
				WithContext(errors.CtxPath, targetOf(live)).
				WithContext("actualRefCount", live.RefCount()).
				WithContext("expectedRefCount", len(exp.refs))
		}
		if live.RefCount() != exp.entry.RefCount() {
			return v.fail(errors.CodeRefCountMismatch, "resolution refCount differs between live and shadow").
				WithContext(errors.CtxPath, targetOf(live)).
				WithContext("actualRefCount", live.RefCount()).
				WithContext("expectedRefCount", exp.entry.RefCount())
		}
		if err := v.compareFileSets(live, exp.entry); err != nil {
			return err
		}
	}
	return nil
}

func (v *resolutionVerifier) compareFileSets(live, shadow *resolution.Entry) error {
	for _, f := range shadow.FileList() {
		if !live.HasFile(f) {
			return v.fail(errors.CodeStructuralMismatch, "live resolution missing referencing file").
				WithContext(errors.CtxPath, targetOf(live)).
				WithContext(errors.CtxFile, f)
		}
	}
	for _, f := range live.FileList() {
		if !shadow.HasFile(f) {
			return v.fail(errors.CodeStructuralMismatch, "live resolution has unexpected referencing file").
				WithContext(errors.CtxPath, targetOf(live)).
				WithContext(errors.CtxFile, f)
		}
	}
	return nil
}

// checkAggregates compares the reverse index and the failed-lookup /
// affecting-only sets through the cross-reference maps, both directions.
func (v *resolutionVerifier) checkAggregates() error {
	actualResolved := v.actual.ResolvedTo()
	shadowResolved := v.shadow.ResolvedTo()
	for target, liveSet := range actualResolved {
		shadowSet, ok := shadowResolved[target]
		if !ok {
			return v.fail(errors.CodeStructuralMismatch, "resolvedTo target missing from expected cache").
				WithContext(errors.CtxPath, target)
		}
		if len(liveSet) != len(shadowSet) {
			return v.fail(errors.CodeStructuralMismatch, "resolvedTo set size mismatch").
				WithContext(errors.CtxPath, target).
				WithContext("actual", len(liveSet)).
				WithContext("expected", len(shadowSet))
		}
		for live := range liveSet {
			exp, ok := v.realToExpected[live]
			if !ok {
				return v.fail(errors.CodeIdentityMismatch, "resolvedTo holds a resolution never reached from the program").
					WithContext(errors.CtxPath, target)
			}
			if _, ok := shadowSet[exp.entry]; !ok {
				return v.fail(errors.CodeStructuralMismatch, "resolvedTo membership differs").
					WithContext(errors.CtxPath, target)
			}
		}
	}
	for target := range shadowResolved {
		if _, ok := actualResolved[target]; !ok {
			return v.fail(errors.CodeStructuralMismatch, "expected resolvedTo target missing from live cache").
				WithContext(errors.CtxPath, target)
		}
	}

	if err := v.compareEntrySets("withFailedLookups", v.actual.WithFailedLookups(), v.shadow.WithFailedLookups()); err != nil {
		return err
	}
	return v.compareEntrySets("onlyAffecting", v.actual.OnlyAffecting(), v.shadow.OnlyAffecting())
}

func (v *resolutionVerifier) compareEntrySets(name string, liveSet, shadowSet map[*resolution.Entry]struct{}) error {
	if len(liveSet) != len(shadowSet) {
		return v.fail(errors.CodeStructuralMismatch, name+" set size mismatch").
			WithContext("actual", len(liveSet)).
			WithContext("expected", len(shadowSet))
	}
	for live := range liveSet {
		exp, ok := v.realToExpected[live]
		if !ok {
			return v.fail(errors.CodeIdentityMismatch, name+" holds a resolution never reached from the program")
		}
		if _, ok := shadowSet[exp.entry]; !ok {
			return v.fail(errors.CodeStructuralMismatch, name+" membership differs").
				WithContext(errors.CtxPath, targetOf(live))
		}
	}
	return nil
}

func (v *resolutionVerifier) checkDirectoryWatches() error {
	actual := v.actual.DirectoryWatches()
	shadow := v.shadow.DirectoryWatches()
	for dir, liveWatch := range actual {
		shadowWatch, ok := shadow[dir]
		if !ok {
			return v.fail(errors.CodeStructuralMismatch, "directory watch missing from expected cache").
				WithContext(errors.CtxPath, dir)
		}
		if liveWatch.RefCount != shadowWatch.RefCount {
			return v.fail(errors.CodeRefCountMismatch, "directory watch refCount mismatch").
				WithContext(errors.CtxPath, dir).
				WithContext("actualRefCount", liveWatch.RefCount).
				WithContext("expectedRefCount", shadowWatch.RefCount)
		}
		if liveWatch.Recursive != shadowWatch.Recursive {
			return v.fail(errors.CodeStructuralMismatch, "directory watch recursive flag mismatch").
				WithContext(errors.CtxPath, dir)
		}
	}
	for dir := range shadow {
		if _, ok := actual[dir]; !ok {
			return v.fail(errors.CodeStructuralMismatch, "expected directory watch missing from live cache").
				WithContext(errors.CtxPath, dir)
		}
	}
	return nil
}

func (v *resolutionVerifier) checkFileWatches() error {
	actual := v.actual.FileWatches()
	shadow := v.shadow.FileWatches()
	for path, liveWatch := range actual {
		shadowWatch, ok := shadow[path]
		if !ok {
			return v.fail(errors.CodeStructuralMismatch, "file watch missing from expected cache").
				WithContext(errors.CtxPath, path)
		}
		if len(liveWatch.Resolutions) != len(shadowWatch.Resolutions) {
			return v.fail(errors.CodeRefCountMismatch, "file watch resolution count mismatch").
				WithContext(errors.CtxPath, path).
				WithContext("actual", len(liveWatch.Resolutions)).
				WithContext("expected", len(shadowWatch.Resolutions))
		}
		for live := range liveWatch.Resolutions {
			exp, ok := v.realToExpected[live]
			if !ok {
				return v.fail(errors.CodeIdentityMismatch, "file watch holds a resolution never reached from the program").
					WithContext(errors.CtxPath, path)
			}
			if _, ok := shadowWatch.Resolutions[exp.entry]; !ok {
				return v.fail(errors.CodeStructuralMismatch, "file watch resolution membership differs").
					WithContext(errors.CtxPath, path)
			}
		}
		if err := v.compareStringSets("file watch file set", path, liveWatch.Files, shadowWatch.Files); err != nil {
			return err
		}
		if err := v.compareStringSets("file watch symlink set", path, liveWatch.Symlinks, shadowWatch.Symlinks); err != nil {
			return err
		}
	}
	for path := range shadow {
		if _, ok := actual[path]; !ok {
			return v.fail(errors.CodeStructuralMismatch, "expected file watch missing from live cache").
				WithContext(errors.CtxPath, path)
		}
	}
	return nil
}

func (v *resolutionVerifier) compareStringSets(what, path string, live, shadow map[string]struct{}) error {
	if len(live) != len(shadow) {
		return v.fail(errors.CodeStructuralMismatch, what+" size mismatch").
			WithContext(errors.CtxPath, path).
			WithContext("actual", sortedSet(live)).
			WithContext("expected", sortedSet(shadow))
	}
	for s := range live {
		if _, ok := shadow[s]; !ok {
			return v.fail(errors.CodeStructuralMismatch, what+" membership differs").
				WithContext(errors.CtxPath, path).
				WithContext("actual", sortedSet(live)).
				WithContext("expected", sortedSet(shadow))
		}
	}
	return nil
}

// teardown drains the shadow completely and asserts every aggregate is
// empty: anything the population protocol incremented must be decrementable
// back to zero.
func (v *resolutionVerifier) teardown(programFiles map[string]struct{}) error {
	files := make([]string, 0, len(programFiles))
	for f := range programFiles {
		files = append(files, f)
	}
	sort.Strings(files)
	for _, f := range files {
		v.shadow.RemoveResolutionsOfFile(f)
	}
	v.shadow.RemoveLibResolutions()

	if n := len(v.shadow.CachedFiles()); n != 0 {
		return v.fail(errors.CodeLeak, "per-file caches not empty after teardown").
			WithContext("files", n)
	}
	if n := len(v.shadow.ResolvedTo()); n != 0 {
		return v.fail(errors.CodeLeak, "resolvedTo index not empty after teardown").
			WithContext("targets", n)
	}
	if n := len(v.shadow.WithFailedLookups()); n != 0 {
		return v.fail(errors.CodeLeak, "withFailedLookups set not empty after teardown").
			WithContext("resolutions", n)
	}
	if n := len(v.shadow.OnlyAffecting()); n != 0 {
		return v.fail(errors.CodeLeak, "onlyAffecting set not empty after teardown").
			WithContext("resolutions", n)
	}
	if n := len(v.shadow.DirectoryWatches()); n != 0 {
		return v.fail(errors.CodeLeak, "directory watches not empty after teardown").
			WithContext("watches", n)
	}
	if n := len(v.shadow.FileWatches()); n != 0 {
		return v.fail(errors.CodeLeak, "file watches not empty after teardown").
			WithContext("watches", n)
	}
	for shadowEntry, live := range v.expectedToReal {
		if shadowEntry.RefCount() != 0 {
			return v.fail(errors.CodeLeak, "resolution refCount nonzero after teardown").
				WithContext(errors.CtxPath, targetOf(live)).
				WithContext("refCount", shadowEntry.RefCount())
		}
	}
	return nil
}

func (v *resolutionVerifier) fail(code errors.ErrorCode, msg string) *errors.DomainError {
	return errors.New(code, msg).
		WithContext(errors.CtxLabel, v.label).
		WithDump(dumpCaches(v.actual, v.shadow))
}
