package program

import (
	"path"

	"cacheguard/internal/engine/registry"
	"cacheguard/internal/engine/resolution"
	"cacheguard/internal/engine/resolver"
)

// FileSpec declares one source file of a build input.
type FileSpec struct {
	Path     string
	Text     string
	Kind     registry.ScriptKind
	Imports  []Ref
	TypeRefs []Ref
}

// BuildInput is everything a program build needs besides the host.
type BuildInput struct {
	Files []FileSpec
	// AmbientNames are bare names satisfied by global declarations; their
	// resolutions are the sentinel and must never reach the cache.
	AmbientNames []string
	// AutoTypeDirectives are resolved into the program only, never cached.
	AutoTypeDirectives []string
	// Libs are additional lib file names beyond the host default.
	Libs    []string
	Options *Options
}

// Build resolves every reference of the input and populates both the
// program's resolution view and the live cache through the cache's
// per-directory resolution pass, exactly as an incremental host would.
func Build(host resolution.Host, cache *resolution.Cache, in BuildInput) *Program {
	p := newProgram(in.Options)

	ambient := make(map[string]struct{}, len(in.AmbientNames))
	for _, name := range in.AmbientNames {
		ambient[name] = struct{}{}
	}

	cache.StartResolutionPass()
	defer cache.FinishResolutionPass()

	for i := range in.Files {
		spec := in.Files[i]
		// A path listed twice contributes one source file; replaying its
		// references again would not change the cache but would skew any
		// per-site tally a caller derives from the program.
		if p.byPath[path.Clean(spec.Path)] != nil {
			continue
		}
		f := &File{
			Path:     path.Clean(spec.Path),
			Text:     spec.Text,
			Kind:     spec.Kind,
			Imports:  append([]Ref(nil), spec.Imports...),
			TypeRefs: append([]Ref(nil), spec.TypeRefs...),
		}
		p.addFile(f)
		dir := path.Dir(f.Path)

		for _, ref := range f.Imports {
			key := resolution.ModeKey{Name: ref.Name, Mode: ref.Mode}
			if _, isAmbient := ambient[ref.Name]; isAmbient {
				p.recordModule(f.Path, key, resolution.EmptyEntry)
				continue
			}
			e, ok := cache.PerDirLookup(dir, key)
			if !ok {
				e = resolver.LookupModule(host, f.Path, ref.Name, ref.Mode)
				cache.PerDirStore(dir, key, e)
			}
			cache.SetModuleResolution(f.Path, ref.Name, ref.Mode, e)
			p.recordModule(f.Path, key, e)
		}

		for _, ref := range f.TypeRefs {
			key := resolution.ModeKey{Name: ref.Name, Mode: ref.Mode}
			e, ok := cache.PerDirLookup(dir, typeRefPerDirKey(key))
			if !ok {
				e = resolver.LookupTypeRef(host, f.Path, ref.Name, ref.Mode)
				cache.PerDirStore(dir, typeRefPerDirKey(key), e)
			}
			cache.SetTypeRefResolution(f.Path, ref.Name, ref.Mode, e)
			p.recordTypeRef(f.Path, key, e)
		}

		if manifest, ok := resolution.AffectingManifestOf(host, f.Path); ok {
			cache.WatchAffectingLocationOfFile(f.Path, manifest)
		}
	}

	for _, name := range in.AutoTypeDirectives {
		pseudo := path.Join(host.GetCurrentDirectory(), "__inferred__.ts")
		p.autoTypes[name] = resolver.LookupTypeRef(host, pseudo, name, resolution.ModeNone)
	}

	libNames := append([]string{host.DefaultLibFileName()}, in.Libs...)
	seen := make(map[string]struct{}, len(libNames))
	for _, libName := range libNames {
		if _, dup := seen[libName]; dup {
			continue
		}
		seen[libName] = struct{}{}
		e, actual := resolver.LookupLib(host, libName)
		cache.SetLibResolution(libName, e, actual)
		p.libs[libName] = e
	}

	return p
}

// Release removes every resolution the program holds in the cache,
// including lib references. Safe to call more than once.
func Release(cache *resolution.Cache, p *Program) {
	if p == nil {
		return
	}
	for _, f := range p.SourceFiles() {
		cache.RemoveResolutionsOfFile(f.Path)
	}
	cache.RemoveLibResolutions()
}

// typeRefPerDirKey keeps module and type-reference lookups from colliding in
// the shared per-directory session map.
func typeRefPerDirKey(key resolution.ModeKey) resolution.ModeKey {
	return resolution.ModeKey{Name: "@typeref:" + key.Name, Mode: key.Mode}
}
