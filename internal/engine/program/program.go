// Package program models the compiled program view: source files, their
// per-(name, mode) resolution results, automatic type directives, and
// resolved library references. The program keeps its own resolution view so
// the verifier can cross-check it against the cache's.
package program

import (
	"sort"

	"cacheguard/internal/engine/registry"
	"cacheguard/internal/engine/resolution"
)

// Ref is one declared module import or type-reference directive.
type Ref struct {
	Name string
	Mode resolution.Mode
}

// File is one program source file together with the references that drove
// resolution for it.
type File struct {
	Path     string
	Text     string
	Kind     registry.ScriptKind
	Imports  []Ref
	TypeRefs []Ref
}

type Program struct {
	files  []*File
	byPath map[string]*File

	// Resolution views keyed per file. Sentinel (EmptyEntry) values are kept
	// here even though the cache never materializes them.
	modules  map[string]map[resolution.ModeKey]*resolution.Entry
	typeRefs map[string]map[resolution.ModeKey]*resolution.Entry

	autoTypes map[string]*resolution.Entry
	libs      map[string]*resolution.Entry

	opts *Options
}

func newProgram(opts *Options) *Program {
	return &Program{
		byPath:    make(map[string]*File),
		modules:   make(map[string]map[resolution.ModeKey]*resolution.Entry),
		typeRefs:  make(map[string]map[resolution.ModeKey]*resolution.Entry),
		autoTypes: make(map[string]*resolution.Entry),
		libs:      make(map[string]*resolution.Entry),
		opts:      opts,
	}
}

// SourceFiles returns the program's files sorted by path.
func (p *Program) SourceFiles() []*File {
	out := make([]*File, len(p.files))
	copy(out, p.files)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (p *Program) FileByPath(path string) *File {
	return p.byPath[path]
}

func (p *Program) ResolvedModulesForFile(f *File) map[resolution.ModeKey]*resolution.Entry {
	return p.modules[f.Path]
}

func (p *Program) ResolvedTypeRefsForFile(f *File) map[resolution.ModeKey]*resolution.Entry {
	return p.typeRefs[f.Path]
}

func (p *Program) AutomaticTypeDirectives() map[string]*resolution.Entry {
	return p.autoTypes
}

func (p *Program) ResolvedLibReferences() map[string]*resolution.Entry {
	return p.libs
}

func (p *Program) CompilerOptions() *Options { return p.opts }

func (p *Program) addFile(f *File) {
	p.files = append(p.files, f)
	p.byPath[f.Path] = f
}

func (p *Program) recordModule(file string, key resolution.ModeKey, e *resolution.Entry) {
	m, ok := p.modules[file]
	if !ok {
		m = make(map[resolution.ModeKey]*resolution.Entry)
		p.modules[file] = m
	}
	m[key] = e
}

func (p *Program) recordTypeRef(file string, key resolution.ModeKey, e *resolution.Entry) {
	m, ok := p.typeRefs[file]
	if !ok {
		m = make(map[resolution.ModeKey]*resolution.Entry)
		p.typeRefs[file] = m
	}
	m[key] = e
}
