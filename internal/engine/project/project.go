// Package project models the project-service layer: projects owning
// programs and resolution caches, auxiliary sub-projects, and the shared
// document registry every project acquires its files through.
package project

import (
	"log/slog"

	"cacheguard/internal/engine/program"
	"cacheguard/internal/engine/registry"
	"cacheguard/internal/engine/resolution"
)

// Kind tags a project's role. Auxiliary kinds are owned by a parent project
// and enumerated recursively by the verifiers.
type Kind uint8

const (
	KindConfigured Kind = iota
	KindInferred
	KindAutoImportProvider
	KindNoDtsResolution
)

func (k Kind) String() string {
	switch k {
	case KindInferred:
		return "inferred"
	case KindAutoImportProvider:
		return "autoImportProvider"
	case KindNoDtsResolution:
		return "noDtsResolution"
	default:
		return "configured"
	}
}

type Project struct {
	Name     string
	Kind     Kind
	Settings *program.Options

	// Auxiliary sub-projects; each holds its own program and cache but
	// shares the service's document registry.
	AutoImportProvider *Project
	NoDtsResolution    *Project

	host     resolution.Host
	registry *registry.Registry
	cache    *resolution.Cache
	input    program.BuildInput
	program  *program.Program

	// acquired tracks documents currently held in the registry so updates
	// release exactly what a prior build acquired.
	acquired []acquiredDoc
}

type acquiredDoc struct {
	bucket registry.BucketKey
	path   string
	kind   registry.ScriptKind
}

func newProject(name string, kind Kind, host resolution.Host, reg *registry.Registry, input program.BuildInput) *Project {
	return &Project{
		Name:     name,
		Kind:     kind,
		Settings: input.Options,
		host:     host,
		registry: reg,
		cache:    resolution.NewCache(host),
		input:    input,
	}
}

func (p *Project) CurrentProgram() *program.Program { return p.program }
func (p *Project) ResolutionCache() *resolution.Cache {
	return p.cache
}
func (p *Project) Host() resolution.Host { return p.host }

// ScriptFileNames lists the paths this project opens, in input order.
func (p *Project) ScriptFileNames() []string {
	out := make([]string, 0, len(p.input.Files))
	for _, f := range p.input.Files {
		out = append(out, f.Path)
	}
	return out
}

// HeldDoc is one document the project currently holds open in the shared
// registry.
type HeldDoc struct {
	Bucket registry.BucketKey
	Path   string
	Kind   registry.ScriptKind
}

// HeldDocuments lists the documents acquired by the project's current
// program build.
func (p *Project) HeldDocuments() []HeldDoc {
	out := make([]HeldDoc, 0, len(p.acquired))
	for _, doc := range p.acquired {
		out = append(out, HeldDoc{Bucket: doc.bucket, Path: doc.path, Kind: doc.kind})
	}
	return out
}

// UpdateGraph rebuilds the project's program from its current input:
// releases the prior program's resolutions and documents, then acquires and
// resolves everything afresh through the shared registry and the project's
// cache.
func (p *Project) UpdateGraph() *program.Program {
	p.releaseCurrent()

	key := p.Settings.BucketKey()
	for _, f := range p.input.Files {
		p.registry.AcquireDocument(key, f.Path, f.Kind, f.Text)
		p.acquired = append(p.acquired, acquiredDoc{bucket: key, path: f.Path, kind: f.Kind})
	}
	p.program = program.Build(p.host, p.cache, p.input)
	slog.Debug("project graph updated",
		"project", p.Name,
		"kind", p.Kind.String(),
		"files", len(p.input.Files))

	for _, aux := range []*Project{p.AutoImportProvider, p.NoDtsResolution} {
		if aux != nil {
			aux.UpdateGraph()
		}
	}
	return p.program
}

// SetInput replaces the project's build input; the next UpdateGraph builds
// from it.
func (p *Project) SetInput(input program.BuildInput) {
	p.input = input
	p.Settings = input.Options
}

func (p *Project) releaseCurrent() {
	for _, doc := range p.acquired {
		p.registry.ReleaseDocument(doc.bucket, doc.path, doc.kind)
	}
	p.acquired = nil
	program.Release(p.cache, p.program)
	p.program = nil
}

// Close tears the project down: documents released, cache drained,
// auxiliary projects closed recursively.
func (p *Project) Close() {
	for _, aux := range []*Project{p.AutoImportProvider, p.NoDtsResolution} {
		if aux != nil {
			aux.Close()
		}
	}
	p.releaseCurrent()
}
