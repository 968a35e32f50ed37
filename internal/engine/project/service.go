package project

import (
	"cacheguard/internal/engine/program"
	"cacheguard/internal/engine/registry"
	"cacheguard/internal/engine/resolution"
)

// Service owns every live project and the document registry they share.
// Verifiers take it as an explicit read-only collaborator.
type Service struct {
	host     resolution.Host
	registry *registry.Registry
	projects []*Project
}

func NewService(host resolution.Host) *Service {
	return &Service{
		host:     host,
		registry: registry.NewRegistry(),
	}
}

func (s *Service) DocumentRegistry() *registry.Registry { return s.registry }

// Projects lists the top-level projects. Auxiliary sub-projects hang off
// their parents; callers walking the full tree recurse explicitly.
func (s *Service) Projects() []*Project {
	out := make([]*Project, len(s.projects))
	copy(out, s.projects)
	return out
}

// AddProject registers a configured project and returns it without building.
func (s *Service) AddProject(name string, input program.BuildInput) *Project {
	p := newProject(name, KindConfigured, s.host, s.registry, input)
	s.projects = append(s.projects, p)
	return p
}

// AttachAutoImportProvider gives a project an auxiliary auto-import
// sub-project with its own input and cache.
func (s *Service) AttachAutoImportProvider(parent *Project, input program.BuildInput) *Project {
	aux := newProject(parent.Name+"/autoImportProvider", KindAutoImportProvider, s.host, s.registry, input)
	parent.AutoImportProvider = aux
	return aux
}

// AttachNoDtsResolution gives a project an auxiliary no-d.ts-resolution
// sub-project.
func (s *Service) AttachNoDtsResolution(parent *Project, input program.BuildInput) *Project {
	aux := newProject(parent.Name+"/noDtsResolution", KindNoDtsResolution, s.host, s.registry, input)
	parent.NoDtsResolution = aux
	return aux
}

// CloseAll tears down every project; the registry must drain to empty if
// the ref-count bookkeeping is sound.
func (s *Service) CloseAll() {
	for _, p := range s.projects {
		p.Close()
	}
	s.projects = nil
}
