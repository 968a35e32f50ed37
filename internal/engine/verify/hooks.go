package verify

import (
	"cacheguard/internal/core/errors"
	"cacheguard/internal/core/ports"
	"cacheguard/internal/engine/project"
)

// ServiceHooks verifies a whole project service after each wrapped
// operation: every project's resolution cache (auxiliary sub-projects
// included) and the shared document registry. It implements
// ports.VerifyHooks.
type ServiceHooks struct {
	svc *project.Service
}

func NewServiceHooks(svc *project.Service) *ServiceHooks {
	return &ServiceHooks{svc: svc}
}

func (h *ServiceHooks) Before(string) {}

func (h *ServiceHooks) After(label string) error {
	var verifyProject func(p *project.Project) error
	verifyProject = func(p *project.Project) error {
		prog := p.CurrentProgram()
		if prog == nil {
			if files := p.ResolutionCache().CachedFiles(); len(files) != 0 {
				return errors.New(errors.CodeLeak, "project without program still caches resolutions").
					WithContext(errors.CtxLabel, label).
					WithContext("project", p.Name)
			}
		} else if err := VerifyResolutionCache(p.ResolutionCache(), prog, p.Host(), label+":"+p.Name); err != nil {
			return err
		}
		for _, aux := range []*project.Project{p.AutoImportProvider, p.NoDtsResolution} {
			if aux != nil {
				if err := verifyProject(aux); err != nil {
					return err
				}
			}
		}
		return nil
	}
	for _, p := range h.svc.Projects() {
		if err := verifyProject(p); err != nil {
			return err
		}
	}
	return VerifyDocumentRegistry(h.svc.DocumentRegistry(), CollectRegistryStats(h.svc))
}

// WithVerification runs op inside the scoped instrumentation pattern:
// capture before, run the operation, verify after, synchronously on the
// same call stack.
func WithVerification(hooks ports.VerifyHooks, label string, op func() error) error {
	if hooks == nil {
		return op()
	}
	hooks.Before(label)
	if err := op(); err != nil {
		return err
	}
	return hooks.After(label)
}
