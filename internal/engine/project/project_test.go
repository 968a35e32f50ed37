package project

import (
	"testing"

	"cacheguard/internal/engine/hosts"
	"cacheguard/internal/engine/program"
	"cacheguard/internal/engine/registry"
	"cacheguard/internal/engine/resolution"
	"cacheguard/internal/shared/vfs"
)

func newTestService() *Service {
	fs := vfs.NewMemFS(true)
	fs.WriteFile("/proj/a.ts", "")
	fs.WriteFile("/proj/b.ts", "")
	fs.WriteFile("/proj/node_modules/bar/index.ts", "")
	fs.WriteFile("/lib/lib.d.ts", "")
	return NewService(hosts.NewMemHost(fs, "/proj"))
}

func inputFor(paths ...string) program.BuildInput {
	files := make([]program.FileSpec, 0, len(paths))
	for _, p := range paths {
		files = append(files, program.FileSpec{
			Path:    p,
			Kind:    registry.KindTS,
			Imports: []program.Ref{{Name: "bar"}},
		})
	}
	return program.BuildInput{
		Files:   files,
		Options: &program.Options{ModuleKind: "esnext", Target: "es2022"},
	}
}

func TestUpdateGraphAcquiresDocuments(t *testing.T) {
	svc := newTestService()
	p := svc.AddProject("main", inputFor("/proj/a.ts"))
	if p.CurrentProgram() != nil {
		t.Fatal("AddProject must not build")
	}

	prog := p.UpdateGraph()
	if prog == nil || p.CurrentProgram() != prog {
		t.Fatal("UpdateGraph should build and retain the program")
	}

	held := p.HeldDocuments()
	if len(held) != 1 || held[0].Path != "/proj/a.ts" {
		t.Fatalf("held documents = %+v", held)
	}
	view := svc.DocumentRegistry().View()[held[0].Bucket]["/proj/a.ts"]
	if view.Single == nil || view.Single.RefCount() != 1 {
		t.Errorf("registry entry = %+v", view)
	}
}

func TestProjectsShareRegistryEntries(t *testing.T) {
	svc := newTestService()
	p1 := svc.AddProject("one", inputFor("/proj/a.ts"))
	p2 := svc.AddProject("two", inputFor("/proj/a.ts"))
	p1.UpdateGraph()
	p2.UpdateGraph()

	bucket := p1.Settings.BucketKey()
	view := svc.DocumentRegistry().View()[bucket]["/proj/a.ts"]
	if view.Single == nil || view.Single.RefCount() != 2 {
		t.Errorf("two projects with equal settings should share one entry, got %+v", view)
	}

	p1.Close()
	view = svc.DocumentRegistry().View()[bucket]["/proj/a.ts"]
	if view.Single == nil || view.Single.RefCount() != 1 {
		t.Errorf("closing one project should leave refCount 1, got %+v", view)
	}
}

func TestSetInputReleasesOldBucket(t *testing.T) {
	svc := newTestService()
	p := svc.AddProject("main", inputFor("/proj/a.ts"))
	p.UpdateGraph()
	oldBucket := p.Settings.BucketKey()

	next := inputFor("/proj/a.ts")
	next.Options = &program.Options{ModuleKind: "commonjs", Target: "es2022"}
	p.SetInput(next)
	p.UpdateGraph()

	reg := svc.DocumentRegistry().View()
	if _, ok := reg[oldBucket]; ok {
		t.Error("document acquired under old settings should be released by its old bucket")
	}
	newView := reg[p.Settings.BucketKey()]["/proj/a.ts"]
	if newView.Single == nil || newView.Single.RefCount() != 1 {
		t.Errorf("new bucket entry = %+v", newView)
	}
}

func TestUpdateGraphReusesSharedResolutions(t *testing.T) {
	svc := newTestService()
	p := svc.AddProject("main", inputFor("/proj/a.ts", "/proj/b.ts"))
	p.UpdateGraph()

	cache := p.ResolutionCache()
	ea, _ := cache.GetModuleResolution("/proj/a.ts", "bar", resolution.ModeNone)
	if ea == nil || ea.RefCount() != 2 {
		t.Fatalf("expected shared entry with refCount 2, got %+v", ea)
	}

	// Rebuild from the same input: refCounts must come out identical.
	p.UpdateGraph()
	ea2, _ := cache.GetModuleResolution("/proj/a.ts", "bar", resolution.ModeNone)
	if ea2 == nil || ea2.RefCount() != 2 {
		t.Errorf("rebuild produced refCount %d, want 2", ea2.RefCount())
	}
}

func TestAuxiliaryProjectsFollowParent(t *testing.T) {
	svc := newTestService()
	p := svc.AddProject("main", inputFor("/proj/a.ts"))
	aux := svc.AttachAutoImportProvider(p, inputFor("/proj/b.ts"))

	p.UpdateGraph()
	if aux.CurrentProgram() == nil {
		t.Error("parent UpdateGraph should rebuild auxiliary projects")
	}
	if aux.Kind != KindAutoImportProvider {
		t.Errorf("aux kind = %v", aux.Kind)
	}

	p.Close()
	if len(svc.DocumentRegistry().BucketKeys()) != 0 {
		t.Error("closing the parent should drain auxiliary registry entries too")
	}
	if s := aux.ResolutionCache().Stats(); s != (resolution.Stats{}) {
		t.Errorf("aux cache not drained: %+v", s)
	}
}

func TestCloseAllDrainsEverything(t *testing.T) {
	svc := newTestService()
	p1 := svc.AddProject("one", inputFor("/proj/a.ts"))
	p2 := svc.AddProject("two", inputFor("/proj/b.ts"))
	p1.UpdateGraph()
	p2.UpdateGraph()

	svc.CloseAll()
	if len(svc.Projects()) != 0 {
		t.Error("CloseAll should forget every project")
	}
	if len(svc.DocumentRegistry().BucketKeys()) != 0 {
		t.Error("registry should be empty after CloseAll")
	}
	for _, p := range []*Project{p1, p2} {
		if s := p.ResolutionCache().Stats(); s != (resolution.Stats{}) {
			t.Errorf("cache of %s not drained: %+v", p.Name, s)
		}
	}
}
