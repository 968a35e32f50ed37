package verify

import (
	"fmt"
	"sort"
	"strings"

	"cacheguard/internal/core/errors"
	"cacheguard/internal/engine/project"
	"cacheguard/internal/engine/registry"
)

// ExpectedRegistryStats tallies, per (bucket, path, script kind), how many
// projects hold that document open.
type ExpectedRegistryStats map[registry.BucketKey]map[string]map[registry.ScriptKind]int

// CollectRegistryStats walks every project, recursing into auxiliary
// auto-import and no-d.ts-resolution sub-projects, and tallies the
// documents each one holds.
func CollectRegistryStats(svc *project.Service) ExpectedRegistryStats {
	stats := make(ExpectedRegistryStats)
	var walk func(p *project.Project)
	walk = func(p *project.Project) {
		for _, doc := range p.HeldDocuments() {
			bucket, ok := stats[doc.Bucket]
			if !ok {
				bucket = make(map[string]map[registry.ScriptKind]int)
				stats[doc.Bucket] = bucket
			}
			kinds, ok := bucket[doc.Path]
			if !ok {
				kinds = make(map[registry.ScriptKind]int)
				bucket[doc.Path] = kinds
			}
			kinds[doc.Kind]++
		}
		if p.AutoImportProvider != nil {
			walk(p.AutoImportProvider)
		}
		if p.NoDtsResolution != nil {
			walk(p.NoDtsResolution)
		}
	}
	for _, p := range svc.Projects() {
		walk(p)
	}
	return stats
}

// VerifyDocumentRegistry asserts that the registry's live bucket map agrees
// with the independently recomputed tally in both directions, at bucket,
// path, and script-kind level.
func VerifyDocumentRegistry(reg *registry.Registry, stats ExpectedRegistryStats) error {
	view := reg.View()

	for bucketKey, paths := range view {
		tallyPaths, ok := stats[bucketKey]
		if !ok {
			return registryFail(errors.CodeStructuralMismatch, "registry bucket not held by any project", reg, stats).
				WithContext("bucket", string(bucketKey))
		}
		for path, pv := range paths {
			tallyKinds, ok := tallyPaths[path]
			if !ok {
				return registryFail(errors.CodeStructuralMismatch, "registry path not held by any project", reg, stats).
					WithContext("bucket", string(bucketKey)).
					WithContext(errors.CtxPath, path)
			}
			if err := verifyRegistryPath(reg, stats, bucketKey, path, pv, tallyKinds); err != nil {
				return err
			}
		}
		for path := range tallyPaths {
			if _, ok := paths[path]; !ok {
				return registryFail(errors.CodeStructuralMismatch, "held document missing from registry", reg, stats).
					WithContext("bucket", string(bucketKey)).
					WithContext(errors.CtxPath, path)
			}
		}
	}
	for bucketKey := range stats {
		if _, ok := view[bucketKey]; !ok {
			return registryFail(errors.CodeStructuralMismatch, "held bucket missing from registry", reg, stats).
				WithContext("bucket", string(bucketKey))
		}
	}
	return nil
}

func verifyRegistryPath(reg *registry.Registry, stats ExpectedRegistryStats,
	bucketKey registry.BucketKey, path string, pv registry.PathView, tally map[registry.ScriptKind]int) error {

	if pv.Single != nil {
		// Shared single entry: the tally must show exactly one script kind
		// with a matching reference count.
		if len(tally) != 1 {
			return registryFail(errors.CodeStructuralMismatch, "single registry entry but multiple script kinds held", reg, stats).
				WithContext("bucket", string(bucketKey)).
				WithContext(errors.CtxPath, path).
				WithContext("kinds", len(tally))
		}
		count, ok := tally[pv.Single.Kind]
		if !ok {
			return registryFail(errors.CodeStructuralMismatch, "registry entry script kind not held by any project", reg, stats).
				WithContext("bucket", string(bucketKey)).
				WithContext(errors.CtxPath, path).
				WithContext("kind", pv.Single.Kind.String())
		}
		if count != pv.Single.RefCount() {
			return registryFail(errors.CodeRefCountMismatch, "registry entry refCount differs from held count", reg, stats).
				WithContext("bucket", string(bucketKey)).
				WithContext(errors.CtxPath, path).
				WithContext("actualRefCount", pv.Single.RefCount()).
				WithContext("expectedRefCount", count)
		}
		return nil
	}

	for kind, doc := range pv.PerKind {
		count, ok := tally[kind]
		if !ok {
			return registryFail(errors.CodeStructuralMismatch, "registry kind entry not held by any project", reg, stats).
				WithContext("bucket", string(bucketKey)).
				WithContext(errors.CtxPath, path).
				WithContext("kind", kind.String())
		}
		if count != doc.RefCount() {
			return registryFail(errors.CodeRefCountMismatch, "registry kind entry refCount differs from held count", reg, stats).
				WithContext("bucket", string(bucketKey)).
				WithContext(errors.CtxPath, path).
				WithContext("kind", kind.String()).
				WithContext("actualRefCount", doc.RefCount()).
				WithContext("expectedRefCount", count)
		}
	}
	for kind := range tally {
		if _, ok := pv.PerKind[kind]; !ok {
			return registryFail(errors.CodeStructuralMismatch, "held script kind missing from registry", reg, stats).
				WithContext("bucket", string(bucketKey)).
				WithContext(errors.CtxPath, path).
				WithContext("kind", kind.String())
		}
	}
	return nil
}

func registryFail(code errors.ErrorCode, msg string, reg *registry.Registry, stats ExpectedRegistryStats) *errors.DomainError {
	return errors.New(code, msg).WithDump(func() string {
		var b strings.Builder
		b.WriteString("registry:\n")
		for _, bucketKey := range reg.BucketKeys() {
			fmt.Fprintf(&b, "  bucket %s\n", bucketKey)
			paths := reg.View()[bucketKey]
			sortedPaths := make([]string, 0, len(paths))
			for p := range paths {
				sortedPaths = append(sortedPaths, p)
			}
			sort.Strings(sortedPaths)
			for _, p := range sortedPaths {
				pv := paths[p]
				if pv.Single != nil {
					fmt.Fprintf(&b, "    %s kind=%s refCount=%d\n", p, pv.Single.Kind, pv.Single.RefCount())
					continue
				}
				for kind, doc := range pv.PerKind {
					fmt.Fprintf(&b, "    %s kind=%s refCount=%d\n", p, kind, doc.RefCount())
				}
			}
		}
		b.WriteString("expected tally:\n")
		for bucketKey, paths := range stats {
			fmt.Fprintf(&b, "  bucket %s\n", bucketKey)
			for p, kinds := range paths {
				for kind, count := range kinds {
					fmt.Fprintf(&b, "    %s kind=%s count=%d\n", p, kind, count)
				}
			}
		}
		return b.String()
	})
}
