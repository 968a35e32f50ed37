// Package registry implements the shared document registry: one ref-counted
// document entry per (compilation-settings bucket, path, script kind),
// shared by every project that holds the file open.
package registry

import "sort"

// ScriptKind classifies how a document's text is interpreted.
type ScriptKind uint8

const (
	KindUnknown ScriptKind = iota
	KindJS
	KindJSX
	KindTS
	KindTSX
	KindJSON
	KindExternal
)

func (k ScriptKind) String() string {
	switch k {
	case KindJS:
		return "js"
	case KindJSX:
		return "jsx"
	case KindTS:
		return "ts"
	case KindTSX:
		return "tsx"
	case KindJSON:
		return "json"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// BucketKey identifies a compilation-settings bucket.
type BucketKey string

// DocumentEntry is one shared document. refCount counts the projects
// currently holding it open.
type DocumentEntry struct {
	SourceText string
	Kind       ScriptKind

	refCount int
}

func (d *DocumentEntry) RefCount() int { return d.refCount }

// pathEntry is either a single shared entry (the common case: one script
// kind per path) or, once a second kind is acquired for the same path, a
// per-kind map. Escalation is one-way; the map form stays until the path is
// fully released.
type pathEntry struct {
	single  *DocumentEntry
	perKind map[ScriptKind]*DocumentEntry
}

type Registry struct {
	buckets map[BucketKey]map[string]*pathEntry
}

func NewRegistry() *Registry {
	return &Registry{buckets: make(map[BucketKey]map[string]*pathEntry)}
}

// AcquireDocument increments the reference count of (key, path, kind),
// creating the entry on first acquisition.
func (r *Registry) AcquireDocument(key BucketKey, path string, kind ScriptKind, text string) *DocumentEntry {
	bucket, ok := r.buckets[key]
	if !ok {
		bucket = make(map[string]*pathEntry)
		r.buckets[key] = bucket
	}
	pe, ok := bucket[path]
	if !ok {
		doc := &DocumentEntry{SourceText: text, Kind: kind, refCount: 1}
		bucket[path] = &pathEntry{single: doc}
		return doc
	}

	if pe.single != nil {
		if pe.single.Kind == kind {
			pe.single.refCount++
			pe.single.SourceText = text
			return pe.single
		}
		// Second script kind for the same path: escalate to a per-kind map.
		pe.perKind = map[ScriptKind]*DocumentEntry{pe.single.Kind: pe.single}
		pe.single = nil
	}
	doc, ok := pe.perKind[kind]
	if !ok {
		doc = &DocumentEntry{SourceText: text, Kind: kind}
		pe.perKind[kind] = doc
	}
	doc.refCount++
	doc.SourceText = text
	return doc
}

// ReleaseDocument decrements the reference count of (key, path, kind),
// pruning the entry, path, and bucket as they drain.
func (r *Registry) ReleaseDocument(key BucketKey, path string, kind ScriptKind) {
	bucket, ok := r.buckets[key]
	if !ok {
		return
	}
	pe, ok := bucket[path]
	if !ok {
		return
	}
	switch {
	case pe.single != nil:
		if pe.single.Kind != kind {
			return
		}
		pe.single.refCount--
		if pe.single.refCount <= 0 {
			delete(bucket, path)
		}
	case pe.perKind != nil:
		doc, ok := pe.perKind[kind]
		if !ok {
			return
		}
		doc.refCount--
		if doc.refCount <= 0 {
			delete(pe.perKind, kind)
		}
		if len(pe.perKind) == 0 {
			delete(bucket, path)
		}
	}
	if len(bucket) == 0 {
		delete(r.buckets, key)
	}
}

// PathView exposes one path's registry state to the verifier. Exactly one of
// Single and PerKind is set.
type PathView struct {
	Single  *DocumentEntry
	PerKind map[ScriptKind]*DocumentEntry
}

// View returns the live bucket map as read-only views. Callers must not
// mutate the returned entries.
func (r *Registry) View() map[BucketKey]map[string]PathView {
	out := make(map[BucketKey]map[string]PathView, len(r.buckets))
	for key, bucket := range r.buckets {
		paths := make(map[string]PathView, len(bucket))
		for p, pe := range bucket {
			paths[p] = PathView{Single: pe.single, PerKind: pe.perKind}
		}
		out[key] = paths
	}
	return out
}

// BucketKeys lists the live bucket keys, sorted.
func (r *Registry) BucketKeys() []BucketKey {
	keys := make([]BucketKey, 0, len(r.buckets))
	for k := range r.buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
