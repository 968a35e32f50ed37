package resolution

import "sort"

// Entry is the outcome of one module/type-reference lookup, including the
// failure-path bookkeeping that drives watch setup and invalidation.
// The lookup fields are fixed at creation; only the reference-counting state
// mutates afterwards.
type Entry struct {
	// ResolvedFileName is empty when the lookup found nothing.
	ResolvedFileName string
	// FailedLookupLocations lists, in probe order, every path tried and
	// missed. A file appearing at one of these later invalidates the entry.
	FailedLookupLocations []string
	// AffectingLocations are paths whose content influences validity of the
	// resolution without being lookup targets (package manifests).
	AffectingLocations []string
	// Node10Compat marks results that only hold under node10-style lookup.
	Node10Compat bool

	IsInvalidated bool

	refCount int
	files    map[string]struct{}
}

// EmptyEntry is the sentinel for ambient/unresolvable names that are
// intentionally not cached. It must never be stored in a per-file cache nor
// registered with any watch.
var EmptyEntry = &Entry{}

func (e *Entry) IsResolved() bool {
	return e.ResolvedFileName != ""
}

func (e *Entry) RefCount() int {
	return e.refCount
}

func (e *Entry) HasFile(file string) bool {
	_, ok := e.files[file]
	return ok
}

func (e *Entry) FileCount() int {
	return len(e.files)
}

func (e *Entry) FileList() []string {
	out := make([]string, 0, len(e.files))
	for f := range e.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// LibEntry records a standard-library reference resolution keyed by lib file
// name. Actual reports whether the lib file was really found on disk.
type LibEntry struct {
	Entry  *Entry
	Actual bool
}
