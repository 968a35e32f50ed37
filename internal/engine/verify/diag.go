package verify

import (
	"fmt"
	"sort"
	"strings"

	"cacheguard/internal/engine/resolution"
)

// Diagnostic dumps are only built inside failure paths; every caller wraps
// them in a deferred thunk so the success path stays allocation-free.

func dumpCaches(actual, shadow *resolution.Cache) func() string {
	return func() string {
		var b strings.Builder
		b.WriteString("actual cache:\n")
		dumpCacheInto(&b, actual)
		b.WriteString("expected cache:\n")
		dumpCacheInto(&b, shadow)
		return b.String()
	}
}

func dumpCacheInto(b *strings.Builder, c *resolution.Cache) {
	if c == nil {
		b.WriteString("  <nil>\n")
		return
	}
	for _, file := range c.CachedFiles() {
		fmt.Fprintf(b, "  file %s\n", file)
		dumpModeCacheInto(b, "modules", c.ModuleCacheForFile(file))
		dumpModeCacheInto(b, "typeRefs", c.TypeRefCacheForFile(file))
	}

	libNames := make([]string, 0, len(c.Libs()))
	for name := range c.Libs() {
		libNames = append(libNames, name)
	}
	sort.Strings(libNames)
	for _, name := range libNames {
		le := c.Libs()[name]
		fmt.Fprintf(b, "  lib %s -> %s actual=%t refCount=%d\n",
			name, targetOf(le.Entry), le.Actual, le.Entry.RefCount())
	}

	targets := make([]string, 0, len(c.ResolvedTo()))
	for t := range c.ResolvedTo() {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, t := range targets {
		fmt.Fprintf(b, "  resolvedTo %s: %d resolutions\n", t, len(c.ResolvedTo()[t]))
	}
	fmt.Fprintf(b, "  withFailedLookups=%d onlyAffecting=%d\n",
		len(c.WithFailedLookups()), len(c.OnlyAffecting()))

	dirs := make([]string, 0, len(c.DirectoryWatches()))
	for d := range c.DirectoryWatches() {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	for _, d := range dirs {
		w := c.DirectoryWatches()[d]
		fmt.Fprintf(b, "  dirWatch %s refCount=%d recursive=%t\n", d, w.RefCount, w.Recursive)
	}

	files := make([]string, 0, len(c.FileWatches()))
	for f := range c.FileWatches() {
		files = append(files, f)
	}
	sort.Strings(files)
	for _, f := range files {
		w := c.FileWatches()[f]
		fmt.Fprintf(b, "  fileWatch %s resolutions=%d files=%s symlinks=%s\n",
			f, len(w.Resolutions), sortedSet(w.Files), sortedSet(w.Symlinks))
	}
}

func dumpModeCacheInto(b *strings.Builder, kind string, mc *resolution.ModeAwareCache[*resolution.Entry]) {
	if mc == nil {
		return
	}
	type row struct {
		key   string
		entry *resolution.Entry
	}
	rows := make([]row, 0, mc.Len())
	mc.Range(func(key resolution.ModeKey, e *resolution.Entry) bool {
		rows = append(rows, row{key: key.String(), entry: e})
		return true
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].key < rows[j].key })
	for _, r := range rows {
		fmt.Fprintf(b, "    %s %s -> %s refCount=%d files=%v invalidated=%t\n",
			kind, r.key, targetOf(r.entry), r.entry.RefCount(), r.entry.FileList(), r.entry.IsInvalidated)
	}
}

func targetOf(e *resolution.Entry) string {
	if e == nil {
		return "<nil>"
	}
	if !e.IsResolved() {
		return "<unresolved>"
	}
	return e.ResolvedFileName
}

func sortedSet(set map[string]struct{}) string {
	items := make([]string, 0, len(set))
	for s := range set {
		items = append(items, s)
	}
	sort.Strings(items)
	return "{" + strings.Join(items, ",") + "}"
}
