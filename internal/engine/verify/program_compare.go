package verify

import (
	"fmt"
	"sort"
	"strings"

	"cacheguard/internal/core/errors"
	"cacheguard/internal/core/ports"
	"cacheguard/internal/engine/resolution"
)

// SerializeProgram renders a program (or nil) into a deterministic
// multi-line form: per file the path/scriptKind/text triad plus
// stable-ordered resolution targets, then the automatic type directives and
// library references. Byte equality of two serializations is the coarse
// structural-drift check that complements the full cache verification.
func SerializeProgram(p ports.Program) string {
	if p == nil {
		return "<nil program>"
	}
	var b strings.Builder
	for _, f := range p.SourceFiles() {
		fmt.Fprintf(&b, "file: %s kind=%s\n", f.Path, f.Kind)
		fmt.Fprintf(&b, "text: %q\n", f.Text)
		writeResolutionView(&b, "module", p.ResolvedModulesForFile(f))
		writeResolutionView(&b, "typeRef", p.ResolvedTypeRefsForFile(f))
	}

	autoNames := sortedNames(p.AutomaticTypeDirectives())
	for _, name := range autoNames {
		fmt.Fprintf(&b, "autoType: %s -> %s\n", name, targetOf(p.AutomaticTypeDirectives()[name]))
	}
	libNames := sortedNames(p.ResolvedLibReferences())
	for _, name := range libNames {
		fmt.Fprintf(&b, "lib: %s -> %s\n", name, targetOf(p.ResolvedLibReferences()[name]))
	}
	return b.String()
}

// VerifyProgramStructure asserts byte-for-byte equality of an independently
// rebuilt program against the live one.
func VerifyProgramStructure(expected, actual ports.Program, label string) error {
	expectedDump := SerializeProgram(expected)
	actualDump := SerializeProgram(actual)
	if expectedDump == actualDump {
		return nil
	}
	return errors.New(errors.CodeStructuralMismatch, "program structure drift").
		WithContext(errors.CtxLabel, label).
		WithDump(func() string {
			return "actual program:\n" + actualDump + "expected program:\n" + expectedDump
		})
}

func writeResolutionView(b *strings.Builder, kind string, view map[resolution.ModeKey]*resolution.Entry) {
	keys := make([]resolution.ModeKey, 0, len(view))
	for key := range view {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	for _, key := range keys {
		e := view[key]
		if e == resolution.EmptyEntry {
			fmt.Fprintf(b, "  %s: %s -> <ambient>\n", kind, key)
			continue
		}
		fmt.Fprintf(b, "  %s: %s -> %s\n", kind, key, targetOf(e))
	}
}

func sortedNames(m map[string]*resolution.Entry) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
