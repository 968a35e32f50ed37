package ports

import (
	"cacheguard/internal/engine/program"
	"cacheguard/internal/engine/resolution"
)

// Program is the compiled-program surface the verifiers consume: enumerate
// source files and query the program's own resolution view per (name, mode).
type Program interface {
	SourceFiles() []*program.File
	ResolvedModulesForFile(f *program.File) map[resolution.ModeKey]*resolution.Entry
	ResolvedTypeRefsForFile(f *program.File) map[resolution.ModeKey]*resolution.Entry
	AutomaticTypeDirectives() map[string]*resolution.Entry
	ResolvedLibReferences() map[string]*resolution.Entry
	CompilerOptions() *program.Options
}

// VerifyHooks is the scoped instrumentation contract the harness wraps
// around mutating operations: capture state before, run the operation,
// verify after, synchronously on the same call stack.
type VerifyHooks interface {
	Before(label string)
	After(label string) error
}
