package program

import (
	"fmt"

	"cacheguard/internal/engine/registry"
	"cacheguard/internal/engine/resolution"
)

// Options is the compiler-options surface the cache and registry care
// about: enough to derive resolution modes and a stable bucket key.
type Options struct {
	ModuleKind      string
	Target          string
	CheckJS         bool
	NoDtsResolution bool
}

// BucketKey derives the document-registry bucket for these settings.
// Deterministic: equal options always produce the same key.
func (o *Options) BucketKey() registry.BucketKey {
	if o == nil {
		return registry.BucketKey("module=|target=|checkJs=false|noDts=false")
	}
	return registry.BucketKey(fmt.Sprintf("module=%s|target=%s|checkJs=%t|noDts=%t",
		o.ModuleKind, o.Target, o.CheckJS, o.NoDtsResolution))
}

// DefaultMode is the resolution mode imports get when the importing file
// does not pin one itself.
func (o *Options) DefaultMode() resolution.Mode {
	if o != nil && o.ModuleKind == "esnext" {
		return resolution.ModeESM
	}
	if o != nil && o.ModuleKind == "commonjs" {
		return resolution.ModeCommonJS
	}
	return resolution.ModeNone
}
