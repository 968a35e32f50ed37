package resolution

// Mode disambiguates module-format semantics for the same lookup name.
// ModeNone is the degenerate single-mode key space of non-ESM-aware files.
type Mode uint8

const (
	ModeNone Mode = iota
	ModeCommonJS
	ModeESM
)

func (m Mode) String() string {
	switch m {
	case ModeCommonJS:
		return "commonjs"
	case ModeESM:
		return "esm"
	default:
		return "none"
	}
}

// ModeKey keys one lookup inside a per-file cache.
type ModeKey struct {
	Name string
	Mode Mode
}

func (k ModeKey) String() string {
	return k.Name + "|" + k.Mode.String()
}

// CacheKind names which per-file cache a lookup belongs to. It only exists
// so failure labels can say where a mismatch came from.
type CacheKind uint8

const (
	KindModule CacheKind = iota
	KindTypeRef
	KindLib
)

func (k CacheKind) String() string {
	switch k {
	case KindTypeRef:
		return "typeRefs"
	case KindLib:
		return "libs"
	default:
		return "modules"
	}
}
