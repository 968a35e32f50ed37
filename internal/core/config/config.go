package config

import "time"

type Config struct {
	Version   int       `toml:"version"`
	History   History   `toml:"history"`
	Telemetry Telemetry `toml:"telemetry"`
	Watch     Watch     `toml:"watch"`
	Scenario  Scenario  `toml:"scenario"`
	Projects  []Project `toml:"projects"`
}

type History struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type Telemetry struct {
	OTLPEndpoint string `toml:"otlp_endpoint"`
	MetricsAddr  string `toml:"metrics_addr"`
}

type Watch struct {
	DebounceMs    int      `toml:"debounce_ms"`
	RatePerSecond float64  `toml:"rate_per_second"`
	Burst         int      `toml:"burst"`
	ExcludeDirs   []string `toml:"exclude_dirs"`
	ExcludeFiles  []string `toml:"exclude_files"`
}

func (w Watch) Debounce() time.Duration {
	return time.Duration(w.DebounceMs) * time.Millisecond
}

// Scenario declares the virtual file tree verification runs against.
// When MaterializeDir is set the tree is written to that real directory
// instead and lookups go through the OS host, so the cache's watch
// registrations install real fsnotify watches.
type Scenario struct {
	CaseSensitive  bool      `toml:"case_sensitive"`
	MaterializeDir string    `toml:"materialize_dir"`
	CurrentDir     string    `toml:"current_dir"`
	DefaultLibDir  string    `toml:"default_lib_dir"`
	DefaultLibName string    `toml:"default_lib_name"`
	Files          []File    `toml:"files"`
	Symlinks       []Symlink `toml:"symlinks"`
	Ambient        []string  `toml:"ambient"`
	AutoTypes      []string  `toml:"auto_types"`
	Libs           []string  `toml:"libs"`
}

type File struct {
	Path     string   `toml:"path"`
	Text     string   `toml:"text"`
	Kind     string   `toml:"kind"`
	Imports  []Import `toml:"imports"`
	TypeRefs []Import `toml:"type_refs"`
}

type Import struct {
	Name string `toml:"name"`
	Mode string `toml:"mode"`
}

type Symlink struct {
	Link   string `toml:"link"`
	Target string `toml:"target"`
}

type Project struct {
	Name            string   `toml:"name"`
	Files           []string `toml:"files"`
	Module          string   `toml:"module"`
	Target          string   `toml:"target"`
	CheckJS         bool     `toml:"check_js"`
	NoDts           bool     `toml:"no_dts"`
	AutoImportFiles []string `toml:"auto_import_files"`
}
