package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const currentVersion = 1

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := validateVersion(&cfg); err != nil {
		return nil, err
	}
	if err := validateScenario(&cfg); err != nil {
		return nil, err
	}
	if err := validateProjects(&cfg); err != nil {
		return nil, err
	}
	if err := validateWatch(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = currentVersion
	}
	if cfg.Scenario.CurrentDir == "" {
		cfg.Scenario.CurrentDir = "/"
	}
	if cfg.Scenario.DefaultLibDir == "" {
		cfg.Scenario.DefaultLibDir = "/lib"
	}
	if cfg.Scenario.DefaultLibName == "" {
		cfg.Scenario.DefaultLibName = "lib.d.ts"
	}
	if cfg.Watch.DebounceMs == 0 {
		cfg.Watch.DebounceMs = 300
	}
	if cfg.Watch.RatePerSecond == 0 {
		cfg.Watch.RatePerSecond = 2
	}
	if cfg.Watch.Burst == 0 {
		cfg.Watch.Burst = 1
	}
	if cfg.History.Path == "" {
		cfg.History.Path = "./cacheguard.db"
	}
}

func validateVersion(cfg *Config) error {
	if cfg.Version != currentVersion {
		return fmt.Errorf("unsupported config version %d, expected %d", cfg.Version, currentVersion)
	}
	return nil
}

func validateScenario(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Scenario.Files))
	for _, f := range cfg.Scenario.Files {
		if !strings.HasPrefix(f.Path, "/") {
			return fmt.Errorf("scenario file %q must be an absolute path", f.Path)
		}
		if seen[f.Path] {
			return fmt.Errorf("scenario file %q declared twice", f.Path)
		}
		seen[f.Path] = true
		for _, imp := range append(append([]Import(nil), f.Imports...), f.TypeRefs...) {
			if imp.Name == "" {
				return fmt.Errorf("scenario file %q has an import with no name", f.Path)
			}
			switch imp.Mode {
			case "", "none", "commonjs", "esm":
			default:
				return fmt.Errorf("scenario file %q import %q: unknown mode %q", f.Path, imp.Name, imp.Mode)
			}
		}
	}
	for _, link := range cfg.Scenario.Symlinks {
		if link.Link == "" || link.Target == "" {
			return fmt.Errorf("scenario symlink needs both link and target")
		}
	}
	if dir := cfg.Scenario.MaterializeDir; dir != "" && !filepath.IsAbs(dir) {
		return fmt.Errorf("scenario materialize_dir %q must be an absolute path", dir)
	}
	return nil
}

func validateProjects(cfg *Config) error {
	if len(cfg.Projects) == 0 {
		return fmt.Errorf("at least one project is required")
	}
	declared := make(map[string]bool, len(cfg.Scenario.Files))
	for _, f := range cfg.Scenario.Files {
		declared[f.Path] = true
	}
	names := make(map[string]bool, len(cfg.Projects))
	for _, p := range cfg.Projects {
		if p.Name == "" {
			return fmt.Errorf("project with empty name")
		}
		if names[p.Name] {
			return fmt.Errorf("project %q declared twice", p.Name)
		}
		names[p.Name] = true
		for _, path := range append(append([]string(nil), p.Files...), p.AutoImportFiles...) {
			if !declared[path] {
				return fmt.Errorf("project %q references undeclared file %q", p.Name, path)
			}
		}
	}
	return nil
}

func validateWatch(cfg *Config) error {
	if cfg.Watch.DebounceMs < 0 {
		return fmt.Errorf("watch debounce_ms must not be negative")
	}
	if cfg.Watch.RatePerSecond < 0 {
		return fmt.Errorf("watch rate_per_second must not be negative")
	}
	return nil
}
