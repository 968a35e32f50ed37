package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cacheguard.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `
version = 1

[scenario]
case_sensitive = true
current_dir = "/proj"

[[scenario.files]]
path = "/proj/a.ts"
kind = "ts"

  [[scenario.files.imports]]
  name = "bar"
  mode = "esm"

[[projects]]
name = "main"
files = ["/proj/a.ts"]
module = "esnext"
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Scenario.CurrentDir != "/proj" {
		t.Errorf("current_dir = %q", cfg.Scenario.CurrentDir)
	}
	if len(cfg.Projects) != 1 || cfg.Projects[0].Name != "main" {
		t.Errorf("projects = %+v", cfg.Projects)
	}
	if cfg.Scenario.Files[0].Imports[0].Mode != "esm" {
		t.Errorf("import mode = %q", cfg.Scenario.Files[0].Imports[0].Mode)
	}

	// Defaults applied where the file is silent.
	if cfg.Scenario.DefaultLibDir != "/lib" || cfg.Scenario.DefaultLibName != "lib.d.ts" {
		t.Errorf("lib defaults = %q %q", cfg.Scenario.DefaultLibDir, cfg.Scenario.DefaultLibName)
	}
	if cfg.Watch.Debounce() != 300*time.Millisecond {
		t.Errorf("debounce default = %v", cfg.Watch.Debounce())
	}
	if cfg.Watch.RatePerSecond != 2 || cfg.Watch.Burst != 1 {
		t.Errorf("limiter defaults = %v %v", cfg.Watch.RatePerSecond, cfg.Watch.Burst)
	}
	if cfg.History.Path != "./cacheguard.db" {
		t.Errorf("history path default = %q", cfg.History.Path)
	}
}

func TestLoadRejectsInvalidConfigs(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"unsupported version", `
version = 99
[[scenario.files]]
path = "/proj/a.ts"
[[projects]]
name = "main"
files = ["/proj/a.ts"]
`},
		{"relative scenario path", `
[[scenario.files]]
path = "a.ts"
[[projects]]
name = "main"
files = ["a.ts"]
`},
		{"relative materialize dir", `
[scenario]
materialize_dir = "scenario-out"
[[scenario.files]]
path = "/proj/a.ts"
[[projects]]
name = "main"
files = ["/proj/a.ts"]
`},
		{"duplicate scenario file", `
[[scenario.files]]
path = "/proj/a.ts"
[[scenario.files]]
path = "/proj/a.ts"
[[projects]]
name = "main"
files = ["/proj/a.ts"]
`},
		{"unknown import mode", `
[[scenario.files]]
path = "/proj/a.ts"
  [[scenario.files.imports]]
  name = "bar"
  mode = "umd"
[[projects]]
name = "main"
files = ["/proj/a.ts"]
`},
		{"no projects", `
[[scenario.files]]
path = "/proj/a.ts"
`},
		{"duplicate project name", `
[[scenario.files]]
path = "/proj/a.ts"
[[projects]]
name = "main"
files = ["/proj/a.ts"]
[[projects]]
name = "main"
files = ["/proj/a.ts"]
`},
		{"undeclared project file", `
[[scenario.files]]
path = "/proj/a.ts"
[[projects]]
name = "main"
files = ["/proj/missing.ts"]
`},
		{"negative debounce", `
[watch]
debounce_ms = -5
[[scenario.files]]
path = "/proj/a.ts"
[[projects]]
name = "main"
files = ["/proj/a.ts"]
`},
		{"symlink without target", `
[[scenario.files]]
path = "/proj/a.ts"
[[scenario.symlinks]]
link = "/proj/link"
[[projects]]
name = "main"
files = ["/proj/a.ts"]
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
