package main

import (
	"cacheguard/internal/core/config"
	"cacheguard/internal/core/errors"
	"cacheguard/internal/core/watcher"
	"cacheguard/internal/data/history"
	"cacheguard/internal/engine/hosts"
	"cacheguard/internal/engine/program"
	"cacheguard/internal/engine/project"
	"cacheguard/internal/engine/registry"
	"cacheguard/internal/engine/resolution"
	"cacheguard/internal/engine/verify"
	"cacheguard/internal/shared/observability"
	"cacheguard/internal/shared/util"
	"cacheguard/internal/shared/vfs"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

type App struct {
	Config  *config.Config
	Service *project.Service
	Hooks   *verify.ServiceHooks
	History *history.Store

	configPath string
	limiter    *util.Limiter
	watcher    *watcher.Watcher
	teaProgram *tea.Program

	mu           sync.Mutex
	lastOutcomes []runOutcome
}

// runOutcome is the per-project result of one verification batch.
type runOutcome struct {
	Project     string
	Label       string
	OK          bool
	FailureCode string
	Message     string
	Duration    time.Duration
	Stats       resolution.Stats
}

func NewApp(cfg *config.Config, configPath string) (*App, error) {
	a := &App{
		Config:     cfg,
		configPath: configPath,
		limiter:    util.NewLimiter(cfg.Watch.RatePerSecond, cfg.Watch.Burst),
	}

	var host resolution.Host
	if cfg.Scenario.MaterializeDir != "" {
		w, err := watcher.NewWatcher(
			cfg.Watch.Debounce(),
			cfg.Watch.ExcludeDirs,
			cfg.Watch.ExcludeFiles,
			a.HandleChanges,
		)
		if err != nil {
			return nil, err
		}
		a.watcher = w
		host, err = buildLiveHost(cfg, w)
		if err != nil {
			_ = w.Close()
			return nil, err
		}
	} else {
		host = buildScenarioHost(cfg)
	}

	fail := func(err error) (*App, error) {
		if a.watcher != nil {
			_ = a.watcher.Close()
		}
		return nil, err
	}

	svc := project.NewService(host)
	for _, pc := range cfg.Projects {
		input, err := buildInput(cfg, pc)
		if err != nil {
			return fail(err)
		}
		p := svc.AddProject(pc.Name, input)

		if len(pc.AutoImportFiles) > 0 {
			auxInput, err := buildInput(cfg, config.Project{
				Name:   pc.Name,
				Files:  pc.AutoImportFiles,
				Module: pc.Module,
				Target: pc.Target,
			})
			if err != nil {
				return fail(err)
			}
			svc.AttachAutoImportProvider(p, auxInput)
		}
		if pc.NoDts {
			auxInput, err := buildInput(cfg, pc)
			if err != nil {
				return fail(err)
			}
			auxInput.Options = &program.Options{
				ModuleKind:      pc.Module,
				Target:          pc.Target,
				CheckJS:         pc.CheckJS,
				NoDtsResolution: true,
			}
			svc.AttachNoDtsResolution(p, auxInput)
		}
	}

	a.Service = svc
	a.Hooks = verify.NewServiceHooks(svc)

	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return fail(fmt.Errorf("open history store: %w", err))
		}
		a.History = store
	}

	return a, nil
}

// buildScenarioHost materializes the declared virtual file tree and wraps
// it in an in-memory resolution host.
func buildScenarioHost(cfg *config.Config) resolution.Host {
	fs := vfs.NewMemFS(cfg.Scenario.CaseSensitive)
	for _, f := range cfg.Scenario.Files {
		fs.WriteFile(f.Path, f.Text)
	}
	for _, l := range cfg.Scenario.Symlinks {
		fs.Symlink(l.Link, l.Target)
	}

	libDir := cfg.Scenario.DefaultLibDir
	libName := cfg.Scenario.DefaultLibName
	defaultLib := strings.TrimRight(libDir, "/") + "/" + libName
	if !fs.FileExists(defaultLib) {
		fs.WriteFile(defaultLib, "")
	}
	for _, lib := range cfg.Scenario.Libs {
		p := strings.TrimRight(libDir, "/") + "/" + lib
		if !fs.FileExists(p) {
			fs.WriteFile(p, "")
		}
	}

	host := hosts.NewMemHost(fs, cfg.Scenario.CurrentDir)
	host.LibDir = libDir
	host.LibName = libName
	return host
}

// scenarioPath maps a declared scenario path onto the materialize root. With
// no root configured the virtual path is used as is.
func scenarioPath(cfg *config.Config, p string) string {
	if cfg.Scenario.MaterializeDir == "" {
		return p
	}
	return filepath.Join(cfg.Scenario.MaterializeDir, strings.TrimPrefix(p, "/"))
}

// buildLiveHost writes the scenario to a real directory and serves lookups
// from the OS, so every directory and file watch the cache registers lands
// in the fsnotify watcher.
func buildLiveHost(cfg *config.Config, w *watcher.Watcher) (resolution.Host, error) {
	writeReal := func(p, text string) error {
		real := scenarioPath(cfg, p)
		if err := os.MkdirAll(filepath.Dir(real), 0o755); err != nil {
			return err
		}
		return os.WriteFile(real, []byte(text), 0o644)
	}

	for _, f := range cfg.Scenario.Files {
		if err := writeReal(f.Path, f.Text); err != nil {
			return nil, fmt.Errorf("materialize %s: %w", f.Path, err)
		}
	}
	for _, l := range cfg.Scenario.Symlinks {
		link := scenarioPath(cfg, l.Link)
		if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
			return nil, err
		}
		if err := os.Symlink(scenarioPath(cfg, l.Target), link); err != nil && !os.IsExist(err) {
			return nil, fmt.Errorf("materialize symlink %s: %w", l.Link, err)
		}
	}

	libDir := scenarioPath(cfg, cfg.Scenario.DefaultLibDir)
	libName := cfg.Scenario.DefaultLibName
	for _, lib := range append([]string{libName}, cfg.Scenario.Libs...) {
		p := filepath.Join(libDir, lib)
		if _, err := os.Stat(p); os.IsNotExist(err) {
			if err := os.MkdirAll(libDir, 0o755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(p, nil, 0o644); err != nil {
				return nil, err
			}
		}
	}

	currentDir := scenarioPath(cfg, cfg.Scenario.CurrentDir)
	return hosts.NewOSHost(currentDir, libDir, libName, w), nil
}

func buildInput(cfg *config.Config, pc config.Project) (program.BuildInput, error) {
	byPath := make(map[string]config.File, len(cfg.Scenario.Files))
	for _, f := range cfg.Scenario.Files {
		byPath[f.Path] = f
	}

	files := make([]program.FileSpec, 0, len(pc.Files))
	for _, path := range pc.Files {
		decl, ok := byPath[path]
		if !ok {
			return program.BuildInput{}, fmt.Errorf("project %q names file %q not declared in scenario", pc.Name, path)
		}
		files = append(files, program.FileSpec{
			Path:     scenarioPath(cfg, decl.Path),
			Text:     decl.Text,
			Kind:     parseScriptKind(decl.Kind, decl.Path),
			Imports:  parseRefs(decl.Imports),
			TypeRefs: parseRefs(decl.TypeRefs),
		})
	}

	return program.BuildInput{
		Files:              files,
		AmbientNames:       append([]string(nil), cfg.Scenario.Ambient...),
		AutoTypeDirectives: append([]string(nil), cfg.Scenario.AutoTypes...),
		Libs:               append([]string(nil), cfg.Scenario.Libs...),
		Options: &program.Options{
			ModuleKind:      pc.Module,
			Target:          pc.Target,
			CheckJS:         pc.CheckJS,
			NoDtsResolution: pc.NoDts,
		},
	}, nil
}

func parseScriptKind(kind, path string) registry.ScriptKind {
	switch kind {
	case "js":
		return registry.KindJS
	case "jsx":
		return registry.KindJSX
	case "ts":
		return registry.KindTS
	case "tsx":
		return registry.KindTSX
	case "json":
		return registry.KindJSON
	case "external":
		return registry.KindExternal
	}
	switch {
	case strings.HasSuffix(path, ".tsx"):
		return registry.KindTSX
	case strings.HasSuffix(path, ".jsx"):
		return registry.KindJSX
	case strings.HasSuffix(path, ".js"):
		return registry.KindJS
	case strings.HasSuffix(path, ".json"):
		return registry.KindJSON
	default:
		return registry.KindTS
	}
}

func parseRefs(imports []config.Import) []program.Ref {
	refs := make([]program.Ref, 0, len(imports))
	for _, imp := range imports {
		refs = append(refs, program.Ref{Name: imp.Name, Mode: parseMode(imp.Mode)})
	}
	return refs
}

func parseMode(mode string) resolution.Mode {
	switch mode {
	case "commonjs":
		return resolution.ModeCommonJS
	case "esm":
		return resolution.ModeESM
	default:
		return resolution.ModeNone
	}
}

// VerifyAll rebuilds every project graph and runs the full verification
// suite over the result. One batch is one history run per project.
func (a *App) VerifyAll(ctx context.Context, label string) error {
	ctx, span := observability.Tracer.Start(ctx, "verify.all")
	defer span.End()
	_ = ctx

	start := time.Now()
	err := verify.WithVerification(a.Hooks, label, func() error {
		for _, p := range a.Service.Projects() {
			p.UpdateGraph()
			observability.ProgramBuildsTotal.Inc()
		}
		return nil
	})
	duration := time.Since(start)

	outcome := "pass"
	if err != nil {
		outcome = "fail"
	}
	observability.VerifyRunsTotal.WithLabelValues(outcome).Inc()
	observability.VerifyDuration.Observe(duration.Seconds())

	outcomes := a.recordOutcomes(label, duration, err)
	a.updateGauges()
	a.saveHistory(outcomes)

	if a.teaProgram != nil {
		a.teaProgram.Send(updateMsg{outcomes: outcomes, lastUpdate: time.Now()})
	}

	if err != nil {
		slog.Error("verification failed", "label", label, "error", err)
		return err
	}
	slog.Info("verification passed", "label", label, "projects", len(a.Service.Projects()), "duration", duration)
	return nil
}

func (a *App) recordOutcomes(label string, duration time.Duration, verifyErr error) []runOutcome {
	a.mu.Lock()
	defer a.mu.Unlock()

	code := ""
	msg := ""
	if verifyErr != nil {
		code = string(errors.CodeOf(verifyErr))
		msg = verifyErr.Error()
	}

	outcomes := make([]runOutcome, 0, len(a.Service.Projects()))
	for _, p := range a.Service.Projects() {
		outcomes = append(outcomes, runOutcome{
			Project:     p.Name,
			Label:       label,
			OK:          verifyErr == nil,
			FailureCode: code,
			Message:     msg,
			Duration:    duration,
			Stats:       p.ResolutionCache().Stats(),
		})
	}
	a.lastOutcomes = outcomes
	return outcomes
}

// updateGauges publishes aggregate cache sizes across every project,
// auxiliary sub-projects included.
func (a *App) updateGauges() {
	var total resolution.Stats
	var walk func(p *project.Project)
	walk = func(p *project.Project) {
		s := p.ResolutionCache().Stats()
		total.LiveResolutions += s.LiveResolutions
		total.DirectoryWatches += s.DirectoryWatches
		total.FileWatches += s.FileWatches
		for _, aux := range []*project.Project{p.AutoImportProvider, p.NoDtsResolution} {
			if aux != nil {
				walk(aux)
			}
		}
	}
	for _, p := range a.Service.Projects() {
		walk(p)
	}

	observability.ResolutionsLive.Set(float64(total.LiveResolutions))
	observability.DirectoryWatchesLive.Set(float64(total.DirectoryWatches))
	observability.FileWatchesLive.Set(float64(total.FileWatches))
}

func (a *App) saveHistory(outcomes []runOutcome) {
	if a.History == nil {
		return
	}
	for _, o := range outcomes {
		run := history.Run{
			RunID:            uuid.NewString(),
			ProjectKey:       o.Project,
			Timestamp:        time.Now(),
			Label:            o.Label,
			OK:               o.OK,
			FailureCode:      o.FailureCode,
			Duration:         o.Duration,
			ResolutionsLive:  o.Stats.LiveResolutions,
			DirectoryWatches: o.Stats.DirectoryWatches,
			FileWatches:      o.Stats.FileWatches,
		}
		if err := a.History.SaveRun(run); err != nil {
			slog.Warn("failed to save verification run", "project", o.Project, "error", err)
		}
	}
}

// StartWatcher watches the scenario config file and re-runs verification
// when it changes. Rebuilds are paced by the configured rate limiter so a
// burst of editor writes cannot queue redundant batches.
func (a *App) StartWatcher() error {
	if a.watcher == nil {
		w, err := watcher.NewWatcher(
			a.Config.Watch.Debounce(),
			a.Config.Watch.ExcludeDirs,
			a.Config.Watch.ExcludeFiles,
			a.HandleChanges,
		)
		if err != nil {
			return err
		}
		a.watcher = w
	}
	a.watcher.Register(a.configPath)
	return nil
}

func (a *App) HandleChanges(paths []string) {
	if !a.limiter.Allow(1) {
		slog.Debug("verification batch skipped by rate limit", "changes", len(paths))
		return
	}

	for _, p := range paths {
		if filepath.Clean(p) == filepath.Clean(a.configPath) {
			a.reloadFromDisk()
			return
		}
	}

	// Live mode: the changed paths are scenario files under real cache
	// watches. Invalidate the dependent resolutions and re-verify.
	slog.Info("scenario changed", "paths", paths)
	hits := 0
	var invalidate func(p *project.Project, changed string)
	invalidate = func(p *project.Project, changed string) {
		hits += p.ResolutionCache().InvalidateResolutionsOfPath(changed)
		for _, aux := range []*project.Project{p.AutoImportProvider, p.NoDtsResolution} {
			if aux != nil {
				invalidate(aux, changed)
			}
		}
	}
	for _, changed := range paths {
		for _, p := range a.Service.Projects() {
			invalidate(p, changed)
		}
	}
	observability.InvalidationsTotal.Add(float64(hits))
	slog.Debug("invalidated resolutions", "count", hits)
	_ = a.VerifyAll(context.Background(), "watch")
}

func (a *App) reloadFromDisk() {
	slog.Info("config changed", "path", a.configPath)
	cfg, err := config.Load(a.configPath)
	if err != nil {
		slog.Error("failed to reload config", "error", err)
		return
	}
	if err := a.Reload(cfg); err != nil {
		slog.Error("failed to rebuild scenario", "error", err)
		return
	}
	_ = a.VerifyAll(context.Background(), "reload")
}

// Reload tears down the current projects and rebuilds them from cfg. The
// teardown itself runs under verification so ref-count leaks in the old
// scenario surface before the new one is built.
func (a *App) Reload(cfg *config.Config) error {
	if err := verify.WithVerification(a.Hooks, "reload:teardown", func() error {
		a.Service.CloseAll()
		return nil
	}); err != nil {
		return err
	}

	next, err := NewApp(cfg, a.configPath)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.Config = cfg
	a.Service = next.Service
	a.Hooks = next.Hooks
	if next.History != nil {
		if a.History != nil {
			_ = a.History.Close()
		}
		a.History = next.History
	}
	if next.watcher != nil {
		// Live mode rebuilds its own watcher; the old one goes away with
		// the old host's watch registrations.
		if a.watcher != nil {
			_ = a.watcher.Close()
		}
		a.watcher = next.watcher
		a.watcher.Register(a.configPath)
	}
	a.mu.Unlock()
	return nil
}

func (a *App) RunUI() error {
	m := initialModel()
	p := tea.NewProgram(m, tea.WithAltScreen())
	a.teaProgram = p

	go func() {
		a.mu.Lock()
		outcomes := a.lastOutcomes
		a.mu.Unlock()
		a.teaProgram.Send(updateMsg{outcomes: outcomes, lastUpdate: time.Now()})
	}()

	_, err := p.Run()
	return err
}

func (a *App) Close() error {
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	a.Service.CloseAll()
	if a.History != nil {
		return a.History.Close()
	}
	return nil
}
