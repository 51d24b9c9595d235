// Package recipe loads declarative project recipes written in HCL.
package recipe

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"stackbuild/internal/bridge"
	"stackbuild/internal/project"
	"stackbuild/internal/source"
	"stackbuild/internal/strategy"
)

// Loader turns recipe files into projects.
type Loader struct {
	// Options are user settings per project and option name, as parsed
	// from STACKBUILD_OPTIONS.
	Options map[string]map[string]string
	Log     *slog.Logger

	parser *hclparse.Parser
}

// NewLoader returns a loader applying opts.
func NewLoader(opts map[string]map[string]string, log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{Options: opts, Log: log, parser: hclparse.NewParser()}
}

// Load reads every path. A directory contributes its *.hcl files in name
// order.
func (l *Loader) Load(paths ...string) ([]*project.Project, error) {
	var res []*project.Project
	for _, p := range paths {
		files, err := recipeFiles(p)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			src, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("read recipes: %w", err)
			}
			prjs, err := l.Parse(src, f)
			if err != nil {
				return nil, err
			}
			res = append(res, prjs...)
		}
	}
	return res, nil
}

func recipeFiles(path string) ([]string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("recipes: %w", err)
	}
	if !fi.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("recipes: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".hcl") {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	return files, nil
}

// Parse decodes the recipes in src. filename is used in diagnostics.
func (l *Loader) Parse(src []byte, filename string) ([]*project.Project, error) {
	if l.parser == nil {
		l.parser = hclparse.NewParser()
	}
	f, diags := l.parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse recipes %s: %w", filename, diags)
	}
	var decoded file
	if diags := gohcl.DecodeBody(f.Body, nil, &decoded); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode recipes %s: %w", filename, diags)
	}

	res := make([]*project.Project, 0, len(decoded.Projects))
	for _, hp := range decoded.Projects {
		p, err := l.convert(hp)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		l.Log.Debug("loaded recipe", "project", p.Name, "file", filename)
		res = append(res, p)
	}
	return res, nil
}

func (l *Loader) convert(hp *hclProject) (*project.Project, error) {
	typ, err := project.ParseType(hp.Type)
	if err != nil {
		return nil, invalid(hp.Name, err)
	}
	opts, err := resolveOptions(hp.Name, hp.Options, l.Options[hp.Name])
	if err != nil {
		return nil, err
	}

	p := &project.Project{
		Name:         hp.Name,
		Type:         typ,
		Version:      hp.Version,
		Dependencies: slices.Clone(hp.Depends),
		Patches:      slices.Clone(hp.Patches),
		ToolDirs:     slices.Clone(hp.ToolDirs),
		Options:      opts,
	}

	switch {
	case hp.Archive != nil && hp.Repository != nil:
		return nil, invalid(hp.Name, fmt.Errorf("both archive and repository given"))
	case hp.Archive != nil:
		p.Source = source.Archive{
			URL:         source.Expand(hp.Archive.URL, hp.Version),
			Hash:        hp.Archive.Hash,
			ExtractRoot: source.Expand(hp.Archive.Root, hp.Version),
			Filename:    source.Expand(hp.Archive.Filename, hp.Version),
		}
	case hp.Repository != nil:
		p.Source = source.Repository{
			URL:        source.Expand(hp.Repository.URL, hp.Version),
			Ref:        source.Expand(hp.Repository.Ref, hp.Version),
			Submodules: hp.Repository.Submodules,
		}
	}

	var extraParams []string
	for _, w := range hp.When {
		on, err := opts.matches(w.Option, w.Equals)
		if err != nil {
			return nil, invalid(hp.Name, err)
		}
		if !on {
			continue
		}
		for _, d := range w.Depends {
			if !slices.Contains(p.Dependencies, d) {
				p.Dependencies = append(p.Dependencies, d)
			}
		}
		p.Patches = append(p.Patches, w.Patches...)
		extraParams = append(extraParams, w.Params...)
	}

	p.Strategy, err = buildStrategy(hp, extraParams)
	if err != nil {
		return nil, invalid(hp.Name, err)
	}
	return p, nil
}

func invalid(name string, err error) error {
	return &project.RegistrationError{Kind: project.ErrInvalidProject, Project: name, Err: err}
}

func buildStrategy(hp *hclProject, extra []string) (strategy.Strategy, error) {
	var base strategy.Strategy
	n := 0
	if hp.Meson != nil {
		n++
		base = strategy.Meson{Params: concat(hp.Meson.Params, extra)}
	}
	if hp.CMake != nil {
		n++
		base = strategy.CMake{Params: concat(hp.CMake.Params, extra)}
	}
	if m := hp.Make; m != nil {
		n++
		base = strategy.Make{
			RunConfigure:  m.Configure,
			ConfigureArgs: concat(m.ConfigureArgs, extra),
			MakeArgs:      m.MakeArgs,
			InstallArgs:   m.InstallArgs,
			SkipBuild:     m.SkipBuild,
			Native:        m.Native,
		}
	}
	if m := hp.MSBuild; m != nil {
		n++
		ms := strategy.MSBuild{Solution: m.Solution, Platform: m.Platform, Properties: m.Properties}
		for _, o := range m.Outputs {
			ms.Outputs = append(ms.Outputs, strategy.Output{Files: o.Files, Dest: o.Dest})
		}
		base = ms
	}
	if n > 1 {
		return nil, fmt.Errorf("more than one build system block")
	}
	if n == 0 && len(extra) > 0 {
		return nil, fmt.Errorf("params given without a build system block")
	}
	if hp.Custom == nil {
		return base, nil
	}
	hooks, err := customHooks(hp.Custom)
	if err != nil {
		return nil, err
	}
	return strategy.WithHooks(base, hooks), nil
}

func concat(a, b []string) []string {
	return append(slices.Clone(a), b...)
}

func customHooks(c *hclCustom) (strategy.Hooks, error) {
	tc := bridge.Native
	if c.Posix {
		tc = bridge.PosixEmulated
	}
	cmds := func(lines [][]string) ([]strategy.Action, error) {
		var res []strategy.Action
		for _, l := range lines {
			if len(l) == 0 {
				return nil, fmt.Errorf("empty command")
			}
			res = append(res, strategy.Exec{Name: l[0], Args: l[1:], Dir: c.Dir, Toolchain: tc, Path: c.Path})
		}
		return res, nil
	}

	h := strategy.Hooks{Posix: c.Posix}
	configure, err := cmds(c.Configure)
	if err != nil {
		return h, err
	}
	if len(c.Require) > 0 {
		configure = append([]strategy.Action{strategy.Require{Paths: c.Require}}, configure...)
	}
	build, err := cmds(c.Build)
	if err != nil {
		return h, err
	}
	install, err := cmds(c.Install)
	if err != nil {
		return h, err
	}
	for _, f := range c.Files {
		install = append(install, strategy.InstallFiles{Files: f.Files, Dest: f.Dest})
	}
	post, err := cmds(c.PostInstall)
	if err != nil {
		return h, err
	}
	for _, m := range c.Moves {
		post = append(post, strategy.Move{Files: m.Files, From: m.From, To: m.To})
	}

	if len(configure) > 0 {
		h.Configure = strategy.Do(configure...)
	}
	if len(build) > 0 {
		h.Build = strategy.Do(build...)
	}
	if len(install) > 0 {
		h.Install = strategy.Do(install...)
	}
	if len(post) > 0 {
		h.PostInstall = strategy.Do(post...)
	}
	return h, nil
}
