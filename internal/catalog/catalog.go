// Package catalog holds the built-in project recipes.
package catalog

import (
	_ "embed"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"

	"stackbuild/internal/config"
	"stackbuild/internal/project"
	"stackbuild/internal/recipe"
)

//go:embed default.hcl
var defaultRecipes []byte

// Register adds the Go recipes, the embedded HCL catalog and the user
// catalogs named in cfg.Recipes to reg, in that order.
func Register(reg *project.Registry, cfg *config.Config, log *slog.Logger) error {
	opts, err := cfg.ProjectOptions()
	if err != nil {
		return err
	}

	builtin, err := goRecipes(cfg, opts)
	if err != nil {
		return err
	}
	loader := recipe.NewLoader(opts, log)
	declared, err := loader.Parse(defaultRecipes, "default.hcl")
	if err != nil {
		return err
	}
	user, err := loader.Load(cfg.Recipes...)
	if err != nil {
		return err
	}

	for _, p := range slices.Concat(builtin, declared, user) {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	for name := range opts {
		if _, ok := reg.Get(name); !ok {
			log.Warn("options given for unknown project", "project", name)
		}
	}
	return nil
}

func goRecipes(cfg *config.Config, opts map[string]map[string]string) ([]*project.Project, error) {
	var ffOpts FfmpegOptions
	if err := boolOptions("ffmpeg", opts["ffmpeg"], map[string]*bool{"enable_gpl": &ffOpts.EnableGPL}); err != nil {
		return nil, err
	}
	var adwOpts AdwaitaOptions
	if err := boolOptions("libadwaita", opts["libadwaita"], map[string]*bool{"enable_gi": &adwOpts.EnableGI}); err != nil {
		return nil, err
	}
	msysBin := filepath.Join(cfg.MsysDir, "usr", "bin")
	return []*project.Project{
		Msys2(msysBin),
		NvCodecHeaders(msysBin),
		Ffmpeg(ffOpts),
		Libadwaita(adwOpts),
	}, nil
}

func boolOptions(prj string, user map[string]string, known map[string]*bool) error {
	for name, val := range user {
		dst, ok := known[name]
		if !ok {
			return &project.RegistrationError{Kind: project.ErrInvalidProject, Project: prj,
				Err: fmt.Errorf("unknown option %q", name)}
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return &project.RegistrationError{Kind: project.ErrInvalidProject, Project: prj,
				Err: fmt.Errorf("option %q wants a bool, got %q", name, val)}
		}
		*dst = b
	}
	return nil
}
