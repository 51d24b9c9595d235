package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"git.fractalqb.de/fractalqb/testerr"

	"stackbuild/internal/bridge"
	"stackbuild/internal/config"
	"stackbuild/internal/console"
	"stackbuild/internal/project"
	"stackbuild/internal/source"
	"stackbuild/internal/strategy"
)

func load(t *testing.T, environ ...string) *project.Registry {
	t.Helper()
	cfg := testerr.Shall1(config.Load(filepath.Join(t.TempDir(), "none.conf"), environ)).BeNil(t)
	reg := project.NewRegistry()
	testerr.Shall(Register(reg, cfg, console.Discard())).BeNil(t)
	return reg
}

func TestRegister_builtin(t *testing.T) {
	reg := load(t)
	testerr.Shall(reg.Validate()).BeNil(t)
	for _, name := range []string{"ffmpeg", "nv-codec-headers", "libadwaita", "msys2", "nasm", "pkg-config", "x264", "glib", "gobject-introspection", "media"} {
		if _, ok := reg.Get(name); !ok {
			t.Errorf("%s missing", name)
		}
	}
	order := testerr.Shall1(reg.Resolve(project.Selection{Names: []string{"media"}, Transitive: true})).BeNil(t)
	if order[len(order)-1].Name != "media" {
		t.Errorf("group not last: %s", order[len(order)-1].Name)
	}
}

func TestFfmpeg(t *testing.T) {
	p := Ffmpeg(FfmpegOptions{})
	if slices.Contains(p.Dependencies, "x264") {
		t.Error("x264 without gpl")
	}
	arc := p.Source.(source.Archive)
	if arc.URL != "https://www.ffmpeg.org/releases/ffmpeg-4.4.1.tar.xz" {
		t.Errorf("url %s", arc.URL)
	}
	testerr.Shall(arc.Validate()).BeNil(t)

	gpl := Ffmpeg(FfmpegOptions{EnableGPL: true})
	want := []string{"nasm", "msys2", "pkg-config", "nv-codec-headers", "x264"}
	if !slices.Equal(gpl.Dependencies, want) {
		t.Errorf("deps %v", gpl.Dependencies)
	}
}

func TestRegister_options(t *testing.T) {
	reg := load(t, "STACKBUILD_OPTIONS=ffmpeg.enable_gpl,libadwaita.enable_gi=true,glib.tests=1")
	ff, _ := reg.Get("ffmpeg")
	if !slices.Contains(ff.Dependencies, "x264") {
		t.Error("ffmpeg.enable_gpl ignored")
	}
	adw, _ := reg.Get("libadwaita")
	if !slices.Equal(adw.Dependencies, []string{"gobject-introspection"}) {
		t.Errorf("libadwaita deps %v", adw.Dependencies)
	}
	if !adw.Options.(AdwaitaOptions).EnableGI {
		t.Error("option not stored")
	}
	testerr.Shall(reg.Validate()).BeNil(t)
}

func TestRegister_badOption(t *testing.T) {
	cfg := testerr.Shall1(config.Load("", []string{"STACKBUILD_OPTIONS=ffmpeg.enable_x=1"})).BeNil(t)
	err := Register(project.NewRegistry(), cfg, console.Discard())
	if !errors.Is(err, project.ErrInvalidProject) {
		t.Fatalf("err %v", err)
	}
}

func TestLibadwaitaSource(t *testing.T) {
	arc := Libadwaita(AdwaitaOptions{}).Source.(source.Archive)
	if want := "https://download.gnome.org/sources/libadwaita/1.4/libadwaita-1.4.0.tar.xz"; arc.URL != want {
		t.Errorf("url %s", arc.URL)
	}
}

type cmdLog struct{ cmds []string }

func (r *cmdLog) Run(_ context.Context, c bridge.Command) (bridge.Result, error) {
	r.cmds = append(r.cmds, c.String())
	return bridge.Result{}, nil
}

func TestLibadwaitaInstall(t *testing.T) {
	src := t.TempDir()
	testerr.Shall(os.WriteFile(filepath.Join(src, "COPYING"), []byte("LGPL"), 0o644)).BeNil(t)
	runner := &cmdLog{}
	c := &strategy.Context{
		Project:   "libadwaita",
		SourceDir: src,
		Prefix:    strategy.NewPrefix(t.TempDir(), console.Discard()),
		Runner:    runner,
	}
	s := Libadwaita(AdwaitaOptions{}).Strategy
	testerr.Shall(strategy.RunStep(context.Background(), s, strategy.Install, c)).BeNil(t)
	if !slices.Equal(runner.cmds, []string{"ninja -C _build install"}) {
		t.Errorf("commands %q", runner.cmds)
	}
	if _, err := os.Stat(filepath.Join(c.Prefix.Root, "share", "doc", "libadwaita", "COPYING")); err != nil {
		t.Error(err)
	}
}

func TestRegister_userCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extra.hcl")
	testerr.Shall(os.WriteFile(path, []byte(`project "zlib" {
  type    = "library"
  version = "1.3.1"
  cmake {}
}`), 0o644)).BeNil(t)
	reg := load(t, "STACKBUILD_RECIPES="+path)
	if _, ok := reg.Get("zlib"); !ok {
		t.Error("user recipe not registered")
	}
}
