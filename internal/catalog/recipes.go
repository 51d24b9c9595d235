package catalog

import (
	"stackbuild/internal/bridge"
	"stackbuild/internal/project"
	"stackbuild/internal/source"
	"stackbuild/internal/strategy"
)

// Msys2 stands for the pre-installed MSYS2 tree. It only checks that the
// tree exists and puts its bin dir on the PATH of dependents.
func Msys2(msysBin string) *project.Project {
	return &project.Project{
		Name:     "msys2",
		Type:     project.TypeTool,
		Version:  "system",
		ToolDirs: []string{msysBin},
		Strategy: strategy.Custom(strategy.Hooks{
			Configure: strategy.Do(strategy.Require{Paths: []string{msysBin}}),
		}),
	}
}

// NvCodecHeaders installs the NVIDIA codec headers with the MSYS2 make.
func NvCodecHeaders(msysBin string) *project.Project {
	return &project.Project{
		Name:    "nv-codec-headers",
		Type:    project.TypeLibrary,
		Version: "9.0.18.4",
		Source: source.Repository{
			URL: "http://git.videolan.org/git/ffmpeg/nv-codec-headers.git",
			Ref: "n9.0.18.4",
		},
		Strategy: strategy.Custom(strategy.Hooks{
			Install: strategy.Do(strategy.Exec{
				Name:      "make",
				Args:      []string{"install", "PREFIX={prefix}"},
				Toolchain: bridge.Native,
				Path:      []string{msysBin},
			}),
		}),
	}
}

// FfmpegOptions tune the ffmpeg build.
type FfmpegOptions struct {
	EnableGPL bool `json:"enable_gpl"`
}

func (FfmpegOptions) Validate() error { return nil }

// Ffmpeg builds ffmpeg through its bundled build script run by MSYS2
// bash. GPL builds pull in x264.
func Ffmpeg(opts FfmpegOptions) *project.Project {
	deps := []string{"nasm", "msys2", "pkg-config", "nv-codec-headers"}
	licence := "disable_gpl"
	docs := []string{"COPYING.LGPLv2.1", "COPYING.LGPLv3"}
	libs := []string{"avcodec.lib", "avutil.lib", "swscale.lib"}
	if opts.EnableGPL {
		deps = append(deps, "x264")
		licence = "enable_gpl"
		docs = append(docs, "COPYING.GPLv2")
		libs = []string{"avcodec.lib", "avutil.lib", "postproc.lib", "swscale.lib"}
	}
	return &project.Project{
		Name:         "ffmpeg",
		Type:         project.TypeLibrary,
		Version:      "4.4.1",
		Dependencies: deps,
		Source: source.Archive{
			URL:  source.Expand("https://www.ffmpeg.org/releases/ffmpeg-{version}.tar.xz", "4.4.1"),
			Hash: "eadbad9e9ab30b25f5520fbfde99fae4a92a1ae3c0257a8d68569a4651e30e02",
		},
		Options: opts,
		Strategy: strategy.Custom(strategy.Hooks{
			Build: strategy.Do(strategy.Exec{
				Name:      "bash",
				Args:      []string{"build/build.sh", "{source}", "{prefix}", "{configuration}", licence},
				Toolchain: bridge.PosixEmulated,
			}),
			Install: strategy.Do(strategy.InstallFiles{Files: docs, Dest: "share/doc/ffmpeg"}),
			// the build script drops import libraries next to the dlls
			PostInstall: strategy.Do(strategy.Move{Files: libs, From: "bin", To: "lib"}),
			Posix:       true,
		}),
	}
}

// AdwaitaOptions tune the libadwaita build.
type AdwaitaOptions struct {
	EnableGI bool `json:"enable_gi"`
}

func (AdwaitaOptions) Validate() error { return nil }

func Libadwaita(opts AdwaitaOptions) *project.Project {
	const version = "1.4.0"
	var deps []string
	gir := "disabled"
	if opts.EnableGI {
		deps = append(deps, "gobject-introspection")
		gir = "enabled"
	}
	meson := strategy.Meson{Params: []string{"-Dintrospection=" + gir, "-Dgtk_doc=false", "-Dvapi=false"}}
	return &project.Project{
		Name:         "libadwaita",
		Type:         project.TypeLibrary,
		Version:      version,
		Dependencies: deps,
		Source: source.Archive{
			URL:  source.Expand("https://download.gnome.org/sources/libadwaita/{major}.{minor}/libadwaita-{version}.tar.xz", version),
			Hash: "e51a098a54d43568218fc48fcf52e80e36f469b3ce912d8ce9c308a37e9f47c2",
		},
		Patches: []string{
			"libadwaita/0001-remove-appstream-dependency.patch",
			"libadwaita/0002-empty-initializer.patch",
		},
		Options: opts,
		Strategy: strategy.WithHooks(meson, strategy.Hooks{
			Install: strategy.Chain(meson.Install,
				strategy.Do(strategy.InstallFiles{Files: []string{"COPYING"}, Dest: "share/doc/libadwaita"})),
		}),
	}
}
