package strategy

import (
	"context"
	"os"
	"path/filepath"

	"stackbuild/internal/bridge"
)

const buildSubdir = "_build"

// Meson configures with meson and builds with ninja.
type Meson struct {
	Params []string
}

func (m Meson) Configure(ctx context.Context, c *Context) error {
	// meson refuses to set up over an existing build dir
	if err := os.RemoveAll(filepath.Join(c.SourceDir, buildSubdir)); err != nil {
		return err
	}
	buildtype := "release"
	if c.Debug() {
		buildtype = "debug"
	}
	args := []string{"setup", buildSubdir,
		"--prefix=" + c.Prefix.Root,
		"--buildtype=" + buildtype,
		"--backend=ninja",
	}
	args = append(args, m.Params...)
	return c.Exec(ctx, bridge.Native, "", "meson", args...)
}

func (m Meson) Build(ctx context.Context, c *Context) error {
	return c.Exec(ctx, bridge.Native, "", "ninja", "-C", buildSubdir, "-j", "{jobs}")
}

func (m Meson) Install(ctx context.Context, c *Context) error {
	return c.Exec(ctx, bridge.Native, "", "ninja", "-C", buildSubdir, "install")
}

func (Meson) PostInstall(context.Context, *Context) error { return nil }
