package strategy

import (
	"context"
	"os"
	"path/filepath"

	"stackbuild/internal/bridge"
)

// CMake configures with cmake for the Ninja generator.
type CMake struct {
	Params []string
}

func (m CMake) Configure(ctx context.Context, c *Context) error {
	if err := os.RemoveAll(filepath.Join(c.SourceDir, buildSubdir)); err != nil {
		return err
	}
	buildType := "Release"
	if c.Debug() {
		buildType = "Debug"
	}
	args := []string{"-G", "Ninja", "-S", ".", "-B", buildSubdir,
		"-DCMAKE_INSTALL_PREFIX=" + c.Prefix.Root,
		"-DCMAKE_BUILD_TYPE=" + buildType,
	}
	args = append(args, m.Params...)
	return c.Exec(ctx, bridge.Native, "", "cmake", args...)
}

func (CMake) Build(ctx context.Context, c *Context) error {
	return c.Exec(ctx, bridge.Native, "", "cmake", "--build", buildSubdir, "--parallel", "{jobs}")
}

func (CMake) Install(ctx context.Context, c *Context) error {
	return c.Exec(ctx, bridge.Native, "", "cmake", "--install", buildSubdir)
}

func (CMake) PostInstall(context.Context, *Context) error { return nil }
