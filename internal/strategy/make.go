package strategy

import (
	"context"

	"stackbuild/internal/bridge"
)

// Make drives an autotools-style tree, by default through the POSIX
// toolchain. Native paths in arguments are translated by the bridge.
type Make struct {
	RunConfigure  bool // run ./configure --prefix=<prefix>
	ConfigureArgs []string
	MakeArgs      []string
	InstallArgs   []string
	SkipBuild     bool // the install target builds everything
	Native        bool
}

func (m Make) toolchain() bridge.Toolchain {
	if m.Native {
		return bridge.Native
	}
	return bridge.PosixEmulated
}

func (m Make) Configure(ctx context.Context, c *Context) error {
	if !m.RunConfigure {
		return nil
	}
	args := append([]string{"./configure", "--prefix=" + c.Prefix.Root}, m.ConfigureArgs...)
	return c.Exec(ctx, m.toolchain(), "", "sh", args...)
}

func (m Make) Build(ctx context.Context, c *Context) error {
	if m.SkipBuild {
		return nil
	}
	args := append([]string{"-j{jobs}"}, m.MakeArgs...)
	return c.Exec(ctx, m.toolchain(), "", "make", args...)
}

func (m Make) Install(ctx context.Context, c *Context) error {
	args := append([]string{"install"}, m.InstallArgs...)
	return c.Exec(ctx, m.toolchain(), "", "make", args...)
}

func (Make) PostInstall(context.Context, *Context) error { return nil }
