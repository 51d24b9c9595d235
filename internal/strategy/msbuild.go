package strategy

import (
	"context"

	"stackbuild/internal/bridge"
)

// Output is a set of build products copied into the prefix on install.
type Output struct {
	Files []string // relative to the source dir, globs allowed
	Dest  string   // relative to the prefix
}

// MSBuild builds a Visual Studio solution. The solution has no install
// target, so Outputs say what lands where.
type MSBuild struct {
	Solution   string
	Platform   string // derived from the arch when empty
	Properties map[string]string
	Outputs    []Output
}

func (m MSBuild) platform(arch string) string {
	if m.Platform != "" {
		return m.Platform
	}
	switch arch {
	case "x86":
		return "Win32"
	case "arm64":
		return "ARM64"
	}
	return "x64"
}

func (MSBuild) Configure(context.Context, *Context) error { return nil }

func (m MSBuild) Build(ctx context.Context, c *Context) error {
	configuration := "Release"
	if c.Debug() {
		configuration = "Debug"
	}
	args := []string{m.Solution,
		"/nologo", "/m",
		"/p:Configuration=" + configuration,
		"/p:Platform=" + m.platform(c.Arch),
	}
	for _, k := range sortedKeys(m.Properties) {
		args = append(args, "/p:"+k+"="+m.Properties[k])
	}
	return c.Exec(ctx, bridge.Native, "", "msbuild", args...)
}

func (m MSBuild) Install(_ context.Context, c *Context) error {
	for _, out := range m.Outputs {
		files := make([]string, len(out.Files))
		for i, f := range out.Files {
			files[i] = c.Expand(f)
		}
		if err := c.Prefix.Install(c.Project, c.SourceDir, files, out.Dest); err != nil {
			return err
		}
	}
	return nil
}

func (MSBuild) PostInstall(context.Context, *Context) error { return nil }
