package strategy

import (
	"context"
	"fmt"
	"os"

	"stackbuild/internal/bridge"
)

// Action is one unit of work inside a custom step.
type Action interface {
	Do(ctx context.Context, c *Context) error
}

// Do turns actions into a step that runs them in order.
func Do(actions ...Action) StepFunc {
	return func(ctx context.Context, c *Context) error {
		for _, a := range actions {
			if err := a.Do(ctx, c); err != nil {
				return err
			}
		}
		return nil
	}
}

// Exec runs a command. Args and Name may use Context.Expand placeholders.
type Exec struct {
	Name      string
	Args      []string
	Dir       string // relative to the source dir
	Toolchain bridge.Toolchain
	Path      []string
}

func (e Exec) Do(ctx context.Context, c *Context) error {
	dir := c.SourceDir
	if e.Dir != "" {
		dir = c.Expand(e.Dir)
		if !isAbs(dir) {
			dir = joinPath(c.SourceDir, dir)
		}
	}
	if len(e.Path) > 0 {
		cc := *c
		cc.Path = nil
		for _, p := range e.Path {
			cc.Path = append(cc.Path, c.Expand(p))
		}
		cc.Path = append(cc.Path, c.Path...)
		c = &cc
	}
	return c.Exec(ctx, e.Toolchain, dir, e.Name, e.Args...)
}

// InstallFiles copies files from the source tree into the prefix.
type InstallFiles struct {
	Files []string
	Dest  string
}

func (i InstallFiles) Do(_ context.Context, c *Context) error {
	return c.Prefix.Install(c.Project, c.SourceDir, i.Files, i.Dest)
}

// Move relocates files inside the prefix.
type Move struct {
	Files []string // relative to From
	From  string
	To    string
}

func (m Move) Do(_ context.Context, c *Context) error {
	for _, f := range m.Files {
		if err := c.Prefix.Move(c.Project, joinSlash(m.From, f), m.To); err != nil {
			return err
		}
	}
	return nil
}

// Require fails with an environment error when a path is missing. It is
// used by projects standing for pre-installed tools.
type Require struct {
	Paths []string
}

func (r Require) Do(_ context.Context, c *Context) error {
	for _, p := range r.Paths {
		p = c.Expand(p)
		if _, err := os.Stat(p); err != nil {
			return &bridge.EnvironmentError{Msg: fmt.Sprintf("%s requires %s", c.Project, p), Err: err}
		}
	}
	return nil
}
