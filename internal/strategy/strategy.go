// Package strategy turns a fetched source tree into installed files. Every
// project gets the same four-step lifecycle; build systems differ only in
// what each step runs.
package strategy

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"stackbuild/internal/bridge"
)

// Step is one stage of the build lifecycle.
type Step int

const (
	Configure Step = iota
	Build
	Install
	PostInstall
)

// Steps lists the lifecycle in execution order.
var Steps = []Step{Configure, Build, Install, PostInstall}

func (s Step) String() string {
	switch s {
	case Configure:
		return "configure"
	case Build:
		return "build"
	case Install:
		return "install"
	case PostInstall:
		return "post-install"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Strategy is a build system. A non-nil error aborts the project.
type Strategy interface {
	Configure(ctx context.Context, c *Context) error
	Build(ctx context.Context, c *Context) error
	Install(ctx context.Context, c *Context) error
	PostInstall(ctx context.Context, c *Context) error
}

// StepFunc is the shape of a single lifecycle step.
type StepFunc func(ctx context.Context, c *Context) error

// StepError is a failed lifecycle step.
type StepError struct {
	Project string
	Step    Step
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Project, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Context is everything a strategy may use while building one project.
type Context struct {
	Project       string
	Version       string
	SourceDir     string
	Prefix        *Prefix
	Configuration string // release or debug
	Arch          string
	Jobs          int
	Path          []string
	Env           map[string]string
	Runner        bridge.Runner
	Log           io.Writer
}

// Debug reports a debug configuration.
func (c *Context) Debug() bool { return c.Configuration == "debug" }

// Expand substitutes {prefix}, {source}, {configuration}, {arch}, {jobs}
// and {version} in s.
func (c *Context) Expand(s string) string {
	if !strings.Contains(s, "{") {
		return s
	}
	return strings.NewReplacer(
		"{prefix}", c.Prefix.Root,
		"{source}", c.SourceDir,
		"{configuration}", c.Configuration,
		"{arch}", c.Arch,
		"{jobs}", strconv.Itoa(c.jobs()),
		"{version}", c.Version,
	).Replace(s)
}

func (c *Context) jobs() int {
	if c.Jobs < 1 {
		return 1
	}
	return c.Jobs
}

// Exec runs name in dir (the source dir when empty) with the project's
// environment overlay.
func (c *Context) Exec(ctx context.Context, tc bridge.Toolchain, dir, name string, args ...string) error {
	if dir == "" {
		dir = c.SourceDir
	}
	expanded := make([]string, len(args))
	for i, a := range args {
		expanded[i] = c.Expand(a)
	}
	if c.Log != nil {
		fmt.Fprintf(c.Log, "+ %s %s\n", name, strings.Join(expanded, " "))
	}
	_, err := c.Runner.Run(ctx, bridge.Command{
		Name:      c.Expand(name),
		Args:      expanded,
		Dir:       dir,
		Env:       c.Env,
		Path:      c.Path,
		Toolchain: tc,
		Stdout:    c.Log,
	})
	return err
}

// RunStep runs one step of s and wraps failures in a StepError.
func RunStep(ctx context.Context, s Strategy, step Step, c *Context) error {
	if s == nil {
		return nil
	}
	var err error
	switch step {
	case Configure:
		err = s.Configure(ctx, c)
	case Build:
		err = s.Build(ctx, c)
	case Install:
		err = s.Install(ctx, c)
	case PostInstall:
		err = s.PostInstall(ctx, c)
	default:
		err = fmt.Errorf("unknown step %v", step)
	}
	if err != nil {
		return &StepError{Project: c.Project, Step: step, Err: err}
	}
	return nil
}

// Noop does nothing in every step. Groups and pre-installed tools use it.
type Noop struct{}

func (Noop) Configure(context.Context, *Context) error   { return nil }
func (Noop) Build(context.Context, *Context) error       { return nil }
func (Noop) Install(context.Context, *Context) error     { return nil }
func (Noop) PostInstall(context.Context, *Context) error { return nil }
