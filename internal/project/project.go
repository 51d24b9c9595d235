// Package project holds the project records and the registry that orders
// them into a build plan.
package project

import (
	"fmt"
	"regexp"

	"stackbuild/internal/source"
	"stackbuild/internal/strategy"
)

// Type classifies a project.
type Type string

const (
	TypeLibrary Type = "library"
	TypeTool    Type = "tool"
	TypeRuntime Type = "language-runtime"
	TypeGroup   Type = "group"
)

// Types lists all project types in display order.
var Types = []Type{TypeLibrary, TypeTool, TypeRuntime, TypeGroup}

func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown project type %q", s)
}

// Options are the build-time switches of a project. They are fixed when the
// project is constructed and never change afterwards.
type Options interface {
	Validate() error
}

// NoOptions is for projects without switches.
type NoOptions struct{}

func (NoOptions) Validate() error { return nil }

// Project is one buildable unit pinned to an exact version.
type Project struct {
	Name         string
	Type         Type
	Version      string
	Source       source.Descriptor // nil for groups and pre-installed tools
	Dependencies []string
	Patches      []string
	Options      Options
	Strategy     strategy.Strategy // nil means nothing to build

	// ToolDirs are put on PATH for every dependent. Relative entries are
	// resolved against the project's source directory.
	ToolDirs []string
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]*$`)

func (p *Project) validate() error {
	if !nameRe.MatchString(p.Name) {
		return invalidf(p.Name, "malformed name")
	}
	if _, err := ParseType(string(p.Type)); err != nil {
		return invalidf(p.Name, "%w", err)
	}
	if p.Type != TypeGroup && p.Version == "" {
		return invalidf(p.Name, "version must be pinned")
	}
	if p.Source != nil {
		if err := p.Source.Validate(); err != nil {
			return invalidf(p.Name, "source: %w", err)
		}
	}
	if len(p.Patches) > 0 && p.Source == nil {
		return invalidf(p.Name, "patches without a source")
	}
	seen := make(map[string]bool, len(p.Dependencies))
	for _, d := range p.Dependencies {
		if d == p.Name {
			return &RegistrationError{Kind: ErrCycle, Project: p.Name, Cycle: []string{p.Name, p.Name}}
		}
		if seen[d] {
			return invalidf(p.Name, "dependency %q listed twice", d)
		}
		seen[d] = true
	}
	if p.Options != nil {
		if err := p.Options.Validate(); err != nil {
			return &RegistrationError{Kind: ErrInvalidProject, Project: p.Name, Err: fmt.Errorf("options: %w", err)}
		}
	}
	return nil
}
