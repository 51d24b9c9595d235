package project

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateName        = errors.New("duplicate project name")
	ErrUnresolvedDependency = errors.New("unresolved dependency")
	ErrCycle                = errors.New("dependency cycle")
	ErrUnknownProject       = errors.New("unknown project")
	ErrInvalidProject       = errors.New("invalid project")
)

// RegistrationError is a problem with the set of registered projects. It is
// always fatal before any build starts.
type RegistrationError struct {
	Kind       error
	Project    string
	Dependency string   // for unresolved dependencies
	Cycle      []string // for cycles, first element repeated at the end
	Err        error
}

func (e *RegistrationError) Error() string {
	switch e.Kind {
	case ErrCycle:
		return fmt.Sprintf("%v: %s", e.Kind, strings.Join(e.Cycle, " -> "))
	case ErrUnresolvedDependency:
		return fmt.Sprintf("%s: %v %q", e.Project, e.Kind, e.Dependency)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Project, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Project, e.Kind)
}

func (e *RegistrationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func invalidf(project, format string, args ...any) *RegistrationError {
	return &RegistrationError{Kind: ErrInvalidProject, Project: project, Err: fmt.Errorf(format, args...)}
}
