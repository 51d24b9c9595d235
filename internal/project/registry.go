package project

import (
	"cmp"
	"slices"
	"sync"
)

// Registry is the set of known projects in registration order.
type Registry struct {
	mu       sync.RWMutex
	projects map[string]*Project
	index    map[string]int
	order    []*Project
}

func NewRegistry() *Registry {
	return &Registry{
		projects: make(map[string]*Project),
		index:    make(map[string]int),
	}
}

// Register adds p. Names are unique; dependencies are only checked when
// the graph is resolved, so projects may be registered in any order.
func (r *Registry) Register(p *Project) error {
	if err := p.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.projects[p.Name]; dup {
		return &RegistrationError{Kind: ErrDuplicateName, Project: p.Name}
	}
	if p.Options == nil {
		p.Options = NoOptions{}
	}
	r.index[p.Name] = len(r.order)
	r.projects[p.Name] = p
	r.order = append(r.order, p)
	return nil
}

// MustRegister is Register for built-in catalogs; it panics on error.
func (r *Registry) MustRegister(p *Project) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(name string) (*Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[name]
	return p, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// All returns every project in registration order.
func (r *Registry) All() []*Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Info is the listing view of a project.
type Info struct {
	Name         string   `json:"-"`
	Dependencies []string `json:"dependencies"`
	Type         Type     `json:"type"`
	Version      string   `json:"version,omitempty"`
}

// List describes the registered projects, optionally only those of typ.
func (r *Registry) List(typ Type) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []Info
	for _, p := range r.order {
		if typ != "" && p.Type != typ {
			continue
		}
		deps := slices.Clone(p.Dependencies)
		if deps == nil {
			deps = []string{}
		}
		res = append(res, Info{Name: p.Name, Type: p.Type, Version: p.Version, Dependencies: deps})
	}
	return res
}

// Validate checks that every dependency names a registered project.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.validate()
}

func (r *Registry) validate() error {
	for _, p := range r.order {
		for _, d := range p.Dependencies {
			if _, ok := r.projects[d]; !ok {
				return &RegistrationError{Kind: ErrUnresolvedDependency, Project: p.Name, Dependency: d}
			}
		}
	}
	return nil
}

// Selection picks the projects to resolve.
type Selection struct {
	Names []string // empty selects everything (of Type, if set)
	Type  Type
	// Transitive adds all dependencies of the selected projects. Without
	// it only the selected projects are returned, still in build order.
	Transitive bool
}

const (
	white = iota
	gray
	black
)

// Resolve returns the selected projects in an order where every project
// comes after all of its dependencies. Ties are broken by registration
// order, so the result is stable for identical registrations.
func (r *Registry) Resolve(sel Selection) ([]*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.validate(); err != nil {
		return nil, err
	}

	var roots []*Project
	if len(sel.Names) == 0 {
		for _, p := range r.order {
			if sel.Type == "" || p.Type == sel.Type {
				roots = append(roots, p)
			}
		}
	} else {
		for _, n := range sel.Names {
			p, ok := r.projects[n]
			if !ok {
				return nil, &RegistrationError{Kind: ErrUnknownProject, Project: n}
			}
			if sel.Type != "" && p.Type != sel.Type {
				continue
			}
			if !slices.Contains(roots, p) {
				roots = append(roots, p)
			}
		}
	}
	slices.SortFunc(roots, func(a, b *Project) int { return cmp.Compare(r.index[a.Name], r.index[b.Name]) })

	color := make(map[string]int, len(r.order))
	var stack []string
	var order []*Project

	var visit func(p *Project) error
	visit = func(p *Project) error {
		color[p.Name] = gray
		stack = append(stack, p.Name)
		for _, dep := range r.sortedDeps(p) {
			switch color[dep.Name] {
			case gray:
				i := slices.Index(stack, dep.Name)
				cycle := append(slices.Clone(stack[i:]), dep.Name)
				return &RegistrationError{Kind: ErrCycle, Project: dep.Name, Cycle: cycle}
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[p.Name] = black
		order = append(order, p)
		return nil
	}
	for _, p := range roots {
		if color[p.Name] == white {
			if err := visit(p); err != nil {
				return nil, err
			}
		}
	}

	if sel.Transitive {
		return order, nil
	}
	return slices.DeleteFunc(order, func(p *Project) bool { return !slices.Contains(roots, p) }), nil
}

func (r *Registry) sortedDeps(p *Project) []*Project {
	deps := make([]*Project, 0, len(p.Dependencies))
	for _, d := range p.Dependencies {
		deps = append(deps, r.projects[d])
	}
	slices.SortFunc(deps, func(a, b *Project) int { return cmp.Compare(r.index[a.Name], r.index[b.Name]) })
	return deps
}

// Dependents returns the names of all projects that depend on name,
// directly or transitively.
func (r *Registry) Dependents(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	affected := map[string]bool{name: true}
	for changed := true; changed; {
		changed = false
		for _, p := range r.order {
			if affected[p.Name] {
				continue
			}
			for _, d := range p.Dependencies {
				if affected[d] {
					affected[p.Name] = true
					changed = true
					break
				}
			}
		}
	}
	var res []string
	for _, p := range r.order {
		if p.Name != name && affected[p.Name] {
			res = append(res, p.Name)
		}
	}
	return res
}
