package project

import (
	"path/filepath"
	"slices"
)

// Layout places projects on disk.
type Layout struct {
	SourceRoot string // each project gets SourceRoot/<name>
	Prefix     string // shared install prefix
}

// Entry is one project of a build plan with its resolved directories and
// environment overlay. Entries are created per run.
type Entry struct {
	Project   *Project
	SourceDir string
	Prefix    string
	Path      []string          // tool directories of dependencies
	Env       map[string]string // extra variables for every step
}

// SourceDir is where name's sources live under l.
func (l Layout) SourceDir(name string) string {
	return filepath.Join(l.SourceRoot, name)
}

// Plan turns a resolved order into entries.
func (r *Registry) Plan(order []*Project, l Layout) []*Entry {
	entries := make([]*Entry, 0, len(order))
	for _, p := range order {
		entries = append(entries, &Entry{
			Project:   p,
			SourceDir: l.SourceDir(p.Name),
			Prefix:    l.Prefix,
			Path:      r.toolPath(p, l),
			Env: map[string]string{
				"PKG_CONFIG_PATH": filepath.Join(l.Prefix, "lib", "pkgconfig") +
					string(filepath.ListSeparator) + filepath.Join(l.Prefix, "share", "pkgconfig"),
			},
		})
	}
	return entries
}

// toolPath collects ToolDirs of all tool projects p depends on, nearest
// dependencies first.
func (r *Registry) toolPath(p *Project, l Layout) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []string
	seen := map[string]bool{p.Name: true}
	queue := slices.Clone(p.Dependencies)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if seen[name] {
			continue
		}
		seen[name] = true
		dep, ok := r.projects[name]
		if !ok {
			continue
		}
		for _, d := range dep.ToolDirs {
			if !filepath.IsAbs(d) {
				d = filepath.Join(l.SourceDir(dep.Name), d)
			}
			if !slices.Contains(res, d) {
				res = append(res, d)
			}
		}
		queue = append(queue, dep.Dependencies...)
	}
	return res
}
