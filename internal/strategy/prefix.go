package strategy

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Mutation is one recorded change to the shared install prefix made
// outside a build system's own install step.
type Mutation struct {
	Project string
	Op      string // install or move
	From    string
	To      string
	At      time.Time
}

// Prefix is the shared install tree. Build systems write into it directly;
// recipe hooks go through Install and Move so every change is recorded.
type Prefix struct {
	Root string
	Log  *slog.Logger

	mu    sync.Mutex
	audit []Mutation
}

// NewPrefix returns a Prefix rooted at root.
func NewPrefix(root string, log *slog.Logger) *Prefix {
	if log == nil {
		log = slog.Default()
	}
	return &Prefix{Root: root, Log: log}
}

func (p *Prefix) path(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("prefix path %q must be relative", rel)
	}
	abs := filepath.Join(p.Root, filepath.FromSlash(rel))
	if abs != p.Root && !strings.HasPrefix(abs, p.Root+string(os.PathSeparator)) {
		return "", fmt.Errorf("prefix path %q escapes %s", rel, p.Root)
	}
	return abs, nil
}

func (p *Prefix) record(m Mutation) {
	m.At = time.Now()
	p.mu.Lock()
	p.audit = append(p.audit, m)
	p.mu.Unlock()
	p.Log.Info("prefix mutation", "project", m.Project, "op", m.Op, "from", m.From, "to", m.To)
}

// Audit returns the mutations recorded so far, optionally only those of
// project.
func (p *Prefix) Audit(project string) []Mutation {
	p.mu.Lock()
	defer p.mu.Unlock()
	var res []Mutation
	for _, m := range p.audit {
		if project == "" || m.Project == project {
			res = append(res, m)
		}
	}
	return res
}

// Install copies files (relative to srcDir, glob patterns allowed) into
// the prefix directory destRel.
func (p *Prefix) Install(project, srcDir string, files []string, destRel string) error {
	dest, err := p.path(destRel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	for _, pattern := range files {
		matches, err := filepath.Glob(filepath.Join(srcDir, filepath.FromSlash(pattern)))
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			return fmt.Errorf("install %s: no such file", pattern)
		}
		for _, src := range matches {
			to := filepath.Join(dest, filepath.Base(src))
			if err := copyFile(src, to); err != nil {
				return fmt.Errorf("install %s: %w", src, err)
			}
			p.record(Mutation{Project: project, Op: "install", From: src, To: to})
		}
	}
	return nil
}

// Move renames fromRel to toRel inside the prefix. When toRel is an
// existing directory the file keeps its name. A move that already happened
// (source gone, destination present) succeeds without a new record.
func (p *Prefix) Move(project, fromRel, toRel string) error {
	from, err := p.path(fromRel)
	if err != nil {
		return err
	}
	to, err := p.path(toRel)
	if err != nil {
		return err
	}
	if fi, err := os.Stat(to); err == nil && fi.IsDir() {
		to = filepath.Join(to, filepath.Base(from))
	}
	if _, err := os.Lstat(from); errors.Is(err, fs.ErrNotExist) {
		if _, err := os.Lstat(to); err == nil {
			p.Log.Debug("already moved", "project", project, "from", from, "to", to)
			return nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("move %s: %w", fromRel, err)
	}
	p.record(Mutation{Project: project, Op: "move", From: from, To: to})
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
