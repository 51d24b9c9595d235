// Package state persists per-project build progress so an interrupted or
// failed run can resume where it stopped.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/renameio/v2/maybe"
)

// Step is the last completed stage of a project.
type Step int

const (
	None Step = iota
	Fetch
	Patch
	Configure
	Build
	Install
	PostInstall
)

var stepNames = []string{"none", "fetch", "patch", "configure", "build", "install", "post-install"}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

// ParseStep is the inverse of Step.String.
func ParseStep(s string) (Step, error) {
	if i := slices.Index(stepNames, s); i >= 0 {
		return Step(i), nil
	}
	return None, fmt.Errorf("unknown step %q", s)
}

// Done reports whether s means the project is fully built.
func (s Step) Done() bool { return s == PostInstall }

// Entry is the recorded progress of one project.
type Entry struct {
	Fingerprint string
	Step        Step
	Updated     time.Time
}

type fileEntry struct {
	Fingerprint string    `json:"fingerprint"`
	Step        string    `json:"step"`
	Updated     time.Time `json:"updated"`
}

type fileFormat struct {
	Version  int                  `json:"version"`
	Projects map[string]fileEntry `json:"projects"`
}

const formatVersion = 1

// Manifest is the on-disk record of build progress. All methods are safe
// for concurrent use; every change is written through atomically.
type Manifest struct {
	path string
	log  *slog.Logger

	mu      sync.Mutex
	entries map[string]Entry
}

// Load reads the manifest at path. A missing or unreadable file yields an
// empty manifest: every project then starts from the beginning.
func Load(path string, log *slog.Logger) *Manifest {
	if log == nil {
		log = slog.Default()
	}
	m := &Manifest{path: path, log: log, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return m
	case err != nil:
		log.Warn("cannot read build state, starting fresh", "path", path, "err", err)
		return m
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		log.Warn("corrupt build state, starting fresh", "path", path, "err", err)
		return m
	}
	if ff.Version != formatVersion {
		log.Warn("unsupported build state version, starting fresh", "path", path, "version", ff.Version)
		return m
	}
	for name, fe := range ff.Projects {
		step, err := ParseStep(fe.Step)
		if err != nil || fe.Fingerprint == "" {
			log.Warn("ignoring invalid state entry", "project", name, "step", fe.Step)
			continue
		}
		m.entries[name] = Entry{Fingerprint: fe.Fingerprint, Step: step, Updated: fe.Updated}
	}
	return m
}

// Path is the manifest file location.
func (m *Manifest) Path() string { return m.path }

// Get returns the raw entry of name.
func (m *Manifest) Get(name string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	return e, ok
}

// Resume returns the last completed step of name if its recorded
// fingerprint matches fp. A stale entry is dropped and None returned.
func (m *Manifest) Resume(name, fp string) (Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return None, nil
	}
	if e.Fingerprint == fp {
		return e.Step, nil
	}
	m.log.Info("project changed, rebuilding from scratch", "project", name)
	delete(m.entries, name)
	return None, m.save()
}

// Record stores step as the last completed step of name.
func (m *Manifest) Record(name, fp string, step Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[name] = Entry{Fingerprint: fp, Step: step, Updated: time.Now().UTC()}
	return m.save()
}

// Forget removes the entries of names.
func (m *Manifest) Forget(names ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := false
	for _, n := range names {
		if _, ok := m.entries[n]; ok {
			delete(m.entries, n)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return m.save()
}

// Names returns the projects with recorded progress, sorted.
func (m *Manifest) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []string
	for n := range m.entries {
		res = append(res, n)
	}
	slices.Sort(res)
	return res
}

// save writes the manifest. Callers hold mu.
func (m *Manifest) save() error {
	ff := fileFormat{Version: formatVersion, Projects: make(map[string]fileEntry, len(m.entries))}
	for n, e := range m.entries {
		ff.Projects[n] = fileEntry{Fingerprint: e.Fingerprint, Step: e.Step.String(), Updated: e.Updated}
	}
	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	if err := maybe.WriteFile(m.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing build state: %w", err)
	}
	return nil
}
