// Package source fetches project sources: verified archives from a shared
// download cache and pinned checkouts of version control repositories.
package source

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Descriptor says where a project's sources come from.
type Descriptor interface {
	Kind() string
	// Key identifies the exact source content, for fingerprinting.
	Key() string
	Validate() error
}

// Archive is a downloadable tarball or zip verified against Hash.
//
// Hash is "sha256:<hex>", "blake3:<hex>" or bare sha256 hex. ExtractRoot
// names the directory inside the archive holding the sources; when empty a
// single top-level directory is stripped.
type Archive struct {
	URL         string
	Hash        string
	ExtractRoot string
	Filename    string
}

func (Archive) Kind() string { return "archive" }

func (a Archive) Key() string { return "archive " + a.URL + " " + a.Hash }

func (a Archive) Validate() error {
	u, err := url.Parse(a.URL)
	if err != nil {
		return fmt.Errorf("archive url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("archive url %q: unsupported scheme", a.URL)
	}
	if _, _, err := parseHash(a.Hash); err != nil {
		return err
	}
	if _, err := archiveFormat(a.filename()); err != nil {
		return err
	}
	return nil
}

func (a Archive) filename() string {
	if a.Filename != "" {
		return a.Filename
	}
	if u, err := url.Parse(a.URL); err == nil {
		return path.Base(u.Path)
	}
	return path.Base(a.URL)
}

// Repository is a version control checkout pinned to Ref (tag, branch or
// commit).
type Repository struct {
	URL        string
	Ref        string
	Submodules bool
}

func (Repository) Kind() string { return "repository" }

func (r Repository) Key() string {
	return fmt.Sprintf("repository %s %s submodules=%t", r.URL, r.Ref, r.Submodules)
}

func (r Repository) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("repository url missing")
	}
	if r.Ref == "" {
		return fmt.Errorf("repository %s: ref missing", r.URL)
	}
	return nil
}

// Expand replaces {version}, {major}, {minor} and {micro} in s with the
// components of version.
func Expand(s, version string) string {
	if !strings.Contains(s, "{") {
		return s
	}
	parts := strings.SplitN(version, ".", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return strings.NewReplacer(
		"{version}", version,
		"{major}", parts[0],
		"{minor}", parts[1],
		"{micro}", parts[2],
	).Replace(s)
}
