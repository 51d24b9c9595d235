package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"stackbuild/internal/bridge"
	"stackbuild/internal/console"
)

func (a *Acquirer) git(ctx context.Context, dir string, args ...string) error {
	_, err := a.Runner.Run(ctx, bridge.Command{
		Name:      "git",
		Args:      args,
		Dir:       dir,
		Toolchain: bridge.Native,
		Env:       map[string]string{"GIT_TERMINAL_PROMPT": "0"},
	})
	return err
}

// acquireRepository clones on first use and fetches afterwards, then forces
// the work tree to the pinned ref. Untracked files from earlier builds are
// removed so re-acquiring always yields the same tree.
func (a *Acquirer) acquireRepository(ctx context.Context, project string, r Repository, dest string) (string, error) {
	if a.Runner == nil {
		return "", acqErr(project, ErrCheckout, fmt.Errorf("no command runner for git"))
	}
	log := console.FromContext(ctx)

	if _, err := os.Stat(filepath.Join(dest, ".git")); err != nil {
		if err := os.RemoveAll(dest); err != nil {
			return "", acqErr(project, ErrCheckout, err)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", acqErr(project, ErrCheckout, err)
		}
		log.Info("cloning", "project", project, "url", r.URL)
		if err := a.git(ctx, filepath.Dir(dest), "clone", "--no-checkout", r.URL, dest); err != nil {
			return "", acqErr(project, ErrDownload, err)
		}
	} else {
		log.Debug("fetching", "project", project, "url", r.URL)
		if err := a.git(ctx, dest, "remote", "set-url", "origin", r.URL); err != nil {
			return "", acqErr(project, ErrCheckout, err)
		}
		if err := a.git(ctx, dest, "fetch", "--tags", "--force", "origin"); err != nil {
			return "", acqErr(project, ErrDownload, err)
		}
	}

	steps := [][]string{
		{"checkout", "--force", "--detach", r.Ref},
		{"clean", "-ffdx"},
	}
	if r.Submodules {
		steps = append(steps, []string{"submodule", "update", "--init", "--recursive", "--force"})
	}
	for _, args := range steps {
		if err := a.git(ctx, dest, args...); err != nil {
			return "", acqErr(project, ErrCheckout, err)
		}
	}
	return dest, nil
}
