package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"stackbuild/internal/project"
	"stackbuild/internal/source"
	"stackbuild/internal/state"
)

const prefetchLimit = 4

func archiveOf(d source.Descriptor) (source.Archive, bool) {
	switch a := d.(type) {
	case source.Archive:
		return a, true
	case *source.Archive:
		return *a, true
	}
	return source.Archive{}, false
}

// prefetch downloads the archives of all entries that will need a fetch,
// a few at a time. Failures are returned per project; they do not stop
// the other downloads.
func (o *Orchestrator) prefetch(ctx context.Context, entries []*project.Entry, resume map[string]state.Step) map[string]error {
	var (
		mu   sync.Mutex
		errs = make(map[string]error)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchLimit)
	for _, e := range entries {
		arc, ok := archiveOf(e.Project.Source)
		if !ok || resume[e.Project.Name] >= state.Fetch {
			continue
		}
		name := e.Project.Name
		g.Go(func() error {
			if _, err := o.Acquirer.Fetch(gctx, name, arc); err != nil {
				o.log(ctx).Warn("prefetch failed", "project", name, "err", err)
				mu.Lock()
				errs[name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errs
}

// Fetch only acquires the sources of the selected projects: archives are
// downloaded into the cache and repositories checked out. A checkout resets
// the source tree, so recorded progress of those projects is dropped.
func (o *Orchestrator) Fetch(ctx context.Context, opts RunOptions) (*Report, error) {
	entries, err := o.Plan(opts)
	if err != nil {
		return &Report{}, err
	}
	if opts.Jobs < 1 {
		opts.Jobs = prefetchLimit
	}
	report := &Report{Results: make([]*Result, len(entries))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Jobs)
	for i, e := range entries {
		res := &Result{Project: e.Project.Name, State: Done, Step: Fetching.String()}
		report.Results[i] = res
		if e.Project.Source == nil {
			res.State = Skipped
			res.Reason = "no source"
			continue
		}
		g.Go(func() error {
			var err error
			if arc, ok := archiveOf(e.Project.Source); ok {
				_, err = o.Acquirer.Fetch(gctx, e.Project.Name, arc)
			} else if err = o.Manifest.Forget(e.Project.Name); err == nil {
				_, err = o.Acquirer.Acquire(gctx, e.Project.Name, e.Project.Source, e.SourceDir)
			}
			if err != nil {
				res.State = Failed
				res.Err = &ProjectError{Project: e.Project.Name, Step: Fetching.String(), Err: err}
			}
			return nil
		})
	}
	g.Wait()
	if ctx.Err() != nil {
		report.Cancelled = true
		return report, ctx.Err()
	}
	return report, nil
}

// Clean removes the source trees and build state of the named projects.
func (o *Orchestrator) Clean(ctx context.Context, names []string) error {
	entries, err := o.Plan(RunOptions{Targets: names, NoDeps: true})
	if err != nil {
		return err
	}
	return o.clean(ctx, entries)
}

func (o *Orchestrator) clean(ctx context.Context, entries []*project.Entry) error {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Project.Name)
		if err := os.RemoveAll(e.SourceDir); err != nil {
			return fmt.Errorf("clean %s: %w", e.Project.Name, err)
		}
		o.log(ctx).Debug("removed source tree", "project", e.Project.Name, "dir", e.SourceDir)
	}
	return o.Manifest.Forget(names...)
}
