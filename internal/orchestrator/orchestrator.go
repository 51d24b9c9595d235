// Package orchestrator drives resolved projects through fetch, patch and
// the build lifecycle, persisting progress after every completed step.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"stackbuild/internal/bridge"
	"stackbuild/internal/console"
	"stackbuild/internal/project"
	"stackbuild/internal/source"
	"stackbuild/internal/state"
	"stackbuild/internal/strategy"
)

// Acquirer fetches sources. *source.Acquirer implements it.
type Acquirer interface {
	Acquire(ctx context.Context, project string, d source.Descriptor, dest string) (string, error)
	Fetch(ctx context.Context, project string, arc source.Archive) (string, error)
}

// EnvChecker validates the toolchain before anything runs.
type EnvChecker interface {
	Check(ctx context.Context, needPosix bool) error
}

// Orchestrator builds projects of a registry.
type Orchestrator struct {
	Registry      *project.Registry
	Acquirer      Acquirer
	Runner        bridge.Runner
	Checker       EnvChecker // optional
	Manifest      *state.Manifest
	Layout        project.Layout
	Prefix        *strategy.Prefix
	PatchesDir    string
	LogDir        string
	Configuration string
	Arch          string
	Printer       *console.Printer // optional status lines
	// OnTransition observes every state change.
	OnTransition func(project string, from, to State)

	mu     sync.Mutex
	states map[string]State
}

// RunOptions control one build run.
type RunOptions struct {
	Targets           []string
	Type              project.Type
	NoDeps            bool
	Force             bool
	ContinueOnFailure bool
	Jobs              int // projects built at once
	BuildJobs         int // parallelism handed to build tools
	Clean             bool
	Retries           int
	Prefetch          bool
}

func (o *Orchestrator) log(ctx context.Context) *slog.Logger {
	return console.FromContext(ctx)
}

func (o *Orchestrator) status(format string, args ...any) {
	if o.Printer != nil {
		o.Printer.Step(format, args...)
	}
}

// State returns the current state of name in the running or last run.
func (o *Orchestrator) State(name string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.states[name]
}

func (o *Orchestrator) transition(ctx context.Context, name string, to State) {
	o.mu.Lock()
	from := o.states[name]
	if !CanTransition(from, to) {
		o.mu.Unlock()
		o.log(ctx).Error("illegal state transition", "project", name, "from", from, "to", to)
		return
	}
	o.states[name] = to
	o.mu.Unlock()
	o.log(ctx).Debug("transition", "project", name, "from", from, "to", to)
	if o.OnTransition != nil {
		o.OnTransition(name, from, to)
	}
}

// Plan resolves the projects a run with opts would touch.
func (o *Orchestrator) Plan(opts RunOptions) ([]*project.Entry, error) {
	order, err := o.Registry.Resolve(project.Selection{
		Names:      opts.Targets,
		Type:       opts.Type,
		Transitive: !opts.NoDeps,
	})
	if err != nil {
		return nil, err
	}
	return o.Registry.Plan(order, o.Layout), nil
}

// fingerprint ties recorded progress to the build variant as well, since
// release and debug builds share the manifest.
func (o *Orchestrator) fingerprint(p *project.Project) (string, error) {
	return project.Fingerprint(p, o.PatchesDir, o.Arch+"-"+o.Configuration)
}

// Run builds the selected projects. The report is always returned; the
// error is non-nil for registration errors, environment errors and
// cancellation. Failed projects alone do not produce an error.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	entries, err := o.Plan(opts)
	if err != nil {
		return &Report{}, err
	}
	if o.Checker != nil {
		needPosix := false
		for _, e := range entries {
			needPosix = needPosix || strategy.UsesPosix(e.Project.Strategy)
		}
		if err := o.Checker.Check(ctx, needPosix); err != nil {
			return &Report{}, err
		}
	}
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}

	o.mu.Lock()
	o.states = make(map[string]State, len(entries))
	o.mu.Unlock()

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Project.Name
	}
	if opts.Clean {
		if err := o.clean(ctx, entries); err != nil {
			return &Report{}, err
		}
	} else if opts.Force {
		if err := o.Manifest.Forget(names...); err != nil {
			return &Report{}, err
		}
	}

	r := &run{
		o:       o,
		opts:    opts,
		entries: make(map[string]*project.Entry, len(entries)),
		results: make(map[string]*Result, len(entries)),
		resume:  make(map[string]state.Step, len(entries)),
		fps:     make(map[string]string, len(entries)),
	}
	for _, e := range entries {
		name := e.Project.Name
		r.entries[name] = e
		r.order = append(r.order, name)
		r.results[name] = &Result{Project: name, State: Pending}
		fp, err := o.fingerprint(e.Project)
		if err != nil {
			return &Report{}, err
		}
		r.fps[name] = fp
		step, err := o.Manifest.Resume(name, fp)
		if err != nil {
			return &Report{}, &bridge.EnvironmentError{Msg: "reading build state", Err: err}
		}
		if step != state.None && !step.Done() {
			if _, err := os.Stat(e.SourceDir); err != nil {
				o.log(ctx).Warn("source tree gone, starting over", "project", name)
				step = state.None
			}
		}
		r.resume[name] = step
	}

	if opts.Prefetch {
		r.prefetchErrs = o.prefetch(ctx, entries, r.resume)
	}

	return r.execute(ctx)
}

// run is the mutable state of one Run call.
type run struct {
	o            *Orchestrator
	opts         RunOptions
	order        []string
	entries      map[string]*project.Entry
	results      map[string]*Result
	resume       map[string]state.Step
	fps          map[string]string
	prefetchErrs map[string]error
}

type outcome struct {
	name string
	res  *Result
}

type readiness int

const (
	waiting readiness = iota
	ready
	blocked
)

func (r *run) depsState(name string) (readiness, string) {
	for _, dep := range r.entries[name].Project.Dependencies {
		res, planned := r.results[dep]
		if !planned {
			continue
		}
		switch res.State {
		case Done:
		case Failed:
			return blocked, fmt.Sprintf("dependency %s failed", dep)
		case Skipped:
			return blocked, fmt.Sprintf("dependency %s skipped", dep)
		default:
			return waiting, ""
		}
	}
	return ready, ""
}

func (r *run) skip(ctx context.Context, name, reason string) {
	r.o.transition(ctx, name, Skipped)
	res := r.results[name]
	res.State = Skipped
	res.Reason = reason
}

// execute is the scheduling loop: start every ready project while slots
// are free, then wait for one to finish.
func (r *run) execute(ctx context.Context) (*Report, error) {
	log := r.o.log(ctx)
	pending := append([]string(nil), r.order...)
	running := make(map[string]bool)
	results := make(chan outcome, len(r.order))
	halted := ""
	var fatal error

	for len(pending) > 0 || len(running) > 0 {
		if halted == "" && ctx.Err() != nil {
			halted = "cancelled"
		}
		if halted == "" {
			var next []string
			for _, name := range pending {
				rd, reason := r.depsState(name)
				switch {
				case rd == blocked:
					r.skip(ctx, name, reason)
				case rd == waiting || len(running) >= r.opts.Jobs:
					next = append(next, name)
				default:
					running[name] = true
					r.start(ctx, name, results)
				}
			}
			pending = next
		}
		if len(running) == 0 {
			break
		}

		out := <-results
		delete(running, out.name)
		r.results[out.name] = out.res
		if out.res.State != Failed {
			continue
		}
		var envErr *bridge.EnvironmentError
		switch {
		case errors.As(out.res.Err, &envErr):
			log.Error("environment broken, stopping", "project", out.name, "err", out.res.Err)
			fatal = envErr
			halted = "run stopped: environment error"
		case ctx.Err() != nil:
			halted = "cancelled"
		case !r.opts.ContinueOnFailure && halted == "":
			halted = "run halted after " + out.name + " failed"
		}
	}

	for _, name := range pending {
		reason := halted
		if reason == "" {
			// only reachable when every remaining project waits on one
			// that never ran
			reason = "not started"
		}
		r.skip(ctx, name, reason)
	}

	report := &Report{Cancelled: ctx.Err() != nil}
	for _, name := range r.order {
		report.Results = append(report.Results, r.results[name])
	}
	switch {
	case fatal != nil:
		return report, fatal
	case report.Cancelled:
		return report, ctx.Err()
	}
	return report, nil
}

func (r *run) start(ctx context.Context, name string, results chan<- outcome) {
	entry := r.entries[name]
	resume := r.resume[name]
	res := &Result{Project: name, State: Pending, ResumedFrom: resume}

	if resume.Done() {
		r.o.transition(ctx, name, Done)
		res.State = Done
		res.UpToDate = true
		res.Step = resume.String()
		results <- outcome{name: name, res: res}
		return
	}
	if err := r.prefetchErrs[name]; err != nil {
		r.o.transition(ctx, name, Failed)
		res.State = Failed
		res.Step = Fetching.String()
		res.Err = &ProjectError{Project: name, Step: Fetching.String(), Err: err}
		results <- outcome{name: name, res: res}
		return
	}

	r.o.status("Building %s %s", name, entry.Project.Version)
	go func() {
		start := time.Now()
		r.o.build(ctx, entry, r.fps[name], resume, r.opts, res)
		res.Duration = time.Since(start)
		results <- outcome{name: name, res: res}
	}()
}

// build walks entry through the working states, starting after resume.
func (o *Orchestrator) build(ctx context.Context, entry *project.Entry, fp string, resume state.Step, opts RunOptions, res *Result) {
	p := entry.Project
	log := o.log(ctx).With("project", p.Name)

	logW, logPath, closeLog := o.openLog(p.Name)
	defer closeLog()
	res.LogFile = logPath
	fmt.Fprintf(logW, "# %s %s (resume after %s)\n", p.Name, p.Version, resume)

	// a half-patched tree cannot be patched again, so fetch anew
	refetch := resume < state.Fetch || (resume < state.Patch && len(p.Patches) > 0)

	sctx := &strategy.Context{
		Project:       p.Name,
		Version:       p.Version,
		SourceDir:     entry.SourceDir,
		Prefix:        o.Prefix,
		Configuration: o.Configuration,
		Arch:          o.Arch,
		Jobs:          opts.BuildJobs,
		Path:          entry.Path,
		Env:           entry.Env,
		Runner:        o.Runner,
		Log:           logW,
	}

	for _, st := range active {
		if persisted(st) <= resume && !(refetch && st <= Patching) {
			continue
		}
		o.transition(ctx, p.Name, st)
		res.State = st
		res.Step = st.String()
		log.Debug("step", "state", st)

		var err error
		switch st {
		case Fetching:
			err = o.fetch(ctx, entry)
		case Patching:
			if len(p.Patches) > 0 {
				err = source.ApplyPatches(entry.SourceDir, o.PatchesDir, p.Patches)
				if err != nil {
					err = &source.AcquisitionError{Project: p.Name, Kind: source.ErrPatch, Err: err}
				}
			}
		default:
			step, _ := lifecycleStep(st)
			err = o.runStep(ctx, p, step, sctx, opts.Retries, res)
		}
		if err != nil {
			log.Error("step failed", "state", st, "err", err)
			fmt.Fprintf(logW, "# %s failed: %v\n", st, err)
			o.transition(ctx, p.Name, Failed)
			res.State = Failed
			res.Err = &ProjectError{Project: p.Name, Step: st.String(), Err: err}
			o.status("%s failed at %s", p.Name, st)
			return
		}
		if err := o.Manifest.Record(p.Name, fp, persisted(st)); err != nil {
			o.transition(ctx, p.Name, Failed)
			res.State = Failed
			res.Err = &ProjectError{Project: p.Name, Step: st.String(),
				Err: &bridge.EnvironmentError{Msg: "recording build state", Err: err}}
			return
		}
	}
	o.transition(ctx, p.Name, Done)
	res.State = Done
	if o.Prefix != nil {
		res.Mutations = o.Prefix.Audit(p.Name)
	}
	o.status("%s done", p.Name)
}

func (o *Orchestrator) fetch(ctx context.Context, entry *project.Entry) error {
	if entry.Project.Source == nil {
		return os.MkdirAll(entry.SourceDir, 0o755)
	}
	_, err := o.Acquirer.Acquire(ctx, entry.Project.Name, entry.Project.Source, entry.SourceDir)
	return err
}

func (o *Orchestrator) runStep(ctx context.Context, p *project.Project, step strategy.Step, sctx *strategy.Context, retries int, res *Result) error {
	var envErr *bridge.EnvironmentError
	for attempt := 0; ; attempt++ {
		res.Attempts++
		err := strategy.RunStep(ctx, p.Strategy, step, sctx)
		if err == nil || attempt >= retries || ctx.Err() != nil || errors.As(err, &envErr) {
			return err
		}
		o.log(ctx).Warn("retrying step", "project", p.Name, "step", step, "attempt", attempt+1, "err", err)
		fmt.Fprintf(sctx.Log, "# retrying %s after: %v\n", step, err)
	}
}

func (o *Orchestrator) openLog(name string) (io.Writer, string, func()) {
	if o.LogDir == "" {
		return io.Discard, "", func() {}
	}
	if err := os.MkdirAll(o.LogDir, 0o755); err != nil {
		return io.Discard, "", func() {}
	}
	path := filepath.Join(o.LogDir, name+".log")
	f, err := os.Create(path)
	if err != nil {
		return io.Discard, "", func() {}
	}
	return f, path, func() { f.Close() }
}
