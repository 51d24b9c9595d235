package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"git.fractalqb.de/fractalqb/testerr"

	"stackbuild/internal/bridge"
	"stackbuild/internal/console"
	"stackbuild/internal/project"
	"stackbuild/internal/source"
	"stackbuild/internal/state"
	"stackbuild/internal/strategy"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error // "project:step" -> error returned once per entry
	flaky map[string]int   // "project:step" -> failures before success
}

func (r *recorder) step(s strategy.Step) strategy.StepFunc {
	return func(_ context.Context, c *strategy.Context) error {
		key := c.Project + ":" + s.String()
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, key)
		if err, ok := r.fail[key]; ok {
			return err
		}
		if r.flaky[key] > 0 {
			r.flaky[key]--
			return errors.New("flaky")
		}
		return nil
	}
}

func (r *recorder) strategy() strategy.Strategy {
	return strategy.Custom(strategy.Hooks{
		Configure:   r.step(strategy.Configure),
		Build:       r.step(strategy.Build),
		Install:     r.step(strategy.Install),
		PostInstall: r.step(strategy.PostInstall),
	})
}

func (r *recorder) called() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

type fakeAcquirer struct {
	mu      sync.Mutex
	fetched []string
}

func (a *fakeAcquirer) Acquire(_ context.Context, project string, _ source.Descriptor, dest string) (string, error) {
	a.mu.Lock()
	a.fetched = append(a.fetched, project)
	a.mu.Unlock()
	return dest, os.MkdirAll(dest, 0o755)
}

func (a *fakeAcquirer) Fetch(_ context.Context, project string, _ source.Archive) (string, error) {
	a.mu.Lock()
	a.fetched = append(a.fetched, project)
	a.mu.Unlock()
	return "", nil
}

type fixture struct {
	dir  string
	reg  *project.Registry
	rec  *recorder
	acq  *fakeAcquirer
	orch *Orchestrator
}

// newFixture registers projects given as "name:dep,dep".
func newFixture(t *testing.T, specs ...string) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir: dir,
		reg: project.NewRegistry(),
		rec: &recorder{fail: map[string]error{}, flaky: map[string]int{}},
		acq: &fakeAcquirer{},
	}
	for _, s := range specs {
		name, deps, _ := strings.Cut(s, ":")
		p := &project.Project{
			Name:     name,
			Type:     project.TypeLibrary,
			Version:  "1.0",
			Source:   source.Repository{URL: "https://example.com/" + name + ".git", Ref: "v1.0"},
			Strategy: f.rec.strategy(),
		}
		if deps != "" {
			p.Dependencies = strings.Split(deps, ",")
		}
		f.reg.MustRegister(p)
	}
	f.orch = &Orchestrator{
		Registry: f.reg,
		Acquirer: f.acq,
		Manifest: state.Load(filepath.Join(dir, "state.json"), console.Discard()),
		Layout: project.Layout{
			SourceRoot: filepath.Join(dir, "build"),
			Prefix:     filepath.Join(dir, "prefix"),
		},
		Prefix:        strategy.NewPrefix(filepath.Join(dir, "prefix"), console.Discard()),
		PatchesDir:    filepath.Join(dir, "patches"),
		LogDir:        filepath.Join(dir, "logs"),
		Configuration: "release",
		Arch:          "x64",
	}
	return f
}

func lifecycle(name string) []string {
	return []string{name + ":configure", name + ":build", name + ":install", name + ":post-install"}
}

func TestRun_dependencyOrder(t *testing.T) {
	f := newFixture(t, "C:B", "B:A", "A")
	rep, err := f.orch.Run(context.Background(), RunOptions{Jobs: 1})
	testerr.Shall(err).BeNil(t)

	want := slices.Concat(lifecycle("A"), lifecycle("B"), lifecycle("C"))
	if got := f.rec.called(); !slices.Equal(got, want) {
		t.Fatalf("calls %v, want %v", got, want)
	}
	if !rep.OK() {
		done, failed, skipped := rep.Counts()
		t.Fatalf("report not ok: done=%d failed=%d skipped=%d", done, failed, skipped)
	}
	for _, n := range []string{"A", "B", "C"} {
		e, ok := f.orch.Manifest.Get(n)
		if !ok || e.Step != state.PostInstall {
			t.Errorf("%s manifest entry %+v", n, e)
		}
		if res := rep.Get(n); res.LogFile == "" {
			t.Errorf("%s has no log file", n)
		}
	}
}

func TestRun_upToDate(t *testing.T) {
	f := newFixture(t, "A", "B:A")
	_, err := f.orch.Run(context.Background(), RunOptions{Jobs: 2})
	testerr.Shall(err).BeNil(t)
	before := len(f.rec.called())

	rep, err := f.orch.Run(context.Background(), RunOptions{Jobs: 2})
	testerr.Shall(err).BeNil(t)
	if n := len(f.rec.called()); n != before {
		t.Errorf("second run executed %d steps", n-before)
	}
	for _, res := range rep.Results {
		if res.State != Done || !res.UpToDate {
			t.Errorf("%s: state %s up-to-date %t", res.Project, res.State, res.UpToDate)
		}
	}
}

func TestRun_continueOnFailure(t *testing.T) {
	f := newFixture(t, "A", "B:A", "C")
	f.rec.fail["A:build"] = errors.New("compiler exploded")

	rep, err := f.orch.Run(context.Background(), RunOptions{Jobs: 1, ContinueOnFailure: true})
	testerr.Shall(err).BeNil(t)

	a := rep.Get("A")
	if a.State != Failed || a.Step != Building.String() {
		t.Errorf("A: %s at %s", a.State, a.Step)
	}
	var perr *ProjectError
	if !errors.As(a.Err, &perr) || perr.Project != "A" {
		t.Errorf("A error %v", a.Err)
	}
	b := rep.Get("B")
	if b.State != Skipped || b.Reason != "dependency A failed" {
		t.Errorf("B: %s (%s)", b.State, b.Reason)
	}
	if c := rep.Get("C"); c.State != Done {
		t.Errorf("C: %s", c.State)
	}
	if e, _ := f.orch.Manifest.Get("A"); e.Step != state.Configure {
		t.Errorf("A recorded at %s", e.Step)
	}
}

func TestRun_haltOnFailure(t *testing.T) {
	f := newFixture(t, "A", "B:A", "C")
	f.rec.fail["A:configure"] = errors.New("no")

	rep, err := f.orch.Run(context.Background(), RunOptions{Jobs: 1})
	testerr.Shall(err).BeNil(t)
	for _, n := range []string{"B", "C"} {
		res := rep.Get(n)
		if res.State != Skipped || !strings.Contains(res.Reason, "halted") {
			t.Errorf("%s: %s (%s)", n, res.State, res.Reason)
		}
	}
	if slices.Contains(f.rec.called(), "C:configure") {
		t.Error("C started after halt")
	}
	if rep.OK() {
		t.Error("report ok despite failure")
	}
}

func TestRun_resume(t *testing.T) {
	f := newFixture(t, "A", "B")
	for name, step := range map[string]state.Step{"A": state.Build, "B": state.PostInstall} {
		p, _ := f.reg.Get(name)
		fp := testerr.Shall1(f.orch.fingerprint(p)).BeNil(t)
		testerr.Shall(f.orch.Manifest.Record(name, fp, step)).BeNil(t)
		testerr.Shall(os.MkdirAll(f.orch.Layout.SourceDir(name), 0o755)).BeNil(t)
	}

	var mu sync.Mutex
	var seen []string
	f.orch.OnTransition = func(p string, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		if p == "A" {
			seen = append(seen, to.String())
		}
	}

	rep, err := f.orch.Run(context.Background(), RunOptions{Jobs: 1})
	testerr.Shall(err).BeNil(t)

	if got, want := f.rec.called(), []string{"A:install", "A:post-install"}; !slices.Equal(got, want) {
		t.Errorf("calls %v, want %v", got, want)
	}
	if len(f.acq.fetched) != 0 {
		t.Errorf("fetched %v", f.acq.fetched)
	}
	if a := rep.Get("A"); a.ResumedFrom != state.Build || a.State != Done {
		t.Errorf("A: resumed from %s, %s", a.ResumedFrom, a.State)
	}
	if b := rep.Get("B"); !b.UpToDate {
		t.Error("B rebuilt")
	}
	if want := []string{"installing", "post-installing", "done"}; !slices.Equal(seen, want) {
		t.Errorf("transitions %v, want %v", seen, want)
	}
}

func TestRun_resumeAfterFailure(t *testing.T) {
	f := newFixture(t, "P")
	f.rec.fail["P:build"] = errors.New("link error")
	rep, err := f.orch.Run(context.Background(), RunOptions{})
	testerr.Shall(err).BeNil(t)
	if p := rep.Get("P"); p.State != Failed {
		t.Fatalf("P: %s", p.State)
	}

	delete(f.rec.fail, "P:build")
	before := len(f.rec.called())
	rep, err = f.orch.Run(context.Background(), RunOptions{})
	testerr.Shall(err).BeNil(t)

	got := f.rec.called()[before:]
	if want := []string{"P:build", "P:install", "P:post-install"}; !slices.Equal(got, want) {
		t.Errorf("calls %v, want %v", got, want)
	}
	if !slices.Equal(f.acq.fetched, []string{"P"}) {
		t.Errorf("fetched %v", f.acq.fetched)
	}
	if p := rep.Get("P"); p.State != Done || p.ResumedFrom != state.Configure {
		t.Errorf("P: %s resumed from %s", p.State, p.ResumedFrom)
	}
}

func TestRun_otherConfigurationRebuilds(t *testing.T) {
	f := newFixture(t, "A")
	_, err := f.orch.Run(context.Background(), RunOptions{})
	testerr.Shall(err).BeNil(t)
	before := len(f.rec.called())

	f.orch.Configuration = "debug"
	f.orch.Layout.SourceRoot = filepath.Join(f.dir, "build-debug")
	rep, err := f.orch.Run(context.Background(), RunOptions{})
	testerr.Shall(err).BeNil(t)

	if a := rep.Get("A"); a.UpToDate || a.State != Done {
		t.Errorf("A: %s up-to-date %t", a.State, a.UpToDate)
	}
	if got := f.rec.called()[before:]; !slices.Equal(got, lifecycle("A")) {
		t.Errorf("calls %v", got)
	}
	if _, err := os.Stat(f.orch.Layout.SourceDir("A")); err != nil {
		t.Errorf("debug source tree: %v", err)
	}
}

func TestRun_staleFingerprintRebuilds(t *testing.T) {
	f := newFixture(t, "A")
	testerr.Shall(f.orch.Manifest.Record("A", "outdated", state.PostInstall)).BeNil(t)

	rep, err := f.orch.Run(context.Background(), RunOptions{})
	testerr.Shall(err).BeNil(t)
	if rep.Get("A").UpToDate {
		t.Fatal("stale project reported up to date")
	}
	if got := f.rec.called(); !slices.Equal(got, lifecycle("A")) {
		t.Errorf("calls %v", got)
	}
}

func TestRun_environmentErrorStops(t *testing.T) {
	f := newFixture(t, "A", "C")
	f.rec.fail["A:configure"] = &bridge.EnvironmentError{Msg: "vcvars missing"}

	rep, err := f.orch.Run(context.Background(), RunOptions{Jobs: 1, ContinueOnFailure: true})
	var envErr *bridge.EnvironmentError
	if !errors.As(err, &envErr) {
		t.Fatalf("want environment error, got %v", err)
	}
	if c := rep.Get("C"); c.State != Skipped {
		t.Errorf("C: %s", c.State)
	}
}

func TestRun_retries(t *testing.T) {
	f := newFixture(t, "A")
	f.rec.flaky["A:build"] = 1

	rep, err := f.orch.Run(context.Background(), RunOptions{Retries: 1})
	testerr.Shall(err).BeNil(t)
	a := rep.Get("A")
	if a.State != Done || a.Attempts != 5 {
		t.Errorf("A: %s after %d attempts", a.State, a.Attempts)
	}
}

func TestRun_cancelled(t *testing.T) {
	f := newFixture(t, "A", "B:A")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := f.orch.Run(ctx, RunOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err %v", err)
	}
	if !rep.Cancelled {
		t.Error("report not marked cancelled")
	}
	for _, res := range rep.Results {
		if res.State != Skipped || res.Reason != "cancelled" {
			t.Errorf("%s: %s (%s)", res.Project, res.State, res.Reason)
		}
	}
	if len(f.rec.called()) != 0 {
		t.Error("steps ran after cancel")
	}
}

func TestRun_noDeps(t *testing.T) {
	f := newFixture(t, "A", "B:A")
	rep, err := f.orch.Run(context.Background(), RunOptions{Targets: []string{"B"}, NoDeps: true})
	testerr.Shall(err).BeNil(t)
	if len(rep.Results) != 1 || rep.Get("B") == nil {
		t.Fatalf("results %+v", rep.Results)
	}
	if got := f.rec.called(); !slices.Equal(got, lifecycle("B")) {
		t.Errorf("calls %v", got)
	}
}

func TestClean(t *testing.T) {
	f := newFixture(t, "A", "B:A")
	_, err := f.orch.Run(context.Background(), RunOptions{})
	testerr.Shall(err).BeNil(t)

	testerr.Shall(f.orch.Clean(context.Background(), []string{"A"})).BeNil(t)
	if _, err := os.Stat(f.orch.Layout.SourceDir("A")); !os.IsNotExist(err) {
		t.Errorf("source tree of A still present: %v", err)
	}
	if _, ok := f.orch.Manifest.Get("A"); ok {
		t.Error("A still in manifest")
	}
	if _, ok := f.orch.Manifest.Get("B"); !ok {
		t.Error("B dropped from manifest")
	}
}

func TestFetch(t *testing.T) {
	f := newFixture(t, "A", "B:A")
	rep, err := f.orch.Fetch(context.Background(), RunOptions{Targets: []string{"B"}})
	testerr.Shall(err).BeNil(t)
	if !rep.OK() {
		done, failed, skipped := rep.Counts()
		t.Fatalf("fetch failed: done=%d failed=%d skipped=%d", done, failed, skipped)
	}
	slices.Sort(f.acq.fetched)
	if !slices.Equal(f.acq.fetched, []string{"A", "B"}) {
		t.Errorf("fetched %v", f.acq.fetched)
	}
	if len(f.rec.called()) != 0 {
		t.Error("fetch ran build steps")
	}
}

func TestFetch_repositoryDropsProgress(t *testing.T) {
	f := newFixture(t, "A")
	testerr.Shall(f.orch.Manifest.Record("A", "fp", state.Build)).BeNil(t)

	_, err := f.orch.Fetch(context.Background(), RunOptions{})
	testerr.Shall(err).BeNil(t)
	if e, ok := f.orch.Manifest.Get("A"); ok {
		t.Errorf("A still recorded at %s", e.Step)
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(Pending, Building) {
		t.Error("resume into building rejected")
	}
	if CanTransition(Building, Configuring) {
		t.Error("backwards transition allowed")
	}
	if CanTransition(Done, Failed) {
		t.Error("transition out of terminal state allowed")
	}
}
