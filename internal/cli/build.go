package cli

import (
	"context"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"stackbuild/internal/bridge"
	"stackbuild/internal/console"
	"stackbuild/internal/orchestrator"
	"stackbuild/internal/project"
	"stackbuild/internal/source"
	"stackbuild/internal/state"
	"stackbuild/internal/strategy"
)

// newOrchestrator wires the bridge, acquirer and manifest for the
// configured build dir.
func (app *App) newOrchestrator(ctx context.Context) (*orchestrator.Orchestrator, *source.Acquirer, error) {
	reg, err := app.loadRegistry()
	if err != nil {
		return nil, nil, err
	}
	cfg := app.cfg
	br := bridge.NewDefault(bridge.Settings{
		Arch:          cfg.Arch,
		Configuration: cfg.Configuration,
		Prefix:        cfg.Prefix,
		MsysDir:       cfg.MsysDir,
		VcVars:        cfg.VcVars,
		Timeout:       cfg.Timeout,
	})
	acq := &source.Acquirer{
		CacheDir: cfg.CacheDir(),
		Runner:   br,
		Client:   source.NewHTTPClient(),
	}
	if app.printer.IsTerminal() {
		acq.Progress = app.Stderr
	}
	if cfg.Mirror.Enabled() {
		m, err := app.newMirror(ctx)
		if err != nil {
			return nil, nil, err
		}
		acq.Mirror = m
	}
	o := &orchestrator.Orchestrator{
		Registry: reg,
		Acquirer: acq,
		Runner:   br,
		Checker:  br,
		Manifest: state.Load(cfg.StateFile(), app.log),
		Layout: project.Layout{
			SourceRoot: cfg.SourceDir(),
			Prefix:     cfg.Prefix,
		},
		Prefix:        strategy.NewPrefix(cfg.Prefix, app.log),
		PatchesDir:    cfg.PatchesDir,
		LogDir:        cfg.LogDir(),
		Configuration: cfg.Configuration,
		Arch:          cfg.Arch,
		Printer:       app.printer,
	}
	return o, acq, nil
}

func newBuildCommand(app *App) *cobra.Command {
	var (
		opts          orchestrator.RunOptions
		typ           string
		configuration string
		arch          string
	)
	cmd := &cobra.Command{
		Use:   "build [projects...]",
		Short: "Build projects and their dependencies",
		Long: `Build the named projects (all projects when none are given) after their
dependencies. Completed steps are remembered, so a rerun resumes where the
previous one stopped and skips projects that are up to date.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.cfg.SetTarget(arch, configuration); err != nil {
				return err
			}
			if typ != "" {
				t, err := project.ParseType(typ)
				if err != nil {
					return err
				}
				opts.Type = t
			}
			opts.Targets = args
			opts.BuildJobs = app.cfg.Jobs

			o, _, err := app.newOrchestrator(cmd.Context())
			if err != nil {
				return err
			}
			report, err := o.Run(cmd.Context(), opts)
			if len(report.Results) > 0 {
				report.Print(app.printer)
			}
			if err != nil {
				return err
			}
			if !report.OK() {
				return errFailed
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.Force, "force", false, "Rebuild even if up to date")
	f.BoolVar(&opts.ContinueOnFailure, "continue", false, "Keep building projects that do not depend on a failed one")
	f.IntVarP(&opts.Jobs, "jobs", "j", 1, "Number of projects built at the same time")
	f.BoolVar(&opts.NoDeps, "no-deps", false, "Do not build the dependencies of the named projects")
	f.BoolVar(&opts.Clean, "clean", false, "Remove source trees and state before building")
	f.IntVar(&opts.Retries, "retries", 0, "Retry a failing build step this many times")
	f.BoolVar(&opts.Prefetch, "prefetch", false, "Download all archives before building")
	f.StringVar(&typ, "type", "", "Only build projects of this type")
	f.StringVar(&configuration, "configuration", "", "Build configuration: release or debug")
	f.StringVar(&arch, "arch", "", "Target architecture: x64, x86 or arm64")
	return cmd
}

func newFetchCommand(app *App) *cobra.Command {
	var opts orchestrator.RunOptions
	cmd := &cobra.Command{
		Use:   "fetch [projects...]",
		Short: "Download and verify sources without building",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Targets = args
			o, _, err := app.newOrchestrator(cmd.Context())
			if err != nil {
				return err
			}
			report, err := o.Fetch(cmd.Context(), opts)
			if len(report.Results) > 0 {
				report.Print(app.printer)
			}
			if err != nil {
				return err
			}
			if !report.OK() {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.NoDeps, "no-deps", false, "Do not fetch the dependencies of the named projects")
	cmd.Flags().IntVarP(&opts.Jobs, "jobs", "j", 4, "Number of concurrent downloads")
	return cmd
}

func newCleanCommand(app *App) *cobra.Command {
	var dependents bool
	cmd := &cobra.Command{
		Use:   "clean [projects...]",
		Short: "Forget build state and remove source trees",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, _, err := app.newOrchestrator(cmd.Context())
			if err != nil {
				return err
			}
			names := slices.Clone(args)
			if dependents {
				for _, n := range args {
					for _, d := range o.Registry.Dependents(n) {
						if !slices.Contains(names, d) {
							names = append(names, d)
						}
					}
				}
			}
			if err := o.Clean(cmd.Context(), names); err != nil {
				return err
			}
			if len(names) == 0 {
				app.printer.Step("Removed all source trees under %s", filepath.Clean(app.cfg.SourceDir()))
			} else {
				app.printer.Step("Cleaned %d project(s)", len(names))
			}
			console.FromContext(cmd.Context()).Debug("clean done", "projects", names)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dependents, "dependents", false, "Also clean every project that depends on the named ones")
	return cmd
}
