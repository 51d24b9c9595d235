// Package cli is the stackbuild command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"stackbuild/internal/catalog"
	"stackbuild/internal/config"
	"stackbuild/internal/console"
	"stackbuild/internal/project"
)

// errFailed makes the process exit 1 after the report has been printed.
var errFailed = errors.New("some projects failed")

// App is the state shared by all commands of one invocation.
type App struct {
	Stdout  io.Writer
	Stderr  io.Writer
	Environ []string

	configPath string
	debug      bool
	logFormat  string

	cfg      *config.Config
	log      *slog.Logger
	printer  *console.Printer
	registry *project.Registry
}

// NewApp returns an App on the process streams and environment.
func NewApp() *App {
	return &App{Stdout: os.Stdout, Stderr: os.Stderr, Environ: os.Environ()}
}

// NewRootCommand builds the command tree for app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "stackbuild",
		Short: "Build a native library stack from source",
		Long: `stackbuild fetches, patches and builds a graph of interdependent
open-source projects with native and POSIX-emulated toolchains into one
shared install prefix. Interrupted builds resume at the last completed step.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: app.setup,
	}
	root.SetOut(app.Stdout)
	root.SetErr(app.Stderr)

	root.PersistentFlags().StringVar(&app.configPath, "config", config.DefaultPath(), "Path to the config file")
	root.PersistentFlags().BoolVar(&app.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&app.logFormat, "log-format", "", "Log format: text or json")

	root.AddCommand(
		newListCommand(app),
		newBuildCommand(app),
		newFetchCommand(app),
		newCleanCommand(app),
		newLogsCommand(app),
		newMirrorCommand(app),
	)
	return root
}

func (app *App) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(app.configPath, app.Environ)
	if err != nil {
		return err
	}
	if app.debug {
		cfg.Debug = true
	}
	if app.logFormat != "" {
		cfg.LogFormat = app.logFormat
	}
	level := "info"
	if cfg.Debug {
		level = "debug"
	}
	app.cfg = cfg
	app.log = console.NewLogger(level, cfg.LogFormat, app.Stderr)
	app.printer = console.NewPrinter(app.Stdout)
	cmd.SetContext(console.WithLogger(cmd.Context(), app.log))
	return nil
}

// loadRegistry registers the built-in and configured recipes.
func (app *App) loadRegistry() (*project.Registry, error) {
	if app.registry != nil {
		return app.registry, nil
	}
	reg := project.NewRegistry()
	if err := catalog.Register(reg, app.cfg, app.log); err != nil {
		return nil, err
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	app.registry = reg
	return reg, nil
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, app *App, args []string) int {
	root := NewRootCommand(app)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errFailed):
		return 1
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(app.Stderr, "stackbuild: interrupted")
		return 130
	}
	fmt.Fprintln(app.Stderr, "stackbuild:", err)
	return 1
}
