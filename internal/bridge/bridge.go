// Package bridge runs build commands under either the native compiler
// toolchain or the POSIX emulation layer, each call in its own environment.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"stackbuild/internal/console"
)

// Toolchain selects how a command is executed.
type Toolchain int

const (
	Native Toolchain = iota
	PosixEmulated
)

func (t Toolchain) String() string {
	switch t {
	case Native:
		return "native"
	case PosixEmulated:
		return "posix"
	}
	return fmt.Sprintf("toolchain(%d)", int(t))
}

// Command is one process invocation.
type Command struct {
	Name      string
	Args      []string
	Dir       string
	Env       map[string]string // applied last, wins over everything
	Path      []string          // directories put in front of PATH
	Toolchain Toolchain
	Timeout   time.Duration // zero means the bridge default
	Stdout    io.Writer     // optional tee of the combined output
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result is what a finished process left behind.
type Result struct {
	ExitCode int
	Output   []byte
	Duration time.Duration
}

// Runner executes commands. Strategies and acquirers only see this
// interface, which keeps them testable without real toolchains.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Settings configure a Bridge.
type Settings struct {
	Arch          string // x64, x86, arm64
	Configuration string // release, debug
	Prefix        string // shared install prefix, native form
	MsysDir       string // root of the POSIX emulation install
	MsysSystem    string // MSYSTEM value, MINGW64 when empty
	VcVars        string // vcvarsall.bat; empty skips compiler env capture
	CompilerEnv   map[string]string
	BaseEnv       []string // defaults to os.Environ()
	FoldEnvKeys   bool
	Timeout       time.Duration
}

// Bridge is the production Runner.
type Bridge struct {
	s    Settings
	base *Env

	mu         sync.Mutex
	nativeDone bool
	nativeEnv  map[string]string
	nativeErr  error
}

// captureEnv is replaced in tests.
var captureEnv = captureCompilerEnv

// New returns a Bridge for s.
func New(s Settings) *Bridge {
	if s.BaseEnv == nil {
		s.BaseEnv = os.Environ()
	}
	if s.MsysSystem == "" {
		s.MsysSystem = "MINGW64"
	}
	return &Bridge{s: s, base: NewEnv(s.BaseEnv, s.FoldEnvKeys)}
}

// NewDefault returns a Bridge with host defaults for key folding.
func NewDefault(s Settings) *Bridge {
	s.FoldEnvKeys = runtime.GOOS == "windows"
	return New(s)
}

// MsysBin is the directory holding the emulation layer's executables.
func (b *Bridge) MsysBin() string {
	return filepath.Join(b.s.MsysDir, "usr", "bin")
}

// Check validates the toolchain setup up front. needPosix is set when any
// planned project uses the POSIX toolchain.
func (b *Bridge) Check(ctx context.Context, needPosix bool) error {
	if needPosix {
		if b.s.MsysDir == "" {
			return envErrorf(nil, "POSIX emulation directory not configured")
		}
		if fi, err := os.Stat(b.MsysBin()); err != nil || !fi.IsDir() {
			return envErrorf(err, "POSIX emulation binaries not found in %s", b.MsysBin())
		}
	}
	_, err := b.compilerEnv(ctx)
	return err
}

// compilerEnv captures the compiler environment once per Bridge. A capture
// that failed because ctx was done is not kept, so the next caller retries.
func (b *Bridge) compilerEnv(ctx context.Context) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nativeDone {
		return b.nativeEnv, b.nativeErr
	}
	var (
		env map[string]string
		err error
	)
	switch {
	case b.s.CompilerEnv != nil:
		env = b.s.CompilerEnv
	case b.s.VcVars != "":
		env, err = captureEnv(ctx, b.s.VcVars, b.s.Arch)
	default:
		env = map[string]string{}
	}
	if err != nil && ctx.Err() != nil {
		return nil, err
	}
	b.nativeDone, b.nativeEnv, b.nativeErr = true, env, err
	return env, err
}

// Environment builds the full environment a command gets for toolchain tc.
// Both toolchains see the compiler environment and the prefix; the POSIX
// one additionally gets the emulation layer in front of PATH.
// The process environment of stackbuild itself is never modified.
func (b *Bridge) Environment(ctx context.Context, c Command) (*Env, error) {
	if c.Toolchain != Native && c.Toolchain != PosixEmulated {
		return nil, envErrorf(nil, "unknown toolchain %v", c.Toolchain)
	}
	env := b.base.Clone()
	cenv, err := b.compilerEnv(ctx)
	if err != nil {
		return nil, err
	}
	env.Merge(cenv)
	if b.s.Prefix != "" {
		env.Prepend("INCLUDE", filepath.Join(b.s.Prefix, "include"))
		env.Prepend("LIB", filepath.Join(b.s.Prefix, "lib"))
		env.Prepend("PATH", filepath.Join(b.s.Prefix, "bin"))
	}
	if c.Toolchain == PosixEmulated {
		env.Prepend("PATH", b.MsysBin())
		env.Set("MSYSTEM", b.s.MsysSystem)
		env.Set("CHERE_INVOKING", "1")
	} else {
		// an inherited MSYSTEM makes some native tools assume a mingw build
		env.Unset("MSYSTEM")
	}
	env.Set("STACKBUILD_ARCH", b.s.Arch)
	env.Set("STACKBUILD_CONFIGURATION", b.s.Configuration)
	env.Prepend("PATH", c.Path...)
	env.Merge(c.Env)
	return env, nil
}

// Run executes c and waits for it. The child runs in its own process group
// which is killed when ctx is done or the timeout expires.
func (b *Bridge) Run(ctx context.Context, c Command) (Result, error) {
	log := console.FromContext(ctx)
	env, err := b.Environment(ctx, c)
	if err != nil {
		return Result{ExitCode: -1}, err
	}

	args := c.Args
	if c.Toolchain == PosixEmulated {
		args = TranslateArgs(args)
	}
	pathVar, _ := env.Get("PATH")
	name := lookPath(c.Name, pathVar)

	timeout := c.Timeout
	if timeout == 0 {
		timeout = b.s.Timeout
	}
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	cmd := exec.Command(name, args...)
	cmd.Dir = c.Dir
	cmd.Env = env.Environ()
	cmd.WaitDelay = 2 * time.Second
	var buf bytes.Buffer
	var out io.Writer = &buf
	if c.Stdout != nil {
		out = io.MultiWriter(&buf, c.Stdout)
	}
	cmd.Stdout = out
	cmd.Stderr = out
	setProcessGroup(cmd)

	log.Debug("exec", "cmd", c.String(), "dir", c.Dir, "toolchain", c.Toolchain)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		log.Error("exec failed to start", "cmd", c.Name, "err", err)
		return Result{ExitCode: -1}, fmt.Errorf("starting %s: %w", c.Name, err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			killProcessGroup(cmd)
		case <-done:
		}
	}()
	waitErr := cmd.Wait()
	close(done)

	res := Result{Output: buf.Bytes(), Duration: time.Since(start), ExitCode: -1}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if waitErr == nil {
		return res, nil
	}
	switch {
	case ctx.Err() != nil:
		return res, fmt.Errorf("%s aborted: %w", c.Name, ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return res, &TimeoutError{Cmd: c.String(), Timeout: timeout}
	}
	var ee *exec.ExitError
	if errors.As(waitErr, &ee) {
		log.Debug("exec exited", "cmd", c.Name, "code", res.ExitCode)
		return res, &ExitError{Cmd: c.String(), Code: res.ExitCode, Output: tail(res.Output, 40)}
	}
	return res, fmt.Errorf("running %s: %w", c.Name, waitErr)
}

// tail returns the last n lines of out.
func tail(out []byte, n int) string {
	lines := strings.Split(strings.TrimRight(string(out), "\r\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// lookPath resolves name against the PATH the child will see. exec.Command
// would otherwise search the parent's PATH.
func lookPath(name, pathVar string) string {
	if strings.ContainsAny(name, `/\`) {
		return name
	}
	exts := []string{""}
	if runtime.GOOS == "windows" {
		exts = []string{".exe", ".bat", ".cmd", ""}
		if strings.Contains(filepath.Ext(name), ".") {
			exts = []string{""}
		}
	}
	for _, dir := range filepath.SplitList(pathVar) {
		if dir == "" {
			continue
		}
		for _, ext := range exts {
			p := filepath.Join(dir, name+ext)
			if isExecutable(p) {
				return p
			}
		}
	}
	return name
}

func isExecutable(p string) bool {
	fi, err := os.Stat(p)
	if err != nil || fi.IsDir() {
		return false
	}
	return runtime.GOOS == "windows" || fi.Mode()&0o111 != 0
}
