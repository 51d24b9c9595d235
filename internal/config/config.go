// Package config loads stackbuild settings from a key=value file and
// STACKBUILD_* environment overrides.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "STACKBUILD_"

// Config holds raw values plus the typed settings derived from them.
type Config struct {
	Values map[string]string

	BuildDir      string
	Prefix        string
	Arch          string
	Configuration string
	MsysDir       string
	VcVars        string
	PatchesDir    string
	Recipes       []string
	Jobs          int
	Timeout       time.Duration
	Debug         bool
	LogFormat     string

	Mirror MirrorConfig
}

// MirrorConfig configures the optional S3 source mirror.
type MirrorConfig struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether a mirror bucket is configured.
func (m MirrorConfig) Enabled() bool { return m.Bucket != "" }

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "stackbuild", "stackbuild.conf")
	}
	return "stackbuild.conf"
}

// Load reads path (a missing file is not an error), merges STACKBUILD_*
// variables from environ and applies defaults.
func Load(path string, environ []string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	file, err := os.Open(path)
	switch {
	case err == nil:
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			key, val, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			val = strings.Trim(strings.TrimSpace(val), `"'`)
			cfg.Values[strings.TrimSpace(key)] = val
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	mergeEnvOverrides(cfg, environ)
	if err := cfg.init(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeEnvOverrides(cfg *Config, environ []string) {
	for _, env := range environ {
		if !strings.HasPrefix(env, envPrefix) {
			continue
		}
		if key, val, ok := strings.Cut(env, "="); ok {
			cfg.Values[key] = val
		}
	}
}

func (cfg *Config) get(key, def string) string {
	if v := cfg.Values[envPrefix+key]; v != "" {
		return v
	}
	return def
}

func (cfg *Config) init() error {
	cfg.BuildDir = cfg.get("BUILD_DIR", defaultBuildDir())
	cfg.Arch = cfg.get("ARCH", defaultArch())
	cfg.Configuration = cfg.get("CONFIGURATION", "release")
	cfg.MsysDir = cfg.get("MSYS_DIR", `C:\msys64`)
	cfg.VcVars = cfg.get("VCVARS", "")
	cfg.PatchesDir = cfg.get("PATCHES_DIR", filepath.Join(cfg.BuildDir, "patches"))
	cfg.LogFormat = cfg.get("LOG_FORMAT", "text")
	cfg.Debug = cfg.get("DEBUG", "0") == "1"
	if r := cfg.get("RECIPES", ""); r != "" {
		cfg.Recipes = splitList(r)
	}

	jobs, err := strconv.Atoi(cfg.get("JOBS", strconv.Itoa(runtime.NumCPU())))
	if err != nil || jobs < 1 {
		return fmt.Errorf("invalid %sJOBS %q", envPrefix, cfg.Values[envPrefix+"JOBS"])
	}
	cfg.Jobs = jobs

	if t := cfg.get("TIMEOUT", ""); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil {
			return fmt.Errorf("invalid %sTIMEOUT: %w", envPrefix, err)
		}
		cfg.Timeout = d
	}

	if err := cfg.validateTarget(); err != nil {
		return err
	}
	cfg.Prefix = cfg.get("PREFIX", filepath.Join(cfg.BuildDir, "gtk", cfg.Arch))

	cfg.Mirror = MirrorConfig{
		Bucket:          cfg.get("MIRROR_BUCKET", ""),
		Endpoint:        cfg.get("MIRROR_ENDPOINT", ""),
		Region:          cfg.get("MIRROR_REGION", "auto"),
		AccessKeyID:     cfg.get("MIRROR_ACCESS_KEY_ID", ""),
		SecretAccessKey: cfg.get("MIRROR_SECRET_ACCESS_KEY", ""),
	}
	return nil
}

func (cfg *Config) validateTarget() error {
	switch cfg.Configuration {
	case "release", "debug":
	default:
		return fmt.Errorf("invalid configuration %q (want release or debug)", cfg.Configuration)
	}
	switch cfg.Arch {
	case "x64", "x86", "arm64":
	default:
		return fmt.Errorf("invalid arch %q (want x64, x86 or arm64)", cfg.Arch)
	}
	return nil
}

// SetTarget overrides arch and configuration; empty values keep the
// current ones. The default prefix follows the arch unless
// STACKBUILD_PREFIX was set.
func (cfg *Config) SetTarget(arch, configuration string) error {
	if arch != "" {
		cfg.Arch = arch
	}
	if configuration != "" {
		cfg.Configuration = configuration
	}
	if err := cfg.validateTarget(); err != nil {
		return err
	}
	cfg.Prefix = cfg.get("PREFIX", filepath.Join(cfg.BuildDir, "gtk", cfg.Arch))
	return nil
}

// ProjectOptions parses STACKBUILD_OPTIONS ("ffmpeg.enable_gpl=true,...")
// into project -> option -> value.
func (cfg *Config) ProjectOptions() (map[string]map[string]string, error) {
	res := make(map[string]map[string]string)
	raw := cfg.get("OPTIONS", "")
	if raw == "" {
		return res, nil
	}
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key, val, ok := strings.Cut(item, "=")
		if !ok {
			val = "true"
		}
		prj, opt, ok := strings.Cut(key, ".")
		if !ok || prj == "" || opt == "" {
			return nil, fmt.Errorf("invalid option %q (want project.option=value)", item)
		}
		if res[prj] == nil {
			res[prj] = make(map[string]string)
		}
		res[prj][opt] = val
	}
	return res, nil
}

// Layout directories derived from BuildDir.

func (cfg *Config) CacheDir() string { return filepath.Join(cfg.BuildDir, "src") }
func (cfg *Config) SourceDir() string {
	return filepath.Join(cfg.BuildDir, "build", cfg.Arch, cfg.Configuration)
}
func (cfg *Config) LogDir() string    { return filepath.Join(cfg.BuildDir, "logs") }
func (cfg *Config) StateFile() string { return filepath.Join(cfg.BuildDir, "stackbuild-state.json") }

func splitList(s string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func defaultBuildDir() string {
	if runtime.GOOS == "windows" {
		return `C:\gtk-build`
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "gtk-build")
	}
	return "gtk-build"
}

func defaultArch() string {
	switch runtime.GOARCH {
	case "386":
		return "x86"
	case "arm64":
		return "arm64"
	default:
		return "x64"
	}
}
