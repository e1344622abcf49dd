// Package config loads the driver's optional mkoffload.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"mkoffload/internal/debuglto"
	"mkoffload/internal/toolchain"
	"mkoffload/internal/trace"
)

// FileName is the configuration file searched for from the working directory up.
const FileName = "mkoffload.toml"

// Environment variables consulted by Resolve.
const (
	EnvConfig      = "MKOFFLOAD_CONFIG"
	EnvTrace       = "MKOFFLOAD_TRACE"
	EnvTraceOutput = "MKOFFLOAD_TRACE_OUTPUT"
)

// ErrInvalid marks configuration that parsed but cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Config is the driver configuration.
type Config struct {
	// Path is the file the configuration came from, empty for defaults.
	Path      string          `toml:"-"`
	Toolchain ToolchainConfig `toml:"toolchain"`
	Debug     DebugConfig     `toml:"debug"`
	Trace     TraceConfig     `toml:"trace"`
}

type ToolchainConfig struct {
	InstallName   string `toml:"install_name"`
	ResponseFiles bool   `toml:"response_files"`
	TempDir       string `toml:"temp_dir"`
}

type DebugConfig struct {
	Section     string `toml:"section"`
	StripPrefix bool   `toml:"strip_prefix"`
	Relocations string `toml:"relocations"`
}

type TraceConfig struct {
	Level  string `toml:"level"`
	Output string `toml:"output"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Toolchain: ToolchainConfig{
			InstallName:   toolchain.DefaultName,
			ResponseFiles: true,
		},
		Debug: DebugConfig{
			Section:     debuglto.DefaultSection,
			StripPrefix: true,
			Relocations: debuglto.ModeMap.String(),
		},
		Trace: TraceConfig{Level: "off"},
	}
}

// Load reads path on top of the defaults. Keys the driver does not know
// are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: %s: unknown keys: %s", ErrInvalid, path, strings.Join(keys, ", "))
	}
	if meta.IsDefined("toolchain", "install_name") && strings.TrimSpace(cfg.Toolchain.InstallName) == "" {
		return Config{}, fmt.Errorf("%w: %s: [toolchain].install_name is empty", ErrInvalid, path)
	}
	cfg.Path = path
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks enum-valued settings.
func (c Config) Validate() error {
	if _, err := debuglto.ParseMode(c.Debug.Relocations); err != nil {
		return fmt.Errorf("%w: [debug].relocations: %w", ErrInvalid, err)
	}
	if _, err := trace.ParseLevel(c.Trace.Level); err != nil {
		return fmt.Errorf("%w: [trace].level: %w", ErrInvalid, err)
	}
	if strings.TrimSpace(c.Debug.Section) == "" {
		return fmt.Errorf("%w: [debug].section is empty", ErrInvalid)
	}
	return nil
}

// Find looks for FileName in startDir and its parents.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Resolve picks the configuration for a run: the file named by
// MKOFFLOAD_CONFIG, else the nearest mkoffload.toml above startDir, else
// the defaults. MKOFFLOAD_TRACE and MKOFFLOAD_TRACE_OUTPUT override the
// [trace] table.
func Resolve(lookup func(string) (string, bool), startDir string) (Config, error) {
	cfg := Default()
	path, ok := lookup(EnvConfig)
	if !ok || path == "" {
		var err error
		path, ok, err = Find(startDir)
		if err != nil {
			return Config{}, err
		}
	}
	if ok && path != "" {
		loaded, err := Load(path)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}
	if v, ok := lookup(EnvTrace); ok && v != "" {
		cfg.Trace.Level = v
	}
	if v, ok := lookup(EnvTraceOutput); ok && v != "" {
		cfg.Trace.Output = v
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Transcoder returns the debug transcoder the configuration describes.
func (c Config) Transcoder() (debuglto.Transcoder, error) {
	mode, err := debuglto.ParseMode(c.Debug.Relocations)
	if err != nil {
		return debuglto.Transcoder{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return debuglto.Transcoder{
		Section:        c.Debug.Section,
		StripLTOPrefix: c.Debug.StripPrefix,
		Mode:           mode,
	}, nil
}

// TracerConfig returns the tracer settings.
func (c Config) TracerConfig() (trace.Config, error) {
	level, err := trace.ParseLevel(c.Trace.Level)
	if err != nil {
		return trace.Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return trace.Config{Level: level, OutputPath: c.Trace.Output}, nil
}
