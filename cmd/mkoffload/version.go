package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mkoffload/internal/buildpipeline"
	"mkoffload/internal/config"
	"mkoffload/internal/record"
	"mkoffload/internal/toolchain"
	"mkoffload/internal/version"
)

const versionTarget = "riscv64-unknown-elf (ventus)"

// versionReport is what `mkoffload version` prints: build metadata plus the
// device setup a driver run in this directory would use.
type versionReport struct {
	Tool         string `json:"tool"`
	Version      string `json:"version"`
	Target       string `json:"target"`
	Compiler     string `json:"compiler"`
	CompilerPath string `json:"compiler_path,omitempty"`
	Section      string `json:"debug_section"`
	Relocations  string `json:"relocations"`
	RecordSchema uint16 `json:"record_schema"`
	Config       string `json:"config,omitempty"`
	GitCommit    string `json:"git_commit,omitempty"`
	GitMessage   string `json:"git_message,omitempty"`
	BuildDate    string `json:"build_date,omitempty"`
}

var (
	versionFormat   string
	versionShowFull bool
)

func init() {
	versionCmd.Flags().BoolVar(&versionShowFull, "full", false, "include commit, commit message and build date")
	versionCmd.Flags().StringVar(&versionFormat, "format", "pretty", "output format (pretty|json)")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show mkoffload build metadata and device setup",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.ToLower(versionFormat)
		if format != "pretty" && format != "json" {
			return fmt.Errorf("unsupported format %q (must be pretty or json)", versionFormat)
		}

		env := buildpipeline.OSEnviron()
		cwd, err := os.Getwd()
		if err != nil {
			cwd = "."
		}
		cfg, err := config.Resolve(env.Get, cwd)
		if err != nil {
			return err
		}

		rep := collectVersionReport(cfg, env, versionShowFull)
		if format == "json" {
			return renderVersionJSON(cmd.OutOrStdout(), rep)
		}
		renderVersionPretty(cmd.OutOrStdout(), rep)
		return nil
	},
}

func collectVersionReport(cfg config.Config, env buildpipeline.Environ, full bool) versionReport {
	rep := versionReport{
		Tool:         version.ToolName,
		Version:      version.Plain(),
		Target:       versionTarget,
		Compiler:     cfg.Toolchain.InstallName,
		Section:      cfg.Debug.Section,
		Relocations:  cfg.Debug.Relocations,
		RecordSchema: record.SchemaVersion,
		Config:       cfg.Path,
	}
	// Without COLLECT_GCC there is no host driver to resolve against.
	if collect, ok := env.Get(buildpipeline.EnvCollectGCC); ok && collect != "" {
		loc := toolchain.Locator{Name: cfg.Toolchain.InstallName, SearchPath: env.Lookup(buildpipeline.EnvCompilerPath)}
		if path, err := loc.Locate(collect); err == nil {
			rep.CompilerPath = path
		}
	}
	if full {
		rep.GitCommit = valueOrUnknown(strings.TrimSpace(version.GitCommit))
		rep.GitMessage = valueOrUnknown(strings.TrimSpace(version.GitMessage))
		rep.BuildDate = valueOrUnknown(strings.TrimSpace(version.BuildDate))
	}
	return rep
}

func renderVersionPretty(out io.Writer, rep versionReport) {
	fmt.Fprintf(out, "%s %s for %s\n", rep.Tool, rep.Version, rep.Target)
	compiler := rep.Compiler
	if rep.CompilerPath != "" {
		compiler += " (" + rep.CompilerPath + ")"
	}
	fmt.Fprintf(out, "compiler:      %s\n", compiler)
	fmt.Fprintf(out, "debug section: %s\n", rep.Section)
	fmt.Fprintf(out, "relocations:   %s\n", rep.Relocations)
	fmt.Fprintf(out, "record schema: %d\n", rep.RecordSchema)
	if rep.Config != "" {
		fmt.Fprintf(out, "config:        %s\n", rep.Config)
	}
	if rep.GitCommit != "" {
		fmt.Fprintf(out, "commit:        %s\n", rep.GitCommit)
		fmt.Fprintf(out, "message:       %s\n", rep.GitMessage)
		fmt.Fprintf(out, "built:         %s\n", rep.BuildDate)
	}
}

func renderVersionJSON(out io.Writer, rep versionReport) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

func valueOrUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
