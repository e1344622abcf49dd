package main

import (
	"os"

	"github.com/spf13/cobra"

	"mkoffload/internal/argv"
	"mkoffload/internal/buildpipeline"
	"mkoffload/internal/config"
	"mkoffload/internal/diag"
	"mkoffload/internal/version"
)

func runDriver(cmd *cobra.Command, args []string) error {
	env := buildpipeline.OSEnviron()
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	cfg, err := config.Resolve(env.Get, cwd)
	if err != nil {
		return err
	}

	cleanup, err := setupTracing(cmd, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	transcoder, err := cfg.Transcoder()
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	printer := diag.New(stderr, version.ToolName, diag.ColorAuto)
	verbose := wantsVerbose(args)

	req := &buildpipeline.Request{
		Args:          args,
		Env:           env,
		Compiler:      cfg.Toolchain.InstallName,
		ResponseFiles: cfg.Toolchain.ResponseFiles,
		Transcoder:    transcoder,
		TempDir:       cfg.Toolchain.TempDir,
		Runner:        buildpipeline.ExecRunner{Stdout: cmd.OutOrStdout(), Stderr: stderr},
	}
	if verbose {
		req.Progress = newVerboseReporter(printer)
	}

	res, err := buildpipeline.Run(cmd.Context(), req)
	if verbose {
		printer.Note("%s", stageTimings(res.Timings))
	}
	if err != nil {
		return err
	}
	if verbose && res.RecordPath != "" {
		printer.Note("invocation record written to %s", res.RecordPath)
	}
	return nil
}

// wantsVerbose reports whether -v is among the driver's arguments,
// response files included.
func wantsVerbose(args []string) bool {
	expanded, err := argv.Expand(args, nil)
	if err != nil {
		return false
	}
	f, err := argv.Scan(expanded)
	return err == nil && f.Verbose
}

// verboseReporter turns progress events into -v notes. Inputs without a
// debug carrier are mentioned here and nowhere else.
type verboseReporter struct {
	printer *diag.Printer
}

func newVerboseReporter(p *diag.Printer) buildpipeline.ProgressSink {
	return verboseReporter{printer: p}
}

func (r verboseReporter) OnEvent(ev buildpipeline.Event) {
	switch {
	case ev.File != "" && ev.Status == buildpipeline.StatusSkipped:
		r.printer.Note("no debug carrier for %s: %v", ev.File, ev.Err)
	case ev.File == "" && ev.Status == buildpipeline.StatusSkipped:
		r.printer.Note("%s stage skipped for this ABI", ev.Stage)
	}
}

