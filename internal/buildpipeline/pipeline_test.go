package buildpipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mkoffload/internal/argv"
	"mkoffload/internal/debuglto"
	"mkoffload/internal/record"
	"mkoffload/internal/testkit"
	"mkoffload/internal/toolchain"
)

const (
	driverPath   = "/opt/ventus/bin/x86_64-linux-gnu-gcc"
	compilerPath = "/opt/ventus/bin/" + toolchain.DefaultName
)

type recordingRunner struct {
	calls []Command
	fail  map[Stage]error
	hook  func(Command)
}

func (r *recordingRunner) Run(_ context.Context, c Command) error {
	r.calls = append(r.calls, c)
	if r.hook != nil {
		r.hook(c)
	}
	return r.fail[c.Stage]
}

func baseEnv() Environ {
	return EnvironFrom([]string{
		EnvCollectGCC + "=" + driverPath,
		EnvCompilerPath + "=/opt/ventus/libexec",
		EnvLibraryPath + "=/opt/ventus/lib",
		EnvExecPrefix + "=/opt/ventus/lib/gcc/",
		"HOME=/home/dev",
	})
}

func newRequest(t *testing.T, runner Runner, args ...string) *Request {
	t.Helper()
	return &Request{
		Args:       args,
		Env:        baseEnv(),
		Probe:      func(p string) bool { return p == compilerPath },
		Transcoder: debuglto.Transcoder{StripLTOPrefix: true},
		TempDir:    t.TempDir(),
		Runner:     runner,
	}
}

func hostObject(t *testing.T, dir, name string, spec testkit.HostSpec) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := testkit.WriteHostObject(path, spec); err != nil {
		t.Fatalf("WriteHostObject: %v", err)
	}
	return path
}

func assertTempsRemoved(t *testing.T, res Result) {
	t.Helper()
	if len(res.Temps) == 0 {
		t.Fatalf("expected the ledger to have managed temporaries")
	}
	for _, p := range res.Temps {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("temporary %s still exists (%v)", p, err)
		}
	}
}

func countIn(v argv.Vector, items []string) int {
	n := 0
	for _, arg := range v {
		for _, it := range items {
			if arg == it {
				n++
			}
		}
	}
	return n
}

func TestRunOpenMPLP64(t *testing.T) {
	foo := hostObject(t, t.TempDir(), "foo.o", testkit.HostSpec{})
	runner := &recordingRunner{}
	res, err := Run(context.Background(), newRequest(t, runner,
		"-fopenmp", "-foffload-abi=lp64", "-o", "out.o", foo))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateDone {
		t.Fatalf("state = %v, want done", res.State)
	}
	if len(runner.calls) != 2 || runner.calls[0].Stage != StageCompile || runner.calls[1].Stage != StageLink {
		t.Fatalf("unexpected calls: %+v", runner.calls)
	}
	if res.Toolchain != compilerPath || runner.calls[0].Argv.Program() != compilerPath || runner.calls[1].Argv.Program() != compilerPath {
		t.Fatalf("toolchain not reused: %q", res.Toolchain)
	}
	if len(res.Carriers) != 1 || len(res.Skipped) != 0 {
		t.Fatalf("carriers=%q skipped=%v", res.Carriers, res.Skipped)
	}
	link := runner.calls[1].Argv
	if countIn(link, res.Carriers) != 1 {
		t.Fatalf("link argv %q must carry the carrier once", link)
	}
	if link[len(link)-2] != "-o" || link[len(link)-1] != "out.o" {
		t.Fatalf("link output = %q", link)
	}
	if link[1] != res.Assembly {
		t.Fatalf("link must consume the compiled assembly first: %q", link)
	}
	assertTempsRemoved(t, res)
}

func TestRunChildEnvironments(t *testing.T) {
	foo := hostObject(t, t.TempDir(), "foo.o", testkit.HostSpec{})
	runner := &recordingRunner{}
	req := newRequest(t, runner, "-fopenmp", "-foffload-abi=lp64", "-o", "out.o", foo)
	if _, err := Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}

	compileEnv := runner.calls[0].Env
	omp, ok := compileEnv.Get(EnvOMPRequires)
	if !ok || omp == "" {
		t.Fatalf("compile child must receive %s", EnvOMPRequires)
	}
	if _, ok := compileEnv.Get(EnvCompilerPath); !ok {
		t.Fatalf("compile child keeps %s", EnvCompilerPath)
	}

	linkEnv := runner.calls[1].Env
	for _, key := range []string{EnvExecPrefix, EnvCompilerPath, EnvLibraryPath, EnvOMPRequires} {
		if _, ok := linkEnv.Get(key); ok {
			t.Fatalf("link child must not see %s", key)
		}
	}
	if linkEnv.Lookup("HOME") != "/home/dev" {
		t.Fatalf("link child lost unrelated variables")
	}

	if _, ok := req.Env.Get(EnvOMPRequires); ok {
		t.Fatalf("request environment was modified")
	}
	if _, ok := os.LookupEnv(EnvOMPRequires); ok {
		t.Fatalf("process environment was modified")
	}
}

func TestRunILP32SkipsLink(t *testing.T) {
	foo := hostObject(t, t.TempDir(), "foo.o", testkit.HostSpec{})
	runner := &recordingRunner{}
	res, err := Run(context.Background(), newRequest(t, runner,
		"-fopenmp", "-foffload-abi=ilp32", "-o", "out.o", foo))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateDone {
		t.Fatalf("state = %v, want done", res.State)
	}
	if len(runner.calls) != 1 || runner.calls[0].Stage != StageCompile {
		t.Fatalf("expected only the compile child, got %+v", runner.calls)
	}
	if len(res.Carriers) != 0 || res.LinkArgv != nil {
		t.Fatalf("no carriers or link argv expected: %q %q", res.Carriers, res.LinkArgv)
	}
	if countIn(res.CompileArgv, []string{"-mabi=ilp32d"}) != 1 {
		t.Fatalf("compile argv = %q", res.CompileArgv)
	}
}

func TestRunConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		env    *Environ
		reason Reason
	}{
		{"both models", []string{"-fopenmp", "-fopenacc", "-foffload-abi=lp64", "-o", "out.o"}, nil, ReasonBadArguments},
		{"no model", []string{"-foffload-abi=lp64", "-o", "out.o"}, nil, ReasonBadArguments},
		{"no abi", []string{"-fopenmp", "-o", "out.o"}, nil, ReasonBadArguments},
		{"bad abi", []string{"-fopenmp", "-foffload-abi=lp128"}, nil, ReasonBadArguments},
		{"no collect gcc", []string{"-fopenmp", "-foffload-abi=lp64"}, func() *Environ {
			e := baseEnv().Without(EnvCollectGCC)
			return &e
		}(), ReasonMissingEnvironment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &recordingRunner{}
			req := newRequest(t, runner, tt.args...)
			if tt.env != nil {
				req.Env = *tt.env
			}
			res, err := Run(context.Background(), req)
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
			var f *Failure
			if !errors.As(err, &f) || f.Reason != tt.reason {
				t.Fatalf("expected reason %s, got %v", tt.reason, err)
			}
			if len(runner.calls) != 0 {
				t.Fatalf("no child may be spawned, got %d", len(runner.calls))
			}
			if res.State != StateFailed {
				t.Fatalf("state = %v", res.State)
			}
		})
	}
}

func TestRunToolchainNotFound(t *testing.T) {
	runner := &recordingRunner{}
	req := newRequest(t, runner, "-fopenmp", "-foffload-abi=lp64")
	req.Probe = func(string) bool { return false }
	_, err := Run(context.Background(), req)
	if !errors.Is(err, ErrToolchainResolution) {
		t.Fatalf("expected ErrToolchainResolution, got %v", err)
	}
	if !strings.Contains(err.Error(), toolchain.DefaultName) {
		t.Fatalf("message must name the compiler: %v", err)
	}
}

func TestRunSearchPathFallback(t *testing.T) {
	runner := &recordingRunner{}
	req := newRequest(t, runner, "-fopenmp", "-foffload-abi=ilp32")
	want := "/opt/ventus/libexec/" + toolchain.DefaultName
	req.Probe = func(p string) bool { return p == want }
	res, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Toolchain != want {
		t.Fatalf("toolchain = %q, want %q", res.Toolchain, want)
	}
}

func TestRunMixedInputs(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.o")
	if err := os.WriteFile(garbage, []byte("garbage"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	inputs := []string{
		hostObject(t, dir, "a.o", testkit.HostSpec{}),
		hostObject(t, dir, "plain.o", testkit.HostSpec{NoDebugInfo: true}),
		hostObject(t, dir, "b.o", testkit.HostSpec{}),
		garbage,
		filepath.Join(dir, "missing.o"),
		hostObject(t, dir, "c.o", testkit.HostSpec{}),
	}
	args := append([]string{"-fopenacc", "-foffload-abi=lp64", "-o", "out.o"}, inputs...)
	runner := &recordingRunner{}
	res, err := Run(context.Background(), newRequest(t, runner, args...))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Carriers) != 3 || len(res.Skipped) != 3 {
		t.Fatalf("carriers=%d skipped=%d, want 3/3", len(res.Carriers), len(res.Skipped))
	}
	if n := countIn(runner.calls[1].Argv, res.Carriers); n != 3 {
		t.Fatalf("link argv carries %d carriers, want 3", n)
	}
	if !errors.Is(res.Skipped[0].Err, debuglto.ErrNoDebugSection) {
		t.Fatalf("plain.o skipped for %v", res.Skipped[0].Err)
	}
	assertTempsRemoved(t, res)
}

func TestRunCompileFailure(t *testing.T) {
	foo := hostObject(t, t.TempDir(), "foo.o", testkit.HostSpec{})
	runner := &recordingRunner{fail: map[Stage]error{StageCompile: errors.New("boom")}}
	res, err := Run(context.Background(), newRequest(t, runner,
		"-fopenmp", "-foffload-abi=lp64", "-o", "out.o", foo))
	if !errors.Is(err, ErrSubprocess) {
		t.Fatalf("expected ErrSubprocess, got %v", err)
	}
	var f *Failure
	if !errors.As(err, &f) || f.Reason != ReasonCompileStageFailed || f.Code() != 1 {
		t.Fatalf("unexpected failure %+v", f)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("the pipeline must stop after the failed compile")
	}
	assertTempsRemoved(t, res)
}

func TestRunLinkFailureCleansCarriers(t *testing.T) {
	foo := hostObject(t, t.TempDir(), "foo.o", testkit.HostSpec{})
	runner := &recordingRunner{fail: map[Stage]error{StageLink: errors.New("ld failed")}}
	res, err := Run(context.Background(), newRequest(t, runner,
		"-fopenmp", "-foffload-abi=lp64", "-o", "out.o", foo))
	var f *Failure
	if !errors.As(err, &f) || f.Reason != ReasonLinkStageFailed || f.State != StateLinkArgsBuilt {
		t.Fatalf("unexpected failure %v", err)
	}
	if len(res.Carriers) != 1 {
		t.Fatalf("carrier must have been built before the link")
	}
	assertTempsRemoved(t, res)
}

func TestRunCleansUpOnPanic(t *testing.T) {
	foo := hostObject(t, t.TempDir(), "foo.o", testkit.HostSpec{})
	var carrier string
	runner := &recordingRunner{hook: func(c Command) {
		if c.Stage == StageLink {
			carrier = c.Argv[2]
			panic("runner exploded")
		}
	}}
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected the panic to propagate")
			}
		}()
		_, _ = Run(context.Background(), newRequest(t, runner,
			"-fopenmp", "-foffload-abi=lp64", "-o", "out.o", foo))
	}()
	if carrier == "" {
		t.Fatalf("link was not reached")
	}
	if _, err := os.Stat(carrier); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("carrier %s survived the panic", carrier)
	}
}

func TestRunSaveTemps(t *testing.T) {
	dir := t.TempDir()
	foo := hostObject(t, dir, "foo.o", testkit.HostSpec{})
	out := filepath.Join(dir, "out.o")
	runner := &recordingRunner{}
	req := newRequest(t, runner, "-fopenmp", "-foffload-abi=lp64", "-save-temps", "-o", out, foo)
	req.ResponseFiles = true
	res, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	prefix := out + ".mkoffload"
	if res.Assembly != prefix+".1.s" {
		t.Fatalf("assembly = %q", res.Assembly)
	}
	if len(res.Carriers) != 1 || res.Carriers[0] != prefix+".dbg0.o" {
		t.Fatalf("carriers = %q", res.Carriers)
	}
	for _, p := range []string{res.Carriers[0], prefix + ".gcc_args", prefix + record.Suffix} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("preserved intermediate %s: %v", p, err)
		}
	}
	for _, p := range res.Temps {
		if !strings.HasPrefix(p, prefix) {
			t.Fatalf("preserved name %s does not derive from %s", p, prefix)
		}
	}
	if countIn(res.CompileArgv[:3], []string{"-save-temps"}) != 1 || countIn(res.LinkArgv, []string{"-save-temps"}) != 1 {
		t.Fatalf("-save-temps must be mirrored to both children")
	}

	rec, err := record.Read(prefix + record.Suffix)
	if err != nil {
		t.Fatalf("record.Read: %v", err)
	}
	if rec.State != "done" || rec.ABI != "lp64" || rec.Model != "openmp" || len(rec.Carriers) != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestRunSaveTempsNumbersCarriersPerInput(t *testing.T) {
	dir := t.TempDir()
	a := hostObject(t, dir, "a.o", testkit.HostSpec{})
	plain := hostObject(t, dir, "plain.o", testkit.HostSpec{NoDebugInfo: true})
	b := hostObject(t, dir, "b.o", testkit.HostSpec{})
	out := filepath.Join(dir, "out.o")
	runner := &recordingRunner{}
	res, err := Run(context.Background(), newRequest(t, runner,
		"-fopenmp", "-foffload-abi=lp64", "-save-temps", "-o", out, a, plain, b))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	prefix := out + ".mkoffload"
	want := []string{prefix + ".dbg0.o", prefix + ".dbg2.o"}
	if len(res.Carriers) != len(want) || res.Carriers[0] != want[0] || res.Carriers[1] != want[1] {
		t.Fatalf("carriers = %q, want %q", res.Carriers, want)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Input != plain {
		t.Fatalf("skipped = %+v", res.Skipped)
	}
}

func TestRunResponseFile(t *testing.T) {
	foo := hostObject(t, t.TempDir(), "foo.o", testkit.HostSpec{})
	var expanded []string
	runner := &recordingRunner{hook: func(c Command) {
		if c.Stage != StageCompile {
			return
		}
		if len(c.Argv) != 2 || !strings.HasPrefix(c.Argv[1], "@") {
			t.Errorf("compile must run through a response file: %q", c.Argv)
			return
		}
		var err error
		expanded, err = argv.Expand(c.Argv.Args(), nil)
		if err != nil {
			t.Errorf("Expand: %v", err)
		}
	}}
	req := newRequest(t, runner, "-fopenmp", "-foffload-abi=lp64", "-o", "out.o", foo)
	req.ResponseFiles = true
	res, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := res.CompileArgv.Args()
	if strings.Join(expanded, "\x00") != strings.Join(want, "\x00") {
		t.Fatalf("response file expands to %q, want %q", expanded, want)
	}
}

func TestRunReadsOMPRequires(t *testing.T) {
	runner := &recordingRunner{hook: func(c Command) {
		if c.Stage != StageCompile {
			return
		}
		path, _ := c.Env.Get(EnvOMPRequires)
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], 0x11)
		if err := os.WriteFile(path, buf[:], 0o600); err != nil {
			t.Errorf("write: %v", err)
		}
	}}
	res, err := Run(context.Background(), newRequest(t, runner, "-fopenmp", "-foffload-abi=ilp32"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.HasOMPRequires || res.OMPRequires != 0x11 {
		t.Fatalf("omp requires = %#x (%t)", res.OMPRequires, res.HasOMPRequires)
	}
	if res.Output != "a.out" {
		t.Fatalf("default output = %q", res.Output)
	}
}

func TestRunProgressEvents(t *testing.T) {
	foo := hostObject(t, t.TempDir(), "foo.o", testkit.HostSpec{})
	var events []Event
	req := newRequest(t, &recordingRunner{}, "-fopenmp", "-foffload-abi=lp64", "-o", "out.o", foo)
	req.Progress = FuncSink(func(e Event) { events = append(events, e) })
	res, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	done := map[Stage]bool{}
	for _, e := range events {
		if e.File == "" && e.Status == StatusDone {
			done[e.Stage] = true
		}
	}
	for _, s := range Stages {
		if !done[s] {
			t.Fatalf("stage %s never reported done", s)
		}
		if !res.Timings.Has(s) {
			t.Fatalf("stage %s has no timing", s)
		}
	}
}
