// Package buildpipeline runs the offload driver: it resolves the device
// compiler, compiles the LTO input for the device, turns the host objects'
// early debug info into carriers and links everything into the offload
// object.
package buildpipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"mkoffload/internal/argv"
	"mkoffload/internal/debuglto"
	"mkoffload/internal/ledger"
	"mkoffload/internal/record"
	"mkoffload/internal/toolchain"
	"mkoffload/internal/trace"
	"mkoffload/internal/version"
)

// Request configures one driver run.
type Request struct {
	// Args are the driver's arguments without the program name.
	Args []string
	// Env is the environment snapshot the run reads and derives child
	// environments from.
	Env Environ
	// Compiler is the device compiler's executable name; empty means
	// toolchain.DefaultName.
	Compiler string
	// Probe overrides the executable check used while locating Compiler.
	Probe func(path string) bool
	// ResponseFiles passes compile arguments through an @file.
	ResponseFiles bool
	// Transcoder builds debug carriers.
	Transcoder debuglto.Transcoder
	// TempDir holds anonymous temporaries; empty means os.TempDir().
	TempDir  string
	Runner   Runner
	Progress ProgressSink
}

// Skipped is a host object that produced no carrier.
type Skipped struct {
	Input string
	Err   error
}

// Result describes a run, complete or not.
type Result struct {
	State       State
	Toolchain   string
	Flags       argv.Flags
	CompileArgv argv.Vector
	Response    string
	LinkArgv    argv.Vector
	Assembly    string
	Carriers    []string
	Skipped     []Skipped
	// OMPRequires is the mask the compile child reported, when it did.
	OMPRequires    uint32
	HasOMPRequires bool
	Output         string
	RecordPath     string
	// Temps lists every path the ledger managed.
	Temps   []string
	Timings Timings
}

type run struct {
	req    *Request
	ledger *ledger.Ledger
	tracer trace.Tracer
	span   uint64
	res    Result
	args   []string
}

// Run executes the pipeline. Every temporary registered along the way is
// removed before Run returns, on success, failure or panic, unless
// -save-temps asked to keep them. A non-nil error is always a *Failure.
func Run(ctx context.Context, req *Request) (res Result, err error) {
	if req == nil {
		return Result{}, fail(StateInit, ReasonInternal, errors.New("missing request"))
	}
	r := &run{
		req:    req,
		ledger: ledger.New(req.TempDir),
		tracer: trace.FromContext(ctx),
	}
	if r.req.Runner == nil {
		r.req = withRunner(req, ExecRunner{})
	}

	span := trace.Begin(r.tracer, trace.ScopeDriver, "mkoffload", trace.CurrentSpan(ctx))
	r.span = span.ID()
	defer func() {
		r.finish(err)
		span.WithExtra("state", r.res.State.String())
		span.End("")
		res = r.res
	}()

	if err = r.execute(ctx); err != nil {
		r.res.State = StateFailed
		trace.Error(r.tracer, "mkoffload", err, r.span)
	}
	return r.res, err
}

func withRunner(req *Request, runner Runner) *Request {
	cp := *req
	cp.Runner = runner
	return &cp
}

func (r *run) execute(ctx context.Context) error {
	collect, ok := r.req.Env.Get(EnvCollectGCC)
	if !ok || collect == "" {
		return fail(StateInit, ReasonMissingEnvironment, fmt.Errorf("%s must be set", EnvCollectGCC))
	}

	if err := r.stage(StageLocate, func() error {
		name := r.req.Compiler
		if name == "" {
			name = toolchain.DefaultName
		}
		loc := toolchain.Locator{Name: name, SearchPath: r.req.Env.Lookup(EnvCompilerPath), Probe: r.req.Probe}
		path, err := loc.Locate(collect)
		if err != nil {
			return fail(StateInit, ReasonToolchainNotFound, err)
		}
		r.res.Toolchain = path
		return nil
	}); err != nil {
		return err
	}
	r.res.State = StateToolchainResolved

	if err := r.stage(StageParse, r.parse); err != nil {
		return err
	}
	r.res.State = StateFlagsParsed

	if err := r.stage(StageCompile, func() error { return r.compile(ctx) }); err != nil {
		return err
	}
	r.res.State = StateCompiled

	if !r.res.Flags.ABI.Links() {
		emitStage(r.req.Progress, StageTranscode, StatusSkipped, nil, 0)
		emitStage(r.req.Progress, StageLink, StatusSkipped, nil, 0)
		r.res.State = StateDone
		return nil
	}

	if err := r.stage(StageTranscode, r.transcode); err != nil {
		return err
	}
	if err := r.stage(StageLink, func() error { return r.link(ctx) }); err != nil {
		return err
	}
	r.res.State = StateDone
	return nil
}

func (r *run) parse() error {
	args, err := argv.Expand(r.req.Args, nil)
	if err != nil {
		return fail(StateToolchainResolved, ReasonBadArguments, err)
	}
	flags, err := argv.Scan(args)
	if err != nil {
		return fail(StateToolchainResolved, ReasonBadArguments, err)
	}
	if err := flags.Validate(); err != nil {
		return fail(StateToolchainResolved, ReasonBadArguments, err)
	}
	r.args = args
	r.res.Flags = flags
	r.res.Output = flags.FinalOutput()
	if flags.SaveTemps {
		r.ledger.Preserve(r.dumpBase())
	}
	trace.Point(r.tracer, trace.ScopeStage, "flags",
		fmt.Sprintf("abi=%s save-temps=%t verbose=%t", flags.ABI, flags.SaveTemps, flags.Verbose), r.span)
	return nil
}

// dumpBase is the -dumpbase handed to the device compiler and the prefix
// of every preserved intermediate.
func (r *run) dumpBase() string {
	return r.res.Flags.DumpPrefix() + ".mkoffload"
}

func (r *run) managed(state State, suffix string) (string, error) {
	path, err := r.ledger.Managed(suffix)
	if err != nil {
		return "", fail(state, ReasonInternal, err)
	}
	return path, nil
}

func (r *run) compile(ctx context.Context) error {
	f := r.res.Flags
	asm, err := r.managed(StateFlagsParsed, ".1.s")
	if err != nil {
		return err
	}
	omp, err := r.managed(StateFlagsParsed, ".omp_requires")
	if err != nil {
		return err
	}
	r.res.Assembly = asm

	vec, err := argv.BuildCompile(r.res.Toolchain, r.args, f, argv.CompileOutputs{
		DumpBase: r.dumpBase(),
		Assembly: asm,
	})
	if err != nil {
		return fail(StateFlagsParsed, ReasonBadArguments, err)
	}
	r.res.CompileArgv = vec
	r.res.State = StateCompileArgsBuilt

	invoke := vec
	if r.req.ResponseFiles {
		rsp, err := r.managed(StateCompileArgsBuilt, ".gcc_args")
		if err != nil {
			return err
		}
		if err := argv.WriteResponseFile(rsp, vec.Args()); err != nil {
			return fail(StateCompileArgsBuilt, ReasonInternal, err)
		}
		r.res.Response = rsp
		invoke = argv.Vector{r.res.Toolchain, "@" + rsp}
	}

	assign := EnvOMPRequires + "=" + omp
	err = r.req.Runner.Run(ctx, Command{
		Stage:   StageCompile,
		Argv:    invoke,
		Env:     r.req.Env.With(EnvOMPRequires, omp),
		Assign:  []string{assign},
		Echo:    f.Verbose,
		Display: vec,
	})
	if err != nil {
		return fail(StateCompileArgsBuilt, ReasonCompileStageFailed, err)
	}
	r.readOMPRequires(omp)
	return nil
}

// readOMPRequires picks up the requires mask the compile child may have
// left in the side-channel file.
func (r *run) readOMPRequires(path string) {
	data, err := os.ReadFile(path) // #nosec G304 -- managed temp file
	if err != nil || len(data) < 4 {
		return
	}
	r.res.OMPRequires = binary.LittleEndian.Uint32(data)
	r.res.HasOMPRequires = true
	trace.Point(r.tracer, trace.ScopeStage, "omp-requires", fmt.Sprintf("%#x", r.res.OMPRequires), r.span)
}

func (r *run) transcode() error {
	for n, input := range argv.ObjectInputs(r.args) {
		carrier, err := r.managed(StateCompiled, fmt.Sprintf(".dbg%d.o", n))
		if err != nil {
			return err
		}
		span := trace.Begin(r.tracer, trace.ScopeInput, "transcode:"+input, r.span)
		emitFile(r.req.Progress, input, StageTranscode, StatusWorking, nil)
		stats, err := r.req.Transcoder.Transcode(input, carrier)
		if err != nil {
			r.res.Skipped = append(r.res.Skipped, Skipped{Input: input, Err: err})
			emitFile(r.req.Progress, input, StageTranscode, StatusSkipped, err)
			span.End("skipped: " + err.Error())
			continue
		}
		r.res.Carriers = append(r.res.Carriers, carrier)
		emitFile(r.req.Progress, input, StageTranscode, StatusDone, nil)
		span.WithExtra("carrier", carrier).
			WithExtra("relocations", fmt.Sprint(stats.Relocations))
		span.End("")
	}
	return nil
}

func (r *run) link(ctx context.Context) error {
	f := r.res.Flags
	vec := argv.BuildLink(r.res.Toolchain, r.args, f, argv.LinkInputs{
		Compiled: r.res.Assembly,
		Carriers: r.res.Carriers,
		Output:   r.res.Output,
	})
	r.res.LinkArgv = vec
	r.res.State = StateLinkArgsBuilt

	err := r.req.Runner.Run(ctx, Command{
		Stage: StageLink,
		Argv:  vec,
		Env:   r.req.Env.Without(linkScrubbed...),
		Echo:  f.Verbose,
	})
	if err != nil {
		return fail(StateLinkArgsBuilt, ReasonLinkStageFailed, err)
	}
	r.res.State = StateLinked
	return nil
}

// stage runs fn as one pipeline stage with progress events, a trace span
// and a timing entry.
func (r *run) stage(s Stage, fn func() error) error {
	start := time.Now()
	span := trace.Begin(r.tracer, trace.ScopeStage, string(s), r.span)
	emitStage(r.req.Progress, s, StatusWorking, nil, 0)

	err := fn()
	elapsed := time.Since(start)
	r.res.Timings.Set(s, elapsed)
	if err != nil {
		emitStage(r.req.Progress, s, StatusError, err, elapsed)
		span.End(err.Error())
		return err
	}
	emitStage(r.req.Progress, s, StatusDone, nil, elapsed)
	span.End("")
	return nil
}

// finish writes the invocation record and drains the ledger.
func (r *run) finish(runErr error) {
	if r.res.Flags.SaveTemps {
		r.writeRecord(runErr)
	}
	start := time.Now()
	span := trace.Begin(r.tracer, trace.ScopeStage, string(StageCleanup), r.span)
	err := r.ledger.Cleanup()
	elapsed := time.Since(start)
	r.res.Timings.Set(StageCleanup, elapsed)
	r.res.Temps = r.ledger.Paths()
	if err != nil {
		trace.Error(r.tracer, string(StageCleanup), err, span.ID())
		emitStage(r.req.Progress, StageCleanup, StatusError, err, elapsed)
	} else {
		emitStage(r.req.Progress, StageCleanup, StatusDone, nil, elapsed)
	}
	span.End("")
}

func (r *run) writeRecord(runErr error) {
	path, err := r.ledger.Managed(record.Suffix)
	if err != nil {
		trace.Error(r.tracer, "record", err, r.span)
		return
	}
	r.res.RecordPath = path
	state := r.res.State
	if runErr != nil {
		state = StateFailed
	}
	rec := &record.Record{
		Tool:        version.ToolName,
		Version:     version.Plain(),
		CreatedAt:   time.Now().UTC(),
		State:       state.String(),
		ABI:         r.res.Flags.ABI.String(),
		Toolchain:   r.res.Toolchain,
		CompileArgv: r.res.CompileArgv.Strings(),
		Response:    r.res.Response,
		LinkArgv:    r.res.LinkArgv.Strings(),
		Carriers:    r.res.Carriers,
		Output:      r.res.Output,
		Timings:     r.res.Timings.Map(),
	}
	if model, err := r.res.Flags.Model(); err == nil {
		rec.Model = model.String()
	}
	if runErr != nil {
		rec.Failure = runErr.Error()
		var f *Failure
		if errors.As(runErr, &f) {
			switch f.Reason {
			case ReasonCompileStageFailed:
				rec.CompileExit = f.Code()
			case ReasonLinkStageFailed:
				rec.LinkExit = f.Code()
			}
		}
	}
	for _, s := range r.res.Skipped {
		rec.Skipped = append(rec.Skipped, record.Skip{Input: s.Input, Reason: s.Err.Error()})
	}
	if r.res.HasOMPRequires {
		mask := r.res.OMPRequires
		rec.OMPRequires = &mask
	}
	if err := record.Write(path, rec); err != nil {
		trace.Error(r.tracer, "record", err, r.span)
	}
}
