// Package trace provides the tracing subsystem of the offload driver.
//
// The driver runs as a child of the host compiler, so its stdout and stderr
// belong to that compiler. Tracing is the driver's own logging channel: it is
// off by default and enabled through the environment or mkoffload.toml.
//
// # Usage
//
//	MKOFFLOAD_TRACE=stage MKOFFLOAD_TRACE_OUTPUT=- gcc -fopenmp -foffload=riscv64 ...
//
// # Levels
//
//   - LevelOff: No tracing
//   - LevelError: Only failures
//   - LevelStage: Driver and stage boundaries
//   - LevelDetail: Per-input events (one host object each)
//   - LevelDebug: Everything
//
// # Context Propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	t := trace.FromContext(ctx)
//
//	span := trace.Begin(t, trace.ScopeStage, "compile", parentID)
//	defer span.End("")
package trace
