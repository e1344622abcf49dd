package buildpipeline

import "time"

// Stage describes a high-level pipeline phase.
type Stage string

const (
	// StageLocate resolves the device compiler.
	StageLocate Stage = "locate"
	// StageParse expands response files and scans the flags.
	StageParse Stage = "parse"
	// StageCompile runs the device compiler on the LTO input.
	StageCompile Stage = "compile"
	// StageTranscode builds debug carriers from host objects.
	StageTranscode Stage = "transcode"
	// StageLink runs the device link.
	StageLink Stage = "link"
	// StageCleanup drains the temp-file ledger.
	StageCleanup Stage = "cleanup"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageLocate, StageParse, StageCompile, StageTranscode, StageLink, StageCleanup}

// Status captures progress state within a stage.
type Status string

const (
	// StatusWorking indicates the stage has started.
	StatusWorking Status = "working"
	// StatusDone indicates the stage finished.
	StatusDone Status = "done"
	// StatusSkipped indicates the stage does not apply to this run.
	StatusSkipped Status = "skipped"
	// StatusError indicates the stage failed.
	StatusError Status = "error"
)

// Event reports progress for a stage, or for one input when File is set.
type Event struct {
	File    string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events.
type ProgressSink interface {
	OnEvent(Event)
}

// Timings holds stage durations.
type Timings struct {
	stages map[Stage]time.Duration
}

func (t *Timings) ensure() {
	if t.stages == nil {
		t.stages = make(map[Stage]time.Duration)
	}
}

// Set stores a duration for the given stage.
func (t *Timings) Set(stage Stage, dur time.Duration) {
	if t == nil {
		return
	}
	t.ensure()
	t.stages[stage] = dur
}

// Has reports whether a duration for stage is recorded.
func (t Timings) Has(stage Stage) bool {
	if t.stages == nil {
		return false
	}
	_, ok := t.stages[stage]
	return ok
}

// Duration returns the recorded duration for stage.
func (t Timings) Duration(stage Stage) time.Duration {
	if t.stages == nil {
		return 0
	}
	return t.stages[stage]
}

// Sum returns the sum of durations across the provided stages.
func (t Timings) Sum(stages ...Stage) time.Duration {
	if t.stages == nil {
		return 0
	}
	var total time.Duration
	for _, stage := range stages {
		total += t.stages[stage]
	}
	return total
}

// Map returns the recorded durations keyed by stage name.
func (t Timings) Map() map[string]time.Duration {
	out := make(map[string]time.Duration, len(t.stages))
	for stage, dur := range t.stages {
		out[string(stage)] = dur
	}
	return out
}
