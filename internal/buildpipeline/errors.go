package buildpipeline

import (
	"errors"
	"fmt"
)

// Error categories, matched with errors.Is against a *Failure.
var (
	// ErrConfiguration covers missing environment and contradictory flags.
	ErrConfiguration = errors.New("configuration error")
	// ErrToolchainResolution means the device compiler could not be found.
	ErrToolchainResolution = errors.New("toolchain resolution error")
	// ErrSubprocess means a child failed to start or exited non-zero.
	ErrSubprocess = errors.New("subprocess failure")
)

// State is a position in the pipeline state machine.
type State uint8

const (
	StateInit State = iota
	StateToolchainResolved
	StateFlagsParsed
	StateCompileArgsBuilt
	StateCompiled
	StateLinkArgsBuilt
	StateLinked
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateToolchainResolved:
		return "toolchain-resolved"
	case StateFlagsParsed:
		return "flags-parsed"
	case StateCompileArgsBuilt:
		return "compile-args-built"
	case StateCompiled:
		return "compiled"
	case StateLinkArgsBuilt:
		return "link-args-built"
	case StateLinked:
		return "linked"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Reason says why a run entered the failed state.
type Reason string

const (
	ReasonMissingEnvironment Reason = "missing-environment"
	ReasonToolchainNotFound  Reason = "toolchain-not-found"
	ReasonBadArguments       Reason = "bad-arguments"
	ReasonCompileStageFailed Reason = "compile-stage-failed"
	ReasonLinkStageFailed    Reason = "link-stage-failed"
	ReasonInternal           Reason = "internal"
)

func (r Reason) category() error {
	switch r {
	case ReasonMissingEnvironment, ReasonBadArguments:
		return ErrConfiguration
	case ReasonToolchainNotFound:
		return ErrToolchainResolution
	case ReasonCompileStageFailed, ReasonLinkStageFailed:
		return ErrSubprocess
	default:
		return nil
	}
}

// Failure is the absorbing failed state. State is the last state reached
// before the failure.
type Failure struct {
	State    State
	Reason   Reason
	Err      error
	ExitCode int
}

func (f *Failure) Error() string {
	switch f.Reason {
	case ReasonCompileStageFailed:
		return fmt.Sprintf("compile stage failed: %v", f.Err)
	case ReasonLinkStageFailed:
		return fmt.Sprintf("link stage failed: %v", f.Err)
	default:
		return f.Err.Error()
	}
}

func (f *Failure) Unwrap() []error {
	if cat := f.Reason.category(); cat != nil {
		return []error{cat, f.Err}
	}
	return []error{f.Err}
}

// Code is the process exit status for the failure: the failing child's
// own exit status when it has one, otherwise 1.
func (f *Failure) Code() int {
	if f.ExitCode > 0 {
		return f.ExitCode
	}
	return 1
}

func fail(state State, reason Reason, err error) *Failure {
	f := &Failure{State: state, Reason: reason, Err: err}
	if code, ok := ExitCode(err); ok {
		f.ExitCode = code
	}
	return f
}
