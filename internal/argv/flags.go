// Package argv scans the host driver's arguments and builds the argument
// vectors for the device compiler's compile and link invocations.
package argv

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadArguments marks argument lists the driver cannot act on.
var ErrBadArguments = errors.New("bad arguments")

// ABI is the device ABI width selected by -foffload-abi.
type ABI uint8

const (
	// ABIUnset means no -foffload-abi was seen.
	ABIUnset ABI = iota
	// ABI32 is -foffload-abi=ilp32.
	ABI32
	// ABI64 is -foffload-abi=lp64.
	ABI64
)

const abiPrefix = "-foffload-abi="

func (a ABI) String() string {
	switch a {
	case ABI32:
		return "ilp32"
	case ABI64:
		return "lp64"
	default:
		return "unset"
	}
}

// MabiFlag returns the device compiler's -mabi option for a.
func (a ABI) MabiFlag() (string, error) {
	switch a {
	case ABI64:
		return "-mabi=lp64d", nil
	case ABI32:
		return "-mabi=ilp32d", nil
	default:
		return "", fmt.Errorf("%w: %s must be set", ErrBadArguments, abiPrefix)
	}
}

// Links reports whether the ABI runs the link and debug-transcode phase.
func (a ABI) Links() bool { return a == ABI64 }

// Model is the offload programming model.
type Model uint8

const (
	ModelNone Model = iota
	ModelOpenMP
	ModelOpenACC
)

func (m Model) String() string {
	switch m {
	case ModelOpenMP:
		return "openmp"
	case ModelOpenACC:
		return "openacc"
	default:
		return "none"
	}
}

// Flags holds the handful of options that change the pipeline's shape.
type Flags struct {
	ABI       ABI
	OpenMP    bool
	OpenACC   bool
	PIC       bool // -fPIC
	Pic       bool // -fpic
	SaveTemps bool
	Verbose   bool
	DumpBase  string
	Output    string
}

// Scan reads args once. Every argument is inspected, including ones that
// are later forwarded verbatim. An -foffload-abi value other than lp64 or
// ilp32 is an error.
func Scan(args []string) (Flags, error) {
	var f Flags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case strings.HasPrefix(arg, abiPrefix):
			switch arg[len(abiPrefix):] {
			case "lp64":
				f.ABI = ABI64
			case "ilp32":
				f.ABI = ABI32
			default:
				return f, fmt.Errorf("%w: unrecognizable argument of option %s", ErrBadArguments, abiPrefix)
			}
		case arg == "-fopenmp":
			f.OpenMP = true
		case arg == "-fopenacc":
			f.OpenACC = true
		case arg == "-fPIC":
			f.PIC = true
		case arg == "-fpic":
			f.Pic = true
		case arg == "-save-temps":
			f.SaveTemps = true
		case arg == "-v":
			f.Verbose = true
		case arg == "-dumpbase" && i+1 < len(args):
			i++
			f.DumpBase = args[i]
		case arg == "-o" && i+1 < len(args):
			i++
			f.Output = args[i]
		}
	}
	return f, nil
}

// Model returns the single offload model, or an error when both or
// neither of -fopenmp and -fopenacc were given.
func (f Flags) Model() (Model, error) {
	switch {
	case f.OpenMP && !f.OpenACC:
		return ModelOpenMP, nil
	case f.OpenACC && !f.OpenMP:
		return ModelOpenACC, nil
	default:
		return ModelNone, fmt.Errorf("%w: either -fopenacc or -fopenmp must be set", ErrBadArguments)
	}
}

// Validate checks that the flags describe a runnable pipeline.
func (f Flags) Validate() error {
	if _, err := f.Model(); err != nil {
		return err
	}
	if _, err := f.ABI.MabiFlag(); err != nil {
		return err
	}
	return nil
}

// DumpPrefix is the basis for every derived file name: -dumpbase when
// given, else the -o value, else a.out.
func (f Flags) DumpPrefix() string {
	switch {
	case f.DumpBase != "":
		return f.DumpBase
	case f.Output != "":
		return f.Output
	default:
		return "a.out"
	}
}

// FinalOutput is where the link stage writes the offload object.
func (f Flags) FinalOutput() string {
	if f.Output != "" {
		return f.Output
	}
	return "a.out"
}
