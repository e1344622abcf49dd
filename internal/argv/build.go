package argv

import "strings"

// CompileOutputs names the files the compile invocation writes.
type CompileOutputs struct {
	// DumpBase is passed as -dumpbase so the backend does not pick its own names.
	DumpBase string
	// Assembly is the managed file passed as the explicit -o.
	Assembly string
}

// BuildCompile builds the compile-pass vector.
//
// Every original argument is forwarded except -o pairs; the explicit output
// and dump bookkeeping go last.
func BuildCompile(toolchain string, args []string, f Flags, out CompileOutputs) (Vector, error) {
	model, err := f.Model()
	if err != nil {
		return nil, err
	}
	abi, err := f.ABI.MabiFlag()
	if err != nil {
		return nil, err
	}

	v := make(Vector, 0, len(args)+16)
	v = append(v, toolchain, "-S")
	if f.SaveTemps {
		v = append(v, "-save-temps")
	}
	if f.Verbose {
		v = append(v, "-v")
	}
	v = append(v, abi, "-xlto")
	if model == ModelOpenMP {
		v = append(v, "-mgomp")
	}

	for i := 0; i < len(args); i++ {
		if args[i] == "-o" && i+1 < len(args) {
			i++
			continue
		}
		v = append(v, args[i])
	}

	v = append(v,
		"-dumpdir", "",
		"-dumpbase", out.DumpBase,
		"-dumpbase-ext", "",
		"-o", out.Assembly,
	)
	return v, nil
}

// LinkInputs lists what the link invocation consumes and produces.
type LinkInputs struct {
	// Compiled is the compile stage's assembly output.
	Compiled string
	// Carriers holds one debug carrier object per successfully transcoded input.
	Carriers []string
	// Output is the final offload object.
	Output string
}

// BuildLink builds the link-pass vector. Only library, linker pass-through
// and architecture options are copied from args.
func BuildLink(toolchain string, args []string, f Flags, in LinkInputs) Vector {
	v := make(Vector, 0, len(in.Carriers)+len(args)/2+8)
	v = append(v, toolchain)
	if f.Verbose {
		v = append(v, "-v")
	}
	if f.SaveTemps {
		v = append(v, "-save-temps")
	}
	if in.Compiled != "" {
		v = append(v, in.Compiled)
	}
	v = append(v, in.Carriers...)

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "-o" && i+1 < len(args) {
			i++
			continue
		}
		if isLinkPassthrough(arg) {
			v = append(v, arg)
		}
	}

	v = append(v, "-o", in.Output)
	return v
}

func isLinkPassthrough(arg string) bool {
	return strings.HasPrefix(arg, "-l") ||
		strings.HasPrefix(arg, "-Wl") ||
		strings.HasPrefix(arg, "-march")
}

// ObjectSuffix marks arguments that are compiler-produced host objects.
const ObjectSuffix = ".o"

// ObjectInputs returns the arguments ending in ObjectSuffix, in order,
// skipping the values of -o and -dumpbase.
func ObjectInputs(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if (arg == "-o" || arg == "-dumpbase") && i+1 < len(args) {
			i++
			continue
		}
		if len(arg) > len(ObjectSuffix) && strings.HasSuffix(arg, ObjectSuffix) {
			out = append(out, arg)
		}
	}
	return out
}
