package buildpipeline

import (
	"os"
	"sort"
	"strings"
)

// Environment variables the driver reads or hands to its children.
const (
	EnvCollectGCC   = "COLLECT_GCC"
	EnvCompilerPath = "COMPILER_PATH"
	EnvExecPrefix   = "GCC_EXEC_PREFIX"
	EnvLibraryPath  = "LIBRARY_PATH"
	EnvOMPRequires  = "GCC_OFFLOAD_OMP_REQUIRES_FILE"
)

// linkScrubbed are removed from the link child's environment so the host
// driver's search setup does not leak into the device link.
var linkScrubbed = []string{EnvExecPrefix, EnvCompilerPath, EnvLibraryPath}

// Environ is an immutable environment snapshot. With and Without return
// modified copies; the receiver and the process environment never change.
type Environ struct {
	vars map[string]string
}

// OSEnviron snapshots the current process environment.
func OSEnviron() Environ {
	return EnvironFrom(os.Environ())
}

// EnvironFrom builds a snapshot from KEY=VALUE entries. Later entries win.
func EnvironFrom(list []string) Environ {
	vars := make(map[string]string, len(list))
	for _, kv := range list {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = v
	}
	return Environ{vars: vars}
}

// Get returns the value of key and whether it is set.
func (e Environ) Get(key string) (string, bool) {
	v, ok := e.vars[key]
	return v, ok
}

// Lookup returns the value of key, or "" when unset.
func (e Environ) Lookup(key string) string {
	return e.vars[key]
}

// With returns a copy with key set to value.
func (e Environ) With(key, value string) Environ {
	out := e.clone()
	out.vars[key] = value
	return out
}

// Without returns a copy with keys removed.
func (e Environ) Without(keys ...string) Environ {
	out := e.clone()
	for _, k := range keys {
		delete(out.vars, k)
	}
	return out
}

// List renders the snapshot as sorted KEY=VALUE entries for exec.Cmd.Env.
func (e Environ) List() []string {
	out := make([]string, 0, len(e.vars))
	for k, v := range e.vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func (e Environ) clone() Environ {
	vars := make(map[string]string, len(e.vars)+1)
	for k, v := range e.vars {
		vars[k] = v
	}
	return Environ{vars: vars}
}
