// Package toolchain finds the device compiler the offload driver hands work to.
package toolchain

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultName is the device compiler's executable name.
const DefaultName = "riscv64-unknown-elf-gcc"

// ErrNotFound reports that no candidate location held a usable executable.
var ErrNotFound = errors.New("offload compiler not found")

// Locator resolves the device compiler executable.
type Locator struct {
	// Name is the device compiler's executable name.
	Name string
	// SearchPath is a colon-separated list of fallback directories
	// (the COMPILER_PATH value handed down by the host driver).
	SearchPath string
	// Probe reports whether path is usable. Defaults to IsExecutable.
	Probe func(path string) bool
}

// Locate returns the device compiler path given the host driver's own path.
//
// A driver path without a directory component was found through PATH at
// invocation time; the bare Name is returned so the same lookup applies when
// the compiler is spawned.
func (l Locator) Locate(driverPath string) (string, error) {
	if l.Name == "" {
		return "", fmt.Errorf("%w: empty executable name", ErrNotFound)
	}
	probe := l.Probe
	if probe == nil {
		probe = IsExecutable
	}

	dir, _ := filepath.Split(driverPath)
	if dir == "" {
		return l.Name, nil
	}

	candidate := joinExecutable(dir, l.Name)
	if probe(candidate) {
		return candidate, nil
	}

	for _, entry := range SplitSearchPath(l.SearchPath) {
		candidate = joinExecutable(entry, l.Name)
		if probe(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, l.Name)
}

// joinExecutable joins dir and name, keeping a "./" prefix so that os/exec
// never falls back to a PATH lookup for a directory-relative candidate.
func joinExecutable(dir, name string) string {
	path := filepath.Join(dir, name)
	if !strings.ContainsRune(path, filepath.Separator) {
		path = "." + string(filepath.Separator) + path
	}
	return path
}

// SplitSearchPath splits a colon-separated list, dropping empty entries.
func SplitSearchPath(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, string(os.PathListSeparator))
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsExecutable reports whether path exists, is not a directory and has an
// execute bit set.
func IsExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
