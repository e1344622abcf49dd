// Package ledger tracks every transient file a driver run creates so that a
// single cleanup pass can remove them, whichever way the run ends.
package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Ledger is the sole owner of the deletion obligation for registered paths.
// Producers register paths the moment they exist and never delete them.
type Ledger struct {
	mu      sync.Mutex
	dir     string
	keep    bool
	prefix  string
	paths   []string
	seen    map[string]struct{}
	drained bool
}

// New returns a ledger that creates anonymous files in dir
// (os.TempDir() when dir is empty).
func New(dir string) *Ledger {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Ledger{dir: dir, seen: make(map[string]struct{})}
}

// Preserve switches the ledger to "save intermediate outputs" mode: managed
// files get stable names derived from prefix and Cleanup leaves them in place.
func (l *Ledger) Preserve(prefix string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keep = true
	l.prefix = prefix
}

// Preserving reports whether intermediates are kept.
func (l *Ledger) Preserving() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.keep
}

// Register records path for cleanup. Registering a path twice is a no-op.
func (l *Ledger) Register(path string) {
	if path == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[path]; ok {
		return
	}
	l.seen[path] = struct{}{}
	l.paths = append(l.paths, path)
}

// Managed returns the path for a managed artifact and registers it.
// When preserving, the path is prefix+suffix and nothing is created yet.
// Otherwise an empty file with a random name ending in suffix is created
// in the ledger directory, mirroring make_temp_file.
func (l *Ledger) Managed(suffix string) (string, error) {
	l.mu.Lock()
	keep, prefix, dir := l.keep, l.prefix, l.dir
	l.mu.Unlock()

	if keep {
		path := prefix + suffix
		l.Register(path)
		return path, nil
	}

	f, err := os.CreateTemp(dir, "cc*"+filepath.Base(suffix))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	path := f.Name()
	l.Register(path)
	if err := f.Close(); err != nil {
		return path, fmt.Errorf("failed to close temp file %q: %w", path, err)
	}
	return path, nil
}

// Paths returns a copy of every registered path in registration order.
func (l *Ledger) Paths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.paths))
	copy(out, l.paths)
	return out
}

// Cleanup removes every registered path unless the ledger is preserving.
// It runs at most once; later calls return nil. Missing files are not errors.
func (l *Ledger) Cleanup() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.drained {
		return nil
	}
	l.drained = true
	if l.keep {
		return nil
	}
	var errs []error
	for i := len(l.paths) - 1; i >= 0; i-- {
		if err := os.Remove(l.paths[i]); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
