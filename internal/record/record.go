// Package record persists a summary of one driver invocation next to the
// other preserved intermediates, so a failed offload build can be inspected
// after the fact.
package record

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Suffix is appended to the dump prefix to name the record file.
const Suffix = ".record"

// SchemaVersion is bumped whenever Record changes shape.
const SchemaVersion uint16 = 1

// ErrSchema reports a record written by an incompatible version.
var ErrSchema = errors.New("unsupported record schema")

// Skip names an input that produced no debug carrier.
type Skip struct {
	Input  string `msgpack:"input"`
	Reason string `msgpack:"reason"`
}

// Record is the on-disk summary of one run.
type Record struct {
	Schema      uint16                   `msgpack:"schema"`
	Tool        string                   `msgpack:"tool"`
	Version     string                   `msgpack:"version"`
	CreatedAt   time.Time                `msgpack:"created_at"`
	State       string                   `msgpack:"state"`
	Failure     string                   `msgpack:"failure,omitempty"`
	ABI         string                   `msgpack:"abi"`
	Model       string                   `msgpack:"model"`
	Toolchain   string                   `msgpack:"toolchain"`
	CompileArgv []string                 `msgpack:"compile_argv"`
	Response    string                   `msgpack:"response_file,omitempty"`
	LinkArgv    []string                 `msgpack:"link_argv,omitempty"`
	Carriers    []string                 `msgpack:"carriers,omitempty"`
	Skipped     []Skip                   `msgpack:"skipped,omitempty"`
	CompileExit int                      `msgpack:"compile_exit"`
	LinkExit    int                      `msgpack:"link_exit"`
	OMPRequires *uint32                  `msgpack:"omp_requires,omitempty"`
	Output      string                   `msgpack:"output"`
	Timings     map[string]time.Duration `msgpack:"timings"`
}

// Write stores r at path, replacing any previous record atomically.
func Write(path string, r *Record) (err error) {
	if r == nil {
		return fmt.Errorf("nil record")
	}
	r.Schema = SchemaVersion

	f, err := os.CreateTemp(filepath.Dir(path), ".record-*")
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()

	if err = msgpack.NewEncoder(f).Encode(r); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// Read loads the record at path.
func Read(path string) (*Record, error) {
	f, err := os.Open(path) // #nosec G304 -- path names a record the user asked for
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r Record
	if err := msgpack.NewDecoder(f).Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode record %q: %w", path, err)
	}
	if r.Schema != SchemaVersion {
		return nil, fmt.Errorf("%w: %d (want %d)", ErrSchema, r.Schema, SchemaVersion)
	}
	return &r, nil
}
