package argv

import (
	"errors"
	"testing"
)

func TestScan(t *testing.T) {
	args := []string{
		"-fopenmp", "-foffload-abi=lp64", "-fPIC", "-save-temps", "-v",
		"-dumpbase", "prog.c", "-O2", "-o", "out.o", "foo.o",
	}
	f, err := Scan(args)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if f.ABI != ABI64 || !f.OpenMP || f.OpenACC || !f.PIC || f.Pic || !f.SaveTemps || !f.Verbose {
		t.Fatalf("unexpected flags: %+v", f)
	}
	if f.DumpBase != "prog.c" || f.Output != "out.o" {
		t.Fatalf("DumpBase=%q Output=%q", f.DumpBase, f.Output)
	}
	if f.DumpPrefix() != "prog.c" {
		t.Fatalf("DumpPrefix = %q, want prog.c", f.DumpPrefix())
	}
}

func TestScanRejectsUnknownABI(t *testing.T) {
	_, err := Scan([]string{"-fopenmp", "-foffload-abi=lp32"})
	if !errors.Is(err, ErrBadArguments) {
		t.Fatalf("expected ErrBadArguments, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "openmp lp64", args: []string{"-fopenmp", "-foffload-abi=lp64"}},
		{name: "openacc ilp32", args: []string{"-fopenacc", "-foffload-abi=ilp32"}},
		{name: "both models", args: []string{"-fopenmp", "-fopenacc", "-foffload-abi=lp64"}, wantErr: true},
		{name: "no model", args: []string{"-foffload-abi=lp64"}, wantErr: true},
		{name: "no abi", args: []string{"-fopenmp"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Scan(tt.args)
			if err != nil {
				t.Fatalf("Scan: %v", err)
			}
			err = f.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrBadArguments) {
					t.Fatalf("expected ErrBadArguments, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
		})
	}
}

func TestDumpPrefixFallbacks(t *testing.T) {
	if got := (Flags{Output: "x.o"}).DumpPrefix(); got != "x.o" {
		t.Fatalf("DumpPrefix = %q, want x.o", got)
	}
	if got := (Flags{}).DumpPrefix(); got != "a.out" {
		t.Fatalf("DumpPrefix = %q, want a.out", got)
	}
	if got := (Flags{}).FinalOutput(); got != "a.out" {
		t.Fatalf("FinalOutput = %q, want a.out", got)
	}
}

func TestMabiFlag(t *testing.T) {
	if got, _ := ABI64.MabiFlag(); got != "-mabi=lp64d" {
		t.Fatalf("ABI64.MabiFlag = %q", got)
	}
	if got, _ := ABI32.MabiFlag(); got != "-mabi=ilp32d" {
		t.Fatalf("ABI32.MabiFlag = %q", got)
	}
	if _, err := ABIUnset.MabiFlag(); err == nil {
		t.Fatalf("ABIUnset.MabiFlag must fail")
	}
	if !ABI64.Links() || ABI32.Links() {
		t.Fatalf("only lp64 links")
	}
}
