package debuglto

import (
	"debug/elf"
	"errors"
	"fmt"
)

// ErrUnsupportedRelocation reports a host relocation with no single-entry
// device equivalent.
var ErrUnsupportedRelocation = errors.New("unsupported relocation")

// Mode selects what happens to relocation types in the carrier.
type Mode uint8

const (
	// ModeMap rewrites x86-64 relocation types to RISC-V ones.
	ModeMap Mode = iota
	// ModePassthrough leaves relocation tables exactly as copied.
	ModePassthrough
)

func (m Mode) String() string {
	if m == ModePassthrough {
		return "passthrough"
	}
	return "map"
}

// ParseMode parses "map" or "passthrough"; empty means ModeMap.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "map":
		return ModeMap, nil
	case "passthrough":
		return ModePassthrough, nil
	default:
		return ModeMap, fmt.Errorf("unknown relocation mode %q (want map or passthrough)", s)
	}
}

// MapRelocation returns the RISC-V relocation type equivalent to an x86-64
// one. Only types whose field width and addressing agree are mapped.
func MapRelocation(t elf.R_X86_64) (elf.R_RISCV, error) {
	switch t {
	case elf.R_X86_64_NONE:
		return elf.R_RISCV_NONE, nil
	case elf.R_X86_64_64:
		return elf.R_RISCV_64, nil
	case elf.R_X86_64_32, elf.R_X86_64_32S:
		return elf.R_RISCV_32, nil
	case elf.R_X86_64_PC32:
		return elf.R_RISCV_32_PCREL, nil
	case elf.R_X86_64_RELATIVE:
		return elf.R_RISCV_RELATIVE, nil
	default:
		return elf.R_RISCV_NONE, fmt.Errorf("%w: %v", ErrUnsupportedRelocation, t)
	}
}
