// Package testkit builds synthetic host objects for tests and checks the
// invariants a debug carrier must keep relative to its host object.
package testkit

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"fortio.org/safecast"

	"mkoffload/internal/elfobj"
)

// Section indices of the object HostObject builds.
const (
	TextIndex      = 1
	LTOIndex       = 2
	DebugInfoIndex = 3
	RelaIndex      = 4
	AbbrevIndex    = 5
	SymtabIndex    = 6
	StrtabIndex    = 7
)

// HostSpec shapes a synthetic x86-64 LTO object.
type HostSpec struct {
	// NoDebugInfo omits .gnu.debuglto_.debug_info and its RELA table.
	NoDebugInfo bool
	// Machine defaults to EM_X86_64.
	Machine elf.Machine
	// DebugInfo defaults to DefaultDebugInfo.
	DebugInfo []byte
	// Relocs default to DefaultRelocs. Symbol 2 is the section symbol of
	// .gnu.debuglto_.debug_info, symbol 3 the global "offload_fn".
	Relocs []elfobj.Rela
}

// DefaultDebugInfo is a DWARF-shaped payload; its content is never parsed.
var DefaultDebugInfo = []byte{
	0x2c, 0x00, 0x00, 0x00, 0x05, 0x00, 0x01, 0x08,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x0c, 0x00, 0x00,
	0x00, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// DefaultRelocs covers every relocation type that has a device mapping.
func DefaultRelocs() []elfobj.Rela {
	return []elfobj.Rela{
		{Off: 0x08, Sym: 2, Type: uint32(elf.R_X86_64_32), Addend: 0},
		{Off: 0x0c, Sym: 2, Type: uint32(elf.R_X86_64_32S), Addend: 0x10},
		{Off: 0x10, Sym: 3, Type: uint32(elf.R_X86_64_64), Addend: 0},
		{Off: 0x18, Sym: 3, Type: uint32(elf.R_X86_64_PC32), Addend: -4},
		{Off: 0x1c, Sym: 0, Type: uint32(elf.R_X86_64_NONE), Addend: 0},
	}
}

// HostObject returns the object described by spec.
func HostObject(spec HostSpec) (*elfobj.Object, error) {
	machine := spec.Machine
	if machine == elf.EM_NONE {
		machine = elf.EM_X86_64
	}
	debugInfo := spec.DebugInfo
	if debugInfo == nil {
		debugInfo = DefaultDebugInfo
	}
	relocs := spec.Relocs
	if relocs == nil {
		relocs = DefaultRelocs()
	}

	order := binary.LittleEndian
	strtab := []byte{0}
	fnName, err := safecast.Conv[uint32](len(strtab))
	if err != nil {
		return nil, err
	}
	strtab = append(strtab, "offload_fn\x00"...)

	var symtab bytes.Buffer
	syms := []elf.Sym64{
		{},
		{Info: elf.ST_INFO(elf.STB_LOCAL, elf.STT_SECTION), Shndx: TextIndex},
		{Info: elf.ST_INFO(elf.STB_LOCAL, elf.STT_SECTION), Shndx: DebugInfoIndex},
		{Name: fnName, Info: elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC), Shndx: TextIndex, Size: 4},
	}
	if spec.NoDebugInfo {
		syms[2].Shndx = AbbrevIndex
	}
	for i := range syms {
		if err := binary.Write(&symtab, order, &syms[i]); err != nil {
			return nil, err
		}
	}

	rela := make([]byte, len(relocs)*elfobj.RelaSize)
	if err := elfobj.EncodeRela(rela, elfobj.RelaSize, order, relocs); err != nil {
		return nil, err
	}

	debugName := ".gnu.debuglto_.debug_info"
	relaName := ".rela.gnu.debuglto_.debug_info"
	if spec.NoDebugInfo {
		// Keep indices stable; only the gate section disappears.
		debugName = ".gnu.lto_.decls"
		relaName = ".rela.gnu.lto_.decls"
	}

	return &elfobj.Object{
		ByteOrder: order,
		Machine:   machine,
		Sections: []elfobj.Section{
			{Name: ".text", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Addralign: 16, Data: []byte{0xc3, 0x90, 0x90, 0x90}},
			{Name: ".gnu.lto_.inline", Type: elf.SHT_PROGBITS, Addralign: 1, Data: []byte("lto-ir")},
			{Name: debugName, Type: elf.SHT_PROGBITS, Addralign: 1, Data: debugInfo},
			{Name: relaName, Type: elf.SHT_RELA, Flags: elf.SHF_INFO_LINK, Addralign: 8, Entsize: elfobj.RelaSize, Link: SymtabIndex, Info: DebugInfoIndex, Data: rela},
			{Name: ".gnu.debuglto_.debug_abbrev", Type: elf.SHT_PROGBITS, Addralign: 1, Data: []byte{0x01, 0x11, 0x01, 0x00, 0x00, 0x00}},
			{Name: ".symtab", Type: elf.SHT_SYMTAB, Addralign: 8, Entsize: elfobj.SymSize, Link: StrtabIndex, Info: 3, Data: symtab.Bytes()},
			{Name: ".strtab", Type: elf.SHT_STRTAB, Addralign: 1, Data: strtab},
		},
	}, nil
}

// WriteHostObject writes the object described by spec to path.
func WriteHostObject(path string, spec HostSpec) error {
	obj, err := HostObject(spec)
	if err != nil {
		return fmt.Errorf("build host object: %w", err)
	}
	return obj.WriteFile(path)
}
