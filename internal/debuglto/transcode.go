// Package debuglto extracts the early debug information a host compiler
// embeds in its LTO objects and turns it into a standalone carrier object
// the device linker can consume.
package debuglto

import (
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"strings"

	"mkoffload/internal/elfobj"
)

const (
	// LTOPrefix starts the name of every embedded early-debug section.
	LTOPrefix = ".gnu.debuglto_"
	// DefaultSection gates transcoding: inputs without it are skipped.
	DefaultSection = LTOPrefix + ".debug_info"
)

var (
	// ErrNotObject reports an input that is not an x86-64 ELF64 relocatable.
	ErrNotObject = errors.New("not a host relocatable object")
	// ErrNoDebugSection reports an object without the early debug section.
	ErrNoDebugSection = errors.New("no early debug section")
)

// Transcoder copies early debug sections from host objects into carriers.
type Transcoder struct {
	// Section must be present for an input to be transcoded.
	// Empty means DefaultSection.
	Section string
	// StripLTOPrefix names carrier sections .debug_* instead of
	// .gnu.debuglto_.debug_*, the embedded-copy form the linker reads.
	StripLTOPrefix bool
	// Mode controls relocation retargeting.
	Mode Mode
}

// Stats describes one successful transcode.
type Stats struct {
	Sections    int
	Relocations int
}

func (t Transcoder) section() string {
	if t.Section == "" {
		return DefaultSection
	}
	return t.Section
}

// Transcode writes the carrier for hostPath to carrierPath. Any error means
// the input has no usable carrier; carrierPath is then removed if this call
// wrote to it.
func (t Transcoder) Transcode(hostPath, carrierPath string) (Stats, error) {
	obj, err := t.extract(hostPath)
	if err != nil {
		return Stats{}, err
	}
	if err := obj.WriteFile(carrierPath); err != nil {
		_ = os.Remove(carrierPath)
		return Stats{}, err
	}
	n, err := Retarget(carrierPath, t.Mode)
	if err != nil {
		_ = os.Remove(carrierPath)
		return Stats{}, err
	}
	return Stats{Sections: len(obj.Sections), Relocations: n}, nil
}

// extract builds the carrier image: every section in the early-debug family,
// the RELA tables that apply to them, and the symbol and string tables those
// tables reference.
func (t Transcoder) extract(hostPath string) (*elfobj.Object, error) {
	fh, err := os.Open(hostPath) // #nosec G304 -- input objects come from the host driver
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotObject, err)
	}
	defer fh.Close()

	f, err := elf.NewFile(fh)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotObject, hostPath, err)
	}
	defer f.Close()
	if f.Class != elf.ELFCLASS64 || f.Type != elf.ET_REL || f.Machine != elf.EM_X86_64 {
		return nil, fmt.Errorf("%w: %s is %v %v %v", ErrNotObject, hostPath, f.Class, f.Type, f.Machine)
	}
	if f.Section(t.section()) == nil {
		return nil, fmt.Errorf("%w: %s has no %s", ErrNoDebugSection, hostPath, t.section())
	}
	hdr, _, err := elfobj.ReadHeader(fh)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotObject, hostPath, err)
	}

	keep := make([]bool, len(f.Sections))
	for i, s := range f.Sections {
		if strings.HasPrefix(s.Name, LTOPrefix) && s.Type != elf.SHT_RELA && s.Type != elf.SHT_REL {
			keep[i] = true
		}
	}
	symtab := -1
	for i, s := range f.Sections {
		if s.Type != elf.SHT_RELA || int(s.Info) >= len(f.Sections) || !keep[s.Info] {
			continue
		}
		keep[i] = true
		if int(s.Link) < len(f.Sections) && f.Sections[s.Link].Type == elf.SHT_SYMTAB {
			symtab = int(s.Link)
		}
	}
	if symtab >= 0 {
		keep[symtab] = true
		if link := int(f.Sections[symtab].Link); link > 0 && link < len(f.Sections) {
			keep[link] = true
		}
	}

	index := make(map[uint32]uint32, len(f.Sections))
	next := uint32(1)
	for i := range f.Sections {
		if keep[i] {
			index[uint32(i)] = next //nolint:gosec // section counts fit in uint16
			next++
		}
	}

	obj := &elfobj.Object{
		ByteOrder:  f.ByteOrder,
		OSABI:      f.OSABI,
		ABIVersion: f.ABIVersion,
		Machine:    f.Machine,
		Flags:      hdr.Flags,
	}
	for i, s := range f.Sections {
		if !keep[i] {
			continue
		}
		var data []byte
		if s.Type != elf.SHT_NOBITS {
			if data, err = s.Data(); err != nil {
				return nil, fmt.Errorf("%w: %s: section %s: %w", ErrNotObject, hostPath, s.Name, err)
			}
		}
		out := elfobj.Section{
			Name:      t.rename(s.Name),
			Type:      s.Type,
			Flags:     s.Flags &^ (elf.SHF_COMPRESSED | elf.SHF_GROUP),
			Addralign: s.Addralign,
			Entsize:   s.Entsize,
			Link:      index[s.Link],
			Info:      s.Info,
			Data:      data,
		}
		switch s.Type {
		case elf.SHT_RELA:
			out.Info = index[s.Info]
		case elf.SHT_SYMTAB:
			err := elfobj.RemapSymbols(data, f.ByteOrder, func(sym *elfobj.Sym) {
				if n, ok := index[uint32(sym.Shndx)]; ok {
					sym.Shndx = uint16(n) //nolint:gosec // bounded by e_shnum
					return
				}
				dropSymbol(sym)
			})
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrNotObject, hostPath, err)
			}
		}
		obj.Sections = append(obj.Sections, out)
	}
	return obj, nil
}

// dropSymbol detaches a symbol whose section is not carried. Locals become
// absolute. Globals become hidden weak undefined so debug relocations
// against host-only code resolve to zero instead of failing the link.
func dropSymbol(sym *elfobj.Sym) {
	sym.Value = 0
	sym.Size = 0
	if sym.Bind() == elf.STB_LOCAL {
		sym.Shndx = uint16(elf.SHN_ABS)
		return
	}
	sym.Shndx = uint16(elf.SHN_UNDEF)
	sym.Info = elf.ST_INFO(elf.STB_WEAK, sym.Type())
	sym.Other = sym.Other&^0x3 | uint8(elf.STV_HIDDEN)
}

func (t Transcoder) rename(name string) string {
	if !t.StripLTOPrefix {
		return name
	}
	return strings.Replace(name, LTOPrefix, "", 1)
}

// Retarget rewrites the relocation types of a carrier in place and returns
// how many entries it saw. Offsets, symbols, addends and entry order never
// change.
//
// A carrier whose header or section table cannot be read is left as is and
// reported as success. A carrier whose machine is not x86-64 was not produced
// by Transcode and causes a panic.
func Retarget(path string, mode Mode) (int, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0) // #nosec G304 -- path is a managed carrier
	if err != nil {
		return 0, fmt.Errorf("failed to reopen carrier: %w", err)
	}
	defer f.Close()

	hdr, order, err := elfobj.ReadHeader(f)
	if err != nil {
		return 0, nil
	}
	if m := elf.Machine(hdr.Machine); m != elf.EM_X86_64 {
		panic(fmt.Sprintf("debuglto: carrier %s has machine %v, want %v", path, m, elf.EM_X86_64))
	}
	shdrs, err := elfobj.ReadSectionHeaders(f, hdr, order)
	if err != nil {
		return 0, nil
	}

	type patch struct {
		off  int64
		data []byte
	}
	var (
		patches []patch
		total   int
	)
	for _, sh := range shdrs {
		if elf.SectionType(sh.Type) != elf.SHT_RELA {
			continue
		}
		data, err := elfobj.ReadSectionData(f, sh)
		if err != nil {
			continue
		}
		entries, err := elfobj.DecodeRela(data, sh.Entsize, order)
		if err != nil {
			continue
		}
		total += len(entries)
		if mode == ModePassthrough {
			continue
		}
		for i := range entries {
			mapped, err := MapRelocation(elf.R_X86_64(entries[i].Type))
			if err != nil {
				return total, fmt.Errorf("%s: entry %d: %w", path, i, err)
			}
			entries[i].Type = uint32(mapped)
		}
		if err := elfobj.EncodeRela(data, sh.Entsize, order, entries); err != nil {
			return total, err
		}
		patches = append(patches, patch{off: int64(sh.Off), data: data}) //nolint:gosec // ReadSectionData checked the offset
	}

	for _, p := range patches {
		if _, err := f.WriteAt(p.data, p.off); err != nil {
			return total, fmt.Errorf("failed to patch carrier %s: %w", path, err)
		}
	}
	return total, nil
}
