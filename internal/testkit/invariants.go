package testkit

import (
	"debug/elf"
	"fmt"
	"os"

	"fortio.org/safecast"

	"mkoffload/internal/elfobj"
)

// Relocations returns every RELA entry in the object at path, in file order.
func Relocations(path string) ([]elfobj.Rela, error) {
	f, err := os.Open(path) // #nosec G304 -- test fixture path
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hdr, order, err := elfobj.ReadHeader(f)
	if err != nil {
		return nil, err
	}
	shdrs, err := elfobj.ReadSectionHeaders(f, hdr, order)
	if err != nil {
		return nil, err
	}
	var out []elfobj.Rela
	for _, sh := range shdrs {
		if elf.SectionType(sh.Type) != elf.SHT_RELA {
			continue
		}
		data, err := elfobj.ReadSectionData(f, sh)
		if err != nil {
			return nil, err
		}
		entries, err := elfobj.DecodeRela(data, sh.Entsize, order)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

// SectionData returns the contents of the named section of the object at path.
func SectionData(path, name string) ([]byte, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s := f.Section(name)
	if s == nil {
		return nil, fmt.Errorf("%s: no section %s", path, name)
	}
	return s.Data()
}

// CheckRelocationInvariants verifies that carrier relocations keep the host
// entries' count and order, offsets, symbol indices and addends. Only the
// type field may differ.
func CheckRelocationInvariants(host, carrier []elfobj.Rela) error {
	if len(host) != len(carrier) {
		return fmt.Errorf("entry count changed: host=%d carrier=%d", len(host), len(carrier))
	}
	for i := range host {
		h, c := host[i], carrier[i]
		idx, err := safecast.Conv[uint32](i)
		if err != nil {
			return fmt.Errorf("entry index overflow: %w", err)
		}
		if h.Off != c.Off {
			return fmt.Errorf("entry %d: offset %#x became %#x", idx, h.Off, c.Off)
		}
		if h.Sym != c.Sym {
			return fmt.Errorf("entry %d: symbol %d became %d", idx, h.Sym, c.Sym)
		}
		if h.Addend != c.Addend {
			return fmt.Errorf("entry %d: addend %d became %d", idx, h.Addend, c.Addend)
		}
	}
	return nil
}
