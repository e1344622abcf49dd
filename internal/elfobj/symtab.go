package elfobj

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// SymSize is the size of one Elf64_Sym entry.
const SymSize = 24

// Sym is the rewritable part of one Elf64_Sym. st_name is not exposed.
type Sym struct {
	Info  uint8
	Other uint8
	Shndx uint16
	Value uint64
	Size  uint64
}

// Bind returns the symbol binding.
func (s Sym) Bind() elf.SymBind { return elf.ST_BIND(s.Info) }

// Type returns the symbol type.
func (s Sym) Type() elf.SymType { return elf.ST_TYPE(s.Info) }

// Visibility returns the symbol visibility.
func (s Sym) Visibility() elf.SymVis { return elf.ST_VISIBILITY(s.Other) }

// RemapSymbols hands every section-defined symbol of a SYMTAB image to fn
// and writes back whatever fn changed. Symbols with a reserved index
// (SHN_UNDEF, SHN_ABS, SHN_COMMON and above SHN_LORESERVE) are not visited.
func RemapSymbols(data []byte, order binary.ByteOrder, fn func(sym *Sym)) error {
	if len(data)%SymSize != 0 {
		return fmt.Errorf("symbol table size %d is not a multiple of %d", len(data), SymSize)
	}
	for off := 0; off < len(data); off += SymSize {
		raw := data[off : off+SymSize]
		shndx := order.Uint16(raw[6:8])
		if shndx == uint16(elf.SHN_UNDEF) || shndx >= uint16(elf.SHN_LORESERVE) {
			continue
		}
		sym := Sym{
			Info:  raw[4],
			Other: raw[5],
			Shndx: shndx,
			Value: order.Uint64(raw[8:16]),
			Size:  order.Uint64(raw[16:24]),
		}
		fn(&sym)
		raw[4] = sym.Info
		raw[5] = sym.Other
		order.PutUint16(raw[6:8], sym.Shndx)
		order.PutUint64(raw[8:16], sym.Value)
		order.PutUint64(raw[16:24], sym.Size)
	}
	return nil
}
