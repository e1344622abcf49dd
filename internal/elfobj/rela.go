package elfobj

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// RelaSize is the size of one Elf64_Rela entry.
const RelaSize = 24

// Rela is a decoded relocation-with-addend entry.
type Rela struct {
	Off    uint64
	Sym    uint32
	Type   uint32
	Addend int64
}

// DecodeRela splits a RELA section into entries of entsize bytes.
// An entsize of zero means RelaSize.
func DecodeRela(data []byte, entsize uint64, order binary.ByteOrder) ([]Rela, error) {
	step := uint64(RelaSize)
	if entsize != 0 {
		step = entsize
	}
	if step < RelaSize {
		return nil, fmt.Errorf("relocation entry size %d is smaller than %d", step, RelaSize)
	}
	n := uint64(len(data)) / step
	out := make([]Rela, 0, n)
	for i := uint64(0); i < n; i++ {
		e := data[i*step:]
		info := order.Uint64(e[8:16])
		out = append(out, Rela{
			Off:    order.Uint64(e[0:8]),
			Sym:    elf.R_SYM64(info),
			Type:   elf.R_TYPE64(info),
			Addend: int64(order.Uint64(e[16:24])), //nolint:gosec // two's complement reinterpretation
		})
	}
	return out, nil
}

// EncodeRela writes entries back over data using the same entsize. Bytes
// past the last whole entry are left untouched.
func EncodeRela(data []byte, entsize uint64, order binary.ByteOrder, entries []Rela) error {
	step := uint64(RelaSize)
	if entsize != 0 {
		step = entsize
	}
	if uint64(len(entries))*step > uint64(len(data)) {
		return fmt.Errorf("%d relocation entries do not fit in %d bytes", len(entries), len(data))
	}
	for i, r := range entries {
		e := data[uint64(i)*step:]
		order.PutUint64(e[0:8], r.Off)
		order.PutUint64(e[8:16], elf.R_INFO(r.Sym, r.Type))
		order.PutUint64(e[16:24], uint64(r.Addend)) //nolint:gosec // two's complement reinterpretation
	}
	return nil
}
