package elfobj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"fortio.org/safecast"
)

// ErrTruncated reports a structure that ends past the end of the file.
var ErrTruncated = errors.New("truncated object")

// ReadHeader reads the ELF64 file header at the start of r and returns it
// with the byte order its identification bytes declare.
func ReadHeader(r io.ReaderAt) (elf.Header64, binary.ByteOrder, error) {
	var hdr elf.Header64
	raw := make([]byte, headerSize)
	if _, err := r.ReadAt(raw, 0); err != nil {
		return hdr, nil, fmt.Errorf("%w: file header: %w", ErrTruncated, err)
	}
	if !bytes.HasPrefix(raw, []byte(elf.ELFMAG)) {
		return hdr, nil, fmt.Errorf("bad magic %q", raw[:4])
	}
	if elf.Class(raw[elf.EI_CLASS]) != elf.ELFCLASS64 {
		return hdr, nil, fmt.Errorf("unsupported class %v", elf.Class(raw[elf.EI_CLASS]))
	}
	var order binary.ByteOrder
	switch elf.Data(raw[elf.EI_DATA]) {
	case elf.ELFDATA2LSB:
		order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		order = binary.BigEndian
	default:
		return hdr, nil, fmt.Errorf("unsupported data encoding %v", elf.Data(raw[elf.EI_DATA]))
	}
	if err := binary.Read(bytes.NewReader(raw), order, &hdr); err != nil {
		return hdr, nil, err
	}
	return hdr, order, nil
}

// ReadSectionHeaders reads all e_shnum section headers. A table that does
// not fit in the file yields ErrTruncated.
func ReadSectionHeaders(r io.ReaderAt, hdr elf.Header64, order binary.ByteOrder) ([]elf.Section64, error) {
	if hdr.Shnum == 0 {
		return nil, nil
	}
	if hdr.Shentsize != sectionSize {
		return nil, fmt.Errorf("unexpected section header size %d", hdr.Shentsize)
	}
	off, err := safecast.Conv[int64](hdr.Shoff)
	if err != nil {
		return nil, fmt.Errorf("%w: section header offset: %w", ErrTruncated, err)
	}
	raw := make([]byte, int(hdr.Shnum)*sectionSize)
	if _, err := r.ReadAt(raw, off); err != nil {
		return nil, fmt.Errorf("%w: section headers: %w", ErrTruncated, err)
	}
	out := make([]elf.Section64, hdr.Shnum)
	if err := binary.Read(bytes.NewReader(raw), order, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadSectionData returns the bytes of a section described by sh.
func ReadSectionData(r io.ReaderAt, sh elf.Section64) ([]byte, error) {
	if elf.SectionType(sh.Type) == elf.SHT_NOBITS || sh.Size == 0 {
		return nil, nil
	}
	size, err := safecast.Conv[int](sh.Size)
	if err != nil {
		return nil, fmt.Errorf("%w: section size: %w", ErrTruncated, err)
	}
	off, err := safecast.Conv[int64](sh.Off)
	if err != nil {
		return nil, fmt.Errorf("%w: section offset: %w", ErrTruncated, err)
	}
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("%w: section data: %w", ErrTruncated, err)
	}
	return buf, nil
}
