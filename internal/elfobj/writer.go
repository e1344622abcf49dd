package elfobj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"

	"fortio.org/safecast"
)

const (
	headerSize  = 64
	sectionSize = 64
)

// Section is one section of an object under construction. Link and Info
// hold final section indices; index 0 is the reserved null section, so
// Sections[i] ends up at index i+1.
type Section struct {
	Name      string
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Addralign uint64
	Entsize   uint64
	Link      uint32
	Info      uint32
	Data      []byte
}

// Object describes an ELF64 relocatable file.
type Object struct {
	ByteOrder  binary.ByteOrder
	OSABI      elf.OSABI
	ABIVersion uint8
	Machine    elf.Machine
	Flags      uint32
	Sections   []Section
}

// Index returns the final section index of the named section, or 0.
func (o *Object) Index(name string) uint32 {
	for i, s := range o.Sections {
		if s.Name == name {
			n, err := safecast.Conv[uint32](i + 1)
			if err != nil {
				return 0
			}
			return n
		}
	}
	return 0
}

// Bytes lays out the object and returns the file image.
func (o *Object) Bytes() ([]byte, error) {
	order := o.ByteOrder
	if order == nil {
		order = binary.LittleEndian
	}
	var data elf.Data
	switch order {
	case binary.LittleEndian:
		data = elf.ELFDATA2LSB
	case binary.BigEndian:
		data = elf.ELFDATA2MSB
	default:
		return nil, fmt.Errorf("unsupported byte order %v", order)
	}

	names := newStringTable()
	nameOffsets := make([]uint32, len(o.Sections))
	for i, s := range o.Sections {
		nameOffsets[i] = names.add(s.Name)
	}
	shstrName := names.add(".shstrtab")

	var body bytes.Buffer
	body.Write(make([]byte, headerSize))

	headers := make([]elf.Section64, 0, len(o.Sections)+2)
	headers = append(headers, elf.Section64{})
	for i, s := range o.Sections {
		off := pad(&body, s.Addralign)
		size, err := safecast.Conv[uint64](len(s.Data))
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", s.Name, err)
		}
		if s.Type != elf.SHT_NOBITS {
			body.Write(s.Data)
		}
		headers = append(headers, elf.Section64{
			Name:      nameOffsets[i],
			Type:      uint32(s.Type),
			Flags:     uint64(s.Flags),
			Off:       off,
			Size:      size,
			Link:      s.Link,
			Info:      s.Info,
			Addralign: s.Addralign,
			Entsize:   s.Entsize,
		})
	}

	strOff := pad(&body, 1)
	body.Write(names.buf.Bytes())
	strSize, err := safecast.Conv[uint64](names.buf.Len())
	if err != nil {
		return nil, err
	}
	headers = append(headers, elf.Section64{
		Name:      shstrName,
		Type:      uint32(elf.SHT_STRTAB),
		Off:       strOff,
		Size:      strSize,
		Addralign: 1,
	})

	shoff := pad(&body, 8)
	shnum, err := safecast.Conv[uint16](len(headers))
	if err != nil {
		return nil, fmt.Errorf("too many sections: %w", err)
	}
	for i := range headers {
		if err := binary.Write(&body, order, &headers[i]); err != nil {
			return nil, err
		}
	}

	hdr := elf.Header64{
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(o.Machine),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     shoff,
		Flags:     o.Flags,
		Ehsize:    headerSize,
		Shentsize: sectionSize,
		Shnum:     shnum,
		Shstrndx:  shnum - 1,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(data)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Ident[elf.EI_OSABI] = byte(o.OSABI)
	hdr.Ident[elf.EI_ABIVERSION] = o.ABIVersion

	var head bytes.Buffer
	if err := binary.Write(&head, order, &hdr); err != nil {
		return nil, err
	}
	out := body.Bytes()
	copy(out, head.Bytes())
	return out, nil
}

// WriteFile writes the object to path, truncating any existing file.
func (o *Object) WriteFile(path string) error {
	image, err := o.Bytes()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, image, 0o644); err != nil {
		return fmt.Errorf("failed to write object %q: %w", path, err)
	}
	return nil
}

// pad aligns the buffer to align and returns the resulting offset.
func pad(b *bytes.Buffer, align uint64) uint64 {
	off := uint64(b.Len()) //nolint:gosec // buffer length is never negative
	if align > 1 {
		if rem := off % align; rem != 0 {
			b.Write(make([]byte, align-rem))
			off += align - rem
		}
	}
	return off
}

type stringTable struct {
	buf     bytes.Buffer
	offsets map[string]uint32
}

func newStringTable() *stringTable {
	t := &stringTable{offsets: map[string]uint32{"": 0}}
	t.buf.WriteByte(0)
	return t
}

func (t *stringTable) add(s string) uint32 {
	if off, ok := t.offsets[s]; ok {
		return off
	}
	off := uint32(t.buf.Len()) //nolint:gosec // section name tables stay far below 4 GiB
	t.buf.WriteString(s)
	t.buf.WriteByte(0)
	t.offsets[s] = off
	return off
}
