package image

import (
	"debug/elf"
	"fmt"
)

// Perm is a set of memory access permissions. The bit values match
// Unicorn's PROT_* constants so a Perm can be handed to the backend as is.
type Perm uint32

const (
	PermNone  Perm = 0
	PermRead  Perm = 1
	PermWrite Perm = 2
	PermExec  Perm = 4

	PermAll = PermRead | PermWrite | PermExec
)

// Has reports whether every bit of q is set in p.
func (p Perm) Has(q Perm) bool {
	return p&q == q
}

// String renders the permission as "rwx" with dashes for missing bits.
func (p Perm) String() string {
	b := []byte("---")
	if p&PermRead != 0 {
		b[0] = 'r'
	}
	if p&PermWrite != 0 {
		b[1] = 'w'
	}
	if p&PermExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// PermFromFlags converts ELF program header flags. Each bit maps
// independently; no flags yields PermNone.
func PermFromFlags(f elf.ProgFlag) Perm {
	var p Perm
	if f&elf.PF_R != 0 {
		p |= PermRead
	}
	if f&elf.PF_W != 0 {
		p |= PermWrite
	}
	if f&elf.PF_X != 0 {
		p |= PermExec
	}
	return p
}

// SegType tags a segment with the program header type it came from.
type SegType int

const (
	SegNull SegType = iota
	SegLoad
	SegDynamic
	SegInterp
	SegNote
	SegSharedLib
	SegProgramHeader
	SegThreadLocalStorage
	SegGnuEhFrame
	SegGnuStack
	SegGnuRelRo
	SegOther
)

var segTypeNames = [...]string{
	SegNull:               "NULL",
	SegLoad:               "LOAD",
	SegDynamic:            "DYNAMIC",
	SegInterp:             "INTERP",
	SegNote:               "NOTE",
	SegSharedLib:          "SHLIB",
	SegProgramHeader:      "PHDR",
	SegThreadLocalStorage: "TLS",
	SegGnuEhFrame:         "GNU_EH_FRAME",
	SegGnuStack:           "GNU_STACK",
	SegGnuRelRo:           "GNU_RELRO",
	SegOther:              "OTHER",
}

func (t SegType) String() string {
	if t >= 0 && int(t) < len(segTypeNames) {
		return segTypeNames[t]
	}
	return fmt.Sprintf("SegType(%d)", int(t))
}

// SegTypeFromProg maps a raw p_type. Vendor and unknown types land in
// SegOther.
func SegTypeFromProg(t elf.ProgType) SegType {
	switch t {
	case elf.PT_NULL:
		return SegNull
	case elf.PT_LOAD:
		return SegLoad
	case elf.PT_DYNAMIC:
		return SegDynamic
	case elf.PT_INTERP:
		return SegInterp
	case elf.PT_NOTE:
		return SegNote
	case elf.PT_SHLIB:
		return SegSharedLib
	case elf.PT_PHDR:
		return SegProgramHeader
	case elf.PT_TLS:
		return SegThreadLocalStorage
	case elf.PT_GNU_EH_FRAME:
		return SegGnuEhFrame
	case elf.PT_GNU_STACK:
		return SegGnuStack
	case elf.PT_GNU_RELRO:
		return SegGnuRelRo
	}
	return SegOther
}

// Segment is one contiguous region with uniform permissions.
type Segment struct {
	Address uint64
	Size    uint64
	Perm    Perm
	Type    SegType
	Content []byte
}

// NewSegment returns a zero-filled segment.
func NewSegment(addr, size uint64, perm Perm, typ SegType) Segment {
	return Segment{
		Address: addr,
		Size:    size,
		Perm:    perm,
		Type:    typ,
		Content: make([]byte, size),
	}
}

// SegmentFromProg builds a zero-filled segment from a program header.
func SegmentFromProg(p *elf.ProgHeader) Segment {
	return NewSegment(p.Vaddr, p.Memsz, PermFromFlags(p.Flags), SegTypeFromProg(p.Type))
}

// AlignedStart is the address rounded down to the page.
func (s *Segment) AlignedStart() uint64 {
	return AlignDown(s.Address, PageSize)
}

// AlignedEnd always leaves at least one byte of slack past the segment:
// (Address + Size + PageSize) rounded down.
func (s *Segment) AlignedEnd() uint64 {
	return AlignDown(s.Address+s.Size+PageSize, PageSize)
}

// AlignedSize is AlignedEnd - AlignedStart.
func (s *Segment) AlignedSize() uint64 {
	return s.AlignedEnd() - s.AlignedStart()
}

// Loadable reports whether the segment is materialized into an emulator.
func (s *Segment) Loadable() bool {
	return s.Type == SegLoad
}

// Contains reports whether addr falls in the aligned range.
func (s *Segment) Contains(addr uint64) bool {
	return s.AlignedStart() <= addr && addr < s.AlignedEnd()
}

// View copies size bytes starting at addr out of the aligned range. Bytes
// in the alignment slack read as zero, matching a freshly mapped page.
// ok is false when the range is not fully inside the aligned range.
func (s *Segment) View(addr, size uint64) (data []byte, ok bool) {
	if !s.Contains(addr) || size > s.AlignedEnd()-addr {
		return nil, false
	}
	data = make([]byte, size)
	lo, hi := addr, addr+size
	if lo < s.Address {
		lo = s.Address
	}
	if end := s.Address + uint64(len(s.Content)); hi > end {
		hi = end
	}
	if lo < hi {
		copy(data[lo-addr:], s.Content[lo-s.Address:hi-s.Address])
	}
	return data, true
}

// Clone returns a deep copy.
func (s Segment) Clone() Segment {
	s.Content = append([]byte(nil), s.Content...)
	return s
}

func (s Segment) String() string {
	return fmt.Sprintf("[aligned %08x -- %08x: %s]", s.AlignedStart(), s.AlignedEnd(), s.Perm)
}
