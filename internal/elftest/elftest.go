// Package elftest synthesizes small 32-bit ELF objects for tests, so the
// loader and emulator can be exercised without sample binaries on disk.
package elftest

import (
	"debug/elf"
	"encoding/binary"
)

// Prog describes one program header.
type Prog struct {
	Type  elf.ProgType
	Flags elf.ProgFlag
	Vaddr uint64
	Memsz uint64
}

// Section describes one section header and its file bytes. Size, when
// non-zero, overrides the recorded sh_size (to describe truncated files).
type Section struct {
	Name  string
	Type  elf.SectionType
	Flags elf.SectionFlag
	Addr  uint64
	Data  []byte
	Size  uint64
}

// File is an ELF32 object under construction.
type File struct {
	Machine  elf.Machine
	Order    binary.ByteOrder
	Entry    uint64
	Progs    []Prog
	Sections []Section
}

// ARM returns a little-endian ARM executable skeleton.
func ARM() *File {
	return &File{Machine: elf.EM_ARM, Order: binary.LittleEndian}
}

// MIPS returns a little-endian MIPS executable skeleton.
func MIPS() *File {
	return &File{Machine: elf.EM_MIPS, Order: binary.LittleEndian}
}

// Load appends a PT_LOAD header.
func (f *File) Load(vaddr, memsz uint64, flags elf.ProgFlag) *File {
	f.Progs = append(f.Progs, Prog{Type: elf.PT_LOAD, Flags: flags, Vaddr: vaddr, Memsz: memsz})
	return f
}

// Header appends a non-load program header.
func (f *File) Header(t elf.ProgType, vaddr, memsz uint64, flags elf.ProgFlag) *File {
	f.Progs = append(f.Progs, Prog{Type: t, Flags: flags, Vaddr: vaddr, Memsz: memsz})
	return f
}

// Code appends an allocated, executable PROGBITS section.
func (f *File) Code(name string, addr uint64, data []byte) *File {
	return f.Section(Section{
		Name:  name,
		Type:  elf.SHT_PROGBITS,
		Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR,
		Addr:  addr,
		Data:  data,
	})
}

// Data appends an allocated, writable PROGBITS section.
func (f *File) Data(name string, addr uint64, data []byte) *File {
	return f.Section(Section{
		Name:  name,
		Type:  elf.SHT_PROGBITS,
		Flags: elf.SHF_ALLOC | elf.SHF_WRITE,
		Addr:  addr,
		Data:  data,
	})
}

// Section appends an arbitrary section.
func (f *File) Section(s Section) *File {
	f.Sections = append(f.Sections, s)
	return f
}

const (
	ehdrSize = 52
	phdrSize = 32
	shdrSize = 40
)

// Bytes serializes the object. Layout: ELF header, program headers,
// section headers, .shstrtab, then section data in declaration order so
// the last section's bytes end the file.
func (f *File) Bytes() []byte {
	o := f.Order
	if o == nil {
		o = binary.LittleEndian
	}

	// name table: "\0" + names + ".shstrtab"
	strtab := []byte{0}
	nameOff := make([]uint32, len(f.Sections))
	for i, s := range f.Sections {
		nameOff[i] = uint32(len(strtab))
		strtab = append(strtab, s.Name...)
		strtab = append(strtab, 0)
	}
	shstrName := uint32(len(strtab))
	strtab = append(strtab, ".shstrtab"...)
	strtab = append(strtab, 0)

	shnum := len(f.Sections) + 2 // null + sections + shstrtab
	phoff := uint32(ehdrSize)
	shoff := phoff + uint32(len(f.Progs)*phdrSize)
	strOff := shoff + uint32(shnum*shdrSize)
	dataOff := strOff + uint32(len(strtab))

	out := make([]byte, dataOff)

	// ELF header
	copy(out, []byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS32), dataByte(o), byte(elf.EV_CURRENT)})
	o.PutUint16(out[16:], uint16(elf.ET_EXEC))
	o.PutUint16(out[18:], uint16(f.Machine))
	o.PutUint32(out[20:], uint32(elf.EV_CURRENT))
	o.PutUint32(out[24:], uint32(f.Entry))
	o.PutUint32(out[28:], phoff)
	o.PutUint32(out[32:], shoff)
	o.PutUint16(out[40:], ehdrSize)
	o.PutUint16(out[42:], phdrSize)
	o.PutUint16(out[44:], uint16(len(f.Progs)))
	o.PutUint16(out[46:], shdrSize)
	o.PutUint16(out[48:], uint16(shnum))
	o.PutUint16(out[50:], uint16(shnum-1))

	for i, p := range f.Progs {
		b := out[phoff+uint32(i*phdrSize):]
		o.PutUint32(b[0:], uint32(p.Type))
		o.PutUint32(b[8:], uint32(p.Vaddr))
		o.PutUint32(b[12:], uint32(p.Vaddr))
		o.PutUint32(b[20:], uint32(p.Memsz))
		o.PutUint32(b[24:], uint32(p.Flags))
		o.PutUint32(b[28:], 0x1000)
	}

	putShdr := func(idx int, name, typ, flags, addr, off, size uint32) {
		b := out[shoff+uint32(idx*shdrSize):]
		o.PutUint32(b[0:], name)
		o.PutUint32(b[4:], typ)
		o.PutUint32(b[8:], flags)
		o.PutUint32(b[12:], addr)
		o.PutUint32(b[16:], off)
		o.PutUint32(b[20:], size)
		o.PutUint32(b[32:], 1)
	}

	off := dataOff
	for i, s := range f.Sections {
		size := uint32(len(s.Data))
		if s.Size != 0 {
			size = uint32(s.Size)
		}
		putShdr(i+1, nameOff[i], uint32(s.Type), uint32(s.Flags), uint32(s.Addr), off, size)
		out = append(out, s.Data...)
		off += uint32(len(s.Data))
	}
	putShdr(shnum-1, shstrName, uint32(elf.SHT_STRTAB), 0, 0, strOff, uint32(len(strtab)))
	copy(out[strOff:], strtab)

	return out
}

func dataByte(o binary.ByteOrder) byte {
	if o == binary.BigEndian {
		return byte(elf.ELFDATA2MSB)
	}
	return byte(elf.ELFDATA2LSB)
}
