// Package elf defines the subset of the 64-bit ELF core file format the
// coredump transformer needs: the file header, program header table, and
// the handful of segment/section type constants it reads or writes.
//
// Only ELFCLASS64/little-endian/EM_X86_64 cores are supported. The original
// implementation specializes per target architecture; that specialization
// table was not available to ground a multi-arch port against, so this
// package targets the one architecture the rest of the pack's deployment
// target (Linux/amd64 embedded devices) actually runs.
package elf

import "encoding/binary"

const (
	EhdrSize = 64
	PhdrSize = 56

	ELFMAG0 = 0x7f
	ELFMAG1 = 'E'
	ELFMAG2 = 'L'
	ELFMAG3 = 'F'

	ELFCLASS64   = 2
	ELFDATA2LSB  = 1
	EV_CURRENT   = 1
	ET_CORE      = 4
	EM_X86_64    = 62

	PT_NULL    = 0
	PT_LOAD    = 1
	PT_DYNAMIC = 2
	PT_INTERP  = 3
	PT_NOTE    = 4
	PT_PHDR    = 6

	DT_NULL  = 0
	DT_DEBUG = 21
)

// Header is the 64-bit ELF file header (Ehdr), in file byte order
// (little-endian on every target this agent runs on).
type Header struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// ProgramHeader is the 64-bit ELF program header (Phdr).
type ProgramHeader struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// DynEntry is one entry of a PT_DYNAMIC segment.
type DynEntry struct {
	Tag uint64
	Val uint64
}

func DecodeHeader(b []byte) Header {
	var h Header
	copy(h.Ident[:], b[0:16])
	h.Type = binary.LittleEndian.Uint16(b[16:18])
	h.Machine = binary.LittleEndian.Uint16(b[18:20])
	h.Version = binary.LittleEndian.Uint32(b[20:24])
	h.Entry = binary.LittleEndian.Uint64(b[24:32])
	h.Phoff = binary.LittleEndian.Uint64(b[32:40])
	h.Shoff = binary.LittleEndian.Uint64(b[40:48])
	h.Flags = binary.LittleEndian.Uint32(b[48:52])
	h.Ehsize = binary.LittleEndian.Uint16(b[52:54])
	h.Phentsize = binary.LittleEndian.Uint16(b[54:56])
	h.Phnum = binary.LittleEndian.Uint16(b[56:58])
	h.Shentsize = binary.LittleEndian.Uint16(b[58:60])
	h.Shnum = binary.LittleEndian.Uint16(b[60:62])
	h.Shstrndx = binary.LittleEndian.Uint16(b[62:64])
	return h
}

func (h Header) Encode() []byte {
	b := make([]byte, EhdrSize)
	copy(b[0:16], h.Ident[:])
	binary.LittleEndian.PutUint16(b[16:18], h.Type)
	binary.LittleEndian.PutUint16(b[18:20], h.Machine)
	binary.LittleEndian.PutUint32(b[20:24], h.Version)
	binary.LittleEndian.PutUint64(b[24:32], h.Entry)
	binary.LittleEndian.PutUint64(b[32:40], h.Phoff)
	binary.LittleEndian.PutUint64(b[40:48], h.Shoff)
	binary.LittleEndian.PutUint32(b[48:52], h.Flags)
	binary.LittleEndian.PutUint16(b[52:54], h.Ehsize)
	binary.LittleEndian.PutUint16(b[54:56], h.Phentsize)
	binary.LittleEndian.PutUint16(b[56:58], h.Phnum)
	binary.LittleEndian.PutUint16(b[58:60], h.Shentsize)
	binary.LittleEndian.PutUint16(b[60:62], h.Shnum)
	binary.LittleEndian.PutUint16(b[62:64], h.Shstrndx)
	return b
}

func DecodeProgramHeader(b []byte) ProgramHeader {
	return ProgramHeader{
		Type:   binary.LittleEndian.Uint32(b[0:4]),
		Flags:  binary.LittleEndian.Uint32(b[4:8]),
		Offset: binary.LittleEndian.Uint64(b[8:16]),
		Vaddr:  binary.LittleEndian.Uint64(b[16:24]),
		Paddr:  binary.LittleEndian.Uint64(b[24:32]),
		Filesz: binary.LittleEndian.Uint64(b[32:40]),
		Memsz:  binary.LittleEndian.Uint64(b[40:48]),
		Align:  binary.LittleEndian.Uint64(b[48:56]),
	}
}

func (ph ProgramHeader) Encode() []byte {
	b := make([]byte, PhdrSize)
	binary.LittleEndian.PutUint32(b[0:4], ph.Type)
	binary.LittleEndian.PutUint32(b[4:8], ph.Flags)
	binary.LittleEndian.PutUint64(b[8:16], ph.Offset)
	binary.LittleEndian.PutUint64(b[16:24], ph.Vaddr)
	binary.LittleEndian.PutUint64(b[24:32], ph.Paddr)
	binary.LittleEndian.PutUint64(b[32:40], ph.Filesz)
	binary.LittleEndian.PutUint64(b[40:48], ph.Memsz)
	binary.LittleEndian.PutUint64(b[48:56], ph.Align)
	return b
}

// DecodeProgramHeaders decodes count consecutive program headers from b.
func DecodeProgramHeaders(b []byte, count int) []ProgramHeader {
	out := make([]ProgramHeader, 0, count)
	for i := 0; i < count; i++ {
		start := i * PhdrSize
		out = append(out, DecodeProgramHeader(b[start:start+PhdrSize]))
	}
	return out
}

// DecodeDynEntry decodes one 16-byte Elf64_Dyn entry.
func DecodeDynEntry(b []byte) DynEntry {
	return DynEntry{
		Tag: binary.LittleEndian.Uint64(b[0:8]),
		Val: binary.LittleEndian.Uint64(b[8:16]),
	}
}

const DynEntrySize = 16
