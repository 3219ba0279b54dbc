// Package notes builds and parses the ELF notes carried inside a core
// file: the kernel's own NT_PRSTATUS/NT_FILE/NT_GNU_BUILD_ID notes read
// back out of a captured core, and the Memfault-specific metadata/debug
// notes appended to every artifact this agent produces.
package notes

import (
	"encoding/binary"
	"fmt"
)

const nhdrSize = 12 // Elf32_Nhdr layout: n_namesz, n_descsz, n_type, all uint32

const (
	NameCORE = "CORE"
	NameGNU  = "GNU"

	NTPRStatus    = 1
	NTFile        = 0x46494c45
	NTGNUBuildID  = 3
	NTAuxv        = 6
)

// BuildElfNote serializes a name/description/type triple into the ELF note
// binary layout: header, name padded to 4 bytes (including its NUL
// terminator, except an empty name uses namesz 0), description padded to
// 4 bytes.
func BuildElfNote(name string, description []byte, noteType uint32) []byte {
	nameBytes := []byte(name)
	nameSize := len(nameBytes)
	if nameSize > 0 {
		nameSize++ // terminating NUL counts toward namesz
	}
	alignedNameSize := alignUp4(nameSize)
	alignedDescSize := alignUp4(len(description))

	buf := make([]byte, nhdrSize+alignedNameSize+alignedDescSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(nameSize))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(description)))
	binary.LittleEndian.PutUint32(buf[8:12], noteType)

	copy(buf[nhdrSize:nhdrSize+len(nameBytes)], nameBytes)
	descOffset := nhdrSize + alignedNameSize
	copy(buf[descOffset:descOffset+len(description)], description)

	return buf
}

func alignUp4(n int) int {
	return (n + 3) &^ 3
}

// Note is one parsed ELF note: name, type, and raw description bytes.
// Callers that recognize (name, type) decode the description further
// (ParseProcessStatus, ParseFileNote, ...).
type Note struct {
	Name        string
	Type        uint32
	Description []byte
}

// Iterator walks consecutive ELF notes in a PT_NOTE segment's raw bytes.
type Iterator struct {
	buf    []byte
	offset int
}

func NewIterator(buf []byte) *Iterator {
	return &Iterator{buf: buf}
}

// Next returns the next note, or (Note{}, false) once the buffer is
// exhausted or malformed (a malformed trailing note is silently dropped
// rather than treated as fatal, matching the kernel's own tolerance for
// short note segments).
func (it *Iterator) Next() (Note, bool) {
	if it.offset >= len(it.buf) {
		return Note{}, false
	}

	note, nextOffset, err := parseNoteAt(it.buf, it.offset)
	if err != nil {
		return Note{}, false
	}
	it.offset = nextOffset
	return note, true
}

func parseNoteAt(buf []byte, offset int) (Note, int, error) {
	if offset+nhdrSize > len(buf) {
		return Note{}, 0, fmt.Errorf("notes: truncated note header at offset %d", offset)
	}

	nameSize := int(binary.LittleEndian.Uint32(buf[offset : offset+4]))
	descSize := int(binary.LittleEndian.Uint32(buf[offset+4 : offset+8]))
	noteType := binary.LittleEndian.Uint32(buf[offset+8 : offset+12])

	alignedNameSize := alignUp4(nameSize)
	alignedDescSize := alignUp4(descSize)

	body := offset + nhdrSize
	if body+alignedNameSize+alignedDescSize > len(buf) {
		return Note{}, 0, fmt.Errorf("notes: note buffer shorter than expected")
	}

	var name string
	if nameSize > 0 {
		// namesz includes the terminating NUL; trim it off.
		name = string(buf[body : body+nameSize-1])
	}

	descOffset := body + alignedNameSize
	description := buf[descOffset : descOffset+descSize]

	return Note{Name: name, Type: noteType, Description: description}, body + alignedNameSize + alignedDescSize, nil
}

// ProcessStatusNote mirrors the amd64 Linux NT_PRSTATUS description
// layout (struct elf_prstatus in <sys/procfs.h>) closely enough to pull
// out the register set and process identifiers transformer/strategy code
// needs; the full struct carries more scheduling bookkeeping fields this
// agent has no use for, so only the fields up to pr_reg are decoded and
// the register blob is kept as raw bytes rather than a typed struct
// (amd64 general-register layout, not itself transcribed from the pack).
type ProcessStatusNote struct {
	Pid     int32
	Ppid    int32
	Pgrp    int32
	Sid     int32
	Regs    []byte // raw general-purpose register dump, arch-specific layout
}

const (
	prStatusPrefixSize = 4 + 4 + 4 + 2 + 2 + 8 + 8 // si_signo,si_code,si_errno,pr_cursig,pad0,pr_sigpend,pr_sighold
	prStatusPidsOffset = prStatusPrefixSize
	prStatusPidsSize   = 4 * 4 // pr_pid, pr_ppid, pr_pgrp, pr_sid
	prStatusTimesSize  = 16 * 4 // four ProcessTimeVal{tv_sec,tv_usec} structs
	prStatusRegsOffset = prStatusPidsOffset + prStatusPidsSize + prStatusTimesSize
	amd64GRegSetSize   = 27 * 8 // struct user_regs_struct on amd64: 27 unsigned long fields
)

// ParseProcessStatus decodes a CORE/NT_PRSTATUS note description.
func ParseProcessStatus(desc []byte) (ProcessStatusNote, error) {
	if len(desc) < prStatusRegsOffset+amd64GRegSetSize {
		return ProcessStatusNote{}, fmt.Errorf("notes: NT_PRSTATUS description too short (%d bytes)", len(desc))
	}

	pid := int32(binary.LittleEndian.Uint32(desc[prStatusPidsOffset:]))
	ppid := int32(binary.LittleEndian.Uint32(desc[prStatusPidsOffset+4:]))
	pgrp := int32(binary.LittleEndian.Uint32(desc[prStatusPidsOffset+8:]))
	sid := int32(binary.LittleEndian.Uint32(desc[prStatusPidsOffset+12:]))

	regs := make([]byte, amd64GRegSetSize)
	copy(regs, desc[prStatusRegsOffset:prStatusRegsOffset+amd64GRegSetSize])

	return ProcessStatusNote{Pid: pid, Ppid: ppid, Pgrp: pgrp, Sid: sid, Regs: regs}, nil
}

// MappedFile is one entry of a parsed CORE/NT_FILE note.
type MappedFile struct {
	Path      string
	StartAddr uint64
	EndAddr   uint64
	PageOffset uint64
}

// FileNote is the parsed form of a CORE/NT_FILE note: the kernel's record
// of every file-backed mapping active at capture time.
type FileNote struct {
	PageSize     uint64
	MappedFiles  []MappedFile
	Incomplete   bool
}

const fileNoteEntrySize = 8 * 3 // start, end, file_ofs as unsigned long (amd64: 8 bytes each)

// ParseFileNote decodes a CORE/NT_FILE note's description, matching the
// layout documented in linux/fs/binfmt_elf.c: a (count, page_size)
// header, `count` (start, end, file_ofs) triples, then `count` NUL
// terminated path strings. Parses as much as possible and marks the
// result Incomplete rather than failing outright if the buffer is
// truncated partway through.
func ParseFileNote(desc []byte) (FileNote, error) {
	if len(desc) < 16 {
		return FileNote{}, fmt.Errorf("notes: NT_FILE description too short")
	}

	count := int(binary.LittleEndian.Uint64(desc[0:8]))
	pageSize := binary.LittleEndian.Uint64(desc[8:16])

	offset := 16
	entries := make([]struct{ start, end, fileOfs uint64 }, 0, count)
	incomplete := false

	for i := 0; i < count; i++ {
		if offset+fileNoteEntrySize > len(desc) {
			incomplete = true
			break
		}
		entries = append(entries, struct{ start, end, fileOfs uint64 }{
			start:   binary.LittleEndian.Uint64(desc[offset:]),
			end:     binary.LittleEndian.Uint64(desc[offset+8:]),
			fileOfs: binary.LittleEndian.Uint64(desc[offset+16:]),
		})
		offset += fileNoteEntrySize
	}

	strTableStart := offset
	if strTableStart > len(desc) {
		strTableStart = len(desc)
	}
	strTable := desc[strTableStart:]

	mapped := make([]MappedFile, 0, len(entries))
	pos := 0
	for _, e := range entries {
		path := ""
		if pos < len(strTable) {
			end := pos
			for end < len(strTable) && strTable[end] != 0 {
				end++
			}
			path = string(strTable[pos:end])
			if end < len(strTable) {
				pos = end + 1
			} else {
				pos = end
				incomplete = true
			}
		} else {
			incomplete = true
		}
		mapped = append(mapped, MappedFile{Path: path, StartAddr: e.start, EndAddr: e.end, PageOffset: e.fileOfs})
	}

	return FileNote{PageSize: pageSize, MappedFiles: mapped, Incomplete: incomplete}, nil
}
