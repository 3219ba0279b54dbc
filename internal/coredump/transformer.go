// Package coredump converts a kernel-produced ELF core stream into a
// compact, device-identified artifact: it selects which memory regions
// are worth preserving (elf.Reader/elf.Writer, notes, strategy), appends
// Memfault metadata notes, and enforces a size budget before ever
// streaming a byte of process memory.
package coredump

import (
	"fmt"

	"github.com/memfault/memfaultd-go/internal/coredump/elf"
	"github.com/memfault/memfaultd-go/internal/coredump/notes"
	"github.com/memfault/memfaultd-go/internal/coredump/strategy"
	"github.com/memfault/memfaultd-go/internal/logging"
	"github.com/memfault/memfaultd-go/pkg/agenterrors"
)

const (
	CaptureStrategyKernelSelection = "kernel_selection"
	CaptureStrategyThreads         = "threads"
)

// Metadata is the device/process context written into the Memfault
// metadata note alongside every captured core.
type Metadata struct {
	SDKVersion      string
	DeviceSerial    string
	HardwareVersion string
	SoftwareType    string
	SoftwareVersion string
	CmdLine         string
	CaptureStrategy string
	AppLogs         []string
}

// Options configures a single Transform invocation.
type Options struct {
	MaxSize               int64
	CaptureStrategy       string
	MaxThreadSize         int
	ThreadFilterSupported bool
}

// ProcMaps supplies the process's memory mapping snapshot the Threads
// strategy needs to bound stack captures and locate file-backed mappings.
type ProcMaps interface {
	// Ranges returns every mapped region's address range.
	Ranges() []strategy.MemoryRange
	// FileBackedAtOffsetZero returns the start address of every mapping
	// that begins at file offset 0 — candidates for containing an ELF
	// header (the main executable and shared libraries).
	FileBackedAtOffsetZero() []uint64
}

// ProcMem is the process-memory source both the strategy discovery code
// and the final writer read from.
type ProcMem interface {
	elf.ProcessMemoryReader
	ReadBytes(vaddr uint64, length uint64) ([]byte, error)
}

// Transformer reads a captured core via CoreReader, decides which
// segments to keep, appends Memfault notes, and writes the result via
// elf.Writer.
type Transformer struct {
	reader   *elf.CoreReaderImpl
	procMem  ProcMem
	procMaps ProcMaps
	options  Options
	metadata Metadata
	log      *logging.Logger

	captureLogs []string
}

func NewTransformer(reader *elf.CoreReaderImpl, procMem ProcMem, procMaps ProcMaps, options Options, metadata Metadata, log *logging.Logger) *Transformer {
	return &Transformer{reader: reader, procMem: procMem, procMaps: procMaps, options: options, metadata: metadata, log: log}
}

func (t *Transformer) logf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	t.captureLogs = append(t.captureLogs, msg)
	if t.log != nil {
		t.log.Warnf("%s", msg)
	}
}

// Run selects segments, builds notes, checks the size budget, and streams
// the transformed core to out.
func (t *Transformer) Run(out interface{ Write([]byte) (int, error) }) error {
	programHeaders, err := t.reader.ReadProgramHeaders()
	if err != nil {
		return agenterrors.New(agenterrors.CodeCoredumpUnreadable, "failed to read program headers").
			WithComponent("coredump").WithOperation("Run").WithCause(err)
	}

	noteSegments := t.readAllNoteSegments(programHeaders)

	captureStrategy := t.options.CaptureStrategy
	var loadHeaders []elf.ProgramHeader
	if captureStrategy == CaptureStrategyThreads && t.options.ThreadFilterSupported {
		loadHeaders = t.threadsSegments(noteSegments)
	} else {
		if captureStrategy == CaptureStrategyThreads {
			captureStrategy = CaptureStrategyKernelSelection
		}
		loadHeaders = strategy.KernelSelectionSegments(programHeaders)
	}

	writer := elf.NewWriter(t.reader.Header(), out, t.procMem)
	for _, ns := range noteSegments {
		writer.AddSegment(ns.header, elf.SegmentData{Buffer: ns.data, Source: elf.SourceBuffer})
	}
	for _, ph := range loadHeaders {
		writer.AddSegment(ph, elf.SegmentData{Source: elf.SourceProcessMemory})
	}

	if err := t.addMemfaultNotes(writer, captureStrategy); err != nil {
		return err
	}

	if size := writer.CalcOutputSize(); size > t.options.MaxSize {
		return agenterrors.New(agenterrors.CodeCoredumpTooLarge, "core file exceeds configured size cap").
			WithComponent("coredump").WithOperation("Run").
			WithDetail("size", size).WithDetail("max_size", t.options.MaxSize)
	}

	return writer.Write()
}

type noteSegment struct {
	header elf.ProgramHeader
	data   []byte
}

func (t *Transformer) readAllNoteSegments(programHeaders []elf.ProgramHeader) []noteSegment {
	var out []noteSegment
	for _, ph := range programHeaders {
		if ph.Type != elf.PT_NOTE {
			continue
		}
		data, err := t.reader.ReadSegmentData(ph)
		if err != nil {
			t.logf("failed to read note segment at offset %d: %v", ph.Offset, err)
			continue
		}
		out = append(out, noteSegment{header: ph, data: data})
	}
	return out
}

// threadsSegments synthesizes the minimal covering set described by the
// Threads strategy: per-thread stacks, ELF/build-id metadata ranges for
// every file-backed mapping at offset 0, and the dynamic linker's
// bookkeeping chain, merged and turned into PT_LOAD headers.
func (t *Transformer) threadsSegments(noteSegments []noteSegment) []elf.ProgramHeader {
	memoryMaps := t.procMaps.Ranges()

	var ranges []strategy.MemoryRange
	var phdrVaddr, phdrNum uint64
	haveAuxv := false

	for _, ns := range noteSegments {
		it := notes.NewIterator(ns.data)
		for {
			note, ok := it.Next()
			if !ok {
				break
			}
			switch {
			case note.Name == notes.NameCORE && note.Type == notes.NTPRStatus:
				status, err := notes.ParseProcessStatus(note.Description)
				if err != nil {
					t.logf("failed to parse NT_PRSTATUS: %v", err)
					continue
				}
				if stack, ok := strategy.FindStack(status.Regs, memoryMaps, t.options.MaxThreadSize); ok {
					ranges = append(ranges, stack)
				} else {
					t.logf("failed to collect stack for thread %d", status.Pid)
				}
			case note.Name == notes.NameCORE && note.Type == notes.NTAuxv:
				auxv := notes.ParseAuxv(note.Description)
				if v, ok := auxv[notes.AuxvAtPhdr]; ok {
					phdrVaddr = v
					haveAuxv = true
				}
				if v, ok := auxv[notes.AuxvAtPhnum]; ok {
					phdrNum = v
				}
			}
		}
	}

	for _, vaddrBase := range t.procMaps.FileBackedAtOffsetZero() {
		data, err := t.procMem.ReadBytes(vaddrBase, elf.EhdrSize+8*elf.PhdrSize)
		if err != nil {
			continue
		}
		headerRanges, err := strategy.FindELFHeadersAndBuildIDNoteRanges(vaddrBase, data)
		if err != nil {
			t.logf("failed to collect ELF metadata for mapping at 0x%x: %v", vaddrBase, err)
			continue
		}
		ranges = append(ranges, headerRanges...)
	}

	if haveAuxv && phdrNum > 0 {
		dynRanges, err := strategy.FindDynamicLinkerRanges(t.procMem, phdrVaddr, phdrNum, memoryMaps)
		if err != nil {
			t.logf("failed to collect dynamic linker ranges: %v", err)
		} else {
			ranges = append(ranges, dynRanges...)
		}
	} else {
		t.logf("missing AT_PHDR or AT_PHNUM auxv entry")
	}

	merged := strategy.MergeRanges(ranges)
	headers := make([]elf.ProgramHeader, 0, len(merged))
	for _, r := range merged {
		headers = append(headers, strategy.ProgramHeaderFromRange(r))
	}
	return headers
}

func (t *Transformer) addMemfaultNotes(writer *elf.Writer, captureStrategy string) error {
	metadata := notes.NewMetadata(t.metadata.SDKVersion, t.metadata.DeviceSerial, t.metadata.HardwareVersion,
		t.metadata.SoftwareType, t.metadata.SoftwareVersion, t.metadata.CmdLine, captureStrategy)
	if len(t.metadata.AppLogs) > 0 {
		metadata.AppLogs = &notes.MetadataLogs{Logs: t.metadata.AppLogs, Format: "logfmt"}
	}

	metadataNote, err := notes.BuildMetadataNote(metadata)
	if err != nil {
		return agenterrors.New(agenterrors.CodeInternal, "failed to build metadata note").
			WithComponent("coredump").WithOperation("addMemfaultNotes").WithCause(err)
	}
	writer.AddSegment(elf.ProgramHeader{Type: elf.PT_NOTE, Filesz: uint64(len(metadataNote))}, elf.SegmentData{Buffer: metadataNote, Source: elf.SourceBuffer})

	if len(t.captureLogs) == 0 {
		return nil
	}
	debugNote, err := notes.BuildDebugDataNote(t.captureLogs)
	if err != nil {
		return agenterrors.New(agenterrors.CodeInternal, "failed to build debug data note").
			WithComponent("coredump").WithOperation("addMemfaultNotes").WithCause(err)
	}
	writer.AddSegment(elf.ProgramHeader{Type: elf.PT_NOTE, Filesz: uint64(len(debugNote))}, elf.SegmentData{Buffer: debugNote, Source: elf.SourceBuffer})

	return nil
}
