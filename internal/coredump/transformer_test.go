package coredump

import (
	"bytes"
	"io"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreelf "github.com/memfault/memfaultd-go/internal/coredump/elf"
	"github.com/memfault/memfaultd-go/internal/coredump/notes"
	"github.com/memfault/memfaultd-go/internal/coredump/strategy"
	"github.com/memfault/memfaultd-go/pkg/agenterrors"
)

func elfIdent() [16]byte {
	var id [16]byte
	id[0], id[1], id[2], id[3] = coreelf.ELFMAG0, coreelf.ELFMAG1, coreelf.ELFMAG2, coreelf.ELFMAG3
	id[4] = coreelf.ELFCLASS64
	id[5] = coreelf.ELFDATA2LSB
	id[6] = coreelf.EV_CURRENT
	return id
}

// buildCoreStream assembles a minimal ELF core with a single PT_LOAD
// segment, for use as the transformer's input.
func buildCoreStream(t *testing.T, loadVaddr uint64, loadData []byte) []byte {
	t.Helper()

	header := coreelf.Header{
		Ident:     elfIdent(),
		Type:      coreelf.ET_CORE,
		Machine:   coreelf.EM_X86_64,
		Version:   coreelf.EV_CURRENT,
		Ehsize:    coreelf.EhdrSize,
		Phentsize: coreelf.PhdrSize,
		Phnum:     1,
		Phoff:     coreelf.EhdrSize,
	}

	ph := coreelf.ProgramHeader{
		Type:   coreelf.PT_LOAD,
		Offset: uint64(coreelf.EhdrSize + coreelf.PhdrSize),
		Vaddr:  loadVaddr,
		Filesz: uint64(len(loadData)),
		Align:  1,
	}

	buf := append([]byte{}, header.Encode()...)
	buf = append(buf, ph.Encode()...)
	buf = append(buf, loadData...)
	return buf
}

type fakeProcMem struct {
	data map[uint64][]byte
}

func (f *fakeProcMem) ReadAt(vaddr, length uint64, w io.Writer) (int64, error) {
	data := f.data[vaddr]
	if uint64(len(data)) > length {
		data = data[:length]
	}
	n, err := w.Write(data)
	return int64(n), err
}

func (f *fakeProcMem) ReadBytes(vaddr, length uint64) ([]byte, error) {
	data := f.data[vaddr]
	if uint64(len(data)) > length {
		data = data[:length]
	}
	return data, nil
}

type fakeProcMaps struct {
	ranges           []strategy.MemoryRange
	fileBackedOffset []uint64
}

func (f *fakeProcMaps) Ranges() []strategy.MemoryRange          { return f.ranges }
func (f *fakeProcMaps) FileBackedAtOffsetZero() []uint64 { return f.fileBackedOffset }

func testMetadata() Metadata {
	return Metadata{
		SDKVersion:      "1.0.0",
		DeviceSerial:    "DEVICE123",
		HardwareVersion: "evt",
		SoftwareType:    "main",
		SoftwareVersion: "1.2.3",
		CmdLine:         "/usr/bin/myapp",
	}
}

func TestTransformerRunKernelSelectionProducesReadableCore(t *testing.T) {
	loadData := bytes.Repeat([]byte{0xAB}, 64)
	stream := buildCoreStream(t, 0x1000, loadData)

	reader, err := coreelf.NewCoreReader(bytes.NewReader(stream))
	require.NoError(t, err)

	procMem := &fakeProcMem{data: map[uint64][]byte{0x1000: loadData}}
	procMaps := &fakeProcMaps{}

	options := Options{MaxSize: 1 << 20, CaptureStrategy: CaptureStrategyKernelSelection}
	tr := NewTransformer(reader, procMem, procMaps, options, testMetadata(), nil)

	var out bytes.Buffer
	require.NoError(t, tr.Run(&out))

	decoded := coreelf.DecodeHeader(out.Bytes()[:coreelf.EhdrSize])
	assert.EqualValues(t, coreelf.ET_CORE, decoded.Type)
	assert.Equal(t, 2, int(decoded.Phnum)) // forwarded PT_LOAD + metadata PT_NOTE
}

func TestTransformerRunFallsBackWhenThreadFilterUnsupported(t *testing.T) {
	loadData := []byte{1, 2, 3, 4}
	stream := buildCoreStream(t, 0x2000, loadData)

	reader, err := coreelf.NewCoreReader(bytes.NewReader(stream))
	require.NoError(t, err)

	procMem := &fakeProcMem{data: map[uint64][]byte{0x2000: loadData}}
	procMaps := &fakeProcMaps{}

	options := Options{
		MaxSize:               1 << 20,
		CaptureStrategy:       CaptureStrategyThreads,
		ThreadFilterSupported: false,
	}
	tr := NewTransformer(reader, procMem, procMaps, options, testMetadata(), nil)

	var out bytes.Buffer
	require.NoError(t, tr.Run(&out))

	// The fallback's metadata note must record kernel_selection, not threads.
	decoded := coreelf.DecodeHeader(out.Bytes()[:coreelf.EhdrSize])
	phdrStart := coreelf.EhdrSize
	phdrs := coreelf.DecodeProgramHeaders(out.Bytes()[phdrStart:], int(decoded.Phnum))

	var metadataNoteFound bool
	for _, ph := range phdrs {
		if ph.Type != coreelf.PT_NOTE {
			continue
		}
		noteData := out.Bytes()[ph.Offset : ph.Offset+ph.Filesz]
		it := notes.NewIterator(noteData)
		for {
			note, ok := it.Next()
			if !ok {
				break
			}
			if note.Type == notes.MetadataNoteType {
				metadataNoteFound = true
				var m notes.Metadata
				require.NoError(t, cbor.Unmarshal(note.Description, &m))
				assert.Equal(t, CaptureStrategyKernelSelection, m.CaptureStrategy)
			}
		}
	}
	assert.True(t, metadataNoteFound)
}

func TestTransformerRunReturnsTooLargeWhenOverBudget(t *testing.T) {
	loadData := bytes.Repeat([]byte{0xCD}, 4096)
	stream := buildCoreStream(t, 0x3000, loadData)

	reader, err := coreelf.NewCoreReader(bytes.NewReader(stream))
	require.NoError(t, err)

	procMem := &fakeProcMem{data: map[uint64][]byte{0x3000: loadData}}
	procMaps := &fakeProcMaps{}

	options := Options{MaxSize: 16, CaptureStrategy: CaptureStrategyKernelSelection}
	tr := NewTransformer(reader, procMem, procMaps, options, testMetadata(), nil)

	var out bytes.Buffer
	err = tr.Run(&out)
	require.Error(t, err)

	var agentErr *agenterrors.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, agenterrors.CodeCoredumpTooLarge, agentErr.Code)
}
