package elf

import (
	"fmt"
	"io"
	"sort"
)

// ForwardOnlySeeker wraps an io.Reader that the kernel hands us as a pipe
// (stdin): it cannot seek backwards, only track how far it has read and
// skip forward by discarding bytes. CoreReader relies on this to satisfy
// reads for segments sorted ascending by file offset.
type ForwardOnlySeeker struct {
	r   io.Reader
	pos int64
}

func NewForwardOnlySeeker(r io.Reader) *ForwardOnlySeeker {
	return &ForwardOnlySeeker{r: r}
}

func (f *ForwardOnlySeeker) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	f.pos += int64(n)
	return n, err
}

// SeekForward advances the stream to absolute offset target, discarding
// whatever lies between the current position and target. It refuses to
// seek backwards.
func (f *ForwardOnlySeeker) SeekForward(target int64) error {
	if target < f.pos {
		return fmt.Errorf("elf: cannot seek backwards from %d to %d", f.pos, target)
	}
	if target == f.pos {
		return nil
	}
	n, err := io.CopyN(io.Discard, f.r, target-f.pos)
	f.pos += n
	return err
}

// CoreReader reads ELF headers and segment data from a core stream.
type CoreReader interface {
	ReadProgramHeaders() ([]ProgramHeader, error)
	ReadSegmentData(ph ProgramHeader) ([]byte, error)
}

// CoreReaderImpl is the concrete, forward-only CoreReader used against a
// kernel-supplied core stream on stdin.
type CoreReaderImpl struct {
	input  *ForwardOnlySeeker
	header Header
}

// NewCoreReader reads and validates the ELF header at the start of input.
func NewCoreReader(input io.Reader) (*CoreReaderImpl, error) {
	seeker := NewForwardOnlySeeker(input)
	buf := make([]byte, EhdrSize)
	if _, err := io.ReadFull(seeker, buf); err != nil {
		return nil, err
	}

	header := DecodeHeader(buf)
	if !verifyHeader(header) {
		return nil, fmt.Errorf("elf: invalid ELF header")
	}

	return &CoreReaderImpl{input: seeker, header: header}, nil
}

func verifyHeader(h Header) bool {
	return h.Ident[0] == ELFMAG0 && h.Ident[1] == ELFMAG1 && h.Ident[2] == ELFMAG2 && h.Ident[3] == ELFMAG3 &&
		h.Ident[4] == ELFCLASS64 &&
		h.Ident[5] == ELFDATA2LSB &&
		h.Version == EV_CURRENT &&
		h.Ehsize == EhdrSize &&
		h.Phentsize == PhdrSize &&
		h.Machine == EM_X86_64
}

func (r *CoreReaderImpl) Header() Header {
	return r.header
}

func (r *CoreReaderImpl) ReadProgramHeaders() ([]ProgramHeader, error) {
	if err := r.input.SeekForward(int64(r.header.Phoff)); err != nil {
		return nil, err
	}

	headers, err := ReadProgramHeaders(r.input, int(r.header.Phnum))
	if err != nil {
		return nil, err
	}

	// Sort, just in case the program headers aren't sorted by offset already;
	// ReadSegmentData calls afterwards rely on ascending, forward-only reads.
	sort.Slice(headers, func(i, j int) bool { return headers[i].Offset < headers[j].Offset })
	return headers, nil
}

func (r *CoreReaderImpl) ReadSegmentData(ph ProgramHeader) ([]byte, error) {
	if err := r.input.SeekForward(int64(ph.Offset)); err != nil {
		return nil, err
	}
	buf := make([]byte, ph.Filesz)
	if _, err := io.ReadFull(r.input, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadProgramHeaders reads count consecutive program header table entries
// from r.
func ReadProgramHeaders(r io.Reader, count int) ([]ProgramHeader, error) {
	buf := make([]byte, count*PhdrSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return DecodeProgramHeaders(buf, count), nil
}
