package zipstream

import (
	"bytes"
	"fmt"
	"io"
)

type encoderPhase int

const (
	encInit encoderPhase = iota
	encLocalFiles
	encCentralDirectory
	encEndOfCentralDirectory
	encDone
)

// Encoder streams a store-only ZIP archive over a fixed list of files. It
// implements io.Reader and never holds more than one file's contents (read
// in caller-sized chunks) in memory at a time.
type Encoder struct {
	files []*EntryInfo
	phase encoderPhase

	index         int
	localReader   *localFileReader
	cdReader      *bytes.Reader
	cdStartOffset int
	eocdReader    *bytes.Reader

	bytesWritten int
}

// NewEncoder builds an Encoder over files. The EntryInfo values are mutated
// in place (offset, crc) as the stream is read; do not reuse them
// concurrently with another Encoder. Fails if files exceeds MaxEntries,
// since the archive's central directory cannot index more than that.
func NewEncoder(files []*EntryInfo) (*Encoder, error) {
	if len(files) > MaxEntries {
		return nil, fmt.Errorf("zipstream: %d entries exceeds the %d entry limit for a single archive", len(files), MaxEntries)
	}
	return &Encoder{files: files, phase: encInit}, nil
}

// Len returns the total byte length of the archive, computed without
// reading any file contents.
func (e *Encoder) Len() uint64 {
	return StreamLen(e.files)
}

// FileNames returns the archive name of each entry, for diagnostics.
func (e *Encoder) FileNames() []string {
	names := make([]string, len(e.files))
	for i, f := range e.files {
		names[i] = string(f.Name)
	}
	return names
}

func (e *Encoder) Read(p []byte) (int, error) {
	for {
		var reader io.Reader
		switch e.phase {
		case encInit:
			if len(e.files) == 0 {
				e.setEndOfCentralDirectory(0)
			} else {
				if err := e.setLocalFiles(0); err != nil {
					return 0, err
				}
			}
			continue
		case encLocalFiles:
			reader = e.localReader
		case encCentralDirectory:
			reader = e.cdReader
		case encEndOfCentralDirectory:
			reader = e.eocdReader
		case encDone:
			return 0, nil
		}

		n, err := reader.Read(p)
		e.bytesWritten += n
		if n > 0 || len(p) == 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}

		switch e.phase {
		case encLocalFiles:
			crc, done := e.localReader.crcIfDone()
			if !done {
				// The prior read returned 0 bytes without reaching the
				// terminal phase; treat as EOF to avoid spinning forever.
				return 0, io.ErrUnexpectedEOF
			}
			e.files[e.index].crc = crc
			next := e.index + 1
			if next < len(e.files) {
				e.files[next].offset = uint32(e.bytesWritten)
				if err := e.setLocalFiles(next); err != nil {
					return 0, err
				}
			} else {
				e.setCentralDirectory(0, e.bytesWritten)
			}
		case encCentralDirectory:
			next := e.index + 1
			if next < len(e.files) {
				e.setCentralDirectory(next, e.cdStartOffset)
			} else {
				e.setEndOfCentralDirectory(e.cdStartOffset)
			}
		case encEndOfCentralDirectory:
			e.phase = encDone
		}
	}
}

func (e *Encoder) setLocalFiles(index int) error {
	r, err := newLocalFileReader(e.files[index])
	if err != nil {
		return err
	}
	e.index = index
	e.localReader = r
	e.phase = encLocalFiles
	return nil
}

func (e *Encoder) setCentralDirectory(index, startOffset int) {
	e.index = index
	e.cdStartOffset = startOffset
	e.cdReader = bytes.NewReader(makeFileHeader(e.files[index], headerCentralDirectory))
	e.phase = encCentralDirectory
}

func (e *Encoder) setEndOfCentralDirectory(startOffset int) {
	numFiles := uint16(len(e.files))
	size := uint32(e.bytesWritten - startOffset)
	e.eocdReader = bytes.NewReader(makeEndOfCentralDirectory(numFiles, size, uint32(startOffset)))
	e.phase = encEndOfCentralDirectory
}
