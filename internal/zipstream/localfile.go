package zipstream

import (
	"bytes"
	"hash/crc32"
	"io"
	"os"
)

type localFileReaderPhase int

const (
	phaseHeader localFileReaderPhase = iota
	phaseData
	phaseDescriptor
	phaseDone
)

// crcCountingReader wraps a file, tallying a running CRC-32 and byte count
// of everything read through it, so the trailing data descriptor can be
// produced without a second pass over the file.
type crcCountingReader struct {
	file   *os.File
	crc    uint32
	amount uint32
}

func newCRCCountingReader(file *os.File) *crcCountingReader {
	return &crcCountingReader{file: file}
}

func (r *crcCountingReader) Read(p []byte) (int, error) {
	n, err := r.file.Read(p)
	if n > 0 {
		r.crc = crc32.Update(r.crc, crc32.IEEETable, p[:n])
		r.amount += uint32(n)
	}
	return n, err
}

// localFileReader streams one entry's local file header, data, and data
// descriptor, in that order.
type localFileReader struct {
	phase      localFileReaderPhase
	headerBuf  *bytes.Reader
	file       *os.File
	dataReader *crcCountingReader
	descBuf    *bytes.Reader
	crc        uint32
}

func newLocalFileReader(info *EntryInfo) (*localFileReader, error) {
	file, err := os.Open(info.Path)
	if err != nil {
		return nil, err
	}
	return &localFileReader{
		phase:     phaseHeader,
		headerBuf: bytes.NewReader(makeFileHeader(info, headerLocal)),
		file:      file,
	}, nil
}

// crcIfDone reports the entry's CRC-32 once fully read, or (0, false) before then.
func (r *localFileReader) crcIfDone() (uint32, bool) {
	if r.phase == phaseDone {
		return r.crc, true
	}
	return 0, false
}

func (r *localFileReader) Read(p []byte) (int, error) {
	for {
		var reader io.Reader
		switch r.phase {
		case phaseHeader:
			reader = r.headerBuf
		case phaseData:
			reader = r.dataReader
		case phaseDescriptor:
			reader = r.descBuf
		case phaseDone:
			return 0, nil
		}

		n, err := reader.Read(p)
		if n > 0 || len(p) == 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}

		switch r.phase {
		case phaseHeader:
			r.dataReader = newCRCCountingReader(r.file)
			r.phase = phaseData
		case phaseData:
			if cerr := r.file.Close(); cerr != nil {
				return 0, cerr
			}
			r.crc = r.dataReader.crc
			r.descBuf = bytes.NewReader(makeDataDescriptor(r.dataReader.crc, r.dataReader.amount))
			r.phase = phaseDescriptor
		case phaseDescriptor:
			r.phase = phaseDone
		}
	}
}
