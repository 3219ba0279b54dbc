// Package zipstream implements a minimal, allocation-light ZIP encoder that
// streams a list of on-disk files as an uncompressed ("store") ZIP archive
// without ever holding a whole file or the whole archive in memory. Its
// length can be computed up front from file sizes alone, which is what
// makes it useful for setting a Content-Length header before a single byte
// has been read.
//
// It implements only what the uploader needs: store-only compression, the
// 32-bit ZIP format (files under 4GB, archives of at most 65,535 entries), no
// timestamps, no UTF-8 filename flag.
package zipstream

import (
	"fmt"
	"os"
	"path/filepath"
)

// MaxEntries is the largest number of files a store-only 32-bit ZIP archive
// can index: the central directory's entry count is a 16-bit field.
const MaxEntries = 65535

// MaxEntrySize is the largest single file a 32-bit ZIP archive can store:
// sizes and offsets are 32-bit fields.
const MaxEntrySize = 1<<32 - 1

// EntryInfo describes one file to be included in the archive.
type EntryInfo struct {
	Path string
	Name []byte
	Size uint64

	// offset is the byte offset of this entry's local file header from the
	// start of the stream. Filled in by Encoder as it writes.
	offset uint32
	// crc is the CRC-32 of the entry's uncompressed data. Filled in by
	// Encoder once the entry's data has been fully read.
	crc uint32
}

// NewEntryInfo builds an EntryInfo for path, with its archive name computed
// by stripping base from path (base must be an ancestor of path).
func NewEntryInfo(path string, base string) (*EntryInfo, error) {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	size := uint64(info.Size())
	if size > MaxEntrySize {
		return nil, fmt.Errorf("zipstream: %s is %d bytes, exceeds the %d byte limit for a single archive entry", path, size, uint64(MaxEntrySize))
	}
	return &EntryInfo{
		Path: path,
		Name: []byte(filepath.ToSlash(rel)),
		Size: size,
	}, nil
}
