package zipstream

import "encoding/binary"

type headerKind int

const (
	headerLocal headerKind = iota
	headerCentralDirectory
)

const (
	localFileHeaderSize     = 30
	directoryHeaderSize     = 46
	dataDescriptorSize      = 16
	endOfCentralDirSize     = 22
)

func headerSize(e *EntryInfo, kind headerKind) int {
	nameLen := len(e.Name)
	switch kind {
	case headerLocal:
		return localFileHeaderSize + nameLen
	default:
		return directoryHeaderSize + nameLen
	}
}

// streamLenEmpty is the size of an archive with no entries: just the
// end-of-central-directory record.
func streamLenEmpty() int {
	return endOfCentralDirSize
}

// StreamLen returns the total byte length of the archive that would be
// produced for files, computed without reading any file contents.
func StreamLen(files []*EntryInfo) uint64 {
	total := streamLenEmpty()
	for _, f := range files {
		total += streamLenForFile(f)
	}
	return uint64(total)
}

func streamLenForFile(f *EntryInfo) int {
	return headerSize(f, headerLocal) + int(f.Size) + dataDescriptorSize + headerSize(f, headerCentralDirectory)
}

func makeFileHeader(e *EntryInfo, kind headerKind) []byte {
	header := make([]byte, 0, headerSize(e, kind))

	switch kind {
	case headerLocal:
		header = append(header,
			'P', 'K', 0x03, 0x04, // signature
			0x0A, 0x00, // version needed to extract
			0x08, 0x00, // general purpose bit flag (data descriptor enabled)
			0x00, 0x00, // compression method (store)
			0x00, 0x00, // file last modified time
			0x00, 0x00, // file last modified date
		)
	default:
		header = append(header,
			'P', 'K', 0x01, 0x02, // signature
			0x0A, 0x00, // version made by
			0x0A, 0x00, // version needed to extract
			0x08, 0x00, // general purpose bit flag
			0x00, 0x00, // compression method (store)
			0x00, 0x00, // file last modified time
			0x00, 0x00, // file last modified date
		)
	}

	var crc32Buf, sizeBuf [4]byte
	binary.LittleEndian.PutUint32(crc32Buf[:], e.crc)
	header = append(header, crc32Buf[:]...)

	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(e.Size))
	header = append(header, sizeBuf[:]...) // compressed size
	header = append(header, sizeBuf[:]...) // uncompressed size

	var nameLen16 [2]byte
	binary.LittleEndian.PutUint16(nameLen16[:], uint16(len(e.Name)))
	header = append(header, nameLen16[:]...)
	header = append(header, 0x00, 0x00) // extra field length

	if kind == headerCentralDirectory {
		header = append(header,
			0x00, 0x00, // file comment length
			0x00, 0x00, // disk number where file starts
			0x00, 0x00, // internal file attributes
			0x00, 0x00, 0x00, 0x00, // external file attributes
		)
		var offsetBuf [4]byte
		binary.LittleEndian.PutUint32(offsetBuf[:], e.offset)
		header = append(header, offsetBuf[:]...)
	}

	header = append(header, e.Name...)
	return header
}

func makeDataDescriptor(crc uint32, size uint32) []byte {
	desc := make([]byte, 0, dataDescriptorSize)
	desc = append(desc, 'P', 'K', 0x07, 0x08)
	var crcBuf, sizeBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc)
	desc = append(desc, crcBuf[:]...)
	binary.LittleEndian.PutUint32(sizeBuf[:], size)
	desc = append(desc, sizeBuf[:]...) // compressed size
	desc = append(desc, sizeBuf[:]...) // uncompressed size
	return desc
}

func makeEndOfCentralDirectory(numFiles uint16, size uint32, offset uint32) []byte {
	desc := make([]byte, 0, endOfCentralDirSize)
	desc = append(desc,
		'P', 'K', 0x05, 0x06, // signature
		0x00, 0x00, // number of this disk
		0x00, 0x00, // disk where central directory starts
	)
	var numBuf [2]byte
	binary.LittleEndian.PutUint16(numBuf[:], numFiles)
	desc = append(desc, numBuf[:]...) // records on this disk
	desc = append(desc, numBuf[:]...) // total records

	var sizeBuf, offsetBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], size)
	desc = append(desc, sizeBuf[:]...)
	binary.LittleEndian.PutUint32(offsetBuf[:], offset)
	desc = append(desc, offsetBuf[:]...)
	desc = append(desc, 0x00, 0x00) // comment length
	return desc
}
